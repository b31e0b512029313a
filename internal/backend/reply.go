package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// snippetChars is how much of a non-JSON body is kept in errors.
	snippetChars = 200
	// detailChars bounds the body text used when a JSON error has no message.
	detailChars = 300
	// maxBodyBytes caps how much of any reply is read.
	maxBodyBytes = 16 << 20
)

// Reply is a decoded JSON reply. Failing statuses are still returned as data;
// interpreting ok/detail/error fields is the caller's job.
type Reply struct {
	Status int
	Body   json.RawMessage
}

// OK reports a 2xx status.
func (r *Reply) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode unmarshals the body into v.
func (r *Reply) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// ServerMessage returns the detail, error or message field of an object body,
// in that order of preference, or "" when none is a non-empty string.
func (r *Reply) ServerMessage() string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"detail", "error", "message"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

// Detail is ServerMessage falling back to a truncated copy of the body.
func (r *Reply) Detail() string {
	if msg := r.ServerMessage(); msg != "" {
		return msg
	}
	return truncateChars(strings.TrimSpace(string(r.Body)), detailChars)
}

// Err returns nil for 2xx replies and a *StatusError otherwise.
func (r *Reply) Err() error {
	if r.OK() {
		return nil
	}
	return &StatusError{Status: r.Status, Detail: r.Detail()}
}

// ParseJSON reads resp as JSON. A body that is not declared as JSON, or does
// not parse, fails with *NonJSONResponseError carrying the first 200
// characters of the text.
func ParseJSON(resp *http.Response) (*Reply, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(ct), "application/json") || !json.Valid(body) {
		return nil, &NonJSONResponseError{
			Status:  resp.StatusCode,
			Snippet: truncateChars(string(body), snippetChars),
		}
	}

	return &Reply{Status: resp.StatusCode, Body: bytes.TrimSpace(body)}, nil
}

// truncateChars keeps at most n characters of s without splitting runes.
func truncateChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
