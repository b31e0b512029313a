package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for backend failures.
var (
	ErrUnreachable       = errors.New("backend unreachable")
	ErrRequestTimeout    = errors.New("backend request timeout")
	ErrMalformedResponse = errors.New("malformed backend response")
	ErrRateLimited       = errors.New("backend rate limit exceeded")
	ErrServer            = errors.New("backend server error")
	ErrUnauthorized      = errors.New("login required")
	ErrForbidden         = errors.New("admin privileges required")
)

// NonJSONResponseError is returned when the backend answers with something
// other than JSON. Snippet holds the start of the body for diagnostics.
type NonJSONResponseError struct {
	Status  int
	Snippet string
}

func (e *NonJSONResponseError) Error() string {
	return fmt.Sprintf("HTTP %d: non-JSON response: %s", e.Status, e.Snippet)
}

func (e *NonJSONResponseError) Unwrap() error { return ErrMalformedResponse }

// StatusError is a well-formed reply with a failing status code.
// It unwraps to the sentinel matching its status.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Detail)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrServer
	}
}
