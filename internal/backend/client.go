// Package backend is the HTTP client for the analytics backend's REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/matchdesk/internal/metrics"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// Client is the interface for talking to the analytics backend.
type Client interface {
	Analyze(ctx context.Context, q AnalyzeQuery) (*Reply, error)
	StartPrepareDay(ctx context.Context, token string, req models.PrepareDayRequest) (string, error)
	PrepareDayStatus(ctx context.Context, jobID string) (models.Job, error)
	GlobalLoaderStatus(ctx context.Context) (models.LoaderStatus, error)
	OpenLoaderEvents(ctx context.Context) (io.ReadCloser, error)
	CheckAnalysisExists(ctx context.Context, token, date string) (models.AnalysisAvailability, error)
	Login(ctx context.Context, creds models.Credentials) (*models.Session, error)
	Register(ctx context.Context, reg models.Registration) error
	Logout(ctx context.Context, token string) error
	ListUsers(ctx context.Context, token string, q UserQuery) (*models.UserPage, error)
	SavePDF(ctx context.Context, token string, matches []models.Match) ([]byte, error)
	Ready(ctx context.Context) error
}

// AnalyzeQuery holds the query parameters of GET /api/analyze.
type AnalyzeQuery struct {
	FromDate time.Time
	ToDate   time.Time
	FromHour int
	ToHour   int
	Market   models.Market
	NoAPI    bool
}

// isoMillis matches the browser's Date.toISOString output.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Values encodes the query the way the backend expects it.
func (q AnalyzeQuery) Values() url.Values {
	v := url.Values{
		"from_date": {q.FromDate.UTC().Format(isoMillis)},
		"to_date":   {q.ToDate.UTC().Format(isoMillis)},
		"from_hour": {strconv.Itoa(q.FromHour)},
		"to_hour":   {strconv.Itoa(q.ToHour)},
		"market":    {string(q.Market)},
	}
	if q.NoAPI {
		v.Set("no_api", "1")
	}
	return v
}

// UserQuery selects one page of the admin user listing.
type UserQuery struct {
	Page   int
	Limit  int
	Search string
}

// HTTPClient implements Client over the backend's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	// stream has no overall timeout; push channels stay open indefinitely.
	stream *http.Client
}

// NewHTTPClient creates a new backend client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}
}

func (c *HTTPClient) Analyze(ctx context.Context, q AnalyzeQuery) (*Reply, error) {
	return c.do(ctx, "analyze", http.MethodGet, "/api/analyze?"+q.Values().Encode(), "", nil)
}

func (c *HTTPClient) StartPrepareDay(ctx context.Context, token string, req models.PrepareDayRequest) (string, error) {
	reply, err := c.do(ctx, "prepare_day", http.MethodPost, "/api/prepare-day", token, req)
	if err != nil {
		return "", err
	}
	if err := reply.Err(); err != nil {
		return "", err
	}

	var started struct {
		OK    bool   `json:"ok"`
		JobID string `json:"job_id"`
		Error string `json:"error"`
	}
	if err := reply.Decode(&started); err != nil {
		return "", err
	}
	if !started.OK || started.JobID == "" {
		reason := started.Error
		if reason == "" {
			reason = "unknown error"
		}
		return "", &StatusError{Status: reply.Status, Detail: "failed to start prepare job: " + reason}
	}
	return started.JobID, nil
}

func (c *HTTPClient) PrepareDayStatus(ctx context.Context, jobID string) (models.Job, error) {
	path := "/api/prepare-day/status?" + url.Values{"job_id": {jobID}}.Encode()
	reply, err := c.do(ctx, "prepare_day_status", http.MethodGet, path, "", nil)
	if err != nil {
		return models.Job{}, err
	}
	if err := reply.Err(); err != nil {
		return models.Job{}, err
	}

	var job models.Job
	if err := reply.Decode(&job); err != nil {
		return models.Job{}, err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

func (c *HTTPClient) GlobalLoaderStatus(ctx context.Context) (models.LoaderStatus, error) {
	reply, err := c.do(ctx, "global_loader_status", http.MethodGet, "/api/global-loader-status", "", nil)
	if err != nil {
		return models.LoaderStatus{}, err
	}
	if err := reply.Err(); err != nil {
		return models.LoaderStatus{}, err
	}

	var status models.LoaderStatus
	if err := reply.Decode(&status); err != nil {
		return models.LoaderStatus{}, err
	}
	return status, nil
}

// OpenLoaderEvents opens the server-sent event stream of global loader
// updates. The caller owns the returned body.
func (c *HTTPClient) OpenLoaderEvents(ctx context.Context) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/global-loader-events", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		metrics.BackendRequests.WithLabelValues("global_loader_events", "error").Inc()
		return nil, classifyError(err)
	}
	metrics.BackendRequests.WithLabelValues("global_loader_events", metrics.StatusClass(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{Status: resp.StatusCode, Detail: "event stream unavailable"}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: event stream has content type %q", ErrMalformedResponse, ct)
	}
	return resp.Body, nil
}

func (c *HTTPClient) CheckAnalysisExists(ctx context.Context, token, date string) (models.AnalysisAvailability, error) {
	path := "/api/check-analysis-exists?" + url.Values{"date": {date}}.Encode()
	reply, err := c.do(ctx, "check_analysis_exists", http.MethodGet, path, token, nil)
	if err != nil {
		return models.AnalysisAvailability{}, err
	}
	if err := reply.Err(); err != nil {
		return models.AnalysisAvailability{}, err
	}

	var avail models.AnalysisAvailability
	if err := reply.Decode(&avail); err != nil {
		return models.AnalysisAvailability{}, err
	}
	if avail.Date == "" {
		avail.Date = date
	}
	return avail, nil
}

func (c *HTTPClient) Login(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	reply, err := c.do(ctx, "login", http.MethodPost, "/api/auth/login", "", creds)
	if err != nil {
		return nil, err
	}

	var out struct {
		Success   bool        `json:"success"`
		Message   string      `json:"message"`
		User      models.User `json:"user"`
		SessionID string      `json:"session_id"`
	}
	if err := reply.Decode(&out); err != nil {
		return nil, err
	}
	if !out.Success || out.SessionID == "" {
		// Only a rejection of the credentials is a 401; outages and throttling
		// keep their status.
		status := http.StatusUnauthorized
		if reply.Status >= 500 || reply.Status == http.StatusTooManyRequests || reply.Status == http.StatusForbidden {
			status = reply.Status
		}
		msg := out.Message
		if msg == "" {
			msg = reply.ServerMessage()
		}
		if msg == "" {
			msg = "login failed"
		}
		return nil, &StatusError{Status: status, Detail: msg}
	}

	return &models.Session{
		User:      out.User,
		SessionID: out.SessionID,
		LoginTime: time.Now().UTC(),
	}, nil
}

func (c *HTTPClient) Register(ctx context.Context, reg models.Registration) error {
	reply, err := c.do(ctx, "register", http.MethodPost, "/api/auth/register", "", reg)
	if err != nil {
		return err
	}

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := reply.Decode(&out); err != nil {
		return err
	}
	if !out.Success {
		status := reply.Status
		if status < 400 {
			status = http.StatusBadRequest
		}
		msg := out.Message
		if msg == "" {
			msg = "registration failed"
		}
		return &StatusError{Status: status, Detail: msg}
	}
	return nil
}

func (c *HTTPClient) Logout(ctx context.Context, token string) error {
	body := map[string]string{"session_id": token}
	reply, err := c.do(ctx, "logout", http.MethodPost, "/api/auth/logout", "", body)
	if err != nil {
		return err
	}
	return reply.Err()
}

func (c *HTTPClient) ListUsers(ctx context.Context, token string, q UserQuery) (*models.UserPage, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	path := "/api/users"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	reply, err := c.do(ctx, "users", http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	if err := reply.Err(); err != nil {
		return nil, err
	}

	var page models.UserPage
	if err := reply.Decode(&page); err != nil {
		return nil, err
	}
	if page.Users == nil {
		page.Users = []models.User{}
	}
	if page.Page == 0 {
		page.Page = q.Page
	}
	if page.Limit == 0 {
		page.Limit = q.Limit
	}
	return &page, nil
}

// SavePDF asks the backend to render matches as a PDF and returns the bytes.
func (c *HTTPClient) SavePDF(ctx context.Context, token string, matches []models.Match) ([]byte, error) {
	if matches == nil {
		matches = []models.Match{}
	}
	resp, err := c.send(ctx, "save_pdf", http.MethodPost, "/api/save-pdf", token, map[string]any{"matches": matches})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		pdf, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("reading pdf: %w", err)
		}
		return pdf, nil
	}

	reply, err := ParseJSON(resp)
	if err != nil {
		return nil, err
	}
	return nil, reply.Err()
}

// Ready checks that the backend answers its cheapest public endpoint.
func (c *HTTPClient) Ready(ctx context.Context) error {
	_, err := c.GlobalLoaderStatus(ctx)
	return err
}

// do sends a request and parses the JSON reply. 401 and 403 become
// *StatusError even when the body is not JSON.
func (c *HTTPClient) do(ctx context.Context, endpoint, method, path, token string, body any) (*Reply, error) {
	resp, err := c.send(ctx, endpoint, method, path, token, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reply, err := ParseJSON(resp)
	if err != nil {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &StatusError{Status: resp.StatusCode}
		}
		return nil, err
	}
	return reply, nil
}

func (c *HTTPClient) send(ctx context.Context, endpoint, method, path, token string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.BackendRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, classifyError(err)
	}
	metrics.BackendRequests.WithLabelValues(endpoint, metrics.StatusClass(resp.StatusCode)).Inc()
	return resp, nil
}

// classifyError maps transport-level errors to sentinel errors while keeping
// context cancellation visible to errors.Is.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrRequestTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrRequestTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
