package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mw "github.com/kiranshivaraju/matchdesk/internal/api/middleware"
	"github.com/kiranshivaraju/matchdesk/internal/api/response"
	"github.com/kiranshivaraju/matchdesk/internal/analysis"
	"github.com/kiranshivaraju/matchdesk/internal/backend"
	"github.com/kiranshivaraju/matchdesk/internal/busy"
	"github.com/kiranshivaraju/matchdesk/internal/jobs"
	"github.com/kiranshivaraju/matchdesk/internal/store"
)

// writeError maps domain and backend errors to HTTP responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status  = http.StatusInternalServerError
		code    = "INTERNAL_ERROR"
		message = "An unexpected error occurred"
	)

	var (
		statusErr *backend.StatusError
		failed    *jobs.FailedError
	)

	switch {
	case errors.Is(err, analysis.ErrValidation):
		status, code, message = http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, store.ErrNotFound):
		status, code, message = http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"
	case errors.Is(err, backend.ErrUnauthorized):
		status, code, message = http.StatusUnauthorized, "UNAUTHORIZED", "Please log in again"
	case errors.Is(err, backend.ErrForbidden):
		status, code, message = http.StatusForbidden, "FORBIDDEN", "Admin privileges required"
	case errors.Is(err, backend.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		status, code, message = http.StatusTooManyRequests, "RATE_LIMITED", "Server is busy, please try again in a minute"
	case errors.Is(err, busy.ErrWaitTimeout):
		w.Header().Set("Retry-After", "60")
		status, code, message = http.StatusServiceUnavailable, "BACKEND_BUSY", "Day preparation is still running, please try again shortly"
	case errors.Is(err, jobs.ErrTimeout),
		errors.Is(err, backend.ErrRequestTimeout),
		errors.Is(err, context.DeadlineExceeded):
		status, code, message = http.StatusGatewayTimeout, "BACKEND_TIMEOUT", "The backend took too long to answer"
	case errors.As(err, &failed):
		status, code, message = http.StatusBadGateway, "JOB_FAILED", failed.UserMessage()
	case errors.Is(err, backend.ErrMalformedResponse):
		status, code, message = http.StatusBadGateway, "MALFORMED_RESPONSE", "The backend sent an unreadable response"
	case errors.Is(err, backend.ErrUnreachable):
		status, code, message = http.StatusBadGateway, "BACKEND_UNREACHABLE", "The backend is not reachable"
	case errors.Is(err, backend.ErrServer):
		status, code, message = http.StatusBadGateway, "BACKEND_ERROR", "The backend reported an error"
	}

	// Backend messages are meant for users; pass them on.
	if errors.As(err, &statusErr) && statusErr.Detail != "" && status != http.StatusInternalServerError {
		message = statusErr.Detail
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "request_id", mw.GetRequestID(r), "path", r.URL.Path, "status", status, "error", err)
	}
	response.Error(w, status, code, message, nil)
}
