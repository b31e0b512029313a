package jobs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout means the local ceiling passed before a terminal status.
	// The backend is not told; the job may still finish there.
	ErrTimeout = errors.New("timed out waiting for job")
	// ErrJobFailed matches every *FailedError.
	ErrJobFailed = errors.New("job failed")
)

// FailedError is a job the backend reported as error.
type FailedError struct {
	JobID  string
	Detail string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("prepare-day job %s failed: %s", e.JobID, e.Detail)
}

func (e *FailedError) Unwrap() error { return ErrJobFailed }

// UserMessage rewrites well-known backend failures into advice a user can act on.
func (e *FailedError) UserMessage() string {
	switch {
	case strings.Contains(e.Detail, "pool exhausted") || strings.Contains(e.Detail, "connection"):
		return "Database connection error. Please try again in a few moments. Server is busy."
	case strings.Contains(e.Detail, "HTTP 500") || strings.Contains(e.Detail, "Internal Server Error"):
		return "Server error occurred. Please try again in a few moments."
	}
	return "Prepare-day error: " + e.Detail
}
