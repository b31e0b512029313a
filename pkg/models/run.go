package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunKindAnalysis   = "analysis"
	RunKindPrepareDay = "prepare_day"
)

const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusTimeout   = "timeout"
)

// Run records one analysis request or prepare-day job as seen by this client.
// The backend owns the job itself; a run only tracks what we observed.
type Run struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Kind         string     `db:"kind"          json:"kind"`
	Status       string     `db:"status"        json:"status"`
	JobID        *string    `db:"job_id"        json:"job_id,omitempty"`
	Market       *string    `db:"market"        json:"market,omitempty"`
	Day          *string    `db:"day"           json:"day,omitempty"`
	RequestedBy  *string    `db:"requested_by"  json:"requested_by,omitempty"`
	ResultCount  int        `db:"result_count"  json:"result_count"`
	Detail       *string    `db:"detail"        json:"detail,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    time.Time  `db:"started_at"    json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// NewRun returns a running record with fresh id and timestamps.
func NewRun(kind string, now time.Time) *Run {
	now = now.UTC()
	return &Run{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
