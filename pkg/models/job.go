package models

import (
	"encoding/json"
	"fmt"
)

// JobStatus is the lifecycle state the backend reports for a queued job.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// Job is one observation of a backend job. The backend returns a job_id on
// POST /api/prepare-day; the client polls GET /api/prepare-day/status until
// status is done or error.
type Job struct {
	ID       string          `json:"job_id,omitempty"`
	Status   JobStatus       `json:"status"`
	Progress *float64        `json:"progress,omitempty"`
	Detail   string          `json:"detail,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Terminal reports whether the job reached done or error.
func (j Job) Terminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusError
}

// FailureDetail returns the most specific error text the backend gave.
func (j Job) FailureDetail() string {
	if j.Detail != "" {
		return j.Detail
	}
	if j.Error != "" {
		return j.Error
	}
	return "unknown"
}

// PrepareDayRequest is the body of POST /api/prepare-day.
type PrepareDayRequest struct {
	Date      string `json:"date"`
	Prewarm   bool   `json:"prewarm"`
	SessionID string `json:"session_id,omitempty"`
}

// PrepareDayResult is the payload of a finished prepare-day job.
type PrepareDayResult struct {
	Day                  string         `json:"day"`
	FixturesInDB         int            `json:"fixtures_in_db"`
	Fixtures             int            `json:"fixtures,omitempty"`
	Teams                int            `json:"teams"`
	Pairs                int            `json:"pairs"`
	Seeded               bool           `json:"seeded"`
	HistoryMissingBefore int            `json:"history_missing_before"`
	H2HMissingBefore     int            `json:"h2h_missing_before"`
	StatsMissingBefore   int            `json:"stats_missing_before"`
	Computed             map[string]int `json:"computed,omitempty"`
	Duration             string         `json:"duration,omitempty"`
}

// DecodePrepareDayResult decodes a done job's result. A null or empty payload
// yields a zero result.
func DecodePrepareDayResult(raw json.RawMessage) (PrepareDayResult, error) {
	var r PrepareDayResult
	if len(raw) == 0 || string(raw) == "null" {
		return r, nil
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decoding prepare-day result: %w", err)
	}
	if r.FixturesInDB == 0 && r.Fixtures > 0 {
		r.FixturesInDB = r.Fixtures
	}
	return r, nil
}

// AnalysisAvailability is the answer of GET /api/check-analysis-exists.
type AnalysisAvailability struct {
	Date              string `json:"date"`
	AnalysisComplete  bool   `json:"analysis_complete"`
	AnalysisExists    bool   `json:"analysis_exists"`
	FixturesCount     int    `json:"fixtures_count"`
	ModelOutputsCount int    `json:"model_outputs_count"`
}
