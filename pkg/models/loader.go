package models

import (
	"strings"
	"time"
)

// LoaderStatus is the wire shape of GET /api/global-loader-status and of each
// event pushed on /api/global-loader-events.
type LoaderStatus struct {
	Active    bool    `json:"active"`
	Detail    string  `json:"detail,omitempty"`
	Progress  float64 `json:"progress,omitempty"`
	Status    string  `json:"status,omitempty"`
	StartedAt string  `json:"started_at,omitempty"`
}

var startedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// StartedTime parses StartedAt. Timestamps without a zone are read in loc,
// the zone the backend writes them in.
func (s LoaderStatus) StartedTime(loc *time.Location) (time.Time, bool) {
	raw := strings.TrimSpace(s.StartedAt)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range startedAtLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// LoaderState is a snapshot of the local busy coordinator.
type LoaderState struct {
	Active    bool       `json:"active"`
	Detail    string     `json:"detail,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Checks    int        `json:"checks"`
	Watching  bool       `json:"watching"`
}
