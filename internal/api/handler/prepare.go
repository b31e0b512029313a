package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/kiranshivaraju/matchdesk/internal/api/middleware"
	"github.com/kiranshivaraju/matchdesk/internal/api/response"
	"github.com/kiranshivaraju/matchdesk/internal/jobs"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

const (
	dateLayout  = "2006-01-02"
	progressTTL = time.Hour
)

// Preparer starts and follows prepare-day jobs.
type Preparer interface {
	Begin(ctx context.Context, r jobs.Request) (*jobs.Handle, error)
	Finish(ctx context.Context, h *jobs.Handle, onUpdate func(jobs.Update)) (models.PrepareDayResult, error)
	Availability(ctx context.Context, token, date string) (models.AnalysisAvailability, error)
}

// ProgressStore keeps the latest progress line of each prepare-day run.
type ProgressStore interface {
	SetJobProgress(ctx context.Context, runID uuid.UUID, detail string, ttl time.Duration) error
	GetJobProgress(ctx context.Context, runID uuid.UUID) (string, bool, error)
}

// PrepareHandlers serves the admin prepare-day endpoints.
type PrepareHandlers struct {
	prep     Preparer
	progress ProgressStore
	runs     RunReader
	bg       *Background
	loc      *time.Location
	now      func() time.Time
}

func NewPrepareHandlers(prep Preparer, progress ProgressStore, runs RunReader, bg *Background, loc *time.Location) *PrepareHandlers {
	return &PrepareHandlers{prep: prep, progress: progress, runs: runs, bg: bg, loc: loc, now: time.Now}
}

type prepareStarted struct {
	RunID  uuid.UUID `json:"run_id"`
	JobID  string    `json:"job_id"`
	Date   string    `json:"date"`
	Status string    `json:"status"`
}

// Start handles POST /api/v1/prepare-day with body {"date", "force"}. The date
// defaults to today. Unless force is set, a date the backend reports complete
// is not prepared again.
func (h *PrepareHandlers) Start(w http.ResponseWriter, r *http.Request) {
	s, ok := mw.GetSession(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not logged in", nil)
		return
	}

	var body struct {
		Date  string `json:"date"`
		Force bool   `json:"force"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
	}
	date, ok := h.date(w, body.Date)
	if !ok {
		return
	}

	if !body.Force {
		avail, err := h.prep.Availability(r.Context(), s.SessionID, date)
		if err != nil {
			slog.Warn("availability probe failed, preparing anyway", "request_id", mw.GetRequestID(r), "date", date, "error", err)
		} else if avail.AnalysisComplete {
			response.JSON(w, map[string]any{"status": "already_prepared", "availability": avail})
			return
		}
	}

	handle, err := h.prep.Begin(r.Context(), jobs.Request{Token: s.SessionID, Date: date, RequestedBy: s.User.Email})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.setProgress(r.Context(), handle.RunID, "queued")
	h.bg.Go(func(ctx context.Context) { h.follow(ctx, handle) })

	response.Accepted(w, prepareStarted{RunID: handle.RunID, JobID: handle.JobID, Date: date, Status: "queued"})
}

func (h *PrepareHandlers) follow(ctx context.Context, handle *jobs.Handle) {
	result, err := h.prep.Finish(ctx, handle, func(u jobs.Update) {
		h.setProgress(ctx, handle.RunID, formatUpdate(u))
	})
	if err != nil {
		h.setProgress(ctx, handle.RunID, "error: "+jobs.FailureMessage(err))
		return
	}
	h.setProgress(ctx, handle.RunID, jobs.FormatSummary(result))
}

func (h *PrepareHandlers) setProgress(ctx context.Context, runID uuid.UUID, detail string) {
	if err := h.progress.SetJobProgress(context.WithoutCancel(ctx), runID, detail, progressTTL); err != nil {
		slog.Warn("failed to store job progress", "run_id", runID, "error", err)
	}
}

// Status handles GET /api/v1/prepare-day/{runID}: the ledger record plus the
// latest progress line.
func (h *PrepareHandlers) Status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "runID must be a UUID", nil)
		return
	}
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := map[string]any{"run": run}
	if detail, found, err := h.progress.GetJobProgress(r.Context(), id); err == nil && found {
		out["progress"] = detail
	}
	response.JSON(w, out)
}

// Availability handles GET /api/v1/prepare-day/availability?date=.
func (h *PrepareHandlers) Availability(w http.ResponseWriter, r *http.Request) {
	s, ok := mw.GetSession(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not logged in", nil)
		return
	}
	date, ok := h.date(w, r.URL.Query().Get("date"))
	if !ok {
		return
	}

	avail, err := h.prep.Availability(r.Context(), s.SessionID, date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, avail)
}

func (h *PrepareHandlers) date(w http.ResponseWriter, raw string) (string, bool) {
	if raw == "" {
		return h.now().In(h.loc).Format(dateLayout), true
	}
	if _, err := time.Parse(dateLayout, raw); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "date must be YYYY-MM-DD", nil)
		return "", false
	}
	return raw, true
}

func formatUpdate(u jobs.Update) string {
	detail := u.Detail
	if detail == "" {
		detail = string(u.Status)
	}
	if u.Progress != nil {
		return fmt.Sprintf("%s (%.0f%%)", detail, *u.Progress)
	}
	return detail
}
