package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/matchdesk/internal/api/response"
	"github.com/kiranshivaraju/matchdesk/internal/store"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// RunReader is the read side of the run ledger.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*models.Run, int, error)
}

var (
	validKinds    = map[string]bool{models.RunKindAnalysis: true, models.RunKindPrepareDay: true}
	validStatuses = map[string]bool{
		models.RunStatusRunning:   true,
		models.RunStatusSucceeded: true,
		models.RunStatusFailed:    true,
		models.RunStatusTimeout:   true,
	}
)

// NewListRunsHandler returns GET /api/v1/runs.
func NewListRunsHandler(runs RunReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.RunFilter{Kind: q.Get("kind"), Status: q.Get("status")}

		if filter.Kind != "" && !validKinds[filter.Kind] {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "kind must be analysis or prepare_day", nil)
			return
		}
		if filter.Status != "" && !validStatuses[filter.Status] {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "status must be running, succeeded, failed or timeout", nil)
			return
		}

		page, limit, ok := parsePage(w, r)
		if !ok {
			return
		}
		filter.Page, filter.Limit = page, limit

		list, total, err := runs.ListRuns(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*models.Run{}
		}
		response.Collection(w, list, response.NewMeta(page, limit, total))
	}
}

// NewGetRunHandler returns GET /api/v1/runs/{runID}.
func NewGetRunHandler(runs RunReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "runID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "runID must be a UUID", nil)
			return
		}
		run, err := runs.GetRun(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, run)
	}
}

// parsePage reads page and limit, writing a 400 when either is malformed.
func parsePage(w http.ResponseWriter, r *http.Request) (page, limit int, ok bool) {
	page, limit = 1, defaultPageLimit
	q := r.URL.Query()

	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "page must be a positive integer", nil)
			return 0, 0, false
		}
		page = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer", nil)
			return 0, 0, false
		}
		limit = min(n, maxPageLimit)
	}
	return page, limit, true
}
