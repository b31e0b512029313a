package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	mw "github.com/kiranshivaraju/matchdesk/internal/api/middleware"
	"github.com/kiranshivaraju/matchdesk/internal/api/response"
	"github.com/kiranshivaraju/matchdesk/internal/analysis"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// Analyzer runs one analysis request.
type Analyzer interface {
	Run(ctx context.Context, req analysis.Request, onState func(analysis.State)) (*analysis.Result, error)
}

// timeLayouts are accepted for from and to. The second is what an HTML
// datetime-local input submits.
var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02T15:04:05"}

type analyzeResponse struct {
	RunID    string         `json:"run_id"`
	Market   models.Market  `json:"market"`
	FromDate string         `json:"from_date"`
	ToDate   string         `json:"to_date"`
	FromHour int            `json:"from_hour"`
	ToHour   int            `json:"to_hour"`
	Count    int            `json:"count"`
	Matches  []models.Match `json:"matches"`
}

// NewAnalyzeHandler returns GET /api/v1/analyze. Query parameters: from, to
// (RFC3339 or datetime-local in loc), market or action, and live=1 to let the
// backend call its upstream APIs.
func NewAnalyzeHandler(a Analyzer, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		market := models.MarketForAction(q.Get("action"))
		if raw := q.Get("market"); raw != "" {
			m, err := analysis.ParseMarket(raw)
			if err != nil {
				writeError(w, r, err)
				return
			}
			market = m
		}

		from, err := parseTime(q.Get("from"), loc)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "from must be RFC3339 or YYYY-MM-DDTHH:MM", nil)
			return
		}
		to, err := parseTime(q.Get("to"), loc)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "to must be RFC3339 or YYYY-MM-DDTHH:MM", nil)
			return
		}
		live, _ := strconv.ParseBool(q.Get("live"))

		req := analysis.Request{From: from, To: to, Market: market, LiveFetch: live}
		if s, ok := mw.GetSession(r); ok {
			req.RequestedBy = s.User.Email
		}

		res, err := a.Run(r.Context(), req, nil)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.JSON(w, analyzeResponse{
			RunID:    res.RunID.String(),
			Market:   res.Query.Market,
			FromDate: res.Query.FromDate.UTC().Format(time.RFC3339),
			ToDate:   res.Query.ToDate.UTC().Format(time.RFC3339),
			FromHour: res.Query.FromHour,
			ToHour:   res.Query.ToHour,
			Count:    len(res.Matches),
			Matches:  res.Matches,
		})
	}
}

// parseTime returns the zero time for an empty value so validation can
// report the missing field.
func parseTime(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
