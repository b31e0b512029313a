package analysis

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/matchdesk/internal/backend"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("invalid analysis request")

// ValidationError describes a request rejected before it was sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// BuildQuery validates req and turns it into backend query parameters. The
// to-hour is rounded up when the end of the range is not on the hour.
func BuildQuery(req Request) (backend.AnalyzeQuery, error) {
	if req.From.IsZero() || req.To.IsZero() {
		return backend.AnalyzeQuery{}, &ValidationError{Field: "range", Message: "please fill both date fields"}
	}
	if req.To.Before(req.From) {
		return backend.AnalyzeQuery{}, &ValidationError{Field: "range", Message: "end date must be after start date"}
	}
	if !req.Market.Valid() {
		return backend.AnalyzeQuery{}, &ValidationError{Field: "market", Message: fmt.Sprintf("unknown market %q", req.Market)}
	}

	fromHour := req.From.Hour()
	toHour := req.To.Hour()
	if req.To.Minute() > 0 || req.To.Second() > 0 {
		toHour++
	}

	return backend.AnalyzeQuery{
		FromDate: req.From,
		ToDate:   req.To,
		FromHour: fromHour,
		ToHour:   toHour,
		Market:   req.Market,
		NoAPI:    !req.LiveFetch,
	}, nil
}

// ParseMarket is models.ParseMarket reported as a validation error.
func ParseMarket(s string) (models.Market, error) {
	m, err := models.ParseMarket(s)
	if err != nil {
		return "", &ValidationError{Field: "market", Message: err.Error()}
	}
	return m, nil
}
