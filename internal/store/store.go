package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrInvalidTransition = errors.New("invalid run status transition")

// Store is the run ledger. Every analysis request and prepare-day job this
// client issues is recorded here.
type Store interface {
	Ping(ctx context.Context) error

	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, int, error)
	FinishRun(ctx context.Context, id uuid.UUID, status string, opts ...RunUpdateOption) error
}

type RunFilter struct {
	Kind   string
	Status string
	Page   int
	Limit  int
}

type runUpdateParams struct {
	ErrorMessage *string
	ResultCount  *int
	JobID        *string
	Detail       *string
}

type RunUpdateOption func(*runUpdateParams)

func WithErrorMessage(msg string) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResultCount(n int) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.ResultCount = &n
	}
}

func WithJobID(id string) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.JobID = &id
	}
}

func WithDetail(detail string) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.Detail = &detail
	}
}

var validTransitions = map[string][]string{
	models.RunStatusRunning: {models.RunStatusSucceeded, models.RunStatusFailed, models.RunStatusTimeout},
}

func transitionAllowed(from, to string) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// Noop discards every record. The CLI uses it; it has no database.
type Noop struct{}

func (Noop) Ping(context.Context) error { return nil }
func (Noop) CreateRun(context.Context, *models.Run) error { return nil }

func (Noop) GetRun(context.Context, uuid.UUID) (*models.Run, error) {
	return nil, ErrNotFound
}

func (Noop) ListRuns(context.Context, RunFilter) ([]*models.Run, int, error) {
	return []*models.Run{}, 0, nil
}

func (Noop) FinishRun(context.Context, uuid.UUID, string, ...RunUpdateOption) error {
	return nil
}

var _ Store = Noop{}
