package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/matchdesk/internal/api/response"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// BusyView is the busy coordinator as the dashboard sees it.
type BusyView interface {
	Sync(ctx context.Context) bool
	State() models.LoaderState
}

// NewBusyHandler returns GET /api/v1/busy. It first syncs with the backend so
// a job started elsewhere shows up.
func NewBusyHandler(b BusyView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.Sync(r.Context())
		response.JSON(w, b.State())
	}
}
