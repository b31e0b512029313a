package handler

import (
	"context"
	"net/http"

	mw "github.com/kiranshivaraju/matchdesk/internal/api/middleware"
	"github.com/kiranshivaraju/matchdesk/internal/api/response"
	"github.com/kiranshivaraju/matchdesk/internal/backend"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// UserLister is the backend's admin user listing.
type UserLister interface {
	ListUsers(ctx context.Context, token string, q backend.UserQuery) (*models.UserPage, error)
}

// NewListUsersHandler returns GET /api/v1/admin/users.
func NewListUsersHandler(users UserLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := mw.GetSession(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not logged in", nil)
			return
		}
		page, limit, ok := parsePage(w, r)
		if !ok {
			return
		}

		res, err := users.ListUsers(r.Context(), s.SessionID, backend.UserQuery{
			Page:   page,
			Limit:  limit,
			Search: r.URL.Query().Get("search"),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		if res.Users == nil {
			res.Users = []models.User{}
		}
		response.Collection(w, res.Users, response.NewMeta(page, limit, res.Total))
	}
}
