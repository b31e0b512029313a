package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/matchdesk/internal/api/response"
	"github.com/kiranshivaraju/matchdesk/internal/session"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// SessionResolver looks up a session by its bearer token.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*models.Session, error)
}

// Auth provides authentication and admin-gate middleware.
type Auth struct {
	sessions SessionResolver
}

// NewAuth creates a new Auth middleware.
func NewAuth(s SessionResolver) *Auth {
	return &Auth{sessions: s}
}

// Authenticate validates the Bearer session token against the registry and
// sets the session in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		s, err := a.sessions.Resolve(r.Context(), token)
		switch {
		case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrUnknownSession):
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Session expired or unknown, please log in again", nil)
			return
		case err != nil:
			slog.Error("session lookup failed", "request_id", GetRequestID(r), "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate session", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetSession(r.Context(), s)))
	})
}

// RequireAdmin rejects sessions whose user is not flagged admin. The backend
// enforces the same rule on its admin endpoints.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := GetSession(r)
		if !ok || !s.User.IsAdmin {
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
