package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"

	mw "github.com/kiranshivaraju/matchdesk/internal/api/middleware"
	"github.com/kiranshivaraju/matchdesk/internal/api/response"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// Authenticator is the backend's auth surface.
type Authenticator interface {
	Login(ctx context.Context, creds models.Credentials) (*models.Session, error)
	Register(ctx context.Context, reg models.Registration) error
	Logout(ctx context.Context, token string) error
}

// SessionRegistry remembers sessions that logged in through this server.
type SessionRegistry interface {
	Register(ctx context.Context, s *models.Session) error
	Forget(ctx context.Context, token string) error
}

const minPasswordLen = 6

// NewLoginHandler returns POST /api/v1/auth/login.
func NewLoginHandler(auth Authenticator, sessions SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds models.Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if creds.Email == "" || creds.Password == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required", nil)
			return
		}

		s, err := auth.Login(r.Context(), creds)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := sessions.Register(r.Context(), s); err != nil {
			slog.Error("failed to register session", "request_id", mw.GetRequestID(r), "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store session", nil)
			return
		}

		response.JSON(w, s)
	}
}

// NewRegisterHandler returns POST /api/v1/auth/register.
func NewRegisterHandler(auth Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reg models.Registration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		details := map[string]string{}
		if _, err := mail.ParseAddress(reg.Email); err != nil {
			details["email"] = "a valid email address is required"
		}
		if len(reg.Password) < minPasswordLen {
			details["password"] = "password must be at least 6 characters"
		}
		if reg.FirstName == "" {
			details["first_name"] = "first name is required"
		}
		if len(details) > 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid registration", details)
			return
		}

		if err := auth.Register(r.Context(), reg); err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, map[string]string{"email": reg.Email})
	}
}

// NewLogoutHandler returns POST /api/v1/auth/logout. The local session is
// forgotten even when the backend logout fails.
func NewLogoutHandler(auth Authenticator, sessions SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := mw.GetSession(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not logged in", nil)
			return
		}

		if err := auth.Logout(r.Context(), s.SessionID); err != nil {
			slog.Warn("backend logout failed", "request_id", mw.GetRequestID(r), "error", err)
		}
		if err := sessions.Forget(r.Context(), s.SessionID); err != nil {
			slog.Error("failed to forget session", "request_id", mw.GetRequestID(r), "error", err)
		}
		response.NoContent(w)
	}
}

// NewMeHandler returns the current session's user.
func NewMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := mw.GetSession(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not logged in", nil)
			return
		}
		response.JSON(w, s.User)
	}
}
