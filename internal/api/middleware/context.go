package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

type contextKey string

const (
	sessionKey   contextKey = "session"
	requestIDKey contextKey = "request_id"
	holderKey    contextKey = "session_holder"
)

// sessionHolder carries the authenticated user back out to Logger.
type sessionHolder struct {
	email string
}

func withHolder(ctx context.Context, h *sessionHolder) context.Context {
	return context.WithValue(ctx, holderKey, h)
}

func SetSession(ctx context.Context, s *models.Session) context.Context {
	if h, ok := ctx.Value(holderKey).(*sessionHolder); ok {
		h.email = s.User.Email
	}
	return context.WithValue(ctx, sessionKey, s)
}

// GetSession returns the session set by Authenticate.
func GetSession(r *http.Request) (*models.Session, bool) {
	s, ok := r.Context().Value(sessionKey).(*models.Session)
	return s, ok && s != nil
}

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
