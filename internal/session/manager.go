package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/matchdesk/internal/backend"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// ErrNotAdmin is returned by RequireAdmin. It matches backend.ErrForbidden.
var ErrNotAdmin = fmt.Errorf("%w: admin access required", backend.ErrForbidden)

// Authenticator is the part of the backend client that manages sessions.
type Authenticator interface {
	Login(ctx context.Context, creds models.Credentials) (*models.Session, error)
	Logout(ctx context.Context, token string) error
}

// Manager logs users in and out and keeps the current session in a Store.
type Manager struct {
	auth   Authenticator
	store  Store
	logger *slog.Logger
}

func NewManager(auth Authenticator, store Store, logger *slog.Logger) *Manager {
	return &Manager{auth: auth, store: store, logger: logger}
}

func (m *Manager) Login(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	s, err := m.auth.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(s); err != nil {
		return nil, err
	}
	m.logger.Info("logged in", "email", s.User.Email, "admin", s.User.IsAdmin)
	return s, nil
}

// Logout ends the session on the backend and always clears it locally, even
// when the backend call fails.
func (m *Manager) Logout(ctx context.Context) error {
	s, err := m.store.Load()
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err == nil {
		if lerr := m.auth.Logout(ctx, s.SessionID); lerr != nil {
			m.logger.Warn("backend logout failed, clearing local session anyway", "error", lerr)
		}
	}
	return m.store.Clear()
}

// Current returns the stored session or ErrNoSession.
func (m *Manager) Current() (*models.Session, error) {
	return m.store.Load()
}

// Token is the current session id, or "" when logged out.
func (m *Manager) Token() string {
	s, err := m.store.Load()
	if err != nil {
		return ""
	}
	return s.SessionID
}

// RequireAdmin returns the current session if its user is flagged admin.
// The flag only decides what the client offers; the backend enforces access.
func (m *Manager) RequireAdmin() (*models.Session, error) {
	s, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if !s.User.IsAdmin {
		return nil, ErrNotAdmin
	}
	return s, nil
}
