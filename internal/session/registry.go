package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/matchdesk/internal/cache"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

const tokenPrefixLen = 8

var (
	// ErrInvalidToken is returned for tokens too short to index.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrUnknownSession is returned when no registered session matches.
	ErrUnknownSession = errors.New("unknown session")
)

// Registry remembers sessions the server has seen log in. Entries are stored
// under the token's first 8 characters with a bcrypt hash of the full token,
// so the cache never holds a usable token.
type Registry struct {
	cache cache.Cache
	ttl   time.Duration
	cost  int
}

type registryEntry struct {
	Hash    string         `json:"hash"`
	Session models.Session `json:"session"`
}

type RegistryOption func(*Registry)

// WithHashCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) RegistryOption {
	return func(r *Registry) { r.cost = cost }
}

func NewRegistry(c cache.Cache, ttl time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{cache: c, ttl: ttl, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prefix returns the indexable prefix of token.
func Prefix(token string) (string, error) {
	if len(token) < tokenPrefixLen {
		return "", ErrInvalidToken
	}
	return token[:tokenPrefixLen], nil
}

// Register stores s, replacing any earlier entry for the same token.
func (r *Registry) Register(ctx context.Context, s *models.Session) error {
	prefix, err := Prefix(s.SessionID)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(s.SessionID), r.cost)
	if err != nil {
		return fmt.Errorf("hash session token: %w", err)
	}

	entries, err := r.load(ctx, prefix)
	if err != nil {
		return err
	}
	entries = without(entries, s.SessionID)

	stored := *s
	stored.SessionID = ""
	entries = append(entries, registryEntry{Hash: string(hash), Session: stored})
	return r.save(ctx, prefix, entries)
}

// Resolve returns the session registered for token.
func (r *Registry) Resolve(ctx context.Context, token string) (*models.Session, error) {
	prefix, err := Prefix(token)
	if err != nil {
		return nil, err
	}
	entries, err := r.load(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if bcrypt.CompareHashAndPassword([]byte(e.Hash), []byte(token)) == nil {
			s := e.Session
			s.SessionID = token
			return &s, nil
		}
	}
	return nil, ErrUnknownSession
}

// Forget drops the entry for token. Unknown tokens are ignored.
func (r *Registry) Forget(ctx context.Context, token string) error {
	prefix, err := Prefix(token)
	if err != nil {
		return nil
	}
	entries, err := r.load(ctx, prefix)
	if err != nil {
		return err
	}
	kept := without(entries, token)
	if len(kept) == len(entries) {
		return nil
	}
	if len(kept) == 0 {
		return r.cache.Delete(ctx, cache.SessionKey(prefix))
	}
	return r.save(ctx, prefix, kept)
}

func (r *Registry) load(ctx context.Context, prefix string) ([]registryEntry, error) {
	data, found, err := r.cache.Get(ctx, cache.SessionKey(prefix))
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	if !found {
		return nil, nil
	}
	var entries []registryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return entries, nil
}

func (r *Registry) save(ctx context.Context, prefix string, entries []registryEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	if err := r.cache.Set(ctx, cache.SessionKey(prefix), data, r.ttl); err != nil {
		return fmt.Errorf("store sessions: %w", err)
	}
	return nil
}

func without(entries []registryEntry, token string) []registryEntry {
	kept := entries[:0:0]
	for _, e := range entries {
		if bcrypt.CompareHashAndPassword([]byte(e.Hash), []byte(token)) != nil {
			kept = append(kept, e)
		}
	}
	return kept
}
