// Package notify delivers short completion notices to operators.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Notifier sends one notice. Callers log a returned error and carry on.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Log writes notices to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, title, body string) error {
	l.Logger.InfoContext(ctx, title, "body", body)
	return nil
}

// Multi fans a notice out to every notifier, returning the joined failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
