package busy

import "log/slog"

// Indicator presents the busy state. Calls arrive with the coordinator's
// lock held and must not call back into the coordinator.
type Indicator interface {
	Lock(detail string)
	Update(detail string)
	Unlock()
}

// LogIndicator reports busy transitions through a structured logger.
type LogIndicator struct {
	Logger *slog.Logger
}

func (i LogIndicator) Lock(detail string) {
	i.Logger.Info("busy indicator shown", "detail", detail)
}

func (i LogIndicator) Update(detail string) {
	i.Logger.Debug("busy indicator updated", "detail", detail)
}

func (i LogIndicator) Unlock() {
	i.Logger.Info("busy indicator hidden")
}
