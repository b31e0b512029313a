package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/kiranshivaraju/matchdesk/internal/api/response"
)

// Check is one readiness probe.
type Check func(ctx context.Context) error

// NewHealthHandler returns GET /api/v1/health. Every check runs with a short
// deadline; any failure answers 503.
func NewHealthHandler(version string, checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		components := make(map[string]string, len(checks))
		healthy := true
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				components[name] = "error: " + err.Error()
				healthy = false
				continue
			}
			components[name] = "ok"
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY", "One or more components are unavailable", components)
			return
		}
		response.JSON(w, map[string]any{
			"status":     "ok",
			"version":    version,
			"components": components,
		})
	}
}
