package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionKey holds the sessions whose token starts with prefix.
func SessionKey(prefix string) string {
	return fmt.Sprintf("session:%s", prefix)
}

func JobProgressKey(runID uuid.UUID) string {
	return fmt.Sprintf("prepare:progress:%s", runID)
}

func RateLimitKey(prefix string) string {
	return fmt.Sprintf("ratelimit:%s", prefix)
}
