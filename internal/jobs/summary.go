package jobs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// FormatSummary renders a finished prepare-day result for people.
func FormatSummary(r models.PrepareDayResult) string {
	seeded := "no"
	if r.Seeded {
		seeded = "yes"
	}

	lines := []string{
		"Day: " + r.Day,
		fmt.Sprintf("Fixtures in DB: %d", r.FixturesInDB),
		fmt.Sprintf("Teams: %d | Pairs: %d", r.Teams, r.Pairs),
		"Seeded fixtures: " + seeded,
		fmt.Sprintf("Missing before: history=%d, h2h=%d", r.HistoryMissingBefore, r.H2HMissingBefore),
		fmt.Sprintf("Stats missing before: %d", r.StatsMissingBefore),
	}

	if len(r.Computed) > 0 {
		keys := make([]string, 0, len(r.Computed))
		for k := range r.Computed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %d", k, r.Computed[k])
		}
		lines = append(lines, "Computed: "+strings.Join(parts, ", "))
	}
	if r.Duration != "" {
		lines = append(lines, "Completed in "+r.Duration)
	}

	return strings.Join(lines, "\n")
}
