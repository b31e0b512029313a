package analysis

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kiranshivaraju/matchdesk/internal/backend"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// resultKeys are the object keys the backend has wrapped results under.
var resultKeys = []string{"results", "data", "matches"}

// NormalizeResults extracts the result array from an analysis reply. A bare
// array is returned as is; an object yields the first array found under
// results, data or matches. Anything else, null included, yields an empty
// slice.
func NormalizeResults(raw json.RawMessage) []json.RawMessage {
	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) == nil && arr != nil {
		return arr
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil || obj == nil {
		return []json.RawMessage{}
	}
	for _, key := range resultKeys {
		var inner []json.RawMessage
		if json.Unmarshal(obj[key], &inner) == nil && inner != nil {
			return inner
		}
	}
	return []json.RawMessage{}
}

// DecodeMatches normalizes raw and decodes each element as a match.
func DecodeMatches(raw json.RawMessage) ([]models.Match, error) {
	items := NormalizeResults(raw)
	matches := make([]models.Match, 0, len(items))
	for i, item := range items {
		var m models.Match
		if err := json.Unmarshal(item, &m); err != nil {
			return nil, fmt.Errorf("%w: result %d: %v", backend.ErrMalformedResponse, i, err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// SortByScore orders matches by final_percent, highest first. Matches
// without a score count as 0; ties keep their original order.
func SortByScore(matches []models.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score() > matches[j].Score()
	})
}
