package models

import (
	"encoding/json"
	"time"
)

// AnalysisParams is what a user asks the analysis endpoint for.
type AnalysisParams struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Market Market    `json:"market"`
}

// Match is one analysed fixture. Only the fields the client reads are typed;
// the full backend object is kept in Raw and written back unchanged on export.
type Match struct {
	Team1        string         `json:"team1"`
	Team2        string         `json:"team2"`
	League       string         `json:"league,omitempty"`
	Kickoff      string         `json:"kickoff,omitempty"`
	FinalPercent *float64       `json:"final_percent,omitempty"`
	Debug        map[string]any `json:"debug,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Score returns final_percent, or 0 when the backend left it out.
func (m Match) Score() float64 {
	if m.FinalPercent == nil {
		return 0
	}
	return *m.FinalPercent
}

func (m *Match) UnmarshalJSON(data []byte) error {
	type plain Match
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Match(p)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (m Match) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	type plain Match
	return json.Marshal(plain(m))
}
