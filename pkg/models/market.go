// Package models contains shared data models used across the matchdesk codebase.
package models

import "fmt"

// Market is one of the fixed analysis categories the backend understands.
type Market string

const (
	Market1HOver05 Market = "1h_over05"
	MarketGG1H     Market = "gg1h"
	Market1HOver15 Market = "1h_over15"
	MarketFTOver15 Market = "ft_over15"
)

var marketDescriptions = map[Market]string{
	Market1HOver05: "over 0.5 goals in the first half",
	MarketGG1H:     "both teams to score in the first half",
	Market1HOver15: "over 1.5 goals in the first half",
	MarketFTOver15: "over 1.5 goals full time",
}

// Markets lists every supported market in display order.
func Markets() []Market {
	return []Market{Market1HOver05, MarketGG1H, Market1HOver15, MarketFTOver15}
}

// Valid reports whether m is a known market.
func (m Market) Valid() bool {
	_, ok := marketDescriptions[m]
	return ok
}

// Description returns a human label for the market.
func (m Market) Description() string {
	if d, ok := marketDescriptions[m]; ok {
		return d
	}
	return string(m)
}

// ParseMarket validates a raw market identifier.
func ParseMarket(s string) (Market, error) {
	m := Market(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown market %q: must be one of 1h_over05, gg1h, 1h_over15, ft_over15", s)
	}
	return m, nil
}

// MarketForAction maps the dashboard's action buttons to markets.
// Unknown actions fall back to over 0.5 first half.
func MarketForAction(action string) Market {
	switch action {
	case "GG":
		return MarketGG1H
	case "O15":
		return Market1HOver15
	case "FT_O15":
		return MarketFTOver15
	default:
		return Market1HOver05
	}
}
