package model

import (
	"encoding/json"
	"math"
)

// Tick represents a single last-traded-price update from the live feed.
// TradeTS is epoch seconds (UTC).
type Tick struct {
	InstrumentKey string  `json:"instrumentKey"`
	LastPrice     float64 `json:"lastPrice"`
	TradeTS       int64   `json:"lastTradeTime"`
}

// Valid reports whether the tick carries a usable key, price and timestamp.
func (t *Tick) Valid() bool {
	if t.InstrumentKey == "" || t.TradeTS <= 0 {
		return false
	}
	return isFinite(t.LastPrice) && t.LastPrice > 0
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
