package model

import (
	"encoding/json"
	"time"
)

// Candle represents one OHLC bar. Time is the aligned interval start
// (epoch seconds, UTC). A finalized candle is never mutated again; only the
// single forming candle of a live series changes in place.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// Valid reports whether all OHLC fields are finite numbers and the
// timestamp is set.
func (c *Candle) Valid() bool {
	if c.Time <= 0 {
		return false
	}
	return isFinite(c.Open) && isFinite(c.High) && isFinite(c.Low) && isFinite(c.Close)
}

// TS returns the interval start as a UTC time.
func (c *Candle) TS() time.Time {
	return time.Unix(c.Time, 0).UTC()
}

// JSON returns the JSON-encoded candle.
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Closes extracts the close prices of candles in order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// SeriesKey identifies one live candle series: an instrument at a timeframe.
type SeriesKey struct {
	InstrumentKey string    `json:"instrumentKey"`
	Timeframe     Timeframe `json:"timeframe"`
}

// String returns "instrument|timeframe".
func (k SeriesKey) String() string {
	return k.InstrumentKey + "|" + string(k.Timeframe)
}
