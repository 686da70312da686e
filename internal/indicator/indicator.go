// Package indicator provides technical indicator calculations over candle data.
//
// Two styles are offered. Streaming indicators implement the Indicator
// interface and are fed one candle at a time; they back the live preview of
// the forming candle. Batch functions (EMASeries, Smooth, BollingerSeries, …)
// compute a full series over a finished candle array and are what the chart
// reload path uses. Both share the same formulas.
package indicator

import (
	"fmt"
	"strings"

	"tradedash/internal/model"
)

// Indicator is the interface for all streaming technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds a new finalized candle and recalculates.
	Update(candle model.Candle)

	// Add feeds a raw value instead of a candle close.
	Add(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if a candle with this close were
	// added next, WITHOUT mutating internal state. Used for the forming candle.
	Peek(close float64) float64
}

// Kind selects a moving-average flavour.
type Kind string

const (
	KindNone Kind = ""
	KindSMA  Kind = "SMA"
	KindEMA  Kind = "EMA"
	KindRMA  Kind = "RMA"
	KindWMA  Kind = "WMA"
	KindRSI  Kind = "RSI"
)

// ParseKind accepts the moving-average names used by the chart UI.
// "SMMA" and "RMA" are the same average.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return KindNone, nil
	case "SMA":
		return KindSMA, nil
	case "EMA":
		return KindEMA, nil
	case "RMA", "SMMA":
		return KindRMA, nil
	case "WMA":
		return KindWMA, nil
	case "RSI":
		return KindRSI, nil
	}
	return KindNone, fmt.Errorf("unknown indicator kind %q", s)
}

// New creates a streaming indicator of the given kind.
func New(kind Kind, period int) (Indicator, error) {
	if period <= 0 {
		return nil, fmt.Errorf("indicator %s: period must be positive, got %d", kind, period)
	}
	switch kind {
	case KindSMA:
		return NewSMA(period), nil
	case KindEMA:
		return NewEMA(period), nil
	case KindRMA:
		return NewSMMA(period), nil
	case KindWMA:
		return NewWMA(period), nil
	case KindRSI:
		return NewRSI(period), nil
	}
	return nil, fmt.Errorf("indicator kind %q has no streaming form", kind)
}
