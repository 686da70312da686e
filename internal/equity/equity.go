// Package equity rebuilds a portfolio value curve and trade list from a
// backtest response. Upstream responses vary in shape, so reconstruction
// falls through three tiers until one applies: explicit equity data,
// per-candle position flags, then a linear curve from the total return.
package equity

import (
	"encoding/json"
	"log"

	"tradedash/internal/model"
)

// Allocation is the fraction of cash invested on every entry.
const Allocation = 0.95

// Tier identifies which source produced an equity curve.
type Tier int

const (
	TierNone Tier = iota
	TierExplicit
	TierPositions
	TierLinear
)

func (t Tier) String() string {
	switch t {
	case TierExplicit:
		return "explicit"
	case TierPositions:
		return "positions"
	case TierLinear:
		return "linear"
	}
	return "none"
}

// Input is everything a backtest response may carry for reconstruction.
type Input struct {
	Candles        []model.Candle
	Equity         json.RawMessage // explicit curve, any accepted shape
	Positions      []int           // per-candle 0/1 flags
	TotalReturn    *float64        // fraction, 0.1 = +10%
	InitialCapital float64
}

// Reconstruct returns the equity curve and the tier that produced it.
// Nothing here fails: an input no tier can use yields an empty curve.
func Reconstruct(in Input) ([]model.EquityPoint, Tier) {
	if len(in.Equity) > 0 {
		if pts := Explicit(in.Equity, in.Candles); len(pts) > 0 {
			return pts, TierExplicit
		}
		log.Printf("[equity] explicit equity present but unusable, falling back")
	}
	if len(in.Positions) > 0 && len(in.Candles) > 0 {
		return FromPositions(in.Candles, in.Positions, in.InitialCapital), TierPositions
	}
	if in.TotalReturn != nil && len(in.Candles) > 0 {
		return Linear(in.Candles, in.InitialCapital, *in.TotalReturn), TierLinear
	}
	return []model.EquityPoint{}, TierNone
}

// FromPositions replays the flags: a 0→1 transition buys with Allocation of
// cash at the close, a 1→0 transition sells every share at the close, and
// each candle's equity is cash + shares×close. The curve has one point per
// candle: candles beyond the flags hold the last flag, extra flags are
// ignored.
func FromPositions(candles []model.Candle, flags []int, initialCapital float64) []model.EquityPoint {
	out := make([]model.EquityPoint, 0, len(candles))

	cash, shares := initialCapital, 0.0
	prev := 0
	for i := range candles {
		price := candles[i].Close
		cur := prev
		if i < len(flags) {
			cur = flag(flags[i])
		}
		switch {
		case prev == 0 && cur == 1 && price > 0:
			invest := cash * Allocation
			shares = invest / price
			cash -= invest
		case prev == 1 && cur == 0:
			cash += shares * price
			shares = 0
		}
		prev = cur
		out = append(out, model.EquityPoint{Time: candles[i].Time, Value: cash + shares*price})
	}
	return out
}

// Linear interpolates from initialCapital at the first candle to
// initialCapital×(1+totalReturn) at the last. A single candle gets the final
// value. For display continuity only.
func Linear(candles []model.Candle, initialCapital, totalReturn float64) []model.EquityPoint {
	out := make([]model.EquityPoint, len(candles))
	final := initialCapital * (1 + totalReturn)
	last := len(candles) - 1
	for i, c := range candles {
		v := final
		if last > 0 {
			v = initialCapital + (final-initialCapital)*float64(i)/float64(last)
		}
		out[i] = model.EquityPoint{Time: c.Time, Value: v}
	}
	return out
}

// TotalReturn is the fractional change between the first and last points.
func TotalReturn(curve []model.EquityPoint) float64 {
	if len(curve) < 2 || curve[0].Value == 0 {
		return 0
	}
	return curve[len(curve)-1].Value/curve[0].Value - 1
}

func flag(v int) int {
	if v > 0 {
		return 1
	}
	return 0
}
