package indicator

import (
	"log"
	"sort"

	"tradedash/internal/model"
)

// PrepareCandles turns an upstream candle array into a chart-ready one:
// candles with missing or non-finite OHLC are skipped, the rest are sorted by
// time (stable, so equal timestamps keep arrival order) and duplicates of a
// timestamp are dropped keeping the first occurrence. skipped counts both
// invalid and duplicate candles.
func PrepareCandles(in []model.Candle) (out []model.Candle, skipped int) {
	out = make([]model.Candle, 0, len(in))
	for _, c := range in {
		if !c.Valid() {
			skipped++
			continue
		}
		out = append(out, c)
	}
	if skipped > 0 {
		log.Printf("[indicator] skipped %d candles with invalid OHLC", skipped)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })

	n := 0
	for i := range out {
		if n > 0 && out[n-1].Time == out[i].Time {
			skipped++
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n], skipped
}
