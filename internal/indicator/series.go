package indicator

import (
	"fmt"
	"log"
	"math"
	"strconv"

	"tradedash/internal/model"
)

// Palette is cycled by index when a multi-EMA request carries no colours.
var Palette = []string{"#2962FF", "#FF6D00", "#00BFA5", "#D500F9", "#FFD600", "#C51162", "#64DD17", "#00B8D4"}

// EMASeries returns one value per close. The first period-1 entries are nil,
// entry period-1 is the SMA seed and every later entry follows
// ema = v*k + prev*(1-k). Fewer than period closes yield an all-nil series.
func EMASeries(closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	if period <= 0 || len(closes) < period {
		return out
	}
	return apply(NewEMA(period), defined(closes), out)
}

// SMASeries is the rolling simple mean of closes.
func SMASeries(closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	if period <= 0 {
		return out
	}
	return apply(NewSMA(period), defined(closes), out)
}

// RMASeries is Wilder's running average seeded by an SMA.
func RMASeries(closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	if period <= 0 {
		return out
	}
	return apply(NewSMMA(period), defined(closes), out)
}

// WMASeries is the linearly weighted mean, newest weight period.
func WMASeries(closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	if period <= 0 {
		return out
	}
	return apply(NewWMA(period), defined(closes), out)
}

// RSISeries is Wilder's RSI; the first defined value sits at index period.
func RSISeries(closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	if period <= 0 {
		return out
	}
	return apply(NewRSI(period), defined(closes), out)
}

// Smooth applies a secondary moving average to the defined tail of values.
// Nil entries are skipped and stay nil in the output. KindNone returns a copy
// of values.
func Smooth(values []*float64, kind Kind, length int) ([]*float64, error) {
	out := make([]*float64, len(values))
	if kind == KindNone {
		copy(out, values)
		return out, nil
	}
	if kind == KindRSI {
		return nil, fmt.Errorf("smooth: %s is not a moving average", kind)
	}
	ind, err := New(kind, length)
	if err != nil {
		return nil, fmt.Errorf("smooth: %w", err)
	}
	return apply(ind, values, out), nil
}

// BollingerSeries computes bands of width mult·σ around the rolling mean of
// the defined entries of values, using a window of length.
func BollingerSeries(values []*float64, length int, mult float64) (upper, lower []*float64) {
	upper = make([]*float64, len(values))
	lower = make([]*float64, len(values))
	if length <= 0 {
		return upper, lower
	}
	bb := NewBollinger(length, mult)
	for i, v := range values {
		if v == nil {
			continue
		}
		bb.Add(*v)
		if u, _, l, ok := bb.Bands(); ok {
			upper[i] = model.Float(u)
			lower[i] = model.Float(l)
		}
	}
	return upper, lower
}

// EMAStudy is one EMA line with its optional smoothing and bands.
type EMAStudy struct {
	Period          int
	Smoothing       Kind
	SmoothingLength int
	Bollinger       bool
	BBMult          float64
	Color           string
}

// DefaultBBLength is the band window used when the study has no smoothing.
const DefaultBBLength = 20

// Name is the series name of the raw EMA line, e.g. "EMA_20".
func (s EMAStudy) Name() string { return "EMA_" + strconv.Itoa(s.Period) }

// Compute returns the raw EMA and, when configured, the smoothed line and the
// upper and lower bands. Bands are computed over the smoothed EMA with a window
// equal to the smoothing length.
func (s EMAStudy) Compute(candles []model.Candle) ([]model.IndicatorSeries, error) {
	closes := model.Closes(candles)
	ema := EMASeries(closes, s.Period)

	out := []model.IndicatorSeries{ToSeries(s.Name(), s.Color, candles, ema)}

	base := ema
	bbLen := DefaultBBLength
	if s.Smoothing != KindNone {
		smoothed, err := Smooth(ema, s.Smoothing, s.SmoothingLength)
		if err != nil {
			return nil, fmt.Errorf("ema study %s: %w", s.Name(), err)
		}
		name := fmt.Sprintf("%s_%s_%d", s.Name(), s.Smoothing, s.SmoothingLength)
		out = append(out, ToSeries(name, s.Color, candles, smoothed))
		base = smoothed
		bbLen = s.SmoothingLength
	}

	if s.Bollinger {
		upper, lower := BollingerSeries(base, bbLen, s.BBMult)
		out = append(out,
			ToSeries(s.Name()+"_BB_UPPER", s.Color, candles, upper),
			ToSeries(s.Name()+"_BB_LOWER", s.Color, candles, lower),
		)
	}
	return out, nil
}

// MultiEMA computes one EMA line per period. colors[i] is used when present,
// otherwise the palette entry at i.
func MultiEMA(candles []model.Candle, periods []int, colors []string) []model.IndicatorSeries {
	closes := model.Closes(candles)
	out := make([]model.IndicatorSeries, 0, len(periods))
	for i, p := range periods {
		color := Palette[i%len(Palette)]
		if i < len(colors) && colors[i] != "" {
			color = colors[i]
		}
		out = append(out, ToSeries("EMA_"+strconv.Itoa(p), color, candles, EMASeries(closes, p)))
	}
	return out
}

// apply feeds the defined entries of values through ind and records the
// output wherever ind is ready.
func apply(ind Indicator, values []*float64, out []*float64) []*float64 {
	for i, v := range values {
		if v == nil {
			continue
		}
		ind.Add(*v)
		if ind.Ready() {
			out[i] = model.Float(ind.Value())
		}
	}
	return out
}

func defined(vs []float64) []*float64 {
	out := make([]*float64, len(vs))
	for i := range vs {
		out[i] = &vs[i]
	}
	return out
}

// ToSeries aligns values to candle times. Non-finite values are dropped
// individually and logged.
func ToSeries(name, color string, candles []model.Candle, values []*float64) model.IndicatorSeries {
	s := model.IndicatorSeries{Name: name, Color: color, Points: make([]model.Point, 0, len(values))}
	for i, v := range values {
		if i >= len(candles) {
			break
		}
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			log.Printf("[indicator] %s: skipping non-finite value at ts=%d", name, candles[i].Time)
			continue
		}
		s.Points = append(s.Points, model.Point{Time: candles[i].Time, Value: v})
	}
	return s
}
