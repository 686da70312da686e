package indicator

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradedash/internal/model"
)

// Spec specifies a single indicator to compute. The textual form is
// TYPE:PERIOD, optionally followed by SMOOTHKIND:LENGTH and BB:MULT for EMA
// studies, e.g. "EMA:20", "RSI:14", "EMA:20:SMA:9:BB:2".
type Spec struct {
	Kind            Kind
	Period          int
	Smoothing       Kind
	SmoothingLength int
	Bollinger       bool
	BBMult          float64
	Color           string
}

// Name returns the series name of the primary line, e.g. "RSI_14".
func (s Spec) Name() string { return string(s.Kind) + "_" + strconv.Itoa(s.Period) }

func (s Spec) study() EMAStudy {
	return EMAStudy{
		Period:          s.Period,
		Smoothing:       s.Smoothing,
		SmoothingLength: s.SmoothingLength,
		Bollinger:       s.Bollinger,
		BBMult:          s.BBMult,
		Color:           s.Color,
	}
}

// ParseSpec parses one indicator spec.
func ParseSpec(raw string) (Spec, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 {
		return Spec{}, fmt.Errorf("indicator spec %q: want TYPE:PERIOD", raw)
	}
	kind, err := ParseKind(parts[0])
	if err != nil || kind == KindNone {
		return Spec{}, fmt.Errorf("indicator spec %q: unknown type", raw)
	}
	period, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || period <= 0 {
		return Spec{}, fmt.Errorf("indicator spec %q: invalid period", raw)
	}
	spec := Spec{Kind: kind, Period: period}

	rest := parts[2:]
	if len(rest) > 0 && kind != KindEMA {
		return Spec{}, fmt.Errorf("indicator spec %q: options are only supported for EMA", raw)
	}
	for len(rest) >= 2 {
		key, val := strings.ToUpper(strings.TrimSpace(rest[0])), strings.TrimSpace(rest[1])
		rest = rest[2:]
		if key == "BB" {
			mult, err := strconv.ParseFloat(val, 64)
			if err != nil || mult <= 0 {
				return Spec{}, fmt.Errorf("indicator spec %q: invalid band multiplier", raw)
			}
			spec.Bollinger, spec.BBMult = true, mult
			continue
		}
		sk, err := ParseKind(key)
		if err != nil || sk == KindRSI || sk == KindNone {
			return Spec{}, fmt.Errorf("indicator spec %q: unknown smoothing %q", raw, key)
		}
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return Spec{}, fmt.Errorf("indicator spec %q: invalid smoothing length", raw)
		}
		spec.Smoothing, spec.SmoothingLength = sk, n
	}
	if len(rest) != 0 {
		return Spec{}, fmt.Errorf("indicator spec %q: dangling option %q", raw, rest[0])
	}
	return spec, nil
}

// ParseSpecs parses a comma-separated list. Invalid entries are logged and
// skipped.
func ParseSpecs(raw string) []Spec {
	var specs []Spec
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := ParseSpec(part)
		if err != nil {
			log.Printf("[indicator] %v", err)
			continue
		}
		specs = append(specs, s)
	}
	return specs
}

// LiveValue is the preview of one indicator on the forming candle.
type LiveValue struct {
	Name  string  `json:"name"`
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
}

// seriesIndicators holds live indicator instances for one chart series.
type seriesIndicators struct {
	indicators []Indicator
	specs      []Spec
}

// Engine computes indicator series over candle arrays and keeps streaming
// state per chart series for the forming-candle preview.
type Engine struct {
	mu    sync.Mutex
	state map[model.SeriesKey]*seriesIndicators

	// OnCompute is called after each batch computation (optional).
	OnCompute func(series int, elapsed time.Duration)
}

// NewEngine creates an empty indicator engine.
func NewEngine() *Engine {
	return &Engine{state: make(map[model.SeriesKey]*seriesIndicators)}
}

// Compute runs every spec over candles. EMA specs colour by palette index
// when no colour is given.
func (e *Engine) Compute(candles []model.Candle, specs []Spec) []model.IndicatorSeries {
	start := time.Now()
	closes := model.Closes(candles)

	var out []model.IndicatorSeries
	emaIdx := 0
	for _, spec := range specs {
		switch spec.Kind {
		case KindEMA:
			st := spec.study()
			if st.Color == "" {
				st.Color = Palette[emaIdx%len(Palette)]
			}
			emaIdx++
			series, err := st.Compute(candles)
			if err != nil {
				log.Printf("[indicator] %v", err)
				continue
			}
			out = append(out, series...)
		case KindSMA:
			out = append(out, ToSeries(spec.Name(), spec.Color, candles, SMASeries(closes, spec.Period)))
		case KindRMA:
			out = append(out, ToSeries(spec.Name(), spec.Color, candles, RMASeries(closes, spec.Period)))
		case KindWMA:
			out = append(out, ToSeries(spec.Name(), spec.Color, candles, WMASeries(closes, spec.Period)))
		case KindRSI:
			out = append(out, ToSeries(spec.Name(), spec.Color, candles, RSISeries(closes, spec.Period)))
		}
	}

	if e.OnCompute != nil {
		e.OnCompute(len(out), time.Since(start))
	}
	return out
}

// Seed replaces the streaming state of key with fresh indicators fed from the
// finalized candles. The last candle is treated as forming and not fed.
func (e *Engine) Seed(key model.SeriesKey, specs []Spec, candles []model.Candle) {
	si := &seriesIndicators{}
	for _, s := range specs {
		ind, err := New(s.Kind, s.Period)
		if err != nil {
			log.Printf("[indicator] seed %s: %v", key, err)
			continue
		}
		si.indicators = append(si.indicators, ind)
		si.specs = append(si.specs, s)
	}
	if len(candles) > 1 {
		for _, c := range candles[:len(candles)-1] {
			for _, ind := range si.indicators {
				ind.Update(c)
			}
		}
	}

	e.mu.Lock()
	e.state[key] = si
	e.mu.Unlock()
}

// Process feeds a finalized candle into the streaming state of key.
func (e *Engine) Process(key model.SeriesKey, c model.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	si, ok := e.state[key]
	if !ok {
		return
	}
	for _, ind := range si.indicators {
		ind.Update(c)
	}
}

// Peek computes live indicator values for the forming candle using Peek().
// Does NOT mutate indicator state. Returns nil for an unseeded series.
func (e *Engine) Peek(key model.SeriesKey, c model.Candle) []LiveValue {
	e.mu.Lock()
	defer e.mu.Unlock()
	si, ok := e.state[key]
	if !ok {
		return nil
	}
	out := make([]LiveValue, 0, len(si.indicators))
	for i, ind := range si.indicators {
		out = append(out, LiveValue{
			Name:  si.specs[i].Name(),
			Time:  c.Time,
			Value: ind.Peek(c.Close),
			Ready: ind.Ready(),
		})
	}
	return out
}

// Drop forgets the streaming state of key.
func (e *Engine) Drop(key model.SeriesKey) {
	e.mu.Lock()
	delete(e.state, key)
	e.mu.Unlock()
}
