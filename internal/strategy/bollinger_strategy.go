package strategy

import (
	"fmt"

	"tradedash/internal/indicator"
	"tradedash/internal/model"
)

// BollingerStrategy buys a close under the lower band and sells a close over
// the upper band. Bands run over the closes, or over an EMA of the closes
// when band_source is "ema".
type BollingerStrategy struct {
	prefix string
	ema    indicator.Indicator
	bands  *indicator.Bollinger
	lines  map[string][]*float64
}

func NewBollingerStrategy(params map[string]interface{}) (*BollingerStrategy, error) {
	window := intParam(params, "window", 20)
	mult := floatParam(params, "num_std", indicator.DefaultBBMult)
	if window < 2 {
		return nil, fmt.Errorf("bollinger_bands: window must be at least 2, got %d", window)
	}
	s := &BollingerStrategy{
		prefix: fmt.Sprintf("BB_%d", window),
		bands:  indicator.NewBollinger(window, mult),
		lines:  make(map[string][]*float64),
	}
	if stringParam(params, "band_source", "close") == "ema" {
		ema, err := indicator.New(indicator.KindEMA, intParam(params, "ema_period", 20))
		if err != nil {
			return nil, fmt.Errorf("bollinger_bands: %w", err)
		}
		s.ema = ema
	}
	return s, nil
}

func (s *BollingerStrategy) Name() string { return "bollinger_bands" }

func (s *BollingerStrategy) Lines() map[string][]*float64 { return s.lines }

func (s *BollingerStrategy) OnCandle(candle model.Candle) *Signal {
	src, ok := candle.Close, true
	if s.ema != nil {
		s.ema.Add(candle.Close)
		src, ok = s.ema.Value(), s.ema.Ready()
	}
	if ok {
		s.bands.Add(src)
	}
	upper, _, lower, ready := s.bands.Bands()
	s.lines[s.prefix+"_UPPER"] = record(s.lines[s.prefix+"_UPPER"], ready, upper)
	s.lines[s.prefix+"_LOWER"] = record(s.lines[s.prefix+"_LOWER"], ready, lower)
	if !ready {
		return nil
	}
	switch {
	case candle.Close < lower:
		return &Signal{StrategyName: s.Name(), Action: ActionBuy, Time: candle.Time, Price: candle.Close, Reason: "close below lower band"}
	case candle.Close > upper:
		return &Signal{StrategyName: s.Name(), Action: ActionSell, Time: candle.Time, Price: candle.Close, Reason: "close above upper band"}
	}
	return nil
}
