package strategy

import (
	"fmt"
	"log"

	"tradedash/internal/indicator"
	"tradedash/internal/model"
)

// RSIStrategy buys when RSI drops below oversold and exits when it rises
// above overbought, or above exit_level when exit_mode is "level".
type RSIStrategy struct {
	name      string
	rsi       indicator.Indicator
	oversold  float64
	exitAbove float64
	lines     map[string][]*float64
}

func NewRSIStrategy(params map[string]interface{}) (*RSIStrategy, error) {
	period := intParam(params, "rsi_period", 14)
	oversold := floatParam(params, "oversold", 30)
	overbought := floatParam(params, "overbought", 70)
	if oversold >= overbought {
		return nil, fmt.Errorf("rsi_strategy: oversold %v must be below overbought %v", oversold, overbought)
	}
	rsi, err := indicator.New(indicator.KindRSI, period)
	if err != nil {
		return nil, fmt.Errorf("rsi_strategy: %w", err)
	}
	exit := overbought
	if stringParam(params, "exit_mode", "overbought") == "level" {
		exit = floatParam(params, "exit_level", 50)
		if exit <= oversold {
			log.Printf("[strategy] rsi_strategy: exit_level %v not above oversold %v, positions may flip every candle", exit, oversold)
		}
	}
	return &RSIStrategy{
		name:      fmt.Sprintf("RSI_%d", period),
		rsi:       rsi,
		oversold:  oversold,
		exitAbove: exit,
		lines:     make(map[string][]*float64),
	}, nil
}

func (s *RSIStrategy) Name() string { return "rsi_strategy" }

func (s *RSIStrategy) Lines() map[string][]*float64 { return s.lines }

func (s *RSIStrategy) OnCandle(candle model.Candle) *Signal {
	s.rsi.Add(candle.Close)
	ready := s.rsi.Ready()
	v := s.rsi.Value()
	s.lines[s.name] = record(s.lines[s.name], ready, v)
	if !ready {
		return nil
	}
	switch {
	case v < s.oversold:
		return &Signal{StrategyName: s.Name(), Action: ActionBuy, Time: candle.Time, Price: candle.Close,
			Reason: fmt.Sprintf("RSI %.1f below %.1f", v, s.oversold)}
	case v > s.exitAbove:
		return &Signal{StrategyName: s.Name(), Action: ActionSell, Time: candle.Time, Price: candle.Close,
			Reason: fmt.Sprintf("RSI %.1f above %.1f", v, s.exitAbove)}
	}
	return nil
}
