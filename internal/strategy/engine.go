// Package strategy holds the backtest strategy catalogue and a local runner
// for the built-in strategies.
//
// A Strategy receives finished candles one at a time and may emit a BUY or
// SELL signal for each. Backtest turns those signals into a long/flat position
// series; signals that would not change the position are ignored.
package strategy

import (
	"context"
	"fmt"

	"tradedash/internal/indicator"
	"tradedash/internal/model"
)

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Signal represents a trading signal emitted by a strategy.
type Signal struct {
	StrategyName string  `json:"strategy_name"`
	Action       Action  `json:"action"`
	Time         int64   `json:"time"`
	Price        float64 `json:"price"`
	Reason       string  `json:"reason"`
}

// Strategy is the interface that all local strategies implement.
type Strategy interface {
	// Name returns the catalogue name of the strategy.
	Name() string

	// OnCandle is called for each finished candle in time order.
	// Return a Signal if the strategy wants to act, or nil to skip.
	OnCandle(candle model.Candle) *Signal

	// Lines returns the strategy's indicator values, one entry per candle
	// seen, keyed by series name.
	Lines() map[string][]*float64
}

// Result is the outcome of a local backtest.
type Result struct {
	Positions  []int
	Buys       []model.Signal
	Sells      []model.Signal
	Indicators []model.IndicatorSeries
}

// Backtest feeds candles through s and collects positions and markers.
// Positions[i] is 1 when long after candle i, else 0.
func Backtest(ctx context.Context, s Strategy, candles []model.Candle) (*Result, error) {
	res := &Result{Positions: make([]int, len(candles))}
	pos := 0
	for i, c := range candles {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("backtest %s: %w", s.Name(), err)
			}
		}
		if sig := s.OnCandle(c); sig != nil {
			switch {
			case sig.Action == ActionBuy && pos == 0:
				pos = 1
				res.Buys = append(res.Buys, model.Signal{Time: c.Time, Price: c.Close, Kind: model.SignalBuy})
			case sig.Action == ActionSell && pos == 1:
				pos = 0
				res.Sells = append(res.Sells, model.Signal{Time: c.Time, Price: c.Close, Kind: model.SignalSell})
			}
		}
		res.Positions[i] = pos
	}

	lines := s.Lines()
	for i, name := range sortedKeys(lines) {
		color := indicator.Palette[i%len(indicator.Palette)]
		res.Indicators = append(res.Indicators, indicator.ToSeries(name, color, candles, lines[name]))
	}
	return res, nil
}

// New builds the local implementation of a catalogue strategy from params as
// produced by StrategySpec.BuildParams.
func New(name string, params map[string]interface{}) (Strategy, error) {
	switch name {
	case "moving_average_crossover":
		return NewMACrossover(params)
	case "rsi_strategy":
		return NewRSIStrategy(params)
	case "bollinger_bands":
		return NewBollingerStrategy(params)
	}
	return nil, fmt.Errorf("%w: no local implementation of %q", ErrUnknownStrategy, name)
}
