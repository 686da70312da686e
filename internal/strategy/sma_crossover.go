package strategy

import (
	"fmt"

	"tradedash/internal/indicator"
	"tradedash/internal/model"
)

// MACrossover holds a long position while the short moving average is above
// the long one.
//
// With ma_type EMA the two lines may be smoothed again with ema_smoothing
// over smoothing_length candles before they are compared.
type MACrossover struct {
	shortName, longName string
	short, long         indicator.Indicator
	shortSm, longSm     indicator.Indicator
	lines               map[string][]*float64
}

// NewMACrossover creates the strategy. short_window must be below long_window.
func NewMACrossover(params map[string]interface{}) (*MACrossover, error) {
	shortN := intParam(params, "short_window", 20)
	longN := intParam(params, "long_window", 50)
	if shortN <= 0 || longN <= shortN {
		return nil, fmt.Errorf("moving_average_crossover: need 0 < short_window < long_window, got %d/%d", shortN, longN)
	}
	kind, err := indicator.ParseKind(stringParam(params, "ma_type", "SMA"))
	if err != nil || (kind != indicator.KindSMA && kind != indicator.KindEMA) {
		return nil, fmt.Errorf("moving_average_crossover: ma_type must be SMA or EMA")
	}

	s := &MACrossover{
		shortName: fmt.Sprintf("%s_%d", kind, shortN),
		longName:  fmt.Sprintf("%s_%d", kind, longN),
		lines:     make(map[string][]*float64),
	}
	s.short, _ = indicator.New(kind, shortN)
	s.long, _ = indicator.New(kind, longN)

	if kind == indicator.KindEMA {
		smKind, err := indicator.ParseKind(stringParam(params, "ema_smoothing", "none"))
		if err != nil {
			return nil, fmt.Errorf("moving_average_crossover: %w", err)
		}
		if smKind != indicator.KindNone {
			n := intParam(params, "smoothing_length", 9)
			if s.shortSm, err = indicator.New(smKind, n); err != nil {
				return nil, fmt.Errorf("moving_average_crossover: %w", err)
			}
			s.longSm, _ = indicator.New(smKind, n)
			s.shortName += fmt.Sprintf("_%s_%d", smKind, n)
			s.longName += fmt.Sprintf("_%s_%d", smKind, n)
		}
	}
	return s, nil
}

func (s *MACrossover) Name() string { return "moving_average_crossover" }

func (s *MACrossover) Lines() map[string][]*float64 { return s.lines }

func (s *MACrossover) OnCandle(candle model.Candle) *Signal {
	shortV, shortOK := stage(s.short, s.shortSm, candle.Close)
	longV, longOK := stage(s.long, s.longSm, candle.Close)
	s.lines[s.shortName] = record(s.lines[s.shortName], shortOK, shortV)
	s.lines[s.longName] = record(s.lines[s.longName], longOK, longV)

	if !shortOK || !longOK {
		return nil
	}
	if shortV > longV {
		return &Signal{StrategyName: s.Name(), Action: ActionBuy, Time: candle.Time, Price: candle.Close,
			Reason: fmt.Sprintf("%s above %s", s.shortName, s.longName)}
	}
	return &Signal{StrategyName: s.Name(), Action: ActionSell, Time: candle.Time, Price: candle.Close,
		Reason: fmt.Sprintf("%s at or below %s", s.shortName, s.longName)}
}

// stage feeds v through base and, once base is ready, through the optional
// smoothing stage.
func stage(base, smooth indicator.Indicator, v float64) (float64, bool) {
	base.Add(v)
	if !base.Ready() {
		return 0, false
	}
	if smooth == nil {
		return base.Value(), true
	}
	smooth.Add(base.Value())
	if !smooth.Ready() {
		return 0, false
	}
	return smooth.Value(), true
}
