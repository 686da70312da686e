package session

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"tradedash/internal/equity"
	"tradedash/internal/indicator"
	"tradedash/internal/model"
	"tradedash/internal/render"
	"tradedash/internal/upstream"
)

// EquitySeries is the series name of the equity curve.
const EquitySeries = "EQUITY"

// BacktestView is a backtest result made ready for drawing.
type BacktestView struct {
	Candles    []model.Candle          `json:"candles"`
	Indicators []model.IndicatorSeries `json:"indicators"`
	Equity     []model.EquityPoint     `json:"equity"`
	Tier       string                  `json:"equity_source"`
	Markers    []model.Signal          `json:"markers"`
	Trades     []model.Trade           `json:"trades"`
	Metrics    model.Metrics           `json:"metrics"`
}

// Assemble prepares candles, rebuilds the equity curve and fills in whatever
// the response left out: markers from positions, positions from markers,
// trades from markers and metrics from trades.
func Assemble(res *upstream.BacktestResult, initialCapital float64) *BacktestView {
	candles, skipped := indicator.PrepareCandles(res.Candles)
	if skipped > 0 {
		log.Printf("[session] backtest: skipped %d invalid candles", skipped)
	}

	buys, sells := res.Buys, res.Sells
	var positions []int
	if len(res.Positions) > 0 {
		// preparation drops and reorders candles; flags follow by time
		positions = equity.AlignPositions(res.Candles, res.Positions, candles)
	}
	switch {
	case len(buys)+len(sells) == 0 && len(positions) > 0:
		buys, sells = equity.SignalsFromPositions(candles, positions)
	case len(positions) == 0 && len(buys)+len(sells) > 0:
		positions = equity.PositionsFromSignals(candles, buys, sells)
	}

	curve, tier := equity.Reconstruct(equity.Input{
		Candles:        candles,
		Equity:         res.Equity,
		Positions:      positions,
		TotalReturn:    res.TotalReturn,
		InitialCapital: initialCapital,
	})
	log.Printf("[session] backtest: equity from %s tier, %d points", tier, len(curve))

	trades := res.Trades
	if len(trades) == 0 {
		trades = equity.PairTrades(buys, sells)
	}
	metrics := res.Metrics
	if metrics.TotalTrades == 0 && len(trades) > 0 {
		metrics = equity.ComputeMetrics(trades)
	}
	if metrics.TotalReturn == 0 {
		if res.TotalReturn != nil {
			metrics.TotalReturn = *res.TotalReturn
		} else {
			metrics.TotalReturn = equity.TotalReturn(curve)
		}
	}

	markers := make([]model.Signal, 0, len(buys)+len(sells))
	markers = append(markers, buys...)
	markers = append(markers, sells...)
	sort.SliceStable(markers, func(i, j int) bool { return markers[i].Time < markers[j].Time })

	return &BacktestView{
		Candles:    candles,
		Indicators: res.Indicators,
		Equity:     curve,
		Tier:       tier.String(),
		Markers:    markers,
		Trades:     trades,
		Metrics:    metrics,
	}
}

// EquityPoints converts the curve to chart points.
func (v *BacktestView) EquityPoints() []model.Point {
	out := make([]model.Point, len(v.Equity))
	for i, p := range v.Equity {
		out[i] = model.Point{Time: p.Time, Value: model.Float(p.Value)}
	}
	return out
}

// Draw sends the whole view to sink.
func (v *BacktestView) Draw(sink render.Sink) {
	sink.SetCandles(v.Candles)
	for _, ser := range v.Indicators {
		sink.SetSeries(ser.Name, render.KindFor(ser.Name), ser.Color, ser.Points)
	}
	sink.SetSeries(EquitySeries, render.KindEquity, "", v.EquityPoints())
	sink.SetMarkers(v.Markers)
	sink.SetTrades(v.Trades, v.Metrics)
}

// Backtest runs req and draws the result. The chart switches to the daily
// series of the requested instrument; a newer request or switch discards
// the result.
func (s *Session) Backtest(ctx context.Context, req upstream.BacktestRequest) (*BacktestView, error) {
	_, run, err := s.startBacktest(req)
	if err != nil {
		return nil, err
	}
	return run(ctx)
}

// startBacktest switches to the daily series of req's instrument and issues
// the request token right away. The returned run performs the backtest.
func (s *Session) startBacktest(req upstream.BacktestRequest) (prev model.SeriesKey, run func(context.Context) (*BacktestView, error), err error) {
	if s.cfg.Backtester == nil {
		return prev, nil, fmt.Errorf("session %s: no backtester configured", s.ID)
	}
	if req.InitialCapital <= 0 {
		req.InitialCapital = s.cfg.InitialCapital
	}
	key := model.SeriesKey{InstrumentKey: req.InstrumentKey, Timeframe: model.TF1Day}

	s.mu.Lock()
	prev, tok, err := s.beginLocked(key, nil)
	s.mu.Unlock()
	if err != nil {
		return prev, nil, err
	}

	s.sink.Status(fmt.Sprintf("running %s on %s", req.Strategy, req.InstrumentKey))
	return prev, func(ctx context.Context) (*BacktestView, error) { return s.runBacktest(ctx, tok, key, req) }, nil
}

func (s *Session) runBacktest(ctx context.Context, tok uuid.UUID, key model.SeriesKey, req upstream.BacktestRequest) (*BacktestView, error) {
	res, err := s.cfg.Backtester.RunBacktest(ctx, req)
	if err != nil {
		if !s.current(tok) {
			s.stale(key)
			return nil, ErrStale
		}
		s.sink.Status("error: " + err.Error())
		return nil, fmt.Errorf("session %s: backtest %s: %w", s.ID, req.Strategy, err)
	}
	view := Assemble(res, req.InitialCapital)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != tok {
		s.stale(key)
		return nil, ErrStale
	}
	// Live ticks on the last day extend its candle and the drawn studies.
	if n := len(view.Candles); n > 0 {
		s.agg.Seed(key, view.Candles[n-1])
		s.ind.Seed(key, s.drawnSpecs(view.Indicators), view.Candles)
	}
	view.Draw(s.sink)
	s.sink.Status(fmt.Sprintf("backtest %s: %d trades", req.Strategy, len(view.Trades)))
	return view, nil
}

// drawnSpecs returns the session studies that the backtest view also drew,
// so live values only go to series present on the chart.
func (s *Session) drawnSpecs(drawn []model.IndicatorSeries) []indicator.Spec {
	names := make(map[string]bool, len(drawn))
	for _, ser := range drawn {
		names[ser.Name] = true
	}
	var out []indicator.Spec
	for _, spec := range s.specs {
		if names[spec.Name()] {
			out = append(out, spec)
		}
	}
	return out
}
