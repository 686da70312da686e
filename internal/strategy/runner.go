package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"tradedash/internal/equity"
	"tradedash/internal/indicator"
	"tradedash/internal/model"
	"tradedash/internal/upstream"
)

// CandleSource supplies the daily history a local backtest runs over.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Candle, error)
}

// Runner answers backtest requests locally with the built-in strategies. It
// returns the same result type as the upstream backtest endpoint.
type Runner struct {
	catalogue *Catalogue
	source    CandleSource
}

// NewRunner creates a Runner over a catalogue and candle source.
func NewRunner(catalogue *Catalogue, source CandleSource) *Runner {
	return &Runner{catalogue: catalogue, source: source}
}

// RunBacktest runs req.Strategy over daily candles between the request dates.
func (r *Runner) RunBacktest(ctx context.Context, req upstream.BacktestRequest) (*upstream.BacktestResult, error) {
	spec, err := r.catalogue.Get(req.Strategy)
	if err != nil {
		return nil, err
	}
	params, err := spec.BuildParams(req.Params)
	if err != nil {
		return nil, err
	}
	s, err := New(spec.Name, params)
	if err != nil {
		return nil, err
	}

	raw, err := r.source.FetchCandles(ctx, req.InstrumentKey, model.TF1Day)
	if err != nil {
		return nil, fmt.Errorf("backtest %s: %w", req.Strategy, err)
	}
	candles, skipped := indicator.PrepareCandles(raw)
	if skipped > 0 {
		log.Printf("[strategy] backtest %s: skipped %d invalid candles", req.Strategy, skipped)
	}
	candles, err = between(candles, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("backtest %s: %w", req.Strategy, upstream.ErrNoCandles)
	}

	res, err := Backtest(ctx, s, candles)
	if err != nil {
		return nil, err
	}

	curve := equity.FromPositions(candles, res.Positions, req.InitialCapital)
	tr := equity.TotalReturn(curve)
	eq, err := json.Marshal(curve)
	if err != nil {
		return nil, fmt.Errorf("backtest %s: encode equity: %w", req.Strategy, err)
	}
	trades := equity.PairTrades(res.Buys, res.Sells)
	metrics := equity.ComputeMetrics(trades)
	metrics.TotalReturn = tr

	log.Printf("[strategy] backtest %s %s: %d candles, %d trades, return %.4f",
		req.Strategy, req.InstrumentKey, len(candles), len(trades), tr)
	return &upstream.BacktestResult{
		Candles:     candles,
		Equity:      eq,
		Positions:   res.Positions,
		Buys:        res.Buys,
		Sells:       res.Sells,
		Indicators:  res.Indicators,
		Metrics:     metrics,
		TotalReturn: &tr,
		Trades:      trades,
	}, nil
}

// between keeps candles whose time falls within the inclusive date range.
// Empty bounds are open; a bare end date covers that whole day.
func between(candles []model.Candle, start, end string) ([]model.Candle, error) {
	lo, hi := int64(0), int64(1<<62)
	if start != "" {
		ts, ok := model.ParseTimestamp(start)
		if !ok {
			return nil, fmt.Errorf("backtest: bad start_date %q", start)
		}
		lo = ts
	}
	if end != "" {
		ts, ok := model.ParseTimestamp(end)
		if !ok {
			return nil, fmt.Errorf("backtest: bad end_date %q", end)
		}
		hi = ts
		if len(end) == len("2006-01-02") {
			hi += 86400 - 1
		}
	}
	out := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Time >= lo && c.Time <= hi {
			out = append(out, c)
		}
	}
	return out, nil
}
