// Package session owns the per-client chart state: which series is shown,
// the forming candle, the indicator studies and the request token that
// guards against late history responses.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"tradedash/internal/indicator"
	"tradedash/internal/marketdata/agg"
	"tradedash/internal/marketdata/resample"
	"tradedash/internal/model"
	"tradedash/internal/render"
	"tradedash/internal/upstream"
)

// ErrNoSeries is returned by operations that need an active series.
var ErrNoSeries = errors.New("session: no active series")

// ErrClosed is returned for requests on a session that was closed.
var ErrClosed = errors.New("session: closed")

// ErrStale is returned when a response arrived after a newer request was
// issued. Nothing was drawn.
var ErrStale = errors.New("session: stale response discarded")

// HistorySource fetches historical candles for a series.
type HistorySource interface {
	FetchCandles(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Candle, error)
}

// Backtester runs a backtest request, remotely or locally.
type Backtester interface {
	RunBacktest(ctx context.Context, req upstream.BacktestRequest) (*upstream.BacktestResult, error)
}

// CandleStore returns candles captured locally. Sessions only read it; the
// capture pipeline is its single writer.
type CandleStore interface {
	ReadCandles(ctx context.Context, key model.SeriesKey, after int64) ([]model.Candle, error)
}

// Config is shared by every session of a Manager.
type Config struct {
	History    HistorySource
	Backtester Backtester
	Store      CandleStore // optional
	Indicators []indicator.Spec

	// InitialCapital is used when a backtest request carries none.
	InitialCapital float64

	// Hooks (optional)
	OnStale     func()
	OnFinalized func(key model.SeriesKey, c model.Candle)
	OnDropped   func(reason string)
}

// Session is one chart: an active series drawn into a sink.
type Session struct {
	ID string

	mu     sync.Mutex
	cfg    Config
	sink   render.Sink
	agg    *agg.Aggregator
	ind    *indicator.Engine
	key    model.SeriesKey
	specs  []indicator.Spec
	token  uuid.UUID
	closed bool
}

// New creates a session drawing into sink.
func New(id string, sink render.Sink, cfg Config) *Session {
	a := agg.New()
	a.OnDroppedTick = cfg.OnDropped
	a.OnFinalized = cfg.OnFinalized
	return &Session{
		ID:    id,
		cfg:   cfg,
		sink:  sink,
		agg:   a,
		ind:   indicator.NewEngine(),
		specs: cfg.Indicators,
	}
}

// Key returns the active series.
func (s *Session) Key() model.SeriesKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Specs returns the active indicator studies.
func (s *Session) Specs() []indicator.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]indicator.Spec(nil), s.specs...)
}

// Switch makes (instrument, tf) the active series with the given studies
// (nil keeps the current ones), drops all live state of the previous series
// and reloads history.
func (s *Session) Switch(ctx context.Context, instrument string, tf model.Timeframe, specs []indicator.Spec) error {
	_, load, err := s.startSwitch(instrument, tf, specs)
	if err != nil {
		return err
	}
	return load(ctx)
}

// startSwitch makes the new series active and issues its request token
// right away. The returned load fetches and draws the history; it may run on
// another goroutine. prev is the series shown before.
func (s *Session) startSwitch(instrument string, tf model.Timeframe, specs []indicator.Spec) (prev model.SeriesKey, load func(context.Context) error, err error) {
	if instrument == "" {
		return prev, nil, fmt.Errorf("session %s: %w", s.ID, ErrNoSeries)
	}
	key := model.SeriesKey{InstrumentKey: instrument, Timeframe: tf}
	s.mu.Lock()
	prev, tok, err := s.beginLocked(key, specs)
	active := s.specs
	s.mu.Unlock()
	if err != nil {
		return prev, nil, err
	}

	s.sink.Status("loading " + key.String())
	return prev, func(ctx context.Context) error { return s.load(ctx, tok, key, active) }, nil
}

// beginLocked drops the live state of the current series, makes key active
// and issues a new request token.
func (s *Session) beginLocked(key model.SeriesKey, specs []indicator.Spec) (prev model.SeriesKey, tok uuid.UUID, err error) {
	if s.closed {
		return s.key, uuid.Nil, fmt.Errorf("session %s: %w", s.ID, ErrClosed)
	}
	prev = s.key
	s.agg.Reset(prev)
	s.ind.Drop(prev)
	s.key = key
	if specs != nil {
		s.specs = specs
	}
	return prev, s.newTokenLocked(), nil
}

// Reload fetches history for the active series again.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.key.InstrumentKey == "" {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", s.ID, ErrNoSeries)
	}
	tok := s.newTokenLocked()
	key, active := s.key, s.specs
	s.mu.Unlock()
	return s.load(ctx, tok, key, active)
}

func (s *Session) newTokenLocked() uuid.UUID {
	s.token = uuid.New()
	return s.token
}

// load fetches, prepares and draws history for key. If another request was
// issued meanwhile the response is discarded without touching the sink and
// ErrStale is returned.
func (s *Session) load(ctx context.Context, tok uuid.UUID, key model.SeriesKey, specs []indicator.Spec) error {
	raw, err := s.cfg.History.FetchCandles(ctx, key.InstrumentKey, key.Timeframe)
	if err != nil {
		if !s.current(tok) {
			s.stale(key)
			return ErrStale
		}
		s.sink.Status("error: " + err.Error())
		return fmt.Errorf("session %s: load %s: %w", s.ID, key, err)
	}

	candles, skipped := indicator.PrepareCandles(raw)
	if skipped > 0 {
		log.Printf("[session] %s: skipped %d invalid candles for %s", s.ID, skipped, key)
	}
	candles = s.mergeLocal(ctx, key, candles)
	series := s.ind.Compute(candles, specs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != tok {
		s.stale(key)
		return ErrStale
	}

	forming, ahead := s.seedForming(key, candles)
	seeded := candles
	if ahead {
		seeded = append(candles[:len(candles):len(candles)], forming)
	}
	s.ind.Seed(key, specs, seeded)

	s.sink.SetCandles(candles)
	for _, ser := range series {
		s.sink.SetSeries(ser.Name, render.KindFor(ser.Name), ser.Color, ser.Points)
	}
	if ahead {
		s.publishLocked(forming, true)
	}
	s.sink.Status(fmt.Sprintf("loaded %s: %d candles", key, len(candles)))
	return nil
}

// seedForming hands the last historical candle to the aggregator so live
// ticks in the same bucket extend it. A forming candle built from ticks that
// arrived during the load stays when it is newer; ahead then reports that it
// is not part of candles and must be appended to the chart.
func (s *Session) seedForming(key model.SeriesKey, candles []model.Candle) (forming model.Candle, ahead bool) {
	if !key.Timeframe.Live() {
		return forming, false
	}
	cur, ok := s.agg.Current(key)
	if len(candles) == 0 {
		return cur, ok
	}
	last := candles[len(candles)-1]
	switch {
	case !ok || cur.Time < last.Time:
		s.agg.Seed(key, last)
	case cur.Time > last.Time:
		return cur, true
	default:
		if cur.High < last.High {
			cur.High = last.High
		}
		if cur.Low > last.Low {
			cur.Low = last.Low
		}
		cur.Open = last.Open
		s.agg.Seed(key, cur)
	}
	return forming, false
}

// mergeLocal appends locally captured candles newer than the upstream
// history. Without candles stored at key's timeframe, stored 1minute candles
// are resampled.
func (s *Session) mergeLocal(ctx context.Context, key model.SeriesKey, candles []model.Candle) []model.Candle {
	if s.cfg.Store == nil {
		return candles
	}
	var after int64
	if n := len(candles); n > 0 {
		after = candles[n-1].Time
	}
	local, err := s.cfg.Store.ReadCandles(ctx, key, after)
	if err != nil {
		log.Printf("[session] %s: read local candles for %s: %v", s.ID, key, err)
		return candles
	}
	if len(local) == 0 && key.Timeframe != model.TF1Minute {
		fine := model.SeriesKey{InstrumentKey: key.InstrumentKey, Timeframe: model.TF1Minute}
		mins, err := s.cfg.Store.ReadCandles(ctx, fine, after)
		if err != nil {
			log.Printf("[session] %s: read local candles for %s: %v", s.ID, fine, err)
			return candles
		}
		for _, c := range resample.Candles(mins, key.Timeframe) {
			if c.Time > after {
				local = append(local, c)
			}
		}
	}
	if len(local) > 0 {
		log.Printf("[session] %s: merged %d local candles into %s", s.ID, len(local), key)
	}
	return append(candles, local...)
}

func (s *Session) current(tok uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token == tok
}

func (s *Session) stale(key model.SeriesKey) {
	log.Printf("[session] %s: discarding stale response for %s", s.ID, key)
	if s.cfg.OnStale != nil {
		s.cfg.OnStale()
	}
}

// OnTick feeds a live tick. Ticks for other instruments are ignored. It
// reports whether the chart was updated.
func (s *Session) OnTick(tick model.Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key.InstrumentKey == "" || tick.InstrumentKey != s.key.InstrumentKey {
		return false
	}
	up, ok := s.agg.Process(tick, s.key.Timeframe)
	if !ok {
		return false
	}
	if up.Finalized != nil {
		s.ind.Process(s.key, *up.Finalized)
	}
	s.publishLocked(up.Candle, up.Appended)
	return true
}

// publishLocked draws the forming candle and the live indicator values on it.
func (s *Session) publishLocked(c model.Candle, appended bool) {
	s.sink.UpsertCandle(c, appended)
	for _, lv := range s.ind.Peek(s.key, c) {
		if !lv.Ready {
			continue
		}
		s.sink.UpsertPoint(lv.Name, model.Point{Time: lv.Time, Value: model.Float(lv.Value)})
	}
}

// Close drops all live state. Later switches and backtests fail with
// ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.agg.Reset(s.key)
	s.ind.Drop(s.key)
	s.token = uuid.Nil
	s.key = model.SeriesKey{}
}
