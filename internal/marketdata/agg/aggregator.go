// Package agg turns a stream of last-traded-price ticks into OHLC candles.
//
// One forming candle is kept per (instrument, timeframe) series. A tick whose
// aligned bucket start equals the forming candle's start updates it in place;
// a tick in a later bucket finalizes the forming candle and starts a new one.
package agg

import (
	"context"
	"log"
	"sync"

	"tradedash/internal/model"
)

// Drop reasons passed to OnDroppedTick.
const (
	DropMalformed = "malformed"
	DropLate      = "late"
	DropNotLive   = "not_live"
)

// Update describes the effect of one tick on a series.
type Update struct {
	Key    model.SeriesKey
	Candle model.Candle // forming candle after the tick

	// Appended is true when the tick opened a new bucket, i.e. the chart must
	// add a point rather than replace the last one.
	Appended bool

	// Finalized is the candle closed by this tick, nil when the tick stayed
	// inside the current bucket or started the very first candle.
	Finalized *model.Candle
}

// candleState holds the forming candle for one series.
type candleState struct {
	bucket    int64
	candle    model.Candle
	finalized int
}

// Aggregator keeps the forming candle of every active series.
type Aggregator struct {
	mu     sync.Mutex
	states map[model.SeriesKey]*candleState

	// subscriptions used by Run: instrument → timeframes
	subs map[string][]model.Timeframe

	// Metrics hooks (optional, set externally)
	OnDroppedTick func(reason string)
	OnFinalized   func(key model.SeriesKey, c model.Candle)
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		states: make(map[model.SeriesKey]*candleState),
		subs:   make(map[string][]model.Timeframe),
	}
}

// Process incorporates a tick into the series (tick.InstrumentKey, tf).
// It returns false when the tick was dropped: malformed ticks, ticks for
// week/month timeframes and ticks older than the forming bucket.
func (a *Aggregator) Process(tick model.Tick, tf model.Timeframe) (Update, bool) {
	if !tick.Valid() {
		log.Printf("[agg] dropping malformed tick key=%q price=%v ts=%d", tick.InstrumentKey, tick.LastPrice, tick.TradeTS)
		a.dropped(DropMalformed)
		return Update{}, false
	}
	if !tf.Live() {
		a.dropped(DropNotLive)
		return Update{}, false
	}

	key := model.SeriesKey{InstrumentKey: tick.InstrumentKey, Timeframe: tf}
	bucket := tf.BucketStart(tick.TradeTS)
	price := tick.LastPrice

	a.mu.Lock()
	state, exists := a.states[key]

	if exists && bucket < state.bucket {
		a.mu.Unlock()
		a.dropped(DropLate)
		return Update{}, false
	}

	if !exists || bucket != state.bucket {
		up := Update{Key: key, Appended: true}
		if exists {
			prev := state.candle
			up.Finalized = &prev
		} else {
			state = &candleState{}
			a.states[key] = state
		}
		state.bucket = bucket
		state.candle = model.Candle{Time: bucket, Open: price, High: price, Low: price, Close: price}
		if up.Finalized != nil {
			state.finalized++
		}
		up.Candle = state.candle
		onFinal := a.OnFinalized
		a.mu.Unlock()

		if up.Finalized != nil && onFinal != nil {
			onFinal(key, *up.Finalized)
		}
		return up, true
	}

	// Same bucket: update in place, open unchanged
	c := &state.candle
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	up := Update{Key: key, Candle: *c}
	a.mu.Unlock()
	return up, true
}

// Current returns the forming candle of a series.
func (a *Aggregator) Current(key model.SeriesKey) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[key]
	if !ok {
		return model.Candle{}, false
	}
	return st.candle, true
}

// FinalizedCount returns how many candles the series has closed since its
// last reset.
func (a *Aggregator) FinalizedCount(key model.SeriesKey) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.states[key]; ok {
		return st.finalized
	}
	return 0
}

// Reset discards the in-flight candle of a series. The next tick starts fresh.
func (a *Aggregator) Reset(key model.SeriesKey) {
	a.mu.Lock()
	delete(a.states, key)
	a.mu.Unlock()
}

// Seed makes c the forming candle of key, typically the last historical
// candle after a reload, so live ticks in the same bucket extend it.
func (a *Aggregator) Seed(key model.SeriesKey, c model.Candle) {
	if !key.Timeframe.Live() || !c.Valid() {
		return
	}
	a.mu.Lock()
	a.states[key] = &candleState{bucket: c.Time, candle: c}
	a.mu.Unlock()
}

// Subscribe registers a series for Run. Duplicate subscriptions are ignored.
func (a *Aggregator) Subscribe(key model.SeriesKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tf := range a.subs[key.InstrumentKey] {
		if tf == key.Timeframe {
			return
		}
	}
	a.subs[key.InstrumentKey] = append(a.subs[key.InstrumentKey], key.Timeframe)
}

// Unsubscribe removes a series from Run and discards its forming candle.
func (a *Aggregator) Unsubscribe(key model.SeriesKey) {
	a.mu.Lock()
	tfs := a.subs[key.InstrumentKey]
	for i, tf := range tfs {
		if tf == key.Timeframe {
			a.subs[key.InstrumentKey] = append(tfs[:i:i], tfs[i+1:]...)
			break
		}
	}
	if len(a.subs[key.InstrumentKey]) == 0 {
		delete(a.subs, key.InstrumentKey)
	}
	delete(a.states, key)
	a.mu.Unlock()
}

// Run consumes ticks and emits an Update for every subscribed series the
// tick touches. Blocks until ctx is cancelled or tickCh is closed.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, out chan<- Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			for _, tf := range a.timeframes(tick.InstrumentKey) {
				up, ok := a.Process(tick, tf)
				if !ok {
					continue
				}
				emit(out, up)
			}
		}
	}
}

func (a *Aggregator) timeframes(instrument string) []model.Timeframe {
	a.mu.Lock()
	defer a.mu.Unlock()
	tfs := a.subs[instrument]
	out := make([]model.Timeframe, len(tfs))
	copy(out, tfs)
	return out
}

func (a *Aggregator) dropped(reason string) {
	if a.OnDroppedTick != nil {
		a.OnDroppedTick(reason)
	}
}

// emit sends an update to out. Non-blocking to avoid stalling the feed.
func emit(out chan<- Update, up Update) {
	select {
	case out <- up:
	default:
		log.Printf("[agg] out channel full, dropping update %s ts=%d", up.Key, up.Candle.Time)
	}
}
