// Package closedetector detects the closing price of each instrument by
// watching post-close ticks. Once the price stops changing for StableFor,
// or MaxGrace after the close has passed, the last price is the close.
package closedetector

import (
	"log"
	"sync"
	"time"

	"tradedash/internal/markethours"
	"tradedash/internal/model"
)

// Detector tracks one instrument for one trading day.
type Detector struct {
	lastPrice   float64
	stableSince time.Time
	closeTime   time.Time
	captured    bool

	// StableFor is how long the price must remain constant to be considered
	// the closing price. Default: 30 seconds.
	StableFor time.Duration

	// MaxGrace is the hard deadline after closeTime. Default: 5 minutes.
	MaxGrace time.Duration
}

// New creates a Detector for the given close time.
func New(closeTime time.Time) *Detector {
	return &Detector{
		closeTime: closeTime,
		StableFor: 30 * time.Second,
		MaxGrace:  5 * time.Minute,
	}
}

// IsPostClose returns true if now is after the market close time.
func (d *Detector) IsPostClose(now time.Time) bool {
	return now.After(d.closeTime)
}

// Observe records a tick price and returns true exactly once, when the
// closing price is captured.
func (d *Detector) Observe(price float64, now time.Time) bool {
	if d.captured {
		return false
	}
	if !d.IsPostClose(now) {
		d.lastPrice = price
		return false
	}
	if now.After(d.closeTime.Add(d.MaxGrace)) {
		d.lastPrice = price
		d.captured = true
		return true
	}

	if price != d.lastPrice || d.stableSince.IsZero() {
		d.lastPrice = price
		d.stableSince = now
		return false
	}
	if now.Sub(d.stableSince) >= d.StableFor {
		d.captured = true
		return true
	}
	return false
}

// ClosingPrice returns the last observed price.
func (d *Detector) ClosingPrice() float64 {
	return d.lastPrice
}

// Captured reports whether the closing price has been determined.
func (d *Detector) Captured() bool {
	return d.captured
}

// Tracker runs one Detector per instrument, renewed every trading day.
type Tracker struct {
	mu        sync.Mutex
	detectors map[string]*Detector

	StableFor time.Duration
	MaxGrace  time.Duration

	// OnClose is called once per instrument and day (optional).
	OnClose func(instrument string, price float64)
}

// NewTracker creates a Tracker with the Detector defaults.
func NewTracker() *Tracker {
	return &Tracker{
		detectors: make(map[string]*Detector),
		StableFor: 30 * time.Second,
		MaxGrace:  5 * time.Minute,
	}
}

// Observe feeds a tick seen at wall time now. Ticks on non-trading days
// are ignored.
func (t *Tracker) Observe(tick model.Tick, now time.Time) {
	if !tick.Valid() || !markethours.IsTradingDay(now) {
		return
	}
	closeTime := markethours.TodayClose(now)

	t.mu.Lock()
	d, ok := t.detectors[tick.InstrumentKey]
	if !ok || !d.closeTime.Equal(closeTime) {
		d = New(closeTime)
		d.StableFor, d.MaxGrace = t.StableFor, t.MaxGrace
		t.detectors[tick.InstrumentKey] = d
	}
	done := d.Observe(tick.LastPrice, now)
	price := d.ClosingPrice()
	onClose := t.OnClose
	t.mu.Unlock()

	if done {
		log.Printf("[closedetector] %s closing price %.2f captured", tick.InstrumentKey, price)
		if onClose != nil {
			onClose(tick.InstrumentKey, price)
		}
	}
}

// ClosingPrice returns today's captured closing price of an instrument.
func (t *Tracker) ClosingPrice(instrument string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.detectors[instrument]
	if !ok || !d.captured {
		return 0, false
	}
	return d.lastPrice, true
}
