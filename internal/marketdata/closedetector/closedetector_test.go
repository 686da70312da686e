package closedetector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/markethours"
	"tradedash/internal/model"
)

// 2026-03-10 is a Tuesday; 15:30 IST.
var closeTime = time.Date(2026, 3, 10, 15, 30, 0, 0, markethours.IST)

func TestDetector_PriceStabilization(t *testing.T) {
	d := New(closeTime)
	d.StableFor = 3 * time.Second

	if d.Observe(500, closeTime.Add(-time.Minute)) {
		t.Error("must not capture before close")
	}
	if d.Observe(501, closeTime.Add(time.Second)) {
		t.Error("must not capture while the price is changing")
	}
	if d.Observe(502, closeTime.Add(2*time.Second)) {
		t.Error("must not capture while the price is changing")
	}
	if d.Observe(502, closeTime.Add(3*time.Second)) {
		t.Error("only 1s stable")
	}
	if !d.Observe(502, closeTime.Add(5*time.Second)) {
		t.Error("expected capture after 3s stable")
	}
	assert.Equal(t, 502.0, d.ClosingPrice())

	if d.Observe(502, closeTime.Add(10*time.Second)) {
		t.Error("capture must be reported once")
	}
}

func TestDetector_HardDeadline(t *testing.T) {
	d := New(closeTime)
	d.MaxGrace = 2 * time.Minute

	if d.Observe(501, closeTime.Add(time.Minute)) {
		t.Error("must not capture before the deadline")
	}
	if !d.Observe(502.5, closeTime.Add(3*time.Minute)) {
		t.Error("expected capture past the deadline")
	}
	assert.Equal(t, 502.5, d.ClosingPrice())
}

func TestDetector_PriceChangeResetsStability(t *testing.T) {
	d := New(closeTime)
	d.StableFor = 2 * time.Second

	d.Observe(500, closeTime.Add(time.Second))
	d.Observe(500, closeTime.Add(2*time.Second))
	d.Observe(501, closeTime.Add(2500*time.Millisecond))

	if d.Observe(501, closeTime.Add(3*time.Second)) {
		t.Error("only 0.5s since the price change")
	}
	if !d.Observe(501, closeTime.Add(4500*time.Millisecond)) {
		t.Error("expected capture 2s after the price change")
	}
}

func TestTracker_PerInstrumentAndDay(t *testing.T) {
	tr := NewTracker()
	tr.StableFor = time.Second
	closes := map[string]float64{}
	tr.OnClose = func(instrument string, price float64) { closes[instrument] = price }

	tick := func(key string, p float64) model.Tick {
		return model.Tick{InstrumentKey: key, LastPrice: p, TradeTS: closeTime.Unix()}
	}

	tr.Observe(tick("A", 10), closeTime.Add(time.Second))
	tr.Observe(tick("B", 20), closeTime.Add(time.Second))
	tr.Observe(tick("A", 10), closeTime.Add(3*time.Second))
	tr.Observe(tick("B", 21), closeTime.Add(3*time.Second))

	require.Equal(t, map[string]float64{"A": 10}, closes)
	p, ok := tr.ClosingPrice("A")
	assert.True(t, ok)
	assert.Equal(t, 10.0, p)
	_, ok = tr.ClosingPrice("B")
	assert.False(t, ok)

	// next trading day starts a fresh detector
	nextDay := closeTime.AddDate(0, 0, 1)
	tr.Observe(tick("A", 11), nextDay.Add(-time.Hour))
	_, ok = tr.ClosingPrice("A")
	assert.False(t, ok)
}

func TestTracker_IgnoresWeekend(t *testing.T) {
	tr := NewTracker()
	tr.MaxGrace = time.Minute
	called := false
	tr.OnClose = func(string, float64) { called = true }

	sat := time.Date(2026, 3, 14, 16, 0, 0, 0, markethours.IST)
	tr.Observe(model.Tick{InstrumentKey: "A", LastPrice: 1, TradeTS: sat.Unix()}, sat)
	assert.False(t, called)
}
