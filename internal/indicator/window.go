package indicator

import (
	"tradedash/internal/model"
	"tradedash/internal/ringbuf"
)

// SMA is the arithmetic mean of the last period values, kept as a running
// sum over a ring window.
type SMA struct {
	window  *ringbuf.Ring[float64]
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{window: ringbuf.New[float64](period)}
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) Update(candle model.Candle) { s.Add(candle.Close) }

func (s *SMA) Add(v float64) {
	if old, evicted := s.window.Push(v); evicted {
		s.sum -= old
	}
	s.sum += v
	if s.Ready() {
		s.current = s.sum / float64(s.window.Cap())
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.window.Len() == s.window.Cap() }

// Peek returns the mean with v appended. Before the window is full it is
// the partial mean.
func (s *SMA) Peek(v float64) float64 {
	if !s.Ready() {
		return (s.sum + v) / float64(s.window.Len()+1)
	}
	return (s.sum - s.window.At(0) + v) / float64(s.window.Cap())
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.window.Reset()
	s.sum, s.current = 0, 0
}

// WMA is the linearly weighted mean of the last period values. The newest
// value has weight period, the oldest weight 1; the divisor is
// period*(period+1)/2.
type WMA struct {
	window  *ringbuf.Ring[float64]
	denom   float64
	current float64
}

// NewWMA creates a new WMA indicator with the given period.
func NewWMA(period int) *WMA {
	w := &WMA{window: ringbuf.New[float64](period)}
	n := w.window.Cap()
	w.denom = float64(n*(n+1)) / 2
	return w
}

func (w *WMA) Name() string { return "WMA" }

func (w *WMA) Update(candle model.Candle) { w.Add(candle.Close) }

func (w *WMA) Add(v float64) {
	w.window.Push(v)
	if w.Ready() {
		w.current = w.weighted(0, v, false)
	}
}

func (w *WMA) Value() float64 { return w.current }
func (w *WMA) Ready() bool    { return w.window.Len() == w.window.Cap() }

// Peek returns the WMA with v appended. While the window would still be
// short it returns v.
func (w *WMA) Peek(v float64) float64 {
	n := w.window.Len()
	if n+1 < w.window.Cap() {
		return v
	}
	skip := 0
	if w.Ready() {
		skip = 1
	}
	return w.weighted(skip, v, true)
}

// weighted sums the window from index skip with weights 1, 2, …, then v
// with the next weight when extra is set.
func (w *WMA) weighted(skip int, v float64, extra bool) float64 {
	total, weight := 0.0, 1.0
	for i := skip; i < w.window.Len(); i++ {
		total += w.window.At(i) * weight
		weight++
	}
	if extra {
		total += v * weight
	}
	return total / w.denom
}

// Reset clears the WMA state for reuse.
func (w *WMA) Reset() {
	w.window.Reset()
	w.current = 0
}
