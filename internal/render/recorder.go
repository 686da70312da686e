package render

import (
	"sync"

	"tradedash/internal/model"
)

// RecordedSeries is the last full series set under a name.
type RecordedSeries struct {
	Kind   SeriesKind
	Color  string
	Points []model.Point
}

// Recorder is an in-memory Sink that mirrors what a chart would show.
// Used by tests and the one-shot HTTP endpoints.
type Recorder struct {
	mu       sync.Mutex
	candles  []model.Candle
	series   map[string]RecordedSeries
	order    []string
	markers  []model.Signal
	trades   []model.Trade
	metrics  model.Metrics
	statuses []string

	appends, upserts int
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{series: make(map[string]RecordedSeries)}
}

func (r *Recorder) SetCandles(candles []model.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candles = append([]model.Candle(nil), candles...)
}

func (r *Recorder) UpsertCandle(c model.Candle, appended bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.candles)
	if appended || n == 0 {
		r.candles = append(r.candles, c)
		r.appends++
		return
	}
	r.candles[n-1] = c
	r.upserts++
}

func (r *Recorder) SetSeries(name string, kind SeriesKind, color string, points []model.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.series[name]; !ok {
		r.order = append(r.order, name)
	}
	r.series[name] = RecordedSeries{Kind: kind, Color: color, Points: append([]model.Point(nil), points...)}
}

func (r *Recorder) UpsertPoint(name string, p model.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[name]
	if !ok {
		r.order = append(r.order, name)
	}
	if n := len(s.Points); n > 0 && s.Points[n-1].Time == p.Time {
		s.Points[n-1] = p
	} else {
		s.Points = append(s.Points, p)
	}
	r.series[name] = s
}

func (r *Recorder) SetMarkers(signals []model.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers = append([]model.Signal(nil), signals...)
}

func (r *Recorder) SetTrades(trades []model.Trade, metrics model.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append([]model.Trade(nil), trades...)
	r.metrics = metrics
}

func (r *Recorder) Status(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, msg)
}

// Candles returns a copy of the drawn candles.
func (r *Recorder) Candles() []model.Candle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Candle(nil), r.candles...)
}

// Series returns the series drawn under name.
func (r *Recorder) Series(name string) (RecordedSeries, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[name]
	return s, ok
}

// SeriesNames returns series names in the order first drawn.
func (r *Recorder) SeriesNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Markers returns the current markers.
func (r *Recorder) Markers() []model.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Signal(nil), r.markers...)
}

// Trades returns the trade list and metrics last set.
func (r *Recorder) Trades() ([]model.Trade, model.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Trade(nil), r.trades...), r.metrics
}

// Statuses returns every status message received.
func (r *Recorder) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

// Counts returns how many live candles were appended and updated in place.
func (r *Recorder) Counts() (appends, upserts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appends, r.upserts
}
