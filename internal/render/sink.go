// Package render defines the chart sink that sessions draw into, plus the
// adapters behind it. Sinks only receive; they never call back into the
// session.
package render

import (
	"strings"

	"tradedash/internal/model"
)

// SeriesKind tells the chart how to draw a line series.
type SeriesKind string

const (
	KindLine       SeriesKind = "line"
	KindBand       SeriesKind = "band"
	KindOscillator SeriesKind = "oscillator"
	KindEquity     SeriesKind = "equity"
)

// Sink is a chart surface. Full-series setters replace what is drawn;
// UpsertCandle and UpsertPoint replace the last point when appended is false
// and add a new one otherwise.
type Sink interface {
	SetCandles(candles []model.Candle)
	UpsertCandle(c model.Candle, appended bool)
	SetSeries(name string, kind SeriesKind, color string, points []model.Point)
	UpsertPoint(name string, p model.Point)
	SetMarkers(signals []model.Signal)
	SetTrades(trades []model.Trade, metrics model.Metrics)
	Status(msg string)
}

// KindFor picks the drawing kind from an indicator series name.
func KindFor(name string) SeriesKind {
	switch {
	case strings.HasSuffix(name, "_BB_UPPER"), strings.HasSuffix(name, "_BB_LOWER"):
		return KindBand
	case strings.HasPrefix(strings.ToUpper(name), "RSI"):
		return KindOscillator
	}
	return KindLine
}

// Multi fans every call out to several sinks in order.
type Multi []Sink

func (m Multi) SetCandles(candles []model.Candle) {
	for _, s := range m {
		s.SetCandles(candles)
	}
}

func (m Multi) UpsertCandle(c model.Candle, appended bool) {
	for _, s := range m {
		s.UpsertCandle(c, appended)
	}
}

func (m Multi) SetSeries(name string, kind SeriesKind, color string, points []model.Point) {
	for _, s := range m {
		s.SetSeries(name, kind, color, points)
	}
}

func (m Multi) UpsertPoint(name string, p model.Point) {
	for _, s := range m {
		s.UpsertPoint(name, p)
	}
}

func (m Multi) SetMarkers(signals []model.Signal) {
	for _, s := range m {
		s.SetMarkers(signals)
	}
}

func (m Multi) SetTrades(trades []model.Trade, metrics model.Metrics) {
	for _, s := range m {
		s.SetTrades(trades, metrics)
	}
}

func (m Multi) Status(msg string) {
	for _, s := range m {
		s.Status(msg)
	}
}
