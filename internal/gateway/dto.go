package gateway

import (
	"time"

	"tradedash/internal/indicator"
	"tradedash/internal/marketdata/bus"
	"tradedash/internal/markethours"
	"tradedash/internal/model"
	"tradedash/internal/upstream"
)

// Client → server WebSocket message types.
const (
	TypeSubscribe   = "SUBSCRIBE"
	TypeUnsubscribe = "UNSUBSCRIBE"
	TypeBacktest    = "BACKTEST"
)

// SubscribeMsg switches the client's chart to a series.
type SubscribeMsg struct {
	Type       string   `json:"type"`
	ReqID      string   `json:"reqId"`
	Symbol     string   `json:"symbol"`
	TF         string   `json:"tf"`
	Indicators []string `json:"indicators"` // e.g. "EMA:20", "RSI:14"; nil means server defaults
}

// BacktestMsg runs a backtest and draws it on the client's chart.
type BacktestMsg struct {
	Type    string                   `json:"type"`
	ReqID   string                   `json:"reqId"`
	Request upstream.BacktestRequest `json:"request"`
}

// ErrorResponse is sent to a client whose request failed.
type ErrorResponse struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// AckResponse confirms a request once its envelopes have been queued.
type AckResponse struct {
	Type    string `json:"type"` // "ACK"
	ReqID   string `json:"reqId,omitempty"`
	Session string `json:"session"`
}

// ChartQuery is the query string of GET /api/chart.
type ChartQuery struct {
	Symbol     string `schema:"symbol,required"`
	Interval   string `schema:"interval"`
	Indicators string `schema:"indicators"` // comma-separated specs
}

// ChartResponse is the body of GET /api/chart.
type ChartResponse struct {
	Symbol     string                  `json:"symbol"`
	Interval   model.Timeframe         `json:"interval"`
	Candles    []model.Candle          `json:"candles"`
	Indicators []model.IndicatorSeries `json:"indicators"`

	// Skipped lists indicator specs that could not be parsed.
	Skipped        []string `json:"skipped,omitempty"`
	SkippedCandles int      `json:"skipped_candles,omitempty"`
}

// BacktestQuery is the query string of GET /api/backtest/trades.csv.
// Strategy parameters ride along as extra query keys.
type BacktestQuery struct {
	InstrumentKey  string  `schema:"instrument_key,required"`
	Strategy       string  `schema:"strategy,required"`
	StartDate      string  `schema:"start_date"`
	EndDate        string  `schema:"end_date"`
	InitialCapital float64 `schema:"initial_capital"`
}

// MissedQuery is the query string of GET /api/missed.
type MissedQuery struct {
	Session string `schema:"session,required"`
	From    int64  `schema:"from,required"`
	To      int64  `schema:"to"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Feed        string             `json:"feed"`
	LastTick    *time.Time         `json:"lastTick,omitempty"`
	Market      markethours.Status `json:"market"`
	Clients     int                `json:"clients"`
	Sessions    int                `json:"sessions"`
	Instruments []string           `json:"instruments"`
	Indicators  []string           `json:"defaultIndicators"`
	Backtest    string             `json:"backtestMode"`
	Latency     LatencySummary     `json:"latency"`
	Pipeline    []bus.ChannelStat  `json:"pipeline,omitempty"`
	System      SystemStats        `json:"system"`
}

// LatencySummary reports API handler latency percentiles in milliseconds.
type LatencySummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

func specNames(specs []indicator.Spec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name()
	}
	return out
}
