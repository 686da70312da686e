package render

import (
	"encoding/json"
	"log"
	"sync/atomic"

	"tradedash/internal/model"
)

// Message types carried in Envelope.Type.
const (
	MsgCandles = "candles"
	MsgCandle  = "candle"
	MsgSeries  = "series"
	MsgPoint   = "point"
	MsgMarkers = "markers"
	MsgTrades  = "trades"
	MsgStatus  = "status"
)

// Envelope is the JSON frame written to browser clients and the pub/sub
// channel. Fields not relevant to a message type are omitted.
type Envelope struct {
	Type     string      `json:"type"`
	Session  string      `json:"session,omitempty"`
	Seq      int64       `json:"seq,omitempty"`
	Name     string      `json:"name,omitempty"`
	Kind     SeriesKind  `json:"kind,omitempty"`
	Color    string      `json:"color,omitempty"`
	Appended bool        `json:"appended,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

type tradesPayload struct {
	Trades  []model.Trade `json:"trades"`
	Metrics model.Metrics `json:"metrics"`
}

// JSONSink encodes every call as an Envelope and hands the bytes to send.
// The gateway client and the Redis publisher are built on it.
type JSONSink struct {
	session string
	seq     atomic.Int64
	send    func(seq int64, msg []byte)
}

// NewJSONSink creates a sink tagging envelopes with session.
func NewJSONSink(session string, send func(msg []byte)) *JSONSink {
	return NewSequencedSink(session, func(_ int64, msg []byte) { send(msg) })
}

// NewSequencedSink is NewJSONSink for receivers that track the per-session
// sequence number, e.g. to serve gap backfill.
func NewSequencedSink(session string, send func(seq int64, msg []byte)) *JSONSink {
	return &JSONSink{session: session, send: send}
}

func (j *JSONSink) emit(e Envelope) {
	e.Session = j.session
	e.Seq = j.seq.Add(1)
	b, err := json.Marshal(e)
	if err != nil {
		log.Printf("[render] encode %s: %v", e.Type, err)
		return
	}
	j.send(e.Seq, b)
}

func (j *JSONSink) SetCandles(candles []model.Candle) {
	if candles == nil {
		candles = []model.Candle{}
	}
	j.emit(Envelope{Type: MsgCandles, Data: candles})
}

func (j *JSONSink) UpsertCandle(c model.Candle, appended bool) {
	j.emit(Envelope{Type: MsgCandle, Appended: appended, Data: c})
}

func (j *JSONSink) SetSeries(name string, kind SeriesKind, color string, points []model.Point) {
	if points == nil {
		points = []model.Point{}
	}
	j.emit(Envelope{Type: MsgSeries, Name: name, Kind: kind, Color: color, Data: points})
}

func (j *JSONSink) UpsertPoint(name string, p model.Point) {
	j.emit(Envelope{Type: MsgPoint, Name: name, Data: p})
}

func (j *JSONSink) SetMarkers(signals []model.Signal) {
	if signals == nil {
		signals = []model.Signal{}
	}
	j.emit(Envelope{Type: MsgMarkers, Data: signals})
}

func (j *JSONSink) SetTrades(trades []model.Trade, metrics model.Metrics) {
	if trades == nil {
		trades = []model.Trade{}
	}
	j.emit(Envelope{Type: MsgTrades, Data: tradesPayload{Trades: trades, Metrics: metrics}})
}

func (j *JSONSink) Status(msg string) {
	j.emit(Envelope{Type: MsgStatus, Data: msg})
}
