package model

import "time"

// EquityPoint is one sample of the portfolio value curve.
type EquityPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// SignalKind is the side of a strategy marker.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
)

// Signal is a buy or sell marker at a candle.
type Signal struct {
	Time  int64      `json:"time"`
	Price float64    `json:"price"`
	Kind  SignalKind `json:"kind"`
}

// Trade is a round trip built by pairing the i-th buy with the i-th sell.
type Trade struct {
	EntryTime  int64   `json:"entry_date" csv:"-"`
	ExitTime   int64   `json:"exit_date" csv:"-"`
	EntryDate  string  `json:"-" csv:"entry_date"`
	ExitDate   string  `json:"-" csv:"exit_date"`
	EntryPrice float64 `json:"entry_price" csv:"entry_price"`
	ExitPrice  float64 `json:"exit_price" csv:"exit_price"`
	ProfitPct  float64 `json:"profit_pct" csv:"profit_pct"`
}

// FillDates renders EntryTime/ExitTime into the RFC3339 string columns used
// by the CSV export.
func (t *Trade) FillDates() {
	t.EntryDate = time.Unix(t.EntryTime, 0).UTC().Format(time.RFC3339)
	t.ExitDate = time.Unix(t.ExitTime, 0).UTC().Format(time.RFC3339)
}

// Metrics summarises a list of trades. Profit fields are in percent units,
// WinRate is a fraction in [0,1].
type Metrics struct {
	TotalTrades int     `json:"total_trades"`
	WinRate     float64 `json:"win_rate"`
	AvgProfit   float64 `json:"avg_profit"`
	AvgLoss     float64 `json:"avg_loss"`
	MaxProfit   float64 `json:"max_profit"`
	MaxLoss     float64 `json:"max_loss"`
	NetProfit   float64 `json:"net_profit"`
	TotalReturn float64 `json:"total_return,omitempty"`
}
