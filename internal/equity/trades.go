package equity

import (
	"log"
	"math"

	"tradedash/internal/model"
)

// SignalsFromPositions emits a BUY at every 0→1 transition and a SELL at
// every 1→0 transition, priced at the candle close.
func SignalsFromPositions(candles []model.Candle, flags []int) (buys, sells []model.Signal) {
	prev := 0
	for i := 0; i < len(candles) && i < len(flags); i++ {
		cur := flag(flags[i])
		c := candles[i]
		switch {
		case prev == 0 && cur == 1:
			buys = append(buys, model.Signal{Time: c.Time, Price: c.Close, Kind: model.SignalBuy})
		case prev == 1 && cur == 0:
			sells = append(sells, model.Signal{Time: c.Time, Price: c.Close, Kind: model.SignalSell})
		}
		prev = cur
	}
	return buys, sells
}

// AlignPositions moves flags that pair index-for-index with from onto the
// candles of to, matching by time. A time listed twice in from keeps its
// first flag; a candle of to without a match holds the previous flag.
func AlignPositions(from []model.Candle, flags []int, to []model.Candle) []int {
	byTime := make(map[int64]int, len(from))
	for i := 0; i < len(from) && i < len(flags); i++ {
		if _, dup := byTime[from[i].Time]; !dup {
			byTime[from[i].Time] = flag(flags[i])
		}
	}
	out := make([]int, len(to))
	pos := 0
	for i, c := range to {
		if f, ok := byTime[c.Time]; ok {
			pos = f
		}
		out[i] = pos
	}
	return out
}

// PositionsFromSignals derives per-candle flags from signal markers. A buy at
// a candle's time opens a position when flat, a sell closes it when long;
// redundant signals are ignored.
func PositionsFromSignals(candles []model.Candle, buys, sells []model.Signal) []int {
	buyAt := make(map[int64]bool, len(buys))
	for _, s := range buys {
		buyAt[s.Time] = true
	}
	sellAt := make(map[int64]bool, len(sells))
	for _, s := range sells {
		sellAt[s.Time] = true
	}

	flags := make([]int, len(candles))
	pos := 0
	for i, c := range candles {
		switch {
		case pos == 0 && buyAt[c.Time]:
			pos = 1
		case pos == 1 && sellAt[c.Time]:
			pos = 0
		}
		flags[i] = pos
	}
	return flags
}

// PairTrades pairs the i-th buy with the i-th sell. The unmatched tail of the
// longer list is discarded.
func PairTrades(buys, sells []model.Signal) []model.Trade {
	n := len(buys)
	if len(sells) < n {
		n = len(sells)
	}
	trades := make([]model.Trade, 0, n)
	for i := 0; i < n; i++ {
		b, s := buys[i], sells[i]
		if b.Price == 0 {
			log.Printf("[equity] skipping trade %d with zero entry price", i)
			continue
		}
		t := model.Trade{
			EntryTime:  b.Time,
			ExitTime:   s.Time,
			EntryPrice: b.Price,
			ExitPrice:  s.Price,
			ProfitPct:  (s.Price/b.Price - 1) * 100,
		}
		t.FillDates()
		trades = append(trades, t)
	}
	return trades
}

// ComputeMetrics summarises trades. A trade with zero profit counts as a loss.
func ComputeMetrics(trades []model.Trade) model.Metrics {
	m := model.Metrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	m.MaxProfit, m.MaxLoss = math.Inf(-1), math.Inf(1)
	var wins, losses int
	var sumWin, sumLoss float64
	for _, t := range trades {
		p := t.ProfitPct
		m.NetProfit += p
		if p > 0 {
			wins++
			sumWin += p
		} else {
			losses++
			sumLoss += p
		}
		m.MaxProfit = math.Max(m.MaxProfit, p)
		m.MaxLoss = math.Min(m.MaxLoss, p)
	}
	m.WinRate = float64(wins) / float64(len(trades))
	if wins > 0 {
		m.AvgProfit = sumWin / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = sumLoss / float64(losses)
	}
	return m
}
