package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"tradedash/internal/model"
)

// decodeAny decodes raw JSON keeping numbers as json.Number.
func decodeAny(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// envelope checks the {success, message, data} wrapper. Bodies without a
// success field are accepted as-is.
func envelope(v interface{}) (data interface{}, obj map[string]interface{}, err error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return v, nil, nil
	}
	if s, ok := obj["success"].(bool); ok && !s {
		msg, _ := obj["message"].(string)
		if msg == "" {
			msg, _ = obj["error"].(string)
		}
		return nil, obj, &APIError{Message: msg}
	}
	if msg, ok := obj["error"].(string); ok && msg != "" {
		return nil, obj, &APIError{Message: msg}
	}
	return obj["data"], obj, nil
}

// candleRows locates the candle array inside a data payload:
// data itself, data.candles (legacy) or data.data.
func candleRows(data interface{}) ([]interface{}, bool) {
	switch t := data.(type) {
	case []interface{}:
		return t, true
	case map[string]interface{}:
		for _, key := range []string{"candles", "data"} {
			if arr, ok := t[key].([]interface{}); ok {
				return arr, true
			}
		}
	}
	return nil, false
}

// DecodeCandles converts candle rows. Array rows are
// [timestamp, open, high, low, close, volume?]; object rows carry
// timestamp|time|date plus open/high/low/close/volume. Rows that cannot be
// read are skipped and counted.
func DecodeCandles(rows []interface{}) (candles []model.Candle, skipped int) {
	candles = make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		c, ok := decodeCandle(row)
		if !ok {
			skipped++
			continue
		}
		candles = append(candles, c)
	}
	if skipped > 0 {
		log.Printf("[upstream] skipped %d malformed candle rows", skipped)
	}
	return candles, skipped
}

func decodeCandle(row interface{}) (model.Candle, bool) {
	var c model.Candle
	switch t := row.(type) {
	case []interface{}:
		if len(t) < 5 {
			return c, false
		}
		ts, ok := model.ParseTimestamp(t[0])
		if !ok {
			return c, false
		}
		c.Time = ts
		fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close}
		for i, f := range fields {
			v, ok := model.ParseNumber(t[i+1])
			if !ok {
				return c, false
			}
			*f = v
		}
		if len(t) > 5 {
			c.Volume, _ = model.ParseNumber(t[5])
		}
	case map[string]interface{}:
		ts, ok := recordTime(t)
		if !ok {
			return c, false
		}
		c.Time = ts
		for key, f := range map[string]*float64{"open": &c.Open, "high": &c.High, "low": &c.Low, "close": &c.Close} {
			v, ok := model.ParseNumber(t[key])
			if !ok {
				return c, false
			}
			*f = v
		}
		c.Volume, _ = model.ParseNumber(t["volume"])
	default:
		return c, false
	}
	return c, c.Valid()
}

func recordTime(obj map[string]interface{}) (int64, bool) {
	for _, key := range []string{"timestamp", "time", "date"} {
		if ts, ok := model.ParseTimestamp(obj[key]); ok {
			return ts, true
		}
	}
	return 0, false
}

// decodePositions reads per-candle 0/1 flags from an explicit "positions"
// array or, failing that, from the "signal" column of object candle rows.
// Flags of rows that DecodeCandles skips are dropped too, so the result pairs
// index-for-index with the decoded candles. An explicit array whose length
// differs from the row count cannot be paired and is discarded.
func decodePositions(data map[string]interface{}, rows []interface{}) []int {
	if arr, ok := data["positions"].([]interface{}); ok {
		if len(arr) != len(rows) {
			log.Printf("[upstream] discarding %d positions for %d candle rows", len(arr), len(rows))
			return nil
		}
		out := make([]int, 0, len(arr))
		for i, v := range arr {
			if _, ok := decodeCandle(rows[i]); !ok {
				continue
			}
			f, _ := model.ParseNumber(v)
			out = append(out, int(f))
		}
		return out
	}
	out := make([]int, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]interface{})
		if !ok {
			return nil
		}
		if _, ok := decodeCandle(obj); !ok {
			continue
		}
		f, ok := model.ParseNumber(obj["signal"])
		if !ok {
			return nil
		}
		out = append(out, int(f))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// decodeSignals accepts {"buy":[…],"sell":[…]} or a flat list of
// {time|timestamp, price, type|kind|side}.
func decodeSignals(v interface{}) (buys, sells []model.Signal) {
	switch t := v.(type) {
	case map[string]interface{}:
		buys = signalList(t["buy"], model.SignalBuy)
		sells = signalList(t["sell"], model.SignalSell)
	case []interface{}:
		for _, item := range t {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			kind := ""
			for _, key := range []string{"type", "kind", "side"} {
				if s, ok := obj[key].(string); ok {
					kind = s
					break
				}
			}
			switch model.SignalKind(strings.ToUpper(kind)) {
			case model.SignalBuy:
				buys = append(buys, signalList([]interface{}{obj}, model.SignalBuy)...)
			case model.SignalSell:
				sells = append(sells, signalList([]interface{}{obj}, model.SignalSell)...)
			}
		}
	}
	return buys, sells
}

func signalList(v interface{}, kind model.SignalKind) []model.Signal {
	arr, _ := v.([]interface{})
	out := make([]model.Signal, 0, len(arr))
	for _, item := range arr {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		ts, ok := recordTime(obj)
		if !ok {
			continue
		}
		price, ok := model.ParseNumber(obj["price"])
		if !ok {
			continue
		}
		out = append(out, model.Signal{Time: ts, Price: price, Kind: kind})
	}
	return out
}

// decodeIndicators converts {"name": [{timestamp, name|value}, …]} into
// named series, sorted by name for stable output.
func decodeIndicators(v interface{}) []model.IndicatorSeries {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]model.IndicatorSeries, 0, len(names))
	for _, name := range names {
		arr, ok := obj[name].([]interface{})
		if !ok {
			continue
		}
		s := model.IndicatorSeries{Name: name}
		for _, item := range arr {
			rec, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			ts, ok := recordTime(rec)
			if !ok {
				continue
			}
			val, ok := model.ParseNumber(rec[name])
			if !ok {
				val, ok = model.ParseNumber(rec["value"])
			}
			if !ok {
				continue
			}
			s.Points = append(s.Points, model.Point{Time: ts, Value: model.Float(val)})
		}
		out = append(out, s)
	}
	return out
}

// decodeMetrics reads the metrics object. Trades listed there are returned
// too, since the backtest service reports its own trade log.
func decodeMetrics(v interface{}) (m model.Metrics, totalReturn *float64, trades []model.Trade) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return m, nil, nil
	}
	num := func(key string) float64 {
		f, _ := model.ParseNumber(obj[key])
		return f
	}
	m.TotalTrades = int(num("total_trades"))
	m.WinRate = num("win_rate")
	m.AvgProfit = num("avg_profit")
	m.AvgLoss = num("avg_loss")
	m.MaxProfit = num("max_profit")
	m.MaxLoss = num("max_loss")
	m.NetProfit = num("net_profit")
	if tr, ok := model.ParseNumber(obj["total_return"]); ok {
		m.TotalReturn = tr
		totalReturn = &tr
	}

	arr, _ := obj["trades"].([]interface{})
	for _, item := range arr {
		rec, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entry, ok1 := model.ParseTimestamp(rec["entry_date"])
		exit, ok2 := model.ParseTimestamp(rec["exit_date"])
		ep, ok3 := model.ParseNumber(rec["entry_price"])
		xp, ok4 := model.ParseNumber(rec["exit_price"])
		if !(ok1 && ok2 && ok3 && ok4) {
			continue
		}
		t := model.Trade{EntryTime: entry, ExitTime: exit, EntryPrice: ep, ExitPrice: xp}
		if pct, ok := model.ParseNumber(rec["profit_pct"]); ok {
			t.ProfitPct = pct
		} else if ep != 0 {
			t.ProfitPct = (xp/ep - 1) * 100
		}
		t.FillDates()
		trades = append(trades, t)
	}
	return m, totalReturn, trades
}

// APIError is an upstream-reported failure ({"success": false, "message": …})
// or a non-2xx HTTP status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream: status %d: %s", e.Status, e.Message)
	}
	return "upstream: " + e.Message
}
