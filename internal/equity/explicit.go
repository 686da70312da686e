package equity

import (
	"bytes"
	"encoding/json"
	"log"

	"tradedash/internal/model"
)

// Explicit normalises an explicit equity payload. Accepted shapes:
//
//	[1000, 1010.5, ...]
//	[{"portfolio_value": 1000, "timestamp": "..."}, {"value": 1010}, ...]
//	{"values": [...]} or {"portfolio": [...]}
//
// Entries without a timestamp take the time of the candle at the same index;
// entries past the end of the candle array are dropped. Order is preserved.
func Explicit(raw json.RawMessage, candles []model.Candle) []model.EquityPoint {
	items, ok := unwrap(raw)
	if !ok {
		return nil
	}

	out := make([]model.EquityPoint, 0, len(items))
	skipped := 0
	for i, item := range items {
		value, ts, hasTS := entry(item)
		if value == nil {
			skipped++
			continue
		}
		if !hasTS {
			if i >= len(candles) {
				skipped += len(items) - i
				break
			}
			ts = candles[i].Time
		}
		out = append(out, model.EquityPoint{Time: ts, Value: *value})
	}
	if skipped > 0 {
		log.Printf("[equity] skipped %d explicit equity entries", skipped)
	}
	return out
}

func unwrap(raw json.RawMessage) ([]interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		log.Printf("[equity] undecodable equity payload: %v", err)
		return nil, false
	}
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case map[string]interface{}:
		for _, key := range []string{"values", "portfolio"} {
			if arr, ok := t[key].([]interface{}); ok {
				return arr, true
			}
		}
	}
	return nil, false
}

func entry(item interface{}) (value *float64, ts int64, hasTS bool) {
	if obj, ok := item.(map[string]interface{}); ok {
		for _, key := range []string{"portfolio_value", "value"} {
			if f, ok := model.ParseNumber(obj[key]); ok {
				value = &f
				break
			}
		}
		for _, key := range []string{"time", "timestamp", "date"} {
			if t, ok := model.ParseTimestamp(obj[key]); ok {
				return value, t, true
			}
		}
		return value, 0, false
	}
	if f, ok := model.ParseNumber(item); ok {
		return &f, 0, false
	}
	return nil, 0, false
}
