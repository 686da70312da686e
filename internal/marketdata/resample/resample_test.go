package resample

import (
	"testing"
	"time"

	"tradedash/internal/model"
)

func minuteCandle(base int64, i int, open, high, low, close float64) model.Candle {
	return model.Candle{Time: base + int64(i)*60, Open: open, High: high, Low: low, Close: close, Volume: 10}
}

func TestBuilder_MinutesTo15(t *testing.T) {
	base := time.Date(2024, 3, 12, 9, 15, 0, 0, time.UTC).Unix()
	b := New(model.TF15Minute)

	var finalized []model.Candle
	for i := 0; i < 16; i++ {
		p := 100 + float64(i)
		if done, ok := b.Add(minuteCandle(base, i, p, p+2, p-1, p+1)); ok {
			finalized = append(finalized, done)
		}
	}

	if len(finalized) != 1 {
		t.Fatalf("expected 1 finalized candle, got %d", len(finalized))
	}
	c := finalized[0]
	if c.Time != base {
		t.Errorf("expected bucket %d, got %d", base, c.Time)
	}
	if c.Open != 100 || c.High != 116 || c.Low != 99 || c.Close != 115 {
		t.Errorf("unexpected OHLC %+v", c)
	}
	if c.Volume != 150 {
		t.Errorf("expected volume=150, got %v", c.Volume)
	}

	forming, ok := b.Forming()
	if !ok || forming.Time != base+15*60 || forming.Open != 115 {
		t.Errorf("unexpected forming candle %+v", forming)
	}
}

func TestBuilder_SkipsOutOfOrder(t *testing.T) {
	base := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC).Unix()
	b := New(model.TF5Minute)
	stale := 0
	b.OnStaleCandle = func() { stale++ }

	b.Add(minuteCandle(base, 10, 1, 1, 1, 1))
	if _, ok := b.Add(minuteCandle(base, 0, 5, 5, 5, 5)); ok {
		t.Error("out-of-order candle must not finalize anything")
	}
	if stale != 1 {
		t.Errorf("expected 1 stale candle, got %d", stale)
	}
}

func TestCandles_DailyToWeekAndMonth(t *testing.T) {
	var days []model.Candle
	start := time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC) // Monday
	for i := 0; i < 14; i++ {
		d := start.AddDate(0, 0, i)
		p := float64(i + 1)
		days = append(days, model.Candle{Time: d.Unix(), Open: p, High: p, Low: p, Close: p})
	}

	weeks := Candles(days, model.TF1Week)
	if len(weeks) != 2 {
		t.Fatalf("expected 2 weekly candles, got %d", len(weeks))
	}
	if weeks[0].Open != 1 || weeks[0].Close != 7 || weeks[1].Open != 8 || weeks[1].Close != 14 {
		t.Errorf("unexpected weekly candles %+v", weeks)
	}

	months := Candles(days, model.TF1Month)
	if len(months) != 2 {
		t.Fatalf("expected Jan and Feb candles, got %d", len(months))
	}
	// Jan 29..31 → 3 days
	if months[0].Close != 3 || months[1].Open != 4 {
		t.Errorf("unexpected monthly candles %+v", months)
	}
}
