package agg

import (
	"context"
	"math"
	"testing"
	"time"

	"tradedash/internal/model"
)

const instr = "NSE_EQ|INE002A01018"

func at(h, m, s int) int64 {
	return time.Date(2024, 3, 12, h, m, s, 0, time.UTC).Unix()
}

func tick(price float64, ts int64) model.Tick {
	return model.Tick{InstrumentKey: instr, LastPrice: price, TradeTS: ts}
}

func TestAggregator_BasicCandle(t *testing.T) {
	a := New()

	up, ok := a.Process(tick(100, at(10, 7, 1)), model.TF1Minute)
	if !ok || !up.Appended || up.Finalized != nil {
		t.Fatalf("first tick: ok=%v appended=%v finalized=%v", ok, up.Appended, up.Finalized)
	}
	a.Process(tick(105, at(10, 7, 20)), model.TF1Minute)
	up, _ = a.Process(tick(98, at(10, 7, 59)), model.TF1Minute)

	if up.Appended {
		t.Error("same-bucket tick must not append")
	}
	c := up.Candle
	if c.Open != 100 || c.High != 105 || c.Low != 98 || c.Close != 98 {
		t.Errorf("unexpected OHLC %+v", c)
	}
	if c.Time != at(10, 7, 0) {
		t.Errorf("expected bucket %d, got %d", at(10, 7, 0), c.Time)
	}
}

func TestAggregator_Rollover15m(t *testing.T) {
	a := New()

	first, _ := a.Process(tick(100, at(10, 7, 32)), model.TF15Minute)
	if first.Candle.Time != at(10, 0, 0) {
		t.Fatalf("expected 10:00 bucket, got %v", time.Unix(first.Candle.Time, 0).UTC())
	}

	second, _ := a.Process(tick(101, at(10, 16, 0)), model.TF15Minute)
	if !second.Appended {
		t.Fatal("tick in a new bucket must append")
	}
	if second.Candle.Time != at(10, 15, 0) {
		t.Errorf("expected 10:15 bucket, got %v", time.Unix(second.Candle.Time, 0).UTC())
	}
	if second.Finalized == nil || second.Finalized.Close != 100 || second.Finalized.Time != at(10, 0, 0) {
		t.Errorf("expected finalized 10:00 candle with close=100, got %+v", second.Finalized)
	}
}

func TestAggregator_SameBucketNeverAppends(t *testing.T) {
	a := New()
	seen := make(map[int64]int) // intervalStart → number of appends

	ts := at(9, 15, 0)
	for i := 0; i < 500; i++ {
		ts += 7 // crosses minute boundaries every ~9 ticks
		up, ok := a.Process(tick(100+float64(i%13), ts), model.TF1Minute)
		if !ok {
			t.Fatalf("tick %d dropped", i)
		}
		if up.Appended {
			seen[up.Candle.Time]++
		}
	}
	for start, n := range seen {
		if n != 1 {
			t.Errorf("bucket %d appended %d times", start, n)
		}
	}
}

func TestAggregator_NBoundariesNFinalized(t *testing.T) {
	a := New()
	key := model.SeriesKey{InstrumentKey: instr, Timeframe: model.TF5Minute}

	finalized := 0
	for m := 0; m < 60; m++ {
		up, _ := a.Process(tick(200, at(11, m, 30)), model.TF5Minute)
		if up.Finalized != nil {
			finalized++
		}
	}
	// 12 buckets touched → 11 boundaries crossed
	if finalized != 11 {
		t.Errorf("expected 11 finalized candles, got %d", finalized)
	}
	if got := a.FinalizedCount(key); got != 11 {
		t.Errorf("FinalizedCount=%d, want 11", got)
	}
	if _, ok := a.Current(key); !ok {
		t.Error("expected one forming candle")
	}
}

func TestAggregator_DropsMalformedLateAndNotLive(t *testing.T) {
	a := New()
	reasons := map[string]int{}
	a.OnDroppedTick = func(r string) { reasons[r]++ }

	a.Process(tick(100, at(10, 5, 0)), model.TF1Minute)

	if _, ok := a.Process(tick(math.NaN(), at(10, 5, 1)), model.TF1Minute); ok {
		t.Error("NaN price must be dropped")
	}
	if _, ok := a.Process(model.Tick{InstrumentKey: instr, LastPrice: 10}, model.TF1Minute); ok {
		t.Error("missing timestamp must be dropped")
	}
	if _, ok := a.Process(tick(99, at(10, 3, 0)), model.TF1Minute); ok {
		t.Error("late tick must be dropped")
	}
	if _, ok := a.Process(tick(99, at(10, 6, 0)), model.TF1Week); ok {
		t.Error("week timeframe must not aggregate live")
	}

	if reasons[DropMalformed] != 2 || reasons[DropLate] != 1 || reasons[DropNotLive] != 1 {
		t.Errorf("unexpected drop counts: %v", reasons)
	}

	c, _ := a.Current(model.SeriesKey{InstrumentKey: instr, Timeframe: model.TF1Minute})
	if c.Close != 100 || c.Low != 100 {
		t.Errorf("dropped ticks must not mutate the candle: %+v", c)
	}
}

func TestAggregator_ResetDiscardsState(t *testing.T) {
	a := New()
	key := model.SeriesKey{InstrumentKey: instr, Timeframe: model.TF1Minute}

	a.Process(tick(100, at(10, 0, 0)), model.TF1Minute)
	a.Reset(key)
	if _, ok := a.Current(key); ok {
		t.Fatal("expected no forming candle after reset")
	}

	up, _ := a.Process(tick(120, at(10, 0, 30)), model.TF1Minute)
	if !up.Appended || up.Finalized != nil || up.Candle.Open != 120 {
		t.Errorf("expected fresh candle after reset, got %+v", up)
	}
}

func TestAggregator_SeedExtendsHistoricalCandle(t *testing.T) {
	a := New()
	key := model.SeriesKey{InstrumentKey: instr, Timeframe: model.TF1Hour}
	a.Seed(key, model.Candle{Time: at(10, 0, 0), Open: 50, High: 55, Low: 49, Close: 52})

	up, _ := a.Process(tick(60, at(10, 40, 0)), model.TF1Hour)
	if up.Appended {
		t.Error("tick inside the seeded bucket must upsert")
	}
	if up.Candle.Open != 50 || up.Candle.High != 60 || up.Candle.Close != 60 {
		t.Errorf("unexpected candle %+v", up.Candle)
	}
}

func TestAggregator_RunSubscriptions(t *testing.T) {
	a := New()
	a.Subscribe(model.SeriesKey{InstrumentKey: instr, Timeframe: model.TF1Minute})
	a.Subscribe(model.SeriesKey{InstrumentKey: instr, Timeframe: model.TF5Minute})
	a.Subscribe(model.SeriesKey{InstrumentKey: instr, Timeframe: model.TF5Minute})

	tickCh := make(chan model.Tick, 10)
	out := make(chan Update, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		a.Run(ctx, tickCh, out)
		close(done)
	}()

	tickCh <- tick(100, at(10, 0, 10))
	tickCh <- tick(101, at(10, 1, 10))
	tickCh <- model.Tick{InstrumentKey: "OTHER", LastPrice: 5, TradeTS: at(10, 1, 10)}
	close(tickCh)
	<-done

	var ups []Update
	for len(out) > 0 {
		ups = append(ups, <-out)
	}
	// 2 ticks x 2 subscribed timeframes; the unsubscribed instrument is ignored
	if len(ups) != 4 {
		t.Fatalf("expected 4 updates, got %d", len(ups))
	}
	finals := 0
	for _, u := range ups {
		if u.Finalized != nil {
			finals++
			if u.Key.Timeframe != model.TF1Minute {
				t.Errorf("only the 1minute series should roll over, got %s", u.Key)
			}
		}
	}
	if finals != 1 {
		t.Errorf("expected 1 finalized candle, got %d", finals)
	}

	a.Unsubscribe(model.SeriesKey{InstrumentKey: instr, Timeframe: model.TF1Minute})
	if tfs := a.timeframes(instr); len(tfs) != 1 || tfs[0] != model.TF5Minute {
		t.Errorf("unexpected subscriptions after unsubscribe: %v", tfs)
	}
}
