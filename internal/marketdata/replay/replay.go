// Package replay turns captured candles back into a tick stream, so the
// demo feed can play a recorded session instead of a random walk.
package replay

import (
	"context"
	"log"
	"time"

	"tradedash/internal/model"
)

// CandleReader reads the candles of a series after a timestamp. The SQLite
// store implements it.
type CandleReader interface {
	ReadCandles(ctx context.Context, key model.SeriesKey, after int64) ([]model.Candle, error)
}

// maxGap caps the sleep between two candles.
const maxGap = 5 * time.Second

// Replayer emits the ticks of stored candles at a speed multiplier.
type Replayer struct {
	reader CandleReader

	// Speed controls the playback rate: 1 = real time, 10 = 10x,
	// 0 = as fast as possible.
	Speed float64

	// Rebase shifts candle times so the first one lands in the current
	// bucket. Alignment to the timeframe is preserved.
	Rebase bool

	now func() time.Time
}

// New creates a Replayer at real-time speed with rebasing on.
func New(reader CandleReader) *Replayer {
	return &Replayer{reader: reader, Speed: 1, Rebase: true, now: time.Now}
}

// Ticks returns four ticks that trace c: open, the extreme on the side the
// candle moved away from first, the other extreme, then close. They are
// spread over the bucket width of tf.
func Ticks(instrument string, tf model.Timeframe, c model.Candle) []model.Tick {
	step := int64(tf.Duration().Seconds()) / 4
	first, second := c.Low, c.High
	if c.Close < c.Open {
		first, second = c.High, c.Low
	}
	prices := []float64{c.Open, first, second, c.Close}
	out := make([]model.Tick, len(prices))
	for i, p := range prices {
		out[i] = model.Tick{InstrumentKey: instrument, LastPrice: p, TradeTS: c.Time + int64(i)*step}
	}
	return out
}

// Run replays the candles of key stored after fromTS into out. Blocks until
// done or ctx is cancelled.
func (r *Replayer) Run(ctx context.Context, key model.SeriesKey, fromTS int64, out chan<- model.Tick) error {
	candles, err := r.reader.ReadCandles(ctx, key, fromTS)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		log.Printf("[replay] no candles stored for %s", key)
		return nil
	}
	log.Printf("[replay] %s: %d candles, speed=%.1fx", key, len(candles), r.Speed)

	var shift int64
	if r.Rebase {
		shift = key.Timeframe.BucketStart(r.now().Unix()) - candles[0].Time
	}

	var prev int64
	for i, c := range candles {
		ticks := Ticks(key.InstrumentKey, key.Timeframe, c)
		for j, t := range ticks {
			if i > 0 || j > 0 {
				if err := r.wait(ctx, t.TradeTS-prev); err != nil {
					return err
				}
			}
			prev = t.TradeTS
			t.TradeTS += shift
			select {
			case out <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	log.Printf("[replay] %s completed: %d candles replayed", key, len(candles))
	return nil
}

func (r *Replayer) wait(ctx context.Context, gapSeconds int64) error {
	if r.Speed <= 0 || gapSeconds <= 0 {
		return ctx.Err()
	}
	d := time.Duration(float64(time.Duration(gapSeconds)*time.Second) / r.Speed)
	if d > maxGap {
		d = maxGap
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
