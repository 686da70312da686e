// Package resample folds finalized candles of a fine timeframe into a coarser
// one. Each target bucket keeps a "forming" candle that is merged in O(1) per
// input candle; when an input candle lands in a later bucket the forming
// candle is finalized.
//
// Unlike live tick aggregation, resampling works for every timeframe including
// 1week and 1month, because it only ever sees historical candles.
package resample

import (
	"log"

	"tradedash/internal/model"
)

// Builder resamples candles into a single target timeframe.
// Not goroutine-safe: designed for a single consumer.
type Builder struct {
	tf      model.Timeframe
	bucket  int64
	candle  model.Candle
	started bool

	// Metrics hooks
	OnStaleCandle func() // called when an out-of-order candle is rejected (optional)
}

// New creates a builder for the target timeframe.
func New(tf model.Timeframe) *Builder {
	return &Builder{tf: tf}
}

// Add merges one finalized input candle. It returns the candle that was
// finalized by this call, if any. Invalid and out-of-order candles are skipped.
func (b *Builder) Add(c model.Candle) (model.Candle, bool) {
	if !c.Valid() {
		return model.Candle{}, false
	}
	bucket := b.tf.BucketStart(c.Time)

	if b.started && bucket < b.bucket {
		if b.OnStaleCandle != nil {
			b.OnStaleCandle()
		}
		log.Printf("[resample] skipping out-of-order candle ts=%d (forming bucket %d, tf=%s)", c.Time, b.bucket, b.tf)
		return model.Candle{}, false
	}

	if b.started && bucket > b.bucket {
		done := b.candle
		b.start(bucket, c)
		return done, true
	}

	if !b.started {
		b.start(bucket, c)
		return model.Candle{}, false
	}

	// Same bucket: merge OHLCV
	fc := &b.candle
	if c.High > fc.High {
		fc.High = c.High
	}
	if c.Low < fc.Low {
		fc.Low = c.Low
	}
	fc.Close = c.Close
	fc.Volume += c.Volume
	return model.Candle{}, false
}

func (b *Builder) start(bucket int64, c model.Candle) {
	b.bucket = bucket
	b.started = true
	b.candle = model.Candle{
		Time:   bucket,
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}

// Forming returns the candle currently being built.
func (b *Builder) Forming() (model.Candle, bool) {
	return b.candle, b.started
}

// Flush returns the forming candle and resets the builder.
func (b *Builder) Flush() (model.Candle, bool) {
	c, ok := b.candle, b.started
	b.started = false
	b.candle = model.Candle{}
	return c, ok
}

// Candles resamples a time-ordered candle slice into tf. The last bucket is
// included even if it may still be incomplete.
func Candles(in []model.Candle, tf model.Timeframe) []model.Candle {
	b := New(tf)
	out := make([]model.Candle, 0, len(in))
	for _, c := range in {
		if done, ok := b.Add(c); ok {
			out = append(out, done)
		}
	}
	if last, ok := b.Flush(); ok {
		out = append(out, last)
	}
	return out
}
