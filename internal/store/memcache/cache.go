// Package memcache is the in-process candle cache used when Redis is not
// configured.
package memcache

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"tradedash/internal/model"
)

// CandleCache keeps upstream chart responses in memory with a TTL.
type CandleCache struct {
	cache *cache.Cache
}

// New creates a cache whose entries expire after ttl (default one minute).
func New(ttl time.Duration) *CandleCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CandleCache{cache: cache.New(ttl, 2*ttl)}
}

func (c *CandleCache) GetCandles(_ context.Context, key model.SeriesKey) ([]model.Candle, bool) {
	v, found := c.cache.Get(key.String())
	if !found {
		return nil, false
	}
	stored := v.([]model.Candle)
	out := make([]model.Candle, len(stored))
	copy(out, stored)
	return out, true
}

func (c *CandleCache) PutCandles(_ context.Context, key model.SeriesKey, candles []model.Candle) {
	stored := make([]model.Candle, len(candles))
	copy(stored, candles)
	c.cache.Set(key.String(), stored, cache.DefaultExpiration)
}

// Len returns the number of unexpired entries.
func (c *CandleCache) Len() int {
	return c.cache.ItemCount()
}
