package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tradedash/internal/model"
)

// cacheClient is the subset of *goredis.Client used by CandleCache.
type cacheClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// CandleCache stores upstream chart responses as JSON with a TTL so that
// repeated loads of the same series skip the upstream round trip.
type CandleCache struct {
	client cacheClient
	ttl    time.Duration

	OnWrite func(elapsed time.Duration) // optional
}

// NewCandleCache creates a cache. ttl <= 0 means one minute.
func NewCandleCache(client cacheClient, ttl time.Duration) *CandleCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CandleCache{client: client, ttl: ttl}
}

// CacheKey is the Redis key holding a series' cached candles.
func CacheKey(key model.SeriesKey) string {
	return "cache:candles:" + key.InstrumentKey + ":" + string(key.Timeframe)
}

// GetCandles returns the cached candles of key. Misses and Redis errors both
// report false.
func (c *CandleCache) GetCandles(ctx context.Context, key model.SeriesKey) ([]model.Candle, bool) {
	raw, err := c.client.Get(ctx, CacheKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			log.Printf("[redis] cache get %s: %v", key, err)
		}
		return nil, false
	}
	var candles []model.Candle
	if err := json.Unmarshal(raw, &candles); err != nil {
		log.Printf("[redis] cache decode %s: %v", key, err)
		return nil, false
	}
	return candles, true
}

// PutCandles caches candles for key. Failures are logged, never returned.
func (c *CandleCache) PutCandles(ctx context.Context, key model.SeriesKey, candles []model.Candle) {
	raw, err := json.Marshal(candles)
	if err != nil {
		log.Printf("[redis] cache encode %s: %v", key, err)
		return
	}
	start := time.Now()
	if err := c.client.Set(ctx, CacheKey(key), raw, c.ttl).Err(); err != nil {
		log.Printf("[redis] cache set %s: %v", key, err)
		return
	}
	if c.OnWrite != nil {
		c.OnWrite(time.Since(start))
	}
}
