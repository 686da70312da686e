package memcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/model"
)

func TestCandleCache_GetPut(t *testing.T) {
	c := New(time.Minute)
	ctx := context.Background()
	key := model.SeriesKey{InstrumentKey: "NSE_EQ|INE002A01018", Timeframe: model.TF1Hour}

	_, ok := c.GetCandles(ctx, key)
	assert.False(t, ok)

	in := []model.Candle{{Time: 3600, Open: 1, High: 2, Low: 1, Close: 2}}
	c.PutCandles(ctx, key, in)
	in[0].Close = 99

	got, ok := c.GetCandles(ctx, key)
	require.True(t, ok)
	assert.Equal(t, 2.0, got[0].Close, "cache must not alias the caller's slice")
	assert.Equal(t, 1, c.Len())

	other := model.SeriesKey{InstrumentKey: key.InstrumentKey, Timeframe: model.TF1Day}
	_, ok = c.GetCandles(ctx, other)
	assert.False(t, ok)
}

func TestCandleCache_Expires(t *testing.T) {
	c := New(20 * time.Millisecond)
	key := model.SeriesKey{InstrumentKey: "X", Timeframe: model.TF1Day}
	c.PutCandles(context.Background(), key, []model.Candle{{Time: 1}})

	time.Sleep(40 * time.Millisecond)
	_, ok := c.GetCandles(context.Background(), key)
	assert.False(t, ok)
}
