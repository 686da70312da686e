package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/model"
)

func TestParseSpec(t *testing.T) {
	s, err := ParseSpec("EMA:20")
	require.NoError(t, err)
	assert.Equal(t, Spec{Kind: KindEMA, Period: 20}, s)

	s, err = ParseSpec(" ema:20:smma:9:BB:2.5 ")
	require.NoError(t, err)
	assert.Equal(t, KindRMA, s.Smoothing)
	assert.Equal(t, 9, s.SmoothingLength)
	assert.True(t, s.Bollinger)
	assert.Equal(t, 2.5, s.BBMult)

	for _, bad := range []string{"EMA", "FOO:3", "EMA:0", "EMA:x", "RSI:14:SMA:3", "EMA:20:SMA", "EMA:20:RSI:3", "EMA:20:BB:-1"} {
		_, err := ParseSpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseSpecs_SkipsInvalid(t *testing.T) {
	specs := ParseSpecs("EMA:9, RSI:14,bogus,,SMA:50")
	require.Len(t, specs, 3)
	assert.Equal(t, "EMA_9", specs[0].Name())
	assert.Equal(t, "RSI_14", specs[1].Name())
	assert.Equal(t, "SMA_50", specs[2].Name())
}

func TestEngine_Compute(t *testing.T) {
	e := NewEngine()
	var reported int
	e.OnCompute = func(n int, _ time.Duration) { reported = n }

	candles := candlesFrom(1, 2, 3, 4, 5, 6, 7, 8)
	out := e.Compute(candles, ParseSpecs("EMA:3:SMA:2,EMA:5,SMA:2,RSI:3,WMA:2,RMA:2"))

	names := make([]string, len(out))
	for i, s := range out {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"EMA_3", "EMA_3_SMA_2", "EMA_5", "SMA_2", "RSI_3", "WMA_2", "RMA_2"}, names)
	assert.Equal(t, len(out), reported)
	assert.Equal(t, Palette[0], out[0].Color)
	assert.Equal(t, Palette[1], out[2].Color)
}

func TestEngine_SeedPeekProcess(t *testing.T) {
	e := NewEngine()
	key := model.SeriesKey{InstrumentKey: "NSE_EQ|X", Timeframe: model.TF1Minute}
	specs := ParseSpecs("EMA:3,SMA:2")

	assert.Nil(t, e.Peek(key, model.Candle{Close: 1}))

	// last candle is forming and is not fed
	e.Seed(key, specs, candlesFrom(100, 102, 104, 999))

	live := e.Peek(key, model.Candle{Time: 5, Close: 106})
	require.Len(t, live, 2)
	assert.Equal(t, "EMA_3", live[0].Name)
	assert.InDelta(t, 104.0, live[0].Value, 1e-9)
	assert.InDelta(t, 105.0, live[1].Value, 1e-9)
	assert.True(t, live[0].Ready)

	// peeking twice is stable
	again := e.Peek(key, model.Candle{Time: 5, Close: 106})
	assert.Equal(t, live, again)

	e.Process(key, model.Candle{Close: 106})
	live = e.Peek(key, model.Candle{Close: 106})
	assert.InDelta(t, 105.0, live[0].Value, 1e-9)

	e.Drop(key)
	assert.Nil(t, e.Peek(key, model.Candle{}))
}
