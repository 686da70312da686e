package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/model"
)

func vals(vs []*float64) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		if v == nil {
			out[i] = nil
		} else {
			out[i] = math.Round(*v*10000) / 10000
		}
	}
	return out
}

func candlesFrom(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{Time: int64(1700000000 + i*60), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func TestEMASeries(t *testing.T) {
	got := EMASeries([]float64{1, 2, 3, 4, 5}, 3)
	assert.Equal(t, []interface{}{nil, nil, 2.0, 3.0, 4.0}, vals(got))
}

func TestEMASeries_InsufficientHistoryIsAllNil(t *testing.T) {
	got := EMASeries([]float64{1, 2}, 3)
	require.Len(t, got, 2)
	assert.Nil(t, got[0])
	assert.Nil(t, got[1])

	assert.Empty(t, EMASeries(nil, 5))
}

func TestEMASeries_IdentityAndFixedPoint(t *testing.T) {
	closes := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	for i, v := range EMASeries(closes, 1) {
		require.NotNil(t, v)
		assert.InDelta(t, closes[i], *v, 1e-12)
	}

	flat := []float64{42, 42, 42, 42, 42, 42}
	for _, v := range EMASeries(flat, 4)[3:] {
		assert.InDelta(t, 42.0, *v, 1e-12)
	}
}

func TestSmooth(t *testing.T) {
	ema := EMASeries([]float64{1, 2, 3, 4, 5}, 3) // nil nil 2 3 4

	sma, err := Smooth(ema, KindSMA, 2)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil, nil, nil, 2.5, 3.5}, vals(sma))

	wma, err := Smooth(ema, KindWMA, 2)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil, nil, nil, 2.6667, 3.6667}, vals(wma))

	rma, err := Smooth(ema, KindRMA, 2)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil, nil, nil, 2.5, 3.25}, vals(rma))

	sEMA, err := Smooth(ema, KindEMA, 2)
	require.NoError(t, err)
	// seed 2.5, then 4*(2/3) + 2.5*(1/3) = 3.5
	assert.Equal(t, []interface{}{nil, nil, nil, 2.5, 3.5}, vals(sEMA))

	none, err := Smooth(ema, KindNone, 0)
	require.NoError(t, err)
	assert.Equal(t, vals(ema), vals(none))

	_, err = Smooth(ema, KindRSI, 2)
	assert.Error(t, err)
	_, err = Smooth(ema, KindSMA, 0)
	assert.Error(t, err)
}

func TestBollingerSeries(t *testing.T) {
	values := defined([]float64{1, 2, 3, 7, 7, 7})
	values[0] = nil

	upper, lower := BollingerSeries(values, 3, 2)
	assert.Nil(t, upper[2])
	require.NotNil(t, upper[3])
	// window 2,3,7: mean 4, population σ = sqrt(14/3)
	sd := math.Sqrt(14.0 / 3.0)
	assert.InDelta(t, 4+2*sd, *upper[3], 1e-9)
	assert.InDelta(t, 4-2*sd, *lower[3], 1e-9)

	// constant window collapses the bands
	assert.InDelta(t, 7.0, *upper[5], 1e-9)
	assert.InDelta(t, 7.0, *lower[5], 1e-9)
}

func TestEMAStudy_Compute(t *testing.T) {
	candles := candlesFrom(10, 11, 12, 13, 14, 15, 16, 17, 18, 19)
	study := EMAStudy{Period: 3, Smoothing: KindSMA, SmoothingLength: 3, Bollinger: true, BBMult: 2, Color: "#fff"}

	series, err := study.Compute(candles)
	require.NoError(t, err)
	require.Len(t, series, 4)

	names := []string{series[0].Name, series[1].Name, series[2].Name, series[3].Name}
	assert.Equal(t, []string{"EMA_3", "EMA_3_SMA_3", "EMA_3_BB_UPPER", "EMA_3_BB_LOWER"}, names)

	for _, s := range series {
		assert.Len(t, s.Points, len(candles))
		assert.Equal(t, candles[0].Time, s.Points[0].Time)
	}
	// EMA ready at index 2, smoothing at 4, bands over the smoothed line at 6
	assert.Len(t, series[0].Defined(), 8)
	assert.Len(t, series[1].Defined(), 6)
	assert.Len(t, series[2].Defined(), 4)
	for i, p := range series[2].Points {
		if p.Value == nil {
			continue
		}
		assert.Greater(t, *p.Value, *series[3].Points[i].Value)
	}
}

func TestEMAStudy_BandsWithoutSmoothingUseDefaultLength(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(100 + i%5)
	}
	series, err := EMAStudy{Period: 5, Bollinger: true}.Compute(candlesFrom(closes...))
	require.NoError(t, err)
	require.Len(t, series, 3)
	// EMA defined from index 4, bands need DefaultBBLength EMA values
	assert.Len(t, series[1].Defined(), 30-4-DefaultBBLength+1)
}

func TestMultiEMA_Palette(t *testing.T) {
	candles := candlesFrom(1, 2, 3, 4, 5)
	out := MultiEMA(candles, []int{2, 3, 10}, []string{"", "red"})
	require.Len(t, out, 3)
	assert.Equal(t, Palette[0], out[0].Color)
	assert.Equal(t, "red", out[1].Color)
	assert.Equal(t, Palette[2], out[2].Color)
	assert.False(t, out[2].Ready(), "EMA_10 over 5 candles has no values")
}

func TestToSeries_SkipsNonFinite(t *testing.T) {
	candles := candlesFrom(1, 2, 3)
	nan := math.NaN()
	s := ToSeries("X", "", candles, []*float64{model.Float(1), &nan, model.Float(3)})
	require.Len(t, s.Points, 2)
	assert.Equal(t, candles[2].Time, s.Points[1].Time)
}

func TestRSISeries_FirstValueAtPeriod(t *testing.T) {
	got := RSISeries([]float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10}, 5)
	for i := 0; i < 5; i++ {
		assert.Nil(t, got[i])
	}
	require.NotNil(t, got[5])
	assert.InDelta(t, 68.112, *got[5], 0.1)
}

func TestPrepareCandles(t *testing.T) {
	in := []model.Candle{
		{Time: 300, Open: 3, High: 3, Low: 3, Close: 3},
		{Time: 100, Open: 1, High: 1, Low: 1, Close: 1},
		{Time: 200, Open: math.NaN(), High: 2, Low: 2, Close: 2},
		{Time: 100, Open: 9, High: 9, Low: 9, Close: 9},
		{Time: 200, Open: 2, High: 2, Low: 2, Close: 2},
	}
	out, skipped := PrepareCandles(in)
	require.Len(t, out, 3)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, []int64{100, 200, 300}, []int64{out[0].Time, out[1].Time, out[2].Time})
	assert.Equal(t, 1.0, out[0].Close, "first occurrence of a duplicate wins")
}
