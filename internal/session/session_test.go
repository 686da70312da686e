package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/indicator"
	"tradedash/internal/model"
	"tradedash/internal/render"
	"tradedash/internal/upstream"
)

const reliance = "NSE_EQ|INE002A01018"

var t0 = time.Date(2024, 3, 12, 9, 15, 0, 0, time.UTC).Unix()

func minutes(n int, from float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := from + float64(i)
		out[i] = model.Candle{Time: t0 + int64(i)*60, Open: p, High: p + 1, Low: p - 1, Close: p}
	}
	return out
}

type fakeHistory struct {
	data    map[string][]model.Candle
	gate    map[string]chan struct{}
	entered chan string
	err     error
}

func (f *fakeHistory) FetchCandles(ctx context.Context, symbol string, _ model.Timeframe) ([]model.Candle, error) {
	if f.entered != nil {
		f.entered <- symbol
	}
	if g := f.gate[symbol]; g != nil {
		<-g
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data[symbol], nil
}

// fakeStore has the writer side of the SQLite store too, so tests can check
// that sessions never use it.
type fakeStore struct {
	local  map[model.SeriesKey][]model.Candle
	writes int
}

func (f *fakeStore) SaveCandle(model.SeriesKey, model.Candle) { f.writes++ }

func (f *fakeStore) ReadCandles(_ context.Context, key model.SeriesKey, after int64) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range f.local[key] {
		if c.Time > after {
			out = append(out, c)
		}
	}
	return out, nil
}

func newSession(t *testing.T, h HistorySource, store CandleStore) (*Session, *render.Recorder) {
	t.Helper()
	rec := render.NewRecorder()
	cfg := Config{History: h, Indicators: indicator.ParseSpecs("EMA:3"), InitialCapital: 1000}
	if store != nil {
		cfg.Store = store
	}
	return New("s1", rec, cfg), rec
}

func TestSwitch_LoadsHistoryAndIndicators(t *testing.T) {
	h := &fakeHistory{data: map[string][]model.Candle{reliance: minutes(25, 100)}}
	s, rec := newSession(t, h, nil)

	require.NoError(t, s.Switch(context.Background(), reliance, model.TF1Minute, nil))

	assert.Len(t, rec.Candles(), 25)
	ema, ok := rec.Series("EMA_3")
	require.True(t, ok)
	assert.Equal(t, render.KindLine, ema.Kind)
	assert.Len(t, ema.Points, 25)
	assert.Nil(t, ema.Points[1].Value)
	require.NotNil(t, ema.Points[2].Value)
	assert.InDelta(t, 101.0, *ema.Points[2].Value, 1e-9)
	assert.Contains(t, rec.Statuses(), "loaded "+reliance+"|1minute: 25 candles")
}

func TestOnTick_ExtendsSeededCandleThenAppends(t *testing.T) {
	h := &fakeHistory{data: map[string][]model.Candle{reliance: minutes(25, 100)}}
	s, rec := newSession(t, h, nil)
	require.NoError(t, s.Switch(context.Background(), reliance, model.TF1Minute, nil))

	last := t0 + 24*60
	require.True(t, s.OnTick(model.Tick{InstrumentKey: reliance, LastPrice: 130, TradeTS: last + 30}))

	candles := rec.Candles()
	require.Len(t, candles, 25, "tick inside the last bucket must not append")
	c := candles[24]
	assert.Equal(t, 124.0, c.Open)
	assert.Equal(t, 130.0, c.High)
	assert.Equal(t, 123.0, c.Low)
	assert.Equal(t, 130.0, c.Close)

	ema, _ := rec.Series("EMA_3")
	assert.Len(t, ema.Points, 25)
	require.NotNil(t, ema.Points[24].Value)

	require.True(t, s.OnTick(model.Tick{InstrumentKey: reliance, LastPrice: 131, TradeTS: last + 61}))
	assert.Len(t, rec.Candles(), 26)
	appends, upserts := rec.Counts()
	assert.Equal(t, 1, appends)
	assert.Equal(t, 1, upserts)

	ema, _ = rec.Series("EMA_3")
	assert.Len(t, ema.Points, 26)

	assert.False(t, s.OnTick(model.Tick{InstrumentKey: "NSE_EQ|OTHER", LastPrice: 5, TradeTS: last + 62}))
}

func TestSwitch_StaleResponseDiscarded(t *testing.T) {
	h := &fakeHistory{
		data: map[string][]model.Candle{
			"SLOW": minutes(5, 10),
			"FAST": minutes(7, 500),
		},
		gate:    map[string]chan struct{}{"SLOW": make(chan struct{})},
		entered: make(chan string, 2),
	}
	stale := 0
	rec := render.NewRecorder()
	s := New("s1", rec, Config{History: h, OnStale: func() { stale++ }})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Switch(context.Background(), "SLOW", model.TF1Minute, nil) }()
	require.Equal(t, "SLOW", <-h.entered)

	require.NoError(t, s.Switch(context.Background(), "FAST", model.TF1Minute, nil))
	require.Equal(t, "FAST", <-h.entered)
	close(h.gate["SLOW"])

	assert.ErrorIs(t, <-errCh, ErrStale)
	assert.Equal(t, 1, stale)
	candles := rec.Candles()
	require.Len(t, candles, 7)
	assert.Equal(t, 500.0, candles[0].Open)
	assert.Equal(t, "FAST", s.Key().InstrumentKey)
}

func TestSwitch_NewerFormingCandleKeepsHistory(t *testing.T) {
	h := &fakeHistory{
		data:    map[string][]model.Candle{reliance: minutes(5, 100)},
		gate:    map[string]chan struct{}{reliance: make(chan struct{})},
		entered: make(chan string, 1),
	}
	s, rec := newSession(t, h, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Switch(context.Background(), reliance, model.TF1Minute, nil) }()
	require.Equal(t, reliance, <-h.entered)

	// a tick one bucket past the history arrives while it loads
	require.True(t, s.OnTick(model.Tick{InstrumentKey: reliance, LastPrice: 110, TradeTS: t0 + 301}))
	close(h.gate[reliance])
	require.NoError(t, <-errCh)

	candles := rec.Candles()
	require.Len(t, candles, 6)
	assert.Equal(t, t0+240, candles[4].Time)
	assert.Equal(t, t0+300, candles[5].Time)

	require.True(t, s.OnTick(model.Tick{InstrumentKey: reliance, LastPrice: 112, TradeTS: t0 + 330}))
	candles = rec.Candles()
	require.Len(t, candles, 6)
	assert.Equal(t, model.Candle{Time: t0 + 240, Open: 104, High: 105, Low: 103, Close: 104}, candles[4])
	assert.Equal(t, model.Candle{Time: t0 + 300, Open: 110, High: 112, Low: 110, Close: 112}, candles[5])

	ema, _ := rec.Series("EMA_3")
	require.Len(t, ema.Points, 6)
	assert.Equal(t, t0+240, ema.Points[4].Time)
	assert.Equal(t, t0+300, ema.Points[5].Time)
	require.NotNil(t, ema.Points[5].Value)
}

func TestSwitch_FormingCandleWithoutHistory(t *testing.T) {
	h := &fakeHistory{
		data:    map[string][]model.Candle{},
		gate:    map[string]chan struct{}{reliance: make(chan struct{})},
		entered: make(chan string, 1),
	}
	s, rec := newSession(t, h, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Switch(context.Background(), reliance, model.TF1Minute, nil) }()
	require.Equal(t, reliance, <-h.entered)
	require.True(t, s.OnTick(model.Tick{InstrumentKey: reliance, LastPrice: 50, TradeTS: t0 + 5}))
	close(h.gate[reliance])
	require.NoError(t, <-errCh)

	candles := rec.Candles()
	require.Len(t, candles, 1)
	assert.Equal(t, t0, candles[0].Time)
}

func TestSwitch_FetchError(t *testing.T) {
	boom := errors.New("upstream down")
	s, rec := newSession(t, &fakeHistory{err: boom}, nil)

	err := s.Switch(context.Background(), reliance, model.TF5Minute, nil)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, rec.Statuses(), "error: upstream down")
	assert.Empty(t, rec.Candles())

	assert.ErrorIs(t, s.Switch(context.Background(), "", model.TF5Minute, nil), ErrNoSeries)
	s.Close()
	assert.ErrorIs(t, s.Reload(context.Background()), ErrNoSeries)
}

func TestLoad_MergesLocalCandles(t *testing.T) {
	upstreamCandles := []model.Candle{
		{Time: t0, Open: 1, High: 2, Low: 1, Close: 2},
		{Time: t0 + 300, Open: 2, High: 3, Low: 2, Close: 3},
	}
	// two 1minute candles in the 09:25 bucket, one in 09:30
	local := []model.Candle{
		{Time: t0 + 600, Open: 3, High: 4, Low: 3, Close: 4},
		{Time: t0 + 660, Open: 4, High: 6, Low: 4, Close: 5},
		{Time: t0 + 900, Open: 5, High: 5, Low: 5, Close: 5},
	}
	store := &fakeStore{local: map[model.SeriesKey][]model.Candle{
		{InstrumentKey: reliance, Timeframe: model.TF1Minute}: local,
	}}
	h := &fakeHistory{data: map[string][]model.Candle{reliance: upstreamCandles}}
	s, rec := newSession(t, h, store)

	require.NoError(t, s.Switch(context.Background(), reliance, model.TF5Minute, nil))
	candles := rec.Candles()
	require.Len(t, candles, 4)
	assert.Equal(t, model.Candle{Time: t0 + 600, Open: 3, High: 6, Low: 3, Close: 5}, candles[2])
	assert.Equal(t, t0+900, candles[3].Time)

	// crossing into a new bucket finalizes the seeded 09:30 candle
	require.True(t, s.OnTick(model.Tick{InstrumentKey: reliance, LastPrice: 7, TradeTS: t0 + 1200}))
	candles = rec.Candles()
	require.Len(t, candles, 5)
	assert.Equal(t, t0+900, candles[3].Time)
	assert.Equal(t, t0+1200, candles[4].Time)
	assert.Zero(t, store.writes, "the capture pipeline is the only writer")
}

type fakeBacktester struct {
	res *upstream.BacktestResult
	err error
	req upstream.BacktestRequest
}

func (f *fakeBacktester) RunBacktest(_ context.Context, req upstream.BacktestRequest) (*upstream.BacktestResult, error) {
	f.req = req
	return f.res, f.err
}

func TestBacktest_DrawsEquityMarkersAndTrades(t *testing.T) {
	candles := []model.Candle{
		{Time: t0, Open: 100, High: 100, Low: 100, Close: 100},
		{Time: t0 + 86400, Open: 100, High: 100, Low: 100, Close: 100},
		{Time: t0 + 2*86400, Open: 110, High: 110, Low: 110, Close: 110},
	}
	bt := &fakeBacktester{res: &upstream.BacktestResult{Candles: candles, Positions: []int{0, 1, 0}}}
	rec := render.NewRecorder()
	s := New("s1", rec, Config{Backtester: bt, InitialCapital: 1000})

	view, err := s.Backtest(context.Background(), upstream.BacktestRequest{InstrumentKey: reliance, Strategy: "rsi_strategy"})
	require.NoError(t, err)

	assert.Equal(t, 1000.0, bt.req.InitialCapital)
	assert.Equal(t, "positions", view.Tier)
	eq, ok := rec.Series(EquitySeries)
	require.True(t, ok)
	assert.Equal(t, render.KindEquity, eq.Kind)
	require.Len(t, eq.Points, 3)
	assert.InDelta(t, 1000.0, *eq.Points[1].Value, 1e-9)
	assert.InDelta(t, 1095.0, *eq.Points[2].Value, 1e-9)

	markers := rec.Markers()
	require.Len(t, markers, 2)
	assert.Equal(t, model.SignalBuy, markers[0].Kind)
	assert.Equal(t, model.SignalSell, markers[1].Kind)

	trades, metrics := rec.Trades()
	require.Len(t, trades, 1)
	assert.InDelta(t, 10.0, trades[0].ProfitPct, 1e-9)
	assert.Equal(t, 1, metrics.TotalTrades)
	assert.Equal(t, 1.0, metrics.WinRate)
	assert.InDelta(t, 0.095, metrics.TotalReturn, 1e-9)
	assert.Equal(t, model.SeriesKey{InstrumentKey: reliance, Timeframe: model.TF1Day}, s.Key())
}

func TestBacktest_LiveTickExtendsLastDay(t *testing.T) {
	day := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC).Unix()
	candles := make([]model.Candle, 5)
	for i := range candles {
		p := 100 + float64(i)
		candles[i] = model.Candle{Time: day + int64(i)*86400, Open: p, High: p + 1, Low: p - 1, Close: p}
	}
	last := candles[4].Time
	points := make([]model.Point, len(candles))
	for i, c := range candles {
		points[i] = model.Point{Time: c.Time}
	}
	bt := &fakeBacktester{res: &upstream.BacktestResult{
		Candles:    candles,
		Indicators: []model.IndicatorSeries{{Name: "EMA_3", Points: points}},
	}}
	rec := render.NewRecorder()
	s := New("s1", rec, Config{Backtester: bt, Indicators: indicator.ParseSpecs("EMA:3"), InitialCapital: 1000})

	_, err := s.Backtest(context.Background(), upstream.BacktestRequest{InstrumentKey: reliance, Strategy: "ema_crossover"})
	require.NoError(t, err)

	require.True(t, s.OnTick(model.Tick{InstrumentKey: reliance, LastPrice: 120, TradeTS: last + 4*3600}))
	got := rec.Candles()
	require.Len(t, got, 5, "a tick on the last day must not append")
	assert.Equal(t, model.Candle{Time: last, Open: 104, High: 120, Low: 103, Close: 120}, got[4])
	appends, upserts := rec.Counts()
	assert.Equal(t, 0, appends)
	assert.Equal(t, 1, upserts)

	ema, _ := rec.Series("EMA_3")
	require.Len(t, ema.Points, 5)
	require.NotNil(t, ema.Points[4].Value)
	assert.Equal(t, last, ema.Points[4].Time)

	require.True(t, s.OnTick(model.Tick{InstrumentKey: reliance, LastPrice: 121, TradeTS: last + 86400 + 60}))
	got = rec.Candles()
	require.Len(t, got, 6)
	assert.Equal(t, last+86400, got[5].Time)
}

func TestAssemble_PositionsFollowPreparedCandles(t *testing.T) {
	day := int64(86400)
	candles := []model.Candle{
		{Time: t0 + 2*day, Open: 12, High: 12, Low: 12, Close: 12},
		{Time: t0, Open: 10, High: 10, Low: 10, Close: 10},
		{Time: t0 + day, Open: 11, High: 11, Low: 11, Close: 11},
		{Time: t0 + 3*day, Open: 13, High: 13, Low: 13, Close: 13},
	}
	view := Assemble(&upstream.BacktestResult{Candles: candles, Positions: []int{1, 0, 0, 0}}, 1000)

	require.Len(t, view.Candles, 4)
	require.Len(t, view.Equity, 4, "one equity point per candle")
	require.Len(t, view.Markers, 2)
	assert.Equal(t, model.Signal{Time: t0 + 2*day, Price: 12, Kind: model.SignalBuy}, view.Markers[0])
	assert.Equal(t, model.Signal{Time: t0 + 3*day, Price: 13, Kind: model.SignalSell}, view.Markers[1])
}

func TestAssemble_LinearFallback(t *testing.T) {
	tr := 0.2
	view := Assemble(&upstream.BacktestResult{
		Candles:     []model.Candle{{Time: t0, Open: 1, High: 1, Low: 1, Close: 1}, {Time: t0 + 60, Open: 1, High: 1, Low: 1, Close: 1}},
		TotalReturn: &tr,
	}, 500)
	assert.Equal(t, "linear", view.Tier)
	require.Len(t, view.Equity, 2)
	assert.Equal(t, 600.0, view.Equity[1].Value)
	assert.Equal(t, 0.2, view.Metrics.TotalReturn)
	assert.Empty(t, view.Trades)
}

func TestBacktest_Errors(t *testing.T) {
	s := New("s1", render.NewRecorder(), Config{})
	_, err := s.Backtest(context.Background(), upstream.BacktestRequest{})
	assert.Error(t, err)

	boom := errors.New("boom")
	rec := render.NewRecorder()
	s = New("s2", rec, Config{Backtester: &fakeBacktester{err: boom}})
	_, err = s.Backtest(context.Background(), upstream.BacktestRequest{Strategy: "x"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, rec.Statuses(), "error: boom")
}
