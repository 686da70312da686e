package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/indicator"
	"tradedash/internal/metrics"
	"tradedash/internal/model"
	"tradedash/internal/session"
	"tradedash/internal/strategy"
	"tradedash/internal/upstream"
)

const instr = "NSE_EQ|INE002A01018"

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

var crossPath = []float64{10, 10, 10, 11, 12, 13, 12, 10, 9, 8}

func daily(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{Time: day0 + int64(i)*86400, Open: c, High: c, Low: c, Close: c}
	}
	return out
}

type fakeHistory struct{ candles []model.Candle }

func (f fakeHistory) FetchCandles(_ context.Context, symbol string, _ model.Timeframe) ([]model.Candle, error) {
	if symbol != instr {
		return nil, upstream.ErrNoCandles
	}
	out := make([]model.Candle, len(f.candles))
	copy(out, f.candles)
	return out, nil
}

type fakeSymbols struct{}

func (fakeSymbols) SearchSymbols(_ context.Context, q string) ([]upstream.Symbol, error) {
	return []upstream.Symbol{{Symbol: instr, Description: "RELIANCE " + q}}, nil
}

type fixture struct {
	srv      *Server
	hub      *Hub
	sessions *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hist := fakeHistory{candles: daily(crossPath...)}
	cat := strategy.Builtin()
	runner := strategy.NewRunner(cat, hist)
	specs := indicator.ParseSpecs("EMA:3")

	sessions := session.NewManager(session.Config{
		History:        hist,
		Backtester:     runner,
		Indicators:     specs,
		InitialCapital: 1000,
	}, nil)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	hub := NewHub(HubConfig{
		Sessions:        sessions,
		Metrics:         m,
		Indicators:      specs,
		PrepareBacktest: BacktestPreparer(cat, ModeLocal, 1000),
	})
	srv := NewServer(Config{
		Hub:            hub,
		Sessions:       sessions,
		History:        hist,
		Backtester:     runner,
		BacktestMode:   ModeLocal,
		Catalogue:      cat,
		Symbols:        fakeSymbols{},
		Indicators:     specs,
		InitialCapital: 1000,
		Metrics:        m,
		Health:         metrics.NewHealthStatus(),
		Gatherer:       reg,
	})
	return &fixture{srv: srv, hub: hub, sessions: sessions}
}

func (f *fixture) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestChart(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/chart?symbol="+strings.ReplaceAll(instr, "|", "%7C")+"&interval=1d&indicators=EMA:3,RSI:2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var resp ChartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.TF1Day, resp.Interval)
	assert.Len(t, resp.Candles, 10)
	require.Len(t, resp.Indicators, 2)
	assert.Equal(t, "EMA_3", resp.Indicators[0].Name)
	assert.Equal(t, "RSI_2", resp.Indicators[1].Name)
}

func TestChart_SkipsBadIndicatorSpecs(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/chart?symbol="+strings.ReplaceAll(instr, "|", "%7C")+"&interval=1d&indicators=FOO:1,EMA:3,SMA:0", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ChartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Indicators, 1)
	assert.Equal(t, "EMA_3", resp.Indicators[0].Name)
	assert.Equal(t, []string{"FOO:1", "SMA:0"}, resp.Skipped)
	assert.Zero(t, resp.SkippedCandles)
}

func TestChart_Errors(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/chart", "").Code, "symbol is required")
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/chart?symbol=X&interval=2m", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/chart?symbol=UNKNOWN", "").Code)
}

func TestBacktest_Local(t *testing.T) {
	f := newFixture(t)

	body := `{"instrument_key":"` + instr + `","strategy":"moving_average_crossover",
		"params":{"short_window":2,"long_window":3}}`
	rec := f.do(t, http.MethodPost, "/api/backtest", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view session.BacktestView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Len(t, view.Candles, 10)
	assert.Len(t, view.Equity, 10)
	assert.Equal(t, 1000.0, view.Equity[0].Value, "default capital applied")
	require.Len(t, view.Trades, 1)
	assert.Equal(t, 1, view.Metrics.TotalTrades)
	assert.Len(t, view.Markers, 2)
}

func TestBacktest_Errors(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/backtest", "{").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/backtest", `{"strategy":"rsi_strategy"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/api/backtest", `{"instrument_key":"`+instr+`","strategy":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/api/backtest", `{"instrument_key":"`+instr+`","strategy":"rsi_strategy","params":{"rsi_period":1.5}}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/api/backtest?session=missing", `{"instrument_key":"`+instr+`","strategy":"rsi_strategy"}`).Code)
}

func TestTradesCSV(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/backtest/trades.csv?instrument_key="+strings.ReplaceAll(instr, "|", "%7C")+
		"&strategy=moving_average_crossover&short_window=2&long_window=3&initial_capital=500", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "entry_date,exit_date,entry_price,exit_price,profit_pct", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2024-01-04T00:00:00Z,2024-01-08T00:00:00Z,11,10,"), lines[1])
}

func TestStrategies(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []strategy.StrategySpec
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 3)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/strategies/nope", "").Code)

	rec = f.do(t, http.MethodPost, "/api/strategies/moving_average_crossover/visible", `{"ma_type":"EMA"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var visible []strategy.ParamSpec
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &visible))
	names := make([]string, len(visible))
	for i, p := range visible {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"short_window", "long_window", "ma_type", "ema_smoothing"}, names)

	rec = f.do(t, http.MethodPost, "/api/strategies/rsi_strategy/params", `{"exit_mode":"level","exit_level":"55"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var params map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &params))
	assert.Equal(t, 55.0, params["exit_level"])
	assert.Equal(t, 14.0, params["rsi_period"])
}

func TestSearchStatusAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/search?query=rel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "RELIANCE rel")

	rec = f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "disabled", st.Feed)
	assert.Equal(t, ModeLocal, st.Backtest)
	assert.Equal(t, []string{"EMA_3"}, st.Indicators)

	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chartd_ws_clients")

	assert.Equal(t, "*", f.do(t, http.MethodOptions, "/api/backtest", "").Header().Get("Access-Control-Allow-Origin"))
}

func TestBacktestPreparer(t *testing.T) {
	cat := strategy.Builtin()

	req, err := BacktestPreparer(cat, ModeUpstream, 250)(upstream.BacktestRequest{
		InstrumentKey: " " + instr + " ",
		Strategy:      "custom_upstream_only",
		Params:        map[string]interface{}{"x": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, instr, req.InstrumentKey)
	assert.Equal(t, 250.0, req.InitialCapital)
	assert.Equal(t, map[string]interface{}{"x": 1}, req.Params, "unknown upstream strategies pass through")

	_, err = BacktestPreparer(cat, ModeLocal, 250)(upstream.BacktestRequest{InstrumentKey: instr, Strategy: "custom_upstream_only"})
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)

	req, err = BacktestPreparer(cat, ModeUpstream, 250)(upstream.BacktestRequest{
		InstrumentKey: instr, Strategy: "bollinger_bands", InitialCapital: 10,
		Params: map[string]interface{}{"ema_period": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, req.InitialCapital)
	assert.NotContains(t, req.Params, "ema_period", "hidden unless band_source is ema")
	assert.Equal(t, 20, req.Params["window"])
}

// readFrames reads WS messages, splitting coalesced frames, until stop
// returns true for one of them.
func readFrames(t *testing.T, conn *websocket.Conn, stop func(map[string]interface{}) bool) []map[string]interface{} {
	t.Helper()
	var all []map[string]interface{}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(raw, []byte{'\n'}) {
			var m map[string]interface{}
			require.NoError(t, json.Unmarshal(line, &m))
			all = append(all, m)
			if stop(m) {
				return all
			}
		}
	}
}

func ofType(typ string) func(map[string]interface{}) bool {
	return func(m map[string]interface{}) bool { return m["type"] == typ }
}

func TestWebSocket_SubscribeAndBacktest(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readFrames(t, conn, ofType("HELLO"))
	id := hello[len(hello)-1]["session"].(string)
	require.NotEmpty(t, id)

	require.NoError(t, conn.WriteJSON(SubscribeMsg{Type: TypeSubscribe, ReqID: "r1", Symbol: instr, TF: "1day"}))
	frames := readFrames(t, conn, ofType("ACK"))
	types := map[string]int{}
	for _, fr := range frames {
		types[fr["type"].(string)]++
	}
	assert.Equal(t, 1, types["candles"])
	assert.Equal(t, 1, types["series"], "default EMA_3")
	assert.Equal(t, "r1", frames[len(frames)-1]["reqId"])
	assert.Equal(t, 1, f.sessions.Len())

	// replay buffer serves the envelopes just sent
	rec := f.do(t, http.MethodGet, "/api/missed?session="+id+"&from=1&to=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var missed []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &missed))
	assert.Len(t, missed, 2)

	require.NoError(t, conn.WriteJSON(BacktestMsg{Type: TypeBacktest, ReqID: "r2", Request: upstream.BacktestRequest{
		InstrumentKey: instr,
		Strategy:      "moving_average_crossover",
		Params:        map[string]interface{}{"short_window": 2, "long_window": 3},
	}}))
	frames = readFrames(t, conn, ofType("ACK"))
	var sawTrades, sawEquity bool
	for _, fr := range frames {
		if fr["type"] == "trades" {
			sawTrades = true
		}
		if fr["type"] == "series" && fr["name"] == session.EquitySeries {
			sawEquity = true
		}
	}
	assert.True(t, sawTrades)
	assert.True(t, sawEquity)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "BOGUS", "reqId": "r3"}))
	errs := readFrames(t, conn, ofType("ERROR"))
	assert.Equal(t, "r3", errs[len(errs)-1]["reqId"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": TypeUnsubscribe, "reqId": "r4"}))
	readFrames(t, conn, ofType("ACK"))
	assert.Equal(t, 0, f.sessions.Len())
	assert.Equal(t, 1, f.hub.ClientCount())
}

func TestWatch_WithoutRedis(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/ws/watch/abc", "").Code)
}
