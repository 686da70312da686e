package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"tradedash/internal/indicator"
	"tradedash/internal/markethours"
	"tradedash/internal/model"
	"tradedash/internal/session"
	redisstore "tradedash/internal/store/redis"
	"tradedash/internal/strategy"
	"tradedash/internal/upstream"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[gateway] write response: %v", err)
	}
}

// writeError maps err onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusBadGateway // upstream failures, including *upstream.APIError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, strategy.ErrUnknownStrategy):
		code = http.StatusBadRequest
	case errors.Is(err, upstream.ErrNoCandles):
		code = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, session.ErrStale):
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) decodeQuery(r *http.Request, dst interface{}) error {
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := s.decoder.Decode(dst, r.Form); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	s.cfg.Hub.Register(s.cfg.Context, conn)
}

// handleWatch streams another instance's session envelopes from Redis.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Redis == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "redis not configured"})
		return
	}
	id := mux.Vars(r)["session"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(s.cfg.Context)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		defer conn.Close()
		err := redisstore.Watch(ctx, s.cfg.Redis, id, func(msg []byte) {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				cancel()
			}
		})
		if err != nil {
			log.Printf("[gateway] watch %s: %v", id, err)
		}
	}()
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	var q ChartQuery
	if err := s.decodeQuery(r, &q); err != nil {
		writeError(w, err)
		return
	}
	tf := model.TF1Day
	if q.Interval != "" {
		var err error
		if tf, err = model.ParseTimeframe(q.Interval); err != nil {
			writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	specs := s.cfg.Indicators
	var badSpecs []string
	if q.Indicators != "" {
		specs, badSpecs = parseSpecList(q.Indicators)
	}

	raw, err := s.cfg.History.FetchCandles(r.Context(), q.Symbol, tf)
	if err != nil {
		writeError(w, err)
		return
	}
	candles, skipped := indicator.PrepareCandles(raw)

	start := time.Now()
	series := indicator.NewEngine().Compute(candles, specs)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveCompute(len(series), time.Since(start))
	}

	writeJSON(w, http.StatusOK, ChartResponse{
		Symbol:         q.Symbol,
		Interval:       tf,
		Candles:        candles,
		Indicators:     series,
		Skipped:        badSpecs,
		SkippedCandles: skipped,
	})
}

// parseSpecList parses a comma-separated spec list, returning the entries
// that do not parse instead of failing the request.
func parseSpecList(raw string) (specs []indicator.Spec, bad []string) {
	for _, part := range splitComma(raw) {
		spec, err := indicator.ParseSpec(part)
		if err != nil {
			log.Printf("[gateway] skipping indicator %q: %v", part, err)
			bad = append(bad, part)
			continue
		}
		specs = append(specs, spec)
	}
	return specs, bad
}

// runBacktest prepares and runs req. With a session id the result is also
// drawn on that client's chart.
func (s *Server) runBacktest(ctx context.Context, req upstream.BacktestRequest, sessionID string) (*session.BacktestView, error) {
	req, err := BacktestPreparer(s.cfg.Catalogue, s.cfg.BacktestMode, s.cfg.InitialCapital)(req)
	if err != nil {
		return nil, err
	}
	if sessionID != "" {
		c, ok := s.cfg.Hub.Client(sessionID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown session %q", errBadRequest, sessionID)
		}
		return s.cfg.Sessions.Backtest(ctx, c.session(), req)
	}
	res, err := s.cfg.Backtester.RunBacktest(ctx, req)
	if err != nil {
		return nil, err
	}
	return session.Assemble(res, req.InitialCapital), nil
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req upstream.BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err))
		return
	}
	view, err := s.runBacktest(r.Context(), req, r.URL.Query().Get("session"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// backtestQueryKeys are the BacktestQuery fields; every other query key is a
// strategy parameter.
var backtestQueryKeys = map[string]bool{
	"instrument_key": true, "strategy": true, "start_date": true,
	"end_date": true, "initial_capital": true,
}

func (s *Server) handleTradesCSV(w http.ResponseWriter, r *http.Request) {
	var q BacktestQuery
	if err := s.decodeQuery(r, &q); err != nil {
		writeError(w, err)
		return
	}
	params := make(map[string]interface{})
	for k, v := range r.Form {
		if !backtestQueryKeys[k] && len(v) > 0 {
			params[k] = v[0]
		}
	}
	req := upstream.BacktestRequest{
		InstrumentKey:  q.InstrumentKey,
		Strategy:       q.Strategy,
		StartDate:      q.StartDate,
		EndDate:        q.EndDate,
		InitialCapital: q.InitialCapital,
		Params:         params,
	}
	view, err := s.runBacktest(r.Context(), req, "")
	if err != nil {
		writeError(w, err)
		return
	}

	trades := view.Trades
	for i := range trades {
		trades[i].FillDates()
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", q.Strategy+"_trades.csv"))
	if err := gocsv.Marshal(&trades, w); err != nil {
		log.Printf("[gateway] trades csv: %v", err)
	}
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Catalogue.List())
}

func (s *Server) lookupStrategy(w http.ResponseWriter, r *http.Request) (*strategy.StrategySpec, bool) {
	spec, err := s.cfg.Catalogue.Get(mux.Vars(r)["name"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return nil, false
	}
	return spec, true
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	if spec, ok := s.lookupStrategy(w, r); ok {
		writeJSON(w, http.StatusOK, spec)
	}
}

func decodeValues(r *http.Request) (map[string]interface{}, error) {
	values := make(map[string]interface{})
	if r.ContentLength == 0 {
		return values, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return values, nil
}

// handleVisible returns the parameters a form should show for the values
// entered so far.
func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}
	values, err := decodeValues(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spec.Visible(values))
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}
	values, err := decodeValues(r)
	if err != nil {
		writeError(w, err)
		return
	}
	params, err := spec.BuildParams(values)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, params)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Symbols == nil {
		writeJSON(w, http.StatusOK, []upstream.Symbol{})
		return
	}
	hits, err := s.cfg.Symbols.SearchSymbols(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	resp := StatusResponse{
		Feed:        "disabled",
		Market:      markethours.StatusAt(now),
		Clients:     s.cfg.Hub.ClientCount(),
		Sessions:    s.cfg.Sessions.Len(),
		Instruments: s.cfg.Sessions.Instruments(),
		Indicators:  specNames(s.cfg.Indicators),
		Backtest:    s.cfg.BacktestMode,
		System:      CollectSystemStats(s.cfg.Started),
	}
	if s.cfg.Health != nil {
		status, last := s.cfg.Health.Feed()
		if status != "" {
			resp.Feed = status
		}
		if !last.IsZero() {
			resp.LastTick = &last
		}
	}
	resp.Latency.P50, resp.Latency.P95, resp.Latency.P99 = s.cfg.Latency.Percentiles()
	if s.cfg.Pipeline != nil {
		resp.Pipeline = s.cfg.Pipeline()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMissed returns buffered envelopes of a live session for gap backfill.
func (s *Server) handleMissed(w http.ResponseWriter, r *http.Request) {
	var q MissedQuery
	if err := s.decodeQuery(r, &q); err != nil {
		writeError(w, err)
		return
	}
	c, ok := s.cfg.Hub.Client(q.Session)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}
	to := q.To
	if to <= 0 {
		to = math.MaxInt64
	}
	frames := c.replay.Range(q.From, to)
	out := make([]json.RawMessage, len(frames))
	for i, f := range frames {
		out[i] = f
	}
	writeJSON(w, http.StatusOK, out)
}

func splitComma(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
