// Package gateway serves chart clients: a WebSocket per browser tab bound to
// a chart session, plus REST endpoints for one-shot charts, backtests,
// strategy metadata, symbol search, status and metrics.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradedash/internal/indicator"
	"tradedash/internal/logger"
	"tradedash/internal/marketdata/bus"
	"tradedash/internal/metrics"
	"tradedash/internal/session"
	"tradedash/internal/strategy"
	"tradedash/internal/upstream"
)

// Backtest modes.
const (
	ModeUpstream = "upstream"
	ModeLocal    = "local"
)

// SymbolSearcher looks up instruments. *upstream.Client satisfies it.
type SymbolSearcher interface {
	SearchSymbols(ctx context.Context, query string) ([]upstream.Symbol, error)
}

// Config wires the gateway to the rest of the service.
type Config struct {
	// Context outlives every WebSocket client; cancel it on shutdown.
	Context context.Context

	Hub            *Hub
	Sessions       *session.Manager
	History        session.HistorySource
	Backtester     session.Backtester
	BacktestMode   string
	Catalogue      *strategy.Catalogue
	Symbols        SymbolSearcher
	Indicators     []indicator.Spec
	InitialCapital float64

	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Gatherer prometheus.Gatherer
	Redis    *goredis.Client // optional, enables /ws/watch/{session}
	Latency  *LatencyTracker
	Pipeline func() []bus.ChannelStat // optional, tick fan-out depths
	Started  time.Time
}

// Server routes HTTP and WebSocket requests.
type Server struct {
	cfg     Config
	router  *mux.Router
	decoder *schema.Decoder
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Latency == nil {
		cfg.Latency = NewLatencyTracker(0)
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Started.IsZero() {
		cfg.Started = time.Now()
	}
	dec := schema.NewDecoder()
	dec.IgnoreUnknownKeys(true)

	s := &Server{cfg: cfg, router: mux.NewRouter(), decoder: dec}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(logger.Middleware, cors)

	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/ws/watch/{session}", s.handleWatch)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	if s.cfg.Health != nil {
		r.Handle("/healthz", s.cfg.Health)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.cfg.Latency.Middleware)
	api.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	api.HandleFunc("/chart", s.handleChart).Methods(http.MethodGet)
	api.HandleFunc("/backtest", s.handleBacktest).Methods(http.MethodPost)
	api.HandleFunc("/backtest/trades.csv", s.handleTradesCSV).Methods(http.MethodGet)
	api.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	api.HandleFunc("/strategies/{name}", s.handleStrategy).Methods(http.MethodGet)
	api.HandleFunc("/strategies/{name}/visible", s.handleVisible).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{name}/params", s.handleParams).Methods(http.MethodPost)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/missed", s.handleMissed).Methods(http.MethodGet)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// cors sets CORS headers for browser clients served from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+logger.TraceHeader)
		next.ServeHTTP(w, r)
	})
}

// BacktestPreparer returns the function that validates a backtest request,
// fills the default capital and rewrites params to the strategy's visible,
// typed set. Strategies missing from the catalogue are rejected in local
// mode and passed through untouched to the upstream backend.
func BacktestPreparer(cat *strategy.Catalogue, mode string, initialCapital float64) func(upstream.BacktestRequest) (upstream.BacktestRequest, error) {
	return func(req upstream.BacktestRequest) (upstream.BacktestRequest, error) {
		req.InstrumentKey = strings.TrimSpace(req.InstrumentKey)
		if req.InstrumentKey == "" || req.Strategy == "" {
			return req, fmt.Errorf("%w: instrument_key and strategy are required", errBadRequest)
		}
		if req.InitialCapital <= 0 {
			req.InitialCapital = initialCapital
		}
		spec, err := cat.Get(req.Strategy)
		if err != nil {
			if mode == ModeLocal {
				return req, err
			}
			return req, nil
		}
		params, err := spec.BuildParams(req.Params)
		if err != nil {
			return req, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		req.Params = params
		return req, nil
	}
}
