package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the chart service.
type Metrics struct {
	TicksTotal       prometheus.Counter
	DroppedTicks     *prometheus.CounterVec // labels: reason
	MalformedFrames  prometheus.Counter
	CandlesFinalized *prometheus.CounterVec // labels: tf
	FeedReconnects   prometheus.Counter

	// History and backtest requests
	StaleResponses     prometheus.Counter
	UpstreamRequestDur *prometheus.HistogramVec // labels: route, status
	BacktestsTotal     *prometheus.CounterVec   // labels: mode, result

	// Indicator engine
	IndicatorComputeDur prometheus.Histogram
	IndicatorSeries     prometheus.Counter

	// Gateway
	WSClients     prometheus.Gauge
	SessionsOpen  prometheus.Gauge
	WSSendDropped prometheus.Counter

	// Storage
	SQLiteCommitDur prometheus.Histogram
	RedisWriteDur   prometheus.Histogram

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Fan-out bus
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber

	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates every metric and registers it with reg. Pass
// prometheus.DefaultRegisterer in services and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	fast := []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_ticks_total",
			Help: "Total ticks received from the live feed",
		}),
		DroppedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_dropped_ticks_total",
			Help: "Ticks dropped by the aggregator (malformed, late, not_live)",
		}, []string{"reason"}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_malformed_frames_total",
			Help: "Feed frames that could not be decoded",
		}),
		CandlesFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_candles_finalized_total",
			Help: "Live candles closed by a bucket rollover (by timeframe)",
		}, []string{"tf"}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_feed_reconnects_total",
			Help: "Live feed reconnection attempts",
		}),

		StaleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_stale_responses_total",
			Help: "History or backtest responses discarded because a newer request was issued",
		}),
		UpstreamRequestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartd_upstream_request_duration_seconds",
			Help:    "Upstream REST request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		BacktestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_backtests_total",
			Help: "Backtests run (by mode and result)",
		}, []string{"mode", "result"}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartd_indicator_compute_duration_seconds",
			Help:    "Batch indicator computation latency per history load",
			Buckets: fast,
		}),
		IndicatorSeries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_indicator_series_total",
			Help: "Indicator series computed",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_ws_clients",
			Help: "Connected chart WebSocket clients",
		}),
		SessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_sessions_open",
			Help: "Open chart sessions",
		}),
		WSSendDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_ws_send_dropped_total",
			Help: "Messages dropped because a client send buffer was full",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartd_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartd_redis_write_duration_seconds",
			Help:    "Redis publish and cache write latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_redis_buffered_writes_total",
			Help: "Publishes buffered locally while the Redis circuit breaker was open",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_fanout_drops_total",
			Help: "Ticks dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_market_state",
			Help: "NSE session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.MalformedFrames,
		m.CandlesFinalized,
		m.FeedReconnects,
		m.StaleResponses,
		m.UpstreamRequestDur,
		m.BacktestsTotal,
		m.IndicatorComputeDur,
		m.IndicatorSeries,
		m.WSClients,
		m.SessionsOpen,
		m.WSSendDropped,
		m.SQLiteCommitDur,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.FanoutDropsTotal,
		m.MarketState,
	)

	return m
}

// ObserveCompute is an indicator.Engine OnCompute hook.
func (m *Metrics) ObserveCompute(series int, elapsed time.Duration) {
	m.IndicatorComputeDur.Observe(elapsed.Seconds())
	m.IndicatorSeries.Add(float64(series))
}
