// Command chartd is the live chart gateway. It streams feed ticks into
// per-session candle series with indicators, serves historical charts and
// backtests, and fans session output out over WebSocket and (optionally)
// Redis Pub/Sub.
//
// Config (env vars, see config.Load): UPSTREAM_BASE_URL, FEED_URL,
// FEED_INSTRUMENTS, GATEWAY_ADDR, REDIS_ADDR, SQLITE_PATH, BACKTEST_MODE, ...
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"tradedash/config"
	"tradedash/internal/auth"
	"tradedash/internal/gateway"
	"tradedash/internal/indicator"
	"tradedash/internal/logger"
	"tradedash/internal/marketdata/agg"
	"tradedash/internal/marketdata/bus"
	"tradedash/internal/marketdata/closedetector"
	"tradedash/internal/marketdata/feed"
	"tradedash/internal/markethours"
	"tradedash/internal/metrics"
	"tradedash/internal/model"
	"tradedash/internal/notification"
	"tradedash/internal/session"
	"tradedash/internal/store/memcache"
	redisstore "tradedash/internal/store/redis"
	sqlitestore "tradedash/internal/store/sqlite"
	"tradedash/internal/strategy"
	"tradedash/internal/upstream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	started := time.Now()

	cfg := config.Load()
	logger.Init("chartd", cfg.LogLevel)
	slog.Info("starting", "addr", cfg.GatewayAddr, "backtest_mode", cfg.BacktestMode)

	if err := markethours.AddHolidays(cfg.Holidays()...); err != nil {
		log.Fatalf("[chartd] MARKET_HOLIDAYS: %v", err)
	}

	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alerts := notification.NewDispatcher(alertChannels(cfg), cfg.AlertCooldown)
	go alerts.Run(ctx)

	// ---- Candle cache + pub/sub ----
	var (
		rdb       *goredis.Client
		cache     upstream.CandleCache
		publisher *redisstore.Publisher
	)
	if cfg.RedisAddr != "" {
		var err error
		rdb, err = redisstore.Connect(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Printf("[chartd] WARNING: redis unavailable: %v (continuing with in-memory cache)", err)
		}
	}
	if rdb != nil {
		defer rdb.Close()
		rc := redisstore.NewCandleCache(rdb, cfg.CacheTTL)
		rc.OnWrite = func(d time.Duration) { prom.RedisWriteDur.Observe(d.Seconds()) }
		cache = rc

		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			log.Printf("[chartd] redis circuit %s -> %s", from, to)
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
				alerts.Notify(notification.LevelCritical, "Redis circuit open", "publishes are buffered until Redis recovers")
			}
		}
		publisher = redisstore.NewPublisher(rdb, cb, 10000)
		publisher.OnBuffer = prom.RedisBufferedWrites.Inc
		publisher.OnPublish = func(d time.Duration) { prom.RedisWriteDur.Observe(d.Seconds()) }
		log.Printf("[chartd] redis ready at %s", cfg.RedisAddr)
	} else {
		cache = memcache.New(cfg.CacheTTL)
	}

	// ---- Upstream + strategies ----
	tokens := auth.NewTokenManager(cfg.TokenFile)
	up := upstream.NewClient(upstream.Config{
		BaseURL: cfg.UpstreamBaseURL,
		Tokens:  tokens,
		Cache:   cache,
	})
	up.OnRequest = func(route string, status int, d time.Duration) {
		prom.UpstreamRequestDur.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
	}

	catalogue, err := strategy.LoadFile(cfg.StrategiesFile)
	if err != nil {
		log.Fatalf("[chartd] strategies: %v", err)
	}

	var backtester session.Backtester = up
	if cfg.BacktestMode == gateway.ModeLocal {
		backtester = strategy.NewRunner(catalogue, up)
	}
	backtester = countingBacktester{next: backtester, mode: cfg.BacktestMode, total: prom.BacktestsTotal}

	specs := indicator.ParseSpecs(cfg.DefaultIndicators)

	// ---- Local candle capture ----
	var (
		store *sqlitestore.Store
		sqlDB *sql.DB
	)
	if cfg.SQLitePath != "" {
		store, err = sqlitestore.Open(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Fatalf("[chartd] sqlite init failed: %v", err)
		}
		defer store.Close()
		store.OnCommit = func(n int, d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }
		sqlDB = store.DB()
		go store.Run(ctx)
		log.Printf("[chartd] sqlite capture at %s", cfg.SQLitePath)
	}

	// ---- Feed ----
	fc, err := feed.New(feed.Config{URL: cfg.FeedURL, Instruments: cfg.Instruments()})
	if err != nil {
		log.Fatalf("[chartd] feed: %v", err)
	}

	sessCfg := session.Config{
		History:        up,
		Backtester:     backtester,
		Indicators:     specs,
		InitialCapital: cfg.InitialCapital,
		OnStale:        prom.StaleResponses.Inc,
		OnFinalized: func(key model.SeriesKey, c model.Candle) {
			prom.CandlesFinalized.WithLabelValues(string(key.Timeframe)).Inc()
		},
		OnDropped: func(reason string) { prom.DroppedTicks.WithLabelValues(reason).Inc() },
	}
	if store != nil {
		sessCfg.Store = store
	}
	sessions := session.NewManager(sessCfg, fc)

	hub := gateway.NewHub(gateway.HubConfig{
		Sessions:        sessions,
		Publisher:       sinkPublisher(publisher),
		Metrics:         prom,
		Indicators:      specs,
		PrepareBacktest: gateway.BacktestPreparer(catalogue, cfg.BacktestMode, cfg.InitialCapital),
	})

	fc.OnStatus = func(s string) {
		health.SetFeedStatus(s)
		hub.BroadcastStatus("Feed " + s)
		if strings.HasPrefix(s, feed.StatusDisconnected) && markethours.IsMarketOpen(time.Now()) {
			alerts.Notify(notification.LevelWarning, "Feed disconnected", s)
		}
	}
	fc.OnReconnect = prom.FeedReconnects.Inc
	fc.OnMalformed = prom.MalformedFrames.Inc

	// ---- Tick pipeline: feed → fan-out → sessions / capture / stats ----
	tickCh := make(chan model.Tick, 10000)
	fan := bus.New(5000)
	fan.OnDrop = func(name string) { prom.FanoutDropsTotal.WithLabelValues(name).Inc() }
	sessionTicks := fan.Subscribe("sessions")
	statTicks := fan.Subscribe("stats")
	var captureTicks <-chan model.Tick
	if store != nil {
		captureTicks = fan.Subscribe("capture")
	}

	go fan.Run(ctx, tickCh)
	go sessions.Run(ctx, sessionTicks)
	closes := closedetector.NewTracker()
	closes.OnClose = func(instrument string, price float64) {
		msg := fmt.Sprintf("%s closed at %.2f", instrument, price)
		hub.BroadcastStatus(msg)
		alerts.Notify(notification.LevelInfo, "Closing price "+instrument, msg)
	}
	go countTicks(ctx, statTicks, prom, health, closes)
	if captureTicks != nil {
		go capture(ctx, captureTicks, store, prom)
	}
	go func() {
		if err := fc.Start(ctx, tickCh); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[chartd] feed stopped: %v", err)
		}
	}()

	go hub.RunMarketStatus(ctx, time.Minute)
	health.StartLivenessChecker(ctx, rdb, sqlDB, 15*time.Second)

	// ---- HTTP ----
	srv := gateway.NewServer(gateway.Config{
		Context:        ctx,
		Hub:            hub,
		Sessions:       sessions,
		History:        up,
		Backtester:     backtester,
		BacktestMode:   cfg.BacktestMode,
		Catalogue:      catalogue,
		Symbols:        up,
		Indicators:     specs,
		InitialCapital: cfg.InitialCapital,
		Metrics:        prom,
		Health:         health,
		Gatherer:       prometheus.DefaultGatherer,
		Redis:          rdb,
		Latency:        gateway.NewLatencyTracker(1000),
		Pipeline:       fan.ChannelStats,
		Started:        started,
	})
	httpSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: srv.Handler()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[chartd] serving at %s (%s)", cfg.GatewayAddr, markethours.StatusString(time.Now()))
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[chartd] server error: %v", err)
		}
	}()

	sig := <-sigCh
	log.Printf("[chartd] received %v, shutting down...", sig)
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[chartd] shutdown: %v", err)
	}
	log.Println("[chartd] stopped")
}

// alertChannels returns the configured alert notifiers; alerts are always
// logged.
func alertChannels(cfg *config.Config) notification.Notifier {
	channels := notification.Multi{notification.LogNotifier{}}
	if cfg.AlertWebhookURL != "" {
		channels = append(channels, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		channels = append(channels, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return channels
}

// sinkPublisher avoids handing the hub a typed nil when Redis is off.
func sinkPublisher(p *redisstore.Publisher) gateway.SinkPublisher {
	if p == nil {
		return nil
	}
	return p
}

// countingBacktester records every backtest outcome by mode.
type countingBacktester struct {
	next  session.Backtester
	mode  string
	total *prometheus.CounterVec
}

func (b countingBacktester) RunBacktest(ctx context.Context, req upstream.BacktestRequest) (*upstream.BacktestResult, error) {
	res, err := b.next.RunBacktest(ctx, req)
	result := "ok"
	if err != nil {
		result = "error"
	}
	b.total.WithLabelValues(b.mode, result).Inc()
	return res, err
}

func countTicks(ctx context.Context, ticks <-chan model.Tick, prom *metrics.Metrics, health *metrics.HealthStatus, closes *closedetector.Tracker) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			prom.TicksTotal.Inc()
			health.SetLastTickTime(time.Unix(t.TradeTS, 0))
			closes.Observe(t, time.Now())
		}
	}
}

// capture builds 1-minute candles of every fed instrument and stores the
// finalized ones, independent of what sessions are showing.
func capture(ctx context.Context, ticks <-chan model.Tick, store *sqlitestore.Store, prom *metrics.Metrics) {
	a := agg.New()
	a.OnFinalized = store.SaveCandle
	a.OnDroppedTick = func(reason string) { prom.DroppedTicks.WithLabelValues(reason).Inc() }
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			a.Process(t, model.TF1Minute)
		}
	}
}
