package config

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	LogLevel slog.Level

	// Upstream chart backend and live feed
	UpstreamBaseURL string
	FeedURL         string
	FeedInstruments string

	// Gateway
	GatewayAddr string

	// Infrastructure. An empty RedisAddr disables pub/sub fan-out and
	// keeps the candle cache in memory; an empty SQLitePath disables capture.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	SQLitePath    string
	TokenFile     string

	// BacktestMode is "upstream" (proxy to the chart backend) or "local"
	// (built-in strategies over upstream daily candles).
	BacktestMode string

	// MarketHolidays are extra closed dates, comma-separated YYYY-MM-DD.
	MarketHolidays string

	// Alerts. Each channel is enabled when its settings are present.
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
	AlertCooldown    time.Duration

	// Chart defaults
	StrategiesFile    string
	DefaultIndicators string
	InitialCapital    float64
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is loaded first when
// present; variables already set in the environment win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] reading .env: %v", err)
	}
	return &Config{
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),

		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", "http://localhost:5000"),
		FeedURL:         getEnv("FEED_URL", "ws://localhost:9001/ws"),
		FeedInstruments: getEnv("FEED_INSTRUMENTS", "NSE_INDEX|Nifty 50"),

		GatewayAddr: getEnv("GATEWAY_ADDR", ":9090"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		CacheTTL:      getEnvDuration("CACHE_TTL", time.Minute),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		TokenFile:     getEnv("TOKEN_FILE", "upstox_token.json"),

		BacktestMode:   parseMode(getEnv("BACKTEST_MODE", "upstream")),
		MarketHolidays: getEnv("MARKET_HOLIDAYS", ""),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertCooldown:    getEnvDuration("ALERT_COOLDOWN", 5*time.Minute),

		StrategiesFile:    getEnv("STRATEGIES_FILE", ""),
		DefaultIndicators: getEnv("DEFAULT_INDICATORS", "EMA:20,EMA:50"),
		InitialCapital:    getEnvFloat("INITIAL_CAPITAL", 100000),
	}
}

// Instruments parses FeedInstruments into a list of instrument keys.
func (c *Config) Instruments() []string {
	return splitList(c.FeedInstruments)
}

// Holidays parses MarketHolidays.
func (c *Config) Holidays() []string {
	return splitList(c.MarketHolidays)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		keys = append(keys, p)
	}
	return keys
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		log.Printf("[config] invalid LOG_LEVEL %q, using info", s)
		return slog.LevelInfo
	}
	return lvl
}

func parseMode(s string) string {
	switch m := strings.ToLower(strings.TrimSpace(s)); m {
	case "upstream", "local":
		return m
	default:
		log.Printf("[config] invalid BACKTEST_MODE %q, using upstream", s)
		return "upstream"
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		log.Printf("[config] skipping invalid %s value: %q", key, v)
		return fallback
	}
	return f
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Printf("[config] skipping invalid %s value: %q", key, v)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] skipping invalid %s value: %q", key, v)
		return fallback
	}
	return d
}
