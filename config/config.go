package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment
// variables (optionally seeded from a local .env file).
type Config struct {
	// Angel One credentials. Required unless Staging is set.
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Candle source
	Staging      bool   // use the local candle simulator, no broker login
	CandleAPIURL string // base URL override for the candle API (staging)
	Interval     string // broker interval name, e.g. FIFTEEN_MINUTE

	// Default instrument for checks that do not name one
	DefaultToken    string
	DefaultExchange string

	// Infrastructure
	SQLitePath    string
	ListenAddr    string
	MetricsAddr   string
	RedisAddr     string // empty disables the live publisher
	RedisPassword string

	// Notifications (all optional)
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	LogLevel string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first; values already exported win over the
// file, which is godotenv's default behavior.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env")
	}

	cfg := &Config{
		Staging:      strings.EqualFold(os.Getenv("STAGING_MODE"), "true"),
		CandleAPIURL: getEnv("CANDLE_API_URL", ""),
		Interval:     getEnv("CANDLE_INTERVAL", "FIFTEEN_MINUTE"),

		// Default: SBIN on NSE
		DefaultToken:    getEnv("DEFAULT_TOKEN", "3045"),
		DefaultExchange: getEnv("DEFAULT_EXCHANGE", "NSE"),

		SQLitePath:    getEnv("SQLITE_PATH", "data/trade_signals.db"),
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	// Broker credentials are only needed when we talk to the real API.
	if !cfg.Staging {
		cfg.AngelAPIKey = mustEnv("ANGEL_API_KEY")
		cfg.AngelClientCode = mustEnv("ANGEL_CLIENT_CODE")
		cfg.AngelPassword = mustEnv("ANGEL_PASSWORD")
		cfg.AngelTOTPSecret = mustEnv("ANGEL_TOTP_SECRET")
	}

	return cfg
}

// intervalSpans maps broker interval names to their candle duration.
var intervalSpans = map[string]time.Duration{
	"ONE_MINUTE":     time.Minute,
	"THREE_MINUTE":   3 * time.Minute,
	"FIVE_MINUTE":    5 * time.Minute,
	"TEN_MINUTE":     10 * time.Minute,
	"FIFTEEN_MINUTE": 15 * time.Minute,
	"THIRTY_MINUTE":  30 * time.Minute,
	"ONE_HOUR":       time.Hour,
	"ONE_DAY":        24 * time.Hour,
}

// IntervalSpan returns the duration of one candle of the configured
// interval. Unknown interval names fall back to fifteen minutes, which is
// what every recorded check so far has used.
func (c *Config) IntervalSpan() time.Duration {
	if d, ok := intervalSpans[strings.ToUpper(strings.TrimSpace(c.Interval))]; ok {
		return d
	}
	log.Printf("[config] unknown CANDLE_INTERVAL %q, using FIFTEEN_MINUTE", c.Interval)
	return 15 * time.Minute
}

// mustEnv reads a variable the process cannot run without; Load exits
// when it is missing or empty.
func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] %s must be set", key)
	}
	return v
}

// getEnv treats unset and empty the same and returns fallback for both.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
