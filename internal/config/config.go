package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/futures-sim-engine/internal/batch"
	"github.com/ducminhle1904/futures-sim-engine/internal/engine"
	"github.com/ducminhle1904/futures-sim-engine/internal/order"
	"github.com/ducminhle1904/futures-sim-engine/internal/safety"
)

// Config is the process-level configuration for the engine daemon.
type Config struct {
	Environment string
	LogLevel    string
	LogFile     string

	Engine engine.Config

	Account struct {
		ID             string
		InitialBalance float64
	}

	Feed struct {
		Exchange string // "bybit" or "static"
		APIKey   string
		Secret   string
		Testnet  bool
		Symbols  []string
		Interval time.Duration // tick poll interval
	}

	Journal struct {
		Path string // sqlite file, ":memory:" for ephemeral runs
	}

	Monitoring struct {
		PrometheusPort int
		HealthPort     int
	}

	Notifications struct {
		TelegramToken  string
		TelegramChatID string
	}
}

// Load reads configuration from the environment, falling back to simulator
// defaults. Call godotenv.Load first when a .env file is in play.
func Load() *Config {
	cfg := &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		Engine:      engine.DefaultConfig(),
	}

	cfg.Engine.Order = order.Config{
		MaintenanceMarginRate: getEnvFloat("MAINTENANCE_MARGIN_RATE", 0.005),
		MinLeverage:           getEnvInt("MIN_LEVERAGE", 1),
		MaxLeverage:           getEnvInt("MAX_LEVERAGE", 125),
		TakerFeeRate:          getEnvFloat("TAKER_FEE_RATE", 0.0004),
	}
	cfg.Engine.Breaker = safety.Config{
		LookbackTrades:    getEnvInt("BREAKER_LOOKBACK_TRADES", 5),
		HardStopThreshold: getEnvInt("BREAKER_HARD_STOP_THRESHOLD", 3),
		HardLossFraction:  getEnvFloat("BREAKER_HARD_LOSS_FRACTION", 0.125),
		Cooldown:          getEnvDuration("BREAKER_COOLDOWN", 4*time.Hour),
	}
	cfg.Engine.Batch = batch.Config{
		Ratios:     getEnvFloats("BATCH_RATIOS", []float64{0.3, 0.3, 0.4}),
		LegTimeout: getEnvDuration("BATCH_LEG_TIMEOUT", 5*time.Minute),
	}
	cfg.Engine.CandleInterval = getEnv("CANDLE_INTERVAL", "60")
	cfg.Engine.CandleLookback = getEnvInt("CANDLE_LOOKBACK", 168)
	cfg.Engine.LimitOrderTTL = getEnvDuration("LIMIT_ORDER_TTL", 30*time.Minute)

	cfg.Account.ID = getEnv("ACCOUNT_ID", "default")
	cfg.Account.InitialBalance = getEnvFloat("INITIAL_BALANCE", 10000)

	cfg.Feed.Exchange = getEnv("FEED_EXCHANGE", "bybit")
	cfg.Feed.APIKey = getEnv("BYBIT_API_KEY", "")
	cfg.Feed.Secret = getEnv("BYBIT_API_SECRET", "")
	cfg.Feed.Testnet = getEnvBool("BYBIT_TESTNET", true)
	cfg.Feed.Symbols = getEnvList("FEED_SYMBOLS", []string{"BTCUSDT"})
	cfg.Feed.Interval = getEnvDuration("FEED_POLL_INTERVAL", 15*time.Second)

	cfg.Journal.Path = getEnv("JOURNAL_PATH", "trades.db")

	cfg.Monitoring.PrometheusPort = getEnvInt("PROMETHEUS_PORT", 8080)
	cfg.Monitoring.HealthPort = getEnvInt("HEALTH_PORT", 8081)

	cfg.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", "")
	cfg.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultVal
}

func getEnvFloats(key string, defaultVal []float64) []float64 {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		out := make([]float64, 0, len(parts))
		for _, p := range parts {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return defaultVal
			}
			out = append(out, parsed)
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultVal
}
