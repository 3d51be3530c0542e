package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ducminhle1904/futures-sim-engine/internal/config"
	"github.com/ducminhle1904/futures-sim-engine/internal/engine"
	engerr "github.com/ducminhle1904/futures-sim-engine/internal/errors"
	"github.com/ducminhle1904/futures-sim-engine/internal/instrument"
	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
	"github.com/ducminhle1904/futures-sim-engine/internal/logger"
	"github.com/ducminhle1904/futures-sim-engine/internal/monitoring"
	"github.com/ducminhle1904/futures-sim-engine/internal/notifications"
	"github.com/ducminhle1904/futures-sim-engine/internal/pricefeed"
	"github.com/ducminhle1904/futures-sim-engine/internal/report"
	"github.com/ducminhle1904/futures-sim-engine/pkg/types"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := config.Load()

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("engine daemon failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	jrnl, err := journal.OpenSQLite(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("failed to open trade journal: %w", err)
	}
	defer jrnl.Close()

	var feed pricefeed.Feed
	var instruments *instrument.Manager
	switch cfg.Feed.Exchange {
	case "static":
		feed = pricefeed.NewStatic()
		instruments = instrument.NewManager(nil)
	default:
		bybit := pricefeed.NewBybitFeed(pricefeed.BybitConfig{
			APIKey:    cfg.Feed.APIKey,
			APISecret: cfg.Feed.Secret,
			Testnet:   cfg.Feed.Testnet,
			Category:  "linear",
		})
		feed = bybit
		instruments = instrument.NewManager(bybit.FetchInstrument)
	}

	var notifier notifications.Notifier = notifications.Noop{}
	if cfg.Notifications.TelegramToken != "" {
		notifier = notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
	} else {
		zlog.Info("telegram notifications disabled, no token configured")
	}

	eng := engine.New(cfg.Engine, feed, instruments, jrnl, nil, zlog)
	if _, err := eng.InitAccount(cfg.Account.ID, cfg.Account.InitialBalance); err != nil {
		return fmt.Errorf("failed to initialize account: %w", err)
	}

	health := monitoring.NewHealthChecker(3 * cfg.Feed.Interval)
	metricsSrv := serveHTTP(cfg.Monitoring.PrometheusPort, "/metrics", monitoring.NewMetricsHandler(), zlog)
	healthSrv := serveHTTP(cfg.Monitoring.HealthPort, "/health", health, zlog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := cron.New(cron.WithSeconds())

	// Price tick pipeline.
	tickSpec := fmt.Sprintf("@every %s", cfg.Feed.Interval)
	if _, err := sched.AddFunc(tickSpec, func() {
		pollOnce(ctx, cfg, eng, feed, health, notifier, zlog)
	}); err != nil {
		return fmt.Errorf("failed to schedule tick job: %w", err)
	}

	// Breaker auto-resume poll: a no-op unless a cooldown has elapsed.
	if _, err := sched.AddFunc("@every 1m", func() {
		for _, accountID := range eng.Accounts() {
			err := eng.ResumeBreaker(accountID)
			if err != nil && !errors.Is(err, engerr.ErrCooldownActive) {
				zlog.Warn("breaker resume failed", zap.String("account_id", accountID), zap.Error(err))
			}
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule resume job: %w", err)
	}

	// Hourly console account report.
	if _, err := sched.AddFunc("@every 1h", func() {
		for _, accountID := range eng.Accounts() {
			stats, err := eng.GetStatistics(accountID)
			if err != nil {
				continue
			}
			report.RenderAccount(os.Stdout, accountID, stats.Account)
			report.RenderStats(os.Stdout, stats.Trades)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule report job: %w", err)
	}

	sched.Start()
	zlog.Info("engine daemon started",
		zap.String("account_id", cfg.Account.ID),
		zap.Strings("symbols", cfg.Feed.Symbols),
		zap.Duration("poll_interval", cfg.Feed.Interval),
	)

	<-ctx.Done()
	zlog.Info("shutting down")

	cronCtx := sched.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = healthSrv.Shutdown(shutdownCtx)
	return nil
}

// pollOnce pulls a price for every configured symbol and runs the monitor
// pipeline for every account.
func pollOnce(ctx context.Context, cfg *config.Config, eng *engine.Engine, feed pricefeed.Feed, health *monitoring.HealthChecker, notifier notifications.Notifier, zlog *zap.Logger) {
	now := time.Now()
	var ticks []types.PriceTick
	for _, symbol := range cfg.Feed.Symbols {
		price, err := feed.CurrentPrice(ctx, symbol)
		if err != nil {
			// Skip this symbol for the cycle, retry on the next.
			zlog.Warn("price unavailable", zap.String("symbol", symbol), zap.Error(err))
			health.FeedFailed()
			continue
		}
		ticks = append(ticks, types.NewPriceTick(symbol, price, now))
	}
	if len(ticks) == 0 {
		return
	}
	health.TickProcessed()

	for _, accountID := range eng.Accounts() {
		res, err := eng.UpdatePrices(ctx, accountID, ticks)
		if err != nil {
			zlog.Error("price update failed", zap.String("account_id", accountID), zap.Error(err))
			continue
		}
		for _, pos := range res.Liquidated {
			if err := notifier.SendAlert(ctx, notifications.LevelError,
				notifications.LiquidationOccurred(accountID, pos.Symbol, pos.RealizedPnL)); err != nil {
				zlog.Warn("liquidation alert failed", zap.Error(err))
			}
		}
		if res.Flatten != nil {
			if err := notifier.SendAlert(ctx, notifications.LevelError,
				notifications.BreakerTripped(accountID, len(res.Flatten.Closed), len(res.Flatten.Failed))); err != nil {
				zlog.Warn("breaker alert failed", zap.Error(err))
			}
		}
	}
}

func serveHTTP(port int, path string, handler http.Handler, zlog *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("http server stopped", zap.String("path", path), zap.Error(err))
		}
	}()
	return srv
}
