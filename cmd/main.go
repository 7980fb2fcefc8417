// Command dipbuyer accumulates tokens on Uniswap (Arbitrum) whenever their price
// falls a configured percentage below the all-time high seen since the last purchase.
//
// Usage:
//
//	dipbuyer --config config.yaml --env .env
//	dipbuyer --setup (interactive configuration wizard)
//	dipbuyer --start (begin buying without waiting for the dashboard)
//
// Required environment variables in live mode:
//
//	ARBITRUM_RPC_URL, PRIVATE_KEY
//
// Optional: TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID, LISTEN_ADDR
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dipbuyer/config"
	"github.com/vadiminshakov/dipbuyer/internal"
	"github.com/vadiminshakov/dipbuyer/internal/events"
	"github.com/vadiminshakov/dipbuyer/internal/logger"
	"github.com/vadiminshakov/dipbuyer/internal/metrics"
	"github.com/vadiminshakov/dipbuyer/internal/notify"
	"github.com/vadiminshakov/dipbuyer/internal/services/coordinator"
	"github.com/vadiminshakov/dipbuyer/internal/setup"
	"github.com/vadiminshakov/dipbuyer/internal/storage/statestore"
	"github.com/vadiminshakov/dipbuyer/internal/web"
)

const (
	eventBuffer = 256
	// shutdownGrace bounds how long an in-flight swap confirmation may delay exit.
	shutdownGrace = 2 * time.Minute
)

func main() {
	flags := config.ParseFlags()

	if flags.Setup {
		if err := setup.RunTUI(flags.ConfigPath, flags.EnvPath); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := config.Get(flags)
	if err != nil {
		log.Fatal(err)
	}

	l, syncLogs, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer syncLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := statestore.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		l.Fatal("failed to open state store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	bus := events.NewBus(eventBuffer)
	go bus.Run(ctx, m)

	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, l.Named("telegram"))
		if err != nil {
			l.Fatal("failed to create telegram notifier", zap.Error(err))
		}
		go bus.Run(ctx, tg)
		l.Info("telegram notifications enabled")
	}

	configPath := flags.ConfigPath
	bot, err := coordinator.New(l.Named("coordinator"), cfg, internal.NewConnector(l).Connect, store, bus,
		coordinator.WithCycleObserver(m.ObserveCycle),
		coordinator.WithConfigSaver(func(c config.Config) error {
			return config.Save(configPath, c)
		}),
	)
	if err != nil {
		l.Fatal("failed to create bot", zap.Error(err))
	}

	server := web.NewServer(cfg.Server.Listen, bot, registry, l.Named("web"))
	server.EnableAutoTLS(cfg.Server.TLSDomains, cfg.Server.TLSCacheDir)
	go bus.Run(ctx, server.Hub())

	if flags.Start {
		if err := bot.Start(ctx); err != nil {
			l.Fatal("failed to start bot", zap.Error(err))
		}
	}

	l.Info("dipbuyer is up", zap.String("mode", cfg.Mode), zap.String("listen", cfg.Server.Listen))
	if err := server.Start(ctx); err != nil {
		l.Error("control surface stopped", zap.Error(err))
	}

	l.Info("shutting down, waiting for in-flight swaps", zap.Duration("grace", shutdownGrace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	bot.Shutdown(shutdownCtx)
}
