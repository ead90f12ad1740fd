// Package main wires together the job monitoring service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ihabontop/jobwatch/internal/api"
	"github.com/ihabontop/jobwatch/internal/clock/system"
	"github.com/ihabontop/jobwatch/internal/config"
	"github.com/ihabontop/jobwatch/internal/listing"
	"github.com/ihabontop/jobwatch/internal/logging"
	"github.com/ihabontop/jobwatch/internal/metrics"
	"github.com/ihabontop/jobwatch/internal/monitor"
	"github.com/ihabontop/jobwatch/internal/notify"
	"github.com/ihabontop/jobwatch/internal/ratelimit"
	"github.com/ihabontop/jobwatch/internal/scheduler"
	"github.com/ihabontop/jobwatch/internal/source"
	memorystore "github.com/ihabontop/jobwatch/internal/store/memory"
	postgresstore "github.com/ihabontop/jobwatch/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer store.Close()

	sources, limiter := buildSources(cfg, logger)
	if len(sources) == 0 {
		logger.Warn("no sources enabled, cycles will only sweep notifications")
	}

	var transport listing.Transport
	if cfg.Webhook.URL != "" {
		webhook, err := notify.NewWebhookTransport(cfg.Webhook.URL, cfg.Webhook.Username, logger.Named("webhook"))
		if err != nil {
			logger.Fatal("webhook init failed", zap.Error(err))
		}
		if err := webhook.Test(ctx); err != nil {
			logger.Warn("webhook probe failed", zap.Error(err))
		}
		transport = webhook
	} else {
		logger.Info("no webhook configured, notifications are dropped")
		transport = notify.NopTransport{}
	}

	notifier, err := notify.New(store, transport, cfg.NotificationWindow(), cfg.RequestDelay(), logger.Named("notify"))
	if err != nil {
		logger.Fatal("notifier init failed", zap.Error(err))
	}

	clock := system.New()
	orchestrator, err := monitor.New(store, sources, notifier, transport, limiter, clock, monitor.Config{
		MaxConcurrent:   cfg.Scraping.MaxConcurrentRequests,
		AdapterTimeout:  cfg.AdapterTimeout(),
		RequestDelay:    cfg.RequestDelay(),
		SourceDelay:     cfg.SourceDelay(),
		DefaultLocation: cfg.Scraping.DefaultLocation,
	}, logger.Named("monitor"))
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}

	sched, err := scheduler.New(orchestrator, logger.Named("scheduler"))
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}
	if err := sched.Start(ctx, cfg.CycleInterval(), true); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}

	apiServer := api.NewServer(store, orchestrator, cfg.NotificationWindow(), logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	sched.Stop()
	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (listing.Store, error) {
	switch cfg.DB.Provider {
	case "postgres":
		store, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		seeded, err := store.SeedTopics(ctx)
		if err != nil {
			store.Close()
			return nil, err
		}
		if seeded > 0 {
			logger.Info("seeded starter topics", zap.Int("count", seeded))
		}
		return store, nil
	case "memory":
		logger.Info("using in-memory store, data is lost on restart")
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown db.provider %q", cfg.DB.Provider)
	}
}

// buildSources prepares one monitor.Source per enabled source. Adapters
// are opened by the orchestrator at cycle time, so a source that cannot
// be built today is retried on every cycle instead of staying dead
// until restart.
func buildSources(cfg config.Config, logger *zap.Logger) ([]monitor.Source, *ratelimit.Limiter) {
	registry := source.NewRegistry()
	opts := source.Options{
		UserAgent: cfg.Scraping.UserAgent,
		Logger:    logger.Named("source"),
	}

	var sources []monitor.Source
	sourceRPS := make(map[string]float64)
	for _, name := range cfg.EnabledSources() {
		srcCfg := cfg.Sources[name]
		sources = append(sources, monitor.Source{
			Name: name,
			Open: func() (listing.Adapter, error) {
				return registry.Open(name, srcCfg, opts)
			},
		})
		if srcCfg.RequestsPerSecond > 0 {
			sourceRPS[name] = srcCfg.RequestsPerSecond
		}
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS: 1,
		Burst:      1,
		SourceRPS:  sourceRPS,
	})
	return sources, limiter
}
