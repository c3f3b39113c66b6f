// Kestrel - Retail analytics over transaction ledgers.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"profile", cfg.Profile,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"ledger_sources", strings.Join(cfg.Ledger.Sources, ","),
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Ledger snapshots
	loader, err := ledger.FromConfig(cfg.Ledger, repo)
	if err != nil {
		slog.Error("failed to configure ledger", "error", err)
		os.Exit(1)
	}
	snapshots := ledger.NewSnapshots(loader, ledger.SnapshotConfig{
		TTL:        cfg.Ledger.SnapshotTTL,
		ServeStale: cfg.Ledger.ServeStale,
	})
	slog.Info("ledger initialized", "loader", loader.Name())

	svc, err := analytics.NewService(snapshots, cacheImpl, cfg.Analytics, cfg.Cache.ResultTTL)
	if err != nil {
		slog.Error("failed to initialize analytics", "error", err)
		os.Exit(1)
	}

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, repo, svc)
		workerCfg := worker.Config{
			Datasets:    cfg.Worker.Datasets,
			WorkerCount: cfg.Worker.Concurrency,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "dataset_count", len(cfg.Worker.Datasets))
		}
	}

	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, busImpl, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker first so in-flight runs are recorded.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func setupLogging(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  retail analytics core")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Profile:  %s\n", cfg.Profile)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints (dataset via X-Dataset-ID):")
	fmt.Println("    POST /rfm                     - RFM scores")
	fmt.Println("    POST /segments                - Customer segments")
	fmt.Println("    GET  /customers/{id}          - Customer profile")
	fmt.Println("    GET  /products?q=             - Product search")
	fmt.Println("    POST /basket/rules            - Association rules")
	fmt.Println("    POST /basket/recommendations  - Cross-sell recommendations")
	fmt.Println("    GET  /basket/bundles          - Top bundles")
	fmt.Println("    POST /risk/score              - Return risk of an order")
	fmt.Println("    GET  /risk/distribution       - Risk distribution")
	fmt.Println("    POST /policy/optimize         - Optimal blocking threshold")
	fmt.Println("    POST /policy/simulate         - Simulate one threshold")
	fmt.Println("    POST /ledger/refresh          - Reload a dataset")
	fmt.Println("    POST /analyses                - Queue an analysis")
	fmt.Println("    GET  /analyses/{id}           - Analysis result")
	fmt.Println("    GET  /health, /ready, /metrics")
	fmt.Println()
}
