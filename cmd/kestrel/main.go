// Osprey - Transaction monitoring that deploys in 60 seconds.
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
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("KESTREL_CONFIG"), "Path to a YAML config file")
	workers := flag.Int("workers", 5, "Concurrent timelines scored by the async worker")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"use_typologies", cfg.Scoring.UseTypologies,
	)
	if cfg.Tracing.Enabled {
		// spans go to whatever provider is registered globally
		slog.Info("tracing enabled", "service", cfg.Tracing.ServiceName)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	velocitySvc := velocity.NewService(repo, cacheImpl)

	engine, err := rules.NewEngine(velocitySvc.InteractionCount, 100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	typologyEngine := rules.NewTypologyEngine()
	if err := loadTypologies(ctx, repo, typologyEngine); err != nil {
		slog.Error("failed to load typologies", "error", err)
		os.Exit(1)
	}
	slog.Info("typology engine initialized", "typologies_count", typologyEngine.TypologyCount())

	processor := decision.FromConfig(cfg.Scoring)
	scorer := decision.NewScorer(engine, typologyEngine, processor)
	slog.Info("decision processor initialized",
		"threshold", processor.AlertThreshold,
		"use_typologies", processor.UseTypologies,
	)

	m := metrics.New()
	pipeline := &worker.Pipeline{
		Store:          repo,
		Cache:          cacheImpl,
		Velocity:       velocitySvc,
		Scorer:         scorer,
		Metrics:        m,
		VectorTTL:      cfg.Scoring.VectorTTL,
		SharedIPBucket: cfg.Scoring.SharedIPBucket,
	}

	asyncWorker := worker.NewWorker(busImpl, pipeline)
	if err := asyncWorker.Start(worker.Config{WorkerCount: *workers}); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Store:      repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Engine:     engine,
		Typologies: typologyEngine,
		Scorer:     scorer,
		Pipeline:   pipeline,
		Registry:   patterns.Default(),
		Metrics:    m,
		Generation: cfg.Generation,
		Version:    Version,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadRules loads the stored rules, seeding the defaults into an empty store.
func loadRules(ctx context.Context, repo domain.TimelineStore, engine *rules.Engine) error {
	stored, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	if len(stored) == 0 {
		stored = rules.DefaultRules()
		for _, r := range stored {
			if err := repo.SaveRuleConfig(ctx, r); err != nil {
				return fmt.Errorf("failed to seed rule %s: %w", r.ID, err)
			}
		}
		slog.Info("seeded default rules", "count", len(stored))
	}
	return engine.LoadRules(stored)
}

// loadTypologies loads the stored typologies, seeding the defaults into an empty store.
func loadTypologies(ctx context.Context, repo domain.TimelineStore, engine *rules.TypologyEngine) error {
	stored, err := repo.ListTypologies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list typologies: %w", err)
	}
	if len(stored) == 0 {
		stored = rules.DefaultTypologies()
		for _, t := range stored {
			if err := repo.SaveTypology(ctx, t); err != nil {
				return fmt.Errorf("failed to seed typology %s: %w", t.ID, err)
			}
		}
		slog.Info("seeded default typologies", "count", len(stored))
	}
	engine.LoadTypologies(stored)
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  behavioral timeline synthesis")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /patterns               - List pattern generators")
	fmt.Println("    POST /corpus                 - Generate and store a labeled corpus")
	fmt.Println("    GET  /users/{id}/timeline    - Stored timeline")
	fmt.Println("    GET  /users/{id}/features    - Feature vector")
	fmt.Println("    POST /users/{id}/assess      - Score a stored timeline")
	fmt.Println("    POST /timelines/validate     - Check an inline timeline")
	fmt.Println("    POST /features/extract       - Extract an inline timeline")
	fmt.Println("    POST /assess                 - Score an inline timeline")
	fmt.Println("    GET  /rules, /typologies     - Scoring configuration")
	fmt.Println("    GET  /health, /ready, /metrics")
	fmt.Println()
}
