package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/detection"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/feedback"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rulepack"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/velocity"
	"github.com/opensource-finance/harrier/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the detection server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	setupLogger(cfg.Logging)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"service", cfg.Tracing.ServiceName,
	)

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Persist detections and reports published on the bus
	projector := worker.NewWorker(busImpl, repo)
	if err := projector.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	defer projector.Stop()

	// Rule store
	store := rules.NewStore(repo)
	store.OnChange(func(evt domain.RuleChangeEvent) {
		publishJSON(context.Background(), busImpl, domain.TopicRuleChanged, evt)
	})
	loaded, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("rules loaded from repository", "count", loaded)

	switch {
	case cfg.Rules.PackPath != "":
		loader := rulepack.NewLoader(cfg.Rules.PackPath, store)
		if _, err := loader.Apply(ctx); err != nil {
			return err
		}
		if cfg.Rules.WatchPack {
			stopWatch, err := loader.Watch(ctx)
			if err != nil {
				return err
			}
			defer stopWatch()
		}
	case loaded == 0 && cfg.Rules.SeedRules:
		seeded, err := store.Replace(ctx, rules.SeedRules())
		if err != nil {
			return fmt.Errorf("failed to install seed rules: %w", err)
		}
		slog.Info("seed rules installed", "count", len(seeded))
	}

	// Rule engine with the optional model fallback
	var scorer rules.ModelScorer
	if cfg.Detection.Model.Enabled {
		scorer = model.NewBusScorer(busImpl, cfg.Detection.Model.Threshold)
		slog.Info("model fallback enabled",
			"timeout", cfg.Detection.Model.Timeout,
			"threshold", cfg.Detection.Model.Threshold,
		)
	}
	engine := rules.NewEngine(scorer, cfg.Detection.Model.Timeout)

	var velocitySvc *velocity.Service
	if cfg.Velocity.Enabled {
		velocitySvc = velocity.NewService(cacheImpl, cfg.Velocity.Window)
		slog.Info("velocity facts enabled", "window", velocitySvc.Window())
	}

	// Feedback store, restored from the repository
	fb := feedback.NewStore()
	if err := restoreFeedback(ctx, repo, fb); err != nil {
		return err
	}
	fb.OnReport(func(ctx context.Context, r *domain.FraudReport) {
		publishJSON(ctx, busImpl, domain.TopicFraudReport, r)
	})

	pipeline := detection.NewPipeline(store, engine, fb, detection.Options{
		Workers:  cfg.Detection.Workers,
		Velocity: velocitySvc,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Repo:     repo,
	})

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Pipeline: pipeline,
		Rules:    store,
		Feedback: fb,
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Worker:   projector,
		Version:  Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"rule_version", store.Snapshot().Version(),
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
	return nil
}

func setupLogger(cfg domain.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// restoreFeedback reloads persisted verdicts and reports so quality metrics
// survive restarts.
func restoreFeedback(ctx context.Context, repo domain.Repository, fb *feedback.Store) error {
	txs, err := repo.ListTransactions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}
	results, err := repo.ListDetections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list detections: %w", err)
	}
	reports, err := repo.ListReports(ctx)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	fb.Restore(txs, results, reports)
	predicted, reported := fb.Counts()
	slog.Info("feedback restored", "predicted", predicted, "reported", reported)
	return nil
}

func publishJSON(ctx context.Context, b domain.EventBus, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := b.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HARRIER - Fraud Decision Engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Storage:  %s / %s / %s\n", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /detection/realtime       - Score one transaction")
	fmt.Println("    POST   /detection/batch          - Score a batch of transactions")
	fmt.Println("    POST   /detection/report         - Report fraud (ground truth)")
	fmt.Println("    GET    /detection/{id}           - Get a verdict")
	fmt.Println("    GET    /rules                    - List rules")
	fmt.Println("    POST   /rules                    - Create a rule")
	fmt.Println("    PUT    /rules/{id}               - Patch a rule")
	fmt.Println("    PUT    /rules/{id}/active        - Activate or deactivate")
	fmt.Println("    PUT    /rules/{id}/priority      - Change priority")
	fmt.Println("    DELETE /rules/{id}               - Delete a rule")
	fmt.Println("    GET    /transactions             - Scored transactions")
	fmt.Println("    GET    /analytics/confusion      - Confusion matrix")
	fmt.Println("    GET    /analytics/breakdown      - Counts by dimension")
	fmt.Println("    GET    /analytics/timeseries     - Counts over time")
	fmt.Println("    GET    /health, /ready, /metrics - Operations")
	fmt.Println()
}
