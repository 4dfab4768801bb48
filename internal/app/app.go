package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ContentEngine/internal/config"
	"ContentEngine/internal/connector"
	"ContentEngine/internal/domain"
	"ContentEngine/internal/infrastructure/embedding"
	"ContentEngine/internal/infrastructure/llm"
	"ContentEngine/internal/infrastructure/reddit"
	"ContentEngine/internal/infrastructure/rss"
	"ContentEngine/internal/infrastructure/scheduler"
	"ContentEngine/internal/infrastructure/storage"
	"ContentEngine/internal/infrastructure/youtube"
	"ContentEngine/internal/logging"
	"ContentEngine/internal/pipeline"
	"ContentEngine/internal/usecase"
)

// Application wires configuration to adapters, use cases, and lifecycle.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	return &Application{cfg: cfg, logger: baseLogger}
}

// Run connects the store, recovers stale jobs, and either runs one
// dispatch pass or starts the cron scheduler and blocks until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	store, err := storage.New(ctx, a.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	defer store.Close()

	failed, err := store.FailStaleRunning(ctx, "interrupted by process restart")
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	if failed > 0 {
		a.logger.Warn("failed stale running jobs from previous process", "count", failed)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	registry := connector.NewRegistry()
	registry.Register(reddit.New(a.cfg.Scraping.Reddit, httpClient, a.logger.With("component", "connector.reddit")))
	registry.Register(rss.New(a.cfg.Scraping.RSS, httpClient, a.logger.With("component", "connector.rss")))
	registry.Register(youtube.New(a.cfg.Scraping.YouTube, httpClient, a.logger.With("component", "connector.youtube")))

	generator := pipeline.NewIdeaGenerator(
		llm.New(a.cfg.Generation),
		a.cfg.Generation.MaxRetries,
		a.cfg.Generation.Concurrency,
		a.logger.With("component", "generator"),
	)

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Store:     store,
		Registry:  registry,
		Filter:    pipeline.NewFilter(a.cfg.Pipeline),
		Dedup:     pipeline.NewDeduplicator(a.cfg.Pipeline.SimilarityThreshold),
		Clusterer: pipeline.NewClusterer(a.cfg.Pipeline.Cluster),
		Embedder:  embedding.New(a.cfg.Embedding, a.logger.With("component", "embedder")),
		Generator: generator,
		Sources:   a.cfg.Scraping.Sources,
		Lookback:  time.Duration(a.cfg.Scraping.LookbackDays) * 24 * time.Hour,
		MaxItems:  a.cfg.Scraping.MaxItemsPerSource,
		Logger:    a.logger.With("component", "orchestrator"),
	})

	formats := domain.ParseFormats(a.cfg.Generation.OutputFormats)
	dispatcher := usecase.NewDispatcher(store, orchestrator, formats, a.cfg.Generation.MaxTopics,
		a.logger.With("component", "dispatcher"))

	if !a.cfg.Scheduler.Enabled {
		return dispatcher.RunOnce(ctx)
	}

	sched := usecase.NewScheduler(
		scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression),
		dispatcher,
		a.logger.With("component", "scheduler"),
	)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started", "cron", a.cfg.Scheduler.CronExpression)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	return sched.Stop(stopCtx)
}
