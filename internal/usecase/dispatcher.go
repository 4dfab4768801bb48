package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ContentEngine/internal/domain"
	"ContentEngine/internal/ports"
)

// Dispatcher launches one job per active audience. Audiences run
// concurrently; their jobs are independent.
type Dispatcher struct {
	store        ports.JobStore
	orchestrator *Orchestrator
	formats      []domain.FormatType
	maxTopics    int
	logger       *slog.Logger
}

func NewDispatcher(store ports.JobStore, orchestrator *Orchestrator, formats []domain.FormatType, maxTopics int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:        store,
		orchestrator: orchestrator,
		formats:      formats,
		maxTopics:    maxTopics,
		logger:       logger,
	}
}

// RunOnce executes a full pipeline job for every active audience and
// returns the first error encountered, after all jobs finished.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	audiences, err := d.store.ListActiveAudiences(ctx)
	if err != nil {
		return fmt.Errorf("list audiences: %w", err)
	}
	if len(audiences) == 0 {
		d.logger.Info("no active audiences, nothing to dispatch")
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, audience := range audiences {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := d.orchestrator.Execute(ctx, domain.JobRequest{
				AudienceID:    audience.ID,
				OutputFormats: d.formats,
				MaxTopics:     d.maxTopics,
			})
			if err != nil {
				d.logger.Error("audience job failed", "audience", audience.ID, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			d.logger.Info("audience job finished",
				"audience", audience.ID, "job_id", job.ID, "status", job.Status,
				"total_ideas", job.TotalIdeas)
		}()
	}
	wg.Wait()
	return firstErr
}

// Scheduler wires the cron driver to recurring dispatch runs.
type Scheduler struct {
	driver     ports.Scheduler
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewScheduler(driver ports.Scheduler, dispatcher *Dispatcher, logger *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, dispatcher: dispatcher, logger: logger}
}

// Start registers the dispatcher with the cron driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.dispatcher == nil {
		return nil
	}
	return s.driver.Start(ctx, func(trigger time.Time) {
		s.logger.Info("scheduled dispatch", "trigger", trigger)
		if err := s.dispatcher.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled dispatch failed", "error", err)
		}
	})
}

// Stop tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
