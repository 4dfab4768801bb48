package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"ContentEngine/internal/ports"
)

// CronScheduler drives recurring dispatch from a standard 5-field cron
// expression.
type CronScheduler struct {
	spec string
	cron *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

func NewCronScheduler(spec string) *CronScheduler {
	return &CronScheduler{spec: spec}
}

// Start schedules job on the cron expression. The job receives the
// trigger time.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil || c.cron != nil {
		return nil
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.spec, func() {
		if ctx.Err() != nil {
			return
		}
		job(time.Now())
	}); err != nil {
		c.cron = nil
		return err
	}
	c.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running invocation to finish or
// the context to expire, whichever comes first.
func (c *CronScheduler) Stop(ctx context.Context) error {
	if c.cron == nil {
		return nil
	}
	done := c.cron.Stop().Done()
	c.cron = nil
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
