// Package scheduler runs the daily capture -> analyze -> prune cycle on a
// cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"chart-analysis-backend/internal/analyses"
	"chart-analysis-backend/internal/shared/telemetry"
)

// Runner is the daily job.
type Runner interface {
	RunDaily(ctx context.Context) (analyses.Row, error)
}

// parser accepts standard five-field specs, an optional leading seconds
// field, and descriptors such as @daily.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler manages the daily cron entry.
type Scheduler struct {
	Cron   *cron.Cron
	Runner Runner
	Ctx    context.Context

	spec    string
	timeout time.Duration
}

// New creates a Scheduler evaluating spec in loc. Each run is bounded by
// timeout when positive.
func New(ctx context.Context, runner Runner, spec string, loc *time.Location, timeout time.Duration) (*Scheduler, error) {
	if spec == "" {
		return nil, errors.New("schedule spec is empty")
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		Cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		Runner:  runner,
		Ctx:     ctx,
		spec:    spec,
		timeout: timeout,
	}
	if _, err := s.Cron.AddFunc(spec, s.dailyTask); err != nil {
		return nil, fmt.Errorf("register daily task %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	telemetry.Info("scheduler.started", map[string]any{"spec": s.spec, "next": s.Next()})
}

// Stop stops the scheduler and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	telemetry.Info("scheduler.stopped", nil)
}

// Next is the next scheduled run, or the zero time when not started.
func (s *Scheduler) Next() time.Time {
	entries := s.Cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow executes the daily task immediately.
func (s *Scheduler) RunNow() {
	s.dailyTask()
}

func (s *Scheduler) dailyTask() {
	ctx := s.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	telemetry.Info("scheduler.daily_started", nil)
	row, err := s.Runner.RunDaily(ctx)
	if err != nil {
		telemetry.Error("scheduler.daily_failed", map[string]any{"error": err.Error()})
		return
	}
	telemetry.Info("scheduler.daily_completed", map[string]any{
		"date":      row.AsOfDate,
		"annotated": row.AnnotatedChartURL != nil,
	})
}
