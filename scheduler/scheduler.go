// Package scheduler runs periodic balance check batches on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/use-agent/balancewatch/models"
	"github.com/use-agent/balancewatch/monitor"
)

// RunFunc executes one full batch and returns its results.
type RunFunc func(ctx context.Context) []models.CheckResult

// CompletedFunc is invoked after every scheduled batch with its results.
type CompletedFunc func(results []models.CheckResult)

// Scheduler triggers batches every Interval. A tick that fires while another
// batch holds the gate is skipped rather than queued.
type Scheduler struct {
	cron      *cron.Cron
	gate      *monitor.Gate
	run       RunFunc
	completed CompletedFunc
	ctx       context.Context
}

// New creates a Scheduler. completed may be nil.
func New(ctx context.Context, gate *monitor.Gate, run RunFunc, completed CompletedFunc) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		gate:      gate,
		run:       run,
		completed: completed,
		ctx:       ctx,
	}
}

// Register schedules a batch every interval.
func (s *Scheduler) Register(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("scheduler: register %q: %w", spec, err)
	}
	slog.Info("scheduled periodic checks", "interval", interval.String())
	return nil
}

func (s *Scheduler) tick() {
	if s.ctx.Err() != nil {
		return
	}
	if !s.gate.TryEnter() {
		slog.Warn("skipping scheduled check, another batch is in flight")
		return
	}
	defer s.gate.Leave()

	slog.Info("scheduled check starting")
	results := s.run(s.ctx)
	if s.completed != nil {
		s.completed(results)
	}
}

// Start begins firing ticks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler stopped")
}
