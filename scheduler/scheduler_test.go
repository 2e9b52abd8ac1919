package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/balancewatch/models"
	"github.com/use-agent/balancewatch/monitor"
)

func TestRegisterRejectsNonPositiveInterval(t *testing.T) {
	s := New(context.Background(), &monitor.Gate{}, func(context.Context) []models.CheckResult { return nil }, nil)
	if err := s.Register(0); err == nil {
		t.Error("expected error for zero interval")
	}
	if err := s.Register(-time.Second); err == nil {
		t.Error("expected error for negative interval")
	}
}

func TestTickSkipsWhenGateHeld(t *testing.T) {
	var runs atomic.Int32
	gate := &monitor.Gate{}
	s := New(context.Background(), gate, func(context.Context) []models.CheckResult {
		runs.Add(1)
		return nil
	}, nil)

	if !gate.TryEnter() {
		t.Fatal("could not pre-claim the gate")
	}
	s.tick()
	if runs.Load() != 0 {
		t.Error("tick ran a batch while the gate was held")
	}
	gate.Leave()

	s.tick()
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1 after the gate was freed", runs.Load())
	}
}

func TestTickInvokesCompletedCallback(t *testing.T) {
	var got []models.CheckResult
	want := []models.CheckResult{{Username: "alice", Success: true}}

	s := New(context.Background(), &monitor.Gate{}, func(context.Context) []models.CheckResult {
		return want
	}, func(results []models.CheckResult) {
		got = results
	})

	s.tick()
	if len(got) != 1 || got[0].Username != "alice" {
		t.Errorf("completed callback got %+v, want the batch results", got)
	}
}

func TestTickStopsAfterContextCancel(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, &monitor.Gate{}, func(context.Context) []models.CheckResult {
		runs.Add(1)
		return nil
	}, nil)

	cancel()
	s.tick()
	if runs.Load() != 0 {
		t.Error("tick ran a batch after the context was cancelled")
	}
}
