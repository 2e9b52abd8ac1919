package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/balancewatch/models"
)

// Process is the liveness/teardown surface of one external worker process.
// The production implementation (see spawn.go) combines a process-alive
// check with a control-port connectivity probe.
type Process interface {
	Alive() bool
	Kill()
}

// Worker owns one external browser process and its control endpoint.
// Exactly one owner (the pool); never shared between pipelines.
type Worker struct {
	ID         string
	Port       int
	ControlURL string
	Proc       Process

	createdAt time.Time
	lastUsed  time.Time
	useCount  uint64
	busy      bool
}

// Ticket proves an exclusive lease of one pooled worker. It must be returned
// exactly once via Release. The slot id is stable: purged workers are deleted
// from the table and ids are never reused, so an outstanding ticket can only
// ever refer to its own slot.
type Ticket struct {
	ControlURL string
	slot       string
}

// SpawnFunc launches one external worker process and returns its handle.
// It blocks until the worker's control port accepts connections or fails.
type SpawnFunc func(id string) (*Worker, error)

// Config controls the browser pool size limits.
type Config struct {
	// Size is the number of workers pre-created at startup.
	Size int // default: 4

	// MaxSize is the absolute maximum number of live workers.
	MaxSize int // default: 9
}

// BrowserPool manages a bounded set of long-lived external browser processes
// with ticket-based acquire/release. Acquisition is non-blocking: callers
// needing a guaranteed lease poll via AcquireWithin, which waits outside the
// pool lock between attempts.
type BrowserPool struct {
	mu       sync.Mutex
	workers  map[string]*Worker
	spawn    SpawnFunc
	maxSize  int
	seq      int
	shutdown bool

	totalCreated  uint64
	totalReused   uint64
	totalRequests uint64
}

// New creates a BrowserPool and pre-creates cfg.Size workers. A failed
// pre-creation is logged and skipped, so the pool may start smaller than
// configured.
func New(cfg Config, spawn SpawnFunc) *BrowserPool {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	if cfg.MaxSize < cfg.Size {
		cfg.MaxSize = cfg.Size
	}

	p := &BrowserPool{
		workers: make(map[string]*Worker),
		spawn:   spawn,
		maxSize: cfg.MaxSize,
	}

	slog.Info("initialising browser pool", "size", cfg.Size, "maxSize", cfg.MaxSize)
	for i := 0; i < cfg.Size; i++ {
		if _, err := p.spawnLocked(); err != nil {
			slog.Warn("browser pool pre-creation failed", "error", err)
		}
	}
	return p
}

// TryAcquire attempts to lease a worker without blocking on availability.
// It returns (nil, nil) when every live worker is busy and the pool is at
// its maximum size. Spawn failures are returned to the caller rather than
// retried internally.
func (p *BrowserPool) TryAcquire() (*Ticket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return nil, fmt.Errorf("pool: acquire after shutdown")
	}

	p.purgeDeadLocked()

	// Reuse an idle, live worker.
	for id, w := range p.workers {
		if w.busy {
			continue
		}
		if !w.Proc.Alive() {
			continue
		}
		w.busy = true
		w.useCount++
		w.lastUsed = time.Now()
		p.totalReused++
		p.totalRequests++
		return &Ticket{ControlURL: w.ControlURL, slot: id}, nil
	}

	// Scale up if under the maximum.
	if len(p.workers) < p.maxSize {
		w, err := p.spawnLocked()
		if err != nil {
			return nil, err
		}
		w.busy = true
		w.useCount++
		w.lastUsed = time.Now()
		p.totalRequests++
		return &Ticket{ControlURL: w.ControlURL, slot: w.ID}, nil
	}

	// Every worker busy and the pool is at max.
	return nil, nil
}

// AcquireWithin polls TryAcquire until a ticket is obtained, the timeout
// elapses, or ctx is cancelled. The wait between attempts happens strictly
// outside the pool lock.
func (p *BrowserPool) AcquireWithin(ctx context.Context, timeout time.Duration) (*Ticket, error) {
	deadline := time.Now().Add(timeout)
	for {
		t, err := p.TryAcquire()
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
		if time.Now().After(deadline) {
			return nil, models.NewCheckError(
				models.ErrCodePoolExhausted,
				fmt.Sprintf("no browser worker available within %s", timeout),
				nil,
			)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(120 * time.Millisecond):
		}
	}
}

// Release marks the leased worker idle again. It never closes the process.
// Releasing a ticket whose slot was torn down by Shutdown is a no-op.
func (p *BrowserPool) Release(t *Ticket) {
	if t == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[t.slot]; ok {
		w.busy = false
		w.lastUsed = time.Now()
	}
}

// Shutdown terminates and reaps every managed process. Idempotent.
func (p *BrowserPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return
	}
	p.shutdown = true
	for id, w := range p.workers {
		w.Proc.Kill()
		delete(p.workers, id)
	}
	slog.Info("browser pool shut down")
}

// Stats returns a snapshot of the pool's current state.
func (p *BrowserPool) Stats() models.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	busy := 0
	for _, w := range p.workers {
		if w.busy {
			busy++
		}
	}
	s := models.PoolStats{
		Size:          len(p.workers),
		MaxSize:       p.maxSize,
		Busy:          busy,
		Idle:          len(p.workers) - busy,
		TotalCreated:  p.totalCreated,
		TotalReused:   p.totalReused,
		TotalRequests: p.totalRequests,
	}
	if p.totalRequests > 0 {
		s.ReuseRatePct = float64(p.totalReused) / float64(p.totalRequests) * 100.0
	}
	return s
}

// spawnLocked launches a new worker and adds it to the table. Caller must
// hold p.mu (or be the constructor, before the pool is published).
func (p *BrowserPool) spawnLocked() (*Worker, error) {
	id := fmt.Sprintf("browser_%d", p.seq)
	p.seq++

	w, err := p.spawn(id)
	if err != nil {
		return nil, models.NewCheckError(
			models.ErrCodeWorkerSpawn,
			fmt.Sprintf("spawn worker %s", id),
			err,
		)
	}
	w.ID = id
	w.createdAt = time.Now()
	w.lastUsed = w.createdAt
	p.workers[id] = w
	p.totalCreated++
	slog.Debug("browser worker spawned", "id", id, "port", w.Port)
	return w, nil
}

// purgeDeadLocked removes workers that are idle and fail the liveness probe.
// A busy worker is never purged even if the probe fails: it may be mid-use.
func (p *BrowserPool) purgeDeadLocked() {
	for id, w := range p.workers {
		if w.busy {
			continue
		}
		if !w.Proc.Alive() {
			slog.Warn("removing dead browser worker", "id", id)
			w.Proc.Kill()
			delete(p.workers, id)
		}
	}
}
