package monitor

import "sync"

// Gate serializes batch runs at the caller boundary: the scheduler and the
// HTTP handlers share one Gate so at most one batch is in flight.
type Gate struct {
	mu sync.Mutex
}

// TryEnter attempts to claim the gate without blocking. The caller must call
// Leave when it returns true.
func (g *Gate) TryEnter() bool {
	return g.mu.TryLock()
}

// Leave releases the gate.
func (g *Gate) Leave() {
	g.mu.Unlock()
}
