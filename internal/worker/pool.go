package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/flanksource/commons/logger"
)

// minPoolSize is the floor on worker count regardless of CPU count, so a
// single-core machine still gets a second worker to absorb a respawn without
// stalling every in-flight batch.
const minPoolSize = 2

// PoolConfig configures a Pool.
type PoolConfig struct {
	Size   int // worker count; 0 selects DefaultSize()
	Worker Config
}

// DefaultSize returns the default worker count: logical CPUs, minimum 2.
func DefaultSize() int {
	n := runtime.NumCPU()
	if n < minPoolSize {
		return minPoolSize
	}
	return n
}

// Pool manages a fixed-size set of persistent workers, reassigning a batch
// at most once if its worker dies mid-dispatch (§4.7).
type Pool struct {
	mu      sync.Mutex
	workers []*Worker
	next    int
}

// NewPool spawns cfg.Size (or DefaultSize()) workers.
func NewPool(cfg PoolConfig) (*Pool, error) {
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize()
	}

	p := &Pool{workers: make([]*Worker, 0, size)}
	for i := 0; i < size; i++ {
		w, err := New(i, cfg.Worker)
		if err != nil {
			p.Shutdown()
			return nil, fmt.Errorf("starting worker %d: %w", i, err)
		}
		p.workers = append(p.workers, w)
	}
	return p, nil
}

// acquire returns the next worker in round-robin order.
func (p *Pool) acquire() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.workers[p.next%len(p.workers)]
	p.next++
	return w
}

// Dispatch runs tests as one batch on the next available worker. On a
// protocol violation, the worker is respawned and the batch is retried
// exactly once on a different worker; a second failure is returned as an
// execution error rather than retried again, per §4.7.
func (p *Pool) Dispatch(ctx context.Context, tests []WireTest) ([]WireResult, error) {
	w := p.acquire()
	results, err := w.Dispatch(ctx, tests)
	if err == nil {
		return results, nil
	}

	logger.Warnf("worker %d dispatch failed, respawning: %v", w.id, err)
	if rerr := w.Restart(); rerr != nil {
		return nil, fmt.Errorf("worker %d unrecoverable: %w", w.id, rerr)
	}

	retry := p.acquire()
	results, retryErr := retry.Dispatch(ctx, tests)
	if retryErr != nil {
		return nil, fmt.Errorf("batch failed on retry after worker %d respawn: %w", w.id, retryErr)
	}
	return results, nil
}

// Stats returns a snapshot of every worker's counters.
func (p *Pool) Stats() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stats, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Stats()
	}
	return out
}

// Shutdown terminates every worker in the pool.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.Shutdown()
	}
}
