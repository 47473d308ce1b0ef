// Package shutdown coordinates teardown when a run is interrupted: it runs
// registered hooks in a fixed priority order rather than whatever order
// init() happened to register in. In this module only the worker pool
// registers a hook; the discovery cache and the report sink register none.
package shutdown

import (
	"container/heap"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/flanksource/commons/logger"
)

// Lower runs first. Worker subprocesses are killed before the discovery
// cache is persisted, since a fixture value handle held by a killed worker
// is of no use to a cache entry written after the fact.
const (
	PriorityReporters = 0
	PriorityDefault   = 100
	PriorityWorkers   = 200
	PriorityCache     = 300
	PriorityCritical  = 400
)

// Hook is one registered teardown step, ordered by priority within the heap.
type Hook struct {
	label    string
	priority int
	fn       func()
	index    int // for heap interface
}

type HookHeap []*Hook

func (h HookHeap) Len() int           { return len(h) }
func (h HookHeap) Less(i, j int) bool { return h[i].priority < h[j].priority }
func (h HookHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *HookHeap) Push(x any) {
	n := len(*h)
	item := x.(*Hook)
	item.index = n
	*h = append(*h, item)
}

func (h *HookHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*h = old[0 : n-1]
	return item
}

var (
	hooks    HookHeap
	hooksMux sync.Mutex
	once     sync.Once
)

// AddHook registers fn to run at PriorityDefault.
func AddHook(label string, fn func()) {
	AddHookWithPriority(label, PriorityDefault, fn)
}

// AddHookWithPriority registers fn to run at the given priority; lower
// priorities run first. The worker pool registers itself here so pool.Shutdown
// runs before anything depending on its subprocesses having already exited.
func AddHookWithPriority(label string, priority int, fn func()) {
	hooksMux.Lock()
	defer hooksMux.Unlock()

	hook := &Hook{
		label:    label,
		priority: priority,
		fn:       fn,
	}
	heap.Push(&hooks, hook)
}

// Shutdown runs every registered hook in priority order, lowest first. A
// panicking hook is logged and does not stop the remaining hooks from
// running: a worker pool that fails to drain cleanly shouldn't also prevent
// the discovery cache from being flushed.
func Shutdown() {
	hooksMux.Lock()
	defer hooksMux.Unlock()

	if len(hooks) == 0 {
		return
	}

	logger.Infof("fastest: running %d shutdown hooks", len(hooks))

	for hooks.Len() > 0 {
		hook := heap.Pop(&hooks).(*Hook)
		logger.Debugf("fastest: shutdown hook %s (priority=%d)", hook.label, hook.priority)

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("fastest: panic in shutdown hook %s: %v", hook.label, r)
				}
			}()
			hook.fn()
		}()
	}

	logger.Infof("fastest: all shutdown hooks complete")
}

// WaitForSignal blocks until SIGINT/SIGTERM, then runs Shutdown and exits. A
// second signal during teardown forces an immediate exit rather than waiting
// for a worker subprocess that may never respond.
func WaitForSignal() {
	once.Do(func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		sig := <-sigChan
		_, _ = fmt.Fprintf(os.Stderr, "\nReceived %s - running shutdown hooks...\n", sig)
		_, _ = fmt.Fprintf(os.Stderr, "   Press Ctrl+C again to force immediate exit\n\n")

		go func() {
			<-sigChan
			_, _ = fmt.Fprintf(os.Stderr, "\nForce exit\n")
			os.Exit(1)
		}()

		Shutdown()
		os.Exit(0)
	})
}

// RunAndWait runs fn and, if it succeeds, blocks in WaitForSignal rather than
// returning immediately -- for a caller that wants signal-triggered teardown
// without managing the goroutine itself.
func RunAndWait(fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	WaitForSignal()
	return nil
}
