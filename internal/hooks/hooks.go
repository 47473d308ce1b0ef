// Package hooks implements the Plugin/Hook Surface (C12): registration and
// priority-ordered dispatch of the fixed named hook points a conftest.py can
// implement, per §4.10. The hook names themselves are defined alongside
// conftest discovery (conftest.HookNames) since recognizing a function as a
// hook is part of parsing a conftest file; this package only registers and
// dispatches call sites.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flanksource/commons/logger"
)

// Args is the argument bag passed to one hook invocation. Hook
// implementations read from it by convention key (e.g. "item", "items",
// "report"); the coordinator is responsible for populating the keys a given
// hook name expects.
type Args map[string]any

// Outcome is what a hook handler returns: a hook may contribute a value
// (e.g. collection_modifyitems reordering the item list) or request that
// the run be cancelled outright.
type Outcome struct {
	Value  any
	Cancel bool
	Reason string
}

// Handler is one registered implementation of a named hook.
type Handler func(ctx context.Context, args Args) (Outcome, error)

// registration pairs a handler with its dispatch priority and the order it
// was registered in, used to break priority ties deterministically.
type registration struct {
	name     string
	priority int
	seq      int
	handler  Handler
}

// Registry holds every registered hook handler, keyed by hook name, and
// dispatches them in descending priority order with registration order as
// the tiebreak.
type Registry struct {
	mu    sync.RWMutex
	byName map[string][]registration
	seq    int
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string][]registration)}
}

// Register adds handler for the named hook point at priority (higher runs
// first). name should be one of conftest.HookNames; Register does not
// itself validate that, since a caller may legitimately register a handler
// before any conftest has been parsed.
func (r *Registry) Register(name string, priority int, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.byName[name] = append(r.byName[name], registration{name: name, priority: priority, seq: r.seq, handler: handler})
}

// Dispatch invokes every handler registered for name, highest priority
// first, in registration order among equal priorities. A handler's error is
// logged and does not stop dispatch of the remaining handlers, matching
// §4.10's "exception in hook is non-fatal" rule, unless the handler
// requests Cancel, in which case dispatch stops immediately and the
// cancelling Outcome is returned.
func (r *Registry) Dispatch(ctx context.Context, name string, args Args) ([]Outcome, error) {
	r.mu.RLock()
	regs := append([]registration(nil), r.byName[name]...)
	r.mu.RUnlock()

	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority > regs[j].priority
		}
		return regs[i].seq < regs[j].seq
	})

	var outcomes []Outcome
	for _, reg := range regs {
		outcome, err := reg.handler(ctx, args)
		if err != nil {
			logger.Warnf("hook %s handler failed: %v", name, err)
			continue
		}
		outcomes = append(outcomes, outcome)
		if outcome.Cancel {
			return outcomes, fmt.Errorf("hook %s cancelled the run: %s", name, outcome.Reason)
		}
	}
	return outcomes, nil
}

// Count returns how many handlers are registered for name.
func (r *Registry) Count(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName[name])
}
