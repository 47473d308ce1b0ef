// Package strategy implements the Strategy Selector (C7): choosing how a
// filtered item list is executed based on its size and fixture usage.
package strategy

import "github.com/fastest-run/fastest/internal/item"

// Strategy tags one of the three execution modes of §4.6.
type Strategy string

const (
	// InProcess is chosen for small suites. The coordinator dispatches it
	// the same way as ParallelBatched: one batch per module, spread across
	// the whole worker pool; it is not confined to a single worker.
	InProcess Strategy = "in_process"
	// ParallelBatched groups items by module, one batch per module,
	// distributed across the worker pool.
	ParallelBatched Strategy = "parallel_batched"
	// MassivelyParallel further subdivides module batches to target
	// ~50 items per batch. Batches go to workers round-robin; there is no
	// work-stealing between workers.
	MassivelyParallel Strategy = "massively_parallel"
)

// Thresholds are the item-count boundaries that select a strategy; both are
// configuration-overridable defaults per §4.6.
type Thresholds struct {
	InProcessMax int // N <= this uses InProcess
	BatchedMax   int // this < N <= here uses ParallelBatched; above uses MassivelyParallel
}

// DefaultThresholds matches §4.6's defaults.
var DefaultThresholds = Thresholds{InProcessMax: 20, BatchedMax: 1000}

// TargetBatchSize is the item count a MassivelyParallel batch is split
// toward.
const TargetBatchSize = 50

// ScopeLookup resolves the scope of a named fixture as seen from it, the
// way the fixture graph would. Select uses it to decide whether any item
// pulls in a class-scoped or wider fixture, which disqualifies InProcess
// even under the item-count threshold.
type ScopeLookup func(it item.TestItem, fixtureName string) item.Scope

// Select picks a strategy for items, given thresholds and whether the run
// requested fail-fast (which forces sequential dispatch regardless of
// count, per §4.6). scopeOf may be nil, in which case Select conservatively
// treats any non-built-in fixture dependency as disqualifying InProcess.
func Select(items []item.TestItem, t Thresholds, failFast bool, scopeOf ScopeLookup) Strategy {
	if failFast {
		return InProcess
	}

	n := len(items)
	switch {
	case n <= t.InProcessMax && !usesWiderThanFunctionScope(items, scopeOf):
		return InProcess
	case n <= t.BatchedMax:
		return ParallelBatched
	default:
		return MassivelyParallel
	}
}

// usesWiderThanFunctionScope reports whether any item depends, directly or
// via scopeOf, on a fixture whose scope is class, module, or session.
func usesWiderThanFunctionScope(items []item.TestItem, scopeOf ScopeLookup) bool {
	for _, it := range items {
		for _, f := range it.Fixtures {
			if item.IsBuiltin(f) {
				continue
			}
			if scopeOf == nil {
				return true
			}
			if s := scopeOf(it, f); s != item.ScopeFunction {
				return true
			}
		}
	}
	return false
}
