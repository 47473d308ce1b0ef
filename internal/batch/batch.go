// Package batch implements the Batch Scheduler (C9): grouping filtered
// items into dispatch units, handing them to the worker pool via typed task
// groups, and reassembling results in original collection order.
package batch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flanksource/clicky"
	"github.com/flanksource/clicky/task"
	flanksourceContext "github.com/flanksource/commons/context"
	"github.com/flanksource/commons/logger"

	"github.com/fastest-run/fastest/internal/item"
	"github.com/fastest-run/fastest/internal/marker"
	"github.com/fastest-run/fastest/internal/result"
	"github.com/fastest-run/fastest/internal/strategy"
	"github.com/fastest-run/fastest/internal/worker"
)

// DefaultBatchTimeout bounds one dispatched batch's wall-clock time, as a
// clicky task option rather than the worker pool's own protocol timeout.
const DefaultBatchTimeout = worker.DefaultBatchTimeout

// Batch is one contiguous group of items dispatched to a worker together,
// per §4.8: grouped by containing module, sorted alphabetically by function
// name within the group, and chunked to strategy.TargetBatchSize under the
// massively-parallel strategy.
type Batch struct {
	Module string
	Items  []item.TestItem
}

// FixtureValues resolves the wire-ready fixture values for a test item. The
// coordinator supplies this after running the Fixture Graph (C6); the batch
// scheduler itself has no opinion on fixture resolution.
type FixtureValues func(it item.TestItem) ([]worker.WireFixtureValue, error)

// Group partitions items into batches per the chosen strategy: one batch per
// module for InProcess/ParallelBatched, further chunked to at most
// strategy.TargetBatchSize items under MassivelyParallel.
func Group(items []item.TestItem, strat strategy.Strategy) []Batch {
	byModule := map[string][]item.TestItem{}
	var moduleOrder []string
	for _, it := range items {
		if _, seen := byModule[it.Module]; !seen {
			moduleOrder = append(moduleOrder, it.Module)
		}
		byModule[it.Module] = append(byModule[it.Module], it)
	}

	var batches []Batch
	for _, mod := range moduleOrder {
		group := byModule[mod]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Func < group[j].Func
		})

		if strat != strategy.MassivelyParallel || len(group) <= strategy.TargetBatchSize {
			batches = append(batches, Batch{Module: mod, Items: group})
			continue
		}

		for start := 0; start < len(group); start += strategy.TargetBatchSize {
			end := start + strategy.TargetBatchSize
			if end > len(group) {
				end = len(group)
			}
			batches = append(batches, Batch{Module: mod, Items: group[start:end]})
		}
	}
	return batches
}

// Run dispatches batches through pool, honoring fail-fast hold-back: once
// any item in a completed batch fails, undispatched batches are dropped and
// in-flight ones are drained, but never cancelled mid-test. Results are
// reassembled in the original item order.
//
// Fail-fast genuinely has to stop scheduling before a later batch is ever
// added, not just flag one after the fact, so it bypasses the concurrent
// task group and dispatches batches one at a time via runSequentialFailFast;
// without fail-fast there is nothing to hold back for, so every batch fans
// out at once via runConcurrent.
func Run(ctx context.Context, batches []Batch, pool *worker.Pool, values FixtureValues, failFast bool) ([]result.TestResult, error) {
	order := map[string]int{}
	var ids []string
	for _, b := range batches {
		for _, it := range b.Items {
			order[it.ID] = len(ids)
			ids = append(ids, it.ID)
		}
	}
	n := len(ids)

	out := make([]result.TestResult, n)
	seen := make([]bool, n)

	if failFast {
		runSequentialFailFast(ctx, batches, pool, values, order, out, seen)
	} else if err := runConcurrent(ctx, batches, pool, values, order, out, seen); err != nil {
		return nil, err
	}

	// Any item whose batch never ran (fail-fast hold-back) is reported
	// cancelled rather than silently dropped.
	for i, ok := range seen {
		if !ok {
			out[i] = result.TestResult{ID: ids[i], Outcome: result.Cancelled, Reason: "held back after fail-fast"}
		}
	}
	return out, nil
}

// runSequentialFailFast dispatches batches one at a time, checking for a
// failing outcome after each before deciding whether to dispatch the next.
// This is the only way to actually prevent a later batch from being
// scheduled; a concurrent task group has already added every batch to the
// pool by the time any of them have a result to check.
func runSequentialFailFast(ctx context.Context, batches []Batch, pool *worker.Pool, values FixtureValues, order map[string]int, out []result.TestResult, seen []bool) {
	for _, b := range batches {
		if ctx.Err() != nil {
			return
		}

		results, err := dispatchBatch(ctx, b, pool, values)
		if err != nil {
			logger.Warnf("batch dispatch reported errors: %v", err)
			return
		}

		var failed bool
		for _, tr := range results {
			idx, ok := order[tr.ID]
			if !ok {
				continue
			}
			out[idx] = tr
			seen[idx] = true
			if tr.Outcome.Failing() {
				failed = true
			}
		}

		if failed {
			logger.Warnf("fail-fast: holding back remaining batches after %s", b.Module)
			return
		}
	}
}

// runConcurrent fans every batch out to the worker pool at once via a typed
// clicky task group, since without fail-fast nothing needs to observe one
// batch's outcome before the next is dispatched.
func runConcurrent(ctx context.Context, batches []Batch, pool *worker.Pool, values FixtureValues, order map[string]int, out []result.TestResult, seen []bool) error {
	group := task.StartGroup[[]result.TestResult]("fastest batch dispatch")

	for _, b := range batches {
		if ctx.Err() != nil {
			break
		}
		b := b
		group.Add(fmt.Sprintf("batch:%s[%d]", b.Module, len(b.Items)), func(taskCtx flanksourceContext.Context, t *task.Task) ([]result.TestResult, error) {
			return dispatchBatch(taskCtx, b, pool, values)
		}, clicky.WithTaskTimeout(DefaultBatchTimeout))
	}

	groupResult := group.WaitFor()
	if groupResult.Error != nil {
		logger.Warnf("batch dispatch reported errors: %v", groupResult.Error)
	}

	taskResults, err := group.GetResults()
	if err != nil {
		return fmt.Errorf("collecting batch results: %w", err)
	}

	for _, batchResults := range taskResults {
		for _, tr := range batchResults {
			idx, ok := order[tr.ID]
			if !ok {
				continue
			}
			out[idx] = tr
			seen[idx] = true
		}
	}
	return nil
}

func dispatchBatch(ctx context.Context, b Batch, pool *worker.Pool, values FixtureValues) ([]result.TestResult, error) {
	wireTests := make([]worker.WireTest, 0, len(b.Items))
	var errored []result.TestResult
	for _, it := range b.Items {
		var class *string
		if it.HasClass() {
			c := it.Class
			class = &c
		}

		var fv []worker.WireFixtureValue
		if values != nil {
			var err error
			fv, err = values(it)
			if err != nil {
				errored = append(errored, result.TestResult{
					ID:      it.ID,
					Outcome: result.Errored,
					Error:   (&result.FixtureError{Name: it.ID, Reason: err.Error()}).Error(),
				})
				continue
			}
		}

		wireTests = append(wireTests, worker.WireTest{
			ID:       it.ID,
			Module:   it.Module,
			Func:     it.Func,
			Class:    class,
			IsAsync:  it.Async,
			IsXfail:  marker.EvaluateXfail(marker.Extract(it.Decorators)).Xfail,
			Params:   it.Params,
			Fixtures: fv,
		})
	}
	if len(wireTests) == 0 {
		return errored, nil
	}

	start := time.Now()
	wireResults, err := pool.Dispatch(ctx, wireTests)
	elapsed := time.Since(start)
	if err != nil {
		results := append(make([]result.TestResult, 0, len(b.Items)), errored...)
		for _, wt := range wireTests {
			results = append(results, result.TestResult{
				ID:      wt.ID,
				Outcome: result.Errored,
				Error:   err.Error(),
			})
		}
		return results, nil
	}

	results := append(make([]result.TestResult, 0, len(errored)+len(wireResults)), errored...)
	for _, wr := range wireResults {
		results = append(results, fromWire(wr, elapsed))
	}
	return results, nil
}

func fromWire(wr worker.WireResult, batchElapsed time.Duration) result.TestResult {
	tr := result.TestResult{
		ID:       wr.ID,
		Duration: time.Duration(wr.Duration * float64(time.Second)),
		Stdout:   wr.Stdout,
		Stderr:   wr.Stderr,
	}
	if wr.Error != nil {
		tr.Error = *wr.Error
	}

	switch {
	case wr.Xfail && !wr.Passed:
		tr.Outcome = result.XFailed
	case wr.Xpass:
		tr.Outcome = result.XPassed
	case wr.Passed:
		tr.Outcome = result.Passed
	default:
		tr.Outcome = result.Failed
	}
	return tr
}
