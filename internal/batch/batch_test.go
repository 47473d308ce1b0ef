package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fastest-run/fastest/internal/item"
	"github.com/fastest-run/fastest/internal/result"
	"github.com/fastest-run/fastest/internal/strategy"
	"github.com/fastest-run/fastest/internal/worker"
)

func TestGroupByModuleSortsAlphabetically(t *testing.T) {
	items := []item.TestItem{
		{ID: "a::test_z", Module: "a", Func: "test_z"},
		{ID: "a::test_a", Module: "a", Func: "test_a"},
		{ID: "b::test_m", Module: "b", Func: "test_m"},
	}
	batches := Group(items, strategy.ParallelBatched)
	if len(batches) != 2 {
		t.Fatalf("got %d batches", len(batches))
	}
	if batches[0].Module != "a" || batches[0].Items[0].Func != "test_a" || batches[0].Items[1].Func != "test_z" {
		t.Fatalf("module a not sorted: %#v", batches[0])
	}
	if batches[1].Module != "b" {
		t.Fatalf("got %#v", batches[1])
	}
}

func TestGroupChunksMassivelyParallel(t *testing.T) {
	items := make([]item.TestItem, 120)
	for i := range items {
		items[i] = item.TestItem{ID: "m::test", Module: "m", Func: "test"}
	}
	batches := Group(items, strategy.MassivelyParallel)
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3 (50+50+20)", len(batches))
	}
	if len(batches[0].Items) != 50 || len(batches[1].Items) != 50 || len(batches[2].Items) != 20 {
		t.Fatalf("got sizes %d %d %d", len(batches[0].Items), len(batches[1].Items), len(batches[2].Items))
	}
}

func TestGroupDoesNotChunkBelowThreshold(t *testing.T) {
	items := make([]item.TestItem, 10)
	for i := range items {
		items[i] = item.TestItem{ID: "m::test", Module: "m", Func: "test"}
	}
	batches := Group(items, strategy.MassivelyParallel)
	if len(batches) != 1 || len(batches[0].Items) != 10 {
		t.Fatalf("got %#v", batches)
	}
}

func TestFromWirePassed(t *testing.T) {
	tr := fromWire(worker.WireResult{ID: "t", Passed: true, Duration: 0.25}, time.Second)
	if tr.Outcome != result.Passed || tr.Duration != 250*time.Millisecond {
		t.Fatalf("got %#v", tr)
	}
}

func TestFromWireFailed(t *testing.T) {
	errMsg := "boom"
	tr := fromWire(worker.WireResult{ID: "t", Passed: false, Error: &errMsg}, time.Second)
	if tr.Outcome != result.Failed || tr.Error != "boom" {
		t.Fatalf("got %#v", tr)
	}
}

func TestFromWireXfail(t *testing.T) {
	tr := fromWire(worker.WireResult{ID: "t", Passed: false, Xfail: true}, time.Second)
	if tr.Outcome != result.XFailed {
		t.Fatalf("got %#v", tr)
	}
}

func TestFromWireXpass(t *testing.T) {
	tr := fromWire(worker.WireResult{ID: "t", Passed: true, Xpass: true}, time.Second)
	if tr.Outcome != result.XPassed {
		t.Fatalf("got %#v", tr)
	}
}

// TestRunFailFastHoldsBackRemainingBatches pins down the sequential
// fail-fast path: a failing first batch must stop the second batch from
// ever being dispatched, not just get flagged after everything already ran.
// A failing FixtureValues resolution forces an Errored outcome without
// needing a real worker pool, so pool is nil throughout and is never
// touched once the first batch fails.
func TestRunFailFastHoldsBackRemainingBatches(t *testing.T) {
	items := []item.TestItem{
		{ID: "m_a::test_one", Module: "m_a", Func: "test_one"},
		{ID: "m_b::test_two", Module: "m_b", Func: "test_two"},
	}
	batches := Group(items, strategy.ParallelBatched)

	values := FixtureValues(func(it item.TestItem) ([]worker.WireFixtureValue, error) {
		if it.Module == "m_a" {
			return nil, fmt.Errorf("boom")
		}
		return nil, nil
	})

	results, err := Run(context.Background(), batches, nil, values, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}

	byID := map[string]result.TestResult{}
	for _, r := range results {
		byID[r.ID] = r
	}
	if byID["m_a::test_one"].Outcome != result.Errored {
		t.Fatalf("got %#v", byID["m_a::test_one"])
	}
	if byID["m_b::test_two"].Outcome != result.Cancelled {
		t.Fatalf("expected held-back batch to be cancelled, got %#v", byID["m_b::test_two"])
	}
}
