package hooks

import (
	"context"
	"errors"
	"testing"
)

func TestDispatchOrdersByPriorityThenRegistration(t *testing.T) {
	r := NewRegistry()
	var order []string

	r.Register("sessionstart", 0, func(ctx context.Context, args Args) (Outcome, error) {
		order = append(order, "first-registered-low-priority")
		return Outcome{}, nil
	})
	r.Register("sessionstart", 10, func(ctx context.Context, args Args) (Outcome, error) {
		order = append(order, "high-priority")
		return Outcome{}, nil
	})
	r.Register("sessionstart", 0, func(ctx context.Context, args Args) (Outcome, error) {
		order = append(order, "second-registered-low-priority")
		return Outcome{}, nil
	})

	if _, err := r.Dispatch(context.Background(), "sessionstart", nil); err != nil {
		t.Fatal(err)
	}

	want := []string{"high-priority", "first-registered-low-priority", "second-registered-low-priority"}
	if len(order) != len(want) {
		t.Fatalf("got %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestDispatchErrorIsNonFatal(t *testing.T) {
	r := NewRegistry()
	ran := false
	r.Register("runtest_setup", 1, func(ctx context.Context, args Args) (Outcome, error) {
		return Outcome{}, errors.New("boom")
	})
	r.Register("runtest_setup", 0, func(ctx context.Context, args Args) (Outcome, error) {
		ran = true
		return Outcome{}, nil
	})

	if _, err := r.Dispatch(context.Background(), "runtest_setup", nil); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("expected second handler to still run after first errored")
	}
}

func TestDispatchCancelStopsRemaining(t *testing.T) {
	r := NewRegistry()
	ranSecond := false
	r.Register("collection_modifyitems", 10, func(ctx context.Context, args Args) (Outcome, error) {
		return Outcome{Cancel: true, Reason: "stop"}, nil
	})
	r.Register("collection_modifyitems", 0, func(ctx context.Context, args Args) (Outcome, error) {
		ranSecond = true
		return Outcome{}, nil
	})

	_, err := r.Dispatch(context.Background(), "collection_modifyitems", nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if ranSecond {
		t.Fatal("expected dispatch to stop after cancel")
	}
}

func TestCountReflectsRegistrations(t *testing.T) {
	r := NewRegistry()
	if r.Count("sessionstart") != 0 {
		t.Fatal("expected 0 before registration")
	}
	r.Register("sessionstart", 0, func(ctx context.Context, args Args) (Outcome, error) { return Outcome{}, nil })
	if r.Count("sessionstart") != 1 {
		t.Fatal("expected 1 after registration")
	}
}
