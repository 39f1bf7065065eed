package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunSettlesEveryProc(t *testing.T) {
	var ran atomic.Int64
	procs := make([]Proc, 10)
	for i := range procs {
		i := i
		procs[i] = func(ctx context.Context) error {
			ran.Add(1)
			if i%3 == 0 {
				return errors.New("boom")
			}
			return nil
		}
	}

	results, err := Run(context.Background(), procs, 3)
	if err != nil {
		t.Fatal(err)
	}
	if ran.Load() != 10 {
		t.Fatalf("expected 10 procs run, got %d", ran.Load())
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	if got := len(Failures(results)); got != 4 {
		t.Fatalf("expected 4 failures, got %d", got)
	}
}

func TestRunBatchOrdering(t *testing.T) {
	// WHAT: batch N+1 must not start before batch N settles.
	// WHY: the size bound exists to cap concurrent resource use.
	var concurrent, peak atomic.Int64

	procs := make([]Proc, 8)
	for i := range procs {
		procs[i] = func(ctx context.Context) error {
			cur := concurrent.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			concurrent.Add(-1)
			return nil
		}
	}

	if _, err := Run(context.Background(), procs, 2); err != nil {
		t.Fatal(err)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeded batch size 2", peak.Load())
	}
}

func TestRunCancelledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	procs := []Proc{
		func(ctx context.Context) error { cancel(); return nil },
		func(ctx context.Context) error { return nil },
	}

	results, err := Run(ctx, procs, 1)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if len(results) != 1 {
		t.Fatalf("expected only first batch settled, got %d results", len(results))
	}
}

func TestFirstError(t *testing.T) {
	e1, e2 := errors.New("one"), errors.New("two")
	results := []Result{{Index: 4, Err: e2}, {Index: 1, Err: e1}, {Index: 2}}
	if got := FirstError(results); got != e1 {
		t.Fatalf("expected first error in input order, got %v", got)
	}
	if got := FirstError([]Result{{Index: 0}}); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestSizeHelpers(t *testing.T) {
	if s := CPUSize(1_000_000); s != 1 {
		t.Fatalf("CPUSize should floor at 1, got %d", s)
	}
	if s := FreeMemSize(1 << 30); s != 1 {
		t.Fatalf("FreeMemSize should floor at 1, got %d", s)
	}
	if s := Clamp(50, 8); s != 8 {
		t.Fatalf("Clamp(50,8) = %d", s)
	}
	if s := Clamp(0, 0); s != 1 {
		t.Fatalf("Clamp(0,0) = %d", s)
	}
}
