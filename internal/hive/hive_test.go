package hive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedCompleter returns canned behavior per call, keyed by the
// ORCH_IDX embedded in the prompt and the per-worker call count.
type scriptedCompleter struct {
	mu    sync.Mutex
	calls map[int]int
	run   func(idx, call int) (string, error)
}

func newScripted(run func(idx, call int) (string, error)) *scriptedCompleter {
	return &scriptedCompleter{calls: make(map[int]int), run: run}
}

func (c *scriptedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	idx := -1
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "ORCH_IDX: ") {
			fmt.Sscanf(line, "ORCH_IDX: %d", &idx)
		}
	}
	c.mu.Lock()
	call := c.calls[idx]
	c.calls[idx] = call + 1
	c.mu.Unlock()
	return c.run(idx, call)
}

func TestProposeReturnsExactlyN(t *testing.T) {
	completer := newScripted(func(idx, call int) (string, error) {
		return fmt.Sprintf("proposal-%d", idx), nil
	})
	sup := New(completer, Config{})

	outcomes := sup.Propose(context.Background(), "tighten retries", 5)
	if len(outcomes) != 5 {
		t.Fatalf("got %d outcomes, want 5", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Worker != i {
			t.Fatalf("outcome %d has worker %d", i, o.Worker)
		}
		if o.Proposal != fmt.Sprintf("proposal-%d", i) {
			t.Fatalf("worker %d proposal = %q", i, o.Proposal)
		}
		if o.Err != nil {
			t.Fatalf("worker %d err = %v", i, o.Err)
		}
	}
}

func TestProposeZeroWorkers(t *testing.T) {
	sup := New(newScripted(func(int, int) (string, error) { return "", nil }), Config{})
	if got := sup.Propose(context.Background(), "seed", 0); got != nil {
		t.Fatalf("expected nil for n=0, got %v", got)
	}
}

func TestWorkerRetriesOnce(t *testing.T) {
	completer := newScripted(func(idx, call int) (string, error) {
		if call == 0 {
			return "", errors.New("upstream hiccup")
		}
		return "second try", nil
	})
	sup := New(completer, Config{})

	outcomes := sup.Propose(context.Background(), "seed", 1)
	if outcomes[0].Err != nil {
		t.Fatalf("retry did not recover: %v", outcomes[0].Err)
	}
	if outcomes[0].Proposal != "second try" {
		t.Fatalf("proposal = %q", outcomes[0].Proposal)
	}
	if calls := completer.calls[0]; calls != 2 {
		t.Fatalf("worker called %d times, want 2", calls)
	}
}

func TestWorkerExhaustsRetries(t *testing.T) {
	wantErr := errors.New("permanently down")
	completer := newScripted(func(idx, call int) (string, error) {
		return "", wantErr
	})
	sup := New(completer, Config{})

	outcomes := sup.Propose(context.Background(), "seed", 3)
	for _, o := range outcomes {
		if !errors.Is(o.Err, wantErr) {
			t.Fatalf("worker %d err = %v", o.Worker, o.Err)
		}
		if o.Reason != "failed" {
			t.Fatalf("worker %d reason = %q", o.Worker, o.Reason)
		}
	}
	// Initial attempt plus one retry per worker.
	for idx := 0; idx < 3; idx++ {
		if calls := completer.calls[idx]; calls != 2 {
			t.Fatalf("worker %d called %d times, want 2", idx, calls)
		}
	}
}

func TestProposeTimeout(t *testing.T) {
	completer := newScripted(func(idx, call int) (string, error) {
		time.Sleep(5 * time.Second)
		return "too late", nil
	})
	sup := New(completer, Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	outcomes := sup.Propose(context.Background(), "seed", 2)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("round did not respect timeout, took %v", elapsed)
	}
	for _, o := range outcomes {
		if o.Reason != "timeout" {
			t.Fatalf("worker %d reason = %q, want timeout", o.Worker, o.Reason)
		}
		if o.Err == nil {
			t.Fatalf("worker %d missing error", o.Worker)
		}
	}
}

func TestWorkerPanicContained(t *testing.T) {
	completer := newScripted(func(idx, call int) (string, error) {
		if idx == 1 && call == 0 {
			panic("backend lost its mind")
		}
		return "ok", nil
	})
	sup := New(completer, Config{Retries: -1})

	outcomes := sup.Propose(context.Background(), "seed", 3)
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	if outcomes[1].Err == nil || !strings.Contains(outcomes[1].Err.Error(), "panic") {
		t.Fatalf("panicking worker err = %v", outcomes[1].Err)
	}
	if outcomes[0].Proposal != "ok" || outcomes[2].Proposal != "ok" {
		t.Fatalf("healthy workers affected: %+v", outcomes)
	}
}

func TestPromptCarriesSeedAndIndex(t *testing.T) {
	var prompts sync.Map
	record := func(ctx context.Context, prompt string) (string, error) {
		prompts.Store(prompt, true)
		return "ok", nil
	}
	sup := New(completerFunc(record), Config{})
	sup.Propose(context.Background(), "my-seed", 2)

	found := 0
	prompts.Range(func(key, _ any) bool {
		p := key.(string)
		if strings.Contains(p, "Seed: my-seed") && strings.Contains(p, "ORCH_IDX: ") {
			found++
		}
		return true
	})
	if found != 2 {
		t.Fatalf("found %d well-formed prompts, want 2", found)
	}
}

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
