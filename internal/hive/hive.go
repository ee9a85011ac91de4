// internal/hive/hive.go
//
// Fan-out supervisor for bounded self-improvement proposals. N workers are
// spawned off one seed, each asks the LLM for a single proposal, and the
// caller gets exactly N outcomes back in worker order.
package hive

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ssd-technologies/pulsegrid/internal/llm"
)

const (
	defaultRetries = 1
	defaultTimeout = 90 * time.Second

	workerPrompt = "You are an ORCH sub-agent. Propose one safe, bounded improvement.\n\nSeed: %s\nORCH_IDX: %d\nOutput only the proposal."
)

// Outcome is one worker's result. Exactly one of Proposal or Err is
// meaningful; Reason distinguishes timeouts from upstream failures.
type Outcome struct {
	Worker   int    `json:"worker"`
	Proposal string `json:"proposal,omitempty"`
	Err      error  `json:"-"`
	Reason   string `json:"reason,omitempty"`
}

// Supervisor runs proposal rounds against an LLM backend.
type Supervisor struct {
	llm     llm.Completer
	retries int
	timeout time.Duration
}

// Config tunes a Supervisor. Zero values take the defaults: one retry per
// worker and a 90s round timeout.
type Config struct {
	Retries int
	Timeout time.Duration
}

// New builds a Supervisor over a completer.
func New(completer llm.Completer, cfg Config) *Supervisor {
	retries := cfg.Retries
	if retries == 0 {
		retries = defaultRetries
	} else if retries < 0 {
		retries = 0
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Supervisor{llm: completer, retries: retries, timeout: timeout}
}

// Propose runs n workers concurrently against the seed and returns exactly
// n outcomes, indexed by worker. A worker that fails every attempt still
// yields an outcome; a cancelled round marks the unfinished workers as
// timed out.
func (s *Supervisor) Propose(ctx context.Context, seed string, n int) []Outcome {
	if n <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			outcomes[idx] = s.runWorker(ctx, seed, idx)
		}(i)
	}
	wg.Wait()
	return outcomes
}

// runWorker performs the initial attempt plus retries for one worker slot.
func (s *Supervisor) runWorker(ctx context.Context, seed string, idx int) Outcome {
	prompt := fmt.Sprintf(workerPrompt, seed, idx)

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if ctx.Err() != nil {
			return Outcome{Worker: idx, Err: ctx.Err(), Reason: "timeout"}
		}
		proposal, err := s.attempt(ctx, prompt)
		if err == nil {
			return Outcome{Worker: idx, Proposal: proposal}
		}
		lastErr = err
		if ctx.Err() != nil {
			return Outcome{Worker: idx, Err: lastErr, Reason: "timeout"}
		}
		log.Printf("[hive] worker %d attempt %d failed: %v", idx, attempt, err)
	}
	return Outcome{Worker: idx, Err: lastErr, Reason: "failed"}
}

// attempt runs a single completion with panic containment so a misbehaving
// backend cannot take down the round.
func (s *Supervisor) attempt(ctx context.Context, prompt string) (proposal string, err error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		text, err := s.llm.Complete(ctx, prompt)
		ch <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.text, res.err
	}
}
