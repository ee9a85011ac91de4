// cmd/pulsegrid-orch/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/pulsegrid/internal/hive"
	"github.com/ssd-technologies/pulsegrid/internal/llm"
	"github.com/ssd-technologies/pulsegrid/internal/pipeline"
	"github.com/ssd-technologies/pulsegrid/internal/tier"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: pulsegrid-orch <run|propose>")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "propose":
		cmdPropose(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		fmt.Println("Usage: pulsegrid-orch <run|propose>")
		os.Exit(1)
	}
}

func pulsegridDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}
	return filepath.Join(home, ".pulsegrid")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	producerID := fs.String("producer-id", "", "stable producer identity (generated and persisted when empty)")
	agentPath := fs.String("agent-path", "orch", "hierarchical agent path, e.g. orch/code-gen/rust")
	declaredTier := fs.String("tier", envOr("PULSEGRID_TIER", tier.Free), "declared tier (free|premium)")
	collectorURL := fs.String("collector", envOr("PULSEGRID_COLLECTOR_URL", "http://localhost:8090"), "collector base URL")
	distributorURL := fs.String("distributor", envOr("PULSEGRID_DISTRIBUTOR_URL", "http://localhost:8091"), "distributor base URL")
	interval := fs.Duration("interval", 0, "telemetry interval (default 5m)")
	fs.Parse(args)

	if !tier.Valid(*declaredTier) {
		fmt.Fprintf(os.Stderr, "Error: invalid tier %q\n", *declaredTier)
		os.Exit(1)
	}

	dir := pulsegridDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: creating data directory: %v\n", err)
		os.Exit(1)
	}

	id := *producerID
	if id == "" {
		id = loadOrCreateProducerID(filepath.Join(dir, "orch.id"))
	}

	state := pipeline.NewState(id, *agentPath, *declaredTier)
	client := pipeline.NewClient(state, pipeline.ClientConfig{
		CollectorURL:   *collectorURL,
		DistributorURL: *distributorURL,
		Interval:       *interval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.RunTelemetryLoop(ctx)
	go client.RunUpdateLoop(ctx)

	// Expose the live state for `status`-style inspection.
	stateFile := filepath.Join(dir, "orch-state.json")
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeSnapshot(stateFile, state)
			}
		}
	}()

	fmt.Printf("ORCH %s running as %s (%s tier)\n", id, *agentPath, *declaredTier)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	cancel()
	writeSnapshot(stateFile, state)
}

func loadOrCreateProducerID(path string) string {
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return string(data)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error: persisting producer id: %v\n", err)
		os.Exit(1)
	}
	return id
}

func writeSnapshot(path string, state *pipeline.State) {
	snap := state.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0600)
}

func cmdPropose(args []string) {
	fs := flag.NewFlagSet("propose", flag.ExitOnError)
	seed := fs.String("seed", "", "seed text for the proposal round (required)")
	workers := fs.Int("workers", 3, "number of concurrent workers")
	retries := fs.Int("retries", 0, "retries per worker (default 1, -1 disables)")
	timeout := fs.Duration("timeout", 0, "round timeout (default 90s)")
	fs.Parse(args)

	if *seed == "" {
		fmt.Fprintln(os.Stderr, "Error: --seed is required")
		os.Exit(1)
	}

	completer, err := llm.NewClientFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: LLM backend unavailable: %v\n", err)
		os.Exit(1)
	}

	sup := hive.New(completer, hive.Config{Retries: *retries, Timeout: *timeout})
	outcomes := sup.Propose(context.Background(), *seed, *workers)

	ok := 0
	for _, o := range outcomes {
		if o.Err == nil {
			ok++
			fmt.Printf("--- worker %d ---\n%s\n", o.Worker, o.Proposal)
		} else {
			fmt.Printf("--- worker %d (%s) ---\n%v\n", o.Worker, o.Reason, o.Err)
		}
	}
	fmt.Printf("\n%d/%d workers produced a proposal\n", ok, len(outcomes))
	if ok == 0 {
		os.Exit(1)
	}
}
