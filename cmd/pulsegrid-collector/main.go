package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ssd-technologies/pulsegrid/internal/collector"
	"github.com/ssd-technologies/pulsegrid/internal/llm"
	"github.com/ssd-technologies/pulsegrid/internal/telemetry"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}

	dataDir := os.Getenv("PULSEGRID_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Cannot determine home directory: %v", err)
		}
		dataDir = filepath.Join(home, ".pulsegrid")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	anonKey := os.Getenv("PULSEGRID_ANON_KEY")
	if anonKey == "" {
		log.Fatal("PULSEGRID_ANON_KEY environment variable is required")
	}

	premiumKey := os.Getenv("PULSEGRID_PREMIUM_KEY")
	if premiumKey == "" {
		premiumKey = os.Getenv("X402_PREMIUM_KEY")
	}

	ingestRate := 120
	if v := os.Getenv("PULSEGRID_INGEST_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid PULSEGRID_INGEST_RATE: %v", err)
		}
		ingestRate = n
	}

	store, err := telemetry.NewStore(filepath.Join(dataDir, "telemetry.db"))
	if err != nil {
		log.Fatalf("Failed to open telemetry store: %v", err)
	}
	defer store.Close()

	completer, err := llm.NewClientFromEnv()
	if err != nil {
		log.Printf("[collector] LLM backend unavailable, /analyze disabled: %v", err)
	}

	srv := collector.New(store, telemetry.NewAnonymizer([]byte(anonKey)), completerOrNil(completer, err), collector.Config{
		PremiumKey: premiumKey,
		IngestRate: ingestRate,
	})

	fmt.Printf("PulseGrid collector running on http://localhost:%s\n", port)
	log.Fatal(http.ListenAndServe(":"+port, srv))
}

// completerOrNil keeps a typed-nil *llm.Client out of the interface value.
func completerOrNil(c *llm.Client, err error) llm.Completer {
	if err != nil {
		return nil
	}
	return c
}
