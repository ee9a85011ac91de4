package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/ssd-technologies/pulsegrid/internal/distributor"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8091"
	}

	premiumKey := os.Getenv("PULSEGRID_PREMIUM_KEY")
	if premiumKey == "" {
		premiumKey = os.Getenv("X402_PREMIUM_KEY")
	}
	if premiumKey == "" {
		log.Println("[distributor] no premium key configured, all callers are free tier")
	}

	queueSize := 0
	if v := os.Getenv("PULSEGRID_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid PULSEGRID_QUEUE_SIZE: %v", err)
		}
		queueSize = n
	}

	srv := distributor.New(distributor.Config{
		PremiumKey: premiumKey,
		QueueSize:  queueSize,
	})

	fmt.Printf("PulseGrid distributor running on http://localhost:%s\n", port)
	log.Fatal(http.ListenAndServe(":"+port, srv))
}
