// internal/collector/ingest.go
package collector

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ssd-technologies/pulsegrid/internal/telemetry"
	"github.com/ssd-technologies/pulsegrid/internal/tier"
)

// handleIngest handles POST /ingest — anonymize and persist one telemetry
// record. This is the only operation that writes telemetry.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	callerTier := tier.FromRequest(r, s.premiumKey)

	var env telemetry.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		ingestRejected.Inc()
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if env.Kind == "" {
		ingestRejected.Inc()
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	if s.ingestLimit != nil {
		key := env.ProducerID
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.ingestLimit.Allow(key) {
			ingestRejected.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	ts := env.TSUnix
	if ts == 0 {
		ts = time.Now().Unix()
	}

	rec := &telemetry.Record{
		ID:           uuid.New().String(),
		TSUnix:       ts,
		Kind:         env.Kind,
		Level:        env.Level,
		ProducerHash: s.anon.Hash(env.ProducerID),
		AgentPath:    env.AgentPath,
		Tags:         env.Tags,
		Payload:      env.Payload,
	}
	if err := s.store.InsertRecord(rec); err != nil {
		log.Printf("[collector] insert telemetry record: %v", err)
		writeError(w, http.StatusInternalServerError, "db write failed")
		return
	}

	recordsIngested.Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ingested",
		"id":     rec.ID,
		"tier":   callerTier,
	})
}
