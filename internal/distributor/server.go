// internal/distributor/server.go
package distributor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ssd-technologies/pulsegrid/internal/tier"
)

// Config holds Server knobs.
type Config struct {
	// PremiumKey unlocks the premium tier when presented in the X402 headers.
	// Empty means every caller is free tier.
	PremiumKey string
	// QueueSize bounds each subscriber's outgoing queue.
	QueueSize int
}

// Server is the Update Distributor: it accepts publish requests over HTTP
// and streams updates to subscribers over WebSocket.
type Server struct {
	bc         *Broadcaster
	premiumKey string
	mux        *http.ServeMux

	handshakeWait time.Duration
	pingInterval  time.Duration
	pongWait      time.Duration
	writeWait     time.Duration
}

// New creates a new Server with all routes registered.
func New(cfg Config) *Server {
	s := &Server{
		bc:            NewBroadcaster(cfg.QueueSize),
		premiumKey:    cfg.PremiumKey,
		mux:           http.NewServeMux(),
		handshakeWait: 10 * time.Second,
		pingInterval:  15 * time.Second,
		pongWait:      60 * time.Second,
		writeWait:     10 * time.Second,
	}
	s.routes()
	return s
}

// Broadcaster exposes the underlying fan-out primitive, mainly for embedding
// processes that publish without going through HTTP.
func (s *Server) Broadcaster() *Broadcaster {
	return s.bc
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /publish", s.handlePublish)
	s.mux.HandleFunc("GET /subscribe", s.handleSubscribe)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "pulsegrid-distributor",
	})
}

// publishRequest is the JSON body for publishing a hot update.
type publishRequest struct {
	TargetProducer    string          `json:"target_producer"`
	TargetAgentPrefix string          `json:"target_agent_prefix"`
	Cascade           bool            `json:"cascade"`
	UpdateType        string          `json:"update_type"`
	TierRequired      string          `json:"tier_required"`
	Payload           json.RawMessage `json:"payload"`
}

// handlePublish handles POST /publish — assign id/timestamp and fan out.
// Publish is fire-and-forget: it returns as soon as the envelope is queued,
// without waiting for delivery.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	callerTier := tier.FromRequest(r, s.premiumKey)

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UpdateType == "" {
		writeError(w, http.StatusBadRequest, "update_type is required")
		return
	}
	if req.TierRequired == "" {
		req.TierRequired = tier.Free
	}
	if !tier.Valid(req.TierRequired) {
		writeError(w, http.StatusBadRequest, "tier_required must be free or premium")
		return
	}
	if req.TierRequired == tier.Premium && callerTier != tier.Premium {
		writeError(w, http.StatusPaymentRequired, "premium tier required")
		return
	}

	env := &UpdateEnvelope{
		UpdateID:          uuid.New().String(),
		TSUnix:            time.Now().Unix(),
		TargetProducer:    req.TargetProducer,
		TargetAgentPrefix: req.TargetAgentPrefix,
		Cascade:           req.Cascade,
		UpdateType:        req.UpdateType,
		TierRequired:      req.TierRequired,
		Payload:           req.Payload,
	}

	fanout := s.bc.Publish(env)
	writeJSON(w, http.StatusOK, map[string]any{
		"update_id": env.UpdateID,
		"fanout":    fanout,
	})
}

// handleStats handles GET /stats — broadcaster summary statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bc.Stats())
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
