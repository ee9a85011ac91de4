// internal/collector/server.go
package collector

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ssd-technologies/pulsegrid/internal/llm"
	"github.com/ssd-technologies/pulsegrid/internal/ratelimit"
	"github.com/ssd-technologies/pulsegrid/internal/telemetry"
)

// Analysis window bounds per tier. Clamping happens before the store read so
// a free caller can never widen the window past its ceiling.
const (
	freeWindowDefault    = 100
	freeWindowCeiling    = 200
	premiumWindowDefault = 500
	premiumWindowCeiling = 5000
	windowFloor          = 10
)

// Config holds Server knobs.
type Config struct {
	// PremiumKey unlocks the premium tier when presented in the X402 headers.
	PremiumKey string
	// IngestRate limits envelopes per producer per minute (0 disables).
	IngestRate int
	// AnalyzeTimeout bounds each LLM call. Defaults to 60s.
	AnalyzeTimeout time.Duration
}

// Server is the Telemetry Collector: it anonymizes and persists incoming
// records and derives insights from a bounded recent window.
type Server struct {
	store          *telemetry.Store
	anon           *telemetry.Anonymizer
	llm            llm.Completer
	premiumKey     string
	ingestLimit    *ratelimit.Window
	analyzeTimeout time.Duration
	mux            *http.ServeMux
}

// New creates a new Server with all routes registered. completer may be nil,
// in which case analyze degrades to 503.
func New(store *telemetry.Store, anon *telemetry.Anonymizer, completer llm.Completer, cfg Config) *Server {
	s := &Server{
		store:          store,
		anon:           anon,
		llm:            completer,
		premiumKey:     cfg.PremiumKey,
		analyzeTimeout: cfg.AnalyzeTimeout,
		mux:            http.NewServeMux(),
	}
	if s.analyzeTimeout <= 0 {
		s.analyzeTimeout = 60 * time.Second
	}
	if cfg.IngestRate > 0 {
		s.ingestLimit = ratelimit.New(cfg.IngestRate, time.Minute)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /ingest", s.handleIngest)
	s.mux.HandleFunc("POST /analyze", s.handleAnalyze)
	s.mux.HandleFunc("GET /insights", s.handleInsights)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "pulsegrid-collector",
	})
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
