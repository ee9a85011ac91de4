// internal/collector/analyze.go
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ssd-technologies/pulsegrid/internal/telemetry"
	"github.com/ssd-technologies/pulsegrid/internal/tier"
)

// maxPromptSampleBytes caps the raw record sample included in the analysis
// prompt so a large window cannot produce an unbounded prompt.
const maxPromptSampleBytes = 32 * 1024

// analyzeRequest is the JSON body for deriving an insight.
type analyzeRequest struct {
	LastN int    `json:"last_n"`
	Focus string `json:"focus"`
}

// clampWindow resolves the effective window size for a tier. Zero means the
// tier default.
func clampWindow(lastN int, callerTier string) int {
	def, ceil := freeWindowDefault, freeWindowCeiling
	if callerTier == tier.Premium {
		def, ceil = premiumWindowDefault, premiumWindowCeiling
	}
	if lastN == 0 {
		return def
	}
	if lastN < windowFloor {
		return windowFloor
	}
	if lastN > ceil {
		return ceil
	}
	return lastN
}

// handleAnalyze handles POST /analyze — read a clamped recent window,
// summarize it through the LLM collaborator, persist and return the insight.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	callerTier := tier.FromRequest(r, s.premiumKey)

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if s.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "llm not available")
		return
	}

	window := clampWindow(req.LastN, callerTier)
	records, err := s.store.RecentRecords(window)
	if err != nil {
		log.Printf("[collector] read telemetry window: %v", err)
		writeError(w, http.StatusInternalServerError, "db read failed")
		return
	}

	prompt := buildAnalysisPrompt(req.Focus, records)

	ctx, cancel := context.WithTimeout(r.Context(), s.analyzeTimeout)
	defer cancel()
	summary, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		analyzeFailed.Inc()
		log.Printf("[collector] analysis failed: %v", err)
		writeError(w, http.StatusBadGateway, "upstream analysis failed")
		return
	}

	ins := &telemetry.Insight{
		ID:      uuid.New().String(),
		TSUnix:  time.Now().Unix(),
		Tier:    callerTier,
		Focus:   req.Focus,
		Summary: summary,
	}
	if err := s.store.InsertInsight(ins); err != nil {
		log.Printf("[collector] persist insight: %v", err)
		writeError(w, http.StatusInternalServerError, "db write failed")
		return
	}

	insightsProduced.Inc()
	writeJSON(w, http.StatusOK, ins)
}

// handleInsights handles GET /insights — the most recent insight, if any.
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	ins, err := s.store.LatestInsight()
	if err != nil {
		log.Printf("[collector] read latest insight: %v", err)
		writeError(w, http.StatusInternalServerError, "db read failed")
		return
	}
	if ins == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no_insights"})
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

// buildAnalysisPrompt renders a bounded prompt: a shape summary of the window
// (kind/level/tag histograms) plus a size-capped sample of raw records,
// newest last.
func buildAnalysisPrompt(focus string, records []telemetry.Record) string {
	var b strings.Builder
	b.WriteString("You are the swarm telemetrist. Derive optimizations from anonymized ORCH telemetry.\n\n")
	if focus != "" {
		fmt.Fprintf(&b, "Focus: %s\n", focus)
	}
	b.WriteString("Return a concise, actionable list (max 12 bullets) of optimizations to push to ORCHs as non-binary updates.\n\n")
	fmt.Fprintf(&b, "Records: %d\n", len(records))

	kinds := make(map[string]int)
	levels := make(map[string]int)
	tags := make(map[string]int)
	for _, rec := range records {
		kinds[rec.Kind]++
		if rec.Level != "" {
			levels[rec.Level]++
		}
		for _, tag := range rec.Tags {
			tags[tag]++
		}
	}
	writeHistogram(&b, "Kinds", kinds)
	writeHistogram(&b, "Levels", levels)
	writeHistogram(&b, "Tags", tags)

	b.WriteString("\nSample (JSON lines, oldest first):\n")
	sampleBytes := 0
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if sampleBytes+len(line)+1 > maxPromptSampleBytes {
			b.WriteString("... (sample truncated)\n")
			break
		}
		b.Write(line)
		b.WriteByte('\n')
		sampleBytes += len(line) + 1
	}
	return b.String()
}

// writeHistogram appends "Name: k1=3 k2=1" with keys sorted for stable prompts.
func writeHistogram(b *strings.Builder, name string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(b, "%s:", name)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%d", k, counts[k])
	}
	b.WriteByte('\n')
}
