package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ssd-technologies/pulsegrid/internal/telemetry"
	"github.com/ssd-technologies/pulsegrid/internal/tier"
)

const testPremiumKey = "premium-sekrit"

// fakeCompleter records the prompt it received and returns a canned reply.
type fakeCompleter struct {
	lastPrompt string
	reply      string
	err        error
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *telemetry.Store {
	t.Helper()
	store, err := telemetry.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// setupTestServer creates a collector with a fresh store and the given completer.
func setupTestServer(t *testing.T, completer *fakeCompleter) (*Server, *telemetry.Store) {
	t.Helper()
	store := setupTestStore(t)
	anon := telemetry.NewAnonymizer([]byte("test-hash-key"))
	var srv *Server
	if completer == nil {
		srv = New(store, anon, nil, Config{PremiumKey: testPremiumKey})
	} else {
		srv = New(store, anon, completer, Config{PremiumKey: testPremiumKey})
	}
	return srv, store
}

// doJSON performs a request with a JSON body and optional premium header.
func doJSON(t *testing.T, srv *Server, method, path string, body any, premium bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if premium {
		req.Header.Set("X402", testPremiumKey)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestIngest_StoresAnonymizedRecord(t *testing.T) {
	srv, store := setupTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/ingest", map[string]any{
		"producer_id": "orch-42",
		"agent_path":  "code-gen/rust",
		"kind":        "heartbeat",
		"payload":     map[string]int{"uptime": 7},
	}, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] == "" {
		t.Fatal("expected record id in response")
	}

	stored, err := store.RecentRecords(1)
	if err != nil {
		t.Fatalf("RecentRecords: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(stored))
	}
	got := stored[0]
	if got.ProducerHash == "orch-42" || got.ProducerHash == "" {
		t.Fatalf("producer hash must be set and never the raw id, got %q", got.ProducerHash)
	}
	if !strings.HasPrefix(got.ProducerHash, "orch_") || len(got.ProducerHash) != len("orch_")+16 {
		t.Fatalf("unexpected hash format %q", got.ProducerHash)
	}
	if got.TSUnix == 0 {
		t.Fatal("server should assign a timestamp when absent")
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("orch-42")) {
		t.Fatal("raw producer id must never be echoed back")
	}
}

func TestIngest_RejectsMissingKind(t *testing.T) {
	srv, store := setupTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/ingest", map[string]any{
		"producer_id": "orch-42",
	}, false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if n, _ := store.CountRecords(); n != 0 {
		t.Fatalf("rejected envelope must not be stored, count=%d", n)
	}
}

func TestIngest_RejectsBadJSON(t *testing.T) {
	srv, _ := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIngest_RateLimitPerProducer(t *testing.T) {
	store := setupTestStore(t)
	anon := telemetry.NewAnonymizer([]byte("k"))
	srv := New(store, anon, nil, Config{IngestRate: 2})

	env := map[string]any{"producer_id": "orch-1", "kind": "heartbeat"}
	for i := 0; i < 2; i++ {
		if rec := doJSON(t, srv, http.MethodPost, "/ingest", env, false); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}
	if rec := doJSON(t, srv, http.MethodPost, "/ingest", env, false); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over the limit, got %d", rec.Code)
	}

	// A different producer is unaffected.
	other := map[string]any{"producer_id": "orch-2", "kind": "heartbeat"}
	if rec := doJSON(t, srv, http.MethodPost, "/ingest", other, false); rec.Code != http.StatusOK {
		t.Fatalf("other producer should pass, got %d", rec.Code)
	}
}

func seedRecords(t *testing.T, store *telemetry.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		rec := &telemetry.Record{
			ID:     fmt.Sprintf("rec-%04d", i),
			TSUnix: int64(1000 + i),
			Kind:   "heartbeat",
		}
		if err := store.InsertRecord(rec); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
	}
}

func TestAnalyze_FreeTierWindowClamped(t *testing.T) {
	completer := &fakeCompleter{reply: "tighten the loops"}
	srv, store := setupTestServer(t, completer)
	seedRecords(t, store, 300)

	rec := doJSON(t, srv, http.MethodPost, "/analyze", map[string]any{
		"last_n": 5000,
		"focus":  "performance",
	}, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if !strings.Contains(completer.lastPrompt, "Records: 200") {
		t.Fatalf("free-tier window not clamped to 200; prompt says: %s",
			firstLineContaining(completer.lastPrompt, "Records:"))
	}
	if !strings.Contains(completer.lastPrompt, "Focus: performance") {
		t.Fatal("focus missing from prompt")
	}

	var ins telemetry.Insight
	if err := json.NewDecoder(rec.Body).Decode(&ins); err != nil {
		t.Fatalf("decode insight: %v", err)
	}
	if ins.Tier != tier.Free {
		t.Fatalf("expected free-tier insight, got %s", ins.Tier)
	}
	if ins.Summary != "tighten the loops" {
		t.Fatalf("summary mismatch: %q", ins.Summary)
	}
}

func TestAnalyze_PremiumTierWiderWindow(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	srv, store := setupTestServer(t, completer)
	seedRecords(t, store, 300)

	rec := doJSON(t, srv, http.MethodPost, "/analyze", map[string]any{
		"last_n": 250,
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d", rec.Code)
	}
	if !strings.Contains(completer.lastPrompt, "Records: 250") {
		t.Fatalf("premium window truncated; prompt says: %s",
			firstLineContaining(completer.lastPrompt, "Records:"))
	}

	var ins telemetry.Insight
	if err := json.NewDecoder(rec.Body).Decode(&ins); err != nil {
		t.Fatalf("decode insight: %v", err)
	}
	if ins.Tier != tier.Premium {
		t.Fatalf("expected premium-tier insight, got %s", ins.Tier)
	}
}

func TestAnalyze_DefaultsWhenLastNOmitted(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	srv, store := setupTestServer(t, completer)
	seedRecords(t, store, 600)

	doJSON(t, srv, http.MethodPost, "/analyze", map[string]any{}, false)
	if !strings.Contains(completer.lastPrompt, "Records: 100") {
		t.Fatalf("free default should be 100; prompt says: %s",
			firstLineContaining(completer.lastPrompt, "Records:"))
	}

	doJSON(t, srv, http.MethodPost, "/analyze", map[string]any{}, true)
	if !strings.Contains(completer.lastPrompt, "Records: 500") {
		t.Fatalf("premium default should be 500; prompt says: %s",
			firstLineContaining(completer.lastPrompt, "Records:"))
	}
}

func TestAnalyze_UpstreamFailureProducesNoInsight(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("model overloaded")}
	srv, store := setupTestServer(t, completer)
	seedRecords(t, store, 5)

	rec := doJSON(t, srv, http.MethodPost, "/analyze", map[string]any{}, false)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	latest, err := store.LatestInsight()
	if err != nil {
		t.Fatalf("LatestInsight: %v", err)
	}
	if latest != nil {
		t.Fatal("failed analysis must not persist an insight")
	}
}

func TestAnalyze_NoLLMConfigured(t *testing.T) {
	srv, _ := setupTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/analyze", map[string]any{}, false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestInsights_EmptyThenLatest(t *testing.T) {
	completer := &fakeCompleter{reply: "first insight"}
	srv, store := setupTestServer(t, completer)

	rec := doJSON(t, srv, http.MethodGet, "/insights", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("insights status = %d", rec.Code)
	}
	var empty map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&empty); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if empty["status"] != "no_insights" {
		t.Fatalf("expected no_insights, got %v", empty)
	}

	seedRecords(t, store, 5)
	doJSON(t, srv, http.MethodPost, "/analyze", map[string]any{}, false)

	rec = doJSON(t, srv, http.MethodGet, "/insights", nil, false)
	var ins telemetry.Insight
	if err := json.NewDecoder(rec.Body).Decode(&ins); err != nil {
		t.Fatalf("decode insight: %v", err)
	}
	if ins.Summary != "first insight" {
		t.Fatalf("expected latest insight, got %+v", ins)
	}
}

func TestClampWindow(t *testing.T) {
	cases := []struct {
		lastN int
		tier  string
		want  int
	}{
		{0, tier.Free, 100},
		{0, tier.Premium, 500},
		{5, tier.Free, 10},
		{500, tier.Free, 200},
		{500, tier.Premium, 500},
		{9999, tier.Premium, 5000},
		{50, tier.Free, 50},
	}
	for _, c := range cases {
		if got := clampWindow(c.lastN, c.tier); got != c.want {
			t.Errorf("clampWindow(%d, %s) = %d, want %d", c.lastN, c.tier, got, c.want)
		}
	}
}

// firstLineContaining returns the first line of s containing substr, for
// readable failure messages.
func firstLineContaining(s, substr string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, substr) {
			return line
		}
	}
	return "(absent)"
}
