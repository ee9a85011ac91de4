package telemetry

import (
	"regexp"
	"testing"
)

func TestAnonymizer_Deterministic(t *testing.T) {
	anon := NewAnonymizer([]byte("test-key"))

	first := anon.Hash("orch-42")
	second := anon.Hash("orch-42")
	if first != second {
		t.Fatalf("expected stable hash, got %q then %q", first, second)
	}
}

func TestAnonymizer_NeverRawID(t *testing.T) {
	anon := NewAnonymizer([]byte("test-key"))

	token := anon.Hash("orch-42")
	if token == "orch-42" {
		t.Fatal("hash must never equal the raw producer id")
	}
}

func TestAnonymizer_TokenFormat(t *testing.T) {
	anon := NewAnonymizer([]byte("test-key"))

	token := anon.Hash("orch-42")
	if !regexp.MustCompile(`^orch_[0-9a-f]{16}$`).MatchString(token) {
		t.Fatalf("unexpected token format: %q", token)
	}
}

func TestAnonymizer_DistinctProducers(t *testing.T) {
	anon := NewAnonymizer([]byte("test-key"))

	if anon.Hash("orch-1") == anon.Hash("orch-2") {
		t.Fatal("distinct producers must not collide on a trivial input")
	}
}

func TestAnonymizer_KeyChangesToken(t *testing.T) {
	a := NewAnonymizer([]byte("key-a"))
	b := NewAnonymizer([]byte("key-b"))

	if a.Hash("orch-42") == b.Hash("orch-42") {
		t.Fatal("different keys should produce different tokens")
	}
}

func TestAnonymizer_EmptyProducer(t *testing.T) {
	anon := NewAnonymizer([]byte("test-key"))

	if got := anon.Hash(""); got != "" {
		t.Fatalf("empty producer id should hash to empty, got %q", got)
	}
}
