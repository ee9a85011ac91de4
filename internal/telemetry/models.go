// internal/telemetry/models.go
package telemetry

import "encoding/json"

// Envelope is an inbound telemetry record as submitted by an ORCH. The raw
// producer ID appears only here; it is hashed before anything is persisted.
type Envelope struct {
	ProducerID string          `json:"producer_id,omitempty"`
	AgentPath  string          `json:"agent_path,omitempty"`
	TSUnix     int64           `json:"ts_unix,omitempty"`
	Kind       string          `json:"kind"`
	Level      string          `json:"level,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Record is the persisted form of an accepted envelope. Records are never
// mutated after insert; iteration order is (ts_unix, id).
type Record struct {
	ID           string          `json:"id"`
	TSUnix       int64           `json:"ts_unix"`
	Kind         string          `json:"kind"`
	Level        string          `json:"level,omitempty"`
	ProducerHash string          `json:"producer_hash,omitempty"`
	AgentPath    string          `json:"agent_path,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Insight is an LLM-derived summary of a recent telemetry window. Insights
// are only ever superseded by newer ones, never updated.
type Insight struct {
	ID      string `json:"id"`
	TSUnix  int64  `json:"ts_unix"`
	Tier    string `json:"tier"`
	Focus   string `json:"focus,omitempty"`
	Summary string `json:"summary"`
}
