// internal/pipeline/state.go
//
// ORCH-side state for the learning pipeline: hot updates received from the
// distributor mutate this state in place, without restarting the host.
package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/ssd-technologies/pulsegrid/internal/distributor"
	"github.com/ssd-technologies/pulsegrid/internal/tier"
)

// Overrides are the named hot-swappable knobs the host consults on every
// LLM call.
type Overrides struct {
	DefaultPrompt string `json:"default_prompt,omitempty"`
	MasterPrompt  string `json:"master_prompt,omitempty"`
	DefaultModel  string `json:"default_model,omitempty"`
}

// Snapshot is a point-in-time copy of the pipeline state, safe to hand to
// the rest of the ORCH process.
type Snapshot struct {
	ProducerID     string          `json:"producer_id"`
	AgentPath      string          `json:"agent_path"`
	Tier           string          `json:"tier"`
	Overrides      Overrides       `json:"overrides"`
	Config         json.RawMessage `json:"config"`
	LastUpdateID   string          `json:"last_update_id,omitempty"`
	LastUpdateTS   int64           `json:"last_update_ts,omitempty"`
	LastUpdateType string          `json:"last_update_type,omitempty"`
	LastNotice     json.RawMessage `json:"last_notice,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
}

// State holds the mutable learning-pipeline record for one ORCH. Only
// ApplyUpdate mutates it; everything else reads through Snapshot.
type State struct {
	mu             sync.Mutex
	producerID     string
	agentPath      string
	tier           string
	overrides      Overrides
	config         []byte
	lastUpdateID   string
	lastUpdateTS   int64
	lastUpdateType string
	lastNotice     []byte
	lastErr        string
}

// NewState creates the initial pipeline state for an ORCH identity. The
// config document starts with an empty overrides object so json patches have
// a stable root to address.
func NewState(producerID, agentPath, declaredTier string) *State {
	if declaredTier == "" {
		declaredTier = tier.Free
	}
	return &State{
		producerID: producerID,
		agentPath:  agentPath,
		tier:       declaredTier,
		config:     []byte(`{"overrides":{}}`),
	}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ProducerID:     s.producerID,
		AgentPath:      s.agentPath,
		Tier:           s.tier,
		Overrides:      s.overrides,
		Config:         append(json.RawMessage(nil), s.config...),
		LastUpdateID:   s.lastUpdateID,
		LastUpdateTS:   s.lastUpdateTS,
		LastUpdateType: s.lastUpdateType,
		LastNotice:     append(json.RawMessage(nil), s.lastNotice...),
		LastError:      s.lastErr,
	}
}

// ApplyUpdate applies one hot update to the local state. Duplicate
// deliveries of the already-applied update are no-ops; updates not addressed
// to this identity are ignored even though the server already filtered.
// Failures are recorded in the state and never propagate to the host.
func (s *State) ApplyUpdate(env *distributor.UpdateEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if env.UpdateID != "" && env.UpdateID == s.lastUpdateID {
		return
	}
	if !env.MatchesTarget(s.producerID, s.agentPath) {
		return
	}
	if !env.TierAllows(s.tier) {
		return
	}

	switch env.UpdateType {
	case distributor.UpdatePromptTweak:
		var p struct {
			DefaultPrompt *string `json:"default_prompt"`
			MasterPrompt  *string `json:"master_prompt"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.fail(fmt.Sprintf("invalid prompt_tweak payload: %v", err))
			return
		}
		if p.DefaultPrompt != nil {
			s.overrides.DefaultPrompt = *p.DefaultPrompt
		}
		if p.MasterPrompt != nil {
			s.overrides.MasterPrompt = *p.MasterPrompt
		}
		if err := s.syncConfigOverrides(); err != nil {
			s.fail(err.Error())
			return
		}

	case distributor.UpdateModelTweak:
		var p struct {
			DefaultModel *string `json:"default_model"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.fail(fmt.Sprintf("invalid model_tweak payload: %v", err))
			return
		}
		if p.DefaultModel != nil {
			s.overrides.DefaultModel = *p.DefaultModel
		}
		if err := s.syncConfigOverrides(); err != nil {
			s.fail(err.Error())
			return
		}

	case distributor.UpdateJSONPatch:
		if err := s.applyConfigPatch(env.Payload); err != nil {
			s.fail(err.Error())
			return
		}

	case distributor.UpdateYAMLGraft:
		// Grafts are recorded verbatim; the host decides whether to merge.
		if err := s.setConfigField("last_yaml_graft", env.Payload); err != nil {
			s.fail(err.Error())
			return
		}

	case distributor.UpdateNotice:
		// Informational only, config untouched.
		s.lastNotice = append([]byte(nil), env.Payload...)

	default:
		s.fail("unknown update_type: " + env.UpdateType)
		return
	}

	// Bookkeeping advances only together with the effect above.
	s.lastUpdateID = env.UpdateID
	s.lastUpdateTS = env.TSUnix
	s.lastUpdateType = env.UpdateType
	s.lastErr = ""
}

// fail records an apply error without touching config or bookkeeping.
func (s *State) fail(msg string) {
	s.lastErr = msg
}

// applyConfigPatch applies an RFC 6902 patch to the config document. The
// payload may be the patch array itself or wrapped as {"patch": [...]}.
// On any failure the config is left unchanged.
func (s *State) applyConfigPatch(payload json.RawMessage) error {
	patchDoc := payload
	var wrapper struct {
		Patch json.RawMessage `json:"patch"`
	}
	if err := json.Unmarshal(payload, &wrapper); err == nil && len(wrapper.Patch) > 0 {
		patchDoc = wrapper.Patch
	}

	patch, err := jsonpatch.DecodePatch(patchDoc)
	if err != nil {
		return fmt.Errorf("invalid json_patch: %w", err)
	}
	patched, err := patch.Apply(s.config)
	if err != nil {
		return fmt.Errorf("json_patch apply failed: %w", err)
	}
	s.config = patched

	// Rehydrate overrides the patch may have rewritten.
	var doc struct {
		Overrides Overrides `json:"overrides"`
	}
	if err := json.Unmarshal(s.config, &doc); err == nil {
		s.overrides = doc.Overrides
	}
	return nil
}

// syncConfigOverrides mirrors the override struct into the config document
// so patches and tweaks observe each other's effects.
func (s *State) syncConfigOverrides() error {
	raw, err := json.Marshal(s.overrides)
	if err != nil {
		return fmt.Errorf("marshal overrides: %w", err)
	}
	return s.setConfigField("overrides", raw)
}

// setConfigField sets one top-level key of the config document.
func (s *State) setConfigField(key string, value json.RawMessage) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(s.config, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage)
	}
	doc[key] = value
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	s.config = raw
	return nil
}
