// internal/distributor/update.go
package distributor

import (
	"encoding/json"
	"strings"

	"github.com/ssd-technologies/pulsegrid/internal/tier"
)

// Known update types. The set is open: publishers may send types these
// services have never heard of, and clients record them as errors locally.
const (
	UpdatePromptTweak = "prompt_tweak"
	UpdateModelTweak  = "model_tweak"
	UpdateJSONPatch   = "json_patch"
	UpdateYAMLGraft   = "yaml_graft"
	UpdateNotice      = "notice"
)

// UpdateEnvelope is a hot update as published to subscribers. Immutable once
// published; delivery is fire-and-forget.
type UpdateEnvelope struct {
	UpdateID          string          `json:"update_id"`
	TSUnix            int64           `json:"ts_unix"`
	TargetProducer    string          `json:"target_producer,omitempty"`
	TargetAgentPrefix string          `json:"target_agent_prefix,omitempty"`
	Cascade           bool            `json:"cascade,omitempty"`
	UpdateType        string          `json:"update_type"`
	TierRequired      string          `json:"tier_required"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

// MatchesTarget reports whether a subscriber identity is addressed by the
// envelope. Both target fields unset means broadcast.
func (e *UpdateEnvelope) MatchesTarget(producerID, agentPath string) bool {
	if e.TargetProducer != "" && e.TargetProducer != producerID {
		return false
	}
	if e.TargetAgentPrefix != "" && !PathMatches(agentPath, e.TargetAgentPrefix, e.Cascade) {
		return false
	}
	return true
}

// TierAllows reports whether a subscriber at declaredTier may receive the
// envelope at all. Free updates pass to everyone; premium updates only to
// premium subscribers.
func (e *UpdateEnvelope) TierAllows(declaredTier string) bool {
	if e.TierRequired != tier.Premium {
		return true
	}
	return declaredTier == tier.Premium
}

// PathMatches reports whether an agent path is covered by a targeting prefix.
// Without cascade the prefix must equal the path exactly; with cascade it
// also covers hierarchical descendants ('/' or '.' separated).
func PathMatches(path, prefix string, cascade bool) bool {
	if path == prefix {
		return true
	}
	if !cascade {
		return false
	}
	if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
		return false
	}
	sep := path[len(prefix)]
	return sep == '/' || sep == '.'
}
