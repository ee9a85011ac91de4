// internal/telemetry/anonymize.go
package telemetry

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Anonymizer maps producer IDs to stable, non-invertible tokens. The same
// producer always hashes to the same token for a given key; the raw ID is
// never recoverable from the token.
type Anonymizer struct {
	key []byte
}

// NewAnonymizer creates an Anonymizer keyed with the given secret. The key is
// fixed for the process lifetime; an empty key is allowed and simply yields
// an unkeyed hash.
func NewAnonymizer(key []byte) *Anonymizer {
	return &Anonymizer{key: append([]byte(nil), key...)}
}

// Hash returns the anonymized token for a producer ID, formatted as
// "orch_" followed by 16 hex characters. An empty producer ID hashes to "".
func (a *Anonymizer) Hash(producerID string) string {
	if producerID == "" {
		return ""
	}
	h := sha3.New256()
	h.Write(a.key)
	h.Write([]byte(producerID))
	sum := h.Sum(nil)
	return fmt.Sprintf("orch_%016x", binary.BigEndian.Uint64(sum[:8]))
}
