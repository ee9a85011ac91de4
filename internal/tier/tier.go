// internal/tier/tier.go
package tier

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Access tiers. Tier gates both analysis window size and which updates a
// subscriber may receive.
const (
	Free    = "free"
	Premium = "premium"
)

// headers checked for the premium key, in order.
var headers = []string{"X402", "X402-Premium", "X-402"}

// Valid reports whether s is a known tier value.
func Valid(s string) bool {
	return s == Free || s == Premium
}

// FromRequest resolves the caller's tier from the premium-key headers. Tier
// is carried out-of-band only; a tier claimed in a request body is never
// trusted. With no premium key configured, every caller is free tier.
func FromRequest(r *http.Request, premiumKey string) string {
	if premiumKey == "" {
		return Free
	}
	for _, h := range headers {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(v), []byte(premiumKey)) == 1 {
			return Premium
		}
	}
	return Free
}
