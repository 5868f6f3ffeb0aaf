// Package requestid derives the per-request identifier used in logs.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxLength matches the UUID string length
	MaxLength = 36
	prefixLen = 5
)

var invalidChars = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
var hyphenRuns = regexp.MustCompile(`-+`)

// New returns a request ID. A caller-supplied ID (X-Request-ID header) is
// sanitized to [a-zA-Z0-9-] and prefixed with 5 random hex characters so
// repeated client IDs stay unique in logs; an empty or fully-invalid ID
// falls back to a UUID.
func New(clientID string) string {
	sanitized := strings.ReplaceAll(clientID, " ", "-")
	sanitized = invalidChars.ReplaceAllString(sanitized, "")
	sanitized = hyphenRuns.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return uuid.New().String()
	}

	if max := MaxLength - prefixLen - 1; len(sanitized) > max {
		sanitized = sanitized[:max]
	}
	return randomPrefix() + "-" + sanitized
}

func randomPrefix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()[:prefixLen]
	}
	return hex.EncodeToString(b)[:prefixLen]
}
