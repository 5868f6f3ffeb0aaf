// Package urlutil rewrites request URLs for outbound capture.
//
// Public hostnames can map to internal service names that are only
// reachable over plain HTTP inside the network. The rewritten URL is used
// for navigation only; cache fingerprints always use the original URL.
package urlutil

import (
	"net/url"
	"strings"
)

// Transformer applies host-mapping rules to request URLs
type Transformer struct {
	mappings map[string]string
}

// NewTransformer builds a Transformer from source-host to target-host
// rules. Keys are matched case-insensitively with an optional "www." prefix.
func NewTransformer(mappings map[string]string) *Transformer {
	normalized := make(map[string]string, len(mappings))
	for src, dst := range mappings {
		normalized[strings.ToLower(src)] = strings.ToLower(dst)
	}
	return &Transformer{mappings: normalized}
}

// Transform rewrites rawURL when its host matches a rule: the host is
// replaced and the scheme dropped to http (mapped hosts are internal).
// Path, query and fragment are preserved. Unmatched or unparsable URLs
// pass through unchanged.
func (t *Transformer) Transform(rawURL string) string {
	if len(t.mappings) == 0 {
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	host := strings.ToLower(u.Hostname())
	target, ok := t.mappings[host]
	if !ok {
		target, ok = t.mappings[strings.TrimPrefix(host, "www.")]
	}
	if !ok {
		return rawURL
	}

	u.Scheme = "http"
	u.Host = target
	return u.String()
}
