package types

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint returns the stable cache key for a capture request.
// It is always computed from the user-visible URL, never from a
// transformed (internal-host) URL, so external and internal hostnames
// share cache state.
func (r *CaptureRequest) Fingerprint() string {
	return Fingerprint(r.URL, r.Width, r.Height, r.Format)
}

// Fingerprint hashes (normalized URL, width, height, format) with XXHash64
func Fingerprint(rawURL string, width, height int, format string) string {
	h := xxhash.Sum64String(fmt.Sprintf("%s|%d|%d|%s", NormalizeURL(rawURL), width, height, format))
	return fmt.Sprintf("%016x", h)
}

// NormalizeURL canonicalizes a URL for fingerprinting: lowercase scheme
// and host, leading "www." stripped, default ports removed, empty path
// replaced with "/". Query and fragment are preserved as given. An
// unparsable URL is returned unchanged (validation rejects those earlier).
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimPrefix(u.Host, "www.")

	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}

	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}
