// Package pattern provides the pattern matching used to classify request
// URLs (complex-site detection and host rules).
//
// Pattern forms:
//
//   - Exact (no prefix): case-insensitive exact match
//   - Wildcard (*): case-insensitive, * matches any run of characters
//   - Regexp (~): case-sensitive regular expression
//   - Regexp (~*): case-insensitive regular expression
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled matcher ready for repeated use
type Pattern struct {
	Original string

	wildcard bool
	exact    string
	re       *regexp.Regexp
}

// Compile pre-compiles a pattern; call once at configuration load
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	p := &Pattern{Original: raw}

	switch {
	case strings.HasPrefix(raw, "~*"):
		re, err := regexp.Compile("(?i)" + raw[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", raw, err)
		}
		p.re = re
	case strings.HasPrefix(raw, "~"):
		re, err := regexp.Compile(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", raw, err)
		}
		p.re = re
	case strings.Contains(raw, "*"):
		p.wildcard = true
	default:
		p.exact = raw
	}

	return p, nil
}

// CompileList compiles a list of patterns, failing on the first bad one
func CompileList(raws []string) ([]*Pattern, error) {
	patterns := make([]*Pattern, 0, len(raws))
	for _, raw := range raws {
		p, err := Compile(raw)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// Match tests input against the compiled pattern
func (p *Pattern) Match(input string) bool {
	if p == nil {
		return false
	}

	switch {
	case p.re != nil:
		return p.re.MatchString(input)
	case p.wildcard:
		return MatchWildcard(strings.ToLower(input), strings.ToLower(p.Original))
	default:
		return strings.EqualFold(input, p.exact)
	}
}

// MatchAny reports whether input matches any pattern in the list
func MatchAny(patterns []*Pattern, input string) bool {
	for _, p := range patterns {
		if p.Match(input) {
			return true
		}
	}
	return false
}

// MatchWildcard performs wildcard matching on raw strings.
// The wildcard * matches any sequence of characters, including none,
// across path segment boundaries. Multiple wildcards are supported.
func MatchWildcard(text, pat string) bool {
	if !strings.Contains(pat, "*") {
		return text == pat
	}

	parts := strings.Split(pat, "*")

	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(text, last) {
		return false
	}
	text = text[:len(text)-len(last)]

	for i := 1; i < len(parts)-1; i++ {
		if parts[i] == "" {
			continue
		}
		idx := strings.Index(text, parts[i])
		if idx == -1 {
			return false
		}
		text = text[idx+len(parts[i]):]
	}

	return true
}
