// Package adminfilter decides whether a browsing context belongs to an
// administrative area and must be excluded from tracking before any record
// is created.
//
// Matching is deliberately plain substring/prefix matching. A legitimate
// marketing page whose path happens to contain a marker such as "management"
// is silently excluded too; that is a known limitation of the pattern set,
// not something this package tries to outsmart.
package adminfilter

import (
	_ "embed"
	"net/url"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yml
var defaultPatternsYAML []byte

// Patterns is the set of administrative markers a URL is checked against.
type Patterns struct {
	PathPrefixes    []string `yaml:"path_prefixes"`
	PathSubstrings  []string `yaml:"path_substrings"`
	QueryFlags      []string `yaml:"query_flags"`
	FragmentMarkers []string `yaml:"fragment_markers"`
}

var (
	defaultPatterns Patterns
	loadOnce        sync.Once
)

// Default returns the embedded pattern set.
func Default() Patterns {
	loadOnce.Do(func() {
		if err := yaml.Unmarshal(defaultPatternsYAML, &defaultPatterns); err != nil {
			// The embedded file ships with the binary; a parse failure is a
			// build defect, so fall back to the hardcoded minimum.
			defaultPatterns = Patterns{
				PathPrefixes:    []string{"/admin"},
				PathSubstrings:  []string{"admin-dashboard", "management", "control-panel"},
				QueryFlags:      []string{"admin", "dashboard"},
				FragmentMarkers: []string{"admin"},
			}
		}
	})
	return defaultPatterns
}

// IsExcluded reports whether rawURL belongs to an administrative context
// according to the default pattern set.
func IsExcluded(rawURL string) bool {
	return Default().Match(rawURL)
}

// Match reports whether rawURL matches any administrative marker. The check
// runs against the path, the full URL, the query parameters and the hash
// fragment. Unparseable URLs fall back to a substring scan of the raw string.
func (p Patterns) Match(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	lowered := strings.ToLower(rawURL)

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return p.matchString(lowered)
	}

	path := strings.ToLower(parsed.Path)
	for _, prefix := range p.PathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, sub := range p.PathSubstrings {
		if strings.Contains(path, sub) {
			return true
		}
	}

	query := parsed.Query()
	for _, flag := range p.QueryFlags {
		if query.Has(flag) {
			return true
		}
	}

	fragment := strings.ToLower(parsed.Fragment)
	for _, marker := range p.FragmentMarkers {
		if fragment != "" && strings.Contains(fragment, marker) {
			return true
		}
	}

	// Full-URL scan catches markers hiding in places the structured checks
	// missed, e.g. an encoded fragment.
	return p.matchString(lowered)
}

func (p Patterns) matchString(lowered string) bool {
	for _, sub := range p.PathSubstrings {
		if strings.Contains(lowered, sub) {
			return true
		}
	}
	for _, marker := range p.FragmentMarkers {
		if strings.Contains(lowered, "#"+marker) {
			return true
		}
	}
	return false
}
