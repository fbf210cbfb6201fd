package adminfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsExcluded(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		excluded bool
	}{
		{"admin path prefix", "https://example.com/admin", true},
		{"nested admin path", "https://example.com/admin/users/42", true},
		{"admin prefix is case insensitive", "https://example.com/Admin/Settings", true},
		{"admin-dashboard substring", "https://example.com/app/admin-dashboard/home", true},
		{"management substring", "https://example.com/user-management", true},
		{"control-panel substring", "https://example.com/control-panel", true},
		{"admin query flag", "https://example.com/page?admin=true", true},
		{"bare admin query flag", "https://example.com/page?admin", true},
		{"dashboard query flag", "https://example.com/page?dashboard=1", true},
		{"admin fragment", "https://example.com/page#admin-section", true},

		{"landing page", "https://example.com/", false},
		{"pricing page", "https://example.com/pricing", false},
		{"administrate is not the admin prefix", "https://example.com/blog/administrate-review", false},
		{"dashboard in path alone is fine", "https://example.com/dashboards-for-sales", false},
		{"unrelated query", "https://example.com/search?q=admin+tips", false},
		{"empty url", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.excluded, IsExcluded(tt.url), "url: %s", tt.url)
		})
	}
}

func TestMatchUnparseableURL(t *testing.T) {
	// URLs that fail parsing fall back to a raw substring scan.
	assert.True(t, Patterns{PathSubstrings: []string{"management"}}.Match("http://bad url/management"))
	assert.False(t, Patterns{PathSubstrings: []string{"management"}}.Match("http://bad url/public"))
}

func TestDefaultPatternsLoaded(t *testing.T) {
	p := Default()
	assert.Contains(t, p.PathPrefixes, "/admin")
	assert.Contains(t, p.QueryFlags, "dashboard")
}
