package scrape

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns skip URL families that never carry contact
// information worth a fetch.
var defaultExcludePatterns = []string{
	"/login*",
	"/signin*",
	"/cart/*",
	"/checkout/*",
	"/tag/*",
	"/search*",
	"/*.pdf",
	"/*.jpg",
	"/*.png",
	"/*.zip",
}

// PathMatcher filters URLs based on glob-style path patterns.
// Uses path.Match from stdlib for proper glob matching, plus a segmented
// match so "/tag/*" matches multi-level paths like "/tag/deep/path".
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher from glob patterns (e.g. "/tag/*",
// "/*.pdf"). Falls back to default patterns if none are provided.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	return &PathMatcher{patterns: patterns}
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded checks whether a URL matches any exclude pattern.
// Unparseable URLs are excluded outright.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	urlPath := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchSegmented(strings.ToLower(pattern), urlPath) {
			return true
		}
	}
	return false
}

// matchSegmented performs glob matching where a pattern like "/tag/*"
// matches both "/tag/post" and "/tag/deep/nested/path", and a pattern
// like "/login*" matches any deeper path under the prefix.
func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/") {
			return true
		}
	}

	// "/login*" style prefixes should also match nested paths, which
	// path.Match alone does not do ("*" stops at separators).
	if strings.HasSuffix(pattern, "*") && !strings.HasSuffix(pattern, "/*") && !strings.Contains(pattern, ".") {
		if strings.HasPrefix(urlPath, strings.TrimSuffix(pattern, "*")) {
			return true
		}
	}
	return false
}
