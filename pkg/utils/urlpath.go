package utils

import (
	"net/url"
	"strings"
)

// PathSegments splits a node URL into host plus cleaned path segments.
// "https://example.com/docs/api/v2/" -> ["example.com", "docs", "api", "v2"].
// Invalid URLs yield a single opaque segment so they still cluster together.
func PathSegments(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return []string{rawURL}
	}

	segments := []string{u.Host}
	for _, part := range strings.Split(u.Path, "/") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// PathPrefix truncates a node URL to at most depth path segments beyond the
// host. Used as the clustering key: nodes sharing a prefix at a fixed depth
// belong to the same cluster.
func PathPrefix(rawURL string, depth int) string {
	segments := PathSegments(rawURL)
	if depth < 0 {
		depth = 0
	}
	limit := depth + 1 // host counts as segment zero
	if limit > len(segments) {
		limit = len(segments)
	}
	return strings.Join(segments[:limit], "/")
}

// ParentPrefix returns the prefix one level up, or "" at the host level.
// Used by hierarchical structure repair to find the nearest parent group.
func ParentPrefix(prefix string) string {
	idx := strings.LastIndex(prefix, "/")
	if idx <= 0 {
		return ""
	}
	return prefix[:idx]
}
