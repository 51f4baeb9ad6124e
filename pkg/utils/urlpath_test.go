package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathSegments(t *testing.T) {
	assert.Equal(t,
		[]string{"example.com", "docs", "api", "v2"},
		PathSegments("https://example.com/docs/api/v2/"))

	assert.Equal(t, []string{"example.com"}, PathSegments("https://example.com"))

	// Invalid URLs become one opaque segment
	assert.Equal(t, []string{"not a url"}, PathSegments("not a url"))
}

func TestPathPrefix(t *testing.T) {
	url := "https://example.com/docs/api/v2/endpoints"

	assert.Equal(t, "example.com", PathPrefix(url, 0))
	assert.Equal(t, "example.com/docs", PathPrefix(url, 1))
	assert.Equal(t, "example.com/docs/api", PathPrefix(url, 2))

	// Depth beyond the path keeps the whole thing
	assert.Equal(t, "example.com/docs/api/v2/endpoints", PathPrefix(url, 10))
}

func TestParentPrefix(t *testing.T) {
	assert.Equal(t, "example.com/docs", ParentPrefix("example.com/docs/api"))
	assert.Equal(t, "", ParentPrefix("example.com"))
}

func TestValidateStruct_Messages(t *testing.T) {
	type payload struct {
		URL   string `validate:"required,url"`
		Count int    `validate:"gte=1"`
	}

	err := ValidateStruct(&payload{URL: "", Count: 0})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
	assert.Contains(t, err.Error(), "count must be at least 1")
}
