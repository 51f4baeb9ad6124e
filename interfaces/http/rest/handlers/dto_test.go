package handlers

import (
	"net/http/httptest"
	"testing"

	"navgraph-backend/application/ports"
	"navgraph-backend/application/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssessHealth_EmptyGraphIsHealthy(t *testing.T) {
	resp := assessHealth(&ports.GraphStatistics{})

	assert.Equal(t, healthStatusHealthy, resp.Status)
	assert.Equal(t, 1.0, resp.ConnectivityRatio)
	assert.False(t, resp.RootPresent)
	assert.Empty(t, resp.Issues)
}

func TestAssessHealth_Healthy(t *testing.T) {
	resp := assessHealth(&ports.GraphStatistics{
		TotalNodes:        100,
		IsolatedNodes:     10,
		ConnectivityRatio: 0.9,
		RootURL:           "https://example.com/",
	})

	assert.Equal(t, healthStatusHealthy, resp.Status)
	assert.Empty(t, resp.Issues)
}

func TestAssessHealth_WarningOnIsolationRatio(t *testing.T) {
	resp := assessHealth(&ports.GraphStatistics{
		TotalNodes:        100,
		IsolatedNodes:     35,
		ConnectivityRatio: 0.65,
		RootURL:           "https://example.com/",
	})

	assert.Equal(t, healthStatusWarning, resp.Status)
	assert.NotEmpty(t, resp.Issues)
}

func TestAssessHealth_WarningOnConnectivity(t *testing.T) {
	resp := assessHealth(&ports.GraphStatistics{
		TotalNodes:        100,
		IsolatedNodes:     10,
		ConnectivityRatio: 0.45,
		RootURL:           "https://example.com/",
	})

	assert.Equal(t, healthStatusWarning, resp.Status)
}

func TestAssessHealth_CriticalOnMajorityIsolated(t *testing.T) {
	resp := assessHealth(&ports.GraphStatistics{
		TotalNodes:        100,
		IsolatedNodes:     60,
		ConnectivityRatio: 0.4,
		RootURL:           "https://example.com/",
	})

	assert.Equal(t, healthStatusCritical, resp.Status)
}

func TestAssessHealth_CriticalWithoutRoot(t *testing.T) {
	resp := assessHealth(&ports.GraphStatistics{
		TotalNodes:        100,
		IsolatedNodes:     5,
		ConnectivityRatio: 0.95,
	})

	assert.Equal(t, healthStatusCritical, resp.Status)
	assert.Contains(t, resp.Issues, "no root node set")
}

func TestParseFilters_NoneConfigured(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/graph", nil)

	filters, err := parseFilters(r)
	require.NoError(t, err)
	assert.Nil(t, filters)
}

func TestParseFilters_DocTypesAndAuthority(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/graph?docType=html&docType=pdf&minAuthority=0.7", nil)

	filters, err := parseFilters(r)
	require.NoError(t, err)
	require.NotNil(t, filters)

	assert.Equal(t, []string{"html", "pdf"}, filters.DocumentTypes)
	require.NotNil(t, filters.MinAuthority)
	assert.Equal(t, 0.7, *filters.MinAuthority)
}

func TestParseFilters_RejectsBadAuthority(t *testing.T) {
	for _, raw := range []string{"1.5", "-0.1", "high"} {
		r := httptest.NewRequest("GET", "/api/v1/graph?minAuthority="+raw, nil)
		_, err := parseFilters(r)
		assert.Error(t, err, raw)
	}
}

func TestParseFilters_TimeWindows(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/graph?publishedAfter=2026-01-01T00:00:00Z", nil)

	filters, err := parseFilters(r)
	require.NoError(t, err)
	require.NotNil(t, filters)
	require.NotNil(t, filters.PublishedAfter)
	assert.Equal(t, 2026, filters.PublishedAfter.Year())

	r = httptest.NewRequest("GET", "/api/v1/graph?publishedAfter=yesterday", nil)
	_, err = parseFilters(r)
	assert.Error(t, err)
}

func TestParseClusteringParams_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/graph/meta", nil)
	params := parseClusteringParams(r)

	assert.Equal(t, services.DefaultPathDepth, params.PathDepth)
	assert.Equal(t, services.DefaultMinClusterSize, params.MinClusterSize)

	r = httptest.NewRequest("GET", "/api/v1/graph/meta?pathDepth=3&minClusterSize=5", nil)
	params = parseClusteringParams(r)

	assert.Equal(t, 3, params.PathDepth)
	assert.Equal(t, 5, params.MinClusterSize)
}

func TestIngestNodeRequest_ToNode(t *testing.T) {
	req := &IngestNodeRequest{
		URL:      "https://example.com/a",
		Title:    "A",
		Type:     "document",
		Children: []string{"https://example.com/b"},
	}

	node, err := req.ToNode()
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/a", node.URL)
	assert.Equal(t, "document", string(node.Type))
	assert.Equal(t, []string{"https://example.com/b"}, node.Children)

	req.URL = "not-a-url"
	_, err = req.ToNode()
	assert.Error(t, err)
}
