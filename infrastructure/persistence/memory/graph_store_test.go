package memory

import (
	"context"
	"fmt"
	"testing"

	"navgraph-backend/application/ports"
	"navgraph-backend/domain/core/entities"
	pkgerrors "navgraph-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNode(t *testing.T, url string, children ...string) *entities.Node {
	t.Helper()
	node, err := entities.NewNode(url, "", entities.NodeTypePage)
	require.NoError(t, err)
	node.MergeChildren(children)
	return node
}

func TestAddNode_UpsertMergesChildren(t *testing.T) {
	store := NewGraphStore()
	ctx := context.Background()

	_, err := store.AddNode(ctx, mustNode(t, "https://example.com/a", "https://example.com/b"))
	require.NoError(t, err)

	merged, err := store.AddNode(ctx, mustNode(t, "https://example.com/a", "https://example.com/b", "https://example.com/c"))
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/b", "https://example.com/c"}, merged.Children)

	count, err := store.GetNodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAddNode_Idempotent(t *testing.T) {
	store := NewGraphStore()
	ctx := context.Background()

	node := mustNode(t, "https://example.com/a", "https://example.com/b")
	first, err := store.AddNode(ctx, node)
	require.NoError(t, err)
	second, err := store.AddNode(ctx, node)
	require.NoError(t, err)

	assert.Equal(t, first.Children, second.Children)

	stats, err := store.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEdges)
}

func TestAddNode_RejectsInvalidURL(t *testing.T) {
	store := NewGraphStore()

	_, err := store.AddNode(context.Background(), &entities.Node{URL: "relative/path"})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestGetNodes_OmitsMisses(t *testing.T) {
	store := NewGraphStore()
	ctx := context.Background()

	_, err := store.AddNode(ctx, mustNode(t, "https://example.com/a"))
	require.NoError(t, err)

	result, err := store.GetNodes(ctx, []string{"https://example.com/a", "https://example.com/missing"})
	require.NoError(t, err)

	assert.Len(t, result, 1)
	assert.Contains(t, result, "https://example.com/a")
	assert.NotContains(t, result, "https://example.com/missing")
}

func TestSetRoot_RequiresExistingNode(t *testing.T) {
	store := NewGraphStore()
	ctx := context.Background()

	err := store.SetRoot(ctx, "https://example.com/missing")
	assert.True(t, pkgerrors.IsNotFound(err))

	_, err = store.AddNode(ctx, mustNode(t, "https://example.com/a"))
	require.NoError(t, err)
	require.NoError(t, store.SetRoot(ctx, "https://example.com/a"))

	root, err := store.GetRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", root)
}

func TestGetSubgraph_Deterministic(t *testing.T) {
	store := NewGraphStore()
	ctx := context.Background()

	// Root with more children than the cap allows
	children := make([]string, 10)
	for i := range children {
		children[i] = fmt.Sprintf("https://example.com/child-%d", i)
	}
	_, err := store.AddNode(ctx, mustNode(t, "https://example.com/", children...))
	require.NoError(t, err)
	for _, c := range children {
		_, err := store.AddNode(ctx, mustNode(t, c))
		require.NoError(t, err)
	}
	require.NoError(t, store.SetRoot(ctx, "https://example.com/"))

	opts := ports.SubgraphOptions{MaxNodes: 5, MaxDepth: 3}
	first, err := store.GetSubgraph(ctx, opts)
	require.NoError(t, err)
	second, err := store.GetSubgraph(ctx, opts)
	require.NoError(t, err)

	require.Len(t, first.Nodes, 5)
	for i := range first.Nodes {
		assert.Equal(t, first.Nodes[i].URL, second.Nodes[i].URL)
	}
	assert.Equal(t, 11, first.Metadata.TotalNodesInGraph)
	assert.Equal(t, 5, first.Metadata.NodesReturned)
}

func TestGetSubgraph_FiltersPruneTraversal(t *testing.T) {
	store := NewGraphStore()
	ctx := context.Background()

	// a -> b -> c; filtering out b must also hide c
	a := mustNode(t, "https://example.com/a", "https://example.com/b")
	a.DocumentType = "html"
	b := mustNode(t, "https://example.com/b", "https://example.com/c")
	b.DocumentType = "pdf"
	c := mustNode(t, "https://example.com/c")
	c.DocumentType = "html"
	for _, n := range []*entities.Node{a, b, c} {
		_, err := store.AddNode(ctx, n)
		require.NoError(t, err)
	}

	result, err := store.GetSubgraph(ctx, ports.SubgraphOptions{
		StartNode: "https://example.com/a",
		Filters:   &ports.NodeFilters{DocumentTypes: []string{"html"}},
	})
	require.NoError(t, err)

	urls := make([]string, 0, len(result.Nodes))
	for _, n := range result.Nodes {
		urls = append(urls, n.URL)
	}
	assert.Equal(t, []string{"https://example.com/a"}, urls)
}

func TestGetSubgraph_EmptyGraph(t *testing.T) {
	store := NewGraphStore()

	result, err := store.GetSubgraph(context.Background(), ports.SubgraphOptions{})
	require.NoError(t, err)

	assert.Empty(t, result.Nodes)
	assert.Equal(t, 0, result.Metadata.TotalNodesInGraph)
}

func TestGetIsolatedNodes(t *testing.T) {
	store := NewGraphStore()
	ctx := context.Background()

	_, err := store.AddNode(ctx, mustNode(t, "https://example.com/a", "https://example.com/b"))
	require.NoError(t, err)
	_, err = store.AddNode(ctx, mustNode(t, "https://example.com/b"))
	require.NoError(t, err)
	// No children and never referenced
	_, err = store.AddNode(ctx, mustNode(t, "https://example.com/orphan"))
	require.NoError(t, err)

	isolated, err := store.GetIsolatedNodes(ctx)
	require.NoError(t, err)

	require.Len(t, isolated, 1)
	assert.Equal(t, "https://example.com/orphan", isolated[0].URL)
}

func TestGetStatistics(t *testing.T) {
	store := NewGraphStore()
	ctx := context.Background()

	_, err := store.AddNode(ctx, mustNode(t, "https://example.com/a", "https://example.com/b", "https://example.com/c"))
	require.NoError(t, err)
	_, err = store.AddNode(ctx, mustNode(t, "https://example.com/b"))
	require.NoError(t, err)
	_, err = store.AddNode(ctx, mustNode(t, "https://example.com/orphan"))
	require.NoError(t, err)
	require.NoError(t, store.SetRoot(ctx, "https://example.com/a"))

	stats, err := store.GetStatistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalNodes)
	assert.Equal(t, 2, stats.TotalEdges)
	assert.Equal(t, 1, stats.NodesWithChildren)
	assert.Equal(t, 1, stats.IsolatedNodes)
	assert.InDelta(t, 1-1.0/3.0, stats.ConnectivityRatio, 1e-9)
	assert.Equal(t, "https://example.com/a", stats.RootURL)
}
