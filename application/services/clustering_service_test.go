package services

import (
	"context"
	"testing"
	"time"

	"navgraph-backend/application/ports"
	"navgraph-backend/domain/core/entities"
	"navgraph-backend/infrastructure/persistence/memory"
	pkgerrors "navgraph-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClustering(t *testing.T) (*NavigationGraph, *ClusteringService) {
	t.Helper()
	g := newTestGraph(t)
	return g, NewClusteringService(g, zap.NewNop(), nil)
}

// seedClusteredGraph creates two dense areas (docs, blog) and one
// undersized area (about) with cross-area edges.
func seedClusteredGraph(t *testing.T, g *NavigationGraph) {
	t.Helper()
	addNode(t, g, "https://example.com/docs/intro", "https://example.com/docs/setup")
	addNode(t, g, "https://example.com/docs/setup", "https://example.com/blog/launch")
	addNode(t, g, "https://example.com/docs/api")
	addNode(t, g, "https://example.com/blog/launch", "https://example.com/blog/update")
	addNode(t, g, "https://example.com/blog/update")
	addNode(t, g, "https://example.com/about/team")
}

func TestCreateMetaGraph_SumInvariant(t *testing.T) {
	g, svc := newTestClustering(t)
	seedClusteredGraph(t, g)

	meta, err := svc.CreateMetaGraph(context.Background(), ClusteringParams{PathDepth: 1, MinClusterSize: 2})
	require.NoError(t, err)

	retained := 0
	for _, cluster := range meta.Clusters {
		retained += cluster.Size
	}
	assert.Equal(t, meta.TotalNodes, retained+meta.ExcludedNodes)
	assert.Equal(t, 6, meta.TotalNodes)
	assert.Equal(t, 2, meta.TotalClusters)
	assert.Equal(t, 1, meta.ExcludedNodes) // about/team
}

func TestCreateMetaGraph_EdgeRollup(t *testing.T) {
	g, svc := newTestClustering(t)
	seedClusteredGraph(t, g)

	meta, err := svc.CreateMetaGraph(context.Background(), ClusteringParams{PathDepth: 1, MinClusterSize: 2})
	require.NoError(t, err)

	// One cross-cluster node edge: docs/setup -> blog/launch
	require.Len(t, meta.Edges, 1)
	docsID := ClusterID("example.com/docs", meta.Params)
	blogID := ClusterID("example.com/blog", meta.Params)
	assert.Equal(t, docsID, meta.Edges[0].Source)
	assert.Equal(t, blogID, meta.Edges[0].Target)
	assert.Equal(t, 1, meta.Edges[0].Weight)
}

func TestCreateMetaGraph_ClusterIDStability(t *testing.T) {
	g, svc := newTestClustering(t)
	seedClusteredGraph(t, g)
	params := ClusteringParams{PathDepth: 2, MinClusterSize: 1}

	first, err := svc.CreateMetaGraph(context.Background(), params)
	require.NoError(t, err)
	svc.Invalidate()
	second, err := svc.CreateMetaGraph(context.Background(), params)
	require.NoError(t, err)

	require.Equal(t, len(first.Clusters), len(second.Clusters))
	for id := range first.Clusters {
		assert.Contains(t, second.Clusters, id)
	}
}

func TestCreateMetaGraph_CacheInvalidatedByMutation(t *testing.T) {
	g, svc := newTestClustering(t)
	seedClusteredGraph(t, g)
	params := ClusteringParams{PathDepth: 1, MinClusterSize: 2}
	ctx := context.Background()

	first, err := svc.CreateMetaGraph(ctx, params)
	require.NoError(t, err)
	cached, err := svc.CreateMetaGraph(ctx, params)
	require.NoError(t, err)
	assert.Same(t, first, cached)

	addNode(t, g, "https://example.com/docs/changelog")

	rebuilt, err := svc.CreateMetaGraph(ctx, params)
	require.NoError(t, err)
	assert.NotSame(t, first, rebuilt)
	assert.Equal(t, 7, rebuilt.TotalNodes)
}

// gatedStore blocks GetAllNodes until released so a test can interleave
// a mutation with an in-flight meta-graph build.
type gatedStore struct {
	ports.GraphStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) GetAllNodes(ctx context.Context) ([]*entities.Node, error) {
	// Gate only while the test is waiting on entered; later reads pass
	select {
	case s.entered <- struct{}{}:
		<-s.release
	default:
	}
	return s.GraphStore.GetAllNodes(ctx)
}

func TestCreateMetaGraph_MutationDuringBuildIsNotMaskedByCache(t *testing.T) {
	store := &gatedStore{
		GraphStore: memory.NewGraphStore(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	g := NewNavigationGraph(store, zap.NewNop(), nil)
	svc := NewClusteringService(g, zap.NewNop(), nil)
	ctx := context.Background()
	params := ClusteringParams{PathDepth: 1, MinClusterSize: 1}

	node, err := entities.NewNode("https://example.com/docs/a", "", entities.NodeTypePage)
	require.NoError(t, err)
	_, err = store.GraphStore.AddNode(ctx, node)
	require.NoError(t, err)

	type buildResult struct {
		meta *MetaGraph
		err  error
	}
	built := make(chan buildResult, 1)
	go func() {
		meta, err := svc.CreateMetaGraph(ctx, params)
		built <- buildResult{meta: meta, err: err}
	}()

	// The build is inside its snapshot read; a concurrent write lands now
	<-store.entered
	addNode(t, g, "https://example.com/docs/b")
	close(store.release)

	select {
	case result := <-built:
		require.NoError(t, result.err)
		assert.Equal(t, 1, result.meta.TotalNodes)
	case <-time.After(5 * time.Second):
		t.Fatal("meta-graph build did not finish")
	}

	// The stale build result must not occupy the cache slot: the next
	// read sees the mutated graph.
	fresh, err := svc.CreateMetaGraph(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.TotalNodes)
}

func TestCreateMetaGraph_EmptyGraph(t *testing.T) {
	_, svc := newTestClustering(t)

	meta, err := svc.CreateMetaGraph(context.Background(), ClusteringParams{PathDepth: 2, MinClusterSize: 3})
	require.NoError(t, err)

	assert.Empty(t, meta.Clusters)
	assert.Empty(t, meta.Edges)
	assert.Equal(t, 0, meta.TotalNodes)
	assert.Equal(t, 0, meta.TotalClusters)
}

func TestCreateMetaGraph_RejectsBadParams(t *testing.T) {
	_, svc := newTestClustering(t)

	_, err := svc.CreateMetaGraph(context.Background(), ClusteringParams{PathDepth: 0, MinClusterSize: 3})
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = svc.CreateMetaGraph(context.Background(), ClusteringParams{PathDepth: 2, MinClusterSize: 0})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestGetCluster_ParamsMustMatch(t *testing.T) {
	g, svc := newTestClustering(t)
	seedClusteredGraph(t, g)
	ctx := context.Background()
	params := ClusteringParams{PathDepth: 1, MinClusterSize: 2}

	meta, err := svc.CreateMetaGraph(ctx, params)
	require.NoError(t, err)
	var anyID string
	for id := range meta.Clusters {
		anyID = id
		break
	}

	cluster, err := svc.GetCluster(ctx, params, anyID)
	require.NoError(t, err)
	assert.Equal(t, anyID, cluster.ID)

	// Same id under different parameters does not resolve
	_, err = svc.GetCluster(ctx, ClusteringParams{PathDepth: 2, MinClusterSize: 2}, anyID)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestGetClusterSubgraph_IncludesUnreachableMembers(t *testing.T) {
	g, svc := newTestClustering(t)
	// docs/intro -> docs/setup, docs/api disconnected inside the cluster
	addNode(t, g, "https://example.com/docs/intro", "https://example.com/docs/setup")
	addNode(t, g, "https://example.com/docs/setup")
	addNode(t, g, "https://example.com/docs/api")
	ctx := context.Background()
	params := ClusteringParams{PathDepth: 1, MinClusterSize: 2}

	meta, err := svc.CreateMetaGraph(ctx, params)
	require.NoError(t, err)
	cluster := meta.Clusters[ClusterID("example.com/docs", params)]
	require.NotNil(t, cluster)

	result, err := svc.GetClusterSubgraph(ctx, cluster, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Metadata.NodesReturned)
	assert.Equal(t, 1, result.Metadata.EdgesReturned)
}

func TestGenerateVisualizationData_Deterministic(t *testing.T) {
	g, svc := newTestClustering(t)
	seedClusteredGraph(t, g)
	params := ClusteringParams{PathDepth: 1, MinClusterSize: 2}

	meta, err := svc.CreateMetaGraph(context.Background(), params)
	require.NoError(t, err)

	for _, layout := range []string{LayoutGrid, LayoutCircular, LayoutHierarchical, LayoutForce} {
		opts := VisualizationOptions{Layout: layout, Seed: 42}
		first, err := svc.GenerateVisualizationData(meta, opts)
		require.NoError(t, err, layout)
		second, err := svc.GenerateVisualizationData(meta, opts)
		require.NoError(t, err, layout)
		assert.Equal(t, first.Nodes, second.Nodes, layout)
	}

	_, err = svc.GenerateVisualizationData(meta, VisualizationOptions{Layout: "spiral"})
	assert.True(t, pkgerrors.IsValidation(err))
}
