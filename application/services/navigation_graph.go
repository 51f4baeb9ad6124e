package services

import (
	"context"
	"sync"
	"time"

	"navgraph-backend/application/ports"
	"navgraph-backend/domain/core/entities"
	"navgraph-backend/pkg/observability"

	pkgerrors "navgraph-backend/pkg/errors"

	"go.uber.org/zap"
)

// NavigationGraph is the logical read/write API over the backing graph
// store. It adds the mutation-observer hook, batch-lookup fallback, and
// operation-tagged error wrapping on top of the narrow store interface.
// Multiple crawl workers write through it concurrently; safety comes from
// the store's union-merge semantics, not from locks here.
type NavigationGraph struct {
	store   ports.GraphStore
	logger  *zap.Logger
	metrics *observability.Metrics

	mu          sync.RWMutex
	subscribers []func()
}

// NewNavigationGraph creates the logical graph API over a store
func NewNavigationGraph(store ports.GraphStore, logger *zap.Logger, metrics *observability.Metrics) *NavigationGraph {
	return &NavigationGraph{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe registers a callback fired after every successful mutation.
// Cache holders (the clustering service) subscribe here instead of being
// wired into the graph, so the graph never depends on its dependents.
func (g *NavigationGraph) Subscribe(cb func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribers = append(g.subscribers, cb)
}

func (g *NavigationGraph) notifyMutation() {
	g.mu.RLock()
	subs := make([]func(), len(g.subscribers))
	copy(subs, g.subscribers)
	g.mu.RUnlock()

	for _, cb := range subs {
		cb()
	}
}

// AddNode upserts a node by URL. Children union-merge in the store, so
// calling this twice with overlapping child lists never duplicates edges.
// All registered mutation subscribers fire after the write lands.
func (g *NavigationGraph) AddNode(ctx context.Context, node *entities.Node) (*entities.Node, error) {
	merged, err := g.store.AddNode(ctx, node)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "AddNode failed")
	}

	g.metrics.RecordNodeUpserted()
	g.logger.Debug("Node upserted",
		zap.String("url", merged.URL),
		zap.Int("children", len(merged.Children)),
	)

	g.notifyMutation()
	return merged, nil
}

// GetNode is a point lookup by URL
func (g *NavigationGraph) GetNode(ctx context.Context, url string) (*entities.Node, error) {
	return g.store.GetNode(ctx, url)
}

// GetNodes batch-fetches N URLs in a single store round trip, with a
// best-effort per-item fallback only for the keys the batch missed. Keeps
// latency bounded under high branching factors. Absent nodes are simply
// omitted, never an error.
func (g *NavigationGraph) GetNodes(ctx context.Context, urls []string) (map[string]*entities.Node, error) {
	found, err := g.store.GetNodes(ctx, urls)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "GetNodes failed")
	}

	for _, url := range urls {
		if _, ok := found[url]; ok {
			continue
		}
		node, err := g.store.GetNode(ctx, url)
		if err != nil {
			if pkgerrors.IsNotFound(err) {
				continue
			}
			return nil, pkgerrors.Wrap(err, "GetNodes fallback failed")
		}
		found[url] = node
	}
	return found, nil
}

// GetRoot returns the distinguished root URL, empty when unset
func (g *NavigationGraph) GetRoot(ctx context.Context) (string, error) {
	return g.store.GetRoot(ctx)
}

// SetRoot points the graph root at an existing node and counts as a mutation
func (g *NavigationGraph) SetRoot(ctx context.Context, url string) error {
	if err := g.store.SetRoot(ctx, url); err != nil {
		return pkgerrors.Wrap(err, "SetRoot failed")
	}
	g.notifyMutation()
	return nil
}

// GetSubgraph extracts a bounded BFS subgraph with pre-traversal filters.
// Traversal order is stable, so identical inputs truncate identically.
func (g *NavigationGraph) GetSubgraph(ctx context.Context, opts ports.SubgraphOptions) (*ports.SubgraphResult, error) {
	start := time.Now()
	result, err := g.store.GetSubgraph(ctx, opts)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "GetSubgraph failed")
	}
	g.metrics.ObserveSubgraphBuild(time.Since(start))
	return result, nil
}

// GetAllNodes is the unbounded flat listing; callers must cap
func (g *NavigationGraph) GetAllNodes(ctx context.Context) ([]*entities.Node, error) {
	return g.store.GetAllNodes(ctx)
}

// GetIsolatedNodes returns nodes with neither outgoing nor incoming edges
func (g *NavigationGraph) GetIsolatedNodes(ctx context.Context) ([]*entities.Node, error) {
	return g.store.GetIsolatedNodes(ctx)
}

// GetStatistics computes the full shape summary, including edge counts
func (g *NavigationGraph) GetStatistics(ctx context.Context) (*ports.GraphStatistics, error) {
	return g.store.GetStatistics(ctx)
}

// GetNodeCount returns the node count on a code path independent of edge
// statistics, so counting still works when statistics computation fails.
func (g *NavigationGraph) GetNodeCount(ctx context.Context) (int, error) {
	return g.store.GetNodeCount(ctx)
}
