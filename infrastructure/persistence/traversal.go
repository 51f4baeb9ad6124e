package persistence

import (
	"context"

	"navgraph-backend/application/ports"
	"navgraph-backend/domain/core/entities"
	pkgerrors "navgraph-backend/pkg/errors"
)

// Traversal caps. Every traversal is bounded; zero-valued options fall
// back to these.
const (
	DefaultMaxDepth = 10
	DefaultMaxNodes = 500

	// StartNodeScanLimit caps the flat scan used by the start-node
	// heuristic when neither a start node nor a root is available.
	StartNodeScanLimit = 1000
)

// NodeFetcher is the minimal read surface the traversal engine needs.
// Both the in-memory and the DynamoDB store satisfy it, so BFS, isolated
// detection and statistics are implemented once.
type NodeFetcher interface {
	GetNode(ctx context.Context, url string) (*entities.Node, error)
	GetNodes(ctx context.Context, urls []string) (map[string]*entities.Node, error)
	GetAllNodes(ctx context.Context) ([]*entities.Node, error)
	GetRoot(ctx context.Context) (string, error)
}

// TraversalCaps bound a traversal when the caller's options carry no
// explicit limits.
type TraversalCaps struct {
	MaxDepth int
	MaxNodes int
}

// TraversalEngine implements the read-only graph operations over a point-
// in-time fetch. It holds no locks and no state between calls; a write
// racing a long traversal may mix pre- and post-write state, which is
// acceptable for visualization results.
type TraversalEngine struct {
	fetcher NodeFetcher
	caps    func() TraversalCaps
}

// NewTraversalEngine creates a traversal engine over the given fetcher
func NewTraversalEngine(fetcher NodeFetcher) *TraversalEngine {
	return &TraversalEngine{fetcher: fetcher}
}

// SetCapsProvider installs a dynamic source of default traversal caps,
// read once per traversal. Nil keeps the built-in defaults.
func (e *TraversalEngine) SetCapsProvider(fn func() TraversalCaps) {
	e.caps = fn
}

func (e *TraversalEngine) defaultCaps() TraversalCaps {
	caps := TraversalCaps{MaxDepth: DefaultMaxDepth, MaxNodes: DefaultMaxNodes}
	if e.caps != nil {
		dyn := e.caps()
		if dyn.MaxDepth > 0 {
			caps.MaxDepth = dyn.MaxDepth
		}
		if dyn.MaxNodes > 0 {
			caps.MaxNodes = dyn.MaxNodes
		}
	}
	return caps
}

// ResolveStartNode picks the BFS origin: the explicit candidate, else the
// graph root, else the first node with children in insertion order.
func (e *TraversalEngine) ResolveStartNode(ctx context.Context, candidate string) (string, error) {
	if candidate != "" {
		return candidate, nil
	}

	root, err := e.fetcher.GetRoot(ctx)
	if err != nil {
		return "", err
	}
	if root != "" {
		return root, nil
	}

	all, err := e.fetcher.GetAllNodes(ctx)
	if err != nil {
		return "", err
	}
	for i, n := range all {
		if i >= StartNodeScanLimit {
			break
		}
		if len(n.Children) > 0 {
			return n.URL, nil
		}
	}
	return "", pkgerrors.NewNotFoundError("start node")
}

// Subgraph runs a bounded breadth-first traversal. Children are visited
// in stored array order so repeated calls with identical inputs truncate
// identically. Filtered-out nodes are neither emitted nor expanded.
func (e *TraversalEngine) Subgraph(ctx context.Context, opts ports.SubgraphOptions) (*ports.SubgraphResult, error) {
	caps := e.defaultCaps()
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = caps.MaxDepth
	}
	maxNodes := opts.MaxNodes
	if maxNodes <= 0 {
		maxNodes = caps.MaxNodes
	}

	start, err := e.ResolveStartNode(ctx, opts.StartNode)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			// Empty or rootless graph: a subgraph of nothing
			stats, statsErr := e.Statistics(ctx)
			if statsErr != nil {
				return nil, statsErr
			}
			return &ports.SubgraphResult{
				Nodes: []*entities.Node{},
				Metadata: ports.SubgraphMetadata{
					TotalNodesInGraph: stats.TotalNodes,
					TotalEdgesInGraph: stats.TotalEdges,
					DepthLimit:        maxDepth,
				},
			}, nil
		}
		return nil, err
	}

	included := make(map[string]*entities.Node)
	order := make([]string, 0, maxNodes)
	frontier := []string{start}
	visited := map[string]struct{}{start: {}}

	for depth := 0; depth <= maxDepth && len(frontier) > 0 && len(order) < maxNodes; depth++ {
		fetched, err := e.fetcher.GetNodes(ctx, frontier)
		if err != nil {
			return nil, err
		}

		next := make([]string, 0)
		for _, url := range frontier {
			if len(order) >= maxNodes {
				break
			}
			node, ok := fetched[url]
			if !ok {
				// Lazily-referenced child with no node yet
				continue
			}
			if !opts.Filters.Matches(node) {
				continue
			}

			included[url] = node
			order = append(order, url)

			if depth == maxDepth {
				continue
			}
			for _, child := range node.Children {
				if _, seen := visited[child]; seen {
					continue
				}
				visited[child] = struct{}{}
				next = append(next, child)
			}
		}
		frontier = next
	}

	nodes := make([]*entities.Node, 0, len(order))
	edgesReturned := 0
	for _, url := range order {
		node := included[url]
		nodes = append(nodes, node)
		for _, child := range node.Children {
			if _, ok := included[child]; ok {
				edgesReturned++
			}
		}
	}

	stats, err := e.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	return &ports.SubgraphResult{
		Nodes:   nodes,
		RootURL: start,
		Metadata: ports.SubgraphMetadata{
			TotalNodesInGraph: stats.TotalNodes,
			NodesReturned:     len(nodes),
			TotalEdgesInGraph: stats.TotalEdges,
			EdgesReturned:     edgesReturned,
			DepthLimit:        maxDepth,
			StartNode:         start,
		},
	}, nil
}

// IsolatedNodes returns nodes with no outgoing children that are also not
// referenced as any node's child.
func (e *TraversalEngine) IsolatedNodes(ctx context.Context) ([]*entities.Node, error) {
	all, err := e.fetcher.GetAllNodes(ctx)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]struct{})
	for _, n := range all {
		for _, child := range n.Children {
			referenced[child] = struct{}{}
		}
	}

	isolated := make([]*entities.Node, 0)
	for _, n := range all {
		if len(n.Children) > 0 {
			continue
		}
		if _, ok := referenced[n.URL]; ok {
			continue
		}
		isolated = append(isolated, n)
	}
	return isolated, nil
}

// Statistics computes the shape summary used by health assessment
func (e *TraversalEngine) Statistics(ctx context.Context) (*ports.GraphStatistics, error) {
	all, err := e.fetcher.GetAllNodes(ctx)
	if err != nil {
		return nil, err
	}

	root, err := e.fetcher.GetRoot(ctx)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]struct{})
	stats := &ports.GraphStatistics{TotalNodes: len(all), RootURL: root}
	for _, n := range all {
		stats.TotalEdges += len(n.Children)
		if len(n.Children) > 0 {
			stats.NodesWithChildren++
		}
		for _, child := range n.Children {
			referenced[child] = struct{}{}
		}
	}
	for _, n := range all {
		if len(n.Children) == 0 {
			if _, ok := referenced[n.URL]; !ok {
				stats.IsolatedNodes++
			}
		}
	}
	if stats.TotalNodes > 0 {
		stats.ConnectivityRatio = 1 - float64(stats.IsolatedNodes)/float64(stats.TotalNodes)
	}
	return stats, nil
}
