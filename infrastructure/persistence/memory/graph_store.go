package memory

import (
	"context"
	"sync"

	"navgraph-backend/application/ports"
	"navgraph-backend/domain/core/entities"
	"navgraph-backend/infrastructure/persistence"
	pkgerrors "navgraph-backend/pkg/errors"
)

// GraphStore is the in-memory implementation of ports.GraphStore. It is
// the authoritative semantics reference: union-merged children, ordered
// listing, at most one root pointer. Safe for concurrent crawl workers.
type GraphStore struct {
	mu    sync.RWMutex
	nodes map[string]*entities.Node
	order []string // insertion order, keeps listings deterministic
	root  string

	engine *persistence.TraversalEngine
}

// NewGraphStore creates an empty in-memory graph store
func NewGraphStore() *GraphStore {
	s := &GraphStore{
		nodes: make(map[string]*entities.Node),
		order: []string{},
	}
	s.engine = persistence.NewTraversalEngine(s)
	return s
}

// SetTraversalCaps installs a dynamic source of default traversal caps
func (s *GraphStore) SetTraversalCaps(fn func() persistence.TraversalCaps) {
	s.engine.SetCapsProvider(fn)
}

// AddNode upserts a node by URL. Children are union-merged, scalar fields
// are last-writer-wins, LastVisited is refreshed. Returns the merged node.
func (s *GraphStore) AddNode(ctx context.Context, node *entities.Node) (*entities.Node, error) {
	if node == nil {
		return nil, pkgerrors.NewValidationError("node cannot be nil")
	}
	if err := entities.ValidateNodeURL(node.URL); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.nodes[node.URL]
	if !ok {
		stored := node.Clone()
		children := stored.Children
		stored.Children = []string{}
		stored.MergeChildren(children) // dedup the incoming list itself
		s.nodes[stored.URL] = stored
		s.order = append(s.order, stored.URL)
		return stored.Clone(), nil
	}

	existing.Merge(node)
	return existing.Clone(), nil
}

// GetNode returns a point lookup, NotFound if absent
func (s *GraphStore) GetNode(ctx context.Context, url string) (*entities.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[url]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("node").
			WithOperation("GetNode").
			WithDetails(map[string]interface{}{"url": url})
	}
	return node.Clone(), nil
}

// GetNodes returns a batch lookup in one pass. Misses are omitted from
// the result, never an error.
func (s *GraphStore) GetNodes(ctx context.Context, urls []string) (map[string]*entities.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*entities.Node, len(urls))
	for _, url := range urls {
		if node, ok := s.nodes[url]; ok {
			result[url] = node.Clone()
		}
	}
	return result, nil
}

// GetAllNodes returns every node in insertion order. Unbounded: callers cap.
func (s *GraphStore) GetAllNodes(ctx context.Context) ([]*entities.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*entities.Node, 0, len(s.order))
	for _, url := range s.order {
		result = append(result, s.nodes[url].Clone())
	}
	return result, nil
}

// GetRoot returns the distinguished root URL, empty when unset
func (s *GraphStore) GetRoot(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root, nil
}

// SetRoot points the graph's root at an existing node
func (s *GraphStore) SetRoot(ctx context.Context, url string) error {
	if err := entities.ValidateNodeURL(url); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[url]; !ok {
		return pkgerrors.NewNotFoundError("node").
			WithOperation("SetRoot").
			WithDetails(map[string]interface{}{"url": url})
	}
	s.root = url
	return nil
}

// GetNodeCount returns the node count without touching edge statistics
func (s *GraphStore) GetNodeCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), nil
}

// GetSubgraph delegates to the shared traversal engine
func (s *GraphStore) GetSubgraph(ctx context.Context, opts ports.SubgraphOptions) (*ports.SubgraphResult, error) {
	return s.engine.Subgraph(ctx, opts)
}

// GetIsolatedNodes delegates to the shared traversal engine
func (s *GraphStore) GetIsolatedNodes(ctx context.Context) ([]*entities.Node, error) {
	return s.engine.IsolatedNodes(ctx)
}

// GetStatistics delegates to the shared traversal engine
func (s *GraphStore) GetStatistics(ctx context.Context) (*ports.GraphStatistics, error) {
	return s.engine.Statistics(ctx)
}

var _ ports.GraphStore = (*GraphStore)(nil)
