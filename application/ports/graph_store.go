package ports

import (
	"context"
	"time"

	"navgraph-backend/domain/core/entities"
)

// NodeFilters are pre-traversal predicates applied before a node is
// admitted into a subgraph. Nil pointer fields mean "no constraint".
type NodeFilters struct {
	DocumentTypes   []string
	MinAuthority    *float64
	PublishedAfter  *time.Time
	PublishedBefore *time.Time
	VisitedAfter    *time.Time
	VisitedBefore   *time.Time
}

// Matches reports whether a node passes every configured predicate
func (f *NodeFilters) Matches(n *entities.Node) bool {
	if f == nil {
		return true
	}

	if len(f.DocumentTypes) > 0 {
		found := false
		for _, dt := range f.DocumentTypes {
			if n.DocumentType == dt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.MinAuthority != nil && n.PublisherAuthority < *f.MinAuthority {
		return false
	}
	if f.PublishedAfter != nil && (n.PublishedAt == nil || n.PublishedAt.Before(*f.PublishedAfter)) {
		return false
	}
	if f.PublishedBefore != nil && (n.PublishedAt == nil || n.PublishedAt.After(*f.PublishedBefore)) {
		return false
	}
	if f.VisitedAfter != nil && n.LastVisited.Before(*f.VisitedAfter) {
		return false
	}
	if f.VisitedBefore != nil && n.LastVisited.After(*f.VisitedBefore) {
		return false
	}
	return true
}

// SubgraphOptions bound a BFS extraction. Every traversal is capped: a
// zero MaxDepth or MaxNodes is replaced by the store's defaults.
type SubgraphOptions struct {
	StartNode string
	MaxDepth  int
	MaxNodes  int
	Filters   *NodeFilters
}

// SubgraphMetadata describes how a subgraph relates to the whole graph
type SubgraphMetadata struct {
	TotalNodesInGraph int    `json:"totalNodesInGraph"`
	NodesReturned     int    `json:"nodesReturned"`
	TotalEdgesInGraph int    `json:"totalEdgesInGraph"`
	EdgesReturned     int    `json:"edgesReturned"`
	DepthLimit        int    `json:"depthLimit"`
	StartNode         string `json:"startNode"`
}

// SubgraphResult is a bounded, point-in-time slice of the graph
type SubgraphResult struct {
	Nodes    []*entities.Node `json:"nodes"`
	RootURL  string           `json:"rootUrl"`
	Metadata SubgraphMetadata `json:"metadata"`
}

// GraphStatistics summarizes graph shape for health assessment
type GraphStatistics struct {
	TotalNodes        int     `json:"totalNodes"`
	TotalEdges        int     `json:"totalEdges"`
	NodesWithChildren int     `json:"nodesWithChildren"`
	IsolatedNodes     int     `json:"isolatedNodes"`
	ConnectivityRatio float64 `json:"connectivityRatio"`
	RootURL           string  `json:"rootUrl,omitempty"`
}

// GraphStore is the narrow persistence boundary for the navigation graph.
// Any store exposing these primitives is substitutable: the in-memory
// store serves tests and single-node deployments, the DynamoDB store
// serves shared deployments. AddNode must union-merge children; GetNodes
// omits misses rather than failing the batch.
type GraphStore interface {
	GetNode(ctx context.Context, url string) (*entities.Node, error)
	GetNodes(ctx context.Context, urls []string) (map[string]*entities.Node, error)
	AddNode(ctx context.Context, node *entities.Node) (*entities.Node, error)
	GetAllNodes(ctx context.Context) ([]*entities.Node, error)
	GetRoot(ctx context.Context) (string, error)
	SetRoot(ctx context.Context, url string) error
	GetSubgraph(ctx context.Context, opts SubgraphOptions) (*SubgraphResult, error)
	GetStatistics(ctx context.Context) (*GraphStatistics, error)
	GetNodeCount(ctx context.Context) (int, error)
	GetIsolatedNodes(ctx context.Context) ([]*entities.Node, error)
}
