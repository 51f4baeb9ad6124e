package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"navgraph-backend/application/ports"
	"navgraph-backend/domain/core/entities"
	"navgraph-backend/pkg/observability"
	"navgraph-backend/pkg/utils"

	pkgerrors "navgraph-backend/pkg/errors"

	"go.uber.org/zap"
)

// ClusteringParams select the granularity of the meta-graph. Cluster ids
// are only stable while these are held fixed.
type ClusteringParams struct {
	PathDepth      int `json:"pathDepth"`
	MinClusterSize int `json:"minClusterSize"`
}

// Default clustering granularity used when a caller passes none
const (
	DefaultPathDepth      = 2
	DefaultMinClusterSize = 3
)

// DefaultClusteringParams returns the default granularity
func DefaultClusteringParams() ClusteringParams {
	return ClusteringParams{
		PathDepth:      DefaultPathDepth,
		MinClusterSize: DefaultMinClusterSize,
	}
}

// Cluster is a derived grouping of nodes sharing a URL-path prefix at a
// fixed depth. Never persisted.
type Cluster struct {
	ID         string   `json:"id"`
	PathPrefix string   `json:"pathPrefix"`
	PathDepth  int      `json:"pathDepth"`
	Members    []string `json:"members"`
	Size       int      `json:"size"`
}

// MetaEdge is a rolled-up edge between clusters; weight counts the
// node-level edges it aggregates.
type MetaEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Weight int    `json:"weight"`
}

// MetaGraph is the coarse, human-scale view of the navigation graph.
// Invariant: sum of retained cluster sizes plus ExcludedNodes equals
// TotalNodes.
type MetaGraph struct {
	Clusters      map[string]*Cluster `json:"clusters"`
	Edges         []MetaEdge          `json:"edges"`
	TotalNodes    int                 `json:"totalNodes"`
	TotalClusters int                 `json:"totalClusters"`
	ExcludedNodes int                 `json:"excludedNodes"`
	Params        ClusteringParams    `json:"params"`
	GeneratedAt   time.Time           `json:"generatedAt"`
}

// EmptyMetaGraph is the canonical zero-node result
func EmptyMetaGraph(params ClusteringParams) *MetaGraph {
	return &MetaGraph{
		Clusters:    map[string]*Cluster{},
		Edges:       []MetaEdge{},
		Params:      params,
		GeneratedAt: time.Now(),
	}
}

// ClusterID derives the deterministic cluster identifier from the path
// prefix and the clustering parameters. Two meta-graph builds with the
// same parameters and no intervening mutation yield identical ids, so a
// later cluster lookup with the same parameters resolves.
func ClusterID(pathPrefix string, params ClusteringParams) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d", pathPrefix, params.PathDepth, params.MinClusterSize)
	return fmt.Sprintf("c_%016x", h.Sum64())
}

// ClusteringService builds the meta-graph with a single-slot cache. The
// slot is invalidated by explicit call or by the graph's mutation
// notification, never by TTL.
type ClusteringService struct {
	graph   *NavigationGraph
	logger  *zap.Logger
	metrics *observability.Metrics

	// Caps the node sample a single meta-graph build will consume
	maxSampleNodes int

	mu           sync.Mutex
	cached       *MetaGraph
	cachedParams ClusteringParams
	// generation advances on every invalidation; a build result is only
	// cached if no invalidation happened while it ran.
	generation uint64
}

// NewClusteringService creates the clustering service and subscribes its
// cache slot to graph mutations.
func NewClusteringService(graph *NavigationGraph, logger *zap.Logger, metrics *observability.Metrics) *ClusteringService {
	s := &ClusteringService{
		graph:          graph,
		logger:         logger,
		metrics:        metrics,
		maxSampleNodes: 10000,
	}
	graph.Subscribe(s.Invalidate)
	return s
}

// Invalidate clears the cache slot. Called on every graph mutation; heavy
// write bursts simply trigger recomputation on the next read.
func (s *ClusteringService) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.generation++
	s.mu.Unlock()
	s.metrics.RecordCacheInvalidation()
}

// CreateMetaGraph groups nodes by URL-path prefix at the requested depth,
// drops groups smaller than MinClusterSize (excluded nodes stay counted in
// TotalNodes but join no cluster), and rolls node edges up into weighted
// cluster edges.
func (s *ClusteringService) CreateMetaGraph(ctx context.Context, params ClusteringParams) (*MetaGraph, error) {
	if params.PathDepth < 1 {
		return nil, pkgerrors.NewValidationError("pathDepth must be at least 1")
	}
	if params.MinClusterSize < 1 {
		return nil, pkgerrors.NewValidationError("minClusterSize must be at least 1")
	}

	s.mu.Lock()
	if s.cached != nil && s.cachedParams == params {
		cached := s.cached
		s.mu.Unlock()
		return cached, nil
	}
	buildGeneration := s.generation
	s.mu.Unlock()

	start := time.Now()
	meta, err := s.buildMetaGraph(ctx, params)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveMetaGraphBuild(time.Since(start))

	// A mutation during the build invalidated its snapshot; serve the
	// result but leave the slot empty so the next read rebuilds.
	s.mu.Lock()
	if s.generation == buildGeneration {
		s.cached = meta
		s.cachedParams = params
	}
	s.mu.Unlock()

	s.logger.Info("Meta-graph built",
		zap.Int("pathDepth", params.PathDepth),
		zap.Int("minClusterSize", params.MinClusterSize),
		zap.Int("totalNodes", meta.TotalNodes),
		zap.Int("totalClusters", meta.TotalClusters),
		zap.Int("excludedNodes", meta.ExcludedNodes),
	)
	return meta, nil
}

func (s *ClusteringService) buildMetaGraph(ctx context.Context, params ClusteringParams) (*MetaGraph, error) {
	nodes, err := s.graph.GetAllNodes(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "CreateMetaGraph failed")
	}
	if len(nodes) > s.maxSampleNodes {
		nodes = nodes[:s.maxSampleNodes]
	}
	if len(nodes) == 0 {
		return EmptyMetaGraph(params), nil
	}

	// Group by truncated path prefix; preserve first-seen group order
	groups := make(map[string][]*entities.Node)
	groupOrder := make([]string, 0)
	for _, node := range nodes {
		key := utils.PathPrefix(node.URL, params.PathDepth)
		if _, ok := groups[key]; !ok {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], node)
	}

	meta := EmptyMetaGraph(params)
	meta.TotalNodes = len(nodes)

	// Retain groups meeting the size threshold. Undersized groups are
	// silently excluded, not folded into a catch-all bucket; their
	// members still count toward TotalNodes.
	clusterByPrefix := make(map[string]*Cluster)
	memberCluster := make(map[string]string) // node url -> cluster id
	for _, key := range groupOrder {
		members := groups[key]
		if len(members) < params.MinClusterSize {
			meta.ExcludedNodes += len(members)
			continue
		}

		cluster := &Cluster{
			ID:         ClusterID(key, params),
			PathPrefix: key,
			PathDepth:  params.PathDepth,
			Members:    make([]string, 0, len(members)),
			Size:       len(members),
		}
		for _, m := range members {
			cluster.Members = append(cluster.Members, m.URL)
			memberCluster[m.URL] = cluster.ID
		}
		meta.Clusters[cluster.ID] = cluster
		clusterByPrefix[key] = cluster
	}
	meta.TotalClusters = len(meta.Clusters)

	// Roll node-level child edges up to cluster-level weighted edges
	weights := make(map[[2]string]int)
	for _, node := range nodes {
		sourceCluster, ok := memberCluster[node.URL]
		if !ok {
			continue
		}
		for _, child := range node.Children {
			targetCluster, ok := memberCluster[child]
			if !ok || targetCluster == sourceCluster {
				continue
			}
			weights[[2]string{sourceCluster, targetCluster}]++
		}
	}

	meta.Edges = make([]MetaEdge, 0, len(weights))
	for pair, weight := range weights {
		meta.Edges = append(meta.Edges, MetaEdge{Source: pair[0], Target: pair[1], Weight: weight})
	}
	sort.Slice(meta.Edges, func(i, j int) bool {
		if meta.Edges[i].Source != meta.Edges[j].Source {
			return meta.Edges[i].Source < meta.Edges[j].Source
		}
		return meta.Edges[i].Target < meta.Edges[j].Target
	})

	return meta, nil
}

// GetCluster resolves a cluster id under the same parameters that
// produced it. Different parameters yield different ids, hence not-found.
func (s *ClusteringService) GetCluster(ctx context.Context, params ClusteringParams, clusterID string) (*Cluster, error) {
	meta, err := s.CreateMetaGraph(ctx, params)
	if err != nil {
		return nil, err
	}

	cluster, ok := meta.Clusters[clusterID]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("cluster").
			WithOperation("GetCluster").
			WithDetails(map[string]interface{}{
				"clusterId":      clusterID,
				"pathDepth":      params.PathDepth,
				"minClusterSize": params.MinClusterSize,
			})
	}
	return cluster, nil
}

// GetClusterSubgraph re-expands a cluster's members as a BFS subgraph
// scoped to membership: only edges between members are followed.
func (s *ClusteringService) GetClusterSubgraph(ctx context.Context, cluster *Cluster, maxNodes, maxDepth int) (*ports.SubgraphResult, error) {
	if cluster == nil || len(cluster.Members) == 0 {
		return nil, pkgerrors.NewValidationError("cluster has no members")
	}
	if maxNodes <= 0 {
		maxNodes = len(cluster.Members)
	}
	if maxDepth <= 0 {
		maxDepth = cluster.PathDepth + 1
	}

	fetched, err := s.graph.GetNodes(ctx, cluster.Members)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "GetClusterSubgraph failed")
	}

	membership := make(map[string]struct{}, len(cluster.Members))
	for _, url := range cluster.Members {
		membership[url] = struct{}{}
	}

	// BFS over the membership-scoped edge set, stored child order
	included := make(map[string]*entities.Node)
	order := make([]string, 0, maxNodes)
	visited := make(map[string]struct{})
	frontier := make([]string, 0)

	for _, url := range cluster.Members {
		if _, ok := fetched[url]; ok {
			frontier = append(frontier, url)
			visited[url] = struct{}{}
			break
		}
	}

	for depth := 0; depth <= maxDepth && len(frontier) > 0 && len(order) < maxNodes; depth++ {
		next := make([]string, 0)
		for _, url := range frontier {
			if len(order) >= maxNodes {
				break
			}
			node, ok := fetched[url]
			if !ok {
				continue
			}
			included[url] = node
			order = append(order, url)

			if depth == maxDepth {
				continue
			}
			for _, child := range node.Children {
				if _, member := membership[child]; !member {
					continue
				}
				if _, seen := visited[child]; seen {
					continue
				}
				visited[child] = struct{}{}
				next = append(next, child)
			}
		}
		frontier = next
	}

	// Members unreachable from the seed are still part of the cluster;
	// append them in member order until the cap.
	for _, url := range cluster.Members {
		if len(order) >= maxNodes {
			break
		}
		if _, ok := included[url]; ok {
			continue
		}
		node, ok := fetched[url]
		if !ok {
			continue
		}
		included[url] = node
		order = append(order, url)
	}

	nodes := make([]*entities.Node, 0, len(order))
	edges := 0
	for _, url := range order {
		node := included[url]
		nodes = append(nodes, node)
		for _, child := range node.Children {
			if _, ok := included[child]; ok {
				edges++
			}
		}
	}

	var rootURL string
	if len(order) > 0 {
		rootURL = order[0]
	}

	return &ports.SubgraphResult{
		Nodes:   nodes,
		RootURL: rootURL,
		Metadata: ports.SubgraphMetadata{
			TotalNodesInGraph: cluster.Size,
			NodesReturned:     len(nodes),
			EdgesReturned:     edges,
			DepthLimit:        maxDepth,
			StartNode:         rootURL,
		},
	}, nil
}
