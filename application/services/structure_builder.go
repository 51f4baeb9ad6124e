package services

import (
	"context"
	"strings"

	"navgraph-backend/domain/core/entities"
	"navgraph-backend/pkg/utils"

	pkgerrors "navgraph-backend/pkg/errors"

	"go.uber.org/zap"
)

// Structure repair strategies
const (
	StrategyHierarchical = "hierarchical"
	StrategyClustered    = "clustered"
	StrategySemantic     = "semantic"
)

// BuildStructureOptions configure a whole-graph repair pass
type BuildStructureOptions struct {
	Strategy         string
	MaxDepth         int
	MinGroupSize     int
	SetRootIfMissing bool
}

// BuildStructureResult reports what a repair pass did. Per-node failures
// are collected here instead of aborting the batch.
type BuildStructureResult struct {
	NodesProcessed       int                 `json:"nodesProcessed"`
	RelationshipsCreated int                 `json:"relationshipsCreated"`
	GroupsCreated        int                 `json:"groupsCreated"`
	RootNodeSet          bool                `json:"rootNodeSet"`
	GroupNodeURLs        map[string][]string `json:"groupNodeUrls"`
	Failures             []string            `json:"failures,omitempty"`
}

// StructureBuilder orchestrates repair of poorly-connected graphs: it
// finds isolated nodes, groups them, and creates edges through the
// relationship builder. Re-running after a successful repair is a no-op
// thanks to union-merge.
type StructureBuilder struct {
	graph      *NavigationGraph
	builder    *RelationshipBuilder
	clustering *ClusteringService
	logger     *zap.Logger
}

// NewStructureBuilder creates the repair orchestrator
func NewStructureBuilder(
	graph *NavigationGraph,
	builder *RelationshipBuilder,
	clustering *ClusteringService,
	logger *zap.Logger,
) *StructureBuilder {
	return &StructureBuilder{
		graph:      graph,
		builder:    builder,
		clustering: clustering,
		logger:     logger,
	}
}

// BuildStructure runs one repair pass with the requested strategy
func (sb *StructureBuilder) BuildStructure(ctx context.Context, opts BuildStructureOptions) (*BuildStructureResult, error) {
	switch opts.Strategy {
	case StrategyHierarchical, StrategyClustered, StrategySemantic:
	default:
		return nil, pkgerrors.NewValidationError("invalid strategy: " + opts.Strategy)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 2
	}
	if opts.MinGroupSize <= 0 {
		opts.MinGroupSize = 2
	}

	isolated, err := sb.graph.GetIsolatedNodes(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "BuildStructure failed")
	}

	result := &BuildStructureResult{
		NodesProcessed: len(isolated),
		GroupNodeURLs:  map[string][]string{},
	}

	if len(isolated) > 0 {
		switch opts.Strategy {
		case StrategyHierarchical:
			err = sb.buildHierarchical(ctx, isolated, opts, result)
		case StrategyClustered:
			err = sb.buildClustered(ctx, isolated, opts, result)
		case StrategySemantic:
			err = sb.buildSemantic(ctx, isolated, result)
		}
		if err != nil {
			return nil, err
		}
	}

	if opts.SetRootIfMissing {
		set, err := sb.ensureRoot(ctx)
		if err != nil {
			result.Failures = append(result.Failures, err.Error())
		}
		result.RootNodeSet = set
	}

	sb.logger.Info("Structure repair completed",
		zap.String("strategy", opts.Strategy),
		zap.Int("nodesProcessed", result.NodesProcessed),
		zap.Int("relationshipsCreated", result.RelationshipsCreated),
		zap.Int("groupsCreated", result.GroupsCreated),
		zap.Int("failures", len(result.Failures)),
	)
	return result, nil
}

// buildHierarchical groups isolated nodes by URL path prefix and links
// each group to the nearest existing parent, synthesizing a section node
// when no ancestor exists.
func (sb *StructureBuilder) buildHierarchical(
	ctx context.Context,
	isolated []*entities.Node,
	opts BuildStructureOptions,
	result *BuildStructureResult,
) error {
	all, err := sb.graph.GetAllNodes(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "buildHierarchical failed")
	}
	known := make(map[string]*entities.Node, len(all))
	for _, n := range all {
		known[n.URL] = n
	}

	groups := make(map[string][]*entities.Node)
	groupOrder := make([]string, 0)
	for _, node := range isolated {
		prefix := utils.PathPrefix(node.URL, opts.MaxDepth)
		if _, ok := groups[prefix]; !ok {
			groupOrder = append(groupOrder, prefix)
		}
		groups[prefix] = append(groups[prefix], node)
	}

	for _, prefix := range groupOrder {
		members := groups[prefix]
		if len(members) < opts.MinGroupSize {
			continue
		}

		parentURL := sb.resolveGroupParent(ctx, prefix, members[0], known, result)
		if parentURL == "" {
			continue
		}

		urls := make([]string, 0, len(members))
		for _, m := range members {
			if m.URL == parentURL {
				continue
			}
			if err := sb.builder.LinkToParent(ctx, parentURL, m.URL); err != nil {
				result.Failures = append(result.Failures, err.Error())
				continue
			}
			result.RelationshipsCreated++
			urls = append(urls, m.URL)
		}
		result.GroupsCreated++
		result.GroupNodeURLs[parentURL] = urls
	}
	return nil
}

// resolveGroupParent finds an existing ancestor for the group, or
// synthesizes a section node at the group's prefix.
func (sb *StructureBuilder) resolveGroupParent(
	ctx context.Context,
	prefix string,
	sample *entities.Node,
	known map[string]*entities.Node,
	result *BuildStructureResult,
) string {
	if parent := sb.builder.FindPathParent(ctx, sample.URL, known); parent != "" {
		return parent
	}

	scheme := "https://"
	if strings.HasPrefix(sample.URL, "http://") {
		scheme = "http://"
	}
	synthURL := scheme + prefix

	section, err := entities.NewNode(synthURL, prefix, entities.NodeTypeSection)
	if err != nil {
		result.Failures = append(result.Failures, err.Error())
		return ""
	}
	if _, err := sb.graph.AddNode(ctx, section); err != nil {
		result.Failures = append(result.Failures, err.Error())
		return ""
	}
	known[synthURL] = section
	return synthURL
}

// buildClustered clusters the whole graph first, then links each isolated
// node to a representative of the cluster its path prefix falls into.
func (sb *StructureBuilder) buildClustered(
	ctx context.Context,
	isolated []*entities.Node,
	opts BuildStructureOptions,
	result *BuildStructureResult,
) error {
	params := ClusteringParams{PathDepth: opts.MaxDepth, MinClusterSize: opts.MinGroupSize}
	meta, err := sb.clustering.CreateMetaGraph(ctx, params)
	if err != nil {
		return pkgerrors.Wrap(err, "buildClustered failed")
	}
	if meta.TotalClusters == 0 {
		return nil
	}

	isolatedSet := make(map[string]struct{}, len(isolated))
	for _, n := range isolated {
		isolatedSet[n.URL] = struct{}{}
	}

	linkedGroups := make(map[string]struct{})
	for _, node := range isolated {
		prefix := utils.PathPrefix(node.URL, params.PathDepth)
		cluster, ok := meta.Clusters[ClusterID(prefix, params)]
		if !ok {
			continue
		}

		// Representative: first member that is not itself isolated,
		// falling back to the first member.
		representative := ""
		for _, m := range cluster.Members {
			if _, iso := isolatedSet[m]; !iso {
				representative = m
				break
			}
		}
		if representative == "" && len(cluster.Members) > 0 {
			representative = cluster.Members[0]
		}
		if representative == "" || representative == node.URL {
			continue
		}

		if err := sb.builder.LinkToParent(ctx, representative, node.URL); err != nil {
			result.Failures = append(result.Failures, err.Error())
			continue
		}
		result.RelationshipsCreated++
		result.GroupNodeURLs[representative] = append(result.GroupNodeURLs[representative], node.URL)
		if _, ok := linkedGroups[cluster.ID]; !ok {
			linkedGroups[cluster.ID] = struct{}{}
			result.GroupsCreated++
		}
	}
	return nil
}

// buildSemantic links isolated nodes to their nearest connected neighbors
// by embedding similarity. Provider failures are typed and fatal for the
// strategy; there is no silent fallback.
func (sb *StructureBuilder) buildSemantic(
	ctx context.Context,
	isolated []*entities.Node,
	result *BuildStructureResult,
) error {
	all, err := sb.graph.GetAllNodes(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "buildSemantic failed")
	}

	isolatedSet := make(map[string]struct{}, len(isolated))
	for _, n := range isolated {
		isolatedSet[n.URL] = struct{}{}
	}
	connected := make([]*entities.Node, 0, len(all)-len(isolated))
	for _, n := range all {
		if _, iso := isolatedSet[n.URL]; !iso {
			connected = append(connected, n)
		}
	}
	if len(connected) == 0 {
		return nil
	}

	created, failures := sb.builder.LinkBySimilarity(ctx, isolated, connected)
	for _, edge := range created {
		result.RelationshipsCreated++
		result.GroupNodeURLs[edge.Parent] = append(result.GroupNodeURLs[edge.Parent], edge.Child)
	}
	for _, ferr := range failures {
		if pkgerrors.IsUnavailable(ferr) {
			return ferr
		}
		result.Failures = append(result.Failures, ferr.Error())
	}
	result.GroupsCreated = len(result.GroupNodeURLs)
	return nil
}

// ensureRoot assigns a root when none exists, preferring the node with
// the most children.
func (sb *StructureBuilder) ensureRoot(ctx context.Context) (bool, error) {
	root, err := sb.graph.GetRoot(ctx)
	if err != nil {
		return false, err
	}
	if root != "" {
		return false, nil
	}

	all, err := sb.graph.GetAllNodes(ctx)
	if err != nil {
		return false, err
	}

	best := ""
	bestChildren := 0
	for _, n := range all {
		if len(n.Children) > bestChildren {
			best = n.URL
			bestChildren = len(n.Children)
		}
	}
	if best == "" {
		return false, nil
	}

	if err := sb.graph.SetRoot(ctx, best); err != nil {
		return false, err
	}
	return true, nil
}
