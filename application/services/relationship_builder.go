package services

import (
	"context"
	"math"
	"sort"

	"navgraph-backend/application/ports"
	"navgraph-backend/domain/core/entities"
	"navgraph-backend/pkg/utils"

	pkgerrors "navgraph-backend/pkg/errors"

	"go.uber.org/zap"
)

// RelationshipBuilderConfig tunes edge inference
type RelationshipBuilderConfig struct {
	MinSimilarity float64 // threshold for semantic linking
	TopK          int     // neighbors linked per isolated node
}

// DefaultRelationshipBuilderConfig returns balanced defaults
func DefaultRelationshipBuilderConfig() *RelationshipBuilderConfig {
	return &RelationshipBuilderConfig{
		MinSimilarity: 0.6,
		TopK:          3,
	}
}

// RelationshipBuilder infers missing edges between nodes, either from URL
// path structure or from embedding similarity via the external provider.
type RelationshipBuilder struct {
	graph    *NavigationGraph
	provider ports.EmbeddingProvider
	config   *RelationshipBuilderConfig
	logger   *zap.Logger
}

// NewRelationshipBuilder creates a relationship builder
func NewRelationshipBuilder(
	graph *NavigationGraph,
	provider ports.EmbeddingProvider,
	config *RelationshipBuilderConfig,
	logger *zap.Logger,
) *RelationshipBuilder {
	if config == nil {
		config = DefaultRelationshipBuilderConfig()
	}
	return &RelationshipBuilder{
		graph:    graph,
		provider: provider,
		config:   config,
		logger:   logger,
	}
}

// CreatedEdge records one inferred parent -> child relationship
type CreatedEdge struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

// LinkToParent adds child as an edge of parent. Union-merge in the store
// makes this idempotent: re-running a repair never duplicates edges.
func (b *RelationshipBuilder) LinkToParent(ctx context.Context, parentURL, childURL string) error {
	parent := &entities.Node{URL: parentURL, Children: []string{childURL}}
	if _, err := b.graph.AddNode(ctx, parent); err != nil {
		return pkgerrors.Wrapf(err, "failed to link %s -> %s", parentURL, childURL)
	}
	return nil
}

// FindPathParent resolves the nearest existing ancestor of a URL by
// walking its path prefixes upward. Returns "" when no ancestor exists.
func (b *RelationshipBuilder) FindPathParent(ctx context.Context, nodeURL string, known map[string]*entities.Node) string {
	segments := utils.PathSegments(nodeURL)
	for depth := len(segments) - 2; depth >= 0; depth-- {
		prefix := utils.PathPrefix(nodeURL, depth)
		for _, scheme := range []string{"https://", "http://"} {
			candidate := scheme + prefix
			if candidate == nodeURL {
				continue
			}
			if _, ok := known[candidate]; ok {
				return candidate
			}
		}
	}
	return ""
}

// semanticCandidate pairs a connected node with its similarity to an
// isolated node.
type semanticCandidate struct {
	url        string
	similarity float64
}

// LinkBySimilarity embeds the isolated and connected node sets and links
// each isolated node to its top-K nearest connected neighbors above the
// similarity threshold. Fails fast with a typed Unavailable error when
// the provider is unreachable; it never degrades to another strategy.
func (b *RelationshipBuilder) LinkBySimilarity(
	ctx context.Context,
	isolated []*entities.Node,
	connected []*entities.Node,
) ([]CreatedEdge, []error) {
	if b.provider == nil {
		return nil, []error{pkgerrors.NewUnavailableError("embedding provider").
			WithOperation("LinkBySimilarity")}
	}

	connectedVecs := make(map[string][]float32, len(connected))
	for _, node := range connected {
		vec, err := b.provider.Embed(ctx, embeddingText(node))
		if err != nil {
			return nil, []error{pkgerrors.Wrap(err, "embedding connected nodes failed")}
		}
		connectedVecs[node.URL] = vec
	}

	created := make([]CreatedEdge, 0)
	failures := make([]error, 0)

	for _, node := range isolated {
		vec, err := b.provider.Embed(ctx, embeddingText(node))
		if err != nil {
			// Provider down mid-batch is fatal; the strategy must not
			// silently half-apply.
			if pkgerrors.IsUnavailable(err) {
				return created, append(failures, err)
			}
			failures = append(failures, pkgerrors.Wrapf(err, "embedding %s failed", node.URL))
			continue
		}

		candidates := make([]semanticCandidate, 0, len(connectedVecs))
		for url, cvec := range connectedVecs {
			sim := CosineSimilarity(vec, cvec)
			if sim >= b.config.MinSimilarity {
				candidates = append(candidates, semanticCandidate{url: url, similarity: sim})
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].similarity != candidates[j].similarity {
				return candidates[i].similarity > candidates[j].similarity
			}
			return candidates[i].url < candidates[j].url
		})

		limit := b.config.TopK
		if limit > len(candidates) {
			limit = len(candidates)
		}
		for _, c := range candidates[:limit] {
			if err := b.LinkToParent(ctx, c.url, node.URL); err != nil {
				failures = append(failures, err)
				continue
			}
			created = append(created, CreatedEdge{Parent: c.url, Child: node.URL})
		}
	}
	return created, failures
}

func embeddingText(n *entities.Node) string {
	if n.Title != "" {
		return n.Title + " " + n.URL
	}
	return n.URL
}

// CosineSimilarity scores two embedding vectors in [−1, 1]. Mismatched or
// empty vectors score zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
