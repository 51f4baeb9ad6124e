package dynamodb

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"navgraph-backend/application/ports"
	"navgraph-backend/domain/core/entities"
	"navgraph-backend/infrastructure/persistence"
	pkgerrors "navgraph-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

const (
	entityTypeNode = "NODE"
	rootPK         = "GRAPH#navigation"
	rootSK         = "ROOT"
	metadataSK     = "METADATA"

	batchGetLimit = 100

	// Upsert retries before a contended write gives up
	addNodeMaxAttempts = 5
)

// API is the slice of the DynamoDB client the store uses. The concrete
// *dynamodb.Client satisfies it.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// GraphStore implements ports.GraphStore on a DynamoDB single table.
// Node items live under PK "NODE#<url>"; the root pointer is one
// well-known item. Traversal primitives run through the shared engine
// over batch lookups.
type GraphStore struct {
	client    API
	tableName string
	logger    *zap.Logger
	engine    *persistence.TraversalEngine
}

// NewGraphStore creates a DynamoDB-backed graph store
func NewGraphStore(client API, tableName string, logger *zap.Logger) *GraphStore {
	s := &GraphStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
	s.engine = persistence.NewTraversalEngine(s)
	return s
}

// SetTraversalCaps installs a dynamic source of default traversal caps
func (s *GraphStore) SetTraversalCaps(fn func() persistence.TraversalCaps) {
	s.engine.SetCapsProvider(fn)
}

// nodeItem is the DynamoDB item shape for a node
type nodeItem struct {
	PK                 string   `dynamodbav:"PK"`
	SK                 string   `dynamodbav:"SK"`
	EntityType         string   `dynamodbav:"EntityType"`
	URL                string   `dynamodbav:"URL"`
	Title              string   `dynamodbav:"Title,omitempty"`
	NodeType           string   `dynamodbav:"NodeType"`
	Children           []string `dynamodbav:"Children"`
	LastVisited        string   `dynamodbav:"LastVisited"`
	DocumentType       string   `dynamodbav:"DocumentType,omitempty"`
	PublisherAuthority float64  `dynamodbav:"PublisherAuthority,omitempty"`
	PublishedAt        string   `dynamodbav:"PublishedAt,omitempty"`
	UpdatedAt          string   `dynamodbav:"UpdatedAt"`
	CreatedOrder       int64    `dynamodbav:"CreatedOrder"`
	Version            int64    `dynamodbav:"Version"`
}

func nodeKey(url string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "NODE#" + url},
		"SK": &types.AttributeValueMemberS{Value: metadataSK},
	}
}

func toItem(n *entities.Node, createdOrder int64) nodeItem {
	item := nodeItem{
		PK:                 "NODE#" + n.URL,
		SK:                 metadataSK,
		EntityType:         entityTypeNode,
		URL:                n.URL,
		Title:              n.Title,
		NodeType:           string(n.Type),
		Children:           n.Children,
		LastVisited:        n.LastVisited.Format(time.RFC3339Nano),
		DocumentType:       n.DocumentType,
		PublisherAuthority: n.PublisherAuthority,
		UpdatedAt:          n.UpdatedAt.Format(time.RFC3339Nano),
		CreatedOrder:       createdOrder,
	}
	if n.PublishedAt != nil {
		item.PublishedAt = n.PublishedAt.Format(time.RFC3339Nano)
	}
	return item
}

func fromItem(item nodeItem) *entities.Node {
	node := &entities.Node{
		URL:                item.URL,
		Title:              item.Title,
		Type:               entities.NodeType(item.NodeType),
		Children:           item.Children,
		DocumentType:       item.DocumentType,
		PublisherAuthority: item.PublisherAuthority,
	}
	if node.Children == nil {
		node.Children = []string{}
	}
	if t, err := time.Parse(time.RFC3339Nano, item.LastVisited); err == nil {
		node.LastVisited = t
	}
	if t, err := time.Parse(time.RFC3339Nano, item.UpdatedAt); err == nil {
		node.UpdatedAt = t
	}
	if item.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, item.PublishedAt); err == nil {
			node.PublishedAt = &t
		}
	}
	return node
}

func (s *GraphStore) unavailable(op string, err error, details map[string]interface{}) error {
	s.logger.Error("Graph store operation failed",
		zap.String("operation", op),
		zap.Error(err),
	)
	return pkgerrors.NewUnavailableError("graph store").
		WithOperation(op).
		WithDetails(details).
		WithCause(err)
}

// AddNode upserts a node by URL with union-merged children. The write is
// a version-guarded conditional put: each attempt re-reads the item,
// merges in memory, and only lands if the stored version is unchanged, so
// concurrent upserts never drop each other's child edges.
func (s *GraphStore) AddNode(ctx context.Context, node *entities.Node) (*entities.Node, error) {
	if node == nil {
		return nil, pkgerrors.NewValidationError("node cannot be nil")
	}
	if err := entities.ValidateNodeURL(node.URL); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < addNodeMaxAttempts; attempt++ {
		merged, err := s.tryAddNode(ctx, node)
		if err == nil {
			return merged, nil
		}
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			s.logger.Debug("Node write lost a version race, retrying",
				zap.String("url", node.URL),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return nil, err
	}
	return nil, pkgerrors.NewConflictError("node write contention exhausted retries").
		WithOperation("AddNode").
		WithDetails(map[string]interface{}{"url": node.URL})
}

// tryAddNode performs one read-merge-conditional-put round. A raw
// ConditionalCheckFailedException flows back so the caller can retry.
func (s *GraphStore) tryAddNode(ctx context.Context, node *entities.Node) (*entities.Node, error) {
	existing, err := s.getNodeItem(ctx, node.URL)
	if err != nil && !pkgerrors.IsNotFound(err) {
		return nil, err
	}

	var merged *entities.Node
	var stored nodeItem
	input := &dynamodb.PutItemInput{TableName: aws.String(s.tableName)}

	if existing == nil {
		merged = node.Clone()
		children := merged.Children
		merged.Children = []string{}
		merged.MergeChildren(children)
		now := time.Now()
		merged.LastVisited = now
		merged.UpdatedAt = now

		stored = toItem(merged, time.Now().UnixNano())
		stored.Version = 1
		input.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		merged = fromItem(*existing)
		merged.Merge(node)

		stored = toItem(merged, existing.CreatedOrder)
		stored.Version = existing.Version + 1
		input.ConditionExpression = aws.String("Version = :v")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(existing.Version, 10)},
		}
	}

	item, err := attributevalue.MarshalMap(stored)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to marshal node item")
	}
	input.Item = item

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil, err
		}
		return nil, s.unavailable("AddNode", err, map[string]interface{}{"url": node.URL})
	}
	return merged, nil
}

// GetNode returns a point lookup, NotFound if absent
func (s *GraphStore) GetNode(ctx context.Context, url string) (*entities.Node, error) {
	item, err := s.getNodeItem(ctx, url)
	if err != nil {
		return nil, err
	}
	return fromItem(*item), nil
}

func (s *GraphStore) getNodeItem(ctx context.Context, url string) (*nodeItem, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       nodeKey(url),
	})
	if err != nil {
		return nil, s.unavailable("GetNode", err, map[string]interface{}{"url": url})
	}
	if out.Item == nil {
		return nil, pkgerrors.NewNotFoundError("node").
			WithOperation("GetNode").
			WithDetails(map[string]interface{}{"url": url})
	}

	var item nodeItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal node item")
	}
	return &item, nil
}

// GetNodes batch-fetches nodes in chunks of 100 keys, one round trip per
// chunk. Misses are omitted; unprocessed keys fall back to point lookups.
func (s *GraphStore) GetNodes(ctx context.Context, urls []string) (map[string]*entities.Node, error) {
	result := make(map[string]*entities.Node, len(urls))
	if len(urls) == 0 {
		return result, nil
	}

	// Dedup while preserving order
	unique := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; !ok {
			seen[u] = struct{}{}
			unique = append(unique, u)
		}
	}

	for start := 0; start < len(unique); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]

		keys := make([]map[string]types.AttributeValue, 0, len(chunk))
		for _, u := range chunk {
			keys = append(keys, nodeKey(u))
		}

		out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				s.tableName: {Keys: keys},
			},
		})
		if err != nil {
			return nil, s.unavailable("GetNodes", err, map[string]interface{}{"count": len(chunk)})
		}

		for _, raw := range out.Responses[s.tableName] {
			var item nodeItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				s.logger.Warn("Skipping unparsable node item", zap.Error(err))
				continue
			}
			result[item.URL] = fromItem(item)
		}

		// Best-effort per-item fallback for keys DynamoDB left unprocessed
		for _, pending := range out.UnprocessedKeys[s.tableName].Keys {
			var key struct {
				PK string `dynamodbav:"PK"`
			}
			if err := attributevalue.UnmarshalMap(pending, &key); err != nil {
				continue
			}
			url := key.PK[len("NODE#"):]
			node, err := s.GetNode(ctx, url)
			if err != nil {
				if pkgerrors.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			result[url] = node
		}
	}
	return result, nil
}

// GetAllNodes scans every node item, ordered by creation. Unbounded:
// callers cap.
func (s *GraphStore) GetAllNodes(ctx context.Context) ([]*entities.Node, error) {
	filter := expression.Name("EntityType").Equal(expression.Value(entityTypeNode))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to build scan expression")
	}

	items := make([]nodeItem, 0)
	var lastKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.tableName),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return nil, s.unavailable("GetAllNodes", err, nil)
		}

		for _, raw := range out.Items {
			var item nodeItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				s.logger.Warn("Skipping unparsable node item", zap.Error(err))
				continue
			}
			items = append(items, item)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		lastKey = out.LastEvaluatedKey
	}

	// Scan order is partition order; sort by creation so traversal
	// heuristics stay deterministic across calls.
	sortItemsByCreation(items)

	nodes := make([]*entities.Node, 0, len(items))
	for _, item := range items {
		nodes = append(nodes, fromItem(item))
	}
	return nodes, nil
}

func sortItemsByCreation(items []nodeItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedOrder != items[j].CreatedOrder {
			return items[i].CreatedOrder < items[j].CreatedOrder
		}
		return items[i].URL < items[j].URL
	})
}

// GetRoot returns the root pointer, empty when unset
func (s *GraphStore) GetRoot(ctx context.Context) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: rootPK},
			"SK": &types.AttributeValueMemberS{Value: rootSK},
		},
	})
	if err != nil {
		return "", s.unavailable("GetRoot", err, nil)
	}
	if out.Item == nil {
		return "", nil
	}

	var item struct {
		URL string `dynamodbav:"URL"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", pkgerrors.Wrap(err, "failed to unmarshal root item")
	}
	return item.URL, nil
}

// SetRoot writes the root pointer item
func (s *GraphStore) SetRoot(ctx context.Context, url string) error {
	if err := entities.ValidateNodeURL(url); err != nil {
		return err
	}
	if _, err := s.GetNode(ctx, url); err != nil {
		return err
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: rootPK},
			"SK":         &types.AttributeValueMemberS{Value: rootSK},
			"EntityType": &types.AttributeValueMemberS{Value: "ROOT"},
			"URL":        &types.AttributeValueMemberS{Value: url},
			"UpdatedAt":  &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return s.unavailable("SetRoot", err, map[string]interface{}{"url": url})
	}
	return nil
}

// GetNodeCount counts node items without computing edge statistics, so
// the count still succeeds when statistics computation is unavailable.
func (s *GraphStore) GetNodeCount(ctx context.Context) (int, error) {
	filter := expression.Name("EntityType").Equal(expression.Value(entityTypeNode))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to build count expression")
	}

	count := 0
	var lastKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.tableName),
			Select:                    types.SelectCount,
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return 0, s.unavailable("GetNodeCount", err, nil)
		}
		count += int(out.Count)
		if out.LastEvaluatedKey == nil {
			break
		}
		lastKey = out.LastEvaluatedKey
	}
	return count, nil
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

// TableName returns the backing table, for diagnostics
func (s *GraphStore) TableName() string {
	return s.tableName
}

var _ ports.GraphStore = (*GraphStore)(nil)
