package dynamodb

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"navgraph-backend/domain/core/entities"
	pkgerrors "navgraph-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDynamo is an in-memory table that honors the store's conditional
// writes. afterGet, when set, runs after each GetItem returns, which lets
// a test land a competing write inside a read-merge-write window.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	afterGet func()
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(av map[string]types.AttributeValue) string {
	pk := av["PK"].(*types.AttributeValueMemberS).Value
	sk := av["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) mutate(fn func(items map[string]map[string]types.AttributeValue)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.items)
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	item := f.items[keyOf(in.Key)]
	hook := f.afterGet
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := keyOf(in.Item)
	existing, exists := f.items[key]

	if in.ConditionExpression != nil {
		switch *in.ConditionExpression {
		case "attribute_not_exists(PK)":
			if exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "Version = :v":
			if !exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
			want := in.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberN).Value
			got := existing["Version"].(*types.AttributeValueMemberN).Value
			if got != want {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}

	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}
	for table, req := range in.RequestItems {
		for _, key := range req.Keys {
			if item, ok := f.items[keyOf(key)]; ok {
				out.Responses[table] = append(out.Responses[table], item)
			}
		}
	}
	return out, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &dynamodb.ScanOutput{}
	for _, item := range f.items {
		out.Items = append(out.Items, item)
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func newTestStore(t *testing.T) (*GraphStore, *fakeDynamo) {
	t.Helper()
	fake := newFakeDynamo()
	return NewGraphStore(fake, "navgraph-test", zap.NewNop()), fake
}

func pageNode(t *testing.T, url string, children ...string) *entities.Node {
	t.Helper()
	node, err := entities.NewNode(url, "", entities.NodeTypePage)
	require.NoError(t, err)
	node.MergeChildren(children)
	return node
}

func storedVersion(t *testing.T, fake *fakeDynamo, url string) int64 {
	t.Helper()
	var version int64
	fake.mutate(func(items map[string]map[string]types.AttributeValue) {
		item, ok := items["NODE#"+url+"|"+metadataSK]
		require.True(t, ok)
		raw := item["Version"].(*types.AttributeValueMemberN).Value
		v, err := strconv.ParseInt(raw, 10, 64)
		require.NoError(t, err)
		version = v
	})
	return version
}

func TestAddNode_VersionAdvancesAcrossUpserts(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()
	url := "https://example.com/docs"

	first, err := store.AddNode(ctx, pageNode(t, url, "https://example.com/docs/a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/docs/a"}, first.Children)
	assert.Equal(t, int64(1), storedVersion(t, fake, url))

	second, err := store.AddNode(ctx, pageNode(t, url, "https://example.com/docs/b"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"https://example.com/docs/a",
		"https://example.com/docs/b",
	}, second.Children)
	assert.Equal(t, int64(2), storedVersion(t, fake, url))
}

func TestAddNode_RetainsChildrenFromCompetingWrite(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()
	url := "https://example.com/docs"

	_, err := store.AddNode(ctx, pageNode(t, url, "https://example.com/docs/x"))
	require.NoError(t, err)

	// A competing upsert lands between this call's read and its
	// conditional put; the version check forces a re-read and re-merge.
	competitor := NewGraphStore(fake, "navgraph-test", zap.NewNop())
	fake.afterGet = func() {
		fake.mutate(func(map[string]map[string]types.AttributeValue) {
			fake.afterGet = nil
		})
		_, err := competitor.AddNode(ctx, pageNode(t, url, "https://example.com/docs/y"))
		require.NoError(t, err)
	}

	merged, err := store.AddNode(ctx, pageNode(t, url, "https://example.com/docs/z"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"https://example.com/docs/x",
		"https://example.com/docs/y",
		"https://example.com/docs/z",
	}, merged.Children)
	assert.Equal(t, int64(3), storedVersion(t, fake, url))
}

func TestAddNode_ReportsConflictWhenContentionPersists(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()
	url := "https://example.com/docs"

	_, err := store.AddNode(ctx, pageNode(t, url))
	require.NoError(t, err)

	// Every read is immediately invalidated by a version bump, so no
	// attempt can ever land.
	itemKey := "NODE#" + url + "|" + metadataSK
	fake.afterGet = func() {
		fake.mutate(func(items map[string]map[string]types.AttributeValue) {
			raw := items[itemKey]["Version"].(*types.AttributeValueMemberN).Value
			v, _ := strconv.ParseInt(raw, 10, 64)
			items[itemKey]["Version"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(v+1, 10)}
		})
	}

	_, err = store.AddNode(ctx, pageNode(t, url, "https://example.com/docs/a"))
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestSortItemsByCreation_OrdersByCreationThenURL(t *testing.T) {
	items := []nodeItem{
		{URL: "https://example.com/c", CreatedOrder: 30},
		{URL: "https://example.com/b", CreatedOrder: 10},
		{URL: "https://example.com/a", CreatedOrder: 10},
		{URL: "https://example.com/d", CreatedOrder: 20},
	}

	sortItemsByCreation(items)

	urls := make([]string, 0, len(items))
	for _, item := range items {
		urls = append(urls, item.URL)
	}
	assert.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/d",
		"https://example.com/c",
	}, urls)
}
