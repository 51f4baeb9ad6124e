package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"navgraph-backend/application/ports"
	"navgraph-backend/domain/core/entities"
	"navgraph-backend/infrastructure/runs"

	pkgerrors "navgraph-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingTransport captures emissions for assertions
type recordingTransport struct {
	mu     sync.Mutex
	events []recordedEvent
	closed []string
}

type recordedEvent struct {
	RunID string
	Type  string
	Data  interface{}
}

func (t *recordingTransport) RegisterConnection(runID string, sink ports.EventSink, lastEventID string) (string, error) {
	return "conn-1", nil
}

func (t *recordingTransport) UnregisterConnection(runID, connectionID string) {}

func (t *recordingTransport) EmitEvent(runID string, eventType string, data interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, recordedEvent{RunID: runID, Type: eventType, Data: data})
}

func (t *recordingTransport) EmitGraphUpdate(runID string, data interface{}) {
	t.EmitEvent(runID, ports.EventTypeGraphUpdate, data)
}

func (t *recordingTransport) CloseRun(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = append(t.closed, runID)
}

func (t *recordingTransport) eventsOfType(eventType string) []recordedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]recordedEvent, 0)
	for _, e := range t.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestStreamer(t *testing.T, throttle time.Duration) (*NavigationGraph, *runs.Registry, *recordingTransport, *RunStreamer) {
	t.Helper()
	g := newTestGraph(t)
	registry := runs.NewRegistry(zap.NewNop())
	transport := &recordingTransport{}
	streamer := NewRunStreamer(g, registry, transport, throttle, zap.NewNop(), nil)
	t.Cleanup(streamer.Stop)
	return g, registry, transport, streamer
}

func addNodePayload(t *testing.T, url string) *entities.Node {
	t.Helper()
	node, err := entities.NewNode(url, "", entities.NodeTypePage)
	require.NoError(t, err)
	return node
}

func logLines(messages ...string) []ports.RunLogEntry {
	entries := make([]ports.RunLogEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, ports.RunLogEntry{Timestamp: time.Now(), Message: m})
	}
	return entries
}

func TestMineVisitedURLs(t *testing.T) {
	logs := logLines(
		"Exploring: https://example.com/a",
		"Crawling https://example.com/b",
		"Visiting: https://example.com/c.",
		"worker picked up https://example.com/d, queue depth 3",
		"retrying https://example.com/a after backoff",
		"no urls in this line",
	)

	visited := MineVisitedURLs(logs)

	assert.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
	}, visited)
}

func TestMineVisitedURLs_TrimsTrailingPunctuation(t *testing.T) {
	visited := MineVisitedURLs(logLines(
		"found (https://example.com/a).",
		`link "https://example.com/b",`,
	))

	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, visited)
}

func TestBuildGraphData_DepthAndUnreachable(t *testing.T) {
	g, registry, _, streamer := newTestStreamer(t, time.Second)
	ctx := context.Background()

	// start -> a -> b structurally; island was visited but has no path
	// from the start node.
	addNode(t, g, "https://example.com/", "https://example.com/a")
	addNode(t, g, "https://example.com/a", "https://example.com/b")
	addNode(t, g, "https://example.com/b")
	addNode(t, g, "https://example.com/island")

	run := registry.CreateRun("run-1", "https://example.com/")
	for _, url := range []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/island",
	} {
		require.NoError(t, registry.AppendLog(ctx, run.ID, "Visiting: "+url))
	}

	data, err := streamer.BuildGraphData(ctx, run.ID)
	require.NoError(t, err)

	depths := make(map[string]int, len(data.Nodes))
	for _, n := range data.Nodes {
		depths[n.URL] = n.Depth
	}
	assert.Equal(t, 0, depths["https://example.com/"])
	assert.Equal(t, 1, depths["https://example.com/a"])
	assert.Equal(t, 2, depths["https://example.com/b"])
	assert.Equal(t, -1, depths["https://example.com/island"])

	assert.Equal(t, 4, data.Stats.DisplayedNodeCount)
	assert.Equal(t, 2, data.Stats.DisplayedEdgeCount)
	assert.Equal(t, 4, data.Stats.VisitedNodes)
	assert.Equal(t, "https://example.com/", data.Stats.StartNodeURL)
}

func TestBuildGraphData_ExcludesUnvisitedChildren(t *testing.T) {
	g, registry, _, streamer := newTestStreamer(t, time.Second)
	ctx := context.Background()

	addNode(t, g, "https://example.com/", "https://example.com/a", "https://example.com/skipped")
	addNode(t, g, "https://example.com/a")
	addNode(t, g, "https://example.com/skipped")

	run := registry.CreateRun("run-1", "https://example.com/")
	require.NoError(t, registry.AppendLog(ctx, run.ID, "Visiting: https://example.com/"))
	require.NoError(t, registry.AppendLog(ctx, run.ID, "Visiting: https://example.com/a"))

	data, err := streamer.BuildGraphData(ctx, run.ID)
	require.NoError(t, err)

	urls := make([]string, 0, len(data.Nodes))
	for _, n := range data.Nodes {
		urls = append(urls, n.URL)
	}
	assert.NotContains(t, urls, "https://example.com/skipped")
	assert.Equal(t, 1, data.Stats.DisplayedEdgeCount)
}

func TestBuildGraphData_UnknownRun(t *testing.T) {
	_, _, _, streamer := newTestStreamer(t, time.Second)

	_, err := streamer.BuildGraphData(context.Background(), "no-such-run")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestHandleNodeUpdate_EmitsNodeAdded(t *testing.T) {
	g, registry, transport, streamer := newTestStreamer(t, time.Hour)
	ctx := context.Background()

	run := registry.CreateRun("run-1", "")
	node := addNodePayload(t, "https://example.com/a")

	merged, err := streamer.HandleNodeUpdate(ctx, run.ID, node)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", merged.URL)

	stored, err := g.GetNode(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, merged.URL, stored.URL)

	events := transport.eventsOfType(ports.EventTypeNodeAdded)
	require.Len(t, events, 1)
	assert.Equal(t, run.ID, events[0].RunID)
	payload, ok := events[0].Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a", payload["url"])
	assert.Equal(t, 1, payload["nodeCount"])
}

func TestHandleNodeUpdate_UnknownRun(t *testing.T) {
	_, _, transport, streamer := newTestStreamer(t, time.Hour)

	node := addNodePayload(t, "https://example.com/a")
	_, err := streamer.HandleNodeUpdate(context.Background(), "no-such-run", node)

	assert.True(t, pkgerrors.IsNotFound(err))
	assert.Empty(t, transport.eventsOfType(ports.EventTypeNodeAdded))
}

func TestHandleNodeUpdate_ThrottleCoalesces(t *testing.T) {
	_, registry, transport, streamer := newTestStreamer(t, 50*time.Millisecond)
	ctx := context.Background()

	run := registry.CreateRun("run-1", "https://example.com/a")
	require.NoError(t, registry.AppendLog(ctx, run.ID, "Visiting: https://example.com/a"))
	require.NoError(t, registry.AppendLog(ctx, run.ID, "Visiting: https://example.com/b"))
	require.NoError(t, registry.AppendLog(ctx, run.ID, "Visiting: https://example.com/c"))

	// Burst of updates inside one throttle window
	for _, url := range []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	} {
		_, err := streamer.HandleNodeUpdate(ctx, run.ID, addNodePayload(t, url))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(transport.eventsOfType(ports.EventTypeGraphUpdate)) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// The window coalesced the burst into a single snapshot carrying the
	// latest state.
	updates := transport.eventsOfType(ports.EventTypeGraphUpdate)
	require.Len(t, updates, 1)
	snapshot, ok := updates[0].Data.(*RunGraphData)
	require.True(t, ok)
	assert.Equal(t, 3, snapshot.Stats.DisplayedNodeCount)

	// Each node_added broadcast was immediate, not throttled
	assert.Len(t, transport.eventsOfType(ports.EventTypeNodeAdded), 3)
}

func TestSetThrottleProvider_OverridesConstructionValue(t *testing.T) {
	// Construction-time window is an hour; the provider shrinks it so a
	// reload takes effect without restarting the streamer.
	_, registry, transport, streamer := newTestStreamer(t, time.Hour)
	streamer.SetThrottleProvider(func() time.Duration { return 10 * time.Millisecond })
	ctx := context.Background()

	run := registry.CreateRun("run-1", "https://example.com/a")
	require.NoError(t, registry.AppendLog(ctx, run.ID, "Visiting: https://example.com/a"))

	_, err := streamer.HandleNodeUpdate(ctx, run.ID, addNodePayload(t, "https://example.com/a"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(transport.eventsOfType(ports.EventTypeGraphUpdate)) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTeardownRun_ClosesTransport(t *testing.T) {
	_, registry, transport, streamer := newTestStreamer(t, time.Hour)
	ctx := context.Background()

	run := registry.CreateRun("run-1", "")
	_, err := streamer.HandleNodeUpdate(ctx, run.ID, addNodePayload(t, "https://example.com/a"))
	require.NoError(t, err)

	streamer.TeardownRun(run.ID)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, []string{run.ID}, transport.closed)
}
