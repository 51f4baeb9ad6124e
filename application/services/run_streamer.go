package services

import (
	"context"
	"regexp"
	"strings"
	"time"

	"navgraph-backend/application/ports"
	"navgraph-backend/domain/core/entities"
	"navgraph-backend/infrastructure/persistence"
	"navgraph-backend/pkg/observability"

	pkgerrors "navgraph-backend/pkg/errors"

	"go.uber.org/zap"
)

// Crawl workers log visits as "Exploring: <url>", "Crawling: <url>" or
// "Visiting: <url>". Those lines are authoritative. Any other absolute
// http(s) URL in a log line is heuristic evidence of a visit, kept for
// compatibility with historical free-text logs.
var (
	visitLinePattern = regexp.MustCompile(`(?:Exploring|Crawling|Visiting):?\s+(https?://[^\s"'<>]+)`)
	urlPattern       = regexp.MustCompile(`https?://[^\s"'<>]+`)
)

// Run lookup retry: absorbs the write-then-read race right after run
// creation.
const (
	runLookupAttempts  = 3
	runLookupBaseDelay = 100 * time.Millisecond
)

// RunGraphNode is one node of a run's reconstructed subgraph. Depth is
// BFS distance from the start node; −1 marks nodes the run visited that
// are structurally unreachable from the start.
type RunGraphNode struct {
	URL         string            `json:"url"`
	Title       string            `json:"title,omitempty"`
	Type        entities.NodeType `json:"type"`
	Depth       int               `json:"depth"`
	LastVisited time.Time         `json:"lastVisited"`
}

// RunGraphEdge is a directed edge between two displayed nodes
type RunGraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// RunGraphStats summarizes a snapshot against the whole graph
type RunGraphStats struct {
	TotalNodes         int       `json:"totalNodes"`
	TotalEdges         int       `json:"totalEdges"`
	DisplayedNodeCount int       `json:"displayedNodeCount"`
	DisplayedEdgeCount int       `json:"displayedEdgeCount"`
	VisitedNodes       int       `json:"visitedNodes"`
	StartNodeURL       string    `json:"startNodeUrl"`
	RunStartTime       time.Time `json:"runStartTime"`
}

// RunGraphData is one complete snapshot of a run's subgraph. Snapshots
// are always built whole; only completed snapshots are ever streamed.
type RunGraphData struct {
	RunID     string         `json:"runId"`
	Timestamp time.Time      `json:"timestamp"`
	Nodes     []RunGraphNode `json:"nodes"`
	Edges     []RunGraphEdge `json:"edges"`
	Stats     RunGraphStats  `json:"stats"`
}

// RunStreamer reconstructs a run's subgraph from its log stream and the
// persisted graph, and delivers snapshots by polling and by throttled
// push. Each run owns one emitter goroutine holding its debounce state;
// runs never interfere with each other's throttle windows.
type RunStreamer struct {
	graph     *NavigationGraph
	runs      ports.RunSource
	transport ports.PushTransport
	logger    *zap.Logger
	metrics   *observability.Metrics

	emitters *emitterRegistry
}

// NewRunStreamer creates the per-run streaming pipeline. throttle is the
// minimum spacing between full-snapshot emissions per run.
func NewRunStreamer(
	graph *NavigationGraph,
	runs ports.RunSource,
	transport ports.PushTransport,
	throttle time.Duration,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *RunStreamer {
	if throttle <= 0 {
		throttle = time.Second
	}
	s := &RunStreamer{
		graph:     graph,
		runs:      runs,
		transport: transport,
		logger:    logger,
		metrics:   metrics,
	}
	s.emitters = newEmitterRegistry(throttle, s.emitSnapshot)
	return s
}

// SetThrottleProvider installs a dynamic source for the per-run emission
// spacing. Every throttle window reads the current value, so a changed
// setting applies to runs already streaming.
func (s *RunStreamer) SetThrottleProvider(fn func() time.Duration) {
	s.emitters.setThrottleProvider(fn)
}

// lookupRun resolves a run, retrying NotFound with increasing delay
func (s *RunStreamer) lookupRun(ctx context.Context, runID string) (*ports.Run, error) {
	var lastErr error
	for attempt := 1; attempt <= runLookupAttempts; attempt++ {
		run, err := s.runs.GetRun(ctx, runID)
		if err == nil {
			return run, nil
		}
		lastErr = err
		if !pkgerrors.IsNotFound(err) {
			return nil, err
		}
		if attempt < runLookupAttempts {
			select {
			case <-time.After(time.Duration(attempt) * runLookupBaseDelay):
			case <-ctx.Done():
				return nil, pkgerrors.NewTimeoutError("lookupRun").WithCause(ctx.Err())
			}
		}
	}
	return nil, lastErr
}

// MineVisitedURLs scans a run's log stream for URL mentions and returns
// the visited-set in first-mention order. Rebuilt on every call; never a
// stored relation.
func MineVisitedURLs(logs []ports.RunLogEntry) []string {
	seen := make(map[string]struct{})
	ordered := make([]string, 0)

	add := func(raw string) {
		url := strings.TrimRight(raw, ".,;:)]}\"'")
		if url == "" {
			return
		}
		if _, ok := seen[url]; ok {
			return
		}
		seen[url] = struct{}{}
		ordered = append(ordered, url)
	}

	for _, entry := range logs {
		if m := visitLinePattern.FindStringSubmatch(entry.Message); m != nil {
			add(m[1])
			continue
		}
		for _, raw := range urlPattern.FindAllString(entry.Message, -1) {
			add(raw)
		}
	}
	return ordered
}

// BuildGraphData reconstructs one complete snapshot of a run's subgraph:
// the intersection of structural reachability (BFS over persisted child
// edges) and log-confirmed visitation. Each invocation builds fresh local
// maps and fully completes before producing output.
func (s *RunStreamer) BuildGraphData(ctx context.Context, runID string) (*RunGraphData, error) {
	started := time.Now()

	run, err := s.lookupRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	visitedList := MineVisitedURLs(run.Logs)
	visited := make(map[string]struct{}, len(visitedList))
	for _, url := range visitedList {
		visited[url] = struct{}{}
	}

	start, err := s.resolveStartNode(ctx, run)
	if err != nil && !pkgerrors.IsNotFound(err) {
		return nil, err
	}

	// BFS over persisted children, admitting only log-confirmed targets
	depths := make(map[string]int)
	if start != "" {
		depths[start] = 0
		frontier := []string{start}
		for depth := 1; len(frontier) > 0; depth++ {
			fetched, err := s.graph.GetNodes(ctx, frontier)
			if err != nil {
				return nil, err
			}
			next := make([]string, 0)
			for _, url := range frontier {
				node, ok := fetched[url]
				if !ok {
					continue
				}
				for _, child := range node.Children {
					if _, wasVisited := visited[child]; !wasVisited {
						continue
					}
					if _, seen := depths[child]; seen {
						continue
					}
					depths[child] = depth
					next = append(next, child)
				}
			}
			frontier = next
		}
	}

	// Batch-fetch everything the run touched, one multi-key call with
	// per-item fallback inside GetNodes.
	fetchList := make([]string, 0, len(visitedList)+1)
	if start != "" {
		fetchList = append(fetchList, start)
	}
	for _, url := range visitedList {
		if url != start {
			fetchList = append(fetchList, url)
		}
	}
	nodes, err := s.graph.GetNodes(ctx, fetchList)
	if err != nil {
		return nil, err
	}

	data := &RunGraphData{
		RunID:     runID,
		Timestamp: time.Now(),
		Nodes:     make([]RunGraphNode, 0, len(nodes)),
		Edges:     make([]RunGraphEdge, 0),
	}

	included := make(map[string]*entities.Node, len(nodes))
	for _, url := range fetchList {
		node, ok := nodes[url]
		if !ok {
			continue
		}
		depth, reachable := depths[url]
		if !reachable {
			depth = -1 // visited but structurally unreachable
		}
		included[url] = node
		data.Nodes = append(data.Nodes, RunGraphNode{
			URL:         node.URL,
			Title:       node.Title,
			Type:        node.Type,
			Depth:       depth,
			LastVisited: node.LastVisited,
		})
	}

	for _, url := range fetchList {
		node, ok := included[url]
		if !ok {
			continue
		}
		for _, child := range node.Children {
			if _, wasVisited := visited[child]; !wasVisited {
				continue
			}
			if _, ok := included[child]; !ok {
				continue
			}
			data.Edges = append(data.Edges, RunGraphEdge{Source: url, Target: child})
		}
	}

	stats, err := s.graph.GetStatistics(ctx)
	if err != nil {
		return nil, err
	}
	data.Stats = RunGraphStats{
		TotalNodes:         stats.TotalNodes,
		TotalEdges:         stats.TotalEdges,
		DisplayedNodeCount: len(data.Nodes),
		DisplayedEdgeCount: len(data.Edges),
		VisitedNodes:       len(visitedList),
		StartNodeURL:       start,
		RunStartTime:       run.StartTime,
	}

	s.metrics.ObserveRunGraphBuild(time.Since(started))
	return data, nil
}

// resolveStartNode picks the run's declared start node, else the graph
// root, else the first node with children in a capped scan.
func (s *RunStreamer) resolveStartNode(ctx context.Context, run *ports.Run) (string, error) {
	if run.StartNode != "" {
		return run.StartNode, nil
	}

	root, err := s.graph.GetRoot(ctx)
	if err != nil {
		return "", err
	}
	if root != "" {
		return root, nil
	}

	all, err := s.graph.GetAllNodes(ctx)
	if err != nil {
		return "", err
	}
	for i, n := range all {
		if i >= persistence.StartNodeScanLimit {
			break
		}
		if len(n.Children) > 0 {
			return n.URL, nil
		}
	}
	return "", pkgerrors.NewNotFoundError("start node")
}

// HandleNodeUpdate ingests a newly discovered node for a run: upsert into
// the graph, immediate lightweight node-count broadcast, then a throttled
// full-snapshot emission. The ingest succeeds even if broadcasting fails.
func (s *RunStreamer) HandleNodeUpdate(ctx context.Context, runID string, node *entities.Node) (*entities.Node, error) {
	if _, err := s.lookupRun(ctx, runID); err != nil {
		return nil, err
	}

	merged, err := s.graph.AddNode(ctx, node)
	if err != nil {
		return nil, err
	}

	count, err := s.graph.GetNodeCount(ctx)
	if err != nil {
		s.logger.Warn("Node count unavailable for broadcast",
			zap.String("runId", runID),
			zap.Error(err),
		)
		count = -1
	}
	s.transport.EmitEvent(runID, ports.EventTypeNodeAdded, map[string]interface{}{
		"url":       merged.URL,
		"nodeCount": count,
	})
	s.metrics.RecordEventEmitted(ports.EventTypeNodeAdded)

	s.emitters.Notify(runID)
	return merged, nil
}

// emitSnapshot is the emitter callback: build the latest snapshot and
// push it. Failures are logged, never surfaced to the writer that
// triggered the emission.
func (s *RunStreamer) emitSnapshot(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := s.BuildGraphData(ctx, runID)
	if err != nil {
		s.logger.Error("Failed to build graph snapshot for emission",
			zap.String("runId", runID),
			zap.Error(err),
		)
		return
	}

	s.transport.EmitGraphUpdate(runID, data)
	s.metrics.RecordEventEmitted(ports.EventTypeGraphUpdate)
}

// TeardownRun releases the run's emitter and transport resources
func (s *RunStreamer) TeardownRun(runID string) {
	s.emitters.Remove(runID)
	s.transport.CloseRun(runID)
	s.logger.Info("Run stream torn down", zap.String("runId", runID))
}

// Stop shuts down all emitters; used on service shutdown
func (s *RunStreamer) Stop() {
	s.emitters.Stop()
}
