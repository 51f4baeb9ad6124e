package sse

import (
	"strconv"
	"sync"
	"time"

	"navgraph-backend/application/ports"
	"navgraph-backend/pkg/observability"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// replayBufferSize bounds how many events a run retains for resume.
// Clients further behind than this get a fresh snapshot on reconnect
// anyway, so deeper history buys nothing.
const replayBufferSize = 64

// Connection is one push subscription to a run's stream
type Connection struct {
	ID     string
	RunID  string
	sink   ports.EventSink
	closed chan struct{}
	once   sync.Once
}

// Closed is signalled when the hub tears the connection down; the HTTP
// handler selects on it alongside the request context.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

func (c *Connection) close() {
	c.once.Do(func() { close(c.closed) })
}

// runStreams holds a run's subscriptions and its bounded replay buffer
type runStreams struct {
	connections map[string]*Connection
	buffer      []ports.StreamEvent
	seq         uint64
}

// Hub fans stream events out to per-run subscriber sets. It implements
// ports.PushTransport; the wire format is whatever the registered sinks
// write (Server-Sent Events in this service). Send failures mean the
// client is gone: the hub logs, drops the connection, and never
// propagates the failure to the emitter.
type Hub struct {
	mu      sync.RWMutex
	runs    map[string]*runStreams
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		runs:    make(map[string]*runStreams),
		logger:  logger,
		metrics: metrics,
	}
}

// Register subscribes a sink to a run's stream and replays any buffered
// events after lastEventID. Returns the connection handle the HTTP
// handler blocks on.
func (h *Hub) Register(runID string, sink ports.EventSink, lastEventID string) *Connection {
	conn := &Connection{
		ID:     uuid.NewString(),
		RunID:  runID,
		sink:   sink,
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	rs, ok := h.runs[runID]
	if !ok {
		rs = &runStreams{connections: make(map[string]*Connection)}
		h.runs[runID] = rs
	}
	rs.connections[conn.ID] = conn

	// Replay under the hub lock: a concurrent emission cannot reach this
	// connection until the backlog has been written, so the client sees
	// event ids strictly in order. The buffer bound keeps the hold short.
	replay := missedEvents(rs.buffer, lastEventID)
	replayFailed := false
	for _, event := range replay {
		if err := sink.Send(event); err != nil {
			h.logger.Warn("Replay send failed, dropping connection",
				zap.String("connectionId", conn.ID),
				zap.Error(err),
			)
			replayFailed = true
			break
		}
	}
	h.mu.Unlock()

	h.metrics.StreamConnected()
	if replayFailed {
		h.UnregisterConnection(runID, conn.ID)
		return conn
	}

	h.logger.Info("Stream connection registered",
		zap.String("runId", runID),
		zap.String("connectionId", conn.ID),
		zap.Int("replayed", len(replay)),
	)
	return conn
}

// missedEvents returns the buffered events after lastEventID. An unknown
// or empty id replays nothing: the subscriber gets the immediate snapshot
// the handler sends on connect instead.
func missedEvents(buffer []ports.StreamEvent, lastEventID string) []ports.StreamEvent {
	if lastEventID == "" {
		return nil
	}
	for i, event := range buffer {
		if event.ID == lastEventID {
			replay := make([]ports.StreamEvent, len(buffer)-i-1)
			copy(replay, buffer[i+1:])
			return replay
		}
	}
	return nil
}

// RegisterConnection implements ports.PushTransport
func (h *Hub) RegisterConnection(runID string, sink ports.EventSink, lastEventID string) (string, error) {
	conn := h.Register(runID, sink, lastEventID)
	return conn.ID, nil
}

// UnregisterConnection releases one subscription
func (h *Hub) UnregisterConnection(runID, connectionID string) {
	h.mu.Lock()
	rs, ok := h.runs[runID]
	var conn *Connection
	if ok {
		conn = rs.connections[connectionID]
		delete(rs.connections, connectionID)
		if len(rs.connections) == 0 && len(rs.buffer) == 0 {
			delete(h.runs, runID)
		}
	}
	h.mu.Unlock()

	if conn != nil {
		conn.close()
		h.metrics.StreamDisconnected()
		h.logger.Info("Stream connection released",
			zap.String("runId", runID),
			zap.String("connectionId", connectionID),
		)
	}
}

// EmitEvent delivers an event to every subscriber of a run and appends it
// to the replay buffer.
func (h *Hub) EmitEvent(runID string, eventType string, data interface{}) {
	h.mu.Lock()
	rs, ok := h.runs[runID]
	if !ok {
		rs = &runStreams{connections: make(map[string]*Connection)}
		h.runs[runID] = rs
	}
	rs.seq++
	event := ports.StreamEvent{
		ID:        strconv.FormatUint(rs.seq, 10),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
	rs.buffer = append(rs.buffer, event)
	if len(rs.buffer) > replayBufferSize {
		rs.buffer = rs.buffer[len(rs.buffer)-replayBufferSize:]
	}
	targets := make([]*Connection, 0, len(rs.connections))
	for _, conn := range rs.connections {
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	for _, conn := range targets {
		if err := conn.sink.Send(event); err != nil {
			h.logger.Warn("Stream send failed, dropping connection",
				zap.String("runId", runID),
				zap.String("connectionId", conn.ID),
				zap.Error(err),
			)
			h.UnregisterConnection(runID, conn.ID)
		}
	}
}

// EmitGraphUpdate delivers a full snapshot to every subscriber of a run
func (h *Hub) EmitGraphUpdate(runID string, data interface{}) {
	h.EmitEvent(runID, ports.EventTypeGraphUpdate, data)
}

// CloseRun tears down every subscription and buffer held for a run
func (h *Hub) CloseRun(runID string) {
	h.mu.Lock()
	rs, ok := h.runs[runID]
	var conns []*Connection
	if ok {
		for _, conn := range rs.connections {
			conns = append(conns, conn)
		}
		delete(h.runs, runID)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.close()
		h.metrics.StreamDisconnected()
	}
	if ok {
		h.logger.Info("Run streams closed",
			zap.String("runId", runID),
			zap.Int("connections", len(conns)),
		)
	}
}

// Stop closes every connection across all runs; used on shutdown
func (h *Hub) Stop() {
	h.mu.Lock()
	runIDs := make([]string, 0, len(h.runs))
	for runID := range h.runs {
		runIDs = append(runIDs, runID)
	}
	h.mu.Unlock()

	for _, runID := range runIDs {
		h.CloseRun(runID)
	}
}

var _ ports.PushTransport = (*Hub)(nil)
