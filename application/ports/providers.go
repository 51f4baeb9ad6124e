package ports

import (
	"context"
	"time"
)

// EmbeddingProvider turns node text into a vector for semantic
// relationship building. Failures surface as typed errors
// (ErrorTypeUnavailable when the provider or its breaker is down),
// never as silently empty vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// StreamEvent is one unit of push delivery for a run's graph stream
type StreamEvent struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Stream event types
const (
	EventTypePing        = "ping"
	EventTypeNodeAdded   = "node_added"
	EventTypeGraphUpdate = "graph_update"
)

// EventSink receives events for a single subscription. Send errors mean
// the client is gone; the transport logs and drops them, they never
// propagate back into the write path that triggered the emission.
type EventSink interface {
	Send(event StreamEvent) error
}

// PushTransport fans stream events out to a run's subscribers. The wire
// mechanism (SSE, WebSocket) is the implementation's concern.
type PushTransport interface {
	// RegisterConnection subscribes a sink to a run's stream. A non-empty
	// lastEventID replays buffered events the client missed.
	RegisterConnection(runID string, sink EventSink, lastEventID string) (string, error)

	// UnregisterConnection releases one subscription
	UnregisterConnection(runID, connectionID string)

	// EmitEvent delivers a lightweight event to all of a run's subscribers
	EmitEvent(runID string, eventType string, data interface{})

	// EmitGraphUpdate delivers a full graph snapshot to all subscribers
	EmitGraphUpdate(runID string, data interface{})

	// CloseRun tears down every subscription and buffer held for a run
	CloseRun(runID string)
}
