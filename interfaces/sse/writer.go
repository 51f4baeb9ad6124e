package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"navgraph-backend/application/ports"
)

// Writer frames stream events as Server-Sent Events on an HTTP response.
// It implements ports.EventSink. The mutex serializes hub goroutines and
// the handler's own writes (the connect-time snapshot) onto the one
// response body.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares a response for event streaming. Returns an error
// when the server's writer cannot flush, which SSE requires.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one event and flushes it to the client
func (s *Writer) Send(event ports.StreamEvent) error {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", event.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

var _ ports.EventSink = (*Writer)(nil)
