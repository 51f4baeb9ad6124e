package handlers

import (
	"context"
	"net/http"
	"time"

	"navgraph-backend/application/ports"
	"navgraph-backend/application/services"
	"navgraph-backend/interfaces/sse"
	"navgraph-backend/pkg/common"
	"navgraph-backend/pkg/utils"

	pkgerrors "navgraph-backend/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RunLogAppender records visit log lines for a run. The in-memory run
// registry implements it; deployments backed by an external workflow
// system provide their own.
type RunLogAppender interface {
	AppendLog(ctx context.Context, runID, message string) error
}

// StreamHandler serves the per-run graph delivery surface: polling,
// SSE subscriptions and the crawl-worker update ingest.
type StreamHandler struct {
	streamer *services.RunStreamer
	hub      *sse.Hub
	runLog   RunLogAppender
	logger   *zap.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(
	streamer *services.RunStreamer,
	hub *sse.Hub,
	runLog RunLogAppender,
	logger *zap.Logger,
) *StreamHandler {
	return &StreamHandler{
		streamer: streamer,
		hub:      hub,
		runLog:   runLog,
		logger:   logger,
	}
}

// GetRunGraph handles GET /runs/{runID}/graph, the polling fallback for
// clients that cannot hold a stream open.
func (h *StreamHandler) GetRunGraph(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	data, err := h.streamer.BuildGraphData(r.Context(), runID)
	if err != nil {
		if !pkgerrors.IsNotFound(err) {
			h.logger.Error("Failed to build run graph",
				zap.String("runId", runID),
				zap.Error(err),
			)
		}
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, data)
}

// StreamRunGraph handles GET /runs/{runID}/graph/stream. The subscriber
// gets a ping, then an immediate full snapshot, then throttled updates.
// A Last-Event-ID header resumes a dropped subscription from the replay
// buffer. Disconnect is detected through the request context; no client
// deregistration call is required.
func (h *StreamHandler) StreamRunGraph(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	writer, err := sse.NewWriter(w)
	if err != nil {
		common.RespondAppError(w, pkgerrors.NewInternalError("streaming unsupported").WithCause(err))
		return
	}

	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("lastEventId")
	}

	if err := writer.Send(ports.StreamEvent{
		Type:      ports.EventTypePing,
		Data:      map[string]interface{}{"runId": runID},
		Timestamp: time.Now(),
	}); err != nil {
		return
	}

	conn := h.hub.Register(runID, writer, lastEventID)
	defer h.hub.UnregisterConnection(runID, conn.ID)

	// Immediate snapshot so the client renders without waiting for the
	// next throttled emission. Sent outside the replay buffer; resumed
	// clients already received the buffered history.
	if data, err := h.streamer.BuildGraphData(r.Context(), runID); err == nil {
		if err := writer.Send(ports.StreamEvent{
			Type:      ports.EventTypeGraphUpdate,
			Data:      data,
			Timestamp: time.Now(),
		}); err != nil {
			return
		}
	} else if !pkgerrors.IsNotFound(err) {
		h.logger.Warn("Initial snapshot unavailable",
			zap.String("runId", runID),
			zap.Error(err),
		)
	}

	select {
	case <-r.Context().Done():
	case <-conn.Closed():
	}
}

// IngestNode handles POST /runs/{runID}/graph/nodes, the write path crawl
// workers hit for every discovered node.
func (h *StreamHandler) IngestNode(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var req IngestNodeRequest
	if err := common.ParseJSONBody(w, r, &req, maxBodyBytes); err != nil {
		common.RespondAppError(w, pkgerrors.NewValidationError("invalid request body").WithCause(err))
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		common.RespondAppError(w, err)
		return
	}

	node, err := req.ToNode()
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	// The visit line keeps the run's mined visited-set consistent with
	// what was actually ingested.
	if err := h.runLog.AppendLog(r.Context(), runID, "Visiting: "+node.URL); err != nil {
		common.RespondAppError(w, err)
		return
	}

	merged, err := h.streamer.HandleNodeUpdate(r.Context(), runID, node)
	if err != nil {
		h.logger.Error("Node ingest failed",
			zap.String("runId", runID),
			zap.String("url", node.URL),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, merged)
}

// TeardownStream handles DELETE /runs/{runID}/graph/stream: close every
// subscription and release the run's emitter.
func (h *StreamHandler) TeardownStream(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	h.streamer.TeardownRun(runID)
	w.WriteHeader(http.StatusNoContent)
}
