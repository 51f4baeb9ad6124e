package runs

import (
	"context"
	"sync"
	"time"

	"navgraph-backend/application/ports"

	pkgerrors "navgraph-backend/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry is the in-memory implementation of the run collaborator for
// single-node deployments and tests. A shared deployment substitutes the
// real workflow subsystem behind ports.RunSource.
type Registry struct {
	mu     sync.RWMutex
	runs   map[string]*ports.Run
	logger *zap.Logger
}

// NewRegistry creates an empty run registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		runs:   make(map[string]*ports.Run),
		logger: logger,
	}
}

// CreateRun registers a new run. An empty id gets a generated one.
func (r *Registry) CreateRun(id, startNode string) *ports.Run {
	if id == "" {
		id = uuid.NewString()
	}

	run := &ports.Run{
		ID:        id,
		StartNode: startNode,
		Status:    ports.RunStatusRunning,
		StartTime: time.Now(),
		Logs:      []ports.RunLogEntry{},
	}

	r.mu.Lock()
	r.runs[id] = run
	r.mu.Unlock()

	r.logger.Info("Run registered",
		zap.String("runId", id),
		zap.String("startNode", startNode),
	)
	return cloneRun(run)
}

// GetRun resolves a run by id, NotFound when absent
func (r *Registry) GetRun(ctx context.Context, runID string) (*ports.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[runID]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("run").
			WithOperation("GetRun").
			WithDetails(map[string]interface{}{"runId": runID})
	}
	return cloneRun(run), nil
}

// AppendLog appends a timestamped line to a run's log stream. The update
// ingest path logs structured "Visiting: <url>" lines here so the mined
// visited-set stays in sync with ingested nodes.
func (r *Registry) AppendLog(ctx context.Context, runID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return pkgerrors.NewNotFoundError("run").
			WithOperation("AppendLog").
			WithDetails(map[string]interface{}{"runId": runID})
	}
	run.Logs = append(run.Logs, ports.RunLogEntry{
		Timestamp: time.Now(),
		Message:   message,
	})
	return nil
}

// CompleteRun marks a run finished
func (r *Registry) CompleteRun(runID string, status ports.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return pkgerrors.NewNotFoundError("run").
			WithOperation("CompleteRun").
			WithDetails(map[string]interface{}{"runId": runID})
	}
	run.Status = status
	return nil
}

func cloneRun(run *ports.Run) *ports.Run {
	dup := *run
	dup.Logs = append([]ports.RunLogEntry(nil), run.Logs...)
	return &dup
}

var _ ports.RunSource = (*Registry)(nil)
