package ports

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a crawl run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunLogEntry is one timestamped line of a run's log stream
type RunLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Run is an execution identity owned by the workflow subsystem. This
// subsystem only reads it: the log stream is mined for visited URLs and
// the declared start node seeds per-run BFS.
type Run struct {
	ID        string        `json:"id"`
	StartNode string        `json:"startNode,omitempty"`
	Status    RunStatus     `json:"status"`
	StartTime time.Time     `json:"startTime"`
	Logs      []RunLogEntry `json:"logs"`
}

// RunSource resolves runs by id. Returns a NotFound typed error for
// unknown runs; callers absorb the write-then-read race after run
// creation with a bounded retry.
type RunSource interface {
	GetRun(ctx context.Context, runID string) (*Run, error)
}
