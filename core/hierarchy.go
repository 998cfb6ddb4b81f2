package core

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	// RunActive marks a run that is currently executing.
	RunActive RunStatus = "active"
	// RunCompleted marks a run that finished successfully.
	RunCompleted RunStatus = "completed"
	// RunErrored marks a run that terminated with an error.
	RunErrored RunStatus = "errored"
	// RunTimedOut marks a run whose awaiter abandoned it at a deadline.
	RunTimedOut RunStatus = "timed_out"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool { return s != RunActive }

// Session is the top-level conversation scope. Sessions are created on
// first contact and never mutated or deleted by the core.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Thread is a conversational sub-context within a session. Threads form a
// forest: ParentThreadID, when set, references an existing thread in the
// same session and the parent chain is acyclic.
type Thread struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ParentThreadID *string   `json:"parent_thread_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Run is one execution of a graph against a thread. ParentRunID, when set,
// referenced a run that was active at spawn time.
type Run struct {
	ID          string     `json:"id"`
	ParentRunID *string    `json:"parent_run_id,omitempty"`
	GraphID     string     `json:"graph_id"`
	ThreadID    string     `json:"thread_id"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// HierarchyStore persists sessions, threads and runs. Implementations must
// make Create* visible atomically: a row is either fully written or absent.
type HierarchyStore interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)

	CreateThread(ctx context.Context, t Thread) error
	GetThread(ctx context.Context, id string) (Thread, error)

	CreateRun(ctx context.Context, r Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	// UpdateRunStatus moves a run to status, recording the end time and an
	// optional error message for terminal states.
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg string) error
}

// HierarchyManager allocates identifiers and enforces the parent-link
// invariants of the run/thread hierarchy.
type HierarchyManager interface {
	// NewSession creates a session and returns its id.
	NewSession(ctx context.Context) (string, error)
	// NewThread creates a thread under sessionID. parentThreadID may be nil;
	// when set it must reference an existing thread in the same session.
	NewThread(ctx context.Context, sessionID string, parentThreadID *string) (string, error)
	// NewRun creates a run of graphID against threadID. parentRunID may be
	// nil; when set it must reference a run that is currently active.
	NewRun(ctx context.Context, graphID, threadID string, parentRunID *string) (string, error)

	// CompleteRun, FailRun and TimeoutRun transition a run to its terminal
	// status. Transitions out of a terminal state are rejected.
	CompleteRun(ctx context.Context, runID string) error
	FailRun(ctx context.Context, runID string, cause error) error
	TimeoutRun(ctx context.Context, runID string) error

	GetRun(ctx context.Context, runID string) (Run, error)
	// Ancestry returns the run's parent chain, nearest parent first.
	Ancestry(ctx context.Context, runID string) ([]Run, error)
}
