package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/logging"
)

// Options holds dependency + configuration overrides passed to NewManager.
type Options struct {
	// Store persists the hierarchy rows. Defaults to an in-memory store.
	Store core.HierarchyStore
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Manager allocates session, thread and run identifiers and enforces the
// hierarchy invariants: thread parents exist in the same session (the
// thread graph is a forest) and run parents are active at spawn time.
// Safe for concurrent use.
type Manager struct {
	store  core.HierarchyStore
	logger logging.Logger
}

// NewManager constructs a Manager with optional overrides.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{
		Store:  NewInMemoryStore(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{store: opts.Store, logger: opts.Logger}
}

// NewSession creates a session and returns its id. The row is persisted
// before the id is returned.
func (m *Manager) NewSession(ctx context.Context) (string, error) {
	s := core.Session{ID: core.NewID(), CreatedAt: time.Now().UTC()}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	m.logger.Debug("hierarchy.session.created", "session_id", s.ID)
	return s.ID, nil
}

// NewThread creates a thread under sessionID. A non-nil parentThreadID must
// reference an existing thread in the same session.
func (m *Manager) NewThread(ctx context.Context, sessionID string, parentThreadID *string) (string, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		var nf *core.NotFoundError
		if errors.As(err, &nf) {
			return "", &core.InvalidParentError{Kind: "session", ParentID: sessionID, Reason: "does not exist"}
		}
		return "", err
	}
	if parentThreadID != nil {
		parent, err := m.store.GetThread(ctx, *parentThreadID)
		if err != nil {
			var nf *core.NotFoundError
			if errors.As(err, &nf) {
				return "", &core.InvalidParentError{Kind: "thread", ParentID: *parentThreadID, Reason: "does not exist"}
			}
			return "", err
		}
		if parent.SessionID != sessionID {
			return "", &core.InvalidParentError{Kind: "thread", ParentID: *parentThreadID, Reason: "belongs to a different session"}
		}
	}
	t := core.Thread{
		ID:             core.NewID(),
		SessionID:      sessionID,
		ParentThreadID: parentThreadID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.CreateThread(ctx, t); err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	m.logger.Debug("hierarchy.thread.created", "thread_id", t.ID, "session_id", sessionID)
	return t.ID, nil
}

// NewRun creates a run of graphID against threadID. A non-nil parentRunID
// must reference a run that is active right now; even if the parent becomes
// terminal immediately after, the child keeps a valid spawn-time link.
func (m *Manager) NewRun(ctx context.Context, graphID, threadID string, parentRunID *string) (string, error) {
	if _, err := m.store.GetThread(ctx, threadID); err != nil {
		var nf *core.NotFoundError
		if errors.As(err, &nf) {
			return "", &core.InvalidParentError{Kind: "thread", ParentID: threadID, Reason: "does not exist"}
		}
		return "", err
	}
	if parentRunID != nil {
		parent, err := m.store.GetRun(ctx, *parentRunID)
		if err != nil {
			var nf *core.NotFoundError
			if errors.As(err, &nf) {
				return "", &core.InvalidParentError{Kind: "run", ParentID: *parentRunID, Reason: "does not exist"}
			}
			return "", err
		}
		if parent.Status != core.RunActive {
			return "", &core.InvalidParentError{Kind: "run", ParentID: *parentRunID, Reason: fmt.Sprintf("not active (status %s)", parent.Status)}
		}
	}
	r := core.Run{
		ID:          core.NewID(),
		ParentRunID: parentRunID,
		GraphID:     graphID,
		ThreadID:    threadID,
		Status:      core.RunActive,
		StartedAt:   time.Now().UTC(),
	}
	if err := m.store.CreateRun(ctx, r); err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	m.logger.Debug("hierarchy.run.created", "run_id", r.ID, "graph_id", graphID, "thread_id", threadID)
	return r.ID, nil
}

// CompleteRun marks a run completed.
func (m *Manager) CompleteRun(ctx context.Context, runID string) error {
	return m.transition(ctx, runID, core.RunCompleted, "")
}

// FailRun marks a run errored, preserving the cause.
func (m *Manager) FailRun(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return m.transition(ctx, runID, core.RunErrored, msg)
}

// TimeoutRun marks a run timed out.
func (m *Manager) TimeoutRun(ctx context.Context, runID string) error {
	return m.transition(ctx, runID, core.RunTimedOut, "deadline exceeded")
}

func (m *Manager) transition(ctx context.Context, runID string, status core.RunStatus, errMsg string) error {
	r, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return fmt.Errorf("run %s already terminal (status %s)", runID, r.Status)
	}
	if err := m.store.UpdateRunStatus(ctx, runID, status, errMsg); err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	m.logger.Debug("hierarchy.run.transition", "run_id", runID, "status", string(status))
	return nil
}

// GetRun retrieves a run by id.
func (m *Manager) GetRun(ctx context.Context, runID string) (core.Run, error) {
	return m.store.GetRun(ctx, runID)
}

// Ancestry returns the run's parent chain, nearest parent first. Parent
// links are validated at creation, so the chain is finite; the guard below
// only protects against a corrupted store.
func (m *Manager) Ancestry(ctx context.Context, runID string) ([]core.Run, error) {
	var chain []core.Run
	r, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	for r.ParentRunID != nil {
		r, err = m.store.GetRun(ctx, *r.ParentRunID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, r)
		if len(chain) > 1000 {
			return nil, fmt.Errorf("run %s: ancestry chain exceeds 1000 entries", runID)
		}
	}
	return chain, nil
}
