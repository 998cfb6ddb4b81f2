package core

import (
	"context"
	"time"

	"github.com/swarmgraph/swarmgraph/logging"
)

// RunContext carries the execution scope of one run. It aggregates:
//   - The ambient cancellation Context
//   - Identifiers (SessionID, ThreadID, RunID, GraphID, ParentRunID)
//   - The delegation depth of this run in its ancestry
//   - The event emission channel consumed by the Runner
//   - Backing stores (hierarchy, message log, checkpoints, graph registry)
//
// The task currently executing the run is the only writer of the run's
// in-memory state; RunContext itself is never shared across goroutines
// except through the derived child contexts handed to subgraph runs.
type RunContext struct {
	Context     context.Context
	SessionID   string
	ThreadID    string
	RunID       string
	GraphID     string
	ParentRunID string
	Depth       int

	Emit chan<- Event

	Hierarchy   HierarchyManager
	Log         MessageLog
	Checkpoints CheckpointStore
	Graphs      GraphStore

	*loggerAdapter
}

// NewRunContext constructs a RunContext for a root run (depth 0).
func NewRunContext(
	ctx context.Context,
	sessionID, threadID, runID, graphID string,
	emit chan<- Event,
	hierarchy HierarchyManager,
	log MessageLog,
	checkpoints CheckpointStore,
	graphs GraphStore,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:       ctx,
		SessionID:     sessionID,
		ThreadID:      threadID,
		RunID:         runID,
		GraphID:       graphID,
		Emit:          emit,
		Hierarchy:     hierarchy,
		Log:           log,
		Checkpoints:   checkpoints,
		Graphs:        graphs,
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done mirrors context.Context's Done.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// NewChildContext derives the execution scope for a nested subgraph run.
// The child shares stores and the emission channel but carries its own run
// identity and an incremented depth. No parent state is inherited; the
// invoker copies whitelisted payload fields explicitly.
func (rc *RunContext) NewChildContext(ctx context.Context, runID, graphID, threadID string) *RunContext {
	return &RunContext{
		Context:       ctx,
		SessionID:     rc.SessionID,
		ThreadID:      threadID,
		RunID:         runID,
		GraphID:       graphID,
		ParentRunID:   rc.RunID,
		Depth:         rc.Depth + 1,
		Emit:          rc.Emit,
		Hierarchy:     rc.Hierarchy,
		Log:           rc.Log,
		Checkpoints:   rc.Checkpoints,
		Graphs:        rc.Graphs,
		loggerAdapter: rc.loggerAdapter,
	}
}

// EmitEvent sends ev on the emission channel, honoring cancellation. A nil
// channel drops the event; store writes never depend on emission.
func (rc *RunContext) EmitEvent(ev Event) error {
	if rc.Emit == nil {
		return nil
	}
	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.Emit <- ev:
		return nil
	}
}

// AppendMessage assigns the next logical timestamp for the message's
// thread, persists the message, and emits a message event. The write
// completes before any subsequent suspension point.
func (rc *RunContext) AppendMessage(msg Message) (Message, error) {
	if msg.ThreadID == "" {
		msg.ThreadID = rc.ThreadID
	}
	if msg.SessionID == "" {
		msg.SessionID = rc.SessionID
	}
	if msg.RunID == "" {
		msg.RunID = rc.RunID
	}
	if msg.LogicalTS == 0 {
		ts, err := rc.Log.NextTimestamp(rc.Context, msg.ThreadID)
		if err != nil {
			return Message{}, err
		}
		msg.LogicalTS = ts
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	id, err := rc.Log.Append(rc.Context, msg)
	if err != nil {
		return Message{}, err
	}
	msg.ID = id
	if err := rc.EmitEvent(NewMessageEvent(msg)); err != nil {
		return msg, err
	}
	return msg, nil
}
