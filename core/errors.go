package core

import "fmt"

// InvalidParentError reports a hierarchy integrity violation: a supplied
// parent id does not exist, belongs to another session, or (for runs) is no
// longer active. The entity is rejected before any row is written.
type InvalidParentError struct {
	Kind     string // "thread" or "run"
	ParentID string
	Reason   string
}

func (e *InvalidParentError) Error() string {
	return fmt.Sprintf("invalid parent %s %q: %s", e.Kind, e.ParentID, e.Reason)
}

// RoutingError reports a routing decision targeting an unknown node. The
// run transitions to errored and the error is surfaced to the caller.
type RoutingError struct {
	RunID    string
	ThreadID string
	Target   string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("run %s: no route to target %q (thread %s)", e.RunID, e.Target, e.ThreadID)
}

// OrderingError reports an out-of-sequence message append. The caller must
// resubmit with a logical timestamp greater than Last.
type OrderingError struct {
	ThreadID  string
	LogicalTS int64
	Last      int64
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("thread %s: logical timestamp %d is not after last appended %d",
		e.ThreadID, e.LogicalTS, e.Last)
}

// DepthExceededError reports that a delegation would exceed the configured
// recursion bound. No child run is created.
type DepthExceededError struct {
	RunID    string
	Depth    int
	MaxDepth int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("run %s: subgraph depth %d exceeds maximum %d", e.RunID, e.Depth, e.MaxDepth)
}

// InvocationError wraps a transient model or tool invocation failure. The
// router retries these with bounded backoff; exhaustion surfaces the last
// cause with the run marked errored.
type InvocationError struct {
	Kind    string // "model" or "tool"
	Name    string
	Attempt int
	Cause   error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s invocation %q failed (attempt %d): %v", e.Kind, e.Name, e.Attempt, e.Cause)
}

func (e *InvocationError) Unwrap() error { return e.Cause }

// ConflictError reports a unique-constraint violation on a checkpoint or
// message write. The write is rejected, never silently overwritten.
type ConflictError struct {
	Entity string
	Key    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists for key %s", e.Entity, e.Key)
}

// NotFoundError reports a lookup for an entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
