package subgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/logging"
)

const (
	// DefaultMaxDepth bounds delegation nesting.
	DefaultMaxDepth = 5
	// DefaultTimeout bounds how long a parent awaits a child run.
	DefaultTimeout = 60 * time.Second
)

// InitialPayload is the explicit, whitelisted state handed to a child run.
// Nothing else from the parent is inherited, keeping subgraphs independently
// testable.
type InitialPayload struct {
	// Task is the subtask description the child should handle.
	Task string
	// Sender names the delegating graph.
	Sender string
	// Metadata travels with the child's messages and checkpoints.
	Metadata core.Metadata
}

// RunResult is the terminal outcome of a child run, merged back into the
// parent by its router.
type RunResult struct {
	Status    core.RunStatus
	Messages  []core.Message
	Responses map[string]string
	// Error carries the failure description for errored runs.
	Error string
}

// GraphExecutor runs a graph to completion inside the given run scope. The
// runner wires the router in as the executor; tests substitute stubs.
type GraphExecutor interface {
	Execute(rc *core.RunContext, payload InitialPayload) (RunResult, error)
}

// ThreadPolicy decides whether a delegation to graphID warrants a fresh
// sub-thread under the parent's thread, or should reuse the parent thread.
// The criteria are a caller decision, not fixed by the invoker.
type ThreadPolicy func(parent *core.RunContext, graphID string) bool

// ReuseParentThread is the default policy: children share the parent thread.
func ReuseParentThread(*core.RunContext, string) bool { return false }

// Options configures the Invoker.
type Options struct {
	// MaxDepth bounds delegation nesting. Defaults to DefaultMaxDepth.
	MaxDepth int
	// Timeout bounds how long Invoke awaits the child. Defaults to
	// DefaultTimeout. A tighter context deadline still wins.
	Timeout time.Duration
	// ThreadPolicy defaults to ReuseParentThread.
	ThreadPolicy ThreadPolicy
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Invoker spawns child runs and awaits their results.
type Invoker struct {
	executor     GraphExecutor
	maxDepth     int
	timeout      time.Duration
	threadPolicy ThreadPolicy
	logger       logging.Logger
}

// NewInvoker constructs an Invoker driving child runs through executor.
func NewInvoker(executor GraphExecutor, optFns ...func(o *Options)) *Invoker {
	opts := Options{
		MaxDepth:     DefaultMaxDepth,
		Timeout:      DefaultTimeout,
		ThreadPolicy: ReuseParentThread,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Invoker{
		executor:     executor,
		maxDepth:     opts.MaxDepth,
		timeout:      opts.Timeout,
		threadPolicy: opts.ThreadPolicy,
		logger:       opts.Logger,
	}
}

// Invoke spawns a child run of graphID under parent and awaits its terminal
// result. The depth bound is checked against the parent's recorded ancestry
// before any run row is written. On deadline the child is marked timed_out
// and a RunResult with that status is returned; the child's goroutine is
// cancelled and drained asynchronously.
func (i *Invoker) Invoke(ctx context.Context, parent *core.RunContext, graphID string, payload InitialPayload) (RunResult, error) {
	ancestors, err := parent.Hierarchy.Ancestry(ctx, parent.RunID)
	if err != nil {
		return RunResult{}, err
	}
	// Child depth counts the parent chain plus the parent and child runs.
	childDepth := len(ancestors) + 2
	if childDepth > i.maxDepth {
		return RunResult{}, &core.DepthExceededError{
			RunID:    parent.RunID,
			Depth:    childDepth,
			MaxDepth: i.maxDepth,
		}
	}

	childThreadID := parent.ThreadID
	if i.threadPolicy(parent, graphID) {
		parentThread := parent.ThreadID
		childThreadID, err = parent.Hierarchy.NewThread(ctx, parent.SessionID, &parentThread)
		if err != nil {
			return RunResult{}, err
		}
	}

	childRunID, err := parent.Hierarchy.NewRun(ctx, graphID, childThreadID, &parent.RunID)
	if err != nil {
		return RunResult{}, err
	}

	childCtx, cancel := context.WithCancel(ctx)
	childRC := parent.NewChildContext(childCtx, childRunID, graphID, childThreadID)

	i.logger.Debug("subgraph.spawn", "run_id", childRunID, "graph_id", graphID, "parent_run_id", parent.RunID, "depth", childDepth)

	type outcome struct {
		result RunResult
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		defer cancel()
		result, err := i.executor.Execute(childRC, payload)
		resultCh <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(i.timeout)
	defer timer.Stop()

	select {
	case out := <-resultCh:
		return i.finish(ctx, parent.Hierarchy, childRunID, out.result, out.err)
	case <-timer.C:
	case <-ctx.Done():
	}

	// Deadline or cancellation: abandon the child and record the timeout.
	cancel()
	if err := parent.Hierarchy.TimeoutRun(ctx, childRunID); err != nil {
		i.logger.Warn("subgraph.timeout.mark_failed", "run_id", childRunID, "error", err)
	}
	i.logger.Info("subgraph.timed_out", "run_id", childRunID, "graph_id", graphID)
	return RunResult{Status: core.RunTimedOut}, nil
}

// finish records the child's terminal status and normalizes the result. The
// invoker, not the executor, owns the child's status transition so the
// terminal write happens exactly once.
func (i *Invoker) finish(ctx context.Context, hierarchy core.HierarchyManager, childRunID string, result RunResult, execErr error) (RunResult, error) {
	if execErr != nil {
		if err := hierarchy.FailRun(ctx, childRunID, execErr); err != nil {
			i.logger.Warn("subgraph.fail.mark_failed", "run_id", childRunID, "error", err)
		}
		return RunResult{Status: core.RunErrored, Error: execErr.Error()}, nil
	}
	switch result.Status {
	case "", core.RunCompleted:
		result.Status = core.RunCompleted
		if err := hierarchy.CompleteRun(ctx, childRunID); err != nil {
			i.logger.Warn("subgraph.complete.mark_failed", "run_id", childRunID, "error", err)
		}
	case core.RunErrored:
		if err := hierarchy.FailRun(ctx, childRunID, fmt.Errorf("%s", result.Error)); err != nil {
			i.logger.Warn("subgraph.fail.mark_failed", "run_id", childRunID, "error", err)
		}
	}
	return result, nil
}
