package subgraph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmgraph/swarmgraph/checkpoint"
	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/hierarchy"
	"github.com/swarmgraph/swarmgraph/logging"
	"github.com/swarmgraph/swarmgraph/messagelog"
	"github.com/swarmgraph/swarmgraph/registry"
)

// stubExecutor scripts the child run outcome.
type stubExecutor struct {
	result RunResult
	err    error
	delay  time.Duration
	gotRC  *core.RunContext
	gotPay InitialPayload
}

func (s *stubExecutor) Execute(rc *core.RunContext, payload InitialPayload) (RunResult, error) {
	s.gotRC = rc
	s.gotPay = payload
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-rc.Done():
			return RunResult{}, rc.Err()
		}
	}
	return s.result, s.err
}

func newParentContext(t *testing.T) (*core.RunContext, core.HierarchyManager) {
	t.Helper()
	ctx := context.Background()
	mgr := hierarchy.NewManager()
	sessionID, err := mgr.NewSession(ctx)
	require.NoError(t, err)
	threadID, err := mgr.NewThread(ctx, sessionID, nil)
	require.NoError(t, err)
	runID, err := mgr.NewRun(ctx, "main", threadID, nil)
	require.NoError(t, err)

	rc := core.NewRunContext(ctx, sessionID, threadID, runID, "main", nil,
		mgr, messagelog.NewInMemoryLog(), checkpoint.NewInMemoryStore(), registry.NewInMemoryStore(),
		logging.NoOpLogger{})
	return rc, mgr
}

func TestInvokeCompletes(t *testing.T) {
	parent, mgr := newParentContext(t)
	exec := &stubExecutor{result: RunResult{
		Responses: map[string]string{"travel": "flight booked"},
	}}
	inv := NewInvoker(exec)

	result, err := inv.Invoke(context.Background(), parent, "travel", InitialPayload{Task: "book a flight", Sender: "main"})
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, result.Status)
	assert.Equal(t, "flight booked", result.Responses["travel"])

	// Child run row records parentage and terminal status.
	require.NotNil(t, exec.gotRC)
	child, err := mgr.GetRun(context.Background(), exec.gotRC.RunID)
	require.NoError(t, err)
	require.NotNil(t, child.ParentRunID)
	assert.Equal(t, parent.RunID, *child.ParentRunID)
	assert.Equal(t, core.RunCompleted, child.Status)
	assert.Equal(t, "travel", child.GraphID)

	// Whitelisted payload only.
	assert.Equal(t, "book a flight", exec.gotPay.Task)
	assert.Equal(t, "main", exec.gotPay.Sender)
	// Default policy reuses the parent thread.
	assert.Equal(t, parent.ThreadID, exec.gotRC.ThreadID)
	assert.Equal(t, parent.Depth+1, exec.gotRC.Depth)
}

func TestInvokeExecutorError(t *testing.T) {
	parent, mgr := newParentContext(t)
	exec := &stubExecutor{err: errors.New("downstream blew up")}
	inv := NewInvoker(exec)

	result, err := inv.Invoke(context.Background(), parent, "travel", InitialPayload{Task: "t"})
	require.NoError(t, err)
	assert.Equal(t, core.RunErrored, result.Status)
	assert.Contains(t, result.Error, "downstream blew up")

	child, err := mgr.GetRun(context.Background(), exec.gotRC.RunID)
	require.NoError(t, err)
	assert.Equal(t, core.RunErrored, child.Status)
	assert.Contains(t, child.Error, "downstream blew up")
}

func TestInvokeTimeout(t *testing.T) {
	parent, mgr := newParentContext(t)
	exec := &stubExecutor{delay: time.Second, result: RunResult{}}
	inv := NewInvoker(exec, func(o *Options) {
		o.Timeout = 20 * time.Millisecond
	})

	start := time.Now()
	result, err := inv.Invoke(context.Background(), parent, "travel", InitialPayload{Task: "t"})
	require.NoError(t, err)
	assert.Equal(t, core.RunTimedOut, result.Status)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	child, err := mgr.GetRun(context.Background(), exec.gotRC.RunID)
	require.NoError(t, err)
	assert.Equal(t, core.RunTimedOut, child.Status)
}

func TestInvokeDepthExceeded(t *testing.T) {
	parent, mgr := newParentContext(t)
	ctx := context.Background()

	// Build an ancestry chain so the next delegation would exceed the bound.
	current := parent
	for i := 0; i < 4; i++ {
		runID, err := mgr.NewRun(ctx, "worker", current.ThreadID, &current.RunID)
		require.NoError(t, err)
		current = current.NewChildContext(ctx, runID, "worker", current.ThreadID)
	}

	exec := &stubExecutor{}
	inv := NewInvoker(exec) // MaxDepth 5

	_, err := inv.Invoke(ctx, current, "worker", InitialPayload{Task: "too deep"})
	var depthErr *core.DepthExceededError
	require.ErrorAs(t, err, &depthErr)
	assert.Equal(t, 5, depthErr.MaxDepth)
	assert.Equal(t, 6, depthErr.Depth)

	// No child run row was created and the executor never ran.
	assert.Nil(t, exec.gotRC)
	// Parent run itself is untouched.
	run, err := mgr.GetRun(ctx, current.RunID)
	require.NoError(t, err)
	assert.Equal(t, core.RunActive, run.Status)
}

func TestInvokeNewThreadPolicy(t *testing.T) {
	parent, mgr := newParentContext(t)
	exec := &stubExecutor{}
	inv := NewInvoker(exec, func(o *Options) {
		o.ThreadPolicy = func(*core.RunContext, string) bool { return true }
	})

	_, err := inv.Invoke(context.Background(), parent, "travel", InitialPayload{Task: "t"})
	require.NoError(t, err)

	require.NotNil(t, exec.gotRC)
	assert.NotEqual(t, parent.ThreadID, exec.gotRC.ThreadID)

	child, err := mgr.GetRun(context.Background(), exec.gotRC.RunID)
	require.NoError(t, err)
	assert.Equal(t, exec.gotRC.ThreadID, child.ThreadID)
}
