package swarmgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/model"
	"github.com/swarmgraph/swarmgraph/router"
)

func TestRunSync(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.AddResponse("hello", "hi, how can I help?")
	sg := New(m)

	runID, events, err := sg.RunSync(context.Background(), "main", "", "", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	last := events[len(events)-1]
	assert.Equal(t, core.EventRunFinished, last.Type)
	assert.Equal(t, string(core.RunCompleted), last.State)

	run, err := sg.Hierarchy().GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.Status)
}

// TestDelegationEndToEnd walks one full delegation: the main graph routes a
// travel question to the travel subgraph, awaits its answer, folds it into
// its own response and completes with stable checkpoints for both graphs.
func TestDelegationEndToEnd(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.AddResponse("book a flight to Oslo", "flight booked for tomorrow")
	m.AddResponse("flight booked for tomorrow", "your flight to Oslo is booked")
	sg := New(m)

	ctx := context.Background()
	require.NoError(t, sg.RegisterGraph(ctx, router.GraphConfig{
		GraphID:         "main",
		Subgraphs:       []string{"travel"},
		DelegationRules: []router.DelegationRule{{Keywords: []string{"flight"}, Target: "travel"}},
	}))
	require.NoError(t, sg.RegisterGraph(ctx, router.GraphConfig{
		GraphID:       "travel",
		DefaultTarget: "travel",
	}))

	runID, events, err := sg.RunSync(ctx, "main", "", "", "book a flight to Oslo")
	require.NoError(t, err)

	run, err := sg.Hierarchy().GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.Status)

	// The parent walked the delegation states in order.
	var states []string
	for _, ev := range events {
		if ev.Type == core.EventTransition && ev.RunID == runID {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []string{"route", "delegate", "await_subgraph", "respond", "done"}, states)

	// A stable checkpoint exists for both graphs on the shared thread, and
	// the parent's records a completed run.
	for _, graphID := range []string{"main", "travel"} {
		cp, ok, err := sg.Checkpoints().LatestStable(ctx, graphID, run.ThreadID)
		require.NoError(t, err)
		require.True(t, ok, graphID)
		assert.Equal(t, "done", cp.Metadata.Extra["state"])
	}

	// The thread log ends with the parent's final answer.
	it, err := sg.Log().Read(ctx, run.ThreadID, 0)
	require.NoError(t, err)
	var lastMsg core.Message
	for {
		msg, ok := it.Next()
		if !ok {
			break
		}
		lastMsg = msg
	}
	assert.Equal(t, "your flight to Oslo is booked", lastMsg.Content)
	assert.Equal(t, "main", lastMsg.Source)
}

func TestRunSyncError(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	sg := New(m)

	// Delegation rule pointing at an unregistered target takes the error
	// edge and surfaces a routing error.
	require.NoError(t, sg.RegisterGraph(context.Background(), router.GraphConfig{
		GraphID:         "main",
		DelegationRules: []router.DelegationRule{{Keywords: []string{"flight"}, Target: "ghost"}},
	}))
	runID, _, err := sg.RunSync(context.Background(), "main", "", "", "book a flight")
	var routingErr *core.RoutingError
	require.ErrorAs(t, err, &routingErr)

	run, getErr := sg.Hierarchy().GetRun(context.Background(), runID)
	require.NoError(t, getErr)
	assert.Equal(t, core.RunErrored, run.Status)
}
