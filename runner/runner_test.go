package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/model"
)

// drain collects all streamed events and the terminal error, if any.
func drain(t *testing.T, events <-chan core.Event, errs <-chan error) ([]core.Event, error) {
	t.Helper()
	var collected []core.Event
	var runErr error
	timeout := time.After(5 * time.Second)
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			collected = append(collected, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			runErr = err
		case <-timeout:
			t.Fatal("run did not finish in time")
		}
	}
	return collected, runErr
}

func eventStates(events []core.Event) []string {
	var states []string
	for _, ev := range events {
		if ev.Type == core.EventTransition {
			states = append(states, ev.State)
		}
	}
	return states
}

func TestRunCompletes(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.AddResponse("hello", "hi there")
	r := New(m)

	runID, events, errs, err := r.Run(context.Background(), "main", "", "", "hello")
	require.NoError(t, err)
	collected, runErr := drain(t, events, errs)
	require.NoError(t, runErr)

	assert.Equal(t, []string{"route", "respond", "done"}, eventStates(collected))

	last := collected[len(collected)-1]
	assert.Equal(t, core.EventRunFinished, last.Type)
	assert.Equal(t, string(core.RunCompleted), last.State)

	run, err := r.hierarchy.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.Status)
	require.NotNil(t, run.EndedAt)

	// Both the inbound and the answer messages were streamed.
	var texts []string
	for _, ev := range collected {
		if ev.Type == core.EventMessage {
			texts = append(texts, ev.Message.Content)
		}
	}
	assert.Equal(t, []string{"hello", "hi there"}, texts)
}

func TestRunLazyHierarchyCreation(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	r := New(m)

	runID, events, errs, err := r.Run(context.Background(), "main", "", "", "hello")
	require.NoError(t, err)
	_, runErr := drain(t, events, errs)
	require.NoError(t, runErr)

	run, err := r.hierarchy.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ThreadID)
	assert.Nil(t, run.ParentRunID)
}

func TestRunErrorMarksRunErrored(t *testing.T) {
	m := model.NewMockModel("broken-model", "mock")
	m.FailTimes(10, errors.New("provider down"))
	r := New(m)

	runID, events, errs, err := r.Run(context.Background(), "main", "", "", "hello")
	require.NoError(t, err)
	collected, runErr := drain(t, events, errs)

	var invErr *core.InvocationError
	require.ErrorAs(t, runErr, &invErr)
	assert.Equal(t, "model", invErr.Kind)

	run, err := r.hierarchy.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunErrored, run.Status)
	assert.Contains(t, run.Error, "provider down")

	states := eventStates(collected)
	assert.Equal(t, "error", states[len(states)-1])
}

func TestCancelUnknownRun(t *testing.T) {
	r := New(model.NewMockModel("test-model", "mock"))
	err := r.Cancel("absent")
	var notFound *core.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "run", notFound.Entity)
}

func TestResumeContinuesConversation(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.AddResponse("remember the number 7", "noted, 7 it is")
	m.AddResponse("what number did I give you?", "you gave me 7")
	r := New(m)

	runID, events, errs, err := r.Run(context.Background(), "main", "", "", "remember the number 7")
	require.NoError(t, err)
	_, runErr := drain(t, events, errs)
	require.NoError(t, runErr)

	first, err := r.hierarchy.GetRun(context.Background(), runID)
	require.NoError(t, err)

	secondID, events, errs, err := r.Resume(context.Background(), "main", first.ThreadID, "what number did I give you?")
	require.NoError(t, err)
	_, runErr = drain(t, events, errs)
	require.NoError(t, runErr)
	assert.NotEqual(t, runID, secondID)

	second, err := r.hierarchy.GetRun(context.Background(), secondID)
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, second.Status)
	assert.Equal(t, first.ThreadID, second.ThreadID)

	// Resuming a thread without a stable checkpoint fails.
	_, _, _, err = r.Resume(context.Background(), "main", "no-such-thread", "hi")
	require.Error(t, err)
}
