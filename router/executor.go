package router

import (
	"context"
	"fmt"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/subgraph"
)

// GraphExecutor adapts the router as the engine behind subgraph delegation:
// the invoker hands it a child run scope and an initial payload, and it runs
// the child's state machine to completion under that graph's registered
// configuration.
type GraphExecutor struct {
	router *Router
}

// NewGraphExecutor wraps a router for use as a subgraph executor.
func NewGraphExecutor(r *Router) *GraphExecutor {
	return &GraphExecutor{router: r}
}

// Execute implements subgraph.GraphExecutor. The delegated task is appended
// to the child's thread as its inbound message; the caller owns the child
// run's terminal status, so Execute only reports the outcome.
func (e *GraphExecutor) Execute(rc *core.RunContext, payload subgraph.InitialPayload) (subgraph.RunResult, error) {
	g, err := rc.Graphs.Get(rc.Context, rc.GraphID)
	if err != nil {
		return subgraph.RunResult{}, err
	}
	cfg, err := ParseConfig(g.Config)
	if err != nil {
		return subgraph.RunResult{}, err
	}
	if cfg.GraphID == "" {
		cfg.GraphID = rc.GraphID
	}

	state := NewRunState(rc)
	state.Sender = payload.Sender
	state.Task = payload.Task
	state.Metadata = payload.Metadata.Clone()

	if _, err := rc.AppendMessage(core.Message{
		Source:   payload.Sender,
		Target:   rc.GraphID,
		Type:     core.MessageAgent,
		Content:  payload.Task,
		Metadata: payload.Metadata.Clone(),
	}); err != nil {
		return subgraph.RunResult{}, err
	}

	if err := e.router.Execute(rc, cfg, state); err != nil {
		return subgraph.RunResult{}, err
	}
	return subgraph.RunResult{
		Status:    core.RunCompleted,
		Messages:  runMessages(state),
		Responses: state.Responses,
	}, nil
}

// runMessages filters the state's view down to messages this run produced.
func runMessages(state *RunState) []core.Message {
	var out []core.Message
	for _, m := range state.Messages {
		if m.RunID == state.RunID {
			out = append(out, m)
		}
	}
	return out
}

// Resume loads the latest stable checkpoint for (graphID, conversationID)
// and reconstructs the run state recorded there. The caller binds the state
// to a new run before re-entering Execute.
func Resume(ctx context.Context, store core.CheckpointStore, graphID, conversationID string) (*RunState, core.Checkpoint, error) {
	cp, ok, err := store.LatestStable(ctx, graphID, conversationID)
	if err != nil {
		return nil, core.Checkpoint{}, err
	}
	if !ok {
		return nil, core.Checkpoint{}, fmt.Errorf("no stable checkpoint for graph %s conversation %s", graphID, conversationID)
	}
	state, err := StateFromCheckpoint(cp)
	if err != nil {
		return nil, core.Checkpoint{}, err
	}
	return state, cp, nil
}
