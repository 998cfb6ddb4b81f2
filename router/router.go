package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/internal/util"
	"github.com/swarmgraph/swarmgraph/logging"
	"github.com/swarmgraph/swarmgraph/model"
	"github.com/swarmgraph/swarmgraph/subgraph"
	"github.com/swarmgraph/swarmgraph/tool"
)

// DefaultMaxToolRounds bounds the tool-call loop within one respond state.
const DefaultMaxToolRounds = 4

// Invoker runs a subgraph synchronously on behalf of a parent run.
type Invoker interface {
	Invoke(ctx context.Context, parent *core.RunContext, graphID string, payload subgraph.InitialPayload) (subgraph.RunResult, error)
}

// Options configure a Router.
type Options struct {
	Tools         *tool.Registry
	Invoker       Invoker
	Logger        logging.Logger
	MaxToolRounds int
}

// Router drives the run state machine. It is stateless between runs: all
// per-run state lives in RunState, so one Router instance serves any number
// of concurrent runs.
type Router struct {
	model         model.Model
	tools         *tool.Registry
	invoker       Invoker
	logger        logging.Logger
	maxToolRounds int
}

// New creates a Router backed by the given model.
func New(m model.Model, optFns ...func(o *Options)) *Router {
	opts := Options{
		Logger:        logging.NewDefaultSlogLogger(),
		MaxToolRounds: DefaultMaxToolRounds,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Router{
		model:         m,
		tools:         opts.Tools,
		invoker:       opts.Invoker,
		logger:        opts.Logger,
		maxToolRounds: opts.MaxToolRounds,
	}
}

// Execute advances state until it reaches done or error. Each transition is
// checkpointed before the next state's work begins, so a crash resumes at
// the recorded state via Resume. On the error state the causal error is
// returned; the caller owns the run's terminal status.
func (r *Router) Execute(rc *core.RunContext, cfg GraphConfig, state *RunState) error {
	cfg.applyDefaults()
	if cfg.GraphID == "" {
		cfg.GraphID = rc.GraphID
	}
	for !state.Status.Terminal() {
		if err := rc.Context.Err(); err != nil {
			return err
		}
		var err error
		switch state.Status {
		case StateReceive:
			err = r.receive(rc, cfg, state)
		case StateRoute:
			err = r.route(rc, cfg, state)
		case StateDelegate, StateAwaitSubgraph:
			err = r.delegate(rc, cfg, state)
		case StateRespond:
			err = r.respond(rc, cfg, state)
		default:
			err = fmt.Errorf("unknown router state %q", state.Status)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// receive ingests log entries newer than the state's high-water mark.
func (r *Router) receive(rc *core.RunContext, cfg GraphConfig, state *RunState) error {
	it, err := rc.Log.Read(rc.Context, state.ThreadID, state.LastTS)
	if err != nil {
		return err
	}
	for {
		msg, ok := it.Next()
		if !ok {
			break
		}
		state.appendMessage(msg)
	}
	if err := it.Err(); err != nil {
		return err
	}
	last, ok := state.lastMessage()
	if !ok {
		return r.fail(rc, cfg, state, fmt.Errorf("run %s: no inbound message on thread %s", state.RunID, state.ThreadID))
	}
	if state.Sender == "" {
		state.Sender = last.Source
	}
	return r.transition(rc, cfg, state, StateRoute)
}

// route classifies the latest message and picks the next edge.
func (r *Router) route(rc *core.RunContext, cfg GraphConfig, state *RunState) error {
	decision := Route(cfg, state)
	r.logger.Debug("router.route",
		"run_id", state.RunID,
		"action", string(decision.Action),
		"target", decision.Target,
	)
	switch decision.Action {
	case ActionDelegate:
		if !cfg.KnowsSubgraph(decision.Target) {
			return r.fail(rc, cfg, state, &core.RoutingError{
				RunID:    state.RunID,
				ThreadID: state.ThreadID,
				Target:   decision.Target,
			})
		}
		state.Target = decision.Target
		state.Task = decision.Task
		return r.transition(rc, cfg, state, StateDelegate)
	case ActionTool:
		state.PendingTool = decision.Target
		state.PendingToolArgs = map[string]any{"input": decision.Task}
		state.Target = cfg.DefaultTarget
		return r.transition(rc, cfg, state, StateRespond)
	default:
		state.Target = decision.Target
		return r.transition(rc, cfg, state, StateRespond)
	}
}

// delegate hands the current task to the target subgraph and blocks until
// its terminal result, then merges a completed child back into this run.
func (r *Router) delegate(rc *core.RunContext, cfg GraphConfig, state *RunState) error {
	if r.invoker == nil {
		return r.fail(rc, cfg, state, fmt.Errorf("run %s: delegation to %q without an invoker", state.RunID, state.Target))
	}
	if state.Status != StateAwaitSubgraph {
		if err := r.transition(rc, cfg, state, StateAwaitSubgraph); err != nil {
			return err
		}
	}
	payload := subgraph.InitialPayload{
		Task:     state.Task,
		Sender:   cfg.GraphID,
		Metadata: core.Metadata{ParentRunID: state.RunID},
	}
	result, err := r.invoker.Invoke(rc.Context, rc, state.Target, payload)
	if err != nil {
		var depthErr *core.DepthExceededError
		if errors.As(err, &depthErr) {
			// No child run was created; surface without taking the
			// error edge so the run's recorded state is untouched.
			return err
		}
		return r.fail(rc, cfg, state, err)
	}
	switch result.Status {
	case core.RunCompleted:
		state.merge(result.Messages, result.Responses)
		state.Target = ""
		state.Task = ""
		return r.transition(rc, cfg, state, StateRespond)
	default:
		return r.fail(rc, cfg, state, fmt.Errorf("subgraph %q finished %s: %s", state.Target, result.Status, result.Error))
	}
}

// respond produces the run's final answer through the model, executing tool
// calls (and model-initiated delegations) along the way.
func (r *Router) respond(rc *core.RunContext, cfg GraphConfig, state *RunState) error {
	if state.PendingTool != "" {
		if err := r.runPendingTool(rc, cfg, state); err != nil {
			return r.fail(rc, cfg, state, err)
		}
	}

	instructions, err := r.renderInstructions(cfg, state)
	if err != nil {
		return r.fail(rc, cfg, state, err)
	}
	contents := contentsFrom(cfg.GraphID, state.Messages)
	defs := r.tools.Definitions()

	for round := 0; round < r.maxToolRounds; round++ {
		var resp model.Response
		invokeErr := r.withRetry(rc.Context, cfg, "model", r.model.Info().Name, func(ctx context.Context) error {
			var err error
			resp, err = r.model.Invoke(ctx, model.Request{
				Instructions: instructions,
				Contents:     contents,
				Tools:        defs,
			})
			return err
		})
		if invokeErr != nil {
			return r.fail(rc, cfg, state, invokeErr)
		}

		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 {
			return r.finishResponse(rc, cfg, state, resp.Content.Text())
		}

		contents = append(contents, resp.Content)
		for _, call := range calls {
			args, err := decodeCallArguments(call)
			if err != nil {
				return r.fail(rc, cfg, state, err)
			}
			if call.Name == tool.DelegateToolName {
				agent, task, err := tool.ParseDelegation(args)
				if err != nil {
					return r.fail(rc, cfg, state, err)
				}
				if !cfg.KnowsSubgraph(agent) {
					return r.fail(rc, cfg, state, &core.RoutingError{
						RunID:    state.RunID,
						ThreadID: state.ThreadID,
						Target:   agent,
					})
				}
				state.Target = agent
				state.Task = task
				return r.transition(rc, cfg, state, StateDelegate)
			}
			toolContent, err := r.runToolCall(rc, cfg, state, call, args)
			if err != nil {
				return r.fail(rc, cfg, state, err)
			}
			contents = append(contents, toolContent)
		}
	}
	return r.fail(rc, cfg, state, &core.InvocationError{
		Kind:    "model",
		Name:    r.model.Info().Name,
		Attempt: r.maxToolRounds,
		Cause:   fmt.Errorf("tool call rounds exhausted"),
	})
}

// finishResponse records the final answer and closes the run.
func (r *Router) finishResponse(rc *core.RunContext, cfg GraphConfig, state *RunState, text string) error {
	target := state.Sender
	if target == "" {
		target = "user"
	}
	msg, err := rc.AppendMessage(core.Message{
		Source:   cfg.GraphID,
		Target:   target,
		Type:     core.MessageAgent,
		Content:  text,
		Metadata: state.Metadata.Clone(),
	})
	if err != nil {
		return r.fail(rc, cfg, state, err)
	}
	state.appendMessage(msg)
	responder := state.Target
	if responder == "" {
		responder = cfg.DefaultTarget
	}
	state.Responses[responder] = text
	state.Content = text
	return r.transition(rc, cfg, state, StateDone)
}

// runPendingTool executes a rule-triggered tool and records its output as a
// tool message before the model is consulted.
func (r *Router) runPendingTool(rc *core.RunContext, cfg GraphConfig, state *RunState) error {
	name := state.PendingTool
	t, ok := r.tools.Get(name)
	if !ok {
		return fmt.Errorf("run %s: unknown tool %q", state.RunID, name)
	}
	var out any
	err := r.withRetry(rc.Context, cfg, "tool", name, func(ctx context.Context) error {
		var err error
		out, err = t.Call(ctx, state.PendingToolArgs)
		return err
	})
	if err != nil {
		return err
	}
	msg, err := rc.AppendMessage(core.Message{
		Source:  name,
		Target:  cfg.GraphID,
		Type:    core.MessageTool,
		Content: fmt.Sprintf("%v", out),
	})
	if err != nil {
		return err
	}
	state.appendMessage(msg)
	state.PendingTool = ""
	state.PendingToolArgs = nil
	return nil
}

// runToolCall executes one model-requested tool and returns the tool-role
// content carrying its response.
func (r *Router) runToolCall(rc *core.RunContext, cfg GraphConfig, state *RunState, call core.FunctionCall, args map[string]any) (core.Content, error) {
	t, ok := r.tools.Get(call.Name)
	if !ok {
		return core.Content{}, fmt.Errorf("run %s: model requested unknown tool %q", state.RunID, call.Name)
	}
	var out any
	err := r.withRetry(rc.Context, cfg, "tool", call.Name, func(ctx context.Context) error {
		var err error
		out, err = t.Call(ctx, args)
		return err
	})
	if err != nil {
		return core.Content{}, err
	}
	msg, err := rc.AppendMessage(core.Message{
		Source:  call.Name,
		Target:  cfg.GraphID,
		Type:    core.MessageTool,
		Content: fmt.Sprintf("%v", out),
	})
	if err != nil {
		return core.Content{}, err
	}
	state.appendMessage(msg)
	return core.Content{
		Role: "tool",
		Parts: []core.Part{core.FunctionResponsePart{
			FunctionResponse: core.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: out,
			},
		}},
	}, nil
}

// fail takes the error edge: the cause is recorded in the state, an error
// checkpoint is written, and the cause is returned for the caller to attach
// to the run.
func (r *Router) fail(rc *core.RunContext, cfg GraphConfig, state *RunState, cause error) error {
	state.Error = cause.Error()
	state.RunStatus = core.RunErrored
	r.logger.Error("router.error",
		"run_id", state.RunID,
		"thread_id", state.ThreadID,
		"error", cause,
	)
	if err := r.transition(rc, cfg, state, StateError); err != nil {
		return err
	}
	return cause
}

// transition moves the machine to next, persists a checkpoint of the new
// state, and emits a transition event. Stability follows the state: only
// done checkpoints are resumable by other runs.
func (r *Router) transition(rc *core.RunContext, cfg GraphConfig, state *RunState, next State) error {
	r.logger.Debug("router.transition",
		"run_id", state.RunID,
		"from", string(state.Status),
		"to", string(next),
	)
	state.Status = next
	if next == StateDone {
		state.RunStatus = core.RunCompleted
	}
	if err := r.checkpoint(rc, cfg, state, next == StateDone); err != nil {
		return err
	}
	return rc.EmitEvent(core.NewTransitionEvent(state.RunID, state.ThreadID, string(next)))
}

func (r *Router) checkpoint(rc *core.RunContext, cfg GraphConfig, state *RunState, stable bool) error {
	data, err := state.snapshot()
	if err != nil {
		return err
	}
	meta := core.Metadata{
		ParentRunID: state.ParentRunID,
		Status:      string(state.RunStatus),
		Extra:       map[string]any{"state": string(state.Status), "run_id": state.RunID},
	}
	if state.Error != "" {
		meta.Extra["error"] = state.Error
	}
	cpType := core.CheckpointAuto
	if stable {
		cpType = core.CheckpointFinal
	}
	id, err := rc.Checkpoints.Save(rc.Context, core.Checkpoint{
		GraphID:        cfg.GraphID,
		ConversationID: state.ThreadID,
		StateData:      data,
		Summary:        state.summary(),
		Type:           cpType,
		IsStable:       stable,
		Metadata:       meta,
	})
	if err != nil {
		return err
	}
	if err := rc.Graphs.SetLastCheckpoint(rc.Context, cfg.GraphID, id); err != nil {
		// The back-reference is best effort; unregistered graphs still run.
		r.logger.Debug("router.checkpoint.backref", "graph_id", cfg.GraphID, "error", err)
	}
	return nil
}

// withRetry runs fn up to cfg.MaxRetries times with exponential backoff,
// wrapping the last failure in an InvocationError. Cancellation wins over
// further attempts.
func (r *Router) withRetry(ctx context.Context, cfg GraphConfig, kind, name string, fn func(context.Context) error) error {
	backoff := cfg.BaseBackoff
	var last *core.InvocationError
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		last = &core.InvocationError{Kind: kind, Name: name, Attempt: attempt, Cause: err}
		r.logger.Warn("router.invoke.retry",
			"kind", kind,
			"name", name,
			"attempt", attempt,
			"error", err,
		)
		if attempt < cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return last
}

func (r *Router) renderInstructions(cfg GraphConfig, state *RunState) (string, error) {
	if cfg.Instructions == "" {
		return "", nil
	}
	return util.RenderTemplate(cfg.Instructions, map[string]any{
		"graph_id":  cfg.GraphID,
		"sender":    state.Sender,
		"task":      state.Task,
		"target":    state.Target,
		"responses": state.Responses,
	})
}

// contentsFrom renders the run's message view as model input. Messages
// authored by this graph read as assistant turns, everything else as
// context from the user side.
func contentsFrom(graphID string, messages []core.Message) []core.Content {
	out := make([]core.Content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		switch m.Type {
		case core.MessageAgent:
			if m.Source == graphID {
				role = "assistant"
			}
		case core.MessageSystem:
			role = "system"
		case core.MessageTool:
			// Rendered as observed context rather than a provider tool
			// turn; tool turns inside a respond round carry the real
			// FunctionResponsePart.
			out = append(out, core.TextContent("user", fmt.Sprintf("[%s] %s", m.Source, m.Content)))
			continue
		}
		out = append(out, core.TextContent(role, m.Content))
	}
	return out
}

func decodeCallArguments(call core.FunctionCall) (map[string]any, error) {
	args := map[string]any{}
	if call.Arguments == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return nil, fmt.Errorf("decode arguments of tool call %q: %w", call.Name, err)
	}
	return args, nil
}
