// Package swarmgraph provides a high-level façade over the runner and its
// backing stores for building multi-agent conversational systems. Most
// applications interact with this package by:
//  1. Creating a SwarmGraph via New() around a model (optionally overriding
//     the default in-memory stores)
//  2. Registering graph configurations and tools
//  3. Starting runs asynchronously (Run) or synchronously (RunSync)
//
// All defaults are safe for local development and testing; production
// deployments typically supply the sqlite-backed store and a structured
// logger.
package swarmgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/logging"
	"github.com/swarmgraph/swarmgraph/model"
	"github.com/swarmgraph/swarmgraph/router"
	"github.com/swarmgraph/swarmgraph/runner"
	"github.com/swarmgraph/swarmgraph/tool"
)

// Options configures the SwarmGraph instance.
type Options struct {
	// Stores (default to in-memory implementations if not provided).
	Hierarchy   core.HierarchyManager
	Log         core.MessageLog
	Checkpoints core.CheckpointStore
	Graphs      core.GraphStore

	// Tools shared by all graph configurations.
	Tools *tool.Registry

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// SwarmGraph is the high-level façade aggregating the runner and stores.
type SwarmGraph struct {
	runner *runner.Runner
	graphs core.GraphStore
}

// New creates a SwarmGraph around the given model with optional overrides.
func New(m model.Model, optFns ...func(o *Options)) *SwarmGraph {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := runner.New(m, func(o *runner.Options) {
		o.Hierarchy = opts.Hierarchy
		o.Log = opts.Log
		o.Checkpoints = opts.Checkpoints
		o.Graphs = opts.Graphs
		o.Tools = opts.Tools
		o.Logger = opts.Logger
	})
	return &SwarmGraph{runner: r, graphs: graphsOf(r, opts)}
}

func graphsOf(r *runner.Runner, opts Options) core.GraphStore {
	if opts.Graphs != nil {
		return opts.Graphs
	}
	return r.Graphs()
}

// RegisterGraph stores a graph's routing configuration in the registry.
func (s *SwarmGraph) RegisterGraph(ctx context.Context, cfg router.GraphConfig) error {
	if cfg.GraphID == "" {
		return fmt.Errorf("graph config requires a graph id")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode graph config: %w", err)
	}
	return s.graphs.Put(ctx, core.GraphMetadata{
		GraphID:   cfg.GraphID,
		GraphType: "router",
		Config:    raw,
		IsActive:  true,
	})
}

// Hierarchy exposes the run/thread hierarchy manager.
func (s *SwarmGraph) Hierarchy() core.HierarchyManager { return s.runner.Hierarchy() }

// Log exposes the message log, e.g. for mounting the api query surface.
func (s *SwarmGraph) Log() core.MessageLog { return s.runner.Log() }

// Checkpoints exposes the checkpoint store.
func (s *SwarmGraph) Checkpoints() core.CheckpointStore { return s.runner.Checkpoints() }

// Graphs exposes the graph registry.
func (s *SwarmGraph) Graphs() core.GraphStore { return s.graphs }

// Run starts an asynchronous run returning event and error channels.
func (s *SwarmGraph) Run(
	ctx context.Context,
	graphID, sessionID, threadID, input string,
) (string, <-chan core.Event, <-chan error, error) {
	return s.runner.Run(ctx, graphID, sessionID, threadID, input)
}

// Resume starts a run continuing from the thread's latest stable checkpoint.
func (s *SwarmGraph) Resume(
	ctx context.Context,
	graphID, threadID, input string,
) (string, <-chan core.Event, <-chan error, error) {
	return s.runner.Resume(ctx, graphID, threadID, input)
}

// Cancel aborts a running run by id.
func (s *SwarmGraph) Cancel(runID string) error { return s.runner.Cancel(runID) }

// RunSync is a synchronous helper that drains the async channels,
// accumulates events and returns the run id alongside the final answer
// taken from the last agent message.
func (s *SwarmGraph) RunSync(
	ctx context.Context,
	graphID, sessionID, threadID, input string,
) (string, []core.Event, error) {
	runID, eventsCh, errorsCh, err := s.runner.Run(ctx, graphID, sessionID, threadID, input)
	if err != nil {
		return "", nil, err
	}

	var events []core.Event
	for {
		select {
		case <-ctx.Done():
			return runID, events, ctx.Err()
		case event, ok := <-eventsCh:
			if !ok {
				select {
				case err := <-errorsCh:
					return runID, events, err
				default:
					return runID, events, nil
				}
			}
			events = append(events, event)
		case err := <-errorsCh:
			if err != nil {
				return runID, events, err
			}
		}
	}
}
