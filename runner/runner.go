package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/swarmgraph/swarmgraph/checkpoint"
	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/hierarchy"
	"github.com/swarmgraph/swarmgraph/logging"
	"github.com/swarmgraph/swarmgraph/messagelog"
	"github.com/swarmgraph/swarmgraph/model"
	"github.com/swarmgraph/swarmgraph/registry"
	"github.com/swarmgraph/swarmgraph/router"
	"github.com/swarmgraph/swarmgraph/subgraph"
	"github.com/swarmgraph/swarmgraph/tool"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// EventBufferSize sets channel buffering for streamed events.
	EventBufferSize int
	// SubgraphMaxDepth bounds nested delegation.
	SubgraphMaxDepth int
	// SubgraphTimeout bounds how long a parent awaits one child run.
	SubgraphTimeout time.Duration
	// MaxToolRounds bounds the tool-call loop of one respond state.
	MaxToolRounds int

	Hierarchy   core.HierarchyManager
	Log         core.MessageLog
	Checkpoints core.CheckpointStore
	Graphs      core.GraphStore
	Tools       *tool.Registry
	Logger      logging.Logger
}

// Runner coordinates run execution: it resolves graph configurations,
// opens run rows, streams events, drives the router to a terminal state and
// records that state on the run. Public methods are safe for concurrent use.
type Runner struct {
	router  *router.Router
	invoker *subgraph.Invoker

	eventBufferSize int

	hierarchy   core.HierarchyManager
	log         core.MessageLog
	checkpoints core.CheckpointStore
	graphs      core.GraphStore
	logger      logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// graphExecutor defers to the runner's router so the invoker and the router
// can reference each other without a construction cycle.
type graphExecutor struct {
	r *Runner
}

func (e *graphExecutor) Execute(rc *core.RunContext, payload subgraph.InitialPayload) (subgraph.RunResult, error) {
	return router.NewGraphExecutor(e.r.router).Execute(rc, payload)
}

// New constructs a Runner around the given model with optional overrides.
// Omitted stores default to their in-memory implementations.
func New(m model.Model, optFns ...func(o *Options)) *Runner {
	opts := Options{
		EventBufferSize:  100,
		SubgraphMaxDepth: subgraph.DefaultMaxDepth,
		SubgraphTimeout:  subgraph.DefaultTimeout,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Hierarchy == nil {
		opts.Hierarchy = hierarchy.NewManager()
	}
	if opts.Log == nil {
		opts.Log = messagelog.NewInMemoryLog()
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = checkpoint.NewInMemoryStore()
	}
	if opts.Graphs == nil {
		opts.Graphs = registry.NewInMemoryStore()
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry(tool.NewDelegateToAgentTool())
	}

	r := &Runner{
		eventBufferSize: opts.EventBufferSize,
		hierarchy:       opts.Hierarchy,
		log:             opts.Log,
		checkpoints:     opts.Checkpoints,
		graphs:          opts.Graphs,
		logger:          opts.Logger,
		activeRuns:      make(map[string]context.CancelFunc),
	}
	r.invoker = subgraph.NewInvoker(&graphExecutor{r: r}, func(o *subgraph.Options) {
		o.MaxDepth = opts.SubgraphMaxDepth
		o.Timeout = opts.SubgraphTimeout
		o.Logger = opts.Logger
	})
	r.router = router.New(m, func(o *router.Options) {
		o.Tools = opts.Tools
		o.Invoker = r.invoker
		o.Logger = opts.Logger
		o.MaxToolRounds = opts.MaxToolRounds
	})
	return r
}

// Run starts an asynchronous run of graphID with input as the inbound user
// message. Empty sessionID or threadID are created on the fly (lazy
// creation on first contact). The returned channels close when the run
// reaches a terminal state.
func (r *Runner) Run(
	ctx context.Context,
	graphID, sessionID, threadID, input string,
) (string, <-chan core.Event, <-chan error, error) {
	return r.start(ctx, graphID, sessionID, threadID, input, nil)
}

// Resume starts a new run that continues a conversation from its latest
// stable checkpoint: the recorded messages and per-agent responses carry
// over, and input becomes the next inbound message.
func (r *Runner) Resume(
	ctx context.Context,
	graphID, threadID, input string,
) (string, <-chan core.Event, <-chan error, error) {
	state, _, err := router.Resume(ctx, r.checkpoints, graphID, threadID)
	if err != nil {
		return "", nil, nil, err
	}
	return r.start(ctx, graphID, state.SessionID, threadID, input, state)
}

func (r *Runner) start(
	ctx context.Context,
	graphID, sessionID, threadID, input string,
	resumed *router.RunState,
) (string, <-chan core.Event, <-chan error, error) {
	var err error
	if sessionID == "" {
		if sessionID, err = r.hierarchy.NewSession(ctx); err != nil {
			return "", nil, nil, fmt.Errorf("create session: %w", err)
		}
	}
	if threadID == "" {
		if threadID, err = r.hierarchy.NewThread(ctx, sessionID, nil); err != nil {
			return "", nil, nil, fmt.Errorf("create thread: %w", err)
		}
	}
	cfg, err := r.graphConfig(ctx, graphID)
	if err != nil {
		return "", nil, nil, err
	}
	runID, err := r.hierarchy.NewRun(ctx, graphID, threadID, nil)
	if err != nil {
		return "", nil, nil, fmt.Errorf("create run: %w", err)
	}

	eventsCh := make(chan core.Event, r.eventBufferSize)
	errorsCh := make(chan error, 1)
	emit := make(chan core.Event, r.eventBufferSize)

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	rc := core.NewRunContext(runCtx, sessionID, threadID, runID, graphID, emit,
		r.hierarchy, r.log, r.checkpoints, r.graphs, r.logger)

	state := router.NewRunState(rc)
	if resumed != nil {
		state.Messages = resumed.Messages
		state.LastTS = resumed.LastTS
		state.Responses = resumed.Responses
		state.Metadata = resumed.Metadata
	}

	// The inbound message is durable before the run goroutine starts, so a
	// crash between the two never loses user input.
	if _, err := rc.AppendMessage(core.Message{
		Source:  "user",
		Target:  graphID,
		Type:    core.MessageHuman,
		Content: input,
	}); err != nil {
		cancel()
		r.removeRun(runID)
		return "", nil, nil, fmt.Errorf("append inbound message: %w", err)
	}

	go func() {
		defer func() {
			close(emit)
			cancel()
			r.removeRun(runID)
		}()
		r.execute(rc, cfg, state, errorsCh)
	}()

	go func() {
		defer func() { close(eventsCh); close(errorsCh) }()
		for ev := range emit {
			select {
			case <-ctx.Done():
				return
			case eventsCh <- ev:
			}
		}
	}()

	return runID, eventsCh, errorsCh, nil
}

// execute drives the router and records the run's terminal status. The
// router owns error checkpoints; the runner owns the run row.
func (r *Runner) execute(rc *core.RunContext, cfg router.GraphConfig, state *router.RunState, errorsCh chan<- error) {
	execErr := r.router.Execute(rc, cfg, state)

	status := core.RunCompleted
	finish := core.NewEvent(rc.RunID, rc.ThreadID, core.EventRunFinished)
	if execErr != nil {
		status = core.RunErrored
		finish.ErrorMessage = execErr.Error()
		if err := r.hierarchy.FailRun(context.Background(), rc.RunID, execErr); err != nil {
			r.logger.Warn("runner.run.fail_status", "run_id", rc.RunID, "error", err)
		}
		select {
		case errorsCh <- execErr:
		default:
		}
	} else if err := r.hierarchy.CompleteRun(context.Background(), rc.RunID); err != nil {
		r.logger.Warn("runner.run.complete_status", "run_id", rc.RunID, "error", err)
	}
	finish.State = string(status)

	r.logger.Info("runner.run.finished",
		"run_id", rc.RunID,
		"thread_id", rc.ThreadID,
		"status", string(status),
	)
	select {
	case <-rc.Context.Done():
	case rc.Emit <- finish:
	default:
	}
}

// Hierarchy exposes the run/thread hierarchy manager.
func (r *Runner) Hierarchy() core.HierarchyManager { return r.hierarchy }

// Log exposes the message log.
func (r *Runner) Log() core.MessageLog { return r.log }

// Checkpoints exposes the checkpoint store.
func (r *Runner) Checkpoints() core.CheckpointStore { return r.checkpoints }

// Graphs exposes the graph registry.
func (r *Runner) Graphs() core.GraphStore { return r.graphs }

// Cancel aborts a running run by id.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[runID]
	r.mu.RUnlock()
	if !exists {
		return &core.NotFoundError{Entity: "run", ID: runID}
	}
	cancel()
	return nil
}

// graphConfig loads the graph's registered configuration; unregistered
// graphs run under a default configuration so ad-hoc graphs still work.
func (r *Runner) graphConfig(ctx context.Context, graphID string) (router.GraphConfig, error) {
	g, err := r.graphs.Get(ctx, graphID)
	if err != nil {
		var notFound *core.NotFoundError
		if errors.As(err, &notFound) {
			cfg, _ := router.ParseConfig(nil)
			cfg.GraphID = graphID
			return cfg, nil
		}
		return router.GraphConfig{}, err
	}
	cfg, err := router.ParseConfig(g.Config)
	if err != nil {
		return router.GraphConfig{}, err
	}
	if cfg.GraphID == "" {
		cfg.GraphID = graphID
	}
	return cfg, nil
}

func (r *Runner) removeRun(runID string) {
	r.mu.Lock()
	delete(r.activeRuns, runID)
	r.mu.Unlock()
}
