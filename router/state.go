package router

import (
	"encoding/json"
	"fmt"

	"github.com/swarmgraph/swarmgraph/core"
)

// State identifies a node of the run state machine.
type State string

const (
	StateReceive       State = "receive"
	StateRoute         State = "route"
	StateDelegate      State = "delegate"
	StateAwaitSubgraph State = "await_subgraph"
	StateRespond       State = "respond"
	StateDone          State = "done"
	StateError         State = "error"
)

// Terminal reports whether the state ends the machine.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// RunState is the full working state of one run. It is the payload
// checkpointed after every transition, so a run can be resumed from any
// checkpoint by unmarshaling this struct and re-entering the machine.
type RunState struct {
	SessionID   string `json:"session_id"`
	ThreadID    string `json:"thread_id"`
	RunID       string `json:"run_id"`
	ParentRunID string `json:"parent_run_id,omitempty"`

	// Messages is the run's view of the conversation, in logical
	// timestamp order. LastTS is the high-water mark of log consumption.
	Messages []core.Message `json:"messages"`
	LastTS   int64          `json:"last_ts"`

	// Responses accumulates per-agent answers, keyed by agent name.
	// Merging a subgraph result unions the child's map in, child wins.
	Responses map[string]string `json:"responses"`

	Sender  string `json:"sender,omitempty"`
	Target  string `json:"target,omitempty"`
	Task    string `json:"task,omitempty"`
	Content string `json:"content,omitempty"`

	PendingTool     string         `json:"pending_tool,omitempty"`
	PendingToolArgs map[string]any `json:"pending_tool_args,omitempty"`

	Metadata core.Metadata `json:"metadata,omitempty"`

	Status    State          `json:"status"`
	RunStatus core.RunStatus `json:"run_status"`
	Error     string         `json:"error,omitempty"`
}

// NewRunState seeds the state for a fresh run in the receive state.
func NewRunState(rc *core.RunContext) *RunState {
	return &RunState{
		SessionID:   rc.SessionID,
		ThreadID:    rc.ThreadID,
		RunID:       rc.RunID,
		ParentRunID: rc.ParentRunID,
		Responses:   map[string]string{},
		Metadata:    core.Metadata{},
		Status:      StateReceive,
		RunStatus:   core.RunActive,
	}
}

// StateFromCheckpoint restores a run state from a checkpoint's state data.
func StateFromCheckpoint(cp core.Checkpoint) (*RunState, error) {
	var s RunState
	if err := json.Unmarshal(cp.StateData, &s); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s state: %w", cp.ID, err)
	}
	if s.Responses == nil {
		s.Responses = map[string]string{}
	}
	return &s, nil
}

func (s *RunState) appendMessage(msg core.Message) {
	s.Messages = append(s.Messages, msg)
	if msg.LogicalTS > s.LastTS {
		s.LastTS = msg.LogicalTS
	}
}

func (s *RunState) lastMessage() (core.Message, bool) {
	if len(s.Messages) == 0 {
		return core.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// merge folds a completed subgraph result into the parent state: messages
// append, responses union with the child winning on key conflicts.
func (s *RunState) merge(messages []core.Message, responses map[string]string) {
	for _, msg := range messages {
		s.Messages = append(s.Messages, msg)
		if msg.ThreadID == s.ThreadID && msg.LogicalTS > s.LastTS {
			s.LastTS = msg.LogicalTS
		}
	}
	for agent, text := range responses {
		s.Responses[agent] = text
	}
}

func (s *RunState) snapshot() (json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode run state: %w", err)
	}
	return data, nil
}

// summary is the vector-searchable digest stored with each checkpoint.
func (s *RunState) summary() string {
	text := s.Content
	if text == "" {
		if last, ok := s.lastMessage(); ok {
			text = last.Content
		}
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return fmt.Sprintf("[%s] %s", s.Status, text)
}
