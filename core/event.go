package core

import "time"

// EventType categorizes run lifecycle events emitted to callers.
type EventType string

const (
	// EventTransition announces the router entering a new state.
	EventTransition EventType = "transition"
	// EventMessage carries a persisted message.
	EventMessage EventType = "message"
	// EventRunFinished announces a run reaching a terminal status.
	EventRunFinished EventType = "run_finished"
)

// Event is the unit of observation streamed by a Runner while a run
// executes. After emission it should be treated as immutable.
type Event struct {
	ID       string    `json:"id"`
	RunID    string    `json:"run_id"`
	ThreadID string    `json:"thread_id"`
	Type     EventType `json:"type"`
	// State carries the router state label for transition events and the
	// terminal run status for run_finished events.
	State        string    `json:"state,omitempty"`
	Message      *Message  `json:"message,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewEvent creates a bare event bound to a run and thread.
func NewEvent(runID, threadID string, typ EventType) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		ThreadID:  threadID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransitionEvent announces the router entering state.
func NewTransitionEvent(runID, threadID, state string) Event {
	e := NewEvent(runID, threadID, EventTransition)
	e.State = state
	return e
}

// NewMessageEvent wraps a persisted message.
func NewMessageEvent(msg Message) Event {
	e := NewEvent(msg.RunID, msg.ThreadID, EventMessage)
	e.Message = &msg
	return e
}
