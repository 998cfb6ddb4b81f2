package core

import (
	"context"
	"time"
)

// MessageType categorizes the author of a message.
type MessageType string

const (
	// MessageHuman is an utterance from the end user.
	MessageHuman MessageType = "human"
	// MessageAgent is an utterance produced by an agent/graph.
	MessageAgent MessageType = "agent"
	// MessageTool is the output of a tool invocation.
	MessageTool MessageType = "tool"
	// MessageSystem is system/control text.
	MessageSystem MessageType = "system"
)

// Message is one exchanged utterance. Within a thread, messages are totally
// ordered by LogicalTS, a deterministic per-thread sequence independent of
// wall-clock time so replay reproduces the same order.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	ThreadID  string      `json:"thread_id"`
	RunID     string      `json:"run_id"`
	Source    string      `json:"source"`
	Target    string      `json:"target"`
	Type      MessageType `json:"message_type"`
	Content   string      `json:"content"`
	Embedding []float32   `json:"embedding,omitempty"`
	Metadata  Metadata    `json:"metadata,omitempty"`
	LogicalTS int64       `json:"logical_ts"`
	CreatedAt time.Time   `json:"created_at"`
}

// ScoredMessage pairs a message with its similarity to a search query.
type ScoredMessage struct {
	Message    Message `json:"message"`
	Similarity float64 `json:"similarity"`
}

// MessageIterator walks a thread's log lazily. Next returns false once the
// sequence captured at Read time is exhausted or an error occurred; Err
// reports the terminal error, if any.
type MessageIterator interface {
	Next() (Message, bool)
	Err() error
}

// MessageSearch are the parameters of a semantic search over the log.
type MessageSearch struct {
	QueryEmbedding []float32
	K              int
	// SimilarityThreshold discards matches scoring below it. Zero keeps all.
	SimilarityThreshold float64
	// Filter is matched by structural containment against message metadata.
	Filter map[string]any
	// ThreadID optionally restricts the search to one thread.
	ThreadID string
}

// MessageLog is the append-only, per-thread ordered record of exchanged
// messages.
type MessageLog interface {
	// Append persists msg and returns its id. A message whose LogicalTS is
	// not strictly greater than the last appended timestamp for its thread
	// is rejected with *OrderingError.
	Append(ctx context.Context, msg Message) (string, error)
	// Read returns an iterator over the thread's messages with
	// LogicalTS > since, in ascending order. The iterator is bounded by the
	// log length at call time; call Read again to observe later appends.
	Read(ctx context.Context, threadID string, since int64) (MessageIterator, error)
	// NextTimestamp returns the next free logical timestamp for a thread
	// (last appended + 1, starting at 1).
	NextTimestamp(ctx context.Context, threadID string) (int64, error)
	// Search ranks messages by cosine similarity to the query embedding,
	// restricted to rows whose metadata contains the filter.
	Search(ctx context.Context, q MessageSearch) ([]ScoredMessage, error)
}
