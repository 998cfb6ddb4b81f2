package core

import (
	"context"
	"encoding/json"
	"time"
)

// CheckpointType distinguishes best-effort recovery snapshots from
// deliberately taken ones.
type CheckpointType string

const (
	// CheckpointAuto is a best-effort snapshot written after a state
	// transition. Auto checkpoints support crash recovery, not branching.
	CheckpointAuto CheckpointType = "auto"
	// CheckpointFinal is a deliberate terminal snapshot written when a run
	// reaches done. Final checkpoints are the stable resume points.
	CheckpointFinal CheckpointType = "final"
)

// Checkpoint is a durable, versioned snapshot of a run's full state.
// ConversationID is the thread id throughout this codebase: the thread is
// the conversational context a later run resumes, while run ids are
// transient. Versions are monotonically increasing per
// (GraphID, ConversationID) key and only one version is the latest.
type Checkpoint struct {
	ID             string          `json:"id"`
	GraphID        string          `json:"graph_id"`
	ConversationID string          `json:"conversation_id"`
	StateData      json.RawMessage `json:"state_data"`
	Summary        string          `json:"summary,omitempty"`
	Embedding      []float32       `json:"embedding,omitempty"`
	Type           CheckpointType  `json:"checkpoint_type"`
	// IsStable marks the checkpoint as eligible for resumption by other
	// runs. Auto checkpoints are typically unstable.
	IsStable  bool      `json:"is_stable"`
	Version   int64     `json:"version"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoredCheckpoint pairs a checkpoint with its similarity to a search query.
type ScoredCheckpoint struct {
	Checkpoint Checkpoint `json:"checkpoint"`
	Similarity float64    `json:"similarity"`
}

// CheckpointSearch are the parameters of a semantic search over checkpoints.
type CheckpointSearch struct {
	GraphID        string
	QueryEmbedding []float32
	K              int
	Filter         map[string]any
}

// CheckpointStore persists versioned run snapshots.
type CheckpointStore interface {
	// Save upserts cp keyed on (GraphID, ConversationID, Version) and
	// returns the checkpoint id. A zero Version is assigned last+1; an
	// explicit Version that already exists fails with *ConflictError.
	// Save is the only mutator of UpdatedAt and refreshes it atomically
	// with the row write.
	Save(ctx context.Context, cp Checkpoint) (string, error)
	// Get retrieves a checkpoint by id.
	Get(ctx context.Context, id string) (Checkpoint, error)
	// GetLatest returns the highest-version checkpoint for the key, or
	// ok=false when none exists.
	GetLatest(ctx context.Context, graphID, conversationID string) (Checkpoint, bool, error)
	// LatestStable returns the highest-version checkpoint with
	// IsStable=true, the only kind other runs may resume from.
	LatestStable(ctx context.Context, graphID, conversationID string) (Checkpoint, bool, error)
	// Search ranks checkpoints by cosine similarity to the query embedding,
	// restricted to rows whose metadata contains the filter; ties break by
	// most recent CreatedAt.
	Search(ctx context.Context, q CheckpointSearch) ([]ScoredCheckpoint, error)
}
