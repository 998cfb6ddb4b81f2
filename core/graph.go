package core

import (
	"context"
	"encoding/json"
	"time"
)

// GraphMetadata is the static, configurable description of a graph.
// LastCheckpointID is a weak back-reference maintained for lookup only;
// the checkpoint store owns the checkpoints themselves.
type GraphMetadata struct {
	GraphID          string          `json:"graph_id"`
	GraphType        string          `json:"graph_type"`
	Config           json.RawMessage `json:"config,omitempty"`
	LastCheckpointID string          `json:"last_checkpoint_id,omitempty"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// GraphStore is the registry of graph metadata.
type GraphStore interface {
	Put(ctx context.Context, g GraphMetadata) error
	Get(ctx context.Context, graphID string) (GraphMetadata, error)
	// List returns graphs whose fields match every key in filter
	// (graph_type, is_active). An empty filter returns all graphs.
	List(ctx context.Context, filter map[string]any) ([]GraphMetadata, error)
	// SetLastCheckpoint updates the weak checkpoint back-reference.
	SetLastCheckpoint(ctx context.Context, graphID, checkpointID string) error
	SetActive(ctx context.Context, graphID string, active bool) error
}
