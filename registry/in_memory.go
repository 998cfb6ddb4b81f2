package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/swarmgraph/swarmgraph/core"
)

// InMemoryStore is a volatile GraphStore. Safe for concurrent use.
type InMemoryStore struct {
	mu     sync.RWMutex
	graphs map[string]core.GraphMetadata
}

// NewInMemoryStore constructs an empty in-memory graph registry.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{graphs: make(map[string]core.GraphMetadata)}
}

// Put inserts or replaces the metadata for g.GraphID.
func (s *InMemoryStore) Put(_ context.Context, g core.GraphMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.graphs[g.GraphID]; ok {
		g.CreatedAt = existing.CreatedAt
	} else if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	s.graphs[g.GraphID] = g
	return nil
}

// Get returns the metadata for graphID.
func (s *InMemoryStore) Get(_ context.Context, graphID string) (core.GraphMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[graphID]
	if !ok {
		return core.GraphMetadata{}, &core.NotFoundError{Entity: "graph", ID: graphID}
	}
	return g, nil
}

// List returns graphs matching every key in filter, ordered by graph id.
func (s *InMemoryStore) List(_ context.Context, filter map[string]any) ([]core.GraphMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.GraphMetadata
	for _, g := range s.graphs {
		if matches(g, filter) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GraphID < out[j].GraphID })
	return out, nil
}

func matches(g core.GraphMetadata, filter map[string]any) bool {
	for k, want := range filter {
		switch k {
		case "graph_type":
			if s, ok := want.(string); !ok || g.GraphType != s {
				return false
			}
		case "is_active":
			if b, ok := want.(bool); !ok || g.IsActive != b {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// SetLastCheckpoint updates the weak checkpoint back-reference.
func (s *InMemoryStore) SetLastCheckpoint(_ context.Context, graphID, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[graphID]
	if !ok {
		return &core.NotFoundError{Entity: "graph", ID: graphID}
	}
	g.LastCheckpointID = checkpointID
	g.UpdatedAt = time.Now().UTC()
	s.graphs[graphID] = g
	return nil
}

// SetActive flips the active flag for graphID.
func (s *InMemoryStore) SetActive(_ context.Context, graphID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[graphID]
	if !ok {
		return &core.NotFoundError{Entity: "graph", ID: graphID}
	}
	g.IsActive = active
	g.UpdatedAt = time.Now().UTC()
	s.graphs[graphID] = g
	return nil
}
