package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/embedding"
	"github.com/swarmgraph/swarmgraph/logging"
)

// Options holds dependency overrides passed to NewInMemoryStore.
type Options struct {
	// Embedder, when set, embeds checkpoint summaries at save time.
	Embedder embedding.Embedder
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// InMemoryStore is a volatile CheckpointStore. Checkpoints are grouped per
// (graph, conversation) key in version order. Safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	byKey    map[string][]core.Checkpoint
	byID     map[string]core.Checkpoint
	embedder embedding.Embedder
	logger   logging.Logger
}

// NewInMemoryStore constructs an empty in-memory checkpoint store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		byKey:    make(map[string][]core.Checkpoint),
		byID:     make(map[string]core.Checkpoint),
		embedder: opts.Embedder,
		logger:   opts.Logger,
	}
}

func key(graphID, conversationID string) string {
	return graphID + "\x00" + conversationID
}

// Save persists cp and returns its id. A zero Version is assigned the next
// version for the (graph, conversation) pair; an explicit Version that
// already exists fails with ConflictError.
func (s *InMemoryStore) Save(ctx context.Context, cp core.Checkpoint) (string, error) {
	if cp.GraphID == "" || cp.ConversationID == "" {
		return "", fmt.Errorf("checkpoint requires graph_id and conversation_id")
	}
	if cp.ID == "" {
		cp.ID = core.NewID()
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.Type == "" {
		cp.Type = core.CheckpointAuto
	}
	if cp.Embedding == nil && s.embedder != nil && cp.Summary != "" {
		emb, err := s.embedder.Embed(ctx, cp.Summary)
		if err != nil {
			s.logger.Warn("checkpoint.embed.failed", "graph_id", cp.GraphID, "error", err)
		} else {
			cp.Embedding = emb
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(cp.GraphID, cp.ConversationID)
	chain := s.byKey[k]
	if cp.Version == 0 {
		if len(chain) == 0 {
			cp.Version = 1
		} else {
			cp.Version = chain[len(chain)-1].Version + 1
		}
	} else {
		for _, existing := range chain {
			if existing.Version == cp.Version {
				return "", &core.ConflictError{
					Entity: "checkpoint",
					Key:    fmt.Sprintf("%s/%s v%d", cp.GraphID, cp.ConversationID, cp.Version),
				}
			}
		}
	}
	s.byKey[k] = insertByVersion(chain, cp)
	s.byID[cp.ID] = cp
	s.logger.Debug("checkpoint.save", "checkpoint_id", cp.ID, "graph_id", cp.GraphID, "version", cp.Version, "stable", cp.IsStable)
	return cp.ID, nil
}

func insertByVersion(chain []core.Checkpoint, cp core.Checkpoint) []core.Checkpoint {
	i := sort.Search(len(chain), func(i int) bool { return chain[i].Version > cp.Version })
	chain = append(chain, core.Checkpoint{})
	copy(chain[i+1:], chain[i:])
	chain[i] = cp
	return chain
}

// Get returns the checkpoint with the given id.
func (s *InMemoryStore) Get(_ context.Context, id string) (core.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byID[id]
	if !ok {
		return core.Checkpoint{}, &core.NotFoundError{Entity: "checkpoint", ID: id}
	}
	return cp, nil
}

// GetLatest returns the highest-version checkpoint for the pair.
func (s *InMemoryStore) GetLatest(_ context.Context, graphID, conversationID string) (core.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.byKey[key(graphID, conversationID)]
	if len(chain) == 0 {
		return core.Checkpoint{}, false, nil
	}
	return chain[len(chain)-1], true, nil
}

// LatestStable returns the highest-version stable checkpoint for the pair.
// Later unstable checkpoints do not shadow it.
func (s *InMemoryStore) LatestStable(_ context.Context, graphID, conversationID string) (core.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.byKey[key(graphID, conversationID)]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].IsStable {
			return chain[i], true, nil
		}
	}
	return core.Checkpoint{}, false, nil
}

// Search ranks checkpoints by cosine similarity of their summary embeddings.
func (s *InMemoryStore) Search(_ context.Context, q core.CheckpointSearch) ([]core.ScoredCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []core.ScoredCheckpoint
	for _, cp := range s.byID {
		if q.GraphID != "" && cp.GraphID != q.GraphID {
			continue
		}
		if len(cp.Embedding) == 0 {
			continue
		}
		if !cp.Metadata.Contains(q.Filter) {
			continue
		}
		scored = append(scored, core.ScoredCheckpoint{
			Checkpoint: cp,
			Similarity: core.CosineSimilarity(q.QueryEmbedding, cp.Embedding),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Checkpoint.CreatedAt.After(scored[j].Checkpoint.CreatedAt)
	})
	if q.K > 0 && len(scored) > q.K {
		scored = scored[:q.K]
	}
	return scored, nil
}
