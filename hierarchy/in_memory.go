package hierarchy

import (
	"context"
	"sync"
	"time"

	"github.com/swarmgraph/swarmgraph/core"
)

// InMemoryStore is a volatile HierarchyStore implementation storing rows in
// process local maps. It is safe for concurrent access and best suited for
// tests or ephemeral demo setups.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]core.Session
	threads  map[string]core.Thread
	runs     map[string]core.Run
}

// NewInMemoryStore constructs an empty in-memory hierarchy store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]core.Session),
		threads:  make(map[string]core.Thread),
		runs:     make(map[string]core.Run),
	}
}

// CreateSession stores a session row.
func (s *InMemoryStore) CreateSession(_ context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return &core.ConflictError{Entity: "session", Key: sess.ID}
	}
	s.sessions[sess.ID] = sess
	return nil
}

// GetSession returns a session by id.
func (s *InMemoryStore) GetSession(_ context.Context, id string) (core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.Session{}, &core.NotFoundError{Entity: "session", ID: id}
	}
	return sess, nil
}

// CreateThread stores a thread row.
func (s *InMemoryStore) CreateThread(_ context.Context, t core.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.threads[t.ID]; exists {
		return &core.ConflictError{Entity: "thread", Key: t.ID}
	}
	s.threads[t.ID] = t
	return nil
}

// GetThread returns a thread by id.
func (s *InMemoryStore) GetThread(_ context.Context, id string) (core.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return core.Thread{}, &core.NotFoundError{Entity: "thread", ID: id}
	}
	return t, nil
}

// CreateRun stores a run row.
func (s *InMemoryStore) CreateRun(_ context.Context, r core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[r.ID]; exists {
		return &core.ConflictError{Entity: "run", Key: r.ID}
	}
	s.runs[r.ID] = r
	return nil
}

// GetRun returns a run by id.
func (s *InMemoryStore) GetRun(_ context.Context, id string) (core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return core.Run{}, &core.NotFoundError{Entity: "run", ID: id}
	}
	return r, nil
}

// UpdateRunStatus moves a run to status recording the end time for
// terminal states.
func (s *InMemoryStore) UpdateRunStatus(_ context.Context, id string, status core.RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return &core.NotFoundError{Entity: "run", ID: id}
	}
	r.Status = status
	r.Error = errMsg
	if status.Terminal() {
		now := time.Now().UTC()
		r.EndedAt = &now
	}
	s.runs[id] = r
	return nil
}
