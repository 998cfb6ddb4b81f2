package messagelog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/embedding"
	"github.com/swarmgraph/swarmgraph/logging"
)

// Options holds dependency + configuration overrides passed to NewInMemoryLog.
type Options struct {
	// Embedder, when set, embeds message content at append time so the
	// message becomes searchable without a separate indexing pass.
	Embedder embedding.Embedder
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// InMemoryLog is a volatile MessageLog implementation. Messages are held in
// per-thread slices ordered by logical timestamp. Safe for concurrent use;
// appends to different threads never contend beyond the map lock.
type InMemoryLog struct {
	mu       sync.RWMutex
	threads  map[string][]core.Message
	embedder embedding.Embedder
	logger   logging.Logger
}

// NewInMemoryLog constructs an empty in-memory message log.
func NewInMemoryLog(optFns ...func(o *Options)) *InMemoryLog {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryLog{
		threads:  make(map[string][]core.Message),
		embedder: opts.Embedder,
		logger:   opts.Logger,
	}
}

// Append persists msg and returns its id. The message's LogicalTS must be
// strictly greater than the last appended timestamp for its thread.
func (l *InMemoryLog) Append(ctx context.Context, msg core.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Embedding == nil && l.embedder != nil && msg.Content != "" {
		emb, err := l.embedder.Embed(ctx, msg.Content)
		if err != nil {
			// Embedding is best-effort at append time; the message remains
			// retrievable by Read even when the embedder is unavailable.
			l.logger.Warn("messagelog.embed.failed", "thread_id", msg.ThreadID, "error", err)
		} else {
			msg.Embedding = emb
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	log := l.threads[msg.ThreadID]
	if n := len(log); n > 0 && msg.LogicalTS <= log[n-1].LogicalTS {
		return "", &core.OrderingError{ThreadID: msg.ThreadID, LogicalTS: msg.LogicalTS, Last: log[n-1].LogicalTS}
	}
	l.threads[msg.ThreadID] = append(log, msg)
	l.logger.Debug("messagelog.append", "message_id", msg.ID, "thread_id", msg.ThreadID, "ts", msg.LogicalTS)
	return msg.ID, nil
}

// NextTimestamp returns the next free logical timestamp for a thread.
func (l *InMemoryLog) NextTimestamp(_ context.Context, threadID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	log := l.threads[threadID]
	if len(log) == 0 {
		return 1, nil
	}
	return log[len(log)-1].LogicalTS + 1, nil
}

// Read returns an iterator over the thread's messages with LogicalTS >
// since. The iterator walks a snapshot taken at call time, so it is finite
// and unaffected by concurrent appends; calling Read again restarts from
// any offset.
func (l *InMemoryLog) Read(_ context.Context, threadID string, since int64) (core.MessageIterator, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	log := l.threads[threadID]
	// Logs are ordered, so the first qualifying index can be bisected.
	start := sort.Search(len(log), func(i int) bool { return log[i].LogicalTS > since })
	snapshot := make([]core.Message, len(log)-start)
	copy(snapshot, log[start:])
	return &sliceIterator{messages: snapshot}, nil
}

// Search ranks messages by cosine similarity to the query embedding.
func (l *InMemoryLog) Search(_ context.Context, q core.MessageSearch) ([]core.ScoredMessage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var scored []core.ScoredMessage
	scan := func(msgs []core.Message) {
		for _, m := range msgs {
			if len(m.Embedding) == 0 {
				continue
			}
			if !m.Metadata.Contains(q.Filter) {
				continue
			}
			sim := core.CosineSimilarity(q.QueryEmbedding, m.Embedding)
			if q.SimilarityThreshold > 0 && sim < q.SimilarityThreshold {
				continue
			}
			scored = append(scored, core.ScoredMessage{Message: m, Similarity: sim})
		}
	}
	if q.ThreadID != "" {
		scan(l.threads[q.ThreadID])
	} else {
		for _, msgs := range l.threads {
			scan(msgs)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Message.CreatedAt.After(scored[j].Message.CreatedAt)
	})
	if q.K > 0 && len(scored) > q.K {
		scored = scored[:q.K]
	}
	return scored, nil
}

// sliceIterator walks a snapshot of a thread's log.
type sliceIterator struct {
	messages []core.Message
	pos      int
}

// Next returns the next message in the snapshot.
func (it *sliceIterator) Next() (core.Message, bool) {
	if it.pos >= len(it.messages) {
		return core.Message{}, false
	}
	m := it.messages[it.pos]
	it.pos++
	return m, true
}

// Err always returns nil for the in-memory iterator.
func (it *sliceIterator) Err() error { return nil }
