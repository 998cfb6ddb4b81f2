package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/swarmgraph/swarmgraph/core"
)

// Append persists msg. Ordering is enforced inside a transaction so
// concurrent appenders to one thread serialize on the last timestamp.
func (l *MessageLog) Append(ctx context.Context, msg core.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Embedding == nil && l.s.embedder != nil && msg.Content != "" {
		emb, err := l.s.embedder.Embed(ctx, msg.Content)
		if err != nil {
			l.s.logger.Warn("sqlite.messages.embed.failed", "thread_id", msg.ThreadID, "error", err)
		} else {
			msg.Embedding = emb
		}
	}

	embCol, err := encodeVector(msg.Embedding)
	if err != nil {
		return "", err
	}
	metaCol, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return "", err
	}

	tx, err := l.s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(logical_ts) FROM messages WHERE thread_id = ?`,
		msg.ThreadID).Scan(&last); err != nil {
		return "", err
	}
	if last.Valid && msg.LogicalTS <= last.Int64 {
		return "", &core.OrderingError{ThreadID: msg.ThreadID, LogicalTS: msg.LogicalTS, Last: last.Int64}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, thread_id, run_id, source, target, message_type, content, embedding, metadata, logical_ts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.ThreadID, msg.RunID, msg.Source, msg.Target,
		string(msg.Type), msg.Content, embCol, metaCol, msg.LogicalTS, msg.CreatedAt)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// NextTimestamp returns the next free logical timestamp for a thread.
func (l *MessageLog) NextTimestamp(ctx context.Context, threadID string) (int64, error) {
	var last sql.NullInt64
	if err := l.s.db.QueryRowContext(ctx,
		`SELECT MAX(logical_ts) FROM messages WHERE thread_id = ?`,
		threadID).Scan(&last); err != nil {
		return 0, err
	}
	if !last.Valid {
		return 1, nil
	}
	return last.Int64 + 1, nil
}

// Read returns an iterator over the thread's messages with LogicalTS >
// since. Rows are fetched eagerly so the iterator is a stable snapshot.
func (l *MessageLog) Read(ctx context.Context, threadID string, since int64) (core.MessageIterator, error) {
	rows, err := l.s.db.QueryContext(ctx,
		`SELECT message_id, session_id, thread_id, run_id, source, target, message_type, content, embedding, metadata, logical_ts, created_at
		 FROM messages WHERE thread_id = ? AND logical_ts > ? ORDER BY logical_ts ASC`,
		threadID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []core.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &messageIterator{messages: messages}, nil
}

// Search ranks messages by cosine similarity to the query embedding. SQL
// narrows candidates to embedded rows (optionally one thread); metadata
// filtering and scoring happen in process.
func (l *MessageLog) Search(ctx context.Context, q core.MessageSearch) ([]core.ScoredMessage, error) {
	query := `SELECT message_id, session_id, thread_id, run_id, source, target, message_type, content, embedding, metadata, logical_ts, created_at
		 FROM messages WHERE embedding IS NOT NULL`
	args := []any{}
	if q.ThreadID != "" {
		query += ` AND thread_id = ?`
		args = append(args, q.ThreadID)
	}

	rows, err := l.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []core.ScoredMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if !msg.Metadata.Contains(q.Filter) {
			continue
		}
		sim := core.CosineSimilarity(q.QueryEmbedding, msg.Embedding)
		if q.SimilarityThreshold > 0 && sim < q.SimilarityThreshold {
			continue
		}
		scored = append(scored, core.ScoredMessage{Message: msg, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

func scanMessage(rows *sql.Rows) (core.Message, error) {
	var msg core.Message
	var embCol, metaCol sql.NullString
	if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.ThreadID, &msg.RunID, &msg.Source, &msg.Target,
		&msg.Type, &msg.Content, &embCol, &metaCol, &msg.LogicalTS, &msg.CreatedAt); err != nil {
		return core.Message{}, err
	}
	emb, err := decodeVector(embCol)
	if err != nil {
		return core.Message{}, err
	}
	msg.Embedding = emb
	meta, err := decodeMetadata(metaCol)
	if err != nil {
		return core.Message{}, err
	}
	msg.Metadata = meta
	return msg, nil
}

type messageIterator struct {
	messages []core.Message
	pos      int
}

func (it *messageIterator) Next() (core.Message, bool) {
	if it.pos >= len(it.messages) {
		return core.Message{}, false
	}
	m := it.messages[it.pos]
	it.pos++
	return m, true
}

func (it *messageIterator) Err() error { return nil }
