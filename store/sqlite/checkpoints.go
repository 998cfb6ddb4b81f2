package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/swarmgraph/swarmgraph/core"
)

// Save persists cp, assigning the next version when cp.Version is zero.
func (c *CheckpointStore) Save(ctx context.Context, cp core.Checkpoint) (string, error) {
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
	if cp.Embedding == nil && c.s.embedder != nil && cp.Summary != "" {
		emb, err := c.s.embedder.Embed(ctx, cp.Summary)
		if err != nil {
			c.s.logger.Warn("sqlite.checkpoints.embed.failed", "graph_id", cp.GraphID, "error", err)
		} else {
			cp.Embedding = emb
		}
	}

	embCol, err := encodeVector(cp.Embedding)
	if err != nil {
		return "", err
	}
	metaCol, err := encodeMetadata(cp.Metadata)
	if err != nil {
		return "", err
	}
	stateData := "{}"
	if len(cp.StateData) > 0 {
		stateData = string(cp.StateData)
	}

	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if cp.Version == 0 {
		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(version) FROM graph_checkpoints WHERE graph_id = ? AND conversation_id = ?`,
			cp.GraphID, cp.ConversationID).Scan(&last); err != nil {
			return "", err
		}
		cp.Version = last.Int64 + 1
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO graph_checkpoints (checkpoint_id, graph_id, conversation_id, state_data, summary, embedding, checkpoint_type, is_stable, version, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.GraphID, cp.ConversationID, stateData, cp.Summary, embCol,
		string(cp.Type), cp.IsStable, cp.Version, metaCol, cp.CreatedAt, cp.UpdatedAt)
	if isUniqueViolation(err) {
		return "", &core.ConflictError{
			Entity: "checkpoint",
			Key:    fmt.Sprintf("%s/%s v%d", cp.GraphID, cp.ConversationID, cp.Version),
		}
	}
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return cp.ID, nil
}

const checkpointColumns = `checkpoint_id, graph_id, conversation_id, state_data, summary, embedding, checkpoint_type, is_stable, version, metadata, created_at, updated_at`

// Get retrieves a checkpoint by id.
func (c *CheckpointStore) Get(ctx context.Context, id string) (core.Checkpoint, error) {
	row := c.s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM graph_checkpoints WHERE checkpoint_id = ?`, id)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return core.Checkpoint{}, &core.NotFoundError{Entity: "checkpoint", ID: id}
	}
	return cp, err
}

// GetLatest returns the highest-version checkpoint for the key.
func (c *CheckpointStore) GetLatest(ctx context.Context, graphID, conversationID string) (core.Checkpoint, bool, error) {
	row := c.s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM graph_checkpoints
		 WHERE graph_id = ? AND conversation_id = ? ORDER BY version DESC LIMIT 1`,
		graphID, conversationID)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return core.Checkpoint{}, false, nil
	}
	if err != nil {
		return core.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// LatestStable returns the highest-version stable checkpoint for the key.
func (c *CheckpointStore) LatestStable(ctx context.Context, graphID, conversationID string) (core.Checkpoint, bool, error) {
	row := c.s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM graph_checkpoints
		 WHERE graph_id = ? AND conversation_id = ? AND is_stable = 1 ORDER BY version DESC LIMIT 1`,
		graphID, conversationID)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return core.Checkpoint{}, false, nil
	}
	if err != nil {
		return core.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// Search ranks checkpoints by cosine similarity of their summary embeddings.
func (c *CheckpointStore) Search(ctx context.Context, q core.CheckpointSearch) ([]core.ScoredCheckpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM graph_checkpoints WHERE embedding IS NOT NULL`
	args := []any{}
	if q.GraphID != "" {
		query += ` AND graph_id = ?`
		args = append(args, q.GraphID)
	}

	rows, err := c.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []core.ScoredCheckpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		if !cp.Metadata.Contains(q.Filter) {
			continue
		}
		scored = append(scored, core.ScoredCheckpoint{
			Checkpoint: cp,
			Similarity: core.CosineSimilarity(q.QueryEmbedding, cp.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (core.Checkpoint, error) {
	var cp core.Checkpoint
	var stateData string
	var summary, embCol, metaCol sql.NullString
	if err := row.Scan(&cp.ID, &cp.GraphID, &cp.ConversationID, &stateData, &summary, &embCol,
		&cp.Type, &cp.IsStable, &cp.Version, &metaCol, &cp.CreatedAt, &cp.UpdatedAt); err != nil {
		return core.Checkpoint{}, err
	}
	cp.StateData = []byte(stateData)
	if summary.Valid {
		cp.Summary = summary.String
	}
	emb, err := decodeVector(embCol)
	if err != nil {
		return core.Checkpoint{}, err
	}
	cp.Embedding = emb
	meta, err := decodeMetadata(metaCol)
	if err != nil {
		return core.Checkpoint{}, err
	}
	cp.Metadata = meta
	return cp, nil
}
