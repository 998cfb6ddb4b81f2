package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/swarmgraph/swarmgraph/core"
)

// Put inserts or replaces the metadata for g.GraphID, preserving the
// original creation time on replace.
func (r *GraphStore) Put(ctx context.Context, g core.GraphMetadata) error {
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	var config sql.NullString
	if len(g.Config) > 0 {
		config = sql.NullString{String: string(g.Config), Valid: true}
	}
	var lastCP sql.NullString
	if g.LastCheckpointID != "" {
		lastCP = sql.NullString{String: g.LastCheckpointID, Valid: true}
	}
	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO graphs (graph_id, graph_type, config, last_checkpoint_id, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(graph_id) DO UPDATE SET
			graph_type = excluded.graph_type,
			config = excluded.config,
			last_checkpoint_id = excluded.last_checkpoint_id,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		g.GraphID, g.GraphType, config, lastCP, g.IsActive, g.CreatedAt, g.UpdatedAt)
	return err
}

// Get retrieves the metadata for graphID.
func (r *GraphStore) Get(ctx context.Context, graphID string) (core.GraphMetadata, error) {
	row := r.s.db.QueryRowContext(ctx,
		`SELECT graph_id, graph_type, config, last_checkpoint_id, is_active, created_at, updated_at
		 FROM graphs WHERE graph_id = ?`, graphID)
	g, err := scanGraph(row)
	if err == sql.ErrNoRows {
		return core.GraphMetadata{}, &core.NotFoundError{Entity: "graph", ID: graphID}
	}
	return g, err
}

// List returns graphs matching every key in filter, ordered by graph id.
func (r *GraphStore) List(ctx context.Context, filter map[string]any) ([]core.GraphMetadata, error) {
	query := `SELECT graph_id, graph_type, config, last_checkpoint_id, is_active, created_at, updated_at FROM graphs WHERE 1=1`
	args := []any{}
	for k, v := range filter {
		switch k {
		case "graph_type":
			query += ` AND graph_type = ?`
			args = append(args, v)
		case "is_active":
			query += ` AND is_active = ?`
			args = append(args, v)
		}
	}
	query += ` ORDER BY graph_id ASC`

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.GraphMetadata
	for rows.Next() {
		g, err := scanGraph(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// SetLastCheckpoint updates the weak checkpoint back-reference.
func (r *GraphStore) SetLastCheckpoint(ctx context.Context, graphID, checkpointID string) error {
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE graphs SET last_checkpoint_id = ?, updated_at = ? WHERE graph_id = ?`,
		checkpointID, time.Now().UTC(), graphID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Entity: "graph", ID: graphID}
	}
	return nil
}

// SetActive flips the active flag for graphID.
func (r *GraphStore) SetActive(ctx context.Context, graphID string, active bool) error {
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE graphs SET is_active = ?, updated_at = ? WHERE graph_id = ?`,
		active, time.Now().UTC(), graphID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Entity: "graph", ID: graphID}
	}
	return nil
}

func scanGraph(row rowScanner) (core.GraphMetadata, error) {
	var g core.GraphMetadata
	var config, lastCP sql.NullString
	if err := row.Scan(&g.GraphID, &g.GraphType, &config, &lastCP, &g.IsActive, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return core.GraphMetadata{}, err
	}
	if config.Valid {
		g.Config = []byte(config.String)
	}
	if lastCP.Valid {
		g.LastCheckpointID = lastCP.String
	}
	return g, nil
}
