package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/swarmgraph/swarmgraph/core"
)

// CreateSession inserts a session row.
func (h *HierarchyStore) CreateSession(ctx context.Context, sess core.Session) error {
	_, err := h.s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at) VALUES (?, ?)`,
		sess.ID, sess.CreatedAt)
	if isUniqueViolation(err) {
		return &core.ConflictError{Entity: "session", Key: sess.ID}
	}
	return err
}

// GetSession retrieves a session by id.
func (h *HierarchyStore) GetSession(ctx context.Context, id string) (core.Session, error) {
	var sess core.Session
	err := h.s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at FROM sessions WHERE session_id = ?`,
		id).Scan(&sess.ID, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return core.Session{}, &core.NotFoundError{Entity: "session", ID: id}
	}
	return sess, err
}

// CreateThread inserts a thread row.
func (h *HierarchyStore) CreateThread(ctx context.Context, t core.Thread) error {
	_, err := h.s.db.ExecContext(ctx,
		`INSERT INTO threads (thread_id, session_id, parent_thread_id, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.SessionID, nullStrPtr(t.ParentThreadID), t.CreatedAt)
	if isUniqueViolation(err) {
		return &core.ConflictError{Entity: "thread", Key: t.ID}
	}
	return err
}

// GetThread retrieves a thread by id.
func (h *HierarchyStore) GetThread(ctx context.Context, id string) (core.Thread, error) {
	var t core.Thread
	var parent sql.NullString
	err := h.s.db.QueryRowContext(ctx,
		`SELECT thread_id, session_id, parent_thread_id, created_at FROM threads WHERE thread_id = ?`,
		id).Scan(&t.ID, &t.SessionID, &parent, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return core.Thread{}, &core.NotFoundError{Entity: "thread", ID: id}
	}
	if err != nil {
		return core.Thread{}, err
	}
	if parent.Valid {
		t.ParentThreadID = &parent.String
	}
	return t, nil
}

// CreateRun inserts a run row.
func (h *HierarchyStore) CreateRun(ctx context.Context, r core.Run) error {
	_, err := h.s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, parent_run_id, graph_id, thread_id, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, nullStrPtr(r.ParentRunID), r.GraphID, r.ThreadID, string(r.Status), r.StartedAt)
	if isUniqueViolation(err) {
		return &core.ConflictError{Entity: "run", Key: r.ID}
	}
	return err
}

// GetRun retrieves a run by id.
func (h *HierarchyStore) GetRun(ctx context.Context, id string) (core.Run, error) {
	var r core.Run
	var parent, errMsg sql.NullString
	var endedAt sql.NullTime
	err := h.s.db.QueryRowContext(ctx,
		`SELECT run_id, parent_run_id, graph_id, thread_id, status, started_at, ended_at, error FROM runs WHERE run_id = ?`,
		id).Scan(&r.ID, &parent, &r.GraphID, &r.ThreadID, &r.Status, &r.StartedAt, &endedAt, &errMsg)
	if err == sql.ErrNoRows {
		return core.Run{}, &core.NotFoundError{Entity: "run", ID: id}
	}
	if err != nil {
		return core.Run{}, err
	}
	if parent.Valid {
		r.ParentRunID = &parent.String
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	return r, nil
}

// UpdateRunStatus moves a run to status, stamping ended_at for terminal
// states.
func (h *HierarchyStore) UpdateRunStatus(ctx context.Context, id string, status core.RunStatus, errMsg string) error {
	var endedAt sql.NullTime
	if status.Terminal() {
		endedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	var errCol sql.NullString
	if errMsg != "" {
		errCol = sql.NullString{String: errMsg, Valid: true}
	}
	res, err := h.s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, error = ? WHERE run_id = ?`,
		string(status), endedAt, errCol, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Entity: "run", ID: id}
	}
	return nil
}

func nullStrPtr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
