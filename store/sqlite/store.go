package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/embedding"
	"github.com/swarmgraph/swarmgraph/logging"
)

// Options holds dependency overrides passed to New.
type Options struct {
	// Embedder, when set, embeds message content and checkpoint summaries
	// at write time.
	Embedder embedding.Embedder
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Store owns one SQLite database shared by the per-concern views below.
// The view accessors hand out implementations of core.HierarchyStore,
// core.MessageLog, core.CheckpointStore and core.GraphStore; those
// interfaces share method names (Get, Search), so one receiver cannot
// satisfy them all.
type Store struct {
	db       *sql.DB
	embedder embedding.Embedder
	logger   logging.Logger
}

// HierarchyStore is the sessions/threads/runs view of a Store.
type HierarchyStore struct{ s *Store }

// MessageLog is the append-only message view of a Store.
type MessageLog struct{ s *Store }

// CheckpointStore is the versioned checkpoint view of a Store.
type CheckpointStore struct{ s *Store }

// GraphStore is the graph metadata view of a Store.
type GraphStore struct{ s *Store }

// Hierarchy returns the sessions/threads/runs view.
func (s *Store) Hierarchy() *HierarchyStore { return &HierarchyStore{s: s} }

// Messages returns the message log view.
func (s *Store) Messages() *MessageLog { return &MessageLog{s: s} }

// Checkpoints returns the checkpoint view.
func (s *Store) Checkpoints() *CheckpointStore { return &CheckpointStore{s: s} }

// Graphs returns the graph metadata view.
func (s *Store) Graphs() *GraphStore { return &GraphStore{s: s} }

var (
	_ core.HierarchyStore  = (*HierarchyStore)(nil)
	_ core.MessageLog      = (*MessageLog)(nil)
	_ core.CheckpointStore = (*CheckpointStore)(nil)
	_ core.GraphStore      = (*GraphStore)(nil)
)

// New opens (or creates) the database at dsn and runs migrations. Use
// ":memory:" for an ephemeral store.
func New(dsn string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes
	// writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, embedder: opts.Embedder, logger: opts.Logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			parent_thread_id TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id),
			FOREIGN KEY (parent_thread_id) REFERENCES threads(thread_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_session ON threads(session_id)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			parent_run_id TEXT,
			graph_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			error TEXT,
			FOREIGN KEY (thread_id) REFERENCES threads(thread_id),
			FOREIGN KEY (parent_run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT,
			thread_id TEXT NOT NULL,
			run_id TEXT,
			source TEXT NOT NULL,
			target TEXT,
			message_type TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT,
			metadata TEXT,
			logical_ts INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (thread_id, logical_ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, logical_ts)`,
		`CREATE TABLE IF NOT EXISTS graph_checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			graph_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			state_data TEXT NOT NULL,
			summary TEXT,
			embedding TEXT,
			checkpoint_type TEXT NOT NULL,
			is_stable INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (graph_id, conversation_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_key ON graph_checkpoints(graph_id, conversation_id, version)`,
		`CREATE TABLE IF NOT EXISTS graphs (
			graph_id TEXT PRIMARY KEY,
			graph_type TEXT NOT NULL,
			config TEXT,
			last_checkpoint_id TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode embedding: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeVector(raw sql.NullString) ([]float32, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return v, nil
}

func encodeMetadata(m core.Metadata) (sql.NullString, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	if string(data) == "{}" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeMetadata(raw sql.NullString) (core.Metadata, error) {
	var m core.Metadata
	if !raw.Valid || raw.String == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return m, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
