package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SQLiteStore is the SQLite-backed persistence layer. All mutation goes
// through Update, which runs one write transaction; readers go through View.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates a SQLite store at dbPath (a file path or ":memory:"),
// applies pragmas and creates the schema if it doesn't exist.
func Open(dbPath string) (*SQLiteStore, error) {
	if err := EnsureDir(dbPath); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer. A single connection also keeps ":memory:"
	// databases from splitting into one database per pooled connection.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// applyPragmas configures SQLite for a single-process writer.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// initSchema creates all tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS concepts (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL,
		label TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_concepts_topic ON concepts(topic_id);

	CREATE TABLE IF NOT EXISTS entity_stats (
		entity_type TEXT NOT NULL CHECK(entity_type IN ('topic','concept')),
		entity_id TEXT NOT NULL,
		strength REAL NOT NULL DEFAULT 0.25,
		exposures INTEGER NOT NULL DEFAULT 0,
		correct_count INTEGER NOT NULL DEFAULT 0,
		incorrect_count INTEGER NOT NULL DEFAULT 0,
		skip_count INTEGER NOT NULL DEFAULT 0,
		minutes_spent REAL NOT NULL DEFAULT 0,
		last_seen_at INTEGER NOT NULL,
		last_reviewed_at INTEGER,
		next_review_at INTEGER NOT NULL,
		PRIMARY KEY (entity_type, entity_id)
	);

	CREATE TABLE IF NOT EXISTS edges (
		id TEXT PRIMARY KEY,
		from_id TEXT NOT NULL,
		from_type TEXT NOT NULL CHECK(from_type IN ('topic','concept')),
		to_id TEXT NOT NULL,
		to_type TEXT NOT NULL CHECK(to_type IN ('topic','concept')),
		weight REAL NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(from_id, from_type, to_id, to_type)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_id, from_type);
	CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id, to_type);

	CREATE TABLE IF NOT EXISTS graph_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		topic_label TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_graph_events_type_time ON graph_events(type, created_at);

	CREATE TABLE IF NOT EXISTS quiz_attempts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		course_id TEXT NOT NULL DEFAULT '',
		concept_id TEXT NOT NULL DEFAULT '',
		correct INTEGER NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_quiz_attempts_user_concept ON quiz_attempts(user_id, concept_id, seq);

	CREATE TABLE IF NOT EXISTS learner_concept_state (
		user_id TEXT NOT NULL,
		concept_id TEXT NOT NULL,
		mastery REAL NOT NULL,
		fragility REAL NOT NULL,
		confidence REAL NOT NULL,
		prereq_gap REAL NOT NULL,
		attempt_count_total INTEGER NOT NULL DEFAULT 0,
		streak_success INTEGER NOT NULL DEFAULT 0,
		streak_fail INTEGER NOT NULL DEFAULT 0,
		last_practiced_at INTEGER NOT NULL,
		next_review_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, concept_id)
	);

	CREATE TABLE IF NOT EXISTS concept_prereqs (
		concept_id TEXT NOT NULL,
		prereq_id TEXT NOT NULL,
		PRIMARY KEY (concept_id, prereq_id)
	);

	CREATE TABLE IF NOT EXISTS course_concepts (
		course_id TEXT NOT NULL,
		concept_id TEXT NOT NULL,
		importance REAL NOT NULL DEFAULT 0.6,
		PRIMARY KEY (course_id, concept_id)
	);

	CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT PRIMARY KEY,
		enable_fingerprint INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cognitive_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		course_id TEXT NOT NULL DEFAULT '',
		concept_tags TEXT NOT NULL DEFAULT '[]',
		question_id TEXT NOT NULL DEFAULT '',
		interaction_type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cognitive_events_user ON cognitive_events(user_id, seq);

	CREATE TABLE IF NOT EXISTS fingerprint_user (
		user_id TEXT PRIMARY KEY,
		error_type_scores TEXT NOT NULL DEFAULT '{}',
		error_examples TEXT NOT NULL DEFAULT '{}',
		preference_scores TEXT NOT NULL DEFAULT '{}',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fingerprint_concept (
		user_id TEXT NOT NULL,
		concept_tag TEXT NOT NULL,
		strength REAL NOT NULL,
		fragility REAL NOT NULL,
		half_life_days REAL NOT NULL,
		last_seen_at INTEGER,
		last_practiced_at INTEGER,
		exposures INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		fail_count INTEGER NOT NULL DEFAULT 0,
		last_fail_modes TEXT NOT NULL DEFAULT '[]',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, concept_tag)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.migrateSchema()
}

// migrateSchema adds columns introduced after the first schema version.
func (s *SQLiteStore) migrateSchema() error {
	if !s.columnExists("fingerprint_user", "preference_watermark") {
		_, err := s.db.Exec("ALTER TABLE fingerprint_user ADD COLUMN preference_watermark INTEGER NOT NULL DEFAULT 0")
		if err != nil {
			return fmt.Errorf("failed to add preference_watermark column: %w", err)
		}
	}
	return nil
}

// columnExists checks if a column exists in a table.
func (s *SQLiteStore) columnExists(tableName, columnName string) bool {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false
		}
		if name == columnName {
			return true
		}
	}
	return false
}

// Update runs fn inside a write transaction. The transaction commits when fn
// returns nil and rolls back otherwise, so callers never observe partial
// state from a failed operation.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback() // no-op after commit

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View runs fn inside a transaction that is always rolled back.
func (s *SQLiteStore) View(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&Tx{tx: sqlTx})
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Tx exposes row-level operations bound to one transaction.
type Tx struct {
	tx *sql.Tx
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func EnsureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// Timestamps are stored as Unix milliseconds so range scans compare integers.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
