// Package store persists pipeline runs. The SQLite store is the production
// backend; the memory store backs tests and ephemeral servers.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteRunStore implements core.RunStore with SQLite storage.
type SQLiteRunStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
	busy   time.Duration
}

// SQLiteOption configures the store.
type SQLiteOption func(*SQLiteRunStore)

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(d time.Duration) SQLiteOption {
	return func(s *SQLiteRunStore) {
		if d > 0 {
			s.busy = d
		}
	}
}

// NewSQLite opens (or creates) the run database at dbPath.
func NewSQLite(dbPath string, opts ...SQLiteOption) (*SQLiteRunStore, error) {
	s := &SQLiteRunStore{
		dbPath: dbPath,
		busy:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)",
		dbPath, s.busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteRunStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate runs pending migrations.
func (s *SQLiteRunStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}

	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}

	return nil
}

// SaveRun upserts a run. The stored row always reflects the full run
// document, including superseded persona sets.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, run *core.Run) error {
	if run == nil || run.ID == "" {
		return core.ErrState("RUN_INVALID", "run must have an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}
	var personas []byte
	if run.Personas != nil {
		if personas, err = json.Marshal(run.Personas); err != nil {
			return fmt.Errorf("marshaling personas: %w", err)
		}
	}
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("marshaling metrics: %w", err)
	}

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var completedAt interface{}
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, domain, status, seed, params, iterations, personas, metrics, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			domain = excluded.domain,
			status = excluded.status,
			seed = excluded.seed,
			params = excluded.params,
			iterations = excluded.iterations,
			personas = excluded.personas,
			metrics = excluded.metrics,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		run.ID, run.Domain, string(run.Status), run.Seed, string(params), run.Iterations,
		nullableString(personas), string(metrics), run.Error,
		createdAt.UTC().Format(time.RFC3339Nano), completedAt)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads one run by id.
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, status, seed, params, iterations, personas, metrics, error, created_at, completed_at
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A non-positive limit
// returns every run.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, domain, status, seed, params, iterations, personas, metrics, error, created_at, completed_at
		FROM runs ORDER BY created_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	var (
		run         core.Run
		status      string
		params      string
		personas    sql.NullString
		metrics     string
		createdAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&run.ID, &run.Domain, &status, &run.Seed, &params, &run.Iterations,
		&personas, &metrics, &run.Error, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	run.Status = core.RunStatus(status)
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("unmarshaling params: %w", err)
	}
	if personas.Valid && personas.String != "" {
		if err := json.Unmarshal([]byte(personas.String), &run.Personas); err != nil {
			return nil, fmt.Errorf("unmarshaling personas: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(metrics), &run.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshaling metrics: %w", err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if completedAt.Valid && completedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		run.CompletedAt = &t
	}
	return &run, nil
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
