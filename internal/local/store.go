// Package local provides the client-side mirror of a user's projects and
// todos.
//
// The mirror is an embedded SQLite database (ncruces/go-sqlite3, WAL mode)
// so that several client processes can read while one writes. Each record
// write is a single statement; nothing here spans records except project
// deletion, which removes the project's todos in the same transaction.
//
// Layout:
//   - projects, todos: one row per record, keyed by id
//   - outbox: local changes waiting for the server, FIFO by seq
//   - sync_state: small key/value table (owner, last pull)
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// DatabaseName is the file name used inside the client data directory.
const DatabaseName = "tasksimple.db"

const timeFormat = time.RFC3339Nano

// Store wraps the local SQLite connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the local database at path and applies
// the schema. Any failure to reach the file is reported as
// errs.ErrStorageUnavailable so callers can run without a local cache.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext is Open with context support.
func OpenContext(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %w", errs.ErrStorageUnavailable, err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", errs.ErrStorageUnavailable, err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", errs.ErrStorageUnavailable, err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.conn.ExecContext(ctx, p); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: failed to apply %q: %w", errs.ErrStorageUnavailable, p, err)
		}
	}

	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '#3b82f6',
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		synced_at TEXT
	);

	CREATE TABLE IF NOT EXISTS todos (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		is_completed INTEGER NOT NULL DEFAULT 0,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		synced_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_todos_project ON todos(project_id);

	CREATE TABLE IF NOT EXISTS outbox (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		op TEXT NOT NULL,
		payload TEXT,
		base_updated_at TEXT,
		queued_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_entity ON outbox(kind, entity_id);

	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return storageError("failed to initialize schema", err)
	}
	return nil
}

// Put upserts a record of either kind.
func (s *Store) Put(ctx context.Context, rec schema.Record) error {
	switch r := rec.(type) {
	case *schema.Project:
		return s.PutProject(ctx, r)
	case *schema.Todo:
		return s.PutTodo(ctx, r)
	default:
		return fmt.Errorf("unsupported record type %T", rec)
	}
}

// Get returns the record of kind with id, or errs.ErrNotFound.
func (s *Store) Get(ctx context.Context, kind schema.Kind, id string) (schema.Record, error) {
	switch kind {
	case schema.KindProject:
		return s.GetProject(ctx, id)
	case schema.KindTodo:
		return s.GetTodo(ctx, id)
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// GetAll returns every record of kind. An empty collection yields an
// empty slice and a nil error.
func (s *Store) GetAll(ctx context.Context, kind schema.Kind) ([]schema.Record, error) {
	switch kind {
	case schema.KindProject:
		projects, err := s.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]schema.Record, 0, len(projects))
		for _, p := range projects {
			out = append(out, p)
		}
		return out, nil
	case schema.KindTodo:
		todos, err := s.ListTodos(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]schema.Record, 0, len(todos))
		for _, t := range todos {
			out = append(out, t)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// Delete removes a record by id. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, kind schema.Kind, id string) error {
	switch kind {
	case schema.KindProject:
		return s.DeleteProject(ctx, id)
	case schema.KindTodo:
		return s.DeleteTodo(ctx, id)
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
}

// PutProject inserts or updates a project.
func (s *Store) PutProject(ctx context.Context, p *schema.Project) error {
	query := `
	INSERT INTO projects (id, name, color, sort_order, created_at, updated_at, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		color = excluded.color,
		sort_order = excluded.sort_order,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		synced_at = excluded.synced_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Color,
		p.Order,
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
		timeToNullString(p.SyncedAt),
	)
	if err != nil {
		return storageError(fmt.Sprintf("failed to upsert project %s", p.ID), err)
	}
	return nil
}

// GetProject retrieves a single project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*schema.Project, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, name, color, sort_order, created_at, updated_at, synced_at
	FROM projects WHERE id = ?`, id)

	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, storageError("failed to get project", err)
	}
	return p, nil
}

// ListProjects returns every project ordered by order, then created_at.
func (s *Store) ListProjects(ctx context.Context) ([]*schema.Project, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, name, color, sort_order, created_at, updated_at, synced_at
	FROM projects
	ORDER BY sort_order ASC, created_at ASC`)
	if err != nil {
		return nil, storageError("failed to list projects", err)
	}
	defer rows.Close()

	projects := []*schema.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating projects", err)
	}
	return projects, nil
}

// DeleteProject removes a project and its todos.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE project_id = ?`, id); err != nil {
		return storageError(fmt.Sprintf("failed to delete todos of project %s", id), err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return storageError(fmt.Sprintf("failed to delete project %s", id), err)
	}

	if err := tx.Commit(); err != nil {
		return storageError("failed to commit transaction", err)
	}
	return nil
}

// PutTodo inserts or updates a todo.
func (s *Store) PutTodo(ctx context.Context, t *schema.Todo) error {
	query := `
	INSERT INTO todos (id, project_id, title, is_completed, sort_order, created_at, updated_at, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		project_id = excluded.project_id,
		title = excluded.title,
		is_completed = excluded.is_completed,
		sort_order = excluded.sort_order,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		synced_at = excluded.synced_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		t.ID,
		t.ProjectID,
		t.Title,
		t.IsCompleted,
		t.Order,
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
		timeToNullString(t.SyncedAt),
	)
	if err != nil {
		return storageError(fmt.Sprintf("failed to upsert todo %s", t.ID), err)
	}
	return nil
}

// GetTodo retrieves a single todo by id.
func (s *Store) GetTodo(ctx context.Context, id string) (*schema.Todo, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, project_id, title, is_completed, sort_order, created_at, updated_at, synced_at
	FROM todos WHERE id = ?`, id)

	t, err := scanTodo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("todo %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, storageError("failed to get todo", err)
	}
	return t, nil
}

// ListTodos returns every todo ordered by order, then created_at.
func (s *Store) ListTodos(ctx context.Context) ([]*schema.Todo, error) {
	return s.queryTodos(ctx, `
	SELECT id, project_id, title, is_completed, sort_order, created_at, updated_at, synced_at
	FROM todos
	ORDER BY sort_order ASC, created_at ASC`)
}

// GetTodosByProject returns the todos of one project. The filter runs over
// the single user's todo collection.
func (s *Store) GetTodosByProject(ctx context.Context, projectID string) ([]*schema.Todo, error) {
	return s.queryTodos(ctx, `
	SELECT id, project_id, title, is_completed, sort_order, created_at, updated_at, synced_at
	FROM todos
	WHERE project_id = ?
	ORDER BY sort_order ASC, created_at ASC`, projectID)
}

// DeleteTodo removes a todo. Idempotent.
func (s *Store) DeleteTodo(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id); err != nil {
		return storageError(fmt.Sprintf("failed to delete todo %s", id), err)
	}
	return nil
}

func (s *Store) queryTodos(ctx context.Context, query string, args ...any) ([]*schema.Todo, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("failed to query todos", err)
	}
	defer rows.Close()

	todos := []*schema.Todo{}
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating todos", err)
	}
	return todos, nil
}

// Reset removes every record, queued change and sync state. Used when a
// different account signs in on this client.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"todos", "projects", "outbox", "sync_state"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storageError("failed to clear "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageError("failed to commit transaction", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*schema.Project, error) {
	var p schema.Project
	var createdAt, updatedAt string
	var syncedAt sql.NullString

	if err := row.Scan(&p.ID, &p.Name, &p.Color, &p.Order, &createdAt, &updatedAt, &syncedAt); err != nil {
		return nil, err
	}

	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	p.SyncedAt = nullStringToTime(syncedAt)
	return &p, nil
}

func scanTodo(row rowScanner) (*schema.Todo, error) {
	var t schema.Todo
	var createdAt, updatedAt string
	var syncedAt sql.NullString

	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.IsCompleted, &t.Order, &createdAt, &updatedAt, &syncedAt); err != nil {
		return nil, err
	}

	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.SyncedAt = nullStringToTime(syncedAt)
	return &t, nil
}

// storageError wraps err with msg and, for failures of the medium itself,
// with errs.ErrStorageUnavailable.
func storageError(msg string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%w: %s: %w", errs.ErrStorageUnavailable, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isUnavailable(err error) bool {
	for _, code := range []sqlite3.ErrorCode{
		sqlite3.CANTOPEN,
		sqlite3.FULL,
		sqlite3.READONLY,
		sqlite3.IOERR,
		sqlite3.PERM,
		sqlite3.NOTADB,
		sqlite3.CORRUPT,
	} {
		if errors.Is(err, code) {
			return true
		}
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
