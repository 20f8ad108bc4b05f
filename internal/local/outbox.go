package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// sync_state keys
const (
	stateLastPull = "last_pull"
	stateOwner    = "owner"
)

// Enqueue appends a change to the outbox and returns its sequence number.
func (s *Store) Enqueue(ctx context.Context, c *schema.Change) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, fmt.Errorf("invalid change: %w", err)
	}

	var payload sql.NullString
	switch {
	case c.Project != nil:
		data, err := json.Marshal(c.Project)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal project: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	case c.Todo != nil:
		data, err := json.Marshal(c.Todo)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal todo: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	queuedAt := c.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = time.Now()
	}

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO outbox (kind, entity_id, op, payload, base_updated_at, queued_at, attempts, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.Kind),
		c.EntityID,
		string(c.Op),
		payload,
		timeToNullString(c.BaseUpdatedAt),
		formatTime(queuedAt),
		c.Attempts,
		stringToNull(c.LastError),
	)
	if err != nil {
		return 0, storageError("failed to enqueue change", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read change sequence: %w", err)
	}
	c.Seq = seq
	c.QueuedAt = queuedAt
	return seq, nil
}

// Pending returns every queued change, oldest first.
func (s *Store) Pending(ctx context.Context) ([]*schema.Change, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT seq, kind, entity_id, op, payload, base_updated_at, queued_at, attempts, last_error
	FROM outbox
	ORDER BY seq ASC`)
	if err != nil {
		return nil, storageError("failed to list pending changes", err)
	}
	defer rows.Close()

	changes := []*schema.Change{}
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating pending changes", err)
	}
	return changes, nil
}

// HasPending reports whether any change for kind/id is queued.
func (s *Store) HasPending(ctx context.Context, kind schema.Kind, id string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE kind = ? AND entity_id = ?`,
		string(kind), id,
	).Scan(&n)
	if err != nil {
		return false, storageError("failed to check pending changes", err)
	}
	return n > 0, nil
}

// PendingCount returns the number of queued changes.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, storageError("failed to count pending changes", err)
	}
	return n, nil
}

// Ack removes delivered (or discarded) changes from the outbox.
func (s *Store) Ack(ctx context.Context, seqs ...int64) error {
	if len(seqs) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM outbox WHERE seq = ?`)
	if err != nil {
		return storageError("failed to prepare ack", err)
	}
	defer stmt.Close()

	for _, seq := range seqs {
		if _, err := stmt.ExecContext(ctx, seq); err != nil {
			return storageError(fmt.Sprintf("failed to ack change %d", seq), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageError("failed to commit transaction", err)
	}
	return nil
}

// RecordFailure bumps the attempt counter of a queued change and stores the
// last error message.
func (s *Store) RecordFailure(ctx context.Context, seq int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.conn.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE seq = ?`,
		stringToNull(msg), seq,
	)
	if err != nil {
		return storageError(fmt.Sprintf("failed to record failure for change %d", seq), err)
	}
	return nil
}

// MarkSynced sets the sync marker of a record without touching its content.
func (s *Store) MarkSynced(ctx context.Context, kind schema.Kind, id string, at time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown kind %q", kind)
	}
	query := fmt.Sprintf(`UPDATE %s SET synced_at = ? WHERE id = ?`, kind)
	if _, err := s.conn.ExecContext(ctx, query, formatTime(at), id); err != nil {
		return storageError(fmt.Sprintf("failed to mark %s %s synced", kind, id), err)
	}
	return nil
}

// LastPull returns the server time of the last successful pull, or nil.
func (s *Store) LastPull(ctx context.Context) (*time.Time, error) {
	v, err := s.getState(ctx, stateLastPull)
	if err != nil || v == "" {
		return nil, err
	}
	t := parseTime(v)
	return &t, nil
}

// SetLastPull records the server time of a successful pull.
func (s *Store) SetLastPull(ctx context.Context, t time.Time) error {
	return s.setState(ctx, stateLastPull, formatTime(t))
}

// Owner returns the id of the user whose data this store mirrors, or "".
func (s *Store) Owner(ctx context.Context) (string, error) {
	return s.getState(ctx, stateOwner)
}

// SetOwner records the user whose data this store mirrors.
func (s *Store) SetOwner(ctx context.Context, userID string) error {
	return s.setState(ctx, stateOwner, userID)
}

// Stats summarizes the local mirror.
type Stats struct {
	Projects int        `json:"projects"`
	Todos    int        `json:"todos"`
	Pending  int        `json:"pending"`
	Unsynced int        `json:"unsynced"`
	LastPull *time.Time `json:"lastPull,omitempty"`
}

// Stats returns record counts, queue depth and the last pull time.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.conn.QueryRowContext(ctx, `
	SELECT
		(SELECT COUNT(*) FROM projects),
		(SELECT COUNT(*) FROM todos),
		(SELECT COUNT(*) FROM outbox),
		(SELECT COUNT(*) FROM projects WHERE synced_at IS NULL) +
		(SELECT COUNT(*) FROM todos WHERE synced_at IS NULL)
	`).Scan(&st.Projects, &st.Todos, &st.Pending, &st.Unsynced)
	if err != nil {
		return nil, storageError("failed to get stats", err)
	}

	st.LastPull, err = s.LastPull(ctx)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) getState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageError(fmt.Sprintf("failed to read %s", key), err)
	}
	return v, nil
}

func (s *Store) setState(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_state (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return storageError(fmt.Sprintf("failed to write %s", key), err)
	}
	return nil
}

func scanChange(row rowScanner) (*schema.Change, error) {
	var (
		c                     schema.Change
		kind, op, queuedAt    string
		payload, base, lastEr sql.NullString
	)

	if err := row.Scan(&c.Seq, &kind, &c.EntityID, &op, &payload, &base, &queuedAt, &c.Attempts, &lastEr); err != nil {
		return nil, fmt.Errorf("failed to scan change: %w", err)
	}

	c.Kind = schema.Kind(kind)
	c.Op = schema.Op(op)
	c.BaseUpdatedAt = nullStringToTime(base)
	c.QueuedAt = parseTime(queuedAt)
	c.LastError = lastEr.String

	if payload.Valid {
		switch c.Kind {
		case schema.KindProject:
			var p schema.Project
			if err := json.Unmarshal([]byte(payload.String), &p); err != nil {
				return nil, fmt.Errorf("failed to decode change %d payload: %w", c.Seq, err)
			}
			c.Project = &p
		case schema.KindTodo:
			var t schema.Todo
			if err := json.Unmarshal([]byte(payload.String), &t); err != nil {
				return nil, fmt.Errorf("failed to decode change %d payload: %w", c.Seq, err)
			}
			c.Todo = &t
		}
	}
	return &c, nil
}

func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
