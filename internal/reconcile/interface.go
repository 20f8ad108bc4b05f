// Package reconcile keeps the local mirror and the server in agreement.
//
// Local mutations are written to the local store first and then pushed.
// When the server cannot be reached the change is queued in the store's
// outbox and replayed later by ReconcileOnReconnect. Pull brings server
// state down using last-writer-wins on updatedAt, with ties going to the
// server.
package reconcile

import (
	"context"
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// Session identifies the signed-in user for a call. It is passed explicitly
// to every operation; the reconciler holds no session of its own.
type Session struct {
	UserID string
	Token  string
}

// Valid reports whether the session carries a user and a token.
func (s Session) Valid() bool {
	return s.UserID != "" && s.Token != ""
}

// Remote is the server data API as seen by the client.
//
// Implementations report connectivity failures as errs.ErrSyncUnavailable,
// missing or foreign records as errs.ErrNotFound and rejected sessions as
// errs.ErrAuth.
type Remote interface {
	// FetchAll returns every project and todo of the session's user.
	FetchAll(ctx context.Context, sess Session) (*schema.Snapshot, error)

	CreateProject(ctx context.Context, sess Session, p *schema.Project) (*schema.Project, error)
	UpdateProject(ctx context.Context, sess Session, id string, patch schema.ProjectPatch) (*schema.Project, error)
	DeleteProject(ctx context.Context, sess Session, id string) error

	CreateTodo(ctx context.Context, sess Session, t *schema.Todo) (*schema.Todo, error)
	UpdateTodo(ctx context.Context, sess Session, id string, patch schema.TodoPatch) (*schema.Todo, error)
	DeleteTodo(ctx context.Context, sess Session, id string) error
}

// PushOutcome says what happened to a pushed change.
type PushOutcome int

const (
	// Pushed means the server accepted the change.
	Pushed PushOutcome = iota
	// Queued means the change waits in the outbox.
	Queued
	// Discarded means the server refused the change for good (record
	// missing or not owned) and the local copy was dropped.
	Discarded
)

func (o PushOutcome) String() string {
	switch o {
	case Pushed:
		return "pushed"
	case Queued:
		return "queued"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// PullResult counts the local writes made by a pull.
type PullResult struct {
	Inserted   int
	Updated    int
	Deleted    int
	Kept       int
	ServerTime time.Time
}

// Writes returns the number of records written or removed.
func (r *PullResult) Writes() int {
	return r.Inserted + r.Updated + r.Deleted
}

// ReconcileResult summarizes a replay followed by a pull.
type ReconcileResult struct {
	// Replayed is the number of collapsed changes the server accepted.
	Replayed int
	// Conflicts is the number of changes dropped because the server copy
	// was newer than the one they were based on.
	Conflicts int
	// Dropped counts changes that cancelled out or were refused.
	Dropped int
	// Remaining is the queue depth after replay.
	Remaining int

	Pull *PullResult
}
