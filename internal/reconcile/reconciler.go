package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/local"
	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// Reconciler moves changes between a local store and a Remote.
type Reconciler struct {
	store  *local.Store
	remote Remote
	logger *log.Logger
	now    func() time.Time

	keys     *keyedMutex
	replayMu sync.Mutex
}

// New creates a Reconciler.
//
// A nil store runs the reconciler without a local cache: mutations go
// straight to the remote and Pull/ReconcileOnReconnect report
// errs.ErrStorageUnavailable.
//
// If logger is nil, a default logger writing to stderr is used.
func New(store *local.Store, remote Remote, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Reconciler{
		store:  store,
		remote: remote,
		logger: logger,
		now:    time.Now,
		keys:   newKeyedMutex(),
	}
}

// Store returns the local store, or nil when running uncached.
func (r *Reconciler) Store() *local.Store {
	return r.store
}

// Bind makes the local store belong to sess's user. A store holding
// another user's data is cleared first.
func (r *Reconciler) Bind(ctx context.Context, sess Session) error {
	if r.store == nil {
		return nil
	}
	owner, err := r.store.Owner(ctx)
	if err != nil {
		return err
	}
	if owner == sess.UserID {
		return nil
	}
	if owner != "" {
		r.logger.Printf("Account changed (%s -> %s), clearing local data", owner, sess.UserID)
		if err := r.store.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset local store: %w", err)
		}
	}
	return r.store.SetOwner(ctx, sess.UserID)
}

// Pull fetches the user's full data set and merges it into the local store.
//
// Per id: a record missing locally is inserted; otherwise the copy with the
// later updatedAt wins and a tie goes to the server. Identical records are
// not rewritten, so a second pull without server changes writes nothing.
// Local records missing on the server are kept when they were never synced
// or have queued changes, and removed otherwise.
//
// A failed fetch leaves the local store untouched.
func (r *Reconciler) Pull(ctx context.Context, sess Session) (*PullResult, error) {
	if r.store == nil {
		return nil, fmt.Errorf("pull: %w", errs.ErrStorageUnavailable)
	}
	if err := r.Bind(ctx, sess); err != nil {
		return nil, err
	}

	snap, err := r.remote.FetchAll(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch server state: %w", err)
	}

	stamp := snap.ServerTime
	if stamp.IsZero() {
		stamp = r.now()
	}
	res := &PullResult{ServerTime: stamp}

	if err := r.pullProjects(ctx, snap.Projects, stamp, res); err != nil {
		return res, err
	}
	if err := r.pullTodos(ctx, snap.Todos, stamp, res); err != nil {
		return res, err
	}
	if err := r.store.SetLastPull(ctx, stamp); err != nil {
		return res, err
	}

	if res.Writes() > 0 {
		r.logger.Printf("Pull complete: inserted=%d updated=%d deleted=%d kept=%d",
			res.Inserted, res.Updated, res.Deleted, res.Kept)
	}
	return res, nil
}

func (r *Reconciler) pullProjects(ctx context.Context, remote []schema.Project, stamp time.Time, res *PullResult) error {
	seen := make(map[string]bool, len(remote))
	for i := range remote {
		p := remote[i]
		seen[p.ID] = true

		unlock := r.keys.Lock(recordKey(schema.KindProject, p.ID))
		err := r.mergeProject(ctx, &p, stamp, res)
		unlock()
		if err != nil {
			return err
		}
	}

	locals, err := r.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	for _, p := range locals {
		if seen[p.ID] {
			continue
		}
		gone, err := r.removedOnServer(ctx, schema.KindProject, p.ID, p.SyncedAt)
		if err != nil {
			return err
		}
		if !gone {
			res.Kept++
			continue
		}
		if err := r.store.DeleteProject(ctx, p.ID); err != nil {
			return err
		}
		res.Deleted++
	}
	return nil
}

func (r *Reconciler) mergeProject(ctx context.Context, p *schema.Project, stamp time.Time, res *PullResult) error {
	p.SyncedAt = &stamp

	cur, err := r.store.GetProject(ctx, p.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		if err := r.store.PutProject(ctx, p); err != nil {
			return err
		}
		res.Inserted++
		return nil
	case err != nil:
		return err
	}

	switch {
	case cur.Equal(p):
		res.Kept++
		if cur.SyncedAt == nil {
			return r.store.MarkSynced(ctx, schema.KindProject, p.ID, stamp)
		}
		return nil
	case p.UpdatedAt.Before(cur.UpdatedAt):
		res.Kept++
		return nil
	default:
		if err := r.store.PutProject(ctx, p); err != nil {
			return err
		}
		res.Updated++
		return nil
	}
}

func (r *Reconciler) pullTodos(ctx context.Context, remote []schema.Todo, stamp time.Time, res *PullResult) error {
	seen := make(map[string]bool, len(remote))
	for i := range remote {
		t := remote[i]
		seen[t.ID] = true

		unlock := r.keys.Lock(recordKey(schema.KindTodo, t.ID))
		err := r.mergeTodo(ctx, &t, stamp, res)
		unlock()
		if err != nil {
			return err
		}
	}

	locals, err := r.store.ListTodos(ctx)
	if err != nil {
		return err
	}
	for _, t := range locals {
		if seen[t.ID] {
			continue
		}
		gone, err := r.removedOnServer(ctx, schema.KindTodo, t.ID, t.SyncedAt)
		if err != nil {
			return err
		}
		if !gone {
			res.Kept++
			continue
		}
		if err := r.store.DeleteTodo(ctx, t.ID); err != nil {
			return err
		}
		res.Deleted++
	}
	return nil
}

func (r *Reconciler) mergeTodo(ctx context.Context, t *schema.Todo, stamp time.Time, res *PullResult) error {
	t.SyncedAt = &stamp

	cur, err := r.store.GetTodo(ctx, t.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		if err := r.store.PutTodo(ctx, t); err != nil {
			return err
		}
		res.Inserted++
		return nil
	case err != nil:
		return err
	}

	switch {
	case cur.Equal(t):
		res.Kept++
		if cur.SyncedAt == nil {
			return r.store.MarkSynced(ctx, schema.KindTodo, t.ID, stamp)
		}
		return nil
	case t.UpdatedAt.Before(cur.UpdatedAt):
		res.Kept++
		return nil
	default:
		if err := r.store.PutTodo(ctx, t); err != nil {
			return err
		}
		res.Updated++
		return nil
	}
}

// removedOnServer reports whether a local record absent from the server
// snapshot was deleted there, as opposed to not having reached it yet.
func (r *Reconciler) removedOnServer(ctx context.Context, kind schema.Kind, id string, synced *time.Time) (bool, error) {
	if synced == nil {
		return false, nil
	}
	pending, err := r.store.HasPending(ctx, kind, id)
	if err != nil {
		return false, err
	}
	return !pending, nil
}

// Push sends one local change to the server.
//
// The change waits behind earlier queued changes for the same entity. When
// the server is unreachable the change is queued and Push returns Queued
// with a nil error. A todo also waits while its project has queued
// changes. A record the server does not know (or that belongs to someone
// else) is dropped locally and Push returns Discarded, as is a create the
// server refuses as invalid.
func (r *Reconciler) Push(ctx context.Context, sess Session, c *schema.Change) (PushOutcome, error) {
	if err := c.Validate(); err != nil {
		return Discarded, fmt.Errorf("invalid change: %w", err)
	}
	unlock := r.keys.Lock(c.Key())
	defer unlock()

	_, out, err := r.pushLocked(ctx, sess, c)
	return out, err
}

// pushLocked is Push for callers already holding the entity lock.
func (r *Reconciler) pushLocked(ctx context.Context, sess Session, c *schema.Change) (schema.Record, PushOutcome, error) {
	if r.store != nil {
		blocked, err := r.blocked(ctx, c)
		if err != nil {
			r.logger.Printf("WARNING: Failed to check queue for %s, queueing: %v", c.Key(), err)
		}
		if blocked || err != nil {
			if err := r.enqueue(ctx, c); err != nil {
				return nil, Queued, err
			}
			return nil, Queued, nil
		}
	}

	rec, err := r.send(ctx, sess, c)
	switch {
	case err == nil:
		if err := r.confirm(ctx, c, rec); err != nil {
			r.logger.Printf("WARNING: Failed to store server copy of %s: %v", c.Key(), err)
		}
		return rec, Pushed, nil

	case errors.Is(err, errs.ErrNotFound):
		if waiting, _ := r.parentQueued(ctx, c); waiting {
			if qerr := r.enqueue(ctx, c); qerr != nil {
				return nil, Queued, qerr
			}
			return nil, Queued, nil
		}
		r.logger.Printf("Server has no %s, dropping local copy", c.Key())
		r.discard(ctx, c)
		return nil, Discarded, nil

	case errors.Is(err, errs.ErrValidation):
		if c.Op == schema.OpCreate {
			r.logger.Printf("Server refused %s, dropping local copy: %v", c.Key(), err)
			r.discard(ctx, c)
		}
		return nil, Discarded, err

	case r.store == nil:
		return nil, Queued, err

	case errs.IsOffline(err):
		if qerr := r.enqueue(ctx, c); qerr != nil {
			return nil, Queued, qerr
		}
		r.logger.Printf("Server unreachable, queued %s %s", c.Op, c.Key())
		return nil, Queued, nil

	default:
		// Auth and unexpected failures keep the change for a later replay
		// but still reach the caller.
		if qerr := r.enqueue(ctx, c); qerr != nil {
			r.logger.Printf("WARNING: Failed to queue %s: %v", c.Key(), qerr)
		}
		return nil, Queued, err
	}
}

// blocked reports whether c must wait in the outbox: earlier changes for
// the same record are queued, or c is a todo whose project is.
func (r *Reconciler) blocked(ctx context.Context, c *schema.Change) (bool, error) {
	has, err := r.store.HasPending(ctx, c.Kind, c.EntityID)
	if err != nil || has {
		return has, err
	}
	return r.parentQueued(ctx, c)
}

// parentQueued reports whether a todo create or update targets a project
// with changes still in the outbox.
func (r *Reconciler) parentQueued(ctx context.Context, c *schema.Change) (bool, error) {
	if r.store == nil || c.Kind != schema.KindTodo || c.Todo == nil || c.Op == schema.OpDelete {
		return false, nil
	}
	return r.store.HasPending(ctx, schema.KindProject, c.Todo.ProjectID)
}

// ReconcileOnReconnect replays the outbox and then pulls.
//
// Queued changes are collapsed per entity and replayed oldest first. An
// update or delete based on a copy older than the server's current one is
// dropped in favor of the server. Replay stops at the first connectivity
// failure; what is left stays queued.
func (r *Reconciler) ReconcileOnReconnect(ctx context.Context, sess Session) (*ReconcileResult, error) {
	if r.store == nil {
		return nil, fmt.Errorf("reconcile: %w", errs.ErrStorageUnavailable)
	}

	r.replayMu.Lock()
	defer r.replayMu.Unlock()

	if err := r.Bind(ctx, sess); err != nil {
		return nil, err
	}

	res := &ReconcileResult{}
	if err := r.replay(ctx, sess, res); err != nil {
		res.Remaining, _ = r.store.PendingCount(ctx)
		return res, err
	}

	pull, err := r.Pull(ctx, sess)
	res.Pull = pull
	res.Remaining, _ = r.store.PendingCount(ctx)
	if err != nil {
		return res, err
	}

	if res.Replayed+res.Conflicts+res.Dropped > 0 {
		r.logger.Printf("Reconcile complete: replayed=%d conflicts=%d dropped=%d remaining=%d",
			res.Replayed, res.Conflicts, res.Dropped, res.Remaining)
	}
	return res, nil
}

func (r *Reconciler) replay(ctx context.Context, sess Session, res *ReconcileResult) error {
	pending, err := r.store.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	batches := Collapse(pending)
	r.logger.Printf("Replaying %d queued changes as %d batches", len(pending), len(batches))

	snap, err := r.remote.FetchAll(ctx, sess)
	if err != nil {
		r.recordFailure(ctx, batches[0], err)
		return fmt.Errorf("failed to fetch server state: %w", err)
	}
	serverAt := indexSnapshot(snap)

	for _, b := range batches {
		unlock := r.keys.Lock(b.Key())
		err := r.replayBatch(ctx, sess, b, serverAt, res)
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) replayBatch(ctx context.Context, sess Session, b *Batch, serverAt map[string]time.Time, res *ReconcileResult) error {
	c := b.Change
	if c == nil {
		res.Dropped++
		return r.store.Ack(ctx, b.Seqs...)
	}

	if c.Op != schema.OpCreate {
		at, onServer := serverAt[b.Key()]
		switch {
		case !onServer:
			res.Dropped++
			r.logger.Printf("Skipping %s %s: gone on server", c.Op, b.Key())
			if err := r.store.Ack(ctx, b.Seqs...); err != nil {
				return err
			}
			r.discard(ctx, c)
			return nil
		case c.BaseUpdatedAt != nil && at.After(*c.BaseUpdatedAt):
			res.Conflicts++
			r.logger.Printf("Conflict on %s: server copy is newer, keeping server version", b.Key())
			return r.store.Ack(ctx, b.Seqs...)
		}
	}

	rec, err := r.send(ctx, sess, c)
	switch {
	case err == nil:
		if err := r.store.Ack(ctx, b.Seqs...); err != nil {
			return err
		}
		res.Replayed++
		if err := r.confirm(ctx, c, rec); err != nil {
			r.logger.Printf("WARNING: Failed to store server copy of %s: %v", b.Key(), err)
		}
		return nil

	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrValidation):
		if waiting, _ := r.parentQueued(ctx, c); waiting && errors.Is(err, errs.ErrNotFound) {
			r.recordFailure(ctx, b, err)
			r.logger.Printf("Holding %s until its project syncs", b.Key())
			return nil
		}
		res.Dropped++
		r.logger.Printf("Server refused %s %s: %v", c.Op, b.Key(), err)
		if err := r.store.Ack(ctx, b.Seqs...); err != nil {
			return err
		}
		if errors.Is(err, errs.ErrNotFound) || c.Op == schema.OpCreate {
			r.discard(ctx, c)
		}
		return nil

	case errs.IsOffline(err), errs.IsFatal(err):
		r.recordFailure(ctx, b, err)
		return err

	default:
		r.recordFailure(ctx, b, err)
		r.logger.Printf("WARNING: Failed to replay %s %s: %v", c.Op, b.Key(), err)
		return nil
	}
}

// send performs the remote operation matching c. Deleting a record the
// server no longer has counts as success.
func (r *Reconciler) send(ctx context.Context, sess Session, c *schema.Change) (schema.Record, error) {
	switch c.Kind {
	case schema.KindProject:
		switch c.Op {
		case schema.OpCreate:
			return nilIfErr(r.remote.CreateProject(ctx, sess, c.Project))
		case schema.OpUpdate:
			return nilIfErr(r.remote.UpdateProject(ctx, sess, c.EntityID, schema.PatchFromProject(c.Project)))
		case schema.OpDelete:
			return nil, ignoreNotFound(r.remote.DeleteProject(ctx, sess, c.EntityID))
		}
	case schema.KindTodo:
		switch c.Op {
		case schema.OpCreate:
			return nilIfErr(r.remote.CreateTodo(ctx, sess, c.Todo))
		case schema.OpUpdate:
			return nilIfErr(r.remote.UpdateTodo(ctx, sess, c.EntityID, schema.PatchFromTodo(c.Todo)))
		case schema.OpDelete:
			return nil, ignoreNotFound(r.remote.DeleteTodo(ctx, sess, c.EntityID))
		}
	}
	return nil, fmt.Errorf("unsupported change %s %s", c.Op, c.Key())
}

// confirm stores the server's copy with a fresh sync marker unless newer
// local changes are still queued for the record.
func (r *Reconciler) confirm(ctx context.Context, c *schema.Change, rec schema.Record) error {
	if r.store == nil || rec == nil {
		return nil
	}
	if has, err := r.store.HasPending(ctx, c.Kind, c.EntityID); err != nil || has {
		return err
	}

	now := r.now()
	switch v := rec.(type) {
	case *schema.Project:
		if v == nil {
			return nil
		}
		cp := *v
		cp.SyncedAt = &now
		return r.store.PutProject(ctx, &cp)
	case *schema.Todo:
		if v == nil {
			return nil
		}
		cp := *v
		cp.SyncedAt = &now
		return r.store.PutTodo(ctx, &cp)
	}
	return nil
}

// discard drops the local copy of a record the server refused.
func (r *Reconciler) discard(ctx context.Context, c *schema.Change) {
	if r.store == nil || c.Op == schema.OpDelete {
		return
	}
	if err := r.store.Delete(ctx, c.Kind, c.EntityID); err != nil {
		r.logger.Printf("WARNING: Failed to drop local %s: %v", c.Key(), err)
	}
}

func (r *Reconciler) enqueue(ctx context.Context, c *schema.Change) error {
	c.QueuedAt = r.now()
	if _, err := r.store.Enqueue(ctx, c); err != nil {
		return fmt.Errorf("failed to queue change: %w", err)
	}
	return nil
}

func (r *Reconciler) recordFailure(ctx context.Context, b *Batch, cause error) {
	for _, seq := range b.Seqs {
		if err := r.store.RecordFailure(ctx, seq, cause); err != nil {
			r.logger.Printf("WARNING: Failed to record failure for change %d: %v", seq, err)
			return
		}
	}
}

func indexSnapshot(snap *schema.Snapshot) map[string]time.Time {
	idx := make(map[string]time.Time, len(snap.Projects)+len(snap.Todos))
	for _, p := range snap.Projects {
		idx[recordKey(schema.KindProject, p.ID)] = p.UpdatedAt
	}
	for _, t := range snap.Todos {
		idx[recordKey(schema.KindTodo, t.ID)] = t.UpdatedAt
	}
	return idx
}

func recordKey(kind schema.Kind, id string) string {
	return string(kind) + "/" + id
}

func nilIfErr[T schema.Record](rec T, err error) (schema.Record, error) {
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	return err
}
