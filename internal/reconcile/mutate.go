package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// The mutation entry points below validate input, write the local store
// and push. They do not fail because the server is unreachable. When the
// local store cannot be written they call the remote directly.

// CreateProject creates a project. An empty color selects the default.
func (r *Reconciler) CreateProject(ctx context.Context, sess Session, name, color string) (*schema.Project, error) {
	p := schema.NewProject(name, r.now())
	if color != "" {
		p.Color = color
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	unlock := r.keys.Lock(recordKey(schema.KindProject, p.ID))
	defer unlock()

	cached, err := r.write(ctx, func() error { return r.store.PutProject(ctx, p) })
	if err != nil {
		return nil, err
	}
	if !cached {
		return r.remote.CreateProject(ctx, sess, p)
	}

	rec, out, err := r.pushLocked(ctx, sess, schema.ProjectChange(schema.OpCreate, p, nil))
	return projectResult(p, rec, out, err)
}

// UpdateProject applies patch to the project with id.
func (r *Reconciler) UpdateProject(ctx context.Context, sess Session, id string, patch schema.ProjectPatch) (*schema.Project, error) {
	if patch.Empty() {
		return nil, errs.FieldError("name", "Nothing to update")
	}

	unlock := r.keys.Lock(recordKey(schema.KindProject, id))
	defer unlock()

	p, err := r.localProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return r.remote.UpdateProject(ctx, sess, id, patch)
	}

	base := baseOf(p.SyncedAt, p.UpdatedAt)
	patch.Apply(p)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.UpdatedAt = r.now()

	cached, err := r.write(ctx, func() error { return r.store.PutProject(ctx, p) })
	if err != nil {
		return nil, err
	}
	if !cached {
		return r.remote.UpdateProject(ctx, sess, id, patch)
	}

	rec, out, err := r.pushLocked(ctx, sess, schema.ProjectChange(schema.OpUpdate, p, base))
	return projectResult(p, rec, out, err)
}

// DeleteProject deletes a project and its todos.
func (r *Reconciler) DeleteProject(ctx context.Context, sess Session, id string) error {
	unlock := r.keys.Lock(recordKey(schema.KindProject, id))
	defer unlock()

	p, err := r.localProject(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return r.remote.DeleteProject(ctx, sess, id)
	}

	cached, err := r.write(ctx, func() error { return r.store.DeleteProject(ctx, id) })
	if err != nil {
		return err
	}
	if !cached {
		return r.remote.DeleteProject(ctx, sess, id)
	}

	_, _, err = r.pushLocked(ctx, sess, schema.DeleteChange(schema.KindProject, id, baseOf(p.SyncedAt, p.UpdatedAt)))
	return err
}

// CreateTodo adds a todo to projectID.
func (r *Reconciler) CreateTodo(ctx context.Context, sess Session, projectID, title string) (*schema.Todo, error) {
	t := schema.NewTodo(projectID, title, r.now())
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := r.checkProject(ctx, projectID); err != nil {
		return nil, err
	}

	unlock := r.keys.Lock(recordKey(schema.KindTodo, t.ID))
	defer unlock()

	cached, err := r.write(ctx, func() error { return r.store.PutTodo(ctx, t) })
	if err != nil {
		return nil, err
	}
	if !cached {
		return r.remote.CreateTodo(ctx, sess, t)
	}

	rec, out, err := r.pushLocked(ctx, sess, schema.TodoChange(schema.OpCreate, t, nil))
	return todoResult(t, rec, out, err)
}

// UpdateTodo applies patch to the todo with id. Setting ProjectID moves the
// todo to another of the user's projects.
func (r *Reconciler) UpdateTodo(ctx context.Context, sess Session, id string, patch schema.TodoPatch) (*schema.Todo, error) {
	if patch.Empty() {
		return nil, errs.FieldError("title", "Nothing to update")
	}
	if patch.ProjectID != nil {
		if err := r.checkProject(ctx, *patch.ProjectID); err != nil {
			return nil, err
		}
	}

	unlock := r.keys.Lock(recordKey(schema.KindTodo, id))
	defer unlock()

	t, err := r.localTodo(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return r.remote.UpdateTodo(ctx, sess, id, patch)
	}
	return r.updateTodoLocked(ctx, sess, t, patch)
}

// ToggleTodo flips the completion flag of a todo.
func (r *Reconciler) ToggleTodo(ctx context.Context, sess Session, id string) (*schema.Todo, error) {
	unlock := r.keys.Lock(recordKey(schema.KindTodo, id))
	defer unlock()

	t, err := r.localTodo(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		t, err = r.remoteTodo(ctx, sess, id)
		if err != nil {
			return nil, err
		}
		done := !t.IsCompleted
		return r.remote.UpdateTodo(ctx, sess, id, schema.TodoPatch{IsCompleted: &done})
	}

	done := !t.IsCompleted
	return r.updateTodoLocked(ctx, sess, t, schema.TodoPatch{IsCompleted: &done})
}

func (r *Reconciler) updateTodoLocked(ctx context.Context, sess Session, t *schema.Todo, patch schema.TodoPatch) (*schema.Todo, error) {
	base := baseOf(t.SyncedAt, t.UpdatedAt)
	patch.Apply(t)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.UpdatedAt = r.now()

	cached, err := r.write(ctx, func() error { return r.store.PutTodo(ctx, t) })
	if err != nil {
		return nil, err
	}
	if !cached {
		return r.remote.UpdateTodo(ctx, sess, t.ID, patch)
	}

	rec, out, err := r.pushLocked(ctx, sess, schema.TodoChange(schema.OpUpdate, t, base))
	return todoResult(t, rec, out, err)
}

// DeleteTodo deletes a todo.
func (r *Reconciler) DeleteTodo(ctx context.Context, sess Session, id string) error {
	unlock := r.keys.Lock(recordKey(schema.KindTodo, id))
	defer unlock()

	t, err := r.localTodo(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return r.remote.DeleteTodo(ctx, sess, id)
	}

	cached, err := r.write(ctx, func() error { return r.store.DeleteTodo(ctx, id) })
	if err != nil {
		return err
	}
	if !cached {
		return r.remote.DeleteTodo(ctx, sess, id)
	}

	_, _, err = r.pushLocked(ctx, sess, schema.DeleteChange(schema.KindTodo, id, baseOf(t.SyncedAt, t.UpdatedAt)))
	return err
}

// write runs fn against the local store. It returns false, with a nil
// error, when there is no usable store and the caller should go direct.
func (r *Reconciler) write(ctx context.Context, fn func() error) (bool, error) {
	if r.store == nil {
		return false, nil
	}
	err := fn()
	if errors.Is(err, errs.ErrStorageUnavailable) {
		r.logger.Printf("WARNING: Local store unavailable, writing to server directly: %v", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// localProject returns the cached project, or nil if the store is absent
// or unreadable.
func (r *Reconciler) localProject(ctx context.Context, id string) (*schema.Project, error) {
	if r.store == nil {
		return nil, nil
	}
	p, err := r.store.GetProject(ctx, id)
	if errors.Is(err, errs.ErrStorageUnavailable) {
		return nil, nil
	}
	return p, err
}

func (r *Reconciler) localTodo(ctx context.Context, id string) (*schema.Todo, error) {
	if r.store == nil {
		return nil, nil
	}
	t, err := r.store.GetTodo(ctx, id)
	if errors.Is(err, errs.ErrStorageUnavailable) {
		return nil, nil
	}
	return t, err
}

func (r *Reconciler) remoteTodo(ctx context.Context, sess Session, id string) (*schema.Todo, error) {
	snap, err := r.remote.FetchAll(ctx, sess)
	if err != nil {
		return nil, err
	}
	for i := range snap.Todos {
		if snap.Todos[i].ID == id {
			return &snap.Todos[i], nil
		}
	}
	return nil, fmt.Errorf("todo %s: %w", id, errs.ErrNotFound)
}

// checkProject verifies that projectID exists in the local mirror. Without
// a store the server performs the check.
func (r *Reconciler) checkProject(ctx context.Context, projectID string) error {
	_, err := r.localProject(ctx, projectID)
	if errors.Is(err, errs.ErrNotFound) {
		return errs.FieldError("projectId", "Project not found")
	}
	return err
}

// baseOf returns the server updatedAt a mutation is based on, or nil for a
// record the server has not confirmed.
func baseOf(synced *time.Time, updated time.Time) *time.Time {
	if synced == nil {
		return nil
	}
	u := updated
	return &u
}

func projectResult(local *schema.Project, rec schema.Record, out PushOutcome, err error) (*schema.Project, error) {
	if err != nil && out != Queued {
		return nil, err
	}
	if out == Discarded {
		return nil, fmt.Errorf("project %s: %w", local.ID, errs.ErrNotFound)
	}
	if p, ok := rec.(*schema.Project); ok && p != nil {
		return p, err
	}
	return local, err
}

func todoResult(local *schema.Todo, rec schema.Record, out PushOutcome, err error) (*schema.Todo, error) {
	if err != nil && out != Queued {
		return nil, err
	}
	if out == Discarded {
		return nil, fmt.Errorf("todo %s: %w", local.ID, errs.ErrNotFound)
	}
	if t, ok := rec.(*schema.Todo); ok && t != nil {
		return t, err
	}
	return local, err
}
