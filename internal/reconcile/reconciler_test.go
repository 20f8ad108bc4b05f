package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/local"
	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// clock is a settable time source shared by the reconciler and fakeRemote.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// fakeRemote is an in-memory server with per-user scoping.
type fakeRemote struct {
	mu       sync.Mutex
	clock    *clock
	offline  bool
	projects map[string]schema.Project
	todos    map[string]schema.Todo
	calls    map[string]int
}

func newFakeRemote(c *clock) *fakeRemote {
	return &fakeRemote{
		clock:    c,
		projects: make(map[string]schema.Project),
		todos:    make(map[string]schema.Todo),
		calls:    make(map[string]int),
	}
}

func (f *fakeRemote) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *fakeRemote) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRemote) enter(name string) error {
	if f.offline {
		return fmt.Errorf("dial server: %w", errs.ErrSyncUnavailable)
	}
	f.calls[name]++
	return nil
}

// editTodo changes a todo as another client would.
func (f *fakeRemote) editTodo(id, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.todos[id]
	t.Title = title
	t.UpdatedAt = f.clock.Now()
	f.todos[id] = t
}

func (f *fakeRemote) FetchAll(ctx context.Context, sess Session) (*schema.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FetchAll"); err != nil {
		return nil, err
	}
	snap := &schema.Snapshot{Projects: []schema.Project{}, Todos: []schema.Todo{}, ServerTime: f.clock.Now()}
	for _, p := range f.projects {
		if p.UserID == sess.UserID {
			snap.Projects = append(snap.Projects, p)
		}
	}
	for _, t := range f.todos {
		if t.UserID == sess.UserID {
			snap.Todos = append(snap.Todos, t)
		}
	}
	return snap, nil
}

func (f *fakeRemote) CreateProject(ctx context.Context, sess Session, p *schema.Project) (*schema.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateProject"); err != nil {
		return nil, err
	}
	if cur, ok := f.projects[p.ID]; ok {
		if cur.UserID != sess.UserID {
			return nil, errs.FieldError("id", "Id is already in use")
		}
		return &cur, nil
	}
	cp := *p
	cp.UserID = sess.UserID
	cp.SyncedAt = nil
	cp.CreatedAt = f.clock.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.projects[p.ID] = cp
	return &cp, nil
}

func (f *fakeRemote) UpdateProject(ctx context.Context, sess Session, id string, patch schema.ProjectPatch) (*schema.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateProject"); err != nil {
		return nil, err
	}
	cur, ok := f.projects[id]
	if !ok || cur.UserID != sess.UserID {
		return nil, errs.ErrNotFound
	}
	patch.Apply(&cur)
	cur.UpdatedAt = f.clock.Now()
	f.projects[id] = cur
	return &cur, nil
}

func (f *fakeRemote) DeleteProject(ctx context.Context, sess Session, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteProject"); err != nil {
		return err
	}
	cur, ok := f.projects[id]
	if !ok || cur.UserID != sess.UserID {
		return errs.ErrNotFound
	}
	delete(f.projects, id)
	for tid, t := range f.todos {
		if t.ProjectID == id {
			delete(f.todos, tid)
		}
	}
	return nil
}

func (f *fakeRemote) CreateTodo(ctx context.Context, sess Session, t *schema.Todo) (*schema.Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateTodo"); err != nil {
		return nil, err
	}
	if p, ok := f.projects[t.ProjectID]; !ok || p.UserID != sess.UserID {
		return nil, errs.ErrNotFound
	}
	if cur, ok := f.todos[t.ID]; ok && cur.UserID == sess.UserID {
		return &cur, nil
	}
	ct := *t
	ct.UserID = sess.UserID
	ct.SyncedAt = nil
	ct.CreatedAt = f.clock.Now()
	ct.UpdatedAt = ct.CreatedAt
	f.todos[t.ID] = ct
	return &ct, nil
}

func (f *fakeRemote) UpdateTodo(ctx context.Context, sess Session, id string, patch schema.TodoPatch) (*schema.Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateTodo"); err != nil {
		return nil, err
	}
	cur, ok := f.todos[id]
	if !ok || cur.UserID != sess.UserID {
		return nil, errs.ErrNotFound
	}
	if patch.ProjectID != nil {
		if p, ok := f.projects[*patch.ProjectID]; !ok || p.UserID != sess.UserID {
			return nil, errs.ErrNotFound
		}
	}
	patch.Apply(&cur)
	cur.UpdatedAt = f.clock.Now()
	f.todos[id] = cur
	return &cur, nil
}

func (f *fakeRemote) DeleteTodo(ctx context.Context, sess Session, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteTodo"); err != nil {
		return err
	}
	cur, ok := f.todos[id]
	if !ok || cur.UserID != sess.UserID {
		return errs.ErrNotFound
	}
	delete(f.todos, id)
	return nil
}

var (
	alice = Session{UserID: "user-alice", Token: "token-alice"}
	bob   = Session{UserID: "user-bob", Token: "token-bob"}
	t0    = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

type harness struct {
	r      *Reconciler
	store  *local.Store
	remote *fakeRemote
	clock  *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := local.Open(filepath.Join(t.TempDir(), local.DatabaseName))
	if err != nil {
		t.Fatalf("local.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clk := &clock{t: t0}
	remote := newFakeRemote(clk)
	r := New(store, remote, log.New(io.Discard, "", 0))
	r.now = clk.Now
	if err := r.Bind(context.Background(), alice); err != nil {
		t.Fatalf("Bind() failed: %v", err)
	}
	return &harness{r: r, store: store, remote: remote, clock: clk}
}

func TestPull_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := schema.NewProject("Home", t0)
	if _, err := h.remote.CreateProject(ctx, alice, p); err != nil {
		t.Fatal(err)
	}
	for _, title := range []string{"Dishes", "Laundry"} {
		if _, err := h.remote.CreateTodo(ctx, alice, schema.NewTodo(p.ID, title, t0)); err != nil {
			t.Fatal(err)
		}
	}
	// Another user's data never shows up.
	other := schema.NewProject("Bob's", t0)
	if _, err := h.remote.CreateProject(ctx, bob, other); err != nil {
		t.Fatal(err)
	}

	first, err := h.r.Pull(ctx, alice)
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if first.Inserted != 3 {
		t.Errorf("first Pull() inserted %d, want 3", first.Inserted)
	}

	second, err := h.r.Pull(ctx, alice)
	if err != nil {
		t.Fatalf("second Pull() failed: %v", err)
	}
	if second.Writes() != 0 {
		t.Errorf("second Pull() wrote %d records, want 0 (%+v)", second.Writes(), second)
	}

	todos, err := h.store.GetTodosByProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(todos) != 2 {
		t.Errorf("GetTodosByProject() = %d, want 2", len(todos))
	}
	if _, err := h.store.GetProject(ctx, other.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("foreign project pulled: %v", err)
	}
}

func TestPull_OfflineLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.r.CreateProject(ctx, alice, "Home", "")
	if err != nil {
		t.Fatal(err)
	}

	h.remote.setOffline(true)
	_, err = h.r.Pull(ctx, alice)
	if !errors.Is(err, errs.ErrSyncUnavailable) {
		t.Fatalf("Pull() error = %v, want ErrSyncUnavailable", err)
	}
	if _, err := h.store.GetProject(ctx, p.ID); err != nil {
		t.Errorf("local project lost after failed pull: %v", err)
	}
}

func TestPull_PreservesUnsyncedAndDropsDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	synced, err := h.r.CreateProject(ctx, alice, "Synced", "")
	if err != nil {
		t.Fatal(err)
	}

	h.remote.setOffline(true)
	offline, err := h.r.CreateProject(ctx, alice, "Offline", "")
	if err != nil {
		t.Fatalf("CreateProject() offline failed: %v", err)
	}
	h.remote.setOffline(false)

	// Deleted on the server by another client.
	if err := h.remote.DeleteProject(ctx, alice, synced.ID); err != nil {
		t.Fatal(err)
	}

	res, err := h.r.Pull(ctx, alice)
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if res.Deleted != 1 {
		t.Errorf("Pull() deleted %d, want 1", res.Deleted)
	}
	if _, err := h.store.GetProject(ctx, synced.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("synced project deleted on server still local: %v", err)
	}
	if _, err := h.store.GetProject(ctx, offline.ID); err != nil {
		t.Errorf("unsynced project dropped by pull: %v", err)
	}
}

func TestReconcile_ServerWinsWhenNewer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.r.CreateProject(ctx, alice, "Home", "")
	if err != nil {
		t.Fatal(err)
	}
	todo, err := h.r.CreateTodo(ctx, alice, p.ID, "original")
	if err != nil {
		t.Fatal(err)
	}

	// t=10: edited offline.
	h.remote.setOffline(true)
	h.clock.Set(at(10))
	title := "local"
	if _, err := h.r.UpdateTodo(ctx, alice, todo.ID, schema.TodoPatch{Title: &title}); err != nil {
		t.Fatalf("offline UpdateTodo() failed: %v", err)
	}

	// t=20: edited on the server by another client.
	h.remote.setOffline(false)
	h.clock.Set(at(20))
	h.remote.editTodo(todo.ID, "server")

	res, err := h.r.ReconcileOnReconnect(ctx, alice)
	if err != nil {
		t.Fatalf("ReconcileOnReconnect() failed: %v", err)
	}
	if res.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", res.Conflicts)
	}
	if h.remote.callCount("UpdateTodo") != 0 {
		t.Errorf("stale local change reached the server")
	}

	got, err := h.store.GetTodo(ctx, todo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "server" {
		t.Errorf("local title = %q, want %q", got.Title, "server")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
}

func TestReconcile_CollapsesOfflineEdits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.r.CreateProject(ctx, alice, "Home", "")
	if err != nil {
		t.Fatal(err)
	}
	todo, err := h.r.CreateTodo(ctx, alice, p.ID, "v0")
	if err != nil {
		t.Fatal(err)
	}

	h.remote.setOffline(true)
	for i, title := range []string{"v1", "v2"} {
		h.clock.Set(at(i + 1))
		title := title
		if _, err := h.r.UpdateTodo(ctx, alice, todo.ID, schema.TodoPatch{Title: &title}); err != nil {
			t.Fatalf("UpdateTodo(%q) failed: %v", title, err)
		}
	}
	if n, _ := h.store.PendingCount(ctx); n != 2 {
		t.Fatalf("PendingCount() = %d, want 2", n)
	}

	h.remote.setOffline(false)
	res, err := h.r.ReconcileOnReconnect(ctx, alice)
	if err != nil {
		t.Fatalf("ReconcileOnReconnect() failed: %v", err)
	}

	if got := h.remote.callCount("UpdateTodo"); got != 1 {
		t.Errorf("UpdateTodo calls = %d, want exactly 1", got)
	}
	if res.Replayed != 1 {
		t.Errorf("Replayed = %d, want 1", res.Replayed)
	}
	if got := h.remote.todos[todo.ID].Title; got != "v2" {
		t.Errorf("server title = %q, want %q", got, "v2")
	}
}

func TestReconcile_OfflineCreateThenDeleteSendsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.setOffline(true)
	p, err := h.r.CreateProject(ctx, alice, "Temp", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.r.DeleteProject(ctx, alice, p.ID); err != nil {
		t.Fatal(err)
	}
	h.remote.setOffline(false)

	res, err := h.r.ReconcileOnReconnect(ctx, alice)
	if err != nil {
		t.Fatalf("ReconcileOnReconnect() failed: %v", err)
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", res.Dropped)
	}
	if h.remote.callCount("CreateProject")+h.remote.callCount("DeleteProject") != 0 {
		t.Error("cancelled chain reached the server")
	}
}

func TestReconcile_ParentsBeforeChildren(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.setOffline(true)
	p, err := h.r.CreateProject(ctx, alice, "Trip", "")
	if err != nil {
		t.Fatal(err)
	}
	todo, err := h.r.CreateTodo(ctx, alice, p.ID, "Book hotel")
	if err != nil {
		t.Fatal(err)
	}
	name := "Summer trip"
	if _, err := h.r.UpdateProject(ctx, alice, p.ID, schema.ProjectPatch{Name: &name}); err != nil {
		t.Fatal(err)
	}
	h.remote.setOffline(false)

	if _, err := h.r.ReconcileOnReconnect(ctx, alice); err != nil {
		t.Fatalf("ReconcileOnReconnect() failed: %v", err)
	}

	if got := h.remote.projects[p.ID].Name; got != name {
		t.Errorf("server project name = %q, want %q", got, name)
	}
	if _, ok := h.remote.todos[todo.ID]; !ok {
		t.Error("todo created offline missing on server")
	}
	if h.remote.callCount("UpdateProject") != 0 {
		t.Error("rename was sent separately instead of folded into the create")
	}

	got, err := h.store.GetTodo(ctx, todo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncedAt == nil {
		t.Error("replayed todo has no sync marker")
	}
}

func TestCreateTodo_WaitsForQueuedProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.setOffline(true)
	p, err := h.r.CreateProject(ctx, alice, "Trip", "")
	if err != nil {
		t.Fatal(err)
	}
	h.remote.setOffline(false)

	todo, err := h.r.CreateTodo(ctx, alice, p.ID, "Book hotel")
	if err != nil {
		t.Fatalf("CreateTodo() error = %v, want the todo kept locally", err)
	}
	if h.remote.callCount("CreateTodo") != 0 {
		t.Error("todo was sent before its project reached the server")
	}
	local, err := h.store.GetTodosByProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(local) != 1 {
		t.Fatalf("local todos in project = %d, want 1", len(local))
	}
	if n, _ := h.store.PendingCount(ctx); n != 2 {
		t.Errorf("PendingCount() = %d, want 2", n)
	}

	if _, err := h.r.ReconcileOnReconnect(ctx, alice); err != nil {
		t.Fatalf("ReconcileOnReconnect() failed: %v", err)
	}
	if got, ok := h.remote.todos[todo.ID]; !ok || got.ProjectID != p.ID {
		t.Errorf("server todo = %+v, want it under %s", got, p.ID)
	}
	if n, _ := h.store.PendingCount(ctx); n != 0 {
		t.Errorf("PendingCount() after reconcile = %d, want 0", n)
	}
}

func TestMoveTodo_WaitsForQueuedProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	home, err := h.r.CreateProject(ctx, alice, "Home", "")
	if err != nil {
		t.Fatal(err)
	}
	todo, err := h.r.CreateTodo(ctx, alice, home.ID, "Call plumber")
	if err != nil {
		t.Fatal(err)
	}

	h.remote.setOffline(true)
	errands, err := h.r.CreateProject(ctx, alice, "Errands", "")
	if err != nil {
		t.Fatal(err)
	}
	h.remote.setOffline(false)

	moved, err := h.r.UpdateTodo(ctx, alice, todo.ID, schema.TodoPatch{ProjectID: &errands.ID})
	if err != nil {
		t.Fatalf("UpdateTodo(move) error = %v", err)
	}
	if moved.ProjectID != errands.ID {
		t.Errorf("moved.ProjectID = %s, want %s", moved.ProjectID, errands.ID)
	}
	got, err := h.store.GetTodo(ctx, todo.ID)
	if err != nil {
		t.Fatalf("local todo dropped after move: %v", err)
	}
	if got.ProjectID != errands.ID {
		t.Errorf("local ProjectID = %s, want %s", got.ProjectID, errands.ID)
	}

	if _, err := h.r.ReconcileOnReconnect(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if pid := h.remote.todos[todo.ID].ProjectID; pid != errands.ID {
		t.Errorf("server ProjectID = %s, want %s", pid, errands.ID)
	}
}

func TestPush_RefusedCreateDropsLocal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := schema.NewProject("Taken", t0)
	if _, err := h.remote.CreateProject(ctx, bob, p); err != nil {
		t.Fatal(err)
	}
	if err := h.store.PutProject(ctx, p); err != nil {
		t.Fatal(err)
	}

	out, err := h.r.Push(ctx, alice, schema.ProjectChange(schema.OpCreate, p, nil))
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("Push() error = %v, want ErrValidation", err)
	}
	if out != Discarded {
		t.Errorf("Push() outcome = %v, want Discarded", out)
	}
	if _, err := h.store.GetProject(ctx, p.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("GetProject() error = %v, want refused create removed locally", err)
	}
	if n, _ := h.store.PendingCount(ctx); n != 0 {
		t.Errorf("PendingCount() = %d, want 0", n)
	}
}

func TestPush_StoreErrorDoesNotBypassQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := schema.NewProject("Home", t0)
	if err := h.store.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := h.r.Push(ctx, alice, schema.ProjectChange(schema.OpCreate, p, nil)); err == nil {
		t.Fatal("Push() with an unreadable outbox succeeded, want an error")
	}
	if h.remote.callCount("CreateProject") != 0 {
		t.Error("change was sent without checking the queue")
	}
}

func TestReconcile_StopsAtFirstOfflineFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.setOffline(true)
	if _, err := h.r.CreateProject(ctx, alice, "One", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := h.r.CreateProject(ctx, alice, "Two", ""); err != nil {
		t.Fatal(err)
	}

	res, err := h.r.ReconcileOnReconnect(ctx, alice)
	if !errors.Is(err, errs.ErrSyncUnavailable) {
		t.Fatalf("ReconcileOnReconnect() error = %v, want ErrSyncUnavailable", err)
	}
	if res.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2", res.Remaining)
	}

	pending, err := h.store.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pending[0].Attempts != 1 || pending[0].LastError == "" {
		t.Errorf("head change attempts=%d lastError=%q, want a recorded failure", pending[0].Attempts, pending[0].LastError)
	}
}

func TestPush_QueuesBehindPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.r.CreateProject(ctx, alice, "Home", "")
	if err != nil {
		t.Fatal(err)
	}

	h.remote.setOffline(true)
	name := "Offline name"
	if _, err := h.r.UpdateProject(ctx, alice, p.ID, schema.ProjectPatch{Name: &name}); err != nil {
		t.Fatal(err)
	}
	h.remote.setOffline(false)

	color := "#ff0000"
	if _, err := h.r.UpdateProject(ctx, alice, p.ID, schema.ProjectPatch{Color: &color}); err != nil {
		t.Fatal(err)
	}
	if h.remote.callCount("UpdateProject") != 0 {
		t.Fatal("change jumped ahead of the queued one")
	}
	if n, _ := h.store.PendingCount(ctx); n != 2 {
		t.Errorf("PendingCount() = %d, want 2", n)
	}

	if _, err := h.r.ReconcileOnReconnect(ctx, alice); err != nil {
		t.Fatal(err)
	}
	got := h.remote.projects[p.ID]
	if got.Name != name || got.Color != color {
		t.Errorf("server project = %q %q, want %q %q", got.Name, got.Color, name, color)
	}
}

func TestDeleteProject_Cascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.r.CreateProject(ctx, alice, "Home", "")
	if err != nil {
		t.Fatal(err)
	}
	for _, title := range []string{"Dishes", "Laundry"} {
		if _, err := h.r.CreateTodo(ctx, alice, p.ID, title); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.r.DeleteProject(ctx, alice, p.ID); err != nil {
		t.Fatalf("DeleteProject() failed: %v", err)
	}

	todos, err := h.store.GetTodosByProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(todos) != 0 {
		t.Errorf("local todos = %d, want 0", len(todos))
	}
	if len(h.remote.todos) != 0 || len(h.remote.projects) != 0 {
		t.Errorf("server still has %d projects, %d todos", len(h.remote.projects), len(h.remote.todos))
	}
}

func TestUpdateTodo_NotFoundOnServerDropsLocal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.r.CreateProject(ctx, alice, "Home", "")
	if err != nil {
		t.Fatal(err)
	}
	todo, err := h.r.CreateTodo(ctx, alice, p.ID, "Dishes")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.remote.DeleteTodo(ctx, alice, todo.ID); err != nil {
		t.Fatal(err)
	}

	_, err = h.r.ToggleTodo(ctx, alice, todo.ID)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("ToggleTodo() error = %v, want ErrNotFound", err)
	}
	if _, err := h.store.GetTodo(ctx, todo.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("local copy kept after server refused it: %v", err)
	}
}

func TestMutations_Validate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.r.CreateProject(ctx, alice, "", ""); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("CreateProject(\"\") error = %v, want validation error", err)
	}
	if _, err := h.r.CreateTodo(ctx, alice, "8d2d8f43-3e1a-4b57-9d7e-5d6f0c1e2a3b", "orphan"); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("CreateTodo(unknown project) error = %v, want validation error", err)
	}
	if h.remote.callCount("CreateProject")+h.remote.callCount("CreateTodo") != 0 {
		t.Error("invalid input reached the server")
	}
}

func TestBind_ResetsOnAccountChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.r.CreateProject(ctx, alice, "Alice's", ""); err != nil {
		t.Fatal(err)
	}
	if err := h.r.Bind(ctx, bob); err != nil {
		t.Fatalf("Bind(bob) failed: %v", err)
	}

	projects, err := h.store.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 0 {
		t.Errorf("bob sees %d of alice's projects", len(projects))
	}
}

func TestNoStore_GoesDirect(t *testing.T) {
	clk := &clock{t: t0}
	remote := newFakeRemote(clk)
	r := New(nil, remote, log.New(io.Discard, "", 0))
	r.now = clk.Now
	ctx := context.Background()

	if _, err := r.CreateProject(ctx, alice, "Home", ""); err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	if remote.callCount("CreateProject") != 1 {
		t.Error("project not sent to server")
	}
	if _, err := r.ToggleTodo(ctx, alice, "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("ToggleTodo(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := r.Pull(ctx, alice); !errors.Is(err, errs.ErrStorageUnavailable) {
		t.Errorf("Pull() error = %v, want ErrStorageUnavailable", err)
	}
}
