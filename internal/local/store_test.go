package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// openTestStore opens a store in a temp dir and closes it with the test.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), DatabaseName))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesTables(t *testing.T) {
	s := openTestStore(t)

	for _, table := range []string{"projects", "todos", "outbox", "sync_state"} {
		var count int
		err := s.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), DatabaseName)
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	p := schema.NewProject("Work", time.Now())
	if err := s.PutProject(ctx, p); err != nil {
		t.Fatalf("PutProject() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := s.GetProject(ctx, p.ID); err != nil {
		t.Errorf("GetProject() after reopen failed: %v", err)
	}
}

func TestOpen_Unavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(filepath.Join(blocker, DatabaseName))
	if !errors.Is(err, errs.ErrStorageUnavailable) {
		t.Fatalf("Open() error = %v, want ErrStorageUnavailable", err)
	}
}

func TestProjectRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 9, 30, 0, 123456789, time.UTC)
	p := schema.NewProject("Groceries", now)
	p.Color = "#ff0000"
	p.Order = 3

	if err := s.Put(ctx, p); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	rec, err := s.Get(ctx, schema.KindProject, p.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	got := rec.(*schema.Project)
	if !got.Equal(p) {
		t.Errorf("Get() = %+v, want %+v", got, p)
	}
	if got.SyncedAt != nil {
		t.Errorf("SyncedAt = %v, want nil", got.SyncedAt)
	}

	// upsert replaces the row
	p.Name = "Shopping"
	p.UpdatedAt = now.Add(time.Minute)
	if err := s.Put(ctx, p); err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}
	got, err = s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject() failed: %v", err)
	}
	if got.Name != "Shopping" || !got.UpdatedAt.Equal(p.UpdatedAt) {
		t.Errorf("after upsert got name=%q updated=%v", got.Name, got.UpdatedAt)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(context.Background(), schema.KindTodo, "missing")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGetAll_Empty(t *testing.T) {
	s := openTestStore(t)

	for _, kind := range []schema.Kind{schema.KindProject, schema.KindTodo} {
		recs, err := s.GetAll(context.Background(), kind)
		if err != nil {
			t.Fatalf("GetAll(%s) error = %v", kind, err)
		}
		if recs == nil || len(recs) != 0 {
			t.Errorf("GetAll(%s) = %#v, want empty non-nil slice", kind, recs)
		}
	}
}

func TestDeleteProject_CascadesTodos(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	p := schema.NewProject("Home", now)
	other := schema.NewProject("Work", now)
	for _, proj := range []*schema.Project{p, other} {
		if err := s.PutProject(ctx, proj); err != nil {
			t.Fatal(err)
		}
	}

	for _, title := range []string{"Dishes", "Laundry"} {
		if err := s.PutTodo(ctx, schema.NewTodo(p.ID, title, now)); err != nil {
			t.Fatal(err)
		}
	}
	keep := schema.NewTodo(other.ID, "Report", now)
	if err := s.PutTodo(ctx, keep); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, schema.KindProject, p.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	todos, err := s.GetTodosByProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetTodosByProject() failed: %v", err)
	}
	if len(todos) != 0 {
		t.Errorf("GetTodosByProject() = %d todos, want 0", len(todos))
	}

	if _, err := s.GetTodo(ctx, keep.ID); err != nil {
		t.Errorf("todo of another project was removed: %v", err)
	}

	// idempotent
	if err := s.Delete(ctx, schema.KindProject, p.ID); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}
}

func TestListTodos_Ordering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	projectID := "11111111-1111-1111-1111-111111111111"

	a := schema.NewTodo(projectID, "a", base.Add(2*time.Second))
	b := schema.NewTodo(projectID, "b", base.Add(time.Second))
	c := schema.NewTodo(projectID, "c", base)
	c.Order = 1
	for _, td := range []*schema.Todo{a, b, c} {
		if err := s.PutTodo(ctx, td); err != nil {
			t.Fatal(err)
		}
	}

	todos, err := s.ListTodos(ctx)
	if err != nil {
		t.Fatalf("ListTodos() failed: %v", err)
	}

	want := []string{"b", "a", "c"}
	if len(todos) != len(want) {
		t.Fatalf("ListTodos() = %d todos, want %d", len(todos), len(want))
	}
	for i, title := range want {
		if todos[i].Title != title {
			t.Errorf("todos[%d] = %q, want %q", i, todos[i].Title, title)
		}
	}
}

func TestMarkSynced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	td := schema.NewTodo("11111111-1111-1111-1111-111111111111", "Call mom", now)
	if err := s.PutTodo(ctx, td); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSynced(ctx, schema.KindTodo, td.ID, now); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	got, err := s.GetTodo(ctx, td.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncedAt == nil || !got.SyncedAt.Equal(now) {
		t.Errorf("SyncedAt = %v, want %v", got.SyncedAt, now)
	}
	if !got.Equal(td) {
		t.Error("MarkSynced() changed record content")
	}
}

func TestOutbox_FIFO(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	p := schema.NewProject("Home", now)
	td := schema.NewTodo(p.ID, "Dishes", now)

	changes := []*schema.Change{
		schema.ProjectChange(schema.OpCreate, p, nil),
		schema.TodoChange(schema.OpCreate, td, nil),
		schema.DeleteChange(schema.KindTodo, td.ID, &now),
	}
	for _, c := range changes {
		if _, err := s.Enqueue(ctx, c); err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
	}

	pending, err := s.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("Pending() = %d changes, want 3", len(pending))
	}
	for i, c := range pending {
		if c.Seq != changes[i].Seq || c.Op != changes[i].Op || c.Key() != changes[i].Key() {
			t.Errorf("pending[%d] = %s %s (seq %d), want %s %s (seq %d)",
				i, c.Op, c.Key(), c.Seq, changes[i].Op, changes[i].Key(), changes[i].Seq)
		}
	}
	if pending[0].Project == nil || pending[0].Project.Name != "Home" {
		t.Errorf("project payload not restored: %+v", pending[0].Project)
	}
	if pending[2].BaseUpdatedAt == nil || !pending[2].BaseUpdatedAt.Equal(now) {
		t.Errorf("BaseUpdatedAt = %v, want %v", pending[2].BaseUpdatedAt, now)
	}

	has, err := s.HasPending(ctx, schema.KindTodo, td.ID)
	if err != nil || !has {
		t.Errorf("HasPending() = %v, %v; want true", has, err)
	}

	if err := s.Ack(ctx, pending[1].Seq, pending[2].Seq); err != nil {
		t.Fatalf("Ack() failed: %v", err)
	}
	if has, _ := s.HasPending(ctx, schema.KindTodo, td.ID); has {
		t.Error("HasPending() = true after ack")
	}
	if n, _ := s.PendingCount(ctx); n != 1 {
		t.Errorf("PendingCount() = %d, want 1", n)
	}
}

func TestOutbox_RecordFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seq, err := s.Enqueue(ctx, schema.DeleteChange(schema.KindProject, "p1", nil))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.RecordFailure(ctx, seq, errs.ErrSyncUnavailable); err != nil {
			t.Fatalf("RecordFailure() failed: %v", err)
		}
	}

	pending, err := s.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pending[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", pending[0].Attempts)
	}
	if pending[0].LastError != errs.ErrSyncUnavailable.Error() {
		t.Errorf("LastError = %q", pending[0].LastError)
	}
}

func TestEnqueue_RejectsInvalid(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Enqueue(context.Background(), &schema.Change{Kind: schema.KindTodo, Op: schema.OpUpdate, EntityID: "x"})
	if err == nil {
		t.Error("Enqueue() accepted an update without payload")
	}
}

func TestSyncStateAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if last, err := s.LastPull(ctx); err != nil || last != nil {
		t.Fatalf("LastPull() = %v, %v; want nil, nil", last, err)
	}
	if err := s.SetLastPull(ctx, now); err != nil {
		t.Fatal(err)
	}
	if err := s.SetOwner(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}

	p := schema.NewProject("Home", now)
	p.SyncedAt = &now
	if err := s.PutProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.PutTodo(ctx, schema.NewTodo(p.ID, "Dishes", now)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enqueue(ctx, schema.DeleteChange(schema.KindTodo, "t1", nil)); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if st.Projects != 1 || st.Todos != 1 || st.Pending != 1 || st.Unsynced != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.LastPull == nil || !st.LastPull.Equal(now) {
		t.Errorf("Stats().LastPull = %v, want %v", st.LastPull, now)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	owner, err := s.Owner(ctx)
	if err != nil || owner != "" {
		t.Errorf("Owner() after Reset = %q, %v", owner, err)
	}
	if st, _ := s.Stats(ctx); st.Projects != 0 || st.Todos != 0 || st.Pending != 0 {
		t.Errorf("Stats() after Reset = %+v", st)
	}
}
