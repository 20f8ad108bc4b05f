package schema

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
)

func TestProjectValidate(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name      string
		project   *Project
		wantField string
	}{
		{"valid", NewProject("Groceries", now), ""},
		{"empty name", NewProject("   ", now), "name"},
		{"long name", NewProject(strings.Repeat("a", 256), now), "name"},
		{"bad color", &Project{ID: NewProject("x", now).ID, Name: "x", Color: "blue"}, "color"},
		{"short color", &Project{ID: NewProject("x", now).ID, Name: "x", Color: "#fff"}, ""},
		{"bad id", &Project{ID: "p-1", Name: "x"}, "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.project.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("Validate() error = %v, want validation error", err)
			}
			if _, ok := errs.FieldErrors(err)[tt.wantField]; !ok {
				t.Errorf("Validate() fields = %v, want %q", errs.FieldErrors(err), tt.wantField)
			}
		})
	}
}

func TestNewProjectDefaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	p := NewProject("  Work  ", now)

	if p.Name != "Work" {
		t.Errorf("Name = %q, want trimmed 'Work'", p.Name)
	}
	if p.Color != DefaultColor {
		t.Errorf("Color = %q, want %q", p.Color, DefaultColor)
	}
	if !p.CreatedAt.Equal(now) || !p.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v, want %v", p.CreatedAt, p.UpdatedAt, now)
	}
	if p.SyncedAt != nil {
		t.Errorf("SyncedAt = %v, want nil for a new project", p.SyncedAt)
	}
}

func TestTodoPatchApply(t *testing.T) {
	now := time.Now()
	todo := NewTodo("11111111-1111-1111-1111-111111111111", "Buy milk", now)

	title := "  Buy milk and eggs "
	done := true
	TodoPatch{Title: &title, IsCompleted: &done}.Apply(todo)

	if todo.Title != "Buy milk and eggs" {
		t.Errorf("Title = %q", todo.Title)
	}
	if !todo.IsCompleted {
		t.Error("IsCompleted = false, want true")
	}
	if (TodoPatch{}).Empty() != true {
		t.Error("zero TodoPatch should be empty")
	}
}

func TestEqualIgnoresSyncMarker(t *testing.T) {
	now := time.Now()
	a := NewTodo("11111111-1111-1111-1111-111111111111", "Buy milk", now)
	b := *a
	synced := now.Add(time.Minute)
	b.SyncedAt = &synced

	if !a.Equal(&b) {
		t.Error("Equal() = false, want true when only SyncedAt differs")
	}
	b.Title = "Other"
	if a.Equal(&b) {
		t.Error("Equal() = true, want false when title differs")
	}
}

func TestChangeValidate(t *testing.T) {
	now := time.Now()
	p := NewProject("Home", now)

	tests := []struct {
		name    string
		change  *Change
		wantErr bool
	}{
		{"project create", ProjectChange(OpCreate, p, nil), false},
		{"delete", DeleteChange(KindTodo, "abc", nil), false},
		{"missing payload", &Change{Kind: KindProject, Op: OpUpdate, EntityID: p.ID}, true},
		{"mismatched payload", &Change{Kind: KindTodo, Op: OpCreate, EntityID: "x", Todo: NewTodo(p.ID, "t", now)}, true},
		{"bad kind", &Change{Kind: "users", Op: OpDelete, EntityID: "x"}, true},
		{"bad op", &Change{Kind: KindTodo, Op: "merge", EntityID: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.change.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
