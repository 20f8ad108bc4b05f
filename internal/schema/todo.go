package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
)

// Todo is a single task inside a project. UserID is denormalized from the
// project for access control on the server.
type Todo struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	UserID      string    `json:"userId,omitempty"`
	Title       string    `json:"title"`
	IsCompleted bool      `json:"isCompleted"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// SyncedAt is local bookkeeping, see Project.SyncedAt.
	SyncedAt *time.Time `json:"-"`
}

func (t *Todo) RecordID() string       { return t.ID }
func (t *Todo) RecordKind() Kind       { return KindTodo }
func (t *Todo) LastUpdated() time.Time { return t.UpdatedAt }

// NewTodo returns an open todo in projectID with a fresh id.
func NewTodo(projectID, title string, now time.Time) *Todo {
	return &Todo{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     strings.TrimSpace(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetDefaults applies default values for optional fields.
func (t *Todo) SetDefaults(now time.Time) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
}

// Validate checks content fields.
func (t *Todo) Validate() error {
	v := errs.NewValidationError()
	if t.ID == "" {
		v.Add("id", "Id is required")
	} else if _, err := uuid.Parse(t.ID); err != nil {
		v.Add("id", "Id must be a UUID")
	}
	if t.ProjectID == "" {
		v.Add("projectId", "Project is required")
	}
	validateName(v, "title", "Title", t.Title)
	return v.OrNil()
}

// Equal compares content and timestamps, ignoring sync bookkeeping.
func (t *Todo) Equal(o *Todo) bool {
	return t.ID == o.ID &&
		t.ProjectID == o.ProjectID &&
		t.Title == o.Title &&
		t.IsCompleted == o.IsCompleted &&
		t.Order == o.Order &&
		t.CreatedAt.Equal(o.CreatedAt) &&
		t.UpdatedAt.Equal(o.UpdatedAt)
}

// TodoPatch carries the mutable todo fields. A non-nil ProjectID moves the
// todo to another project of the same user.
type TodoPatch struct {
	Title       *string `json:"title,omitempty"`
	IsCompleted *bool   `json:"isCompleted,omitempty"`
	Order       *int    `json:"order,omitempty"`
	ProjectID   *string `json:"projectId,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (tp TodoPatch) Empty() bool {
	return tp.Title == nil && tp.IsCompleted == nil && tp.Order == nil && tp.ProjectID == nil
}

// Apply copies the set fields onto t.
func (tp TodoPatch) Apply(t *Todo) {
	if tp.Title != nil {
		t.Title = strings.TrimSpace(*tp.Title)
	}
	if tp.IsCompleted != nil {
		t.IsCompleted = *tp.IsCompleted
	}
	if tp.Order != nil {
		t.Order = *tp.Order
	}
	if tp.ProjectID != nil {
		t.ProjectID = *tp.ProjectID
	}
}

// PatchFromTodo returns a patch that sets every mutable field of t.
func PatchFromTodo(t *Todo) TodoPatch {
	title, done, order, project := t.Title, t.IsCompleted, t.Order, t.ProjectID
	return TodoPatch{Title: &title, IsCompleted: &done, Order: &order, ProjectID: &project}
}
