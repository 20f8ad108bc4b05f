package schema

import (
	"fmt"
	"time"
)

// User is the public view of an account. The password hash never leaves
// the server store.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is the full data set of one user as returned by the server.
type Snapshot struct {
	Projects   []Project `json:"projects"`
	Todos      []Todo    `json:"todos"`
	ServerTime time.Time `json:"serverTime"`
}

// Op is the kind of mutation carried by a Change.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one local mutation waiting to reach the server.
//
// Exactly one of Project or Todo is set for create and update. Deletes
// only need Kind and EntityID. BaseUpdatedAt is the server's updatedAt of
// the copy the mutation was made against; nil for records the server has
// never seen.
type Change struct {
	Seq           int64      `json:"seq,omitempty"`
	Kind          Kind       `json:"kind"`
	Op            Op         `json:"op"`
	EntityID      string     `json:"entityId"`
	Project       *Project   `json:"project,omitempty"`
	Todo          *Todo      `json:"todo,omitempty"`
	BaseUpdatedAt *time.Time `json:"baseUpdatedAt,omitempty"`
	QueuedAt      time.Time  `json:"queuedAt"`
	Attempts      int        `json:"attempts,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// Key identifies the entity a change targets.
func (c *Change) Key() string {
	return string(c.Kind) + "/" + c.EntityID
}

// Validate checks that the change is internally consistent.
func (c *Change) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", c.Kind)
	}
	if c.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	switch c.Op {
	case OpCreate, OpUpdate:
		switch c.Kind {
		case KindProject:
			if c.Project == nil || c.Project.ID != c.EntityID {
				return fmt.Errorf("%s %s needs a matching project payload", c.Op, c.EntityID)
			}
		case KindTodo:
			if c.Todo == nil || c.Todo.ID != c.EntityID {
				return fmt.Errorf("%s %s needs a matching todo payload", c.Op, c.EntityID)
			}
		}
	case OpDelete:
	default:
		return fmt.Errorf("unknown op %q", c.Op)
	}
	return nil
}

// ProjectChange builds a create/update change for p.
func ProjectChange(op Op, p *Project, base *time.Time) *Change {
	cp := *p
	cp.SyncedAt = nil
	return &Change{Kind: KindProject, Op: op, EntityID: p.ID, Project: &cp, BaseUpdatedAt: base}
}

// TodoChange builds a create/update change for t.
func TodoChange(op Op, t *Todo, base *time.Time) *Change {
	ct := *t
	ct.SyncedAt = nil
	return &Change{Kind: KindTodo, Op: op, EntityID: t.ID, Todo: &ct, BaseUpdatedAt: base}
}

// DeleteChange builds a delete change.
func DeleteChange(kind Kind, id string, base *time.Time) *Change {
	return &Change{Kind: kind, Op: OpDelete, EntityID: id, BaseUpdatedAt: base}
}
