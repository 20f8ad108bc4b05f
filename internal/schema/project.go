// Package schema provides the data structures shared by the local mirror,
// the server store and the wire protocol.
package schema

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
)

// Kind names a record collection. The values double as the local
// collection (table) names.
type Kind string

const (
	KindProject Kind = "projects"
	KindTodo    Kind = "todos"
)

// Valid reports whether k is a known collection.
func (k Kind) Valid() bool {
	return k == KindProject || k == KindTodo
}

const (
	// DefaultColor is the presentation hint given to new projects.
	DefaultColor = "#3b82f6"

	// MaxNameLength bounds project names and todo titles.
	MaxNameLength = 255
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Record is implemented by *Project and *Todo.
type Record interface {
	RecordID() string
	RecordKind() Kind
	LastUpdated() time.Time
}

// Project groups todos. Owned by exactly one user.
type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// SyncedAt is local bookkeeping: when the server last confirmed this
	// copy. Nil means the record has never reached the server.
	SyncedAt *time.Time `json:"-"`
}

func (p *Project) RecordID() string       { return p.ID }
func (p *Project) RecordKind() Kind       { return KindProject }
func (p *Project) LastUpdated() time.Time { return p.UpdatedAt }

// NewProject returns a project with a fresh id, default color and
// timestamps set to now.
func NewProject(name string, now time.Time) *Project {
	return &Project{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Color:     DefaultColor,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetDefaults applies default values for optional fields.
func (p *Project) SetDefaults(now time.Time) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Color == "" {
		p.Color = DefaultColor
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
}

// Validate checks content fields and returns a *errs.ValidationError
// listing every problem, or nil.
func (p *Project) Validate() error {
	v := errs.NewValidationError()
	if p.ID == "" {
		v.Add("id", "Id is required")
	} else if _, err := uuid.Parse(p.ID); err != nil {
		v.Add("id", "Id must be a UUID")
	}
	validateName(v, "name", "Name", p.Name)
	if p.Color != "" && !colorPattern.MatchString(p.Color) {
		v.Add("color", "Color must be a hex value like #3b82f6")
	}
	return v.OrNil()
}

// Equal compares content and timestamps, ignoring sync bookkeeping.
func (p *Project) Equal(o *Project) bool {
	return p.ID == o.ID &&
		p.Name == o.Name &&
		p.Color == o.Color &&
		p.Order == o.Order &&
		p.CreatedAt.Equal(o.CreatedAt) &&
		p.UpdatedAt.Equal(o.UpdatedAt)
}

// ProjectPatch carries the mutable project fields. Nil fields are left
// unchanged.
type ProjectPatch struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Order *int    `json:"order,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (pp ProjectPatch) Empty() bool {
	return pp.Name == nil && pp.Color == nil && pp.Order == nil
}

// Apply copies the set fields onto p.
func (pp ProjectPatch) Apply(p *Project) {
	if pp.Name != nil {
		p.Name = strings.TrimSpace(*pp.Name)
	}
	if pp.Color != nil {
		p.Color = *pp.Color
	}
	if pp.Order != nil {
		p.Order = *pp.Order
	}
}

// PatchFromProject returns a patch that sets every mutable field of p.
func PatchFromProject(p *Project) ProjectPatch {
	name, color, order := p.Name, p.Color, p.Order
	return ProjectPatch{Name: &name, Color: &color, Order: &order}
}

func validateName(v *errs.ValidationError, field, label, value string) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		v.Add(field, label+" is required")
	case len(value) > MaxNameLength:
		v.Add(field, label+" must be 255 characters or less")
	}
}
