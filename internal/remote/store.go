// Package remote is the server-side store of record for users, projects
// and todos.
//
// It runs on gorm over PostgreSQL in production and SQLite for development
// and tests. Every project and todo query is scoped by the owning user;
// a record owned by someone else is reported exactly like a missing one.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// Store is the gorm-backed server store.
type Store struct {
	db      *gorm.DB
	dialect string
	now     func() time.Time
}

// Open connects to the database named by dsn.
//
// postgres:// and postgresql:// URLs and key=value strings containing
// host= select PostgreSQL. Anything else is taken as a SQLite path, with an
// optional sqlite:// prefix.
//
// If l is nil, gorm warnings go to stderr with a "[db] " prefix.
func Open(dsn string, l *log.Logger) (*Store, error) {
	if l == nil {
		l = log.New(os.Stderr, "[db] ", log.LstdFlags)
	}

	dialector, dialect, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}

	s := &Store{dialect: dialect, now: time.Now}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(l, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc:        s.timestamp,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	s.db = db
	return s, nil
}

func dialectorFor(dsn string) (gorm.Dialector, string, error) {
	switch {
	case dsn == "":
		return nil, "", fmt.Errorf("database url is required")
	case strings.HasPrefix(dsn, "postgres://"),
		strings.HasPrefix(dsn, "postgresql://"),
		strings.Contains(dsn, "host="):
		return postgres.Open(dsn), "postgres", nil
	}

	path := strings.TrimPrefix(dsn, "sqlite://")
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return sqlite.Open(path + sep + "_foreign_keys=on&_busy_timeout=5000"), "sqlite", nil
}

// Dialect returns "postgres" or "sqlite".
func (s *Store) Dialect() string {
	return s.dialect
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&userModel{}, &projectModel{}, &todoModel{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// timestamp is the server clock, cut to the microsecond precision that
// PostgreSQL stores so returned copies compare equal to re-read ones.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Account is a user together with the stored password hash.
type Account struct {
	User         schema.User
	PasswordHash string
}

// CreateUser inserts a user. A taken email is reported as a validation
// error on the email field.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*schema.User, error) {
	now := s.timestamp()
	m := userModel{
		ID:        uuid.NewString(),
		Email:     email,
		Password:  passwordHash,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Create(&m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, errs.FieldError("email", "User with this email already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return m.toSchema(), nil
}

// GetUserByEmail returns the account for email, or errs.ErrNotFound.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*Account, error) {
	var m userModel
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&m).Error
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &Account{User: *m.toSchema(), PasswordHash: m.Password}, nil
}

// GetUserByID returns the user with id, or errs.ErrNotFound.
func (s *Store) GetUserByID(ctx context.Context, id string) (*schema.User, error) {
	var m userModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		return nil, notFound(err, "user")
	}
	return m.toSchema(), nil
}

// DeleteUser removes a user with all projects and todos.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&todoModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete todos: %w", err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&projectModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete projects: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&userModel{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("user %s: %w", id, errs.ErrNotFound)
		}
		return nil
	})
}

// GetAll returns every project and todo of userID.
func (s *Store) GetAll(ctx context.Context, userID string) (*schema.Snapshot, error) {
	var projects []projectModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sort_order ASC, created_at ASC").
		Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	var todos []todoModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sort_order ASC, created_at ASC").
		Find(&todos).Error; err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}

	snap := &schema.Snapshot{
		Projects:   make([]schema.Project, 0, len(projects)),
		Todos:      make([]schema.Todo, 0, len(todos)),
		ServerTime: s.timestamp(),
	}
	for i := range projects {
		snap.Projects = append(snap.Projects, *projects[i].toSchema())
	}
	for i := range todos {
		snap.Todos = append(snap.Todos, *todos[i].toSchema())
	}
	return snap, nil
}

// CreateProject stores p for userID. The id may be chosen by the client;
// creating an id that the same user already has returns the stored row.
func (s *Store) CreateProject(ctx context.Context, userID string, p *schema.Project) (*schema.Project, error) {
	now := s.timestamp()
	in := *p
	in.SetDefaults(now)
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var out *schema.Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing projectModel
		err := tx.Where("id = ?", in.ID).First(&existing).Error
		switch {
		case err == nil && existing.UserID == userID:
			out = existing.toSchema()
			return nil
		case err == nil:
			return errs.FieldError("id", "Id is already in use")
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to check project: %w", err)
		}

		m := projectModel{
			ID:        in.ID,
			UserID:    userID,
			Name:      in.Name,
			Color:     in.Color,
			Order:     in.Order,
			CreatedAt: in.CreatedAt.UTC().Truncate(time.Microsecond),
			UpdatedAt: now,
		}
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		out = m.toSchema()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProject applies patch to a project of userID and bumps updatedAt.
func (s *Store) UpdateProject(ctx context.Context, userID, id string, patch schema.ProjectPatch) (*schema.Project, error) {
	var out *schema.Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m projectModel
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&m).Error; err != nil {
			return notFound(err, "project")
		}

		p := m.toSchema()
		patch.Apply(p)
		if err := p.Validate(); err != nil {
			return err
		}

		m.Name, m.Color, m.Order = p.Name, p.Color, p.Order
		m.UpdatedAt = s.timestamp()
		if err := tx.Model(&m).
			Select("name", "color", "sort_order", "updated_at").
			UpdateColumns(&m).Error; err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		out = m.toSchema()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteProject removes a project of userID and its todos.
func (s *Store) DeleteProject(ctx context.Context, userID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&projectModel{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete project: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("project %s: %w", id, errs.ErrNotFound)
		}
		if err := tx.Where("project_id = ? AND user_id = ?", id, userID).Delete(&todoModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete todos of project: %w", err)
		}
		return nil
	})
}

// CreateTodo stores t for userID. The todo's project must belong to the
// same user. Creation is idempotent on id like CreateProject.
func (s *Store) CreateTodo(ctx context.Context, userID string, t *schema.Todo) (*schema.Todo, error) {
	now := s.timestamp()
	in := *t
	in.SetDefaults(now)
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var out *schema.Todo
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ownsProject(tx, userID, in.ProjectID); err != nil {
			return err
		}

		var existing todoModel
		err := tx.Where("id = ?", in.ID).First(&existing).Error
		switch {
		case err == nil && existing.UserID == userID:
			out = existing.toSchema()
			return nil
		case err == nil:
			return errs.FieldError("id", "Id is already in use")
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to check todo: %w", err)
		}

		m := todoModel{
			ID:          in.ID,
			ProjectID:   in.ProjectID,
			UserID:      userID,
			Title:       in.Title,
			IsCompleted: in.IsCompleted,
			Order:       in.Order,
			CreatedAt:   in.CreatedAt.UTC().Truncate(time.Microsecond),
			UpdatedAt:   now,
		}
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("failed to create todo: %w", err)
		}
		out = m.toSchema()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateTodo applies patch to a todo of userID. Moving the todo requires
// the target project to belong to the user too.
func (s *Store) UpdateTodo(ctx context.Context, userID, id string, patch schema.TodoPatch) (*schema.Todo, error) {
	var out *schema.Todo
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m todoModel
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&m).Error; err != nil {
			return notFound(err, "todo")
		}
		if patch.ProjectID != nil && *patch.ProjectID != m.ProjectID {
			if err := ownsProject(tx, userID, *patch.ProjectID); err != nil {
				return err
			}
		}

		t := m.toSchema()
		patch.Apply(t)
		if err := t.Validate(); err != nil {
			return err
		}

		m.Title, m.IsCompleted, m.Order, m.ProjectID = t.Title, t.IsCompleted, t.Order, t.ProjectID
		m.UpdatedAt = s.timestamp()
		if err := tx.Model(&m).
			Select("title", "is_completed", "sort_order", "project_id", "updated_at").
			UpdateColumns(&m).Error; err != nil {
			return fmt.Errorf("failed to update todo: %w", err)
		}
		out = m.toSchema()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTodo removes a todo of userID.
func (s *Store) DeleteTodo(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&todoModel{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete todo: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("todo %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func ownsProject(tx *gorm.DB, userID, projectID string) error {
	var n int64
	if err := tx.Model(&projectModel{}).
		Where("id = ? AND user_id = ?", projectID, userID).
		Count(&n).Error; err != nil {
		return fmt.Errorf("failed to check project: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("project %s: %w", projectID, errs.ErrNotFound)
	}
	return nil
}

// notFound maps gorm.ErrRecordNotFound to errs.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, errs.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
