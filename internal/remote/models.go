package remote

import (
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

type userModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Password  string    `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Projects []projectModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Todos    []todoModel    `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (userModel) TableName() string {
	return "users"
}

type projectModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	UserID    string    `gorm:"type:varchar(36);index;not null"`
	Name      string    `gorm:"type:varchar(255);not null"`
	Color     string    `gorm:"type:varchar(16);not null"`
	Order     int       `gorm:"column:sort_order;not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Todos []todoModel `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (projectModel) TableName() string {
	return "projects"
}

type todoModel struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	ProjectID   string    `gorm:"type:varchar(36);index;not null"`
	UserID      string    `gorm:"type:varchar(36);index;not null"`
	Title       string    `gorm:"type:varchar(255);not null"`
	IsCompleted bool      `gorm:"not null;default:false"`
	Order       int       `gorm:"column:sort_order;not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (todoModel) TableName() string {
	return "todos"
}

func (m *userModel) toSchema() *schema.User {
	return &schema.User{
		ID:        m.ID,
		Email:     m.Email,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func (m *projectModel) toSchema() *schema.Project {
	return &schema.Project{
		ID:        m.ID,
		UserID:    m.UserID,
		Name:      m.Name,
		Color:     m.Color,
		Order:     m.Order,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func (m *todoModel) toSchema() *schema.Todo {
	return &schema.Todo{
		ID:          m.ID,
		ProjectID:   m.ProjectID,
		UserID:      m.UserID,
		Title:       m.Title,
		IsCompleted: m.IsCompleted,
		Order:       m.Order,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}
