// Package export writes the local mirror as JSON, YAML or TOML.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat accepts json, yaml (or yml) and toml, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unknown export format %q (want json, yaml or toml)", s)
}

// Document is the exported tree: projects with their todos nested.
type Document struct {
	ExportedAt time.Time `json:"exportedAt" yaml:"exportedAt" toml:"exportedAt"`
	Owner      string    `json:"owner,omitempty" yaml:"owner,omitempty" toml:"owner,omitempty"`
	Projects   []Project `json:"projects" yaml:"projects" toml:"projects"`
	// Orphans are todos whose project is not in the mirror.
	Orphans []Todo `json:"orphans,omitempty" yaml:"orphans,omitempty" toml:"orphans,omitempty"`
}

type Project struct {
	ID        string    `json:"id" yaml:"id" toml:"id"`
	Name      string    `json:"name" yaml:"name" toml:"name"`
	Color     string    `json:"color" yaml:"color" toml:"color"`
	Order     int       `json:"order" yaml:"order" toml:"order"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt" toml:"updatedAt"`
	Todos     []Todo    `json:"todos" yaml:"todos" toml:"todos"`
}

type Todo struct {
	ID          string    `json:"id" yaml:"id" toml:"id"`
	ProjectID   string    `json:"projectId" yaml:"projectId" toml:"projectId"`
	Title       string    `json:"title" yaml:"title" toml:"title"`
	IsCompleted bool      `json:"isCompleted" yaml:"isCompleted" toml:"isCompleted"`
	Order       int       `json:"order" yaml:"order" toml:"order"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt" toml:"updatedAt"`
}

// Build nests todos under their projects, keeping the given order.
func Build(projects []*schema.Project, todos []*schema.Todo, owner string, now time.Time) *Document {
	doc := &Document{
		ExportedAt: now.UTC(),
		Owner:      owner,
		Projects:   make([]Project, 0, len(projects)),
	}

	index := make(map[string]int, len(projects))
	for _, p := range projects {
		index[p.ID] = len(doc.Projects)
		doc.Projects = append(doc.Projects, Project{
			ID:        p.ID,
			Name:      p.Name,
			Color:     p.Color,
			Order:     p.Order,
			UpdatedAt: p.UpdatedAt.UTC(),
			Todos:     []Todo{},
		})
	}

	for _, t := range todos {
		e := Todo{
			ID:          t.ID,
			ProjectID:   t.ProjectID,
			Title:       t.Title,
			IsCompleted: t.IsCompleted,
			Order:       t.Order,
			UpdatedAt:   t.UpdatedAt.UTC(),
		}
		if i, ok := index[t.ProjectID]; ok {
			doc.Projects[i].Todos = append(doc.Projects[i].Todos, e)
		} else {
			doc.Orphans = append(doc.Orphans, e)
		}
	}
	return doc
}

// Write encodes doc to w in format.
func Write(w io.Writer, format Format, doc *Document) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(doc); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}
