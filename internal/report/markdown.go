package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jamesruggles/scanmanager/internal/database"
	"github.com/jamesruggles/scanmanager/internal/manage"
	"github.com/jamesruggles/scanmanager/internal/migrate"
)

// Generator writes markdown summaries of a manager database schema.
type Generator struct {
	db         *database.DB
	reportsDir string
	now        func() time.Time
}

func NewGenerator(db *database.DB, reportsDir string) *Generator {
	return &Generator{db: db, reportsDir: reportsDir, now: time.Now}
}

// Table is one table of the schema as found in the database.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    int64    `json:"rows"`
}

// Resource is a built-in resource and whether the database holds it.
type Resource struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	UUID    string `json:"uuid"`
	Present bool   `json:"present"`
}

// Schema describes the state of a database against the build.
type Schema struct {
	Version    int        `json:"version"`
	Supported  int        `json:"supported"`
	Tables     []Table    `json:"tables"`
	Predefined []Resource `json:"predefined"`
}

// Current reports whether the database is at the version the build writes.
func (s *Schema) Current() bool {
	return s.Version == s.Supported
}

// Inspect reads the version, tables and built-in resources of the database.
func (g *Generator) Inspect(ctx context.Context) (*Schema, error) {
	version, err := database.Version(ctx, g.db)
	if err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	s := &Schema{Version: version, Supported: migrate.DatabaseVersion}

	names, err := database.Tables(ctx, g.db)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	columns := make(map[string][]string, len(names))
	for _, name := range names {
		cols, err := database.Columns(ctx, g.db, name)
		if err != nil {
			return nil, fmt.Errorf("listing columns of %s: %w", name, err)
		}
		rows, err := database.QueryInt64(ctx, g.db, fmt.Sprintf(`SELECT count(*) FROM "%s"`, name))
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", name, err)
		}
		columns[name] = cols
		s.Tables = append(s.Tables, Table{Name: name, Columns: cols, Rows: rows})
	}

	for _, c := range manage.PredefinedConfigs {
		present, err := g.hasUUID(ctx, columns, "configs", c.UUID)
		if err != nil {
			return nil, err
		}
		s.Predefined = append(s.Predefined, Resource{Kind: "config", Name: c.Name, UUID: c.UUID, Present: present})
	}
	present, err := g.hasUUID(ctx, columns, "targets", manage.TargetUUIDLocalhost)
	if err != nil {
		return nil, err
	}
	s.Predefined = append(s.Predefined, Resource{
		Kind: "target", Name: manage.TargetNameLocalhost, UUID: manage.TargetUUIDLocalhost, Present: present,
	})

	return s, nil
}

// hasUUID looks a row up by uuid. Databases older than the uuid columns
// never hold the row.
func (g *Generator) hasUUID(ctx context.Context, columns map[string][]string, table, uuid string) (bool, error) {
	if !slices.Contains(columns[table], "uuid") {
		return false, nil
	}
	n, err := database.QueryInt(ctx, g.db, fmt.Sprintf(`SELECT count(*) FROM %s WHERE uuid = ?`, table), uuid)
	if err != nil {
		return false, fmt.Errorf("looking up %s %s: %w", table, uuid, err)
	}
	return n > 0, nil
}

func (g *Generator) GenerateMarkdown(ctx context.Context) (string, error) {
	s, err := g.Inspect(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	b.WriteString("# Schema Report\n\n")
	b.WriteString(fmt.Sprintf("**Generated:** %s  \n", g.now().Format("January 2, 2006 15:04:05 MST")))
	b.WriteString(fmt.Sprintf("**Database:** `%s`  \n\n", g.db.Path()))

	// Version
	b.WriteString("## Version\n\n")
	b.WriteString("| Database | Build | Status |\n")
	b.WriteString("|---|---|---|\n")
	b.WriteString(fmt.Sprintf("| %s | %d | %s |\n\n", versionText(s.Version), s.Supported, status(s)))

	// Tables
	b.WriteString("## Tables\n\n")
	if len(s.Tables) == 0 {
		b.WriteString("No tables.\n\n")
	} else {
		b.WriteString("| Table | Rows | Columns |\n")
		b.WriteString("|---|---|---|\n")
		for _, t := range s.Tables {
			b.WriteString(fmt.Sprintf("| %s | %d | %s |\n", t.Name, t.Rows, strings.Join(t.Columns, ", ")))
		}
		b.WriteString("\n")
	}

	// Built-in resources
	b.WriteString("## Predefined Resources\n\n")
	b.WriteString("| Kind | Name | UUID | Present |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, r := range s.Predefined {
		present := "no"
		if r.Present {
			present = "yes"
		}
		b.WriteString(fmt.Sprintf("| %s | %s | `%s` | %s |\n", r.Kind, r.Name, r.UUID, present))
	}

	return b.String(), nil
}

// SaveMarkdown writes the report into the reports directory and returns
// its path.
func (g *Generator) SaveMarkdown(ctx context.Context) (string, error) {
	content, err := g.GenerateMarkdown(ctx)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(g.reportsDir, 0755); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}
	filename := fmt.Sprintf("schema-%s.md", g.now().Format("20060102-150405"))
	path := filepath.Join(g.reportsDir, filename)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

func versionText(v int) string {
	if v < 0 {
		return "none"
	}
	return fmt.Sprint(v)
}

func status(s *Schema) string {
	switch {
	case s.Version < 0:
		return "unversioned"
	case s.Current():
		return "current"
	case s.Version < s.Supported:
		return "needs migration"
	default:
		return "newer than build"
	}
}
