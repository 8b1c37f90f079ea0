// Package migrations holds the embedded schema for the Postgres result
// stores and the ClickHouse bar and equity-curve stores.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

// Dialect selects a migration set.
type Dialect string

const (
	Postgres   Dialect = "postgres"
	ClickHouse Dialect = "clickhouse"
)

// Migration is one embedded SQL file split into statements.
type Migration struct {
	Version    string // file name without .sql, e.g. 001_runs
	Statements []string
}

// Execer runs a single statement. Callers adapt their connection with ExecFunc.
type Execer interface {
	Exec(ctx context.Context, stmt string) error
}

// ExecFunc adapts a function to Execer.
type ExecFunc func(ctx context.Context, stmt string) error

func (f ExecFunc) Exec(ctx context.Context, stmt string) error { return f(ctx, stmt) }

// Load returns a dialect's migrations in version order.
func Load(d Dialect) ([]Migration, error) {
	dir := string(d)
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", d, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(files, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		stmts, err := SplitStatements(string(data))
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
		out = append(out, Migration{
			Version:    strings.TrimSuffix(name, ".sql"),
			Statements: stmts,
		})
	}
	return out, nil
}

// Apply runs every statement of a dialect's migrations in order. The
// statements are idempotent DDL, so Apply can run on every startup.
// Returns the versions applied.
func Apply(ctx context.Context, d Dialect, db Execer) ([]string, error) {
	migs, err := Load(d)
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(migs))
	for _, m := range migs {
		for _, stmt := range m.Statements {
			if err := db.Exec(ctx, stmt); err != nil {
				return versions, fmt.Errorf("apply %s migration %s: %w", d, m.Version, err)
			}
		}
		versions = append(versions, m.Version)
	}
	return versions, nil
}
