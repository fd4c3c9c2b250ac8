package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	identitysync "github.com/goliatone/go-identity-sync"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	DefaultSourceLabel = "go-identity-sync"

	rootDir   = "data/sql/migrations"
	sqliteDir = "sqlite"
)

// Source is the migration tree of one dialect.
type Source struct {
	Dialect string
	Dir     string
	FS      fs.FS
}

// Plan is the resolved registration handed to the persistence client.
type Plan struct {
	Label   string
	Targets []string
	Sources []Source
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Plan)

func WithSourceLabel(label string) Option {
	return func(p *Plan) {
		if label = strings.TrimSpace(label); label != "" {
			p.Label = label
		}
	}
}

// WithValidationTargets restricts registration to the named dialects. Driver
// names such as sqlite3 or pgx are accepted.
func WithValidationTargets(targets ...string) Option {
	return func(p *Plan) {
		next := make([]string, 0, len(targets))
		for _, target := range targets {
			dialect, err := DialectForDriver(target)
			if err != nil || slices.Contains(next, dialect) {
				continue
			}
			next = append(next, dialect)
		}
		if len(next) > 0 {
			p.Targets = next
		}
	}
}

// WithSources replaces the embedded migration trees.
func WithSources(sources ...Source) Option {
	return func(p *Plan) {
		next := make([]Source, 0, len(sources))
		for _, source := range sources {
			dialect, err := DialectForDriver(source.Dialect)
			if err != nil || source.FS == nil {
				continue
			}
			source.Dialect = dialect
			next = append(next, source)
		}
		if len(next) > 0 {
			p.Sources = next
		}
	}
}

// DialectForDriver maps a database/sql driver name to a migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Sources resolves the postgres and sqlite trees under data/sql/migrations and
// checks that every up migration has a matching down migration.
func Sources(roots ...fs.FS) ([]Source, error) {
	root := identitysync.GetMigrationsFS()
	if len(roots) > 0 && roots[0] != nil {
		root = roots[0]
	}

	base, err := fs.Sub(root, rootDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", rootDir, err)
	}
	sqliteFS, err := fs.Sub(base, sqliteDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Dir: rootDir, FS: base},
		{Dialect: DialectSQLite, Dir: path.Join(rootDir, sqliteDir), FS: sqliteFS},
	}
	for _, source := range sources {
		if err := checkPairs(source); err != nil {
			return nil, err
		}
	}
	return sources, nil
}

// Register hands each targeted dialect tree to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Plan, error) {
	plan := Plan{
		Label:   DefaultSourceLabel,
		Targets: []string{DialectPostgres, DialectSQLite},
	}
	if registerFn == nil {
		return plan, fmt.Errorf("migrations: register function is required")
	}

	sources, err := Sources()
	if err != nil {
		return plan, err
	}
	plan.Sources = sources

	for _, opt := range opts {
		if opt != nil {
			opt(&plan)
		}
	}

	for _, target := range plan.Targets {
		idx := slices.IndexFunc(plan.Sources, func(source Source) bool {
			return source.Dialect == target
		})
		if idx < 0 {
			return plan, fmt.Errorf("migrations: no %s migrations available", target)
		}
		source := plan.Sources[idx]
		if err := registerFn(ctx, source.Dialect, plan.Label, source.FS); err != nil {
			return plan, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Dir, err)
		}
	}
	return plan, nil
}

func checkPairs(source Source) error {
	ups, err := fs.Glob(source.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: glob %s: %w", source.Dir, err)
	}
	if len(ups) == 0 {
		return fmt.Errorf("migrations: %s tree %q has no *.up.sql files", source.Dialect, source.Dir)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(source.FS, down); err != nil {
			return fmt.Errorf("migrations: %s is missing %s: %w", source.Dir, down, err)
		}
	}
	return nil
}
