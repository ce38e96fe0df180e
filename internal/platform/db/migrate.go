package db

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	defaultSchema = "public"
	// migrationLockKey serializes migrators across replicas.
	migrationLockKey int64 = 0x6865616c74686c6b
)

// Migration is one numbered SQL file, e.g. "002_outbox.sql".
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus reports whether a migration has been applied.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies the SQL files of a directory in version order and records
// each in <schema>.schema_migrations.
type Migrator struct {
	pool   Pool
	files  fs.FS
	schema string
	logger zerolog.Logger
}

type MigratorOption func(*Migrator)

// WithSchema targets schema instead of public. Empty keeps the default.
func WithSchema(schema string) MigratorOption {
	return func(m *Migrator) {
		if schema != "" {
			m.schema = schema
		}
	}
}

func WithLogger(logger zerolog.Logger) MigratorOption {
	return func(m *Migrator) { m.logger = logger }
}

// WithFS reads migrations from fsys instead of the directory.
func WithFS(fsys fs.FS) MigratorOption {
	return func(m *Migrator) { m.files = fsys }
}

func NewMigrator(pool Pool, dir string, opts ...MigratorOption) *Migrator {
	m := &Migrator{pool: pool, files: os.DirFS(dir), schema: defaultSchema, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Migrator) table() string {
	return pgx.Identifier{m.schema, "schema_migrations"}.Sanitize()
}

// LoadMigrations returns the *.sql files named "<number>_<name>.sql" sorted
// by number. Files without a numeric prefix are ignored.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	if _, err := fs.Stat(m.files, "."); err != nil {
		return nil, fmt.Errorf("open migrations directory: %w", err)
	}
	names, err := fs.Glob(m.files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil {
			continue
		}
		body, err := fs.ReadFile(m.files, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(body)})
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// plan creates the bookkeeping table if needed and pairs every file with its
// applied time, if any.
func (m *Migrator) plan(ctx context.Context) ([]Migration, map[int]time.Time, error) {
	ddl := `CREATE TABLE IF NOT EXISTS ` + m.table() + ` (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := m.pool.Exec(ctx, ddl); err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", m.table(), err)
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, nil, err
	}

	rows, err := m.pool.Query(ctx, `SELECT version, applied_at FROM `+m.table())
	if err != nil {
		return nil, nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()
	applied := map[int]time.Time{}
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, nil, err
		}
		applied[v] = at
	}
	return migrations, applied, rows.Err()
}

// Up applies pending migrations, one transaction each, and returns how many
// ran. A migration another process applied in the meantime is skipped.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	migrations, applied, err := m.plan(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		ran, err := m.apply(ctx, mig)
		if err != nil {
			return n, fmt.Errorf("migration %s: %w", mig.Name, err)
		}
		if ran {
			m.logger.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("migration applied")
			n++
		}
	}
	return n, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) (bool, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return false, fmt.Errorf("lock: %w", err)
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+m.table()+` WHERE version = $1)`, mig.Version).
		Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+pgx.Identifier{m.schema}.Sanitize()); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO `+m.table()+` (version, name) VALUES ($1, $2)`,
		mig.Version, mig.Name); err != nil {
		return false, fmt.Errorf("record: %w", err)
	}
	return true, tx.Commit(ctx)
}

// Status lists every migration file with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, applied, err := m.plan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, len(migrations))
	for i, mig := range migrations {
		out[i] = MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := applied[mig.Version]; ok {
			out[i].Applied, out[i].AppliedAt = true, &at
		}
	}
	return out, nil
}
