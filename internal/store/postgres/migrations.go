package postgres

import (
	"cmp"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID serialises Migrate across processes starting together.
const migrationLockID = 0x636f66666565 // "coffee"

type migration struct {
	version int
	name    string
	sql     string
}

// parseMigrationName splits "<version>_<name>.sql".
func parseMigrationName(file string) (int, error) {
	prefix, _, ok := strings.Cut(strings.TrimSuffix(file, ".sql"), "_")
	if !ok {
		return 0, fmt.Errorf("migration %q: want <version>_<name>.sql", file)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("migration %q: version must be a positive integer", file)
	}
	return version, nil
}

// loadMigrations reads every .sql file under dir, ordered by version. A
// malformed name or a repeated version is an error so a typo never skips DDL.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []migration
	seen := map[int]string{}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		version, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %q and %q share version %d", prev, entry.Name(), version)
		}
		seen[version] = entry.Name()

		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		out = append(out, migration{version: version, name: entry.Name(), sql: string(body)})
	}

	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return out, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}

// appliedVersions lists recorded migrations. Before the first migration has
// created schema_migrations the set is empty.
func appliedVersions(ctx context.Context, tx pgx.Tx) (map[int]bool, error) {
	rows, err := tx.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, err
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// Migrate applies pending embedded migrations, each in its own transaction
// under an advisory lock, and records them in schema_migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrations, err := loadMigrations(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		ran, err := applyMigration(ctx, pool, m)
		if err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if ran {
			applied++
		}
	}

	log.Info().Int("available", len(migrations)).Int("applied", applied).Msg("Database schema is current")
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m migration) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return false, fmt.Errorf("lock: %w", err)
	}

	// read inside a savepoint so a missing table does not abort tx
	sp, err := tx.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("savepoint: %w", err)
	}
	done, err := appliedVersions(ctx, sp)
	switch {
	case err == nil:
		if err := sp.Commit(ctx); err != nil {
			return false, err
		}
	case isUndefinedTable(err):
		if err := sp.Rollback(ctx); err != nil {
			return false, err
		}
		done = map[int]bool{}
	default:
		return false, fmt.Errorf("read schema_migrations: %w", err)
	}
	if done[m.version] {
		return false, nil
	}

	log.Info().Int("version", m.version).Str("name", m.name).Msg("Applying migration")
	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return false, fmt.Errorf("exec: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		return false, fmt.Errorf("record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
