// Package migrations embeds the SQL schema of the scoring service and
// applies it to PostgreSQL with golang-migrate.
//
// Files are named NNNNNN_description.up.sql / .down.sql. golang-migrate
// records the current version in the schema_migrations table.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// ErrDirty is returned when a previous migration failed half way and the
// schema needs a manual fix before anything else is applied.
var ErrDirty = errors.New("schema is dirty")

// Versions returns the embedded migration versions in apply order.
func Versions() ([]string, error) {
	names, err := fs.Glob(files, "*.up.sql")
	if err != nil {
		return nil, err
	}
	versions := make([]string, len(names))
	for i, name := range names {
		versions[i] = strings.TrimSuffix(name, ".up.sql")
	}
	sort.Strings(versions)
	return versions, nil
}

// Up applies every pending migration and returns the versions it applied.
func Up(ctx context.Context, db *sql.DB) ([]string, error) {
	var applied []string
	err := withMigrator(ctx, db, func(m *migrate.Migrate) error {
		from, err := current(m)
		if err != nil {
			return err
		}
		upErr := m.Up()
		to, err := current(m)
		if err != nil && !errors.Is(err, ErrDirty) {
			return err
		}
		if applied, err = between(from, to); err != nil {
			return err
		}
		if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", upErr)
		}
		return nil
	})
	return applied, err
}

// Down reverts the most recently applied migration. It returns the
// reverted version, or "" when nothing is applied.
func Down(ctx context.Context, db *sql.DB) (string, error) {
	var reverted string
	err := withMigrator(ctx, db, func(m *migrate.Migrate) error {
		from, err := current(m)
		if err != nil {
			return err
		}
		if from == 0 {
			return nil
		}
		if err := m.Steps(-1); err != nil {
			return fmt.Errorf("revert migration %d: %w", from, err)
		}
		reverted, err = name(from)
		return err
	})
	return reverted, err
}

// withMigrator runs fn against a migrator bound to a dedicated connection
// of db. Closing the migrator releases the connection but leaves db open.
// Cancelling ctx stops the migrator after the running step.
func withMigrator(ctx context.Context, db *sql.DB, fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("acquire connection: %w", err)
	}
	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{})
	if err != nil {
		_ = conn.Close()
		_ = src.Close()
		return fmt.Errorf("prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = driver.Close()
		_ = src.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	if err := fn(m); err != nil {
		return err
	}
	return ctx.Err()
}

// current returns the applied version number, 0 when none is.
func current(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("%w at version %d", ErrDirty, version)
	}
	return version, nil
}

// between lists the embedded versions numbered in (from, to].
func between(from, to uint) ([]string, error) {
	versions, err := Versions()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, v := range versions {
		n, err := number(v)
		if err != nil {
			return nil, err
		}
		if n > from && n <= to {
			out = append(out, v)
		}
	}
	return out, nil
}

func name(version uint) (string, error) {
	versions, err := Versions()
	if err != nil {
		return "", err
	}
	for _, v := range versions {
		n, err := number(v)
		if err != nil {
			return "", err
		}
		if n == version {
			return v, nil
		}
	}
	return "", fmt.Errorf("migration %d is not embedded", version)
}

func number(version string) (uint, error) {
	prefix, _, _ := strings.Cut(version, "_")
	n, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("migration %q has no numeric prefix", version)
	}
	return uint(n), nil
}
