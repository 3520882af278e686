package migration

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var files embed.FS

type migrator interface {
	Up() error
	Stop()
	Version() (uint, bool, error)
	Close() error
}

type migrateRunner struct {
	m *migrate.Migrate
}

func (r *migrateRunner) Up() error { return r.m.Up() }

func (r *migrateRunner) Stop() {
	select {
	case r.m.GracefulStop <- true:
	default:
	}
}

func (r *migrateRunner) Version() (uint, bool, error) { return r.m.Version() }

func (r *migrateRunner) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}

var newMigrator = func(dsn string) (migrator, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, pgx5URL(dsn))
	if err != nil {
		return nil, err
	}
	return &migrateRunner{m: m}, nil
}

// pgx5URL rewrites a postgres:// DSN to the scheme registered by the pgx/v5 migrate driver.
func pgx5URL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// EnsureMigrated applies every pending migration embedded in the binary.
// It opens its own connection from dsn and closes it before returning.
func EnsureMigrated(ctx context.Context, dsn string, log logrus.FieldLogger, dbHost string) error {
	start := time.Now()
	base := log.WithFields(logrus.Fields{
		"component": "database",
		"db_host":   dbHost,
	})

	base.WithFields(logrus.Fields{
		"event":  "db_migration_start",
		"status": "in_progress",
	}).Info("applying schema migrations")

	fail := func(err error) {
		base.WithFields(logrus.Fields{
			"event":         "db_migration_failed",
			"status":        "error",
			"error_message": err.Error(),
			"duration_ms":   time.Since(start).Milliseconds(),
		}).Error("schema migration failed")
	}

	m, err := newMigrator(dsn)
	if err != nil {
		fail(err)
		return fmt.Errorf("init migrations: %w", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			base.WithError(err).Warn("closing migration connection")
		}
	}()

	done := make(chan error, 1)
	go func() { done <- m.Up() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		m.Stop()
		<-done
		fail(ctx.Err())
		return fmt.Errorf("migration interrupted: %w", ctx.Err())
	}

	if errors.Is(err, migrate.ErrNoChange) {
		base.WithFields(logrus.Fields{
			"event":       "db_migration_skip",
			"status":      "success",
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("schema already up to date, skipping migration")
		return nil
	}
	if err != nil {
		fail(err)
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		fail(err)
		return fmt.Errorf("read migration version: %w", err)
	}

	base.WithFields(logrus.Fields{
		"event":       "db_migration_success",
		"status":      "success",
		"version":     version,
		"dirty":       dirty,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("schema migrated")

	return nil
}
