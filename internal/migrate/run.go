// Package migrate applies the embedded schema migrations in lexical order,
// recording each applied version in schema_migrations so reruns are cheap
// no-ops.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const versionTableDDL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// Run applies every embedded migration that has not been recorded yet.
// Each migration runs in its own transaction together with its version
// bookkeeping row, so a failure leaves the schema at the last good version.
func Run(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, versionTableDDL); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	logger := slog.Default().With("component", "migrations")
	for _, name := range pendingOrder() {
		applied, err := versionApplied(ctx, db, versionOf(name))
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := applyOne(ctx, db, logger, name); err != nil {
			return err
		}
	}
	return nil
}

// pendingOrder lists the embedded migration files sorted by name. Files are
// named NNN_description.sql, so lexical order is application order.
func pendingOrder() []string {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		// The embed directive guarantees the directory exists at build time.
		panic(fmt.Sprintf("read embedded migrations: %v", err))
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	slices.Sort(names)
	return names
}

func versionOf(file string) string {
	return strings.TrimSuffix(file, ".sql")
}

func versionApplied(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var applied bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
	).Scan(&applied)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return applied, nil
}

func applyOne(ctx context.Context, db *sql.DB, logger *slog.Logger, file string) error {
	ddl, err := migrationFiles.ReadFile("migrations/" + file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	version := versionOf(file)
	logger.InfoContext(ctx, "applying migration", "version", version)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.ErrorContext(ctx, "migration rollback failed", "err", rbErr, "version", version)
		}
	}()

	if _, err := tx.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1)`, version,
	); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}
