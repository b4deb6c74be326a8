package data

import (
	"context"
	"database/sql"

	"github.com/ryuqq/fileflow/internal/migrate"
)

// RunMigrations applies any pending schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}
