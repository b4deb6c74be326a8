package testhelpers

import (
	"database/sql"

	"github.com/ryuqq/fileflow/internal/data"
)

// NewOperationRepoWithTimeProvider creates an OperationRepo with the provided TimeProvider for tests.
func NewOperationRepoWithTimeProvider(db *sql.DB, cfg data.OperationRepoConfig, tp data.TimeProvider) *data.OperationRepo {
	cfg.TimeProvider = tp
	return data.NewOperationRepo(db, cfg)
}

// NewOutboxRepoWithTimeProvider creates an OutboxRepo with the provided TimeProvider for tests.
func NewOutboxRepoWithTimeProvider(db *sql.DB, cfg data.OutboxRepoConfig, tp data.TimeProvider) *data.OutboxRepo {
	cfg.TimeProvider = tp
	return data.NewOutboxRepo(db, cfg)
}
