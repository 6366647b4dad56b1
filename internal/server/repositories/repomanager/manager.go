// Package repomanager vends repository implementations and owns schema
// migration wiring.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/playtube/playtube/internal/dbx"
	"github.com/playtube/playtube/internal/server/repositories/users"
)

// RepositoryManager hands out repositories bound to a DBTX so services can
// run them against either the pool or an open transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
}
