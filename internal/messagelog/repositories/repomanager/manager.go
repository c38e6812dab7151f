// Package repomanager vends repositories bound to a DBTX and runs the
// schema migrations for the configured SQL dialect.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/messagelog/internal/dbx"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/repositories/logrecords"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	LogRecords(db dbx.DBTX) logrecords.Repository
	Dialect() dbx.Dialect
}
