// Package logrecords declares and implements the log record store.
package logrecords

import (
	"context"

	"github.com/dmitrijs2005/messagelog/internal/messagelog/models"
)

// Repository persists message and timestamp records. Implementations are
// bound to a dbx.DBTX, so the caller decides the transaction scope.
type Repository interface {
	InsertMessage(ctx context.Context, m *models.MessageRecord) error
	InsertTimestamp(ctx context.Context, t *models.TimestampRecord) error

	FindMessage(ctx context.Context, id int64) (*models.MessageRecord, error)
	FindTimestamp(ctx context.Context, id int64) (*models.TimestampRecord, error)

	// SelectPending returns up to limit pending message records in id order.
	SelectPending(ctx context.Context, limit int) ([]models.PendingRecord, error)
	// SetTimestamped binds pending records to a timestamp record. Every
	// record must still be pending.
	SetTimestamped(ctx context.Context, tsID int64, chainResult, tsHashChain []byte, updates []models.BatchUpdate) error

	MaxArchivableID(ctx context.Context) (int64, error)
	SelectArchivable(ctx context.Context, maxID int64, limit int, grouping models.Grouping) ([]models.ArchiveEntry, error)
	// MarkArchived archives timestamped message records. Any id that is
	// pending or already archived fails the call with common.ErrNotTimestamped.
	MarkArchived(ctx context.Context, ids []int64) error
	MarkTimestampRecordsArchived(ctx context.Context) (int64, error)

	// DeleteArchived removes at most limit archived records created at or
	// before olderThan (ms since epoch) and returns the number deleted.
	DeleteArchived(ctx context.Context, olderThan int64, limit int) (int64, error)

	LoadArchiveDigest(ctx context.Context, group string) (*models.ArchiveDigest, error)
	SaveArchiveDigest(ctx context.Context, d *models.ArchiveDigest) error
}
