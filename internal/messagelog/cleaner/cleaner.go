// Package cleaner deletes archived records past their retention period.
package cleaner

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/dbx"
	"github.com/dmitrijs2005/messagelog/internal/logging"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/repositories/repomanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deletedRecordsCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "messagelog",
		Subsystem: "cleaner",
		Name:      "deleted_records_total",
		Help:      "Total archived records deleted.",
	},
)

type Config struct {
	// KeepRecordsFor is the retention of archived records.
	KeepRecordsFor time.Duration
	BatchSize      int
}

// Result lists the deletions of every committed batch.
type Result struct {
	Batches []int64
	Deleted int64
}

type Cleaner struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cfg         Config
	logger      logging.Logger
	now         func() time.Time
}

func New(db *sql.DB, rm repomanager.RepositoryManager, cfg Config, logger logging.Logger) *Cleaner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	return &Cleaner{db: db, repomanager: rm, cfg: cfg, logger: logger, now: time.Now}
}

// Execute deletes in short transactions of at most BatchSize records until
// a batch comes back short. A failed batch stops the run; earlier batches
// stay committed.
func (c *Cleaner) Execute(ctx context.Context) (*Result, error) {
	olderThan := c.now().Add(-c.cfg.KeepRecordsFor).UnixMilli()
	res := &Result{}
	start := time.Now()

	for {
		var n int64
		err := dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			n, err = c.repomanager.LogRecords(tx).DeleteArchived(ctx, olderThan, c.cfg.BatchSize)
			return err
		})
		if err != nil {
			c.logger.Error(ctx, "cleanup batch failed", "batch", len(res.Batches)+1, "deleted", res.Deleted, "error", err)
			return res, fmt.Errorf("%w: batch %d: %v", common.ErrCleanupBatchFailed, len(res.Batches)+1, err)
		}
		if n > 0 {
			res.Batches = append(res.Batches, n)
			res.Deleted += n
			deletedRecordsCounter.Add(float64(n))
			c.logger.Debug(ctx, "cleanup batch committed", "deleted", n)
		}
		if n < int64(c.cfg.BatchSize) {
			break
		}
	}

	c.logger.Info(ctx, "removed archived records", "deleted", res.Deleted, "batches", len(res.Batches), "took", time.Since(start))
	return res, nil
}
