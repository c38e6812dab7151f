package cleaner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/dbx"
	"github.com/dmitrijs2005/messagelog/internal/logging"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/models"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/repositories/logrecords"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/repositories/repomanager"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedArchived creates n archived message records and their timestamp
// record, all created at.
func seedArchived(t *testing.T, repo logrecords.Repository, n int, at time.Time) {
	t.Helper()
	ctx := context.Background()
	var updates []models.BatchUpdate
	for i := 0; i < n; i++ {
		m := &models.MessageRecord{Envelope: models.Envelope{Time: at.UnixMilli()}, SignatureHash: "aGFzaA==", MemberClass: "GOV"}
		require.NoError(t, repo.InsertMessage(ctx, m))
		updates = append(updates, models.BatchUpdate{ID: m.ID, HashChain: []byte{1}})
	}
	ts := &models.TimestampRecord{Envelope: models.Envelope{Time: at.UnixMilli()}, Timestamp: []byte("t")}
	require.NoError(t, repo.InsertTimestamp(ctx, ts))
	require.NoError(t, repo.SetTimestamped(ctx, ts.ID, nil, nil, updates))

	ids := make([]int64, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
	}
	require.NoError(t, repo.MarkArchived(ctx, ids))
	_, err := repo.MarkTimestampRecordsArchived(ctx)
	require.NoError(t, err)
}

func newCleaner(t *testing.T, cfg Config) (*Cleaner, logrecords.Repository) {
	t.Helper()
	db := storetest.Open(t)
	rm, err := repomanager.NewSQLRepositoryManager(dbx.SQLite)
	require.NoError(t, err)
	return New(db, rm, cfg, logging.NewNopLogger()), rm.LogRecords(db)
}

func TestExecute_BatchesOfTwo(t *testing.T) {
	c, repo := newCleaner(t, Config{KeepRecordsFor: 0, BatchSize: 2})
	// four archived messages plus their timestamp record
	seedArchived(t, repo, 4, time.Now().Add(-time.Hour))

	res, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 2, 1}, res.Batches)
	assert.Equal(t, int64(5), res.Deleted)

	// idempotent
	res, err = c.Execute(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Batches)
	assert.Zero(t, res.Deleted)
}

func TestExecute_KeepsRecentAndUnarchived(t *testing.T) {
	ctx := context.Background()
	c, repo := newCleaner(t, Config{KeepRecordsFor: 30 * 24 * time.Hour, BatchSize: 10})
	seedArchived(t, repo, 1, time.Now().Add(-31*24*time.Hour))
	seedArchived(t, repo, 1, time.Now().Add(-time.Hour))
	pending := &models.MessageRecord{Envelope: models.Envelope{Time: time.Now().Add(-60 * 24 * time.Hour).UnixMilli()}}
	require.NoError(t, repo.InsertMessage(ctx, pending))

	res, err := c.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)

	_, err = repo.FindMessage(ctx, pending.ID)
	assert.NoError(t, err)
}

type flakyRepo struct {
	logrecords.Repository
	calls  *int
	failAt int
}

func (f flakyRepo) DeleteArchived(ctx context.Context, olderThan int64, limit int) (int64, error) {
	*f.calls++
	if *f.calls == f.failAt {
		return 0, errors.New("lock timeout")
	}
	return f.Repository.DeleteArchived(ctx, olderThan, limit)
}

type flakyManager struct {
	repomanager.RepositoryManager
	calls  *int
	failAt int
}

func (f flakyManager) LogRecords(db dbx.DBTX) logrecords.Repository {
	return flakyRepo{Repository: f.RepositoryManager.LogRecords(db), calls: f.calls, failAt: f.failAt}
}

func TestExecute_FailedBatchKeepsEarlierProgress(t *testing.T) {
	c, repo := newCleaner(t, Config{BatchSize: 2})
	seedArchived(t, repo, 4, time.Now().Add(-time.Hour))
	calls := 0
	c.repomanager = flakyManager{RepositoryManager: c.repomanager, calls: &calls, failAt: 2}

	res, err := c.Execute(context.Background())
	require.ErrorIs(t, err, common.ErrCleanupBatchFailed)
	assert.Equal(t, []int64{2}, res.Batches)

	// the next run resumes
	c.repomanager = flakyManager{RepositoryManager: c.repomanager.(flakyManager).RepositoryManager, calls: new(int)}
	res, err = c.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Deleted)
}
