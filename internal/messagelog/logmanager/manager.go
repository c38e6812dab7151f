// Package logmanager is the entry point of the message log. It appends
// records, timestamps them in batches and on demand, and keeps track of
// timestamping health.
package logmanager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/dbx"
	"github.com/dmitrijs2005/messagelog/internal/logging"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/encryption"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/models"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/repositories/repomanager"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/timestamper"
)

// A linear hash chain proof carries every later item of its batch, so the
// proof bytes of a batch grow with the square of its size: about 1.3 MiB
// at DefaultRecordsLimit and 31.5 MiB at MaxRecordsLimit with SHA-512.
// Each batch is built in memory and saved in one transaction.
const (
	DefaultRecordsLimit = 200
	MaxRecordsLimit     = 1000
)

type Config struct {
	// RecordsLimit caps the size of one timestamping batch, at most
	// MaxRecordsLimit.
	RecordsLimit int
	// TimestampImmediately timestamps every record as it is logged.
	TimestampImmediately bool
	// AcceptableFailurePeriod is how long batch timestamping may fail
	// before Log refuses new records. Zero disables the check.
	AcceptableFailurePeriod time.Duration
}

// LogMessage is what the gateway hands over for logging.
type LogMessage struct {
	QueryID   string
	Message   string
	Signature []byte
	// SignatureHash is the base64 digest the record is timestamped by.
	SignatureHash string
	Response      bool
	MemberClass   string
	MemberCode    string
	SubsystemCode string
	XRequestID    string
}

type Manager struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	timestamper *timestamper.Timestamper
	encryption  *encryption.RecordEncryption
	config      Config
	logger      logging.Logger
	now         func() time.Time

	batchMu  sync.Mutex
	statusMu sync.Mutex
	status   atomic.Pointer[Status]
}

// Option customizes a Manager.
type Option func(*Manager)

// WithEncryption seals message records before they are stored.
func WithEncryption(enc *encryption.RecordEncryption) Option {
	return func(m *Manager) { m.encryption = enc }
}

func NewManager(db *sql.DB, rm repomanager.RepositoryManager, ts *timestamper.Timestamper, cfg Config, logger logging.Logger, opts ...Option) *Manager {
	if cfg.RecordsLimit <= 0 {
		cfg.RecordsLimit = DefaultRecordsLimit
	}
	cfg.RecordsLimit = min(cfg.RecordsLimit, MaxRecordsLimit)
	m := &Manager{
		db:          db,
		repomanager: rm,
		timestamper: ts,
		config:      cfg,
		logger:      logger,
		now:         time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.status.Store(&Status{TSAs: map[string]TSAStatus{}})
	return m
}

// Status returns the current timestamping status snapshot.
func (m *Manager) Status() *Status {
	return m.status.Load()
}

// Log appends a pending record. It fails only when the record cannot be
// stored or when timestamping is not possible at all.
func (m *Manager) Log(ctx context.Context, msg LogMessage) (*models.MessageRecord, error) {
	if err := m.canLog(); err != nil {
		return nil, err
	}

	rec := &models.MessageRecord{
		Envelope:      models.Envelope{Time: m.now().UnixMilli()},
		QueryID:       msg.QueryID,
		Message:       msg.Message,
		Signature:     msg.Signature,
		SignatureHash: msg.SignatureHash,
		Response:      msg.Response,
		MemberClass:   msg.MemberClass,
		MemberCode:    msg.MemberCode,
		SubsystemCode: msg.SubsystemCode,
		XRequestID:    msg.XRequestID,
	}
	if m.encryption != nil {
		if err := m.encryption.Encrypt(rec); err != nil {
			return nil, err
		}
	}
	if err := m.repomanager.LogRecords(m.db).InsertMessage(ctx, rec); err != nil {
		return nil, fmt.Errorf("save message record: %w", err)
	}

	if m.config.TimestampImmediately {
		if _, err := m.timestampSingle(ctx, rec.ID, rec.SignatureHash); err != nil {
			m.logger.Warn(ctx, "immediate timestamping failed, record left pending", "id", rec.ID, "error", err)
		}
	}
	return rec, nil
}

func (m *Manager) canLog() error {
	if len(m.timestamper.URLs()) == 0 {
		return common.ErrNoTimestampingProvider
	}
	if m.config.TimestampImmediately || m.config.AcceptableFailurePeriod <= 0 {
		return nil
	}
	if failing := m.Status().FailingFor(m.now()); failing > m.config.AcceptableFailurePeriod {
		return fmt.Errorf("%w: failing for %s", common.ErrTimestampingFailed, failing.Round(time.Second))
	}
	return nil
}

// Timestamp returns the timestamp record of message record id, timestamping
// the record on its own when it is still pending.
func (m *Manager) Timestamp(ctx context.Context, id int64) (*models.TimestampRecord, error) {
	repo := m.repomanager.LogRecords(m.db)
	rec, err := repo.FindMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TimestampRecordID != nil {
		return repo.FindTimestamp(ctx, *rec.TimestampRecordID)
	}

	ts, err := m.timestampSingle(ctx, rec.ID, rec.SignatureHash)
	if errors.Is(err, common.ErrorNotFound) {
		// a batch got to the record first
		if rec, err = repo.FindMessage(ctx, id); err == nil && rec.TimestampRecordID != nil {
			return repo.FindTimestamp(ctx, *rec.TimestampRecordID)
		}
	}
	return ts, err
}

func (m *Manager) timestampSingle(ctx context.Context, id int64, signatureHash string) (*models.TimestampRecord, error) {
	res := m.timestamper.HandleTask(ctx, timestamper.NewSingleTask(id, signatureHash))
	switch r := res.(type) {
	case *timestamper.Succeeded:
		return m.save(ctx, r)
	case *timestamper.Failed:
		return nil, r
	default:
		return nil, fmt.Errorf("unexpected task result %T", res)
	}
}

// TimestampPending runs one batch cycle over the oldest pending records.
// It returns the number of records timestamped.
func (m *Manager) TimestampPending(ctx context.Context) (int, error) {
	m.batchMu.Lock()
	defer m.batchMu.Unlock()

	pending, err := m.repomanager.LogRecords(m.db).SelectPending(ctx, m.config.RecordsLimit)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	task := timestamper.NewTask(pending)
	first, last := task.IDRange()
	log := m.logger.With("batch_size", task.Len(), "first_id", first, "last_id", last)

	switch r := m.timestamper.HandleTask(ctx, task).(type) {
	case *timestamper.Succeeded:
		if _, err := m.save(ctx, r); err != nil {
			log.Error(ctx, "saving timestamped batch failed", "error", err)
			m.recordFailure(nil, err)
			return 0, err
		}
		m.recordSuccess(r)
		return task.Len(), nil
	case *timestamper.Failed:
		m.recordFailure(r.ErrorsByURL, r.Cause)
		return 0, r
	default:
		return 0, fmt.Errorf("unexpected task result %T", r)
	}
}

// save persists a succeeded task in one transaction.
func (m *Manager) save(ctx context.Context, s *timestamper.Succeeded) (*models.TimestampRecord, error) {
	ts := &models.TimestampRecord{
		Envelope:        models.Envelope{Time: m.now().UnixMilli()},
		Timestamp:       s.Token,
		HashChainResult: s.ChainResult,
	}
	err := dbx.WithTx(ctx, m.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		repo := m.repomanager.LogRecords(tx)
		if err := repo.InsertTimestamp(ctx, ts); err != nil {
			return err
		}
		return repo.SetTimestamped(ctx, ts.ID, s.ChainResult, s.TimestampHashChain, s.Updates())
	})
	if err != nil {
		return nil, err
	}
	return ts, nil
}

func (m *Manager) recordSuccess(s *timestamper.Succeeded) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	now := m.now()
	st := m.status.Load().clone()
	st.LastSuccess = now
	st.FirstFailure = time.Time{}
	for url, err := range s.ErrorsByURL {
		st.TSAs[url] = TSAStatus{URL: url, Time: now, Error: err.Error()}
	}
	st.TSAs[s.URL] = TSAStatus{URL: s.URL, OK: true, Time: now}
	m.status.Store(st)
}

func (m *Manager) recordFailure(byURL map[string]error, cause error) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	now := m.now()
	st := m.status.Load().clone()
	if st.FirstFailure.IsZero() {
		st.FirstFailure = now
	}
	for url, err := range byURL {
		st.TSAs[url] = TSAStatus{URL: url, Time: now, Error: err.Error()}
	}
	m.status.Store(st)
}
