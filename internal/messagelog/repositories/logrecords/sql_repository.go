package logrecords

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/dbx"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/models"
)

// maxInList bounds the size of generated IN (...) lists.
const maxInList = 500

const messageColumns = `id, time, archived, queryid, message, signature, signaturehash, response,
		memberclass, membercode, subsystemcode, xrequestid, hashchain, hashchainresult,
		timestamprecord, timestamphashchain, keyid, ciphermessage`

// SQLRepository implements Repository over dbx.DBTX for PostgreSQL (pgx)
// and SQLite.
type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

// NewSQLRepository constructs a repository bound to the given DBTX.
func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

func (r *SQLRepository) q(query string) string {
	return r.dialect.Rebind(query)
}

// InsertMessage stores a new pending message record and sets its ID.
func (r *SQLRepository) InsertMessage(ctx context.Context, m *models.MessageRecord) error {
	query := `
		INSERT INTO logrecord (discriminator, time, archived, queryid, message, signature, signaturehash,
			response, memberclass, membercode, subsystemcode, xrequestid, keyid, ciphermessage)
		VALUES ($1, $2, FALSE, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, r.q(query),
		string(models.KindMessage), m.Time, m.QueryID, m.Message, m.Signature, m.SignatureHash,
		m.Response, m.MemberClass, m.MemberCode, m.SubsystemCode, nullString(m.XRequestID),
		nullString(m.KeyID), m.CipherMessage,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// InsertTimestamp stores a new timestamp record and sets its ID.
func (r *SQLRepository) InsertTimestamp(ctx context.Context, t *models.TimestampRecord) error {
	query := `
		INSERT INTO logrecord (discriminator, time, archived, timestamp, hashchainresult)
		VALUES ($1, $2, FALSE, $3, $4)
		RETURNING id
	`
	if err := r.db.QueryRowContext(ctx, r.q(query), string(models.KindTimestamp), t.Time, t.Timestamp, t.HashChainResult).Scan(&t.ID); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner, extra ...any) (*models.MessageRecord, error) {
	var (
		m                                        models.MessageRecord
		queryID, message, sigHash, memberClass   sql.NullString
		memberCode, subsystemCode, xReqID, keyID sql.NullString
		response                                 sql.NullBool
		tsID                                     sql.NullInt64
	)
	dest := []any{
		&m.ID, &m.Time, &m.Archived, &queryID, &message, &m.Signature, &sigHash, &response,
		&memberClass, &memberCode, &subsystemCode, &xReqID, &m.HashChain, &m.HashChainResult,
		&tsID, &m.TimestampHashChain, &keyID, &m.CipherMessage,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	m.QueryID = queryID.String
	m.Message = message.String
	m.SignatureHash = sigHash.String
	m.Response = response.Bool
	m.MemberClass = memberClass.String
	m.MemberCode = memberCode.String
	m.SubsystemCode = subsystemCode.String
	m.XRequestID = xReqID.String
	m.KeyID = keyID.String
	if tsID.Valid {
		id := tsID.Int64
		m.TimestampRecordID = &id
	}
	return &m, nil
}

// FindMessage loads a message record. If not found, it returns common.ErrorNotFound.
func (r *SQLRepository) FindMessage(ctx context.Context, id int64) (*models.MessageRecord, error) {
	query := `SELECT ` + messageColumns + ` FROM logrecord WHERE id = $1 AND discriminator = 'm'`
	m, err := scanMessage(r.db.QueryRowContext(ctx, r.q(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

// FindTimestamp loads a timestamp record. If not found, it returns common.ErrorNotFound.
func (r *SQLRepository) FindTimestamp(ctx context.Context, id int64) (*models.TimestampRecord, error) {
	query := `
		SELECT id, time, archived, timestamp, hashchainresult
		FROM logrecord
		WHERE id = $1 AND discriminator = 't'
	`
	t := &models.TimestampRecord{}
	if err := r.db.QueryRowContext(ctx, r.q(query), id).Scan(&t.ID, &t.Time, &t.Archived, &t.Timestamp, &t.HashChainResult); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *SQLRepository) SelectPending(ctx context.Context, limit int) ([]models.PendingRecord, error) {
	query := `
		SELECT id, signaturehash
		FROM logrecord
		WHERE discriminator = 'm' AND timestamprecord IS NULL
		ORDER BY id
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, r.q(query), limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.PendingRecord
	for rows.Next() {
		var p models.PendingRecord
		if err := rows.Scan(&p.ID, &p.SignatureHash); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) SetTimestamped(ctx context.Context, tsID int64, chainResult, tsHashChain []byte, updates []models.BatchUpdate) error {
	query := `
		UPDATE logrecord
		SET timestamprecord = $1, hashchainresult = $2, timestamphashchain = $3, hashchain = $4
		WHERE id = $5 AND discriminator = 'm' AND timestamprecord IS NULL
	`
	for _, u := range updates {
		res, err := r.db.ExecContext(ctx, r.q(query), tsID, chainResult, tsHashChain, u.HashChain, u.ID)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("message record %d is not pending: %w", u.ID, common.ErrorNotFound)
		}
	}
	return nil
}

func (r *SQLRepository) MaxArchivableID(ctx context.Context) (int64, error) {
	query := `
		SELECT COALESCE(MAX(id), 0)
		FROM logrecord
		WHERE discriminator = 'm' AND archived = FALSE AND timestamprecord IS NOT NULL
	`
	var id int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&id); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func groupOrder(g models.Grouping) string {
	switch g {
	case models.GroupingMember:
		return "m.memberclass, m.membercode, m.id"
	case models.GroupingSubsystem:
		return "m.memberclass, m.membercode, m.subsystemcode, m.id"
	default:
		return "m.id"
	}
}

// SelectArchivable returns timestamped, unarchived message records with
// id <= maxID together with their timestamp records, ordered by group and id.
func (r *SQLRepository) SelectArchivable(ctx context.Context, maxID int64, limit int, grouping models.Grouping) ([]models.ArchiveEntry, error) {
	query := `
		SELECT m.id, m.time, m.archived, m.queryid, m.message, m.signature, m.signaturehash, m.response,
			m.memberclass, m.membercode, m.subsystemcode, m.xrequestid, m.hashchain, m.hashchainresult,
			m.timestamprecord, m.timestamphashchain, m.keyid, m.ciphermessage,
			t.time, t.archived, t.timestamp, t.hashchainresult
		FROM logrecord m
		JOIN logrecord t ON t.id = m.timestamprecord
		WHERE m.discriminator = 'm' AND m.archived = FALSE AND m.timestamprecord IS NOT NULL AND m.id <= $1
		ORDER BY ` + groupOrder(grouping) + `
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, r.q(query), maxID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.ArchiveEntry
	for rows.Next() {
		t := &models.TimestampRecord{}
		m, err := scanMessage(rows, &t.Time, &t.Archived, &t.Timestamp, &t.HashChainResult)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		t.ID = *m.TimestampRecordID
		out = append(out, models.ArchiveEntry{Message: m, Timestamp: t})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) MarkArchived(ctx context.Context, ids []int64) error {
	for start := 0; start < len(ids); start += maxInList {
		chunk := ids[start:min(start+maxInList, len(ids))]
		query := `
			UPDATE logrecord
			SET archived = TRUE
			WHERE discriminator = 'm' AND archived = FALSE AND timestamprecord IS NOT NULL
				AND id IN (` + dbx.Placeholders(1, len(chunk)) + `)
		`
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		res, err := r.db.ExecContext(ctx, r.q(query), args...)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n != int64(len(chunk)) {
			return fmt.Errorf("%d of %d records archived: %w", n, len(chunk), common.ErrNotTimestamped)
		}
	}
	return nil
}

// MarkTimestampRecordsArchived archives timestamp records none of whose
// message records is still unarchived.
func (r *SQLRepository) MarkTimestampRecordsArchived(ctx context.Context) (int64, error) {
	query := `
		UPDATE logrecord
		SET archived = TRUE
		WHERE discriminator = 't' AND archived = FALSE
			AND NOT EXISTS (
				SELECT 1 FROM logrecord m
				WHERE m.discriminator = 'm' AND m.timestamprecord = logrecord.id AND m.archived = FALSE
			)
	`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) DeleteArchived(ctx context.Context, olderThan int64, limit int) (int64, error) {
	query := `
		DELETE FROM logrecord
		WHERE id IN (
			SELECT id FROM logrecord
			WHERE archived = TRUE AND time <= $1
			ORDER BY id
			LIMIT $2
		)
	`
	res, err := r.db.ExecContext(ctx, r.q(query), olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// LoadArchiveDigest returns the last archive digest of group or common.ErrorNotFound.
func (r *SQLRepository) LoadArchiveDigest(ctx context.Context, group string) (*models.ArchiveDigest, error) {
	query := `
		SELECT group_name, file_name, digest
		FROM archive_digest
		WHERE group_name = $1
	`
	d := &models.ArchiveDigest{}
	if err := r.db.QueryRowContext(ctx, r.q(query), group).Scan(&d.GroupName, &d.FileName, &d.Digest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *SQLRepository) SaveArchiveDigest(ctx context.Context, d *models.ArchiveDigest) error {
	query := `
		INSERT INTO archive_digest (group_name, file_name, digest)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_name) DO UPDATE SET file_name = EXCLUDED.file_name, digest = EXCLUDED.digest
	`
	if _, err := r.db.ExecContext(ctx, r.q(query), d.GroupName, d.FileName, d.Digest); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
