// Package archiver moves timestamped records into linked archive files and
// marks them archived in the same transaction.
package archiver

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/cryptox"
	"github.com/dmitrijs2005/messagelog/internal/dbx"
	"github.com/dmitrijs2005/messagelog/internal/digestlist"
	"github.com/dmitrijs2005/messagelog/internal/filex"
	"github.com/dmitrijs2005/messagelog/internal/logging"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/encryption"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/models"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/repositories/logrecords"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/repositories/repomanager"
	"github.com/google/uuid"
	"golang.org/x/crypto/openpgp"
)

// DefaultBatchSize keeps the hash chain proofs loaded by one archiving
// transaction to a few tens of MiB.
const DefaultBatchSize = 2000

type Config struct {
	Path        string
	MaxFileSize int64
	Grouping    models.Grouping
	// BatchSize is the number of records archived per transaction.
	BatchSize int
	// Method digests archive entries and files for linking.
	Method digestlist.Method

	Encrypt      bool
	DefaultKeyID string
	// GroupKeys maps a group name to the key id its files are encrypted to.
	GroupKeys map[string]string
}

// Result summarizes one Execute call.
type Result struct {
	Records          int
	Files            []string
	TimestampRecords int64
}

type Archiver struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cfg         Config
	keyring     openpgp.EntityList
	recordKey   []byte
	transfers   []Transfer
	logger      logging.Logger
}

type Option func(*Archiver)

// WithKeyRing provides the public keys archive files are encrypted to.
func WithKeyRing(ring openpgp.EntityList) Option {
	return func(a *Archiver) { a.keyring = ring }
}

// WithRecordKey decrypts database-encrypted records before archiving.
func WithRecordKey(master []byte) Option {
	return func(a *Archiver) { a.recordKey = master }
}

func WithTransfer(t Transfer) Option {
	return func(a *Archiver) { a.transfers = append(a.transfers, t) }
}

func New(db *sql.DB, rm repomanager.RepositoryManager, cfg Config, logger logging.Logger, opts ...Option) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Grouping == "" {
		cfg.Grouping = models.GroupingNone
	}
	a := &Archiver{db: db, repomanager: rm, cfg: cfg, logger: logger}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Execute archives every record that was timestamped when the call started.
func (a *Archiver) Execute(ctx context.Context) (*Result, error) {
	res := &Result{}
	if err := filex.EnsureDir(a.cfg.Path); err != nil {
		return res, fmt.Errorf("%w: %v", common.ErrArchiveWriteFailed, err)
	}

	recovered, err := a.recoverStaged(ctx)
	res.Files = append(res.Files, recovered...)
	a.transfer(ctx, recovered)
	if err != nil {
		return res, fmt.Errorf("%w: %v", common.ErrArchiveWriteFailed, err)
	}

	maxID, err := a.repomanager.LogRecords(a.db).MaxArchivableID(ctx)
	if err != nil {
		return res, err
	}
	if maxID == 0 {
		return res, nil
	}

	start := time.Now()
	for {
		n, files, tsCount, err := a.archiveBatch(ctx, maxID)
		if err != nil {
			res.Files = append(res.Files, files...)
			a.logger.Error(ctx, "archiving failed", "archived", res.Records, "max_id", maxID, "error", err)
			return res, err
		}
		res.Records += n
		res.Files = append(res.Files, files...)
		res.TimestampRecords += tsCount
		archivedRecordsCounter.Add(float64(n))
		a.transfer(ctx, files)

		if n < a.cfg.BatchSize {
			break
		}
	}
	a.logger.Info(ctx, "archived log records", "records", res.Records, "files", len(res.Files), "took", time.Since(start))
	return res, nil
}

type batchState struct {
	repo    logrecords.Repository
	digests map[string]*models.ArchiveDigest
	staged  []stagedFile
}

func (a *Archiver) archiveBatch(ctx context.Context, maxID int64) (n int, files []string, tsCount int64, err error) {
	var staged []stagedFile
	err = dbx.WithTx(ctx, a.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		// a retried transaction starts over
		for _, sf := range staged {
			if err := a.discard(ctx, sf); err != nil {
				return err
			}
		}
		st := &batchState{repo: a.repomanager.LogRecords(tx), digests: map[string]*models.ArchiveDigest{}}
		defer func() { staged = st.staged }()

		entries, err := st.repo.SelectArchivable(ctx, maxID, a.cfg.BatchSize, a.cfg.Grouping)
		if err != nil {
			return err
		}
		n = len(entries)
		if n == 0 {
			return nil
		}

		var cur *fileBuilder
		for _, e := range entries {
			if a.recordKey != nil {
				if err := encryption.Decrypt(a.recordKey, e.Message); err != nil {
					return err
				}
			} else if e.Message.IsEncrypted() {
				return fmt.Errorf("record %d is encrypted and no record key is configured", e.Message.ID)
			}

			rec := NewRecord(e)
			data, err := encodeRecord(rec)
			if err != nil {
				return err
			}
			group := e.Message.GroupKey(a.cfg.Grouping)
			if cur != nil && (cur.group != group || !cur.fits(rec.EntryName(), len(data), a.cfg.MaxFileSize)) {
				if err := a.flush(ctx, st, cur); err != nil {
					return err
				}
				cur = nil
			}
			if cur == nil {
				if cur, err = a.startFile(ctx, st, group); err != nil {
					return err
				}
			}
			if err := cur.add(rec, data); err != nil {
				return fmt.Errorf("%w: %v", common.ErrArchiveWriteFailed, err)
			}
		}
		if err := a.flush(ctx, st, cur); err != nil {
			return err
		}

		tsCount, err = st.repo.MarkTimestampRecordsArchived(ctx)
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		for _, sf := range staged {
			if derr := a.discard(ctx, sf); derr != nil {
				a.logger.Warn(ctx, "could not remove staged archive file", "file", sf.path(), "error", derr)
			}
		}
		return 0, nil, 0, err
	}
	for _, sf := range staged {
		if err := a.publish(sf); err != nil {
			return n, files, tsCount, fmt.Errorf("%w: publish %s: %v", common.ErrArchiveWriteFailed, sf.name, err)
		}
		files = append(files, sf.name)
	}
	return n, files, tsCount, nil
}

func (a *Archiver) startFile(ctx context.Context, st *batchState, group string) (*fileBuilder, error) {
	last, ok := st.digests[group]
	if !ok {
		d, err := st.repo.LoadArchiveDigest(ctx, group)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			d = &models.ArchiveDigest{GroupName: group}
		case err != nil:
			return nil, err
		}
		last = d
		st.digests[group] = d
	}

	var prev []byte
	if last.Digest != "" {
		var err error
		if prev, err = hex.DecodeString(last.Digest); err != nil {
			return nil, fmt.Errorf("archive digest of group %q: %w", group, err)
		}
	}
	b := newFileBuilder(group, a.cfg.Method, prev, last.FileName)
	if a.cfg.Encrypt {
		b.reserve = encryptionReserve
	}
	return b, nil
}

// encryptionReserve bounds the OpenPGP packets wrapped around an encrypted
// archive file for a single recipient.
const encryptionReserve = 4096

// flush stages the file, then marks its records archived and stores the
// file digest for the next file of the group. The staged file becomes
// visible under its final name only after the transaction commits.
func (a *Archiver) flush(ctx context.Context, st *batchState, b *fileBuilder) error {
	if b == nil || b.empty() {
		return nil
	}
	plain, err := b.finish()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrArchiveWriteFailed, err)
	}
	sf, err := a.stage(ctx, b.group, b.name(), b.ids[0], plain)
	if err != nil {
		archiveFilesCounter.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", common.ErrArchiveWriteFailed, err)
	}
	st.staged = append(st.staged, sf)

	if err := st.repo.MarkArchived(ctx, b.ids); err != nil {
		return err
	}
	digest, err := a.cfg.Method.Digest(plain)
	if err != nil {
		return err
	}
	d := &models.ArchiveDigest{GroupName: b.group, FileName: sf.name, Digest: hex.EncodeToString(digest)}
	if err := st.repo.SaveArchiveDigest(ctx, d); err != nil {
		return err
	}
	st.digests[b.group] = d
	return nil
}

// stagedFile is an archive file written under a temporary name. The id of
// its first record is part of the temporary name so a later run can tell
// whether the transaction that wrote it committed.
type stagedFile struct {
	name    string
	firstID int64
}

const stagedSuffix = ".part"

func (s stagedFile) path() string {
	return s.name + "." + strconv.FormatInt(s.firstID, 10) + stagedSuffix
}

func parseStaged(file string) (stagedFile, bool) {
	rest, ok := strings.CutSuffix(file, stagedSuffix)
	if !ok {
		return stagedFile{}, false
	}
	i := strings.LastIndex(rest, ".")
	if i <= 0 {
		return stagedFile{}, false
	}
	id, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return stagedFile{}, false
	}
	return stagedFile{name: rest[:i], firstID: id}, true
}

// Seams for tests.
var (
	removeFile = os.Remove
	renameFile = os.Rename
)

// stage writes plain (encrypted if configured) and its checksum sidecar
// under a temporary name. A committed file already holding the final name
// makes the new file take a unique suffix.
func (a *Archiver) stage(ctx context.Context, group, name string, firstID int64, plain []byte) (stagedFile, error) {
	if a.cfg.Encrypt {
		name += ".gpg"
	}
	dir := a.cfg.Path
	if filex.Exists(filepath.Join(dir, name)) {
		renamed := withSuffix(name, uuid.NewString())
		a.logger.Warn(ctx, "archive file name taken, renaming", "file", name, "renamed", renamed)
		archiveFilesCounter.WithLabelValues("renamed").Inc()
		name = renamed
	}

	sf := stagedFile{name: name, firstID: firstID}
	if err := filex.WriteSidecarAs(dir, sf.path(), sf.name, filex.SHA256(plain)); err != nil {
		return sf, err
	}
	err := filex.WriteAtomic(dir, sf.path(), func(w io.Writer) error {
		if !a.cfg.Encrypt {
			_, err := w.Write(plain)
			return err
		}
		return a.encrypt(w, group, plain)
	})
	return sf, err
}

// publish moves a staged file and its sidecar to their final names.
func (a *Archiver) publish(sf stagedFile) error {
	dir := a.cfg.Path
	sidecar := filepath.Join(dir, filex.SidecarName(sf.name))
	// an interrupted publish may have moved the sidecar already
	if err := renameFile(filepath.Join(dir, filex.SidecarName(sf.path())), sidecar); err != nil &&
		!(errors.Is(err, os.ErrNotExist) && filex.Exists(sidecar)) {
		return err
	}
	if err := renameFile(filepath.Join(dir, sf.path()), filepath.Join(dir, sf.name)); err != nil {
		return err
	}
	archiveFilesCounter.WithLabelValues("written").Inc()
	return nil
}

// discard removes a staged file whose transaction did not commit.
func (a *Archiver) discard(ctx context.Context, sf stagedFile) error {
	dir := a.cfg.Path
	for _, p := range []string{sf.path(), filex.SidecarName(sf.path())} {
		if err := removeFile(filepath.Join(dir, p)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: remove %s: %v", common.ErrArchiveWriteFailed, p, err)
		}
	}
	a.logger.Debug(ctx, "discarded staged archive file", "file", sf.name)
	archiveFilesCounter.WithLabelValues("discarded").Inc()
	return nil
}

// recoverStaged resolves files left staged by an interrupted run. A file
// whose first record is archived (or already cleaned) was committed and is
// published; any other staged file belongs to a rolled back transaction and
// is discarded, since its records will be archived again.
func (a *Archiver) recoverStaged(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(a.cfg.Path)
	if err != nil {
		return nil, err
	}
	repo := a.repomanager.LogRecords(a.db)
	var published []string
	for _, e := range entries {
		sf, ok := parseStaged(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		m, err := repo.FindMessage(ctx, sf.firstID)
		committed := errors.Is(err, common.ErrorNotFound) || (err == nil && m.Archived)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return published, err
		}
		if !committed {
			a.logger.Warn(ctx, "discarding archive file of a rolled back run", "file", sf.name)
			if err := a.discard(ctx, sf); err != nil {
				return published, err
			}
			continue
		}
		if err := a.publish(sf); err != nil {
			return published, err
		}
		a.logger.Info(ctx, "published archive file of an interrupted run", "file", sf.name)
		published = append(published, sf.name)
	}
	return published, nil
}

func (a *Archiver) keyID(group string) string {
	if id, ok := a.cfg.GroupKeys[group]; ok && id != "" {
		return id
	}
	return a.cfg.DefaultKeyID
}

func (a *Archiver) encrypt(w io.Writer, group string, plain []byte) error {
	recipients, err := cryptox.SelectKeys(a.keyring, []string{a.keyID(group)})
	if err != nil {
		return err
	}
	ew, err := cryptox.EncryptTo(w, recipients)
	if err != nil {
		return err
	}
	if _, err := ew.Write(plain); err != nil {
		_ = ew.Close()
		return err
	}
	return ew.Close()
}

func (a *Archiver) transfer(ctx context.Context, files []string) {
	if len(files) == 0 {
		return
	}
	for _, t := range a.transfers {
		if err := t.Transfer(ctx, a.cfg.Path, files); err != nil {
			transferFailuresCounter.Inc()
			a.logger.Error(ctx, "archive transfer failed", "files", len(files), "error", err)
		}
	}
}

func withSuffix(name, suffix string) string {
	base, ext := name, ""
	if i := strings.Index(name, "."); i > 0 {
		base, ext = name[:i], name[i:]
	}
	return base + "-" + suffix + ext
}
