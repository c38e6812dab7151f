package verifier

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/dbx"
	"github.com/dmitrijs2005/messagelog/internal/digestlist"
	"github.com/dmitrijs2005/messagelog/internal/globalconf"
	"github.com/dmitrijs2005/messagelog/internal/logging"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/archiver"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/logmanager"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/repositories/repomanager"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/storetest"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/timestamper"
	"github.com/dmitrijs2005/messagelog/internal/tsp"
	"github.com/dmitrijs2005/messagelog/internal/tsp/tsptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"
)

type pipeline struct {
	manager  *logmanager.Manager
	archiver func(cfg archiver.Config, opts ...archiver.Option) *archiver.Archiver
	dir      string
}

func newPipeline(t *testing.T, ordering digestlist.Ordering) *pipeline {
	t.Helper()
	db := storetest.Open(t)
	rm, err := repomanager.NewSQLRepositoryManager(dbx.SQLite)
	require.NoError(t, err)
	tsa := tsptest.NewServer()
	t.Cleanup(tsa.Close)
	conf := globalconf.NewStatic(globalconf.Snapshot{ValidUntil: time.Now().Add(time.Hour)})

	ts := timestamper.New(timestamper.Config{Method: digestlist.SHA512, Ordering: ordering, URLs: []string{tsa.URL}},
		tsp.NewHTTPClient(time.Second, time.Second), conf, logging.NewNopLogger())
	p := &pipeline{
		manager: logmanager.NewManager(db, rm, ts, logmanager.Config{}, logging.NewNopLogger()),
		dir:     t.TempDir(),
	}
	p.archiver = func(cfg archiver.Config, opts ...archiver.Option) *archiver.Archiver {
		cfg.Path = p.dir
		cfg.Method = digestlist.SHA512
		return archiver.New(db, rm, cfg, logging.NewNopLogger(), opts...)
	}
	return p
}

func (p *pipeline) logAndArchive(t *testing.T, n int, cfg archiver.Config, opts ...archiver.Option) []string {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		h := sha256.Sum256([]byte(fmt.Sprintf("signature %d %d", i, time.Now().UnixNano())))
		_, err := p.manager.Log(ctx, logmanager.LogMessage{
			QueryID:       fmt.Sprintf("q%d", i),
			Message:       "<m/>",
			SignatureHash: base64.StdEncoding.EncodeToString(h[:]),
			MemberClass:   "GOV",
			MemberCode:    "1",
		})
		require.NoError(t, err)
	}
	_, err := p.manager.TimestampPending(ctx)
	require.NoError(t, err)
	res, err := p.archiver(cfg, opts...).Execute(ctx)
	require.NoError(t, err)
	return res.Files
}

func TestVerifyFile_ValidArchives(t *testing.T) {
	for _, o := range []digestlist.Ordering{digestlist.Ordered, digestlist.Sorted} {
		t.Run(o.String(), func(t *testing.T) {
			p := newPipeline(t, o)
			files := p.logAndArchive(t, 5, archiver.Config{})
			require.Len(t, files, 1)

			rep, err := VerifyFile(filepath.Join(p.dir, files[0]), Options{})
			require.NoError(t, err)
			assert.True(t, rep.OK(), "%+v", rep.Failures)
			assert.Equal(t, 5, rep.Records)
		})
	}
}

func TestVerifyFile_Chain(t *testing.T) {
	p := newPipeline(t, digestlist.Ordered)
	first := p.logAndArchive(t, 2, archiver.Config{})
	second := p.logAndArchive(t, 2, archiver.Config{})

	r1, err := VerifyFile(filepath.Join(p.dir, first[0]), Options{})
	require.NoError(t, err)
	r2, err := VerifyFile(filepath.Join(p.dir, second[0]), Options{})
	require.NoError(t, err)

	assert.NoError(t, CheckLink(first[0], r1, r2))
	assert.ErrorIs(t, CheckLink(second[0], r2, r1), common.ErrHashChainMismatch)
}

func TestVerifyFile_Encrypted(t *testing.T) {
	p := newPipeline(t, digestlist.Ordered)
	key, err := openpgp.NewEntity("archive", "", "archive@example.org", &packet.Config{RSABits: 1024})
	require.NoError(t, err)
	ring := openpgp.EntityList{key}

	files := p.logAndArchive(t, 3, archiver.Config{Encrypt: true, DefaultKeyID: key.PrimaryKey.KeyIdString()}, archiver.WithKeyRing(ring))
	require.Len(t, files, 1)

	rep, err := VerifyFile(filepath.Join(p.dir, files[0]), Options{KeyRing: ring})
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, 3, rep.Records)

	_, err = VerifyFile(filepath.Join(p.dir, files[0]), Options{})
	assert.Error(t, err)
}

// rewrite copies the archive, letting edit change entries; the linking info
// is recomputed so only the record-level checks can catch the change.
func rewrite(t *testing.T, path string, edit func(entries map[string][]byte, link *archiver.LinkingInfo)) []byte {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	entries := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		entries[f.Name], err = io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
	}
	link, err := archiver.ParseLinkingInfo(entries[archiver.LinkingInfoName])
	require.NoError(t, err)

	edit(entries, link)
	for i, le := range link.Entries {
		link.Entries[i].Digest, _ = digestlist.SHA512.Digest(entries[le.Name])
	}
	entries[archiver.LinkingInfoName] = link.Marshal()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestVerifyArchive_SwappedProofs(t *testing.T) {
	p := newPipeline(t, digestlist.Ordered)
	files := p.logAndArchive(t, 2, archiver.Config{})

	data := rewrite(t, filepath.Join(p.dir, files[0]), func(entries map[string][]byte, link *archiver.LinkingInfo) {
		var a, b archiver.Record
		require.NoError(t, json.Unmarshal(entries[link.Entries[0].Name], &a))
		require.NoError(t, json.Unmarshal(entries[link.Entries[1].Name], &b))
		a.HashChain, b.HashChain = b.HashChain, a.HashChain
		entries[link.Entries[0].Name], _ = json.Marshal(a)
		entries[link.Entries[1].Name], _ = json.Marshal(b)
	})

	rep, err := VerifyArchive(bytes.NewReader(data), int64(len(data)), Options{})
	require.NoError(t, err)
	require.Len(t, rep.Failures, 2)
	for _, f := range rep.Failures {
		assert.ErrorIs(t, f.Err, common.ErrHashChainMismatch)
	}
}

func TestVerifyArchive_ForeignToken(t *testing.T) {
	p := newPipeline(t, digestlist.Ordered)
	files := p.logAndArchive(t, 1, archiver.Config{})

	other, err := tsptest.BuildToken(tsptest.TokenSpec{
		Algorithm: digestlist.SHA512.OID, Digest: make([]byte, 64), Serial: big.NewInt(1), GenTime: time.Now(),
	})
	require.NoError(t, err)

	data := rewrite(t, filepath.Join(p.dir, files[0]), func(entries map[string][]byte, link *archiver.LinkingInfo) {
		var r archiver.Record
		require.NoError(t, json.Unmarshal(entries[link.Entries[0].Name], &r))
		r.Timestamp = other
		entries[link.Entries[0].Name], _ = json.Marshal(r)
	})

	rep, err := VerifyArchive(bytes.NewReader(data), int64(len(data)), Options{})
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.ErrorIs(t, rep.Failures[0].Err, common.ErrHashChainMismatch)
}

func TestVerifyArchive_EntryDigestMismatch(t *testing.T) {
	p := newPipeline(t, digestlist.Ordered)
	files := p.logAndArchive(t, 1, archiver.Config{})
	path := filepath.Join(p.dir, files[0])

	data := rewrite(t, path, func(entries map[string][]byte, link *archiver.LinkingInfo) {
		entries["extra.json"] = []byte("{}")
	})
	rep, err := VerifyArchive(bytes.NewReader(data), int64(len(data)), Options{})
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "extra.json", rep.Failures[0].Entry)

	_, err = VerifyArchive(bytes.NewReader([]byte("not a zip")), 9, Options{})
	assert.Error(t, err)
}
