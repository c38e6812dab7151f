// Package verifier checks archive files offline: entry digests against the
// linking info, hash chain proofs against chain results, and chain results
// against the message imprint of the time-stamp token.
package verifier

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/cryptox"
	"github.com/dmitrijs2005/messagelog/internal/digestlist"
	"github.com/dmitrijs2005/messagelog/internal/hashchain"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/archiver"
	"github.com/dmitrijs2005/messagelog/internal/tsp"
	"golang.org/x/crypto/openpgp"
)

type Options struct {
	// KeyRing opens encrypted archives.
	KeyRing openpgp.EntityList
	// Passphrase is asked when the private key is protected.
	Passphrase func() ([]byte, error)
}

// Failure is a problem with one archive entry.
type Failure struct {
	Entry string
	Err   error
}

type Report struct {
	Records  int
	Failures []Failure
	Link     *archiver.LinkingInfo
	// Digest is the digest of the archive file under the linking algorithm.
	Digest []byte
}

func (r *Report) OK() bool { return len(r.Failures) == 0 }

func (r *Report) fail(entry string, err error) {
	r.Failures = append(r.Failures, Failure{Entry: entry, Err: err})
}

// VerifyFile verifies a plain or OpenPGP encrypted archive file.
func VerifyFile(path string, opts Options) (*Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gpg") {
		r, err := cryptox.Decrypt(bytes.NewReader(raw), opts.KeyRing, opts.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", path, err)
		}
		if raw, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", path, err)
		}
	}
	return VerifyArchive(bytes.NewReader(raw), int64(len(raw)), opts)
}

// VerifyArchive verifies a plain zip archive. Structural problems return an
// error; per-record problems are collected in the report.
func VerifyArchive(r io.ReaderAt, size int64, _ Options) (*Report, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	entries := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		b, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		entries[f.Name] = b
	}

	raw, ok := entries[archiver.LinkingInfoName]
	if !ok {
		return nil, fmt.Errorf("archive has no %s entry", archiver.LinkingInfoName)
	}
	link, err := archiver.ParseLinkingInfo(raw)
	if err != nil {
		return nil, err
	}
	method, err := digestlist.LookupMethod(link.Algorithm)
	if err != nil {
		return nil, err
	}

	rep := &Report{Link: link}
	if rep.Digest, err = archiveDigest(r, size, method); err != nil {
		return nil, err
	}

	listed := make(map[string]bool, len(link.Entries))
	for _, le := range link.Entries {
		listed[le.Name] = true
		data, ok := entries[le.Name]
		if !ok {
			rep.fail(le.Name, fmt.Errorf("listed in linking info but missing"))
			continue
		}
		d, err := method.Digest(data)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(d, le.Digest) {
			rep.fail(le.Name, fmt.Errorf("entry digest does not match linking info"))
			continue
		}
		rep.Records++
		if err := verifyRecord(data); err != nil {
			rep.fail(le.Name, err)
		}
	}
	for name := range entries {
		if name != archiver.LinkingInfoName && !listed[name] {
			rep.fail(name, fmt.Errorf("not listed in linking info"))
		}
	}
	return rep, nil
}

func verifyRecord(data []byte) error {
	var rec archiver.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	itemHash, err := base64.StdEncoding.DecodeString(rec.SignatureHash)
	if err != nil {
		return fmt.Errorf("decode signature hash: %w", err)
	}
	res, err := hashchain.ParseResult(rec.HashChainResult)
	if err != nil {
		return err
	}
	if err := hashchain.Verify(res.Method, res.Ordering, itemHash, rec.HashChain, rec.HashChainResult); err != nil {
		return err
	}

	token, err := tsp.ParseToken(rec.Timestamp)
	if err != nil {
		return err
	}
	if !token.Method.OID.Equal(res.Method.OID) || !bytes.Equal(token.Digest, res.Result) {
		return fmt.Errorf("%w: time-stamp token does not cover the chain result", common.ErrHashChainMismatch)
	}
	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func archiveDigest(r io.ReaderAt, size int64, m digestlist.Method) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return m.Digest(buf)
}

// CheckLink reports whether next links to prev, the file preceding it.
func CheckLink(prevName string, prev, next *Report) error {
	if next.Link == nil || !bytes.Equal(next.Link.PrevDigest, prev.Digest) || next.Link.PrevFile != prevName {
		return fmt.Errorf("%w: archive does not link to %s", common.ErrHashChainMismatch, prevName)
	}
	return nil
}
