package archiver

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/digestlist"
)

const nameTimeLayout = "20060102150405"

// fileBuilder accumulates the records of one archive file in memory.
// Output is a function of the records and the previous digest only.
type fileBuilder struct {
	group  string
	method digestlist.Method
	buf    bytes.Buffer
	zw     *zip.Writer
	link   LinkingInfo

	// size bounds the final file size of the entries added so far.
	size     int64
	linkSize int
	// reserve is added to the bound for the envelope the file is stored in.
	reserve int64

	ids                 []int64
	firstTime, lastTime int64
}

func newFileBuilder(group string, method digestlist.Method, prevDigest []byte, prevFile string) *fileBuilder {
	b := &fileBuilder{
		group:  group,
		method: method,
		link:   LinkingInfo{Algorithm: method.Name, PrevDigest: prevDigest, PrevFile: prevFile},
	}
	b.zw = zip.NewWriter(&b.buf)
	b.linkSize = len(b.link.Marshal())
	return b
}

// Zip framing per entry: local header and central directory record, each
// carrying the name and a timestamp extra field, plus the zip64 data
// descriptor and a zip64 extra field.
const (
	entryOverhead = 30 + 46 + 2*9 + 24 + 28
	// end of central directory with its zip64 record and locator
	trailerOverhead = 22 + 56 + 20
	// longest hex digest of a linkinginfo line (SHA-512)
	maxDigestHex = 128
)

// deflateBound is the deflate output size of n incompressible bytes,
// stored in blocks of at most 65535 bytes with 5 bytes of framing each,
// plus the empty final block.
func deflateBound(n int) int64 {
	return int64(n + 5*(n/65535+2))
}

func entryBound(name string, n int) int64 {
	return entryOverhead + 2*int64(len(name)) + deflateBound(n)
}

func (b *fileBuilder) empty() bool { return len(b.ids) == 0 }

// fits reports whether an entry of n bytes can be added while the finished
// file, linkinginfo and envelope included, stays within limit. An empty
// file accepts any entry.
func (b *fileBuilder) fits(name string, n int, limit int64) bool {
	if b.empty() || limit <= 0 {
		return true
	}
	link := b.linkSize + maxDigestHex + len(name) + 2
	total := b.size + entryBound(name, n) + entryBound(LinkingInfoName, link) + trailerOverhead + b.reserve
	return total <= limit
}

func encodeRecord(r Record) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func (b *fileBuilder) add(r Record, data []byte) error {
	name := r.EntryName()
	if err := b.writeEntry(name, data, r.Time); err != nil {
		return err
	}
	d, err := b.method.Digest(data)
	if err != nil {
		return err
	}
	b.link.Entries = append(b.link.Entries, LinkEntry{Name: name, Digest: d})
	if b.empty() {
		b.firstTime = r.Time
	}
	b.ids = append(b.ids, r.ID)
	b.lastTime = max(b.lastTime, r.Time)
	b.firstTime = min(b.firstTime, r.Time)
	b.size += entryBound(name, len(data))
	b.linkSize += 2*len(d) + len(name) + 2
	return nil
}

func (b *fileBuilder) writeEntry(name string, data []byte, at int64) error {
	w, err := b.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.UnixMilli(at).UTC(),
	})
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

// name is derived from the group and the records in the file.
func (b *fileBuilder) name() string {
	var parts []string
	parts = append(parts, "mlog")
	if b.group != "" {
		parts = append(parts, sanitize(b.group, 128))
	}
	parts = append(parts,
		time.UnixMilli(b.firstTime).UTC().Format(nameTimeLayout),
		time.UnixMilli(b.lastTime).UTC().Format(nameTimeLayout),
		fmt.Sprintf("%d", b.ids[0]),
		fmt.Sprintf("%d", b.ids[len(b.ids)-1]),
	)
	return strings.Join(parts, "-") + ".zip"
}

// finish appends the linking info and returns the zip bytes.
func (b *fileBuilder) finish() ([]byte, error) {
	if err := b.writeEntry(LinkingInfoName, b.link.Marshal(), b.lastTime); err != nil {
		return nil, err
	}
	if err := b.zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return b.buf.Bytes(), nil
}
