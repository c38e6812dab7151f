package archiver

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// LinkingInfoName is the entry holding the linking info of an archive file.
const LinkingInfoName = "linkinginfo"

// LinkEntry is the digest of one archive entry.
type LinkEntry struct {
	Name   string
	Digest []byte
}

// LinkingInfo binds an archive file to its predecessor in the same group
// and lists the digest of every entry.
//
// Text form:
//
//	algorithm SHA-512
//	previous <hex digest> <file name>
//	<hex digest> <entry name>
//	...
//
// The first file of a group has "previous - -".
type LinkingInfo struct {
	Algorithm  string
	PrevDigest []byte
	PrevFile   string
	Entries    []LinkEntry
}

func (l *LinkingInfo) Marshal() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "algorithm %s\n", l.Algorithm)
	if len(l.PrevDigest) == 0 {
		b.WriteString("previous - -\n")
	} else {
		fmt.Fprintf(&b, "previous %s %s\n", hex.EncodeToString(l.PrevDigest), l.PrevFile)
	}
	for _, e := range l.Entries {
		fmt.Fprintf(&b, "%s %s\n", hex.EncodeToString(e.Digest), e.Name)
	}
	return b.Bytes()
}

// ParseLinkingInfo decodes the text form produced by Marshal.
func ParseLinkingInfo(data []byte) (*LinkingInfo, error) {
	var l LinkingInfo
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		f := strings.Fields(sc.Text())
		switch {
		case line == 1:
			if len(f) != 2 || f[0] != "algorithm" {
				return nil, fmt.Errorf("linkinginfo line 1: expected algorithm")
			}
			l.Algorithm = f[1]
		case line == 2:
			if len(f) != 3 || f[0] != "previous" {
				return nil, fmt.Errorf("linkinginfo line 2: expected previous")
			}
			if f[1] != "-" {
				d, err := hex.DecodeString(f[1])
				if err != nil {
					return nil, fmt.Errorf("linkinginfo line 2: %w", err)
				}
				l.PrevDigest, l.PrevFile = d, f[2]
			}
		default:
			if len(f) != 2 {
				return nil, fmt.Errorf("linkinginfo line %d: expected digest and name", line)
			}
			d, err := hex.DecodeString(f[0])
			if err != nil {
				return nil, fmt.Errorf("linkinginfo line %d: %w", line, err)
			}
			l.Entries = append(l.Entries, LinkEntry{Name: f[1], Digest: d})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if line < 2 {
		return nil, fmt.Errorf("linkinginfo is truncated")
	}
	return &l, nil
}
