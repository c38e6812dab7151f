package archiver

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/messagelog/internal/messagelog/models"
)

// Record is one archived message record together with its evidence.
type Record struct {
	ID            int64  `json:"id"`
	Time          int64  `json:"time"`
	QueryID       string `json:"query_id"`
	Response      bool   `json:"response"`
	XRequestID    string `json:"x_request_id,omitempty"`
	MemberClass   string `json:"member_class"`
	MemberCode    string `json:"member_code"`
	SubsystemCode string `json:"subsystem_code,omitempty"`
	Message       string `json:"message"`
	Signature     []byte `json:"signature"`
	// SignatureHash is the base64 item hash of the record's hash chain.
	SignatureHash   string `json:"signature_hash"`
	HashChain       []byte `json:"hash_chain"`
	HashChainResult []byte `json:"hash_chain_result"`
	TimestampID     int64  `json:"timestamp_id"`
	Timestamp       []byte `json:"timestamp"`
}

// NewRecord flattens an archive entry. Encrypted messages must be
// decrypted first.
func NewRecord(e models.ArchiveEntry) Record {
	m := e.Message
	return Record{
		ID:              m.ID,
		Time:            m.Time,
		QueryID:         m.QueryID,
		Response:        m.Response,
		XRequestID:      m.XRequestID,
		MemberClass:     m.MemberClass,
		MemberCode:      m.MemberCode,
		SubsystemCode:   m.SubsystemCode,
		Message:         m.Message,
		Signature:       m.Signature,
		SignatureHash:   m.SignatureHash,
		HashChain:       m.HashChain,
		HashChainResult: m.HashChainResult,
		TimestampID:     e.Timestamp.ID,
		Timestamp:       e.Timestamp.Timestamp,
	}
}

// EntryName is the name of the record inside an archive file.
func (r Record) EntryName() string {
	kind := "request"
	if r.Response {
		kind = "response"
	}
	return fmt.Sprintf("%d-%s-%s.json", r.ID, sanitize(r.QueryID, 64), kind)
}

func sanitize(s string, limit int) string {
	var b strings.Builder
	for _, c := range s {
		if b.Len() >= limit {
			break
		}
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
