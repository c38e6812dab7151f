// Package models defines the persisted log records.
//
// A LogRecord is either a *MessageRecord or a *TimestampRecord. Both share an
// Envelope; the store maps the variant to a discriminator column explicitly.
package models

import (
	"fmt"
	"time"
)

// Kind is the discriminator stored with every record.
type Kind string

const (
	KindMessage   Kind = "m"
	KindTimestamp Kind = "t"
)

// ParseKind validates a stored discriminator.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMessage, KindTimestamp:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown log record discriminator %q", s)
	}
}

// Envelope is common to every record.
type Envelope struct {
	ID int64
	// Time is the creation instant in milliseconds since the epoch.
	Time     int64
	Archived bool
}

// CreatedAt converts Time to a time.Time.
func (e Envelope) CreatedAt() time.Time {
	return time.UnixMilli(e.Time)
}

// LogRecord is implemented only by the types in this package.
type LogRecord interface {
	Kind() Kind
	Base() *Envelope
	sealed()
}

// State is the lifecycle state of a message record.
type State int

const (
	StatePending State = iota
	StateTimestamped
	StateArchived
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateTimestamped:
		return "timestamped"
	case StateArchived:
		return "archived"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MessageRecord is one logged request or response.
type MessageRecord struct {
	Envelope

	QueryID       string
	Message       string
	Signature     []byte
	SignatureHash string
	Response      bool
	MemberClass   string
	MemberCode    string
	SubsystemCode string
	XRequestID    string

	// Written once when the record's batch is timestamped.
	HashChain          []byte
	HashChainResult    []byte
	TimestampRecordID  *int64
	TimestampHashChain []byte

	// Set when database encryption is enabled.
	KeyID         string
	CipherMessage []byte
}

func (*MessageRecord) Kind() Kind          { return KindMessage }
func (m *MessageRecord) Base() *Envelope   { return &m.Envelope }
func (*MessageRecord) sealed()             {}
func (m *MessageRecord) IsEncrypted() bool { return m.KeyID != "" }

// State derives the lifecycle state from the record's fields.
func (m *MessageRecord) State() State {
	switch {
	case m.Archived:
		return StateArchived
	case m.TimestampRecordID != nil:
		return StateTimestamped
	default:
		return StatePending
	}
}

// GroupKey returns the archive group of the record for grouping g.
func (m *MessageRecord) GroupKey(g Grouping) string {
	switch g {
	case GroupingMember:
		return m.MemberClass + "/" + m.MemberCode
	case GroupingSubsystem:
		return m.MemberClass + "/" + m.MemberCode + "/" + m.SubsystemCode
	default:
		return ""
	}
}

// TimestampRecord holds one TSA token shared by a batch of message records.
type TimestampRecord struct {
	Envelope

	// Timestamp is the DER time-stamp token.
	Timestamp       []byte
	HashChainResult []byte
}

func (*TimestampRecord) Kind() Kind        { return KindTimestamp }
func (t *TimestampRecord) Base() *Envelope { return &t.Envelope }
func (*TimestampRecord) sealed()           {}

// Grouping selects how archived records are split across archive files.
type Grouping string

const (
	GroupingNone      Grouping = "none"
	GroupingMember    Grouping = "member"
	GroupingSubsystem Grouping = "subsystem"
)

func ParseGrouping(s string) (Grouping, error) {
	switch Grouping(s) {
	case "", GroupingNone:
		return GroupingNone, nil
	case GroupingMember, GroupingSubsystem:
		return Grouping(s), nil
	default:
		return "", fmt.Errorf("unknown archive grouping %q", s)
	}
}

// ArchiveDigest links consecutive archive files of a group.
type ArchiveDigest struct {
	GroupName string
	FileName  string
	Digest    string
}

// ArchiveEntry is a timestamped message record with its token.
type ArchiveEntry struct {
	Message   *MessageRecord
	Timestamp *TimestampRecord
}

// PendingRecord is the subset the timestamper needs.
type PendingRecord struct {
	ID            int64
	SignatureHash string
}

// BatchUpdate is the per-record outcome of a timestamped batch.
type BatchUpdate struct {
	ID        int64
	HashChain []byte
}
