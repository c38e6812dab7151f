package timestamper

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/messagelog/models"
)

// Phase is the position of a task in its state machine.
type Phase int

const (
	PhaseBuilding Phase = iota
	PhaseRequestSent
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseBuilding:
		return "building"
	case PhaseRequestSent:
		return "request_sent"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Task is one batch of pending records, in ascending id order.
type Task struct {
	Records []models.PendingRecord
	phase   Phase
}

// NewTask starts a task in the Building phase.
func NewTask(records []models.PendingRecord) *Task {
	return &Task{Records: records}
}

// NewSingleTask is a task for exactly one record.
func NewSingleTask(id int64, signatureHash string) *Task {
	return NewTask([]models.PendingRecord{{ID: id, SignatureHash: signatureHash}})
}

func (t *Task) Phase() Phase { return t.phase }

func (t *Task) Len() int { return len(t.Records) }

// IDs returns the record ids in task order.
func (t *Task) IDs() []int64 {
	ids := make([]int64, len(t.Records))
	for i, r := range t.Records {
		ids[i] = r.ID
	}
	return ids
}

// IDRange returns the first and last id, or zeros for an empty task.
func (t *Task) IDRange() (first, last int64) {
	if len(t.Records) == 0 {
		return 0, 0
	}
	return t.Records[0].ID, t.Records[len(t.Records)-1].ID
}

func (t *Task) hashes() ([][]byte, error) {
	out := make([][]byte, len(t.Records))
	for i, r := range t.Records {
		h, err := base64.StdEncoding.DecodeString(r.SignatureHash)
		if err != nil {
			return nil, fmt.Errorf("record %d: decode signature hash: %w", r.ID, err)
		}
		out[i] = h
	}
	return out, nil
}

// Result is the outcome of a task: *Succeeded or *Failed.
type Result interface {
	IDs() []int64
	result()
}

// Succeeded carries everything needed to persist a timestamped batch.
// Proofs[i] belongs to IDs[i].
type Succeeded struct {
	RecordIDs []int64
	// Token is the DER time-stamp token.
	Token []byte
	// ChainResult is the labelled chain result blob.
	ChainResult []byte
	// Digest is the raw chain result sent to the TSA.
	Digest []byte
	// TimestampHashChain is the digest of Token.
	TimestampHashChain []byte
	Proofs             [][]byte
	URL                string
	GenTime            time.Time
	SerialNumber       *big.Int
	// ErrorsByURL holds the errors of TSAs tried before URL.
	ErrorsByURL map[string]error
}

func (s *Succeeded) IDs() []int64 { return s.RecordIDs }
func (*Succeeded) result()        {}

// Updates pairs every record id with its proof.
func (s *Succeeded) Updates() []models.BatchUpdate {
	out := make([]models.BatchUpdate, len(s.RecordIDs))
	for i, id := range s.RecordIDs {
		out[i] = models.BatchUpdate{ID: id, HashChain: s.Proofs[i]}
	}
	return out
}

// Failed leaves the batch pending.
type Failed struct {
	RecordIDs []int64
	Cause     error
	// ErrorsByURL holds the error of every TSA that was tried.
	ErrorsByURL map[string]error
}

func (f *Failed) IDs() []int64 { return f.RecordIDs }
func (*Failed) result()        {}

func (f *Failed) Error() string { return f.Cause.Error() }
func (f *Failed) Unwrap() error { return f.Cause }
