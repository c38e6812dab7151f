// Package encryption seals message records before they reach the database.
//
// When enabled, the message body and signature are replaced by placeholders
// and stored as an AES-GCM blob in CipherMessage. The signature hash stays
// in clear text because the timestamper needs it.
package encryption

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/messagelog/internal/cryptox"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/models"
)

type payload struct {
	Message   string `json:"message"`
	Signature []byte `json:"signature"`
}

// RecordEncryption derives a key per key id from a master secret.
type RecordEncryption struct {
	master []byte
	keyID  string
}

func New(master []byte, keyID string) (*RecordEncryption, error) {
	if len(master) == 0 {
		return nil, errors.New("message log encryption enabled without a master key")
	}
	if keyID == "" {
		return nil, errors.New("message log encryption enabled without a key id")
	}
	return &RecordEncryption{master: master, keyID: keyID}, nil
}

// Encrypt moves the record's message and signature into CipherMessage.
func (r *RecordEncryption) Encrypt(m *models.MessageRecord) error {
	key, err := cryptox.DeriveKey(r.master, r.keyID)
	if err != nil {
		return err
	}
	blob, err := cryptox.Seal(payload{Message: m.Message, Signature: m.Signature}, key, []byte(r.keyID))
	if err != nil {
		return fmt.Errorf("encrypt message record: %w", err)
	}
	m.KeyID = r.keyID
	m.CipherMessage = blob
	m.Message = ""
	m.Signature = nil
	return nil
}

// Decrypt restores message and signature of an encrypted record in place.
// Records written without encryption are left untouched.
func (r *RecordEncryption) Decrypt(m *models.MessageRecord) error {
	return Decrypt(r.master, m)
}

// Decrypt restores an encrypted record using the master secret.
func Decrypt(master []byte, m *models.MessageRecord) error {
	if !m.IsEncrypted() {
		return nil
	}
	key, err := cryptox.DeriveKey(master, m.KeyID)
	if err != nil {
		return err
	}
	var p payload
	if err := cryptox.Open(m.CipherMessage, key, []byte(m.KeyID), &p); err != nil {
		return fmt.Errorf("decrypt message record %d: %w", m.ID, err)
	}
	m.Message = p.Message
	m.Signature = p.Signature
	return nil
}
