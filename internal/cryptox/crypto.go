// Package cryptox holds the symmetric and OpenPGP primitives used for
// message records at rest and for archive files.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const nonceSize = 12

var ErrShortCiphertext = errors.New("ciphertext too short")

// DeriveKey derives a 256-bit AES key for keyID from a master secret.
func DeriveKey(master []byte, keyID string) ([]byte, error) {
	if len(master) == 0 {
		return nil, errors.New("empty master key")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, master, []byte("messagelog"), []byte(keyID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptEntry serializes the given entry to JSON and encrypts it using AES-GCM.
//
// The key must be a valid AES key length (16, 24, or 32 bytes). A new random
// 12-byte nonce is generated for each encryption. aad is authenticated but
// not encrypted; pass the record's key id to bind the ciphertext to it.
func EncryptEntry(entry any, key, aad []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

// DecryptEntry decrypts the given ciphertext using AES-GCM and unmarshals
// the resulting JSON into v.
func DecryptEntry(ciphertext, nonce, key, aad []byte, v any) error {
	aesgcm, err := newGCM(key)
	if err != nil {
		return err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return err
	}

	return json.Unmarshal(plaintext, v)
}

// Seal encrypts entry and returns nonce || ciphertext.
func Seal(entry any, key, aad []byte) ([]byte, error) {
	ct, nonce, err := EncryptEntry(entry, key, aad)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// Open reverses Seal.
func Open(blob, key, aad []byte, v any) error {
	if len(blob) < nonceSize {
		return ErrShortCiphertext
	}
	return DecryptEntry(blob[nonceSize:], blob[:nonceSize], key, aad, v)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Wipe overwrites b with zeros. It is used for passphrases and master keys
// once they are no longer needed.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
