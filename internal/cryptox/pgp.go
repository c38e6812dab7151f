package cryptox

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"
)

// ReadKeyRing loads an OpenPGP keyring, armored or binary.
func ReadKeyRing(path string) (openpgp.EntityList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("-----BEGIN")) {
		return openpgp.ReadArmoredKeyRing(bytes.NewReader(raw))
	}
	return openpgp.ReadKeyRing(bytes.NewReader(raw))
}

// SelectKeys returns the entities whose primary key id (long or short hex
// form) or fingerprint matches one of ids.
func SelectKeys(ring openpgp.EntityList, ids []string) (openpgp.EntityList, error) {
	var out openpgp.EntityList
	for _, id := range ids {
		want := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(id), "0x"))
		found := false
		for _, e := range ring {
			pk := e.PrimaryKey
			if pk.KeyIdString() == want || pk.KeyIdShortString() == want || fmt.Sprintf("%X", pk.Fingerprint) == want {
				out = append(out, e)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("openpgp key %q not found in keyring", id)
		}
	}
	return out, nil
}

// EncryptTo returns a writer that encrypts everything written to it for the
// recipients. Closing it finishes the OpenPGP message but not w.
func EncryptTo(w io.Writer, recipients openpgp.EntityList) (io.WriteCloser, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no openpgp recipients")
	}
	hints := &openpgp.FileHints{IsBinary: true}
	return openpgp.Encrypt(w, recipients, nil, hints, &packet.Config{DefaultCipher: packet.CipherAES256})
}

// Decrypt opens an OpenPGP message with the keyring. prompt is asked for a
// passphrase when the private key is encrypted; it may be nil.
func Decrypt(r io.Reader, ring openpgp.EntityList, prompt func() ([]byte, error)) (io.Reader, error) {
	tried := false
	md, err := openpgp.ReadMessage(r, ring, func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if prompt == nil || tried || symmetric {
			return nil, fmt.Errorf("cannot decrypt archive key")
		}
		tried = true
		pass, err := prompt()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if k.PrivateKey != nil && k.PrivateKey.Encrypted {
				if err := k.PrivateKey.Decrypt(pass); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return md.UnverifiedBody, nil
}
