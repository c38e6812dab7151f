package cryptox

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
)

type payload struct {
	Message   string `json:"message"`
	Signature []byte `json:"signature"`
}

func TestDeriveKey_Deterministic(t *testing.T) {
	k1, err := DeriveKey([]byte("master"), "key-1")
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("master"), "key-1")
	require.NoError(t, err)
	k3, err := DeriveKey([]byte("master"), "key-2")
	require.NoError(t, err)

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveKey(nil, "key-1")
	assert.Error(t, err)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key, err := DeriveKey([]byte("master"), "k")
	require.NoError(t, err)

	in := payload{Message: "<soap/>", Signature: []byte{1, 2, 3}}
	blob, err := Seal(in, key, []byte("k"))
	require.NoError(t, err)

	var out payload
	require.NoError(t, Open(blob, key, []byte("k"), &out))
	assert.Equal(t, in, out)

	// wrong aad
	assert.Error(t, Open(blob, key, []byte("other"), &out))
	// truncated
	assert.ErrorIs(t, Open(blob[:5], key, nil, &out), ErrShortCiphertext)
}

func TestEncryptEntry_FreshNonce(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	_, n1, err := EncryptEntry("x", key, nil)
	require.NoError(t, err)
	_, n2, err := EncryptEntry("x", key, nil)
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)

	_, _, err = EncryptEntry("x", []byte("short"), nil)
	assert.Error(t, err)
}

func newEntity(t *testing.T, name string) *openpgp.Entity {
	t.Helper()
	e, err := openpgp.NewEntity(name, "", name+"@example.org", &packet.Config{RSABits: 1024})
	require.NoError(t, err)
	return e
}

func TestPGP_EncryptDecrypt(t *testing.T) {
	e := newEntity(t, "archive")

	var buf bytes.Buffer
	w, err := EncryptTo(&buf, openpgp.EntityList{e})
	require.NoError(t, err)
	_, err = w.Write([]byte("archive body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := Decrypt(bytes.NewReader(buf.Bytes()), openpgp.EntityList{e}, nil)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "archive body", string(got))

	other := newEntity(t, "other")
	_, err = Decrypt(bytes.NewReader(buf.Bytes()), openpgp.EntityList{other}, nil)
	assert.Error(t, err)
}

func TestPGP_EncryptWithoutRecipients(t *testing.T) {
	_, err := EncryptTo(io.Discard, nil)
	assert.Error(t, err)
}

func TestSelectKeysAndReadKeyRing(t *testing.T) {
	a := newEntity(t, "a")
	b := newEntity(t, "b")

	path := filepath.Join(t.TempDir(), "ring.asc")
	f, err := os.Create(path)
	require.NoError(t, err)
	aw, err := armor.Encode(f, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, a.Serialize(aw))
	require.NoError(t, b.Serialize(aw))
	require.NoError(t, aw.Close())
	require.NoError(t, f.Close())

	ring, err := ReadKeyRing(path)
	require.NoError(t, err)
	require.Len(t, ring, 2)

	sel, err := SelectKeys(ring, []string{b.PrimaryKey.KeyIdString()})
	require.NoError(t, err)
	require.Len(t, sel, 1)
	assert.Equal(t, b.PrimaryKey.KeyId, sel[0].PrimaryKey.KeyId)

	sel, err = SelectKeys(ring, []string{"0x" + a.PrimaryKey.KeyIdShortString()})
	require.NoError(t, err)
	assert.Equal(t, a.PrimaryKey.KeyId, sel[0].PrimaryKey.KeyId)

	_, err = SelectKeys(ring, []string{"DEADBEEF"})
	assert.Error(t, err)
}

func TestWipe(t *testing.T) {
	b := []byte("secret")
	Wipe(b)
	require.Equal(t, make([]byte, 6), b)
	Wipe(nil)
}
