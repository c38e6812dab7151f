package encryption

import (
	"testing"

	"github.com/dmitrijs2005/messagelog/internal/messagelog/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	enc, err := New([]byte("master"), "key-2026")
	require.NoError(t, err)

	m := &models.MessageRecord{Message: "<soap/>", Signature: []byte("sig"), SignatureHash: "h"}
	require.NoError(t, enc.Encrypt(m))

	assert.Equal(t, "key-2026", m.KeyID)
	assert.Empty(t, m.Message)
	assert.Nil(t, m.Signature)
	assert.NotEmpty(t, m.CipherMessage)
	assert.Equal(t, "h", m.SignatureHash)

	require.NoError(t, enc.Decrypt(m))
	assert.Equal(t, "<soap/>", m.Message)
	assert.Equal(t, []byte("sig"), m.Signature)
}

func TestDecrypt_WrongMaster(t *testing.T) {
	enc, err := New([]byte("master"), "k")
	require.NoError(t, err)

	m := &models.MessageRecord{Message: "x"}
	require.NoError(t, enc.Encrypt(m))
	assert.Error(t, Decrypt([]byte("other"), m))
}

func TestDecrypt_PlainRecordUntouched(t *testing.T) {
	m := &models.MessageRecord{Message: "plain"}
	require.NoError(t, Decrypt([]byte("master"), m))
	assert.Equal(t, "plain", m.Message)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "k")
	assert.Error(t, err)
	_, err = New([]byte("m"), "")
	assert.Error(t, err)
}
