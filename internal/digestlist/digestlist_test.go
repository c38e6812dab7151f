package digestlist

import (
	"bytes"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMethod(t *testing.T) {
	for _, name := range []string{"SHA-512", "sha512", "Sha-512"} {
		m, err := LookupMethod(name)
		require.NoError(t, err)
		assert.Equal(t, SHA512.Name, m.Name)
	}

	_, err := LookupMethod("MD5")
	assert.True(t, errors.Is(err, common.ErrUnsupportedAlgorithm))
}

func TestMethodByOID(t *testing.T) {
	m, err := MethodByOID(asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, "SHA-384", m.Name)

	_, err = MethodByOID(asn1.ObjectIdentifier{1, 2, 3})
	assert.ErrorIs(t, err, common.ErrUnsupportedAlgorithm)
}

func TestEncode_Layout(t *testing.T) {
	value := bytes.Repeat([]byte{0xab}, 32)

	got, err := Encode(SHA256, value)
	require.NoError(t, err)

	want := "302f" + // SEQUENCE, 47 bytes
		"0420" + hex.EncodeToString(value) + // OCTET STRING
		"0609608648016503040201" + // OID 2.16.840.1.101.3.4.2.1
		"3000" // empty transforms
	assert.Equal(t, want, hex.EncodeToString(got))
}

func TestEncode_Deterministic(t *testing.T) {
	for _, m := range Methods {
		t.Run(m.Name, func(t *testing.T) {
			v := []byte("value")
			a, err := Encode(m, v)
			require.NoError(t, err)
			b, err := Encode(m, v)
			require.NoError(t, err)
			assert.Equal(t, a, b)
		})
	}
}

func TestEncode_UnsupportedMethod(t *testing.T) {
	_, err := Encode(Method{Name: "MD5"}, []byte("x"))
	assert.ErrorIs(t, err, common.ErrUnsupportedAlgorithm)

	_, err = DigestHashStep(Method{}, Ordered, [][]byte{[]byte("x")})
	assert.ErrorIs(t, err, common.ErrUnsupportedAlgorithm)
}

func TestConcat_OrderedKeepsCallOrder(t *testing.T) {
	a, b := []byte{0x02}, []byte{0x01}

	ab, err := Concat(SHA256, Ordered, [][]byte{a, b})
	require.NoError(t, err)
	ba, err := Concat(SHA256, Ordered, [][]byte{b, a})
	require.NoError(t, err)
	assert.NotEqual(t, ab, ba)

	var items []asn1.RawValue
	rest, err := asn1.Unmarshal(ab, &items)
	require.NoError(t, err)
	assert.Empty(t, rest)
	require.Len(t, items, 2)

	encA, _ := Encode(SHA256, a)
	assert.Equal(t, encA, items[0].FullBytes)
}

func TestConcat_SortedIgnoresCallOrder(t *testing.T) {
	a, b := []byte{0x02}, []byte{0x01}

	ab, err := Concat(SHA256, Sorted, [][]byte{a, b})
	require.NoError(t, err)
	ba, err := Concat(SHA256, Sorted, [][]byte{b, a})
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestDigestHashStep(t *testing.T) {
	items := [][]byte{[]byte("one"), []byte("two")}

	data, err := Concat(SHA256, Ordered, items)
	require.NoError(t, err)
	want := sha256.Sum256(data)

	got, err := DigestHashStep(SHA256, Ordered, items)
	require.NoError(t, err)
	assert.Equal(t, want[:], got)
}

func TestParseOrdering(t *testing.T) {
	o, err := ParseOrdering("")
	require.NoError(t, err)
	assert.Equal(t, Ordered, o)

	o, err = ParseOrdering("SORTED")
	require.NoError(t, err)
	assert.Equal(t, Sorted, o)
	assert.Equal(t, "sorted", o.String())

	_, err = ParseOrdering("random")
	assert.Error(t, err)
}
