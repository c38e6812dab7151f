// Package digestlist implements the canonical DER encoding of
// (digest value, digest method) pairs and the digest step built on top of it.
//
// An item is encoded as
//
//	DigestItem ::= SEQUENCE {
//	    value       OCTET STRING,
//	    method      OBJECT IDENTIFIER,
//	    transforms  SEQUENCE OF ANY  -- always empty
//	}
//
// and a list is a SEQUENCE OF DigestItem. DER is deterministic, so two
// encoders produce byte-identical output for the same input.
package digestlist

import (
	"bytes"
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/asn1"
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/messagelog/internal/common"
)

// Method is a supported digest algorithm.
type Method struct {
	Name string
	OID  asn1.ObjectIdentifier
	Hash crypto.Hash
}

var (
	SHA224 = Method{Name: "SHA-224", OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}, Hash: crypto.SHA224}
	SHA256 = Method{Name: "SHA-256", OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}, Hash: crypto.SHA256}
	SHA384 = Method{Name: "SHA-384", OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}, Hash: crypto.SHA384}
	SHA512 = Method{Name: "SHA-512", OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}, Hash: crypto.SHA512}
)

// Methods lists every supported algorithm.
var Methods = []Method{SHA224, SHA256, SHA384, SHA512}

// LookupMethod finds a method by name. Names are matched case-insensitively
// and with or without the dash ("sha512", "SHA-512").
func LookupMethod(name string) (Method, error) {
	norm := strings.ReplaceAll(strings.ToUpper(name), "-", "")
	for _, m := range Methods {
		if strings.ReplaceAll(m.Name, "-", "") == norm {
			return m, nil
		}
	}
	return Method{}, fmt.Errorf("%w: %q", common.ErrUnsupportedAlgorithm, name)
}

// MethodByOID finds a method by its object identifier.
func MethodByOID(oid asn1.ObjectIdentifier) (Method, error) {
	for _, m := range Methods {
		if m.OID.Equal(oid) {
			return m, nil
		}
	}
	return Method{}, fmt.Errorf("%w: %s", common.ErrUnsupportedAlgorithm, oid)
}

func (m Method) valid() bool {
	return len(m.OID) > 0 && m.Hash.Available()
}

// Size returns the digest length in bytes.
func (m Method) Size() int {
	return m.Hash.Size()
}

// Digest hashes data with m.
func (m Method) Digest(data []byte) ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedAlgorithm, m.Name)
	}
	h := m.Hash.New()
	h.Write(data)
	return h.Sum(nil), nil
}

// Ordering selects how items are arranged inside a list. It is a
// deployment-wide policy; producers and verifiers must agree on it.
type Ordering int

const (
	// Ordered keeps items in call order.
	Ordered Ordering = iota
	// Sorted arranges encoded items in ascending byte order.
	Sorted
)

func (o Ordering) String() string {
	switch o {
	case Ordered:
		return "ordered"
	case Sorted:
		return "sorted"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// ParseOrdering converts "ordered" or "sorted" into an Ordering.
func ParseOrdering(s string) (Ordering, error) {
	switch strings.ToLower(s) {
	case "", "ordered":
		return Ordered, nil
	case "sorted":
		return Sorted, nil
	default:
		return 0, fmt.Errorf("unknown digest list ordering %q", s)
	}
}

type digestItem struct {
	Value      []byte
	Method     asn1.ObjectIdentifier
	Transforms []asn1.RawValue
}

// Encode returns the DER encoding of a single item.
func Encode(m Method, value []byte) ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedAlgorithm, m.Name)
	}
	if value == nil {
		value = []byte{}
	}
	b, err := asn1.Marshal(digestItem{Value: value, Method: m.OID, Transforms: []asn1.RawValue{}})
	if err != nil {
		return nil, fmt.Errorf("encode digest item: %w", err)
	}
	return b, nil
}

// Concat encodes every item and wraps them in a single SEQUENCE OF.
func Concat(m Method, o Ordering, items [][]byte) ([]byte, error) {
	encoded := make([][]byte, 0, len(items))
	for _, it := range items {
		b, err := Encode(m, it)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, b)
	}

	if o == Sorted {
		slices.SortFunc(encoded, bytes.Compare)
	}

	raw := make([]asn1.RawValue, len(encoded))
	for i, b := range encoded {
		raw[i] = asn1.RawValue{FullBytes: b}
	}
	b, err := asn1.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode digest list: %w", err)
	}
	return b, nil
}

// DigestHashStep digests the concatenated encoding of items.
func DigestHashStep(m Method, o Ordering, items [][]byte) ([]byte, error) {
	data, err := Concat(m, o, items)
	if err != nil {
		return nil, err
	}
	return m.Digest(data)
}
