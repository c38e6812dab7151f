package hashchain

import (
	"bytes"
	"encoding/asn1"
	"fmt"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/digestlist"
)

type chainResult struct {
	Label    string `asn1:"utf8"`
	Method   asn1.ObjectIdentifier
	Ordering asn1.Enumerated
	Result   []byte
}

type chainProof struct {
	Label     string `asn1:"utf8"`
	Method    asn1.ObjectIdentifier
	Ordering  asn1.Enumerated
	Previous  []byte `asn1:"optional,explicit,tag:0"`
	Following [][]byte
}

// ResultInfo is a decoded chain result blob.
type ResultInfo struct {
	Label    string
	Method   digestlist.Method
	Ordering digestlist.Ordering
	Result   []byte
}

// Proof is a decoded per-item proof blob.
type Proof struct {
	Label     string
	Method    digestlist.Method
	Ordering  digestlist.Ordering
	Previous  []byte
	Following [][]byte
}

// ParseResult decodes a blob produced by Builder.HashChainResult.
func ParseResult(blob []byte) (*ResultInfo, error) {
	var r chainResult
	rest, err := asn1.Unmarshal(blob, &r)
	if err != nil {
		return nil, fmt.Errorf("decode chain result: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("decode chain result: %d trailing bytes", len(rest))
	}
	m, err := digestlist.MethodByOID(r.Method)
	if err != nil {
		return nil, err
	}
	return &ResultInfo{Label: r.Label, Method: m, Ordering: digestlist.Ordering(r.Ordering), Result: r.Result}, nil
}

// ParseProof decodes a blob produced by Builder.HashChains.
func ParseProof(blob []byte) (*Proof, error) {
	var p chainProof
	rest, err := asn1.Unmarshal(blob, &p)
	if err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("decode proof: %d trailing bytes", len(rest))
	}
	m, err := digestlist.MethodByOID(p.Method)
	if err != nil {
		return nil, err
	}
	return &Proof{
		Label:     p.Label,
		Method:    m,
		Ordering:  digestlist.Ordering(p.Ordering),
		Previous:  p.Previous,
		Following: p.Following,
	}, nil
}

// Recompute re-runs the linking steps from itemHash through the proof and
// returns the resulting chain value.
func (p *Proof) Recompute(itemHash []byte) ([]byte, error) {
	var (
		c   []byte
		err error
	)
	if p.Previous == nil {
		c, err = digestlist.DigestHashStep(p.Method, p.Ordering, [][]byte{itemHash})
	} else {
		c, err = digestlist.DigestHashStep(p.Method, p.Ordering, [][]byte{p.Previous, itemHash})
	}
	if err != nil {
		return nil, err
	}
	for _, next := range p.Following {
		if c, err = digestlist.DigestHashStep(p.Method, p.Ordering, [][]byte{c, next}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Verify checks that itemHash and its proof lead to the chain result, using
// the given method and ordering. Blobs produced under a different method,
// ordering or label set are rejected.
func Verify(method digestlist.Method, ordering digestlist.Ordering, itemHash, proofBlob, resultBlob []byte) error {
	proof, err := ParseProof(proofBlob)
	if err != nil {
		return err
	}
	res, err := ParseResult(resultBlob)
	if err != nil {
		return err
	}

	switch {
	case !proof.Method.OID.Equal(method.OID) || !res.Method.OID.Equal(method.OID):
		return fmt.Errorf("%w: digest method differs from %s", common.ErrHashChainMismatch, method.Name)
	case proof.Ordering != ordering || res.Ordering != ordering:
		return fmt.Errorf("%w: ordering differs from %s", common.ErrHashChainMismatch, ordering)
	case proof.Label != res.Label:
		return fmt.Errorf("%w: label %q differs from %q", common.ErrHashChainMismatch, proof.Label, res.Label)
	}

	got, err := proof.Recompute(itemHash)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, res.Result) {
		return common.ErrHashChainMismatch
	}
	return nil
}
