// Package tsp is a client for the RFC 3161 Time-Stamp Protocol.
//
// Only the pieces the message log needs are decoded: the response status,
// the raw token and, from the token's TSTInfo, the message imprint, the
// generation time, the serial number and the nonce. The token's CMS
// signature is not verified here.
package tsp

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/digestlist"
)

var (
	oidSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidTSTInfo    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
)

// PKIStatus values from RFC 3161.
const (
	StatusGranted         = 0
	StatusGrantedWithMods = 1
	StatusRejection       = 2
	StatusWaiting         = 3
)

type messageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

type timeStampReq struct {
	Version        int
	MessageImprint messageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional"`
}

type pkiStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional,utf8"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

type timeStampResp struct {
	Status pkiStatusInfo
	Token  asn1.RawValue `asn1:"optional"`
}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type encapContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue
	EncapContentInfo encapContentInfo
}

type accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

type tstInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint messageImprint
	SerialNumber   *big.Int
	GenTime        time.Time     `asn1:"generalized"`
	Accuracy       accuracy      `asn1:"optional"`
	Ordering       bool          `asn1:"optional"`
	Nonce          *big.Int      `asn1:"optional"`
	TSA            asn1.RawValue `asn1:"optional,tag:0"`
	Extensions     asn1.RawValue `asn1:"optional,tag:1"`
}

// Request is a time-stamp request for one digest.
type Request struct {
	Method  digestlist.Method
	Digest  []byte
	Nonce   *big.Int
	Policy  asn1.ObjectIdentifier
	CertReq bool
}

// Marshal encodes the request as DER.
func (r *Request) Marshal() ([]byte, error) {
	if len(r.Method.OID) == 0 {
		return nil, common.ErrUnsupportedAlgorithm
	}
	req := timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: r.Method.OID, Parameters: asn1.NullRawValue},
			HashedMessage: r.Digest,
		},
		ReqPolicy: r.Policy,
		Nonce:     r.Nonce,
		CertReq:   r.CertReq,
	}
	b, err := asn1.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode time-stamp request: %w", err)
	}
	return b, nil
}

// Token is a decoded time-stamp token.
type Token struct {
	// Raw holds the DER ContentInfo exactly as returned by the TSA.
	Raw          []byte
	Method       digestlist.Method
	Digest       []byte
	GenTime      time.Time
	SerialNumber *big.Int
	Nonce        *big.Int
	Policy       asn1.ObjectIdentifier
}

// ParseResponse decodes a TimeStampResp. A status other than granted yields
// common.ErrTsaRejected; structural problems yield common.ErrMalformedTsaResponse.
func ParseResponse(der []byte) (*Token, error) {
	var resp timeStampResp
	rest, err := asn1.Unmarshal(der, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedTsaResponse, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data", common.ErrMalformedTsaResponse)
	}

	if s := resp.Status.Status; s != StatusGranted && s != StatusGrantedWithMods {
		return nil, fmt.Errorf("%w: status %d %v", common.ErrTsaRejected, s, resp.Status.StatusString)
	}
	if len(resp.Token.FullBytes) == 0 {
		return nil, fmt.Errorf("%w: granted response without token", common.ErrMalformedTsaResponse)
	}
	return ParseToken(resp.Token.FullBytes)
}

// ParseToken decodes a DER time-stamp token (a CMS ContentInfo).
func ParseToken(der []byte) (*Token, error) {
	var ci contentInfo
	if _, err := asn1.Unmarshal(der, &ci); err != nil {
		return nil, fmt.Errorf("%w: content info: %v", common.ErrMalformedTsaResponse, err)
	}
	if !ci.ContentType.Equal(oidSignedData) {
		return nil, fmt.Errorf("%w: unexpected content type %s", common.ErrMalformedTsaResponse, ci.ContentType)
	}

	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("%w: signed data: %v", common.ErrMalformedTsaResponse, err)
	}
	if !sd.EncapContentInfo.EContentType.Equal(oidTSTInfo) {
		return nil, fmt.Errorf("%w: unexpected encapsulated type %s", common.ErrMalformedTsaResponse, sd.EncapContentInfo.EContentType)
	}

	// eContent is an OCTET STRING wrapping the DER TSTInfo.
	var octets []byte
	if _, err := asn1.Unmarshal(sd.EncapContentInfo.EContent.Bytes, &octets); err != nil {
		return nil, fmt.Errorf("%w: tst info octets: %v", common.ErrMalformedTsaResponse, err)
	}
	var info tstInfo
	if _, err := asn1.Unmarshal(octets, &info); err != nil {
		return nil, fmt.Errorf("%w: tst info: %v", common.ErrMalformedTsaResponse, err)
	}

	m, err := digestlist.MethodByOID(info.MessageImprint.HashAlgorithm.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedTsaResponse, err)
	}

	return &Token{
		Raw:          der,
		Method:       m,
		Digest:       info.MessageImprint.HashedMessage,
		GenTime:      info.GenTime,
		SerialNumber: info.SerialNumber,
		Nonce:        info.Nonce,
		Policy:       info.Policy,
	}, nil
}

// Matches checks that the token answers req.
func (t *Token) Matches(req *Request) error {
	if !t.Method.OID.Equal(req.Method.OID) || !bytes.Equal(t.Digest, req.Digest) {
		return fmt.Errorf("%w: message imprint does not match request", common.ErrMalformedTsaResponse)
	}
	if req.Nonce != nil && t.Nonce != nil && req.Nonce.Cmp(t.Nonce) != 0 {
		return fmt.Errorf("%w: nonce does not match request", common.ErrMalformedTsaResponse)
	}
	return nil
}
