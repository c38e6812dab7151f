// Package tsptest provides an in-process time-stamping authority for tests.
package tsptest

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

var (
	oidSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidTSTInfo    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
	oidPolicy     = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}
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

type tstInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint messageImprint
	SerialNumber   *big.Int
	GenTime        time.Time `asn1:"generalized"`
	Nonce          *big.Int  `asn1:"optional"`
}

type encapContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue
}

type signedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue
	EncapContentInfo encapContentInfo
}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue
}

type pkiStatusInfo struct {
	Status       int
	StatusString []string `asn1:"optional"`
}

type timeStampResp struct {
	Status pkiStatusInfo
	Token  asn1.RawValue `asn1:"optional"`
}

// TokenSpec describes a token to build.
type TokenSpec struct {
	Algorithm asn1.ObjectIdentifier
	Digest    []byte
	Nonce     *big.Int
	Serial    *big.Int
	GenTime   time.Time
}

// BuildToken returns a DER ContentInfo/SignedData carrying a TSTInfo.
// The SignedData has no signer infos.
func BuildToken(spec TokenSpec) ([]byte, error) {
	alg := pkix.AlgorithmIdentifier{Algorithm: spec.Algorithm, Parameters: asn1.NullRawValue}
	info, err := asn1.Marshal(tstInfo{
		Version:        1,
		Policy:         oidPolicy,
		MessageImprint: messageImprint{HashAlgorithm: alg, HashedMessage: spec.Digest},
		SerialNumber:   spec.Serial,
		GenTime:        spec.GenTime.UTC().Truncate(time.Second),
		Nonce:          spec.Nonce,
	})
	if err != nil {
		return nil, err
	}
	octets, err := asn1.Marshal(info)
	if err != nil {
		return nil, err
	}
	algDER, err := asn1.Marshal(alg)
	if err != nil {
		return nil, err
	}

	sd, err := asn1.Marshal(signedData{
		Version:          3,
		DigestAlgorithms: asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: algDER},
		EncapContentInfo: encapContentInfo{
			EContentType: oidTSTInfo,
			EContent:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: octets},
		},
	})
	if err != nil {
		return nil, err
	}

	return asn1.Marshal(contentInfo{
		ContentType: oidSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sd},
	})
}

// BuildResponse wraps token in a TimeStampResp with the given status.
// A nil token is omitted.
func BuildResponse(status int, token []byte, text ...string) ([]byte, error) {
	resp := timeStampResp{Status: pkiStatusInfo{Status: status, StatusString: text}}
	if token != nil {
		resp.Token = asn1.RawValue{FullBytes: token}
	}
	return asn1.Marshal(resp)
}

// Server is a fake TSA. The zero configuration grants every request.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	requests   int
	status     int
	httpStatus int
	delay      time.Duration
	body       []byte
	digest     []byte
	serial     int64
}

// NewServer starts a fake TSA. It is closed with t.Cleanup by the caller.
func NewServer() *Server {
	s := &Server{httpStatus: http.StatusOK}
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Post("/tsa", s.handle)
	s.Server = httptest.NewServer(r)
	return s
}

// SetStatus makes the TSA answer with a PKIStatus.
func (s *Server) SetStatus(status int) { s.mu.Lock(); s.status = status; s.mu.Unlock() }

// SetHTTPStatus makes the TSA answer with an HTTP error code.
func (s *Server) SetHTTPStatus(code int) { s.mu.Lock(); s.httpStatus = code; s.mu.Unlock() }

// SetDelay delays every answer.
func (s *Server) SetDelay(d time.Duration) { s.mu.Lock(); s.delay = d; s.mu.Unlock() }

// SetBody replaces the response body with raw bytes.
func (s *Server) SetBody(b []byte) { s.mu.Lock(); s.body = b; s.mu.Unlock() }

// SetDigest makes the TSA stamp a different digest than requested.
func (s *Server) SetDigest(d []byte) { s.mu.Lock(); s.digest = d; s.mu.Unlock() }

// Requests returns the number of requests served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests++
	s.serial++
	status, httpStatus, delay, body, digest, serial := s.status, s.httpStatus, s.delay, s.body, s.digest, s.serial
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if httpStatus != http.StatusOK {
		http.Error(w, http.StatusText(httpStatus), httpStatus)
		return
	}
	w.Header().Set("Content-Type", "application/timestamp-reply")
	if body != nil {
		_, _ = w.Write(body)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req timeStampReq
	if _, err := asn1.Unmarshal(raw, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var token []byte
	if status == 0 || status == 1 {
		if digest == nil {
			digest = req.MessageImprint.HashedMessage
		}
		token, err = BuildToken(TokenSpec{
			Algorithm: req.MessageImprint.HashAlgorithm.Algorithm,
			Digest:    digest,
			Nonce:     req.Nonce,
			Serial:    big.NewInt(serial),
			GenTime:   time.Now(),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	out, err := BuildResponse(status, token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(out)
}
