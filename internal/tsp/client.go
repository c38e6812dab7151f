package tsp

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/digestlist"
)

const (
	ContentTypeQuery = "application/timestamp-query"
	ContentTypeReply = "application/timestamp-reply"

	maxResponseSize = 1 << 20
)

// Client requests time-stamp tokens for a digest from one TSA URL.
type Client interface {
	Timestamp(ctx context.Context, url string, method digestlist.Method, digest []byte) (*Token, error)
}

// HTTPClient talks to a TSA over HTTP POST.
type HTTPClient struct {
	http     *http.Client
	useNonce bool
}

// Option tweaks an HTTPClient.
type Option func(*HTTPClient)

// WithoutNonce disables the random nonce in requests.
func WithoutNonce() Option {
	return func(c *HTTPClient) { c.useNonce = false }
}

// NewHTTPClient builds a client with separate connect and read timeouts.
// The read timeout bounds the wait for response headers and the whole body.
func NewHTTPClient(connectTimeout, readTimeout time.Duration, opts ...Option) *HTTPClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConnsPerHost:   2,
	}
	c := &HTTPClient{
		http:     &http.Client{Transport: transport, Timeout: connectTimeout + readTimeout},
		useNonce: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var newNonce = func() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 63))
}

// Timestamp sends a request for digest and returns the decoded token.
// Transport failures map to common.ErrTsaTimeout or common.ErrTsaUnreachable.
func (c *HTTPClient) Timestamp(ctx context.Context, url string, method digestlist.Method, digest []byte) (*Token, error) {
	req := &Request{Method: method, Digest: digest, CertReq: true}
	if c.useNonce {
		n, err := newNonce()
		if err != nil {
			return nil, fmt.Errorf("generate nonce: %w", err)
		}
		req.Nonce = n
	}
	body, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrTsaUnreachable, err)
	}
	httpReq.Header.Set("Content-Type", ContentTypeQuery)
	httpReq.Header.Set("Accept", ContentTypeReply)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("%w: http status %d", common.ErrTsaUnreachable, resp.StatusCode)
	}

	der, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classify(err)
	}

	token, err := ParseResponse(der)
	if err != nil {
		return nil, err
	}
	if err := token.Matches(req); err != nil {
		return nil, err
	}
	return token, nil
}

func classify(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", common.ErrTsaTimeout, err)
	}
	return fmt.Errorf("%w: %v", common.ErrTsaUnreachable, err)
}
