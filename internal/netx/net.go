// Package netx uploads finished archive files to presigned URLs.
package netx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Presigned is a request signed ahead of time by an object store.
type Presigned struct {
	Method string
	URL    string
	// Header holds the headers covered by the signature. They must be sent
	// verbatim or the store rejects the request.
	Header http.Header
}

// Upload sends body with p. A nil client means http.DefaultClient. Any 2xx
// status is success.
func Upload(ctx context.Context, client *http.Client, p Presigned, body []byte) error {
	if client == nil {
		client = http.DefaultClient
	}
	method := p.Method
	if method == "" {
		method = http.MethodPut
	}
	req, err := http.NewRequestWithContext(ctx, method, p.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, vs := range p.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	req.ContentLength = int64(len(body))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload failed: %s; body: %s", resp.Status, string(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
