// Package proxy forwards requests to the origin translation API.
//
// The forwarder rewrites the inbound URL's scheme and host to the origin's
// base URL, injects the shared-secret shield header proving the gateway is
// the caller, and reads the full response into memory so the same bytes can
// be both relayed to the client and written to the response cache.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sartu01/dhkalign-sub001/internal/traces"
)

// ShieldHeader carries the shared secret to the origin on every request.
const ShieldHeader = "X-Edge-Shield"

const (
	DefaultHTTPTimeout = 30 * time.Second
	maxResponseSize    = 5 * 1024 * 1024 // 5MB
)

// ErrResponseTooLarge is returned when the origin body exceeds the capture
// cap. The response cannot be relayed intact, so it is not relayed at all.
var ErrResponseTooLarge = errors.New("proxy: origin response too large")

// Response is the fully captured origin response.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	LatencyMs int64
}

// Forwarder sends HTTP requests to the origin.
type Forwarder struct {
	client       *http.Client
	base         *url.URL
	shieldSecret string
}

// NewForwarder creates a forwarder for the given origin base URL.
// Pass timeout=0 to use DefaultHTTPTimeout.
func NewForwarder(originBaseURL, shieldSecret string, timeout time.Duration) (*Forwarder, error) {
	base, err := url.Parse(originBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("origin base URL must be absolute: %q", originBaseURL)
	}
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	return &Forwarder{
		client:       &http.Client{Timeout: timeout},
		base:         base,
		shieldSecret: shieldSecret,
	}, nil
}

// Forward relays a request to the origin, preserving path and query, and
// captures the full response. Inbound headers are copied; the shield header
// and Host are overwritten. Bodies are forwarded for all methods except
// GET and HEAD.
func (f *Forwarder) Forward(ctx context.Context, method, path, rawQuery string, header http.Header, body []byte) (*Response, error) {
	target := url.URL{
		Scheme:   f.base.Scheme,
		Host:     f.base.Host,
		Path:     path,
		RawQuery: rawQuery,
	}

	var reader io.Reader
	if len(body) > 0 && method != http.MethodGet && method != http.MethodHead {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(ShieldHeader, f.shieldSecret)
	req.Host = f.base.Host

	ctx, span := traces.StartSpan(ctx, "origin.forward", traces.OriginPath(path))
	defer span.End()
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := f.client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("origin request failed: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseSize+1)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read origin response: %w", err)
	}
	if len(respBody) > maxResponseSize {
		// Relaying a truncated body under the origin's Content-Length would
		// break the client mid-stream.
		return nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, maxResponseSize)
	}

	span.SetAttributes(traces.OriginStatus(resp.StatusCode))

	return &Response{
		Status:    resp.StatusCode,
		Header:    resp.Header.Clone(),
		Body:      respBody,
		LatencyMs: latency,
	}, nil
}
