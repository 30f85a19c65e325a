package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	wafproxyerrors "github.com/wudi/wafproxy/internal/errors"
	"github.com/wudi/wafproxy/internal/headers"
)

// chunkSize bounds the response body iterator per spec §4.F point 4.
const chunkSize = 8 * 1024

// Result is what Forward returns on success: the upstream's status code,
// its filtered response headers, and a reader the caller streams to the
// client in chunkSize pieces.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// idempotentMethods are the only methods eligible for a connection-level
// retry (spec §4.F "Retries").
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Forwarder owns the single shared client and implements spec §4.F's
// forward operation.
type Forwarder struct {
	client  *http.Client
	retries int
}

// New builds a Forwarder. retries is the count of additional attempts for
// idempotent methods on connection-level failure; 0 disables retries
// (spec §4.F default).
func New(client *http.Client, retries int) *Forwarder {
	if retries < 0 {
		retries = 0
	}
	return &Forwarder{client: client, retries: retries}
}

// Forward composes the upstream URL, filters and forwards headers, sends
// the request, and returns the filtered response. body is the pipeline's
// already-prebuffered request body (spec §4.G step 4); it may be nil for
// bodyless requests.
func (f *Forwarder) Forward(ctx context.Context, upstreamBaseURL string, r *http.Request, clientIP string, body []byte) (*Result, error) {
	url := composeURL(upstreamBaseURL, r.URL.Path, r.URL.RawQuery)

	attempts := 1
	if f.retries > 0 && idempotentMethods[r.Method] {
		attempts += f.retries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := f.buildRequest(ctx, url, r, clientIP, body)
		if err != nil {
			return nil, wafproxyerrors.Wrap(err, wafproxyerrors.ErrUpstreamError.Code, "upstream_error")
		}

		resp, err := f.client.Do(req)
		if err == nil {
			filtered := resp.Header.Clone()
			headers.FilterResponse(filtered)
			return &Result{StatusCode: resp.StatusCode, Header: filtered, Body: resp.Body}, nil
		}

		lastErr = err
		if !isConnectionError(err) {
			break
		}
	}

	return nil, classifyError(lastErr)
}

func composeURL(base, path, rawQuery string) string {
	u := strings.TrimRight(base, "/") + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

func (f *Forwarder) buildRequest(ctx context.Context, url string, r *http.Request, clientIP string, body []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	} else {
		bodyReader = r.Body
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header = r.Header.Clone()
	headers.FilterRequest(req.Header)
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	headers.AddForwarding(req.Header, clientIP, scheme, r.Host)
	req.Header.Set("X-Forwarded-Host", r.Host)

	if body != nil {
		req.ContentLength = int64(len(body))
	} else {
		req.ContentLength = r.ContentLength
	}

	return req, nil
}

// isConnectionError reports whether err occurred before any byte of the
// response was observed — spec §4.F's retry eligibility boundary.
func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// classifyError maps a client.Do failure onto the single wire-visible
// "upstream_error" kind spec §7 names, while still distinguishing a
// timeout from any other connection failure for the upstream_errors_total
// metric's error_type label (spec §4.F's "upstream timeout" vs. "upstream
// error" distinction lives there, not on the wire).
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return wafproxyerrors.Wrap(err, wafproxyerrors.ErrUpstreamError.Code, "upstream_error").
			WithMessage("upstream timeout").WithMetricLabel("upstream_timeout")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wafproxyerrors.Wrap(err, wafproxyerrors.ErrUpstreamError.Code, "upstream_error").
			WithMessage("upstream timeout").WithMetricLabel("upstream_timeout")
	}
	return wafproxyerrors.Wrap(err, wafproxyerrors.ErrUpstreamError.Code, "upstream_error").WithMessage("upstream error")
}
