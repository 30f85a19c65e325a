// Package proxy implements the Forwarder from spec §4.F: a single
// connection-pooled HTTP client that is the only object allowed to open
// upstream sockets, grounded on the teacher's internal/proxy.TransportPool
// and internal/proxy.Proxy, trimmed to the proxy-settings knobs spec §3
// actually names (HTTP/3, SSRF dialer wrapping, and per-upstream transport
// overrides are teacher features with no SPEC_FULL component to exercise
// them, so they are dropped rather than carried as dead code).
package proxy

import (
	"net"
	"net/http"
	"time"

	"github.com/wudi/wafproxy/internal/config"
)

// NewTransport builds the shared upstream http.Transport from the proxy
// settings in spec §3/§4.F.
func NewTransport(settings config.ProxySettings) *http.Transport {
	timeout := time.Duration(settings.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	idleExpiry := time.Duration(settings.KeepaliveExpirySeconds) * time.Second
	if idleExpiry <= 0 {
		idleExpiry = 90 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          settings.MaxConnections,
		MaxIdleConnsPerHost:   settings.MaxKeepaliveConnections,
		IdleConnTimeout:       idleExpiry,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient wraps a transport into the shared http.Client used for every
// upstream request. Redirects are never followed automatically (spec
// §4.F point 3).
func NewClient(settings config.ProxySettings) *http.Client {
	timeout := time.Duration(settings.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: NewTransport(settings),
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
