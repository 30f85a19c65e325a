package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/wudi/wafproxy/internal/metrics"
)

// ReloadResult is the outcome of applying a polled config to the pipeline's
// live snapshot (spec §4.H's atomic swap).
type ReloadResult struct {
	Success bool
	Error   string
}

// Poller polls a control-plane URL for config updates (spec §6), grounded
// on the teacher's internal/cluster/dp.Client: atomic version/hash state
// plus a reloadFn callback, here adapted from a gRPC stream to an HTTP
// If-None-Match loop on a plain ticker.
type Poller struct {
	url        string
	token      string
	interval   time.Duration
	httpClient *http.Client
	reloadFn   func(*Config) ReloadResult
	logger     *zap.Logger
	metrics    *metrics.Metrics

	etag            atomic.Value // string
	lastReloadError atomic.Value // string
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	URL        string
	Token      string
	Interval   time.Duration
	HTTPClient *http.Client
	ReloadFn   func(*Config) ReloadResult
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// NewPoller creates a Poller. Interval defaults to 10s per spec §6.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	p := &Poller{
		url:        cfg.URL,
		token:      cfg.Token,
		interval:   cfg.Interval,
		httpClient: cfg.HTTPClient,
		reloadFn:   cfg.ReloadFn,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	p.etag.Store("")
	p.lastReloadError.Store("")
	return p
}

// LastReloadError returns the last reload/poll failure message, or "".
func (p *Poller) LastReloadError() string {
	v, _ := p.lastReloadError.Load().(string)
	return v
}

// recordFailure stores msg as the last reload error and bumps
// waf_config_reload_failure_total — spec §4.H: a bad status, a parse
// failure, or a validation failure all leave the current snapshot
// untouched and count against the failure total.
func (p *Poller) recordFailure(msg string) {
	p.lastReloadError.Store(msg)
	if p.metrics != nil {
		p.metrics.ObserveReload(false, "", 0)
	}
}

// Run blocks, polling at the configured interval until ctx is cancelled.
// Steady-state pacing is a plain time.Ticker (spec §6's fixed poll
// interval); cenkalti/backoff only governs retries after a connection-level
// failure (dial/timeout), never after a well-formed 304/401/404.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = p.interval // never outlive the next tick

	err := backoff.Retry(func() error {
		return p.fetchAndApply(ctx)
	}, backoff.WithContext(bo, ctx))

	if err != nil && ctx.Err() == nil {
		p.logger.Warn("control plane poll failed", zap.Error(err))
	}
}

// connError marks a failure as connection-level (retryable within one poll
// cycle); anything else (bad status, validation failure) is terminal for
// that cycle and waits for the next ticker fire instead.
type connError struct{ err error }

func (c *connError) Error() string { return c.err.Error() }
func (c *connError) Unwrap() error { return c.err }

func (p *Poller) fetchAndApply(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	if etag, _ := p.etag.Load().(string); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &connError{err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil
	case http.StatusOK:
		// fall through to apply
	default:
		msg := fmt.Sprintf("control plane returned %d", resp.StatusCode)
		p.recordFailure(msg)
		p.logger.Warn("control plane poll rejected", zap.Int("status", resp.StatusCode))
		return backoff.Permanent(fmt.Errorf("%s", msg))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &connError{err}
	}

	cfg := DefaultConfig()
	if uerr := yaml.Unmarshal(body, cfg); uerr != nil {
		msg := fmt.Sprintf("parse control-plane config: %v", uerr)
		p.recordFailure(msg)
		return backoff.Permanent(fmt.Errorf("%s", msg))
	}

	if verr := Validate(cfg); verr != nil {
		msg := fmt.Sprintf("validate control-plane config: %v", verr)
		p.recordFailure(msg)
		return backoff.Permanent(fmt.Errorf("%s", msg))
	}

	result := p.reloadFn(cfg)
	if !result.Success {
		p.lastReloadError.Store(result.Error)
		return backoff.Permanent(fmt.Errorf("apply config: %s", result.Error))
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		etag = hashBody(body)
	}
	p.etag.Store(etag)
	p.lastReloadError.Store("")
	return nil
}

func hashBody(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
