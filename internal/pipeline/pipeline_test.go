package pipeline

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/wudi/wafproxy/internal/config"
	"github.com/wudi/wafproxy/internal/metrics"
)

func newTestPipeline(t *testing.T, cfg *config.Config) (*Pipeline, *httptest.Server) {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello from upstream"))
	}))
	t.Cleanup(upstream.Close)

	if len(cfg.Upstreams) == 0 {
		cfg.Upstreams = []config.Upstream{{Name: "default", BaseURL: upstream.URL, PathPrefixes: []string{"/"}}}
	} else {
		for i := range cfg.Upstreams {
			if cfg.Upstreams[i].BaseURL == "" {
				cfg.Upstreams[i].BaseURL = upstream.URL
			}
		}
	}

	p, err := New(cfg, "test-version", metrics.New(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, upstream
}

func baseConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.RateLimits.DefaultRPM = 600
	return cfg
}

func TestHealthzBypassesWAFAndRateLimit(t *testing.T) {
	p, _ := newTestPipeline(t, baseConfig())

	req := httptest.NewRequest(http.MethodGet, "/_waf/healthz", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsBypassServesExposition(t *testing.T) {
	p, _ := newTestPipeline(t, baseConfig())

	req := httptest.NewRequest(http.MethodGet, "/_waf/metrics", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "waf_rate_limited_total") {
		t.Error("expected prometheus exposition format to include waf_rate_limited_total")
	}
}

func TestSuccessfulRequestIsForwardedAndCarriesDecisionHeaders(t *testing.T) {
	p, _ := newTestPipeline(t, baseConfig())

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello from upstream" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rec.Header().Get("X-WAF-Decision") != "ALLOW" {
		t.Errorf("X-WAF-Decision = %q", rec.Header().Get("X-WAF-Decision"))
	}
}

// Scenario 6 from spec §8: rate-limit 429 still carries X-Request-ID.
func TestRateLimitReturns429WithRequestID(t *testing.T) {
	cfg := baseConfig()
	cfg.RateLimits.DefaultRPM = 1
	p, _ := newTestPipeline(t, cfg)

	req := func() *http.Request { return httptest.NewRequest(http.MethodGet, "/x", nil) }

	rec1 := httptest.NewRecorder()
	p.ServeHTTP(rec1, req())
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	p.ServeHTTP(rec2, req())
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec2.Code)
	}
	if rec2.Header().Get("X-Request-ID") == "" {
		t.Error("429 response missing X-Request-ID")
	}
	if !strings.Contains(rec2.Body.String(), "rate_limited") {
		t.Errorf("body = %s", rec2.Body.String())
	}
}

// Scenario 7 from spec §8: oversized body yields 413, nothing forwarded.
func TestPayloadTooLargeReturns413(t *testing.T) {
	cfg := baseConfig()
	cfg.WAFSettings.MaxBodyBytes = 8
	cfg.WAFSettings.MaxInspectBytes = 8
	p, _ := newTestPipeline(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("this body is definitely too large"))
	req.ContentLength = int64(len("this body is definitely too large"))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "payload_too_large") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestWAFBlockReturns403WithRuleIDs(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules = []config.Rule{{ID: "PT001", Target: config.TargetPathRaw, Pattern: `\.\./`, Score: 10, Enabled: true}}
	p, _ := newTestPipeline(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/../etc/passwd", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "PT001") {
		t.Errorf("body = %s, want rule id PT001", rec.Body.String())
	}
}

func TestNoUpstreamReturns502(t *testing.T) {
	cfg := baseConfig()
	cfg.Upstreams = nil
	p, err := New(cfg, "v1", metrics.New(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no_upstream") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

// Scenario 8 from spec §8: reload increments waf_config_reload_success_total.
func TestReloadSwapsRuntimeAndPublishesNewVersion(t *testing.T) {
	p, upstream := newTestPipeline(t, baseConfig())

	newCfg := baseConfig()
	newCfg.Upstreams = []config.Upstream{{Name: "default", BaseURL: upstream.URL, PathPrefixes: []string{"/"}}}
	newCfg.RateLimits.DefaultRPM = 42

	result := p.Reload(newCfg)
	if !result.Success {
		t.Fatalf("Reload failed: %s", result.Error)
	}

	snap := p.store.Load()
	if snap.Config.RateLimits.DefaultRPM != 42 {
		t.Errorf("published config not updated: %+v", snap.Config.RateLimits)
	}

	rt := p.runtime.Load()
	if rt.cfg.RateLimits.DefaultRPM != 42 {
		t.Error("runtime was not swapped to the new config")
	}

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_waf/metrics", nil))
	if !strings.Contains(rec.Body.String(), "waf_config_reload_success_total 1") {
		t.Errorf("reload success counter not incremented:\n%s", rec.Body.String())
	}
}

func TestRootServesVersionInfo(t *testing.T) {
	p, _ := newTestPipeline(t, baseConfig())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test-version") {
		t.Errorf("body = %s, want version_hash test-version", rec.Body.String())
	}
}
