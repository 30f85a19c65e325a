// Package pipeline implements the request orchestration from spec §4.G:
// the fixed per-request step order (rate limit → body size → WAF →
// routing → forwarding), the reserved bypass routes, and the config
// hot-reload lifecycle from spec §4.H/§9. Grounded on the teacher's own
// top-level proxy.Proxy.Handler for the step ordering and on
// internal/cluster/dp for the reload callback shape; the bypass mux is the
// one place this repo reaches for julienschmidt/httprouter, matching the
// teacher's internal/api router idiom.
package pipeline

import (
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/wudi/wafproxy/internal/config"
	"github.com/wudi/wafproxy/internal/errors"
	"github.com/wudi/wafproxy/internal/metrics"
	"github.com/wudi/wafproxy/internal/middleware"
	"github.com/wudi/wafproxy/internal/normalize"
	"github.com/wudi/wafproxy/internal/ratelimit"
	"github.com/wudi/wafproxy/internal/waf"
)

// bodyBearingMethods is the method set spec §4.G step 4 enforces
// max_body_bytes against.
var bodyBearingMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Pipeline is the top-level http.Handler: bypass routes plus the ordered
// WAF request flow, both reading from the same atomically-swapped
// runtimeState.
type Pipeline struct {
	store   *config.Store
	runtime atomic.Pointer[runtimeState]
	metrics *metrics.Metrics
	logger  *zap.Logger
	mux     *httprouter.Router
}

// New builds a Pipeline from an initial, already-validated Config and
// registers the reserved bypass routes (spec §4.G).
func New(cfg *config.Config, versionHash string, m *metrics.Metrics, logger *zap.Logger) (*Pipeline, error) {
	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:   config.NewStore(cfg, versionHash),
		metrics: m,
		logger:  logger,
	}
	p.runtime.Store(rt)

	mux := httprouter.New()
	mux.GET("/_waf/healthz", p.handleHealthz)
	mux.GET("/_waf/readyz", p.handleReadyz)
	mux.GET("/_waf/metrics", p.handleMetrics)
	mux.GET("/", p.handleRoot)
	mux.NotFound = http.HandlerFunc(p.handleProxied)
	p.mux = mux

	return p, nil
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// recordOutcome marks a terminal branch of handleProxied: the outcome
// counter and the end-to-end latency histogram share the outcome label.
func (p *Pipeline) recordOutcome(outcome string, start time.Time) {
	p.metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	p.metrics.RequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// Reload is wired as the config.Poller's ReloadFn: it builds a fresh
// runtimeState and swaps it in as one atomic store, then stops the
// superseded runtime's background goroutines. cfg arrives already
// validated by the poller.
func (p *Pipeline) Reload(cfg *config.Config) config.ReloadResult {
	rt, err := buildRuntime(cfg, p.logger)
	if err != nil {
		p.metrics.ObserveReload(false, "", 0)
		return config.ReloadResult{Success: false, Error: err.Error()}
	}

	old := p.runtime.Swap(rt)
	if old != nil {
		old.stop()
	}

	versionHash := config.Hash(cfg)
	p.store.Publish(cfg, versionHash)
	p.metrics.ObserveReload(true, versionHash, float64(time.Now().Unix()))
	p.logger.Info("config reloaded", zap.String("version", versionHash))

	return config.ReloadResult{Success: true}
}

func (p *Pipeline) handleHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (p *Pipeline) handleReadyz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap := p.store.Load()
	if snap == nil || snap.Config == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// handleMetrics is intentionally exempt from rate-limit/WAF logic (spec
// §4.G) so a trusted scraper is never itself challenged by the WAF it is
// monitoring.
func (p *Pipeline) handleMetrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p.metrics.Handler().ServeHTTP(w, r)
}

func (p *Pipeline) handleRoot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap := p.store.Load()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	version := ""
	loadedAt := int64(0)
	lastErr := ""
	if snap != nil {
		version = snap.Version.Hash
		loadedAt = snap.Version.LoadedAt
		lastErr = snap.Version.LastError
	}
	_, _ = w.Write([]byte(`{"service":"wafproxy","version_hash":"` + version + `","loaded_at":` +
		strconv.FormatInt(loadedAt, 10) + `,"last_error":"` + lastErr + `"}`))
}

// handleProxied runs the full spec §4.G step order for every request that
// didn't match a bypass route.
func (p *Pipeline) handleProxied(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rt := p.runtime.Load()

	requestID := uuid.New().String()
	w.Header().Set("X-Request-ID", requestID)
	ctx := middleware.WithRequestID(r.Context(), requestID)
	r = r.WithContext(ctx)

	clientIP := rt.normalizer.ClientIP(r)

	rpm := ratelimit.CapacityFor(r.URL.Path, rt.cfg.RateLimits.PerPath, rt.cfg.RateLimits.DefaultRPM)
	if !rt.limiter.Allow(clientIP, rpm) {
		p.metrics.RateLimitedTotal.Inc()
		p.recordOutcome("rate_limited", start)
		errors.ErrRateLimited.WithRequestID(requestID).WriteJSON(w)
		logAccess(p.logger, accessRecord{requestID: requestID, clientIP: clientIP, method: r.Method, path: r.URL.Path, status: http.StatusTooManyRequests, start: start})
		return
	}

	body, ok := readBoundedBody(r, rt.cfg.WAFSettings.MaxBodyBytes, bodyBearingMethods[r.Method])
	if !ok {
		p.recordOutcome("payload_too_large", start)
		errors.ErrPayloadTooLarge.WithRequestID(requestID).WriteJSON(w)
		logAccess(p.logger, accessRecord{requestID: requestID, clientIP: clientIP, method: r.Method, path: r.URL.Path, status: http.StatusRequestEntityTooLarge, start: start})
		return
	}

	var inspectBody []byte
	if rt.cfg.WAFSettings.InspectBody {
		inspectBody = body
	}
	inspectCtx := normalize.BuildInspection(r, rt.cfg.WAFSettings.MaxInspectBytes, inspectBody)

	verdict := rt.engine.Evaluate(inspectCtx, clientIP)
	w.Header().Set("X-WAF-Decision", string(verdict.Kind))
	w.Header().Set("X-WAF-Score", strconv.Itoa(verdict.Score))

	if verdict.Kind == waf.Block {
		p.metrics.WAFVerdictsTotal.WithLabelValues(string(verdict.Kind)).Inc()
		p.recordOutcome("blocked", start)
		errors.BlockVerdict{
			Blocked: true, Reason: "waf", Score: verdict.Score,
			RuleIDs: verdict.RuleIDs, RequestID: requestID,
		}.WriteJSON(w)
		logAccess(p.logger, accessRecord{requestID: requestID, clientIP: clientIP, method: r.Method, path: r.URL.Path, status: http.StatusForbidden, verdict: verdict.Kind, score: verdict.Score, start: start})
		return
	}
	p.metrics.WAFVerdictsTotal.WithLabelValues(string(verdict.Kind)).Inc()

	target := rt.router.GetUpstream(r.Host, r.URL.Path)
	if target == nil {
		p.recordOutcome("no_upstream", start)
		errors.ErrNoUpstream.WithRequestID(requestID).WriteJSON(w)
		logAccess(p.logger, accessRecord{requestID: requestID, clientIP: clientIP, method: r.Method, path: r.URL.Path, status: http.StatusBadGateway, verdict: verdict.Kind, score: verdict.Score, start: start})
		return
	}

	result, err := rt.forwarder.Forward(r.Context(), target.BaseURL, r, clientIP, body)
	if err != nil {
		errType := "upstream_error"
		if pe, ok := errors.IsProxyError(err); ok {
			errType = pe.ErrorType()
			pe.WithRequestID(requestID).WriteJSON(w)
		} else {
			errors.ErrUpstreamError.WithRequestID(requestID).WriteJSON(w)
		}
		p.metrics.UpstreamErrors.WithLabelValues(errType).Inc()
		p.recordOutcome("upstream_error", start)
		logAccess(p.logger, accessRecord{requestID: requestID, clientIP: clientIP, method: r.Method, path: r.URL.Path, status: http.StatusBadGateway, verdict: verdict.Kind, score: verdict.Score, start: start, upstream: target.Name})
		return
	}
	defer result.Body.Close()

	for name, values := range result.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(result.StatusCode)
	streamBody(w, result.Body)

	p.recordOutcome("completed", start)
	logAccess(p.logger, accessRecord{requestID: requestID, clientIP: clientIP, method: r.Method, path: r.URL.Path, status: result.StatusCode, verdict: verdict.Kind, score: verdict.Score, start: start, upstream: target.Name})
}

// readBoundedBody enforces spec §4.G step 4: for a body-bearing method, a
// present Content-Length over the limit is rejected without reading a
// byte; in every case the body is then buffered chunk by chunk, aborting
// the moment the running length exceeds the limit.
func readBoundedBody(r *http.Request, maxBodyBytes int, bodyBearing bool) ([]byte, bool) {
	if r.Body == nil {
		return nil, true
	}
	if bodyBearing && r.ContentLength >= 0 && maxBodyBytes > 0 && r.ContentLength > int64(maxBodyBytes) {
		return nil, false
	}

	limit := int64(maxBodyBytes) + 1
	if maxBodyBytes <= 0 {
		limit = 1 << 62
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit))
	_ = r.Body.Close()
	if err != nil {
		return nil, false
	}
	if maxBodyBytes > 0 && len(data) > maxBodyBytes {
		return nil, false
	}
	return data, true
}

// streamChunkSize mirrors the Forwarder's own streaming chunk size (spec §4.F
// point 4): the response body is relayed in ≤8 KiB pieces.
const streamChunkSize = 8 * 1024

func streamBody(w http.ResponseWriter, body io.Reader) {
	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, streamChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			_, _ = w.Write(buf[:n])
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
