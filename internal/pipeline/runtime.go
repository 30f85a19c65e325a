package pipeline

import (
	"go.uber.org/zap"

	"github.com/wudi/wafproxy/internal/config"
	"github.com/wudi/wafproxy/internal/normalize"
	"github.com/wudi/wafproxy/internal/proxy"
	"github.com/wudi/wafproxy/internal/ratelimit"
	"github.com/wudi/wafproxy/internal/router"
	"github.com/wudi/wafproxy/internal/waf"
)

// runtimeState bundles every component that spec §9's atomic swap replaces
// as one observable step: the RuleEngine, the Router, and the RateLimiter
// (with fresh buckets for the new limits), plus the Normalizer and
// Forwarder, which are cheap to rebuild and carry no state worth
// preserving across a reload.
type runtimeState struct {
	cfg        *config.Config
	normalizer *normalize.Normalizer
	engine     *waf.Engine
	router     *router.Router
	limiter    *ratelimit.Limiter
	forwarder  *proxy.Forwarder
}

// buildRuntime constructs a fresh runtimeState from a validated Config.
func buildRuntime(cfg *config.Config, logger *zap.Logger) (*runtimeState, error) {
	normalizer, err := normalize.New(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	engine, err := waf.New(cfg, waf.Options{Logger: logger})
	if err != nil {
		return nil, err
	}

	client := proxy.NewClient(cfg.ProxySettings)

	return &runtimeState{
		cfg:        cfg,
		normalizer: normalizer,
		engine:     engine,
		router:     router.New(cfg.Upstreams),
		limiter:    ratelimit.New(cfg.RateLimits.DefaultRPM),
		forwarder:  proxy.New(client, cfg.ProxySettings.Retries),
	}, nil
}

// stop releases the background goroutines a runtimeState owns (the
// router's health prober and the limiter's bucket sweeper) so a
// superseded runtime doesn't leak them.
func (rt *runtimeState) stop() {
	rt.router.Stop()
	rt.limiter.Stop()
}
