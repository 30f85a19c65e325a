package router

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/wudi/wafproxy/internal/config"
)

const (
	proberInterval      = 10 * time.Second
	proberTimeout       = 5 * time.Second
	unhealthyAfterFails = 3
	healthyAfterPasses  = 2
)

// probeState tracks one Upstream's consecutive pass/fail streak. An
// Upstream with no healthcheck_path is never added here and is always
// considered healthy (spec §9 Open Question resolution, SPEC_FULL §
// "Healthcheck-aware routing").
type probeState struct {
	mu              sync.RWMutex
	healthy         bool
	consecutivePass int
	consecutiveFail int
}

// prober is a trimmed version of the teacher's health.Checker: one HTTP GET
// per interval per monitored backend, no configurable method/status ranges
// since spec.md names only "healthcheck_path" — a 2xx/3xx response counts
// as a pass, anything else (including a transport error) counts as a fail.
type prober struct {
	client *http.Client
	states map[string]*probeState // keyed by Target.BaseURL

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newProber(upstreams []config.Upstream, targets []*Target) *prober {
	states := make(map[string]*probeState)
	pathByBaseURL := make(map[string]string)
	for i, u := range upstreams {
		if u.HealthcheckPath == "" {
			continue
		}
		baseURL := targets[i].BaseURL
		states[baseURL] = &probeState{healthy: true}
		pathByBaseURL[baseURL] = u.HealthcheckPath
	}

	if len(states) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &prober{
		client: &http.Client{Timeout: proberTimeout},
		states: states,
		ctx:    ctx,
		cancel: cancel,
	}

	for baseURL, path := range pathByBaseURL {
		p.wg.Add(1)
		go p.loop(baseURL, path)
	}
	return p
}

func (p *prober) loop(baseURL, path string) {
	defer p.wg.Done()
	p.check(baseURL, path)

	ticker := time.NewTicker(proberInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.check(baseURL, path)
		}
	}
}

func (p *prober) check(baseURL, path string) {
	req, err := http.NewRequestWithContext(p.ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		p.record(baseURL, false)
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.record(baseURL, false)
		return
	}
	defer resp.Body.Close()
	p.record(baseURL, resp.StatusCode >= 200 && resp.StatusCode < 400)
}

func (p *prober) record(baseURL string, pass bool) {
	state, ok := p.states[baseURL]
	if !ok {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if pass {
		state.consecutiveFail = 0
		state.consecutivePass++
		if state.consecutivePass >= healthyAfterPasses {
			state.healthy = true
		}
	} else {
		state.consecutivePass = 0
		state.consecutiveFail++
		if state.consecutiveFail >= unhealthyAfterFails {
			state.healthy = false
		}
	}
}

// isHealthy reports whether baseURL should be considered for selection.
// An Upstream with no monitored state (healthcheck_path unset) is always
// healthy.
func (p *prober) isHealthy(baseURL string) bool {
	state, ok := p.states[baseURL]
	if !ok {
		return true
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.healthy
}

func (p *prober) stop() {
	p.cancel()
	p.wg.Wait()
}
