// Package router implements the upstream selector from spec §4.E: host
// match, then longest-prefix path match, then weighted random choice.
// Grounded on the teacher's internal/loadbalancer.WeightedBalancer for the
// weighted-selection idiom, heavily trimmed since traffic splitting by
// header, sticky sessions, and outlier detection are Non-goals here.
package router

import (
	"math/rand"
	"strings"

	"github.com/wudi/wafproxy/internal/config"
)

// Target is one routable Upstream. Its liveness is not stored here; the
// background prober tracks it per BaseURL.
type Target struct {
	Name    string
	BaseURL string

	hosts        []string
	pathPrefixes []string
	weight       int
}

// Router selects an Upstream per request using the spec §4.E priority
// order. It holds no mutable state of its own beyond what the prober
// records in health; a Router is rebuilt wholesale on every
// config reload rather than mutated in place (spec §9's atomic-swap
// requirement).
type Router struct {
	targets []*Target
	health  *prober
}

// New builds a Router from the configured upstreams. If any Upstream sets
// HealthcheckPath, a background prober is started; call Stop to release it.
func New(upstreams []config.Upstream) *Router {
	targets := make([]*Target, 0, len(upstreams))
	for _, u := range upstreams {
		weight := u.Weight
		if weight <= 0 {
			weight = 1
		}
		targets = append(targets, &Target{
			Name:         u.Name,
			BaseURL:      strings.TrimRight(u.BaseURL, "/"),
			hosts:        u.Hosts,
			pathPrefixes: u.PathPrefixes,
			weight:       weight,
		})
	}

	r := &Router{targets: targets}
	r.health = newProber(upstreams, targets)
	return r
}

// Stop releases the background health prober, if one was started.
func (r *Router) Stop() {
	if r.health != nil {
		r.health.stop()
	}
}

// GetUpstream implements spec §4.E's selection priority. It returns nil
// only when the Upstream list is empty or every Upstream is unhealthy.
func (r *Router) GetUpstream(host, path string) *Target {
	alive := r.aliveTargets()
	if len(alive) == 0 {
		return nil
	}

	if t := matchHost(alive, host); t != nil {
		return t
	}
	if t := matchLongestPrefix(alive, path); t != nil {
		return t
	}
	return r.weightedChoice(alive)
}

func (r *Router) aliveTargets() []*Target {
	if r.health == nil {
		return r.targets
	}
	alive := make([]*Target, 0, len(r.targets))
	for _, t := range r.targets {
		if r.health.isHealthy(t.BaseURL) {
			alive = append(alive, t)
		}
	}
	return alive
}

func matchHost(targets []*Target, host string) *Target {
	for _, t := range targets {
		for _, h := range t.hosts {
			if strings.EqualFold(h, host) {
				return t
			}
		}
	}
	return nil
}

func matchLongestPrefix(targets []*Target, path string) *Target {
	var best *Target
	bestLen := -1
	for _, t := range targets {
		for _, prefix := range t.pathPrefixes {
			if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
				best = t
				bestLen = len(prefix)
			}
		}
	}
	return best
}

// weightedChoice implements spec §4.E point 3: weighted random selection
// over all alive targets, falling back to the first when every weight is
// non-positive (can't happen today since New() floors weight at 1, but the
// fallback is kept to match the spec's literal fallback rule).
func (r *Router) weightedChoice(targets []*Target) *Target {
	total := 0
	for _, t := range targets {
		if t.weight > 0 {
			total += t.weight
		}
	}
	if total <= 0 {
		return targets[0]
	}

	roll := rand.Intn(total)
	cumulative := 0
	for _, t := range targets {
		if t.weight <= 0 {
			continue
		}
		cumulative += t.weight
		if roll < cumulative {
			return t
		}
	}
	return targets[len(targets)-1]
}
