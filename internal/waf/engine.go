// Package waf implements the rule engine from spec §4.B: allowlist/
// blocklist fast paths, per-rule scoring, and mode-aware thresholding.
// Grounded on the teacher's internal/middleware/waf.WAF for the
// mode/per-route manager shape, but the matcher itself is stdlib regexp —
// Go's RE2 engine is already linear-time, which is exactly what spec §9's
// Pattern safety invariant asks for, so no third-party engine earns its
// keep here.
package waf

import (
	"crypto/sha256"
	"net"
	"regexp"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/wudi/wafproxy/internal/config"
	"github.com/wudi/wafproxy/internal/normalize"
)

// VerdictKind is the engine's three-valued outcome.
type VerdictKind string

const (
	Allow      VerdictKind = "ALLOW"
	Suspicious VerdictKind = "SUSPICIOUS"
	Block      VerdictKind = "BLOCK"
)

// Finding records one matched rule's contribution to the score.
type Finding struct {
	RuleID string
	Target config.Target
	Score  int
}

// Verdict is the engine's output for one request (spec §3).
type Verdict struct {
	Kind     VerdictKind
	Score    int
	Findings []Finding
	RuleIDs  []string
}

// compiledRule is a Rule with its pattern replaced by the compiled
// matcher; only rules that compiled successfully are ever present (spec
// §4.B: "a rule whose pattern fails to compile is skipped with a warning").
type compiledRule struct {
	id      string
	target  config.Target
	pattern *regexp.Regexp
	score   int
}

// Engine evaluates normalized requests against a compiled rule set plus IP
// allow/block lists, per spec §4.B.
type Engine struct {
	mode       config.Mode
	thresholds config.Thresholds
	allowlist  []*net.IPNet
	blocklist  []*net.IPNet
	rules      []compiledRule

	cache *lru.Cache[string, bool]
	log   *zap.Logger
}

// Options configures cache sizing; zero value uses the spec-named default.
type Options struct {
	CacheSize int
	Logger    *zap.Logger
}

// New compiles cfg into an Engine. Uncompilable rule patterns are skipped
// with a warning, never a fatal error.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4096
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	allow, err := parseIPList(cfg.IPAllowlist)
	if err != nil {
		return nil, err
	}
	block, err := parseIPList(cfg.IPBlocklist)
	if err != nil {
		return nil, err
	}

	var compiled []compiledRule
	for _, r := range cfg.Rules {
		if !r.Enabled {
			continue
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			opts.Logger.Warn("skipping rule with uncompilable pattern",
				zap.String("rule_id", r.ID), zap.Error(err))
			continue
		}
		compiled = append(compiled, compiledRule{
			id: r.ID, target: r.Target, pattern: re, score: r.Score,
		})
	}

	cache, err := lru.New[string, bool](opts.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		mode:       cfg.WAFSettings.Mode,
		thresholds: cfg.Thresholds,
		allowlist:  allow,
		blocklist:  block,
		rules:      compiled,
		cache:      cache,
		log:        opts.Logger,
	}, nil
}

func parseIPList(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, &net.ParseError{Type: "IP address", Text: entry}
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		_, ipNet, err := net.ParseCIDR(entry + "/" + strconv.Itoa(bits))
		if err != nil {
			return nil, err
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

func matchesList(list []*net.IPNet, ip net.IP) bool {
	for _, n := range list {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func target(ctx normalize.InspectionContext, t config.Target) string {
	switch t {
	case config.TargetPath:
		return ctx.Path
	case config.TargetPathRaw:
		return ctx.PathRaw
	case config.TargetQuery:
		return ctx.Query
	case config.TargetHeaders:
		return ctx.HeadersDigest
	case config.TargetBody:
		return string(ctx.Body)
	default:
		return ""
	}
}

// Evaluate runs the decision order from spec §4.B and returns a Verdict.
func (e *Engine) Evaluate(ctx normalize.InspectionContext, clientIP string) Verdict {
	ip := net.ParseIP(clientIP)

	if ip != nil && matchesList(e.allowlist, ip) {
		return Verdict{Kind: Allow, Score: 0, RuleIDs: []string{"allowlist"},
			Findings: []Finding{{RuleID: "allowlist", Score: 0}}}
	}

	if ip != nil && matchesList(e.blocklist, ip) {
		finding := Finding{RuleID: "blocklist", Score: 100}
		return e.threshold(100, []Finding{finding}, []string{"blocklist"})
	}

	var findings []Finding
	var ruleIDs []string
	score := 0

	for _, rule := range e.rules {
		text := target(ctx, rule.target)
		if e.matches(rule, text) {
			score += rule.score
			findings = append(findings, Finding{RuleID: rule.id, Target: rule.target, Score: rule.score})
			ruleIDs = append(ruleIDs, rule.id)
		}
	}

	return e.threshold(score, findings, ruleIDs)
}

// matches runs the compiled pattern, consulting the LRU keyed by
// (rule_id, sha256(target_bytes)) first — a pure performance optimization
// that never changes the verdict (SPEC_FULL §4.B).
func (e *Engine) matches(rule compiledRule, text string) bool {
	key := cacheKey(rule.id, text)
	if hit, ok := e.cache.Get(key); ok {
		return hit
	}
	result := rule.pattern.MatchString(text)
	e.cache.Add(key, result)
	return result
}

func cacheKey(ruleID, text string) string {
	sum := sha256.Sum256([]byte(text))
	return ruleID + ":" + string(sum[:])
}

func (e *Engine) threshold(score int, findings []Finding, ruleIDs []string) Verdict {
	var kind VerdictKind
	switch {
	case score >= e.thresholds.Block:
		kind = Block
	case score > e.thresholds.Allow:
		kind = Suspicious
	default:
		kind = Allow
	}

	// Monitor mode never blocks (spec §4.B, invariant §8.3); a blocklisted
	// IP in monitor mode is demoted the same way a rule-based BLOCK is
	// (SPEC_FULL's resolution of the corresponding Open Question).
	if kind == Block && e.mode == config.ModeMonitor {
		kind = Suspicious
	}

	return Verdict{Kind: kind, Score: score, Findings: findings, RuleIDs: ruleIDs}
}
