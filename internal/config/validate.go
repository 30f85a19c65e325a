package config

import (
	"fmt"
	"net"
)

// validator is one structural check, run in sequence against a candidate
// Config, grounded on the teacher's ordered-validator-chain idiom
// (internal/config/validators.go).
type validator func(*Config) error

var validators = []validator{
	validateUpstreams,
	validateIPLists,
	validateTrustedProxies,
	validateRules,
	validateThresholds,
	validateMode,
	validateInspectBounds,
}

// Validate runs every structural check named in spec §3's Config
// invariants. A failed rule regex is never fatal here — the engine skips
// uncompilable rules at construction time instead (spec §4.B).
func Validate(cfg *Config) error {
	for _, v := range validators {
		if err := v(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateUpstreams(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Upstreams))
	for i, u := range cfg.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("upstreams[%d]: name is required", i)
		}
		if seen[u.Name] {
			return fmt.Errorf("upstreams[%d]: duplicate upstream name %q", i, u.Name)
		}
		seen[u.Name] = true
		if u.BaseURL == "" {
			return fmt.Errorf("upstream %q: base_url is required", u.Name)
		}
	}
	return nil
}

func parseIPOrCIDR(entry string) (*net.IPNet, error) {
	if _, ipNet, err := net.ParseCIDR(entry); err == nil {
		return ipNet, nil
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, fmt.Errorf("%q is not a valid IP or CIDR", entry)
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	_, ipNet, err := net.ParseCIDR(fmt.Sprintf("%s/%d", entry, bits))
	return ipNet, err
}

func validateIPLists(cfg *Config) error {
	for _, entry := range cfg.IPAllowlist {
		if _, err := parseIPOrCIDR(entry); err != nil {
			return fmt.Errorf("ip_allowlist: %w", err)
		}
	}
	for _, entry := range cfg.IPBlocklist {
		if _, err := parseIPOrCIDR(entry); err != nil {
			return fmt.Errorf("ip_blocklist: %w", err)
		}
	}
	return nil
}

func validateTrustedProxies(cfg *Config) error {
	for _, entry := range cfg.TrustedProxies {
		if _, err := parseIPOrCIDR(entry); err != nil {
			return fmt.Errorf("trusted_proxies: %w", err)
		}
	}
	return nil
}

var validTargets = map[Target]bool{
	TargetPath: true, TargetPathRaw: true, TargetQuery: true,
	TargetHeaders: true, TargetBody: true,
}

func validateRules(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Rules))
	for i, r := range cfg.Rules {
		if r.ID == "" {
			return fmt.Errorf("rules[%d]: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rules[%d]: duplicate rule id %q", i, r.ID)
		}
		seen[r.ID] = true
		if !validTargets[r.Target] {
			return fmt.Errorf("rule %q: invalid target %q", r.ID, r.Target)
		}
		if r.Score < 0 {
			return fmt.Errorf("rule %q: score must be >= 0", r.ID)
		}
	}
	return nil
}

func validateThresholds(cfg *Config) error {
	t := cfg.Thresholds
	if !(t.Allow <= t.Challenge && t.Challenge < t.Block) {
		return fmt.Errorf("thresholds: require allow <= challenge < block, got %+v", t)
	}
	return nil
}

func validateMode(cfg *Config) error {
	switch cfg.WAFSettings.Mode {
	case ModeMonitor, ModeBlock:
		return nil
	default:
		return fmt.Errorf("waf_settings.mode: must be %q or %q, got %q", ModeMonitor, ModeBlock, cfg.WAFSettings.Mode)
	}
}

func validateInspectBounds(cfg *Config) error {
	if cfg.WAFSettings.MaxInspectBytes > cfg.WAFSettings.MaxBodyBytes {
		return fmt.Errorf("waf_settings: max_inspect_bytes (%d) must be <= max_body_bytes (%d)",
			cfg.WAFSettings.MaxInspectBytes, cfg.WAFSettings.MaxBodyBytes)
	}
	return nil
}
