// Package config holds the WAF proxy's data model (spec §3) and the
// machinery that turns a YAML file or a control-plane payload into a
// validated, immutable Config snapshot.
package config

// Target enumerates the InspectionContext field a Rule's pattern runs
// against (spec §9: "model target as an enumerated variant").
type Target string

const (
	TargetPath    Target = "path"
	TargetPathRaw Target = "path_raw"
	TargetQuery   Target = "query"
	TargetHeaders Target = "headers"
	TargetBody    Target = "body"
)

// Mode is the WAF's enforcement posture.
type Mode string

const (
	ModeMonitor Mode = "monitor"
	ModeBlock   Mode = "block"
)

// Upstream is a proxy destination selectable by host, path prefix, or
// weighted fallback (spec §4.E).
type Upstream struct {
	Name            string   `yaml:"name"`
	BaseURL         string   `yaml:"base_url"`
	Hosts           []string `yaml:"hosts,omitempty"`
	PathPrefixes    []string `yaml:"path_prefixes,omitempty"`
	Weight          int      `yaml:"weight,omitempty"`
	HealthcheckPath string   `yaml:"healthcheck_path,omitempty"`
}

// Rule is one WAF pattern-match rule (spec §3).
type Rule struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description,omitempty"`
	Target      Target `yaml:"target"`
	Pattern     string `yaml:"pattern"`
	Score       int    `yaml:"score"`
	Enabled     bool   `yaml:"enabled"`
}

// Thresholds maps aggregate rule score to a Verdict kind; invariant:
// Allow <= Challenge < Block.
type Thresholds struct {
	Allow     int `yaml:"allow"`
	Challenge int `yaml:"challenge"`
	Block     int `yaml:"block"`
}

// RateLimits is the rate-limit policy: a default requests-per-minute limit
// with optional exact-path overrides consulted first (SPEC_FULL §"Per-path
// rate-limit overrides").
type RateLimits struct {
	DefaultRPM int            `yaml:"default_rpm"`
	PerPath    map[string]int `yaml:"per_path,omitempty"`
}

// ProxySettings bounds the shared upstream HTTP client (spec §4.F).
type ProxySettings struct {
	TimeoutSeconds          int `yaml:"timeout_seconds"`
	MaxConnections          int `yaml:"max_connections"`
	MaxKeepaliveConnections int `yaml:"max_keepalive_connections"`
	KeepaliveExpirySeconds  int `yaml:"keepalive_expiry_seconds"`
	Retries                 int `yaml:"retries"`
}

// WAFSettings configures the rule engine's inspection limits and mode.
type WAFSettings struct {
	Mode            Mode `yaml:"mode"`
	MaxInspectBytes int  `yaml:"max_inspect_bytes"`
	MaxBodyBytes    int  `yaml:"max_body_bytes"`
	InspectBody     bool `yaml:"inspect_body"`
}

// Config is the full, immutable configuration snapshot (spec §3). A Config
// value, once returned by Loader.Parse and validated, is never mutated —
// reloads build a new value and publish it atomically (see Poller).
type Config struct {
	Upstreams      []Upstream    `yaml:"upstreams"`
	IPAllowlist    []string      `yaml:"ip_allowlist,omitempty"`
	IPBlocklist    []string      `yaml:"ip_blocklist,omitempty"`
	TrustedProxies []string      `yaml:"trusted_proxies,omitempty"`
	Rules          []Rule        `yaml:"rules,omitempty"`
	Thresholds     Thresholds    `yaml:"thresholds"`
	RateLimits     RateLimits    `yaml:"rate_limits"`
	ProxySettings  ProxySettings `yaml:"proxy_settings"`
	WAFSettings    WAFSettings   `yaml:"waf_settings"`
}

// DefaultConfig returns a Config with the defaults named across spec §4 and
// §6, to be overlaid by whatever the YAML document sets explicitly.
func DefaultConfig() *Config {
	return &Config{
		Thresholds: Thresholds{Allow: 4, Challenge: 5, Block: 10},
		RateLimits: RateLimits{DefaultRPM: 600},
		ProxySettings: ProxySettings{
			TimeoutSeconds:          30,
			MaxConnections:          100,
			MaxKeepaliveConnections: 100,
			KeepaliveExpirySeconds:  90,
			Retries:                 0,
		},
		WAFSettings: WAFSettings{
			Mode:            ModeBlock,
			MaxInspectBytes: 8192,
			MaxBodyBytes:    1 << 20,
			InspectBody:     false,
		},
	}
}

// Version identifies one published Config snapshot (spec §3 ConfigVersion).
type Version struct {
	Hash      string
	LoadedAt  int64
	LastError string
}
