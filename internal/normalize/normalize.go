// Package normalize implements the WAF proxy's request normalization and
// client-identity layer (spec §4.A), grounded on the shape of the teacher's
// internal/middleware/realip.CompiledRealIP but following the exact
// algorithm spec.md specifies rather than the teacher's header-priority
// list.
package normalize

import (
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Normalizer holds the compiled trusted-proxy CIDR list used by ClientIP.
type Normalizer struct {
	trustedProxies []*net.IPNet
}

// New compiles trustedProxies (bare IPs or CIDRs, v4 or v6) into a
// Normalizer.
func New(trustedProxies []string) (*Normalizer, error) {
	nets := make([]*net.IPNet, 0, len(trustedProxies))
	for _, entry := range trustedProxies {
		n, err := parseIPOrCIDR(entry)
		if err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return &Normalizer{trustedProxies: nets}, nil
}

func parseIPOrCIDR(entry string) (*net.IPNet, error) {
	if _, ipNet, err := net.ParseCIDR(entry); err == nil {
		return ipNet, nil
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
	return ipNet, err
}

func (n *Normalizer) isTrusted(ip net.IP) bool {
	for _, cidr := range n.trustedProxies {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// DecodePath percent-decodes raw up to two iterations, normalizes
// backslashes to slashes, strips null bytes, and guarantees a leading
// slash. `..` segments are preserved — this is the path_raw target.
func DecodePath(raw string) string {
	decoded := raw
	for i := 0; i < 2; i++ {
		next, err := url.PathUnescape(decoded)
		if err != nil || next == decoded {
			break
		}
		decoded = next
	}
	decoded = strings.ReplaceAll(decoded, "\\", "/")
	decoded = strings.ReplaceAll(decoded, "\x00", "")
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}
	return decoded
}

// Canonicalize resolves `.`/`..` segments and collapses duplicate slashes
// in an already-decoded path — this is the path target.
func Canonicalize(decoded string) string {
	cleaned := path.Clean(decoded)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	// path.Clean turns "/a/.." into "/", but leading ".." segments that
	// escape the root collapse to "/" too — matches POSIX normalization.
	return cleaned
}

// NormalizeQuery percent-decodes (up to two iterations) and strips nulls.
func NormalizeQuery(raw string) string {
	decoded := raw
	for i := 0; i < 2; i++ {
		next, err := url.QueryUnescape(decoded)
		if err != nil || next == decoded {
			break
		}
		decoded = next
	}
	return strings.ReplaceAll(decoded, "\x00", "")
}

// digestHeaders lists, in order, the headers concatenated into the header
// digest (spec §4.A). Accessed case-insensitively via http.Header.Get.
var digestHeaders = []string{"User-Agent", "Referer", "Content-Type", "Accept", "Host"}

// HeaderDigest concatenates "name:value" pairs for the fixed header set,
// lowercased and space-joined; missing headers are omitted.
func HeaderDigest(r *http.Request) string {
	var b strings.Builder
	first := true
	for _, name := range digestHeaders {
		var value string
		if strings.EqualFold(name, "Host") {
			value = r.Host
		} else {
			value = r.Header.Get(name)
		}
		if value == "" {
			continue
		}
		if !first {
			b.WriteByte(' ')
		}
		first = false
		b.WriteString(strings.ToLower(name))
		b.WriteByte(':')
		b.WriteString(strings.ToLower(value))
	}
	return b.String()
}

// ClientIP derives the client IP per spec §4.A's trusted-proxy algorithm:
// the X-Forwarded-For chain is honored only when the socket peer itself is
// trusted, and even then only the rightmost untrusted entry is returned.
func (n *Normalizer) ClientIP(r *http.Request) string {
	peer := peerIP(r.RemoteAddr)
	if peer == "" {
		return "0.0.0.0"
	}
	if len(n.trustedProxies) == 0 {
		return peer
	}

	peerParsed := net.ParseIP(peer)
	if peerParsed == nil || !n.isTrusted(peerParsed) {
		return peer
	}

	chain := parseXFF(r.Header.Get("X-Forwarded-For"))
	chain = append(chain, peer)

	for len(chain) > 0 {
		last := chain[len(chain)-1]
		ip := net.ParseIP(last)
		if ip == nil || !n.isTrusted(ip) {
			break
		}
		chain = chain[:len(chain)-1]
	}

	if len(chain) == 0 {
		return peer
	}
	return chain[len(chain)-1]
}

func parseXFF(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		ip := strings.TrimSpace(p)
		if ip == "" {
			continue
		}
		if net.ParseIP(ip) == nil {
			continue
		}
		out = append(out, ip)
	}
	return out
}

func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// InspectionContext is the per-request, already-truncated input to the
// rule engine (spec §3).
type InspectionContext struct {
	Path          string
	PathRaw       string
	Query         string
	HeadersDigest string
	Body          []byte
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// BuildInspection produces an InspectionContext from the request, with
// every field truncated to maxInspectBytes after decoding. body is nil
// unless the WAF's inspect_body setting is enabled and the pipeline has
// already prebuffered the request body.
func BuildInspection(r *http.Request, maxInspectBytes int, body []byte) InspectionContext {
	pathRaw := DecodePath(r.URL.EscapedPath())
	path := Canonicalize(pathRaw)
	query := NormalizeQuery(r.URL.RawQuery)
	digest := HeaderDigest(r)

	ctx := InspectionContext{
		Path:          truncate(path, maxInspectBytes),
		PathRaw:       truncate(pathRaw, maxInspectBytes),
		Query:         truncate(query, maxInspectBytes),
		HeadersDigest: truncate(digest, maxInspectBytes),
	}
	if body != nil {
		if maxInspectBytes > 0 && len(body) > maxInspectBytes {
			body = body[:maxInspectBytes]
		}
		ctx.Body = body
	}
	return ctx
}

// NewInspectionContext builds an InspectionContext directly from its
// fields, for callers (rule-engine tests, control-plane replays) that
// already have decoded values rather than an *http.Request.
func NewInspectionContext(pathRaw, path, query, headersDigest string) InspectionContext {
	return InspectionContext{PathRaw: pathRaw, Path: path, Query: query, HeadersDigest: headersDigest}
}
