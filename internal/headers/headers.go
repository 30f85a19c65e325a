// Package headers implements the hop-by-hop stripping and forwarding-header
// management from spec §4.D, grounded on the teacher's
// internal/proxy.removeHopHeaders/hopHeaders but extended with the
// dynamic Connection-token handling and add_forwarding spec.md requires.
package headers

import (
	"net/http"
	"strings"
)

// hopByHop is the static set named in spec §4.D.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// connectionTokens returns the extra header names listed in h's Connection
// header — per RFC 7230 these are also hop-by-hop for this message.
func connectionTokens(h http.Header) []string {
	var tokens []string
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}

func stripHopByHop(h http.Header) {
	dynamic := connectionTokens(h)
	for name := range h {
		if hopByHop[strings.ToLower(name)] {
			h.Del(name)
		}
	}
	for _, tok := range dynamic {
		h.Del(tok)
	}
}

// FilterRequest drops hop-by-hop headers (static set plus any
// Connection-listed tokens) and the inbound Content-Length, which the HTTP
// client recomputes for the outgoing request body.
func FilterRequest(h http.Header) {
	stripHopByHop(h)
	h.Del("Content-Length")
}

// FilterResponse drops hop-by-hop headers from an upstream response before
// it is written back to the client.
func FilterResponse(h http.Header) {
	stripHopByHop(h)
}

// AddForwarding appends clientIP to X-Forwarded-For (creating it if
// absent) and sets X-Forwarded-Proto/X-Forwarded-Host only when not
// already present.
func AddForwarding(h http.Header, clientIP, scheme, host string) {
	if existing := h.Get("X-Forwarded-For"); existing != "" {
		h.Set("X-Forwarded-For", existing+", "+clientIP)
	} else {
		h.Set("X-Forwarded-For", clientIP)
	}
	if h.Get("X-Forwarded-Proto") == "" {
		h.Set("X-Forwarded-Proto", scheme)
	}
	if h.Get("X-Forwarded-Host") == "" {
		h.Set("X-Forwarded-Host", host)
	}
}
