package headers

import (
	"net/http"
	"testing"
)

func TestFilterRequestStripsStaticHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Content-Length", "42")
	h.Set("X-Custom", "keep")

	FilterRequest(h)

	for _, name := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Content-Length"} {
		if h.Get(name) != "" {
			t.Errorf("%s should have been stripped, got %q", name, h.Get(name))
		}
	}
	if h.Get("X-Custom") != "keep" {
		t.Error("non-hop-by-hop header was dropped")
	}
}

func TestFilterRequestStripsDynamicConnectionTokens(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Session-Token")
	h.Set("X-Session-Token", "secret")

	FilterRequest(h)

	if h.Get("X-Session-Token") != "" {
		t.Error("dynamic Connection-listed token should have been stripped")
	}
}

func TestAddForwardingAppendsClientIP(t *testing.T) {
	h := http.Header{}
	h.Set("X-Forwarded-For", "1.1.1.1")
	AddForwarding(h, "2.2.2.2", "https", "example.com")

	if got := h.Get("X-Forwarded-For"); got != "1.1.1.1, 2.2.2.2" {
		t.Errorf("X-Forwarded-For = %q", got)
	}
	if h.Get("X-Forwarded-Proto") != "https" {
		t.Errorf("X-Forwarded-Proto = %q", h.Get("X-Forwarded-Proto"))
	}
	if h.Get("X-Forwarded-Host") != "example.com" {
		t.Errorf("X-Forwarded-Host = %q", h.Get("X-Forwarded-Host"))
	}
}

func TestAddForwardingDoesNotOverrideExisting(t *testing.T) {
	h := http.Header{}
	h.Set("X-Forwarded-Proto", "http")
	AddForwarding(h, "2.2.2.2", "https", "example.com")

	if h.Get("X-Forwarded-Proto") != "http" {
		t.Errorf("existing X-Forwarded-Proto was overwritten: %q", h.Get("X-Forwarded-Proto"))
	}
}

func TestAddForwardingCreatesXFFWhenAbsent(t *testing.T) {
	h := http.Header{}
	AddForwarding(h, "3.3.3.3", "http", "a.com")
	if h.Get("X-Forwarded-For") != "3.3.3.3" {
		t.Errorf("X-Forwarded-For = %q", h.Get("X-Forwarded-For"))
	}
}
