package router

import (
	"testing"

	"github.com/wudi/wafproxy/internal/config"
)

func TestGetUpstreamHostMatchTakesPriority(t *testing.T) {
	r := New([]config.Upstream{
		{Name: "by-prefix", BaseURL: "http://a", PathPrefixes: []string{"/"}},
		{Name: "by-host", BaseURL: "http://b", Hosts: []string{"api.example.com"}},
	})

	got := r.GetUpstream("API.Example.COM", "/anything")
	if got == nil || got.Name != "by-host" {
		t.Fatalf("got %+v, want by-host (case-insensitive)", got)
	}
}

func TestGetUpstreamLongestPrefixWins(t *testing.T) {
	r := New([]config.Upstream{
		{Name: "root", BaseURL: "http://a", PathPrefixes: []string{"/"}},
		{Name: "api", BaseURL: "http://b", PathPrefixes: []string{"/api"}},
		{Name: "api-v2", BaseURL: "http://c", PathPrefixes: []string{"/api/v2"}},
	})

	got := r.GetUpstream("", "/api/v2/users")
	if got == nil || got.Name != "api-v2" {
		t.Fatalf("got %+v, want api-v2", got)
	}
}

func TestGetUpstreamPrefixTiesResolvedByDeclarationOrder(t *testing.T) {
	r := New([]config.Upstream{
		{Name: "first", BaseURL: "http://a", PathPrefixes: []string{"/api"}},
		{Name: "second", BaseURL: "http://b", PathPrefixes: []string{"/api"}},
	})

	got := r.GetUpstream("", "/api/x")
	if got == nil || got.Name != "first" {
		t.Fatalf("got %+v, want first (declared first)", got)
	}
}

func TestGetUpstreamWeightedFallbackWhenNoMatch(t *testing.T) {
	r := New([]config.Upstream{
		{Name: "only", BaseURL: "http://a", Weight: 5},
	})

	got := r.GetUpstream("unrelated.com", "/nope")
	if got == nil || got.Name != "only" {
		t.Fatalf("got %+v, want only", got)
	}
}

func TestGetUpstreamWeightedChoiceNeverPicksZeroWeightAlone(t *testing.T) {
	r := New([]config.Upstream{
		{Name: "heavy", BaseURL: "http://a", Weight: 100},
		{Name: "light", BaseURL: "http://b", Weight: 0}, // floored to 1
	})

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		got := r.GetUpstream("", "/")
		if got == nil {
			t.Fatal("got nil upstream")
		}
		seen[got.Name] = true
	}
	if len(seen) == 0 {
		t.Fatal("expected at least one upstream selected")
	}
}

func TestGetUpstreamEmptyListReturnsNil(t *testing.T) {
	r := New(nil)
	if got := r.GetUpstream("host", "/path"); got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestNewWithoutHealthcheckPathHasNoProber(t *testing.T) {
	r := New([]config.Upstream{{Name: "a", BaseURL: "http://a"}})
	if r.health != nil {
		t.Error("expected no prober when no Upstream sets healthcheck_path")
	}
	r.Stop()
}
