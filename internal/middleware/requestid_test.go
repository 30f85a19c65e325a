package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("expected a generated request id in context")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("response header %q != context id %q", rec.Header().Get("X-Request-ID"), seen)
	}
}

func TestRequestIDDoesNotTrustIncomingHeaderByDefault(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == "client-supplied" {
		t.Error("should not trust a client-supplied request id")
	}
}

func TestRequestIDWithConfigTrustsHeader(t *testing.T) {
	var seen string
	cfg := DefaultRequestIDConfig
	cfg.TrustHeader = true
	handler := RequestIDWithConfig(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "trusted-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "trusted-id" {
		t.Errorf("seen = %q, want trusted-id", seen)
	}
}
