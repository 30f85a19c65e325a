package errors

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestProxyErrorWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrRateLimited.WithRequestID("req-1").WriteJSON(rec)

	if rec.Code != 429 {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["error"] != "rate_limited" {
		t.Errorf("error = %v, want rate_limited", body["error"])
	}
	if body["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", body["request_id"])
	}
}

func TestProxyErrorWithMessagePreservesKind(t *testing.T) {
	e := ErrUpstreamError.WithMessage("upstream timeout").WithRequestID("req-2")
	if e.Kind != "upstream_error" {
		t.Errorf("kind = %q, want upstream_error", e.Kind)
	}
	if e.Message != "upstream timeout" {
		t.Errorf("message = %q", e.Message)
	}
	if ErrUpstreamError.Message != "" {
		t.Error("WithMessage mutated the sentinel")
	}
}

func TestWrapKeepsUnderlyingOutOfJSON(t *testing.T) {
	inner := New(500, "dial failure")
	wrapped := Wrap(inner, 502, "upstream_error")

	rec := httptest.NewRecorder()
	wrapped.WriteJSON(rec)

	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if _, ok := body["underlying"]; ok {
		t.Error("underlying error leaked into JSON")
	}
}

func TestBlockVerdictWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	BlockVerdict{
		Blocked:   true,
		Reason:    "waf",
		Score:     10,
		RuleIDs:   []string{"PT001"},
		RequestID: "req-3",
	}.WriteJSON(rec)

	if rec.Code != 403 {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["blocked"] != true {
		t.Error("blocked should be true")
	}
	if body["reason"] != "waf" {
		t.Errorf("reason = %v", body["reason"])
	}
	ruleIDs, ok := body["rule_ids"].([]any)
	if !ok || len(ruleIDs) != 1 || ruleIDs[0] != "PT001" {
		t.Errorf("rule_ids = %v", body["rule_ids"])
	}
}

func TestIsProxyError(t *testing.T) {
	if _, ok := IsProxyError(ErrNoUpstream); !ok {
		t.Error("expected ErrNoUpstream to be a ProxyError")
	}
}
