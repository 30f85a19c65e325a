// Package errors converts the pipeline's request-scoped failure kinds into
// the JSON error shapes from the WAF proxy's wire contract.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ProxyError is a request-scoped error with an HTTP status and a kind that
// determines its JSON shape on the wire.
type ProxyError struct {
	Code int    `json:"-"`
	Kind string `json:"error"`
	// MetricLabel is the error_type label used for the upstream_errors_total
	// metric; it may be more granular than Kind (e.g. "upstream_timeout"
	// vs. the wire-visible "upstream_error") since spec §7 names only two
	// wire shapes but nothing stops the metrics surface from being finer.
	// Empty means "use Kind".
	MetricLabel string `json:"-"`
	Message     string `json:"message,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	underlying  error
}

// ErrorType returns MetricLabel if set, otherwise Kind.
func (e *ProxyError) ErrorType() string {
	if e.MetricLabel != "" {
		return e.MetricLabel
	}
	return e.Kind
}

func (e *ProxyError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.underlying)
	}
	return e.Kind
}

func (e *ProxyError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as the plain `{error, message, request_id}`
// envelope from spec §7. BlockVerdict uses its own richer shape instead.
func (e *ProxyError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	_ = json.NewEncoder(w).Encode(e)
}

// Sentinel errors, one per kind named in spec §7's error taxonomy.
var (
	ErrRateLimited     = &ProxyError{Code: http.StatusTooManyRequests, Kind: "rate_limited"}
	ErrPayloadTooLarge = &ProxyError{Code: http.StatusRequestEntityTooLarge, Kind: "payload_too_large"}
	ErrNoUpstream      = &ProxyError{Code: http.StatusBadGateway, Kind: "no_upstream"}
	ErrUpstreamError   = &ProxyError{Code: http.StatusBadGateway, Kind: "upstream_error"}
	ErrInternalServer  = &ProxyError{Code: http.StatusInternalServerError, Kind: "internal_error"}
)

// New creates a ProxyError of the given kind.
func New(code int, kind string) *ProxyError {
	return &ProxyError{Code: code, Kind: kind}
}

// Wrap attaches an underlying cause to a ProxyError, for logging; the
// underlying error is never serialized to the client.
func Wrap(err error, code int, kind string) *ProxyError {
	return &ProxyError{Code: code, Kind: kind, underlying: err}
}

// WithMessage returns a copy of e carrying a human-readable message.
func (e *ProxyError) WithMessage(message string) *ProxyError {
	return &ProxyError{Code: e.Code, Kind: e.Kind, MetricLabel: e.MetricLabel, Message: message, RequestID: e.RequestID, underlying: e.underlying}
}

// WithRequestID returns a copy of e carrying the request's ID.
func (e *ProxyError) WithRequestID(requestID string) *ProxyError {
	return &ProxyError{Code: e.Code, Kind: e.Kind, MetricLabel: e.MetricLabel, Message: e.Message, RequestID: requestID, underlying: e.underlying}
}

// WithMetricLabel returns a copy of e tagged with a metrics-only error_type
// label distinct from its wire-visible Kind.
func (e *ProxyError) WithMetricLabel(label string) *ProxyError {
	return &ProxyError{Code: e.Code, Kind: e.Kind, MetricLabel: label, Message: e.Message, RequestID: e.RequestID, underlying: e.underlying}
}

// BlockVerdict is the `{blocked, reason, score, rule_ids, request_id}` shape
// spec §4.G/§7 requires for a WAF BLOCK response.
type BlockVerdict struct {
	Blocked   bool     `json:"blocked"`
	Reason    string   `json:"reason"`
	Score     int      `json:"score"`
	RuleIDs   []string `json:"rule_ids"`
	RequestID string   `json:"request_id,omitempty"`
}

// WriteJSON writes the 403 block response.
func (b BlockVerdict) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(b)
}

// IsProxyError reports whether err is a *ProxyError.
func IsProxyError(err error) (*ProxyError, bool) {
	pe, ok := err.(*ProxyError)
	return pe, ok
}
