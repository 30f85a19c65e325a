package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/wudi/wafproxy/internal/waf"
)

// accessRecord is the structured record SPEC_FULL names under "Supplemented
// features": one zap line per completed request, fields matching the
// teacher's accesslog middleware's set.
type accessRecord struct {
	requestID string
	clientIP  string
	method    string
	path      string
	status    int
	verdict   waf.VerdictKind
	score     int
	start     time.Time
	upstream  string
}

func logAccess(logger *zap.Logger, rec accessRecord) {
	logger.Info("request completed",
		zap.String("request_id", rec.requestID),
		zap.String("client_ip", rec.clientIP),
		zap.String("method", rec.method),
		zap.String("path", rec.path),
		zap.Int("status", rec.status),
		zap.String("verdict", string(rec.verdict)),
		zap.Int("score", rec.score),
		zap.Int64("duration_ms", time.Since(rec.start).Milliseconds()),
		zap.String("upstream", rec.upstream),
	)
}
