package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/wudi/wafproxy/internal/errors"
	"github.com/wudi/wafproxy/internal/logging"
	"go.uber.org/zap"
)

// RecoveryConfig configures the recovery middleware.
type RecoveryConfig struct {
	PrintStack bool
	LogFunc    func(err interface{}, stack []byte)
}

// DefaultRecoveryConfig logs to the global zap logger with the stack trace.
var DefaultRecoveryConfig = RecoveryConfig{
	PrintStack: true,
	LogFunc:    defaultLogFunc,
}

func defaultLogFunc(err interface{}, stack []byte) {
	logging.Error("panic recovered",
		zap.Any("error", err),
		zap.ByteString("stack", stack),
	)
}

// Recovery creates a panic-recovery middleware that converts any panic into
// the taxonomy's internal_error shape instead of crashing the process —
// spec §7 requires the pipeline never let an exception leak past its top
// frame.
func Recovery() Middleware {
	return RecoveryWithConfig(DefaultRecoveryConfig)
}

// RecoveryWithConfig creates a recovery middleware with a custom config.
func RecoveryWithConfig(cfg RecoveryConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					var stack []byte
					if cfg.PrintStack {
						stack = debug.Stack()
					}
					if cfg.LogFunc != nil {
						cfg.LogFunc(rec, stack)
					}

					proxyErr := errors.ErrInternalServer.WithMessage(fmt.Sprintf("panic: %v", rec))
					if reqID := RequestIDFromContext(r.Context()); reqID != "" {
						proxyErr = proxyErr.WithRequestID(reqID)
					}
					proxyErr.WriteJSON(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
