package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/keycloak-gateway/internal/observability"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request and attaches a request-scoped logger to the context
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := GetRequestIDFromContext(r.Context())

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := observability.WithLogger(r.Context(), reqLogger)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("remote_addr", r.RemoteAddr),
				}
				switch {
				case status >= 500:
					reqLogger.Error("request completed", fields...)
				case status >= 400:
					reqLogger.Warn("request completed", fields...)
				default:
					reqLogger.Info("request completed", fields...)
				}
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}
