package logger

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig holds logger configuration
type LogConfig struct {
	Level       string
	Environment string
	ServiceName string
}

// New builds a JSON production logger when Environment is "production" and a
// console logger otherwise.
func New(cfg LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	fields := zap.Fields(
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
	)
	if cfg.Environment == "production" {
		prod := zap.NewProductionConfig()
		prod.Level = zap.NewAtomicLevelAt(level)
		prod.EncoderConfig.TimeKey = "timestamp"
		prod.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return prod.Build(fields)
	}
	dev := zap.NewDevelopmentConfig()
	dev.Level = zap.NewAtomicLevelAt(level)
	dev.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return dev.Build(fields)
}

// Middleware stores a request-scoped logger in the request context and logs
// one line per request. It must run after chi's RequestID middleware.
func Middleware(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(WithContext(r.Context(), reqLog)))

			reqLog.Info("HTTP Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
			)
		})
	}
}
