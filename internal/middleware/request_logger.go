package middleware

import (
	"strconv"
	"time"

	"farmstore/internal/logging"
	"farmstore/internal/metrics"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger attaches a request-scoped zap logger to the request context and records
// one log line plus HTTP metrics per request.
func RequestLogger(logger *zap.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			rid := req.Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Set(CtxRequestIDKey, rid)
			c.Response().Header().Set(RequestIDHeader, rid)

			reqLogger := logger.With(zap.String("request_id", rid))
			c.SetRequest(req.WithContext(logging.WithContext(req.Context(), reqLogger)))

			err := next(c)
			if err != nil {
				//echoのエラーハンドラでレスポンスを書かせる
				c.Error(err)
			}

			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)

			if m != nil {
				m.HTTPRequests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
				m.HTTPLatency.WithLabelValues(req.Method, route).Observe(elapsed.Seconds())
			}

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("latency", elapsed),
			}
			switch {
			case status >= 500:
				reqLogger.Error("request", fields...)
			case status >= 400:
				reqLogger.Warn("request", fields...)
			default:
				reqLogger.Info("request", fields...)
			}
			return nil
		}
	}
}
