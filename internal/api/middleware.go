package api

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/HJ8A/proyecto-asistencia/internal/observability"
)

// RequestIDHeader carries the correlation id between the dashboard, the API
// and the kiosk control calls.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// quietPaths are polled by orchestrators and scrapers; they log at debug.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// RequestID returns the id assigned to the request by LoggingMiddleware.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// LoggingMiddleware tags each request with an id, logs it once finished and
// records its latency by route template.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		attrs := []any{
			"request_id", id,
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", duration.String(),
			"ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		slog.Log(context.Background(), requestLevel(c.Request.URL.Path, status), "request", attrs...)

		observability.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(status),
		).Observe(duration.Seconds())
	}
}

func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case quietPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
