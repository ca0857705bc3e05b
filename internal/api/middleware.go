package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"

	"quote-dashboard/internal/logger"
)

const (
	HeaderRequestID = "X-Request-ID"
	ctxKeyRequestID = "request_id"
)

// RequestID keeps an incoming X-Request-ID or assigns a new one, and echoes it.
func RequestID() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		id := string(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next(ctx)
	}
}

func AccessLog(log *logger.Log) app.HandlerFunc {
	entry := log.WithComponent("api")
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		entry.WithFields(logger.Fields{
			"request_id": c.GetString(ctxKeyRequestID),
			"method":     string(c.Method()),
			"path":       string(c.Path()),
			"status":     c.Response.StatusCode(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Info("request")
	}
}

// CORS allows any origin; preflight requests end here.
func CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+HeaderRequestID)
		c.Header("Access-Control-Expose-Headers", HeaderRequestID)
		if string(c.Method()) == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}
