package middleware

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Logger writes one entry per request once the error handler has set the status.
// Merge routes also log the workspace they ran against. Server errors log at error level.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			ctx := req.Context()
			fields := map[string]any{
				"request_id":  context.GetRequestID(ctx),
				"trace_id":    tracing.GetTraceID(ctx),
				"span_id":     tracing.GetSpanID(ctx),
				"user_id":     context.GetUserID(ctx),
				"method":      req.Method,
				"route":       c.Path(),
				"uri":         req.RequestURI,
				"status":      res.Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes_out":   res.Size,
				"remote_ip":   c.RealIP(),
			}
			if ws := context.GetWorkspaceID(ctx); ws != "" {
				fields["workspace_id"] = ws
			}

			entry := logger.WithContext(ctx).WithFields(fields)
			if res.Status >= 500 {
				entry.Error("Request failed")
				return nil
			}
			entry.Info("Request")
			return nil
		}
	}
}
