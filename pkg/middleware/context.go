package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
)

const (
	// HeaderUserID carries the caller identity when token authentication is disabled
	HeaderUserID = "X-User-ID"
)

// Context copies request metadata into the request context. With trustHeaders set the caller
// identity is taken from the X-User-ID header; otherwise the Authentication middleware sets it.
func Context(trustHeaders bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			if trustHeaders {
				ctx = context.SetUserID(ctx, req.Header.Get(HeaderUserID))
			}

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
