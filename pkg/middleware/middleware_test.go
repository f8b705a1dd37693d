package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/fern/pkg/context"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeVerifier struct {
	claims *UserClaims
	err    error
}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (*UserClaims, error) {
	return f.claims, f.err
}

func newApp(handler echo.HandlerFunc, mw ...echo.MiddlewareFunc) *echo.Echo {
	logger := getTestLogger()
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(mw...)
	e.Use(Logger(logger))
	e.GET("/test", handler)
	return e
}

func do(e *echo.Echo, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func echoCaller(c echo.Context) error {
	ctx := c.Request().Context()
	return c.JSON(http.StatusOK, map[string]string{
		"user_id":    appctx.GetUserID(ctx),
		"request_id": appctx.GetRequestID(ctx),
	})
}

func TestContext(t *testing.T) {
	t.Run("trusted header sets the caller", func(t *testing.T) {
		e := newApp(echoCaller, Context(true))

		rec := do(e, map[string]string{HeaderUserID: "user-1", echo.HeaderXRequestID: "req-1"})

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "user-1", body["user_id"])
		assert.Equal(t, "req-1", body["request_id"])
		assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("header is ignored when not trusted", func(t *testing.T) {
		e := newApp(echoCaller, Context(false))

		rec := do(e, map[string]string{HeaderUserID: "user-1"})

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Empty(t, body["user_id"])
		assert.NotEmpty(t, body["request_id"], "a request id is generated")
	})
}

func TestAuthentication(t *testing.T) {
	t.Run("valid token sets the subject", func(t *testing.T) {
		verifier := &fakeVerifier{claims: &UserClaims{Sub: "user-9", Email: "u@example.com"}}
		e := newApp(echoCaller, Context(false), Authentication(getTestLogger(), verifier))

		rec := do(e, map[string]string{echo.HeaderAuthorization: "Bearer abc"})

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "user-9", body["user_id"])
	})

	t.Run("missing bearer", func(t *testing.T) {
		e := newApp(echoCaller, Context(false), Authentication(getTestLogger(), &fakeVerifier{}))

		rec := do(e, nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		e := newApp(echoCaller, Context(false), Authentication(getTestLogger(), &fakeVerifier{err: errors.New("expired")}))

		rec := do(e, map[string]string{echo.HeaderAuthorization: "Bearer abc"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "invalid token", body.Message)
	})

	t.Run("token without subject", func(t *testing.T) {
		e := newApp(echoCaller, Context(false), Authentication(getTestLogger(), &fakeVerifier{claims: &UserClaims{}}))

		rec := do(e, map[string]string{echo.HeaderAuthorization: "Bearer abc"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"http error", httperror.NewHTTPError(http.StatusNotFound, "merge run not found"), http.StatusNotFound, "merge run not found"},
		{"echo error", echo.NewHTTPError(http.StatusBadRequest, "bad input"), http.StatusBadRequest, "bad input"},
		{"plain error", errors.New("pq: connection reset"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newApp(func(c echo.Context) error { return tt.err }, Context(true))

			rec := do(e, map[string]string{echo.HeaderXRequestID: "req-7"})

			assert.Equal(t, tt.code, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Message, tt.message)
			assert.Equal(t, "req-7", body.RequestID)
		})
	}
}
