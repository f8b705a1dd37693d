package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/pkg/middleware"
)

const (
	testWorkspaceID = "5b0c7c38-41a3-4a49-a0a9-93f5a1d7f3b2"
	testCallerID    = "c0ffee00-0000-4000-8000-000000000001"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func initApp(register func(g *echo.Group)) *echo.Echo {
	logger := getTestLogger()
	app := echo.New()
	app.HTTPErrorHandler = middleware.Error(logger)
	app.Use(middleware.Context(true))
	register(app.Group("/api/v1/workspaces"))
	return app
}

func newRequest(method, path, callerID string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if callerID != "" {
		req.Header.Set(middleware.HeaderUserID, callerID)
	}
	return req, httptest.NewRecorder()
}
