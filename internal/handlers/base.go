package handlers

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/fern/pkg/context"
)

// ParseUUID parses a UUID from a path parameter
func ParseUUID(c echo.Context, param string) (uuid.UUID, error) {
	idStr := c.Param(param)
	if idStr == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a valid UUID", param)
	}

	return id, nil
}

// GetCallerID returns the authenticated caller, or "" when there is none
func GetCallerID(c echo.Context) string {
	return appctx.GetUserID(c.Request().Context())
}

// withWorkspace stores the workspace id in the request context for logging
func withWorkspace(c echo.Context, wsID string) {
	ctx := appctx.SetWorkspaceID(c.Request().Context(), wsID)
	c.SetRequest(c.Request().WithContext(ctx))
}

// MessageResponse is the body of a failed request that carries no partial result
type MessageResponse struct {
	Message string `json:"message"`
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}
