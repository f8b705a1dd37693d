package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/merge"
)

// MergeService runs and previews merges and reads their persisted runs
type MergeService interface {
	Merge(ctx context.Context, wsID, callerID string, body []byte) (*merge.PhasedMergeResult, error)
	Preview(ctx context.Context, wsID, callerID string, body []byte) (*merge.MergePreview, error)
	Run(ctx context.Context, wsID, runID string) (*merge.Run, error)
}

// ValidationErrorResponse is returned for malformed merge requests
type ValidationErrorResponse struct {
	Message string                  `json:"message"`
	Errors  []merge.ValidationIssue `json:"errors"`
}

// MergeHandler handles workspace user merge requests
type MergeHandler struct {
	service MergeService
	logger  ectologger.Logger
}

func NewMergeHandler(service MergeService, logger ectologger.Logger) *MergeHandler {
	return &MergeHandler{
		service: service,
		logger:  logger,
	}
}

// Register registers merge routes on a /api/v1/workspaces group
func (h *MergeHandler) Register(g *echo.Group) {
	g.POST("/:wsId/users/merge", h.Merge)
	g.POST("/:wsId/users/merge/preview", h.Preview)
	g.GET("/:wsId/users/merge/runs/:runId", h.GetRun)
}

// Merge merges the source user into the target user
// POST /api/v1/workspaces/:wsId/users/merge
func (h *MergeHandler) Merge(c echo.Context) error {
	wsID, err := ParseUUID(c, "wsId")
	if err != nil {
		return err
	}
	withWorkspace(c, wsID.String())
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return BadRequest("failed to read request body")
	}

	result, err := h.service.Merge(ctx, wsID.String(), GetCallerID(c), body)
	if result != nil {
		status := http.StatusOK
		if err != nil {
			status = merge.StatusCode(err)
		}
		return c.JSON(status, result)
	}
	if err != nil {
		return h.renderError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Preview reports what merging the source into the target would change, without writing
// POST /api/v1/workspaces/:wsId/users/merge/preview
func (h *MergeHandler) Preview(c echo.Context) error {
	wsID, err := ParseUUID(c, "wsId")
	if err != nil {
		return err
	}
	withWorkspace(c, wsID.String())

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return BadRequest("failed to read request body")
	}

	preview, err := h.service.Preview(c.Request().Context(), wsID.String(), GetCallerID(c), body)
	if err != nil {
		return h.renderError(c, err)
	}
	return SuccessResponse(c, preview)
}

// GetRun returns a persisted merge run
// GET /api/v1/workspaces/:wsId/users/merge/runs/:runId
func (h *MergeHandler) GetRun(c echo.Context) error {
	wsID, err := ParseUUID(c, "wsId")
	if err != nil {
		return err
	}
	runID, err := ParseUUID(c, "runId")
	if err != nil {
		return err
	}
	withWorkspace(c, wsID.String())

	run, err := h.service.Run(c.Request().Context(), wsID.String(), runID.String())
	if err != nil {
		return err
	}
	return SuccessResponse(c, run)
}

// renderError writes pre-condition failures as {message} or {message, errors}. Anything
// without a merge status falls through to the error middleware.
func (h *MergeHandler) renderError(c echo.Context, err error) error {
	var validationErr *merge.ValidationError
	if errors.As(err, &validationErr) {
		return c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Message: validationErr.Error(),
			Errors:  validationErr.Issues,
		})
	}

	var pipelineErr interface{ StatusCode() int }
	if httperror.IsHTTPError(err) || !errors.As(err, &pipelineErr) {
		return err
	}
	status := pipelineErr.StatusCode()
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(c.Request().Context()).WithError(err).Error("Merge request failed")
	}
	return c.JSON(status, MessageResponse{Message: err.Error()})
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
