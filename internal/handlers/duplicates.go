package handlers

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/dedupe"
)

// DuplicateUserStore lists the users considered for duplicate detection
type DuplicateUserStore interface {
	ListForDuplicates(ctx context.Context, wsID string) ([]dedupe.DuplicateUser, error)
}

// MembershipChecker checks that the caller belongs to the workspace
type MembershipChecker interface {
	IsMember(ctx context.Context, wsID, userID string) (bool, error)
}

// DuplicatesResponse lists duplicate clusters and the merges a strategy would run
type DuplicatesResponse struct {
	Clusters  []dedupe.DuplicateCluster `json:"clusters"`
	Total     int                       `json:"total"`
	Strategy  dedupe.Strategy           `json:"strategy"`
	Pairs     []dedupe.MergePair        `json:"pairs"`
	Conflicts []dedupe.DuplicateCluster `json:"conflicts"`
}

// DuplicatesHandler handles duplicate detection requests
type DuplicatesHandler struct {
	users   DuplicateUserStore
	members MembershipChecker
	logger  ectologger.Logger
}

func NewDuplicatesHandler(users DuplicateUserStore, members MembershipChecker, logger ectologger.Logger) *DuplicatesHandler {
	return &DuplicatesHandler{
		users:   users,
		members: members,
		logger:  logger,
	}
}

// Register registers duplicate routes on a /api/v1/workspaces group
func (h *DuplicatesHandler) Register(g *echo.Group) {
	g.GET("/:wsId/users/duplicates", h.List)
}

// List returns duplicate clusters, linked clusters first
// GET /api/v1/workspaces/:wsId/users/duplicates?strategy=oldest
func (h *DuplicatesHandler) List(c echo.Context) error {
	wsID, err := ParseUUID(c, "wsId")
	if err != nil {
		return err
	}
	withWorkspace(c, wsID.String())
	ctx := c.Request().Context()

	strategy, err := dedupe.ParseStrategy(c.QueryParam("strategy"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	callerID := GetCallerID(c)
	if callerID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}

	isMember, err := h.members.IsMember(ctx, wsID.String(), callerID)
	if err != nil {
		return err
	}
	if !isMember {
		return httperror.NewHTTPError(http.StatusForbidden, "You are not a member of this workspace")
	}

	users, err := h.users.ListForDuplicates(ctx, wsID.String())
	if err != nil {
		return err
	}

	clusters := dedupe.SortClusters(dedupe.FindClusters(users))
	pairs, conflicts := dedupe.ExpandPairs(clusters, strategy)
	if clusters == nil {
		clusters = []dedupe.DuplicateCluster{}
	}
	if pairs == nil {
		pairs = []dedupe.MergePair{}
	}
	if conflicts == nil {
		conflicts = []dedupe.DuplicateCluster{}
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"clusters":  len(clusters),
		"pairs":     len(pairs),
		"conflicts": len(conflicts),
	}).Debug("Found duplicate workspace users")

	return SuccessResponse(c, DuplicatesResponse{
		Clusters:  clusters,
		Total:     len(clusters),
		Strategy:  strategy,
		Pairs:     pairs,
		Conflicts: conflicts,
	})
}
