package permission

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/merge"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository answers workspace membership and permission questions
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// IsMember reports whether userID belongs to workspace wsID
func (r *Repository) IsMember(ctx context.Context, wsID, userID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "permission.Repository.IsMember")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("user_id")
	sb.From("workspace_members")
	sb.Where(
		sb.Equal("ws_id", wsID),
		sb.Equal("user_id", userID),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var id string
	if err := r.db.GetContext(ctx, &id, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ws_id": wsID, "user_id": userID}).Error("Failed to check workspace membership")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check workspace membership")
	}
	return true, nil
}

// Permissions returns the enabled permissions of userID in wsID: role permissions plus the
// workspace defaults. The workspace creator holds every user-management permission.
func (r *Repository) Permissions(ctx context.Context, wsID, userID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "permission.Repository.Permissions")
	defer span.End()

	creator, err := r.isCreator(ctx, wsID, userID)
	if err != nil {
		return nil, err
	}

	roles := sqlbuilder.PostgreSQL.NewSelectBuilder()
	roles.Select("p.permission::text")
	roles.From(roles.As("workspace_role_members", "m"))
	roles.Join(roles.As("workspace_role_permissions", "p"), "p.role_id = m.role_id")
	roles.Where(
		roles.Equal("m.user_id", userID),
		roles.Equal("p.ws_id", wsID),
		"p.enabled = true",
	)

	defaults := sqlbuilder.PostgreSQL.NewSelectBuilder()
	defaults.Select("permission::text")
	defaults.From("workspace_default_permissions")
	defaults.Where(
		defaults.Equal("ws_id", wsID),
		"enabled = true",
	)

	ub := sqlbuilder.PostgreSQL.NewUnionBuilder()
	ub.Union(roles, defaults)

	query, args := ub.Build()
	var permissions []string
	if err := r.db.SelectContext(ctx, &permissions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ws_id": wsID, "user_id": userID}).Error("Failed to load workspace permissions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load workspace permissions")
	}

	if creator {
		permissions = append(permissions, merge.PermissionDeleteUsers, merge.PermissionUpdateUsers)
	}
	return permissions, nil
}

func (r *Repository) isCreator(ctx context.Context, wsID, userID string) (bool, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("creator_id::text")
	sb.From("workspaces")
	sb.Where(sb.Equal("id", wsID))

	query, args := sb.Build()
	var creatorID *string
	if err := r.db.GetContext(ctx, &creatorID, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("ws_id", wsID).Error("Failed to load workspace creator")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load workspace")
	}
	return creatorID != nil && *creatorID == userID, nil
}
