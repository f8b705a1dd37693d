package workspaceuser

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/dedupe"
	"github.com/Ramsey-B/fern/pkg/merge"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository reads workspace users
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

// Exists reports whether userID is a user of workspace wsID
func (r *Repository) Exists(ctx context.Context, wsID, userID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "workspaceuser.Repository.Exists")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id")
	sb.From("workspace_users")
	sb.Where(
		sb.Equal("id", userID),
		sb.Equal("ws_id", wsID),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var id string
	if err := r.db.GetContext(ctx, &id, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ws_id": wsID, "user_id": userID}).Error("Failed to look up workspace user")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up workspace user")
	}

	return true, nil
}

type duplicateRow struct {
	ID             string     `db:"id"`
	FullName       *string    `db:"full_name"`
	DisplayName    *string    `db:"display_name"`
	Email          *string    `db:"email"`
	Phone          *string    `db:"phone"`
	AvatarURL      *string    `db:"avatar_url"`
	Birthday       *string    `db:"birthday"`
	Gender         *string    `db:"gender"`
	Ethnicity      *string    `db:"ethnicity"`
	Guardian       *string    `db:"guardian"`
	NationalID     *string    `db:"national_id"`
	Address        *string    `db:"address"`
	Note           *string    `db:"note"`
	CreatedAt      *time.Time `db:"created_at"`
	PlatformUserID *string    `db:"platform_user_id"`
}

func (row duplicateRow) toUser() dedupe.DuplicateUser {
	user := dedupe.DuplicateUser{
		ID:           row.ID,
		FullName:     deref(row.FullName),
		Email:        deref(row.Email),
		Phone:        deref(row.Phone),
		FilledFields: dedupe.CountFilled(row.FullName, row.DisplayName, row.Email, row.Phone, row.AvatarURL, row.Birthday, row.Gender, row.Ethnicity, row.Guardian, row.NationalID, row.Address, row.Note),
	}
	if row.CreatedAt != nil {
		user.CreatedAt = *row.CreatedAt
	}
	if row.PlatformUserID != nil && *row.PlatformUserID != "" {
		user.IsLinked = true
		user.LinkedPlatformUserID = *row.PlatformUserID
	}
	return user
}

// ListForDuplicates returns every user of the workspace that has an email or phone,
// with its platform link, oldest first.
func (r *Repository) ListForDuplicates(ctx context.Context, wsID string) ([]dedupe.DuplicateUser, error) {
	ctx, span := tracing.StartSpan(ctx, "workspaceuser.Repository.ListForDuplicates")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		"u.id", "u.full_name", "u.display_name", "u.email", "u.phone", "u.avatar_url",
		"u.birthday::text AS birthday", "u.gender", "u.ethnicity", "u.guardian", "u.national_id",
		"u.address", "u.note", "u.created_at", "l.platform_user_id::text AS platform_user_id",
	)
	sb.From(sb.As("workspace_users", "u"))
	sb.JoinWithOption(sqlbuilder.LeftJoin, sb.As("workspace_user_linked_users", "l"),
		"l.virtual_user_id = u.id",
		"l.ws_id = u.ws_id",
	)
	sb.Where(
		sb.Equal("u.ws_id", wsID),
		sb.Or(
			sb.IsNotNull("u.email"),
			sb.IsNotNull("u.phone"),
		),
	)
	sb.OrderBy("u.created_at", "u.id")

	query, args := sb.Build()
	var rows []duplicateRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("ws_id", wsID).Error("Failed to list workspace users for duplicate detection")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list workspace users")
	}

	users := make([]dedupe.DuplicateUser, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

type profileRow struct {
	duplicateRow
	Balance *float64 `db:"balance"`
}

func (row profileRow) toProfile() *merge.Profile {
	values := []*string{row.FullName, row.DisplayName, row.Email, row.Phone, row.AvatarURL, row.Birthday, row.Gender, row.Ethnicity, row.Guardian, row.NationalID, row.Address, row.Note}
	fields := make(map[string]*string, len(merge.ProfileFields))
	for i, name := range merge.ProfileFields {
		fields[name] = values[i]
	}
	profile := &merge.Profile{
		ID:      row.ID,
		Fields:  fields,
		Balance: row.Balance,
	}
	if row.PlatformUserID != nil && *row.PlatformUserID != "" {
		profile.PlatformUserID = row.PlatformUserID
	}
	return profile
}

// Profile returns the mergeable columns of one user with its platform link, or nil when the
// user is not in the workspace.
func (r *Repository) Profile(ctx context.Context, wsID, userID string) (*merge.Profile, error) {
	ctx, span := tracing.StartSpan(ctx, "workspaceuser.Repository.Profile")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		"u.id", "u.full_name", "u.display_name", "u.email", "u.phone", "u.avatar_url",
		"u.birthday::text AS birthday", "u.gender", "u.ethnicity", "u.guardian", "u.national_id",
		"u.address", "u.note", "u.created_at", "u.balance::float8 AS balance",
		"l.platform_user_id::text AS platform_user_id",
	)
	sb.From(sb.As("workspace_users", "u"))
	sb.JoinWithOption(sqlbuilder.LeftJoin, sb.As("workspace_user_linked_users", "l"),
		"l.virtual_user_id = u.id",
		"l.ws_id = u.ws_id",
	)
	sb.Where(
		sb.Equal("u.id", userID),
		sb.Equal("u.ws_id", wsID),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var row profileRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ws_id": wsID, "user_id": userID}).Error("Failed to load workspace user profile")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load workspace user")
	}
	return row.toProfile(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
