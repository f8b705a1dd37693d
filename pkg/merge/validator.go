package merge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	PermissionDeleteUsers = "delete_users"
	PermissionUpdateUsers = "update_users"
)

// MembershipStore answers workspace membership and permission questions for the caller.
type MembershipStore interface {
	IsMember(ctx context.Context, wsID, userID string) (bool, error)
	Permissions(ctx context.Context, wsID, userID string) ([]string, error)
}

// UserStore looks up workspace users.
type UserStore interface {
	Exists(ctx context.Context, wsID, userID string) (bool, error)
}

// Validator checks every pre-condition of a merge before any row is touched.
type Validator struct {
	members  MembershipStore
	users    UserStore
	validate *validator.Validate
	logger   ectologger.Logger
}

func NewValidator(members MembershipStore, users UserStore, logger ectologger.Logger) *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		members:  members,
		users:    users,
		validate: validate,
		logger:   logger,
	}
}

// Validate runs the checks in order: caller identity, membership, permissions, body schema,
// self-merge and finally the existence of both users in the workspace.
func (v *Validator) Validate(ctx context.Context, wsID, callerID string, body []byte) (*ValidatedRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Validator.Validate")
	defer span.End()

	if callerID == "" {
		return nil, &UnauthenticatedError{}
	}

	if err := v.authorize(ctx, wsID, callerID); err != nil {
		return nil, err
	}

	req, err := v.Parse(body)
	if err != nil {
		return nil, err
	}

	if req.SourceID == req.TargetID {
		return nil, &SelfMergeError{UserID: req.SourceID}
	}

	if err := v.ensureUser(ctx, wsID, req.SourceID, "source user", "Source user not found in workspace"); err != nil {
		return nil, err
	}
	if err := v.ensureUser(ctx, wsID, req.TargetID, "target user", "Target user not found in workspace"); err != nil {
		return nil, err
	}

	validated := &ValidatedRequest{
		WorkspaceID: wsID,
		CallerID:    callerID,
		SourceID:    req.SourceID,
		TargetID:    req.TargetID,
		Resume:      req.Resume,
	}
	if req.StartTableIndex != nil {
		validated.StartTableIndex = *req.StartTableIndex
		validated.Explicit = true
	}
	if req.StartPhase != nil {
		validated.StartPhase = *req.StartPhase
		validated.Explicit = true
	}

	return validated, nil
}

// Parse decodes and schema-checks a request body. It performs no I/O.
func (v *Validator) Parse(body []byte) (*MergeRequest, error) {
	var req MergeRequest
	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&req); err != nil {
		return nil, &ValidationError{Issues: []ValidationIssue{decodeIssue(err)}}
	}
	// ids are stored lowercase and the uuid rule only accepts lowercase hex
	req.SourceID = strings.ToLower(req.SourceID)
	req.TargetID = strings.ToLower(req.TargetID)

	if err := v.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			issues := make([]ValidationIssue, 0, len(verrs))
			for _, fe := range verrs {
				issues = append(issues, ValidationIssue{
					Field:   fe.Field(),
					Rule:    fe.Tag(),
					Message: issueMessage(fe),
				})
			}
			return nil, &ValidationError{Issues: issues}
		}
		return nil, &ValidationError{Issues: []ValidationIssue{{Message: err.Error()}}}
	}

	return &req, nil
}

func (v *Validator) authorize(ctx context.Context, wsID, callerID string) error {
	member, err := v.members.IsMember(ctx, wsID, callerID)
	if err != nil {
		v.logger.WithContext(ctx).WithError(err).Error("Failed to check workspace membership")
		return &LookupError{Subject: "workspace membership", Err: err}
	}
	if !member {
		return &PermissionError{Message: "Not a member of this workspace"}
	}

	permissions, err := v.members.Permissions(ctx, wsID, callerID)
	if err != nil {
		v.logger.WithContext(ctx).WithError(err).Error("Failed to load workspace permissions")
		return &LookupError{Subject: "workspace permissions", Err: err}
	}
	granted := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		granted[p] = true
	}
	if !granted[PermissionDeleteUsers] || !granted[PermissionUpdateUsers] {
		return &PermissionError{Message: "Insufficient permissions to merge users"}
	}

	return nil
}

func (v *Validator) ensureUser(ctx context.Context, wsID, userID, subject, notFound string) error {
	exists, err := v.users.Exists(ctx, wsID, userID)
	if err != nil {
		v.logger.WithContext(ctx).WithError(err).WithField("user_id", userID).Errorf("Failed to validate %s", subject)
		return &LookupError{Subject: subject, Err: err}
	}
	if !exists {
		return &NotFoundError{Message: notFound, UserID: userID}
	}
	return nil
}

func decodeIssue(err error) ValidationIssue {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return ValidationIssue{
			Field:   typeErr.Field,
			Rule:    "type",
			Message: fmt.Sprintf("expected %s, got %s", typeErr.Type.String(), typeErr.Value),
		}
	}
	return ValidationIssue{Rule: "json", Message: err.Error()}
}

func issueMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
