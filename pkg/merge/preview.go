package merge

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ProfileFields are the nullable workspace_users columns Phase 3 fills from the source, in the
// order the procedure merges them.
var ProfileFields = []string{
	"full_name", "display_name", "email", "phone", "avatar_url", "birthday",
	"gender", "ethnicity", "guardian", "national_id", "address", "note",
}

// Profile is the mergeable state of one workspace user.
type Profile struct {
	ID             string
	Fields         map[string]*string
	Balance        *float64
	PlatformUserID *string
}

// ProfileStore loads a user's profile. It returns nil when the user is not in the workspace.
type ProfileStore interface {
	Profile(ctx context.Context, wsID, userID string) (*Profile, error)
}

// CompositeKeyStore lists the keys a user holds in a composite table, joined with ':'.
type CompositeKeyStore interface {
	CompositeKeys(ctx context.Context, table CompositeTable, userID string) ([]string, error)
}

// PreviewCollision lists the source rows of one table that Phase 2 would delete.
type PreviewCollision struct {
	Table    string   `json:"table"`
	PKColumn string   `json:"pk_column"`
	Keys     []string `json:"keys"`
}

// MergePreview is what a merge of the pair would do to the target, computed without writing.
type MergePreview struct {
	SourceUserID string `json:"sourceUserId"`
	TargetUserID string `json:"targetUserId"`

	Fields             map[string]*string `json:"fields"`
	FieldsFromSource   []string           `json:"fieldsFromSource"`
	Balance            float64            `json:"balance"`
	CustomFieldsMerged int                `json:"customFieldsMerged"`

	LinkTransferred      bool   `json:"linkTransferred"`
	BothLinked           bool   `json:"bothLinked"`
	SourcePlatformUserID string `json:"sourcePlatformUserId,omitempty"`
	TargetPlatformUserID string `json:"targetPlatformUserId,omitempty"`

	Collisions []PreviewCollision `json:"collisions"`
}

// Previewer applies the merge policies to a snapshot of the pair.
type Previewer struct {
	profiles   ProfileStore
	composites CompositeKeyStore
	tables     []CompositeTable
}

func NewPreviewer(profiles ProfileStore, composites CompositeKeyStore, tables []CompositeTable) *Previewer {
	return &Previewer{
		profiles:   profiles,
		composites: composites,
		tables:     tables,
	}
}

// Preview validates body like a merge request and reports what the merge would change.
// Resume coordinates in body are accepted and ignored.
func (s *Service) Preview(ctx context.Context, wsID, callerID string, body []byte) (*MergePreview, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Service.Preview")
	defer span.End()

	if s.previewer == nil {
		return nil, httperror.NewHTTPError(http.StatusNotImplemented, "merge preview is not configured")
	}
	req, err := s.validator.Validate(ctx, wsID, callerID, body)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("merge.source_id", req.SourceID),
		attribute.String("merge.target_id", req.TargetID),
	)
	return s.previewer.Preview(ctx, req)
}

func (p *Previewer) Preview(ctx context.Context, req *ValidatedRequest) (*MergePreview, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Previewer.Preview")
	defer span.End()

	source, err := p.profile(ctx, req.WorkspaceID, req.SourceID, "Source user not found in workspace")
	if err != nil {
		return nil, err
	}
	target, err := p.profile(ctx, req.WorkspaceID, req.TargetID, "Target user not found in workspace")
	if err != nil {
		return nil, err
	}

	preview := &MergePreview{
		SourceUserID:     req.SourceID,
		TargetUserID:     req.TargetID,
		Fields:           make(map[string]*string, len(ProfileFields)),
		FieldsFromSource: []string{},
		Collisions:       []PreviewCollision{},
	}
	for _, field := range ProfileFields {
		t, s := target.Fields[field], source.Fields[field]
		preview.Fields[field] = MergeField(t, s)
		if t == nil && s != nil {
			preview.FieldsFromSource = append(preview.FieldsFromSource, field)
		}
	}
	preview.CustomFieldsMerged = len(preview.FieldsFromSource)
	preview.Balance = MergeBalance(target.Balance, source.Balance)
	if orZero(source.Balance) > orZero(target.Balance) {
		preview.CustomFieldsMerged++
	}

	sourceLinked, targetLinked := source.PlatformUserID != nil, target.PlatformUserID != nil
	members := []LinkedMember{
		{ID: source.ID, IsLinked: sourceLinked, LinkedPlatformUserID: deref(source.PlatformUserID)},
		{ID: target.ID, IsLinked: targetLinked, LinkedPlatformUserID: deref(target.PlatformUserID)},
	}
	preview.BothLinked = HasBothLinkedConflict(members, target.ID)
	preview.LinkTransferred = ShouldTransferLink(sourceLinked, targetLinked)
	preview.SourcePlatformUserID = deref(source.PlatformUserID)
	preview.TargetPlatformUserID = deref(target.PlatformUserID)

	for _, table := range p.tables {
		sourceKeys, err := p.composites.CompositeKeys(ctx, table, req.SourceID)
		if err != nil {
			return nil, err
		}
		targetKeys, err := p.composites.CompositeKeys(ctx, table, req.TargetID)
		if err != nil {
			return nil, err
		}
		if keys := DetectCollisions(sourceKeys, targetKeys); len(keys) > 0 {
			preview.Collisions = append(preview.Collisions, PreviewCollision{
				Table:    table.Table,
				PKColumn: table.PKColumn(),
				Keys:     keys,
			})
		}
	}
	return preview, nil
}

// profile treats a user deleted since validation as not found.
func (p *Previewer) profile(ctx context.Context, wsID, userID, notFound string) (*Profile, error) {
	profile, err := p.profiles.Profile(ctx, wsID, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, &NotFoundError{Message: notFound, UserID: userID}
	}
	return profile, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
