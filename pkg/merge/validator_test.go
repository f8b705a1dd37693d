package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func body(source, target string, extra ...string) []byte {
	s := fmt.Sprintf(`{"sourceId":%q,"targetId":%q`, source, target)
	for _, e := range extra {
		s += "," + e
	}
	return []byte(s + "}")
}

func TestValidator_Validate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid request", func(t *testing.T) {
		v := NewValidator(allowedMembers(), bothUsers(), getTestLogger())

		req, err := v.Validate(ctx, testWorkspaceID, testCallerID, body(testSourceID, testTargetID))

		require.NoError(t, err)
		assert.Equal(t, testWorkspaceID, req.WorkspaceID)
		assert.Equal(t, testCallerID, req.CallerID)
		assert.Equal(t, testSourceID, req.SourceID)
		assert.Equal(t, testTargetID, req.TargetID)
		assert.False(t, req.Explicit)
		assert.Zero(t, req.StartTableIndex)
		assert.Zero(t, req.StartPhase)
	})

	t.Run("resume coordinates are explicit", func(t *testing.T) {
		v := NewValidator(allowedMembers(), bothUsers(), getTestLogger())

		req, err := v.Validate(ctx, testWorkspaceID, testCallerID, body(testSourceID, testTargetID, `"startTableIndex":12`, `"startPhase":4`))

		require.NoError(t, err)
		assert.True(t, req.Explicit)
		assert.Equal(t, 12, req.StartTableIndex)
		assert.Equal(t, 4, req.StartPhase)
	})

	t.Run("resume flag is carried without coordinates", func(t *testing.T) {
		v := NewValidator(allowedMembers(), bothUsers(), getTestLogger())

		req, err := v.Validate(ctx, testWorkspaceID, testCallerID, body(testSourceID, testTargetID, `"resume":true`))

		require.NoError(t, err)
		assert.True(t, req.Resume)
		assert.False(t, req.Explicit)
	})

	t.Run("uppercase ids are accepted and lowercased", func(t *testing.T) {
		v := NewValidator(allowedMembers(), bothUsers(), getTestLogger())

		req, err := v.Validate(ctx, testWorkspaceID, testCallerID, body(strings.ToUpper(testSourceID), strings.ToUpper(testTargetID)))

		require.NoError(t, err)
		assert.Equal(t, testSourceID, req.SourceID)
		assert.Equal(t, testTargetID, req.TargetID)
	})

	t.Run("self merge is detected across letter case", func(t *testing.T) {
		v := NewValidator(allowedMembers(), bothUsers(), getTestLogger())

		_, err := v.Validate(ctx, testWorkspaceID, testCallerID, body(testSourceID, strings.ToUpper(testSourceID)))

		var target *SelfMergeError
		assert.ErrorAs(t, err, &target)
	})

	t.Run("missing caller", func(t *testing.T) {
		v := NewValidator(allowedMembers(), bothUsers(), getTestLogger())

		_, err := v.Validate(ctx, testWorkspaceID, "", body(testSourceID, testTargetID))

		var target *UnauthenticatedError
		assert.ErrorAs(t, err, &target)
		assert.Equal(t, 401, StatusCode(err))
	})

	t.Run("non member is rejected before the body is read", func(t *testing.T) {
		v := NewValidator(&fakeMembers{}, bothUsers(), getTestLogger())

		_, err := v.Validate(ctx, testWorkspaceID, testCallerID, []byte(`not json`))

		var target *PermissionError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, 403, StatusCode(err))
	})

	t.Run("both permissions are required", func(t *testing.T) {
		for _, perms := range [][]string{{PermissionDeleteUsers}, {PermissionUpdateUsers}, nil} {
			v := NewValidator(&fakeMembers{member: true, permissions: perms}, bothUsers(), getTestLogger())

			_, err := v.Validate(ctx, testWorkspaceID, testCallerID, body(testSourceID, testTargetID))

			var target *PermissionError
			assert.ErrorAs(t, err, &target)
		}
	})

	t.Run("membership lookup failure is a 500", func(t *testing.T) {
		v := NewValidator(&fakeMembers{memberErr: errors.New("db down")}, bothUsers(), getTestLogger())

		_, err := v.Validate(ctx, testWorkspaceID, testCallerID, body(testSourceID, testTargetID))

		var target *LookupError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, 500, StatusCode(err))
	})

	t.Run("self merge", func(t *testing.T) {
		v := NewValidator(allowedMembers(), bothUsers(), getTestLogger())

		_, err := v.Validate(ctx, testWorkspaceID, testCallerID, body(testSourceID, testSourceID))

		var target *SelfMergeError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, "Cannot merge user with itself", err.Error())
	})

	t.Run("source checked before target", func(t *testing.T) {
		v := NewValidator(allowedMembers(), &fakeUsers{existing: map[string]bool{}}, getTestLogger())

		_, err := v.Validate(ctx, testWorkspaceID, testCallerID, body(testSourceID, testTargetID))

		var target *NotFoundError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, testSourceID, target.UserID)
		assert.Equal(t, "Source user not found in workspace", target.Error())
	})

	t.Run("missing target", func(t *testing.T) {
		v := NewValidator(allowedMembers(), &fakeUsers{existing: map[string]bool{testSourceID: true}}, getTestLogger())

		_, err := v.Validate(ctx, testWorkspaceID, testCallerID, body(testSourceID, testTargetID))

		var target *NotFoundError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, testTargetID, target.UserID)
		assert.Equal(t, 404, StatusCode(err))
	})

	t.Run("user lookup failure", func(t *testing.T) {
		v := NewValidator(allowedMembers(), &fakeUsers{err: errors.New("timeout")}, getTestLogger())

		_, err := v.Validate(ctx, testWorkspaceID, testCallerID, body(testSourceID, testTargetID))

		assert.Equal(t, "Error validating source user", err.Error())
		assert.Equal(t, 500, StatusCode(err))
	})
}

func TestValidator_Parse(t *testing.T) {
	v := NewValidator(allowedMembers(), bothUsers(), getTestLogger())

	tests := []struct {
		name  string
		body  string
		field string
		rule  string
	}{
		{"missing source", fmt.Sprintf(`{"targetId":%q}`, testTargetID), "sourceId", "required"},
		{"invalid target", fmt.Sprintf(`{"sourceId":%q,"targetId":"abc"}`, testSourceID), "targetId", "uuid"},
		{"negative table index", string(body(testSourceID, testTargetID, `"startTableIndex":-1`)), "startTableIndex", "min"},
		{"phase one is not resumable", string(body(testSourceID, testTargetID, `"startPhase":1`)), "startPhase", "min"},
		{"phase past the last", string(body(testSourceID, testTargetID, `"startPhase":6`)), "startPhase", "max"},
		{"wrong type", fmt.Sprintf(`{"sourceId":%q,"targetId":%q,"startPhase":"3"}`, testSourceID, testTargetID), "startPhase", "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Parse([]byte(tt.body))

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Issues)
			assert.Equal(t, tt.field, verr.Issues[0].Field)
			assert.Equal(t, tt.rule, verr.Issues[0].Rule)
			assert.Equal(t, 400, StatusCode(err))
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		_, err := v.Parse([]byte(`{`))

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "json", verr.Issues[0].Rule)
	})
}
