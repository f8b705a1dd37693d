package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePhaseResult(t *testing.T) {
	t.Run("numeric phase", func(t *testing.T) {
		result, err := DecodePhaseResult(2, json.RawMessage(`{"success":true,"phase":2,"migrated_tables":["a.user_id (1 rows)"],"collision_tables":[]}`))

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 2, result.Phase)
		assert.Equal(t, []string{"a.user_id (1 rows)"}, result.MigratedTables)
	})

	t.Run("string phase and optional fields", func(t *testing.T) {
		result, err := DecodePhaseResult(4, json.RawMessage(`{"success":false,"phase":"4","error":"Both users are linked","source_platform_user_id":"p1","target_platform_user_id":"p2"}`))

		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "Both users are linked", result.Error)
		assert.Equal(t, "p1", result.SourcePlatformUserID)
		assert.Equal(t, "p2", result.TargetPlatformUserID)
	})

	t.Run("phase may be omitted", func(t *testing.T) {
		result, err := DecodePhaseResult(5, json.RawMessage(`{"success":true,"source_deleted":true}`))

		require.NoError(t, err)
		assert.Equal(t, 5, result.Phase)
		assert.True(t, result.SourceDeleted)
	})

	invalid := map[string]string{
		"empty":           ``,
		"null":            `null`,
		"not an object":   `[1,2]`,
		"missing success": `{"phase":3}`,
		"success string":  `{"success":"yes"}`,
		"wrong phase":     `{"success":true,"phase":4}`,
		"garbage phase":   `{"success":true,"phase":"three"}`,
	}
	for name, payload := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePhaseResult(3, json.RawMessage(payload))
			assert.Error(t, err)
		})
	}
}

func TestIsStatementTimeout(t *testing.T) {
	assert.True(t, IsStatementTimeout(&pq.Error{Code: "57014"}))
	assert.True(t, IsStatementTimeout(fmt.Errorf("call: %w", &pq.Error{Code: "57014"})))
	assert.True(t, IsStatementTimeout(context.DeadlineExceeded))
	assert.False(t, IsStatementTimeout(&pq.Error{Code: "23505"}))
	assert.False(t, IsStatementTimeout(errors.New("boom")))
}

func TestPhaseRunner_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("runs every phase in order", func(t *testing.T) {
		procs := newFakeProcedures()
		runner := NewPhaseRunner(DefaultPhases(), procs, getTestLogger())

		results, err := runner.Run(ctx, FirstProcedurePhase, testWorkspaceID, testSourceID, testTargetID)

		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.Equal(t, []string{
			"merge_workspace_users_phase2",
			"merge_workspace_users_phase3",
			"merge_workspace_users_phase4",
			"merge_workspace_users_phase5",
		}, procs.calls)
		assert.Equal(t, 4, results[1].CustomFieldsMerged)
	})

	t.Run("starts at the requested phase", func(t *testing.T) {
		procs := newFakeProcedures()
		runner := NewPhaseRunner(DefaultPhases(), procs, getTestLogger())

		results, err := runner.Run(ctx, 4, testWorkspaceID, testSourceID, testTargetID)

		require.NoError(t, err)
		assert.Len(t, results, 2)
		assert.Equal(t, []string{"merge_workspace_users_phase4", "merge_workspace_users_phase5"}, procs.calls)
	})

	t.Run("timeout halts with resume phase", func(t *testing.T) {
		procs := newFakeProcedures()
		procs.errs["merge_workspace_users_phase3"] = &pq.Error{Code: "57014", Message: "canceling statement due to statement timeout"}
		runner := NewPhaseRunner(DefaultPhases(), procs, getTestLogger())

		results, err := runner.Run(ctx, 2, testWorkspaceID, testSourceID, testTargetID)

		var timeoutErr *PhaseTimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, 3, timeoutErr.Phase)
		assert.Equal(t, "Phase 3 timed out.", err.Error())
		assert.Equal(t, 408, StatusCode(err))
		assert.Len(t, results, 1)
		assert.Len(t, procs.calls, 2, "later phases are not called")
	})

	t.Run("database error is a 500 failure", func(t *testing.T) {
		procs := newFakeProcedures()
		procs.errs["merge_workspace_users_phase2"] = errors.New("relation does not exist")
		runner := NewPhaseRunner(DefaultPhases(), procs, getTestLogger())

		results, err := runner.Run(ctx, 2, testWorkspaceID, testSourceID, testTargetID)

		var phaseErr *PhaseFailureError
		require.ErrorAs(t, err, &phaseErr)
		assert.Equal(t, "Error in phase 2", err.Error())
		assert.Equal(t, 500, StatusCode(err))
		assert.True(t, Retryable(err))
		assert.Empty(t, results)
	})

	t.Run("reported failure is a 400 with the payload", func(t *testing.T) {
		procs := newFakeProcedures()
		procs.payloads["merge_workspace_users_phase4"] = `{"success":false,"phase":4,"error":"Both users are linked to different platform accounts","source_platform_user_id":"p1","target_platform_user_id":"p2"}`
		runner := NewPhaseRunner(DefaultPhases(), procs, getTestLogger())

		results, err := runner.Run(ctx, 2, testWorkspaceID, testSourceID, testTargetID)

		var phaseErr *PhaseFailureError
		require.ErrorAs(t, err, &phaseErr)
		assert.Equal(t, 400, StatusCode(err))
		assert.True(t, phaseErr.BothLinked())
		assert.False(t, Retryable(err))
		require.Len(t, results, 3)
		assert.False(t, results[2].Success)
		assert.NotContains(t, procs.calls, "merge_workspace_users_phase5")
	})

	t.Run("malformed payload", func(t *testing.T) {
		procs := newFakeProcedures()
		procs.payloads["merge_workspace_users_phase5"] = `{"phase":5}`
		runner := NewPhaseRunner(DefaultPhases(), procs, getTestLogger())

		_, err := runner.Run(ctx, 5, testWorkspaceID, testSourceID, testTargetID)

		var phaseErr *PhaseFailureError
		require.ErrorAs(t, err, &phaseErr)
		assert.Equal(t, 5, phaseErr.Phase)
		assert.Equal(t, 500, StatusCode(err))
	})
}
