package merge

import (
	"errors"
	"fmt"
)

const linkTransferredEntry = "workspace_user_linked_users (link transferred)"

// Outcome is everything a run produced, in the order it was produced.
type Outcome struct {
	SourceID   string
	TargetID   string
	TotalPairs int
	// SkippedPhase1 is set when the run resumed directly at a stored-procedure phase.
	SkippedPhase1 bool
	Migrations    []MigrateResult
	Phases        []PhaseResult
	// Failure is the error that halted the run, nil when every phase completed.
	Failure error
}

// Aggregate folds an Outcome into the response payload. It performs no I/O and returns the
// same result for the same input.
func Aggregate(o Outcome) *PhasedMergeResult {
	res := &PhasedMergeResult{
		SourceUserID:     o.SourceID,
		TargetUserID:     o.TargetID,
		MigratedTables:   []string{},
		CollisionTables:  []string{},
		CollisionDetails: []CollisionDetail{},
		PhaseResults:     []PhaseResult{},
	}

	for _, m := range o.Migrations {
		if m.Error != "" {
			continue
		}
		res.TotalRowsUpdated += m.TotalRowsUpdated
		if m.TotalRowsUpdated > 0 {
			res.MigratedTables = append(res.MigratedTables, fmt.Sprintf("%s.%s (%d rows)", m.Table, m.Column, m.TotalRowsUpdated))
		}
	}

	var tableErr *TableMigrationError
	if errors.As(o.Failure, &tableErr) {
		// batches of the failed pair that ran before the error stay committed
		res.TotalRowsUpdated += tableErr.RowsUpdated
		res.Message = tableErr.Error()
		res.Error = errorText(tableErr.Err)
		res.Partial = true
		res.CompletedTableIndex = intPtr(tableErr.Index - 1)
		res.NextTableIndex = intPtr(tableErr.Index)
		res.CurrentTable = tableErr.Table
		res.CurrentColumn = tableErr.Column
		return res
	}

	if !o.SkippedPhase1 {
		migrated := make([]string, len(res.MigratedTables))
		copy(migrated, res.MigratedTables)
		res.PhaseResults = append(res.PhaseResults, PhaseResult{
			Success:        true,
			Phase:          1,
			MigratedCount:  intPtr(res.TotalRowsUpdated),
			MigratedTables: migrated,
			Message:        fmt.Sprintf("Completed %d table/column updates", o.TotalPairs),
		})
	}

	for _, p := range o.Phases {
		res.PhaseResults = append(res.PhaseResults, p)
		if !p.Success {
			continue
		}
		res.MigratedTables = append(res.MigratedTables, p.MigratedTables...)
		res.CollisionTables = append(res.CollisionTables, p.CollisionTables...)
		res.CollisionDetails = append(res.CollisionDetails, p.CollisionDetails...)
		if p.CustomFieldsMerged != 0 {
			res.CustomFieldsMerged = p.CustomFieldsMerged
		}
		if p.LinkTransferred {
			res.MigratedTables = append(res.MigratedTables, linkTransferredEntry)
		}
		if p.SourcePlatformUserID != "" {
			res.SourcePlatformUserID = p.SourcePlatformUserID
		}
		if p.TargetPlatformUserID != "" {
			res.TargetPlatformUserID = p.TargetPlatformUserID
		}
	}

	var timeoutErr *PhaseTimeoutError
	var phaseErr *PhaseFailureError
	switch {
	case o.Failure == nil:
		res.Success = true
		res.CompletedPhase = intPtr(FinalPhase)
	case errors.As(o.Failure, &timeoutErr):
		res.Message = timeoutErr.Error()
		res.Error = errorText(timeoutErr.Err)
		res.Partial = true
		res.CompletedPhase = intPtr(timeoutErr.Phase - 1)
		res.NextPhase = intPtr(timeoutErr.Phase)
	case errors.As(o.Failure, &phaseErr):
		res.Message = phaseErr.Error()
		res.Partial = true
		res.CompletedPhase = intPtr(phaseErr.Phase - 1)
		res.NextPhase = intPtr(phaseErr.Phase)
		if phaseErr.Result != nil {
			res.Error = phaseErr.Result.Error
			res.SourcePlatformUserID = phaseErr.Result.SourcePlatformUserID
			res.TargetPlatformUserID = phaseErr.Result.TargetPlatformUserID
		} else {
			res.Error = errorText(phaseErr.Err)
		}
	default:
		res.Message = o.Failure.Error()
		res.Error = o.Failure.Error()
		res.Partial = true
	}

	return res
}
