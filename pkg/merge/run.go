package merge

import (
	"context"
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCompleted RunStatus = "completed"
)

// Run is the persisted progress of one merge of a (source, target) pair.
type Run struct {
	ID             string          `json:"id" db:"id"`
	WorkspaceID    string          `json:"ws_id" db:"ws_id"`
	SourceID       string          `json:"source_id" db:"source_id"`
	TargetID       string          `json:"target_id" db:"target_id"`
	Status         RunStatus       `json:"status" db:"status"`
	NextTableIndex *int            `json:"next_table_index,omitempty" db:"next_table_index"`
	NextPhase      *int            `json:"next_phase,omitempty" db:"next_phase"`
	CompletedPhase int             `json:"completed_phase" db:"completed_phase"`
	LastError      string          `json:"last_error,omitempty" db:"last_error"`
	Result         json.RawMessage `json:"result" db:"result"`
	RequestedBy    string          `json:"requested_by" db:"requested_by"`
	Attempts       int             `json:"attempts" db:"attempts"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// Unfinished reports whether the pair still has work left.
func (r *Run) Unfinished() bool {
	return r.Status != RunStatusCompleted
}

// RunLedger persists merge progress so a caller asking to resume does not need its own coordinates.
type RunLedger interface {
	// FindResumable returns the unfinished run for the pair, or nil when there is none.
	FindResumable(ctx context.Context, wsID, sourceID, targetID string) (*Run, error)
	// Begin creates the run for the pair, or marks the existing unfinished one as running again.
	Begin(ctx context.Context, req *ValidatedRequest) (*Run, error)
	Finish(ctx context.Context, runID string, status RunStatus, result *PhasedMergeResult) error
	Get(ctx context.Context, wsID, runID string) (*Run, error)
}

// Notifier is told about every run that reached the pipeline.
type Notifier interface {
	MergeFinished(ctx context.Context, req *ValidatedRequest, result *PhasedMergeResult) error
}
