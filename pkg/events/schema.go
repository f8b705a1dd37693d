package events

import (
	"time"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

type EventType string

const (
	EventTypeMerged      EventType = "workspace_user.merged"
	EventTypeMergeFailed EventType = "workspace_user.merge_failed"
)

// MergeEvent is published once per merge run that reached the pipeline.
type MergeEvent struct {
	EventType       EventType `json:"event_type"`
	SchemaVersion   string    `json:"schema_version"`
	WorkspaceID     string    `json:"ws_id"`
	SourceID        string    `json:"source_id"`
	TargetID        string    `json:"target_id"`
	RunID           string    `json:"run_id,omitempty"`
	RequestedBy     string    `json:"requested_by,omitempty"`
	CompletedPhase  int       `json:"completed_phase"`
	Partial         bool      `json:"partial"`
	Error           string    `json:"error,omitempty"`
	MigratedTables  []string  `json:"migrated_tables,omitempty"`
	CollisionTables []string  `json:"collision_tables,omitempty"`
	TraceID         string    `json:"trace_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
