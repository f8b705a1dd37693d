package merge

// MergeRequest is the body accepted by the merge endpoint.
type MergeRequest struct {
	SourceID        string `json:"sourceId" validate:"required,uuid"`
	TargetID        string `json:"targetId" validate:"required,uuid"`
	StartTableIndex *int   `json:"startTableIndex,omitempty" validate:"omitempty,min=0"`
	// StartPhase resumes a run at one of the stored-procedure phases, skipping Phase 1 entirely.
	StartPhase *int `json:"startPhase,omitempty" validate:"omitempty,min=2,max=5"`
	// Resume picks up the pair's unfinished run at its recorded coordinates. Ignored when
	// startTableIndex or startPhase is given.
	Resume bool `json:"resume,omitempty"`
}

// ValidatedRequest is a MergeRequest that passed every pre-condition and is scoped to a workspace.
type ValidatedRequest struct {
	WorkspaceID     string
	CallerID        string
	SourceID        string
	TargetID        string
	StartTableIndex int
	StartPhase      int
	// Explicit is true when the caller supplied resume coordinates.
	Explicit bool
	Resume   bool
}

// MigrateResult is the outcome of migrating one table/column pair.
type MigrateResult struct {
	Table            string `json:"table"`
	Column           string `json:"column"`
	TotalRowsUpdated int    `json:"totalRowsUpdated"`
	Batches          int    `json:"batches"`
	Error            string `json:"error,omitempty"`
}

// CollisionDetail describes rows dropped from the source because the target already held the same key.
type CollisionDetail struct {
	Table           string   `json:"table"`
	DeletedCount    int      `json:"deleted_count"`
	PKColumn        string   `json:"pk_column"`
	DeletedPKValues []string `json:"deleted_pk_values"`
}

// PhaseResult is the typed outcome of a single phase.
type PhaseResult struct {
	Success              bool              `json:"success"`
	Phase                int               `json:"phase"`
	Error                string            `json:"error,omitempty"`
	Message              string            `json:"message,omitempty"`
	MigratedTables       []string          `json:"migrated_tables,omitempty"`
	MigratedCount        *int              `json:"migrated_count,omitempty"`
	CollisionTables      []string          `json:"collision_tables,omitempty"`
	CollisionDetails     []CollisionDetail `json:"collision_details,omitempty"`
	CustomFieldsMerged   int               `json:"custom_fields_merged,omitempty"`
	LinkTransferred      bool              `json:"link_transferred,omitempty"`
	SourceDeleted        bool              `json:"source_deleted,omitempty"`
	SourcePlatformUserID string            `json:"source_platform_user_id,omitempty"`
	TargetPlatformUserID string            `json:"target_platform_user_id,omitempty"`
}

// PhasedMergeResult is the response body for both complete and partial runs.
type PhasedMergeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Partial bool   `json:"partial"`
	RunID   string `json:"runId,omitempty"`

	CompletedPhase      *int   `json:"completedPhase,omitempty"`
	NextPhase           *int   `json:"nextPhase,omitempty"`
	CompletedTableIndex *int   `json:"completedTableIndex,omitempty"`
	NextTableIndex      *int   `json:"nextTableIndex,omitempty"`
	CurrentTable        string `json:"currentTable,omitempty"`
	CurrentColumn       string `json:"currentColumn,omitempty"`

	SourceUserID         string            `json:"sourceUserId"`
	TargetUserID         string            `json:"targetUserId"`
	MigratedTables       []string          `json:"migratedTables"`
	CollisionTables      []string          `json:"collisionTables"`
	CollisionDetails     []CollisionDetail `json:"collisionDetails"`
	CustomFieldsMerged   int               `json:"customFieldsMerged"`
	SourcePlatformUserID string            `json:"sourcePlatformUserId,omitempty"`
	TargetPlatformUserID string            `json:"targetPlatformUserId,omitempty"`
	TotalRowsUpdated     int               `json:"totalRowsUpdated"`
	PhaseResults         []PhaseResult     `json:"phaseResults"`
}

func intPtr(v int) *int {
	return &v
}
