package mergerun

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/merge"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "workspace_user_merge_runs"

var columns = []string{
	"id", "ws_id", "source_id", "target_id", "status", "next_table_index", "next_phase",
	"completed_phase", "last_error", "result", "requested_by", "attempts",
	"created_at", "updated_at", "completed_at",
}

// Repository persists merge runs
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

type runRow struct {
	ID             string     `db:"id"`
	WorkspaceID    string     `db:"ws_id"`
	SourceID       string     `db:"source_id"`
	TargetID       string     `db:"target_id"`
	Status         string     `db:"status"`
	NextTableIndex *int       `db:"next_table_index"`
	NextPhase      *int       `db:"next_phase"`
	CompletedPhase int        `db:"completed_phase"`
	LastError      string     `db:"last_error"`
	Result         []byte     `db:"result"`
	RequestedBy    string     `db:"requested_by"`
	Attempts       int        `db:"attempts"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	CompletedAt    *time.Time `db:"completed_at"`
}

func (row *runRow) toRun() *merge.Run {
	return &merge.Run{
		ID:             row.ID,
		WorkspaceID:    row.WorkspaceID,
		SourceID:       row.SourceID,
		TargetID:       row.TargetID,
		Status:         merge.RunStatus(row.Status),
		NextTableIndex: row.NextTableIndex,
		NextPhase:      row.NextPhase,
		CompletedPhase: row.CompletedPhase,
		LastError:      row.LastError,
		Result:         json.RawMessage(row.Result),
		RequestedBy:    row.RequestedBy,
		Attempts:       row.Attempts,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		CompletedAt:    row.CompletedAt,
	}
}

func selectColumns() []string {
	cols := make([]string, len(columns))
	for i, c := range columns {
		switch c {
		case "id", "ws_id", "source_id", "target_id":
			cols[i] = c + "::text AS " + c
		default:
			cols[i] = c
		}
	}
	return cols
}

// FindResumable returns the unfinished run for the pair, or nil
func (r *Repository) FindResumable(ctx context.Context, wsID, sourceID, targetID string) (*merge.Run, error) {
	ctx, span := tracing.StartSpan(ctx, "mergerun.Repository.FindResumable")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(selectColumns()...)
	sb.From(table)
	sb.Where(
		sb.Equal("ws_id", wsID),
		sb.Equal("source_id", sourceID),
		sb.Equal("target_id", targetID),
		sb.NotEqual("status", string(merge.RunStatusCompleted)),
	)
	sb.OrderBy("updated_at").Desc()
	sb.Limit(1)

	query, args := sb.Build()
	var row runRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ws_id": wsID, "source_id": sourceID, "target_id": targetID}).Error("Failed to find unfinished merge run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find merge run")
	}
	return row.toRun(), nil
}

// Begin inserts a running run for the pair, or reopens its unfinished run and counts the attempt
func (r *Repository) Begin(ctx context.Context, req *merge.ValidatedRequest) (*merge.Run, error) {
	ctx, span := tracing.StartSpan(ctx, "mergerun.Repository.Begin")
	defer span.End()

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols("id", "ws_id", "source_id", "target_id", "status", "requested_by", "created_at", "updated_at")
	ib.Values(uuid.New().String(), req.WorkspaceID, req.SourceID, req.TargetID, string(merge.RunStatusRunning), req.CallerID, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))

	query, args := ib.Build()
	query += " ON CONFLICT (ws_id, source_id, target_id) WHERE status <> 'completed' DO UPDATE SET" +
		" status = " + database.Excluded("status") + "," +
		" requested_by = " + database.Excluded("requested_by") + "," +
		" attempts = " + table + ".attempts + 1," +
		" updated_at = NOW()" +
		" RETURNING " + strings.Join(selectColumns(), ", ")

	var row runRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ws_id": req.WorkspaceID, "source_id": req.SourceID, "target_id": req.TargetID}).Error("Failed to begin merge run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin merge run")
	}
	return row.toRun(), nil
}

// Finish records the outcome of a run and its resume coordinates
func (r *Repository) Finish(ctx context.Context, runID string, status merge.RunStatus, result *merge.PhasedMergeResult) error {
	ctx, span := tracing.StartSpan(ctx, "mergerun.Repository.Finish")
	defer span.End()

	payload := []byte("{}")
	var lastError string
	var completedPhase int
	var nextTableIndex, nextPhase *int
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal merge result: %w", err)
		}
		payload = data
		lastError = result.Error
		if result.CompletedPhase != nil {
			completedPhase = *result.CompletedPhase
		}
		nextTableIndex = result.NextTableIndex
		nextPhase = result.NextPhase
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	assignments := []string{
		ub.Assign("status", string(status)),
		ub.Assign("result", string(payload)),
		ub.Assign("last_error", lastError),
		ub.Assign("completed_phase", completedPhase),
		ub.Assign("next_table_index", nextTableIndex),
		ub.Assign("next_phase", nextPhase),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	}
	if status == merge.RunStatusCompleted {
		assignments = append(assignments, ub.Assign("completed_at", sqlbuilder.Raw("NOW()")))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", runID))

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", runID).Error("Failed to finish merge run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update merge run")
	}
	return nil
}

// Get returns a run of the workspace
func (r *Repository) Get(ctx context.Context, wsID, runID string) (*merge.Run, error) {
	ctx, span := tracing.StartSpan(ctx, "mergerun.Repository.Get")
	defer span.End()

	if _, err := uuid.Parse(runID); err != nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("merge run %s not found", runID))
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(selectColumns()...)
	sb.From(table)
	sb.Where(
		sb.Equal("id", runID),
		sb.Equal("ws_id", wsID),
	)

	query, args := sb.Build()
	var row runRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("merge run %s not found", runID))
		}
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", runID).Error("Failed to get merge run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge run")
	}
	return row.toRun(), nil
}
