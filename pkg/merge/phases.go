package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SQLSTATE query_canceled, raised when statement_timeout fires.
const statementTimeoutCode = "57014"

// ProcedureCaller invokes a phase procedure and returns its raw jsonb payload.
type ProcedureCaller interface {
	CallPhase(ctx context.Context, procedure, sourceID, targetID, wsID string) (json.RawMessage, error)
}

// PhaseRunner runs phases 2 through 5 in order. Each phase only starts after the previous
// one returned success.
type PhaseRunner struct {
	phases []Phase
	caller ProcedureCaller
	logger ectologger.Logger
}

func NewPhaseRunner(phases []Phase, caller ProcedureCaller, logger ectologger.Logger) *PhaseRunner {
	copied := make([]Phase, len(phases))
	copy(copied, phases)
	return &PhaseRunner{
		phases: copied,
		caller: caller,
		logger: logger,
	}
}

// Run executes every phase numbered startPhase or later. The returned slice holds every payload
// received, including a failing one.
func (r *PhaseRunner) Run(ctx context.Context, startPhase int, wsID, sourceID, targetID string) ([]PhaseResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.PhaseRunner.Run")
	defer span.End()

	results := make([]PhaseResult, 0, len(r.phases))
	for _, phase := range r.phases {
		if phase.Number < startPhase {
			continue
		}
		checkpoint(ctx)

		result, err := r.runPhase(ctx, phase, wsID, sourceID, targetID)
		if result != nil {
			results = append(results, *result)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return results, err
		}
	}

	return results, nil
}

func (r *PhaseRunner) runPhase(ctx context.Context, phase Phase, wsID, sourceID, targetID string) (*PhaseResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.PhaseRunner.runPhase")
	defer span.End()
	span.SetAttributes(attribute.Int("merge.phase", phase.Number), attribute.String("merge.procedure", phase.Procedure))

	logger := r.logger.WithContext(ctx).WithFields(map[string]any{
		"phase":     phase.Number,
		"procedure": phase.Procedure,
		"source_id": sourceID,
		"target_id": targetID,
	})

	payload, err := r.caller.CallPhase(ctx, phase.Procedure, sourceID, targetID, wsID)
	if err != nil {
		if IsStatementTimeout(err) {
			logger.WithError(err).Errorf("Phase %d timed out", phase.Number)
			return nil, &PhaseTimeoutError{Phase: phase.Number, Err: err}
		}
		logger.WithError(err).Errorf("Error in phase %d", phase.Number)
		return nil, &PhaseFailureError{Phase: phase.Number, Message: fmt.Sprintf("Error in phase %d", phase.Number), Err: err}
	}

	result, err := DecodePhaseResult(phase.Number, payload)
	if err != nil {
		logger.WithError(err).Errorf("Phase %d returned an invalid payload", phase.Number)
		return nil, &PhaseFailureError{Phase: phase.Number, Message: fmt.Sprintf("Error in phase %d", phase.Number), Err: err}
	}

	if !result.Success {
		message := result.Error
		if message == "" {
			message = fmt.Sprintf("Phase %d failed", phase.Number)
		}
		logger.WithField("error", result.Error).Warnf("Phase %d reported failure", phase.Number)
		return &result, &PhaseFailureError{Phase: phase.Number, Message: message, Result: &result}
	}

	logger.Infof("Phase %d completed", phase.Number)
	return &result, nil
}

// IsStatementTimeout reports whether err is a database statement timeout or an expired deadline.
func IsStatementTimeout(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == statementTimeoutCode
	}
	return errors.Is(err, context.DeadlineExceeded)
}

type wirePhaseResult struct {
	Success              *bool             `json:"success"`
	Phase                json.RawMessage   `json:"phase"`
	Error                string            `json:"error"`
	Message              string            `json:"message"`
	MigratedTables       []string          `json:"migrated_tables"`
	MigratedCount        *int              `json:"migrated_count"`
	CollisionTables      []string          `json:"collision_tables"`
	CollisionDetails     []CollisionDetail `json:"collision_details"`
	CustomFieldsMerged   *int              `json:"custom_fields_merged"`
	LinkTransferred      *bool             `json:"link_transferred"`
	SourceDeleted        *bool             `json:"source_deleted"`
	SourcePlatformUserID *string           `json:"source_platform_user_id"`
	TargetPlatformUserID *string           `json:"target_platform_user_id"`
}

// DecodePhaseResult validates a procedure payload and converts it to a PhaseResult.
// The payload must be an object with a boolean success; a phase field, when present, must
// name the expected phase either as a number or a numeric string.
func DecodePhaseResult(expected int, payload json.RawMessage) (PhaseResult, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" {
		return PhaseResult{}, fmt.Errorf("phase %d returned no result", expected)
	}

	var wire wirePhaseResult
	if err := json.Unmarshal(payload, &wire); err != nil {
		return PhaseResult{}, fmt.Errorf("phase %d returned malformed result: %w", expected, err)
	}
	if wire.Success == nil {
		return PhaseResult{}, fmt.Errorf("phase %d result is missing success", expected)
	}

	if len(wire.Phase) > 0 && string(wire.Phase) != "null" {
		phase, err := parsePhaseNumber(wire.Phase)
		if err != nil {
			return PhaseResult{}, fmt.Errorf("phase %d result has invalid phase: %w", expected, err)
		}
		if phase != expected {
			return PhaseResult{}, fmt.Errorf("phase %d result reports phase %d", expected, phase)
		}
	}

	result := PhaseResult{
		Success:          *wire.Success,
		Phase:            expected,
		Error:            wire.Error,
		Message:          wire.Message,
		MigratedTables:   wire.MigratedTables,
		MigratedCount:    wire.MigratedCount,
		CollisionTables:  wire.CollisionTables,
		CollisionDetails: wire.CollisionDetails,
	}
	if wire.CustomFieldsMerged != nil {
		result.CustomFieldsMerged = *wire.CustomFieldsMerged
	}
	if wire.LinkTransferred != nil {
		result.LinkTransferred = *wire.LinkTransferred
	}
	if wire.SourceDeleted != nil {
		result.SourceDeleted = *wire.SourceDeleted
	}
	if wire.SourcePlatformUserID != nil {
		result.SourcePlatformUserID = *wire.SourcePlatformUserID
	}
	if wire.TargetPlatformUserID != nil {
		result.TargetPlatformUserID = *wire.TargetPlatformUserID
	}

	return result, nil
}

func parsePhaseNumber(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(s))
}
