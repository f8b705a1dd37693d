package merge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultLockTTL = 15 * time.Minute

type ServiceConfig struct {
	LockTTL time.Duration
}

// ServiceDeps wires the pipeline. Ledger, Locker, Notifier and Previewer are optional.
type ServiceDeps struct {
	Validator *Validator
	Previewer *Previewer
	Migrator  *Migrator
	Phases    *PhaseRunner
	Ledger    RunLedger
	Locker    Locker
	Notifier  Notifier
	Logger    ectologger.Logger
}

// Service drives a merge from validation through the final phase.
type Service struct {
	validator *Validator
	previewer *Previewer
	migrator  *Migrator
	phases    *PhaseRunner
	ledger    RunLedger
	locker    Locker
	notifier  Notifier
	config    ServiceConfig
	logger    ectologger.Logger
}

func NewService(deps ServiceDeps, config ServiceConfig) *Service {
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	return &Service{
		validator: deps.Validator,
		previewer: deps.Previewer,
		migrator:  deps.Migrator,
		phases:    deps.Phases,
		ledger:    deps.Ledger,
		locker:    deps.Locker,
		notifier:  deps.Notifier,
		config:    config,
		logger:    deps.Logger,
	}
}

// Merge validates body and runs the pipeline. Pre-condition failures return a nil result.
// Pipeline failures return the partial result together with the error that halted the run,
// so the caller can render resume coordinates with the error's status code.
func (s *Service) Merge(ctx context.Context, wsID, callerID string, body []byte) (*PhasedMergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Service.Merge")
	defer span.End()

	req, err := s.validator.Validate(ctx, wsID, callerID, body)
	if err != nil {
		metrics.MergeRequestsRejected.WithLabelValues(fmt.Sprint(StatusCode(err))).Inc()
		return nil, err
	}
	span.SetAttributes(
		attribute.String("merge.ws_id", req.WorkspaceID),
		attribute.String("merge.source_id", req.SourceID),
		attribute.String("merge.target_id", req.TargetID),
	)

	leases, err := s.lock(ctx, req)
	if err != nil {
		metrics.MergeRequestsRejected.WithLabelValues(fmt.Sprint(StatusCode(err))).Inc()
		return nil, err
	}
	defer leases.release(ctx)

	s.resume(ctx, req)
	runID := s.begin(ctx, req)

	start := time.Now()
	metrics.MergesInFlight.Inc()
	outcome := s.execute(withCheckpoint(ctx, leases.renew), req)
	metrics.MergesInFlight.Dec()

	result := Aggregate(outcome)
	result.RunID = runID

	status := runStatus(outcome.Failure)
	metrics.MergeRunsTotal.WithLabelValues(string(status)).Inc()
	metrics.MergeDuration.WithLabelValues(string(status)).Observe(time.Since(start).Seconds())

	s.finish(ctx, req, runID, status, result)

	logger := s.logger.WithContext(ctx).WithFields(map[string]any{
		"ws_id":              req.WorkspaceID,
		"source_id":          req.SourceID,
		"target_id":          req.TargetID,
		"run_id":             runID,
		"status":             status,
		"total_rows_updated": result.TotalRowsUpdated,
	})
	if outcome.Failure != nil {
		logger.WithError(outcome.Failure).Warn("Merge stopped before completion")
		return result, outcome.Failure
	}
	logger.Info("Merged workspace users")
	return result, nil
}

// Run returns a persisted run.
func (s *Service) Run(ctx context.Context, wsID, runID string) (*Run, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Service.Run")
	defer span.End()

	if s.ledger == nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("merge run %s not found", runID))
	}
	return s.ledger.Get(ctx, wsID, runID)
}

func (s *Service) execute(ctx context.Context, req *ValidatedRequest) Outcome {
	outcome := Outcome{
		SourceID:   req.SourceID,
		TargetID:   req.TargetID,
		TotalPairs: s.migrator.Tables().Len(),
	}

	startPhase := FirstProcedurePhase
	if req.StartPhase >= FirstProcedurePhase {
		outcome.SkippedPhase1 = true
		startPhase = req.StartPhase
	} else {
		migrations, err := s.migrator.Run(ctx, req.StartTableIndex, req.SourceID, req.TargetID)
		outcome.Migrations = migrations
		if err != nil {
			outcome.Failure = err
			return outcome
		}
	}

	phases, err := s.phases.Run(ctx, startPhase, req.WorkspaceID, req.SourceID, req.TargetID)
	outcome.Phases = phases
	outcome.Failure = err
	if err != nil {
		metrics.PhaseFailures.WithLabelValues(fmt.Sprint(failedPhase(err)), fmt.Sprint(StatusCode(err))).Inc()
	}
	return outcome
}

// lock takes the advisory lock on both users in id order so two runs sharing a user cannot
// deadlock. Lock store failures are logged and the merge proceeds unlocked.
func (s *Service) lock(ctx context.Context, req *ValidatedRequest) (*leaseSet, error) {
	leases := newLeaseSet(s.config.LockTTL, s.logger)
	if s.locker == nil {
		return leases, nil
	}

	for _, id := range lockOrder(req.SourceID, req.TargetID) {
		key := LockKey(req.WorkspaceID, id)
		lease, ok, err := s.locker.TryLock(ctx, key, s.config.LockTTL)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("lock_key", key).Warn("Merge lock unavailable, continuing without it")
			continue
		}
		if !ok {
			leases.release(ctx)
			return nil, &MergeInProgressError{UserID: id}
		}
		leases.add(key, lease)
	}

	return leases, nil
}

// resume fills in coordinates from the pair's unfinished run. It only applies when the caller
// asked to resume and supplied no coordinates of its own; a plain request starts at table 0.
func (s *Service) resume(ctx context.Context, req *ValidatedRequest) {
	if s.ledger == nil || !req.Resume || req.Explicit {
		return
	}

	run, err := s.ledger.FindResumable(ctx, req.WorkspaceID, req.SourceID, req.TargetID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to look up unfinished merge run")
		return
	}
	if run == nil {
		return
	}

	switch {
	case run.NextPhase != nil && *run.NextPhase >= FirstProcedurePhase:
		req.StartPhase = *run.NextPhase
	case run.NextTableIndex != nil:
		req.StartTableIndex = *run.NextTableIndex
	default:
		return
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":            run.ID,
		"start_table_index": req.StartTableIndex,
		"start_phase":       req.StartPhase,
	}).Info("Resuming unfinished merge run")
}

func (s *Service) begin(ctx context.Context, req *ValidatedRequest) string {
	if s.ledger == nil {
		return ""
	}
	run, err := s.ledger.Begin(ctx, req)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to record merge run")
		return ""
	}
	return run.ID
}

func (s *Service) finish(ctx context.Context, req *ValidatedRequest, runID string, status RunStatus, result *PhasedMergeResult) {
	bookkeeping := context.WithoutCancel(ctx)

	if s.ledger != nil && runID != "" {
		if err := s.ledger.Finish(bookkeeping, runID, status, result); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("run_id", runID).Warn("Failed to update merge run")
		}
	}

	if s.notifier != nil {
		if err := s.notifier.MergeFinished(bookkeeping, req, result); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("run_id", runID).Warn("Failed to publish merge event")
		}
	}
}

// LockKey is the advisory lock key for one user of a workspace.
func LockKey(wsID, userID string) string {
	return fmt.Sprintf("merge:%s:%s", wsID, userID)
}

func runStatus(failure error) RunStatus {
	switch {
	case failure == nil:
		return RunStatusCompleted
	case Retryable(failure):
		return RunStatusPartial
	default:
		return RunStatusFailed
	}
}

func failedPhase(err error) int {
	switch e := err.(type) {
	case *PhaseTimeoutError:
		return e.Phase
	case *PhaseFailureError:
		return e.Phase
	}
	return 0
}
