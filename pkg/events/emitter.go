// Package events publishes merge lifecycle events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/merge"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Publisher writes a keyed message to the event topic.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
}

// Emitter turns merge results into events. A nil publisher disables emission.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
	now       func() time.Time
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MergeFinished emits workspace_user.merged or workspace_user.merge_failed keyed by the target user.
func (e *Emitter) MergeFinished(ctx context.Context, req *merge.ValidatedRequest, result *merge.PhasedMergeResult) error {
	if e.publisher == nil || req == nil || result == nil {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.MergeFinished")
	defer span.End()

	event := NewMergeEvent(req, result, e.now())
	event.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal merge event: %w", err)
	}

	headers := map[string]string{
		"event_type": string(event.EventType),
		"ws_id":      event.WorkspaceID,
	}
	if err := e.publisher.Publish(ctx, req.TargetID, data, headers); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", event.EventType)
		return err
	}
	return nil
}

func NewMergeEvent(req *merge.ValidatedRequest, result *merge.PhasedMergeResult, at time.Time) *MergeEvent {
	event := &MergeEvent{
		EventType:       EventTypeMerged,
		SchemaVersion:   SchemaVersion,
		WorkspaceID:     req.WorkspaceID,
		SourceID:        req.SourceID,
		TargetID:        req.TargetID,
		RunID:           result.RunID,
		RequestedBy:     req.CallerID,
		Partial:         result.Partial,
		Error:           result.Error,
		MigratedTables:  result.MigratedTables,
		CollisionTables: result.CollisionTables,
		OccurredAt:      at,
	}
	if result.CompletedPhase != nil {
		event.CompletedPhase = *result.CompletedPhase
	}
	if !result.Success {
		event.EventType = EventTypeMergeFailed
	}
	return event
}
