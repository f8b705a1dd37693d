package mergephase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository invokes the merge phase stored procedures
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

// CallPhase runs procedure(source, target, ws) and returns its jsonb payload untouched.
// Driver errors are wrapped, not replaced, so a statement timeout stays detectable.
func (r *Repository) CallPhase(ctx context.Context, procedure, sourceID, targetID, wsID string) (json.RawMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "mergephase.Repository.CallPhase")
	defer span.End()

	query := fmt.Sprintf("SELECT %s($1, $2, $3)", database.QuoteIdent(procedure))

	start := time.Now()
	var payload []byte
	err := r.db.QueryRowxContext(ctx, query, sourceID, targetID, wsID).Scan(&payload)
	metrics.DatabaseQueryDuration.WithLabelValues(procedure).Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("procedure", procedure).Error("Merge phase procedure failed")
		return nil, fmt.Errorf("failed to call %s: %w", procedure, err)
	}

	return json.RawMessage(payload), nil
}
