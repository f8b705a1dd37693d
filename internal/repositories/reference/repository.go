package reference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/merge"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository re-points foreign-key columns from one workspace user to another.
// Errors are returned as-is so callers can inspect the driver error.
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

// SelectIDs returns up to limit row ids of pair.Table whose pair.Column is sourceID
func (r *Repository) SelectIDs(ctx context.Context, pair merge.TableColumnPair, sourceID string, limit int) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "reference.Repository.SelectIDs")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(database.QuoteIdent(pair.RowID()))
	sb.From(database.QuoteIdent(pair.Table))
	sb.Where(sb.Equal(database.QuoteIdent(pair.Column), sourceID))
	sb.Limit(limit)

	query, args := sb.Build()
	start := time.Now()
	var ids []string
	err := r.db.SelectContext(ctx, &ids, query, args...)
	metrics.DatabaseQueryDuration.WithLabelValues("select_ids").Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("pair", pair.String()).Error("Failed to select rows referencing source user")
		return nil, err
	}
	return ids, nil
}

// UpdateIDs sets pair.Column to targetID on exactly the given rows
func (r *Repository) UpdateIDs(ctx context.Context, pair merge.TableColumnPair, ids []string, targetID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "reference.Repository.UpdateIDs")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(database.QuoteIdent(pair.Table))
	ub.Set(ub.Assign(database.QuoteIdent(pair.Column), targetID))
	ub.Where(ub.In(database.QuoteIdent(pair.RowID()), values...))

	return r.exec(ctx, "update_ids", pair, ub)
}

// UpdateAll sets pair.Column to targetID on every row that references sourceID
func (r *Repository) UpdateAll(ctx context.Context, pair merge.TableColumnPair, sourceID, targetID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "reference.Repository.UpdateAll")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(database.QuoteIdent(pair.Table))
	ub.Set(ub.Assign(database.QuoteIdent(pair.Column), targetID))
	ub.Where(ub.Equal(database.QuoteIdent(pair.Column), sourceID))

	return r.exec(ctx, "update_all", pair, ub)
}

// CompositeKeys returns the key columns of every table row owned by userID, cast to text and
// joined with ':' the way the merge procedures report collisions.
func (r *Repository) CompositeKeys(ctx context.Context, table merge.CompositeTable, userID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "reference.Repository.CompositeKeys")
	defer span.End()

	cols := make([]string, len(table.Keys))
	for i, key := range table.Keys {
		cols[i] = database.QuoteIdent(key) + "::text"
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(fmt.Sprintf("concat_ws(':', %s) AS pk", strings.Join(cols, ", ")))
	sb.From(database.QuoteIdent(table.Table))
	sb.Where(sb.Equal("user_id", userID))

	query, args := sb.Build()
	start := time.Now()
	var keys []string
	err := r.db.SelectContext(ctx, &keys, query, args...)
	metrics.DatabaseQueryDuration.WithLabelValues("composite_keys").Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("table", table.Table).Error("Failed to list composite keys")
		return nil, err
	}
	return keys, nil
}

func (r *Repository) exec(ctx context.Context, operation string, pair merge.TableColumnPair, ub *sqlbuilder.UpdateBuilder) (int, error) {
	query, args := ub.Build()
	start := time.Now()
	result, err := r.db.ExecContext(ctx, query, args...)
	metrics.DatabaseQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("pair", pair.String()).Error("Failed to update rows referencing source user")
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
