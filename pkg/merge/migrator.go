package merge

import (
	"context"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	DefaultBatchSize          = 1000
	DefaultMaxBatchIterations = 500

	progressLogInterval = 5
)

// ReferenceStore reads and rewrites foreign-key columns for Phase 1.
type ReferenceStore interface {
	// SelectIDs returns up to limit row ids of pair.Table where pair.Column = sourceID.
	SelectIDs(ctx context.Context, pair TableColumnPair, sourceID string, limit int) ([]string, error)
	// UpdateIDs sets pair.Column = targetID on the given rows and returns the rows changed.
	UpdateIDs(ctx context.Context, pair TableColumnPair, ids []string, targetID string) (int, error)
	// UpdateAll rewrites every matching row in one statement.
	UpdateAll(ctx context.Context, pair TableColumnPair, sourceID, targetID string) (int, error)
}

type MigratorConfig struct {
	BatchSize          int
	MaxBatchIterations int
}

// Migrator re-points foreign keys from the source user to the target user, one pair at a time.
type Migrator struct {
	tables TableList
	store  ReferenceStore
	config MigratorConfig
	logger ectologger.Logger
}

func NewMigrator(tables TableList, store ReferenceStore, config MigratorConfig, logger ectologger.Logger) *Migrator {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.MaxBatchIterations <= 0 {
		config.MaxBatchIterations = DefaultMaxBatchIterations
	}
	return &Migrator{
		tables: tables,
		store:  store,
		config: config,
		logger: logger,
	}
}

func (m *Migrator) Tables() TableList {
	return m.tables
}

// Run migrates every pair from startIndex to the end of the list. It stops at the first pair
// that fails and returns a *TableMigrationError naming it. Results holds one entry per pair
// attempted, including the failed one.
func (m *Migrator) Run(ctx context.Context, startIndex int, sourceID, targetID string) ([]MigrateResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Migrator.Run")
	defer span.End()

	if startIndex < 0 {
		startIndex = 0
	}

	total := m.tables.Len()
	results := make([]MigrateResult, 0, max(total-startIndex, 0))
	rowsUpdated := 0

	for i := startIndex; i < total; i++ {
		pair := m.tables.At(i)
		result, err := m.migratePair(ctx, pair, sourceID, targetID)
		results = append(results, result)

		if err != nil {
			m.logger.WithContext(ctx).WithFields(map[string]any{
				"table":       pair.Table,
				"column":      pair.Column,
				"table_index": i,
				"error":       result.Error,
			}).Errorf("Error migrating %s", pair)
			span.SetStatus(codes.Error, result.Error)
			return results, &TableMigrationError{
				Index:       i,
				Table:       pair.Table,
				Column:      pair.Column,
				RowsUpdated: result.TotalRowsUpdated,
				Err:         err,
			}
		}

		rowsUpdated += result.TotalRowsUpdated
		checkpoint(ctx)
		if (i+1)%progressLogInterval == 0 {
			m.logger.WithContext(ctx).Infof("Phase 1 progress: %d/%d tables, %d total rows updated", i+1, total, rowsUpdated)
		}
	}

	span.SetAttributes(attribute.Int("merge.rows_updated", rowsUpdated))
	return results, nil
}

// migratePair moves every row of one pair. Batches commit independently, so rows updated
// before a failure stay updated.
func (m *Migrator) migratePair(ctx context.Context, pair TableColumnPair, sourceID, targetID string) (MigrateResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Migrator.migratePair")
	defer span.End()
	span.SetAttributes(attribute.String("merge.table", pair.Table), attribute.String("merge.column", pair.Column))

	result := MigrateResult{Table: pair.Table, Column: pair.Column}

	if pair.Unbatched {
		updated, err := m.store.UpdateAll(ctx, pair, sourceID, targetID)
		if err != nil {
			result.Error = err.Error()
			return result, err
		}
		result.TotalRowsUpdated = updated
		if updated > 0 {
			result.Batches = 1
		}
		metrics.RowsMigrated.WithLabelValues(pair.Table, pair.Column).Add(float64(updated))
		return result, nil
	}

	exhausted := false
	for iteration := 0; iteration < m.config.MaxBatchIterations; iteration++ {
		ids, err := m.store.SelectIDs(ctx, pair, sourceID, m.config.BatchSize)
		if err != nil {
			result.Error = err.Error()
			return result, err
		}
		if len(ids) == 0 {
			exhausted = true
			break
		}

		updated, err := m.store.UpdateIDs(ctx, pair, ids, targetID)
		if err != nil {
			result.Error = err.Error()
			return result, err
		}
		result.TotalRowsUpdated += updated
		result.Batches++
		metrics.RowsMigrated.WithLabelValues(pair.Table, pair.Column).Add(float64(updated))

		if len(ids) < m.config.BatchSize {
			exhausted = true
			break
		}
	}

	if !exhausted {
		m.logger.WithContext(ctx).WithFields(map[string]any{
			"table":        pair.Table,
			"column":       pair.Column,
			"rows_updated": result.TotalRowsUpdated,
			"batches":      result.Batches,
		}).Warnf("Reached %d batch iterations for %s, rows may remain", m.config.MaxBatchIterations, pair)
	}

	return result, nil
}
