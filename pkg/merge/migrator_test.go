package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pairInvoices = TableColumnPair{Table: "finance_invoices", Column: "customer_id"}
	pairWallet   = TableColumnPair{Table: "wallet_transactions", Column: "creator_id"}
	pairPosts    = TableColumnPair{Table: "user_group_posts", Column: "creator_id"}
	pairIndic    = TableColumnPair{Table: "user_indicators", Column: "creator_id", Unbatched: true}
)

func TestMigrator_Run(t *testing.T) {
	ctx := context.Background()
	tables := NewTableList(pairWallet, pairInvoices, pairPosts, pairIndic)

	t.Run("migrates every pair in batches", func(t *testing.T) {
		store := newFakeReferences()
		store.seed(pairWallet, 5)
		store.seed(pairInvoices, 2)
		store.seed(pairIndic, 3)
		m := NewMigrator(tables, store, MigratorConfig{BatchSize: 2, MaxBatchIterations: 10}, getTestLogger())

		results, err := m.Run(ctx, 0, testSourceID, testTargetID)

		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.Equal(t, MigrateResult{Table: "wallet_transactions", Column: "creator_id", TotalRowsUpdated: 5, Batches: 3}, results[0])
		assert.Equal(t, 2, results[1].TotalRowsUpdated)
		assert.Equal(t, 1, results[1].Batches)
		assert.Equal(t, 0, results[2].TotalRowsUpdated)
		assert.Equal(t, 0, results[2].Batches)
		assert.Equal(t, MigrateResult{Table: "user_indicators", Column: "creator_id", TotalRowsUpdated: 3, Batches: 1}, results[3])
		assert.Equal(t, []string{"user_indicators.creator_id"}, store.updateAll)
		for _, ids := range store.rows {
			assert.Empty(t, ids)
		}
	})

	t.Run("a full last batch needs one more select", func(t *testing.T) {
		store := newFakeReferences()
		store.seed(pairWallet, 4)
		m := NewMigrator(NewTableList(pairWallet), store, MigratorConfig{BatchSize: 2, MaxBatchIterations: 10}, getTestLogger())

		results, err := m.Run(ctx, 0, testSourceID, testTargetID)

		require.NoError(t, err)
		assert.Equal(t, 2, results[0].Batches)
		assert.Equal(t, 3, store.selects)
	})

	t.Run("stops at the iteration cap without failing", func(t *testing.T) {
		store := newFakeReferences()
		store.seed(pairWallet, 10)
		m := NewMigrator(NewTableList(pairWallet), store, MigratorConfig{BatchSize: 2, MaxBatchIterations: 3}, getTestLogger())

		results, err := m.Run(ctx, 0, testSourceID, testTargetID)

		require.NoError(t, err)
		assert.Equal(t, 6, results[0].TotalRowsUpdated)
		assert.Equal(t, 3, results[0].Batches)
		assert.Len(t, store.rows[pairWallet.String()], 4)
	})

	t.Run("resumes at the start index", func(t *testing.T) {
		store := newFakeReferences()
		store.seed(pairWallet, 3)
		store.seed(pairPosts, 1)
		m := NewMigrator(tables, store, MigratorConfig{BatchSize: 10}, getTestLogger())

		results, err := m.Run(ctx, 2, testSourceID, testTargetID)

		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "user_group_posts", results[0].Table)
		assert.Len(t, store.rows[pairWallet.String()], 3, "pairs before the start index are untouched")
	})

	t.Run("halts at the failing pair", func(t *testing.T) {
		store := newFakeReferences()
		store.seed(pairWallet, 1)
		store.seed(pairPosts, 1)
		store.failOn[pairInvoices.String()] = errors.New("canceling statement due to statement timeout")
		m := NewMigrator(tables, store, MigratorConfig{BatchSize: 10}, getTestLogger())

		results, err := m.Run(ctx, 0, testSourceID, testTargetID)

		var tableErr *TableMigrationError
		require.ErrorAs(t, err, &tableErr)
		assert.Equal(t, 1, tableErr.Index)
		assert.Equal(t, "finance_invoices", tableErr.Table)
		assert.Equal(t, "customer_id", tableErr.Column)
		assert.Equal(t, "Error updating finance_invoices.customer_id: canceling statement due to statement timeout", err.Error())
		assert.True(t, Retryable(err))

		require.Len(t, results, 2)
		assert.Equal(t, "canceling statement due to statement timeout", results[1].Error)
		assert.Len(t, store.rows[pairPosts.String()], 1, "later pairs are not attempted")
	})

	t.Run("unbatched failure", func(t *testing.T) {
		store := newFakeReferences()
		store.failOn[pairIndic.String()] = errors.New("deadlock detected")
		m := NewMigrator(tables, store, MigratorConfig{}, getTestLogger())

		_, err := m.Run(ctx, 3, testSourceID, testTargetID)

		var tableErr *TableMigrationError
		require.ErrorAs(t, err, &tableErr)
		assert.Equal(t, 3, tableErr.Index)
	})
}

func TestMigrator_Checkpoint(t *testing.T) {
	store := newFakeReferences()
	store.seed(pairInvoices, 3)
	m := NewMigrator(NewTableList(pairWallet, pairInvoices), store, MigratorConfig{BatchSize: 1000}, getTestLogger())

	var after []int
	ctx := withCheckpoint(context.Background(), func(context.Context) {
		after = append(after, len(store.rows[pairInvoices.String()]))
	})

	results, err := m.Run(ctx, 0, testSourceID, testTargetID)

	require.NoError(t, err)
	assert.Equal(t, 3, results[1].TotalRowsUpdated)
	assert.Equal(t, 1, results[1].Batches)
	assert.Equal(t, []int{3, 0}, after, "called once per completed pair")
}

func TestDefaultTables(t *testing.T) {
	tables := DefaultTables()

	assert.Equal(t, 26, tables.Len())
	assert.Equal(t, "wallet_transactions.creator_id", tables.At(0).String())
	assert.Equal(t, "id", tables.At(0).RowID())

	seen := map[string]bool{}
	for _, pair := range tables.Pairs() {
		assert.False(t, seen[pair.String()], "duplicate pair %s", pair)
		seen[pair.String()] = true
	}

	pairs := tables.Pairs()
	pairs[0].Table = "changed"
	assert.Equal(t, "wallet_transactions", tables.At(0).Table, "Pairs returns a copy")
}
