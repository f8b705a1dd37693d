package merge

import (
	"fmt"
	"strings"
)

// TableColumnPair names a foreign-key column that references a workspace user.
type TableColumnPair struct {
	Table  string
	Column string
	// IDColumn is the row identifier used to page through matches. Defaults to "id".
	IDColumn string
	// Unbatched pairs have no single-column identifier and are updated in one statement.
	Unbatched bool
}

func (p TableColumnPair) String() string {
	return fmt.Sprintf("%s.%s", p.Table, p.Column)
}

// RowID returns the column used to page through matching rows.
func (p TableColumnPair) RowID() string {
	if p.IDColumn == "" {
		return "id"
	}
	return p.IDColumn
}

// TableList is an immutable, ordered list of table/column pairs.
// The index of a pair is the resume coordinate for Phase 1.
type TableList struct {
	pairs []TableColumnPair
}

// NewTableList copies pairs into a new list.
func NewTableList(pairs ...TableColumnPair) TableList {
	copied := make([]TableColumnPair, len(pairs))
	copy(copied, pairs)
	return TableList{pairs: copied}
}

func (l TableList) Len() int {
	return len(l.pairs)
}

func (l TableList) At(i int) TableColumnPair {
	return l.pairs[i]
}

// Pairs returns a copy of the list.
func (l TableList) Pairs() []TableColumnPair {
	copied := make([]TableColumnPair, len(l.pairs))
	copy(copied, l.pairs)
	return copied
}

// DefaultTables is every workspace-user foreign key migrated in Phase 1, in processing order.
func DefaultTables() TableList {
	return NewTableList(
		// financial / inventory
		TableColumnPair{Table: "wallet_transactions", Column: "creator_id"},
		TableColumnPair{Table: "product_stock_changes", Column: "beneficiary_id"},
		TableColumnPair{Table: "product_stock_changes", Column: "creator_id"},
		TableColumnPair{Table: "finance_invoices", Column: "customer_id"},
		TableColumnPair{Table: "finance_invoices", Column: "creator_id"},
		// status / reports
		TableColumnPair{Table: "workspace_user_status_changes", Column: "user_id"},
		TableColumnPair{Table: "workspace_user_status_changes", Column: "creator_id"},
		TableColumnPair{Table: "external_user_monthly_report_logs", Column: "user_id"},
		TableColumnPair{Table: "external_user_monthly_report_logs", Column: "creator_id"},
		TableColumnPair{Table: "external_user_monthly_reports", Column: "user_id"},
		TableColumnPair{Table: "external_user_monthly_reports", Column: "creator_id"},
		TableColumnPair{Table: "external_user_monthly_reports", Column: "updated_by"},
		TableColumnPair{Table: "user_feedbacks", Column: "user_id"},
		TableColumnPair{Table: "user_feedbacks", Column: "creator_id"},
		// products / promotions / misc
		TableColumnPair{Table: "workspace_products", Column: "creator_id"},
		TableColumnPair{Table: "workspace_promotions", Column: "creator_id"},
		TableColumnPair{Table: "workspace_promotions", Column: "owner_id"},
		TableColumnPair{Table: "healthcare_checkups", Column: "patient_id"},
		TableColumnPair{Table: "guest_users_lead_generation", Column: "user_id"},
		TableColumnPair{Table: "sent_emails", Column: "receiver_id"},
		// groups / posts / workforce
		TableColumnPair{Table: "user_group_post_logs", Column: "creator_id"},
		TableColumnPair{Table: "user_group_posts", Column: "creator_id"},
		TableColumnPair{Table: "user_group_posts", Column: "updated_by"},
		TableColumnPair{Table: "payroll_run_items", Column: "user_id"},
		TableColumnPair{Table: "workforce_contracts", Column: "user_id"},
		// composite key (user_id, group_id, indicator_id)
		TableColumnPair{Table: "user_indicators", Column: "creator_id", Unbatched: true},
	)
}

// Phase is one of the stored-procedure steps that run after Phase 1.
type Phase struct {
	Number    int
	Name      string
	Procedure string
}

// DefaultPhases are the stored procedures run after Phase 1, in order.
func DefaultPhases() []Phase {
	return []Phase{
		{Number: 2, Name: "Composite keys", Procedure: "merge_workspace_users_phase2"},
		{Number: 3, Name: "Custom fields", Procedure: "merge_workspace_users_phase3"},
		{Number: 4, Name: "Platform link", Procedure: "merge_workspace_users_phase4"},
		{Number: 5, Name: "Final cleanup", Procedure: "merge_workspace_users_phase5"},
	}
}

const (
	FirstProcedurePhase = 2
	FinalPhase          = 5
)

// CompositeTable is a membership table keyed by user_id plus Keys. Phase 2 moves its rows to the
// target and drops the source rows whose keys the target already holds.
type CompositeTable struct {
	Table string
	Keys  []string
}

// PKColumn names the key in the format the procedures report collisions with.
func (c CompositeTable) PKColumn() string {
	return "user_id," + strings.Join(c.Keys, ",")
}

// DefaultCompositeTables mirrors the list iterated by merge_workspace_users_phase2.
func DefaultCompositeTables() []CompositeTable {
	return []CompositeTable{
		{Table: "workspace_user_groups_users", Keys: []string{"group_id"}},
		{Table: "user_group_attendance", Keys: []string{"group_id", "date"}},
		{Table: "user_indicators", Keys: []string{"group_id", "indicator_id"}},
		{Table: "user_linked_promotions", Keys: []string{"promo_id"}},
		{Table: "user_group_post_checks", Keys: []string{"post_id"}},
	}
}
