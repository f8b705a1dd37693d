package database

import (
	"fmt"

	"github.com/huandu/go-sqlbuilder"
)

// Excluded references the proposed row inside an ON CONFLICT clause.
func Excluded(column string) string {
	return fmt.Sprintf("EXCLUDED.%s", column)
}

func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

func NewUpdateBuilder() *sqlbuilder.UpdateBuilder {
	return sqlbuilder.PostgreSQL.NewUpdateBuilder()
}

func NewInsertBuilder() *sqlbuilder.InsertBuilder {
	return sqlbuilder.PostgreSQL.NewInsertBuilder()
}

// QuoteIdent quotes a table or column name for direct interpolation.
func QuoteIdent(name string) string {
	return sqlbuilder.PostgreSQL.Quote(name)
}
