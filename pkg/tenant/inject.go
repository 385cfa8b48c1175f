// Package tenant grafts the tenant-isolation predicate onto SELECT
// statements. Every result row in this deployment belongs to a practice,
// so every executed query must be scoped to the caller's practice ids.
package tenant

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/xwb1989/sqlparser"
)

// Column is the tenant discriminator present on every queryable table.
const Column = "practice_uid"

var (
	// ErrNoStatement is returned for a nil statement.
	ErrNoStatement = errors.New("no statement to scope")
	// ErrEmptyScope is returned for an empty practice id set. An empty set
	// never widens to "all tenants"; callers must treat this as a hard stop.
	ErrEmptyScope = errors.New("empty practice id set")
)

// InjectFilter adds the tenant predicate to stmt and returns the
// re-serialized SQL. One practice id becomes an equality, several become
// an IN list carrying the ids exactly as given, without de-duplication or
// truncation. An existing WHERE clause is preserved as the left operand:
// (existing) and (tenant predicate).
//
// The statement is modified in place. On error the returned SQL is empty;
// there is no code path that yields the input unscoped, so a caller that
// ignores the error has nothing to execute.
func InjectFilter(stmt sqlparser.Statement, practiceIDs []int64) (string, error) {
	if stmt == nil {
		return "", ErrNoStatement
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return "", fmt.Errorf("tenant filter requires a select statement, got %T", stmt)
	}
	if len(practiceIDs) == 0 {
		return "", ErrEmptyScope
	}

	predicate := scopePredicate(practiceIDs)
	if sel.Where == nil {
		sel.Where = sqlparser.NewWhere(sqlparser.WhereStr, predicate)
	} else {
		sel.Where.Expr = &sqlparser.AndExpr{
			Left:  &sqlparser.ParenExpr{Expr: sel.Where.Expr},
			Right: &sqlparser.ParenExpr{Expr: predicate},
		}
	}

	return sqlparser.String(sel), nil
}

func scopePredicate(ids []int64) sqlparser.Expr {
	col := &sqlparser.ColName{Name: sqlparser.NewColIdent(Column)}

	if len(ids) == 1 {
		return &sqlparser.ComparisonExpr{
			Operator: sqlparser.EqualStr,
			Left:     col,
			Right:    intVal(ids[0]),
		}
	}

	tuple := make(sqlparser.ValTuple, 0, len(ids))
	for _, id := range ids {
		tuple = append(tuple, intVal(id))
	}
	return &sqlparser.ComparisonExpr{
		Operator: sqlparser.InStr,
		Left:     col,
		Right:    tuple,
	}
}

func intVal(id int64) *sqlparser.SQLVal {
	return sqlparser.NewIntVal([]byte(strconv.FormatInt(id, 10)))
}
