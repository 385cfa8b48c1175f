package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// applyRowLimit bounds the statement's row count. A statement without a
// LIMIT gets want rows appended; an embedded LIMIT above max is clamped
// down to max; an embedded LIMIT at or below max is left untouched, so a
// caller's own limit is never raised. Returns the bounded SQL and the
// limit now in effect.
func applyRowLimit(sqlText string, want, max int) (string, int, error) {
	stmt, err := sqlparser.Parse(sqlText)
	if err != nil {
		return "", 0, fmt.Errorf("parsing statement for limit: %w", err)
	}
	sel, ok := innerSelect(stmt)
	if !ok {
		return "", 0, fmt.Errorf("statement is not a select")
	}

	if sel.Limit == nil {
		sel.Limit = &sqlparser.Limit{Rowcount: intVal(want)}
		return sqlparser.String(stmt), want, nil
	}

	current, ok := limitRowcount(sel.Limit)
	if !ok {
		// Non-literal row count; replace it with the hard ceiling.
		sel.Limit.Rowcount = intVal(max)
		return sqlparser.String(stmt), max, nil
	}
	if current > max {
		sel.Limit.Rowcount = intVal(max)
		return sqlparser.String(stmt), max, nil
	}
	return sqlText, current, nil
}

// innerSelect unwraps redundant parentheses around a top-level SELECT.
func innerSelect(stmt sqlparser.Statement) (*sqlparser.Select, bool) {
	for {
		switch s := stmt.(type) {
		case *sqlparser.Select:
			return s, true
		case *sqlparser.ParenSelect:
			stmt = s.Select
		default:
			return nil, false
		}
	}
}

// limitRowcount reads the literal row count from a LIMIT clause.
func limitRowcount(limit *sqlparser.Limit) (int, bool) {
	val, ok := limit.Rowcount.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.IntVal {
		return 0, false
	}
	n, err := strconv.Atoi(string(val.Val))
	if err != nil {
		return 0, false
	}
	return n, true
}

func intVal(n int) *sqlparser.SQLVal {
	return sqlparser.NewIntVal([]byte(strconv.Itoa(n)))
}

// appendLimit is the textual fallback for statements that cannot be
// re-parsed. Secured SQL always re-parses, so the normal pipeline never
// lands here.
func appendLimit(sqlText string, limit int) string {
	trimmed := strings.TrimRight(strings.TrimSpace(sqlText), ";")
	return fmt.Sprintf("%s limit %d", strings.TrimSpace(trimmed), limit)
}
