// Package sqlanalyzer parses machine-generated SQL and reports everything
// a security gateway needs to know about it: statement kind, referenced
// tables, set operations, nested queries, and a structured list of
// validation failures. Analysis never executes anything and never throws;
// all problems come back as data on the Result.
package sqlanalyzer

import (
	"strings"

	"github.com/xwb1989/sqlparser"
)

// maxWalkDepth bounds AST recursion over attacker-influenced input.
// Exceeding it is a validation failure, not a stack fault.
const maxWalkDepth = 64

// Parse analyzes a single SQL statement. The returned Result is never nil.
//
// Checks run in a fixed order: multi-statement detection, syntactic parse,
// statement-kind gate, then structural walks over the SELECT tree. A query
// containing multiple statements is rejected outright; the gateway never
// silently executes only the first piece.
func Parse(sql string) *Result {
	res := &Result{Kind: StatementUnknown}

	if pieces, err := sqlparser.SplitStatementToPieces(sql); err == nil {
		n := 0
		for _, p := range pieces {
			if strings.TrimSpace(p) != "" {
				n++
			}
		}
		if n > 1 {
			res.addError(CodeMultiStatement,
				"query contains %d statements, exactly one is allowed", n)
			return res.finish()
		}
	}
	// A split error means the lexer choked; Parse below reports it.

	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		res.addError(CodeParseFailure, "syntax error: %v", err)
		return res.finish()
	}
	res.Statement = stmt
	res.Kind = Classify(stmt)

	switch s := stmt.(type) {
	case *sqlparser.Select:
		newWalker(res).selectStmt(s, 0)
	case *sqlparser.ParenSelect:
		newWalker(res).selectStatement(s.Select, 0)
	case *sqlparser.Union:
		// Walk both branches anyway so Tables reports everything the
		// rejected query touches.
		newWalker(res).selectStatement(s, 0)
	default:
		res.addError(CodeNonSelectStatement,
			"statement kind %q is not allowed, only select queries are accepted", res.Kind)
	}

	return res.finish()
}

// Classify maps a parsed statement to its kind. The switch is exhaustive
// over the parser's statement surface; anything unrecognized classifies as
// other, which downstream gates reject.
func Classify(stmt sqlparser.Statement) StatementKind {
	switch stmt.(type) {
	case *sqlparser.Select, *sqlparser.ParenSelect:
		return StatementSelect
	case *sqlparser.Union:
		return StatementUnion
	case *sqlparser.Insert:
		return StatementInsert
	case *sqlparser.Update:
		return StatementUpdate
	case *sqlparser.Delete:
		return StatementDelete
	case *sqlparser.DDL, *sqlparser.DBDDL:
		return StatementDDL
	case *sqlparser.Set:
		return StatementSet
	case *sqlparser.Show:
		return StatementShow
	case *sqlparser.Use:
		return StatementUse
	case *sqlparser.Begin, *sqlparser.Commit, *sqlparser.Rollback:
		return StatementTransaction
	default:
		return StatementOther
	}
}
