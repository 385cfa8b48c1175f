package sqlanalyzer

import (
	"strings"

	"github.com/xwb1989/sqlparser"
)

// walker collects table references and flags rejected constructs. It
// descends FROM slots, WHERE/HAVING trees, JOIN ON conditions, both
// operands of binary expressions, and IN-list elements. Subqueries are
// flagged wherever found, and their contents are still walked so the
// table list covers every reference the query makes.
type walker struct {
	res  *Result
	seen map[string]bool
}

func newWalker(res *Result) *walker {
	return &walker{res: res, seen: make(map[string]bool)}
}

func (w *walker) selectStatement(ss sqlparser.SelectStatement, depth int) {
	if w.exceeded(depth) || ss == nil {
		return
	}
	switch s := ss.(type) {
	case *sqlparser.Select:
		w.selectStmt(s, depth)
	case *sqlparser.ParenSelect:
		w.selectStatement(s.Select, depth+1)
	case *sqlparser.Union:
		w.res.HasUnion = true
		w.res.addErrorOnce(CodeUnionNotAllowed,
			"set operations (union) are not allowed")
		w.selectStatement(s.Left, depth+1)
		w.selectStatement(s.Right, depth+1)
	}
}

func (w *walker) selectStmt(s *sqlparser.Select, depth int) {
	if w.exceeded(depth) {
		return
	}
	for _, te := range s.From {
		w.tableExpr(te, depth+1)
	}
	if s.Where != nil {
		w.predicate(s.Where.Expr, depth+1)
	}
	if s.Having != nil {
		w.predicate(s.Having.Expr, depth+1)
	}
}

func (w *walker) tableExpr(te sqlparser.TableExpr, depth int) {
	if w.exceeded(depth) {
		return
	}
	switch t := te.(type) {
	case *sqlparser.AliasedTableExpr:
		switch expr := t.Expr.(type) {
		case sqlparser.TableName:
			w.addTable(expr, t.As.String())
		case *sqlparser.Subquery:
			w.markSubquery()
			w.selectStatement(expr.Select, depth+1)
		default:
			w.res.addErrorOnce(CodeParseFailure,
				"unsupported table expression in FROM clause")
		}
	case *sqlparser.ParenTableExpr:
		for _, inner := range t.Exprs {
			w.tableExpr(inner, depth+1)
		}
	case *sqlparser.JoinTableExpr:
		w.tableExpr(t.LeftExpr, depth+1)
		w.tableExpr(t.RightExpr, depth+1)
		if t.Condition.On != nil {
			w.predicate(t.Condition.On, depth+1)
		}
	default:
		w.res.addErrorOnce(CodeParseFailure,
			"unsupported table expression in FROM clause")
	}
}

// predicate descends an expression tree looking for nested selects.
// Scalar leaves (columns, literals, function calls) terminate the walk;
// none of the positions this gateway guards can hide a statement there.
func (w *walker) predicate(expr sqlparser.Expr, depth int) {
	if expr == nil || w.exceeded(depth) {
		return
	}
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		w.predicate(e.Left, depth+1)
		w.predicate(e.Right, depth+1)
	case *sqlparser.OrExpr:
		w.predicate(e.Left, depth+1)
		w.predicate(e.Right, depth+1)
	case *sqlparser.NotExpr:
		w.predicate(e.Expr, depth+1)
	case *sqlparser.ParenExpr:
		w.predicate(e.Expr, depth+1)
	case *sqlparser.ComparisonExpr:
		w.predicate(e.Left, depth+1)
		w.predicate(e.Right, depth+1)
	case *sqlparser.RangeCond:
		w.predicate(e.Left, depth+1)
		w.predicate(e.From, depth+1)
		w.predicate(e.To, depth+1)
	case *sqlparser.IsExpr:
		w.predicate(e.Expr, depth+1)
	case *sqlparser.ExistsExpr:
		w.markSubquery()
		w.selectStatement(e.Subquery.Select, depth+1)
	case *sqlparser.Subquery:
		w.markSubquery()
		w.selectStatement(e.Select, depth+1)
	case sqlparser.ValTuple:
		for _, v := range e {
			w.predicate(v, depth+1)
		}
	case *sqlparser.BinaryExpr:
		w.predicate(e.Left, depth+1)
		w.predicate(e.Right, depth+1)
	case *sqlparser.UnaryExpr:
		w.predicate(e.Expr, depth+1)
	}
}

func (w *walker) addTable(tn sqlparser.TableName, alias string) {
	name := tn.Name.String()
	if name == "" {
		return
	}
	ref := TableRef{
		Schema: tn.Qualifier.String(),
		Name:   name,
		Alias:  alias,
	}
	key := strings.ToLower(ref.Key())
	if w.seen[key] {
		return
	}
	w.seen[key] = true
	w.res.Tables = append(w.res.Tables, ref)
}

func (w *walker) markSubquery() {
	w.res.HasSubquery = true
	w.res.addErrorOnce(CodeSubqueryNotAllowed, "subqueries are not allowed")
}

func (w *walker) exceeded(depth int) bool {
	if depth <= maxWalkDepth {
		return false
	}
	w.res.addErrorOnce(CodeDepthExceeded,
		"statement nesting exceeds %d levels", maxWalkDepth)
	return true
}
