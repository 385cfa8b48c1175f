package sqlanalyzer

import (
	"fmt"

	"github.com/xwb1989/sqlparser"
)

// ErrorCode identifies a class of validation failure. Codes are stable
// strings so callers and audit records can match on them.
type ErrorCode string

const (
	CodeParseFailure       ErrorCode = "PARSE_FAILURE"
	CodeMultiStatement     ErrorCode = "MULTI_STATEMENT"
	CodeNonSelectStatement ErrorCode = "NON_SELECT_STATEMENT"
	CodeUnionNotAllowed    ErrorCode = "UNION_NOT_ALLOWED"
	CodeSubqueryNotAllowed ErrorCode = "SUBQUERY_NOT_ALLOWED"
	CodeDepthExceeded      ErrorCode = "DEPTH_EXCEEDED"

	// Codes produced by pipeline stages layered on top of structural
	// analysis. Declared here so the full vocabulary lives in one place.
	CodeDestructiveKeyword    ErrorCode = "DESTRUCTIVE_KEYWORD"
	CodeTableNotAllowed       ErrorCode = "TABLE_NOT_ALLOWED"
	CodeEmptyTenantScope      ErrorCode = "EMPTY_TENANT_SCOPE"
	CodeFilterInjectionFailed ErrorCode = "FILTER_INJECTION_FAILED"
)

// ValidationError is a single structured validation failure. Validation
// problems are returned as data, not thrown, so callers can present every
// problem found in one pass.
type ValidationError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a ValidationError with a formatted message.
func NewError(code ErrorCode, format string, args ...any) ValidationError {
	return ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StatementKind classifies the top-level statement form.
type StatementKind string

const (
	StatementSelect      StatementKind = "select"
	StatementUnion       StatementKind = "union"
	StatementInsert      StatementKind = "insert"
	StatementUpdate      StatementKind = "update"
	StatementDelete      StatementKind = "delete"
	StatementDDL         StatementKind = "ddl"
	StatementSet         StatementKind = "set"
	StatementShow        StatementKind = "show"
	StatementUse         StatementKind = "use"
	StatementTransaction StatementKind = "transaction"
	StatementOther       StatementKind = "other"
	StatementUnknown     StatementKind = "unknown"
)

// TableRef is a table referenced by a query, as written in the query text.
type TableRef struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
	Alias  string `json:"alias,omitempty"`
}

// Key returns the reference in the form used for allow-list lookups:
// "schema.name" when qualified, bare "name" otherwise.
func (r TableRef) Key() string {
	if r.Schema != "" {
		return r.Schema + "." + r.Name
	}
	return r.Name
}

func (r TableRef) String() string { return r.Key() }

// Result is the outcome of structural analysis of a single query.
//
// Valid is true exactly when Errors is empty. Statement is non-nil
// whenever the text parsed syntactically, even if the statement was then
// rejected on semantic grounds, so callers can inspect or transform the
// AST of rejected queries (audit, diagnostics).
type Result struct {
	Valid       bool                `json:"valid"`
	Errors      []ValidationError   `json:"errors,omitempty"`
	Statement   sqlparser.Statement `json:"-"`
	Tables      []TableRef          `json:"tables,omitempty"`
	HasUnion    bool                `json:"hasUnion"`
	HasSubquery bool                `json:"hasSubquery"`
	Kind        StatementKind       `json:"statementKind"`
}

func (r *Result) addError(code ErrorCode, format string, args ...any) {
	r.Errors = append(r.Errors, NewError(code, format, args...))
}

// addErrorOnce records an error only if no error with the same code is
// present. Walks may encounter the same rejected construct many times;
// one report per class is enough.
func (r *Result) addErrorOnce(code ErrorCode, format string, args ...any) {
	if r.HasCode(code) {
		return
	}
	r.addError(code, format, args...)
}

// HasCode reports whether an error with the given code was recorded.
func (r *Result) HasCode(code ErrorCode) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// TableKeys returns the lookup keys of every referenced table, in
// first-appearance order.
func (r *Result) TableKeys() []string {
	keys := make([]string, 0, len(r.Tables))
	for _, t := range r.Tables {
		keys = append(keys, t.Key())
	}
	return keys
}

func (r *Result) finish() *Result {
	r.Valid = len(r.Errors) == 0
	return r
}
