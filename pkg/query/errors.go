package query

import "errors"

// ErrorKind classifies execution-stage failures. Validation failures
// never take this path; they come back as data in a guard report.
type ErrorKind string

const (
	// ErrEngineUnreachable means the reachability probe failed before the
	// query was attempted.
	ErrEngineUnreachable ErrorKind = "engine_unreachable"

	// ErrQueryTimeout means the query lost the race against its deadline.
	ErrQueryTimeout ErrorKind = "query_timeout"

	// ErrExecutionFailed covers every other engine-side failure.
	ErrExecutionFailed ErrorKind = "execution_failed"
)

// Error is an execution-stage failure whose message is safe to echo to
// callers. Raw engine detail is logged server-side and never carried here.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// AsError unwraps err into an execution *Error when it is one.
func AsError(err error) (*Error, bool) {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr, true
	}
	return nil, false
}
