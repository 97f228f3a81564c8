package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that branch on outcome rather
// than message text.
type Kind string

const (
	// NotFound indicates an unknown claim or disaster identifier.
	NotFound Kind = "not_found"
	// MissingData indicates a required field was absent before a mutating step.
	MissingData Kind = "missing_data"
	// RateUnavailable indicates the price oracle could not supply a rate.
	RateUnavailable Kind = "rate_unavailable"
	// LedgerFailure covers connectivity, signing, receipt-status, and
	// missing-event failures against the chain.
	LedgerFailure Kind = "ledger_failure"
	// ParseError indicates an agent reply carried no usable number.
	ParseError Kind = "parse_error"
	// InvalidArgument indicates an unrecognised decision or input value.
	InvalidArgument Kind = "invalid_argument"
)

// Error is a classified failure. The wrapped cause, when present, is
// reachable through errors.Unwrap.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified failure without a cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and context to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind carried by err, unwrapping as needed.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
