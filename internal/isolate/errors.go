package isolate

import (
	"fmt"
	"strings"
)

// Kind categorizes an isolate error.
type Kind string

const (
	// KindInvalidArgument marks arguments rejected before any guest interaction.
	KindInvalidArgument Kind = "invalid_argument"

	// KindLimitExceeded marks identifiers or sources beyond the engine's
	// maximum representable length, rejected before compilation.
	KindLimitExceeded Kind = "limit_exceeded"

	// KindCompile carries a guest syntax/reference diagnostic.
	KindCompile Kind = "compile"

	// KindCrossContext marks a script executed against a context it does
	// not belong to. Always a caller bug.
	KindCrossContext Kind = "cross_context"

	// KindResourceTermination marks a watchdog-forced abort. Fatal to the
	// one execution only; the context remains usable.
	KindResourceTermination Kind = "resource_termination"

	// KindGuestException wraps an error thrown by guest script code.
	KindGuestException Kind = "guest_exception"

	// KindResource marks a failure to allocate or seed a guest environment.
	KindResource Kind = "resource"

	// KindContextClosed marks use of a context (or a proxy bound to one)
	// after teardown.
	KindContextClosed Kind = "context_closed"

	// KindInvalidSnapshot marks a malformed or unverifiable snapshot blob.
	KindInvalidSnapshot Kind = "invalid_snapshot"

	// KindModule marks a module resolution or loading failure.
	KindModule Kind = "module"
)

// TerminationReason says which budget a terminated execution exhausted.
type TerminationReason string

const (
	ReasonTime   TerminationReason = "time"
	ReasonMemory TerminationReason = "memory"
)

// Error is the structured error type used throughout the package.
type Error struct {
	Kind   Kind
	Detail string
	Reason TerminationReason // set for KindResourceTermination
	Stack  string            // guest stack trace, when available
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteByte('/')
		b.WriteString(string(e.Reason))
	}
	b.WriteString("] ")
	b.WriteString(e.Detail)
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind, so callers can test categories with errors.Is.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind && (t.Reason == "" || e.Reason == t.Reason)
	}
	return false
}

func errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, cause error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}
