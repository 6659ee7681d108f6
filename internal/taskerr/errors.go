// Package taskerr defines the typed error model shared by every taskmaster
// component.
//
// Every failure carries a Kind (the subsystem that raised it), a stable
// machine-readable Code, a human message, optional structured Details, and an
// optional wrapped Cause. The dispatcher converts these into the response
// envelope; transports never see a bare error.
package taskerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind groups error codes by subsystem.
type Kind string

const (
	KindSession       Kind = "session"
	KindTask          Kind = "task"
	KindValidation    Kind = "validation"
	KindCapability    Kind = "capability"
	KindCommand       Kind = "command"
	KindConfiguration Kind = "configuration"
	KindGeneric       Kind = "generic"
)

// Code is a stable machine-readable error code.
type Code string

// Session codes.
const (
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeSessionCorrupt   Code = "SESSION_CORRUPT"
	CodeSessionCompleted Code = "SESSION_COMPLETED"
	CodeSessionPaused    Code = "SESSION_PAUSED"
	CodeSessionNotPaused Code = "SESSION_NOT_PAUSED"
	CodeStaleSession     Code = "STALE_SESSION"
	CodeNoSession        Code = "NO_ACTIVE_SESSION"
	CodeInvalidSessionID Code = "INVALID_SESSION_ID"
	CodePersistFailed    Code = "PERSIST_FAILED"
	CodeSnapshotNotFound Code = "SNAPSHOT_NOT_FOUND"
)

// Task codes.
const (
	CodeTaskNotFound     Code = "TASK_NOT_FOUND"
	CodeNoActiveTask     Code = "NO_ACTIVE_TASK"
	CodePhaseOrder       Code = "PHASE_ORDER"
	CodeTaskNotEditable  Code = "TASK_NOT_EDITABLE"
	CodeInvalidState     Code = "INVALID_STATE"
	CodeInvariantBroken  Code = "INVARIANT_VIOLATION"
	CodeEmptyTaskList    Code = "EMPTY_TASK_LIST"
	CodeDuplicateTaskIDs Code = "DUPLICATE_TASK_ID"
)

// Validation codes.
const (
	CodeValidationPending Code = "VALIDATION_PENDING"
	CodeValidationFailed  Code = "VALIDATION_FAILED"
	CodeReviewNotApproved Code = "REVIEW_NOT_APPROVED"
	CodeReviewExhausted   Code = "REVIEW_EXHAUSTED"
	CodeUnknownRule       Code = "UNKNOWN_RULE"
	CodeInvalidRule       Code = "INVALID_RULE"
)

// Capability codes.
const (
	CodeCapabilitiesNotDeclared Code = "CAPABILITIES_NOT_DECLARED"
	CodeUnknownCapability       Code = "UNKNOWN_CAPABILITY"
	CodeInvalidCapability       Code = "INVALID_CAPABILITY"
)

// Command codes.
const (
	CodeUnknownCommand Code = "UNKNOWN_COMMAND"
	CodeInvalidPayload Code = "INVALID_PAYLOAD"
)

// Configuration and generic codes.
const (
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeInternal      Code = "INTERNAL"
)

// Error is the typed error carried through every layer.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Code))
	b.WriteString("] ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same Code, so callers can compare against
// a template such as &Error{Code: CodeSessionNotFound}.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns e with key set in its Details map.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause attaches the wrapped cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// New creates an error of the given kind and code.
func New(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates an error that wraps cause.
func Wrap(kind Kind, code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Kind-scoped constructors.

func SessionError(code Code, format string, args ...any) *Error {
	return New(KindSession, code, format, args...)
}

func TaskError(code Code, format string, args ...any) *Error {
	return New(KindTask, code, format, args...)
}

func ValidationError(code Code, format string, args ...any) *Error {
	return New(KindValidation, code, format, args...)
}

func CapabilityError(code Code, format string, args ...any) *Error {
	return New(KindCapability, code, format, args...)
}

func CommandError(code Code, format string, args ...any) *Error {
	return New(KindCommand, code, format, args...)
}

func ConfigError(format string, args ...any) *Error {
	return New(KindConfiguration, CodeConfigInvalid, format, args...)
}

// Internal wraps an unexpected failure as a generic error.
func Internal(cause error, format string, args ...any) *Error {
	return Wrap(KindGeneric, CodeInternal, cause, format, args...)
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// From returns err as an *Error, wrapping foreign errors as generic/INTERNAL.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Internal(err, "internal error")
}

// KindOf returns the kind of err, or KindGeneric for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindGeneric
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries code anywhere in its chain.
func IsCode(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
