// Package failure defines the typed error kinds shared by every orchestration
// component. Callers match kinds with errors.Is against the exported sentinels
// or resolve them with KindOf.
package failure

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindProviderUnavailable   Kind = "provider_unavailable"
	KindProviderRequestFailed Kind = "provider_request_failed"
	KindRateLimitExceeded     Kind = "rate_limit_exceeded"
	KindAgentNotFound         Kind = "agent_not_found"
	KindAgentBusy             Kind = "agent_busy"
	KindForbidden             Kind = "forbidden"
	KindTaskTimeout           Kind = "task_timeout"
	KindWorkflowStepFailed    Kind = "workflow_step_failed"
	KindSessionAlreadyActive  Kind = "session_already_active"
	KindSessionNotRunning     Kind = "session_not_running"
	KindValidation            Kind = "validation_error"
	KindNotFound              Kind = "not_found"
	KindCancelled             Kind = "cancelled"
	KindInternal              Kind = "internal"
)

// Sentinels for errors.Is matching. Any *Error with the same kind matches.
var (
	ErrProviderUnavailable   = &Error{Kind: KindProviderUnavailable}
	ErrProviderRequestFailed = &Error{Kind: KindProviderRequestFailed}
	ErrRateLimitExceeded     = &Error{Kind: KindRateLimitExceeded}
	ErrAgentNotFound         = &Error{Kind: KindAgentNotFound}
	ErrAgentBusy             = &Error{Kind: KindAgentBusy}
	ErrForbidden             = &Error{Kind: KindForbidden}
	ErrTaskTimeout           = &Error{Kind: KindTaskTimeout}
	ErrWorkflowStepFailed    = &Error{Kind: KindWorkflowStepFailed}
	ErrSessionAlreadyActive  = &Error{Kind: KindSessionAlreadyActive}
	ErrSessionNotRunning     = &Error{Kind: KindSessionNotRunning}
	ErrValidation            = &Error{Kind: KindValidation}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrCancelled             = &Error{Kind: KindCancelled}
)

// Kinded is implemented by errors that carry a failure kind.
type Kinded interface {
	FailureKind() Kind
}

// Error is a failure with a kind, a human readable detail and an optional cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// New creates a failure of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates a failure of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a failure of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// FailureKind implements Kinded.
func (e *Error) FailureKind() Kind {
	return e.Kind
}

// KindOf returns the kind of the outermost kinded error in err's chain,
// or KindInternal when none is present.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.FailureKind()
	}
	return KindInternal
}

// Detail returns the detail message of the outermost *Error, or err.Error().
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Detail != "" {
		return fe.Detail
	}
	return err.Error()
}

// Validation is shorthand for a validation failure.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}
