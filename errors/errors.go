package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseRegister Phase = "register" // op registration
	PhaseDispatch Phase = "dispatch" // op dispatch
	PhaseDecode   Phase = "decode"   // wire args to handler args
	PhaseEncode   Phase = "encode"   // handler result to wire
	PhaseResource Phase = "resource" // resource table operations
	PhaseLoop     Phase = "loop"     // event loop driver
	PhaseSnapshot Phase = "snapshot" // snapshot create/restore
	PhaseEngine   Phase = "engine"   // embedded engine operations
)

// Kind categorizes the error. Kind strings are stable and cross the
// script/host boundary verbatim as the error-kind field of rejected calls.
type Kind string

const (
	KindUnknownOp            Kind = "unknown_op"
	KindDuplicateOp          Kind = "duplicate_op"
	KindMalformedArgs        Kind = "malformed_args"
	KindBadResource          Kind = "bad_resource"
	KindHandlerFailure       Kind = "handler_failure"
	KindIncompatibleSnapshot Kind = "incompatible_snapshot"
	KindDeadlockDetected     Kind = "deadlock_detected"
	KindShuttingDown         Kind = "instance_shutting_down"
	// KindCancelled is a normal early-exit signal for cooperating async
	// tasks, not a failure.
	KindCancelled Kind = "cancelled"
)

// Error is the structured error type used throughout the core.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" op ")
		b.WriteString(e.Op)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Fatal reports whether the error invalidates the engine instance.
// Fatal errors require teardown; everything else is recoverable and is
// surfaced to scripted code as a rejected call.
func (e *Error) Fatal() bool {
	return e.Kind == KindDeadlockDetected || e.Kind == KindIncompatibleSnapshot
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the op name the error is attributed to
func (b *Builder) Op(name string) *Builder {
	b.err.Op = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// UnknownOp creates a dispatch error for an unregistered op id
func UnknownOp(id uint32) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindUnknownOp,
		Detail: fmt.Sprintf("op id %d is not registered", id),
	}
}

// DuplicateOp creates a registration error for a reused op name
func DuplicateOp(name string) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindDuplicateOp,
		Op:     name,
		Detail: "op name already registered",
	}
}

// Sealed creates a registration error for register-after-seal
func Sealed(name string) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindDuplicateOp,
		Op:     name,
		Detail: "registry is sealed",
	}
}

// MalformedArgs creates a dispatch error for undecodable arguments
func MalformedArgs(op string, cause error) *Error {
	return &Error{
		Phase: PhaseDecode,
		Kind:  KindMalformedArgs,
		Op:    op,
		Cause: cause,
	}
}

// BadResource creates the error for an unknown or already-closed handle.
// This is the most common user-visible op error, so it stays allocation-light.
func BadResource(handle uint32) *Error {
	return &Error{
		Phase:  PhaseResource,
		Kind:   KindBadResource,
		Detail: fmt.Sprintf("handle %d", handle),
	}
}

// HandlerFailure wraps an op-specific failure so it crosses the boundary
// as a tagged error value rather than a raw exception
func HandlerFailure(op string, cause error) *Error {
	return &Error{
		Phase: PhaseDispatch,
		Kind:  KindHandlerFailure,
		Op:    op,
		Cause: cause,
	}
}

// IncompatibleSnapshot creates the fatal restore-time version error
func IncompatibleSnapshot(detail string) *Error {
	return &Error{
		Phase:  PhaseSnapshot,
		Kind:   KindIncompatibleSnapshot,
		Detail: detail,
	}
}

// DeadlockDetected creates the fatal no-progress error
func DeadlockDetected(outstanding int) *Error {
	return &Error{
		Phase:  PhaseLoop,
		Kind:   KindDeadlockDetected,
		Detail: fmt.Sprintf("%d async task(s) can never complete", outstanding),
	}
}

// ShuttingDown creates the rejection delivered to tokens left outstanding
// at instance teardown
func ShuttingDown() *Error {
	return &Error{
		Phase:  PhaseLoop,
		Kind:   KindShuttingDown,
		Detail: "engine instance is shutting down",
	}
}

// Cancelled creates the normal early-exit signal for cooperating tasks
func Cancelled() *Error {
	return &Error{
		Phase:  PhaseLoop,
		Kind:   KindCancelled,
		Detail: "cancellation requested",
	}
}

// Classify maps an arbitrary handler error to its boundary representation:
// a stable kind string plus a human-readable message. Structured errors
// keep their own kind; everything else becomes a handler failure.
func Classify(err error) (kind string, message string) {
	if e, ok := err.(*Error); ok {
		msg := e.Detail
		if msg == "" && e.Cause != nil {
			msg = e.Cause.Error()
		}
		return string(e.Kind), msg
	}
	return string(KindHandlerFailure), err.Error()
}
