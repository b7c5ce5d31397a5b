package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse    Phase = "parse"    // container/image parsing
	PhaseDetect   Phase = "detect"   // story format detection
	PhaseLoad     Phase = "load"     // interpreter module loading
	PhaseRuntime  Phase = "runtime"  // interpreter execution
	PhaseProtocol Phase = "protocol" // wire encode/decode
	PhaseStorage  Phase = "storage"  // durable namespace access
	PhaseSession  Phase = "session"  // run setup and orchestration
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidData        Kind = "invalid_data"
	KindTruncated          Kind = "truncated"
	KindNotFound           Kind = "not_found"
	KindUnsupported        Kind = "unsupported"
	KindGenerationMismatch Kind = "generation_mismatch"
	KindNotInitialized     Kind = "not_initialized"
	KindInvalidInput       Kind = "invalid_input"
	KindRequestPending     Kind = "request_pending"
	KindInstantiation      Kind = "instantiation"
	KindIOFailure          Kind = "io_failure"
	KindTerminated         Kind = "terminated"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
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

// Is reports whether target matches this error by phase and kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
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

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
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

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{Phase: phase, Kind: KindInvalidData, Detail: detail}
}

// Truncated creates a truncated input error
func Truncated(phase Phase, what string, have, want int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTruncated,
		Detail: fmt.Sprintf("%s: have %d bytes, want %d", what, have, want),
	}
}

// NotFound creates a missing resource error
func NotFound(phase Phase, what string) *Error {
	return &Error{Phase: phase, Kind: KindNotFound, Detail: what}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{Phase: phase, Kind: KindUnsupported, Detail: what}
}

// GenerationMismatch creates a stale-generation error
func GenerationMismatch(have, want int) *Error {
	return &Error{
		Phase:  PhaseProtocol,
		Kind:   KindGenerationMismatch,
		Detail: fmt.Sprintf("event generation %d, current %d", have, want),
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, what string) *Error {
	return &Error{Phase: phase, Kind: KindNotInitialized, Detail: what + " not initialized"}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{Phase: phase, Kind: KindInvalidInput, Detail: detail}
}

// RequestPending reports a second input request while one is outstanding
func RequestPending(window uint32) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindRequestPending,
		Detail: fmt.Sprintf("input request already outstanding, window %d", window),
	}
}

// IOFailure wraps a host I/O error
func IOFailure(phase Phase, err error, detail string) *Error {
	return &Error{Phase: phase, Kind: KindIOFailure, Cause: err, Detail: detail}
}

// Wrap wraps err with phase and kind context
func Wrap(phase Phase, kind Kind, err error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Cause: err, Detail: detail}
}
