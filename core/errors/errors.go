// Package errors defines the structured error type surfaced by the shell core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a ShellError.
type Kind string

const (
	// KindParse marks a malformed or unexpected AST node. Fatal for the
	// current statement only.
	KindParse Kind = "PARSE_ERROR"
	// KindSpawn marks a process that could not be launched.
	KindSpawn Kind = "SPAWN_ERROR"
	// KindTimeout marks a global deadline or per-command budget expiry.
	KindTimeout Kind = "TIMEOUT_ERROR"
	// KindInternal marks a broken invariant inside the core.
	KindInternal Kind = "INTERNAL_ERROR"
	// KindRuntime covers failures raised by builtins and evaluation,
	// e.g. assigning to a readonly variable.
	KindRuntime Kind = "RUNTIME_ERROR"
)

// Exit codes reported alongside errors.
const (
	ExitUsage       = 2
	ExitNotRunnable = 126
	ExitNotFound    = 127
	ExitTimeout     = 124
)

// ShellError represents a structured error with a kind and context
type ShellError struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

func (e *ShellError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ShellError) Unwrap() error {
	return e.Cause
}

// Is matches another *ShellError by kind, so callers can write
// errors.Is(err, &ShellError{Kind: KindTimeout}).
func (e *ShellError) Is(target error) bool {
	t, ok := target.(*ShellError)
	return ok && t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New creates a ShellError.
func New(kind Kind, format string, args ...any) *ShellError {
	return &ShellError{Kind: kind, Message: fmt.Sprintf(format, args...), Context: map[string]any{}}
}

// Wrap creates a ShellError wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *ShellError {
	e := New(kind, format, args...)
	e.Cause = cause
	return e
}

// WithContext adds context information to the error
func (e *ShellError) WithContext(key string, value any) *ShellError {
	e.Context[key] = value
	return e
}

// NewCommandNotFound reports a command that resolves to nothing. The
// suggestions, if any, are stored under "suggestions".
func NewCommandNotFound(name string, suggestions []string) *ShellError {
	return New(KindSpawn, "%s: command not found", name).
		WithContext("command", name).
		WithContext("suggestions", suggestions)
}

// NewTimeout reports a deadline expiry. An empty command means the global
// deadline fired.
func NewTimeout(command string) *ShellError {
	if command == "" {
		return New(KindTimeout, "execution timed out")
	}
	return New(KindTimeout, "command '%s' timed out", command).WithContext("command", command)
}

// KindOf returns the kind of the first ShellError in err's chain.
func KindOf(err error) (Kind, bool) {
	var se *ShellError
	if stderrors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries a ShellError of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
