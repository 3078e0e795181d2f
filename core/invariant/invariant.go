// Package invariant provides contract assertions for the shell core.
//
// Assertions guard programming errors, not user errors. A failed check panics
// with a *Violation, which the executor recovers at its call boundary and
// reports as an internal error without touching shared state such as the job
// table.
package invariant

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
)

// Violation is the panic value raised by every failed assertion.
type Violation struct {
	Kind    string // PRECONDITION, POSTCONDITION or INVARIANT
	Message string
	File    string
	Line    int
}

func (v *Violation) Error() string {
	if v.File == "" {
		return fmt.Sprintf("%s VIOLATION: %s", v.Kind, v.Message)
	}
	return fmt.Sprintf("%s VIOLATION: %s\n  at %s:%d", v.Kind, v.Message, v.File, v.Line)
}

// Precondition checks an input contract at function entry.
//
//	func (t *Table) Add(pid int, cmd string) uint32 {
//	    invariant.Precondition(pid > 0, "pid must be positive, got %d", pid)
//	    ...
//	}
func Precondition(condition bool, format string, args ...any) {
	if !condition {
		fail("PRECONDITION", format, args...)
	}
}

// Postcondition checks an output contract before function return.
func Postcondition(condition bool, format string, args ...any) {
	if !condition {
		fail("POSTCONDITION", format, args...)
	}
}

// Invariant checks internal consistency during execution, e.g. that an
// SSA counter only moves forward.
func Invariant(condition bool, format string, args ...any) {
	if !condition {
		fail("INVARIANT", format, args...)
	}
}

// NotNil panics if value is nil, including typed nils such as (*T)(nil).
func NotNil(value any, name string) {
	if value == nil || isNilValue(value) {
		fail("PRECONDITION", "%s must not be nil", name)
	}
}

func isNilValue(value any) bool {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// InRange panics if value is outside [minVal, maxVal].
func InRange(value, minVal, maxVal int, name string) {
	if value < minVal || value > maxVal {
		fail("PRECONDITION", "%s must be in range [%d, %d], got %d",
			name, minVal, maxVal, value)
	}
}

// Positive panics if value <= 0. Typically used on freshly allocated ids.
func Positive(value int, name string) {
	if value <= 0 {
		fail("POSTCONDITION", "%s must be positive, got %d", name, value)
	}
}

// ExpectNoError panics if err is not nil.
func ExpectNoError(err error, msg string) {
	if err != nil {
		fail("POSTCONDITION", "%s must not fail: %v", msg, err)
	}
}

// ContextNotNil panics if ctx is nil. Blocking operations take a context from
// their caller; a nil one means the caller skipped propagation.
func ContextNotNil(ctx context.Context, location string) {
	if ctx == nil {
		fail("PRECONDITION", "%s: context must not be nil", location)
	}
}

// Recover converts a recovered panic value into a *Violation. Panics that did
// not come from this package are re-raised.
//
//	defer func() {
//	    if v := invariant.Recover(recover()); v != nil {
//	        err = v
//	    }
//	}()
func Recover(r any) *Violation {
	if r == nil {
		return nil
	}
	if v, ok := r.(*Violation); ok {
		return v
	}
	if err, ok := r.(error); ok {
		var v *Violation
		if errors.As(err, &v) {
			return v
		}
	}
	panic(r)
}

func fail(kind, format string, args ...any) {
	v := &Violation{Kind: kind, Message: fmt.Sprintf(format, args...)}

	// Skip runtime.Callers, fail and the exported wrapper.
	pc := make([]uintptr, 1)
	if runtime.Callers(3, pc) > 0 {
		frame, _ := runtime.CallersFrames(pc).Next()
		v.File, v.Line = frame.File, frame.Line
	}

	panic(v)
}
