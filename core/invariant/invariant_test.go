package invariant_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/nxsh/core/invariant"
)

// capture runs fn and returns the *Violation it panicked with, or nil.
func capture(fn func()) (v *invariant.Violation) {
	defer func() {
		v = invariant.Recover(recover())
	}()
	fn()
	return nil
}

// TestPassingChecksDoNotPanic verifies every assertion is silent when satisfied
func TestPassingChecksDoNotPanic(t *testing.T) {
	v := capture(func() {
		invariant.Precondition(true, "ok")
		invariant.Postcondition(2+2 == 4, "math works")
		invariant.Invariant(5 > 4, "position advanced")
		invariant.NotNil(&struct{}{}, "ptr")
		invariant.InRange(3, 0, 10, "index")
		invariant.Positive(1, "id")
		invariant.ExpectNoError(nil, "noop")
		invariant.ContextNotNil(context.Background(), "test")
	})
	assert.Nil(t, v)
}

// TestViolationKinds verifies each assertion reports its own kind and message
func TestViolationKinds(t *testing.T) {
	var nilPtr *int
	tests := []struct {
		name    string
		fn      func()
		kind    string
		message string
	}{
		{"precondition", func() { invariant.Precondition(false, "pid must be positive, got %d", -1) }, "PRECONDITION", "pid must be positive, got -1"},
		{"postcondition", func() { invariant.Postcondition(false, "result") }, "POSTCONDITION", "result"},
		{"invariant", func() { invariant.Invariant(false, "counter moved backwards") }, "INVARIANT", "counter moved backwards"},
		{"nil interface", func() { invariant.NotNil(nil, "table") }, "PRECONDITION", "table must not be nil"},
		{"typed nil", func() { invariant.NotNil(nilPtr, "ptr") }, "PRECONDITION", "ptr must not be nil"},
		{"range", func() { invariant.InRange(11, 0, 10, "index") }, "PRECONDITION", "index must be in range [0, 10], got 11"},
		{"positive", func() { invariant.Positive(0, "id") }, "POSTCONDITION", "id must be positive, got 0"},
		{"error", func() { invariant.ExpectNoError(errors.New("boom"), "encode") }, "POSTCONDITION", "encode must not fail: boom"},
		{"nil context", func() { invariant.ContextNotNil(nil, "Execute") }, "PRECONDITION", "Execute: context must not be nil"}, //nolint:staticcheck
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := capture(tt.fn)
			require.NotNil(t, v)
			assert.Equal(t, tt.kind, v.Kind)
			assert.Equal(t, tt.message, v.Message)
			assert.Contains(t, v.Error(), tt.kind+" VIOLATION")
		})
	}
}

// TestViolationRecordsCallSite verifies the file:line points at the caller, not this package
func TestViolationRecordsCallSite(t *testing.T) {
	v := capture(func() { invariant.Invariant(false, "where") })
	require.NotNil(t, v)
	assert.True(t, strings.HasSuffix(v.File, "invariant_test.go"), "got %s", v.File)
	assert.Positive(t, v.Line)
	assert.Contains(t, v.Error(), fmt.Sprintf("\n  at %s:%d", v.File, v.Line))
}

// TestRecoverReraisesForeignPanics verifies only violations are swallowed
func TestRecoverReraisesForeignPanics(t *testing.T) {
	assert.PanicsWithValue(t, "not ours", func() {
		capture(func() { panic("not ours") })
	})
	assert.Nil(t, invariant.Recover(nil))
}

// TestRecoverUnwrapsWrappedViolation verifies a violation wrapped in an error is still recognised
func TestRecoverUnwrapsWrappedViolation(t *testing.T) {
	inner := &invariant.Violation{Kind: "INVARIANT", Message: "x"}
	v := capture(func() { panic(fmt.Errorf("outer: %w", inner)) })
	assert.Same(t, inner, v)
}

func ExamplePrecondition() {
	defer func() {
		v := invariant.Recover(recover())
		fmt.Println(v.Kind, v.Message)
	}()
	invariant.Precondition(false, "pid must be positive")
	// Output: PRECONDITION pid must be positive
}
