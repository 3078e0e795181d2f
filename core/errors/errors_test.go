package errors_test

import (
	stderrors "errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/nxsh/core/errors"
)

// TestShellErrorFormatting verifies message layout with and without a cause
func TestShellErrorFormatting(t *testing.T) {
	t.Parallel()

	plain := errors.New(errors.KindParse, "unexpected node %T", 42)
	assert.Equal(t, "PARSE_ERROR: unexpected node int", plain.Error())

	wrapped := errors.Wrap(errors.KindSpawn, os.ErrPermission, "cannot run %s", "./x")
	assert.Equal(t, "SPAWN_ERROR: cannot run ./x (caused by: permission denied)", wrapped.Error())
	assert.ErrorIs(t, wrapped, os.ErrPermission)
}

// TestShellErrorMatchesByKind verifies errors.Is compares kinds through wrapping
func TestShellErrorMatchesByKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("run: %w", errors.NewTimeout("sleep"))

	assert.True(t, stderrors.Is(err, &errors.ShellError{Kind: errors.KindTimeout}))
	assert.False(t, stderrors.Is(err, &errors.ShellError{Kind: errors.KindSpawn}))
	assert.True(t, errors.IsKind(err, errors.KindTimeout))

	kind, ok := errors.KindOf(stderrors.New("plain"))
	assert.False(t, ok)
	assert.Empty(t, kind)
}

// TestConstructorsCarryContext verifies the helper constructors fill context keys
func TestConstructorsCarryContext(t *testing.T) {
	t.Parallel()

	nf := errors.NewCommandNotFound("ehco", []string{"echo"})
	assert.Equal(t, "ehco: command not found", nf.Message)
	assert.Equal(t, []string{"echo"}, nf.Context["suggestions"])

	global := errors.NewTimeout("")
	assert.Equal(t, "execution timed out", global.Message)
	_, has := global.Context["command"]
	assert.False(t, has)

	cmd := errors.NewTimeout("sleep")
	require.Equal(t, "sleep", cmd.Context["command"])
	assert.Equal(t, "command 'sleep' timed out", cmd.Message)
}
