package builtins

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/nxsh/runtime/jobs"
	"github.com/opal-lang/nxsh/runtime/shell"
	"github.com/opal-lang/nxsh/runtime/trap"
)

type run struct {
	code   int
	err    error
	stdout string
	stderr string
}

func exec(t *testing.T, r *Registry, sh *shell.Context, name string, args ...string) run {
	t.Helper()
	b, ok := r.Lookup(name)
	require.True(t, ok, "builtin %s not registered", name)
	var out, errOut bytes.Buffer
	code, err := b.Execute(context.Background(), sh, IO{Stdout: &out, Stderr: &errOut}, args)
	return run{code: code, err: err, stdout: out.String(), stderr: errOut.String()}
}

// TestRegistryMetadata verifies lookups and the state-mutation flag
func TestRegistryMetadata(t *testing.T) {
	t.Parallel()

	r := Core(jobs.NewTable(), nil)
	assert.Contains(t, r.Names(), "echo")
	assert.Contains(t, r.Names(), "jobs")
	assert.NotContains(t, r.Names(), "trap")

	e, _ := r.Lookup("echo")
	assert.False(t, e.AffectsShellState())
	assert.Equal(t, "echo [-n] [arg ...]", e.Usage())
	s, _ := r.Lookup("set")
	assert.True(t, s.AffectsShellState())
	assert.NotEmpty(t, s.Help())
	assert.NotEmpty(t, s.Synopsis())

	_, ok := r.Lookup("nope")
	assert.False(t, ok)
}

// TestEcho verifies joining and -n
func TestEcho(t *testing.T) {
	t.Parallel()

	r := Core(nil, nil)
	sh := shell.New(nil)
	assert.Equal(t, "a b\n", exec(t, r, sh, "echo", "a", "b").stdout)
	assert.Equal(t, "x", exec(t, r, sh, "echo", "-n", "x").stdout)
	assert.Equal(t, "\n", exec(t, r, sh, "echo").stdout)
	assert.Equal(t, 1, exec(t, r, sh, "false").code)
}

// TestVariableBuiltins verifies export, readonly and unset against the context
func TestVariableBuiltins(t *testing.T) {
	t.Parallel()

	r := Core(nil, nil)
	sh := shell.New(nil)

	exec(t, r, sh, "export", "A=1")
	assert.Contains(t, sh.Environ(), "A=1")

	exec(t, r, sh, "readonly", "B=2")
	res := exec(t, r, sh, "export", "B=3")
	assert.Equal(t, 1, res.code)
	assert.Error(t, res.err)
	assert.Equal(t, "readonly B=2\n", exec(t, r, sh, "readonly").stdout)

	exec(t, r, sh, "unset", "A")
	_, ok := sh.Get("A")
	assert.False(t, ok)
}

// TestAliasBuiltins verifies define, print and remove
func TestAliasBuiltins(t *testing.T) {
	t.Parallel()

	r := Core(nil, nil)
	sh := shell.New(nil)

	exec(t, r, sh, "alias", "ll=ls -l")
	assert.Equal(t, "alias ll='ls -l'\n", exec(t, r, sh, "alias").stdout)
	missing := exec(t, r, sh, "alias", "zz")
	assert.Equal(t, 1, missing.code)
	assert.Contains(t, missing.stderr, "zz: not found")

	assert.Equal(t, 0, exec(t, r, sh, "unalias", "ll").code)
	assert.Equal(t, 1, exec(t, r, sh, "unalias", "ll").code)
}

// TestSetOptions verifies flag parsing and positional assignment
func TestSetOptions(t *testing.T) {
	t.Parallel()

	r := Core(nil, nil)
	sh := shell.New(nil)

	require.Equal(t, 0, exec(t, r, sh, "set", "-ex", "-o", "pipefail").code)
	assert.Equal(t, shell.Options{Errexit: true, Xtrace: true, Pipefail: true}, sh.Opts)

	exec(t, r, sh, "set", "+e", "--", "a", "b")
	assert.False(t, sh.Opts.Errexit)
	assert.Equal(t, []string{"a", "b"}, sh.Positional)

	bad := exec(t, r, sh, "set", "-q")
	assert.Equal(t, 2, bad.code)
	assert.Error(t, bad.err)

	exec(t, r, sh, "shift")
	assert.Equal(t, []string{"b"}, sh.Positional)
	assert.Equal(t, 1, exec(t, r, sh, "shift", "3").code)
}

// TestCdAndPwd verifies directory changes are recorded in the context only
func TestCdAndPwd(t *testing.T) {
	t.Parallel()

	r := Core(nil, nil)
	sh := shell.New(nil)
	dir := t.TempDir()

	require.Equal(t, 0, exec(t, r, sh, "cd", dir).code)
	assert.Equal(t, dir+"\n", exec(t, r, sh, "pwd").stdout)
	assert.Equal(t, dir, sh.Lookup("PWD"))
	assert.Equal(t, 1, exec(t, r, sh, "cd", "does-not-exist").code)
}

// TestTimeoutBuiltin verifies the per-command budget can be set and cleared
func TestTimeoutBuiltin(t *testing.T) {
	t.Parallel()

	r := Core(nil, nil)
	sh := shell.New(nil)

	exec(t, r, sh, "timeout", "250")
	assert.Equal(t, 250*time.Millisecond, sh.CommandTimeout())
	assert.Equal(t, "250\n", exec(t, r, sh, "timeout").stdout)
	exec(t, r, sh, "timeout", "off")
	assert.Zero(t, sh.CommandTimeout())
	assert.Equal(t, 2, exec(t, r, sh, "timeout", "soon").code)
}

// TestJobBuiltins verifies listing, waiting and disowning through the table
func TestJobBuiltins(t *testing.T) {
	t.Parallel()

	table := jobs.NewTable()
	r := Core(table, nil)
	sh := shell.New(nil)

	a := table.Add(100, "sleep 1")
	b := table.Add(101, "sleep 2")
	assert.Equal(t, "[1] 100 Running\tsleep 1\n[2] 101 Running\tsleep 2\n", exec(t, r, sh, "jobs").stdout)

	table.UpdateState(100, jobs.Completed, 5)
	res := exec(t, r, sh, "wait", "%1")
	assert.Equal(t, 5, res.code)
	_, ok := table.Get(a)
	assert.False(t, ok)

	assert.Equal(t, 127, exec(t, r, sh, "wait", "%9").code)

	exec(t, r, sh, "disown", "2")
	_, ok = table.Get(b)
	assert.False(t, ok)

	table.Add(102, "x")
	exec(t, r, sh, "disown", "-a")
	assert.Empty(t, table.List())
}

// TestJobWaitHonorsDeadline verifies wait and fg stop at the global deadline
func TestJobWaitHonorsDeadline(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"wait", "fg"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			table := jobs.NewTable()
			r := Core(table, nil)
			sh := shell.New(nil)
			id := table.Add(200, "sleep 60")
			sh.SetTimeout(50 * time.Millisecond)

			start := time.Now()
			res := exec(t, r, sh, name, "%1")
			assert.Less(t, time.Since(start), 2*time.Second)
			assert.Equal(t, 1, res.code)
			require.ErrorIs(t, res.err, context.DeadlineExceeded)

			_, ok := table.Get(id)
			assert.True(t, ok, "an unfinished job stays in the table")
		})
	}
}

// TestTrapBuiltin verifies installation, listing and reset
func TestTrapBuiltin(t *testing.T) {
	traps := trap.New(func(context.Context, string) int { return 0 }, nil)
	defer traps.Stop()
	r := Core(nil, traps)
	sh := shell.New(nil)

	require.Equal(t, 0, exec(t, r, sh, "trap", "echo bye", "TERM").code)
	assert.Equal(t, "trap -- 'echo bye' TERM\n", exec(t, r, sh, "trap", "-p").stdout)
	assert.Contains(t, exec(t, r, sh, "trap", "-l").stdout, "SIGTERM")

	bad := exec(t, r, sh, "trap", "x", "BOGUS")
	assert.Equal(t, 1, bad.code)
	assert.Contains(t, bad.stderr, "invalid signal")

	exec(t, r, sh, "trap", "-", "TERM")
	assert.Empty(t, traps.List())
}
