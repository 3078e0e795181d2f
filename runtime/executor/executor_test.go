package executor

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/nxsh/core/ast"
	"github.com/opal-lang/nxsh/core/errors"
	"github.com/opal-lang/nxsh/core/hal"
	"github.com/opal-lang/nxsh/core/invariant"
	"github.com/opal-lang/nxsh/runtime/jobs"
	"github.com/opal-lang/nxsh/runtime/parser"
	"github.com/opal-lang/nxsh/runtime/shell"
)

type session struct {
	sh     *shell.Context
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newSession() *session {
	s := &session{sh: shell.New(nil), stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	s.sh.Stdin = nil
	s.sh.Stdout = s.stdout
	s.sh.Stderr = s.stderr
	return s
}

func newExecutor(cfg Config) *Executor {
	if cfg.Jobs == nil {
		cfg.Jobs = jobs.NewTable()
	}
	return New(cfg)
}

func parse(t *testing.T, src string) ast.Node {
	t.Helper()
	tree := parser.ParseString(src)
	require.NoError(t, tree.Err(), "source: %s", src)
	return tree.Program
}

func runSrc(t *testing.T, ex *Executor, s *session, src string) *ExecutionResult {
	t.Helper()
	res, err := ex.Execute(context.Background(), parse(t, src), s.sh)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// TestEchoAndStatus verifies builtin output and status propagation
func TestEchoAndStatus(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{})
	s := newSession()

	res := runSrc(t, ex, s, "echo hello world")
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello world\n", res.Stdout)
	assert.Equal(t, "hello world\n", s.stdout.String())
	assert.Equal(t, DirectInterpreter, res.Strategy)

	res = runSrc(t, ex, s, "false")
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, 1, s.sh.LastStatus)
}

// TestResultReflectsLastCommand verifies output is not accumulated across commands
func TestResultReflectsLastCommand(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{})
	s := newSession()

	res := runSrc(t, ex, s, "echo a; echo b")
	assert.Equal(t, "b\n", res.Stdout)
	assert.Equal(t, "a\nb\n", s.stdout.String())
}

// TestControlFlow verifies and/or lists, conditionals and loops
func TestControlFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		out  string
		code int
	}{
		{"or after failed and", "false && echo no || echo yes", "yes\n", 0},
		{"sequence status is last", "false; true", "", 0},
		{"if else", "if false; then echo a; else echo b; fi", "b\n", 0},
		{"if without else", "if false; then echo a; fi", "", 0},
		{"for loop", "for i in a b c; do echo $i; done", "a\nb\nc\n", 0},
		{"while never entered", "while false; do echo x; done", "", 0},
		{"until exits on success", "until true; do echo x; done", "", 0},
		{"negation", "! true", "", 1},
		{"block", "{ echo in; false; }", "in\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newSession()
			res := runSrc(t, newExecutor(Config{}), s, tt.src)
			assert.Equal(t, tt.code, res.ExitCode)
			assert.Equal(t, tt.out, s.stdout.String())
		})
	}
}

// TestErrexit verifies set -e stops at the first failure outside conditions
func TestErrexit(t *testing.T) {
	t.Parallel()

	s := newSession()
	res := runSrc(t, newExecutor(Config{}), s, "set -e; false; echo after")
	assert.Equal(t, 1, res.ExitCode)
	assert.Empty(t, s.stdout.String())

	s = newSession()
	res = runSrc(t, newExecutor(Config{}), s, "set -e; false || true; if false; then :; fi; echo ok")
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "ok\n", s.stdout.String())
}

// TestPipelines verifies streaming between stages, pipefail and builtins in pipelines
func TestPipelines(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{})

	s := newSession()
	res := runSrc(t, ex, s, "echo hello | tr a-z A-Z")
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "HELLO\n", res.Stdout)

	s = newSession()
	assert.Equal(t, 0, runSrc(t, ex, s, "false | true").ExitCode)
	assert.Equal(t, 1, runSrc(t, ex, s, "set -o pipefail; false | true").ExitCode)
	assert.Equal(t, 0, runSrc(t, ex, s, "! false | false").ExitCode)

	s = newSession()
	runSrc(t, ex, s, "export A=1 | true")
	_, ok := s.sh.Get("A")
	assert.False(t, ok, "pipeline stages run on a copy of the context")
}

// TestCommandSubstitution verifies capture, trimming and field splitting
func TestCommandSubstitution(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{})

	s := newSession()
	runSrc(t, ex, s, "x=$(echo hi); echo \"[$x]\"")
	assert.Equal(t, "[hi]\n", s.stdout.String())

	arity := func(t *testing.T, setup func(*shell.Context), src string) string {
		t.Helper()
		s := newSession()
		if setup != nil {
			setup(s.sh)
		}
		return runSrc(t, ex, s, src).Stdout
	}
	split := func(sh *shell.Context) { require.NoError(t, sh.Set("NXSH_SUBST_SPLIT", "1")) }

	assert.Equal(t, "1\n", arity(t, nil, "set -- $(echo a b c); echo $#"), "one field without splitting")
	assert.Equal(t, "3\n", arity(t, split, "set -- $(echo a b c); echo $#"))
	assert.Equal(t, "3\n", arity(t, split, "set -- $(echo '  a   b  c '); echo $#"), "runs collapse")
	assert.Equal(t, "1\n", arity(t, split, "set -- $(true); echo $#"), "empty output is one empty field")
	assert.Equal(t, "1\n", arity(t, split, "set -- \"$(echo a b)\"; echo $#"), "quoted never splits")
	assert.Equal(t, "3\n", arity(t, nil, "set -- `echo a b c`; echo $#"), "backquotes always split")
	assert.Equal(t, "3\n", arity(t, func(sh *shell.Context) {
		split(sh)
		require.NoError(t, sh.Set("NXSH_IFS", ":"))
	}, "set -- $(echo a:b::c); echo $#"))
}

// TestSubstitutionAtRoot verifies a bare substitution returns its capture as stdout
func TestSubstitutionAtRoot(t *testing.T) {
	t.Parallel()

	s := newSession()
	node := &ast.CommandSubstitution{Body: ast.Cmd("echo", "captured")}
	res, err := newExecutor(Config{}).Execute(context.Background(), node, s.sh)
	require.NoError(t, err)
	assert.Equal(t, "captured", res.Stdout)
	assert.Empty(t, s.stdout.String())
}

// TestSubstitutionStderr verifies separate and merged stderr handling
func TestSubstitutionStderr(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{})

	s := newSession()
	runSrc(t, ex, s, "x=$(alias nope); echo \"[$x]\"")
	assert.Equal(t, "[]\n", s.stdout.String())
	assert.Contains(t, s.stderr.String(), "nope: not found")

	s = newSession()
	require.NoError(t, s.sh.Set("NXSH_SUBST_STDERR", "merge"))
	runSrc(t, ex, s, "x=$(alias nope); echo \"[$x]\"")
	assert.Contains(t, s.stdout.String(), "nope: not found")
	assert.Empty(t, s.stderr.String())
}

// TestArithmetic verifies evaluation and division by zero
func TestArithmetic(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{})
	s := newSession()

	runSrc(t, ex, s, "x=4; echo $((2 + 3 * x)) $((x / 3)) $((0 - x))")
	assert.Equal(t, "14 1 -4\n", s.stdout.String())

	res := runSrc(t, ex, s, "echo $((1 / 0))")
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, s.stderr.String(), "division by zero")

	bad := &ast.Command{Name: ast.Text("echo"), Args: []ast.Word{ast.ArithWord(ast.Bin('%', ast.N(1), ast.N(2)))}}
	res, err := ex.Execute(context.Background(), bad, s.sh)
	require.NoError(t, err)
	assert.Equal(t, errors.ExitUsage, res.ExitCode)
}

// TestStrategyEquivalence verifies both strategies produce identical observable results
func TestStrategyEquivalence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(sh *shell.Context)
		src   string
	}{
		{name: "assign and multiply", src: "x=2; y=$((x * 21)); echo result $y"},
		{name: "division and negatives", src: "a=7; echo $((a / 2)) $((a - 10)); b=$((a * a))"},
		{name: "reassign and quote", src: "x=1; x=$((x + 1)); echo \"x=$x\" 'lit'"},
		{name: "divide by zero", src: "echo $((1 / 0))"},
		{name: "plain echo", src: "echo plain words"},
		{name: "overflow", src: "n=9223372036854775807; echo $((n + 1))"},
		{name: "pipeline", src: "echo hi | tr a-z A-Z"},
		{
			name:  "preset variable expands to -n",
			setup: func(sh *shell.Context) { require.NoError(t, sh.Set("x", "-n")) },
			src:   "echo $x hi",
		},
		{
			name:  "preset variable completes -n",
			setup: func(sh *shell.Context) { require.NoError(t, sh.Set("y", "n")) },
			src:   "echo -$y word",
		},
		{
			name:  "last status read after a statement",
			setup: func(sh *shell.Context) { sh.LastStatus = 1 },
			src:   "echo a; echo $(($? + 0))",
		},
		{
			name:  "positional parameters",
			setup: func(sh *shell.Context) { sh.Positional = []string{"p1", "p2"} },
			src:   "echo $1 $#",
		},
		{
			name:  "preset variable in arithmetic",
			setup: func(sh *shell.Context) { require.NoError(t, sh.Set("z", "5")) },
			src:   "w=$((z * 2)); echo $w",
		},
	}
	configs := map[string]Config{
		"mir":        {Strategy: MirEngine},
		"mir+native": {Strategy: MirEngine, Native: true},
	}

	for _, tt := range tests {
		base := newSession()
		if tt.setup != nil {
			tt.setup(base.sh)
		}
		want := runSrc(t, newExecutor(Config{}), base, tt.src)

		for name, cfg := range configs {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				s := newSession()
				if tt.setup != nil {
					tt.setup(s.sh)
				}
				got := runSrc(t, newExecutor(cfg), s, tt.src)
				assert.Equal(t, want.ExitCode, got.ExitCode)
				assert.Equal(t, want.Stdout, got.Stdout)
				assert.Equal(t, base.stdout.String(), s.stdout.String())
				assert.Equal(t, base.stderr.String(), s.stderr.String())
				assert.Equal(t, base.sh.LastStatus, s.sh.LastStatus)
				for _, v := range []string{"x", "y", "a", "b", "n", "w", "z"} {
					assert.Equal(t, base.sh.Lookup(v), s.sh.Lookup(v), "variable %s", v)
				}
			})
		}
	}

	// Both fragments fall back to the interpreter and keep its output.
	s := newSession()
	require.NoError(t, s.sh.Set("x", "-n"))
	runSrc(t, newExecutor(Config{Strategy: MirEngine}), s, "echo $x hi")
	assert.Equal(t, "hi", s.stdout.String())

	s = newSession()
	s.sh.LastStatus = 1
	runSrc(t, newExecutor(Config{Strategy: MirEngine}), s, "echo a; echo $(($? + 0))")
	assert.Equal(t, "a\n0\n", s.stdout.String())
}

// TestMIRPath verifies qualifying fragments run on MIR and others fall back
func TestMIRPath(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{Strategy: MirEngine, Native: true})
	s := newSession()

	res := runSrc(t, ex, s, "x=$((2 + 3)); y=$((x * 10)); echo $y")
	assert.Equal(t, MirEngine, res.Strategy)
	assert.Equal(t, "50\n", res.Stdout)
	assert.Equal(t, "50", s.sh.Lookup("y"))
	assert.Positive(t, res.Metrics.Folded)
	assert.Positive(t, res.Metrics.InstructionCount)

	res = runSrc(t, ex, s, "echo $((1 / 0))")
	assert.Equal(t, DirectInterpreter, res.Strategy)

	s.sh.Opts.Xtrace = true
	res = runSrc(t, ex, s, "echo traced")
	assert.Equal(t, DirectInterpreter, res.Strategy, "xtrace needs the interpreter")

	st := ex.Stats()
	assert.Equal(t, uint64(3), st.Total)
	assert.Equal(t, uint64(1), st.Compiled)
	assert.Equal(t, uint64(2), st.Fallbacks)
}

// TestGlobalTimeout verifies the deadline aborts at the next safe point with 124
func TestGlobalTimeout(t *testing.T) {
	t.Parallel()

	stmts := make([]ast.Node, 2000)
	for i := range stmts {
		stmts[i] = ast.Cmd("echo", "tick")
	}
	s := newSession()
	s.sh.SetTimeout(time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	res, err := newExecutor(Config{}).Execute(context.Background(), ast.Prog(stmts...), s.sh)
	require.NoError(t, err)
	assert.Equal(t, errors.ExitTimeout, res.ExitCode)
	assert.Less(t, strings.Count(s.stdout.String(), "tick"), 2000)
	assert.Contains(t, s.stderr.String(), "nxsh: execution timed out")
	assert.Contains(t, res.Stderr, "nxsh: execution timed out")

	s = newSession()
	s.sh.SetTimeout(50 * time.Millisecond)
	start := time.Now()
	res = runSrc(t, newExecutor(Config{}), s, "while true; do :; done")
	assert.Equal(t, errors.ExitTimeout, res.ExitCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// TestCommandTimeout verifies the per-command budget kills only that command
func TestCommandTimeout(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{Telemetry: TelemetryBasic})

	s := newSession()
	s.sh.SetCommandTimeout(200 * time.Millisecond)
	start := time.Now()
	res := runSrc(t, ex, s, "sleep 2")
	assert.Equal(t, errors.ExitTimeout, res.ExitCode)
	assert.Less(t, time.Since(start), 1500*time.Millisecond)
	assert.Contains(t, s.stderr.String(), "nxsh: command 'sleep' timed out")
	assert.Equal(t, 1, res.Telemetry.CommandTimeouts)

	res = runSrc(t, ex, s, "sleep 2; echo after")
	assert.Equal(t, 0, res.ExitCode, "the sequence continues after a killed command")
	assert.Equal(t, "after\n", res.Stdout)

	s = newSession()
	s.sh.SetCommandTimeout(2 * time.Second)
	assert.Equal(t, 0, runSrc(t, ex, s, "true").ExitCode)
	assert.Equal(t, 0, runSrc(t, ex, s, "sleep 0.05").ExitCode)
}

// TestCommandNotFound verifies 127 with suggestions
func TestCommandNotFound(t *testing.T) {
	t.Parallel()

	s := newSession()
	res := runSrc(t, newExecutor(Config{}), s, "ehco hi")
	assert.Equal(t, errors.ExitNotFound, res.ExitCode)
	assert.Contains(t, s.stderr.String(), "ehco: command not found")
	assert.Contains(t, s.stderr.String(), "did you mean: echo")
}

// TestExternalEnvironment verifies exported variables and prefix assignments reach children
func TestExternalEnvironment(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{})
	s := newSession()

	res := runSrc(t, ex, s, "export KEEP=1; FOO=bar env")
	assert.Contains(t, res.Stdout, "FOO=bar\n")
	assert.Contains(t, res.Stdout, "KEEP=1\n")

	runSrc(t, ex, s, "X=1 true")
	_, ok := s.sh.Get("X")
	assert.False(t, ok, "prefix assignments are scoped to the command")
}

// TestFunctions verifies definition, positional parameters and the nesting limit
func TestFunctions(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{})
	s := newSession()
	s.sh.Positional = []string{"outer"}

	runSrc(t, ex, s, "greet() { echo hello $1 $#; }; greet world; echo $1")
	assert.Equal(t, "hello world 1\nouter\n", s.stdout.String())

	res := runSrc(t, ex, s, "f() { f; }; f")
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, s.stderr.String(), "maximum function nesting level exceeded")
}

// TestGenerics verifies instantiation on first call and reuse afterwards
func TestGenerics(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{})
	s := newSession()

	runSrc(t, ex, s, "show[T]() { echo type $T; }; show[int]; show[int]; show[str]")
	assert.Equal(t, "type int\ntype int\ntype str\n", s.stdout.String())

	count := 0
	for _, name := range s.sh.FunctionNames() {
		if name == "show__gen_int" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Contains(t, s.sh.FunctionNames(), "show__gen_str")

	res := runSrc(t, ex, s, "nothing[int]")
	assert.Equal(t, errors.ExitNotFound, res.ExitCode)
}

// TestClosures verifies closures snapshot captures and are callable by name
func TestClosures(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{})
	s := newSession()
	require.NoError(t, s.sh.Set("x", "1"))

	clo := &ast.Closure{Captures: []string{"x"}, Body: &ast.Command{Name: ast.Text("echo"), Args: []ast.Word{ast.Var("x")}}}
	_, err := ex.Execute(context.Background(), clo, s.sh)
	require.NoError(t, err)
	assert.Equal(t, "__closure_1\n", s.stdout.String())

	require.NoError(t, s.sh.Set("x", "2"))
	res := runSrc(t, ex, s, "__closure_1")
	assert.Equal(t, "1\n", res.Stdout)
	assert.Equal(t, "2", s.sh.Lookup("x"))
}

// TestAliasesAndReadonly verifies alias expansion and readonly refusal
func TestAliasesAndReadonly(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{})
	s := newSession()

	res := runSrc(t, ex, s, "alias say='echo said'; say it")
	assert.Equal(t, "said it\n", res.Stdout)

	res = runSrc(t, ex, s, "readonly R=1; R=2")
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, s.stderr.String(), "R: readonly variable")
	assert.Equal(t, "1", s.sh.Lookup("R"))
}

// TestSubshellIsolation verifies subshell changes do not leak
func TestSubshellIsolation(t *testing.T) {
	t.Parallel()

	s := newSession()
	runSrc(t, newExecutor(Config{}), s, "(x=1; echo in $x); echo \"out[$x]\"")
	assert.Equal(t, "in 1\nout[]\n", s.stdout.String())
}

// TestBackgroundJobs verifies job registration, $! and wait
func TestBackgroundJobs(t *testing.T) {
	t.Parallel()

	table := jobs.NewTable()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobs.NewReaper(table, nil, nil).Start(ctx)

	ex := newExecutor(Config{Jobs: table})
	s := newSession()

	res := runSrc(t, ex, s, "sleep 0.1 &")
	assert.Equal(t, 0, res.ExitCode)
	assert.Regexp(t, regexp.MustCompile(`^\[1\] \d+\n$`), res.Stdout)
	assert.Positive(t, s.sh.LastBgPID)
	require.Len(t, table.List(), 1)
	assert.Equal(t, s.sh.LastBgPID, table.List()[0].PID)

	res = runSrc(t, ex, s, "wait")
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, table.List())
}

// TestXtraceLogs verifies traced commands go to the logger
func TestXtraceLogs(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	ex := newExecutor(Config{Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	s := newSession()

	runSrc(t, ex, s, "set -x; echo hi")
	assert.Contains(t, logs.String(), "+ echo hi")
	assert.Contains(t, logs.String(), "session="+s.sh.ID.String())
}

// TestTelemetryAndDebug verifies per-call counters and debug events
func TestTelemetryAndDebug(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{Telemetry: TelemetryTiming, Debug: DebugDetailed})
	s := newSession()

	res := runSrc(t, ex, s, "echo a; x=$(echo b)")
	require.NotNil(t, res.Telemetry)
	assert.Equal(t, 2, res.Telemetry.Commands)
	assert.Equal(t, 1, res.Telemetry.Substitutions)
	assert.Len(t, res.Telemetry.CommandTimings, 2)
	require.NotEmpty(t, res.DebugEvents)
	assert.Equal(t, "enter_execute", res.DebugEvents[0].Event)
	assert.Equal(t, "exit_execute", res.DebugEvents[len(res.DebugEvents)-1].Event)
	assert.GreaterOrEqual(t, res.Micros(), int64(0))

	res = runSrc(t, newExecutor(Config{}), s, "echo quiet")
	assert.Nil(t, res.Telemetry)
	assert.Nil(t, res.DebugEvents)
}

type panickingSpawner struct{}

func (panickingSpawner) Start(context.Context, hal.Spec) (hal.Process, error) {
	invariant.Precondition(false, "spawner refuses")
	return nil, nil
}

// TestInternalErrorsAreRecovered verifies a broken contract surfaces as an internal error
func TestInternalErrorsAreRecovered(t *testing.T) {
	t.Parallel()

	ex := newExecutor(Config{Spawner: panickingSpawner{}})
	res, err := ex.Execute(context.Background(), ast.Cmd("anything"), newSession().sh)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInternal))
	assert.Contains(t, err.Error(), "spawner refuses")
}

// TestTrapRunner verifies trap bodies run in a fresh session
func TestTrapRunner(t *testing.T) {
	t.Parallel()

	runTrap := TrapRunner(Config{Jobs: jobs.NewTable()}, func() []string { return []string{"FLAG=1"} })
	assert.Equal(t, 0, runTrap(context.Background(), "true"))
	assert.Equal(t, 1, runTrap(context.Background(), "false"))
	assert.Equal(t, 0, runTrap(context.Background(), `x=$FLAG; test "$x" = 1`))
	assert.Equal(t, errors.ExitUsage, runTrap(context.Background(), "if then"))
}
