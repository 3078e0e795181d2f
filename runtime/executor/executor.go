// Package executor walks an AST against a shell context and produces an
// ExecutionResult. It chooses between direct tree interpretation and the MIR
// pipeline, enforces the global and per-command time budgets, performs
// command substitution and dispatches commands to aliases, functions,
// builtins or external processes.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/opal-lang/nxsh/core/ast"
	"github.com/opal-lang/nxsh/core/errors"
	"github.com/opal-lang/nxsh/core/hal"
	"github.com/opal-lang/nxsh/core/invariant"
	"github.com/opal-lang/nxsh/runtime/builtins"
	"github.com/opal-lang/nxsh/runtime/jobs"
	"github.com/opal-lang/nxsh/runtime/mir"
	"github.com/opal-lang/nxsh/runtime/shell"
	"github.com/opal-lang/nxsh/runtime/trap"
)

// Strategy selects how a node is executed.
type Strategy int

const (
	// DirectInterpreter walks the tree.
	DirectInterpreter Strategy = iota
	// MirEngine lowers qualifying fragments to MIR and interprets (or
	// natively compiles) them, falling back to DirectInterpreter for
	// everything else.
	MirEngine
)

func (s Strategy) String() string {
	if s == MirEngine {
		return "mir"
	}
	return "ast"
}

// Config configures the executor
type Config struct {
	Strategy Strategy
	Native   bool // MIR only: try the native compile step

	Debug     DebugLevel     // Debug tracing (development only)
	Telemetry TelemetryLevel // Telemetry collection (production-safe)

	// Passthrough hands the session streams to commands untouched instead
	// of teeing them into ExecutionResult. Set it for interactive terminals
	// so children see the tty.
	Passthrough bool

	Logger   *slog.Logger
	Spawner  hal.Spawner        // default hal.Local
	Jobs     *jobs.Table        // default jobs.Default()
	Traps    *trap.Traps        // optional; enables the trap builtin
	Builtins *builtins.Registry // default builtins.Core(Jobs, Traps)
}

// DebugLevel controls debug tracing (development only)
type DebugLevel int

const (
	DebugOff      DebugLevel = iota // No debug info (default)
	DebugPaths                      // Node entry/exit tracing
	DebugDetailed                   // Command argv, timing details
)

// TelemetryLevel controls telemetry collection (production-safe)
type TelemetryLevel int

const (
	TelemetryOff    TelemetryLevel = iota // Zero overhead (default)
	TelemetryBasic                        // Command counts only
	TelemetryTiming                       // Counts + timing per command
)

// Executor runs AST nodes. It is safe for concurrent use by independent
// sessions; a single shell.Context must not be shared across concurrent
// Execute calls.
type Executor struct {
	cfg      Config
	log      *slog.Logger
	spawner  hal.Spawner
	jobs     *jobs.Table
	builtins *builtins.Registry
	compiler mir.Compiler

	mu    sync.Mutex
	stats Stats
}

// New creates an executor, filling defaults for unset dependencies.
func New(cfg Config) *Executor {
	e := &Executor{cfg: cfg, log: cfg.Logger, spawner: cfg.Spawner, jobs: cfg.Jobs, builtins: cfg.Builtins}
	if e.log == nil {
		e.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.spawner == nil {
		e.spawner = hal.Local{}
	}
	if e.jobs == nil {
		e.jobs = jobs.Default()
	}
	if e.builtins == nil {
		e.builtins = builtins.Core(e.jobs, cfg.Traps)
	}
	if cfg.Native {
		e.compiler = mir.NewAMD64Compiler()
	}
	return e
}

// Jobs returns the job table background commands are registered in.
func (e *Executor) Jobs() *jobs.Table { return e.jobs }

// Execute runs node against sh and reports its outcome.
//
// INPUT CONTRACT:
//   - ctx and sh are non-nil; node is non-nil
//
// OUTPUT CONTRACT:
//   - exactly one result per call; ExitCode is 124 when the global deadline
//     fired or a command exceeded its own budget
//   - sh.LastStatus equals the result's ExitCode
//   - a non-nil error is returned only for internal failures
func (e *Executor) Execute(ctx context.Context, node ast.Node, sh *shell.Context) (res *ExecutionResult, err error) {
	invariant.ContextNotNil(ctx, "Executor.Execute")
	invariant.NotNil(node, "node")
	invariant.NotNil(sh, "sh")

	defer func() {
		if r := recover(); r != nil {
			v := invariant.Recover(r)
			e.log.Error("internal error", sh.LogAttr(), "error", v)
			res = nil
			err = errors.Wrap(errors.KindInternal, v, "executing %s", node)
		}
	}()

	start := time.Now()
	r := e.newRun(ctx, sh)
	if e.cfg.Debug >= DebugPaths {
		r.debug("enter_execute", node.String())
	}

	strategy := DirectInterpreter
	code, used := 0, false
	if e.cfg.Strategy == MirEngine && !r.expired() {
		code, used = r.tryMIR(node, sh)
	}
	if used {
		strategy = MirEngine
	} else {
		if e.cfg.Strategy == MirEngine {
			e.countFallback()
		}
		code = r.top(node)
	}

	if r.timedOut.Load() {
		code = errors.ExitTimeout
		r.timeoutNotice(sh)
	}
	sh.LastStatus = code

	res = &ExecutionResult{
		ExitCode:      code,
		Stdout:        r.rec.stdout(),
		Stderr:        r.rec.stderr(),
		ExecutionTime: time.Since(start),
		Strategy:      strategy,
		Metrics:       r.metrics,
		DebugEvents:   r.events,
	}
	if strategy == DirectInterpreter {
		res.Metrics.ExecuteTime = res.ExecutionTime
		res.Metrics.InstructionCount = r.steps
	}
	if e.cfg.Telemetry >= TelemetryBasic {
		res.Telemetry = r.telemetry
	}
	if e.cfg.Debug >= DebugPaths {
		r.debug("exit_execute", fmt.Sprintf("exit=%d strategy=%s duration=%v", code, strategy, res.ExecutionTime))
		res.DebugEvents = r.events
	}
	e.record(res)
	return res, nil
}

// top evaluates the root node. A bare substitution at the root runs in
// capture mode and its output becomes the result's stdout.
func (r *run) top(node ast.Node) int {
	if cs, ok := node.(*ast.CommandSubstitution); ok {
		out, code := r.capture(r.root(), cs)
		r.rec.reset()
		r.rec.out.WriteString(out)
		return code
	}
	return r.eval(r.root(), node)
}
