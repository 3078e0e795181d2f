package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opal-lang/nxsh/core/ast"
	"github.com/opal-lang/nxsh/core/errors"
	"github.com/opal-lang/nxsh/runtime/shell"
)

// maxCallDepth bounds function recursion.
const maxCallDepth = 1000

// run is the state of one Execute call.
type run struct {
	e   *Executor
	ctx context.Context
	sh  *shell.Context
	rec *recorder

	timedOut atomic.Bool
	steps    int

	mu        sync.Mutex
	events    []DebugEvent
	telemetry *ExecutionTelemetry
	metrics   ExecutionMetrics
}

// frame is what a node sees while it runs: the context it mutates and the
// streams it reads and writes. Pipelines, subshells and substitutions derive
// new frames; the run is shared.
type frame struct {
	sh     *shell.Context
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	rec    *recorder // nil unless this is the terminal stage
	cond   bool      // evaluating a condition: errexit is suspended
	depth  int       // function call depth
}

func (e *Executor) newRun(ctx context.Context, sh *shell.Context) *run {
	r := &run{e: e, ctx: ctx, sh: sh, rec: &recorder{}}
	if e.cfg.Telemetry >= TelemetryBasic {
		r.telemetry = &ExecutionTelemetry{}
	}
	return r
}

func (r *run) root() frame {
	f := frame{sh: r.sh, stdin: r.sh.Stdin, stdout: r.sh.Stdout, stderr: r.sh.Stderr, rec: r.rec}
	if f.stdout == nil {
		f.stdout = io.Discard
	}
	if f.stderr == nil {
		f.stderr = io.Discard
	}
	return f
}

// expired reports whether the run must stop: the global deadline on the
// session has passed or the caller's context is done. Once it returns true
// it keeps returning true.
func (r *run) expired() bool {
	if r.timedOut.Load() {
		return true
	}
	if r.ctx.Err() != nil || r.sh.DeadlineExceeded() {
		r.timedOut.Store(true)
		return true
	}
	return false
}

// timeoutNotice writes the global timeout message to the session's stderr.
func (r *run) timeoutNotice(sh *shell.Context) {
	msg := "nxsh: " + errors.NewTimeout("").Message + "\n"
	if sh.Stderr != nil {
		fmt.Fprint(sh.Stderr, msg)
	}
	if !r.e.cfg.Passthrough {
		r.rec.errWriter().Write([]byte(msg))
	}
	r.e.log.Warn("execution timed out", sh.LogAttr())
}

// eval dispatches on the node type.
func (r *run) eval(f frame, node ast.Node) int {
	if r.expired() {
		return errors.ExitTimeout
	}
	if r.e.cfg.Debug >= DebugDetailed {
		r.debug("node", fmt.Sprintf("%T", node))
	}

	switch n := node.(type) {
	case *ast.Program:
		return r.list(f, n.Stmts)
	case *ast.Sequence:
		return r.list(f, n.Nodes)
	case *ast.Block:
		return r.list(f, n.Stmts)
	case *ast.Subshell:
		sub := f
		sub.sh = f.sh.Clone()
		return r.list(sub, n.Stmts)
	case *ast.Command:
		return r.command(f, n)
	case *ast.Assignment:
		return r.assignment(f, n)
	case *ast.Pipeline:
		return r.pipeline(f, n)
	case *ast.And:
		return r.andOr(f, n.Left, n.Right, true)
	case *ast.Or:
		return r.andOr(f, n.Left, n.Right, false)
	case *ast.If:
		return r.ifNode(f, n)
	case *ast.While:
		return r.while(f, n)
	case *ast.For:
		return r.forNode(f, n)
	case *ast.FunctionDecl:
		r.declare(f.sh, n)
		return 0
	case *ast.Closure:
		name := f.sh.StoreClosure(n.Params, n.Captures, n.Body)
		fmt.Fprintln(f.stdout, name)
		return 0
	case *ast.CommandSubstitution:
		out, code := r.capture(f, n)
		if out != "" {
			fmt.Fprintln(f.stdout, out)
		}
		return code
	default:
		err := errors.New(errors.KindParse, "unsupported node %T", node)
		r.report(f.stderr, err)
		return errors.ExitUsage
	}
}

// list runs statements in order, checking the global deadline before and
// after each one and honouring errexit.
func (r *run) list(f frame, stmts []ast.Node) int {
	code := 0
	for _, s := range stmts {
		if r.expired() {
			return errors.ExitTimeout
		}
		code = r.eval(f, s)
		f.sh.LastStatus = code
		if r.expired() {
			return errors.ExitTimeout
		}
		if code != 0 && f.sh.Opts.Errexit && !f.cond {
			r.e.log.Debug("errexit", f.sh.LogAttr(), "stmt", s.String(), "exit", code)
			return code
		}
	}
	return code
}

func (r *run) andOr(f frame, left, right ast.Node, and bool) int {
	c := f
	c.cond = true
	code := r.eval(c, left)
	f.sh.LastStatus = code
	if r.timedOut.Load() {
		return errors.ExitTimeout
	}
	if (code == 0) != and {
		return code
	}
	return r.eval(f, right)
}

func (r *run) ifNode(f frame, n *ast.If) int {
	c := f
	c.cond = true
	code := r.eval(c, n.Cond)
	if r.timedOut.Load() {
		return errors.ExitTimeout
	}
	if code == 0 {
		return r.eval(f, n.Then)
	}
	if n.Else != nil {
		return r.eval(f, n.Else)
	}
	return 0
}

func (r *run) while(f frame, n *ast.While) int {
	c := f
	c.cond = true
	code := 0
	for {
		if r.expired() {
			return errors.ExitTimeout
		}
		cond := r.eval(c, n.Cond)
		if r.timedOut.Load() {
			return errors.ExitTimeout
		}
		if (cond == 0) == n.Until {
			return code
		}
		code = r.eval(f, n.Body)
		if r.timedOut.Load() {
			return errors.ExitTimeout
		}
		if code != 0 && f.sh.Opts.Errexit && !f.cond {
			return code
		}
	}
}

func (r *run) forNode(f frame, n *ast.For) int {
	x := r.expander(f)
	var items []string
	for _, w := range n.Items {
		fields, err := x.fields(w)
		if err != nil {
			return r.expandFailed(f, err)
		}
		items = append(items, fields...)
	}

	code := 0
	for _, item := range items {
		if r.expired() {
			return errors.ExitTimeout
		}
		if err := f.sh.Set(n.Var, item); err != nil {
			r.report(f.stderr, err)
			return 1
		}
		code = r.eval(f, n.Body)
		if r.timedOut.Load() {
			return errors.ExitTimeout
		}
		if code != 0 && f.sh.Opts.Errexit && !f.cond {
			return code
		}
	}
	return code
}

// declare registers a function, or a generic template when the declaration
// has type parameters.
func (r *run) declare(sh *shell.Context, n *ast.FunctionDecl) {
	if len(n.TypeParams) > 0 {
		sh.RegisterGenericFunctionTemplate(n.Name, n.TypeParams, n.Params, n.Body)
		return
	}
	sh.DefineFunction(&shell.Function{Name: n.Name, Params: n.Params, Body: n.Body})
}

func (r *run) assignment(f frame, n *ast.Assignment) int {
	x := r.expander(f)
	for _, a := range n.Assigns {
		v, err := x.join(a.Value)
		if err != nil {
			return r.expandFailed(f, err)
		}
		if err := f.sh.Set(a.Name, v); err != nil {
			r.report(f.stderr, err)
			return 1
		}
	}
	return x.status
}

// report prints err the way the shell presents errors to users.
func (r *run) report(w io.Writer, err error) {
	var se *errors.ShellError
	if stderrors.As(err, &se) {
		fmt.Fprintf(w, "nxsh: %s\n", se.Message)
		return
	}
	fmt.Fprintf(w, "nxsh: %v\n", err)
}

func (r *run) debug(event, detail string) {
	r.mu.Lock()
	r.events = append(r.events, DebugEvent{Timestamp: time.Now(), Event: event, Context: detail})
	r.mu.Unlock()
}

func (r *run) countCommand(name string, d time.Duration, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps++
	if r.telemetry == nil {
		return
	}
	r.telemetry.Commands++
	if r.e.cfg.Telemetry == TelemetryTiming {
		r.telemetry.CommandTimings = append(r.telemetry.CommandTimings, CommandTiming{Name: name, Duration: d, ExitCode: code})
	}
}

func (r *run) countSubst() {
	r.mu.Lock()
	if r.telemetry != nil {
		r.telemetry.Substitutions++
	}
	r.mu.Unlock()
}

func (r *run) countCommandTimeout() {
	r.mu.Lock()
	if r.telemetry != nil {
		r.telemetry.CommandTimeouts++
	}
	r.mu.Unlock()
}
