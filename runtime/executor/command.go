package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/opal-lang/nxsh/core/ast"
	"github.com/opal-lang/nxsh/core/errors"
	"github.com/opal-lang/nxsh/core/hal"
	"github.com/opal-lang/nxsh/runtime/builtins"
	"github.com/opal-lang/nxsh/runtime/shell"
)

type assign struct{ name, value string }

// command expands and dispatches a simple command. Resolution order is
// alias, function (closures and instantiations included), builtin, then an
// external program.
func (r *run) command(f frame, c *ast.Command) int {
	x := r.expander(f)

	assigns := make([]assign, 0, len(c.Assigns))
	for _, a := range c.Assigns {
		v, err := x.join(a.Value)
		if err != nil {
			return r.expandFailed(f, err)
		}
		assigns = append(assigns, assign{a.Name, v})
	}

	var argv []string
	if len(c.Name.Parts) > 0 {
		fs, err := x.fields(c.Name)
		if err != nil {
			return r.expandFailed(f, err)
		}
		argv = append(argv, fs...)
	}
	for _, w := range c.Args {
		fs, err := x.fields(w)
		if err != nil {
			return r.expandFailed(f, err)
		}
		argv = append(argv, fs...)
	}

	// Nothing to run: prefix assignments become plain assignments.
	if len(argv) == 0 || (len(argv) == 1 && argv[0] == "") {
		for _, a := range assigns {
			if err := f.sh.Set(a.name, a.value); err != nil {
				r.report(f.stderr, err)
				return 1
			}
		}
		return x.status
	}

	if def, ok := f.sh.Alias(argv[0]); ok {
		if words := strings.Fields(def); len(words) > 0 {
			argv = append(words, argv[1:]...)
		}
	}

	if len(c.TypeArgs) > 0 {
		inst, ok := f.sh.EnsureMonomorphized(argv[0], c.TypeArgs)
		if !ok {
			fmt.Fprintf(f.stderr, "nxsh: %s: no such generic function\n", argv[0])
			return errors.ExitNotFound
		}
		r.e.log.Debug("instantiated", f.sh.LogAttr(), "template", argv[0], "name", inst)
		argv[0] = inst
	}

	if f.sh.Opts.Xtrace {
		r.e.log.Info("+ "+strings.Join(argv, " "), f.sh.LogAttr())
	}
	if r.e.cfg.Debug >= DebugDetailed {
		r.debug("command", strings.Join(argv, " "))
	}

	start := time.Now()
	code := r.dispatch(f, c, argv, assigns)
	r.countCommand(argv[0], time.Since(start), code)
	f.sh.LastStatus = code
	return code
}

func (r *run) dispatch(f frame, c *ast.Command, argv []string, assigns []assign) int {
	name, args := argv[0], argv[1:]

	fn, isFunc := f.sh.Function(name)
	b, isBuiltin := r.e.builtins.Lookup(name)
	if c.Background {
		if !isFunc && !isBuiltin {
			return r.background(f, argv, assigns)
		}
		r.e.log.Debug("running in foreground, no process to track", f.sh.LogAttr(), "command", name)
	}

	switch {
	case isFunc:
		return r.call(f, fn, args, assigns)
	case isBuiltin:
		return r.builtin(f, b, args, assigns)
	default:
		return r.external(f, argv, assigns)
	}
}

// streams returns the writers a leaf command uses. The terminal stage tees
// into the recorder so the result reports its output.
func (r *run) streams(f frame) (io.Writer, io.Writer) {
	if f.rec == nil || r.e.cfg.Passthrough {
		return f.stdout, f.stderr
	}
	f.rec.reset()
	return io.MultiWriter(f.stdout, f.rec.outWriter()), io.MultiWriter(f.stderr, f.rec.errWriter())
}

func (r *run) builtin(f frame, b builtins.Builtin, args []string, assigns []assign) int {
	restore := scoped(f.sh, assigns)
	defer restore()

	stdout, stderr := r.streams(f)
	code, err := b.Execute(r.ctx, f.sh, builtins.IO{Stdin: f.stdin, Stdout: stdout, Stderr: stderr}, args)
	if err != nil {
		var se *errors.ShellError
		msg := err.Error()
		if stderrors.As(err, &se) {
			msg = se.Message
		}
		fmt.Fprintf(stderr, "nxsh: %s: %s\n", b.Name(), msg)
		if code == 0 {
			code = 1
		}
	}
	return code
}

// call runs a function body against the live context with the positional
// parameters replaced by args. Named parameters, bound values and prefix
// assignments are visible for the duration of the call only.
func (r *run) call(f frame, fn *shell.Function, args []string, assigns []assign) int {
	if f.depth >= maxCallDepth {
		fmt.Fprintf(f.stderr, "nxsh: %s: maximum function nesting level exceeded (%d)\n", fn.Name, maxCallDepth)
		return 1
	}

	locals := make([]assign, 0, len(fn.Bound)+len(fn.Params)+len(assigns))
	for k, v := range fn.Bound {
		locals = append(locals, assign{k, v})
	}
	for i, p := range fn.Params {
		v := ""
		if i < len(args) {
			v = args[i]
		}
		locals = append(locals, assign{p, v})
	}
	locals = append(locals, assigns...)

	saved := f.sh.Positional
	f.sh.Positional = args
	restore := scoped(f.sh, locals)
	defer func() {
		restore()
		f.sh.Positional = saved
	}()

	inner := f
	inner.depth++
	return r.eval(inner, fn.Body)
}

// scoped sets vars and returns a function restoring their previous values.
func scoped(sh *shell.Context, vars []assign) func() {
	type prev struct {
		name, value string
		had         bool
	}
	var undo []prev
	for _, a := range vars {
		if sh.IsReadonly(a.name) {
			continue
		}
		v, had := sh.Get(a.name)
		undo = append(undo, prev{a.name, v, had})
		_ = sh.Set(a.name, a.value)
	}
	return func() {
		for i := len(undo) - 1; i >= 0; i-- {
			p := undo[i]
			if p.had {
				_ = sh.Set(p.name, p.value)
			} else {
				_ = sh.Unset(p.name)
			}
		}
	}
}

func environ(sh *shell.Context, assigns []assign) []string {
	env := sh.Environ()
	for _, a := range assigns {
		env = append(env, a.name+"="+a.value)
	}
	return env
}

// external runs a program in the foreground. A per-command budget, when
// set, kills the process group on expiry and yields 124.
func (r *run) external(f frame, argv []string, assigns []assign) int {
	ctx := r.ctx
	if budget := f.sh.CommandTimeout(); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	stdout, stderr := r.streams(f)
	p, err := r.e.spawner.Start(ctx, hal.Spec{
		Argv:   argv,
		Env:    environ(f.sh, assigns),
		Dir:    f.sh.Dir,
		Stdin:  f.stdin,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return r.spawnFailed(f.sh, stderr, argv[0], err)
	}

	st, err := p.Wait()
	if err == nil {
		return st.Code
	}
	switch {
	case r.ctx.Err() != nil:
		r.timedOut.Store(true)
		return errors.ExitTimeout
	case stderrors.Is(err, context.DeadlineExceeded):
		r.countCommandTimeout()
		te := errors.NewTimeout(argv[0])
		r.e.log.Warn("command timed out", f.sh.LogAttr(), "command", argv[0], "budget", f.sh.CommandTimeout())
		fmt.Fprintf(stderr, "nxsh: %s\n", te.Message)
		return errors.ExitTimeout
	default:
		r.report(stderr, errors.Wrap(errors.KindSpawn, err, "%s: %v", argv[0], err))
		return 1
	}
}

// background starts a program without waiting for it and registers it in
// the job table. Only file-backed streams are handed over so that nothing
// in this process has to copy the job's output.
func (r *run) background(f frame, argv []string, assigns []assign) int {
	stdout, _ := r.streams(f)
	p, err := r.e.spawner.Start(context.Background(), hal.Spec{
		Argv:   argv,
		Env:    environ(f.sh, assigns),
		Dir:    f.sh.Dir,
		Stdout: fileOrNil(f.stdout),
		Stderr: fileOrNil(f.stderr),
	})
	if err != nil {
		return r.spawnFailed(f.sh, f.stderr, argv[0], err)
	}

	id := r.e.jobs.Add(p.PID(), strings.Join(argv, " "))
	f.sh.LastBgPID = p.PID()
	fmt.Fprintf(stdout, "[%d] %d\n", id, p.PID())
	r.e.log.Debug("background job", f.sh.LogAttr(), "job", id, "pid", p.PID())
	return 0
}

func fileOrNil(w io.Writer) io.Writer {
	if f, ok := w.(*os.File); ok && f != nil {
		return f
	}
	return nil
}

// spawnFailed reports a program that could not be started: 127 with
// suggestions when it does not exist, 126 otherwise.
func (r *run) spawnFailed(sh *shell.Context, stderr io.Writer, name string, err error) int {
	code := hal.StartErrorCode(err)
	if code != errors.ExitNotFound {
		r.report(stderr, errors.Wrap(errors.KindSpawn, err, "%s: cannot execute: %v", name, err))
		return code
	}

	suggestions := r.suggest(sh, name)
	nf := errors.NewCommandNotFound(name, suggestions)
	r.report(stderr, nf)
	if len(suggestions) > 0 {
		fmt.Fprintf(stderr, "nxsh: did you mean: %s?\n", strings.Join(suggestions, ", "))
	}
	r.e.log.Debug("command not found", sh.LogAttr(), "command", name)
	return code
}

// suggest ranks builtins, functions and aliases close to name.
func (r *run) suggest(sh *shell.Context, name string) []string {
	var candidates []string
	candidates = append(candidates, r.e.builtins.Names()...)
	for _, fn := range sh.FunctionNames() {
		if !strings.HasPrefix(fn, "__") && !strings.Contains(fn, "__gen_") {
			candidates = append(candidates, fn)
		}
	}
	candidates = append(candidates, sh.Aliases()...)

	seen := make(map[string]bool)
	type scored struct {
		name string
		dist int
	}
	var hits []scored
	for _, rk := range fuzzy.RankFindFold(name, candidates) {
		if !seen[rk.Target] {
			seen[rk.Target] = true
			hits = append(hits, scored{rk.Target, rk.Distance})
		}
	}
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		if d := fuzzy.LevenshteinDistance(name, c); d <= 2 && d < len(c) {
			seen[c] = true
			hits = append(hits, scored{c, d})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].name < hits[j].name
	})

	out := make([]string, 0, 3)
	for _, h := range hits {
		if len(out) == 3 {
			break
		}
		out = append(out, h.name)
	}
	return out
}
