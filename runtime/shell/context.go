// Package shell holds the per-session state the executor runs against:
// variables, aliases, options, deadlines, functions and generic templates.
//
// A Context is owned by one session and is not safe for concurrent use.
// Subshells and trap bodies work on their own copy.
package shell

import (
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opal-lang/nxsh/core/ast"
	"github.com/opal-lang/nxsh/core/errors"
	"github.com/opal-lang/nxsh/core/invariant"
)

// Options are the set -o flags the executor honours.
type Options struct {
	Errexit   bool // -e
	Xtrace    bool // -x
	Pipefail  bool // -o pipefail
	Noclobber bool // -C, accepted but not enforced
}

// Function is a callable defined by the user, a closure, or a generic
// instantiation.
type Function struct {
	Name   string
	Params []string
	Body   ast.Node
	// Bound are variables set for the duration of each call: captured
	// values for closures, type parameter bindings for instantiations.
	Bound map[string]string
}

// Context is the mutable state of a shell session.
type Context struct {
	ID uuid.UUID

	vars     map[string]string
	exported map[string]bool
	readonly map[string]bool
	aliases  map[string]string

	Opts       Options
	Positional []string
	LastStatus int
	LastBgPID  int
	Dir        string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	deadline   time.Time
	cmdTimeout time.Duration

	funcs     map[string]*Function
	templates map[string]Template
	mono      map[string]string
	closures  int
}

// New creates a context whose exported variables are taken from environ
// (KEY=VALUE pairs, as returned by os.Environ).
func New(environ []string) *Context {
	c := &Context{
		ID:        uuid.New(),
		vars:      make(map[string]string),
		exported:  make(map[string]bool),
		readonly:  make(map[string]bool),
		aliases:   make(map[string]string),
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		funcs:     make(map[string]*Function),
		templates: make(map[string]Template),
		mono:      make(map[string]string),
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		c.vars[k] = v
		c.exported[k] = true
	}
	if wd, err := os.Getwd(); err == nil {
		c.Dir = wd
	}
	return c
}

// LogAttr identifies the session in log records.
func (c *Context) LogAttr() slog.Attr {
	return slog.String("session", c.ID.String())
}

// Clone returns an independent copy sharing only the stdio streams.
func (c *Context) Clone() *Context {
	cp := *c
	cp.vars = maps.Clone(c.vars)
	cp.exported = maps.Clone(c.exported)
	cp.readonly = maps.Clone(c.readonly)
	cp.aliases = maps.Clone(c.aliases)
	cp.Positional = slices.Clone(c.Positional)
	cp.funcs = maps.Clone(c.funcs)
	cp.templates = maps.Clone(c.templates)
	cp.mono = maps.Clone(c.mono)
	return &cp
}

// ================================================================================================
// Variables
// ================================================================================================

// Get returns a variable, including the special parameters $? $! $# $@ $*
// and positionals $1..$N.
func (c *Context) Get(name string) (string, bool) {
	switch name {
	case "?":
		return strconv.Itoa(c.LastStatus), true
	case "!":
		if c.LastBgPID == 0 {
			return "", false
		}
		return strconv.Itoa(c.LastBgPID), true
	case "#":
		return strconv.Itoa(len(c.Positional)), true
	case "@", "*":
		return strings.Join(c.Positional, " "), true
	case "$":
		return strconv.Itoa(os.Getpid()), true
	}
	if n, err := strconv.Atoi(name); err == nil && n > 0 {
		if n <= len(c.Positional) {
			return c.Positional[n-1], true
		}
		return "", false
	}
	v, ok := c.vars[name]
	return v, ok
}

// Lookup is Get without the presence flag.
func (c *Context) Lookup(name string) string {
	v, _ := c.Get(name)
	return v
}

// Set assigns a shell variable. Readonly variables are refused.
func (c *Context) Set(name, value string) error {
	invariant.Precondition(name != "", "variable name must not be empty")
	if c.readonly[name] {
		return errors.New(errors.KindRuntime, "%s: readonly variable", name)
	}
	c.vars[name] = value
	return nil
}

// Unset removes a variable.
func (c *Context) Unset(name string) error {
	if c.readonly[name] {
		return errors.New(errors.KindRuntime, "%s: cannot unset: readonly variable", name)
	}
	delete(c.vars, name)
	delete(c.exported, name)
	return nil
}

// Export marks a variable for inclusion in child environments.
func (c *Context) Export(name string) {
	c.exported[name] = true
	if _, ok := c.vars[name]; !ok {
		c.vars[name] = ""
	}
}

// SetReadonly marks a variable readonly. It cannot be undone.
func (c *Context) SetReadonly(name string) {
	c.readonly[name] = true
}

// IsReadonly reports whether name is readonly.
func (c *Context) IsReadonly(name string) bool { return c.readonly[name] }

// Readonly returns the readonly names in sorted order.
func (c *Context) Readonly() []string {
	return slices.Sorted(maps.Keys(c.readonly))
}

// Environ returns the exported variables as sorted KEY=VALUE pairs.
func (c *Context) Environ() []string {
	out := make([]string, 0, len(c.exported))
	for _, k := range slices.Sorted(maps.Keys(c.exported)) {
		out = append(out, k+"="+c.vars[k])
	}
	return out
}

// Shift drops the first n positional parameters.
func (c *Context) Shift(n int) error {
	if n < 0 || n > len(c.Positional) {
		return errors.New(errors.KindRuntime, "shift: %d: shift count out of range", n)
	}
	c.Positional = c.Positional[n:]
	return nil
}

// ================================================================================================
// Aliases
// ================================================================================================

// SetAlias defines an alias.
func (c *Context) SetAlias(name, value string) { c.aliases[name] = value }

// Alias returns an alias definition.
func (c *Context) Alias(name string) (string, bool) {
	v, ok := c.aliases[name]
	return v, ok
}

// Unalias removes an alias.
func (c *Context) Unalias(name string) bool {
	_, ok := c.aliases[name]
	delete(c.aliases, name)
	return ok
}

// Aliases returns the alias names in sorted order.
func (c *Context) Aliases() []string {
	return slices.Sorted(maps.Keys(c.aliases))
}

// ================================================================================================
// Deadlines
// ================================================================================================

// SetDeadline arms the global deadline. A zero time disarms it.
func (c *Context) SetDeadline(t time.Time) { c.deadline = t }

// SetTimeout arms the global deadline d from now.
func (c *Context) SetTimeout(d time.Duration) { c.deadline = time.Now().Add(d) }

// Deadline returns the global deadline, if armed.
func (c *Context) Deadline() (time.Time, bool) {
	return c.deadline, !c.deadline.IsZero()
}

// DeadlineExceeded reports whether the global deadline has passed.
func (c *Context) DeadlineExceeded() bool {
	return !c.deadline.IsZero() && !time.Now().Before(c.deadline)
}

// SetCommandTimeout sets the budget applied to each external process.
// Zero disables it. It is independent of the global deadline.
func (c *Context) SetCommandTimeout(d time.Duration) { c.cmdTimeout = d }

// CommandTimeout returns the per-command budget, zero when disabled.
func (c *Context) CommandTimeout() time.Duration { return c.cmdTimeout }

// ================================================================================================
// Functions and closures
// ================================================================================================

// DefineFunction registers or replaces a function.
func (c *Context) DefineFunction(fn *Function) {
	invariant.NotNil(fn, "fn")
	invariant.Precondition(fn.Name != "", "function name must not be empty")
	c.funcs[fn.Name] = fn
}

// Function looks up a function by name.
func (c *Context) Function(name string) (*Function, bool) {
	fn, ok := c.funcs[name]
	return fn, ok
}

// FunctionNames returns all function names in sorted order.
func (c *Context) FunctionNames() []string {
	return slices.Sorted(maps.Keys(c.funcs))
}

// StoreClosure registers a closure under a generated name (__closure_N) and
// returns that name. Captured variables are snapshotted now.
func (c *Context) StoreClosure(params, captures []string, body ast.Node) string {
	c.closures++
	name := "__closure_" + strconv.Itoa(c.closures)
	bound := make(map[string]string, len(captures))
	for _, n := range captures {
		bound[n] = c.Lookup(n)
	}
	c.funcs[name] = &Function{Name: name, Params: params, Body: body, Bound: bound}
	return name
}
