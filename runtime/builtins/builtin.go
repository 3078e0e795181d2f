// Package builtins defines the in-process command interface and the
// registry the executor resolves command names through.
package builtins

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/opal-lang/nxsh/core/invariant"
	"github.com/opal-lang/nxsh/runtime/shell"
)

// IO is the stdio a builtin runs with. Inside a pipeline these are the pipe
// ends, not the session streams.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Builtin is a command implemented inside the shell.
type Builtin interface {
	Name() string
	Synopsis() string
	Usage() string
	Help() string
	// AffectsShellState reports whether the builtin mutates session state
	// (variables, options, cwd, job table). Such builtins always run
	// against the live context; others may be given a copy.
	AffectsShellState() bool
	// Execute runs the builtin. A non-nil error is printed by the caller
	// as "nxsh: <name>: <err>"; the exit code is used as is, or 1 when the
	// error comes with exit code 0.
	Execute(ctx context.Context, sh *shell.Context, stdio IO, args []string) (int, error)
}

// Func adapts a function and its metadata to Builtin.
type Func struct {
	N       string
	Syn     string
	Use     string
	Long    string
	Mutates bool
	Run     func(ctx context.Context, sh *shell.Context, stdio IO, args []string) (int, error)
}

func (f *Func) Name() string            { return f.N }
func (f *Func) Synopsis() string        { return f.Syn }
func (f *Func) Usage() string           { return f.Use }
func (f *Func) Help() string            { return f.Long }
func (f *Func) AffectsShellState() bool { return f.Mutates }

func (f *Func) Execute(ctx context.Context, sh *shell.Context, stdio IO, args []string) (int, error) {
	return f.Run(ctx, sh, stdio, args)
}

// Registry holds builtins by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Builtin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Builtin)}
}

// Register adds or replaces a builtin.
func (r *Registry) Register(b Builtin) {
	invariant.NotNil(b, "builtin")
	invariant.Precondition(b.Name() != "", "builtin name must not be empty")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[b.Name()] = b
}

// Lookup retrieves a builtin by name.
func (r *Registry) Lookup(name string) (Builtin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.entries[name]
	return b, ok
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// usageError reports bad arguments with exit status 2.
func usageError(b string, format string, args ...any) (int, error) {
	return 2, fmt.Errorf("%s (usage: %s)", fmt.Sprintf(format, args...), b)
}
