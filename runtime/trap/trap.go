// Package trap runs shell commands when the process receives signals.
//
// Each trapped signal gets one listener goroutine for its lifetime.
// Registering the same signal again only swaps the command the listener
// runs. Trap bodies are executed through a Runner that gives every
// invocation its own executor and context, so a handler never touches the
// interactive session's live state.
package trap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/opal-lang/nxsh/core/invariant"
)

// Runner executes a trap body and returns its exit status.
type Runner func(ctx context.Context, command string) int

// Entry describes one installed trap.
type Entry struct {
	Signal  syscall.Signal
	Name    string
	Command string
}

type listener struct {
	command string
	ch      chan os.Signal
	done    chan struct{}
}

// Traps owns the installed handlers.
type Traps struct {
	mu        sync.Mutex
	listeners map[syscall.Signal]*listener
	run       Runner
	log       *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   atomic.Int64
}

// New creates an empty trap set. run is called once per delivered signal.
func New(run Runner, log *slog.Logger) *Traps {
	invariant.NotNil(run, "run")
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Traps{
		listeners: make(map[syscall.Signal]*listener),
		run:       run,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetHandler installs command for sig. The first registration for a signal
// starts its listener; later ones replace the command only.
func (t *Traps) SetHandler(sig syscall.Signal, command string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.listeners[sig]; ok {
		l.command = command
		return
	}

	l := &listener{command: command, ch: make(chan os.Signal, 1), done: make(chan struct{})}
	t.listeners[sig] = l
	signal.Notify(l.ch, sig)

	t.wg.Add(1)
	t.running.Add(1)
	go t.listen(sig, l)
}

func (t *Traps) listen(sig syscall.Signal, l *listener) {
	defer t.wg.Done()
	defer t.running.Add(-1)
	for {
		select {
		case <-l.done:
			return
		case <-t.ctx.Done():
			return
		case <-l.ch:
			t.mu.Lock()
			cmd := l.command
			t.mu.Unlock()

			t.log.Debug("trap fired", "signal", SignalName(sig), "command", cmd)
			if cmd == "" {
				continue // trap '' SIG ignores the signal
			}
			code := t.run(t.ctx, cmd)
			t.log.Debug("trap finished", "signal", SignalName(sig), "exit", code)
		}
	}
}

// Reset removes the trap for sig and restores default signal handling.
// Reports whether a trap was installed.
func (t *Traps) Reset(sig syscall.Signal) bool {
	t.mu.Lock()
	l, ok := t.listeners[sig]
	delete(t.listeners, sig)
	t.mu.Unlock()

	if !ok {
		return false
	}
	signal.Stop(l.ch)
	signal.Reset(sig)
	close(l.done)
	return true
}

// Command returns the command installed for sig.
func (t *Traps) Command(sig syscall.Signal) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.listeners[sig]
	if !ok {
		return "", false
	}
	return l.command, true
}

// List returns the installed traps ordered by signal number.
func (t *Traps) List() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.listeners))
	for sig, l := range t.listeners {
		out = append(out, Entry{Signal: sig, Name: SignalName(sig), Command: l.command})
	}
	slices.SortFunc(out, func(a, b Entry) int { return int(a.Signal) - int(b.Signal) })
	return out
}

// Listeners reports how many listener goroutines are running. A listener
// removed by Reset stops asynchronously.
func (t *Traps) Listeners() int {
	return int(t.running.Load())
}

// Stop removes every trap and waits for listeners to exit.
func (t *Traps) Stop() {
	t.mu.Lock()
	sigs := make([]syscall.Signal, 0, len(t.listeners))
	for sig := range t.listeners {
		sigs = append(sigs, sig)
	}
	t.mu.Unlock()

	for _, sig := range sigs {
		t.Reset(sig)
	}
	t.cancel()
	t.wg.Wait()
}
