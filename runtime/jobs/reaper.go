package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/opal-lang/nxsh/core/hal"
)

const (
	minBackoff = 5 * time.Millisecond
	maxBackoff = 100 * time.Millisecond
)

// Reaper polls tracked children and records their transitions in a Table.
// It polls each tracked pid rather than waiting on any child, so foreground
// processes waited on elsewhere are never reaped here.
type Reaper struct {
	table  *Table
	waiter hal.Waiter
	log    *slog.Logger
	done   chan struct{}
}

// NewReaper creates a reaper for table. A nil waiter uses the system waiter;
// a nil logger discards.
func NewReaper(table *Table, waiter hal.Waiter, log *slog.Logger) *Reaper {
	if waiter == nil {
		waiter = hal.SysWaiter{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reaper{table: table, waiter: waiter, log: log, done: make(chan struct{})}
}

// Start runs the poll loop in a goroutine until ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	go r.run(ctx)
}

// Done is closed when the loop has exited.
func (r *Reaper) Done() <-chan struct{} { return r.done }

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)
	backoff := minBackoff
	for {
		if r.Poll() > 0 {
			backoff = minBackoff
		} else {
			backoff = min(backoff*2, maxBackoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// Poll checks every tracked pid once and returns the number of jobs whose
// state changed.
func (r *Reaper) Poll() int {
	changed := 0
	for _, pid := range r.table.pids() {
		ch, err := r.waiter.Poll(pid)
		if errors.Is(err, hal.ErrNoChild) {
			// Reaped elsewhere or never ours: nothing more will be learned.
			if r.table.UpdateState(pid, Completed, -1) {
				changed++
			}
			continue
		}
		if err != nil {
			r.log.Debug("reaper poll failed", "pid", pid, "error", err)
			continue
		}
		if r.apply(ch) {
			changed++
		}
	}
	return changed
}

func (r *Reaper) apply(ch hal.Change) bool {
	var ok bool
	switch ch.Kind {
	case hal.Exited:
		ok = r.table.UpdateState(ch.PID, Completed, ch.Code)
	case hal.Signaled:
		ok = r.table.UpdateState(ch.PID, Completed, -1)
	case hal.Stopped:
		ok = r.table.UpdateState(ch.PID, Stopped, 0)
	case hal.Continued:
		ok = r.table.UpdateState(ch.PID, Running, 0)
	default:
		return false
	}
	if ok {
		r.log.Debug("job state changed", "pid", ch.PID, "change", ch.Kind.String(), "code", ch.Code)
	}
	return ok
}
