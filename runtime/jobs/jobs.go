// Package jobs tracks background child processes and their lifecycle.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opal-lang/nxsh/core/invariant"
)

// State is the lifecycle state of a job.
type State int

const (
	Running State = iota
	Stopped
	Completed
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Completed:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Job is a snapshot of one tracked process. ExitCode is meaningful only when
// State is Completed; -1 means the process was killed by a signal.
type Job struct {
	ID       uint32
	PID      int
	Cmd      string
	State    State
	ExitCode int
}

func (j Job) String() string {
	status := j.State.String()
	if j.State == Completed && j.ExitCode != 0 {
		status = fmt.Sprintf("Exit %d", j.ExitCode)
	}
	return fmt.Sprintf("[%d] %d %s\t%s", j.ID, j.PID, status, j.Cmd)
}

// Table maps job ids to jobs. The id counter is guarded separately from the
// map so allocation never waits on readers.
type Table struct {
	mu   sync.RWMutex
	jobs map[uint32]*Job

	idMu   sync.Mutex
	nextID uint32
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{jobs: make(map[uint32]*Job)}
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the process-wide table, creating it and starting its
// reaper on first use.
func Default() *Table {
	defaultOnce.Do(func() {
		defaultTable = NewTable()
		NewReaper(defaultTable, nil, nil).Start(context.Background())
	})
	return defaultTable
}

func (t *Table) allocID() uint32 {
	t.idMu.Lock()
	defer t.idMu.Unlock()
	prev := t.nextID
	t.nextID++
	invariant.Invariant(t.nextID > prev, "job id counter overflow")
	return t.nextID
}

// Add registers a running process and returns its fresh id. A previous
// entry for the same pid is dropped so at most one live entry exists.
func (t *Table) Add(pid int, cmd string) uint32 {
	invariant.Precondition(pid > 0, "pid must be positive, got %d", pid)

	id := t.allocID()

	t.mu.Lock()
	defer t.mu.Unlock()
	_, taken := t.jobs[id]
	invariant.Invariant(!taken, "job id %d already in use", id)
	for oldID, j := range t.jobs {
		if j.PID == pid {
			delete(t.jobs, oldID)
		}
	}
	t.jobs[id] = &Job{ID: id, PID: pid, Cmd: cmd, State: Running}
	return id
}

// Get returns a copy of the job with the given id.
func (t *Table) Get(id uint32) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// ByPID returns the job tracking pid.
func (t *Table) ByPID(pid int) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, j := range t.jobs {
		if j.PID == pid {
			return *j, true
		}
	}
	return Job{}, false
}

// List returns copies of all jobs ordered by id.
func (t *Table) List() []Job {
	t.mu.RLock()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, *j)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Current returns the most recently added job, as used by fg/bg/wait
// without arguments.
func (t *Table) Current() (Job, bool) {
	list := t.List()
	if len(list) == 0 {
		return Job{}, false
	}
	return list[len(list)-1], true
}

// UpdateState records a transition for the job tracking pid. Completed is
// terminal: updates to a completed job are ignored. Reports whether a job
// changed.
func (t *Table) UpdateState(pid int, state State, code int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.jobs {
		if j.PID != pid || j.State == Completed {
			continue
		}
		j.State = state
		if state == Completed {
			j.ExitCode = code
		}
		return true
	}
	return false
}

// Remove drops a job. Reports whether it existed.
func (t *Table) Remove(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.jobs[id]
	delete(t.jobs, id)
	return ok
}

// Disown drops a single job without touching its process.
func (t *Table) Disown(id uint32) bool { return t.Remove(id) }

// DisownAll drops every job. The processes keep running untracked.
func (t *Table) DisownAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.jobs)
}

// pids returns the pids of jobs that can still change state.
func (t *Table) pids() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int, 0, len(t.jobs))
	for _, j := range t.jobs {
		if j.State != Completed {
			out = append(out, j.PID)
		}
	}
	return out
}

// Wait blocks until job id completes or ctx is done, then removes it from
// the table and returns its final snapshot.
func (t *Table) Wait(ctx context.Context, id uint32) (Job, error) {
	invariant.ContextNotNil(ctx, "jobs.Table.Wait")

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		j, ok := t.Get(id)
		if !ok {
			return Job{}, fmt.Errorf("no such job: %d", id)
		}
		if j.State == Completed {
			t.Remove(id)
			return j, nil
		}
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-tick.C:
		}
	}
}
