// Package hal is the process layer under the executor: spawning, waiting,
// signalling and non-blocking status polling. Platform differences live in
// the build-tagged files.
package hal

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
)

// Spec describes a process to start.
type Spec struct {
	Argv   []string
	Env    []string // nil inherits the current process environment
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ExitStatus is the outcome of a finished process.
type ExitStatus struct {
	Code     int // 128+signal when Signaled
	Signaled bool
}

// Process is a started child.
type Process interface {
	PID() int
	// Wait blocks until the process exits or the context passed to Start is
	// done. On cancellation the whole process group is killed and the
	// context's error is returned.
	Wait() (ExitStatus, error)
	Kill() error
	Signal(sig os.Signal) error
}

// Spawner starts processes.
type Spawner interface {
	Start(ctx context.Context, spec Spec) (Process, error)
}

// ChangeKind is the kind of status change reported by a Waiter.
type ChangeKind int

const (
	NoChange ChangeKind = iota
	Exited
	Signaled
	Stopped
	Continued
)

func (k ChangeKind) String() string {
	switch k {
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	case Stopped:
		return "stopped"
	case Continued:
		return "continued"
	default:
		return "none"
	}
}

// Change is one observed status transition.
type Change struct {
	PID  int
	Kind ChangeKind
	Code int // exit code for Exited, signal number for Signaled/Stopped
}

// ErrNoChild is returned by a Waiter when pid is not a child of this process
// (already reaped elsewhere, or never ours).
var ErrNoChild = errors.New("no such child process")

// Waiter polls a child without blocking.
type Waiter interface {
	Poll(pid int) (Change, error)
}

// StartErrorCode maps an error from Start to the conventional shell exit
// code: 127 when the program does not exist, 126 when it cannot be run.
func StartErrorCode(err error) int {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return 127
	case errors.Is(err, fs.ErrPermission), errors.Is(err, exec.ErrDot):
		return 126
	default:
		return 126
	}
}
