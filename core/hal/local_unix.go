//go:build !windows

package hal

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the group (negative pid) so the child and
// its descendants all go.
func killProcessGroup(pid int) {
	_ = unix.Kill(-pid, unix.SIGKILL)
}

func exitStatusOf(err *exec.ExitError) ExitStatus {
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: 128 + int(ws.Signal()), Signaled: true}
	}
	return ExitStatus{Code: err.ExitCode()}
}

// Signal delivers sig to pid.
func Signal(pid int, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return errors.New("unsupported signal")
	}
	return unix.Kill(pid, s)
}

// Continue resumes a stopped process group.
func Continue(pid int) error {
	if err := unix.Kill(-pid, unix.SIGCONT); err != nil {
		return unix.Kill(pid, unix.SIGCONT)
	}
	return nil
}

// SysWaiter polls children with wait4(2).
type SysWaiter struct{}

// Poll reports a pending status change of pid without blocking. A zero
// Change (NoChange) means the child is alive and unchanged.
func (SysWaiter) Poll(pid int) (Change, error) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
	if errors.Is(err, unix.ECHILD) {
		return Change{PID: pid}, ErrNoChild
	}
	if err != nil {
		return Change{PID: pid}, err
	}
	if wpid == 0 {
		return Change{PID: pid}, nil
	}
	return changeOf(wpid, ws), nil
}

func changeOf(pid int, ws unix.WaitStatus) Change {
	switch {
	case ws.Exited():
		return Change{PID: pid, Kind: Exited, Code: ws.ExitStatus()}
	case ws.Signaled():
		return Change{PID: pid, Kind: Signaled, Code: int(ws.Signal())}
	case ws.Stopped():
		return Change{PID: pid, Kind: Stopped, Code: int(ws.StopSignal())}
	case ws.Continued():
		return Change{PID: pid, Kind: Continued}
	default:
		return Change{PID: pid}
	}
}
