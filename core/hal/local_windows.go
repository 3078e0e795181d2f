//go:build windows

package hal

import (
	"errors"
	"os"
	"os/exec"
)

func configureProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func exitStatusOf(err *exec.ExitError) ExitStatus {
	return ExitStatus{Code: err.ExitCode()}
}

// Signal delivers sig to pid. Only os.Kill is supported.
func Signal(pid int, sig os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

// Continue is unsupported: Windows has no job-control stop state.
func Continue(pid int) error {
	return errors.New("continue: not supported on windows")
}

// SysWaiter has no non-blocking wait on Windows and reports every pid as
// unknown, which the reaper treats as idle.
type SysWaiter struct{}

func (SysWaiter) Poll(pid int) (Change, error) {
	return Change{PID: pid}, ErrNoChild
}
