package hal

import (
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/opal-lang/nxsh/core/invariant"
)

// Local spawns processes on this machine with os/exec.
type Local struct{}

// Start launches spec. The child gets its own process group so that
// cancellation of ctx terminates the child and everything it spawned.
func (Local) Start(ctx context.Context, spec Spec) (Process, error) {
	invariant.ContextNotNil(ctx, "hal.Local.Start")
	invariant.Precondition(len(spec.Argv) > 0, "argv cannot be empty")

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	configureProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &localProcess{ctx: ctx, cmd: cmd}, nil
}

type localProcess struct {
	ctx context.Context
	cmd *exec.Cmd
}

func (p *localProcess) PID() int { return p.cmd.Process.Pid }

func (p *localProcess) Wait() (ExitStatus, error) {
	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()

	select {
	case <-p.ctx.Done():
		killProcessGroup(p.cmd.Process.Pid)
		<-done
		return ExitStatus{Code: -1}, p.ctx.Err()
	case err := <-done:
		if err == nil {
			return ExitStatus{}, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitStatusOf(exitErr), nil
		}
		return ExitStatus{Code: 1}, err
	}
}

func (p *localProcess) Kill() error {
	killProcessGroup(p.cmd.Process.Pid)
	return nil
}

func (p *localProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}
