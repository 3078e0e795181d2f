//go:build windows

package trap

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

var windowsSignals = []struct {
	sig  syscall.Signal
	name string
}{
	{syscall.SIGHUP, "HUP"},
	{syscall.SIGINT, "INT"},
	{syscall.SIGQUIT, "QUIT"},
	{syscall.SIGKILL, "KILL"},
	{syscall.SIGTERM, "TERM"},
}

// ParseSignal accepts a number or a name with or without the SIG prefix.
func ParseSignal(s string) (syscall.Signal, error) {
	n, numErr := strconv.Atoi(s)
	name := strings.TrimPrefix(strings.ToUpper(s), "SIG")
	for _, e := range windowsSignals {
		if (numErr == nil && int(e.sig) == n) || e.name == name {
			return e.sig, nil
		}
	}
	return 0, fmt.Errorf("%s: invalid signal specification", s)
}

// SignalName returns the name without the SIG prefix.
func SignalName(sig syscall.Signal) string {
	for _, e := range windowsSignals {
		if e.sig == sig {
			return e.name
		}
	}
	return strconv.Itoa(int(sig))
}

// Signals lists the known signals.
func Signals() []syscall.Signal {
	out := make([]syscall.Signal, len(windowsSignals))
	for i, e := range windowsSignals {
		out[i] = e.sig
	}
	return out
}

// Uncatchable reports whether sig can never be trapped.
func Uncatchable(sig syscall.Signal) bool {
	return sig == syscall.SIGKILL
}
