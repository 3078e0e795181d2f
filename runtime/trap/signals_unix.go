//go:build !windows

package trap

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ParseSignal accepts a number or a name with or without the SIG prefix,
// in any case: 2, INT, sigint, SIGINT.
func ParseSignal(s string) (syscall.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || unix.SignalName(syscall.Signal(n)) == "" {
			return 0, fmt.Errorf("%s: invalid signal specification", s)
		}
		return syscall.Signal(n), nil
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("%s: invalid signal specification", s)
	}
	return sig, nil
}

// SignalName returns the name without the SIG prefix, e.g. "INT".
func SignalName(sig syscall.Signal) string {
	if n := unix.SignalName(sig); n != "" {
		return strings.TrimPrefix(n, "SIG")
	}
	return strconv.Itoa(int(sig))
}

// Signals lists the known signals in numeric order, as trap -l prints them.
func Signals() []syscall.Signal {
	var out []syscall.Signal
	for n := 1; n < 65; n++ {
		if unix.SignalName(syscall.Signal(n)) != "" {
			out = append(out, syscall.Signal(n))
		}
	}
	return out
}

// Uncatchable reports whether sig can never be trapped.
func Uncatchable(sig syscall.Signal) bool {
	return sig == unix.SIGKILL || sig == unix.SIGSTOP
}
