package builtins

import (
	"context"
	"fmt"
	"strings"

	"github.com/opal-lang/nxsh/runtime/shell"
	"github.com/opal-lang/nxsh/runtime/trap"
)

func trapBuiltin(traps *trap.Traps) Builtin {
	return &Func{
		N:   "trap",
		Syn: "run commands on signals",
		Use: "trap [-lp] [[command|-] signal ...]",
		Long: "trap COMMAND SIG... installs COMMAND for each signal; each delivery runs it in a fresh shell. " +
			"trap - SIG... restores the default action. trap -l lists signal names, trap -p (or no arguments) lists installed traps.",
		Mutates: true,
		Run: func(_ context.Context, _ *shell.Context, stdio IO, args []string) (int, error) {
			if len(args) == 0 || (len(args) == 1 && args[0] == "-p") {
				for _, e := range traps.List() {
					fmt.Fprintf(stdio.Stdout, "trap -- '%s' %s\n", strings.ReplaceAll(e.Command, "'", `'\''`), e.Name)
				}
				return 0, nil
			}
			if args[0] == "-l" {
				for _, sig := range trap.Signals() {
					fmt.Fprintf(stdio.Stdout, "%2d) SIG%s\n", int(sig), trap.SignalName(sig))
				}
				return 0, nil
			}
			if len(args) < 2 {
				return usageError("trap [-lp] [[command|-] signal ...]", "missing signal")
			}

			command, names := args[0], args[1:]
			status := 0
			for _, name := range names {
				sig, err := trap.ParseSignal(name)
				if err != nil {
					fmt.Fprintf(stdio.Stderr, "nxsh: trap: %v\n", err)
					status = 1
					continue
				}
				if trap.Uncatchable(sig) {
					fmt.Fprintf(stdio.Stderr, "nxsh: trap: %s: cannot be trapped\n", name)
					status = 1
					continue
				}
				if command == "-" {
					traps.Reset(sig)
					continue
				}
				traps.SetHandler(sig, command)
			}
			return status, nil
		},
	}
}
