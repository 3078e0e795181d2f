package executor

import (
	"context"
	"os"

	"github.com/opal-lang/nxsh/core/errors"
	"github.com/opal-lang/nxsh/runtime/parser"
	"github.com/opal-lang/nxsh/runtime/shell"
	"github.com/opal-lang/nxsh/runtime/trap"
)

// TrapRunner returns the function trap listeners call for each delivered
// signal. Every trap body is parsed and run by a new Executor built from cfg
// against a new context seeded from environ, so it cannot observe or change
// the interrupted session.
func TrapRunner(cfg Config, environ func() []string) trap.Runner {
	if environ == nil {
		environ = os.Environ
	}
	return func(ctx context.Context, command string) int {
		ex := New(cfg)
		tree := parser.ParseString(command, parser.WithName("trap"))
		if err := tree.Err(); err != nil {
			ex.log.Warn("trap body does not parse", "command", command, "error", err)
			return errors.ExitUsage
		}

		sh := shell.New(environ())
		res, err := ex.Execute(ctx, tree.Program, sh)
		if err != nil {
			ex.log.Error("trap body failed", sh.LogAttr(), "command", command, "error", err)
			return 1
		}
		return res.ExitCode
	}
}
