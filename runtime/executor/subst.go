package executor

import (
	"strings"

	"github.com/opal-lang/nxsh/core/ast"
)

// capture runs a substitution body on a copy of the context with stdout
// collected, and returns the output minus one trailing newline together with
// the body's exit code. With NXSH_SUBST_STDERR=merge the body's stderr is
// collected too; otherwise it goes to the caller's stderr.
func (r *run) capture(f frame, cs *ast.CommandSubstitution) (string, int) {
	r.countSubst()

	buf := &recorder{}
	sub := frame{
		sh:     f.sh.Clone(),
		stdin:  f.stdin,
		stdout: buf.outWriter(),
		stderr: f.stderr,
		depth:  f.depth,
	}
	if f.sh.Lookup("NXSH_SUBST_STDERR") == "merge" {
		sub.stderr = sub.stdout
	}

	code := r.eval(sub, cs.Body)
	if r.e.cfg.Debug >= DebugDetailed {
		r.debug("substitution", cs.String())
	}
	return strings.TrimSuffix(buf.stdout(), "\n"), code
}
