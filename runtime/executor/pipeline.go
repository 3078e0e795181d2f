package executor

import (
	"fmt"
	"os"
	"sync"

	"github.com/opal-lang/nxsh/core/ast"
	"github.com/opal-lang/nxsh/core/errors"
)

// pipeline runs every stage concurrently, each on its own copy of the
// context, connected by OS pipes so external stages get real descriptors.
// The status is the last stage's, or with pipefail the rightmost non-zero
// one.
func (r *run) pipeline(f frame, p *ast.Pipeline) int {
	n := len(p.Stages)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return negate(p.Negated, r.eval(f, p.Stages[0]))
	}

	readers := make([]*os.File, n-1)
	writers := make([]*os.File, n-1)
	for i := range n - 1 {
		pr, pw, err := os.Pipe()
		if err != nil {
			for j := range i {
				readers[j].Close()
				writers[j].Close()
			}
			r.report(f.stderr, errors.Wrap(errors.KindSpawn, err, "pipe: %v", err))
			return 1
		}
		readers[i], writers[i] = pr, pw
	}

	exitCodes := make([]int, n)
	var wg sync.WaitGroup
	var panicMu sync.Mutex
	var panicked any

	for i, stage := range p.Stages {
		sf := f
		sf.sh = f.sh.Clone()
		if i > 0 {
			sf.stdin = readers[i-1]
		}
		if i < n-1 {
			sf.stdout = writers[i]
			sf.rec = nil
		}
		r.noteDiscardedState(f, stage)

		wg.Add(1)
		go func(i int, stage ast.Node, sf frame) {
			defer wg.Done()
			defer func() {
				// Close our ends so neighbours see EOF or EPIPE.
				if i < n-1 {
					writers[i].Close()
				}
				if i > 0 {
					readers[i-1].Close()
				}
			}()
			defer func() {
				if rec := recover(); rec != nil {
					panicMu.Lock()
					if panicked == nil {
						panicked = rec
					}
					panicMu.Unlock()
				}
			}()
			exitCodes[i] = r.eval(sf, stage)
		}(i, stage, sf)
	}
	wg.Wait()

	if panicked != nil {
		panic(panicked)
	}
	if r.timedOut.Load() {
		return errors.ExitTimeout
	}
	if r.e.cfg.Debug >= DebugDetailed {
		r.debug("pipeline", fmt.Sprintf("stages=%d exit_codes=%v", n, exitCodes))
	}

	code := exitCodes[n-1]
	if f.sh.Opts.Pipefail {
		for i := n - 1; i >= 0; i-- {
			if exitCodes[i] != 0 {
				code = exitCodes[i]
				break
			}
		}
	}
	return negate(p.Negated, code)
}

func negate(neg bool, code int) int {
	if !neg {
		return code
	}
	if code == 0 {
		return 1
	}
	return 0
}

// noteDiscardedState logs stages whose builtin changes shell state: they run
// on a copy, so the change does not survive the pipeline.
func (r *run) noteDiscardedState(f frame, stage ast.Node) {
	c, ok := stage.(*ast.Command)
	if !ok {
		return
	}
	name, ok := c.Name.Literal()
	if !ok {
		return
	}
	if b, ok := r.e.builtins.Lookup(name); ok && b.AffectsShellState() {
		r.e.log.Debug("pipeline stage changes are discarded", f.sh.LogAttr(), "builtin", name)
	}
}
