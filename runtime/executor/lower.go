package executor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opal-lang/nxsh/core/ast"
	"github.com/opal-lang/nxsh/core/invariant"
	"github.com/opal-lang/nxsh/runtime/builtins"
	"github.com/opal-lang/nxsh/runtime/mir"
	"github.com/opal-lang/nxsh/runtime/shell"
)

// maxLowered bounds the statements of a fragment the MIR engine accepts.
// Longer programs are interpreted so the global deadline is checked between
// statements.
const maxLowered = 256

// lowerer translates a qualifying fragment: a list of integer assignments
// and echo commands whose operands are literals, arithmetic, or variables.
// Anything else makes the fragment ineligible.
type lowerer struct {
	b    *mir.Builder
	sh   *shell.Context
	reg  *builtins.Registry
	vars map[string]mir.ValueID // variables stored earlier in the fragment
}

func lower(node ast.Node, sh *shell.Context, reg *builtins.Registry) (*mir.Program, bool) {
	var stmts []ast.Node
	switch n := node.(type) {
	case *ast.Program:
		stmts = n.Stmts
	case *ast.Sequence:
		stmts = n.Nodes
	case *ast.Assignment, *ast.Command:
		stmts = []ast.Node{n}
	default:
		return nil, false
	}
	if len(stmts) == 0 || len(stmts) > maxLowered || sh.Opts.Xtrace {
		return nil, false
	}

	l := &lowerer{b: mir.NewBuilder(), sh: sh, reg: reg, vars: make(map[string]mir.ValueID)}
	for _, s := range stmts {
		if !l.stmt(s) {
			return nil, false
		}
	}
	return l.b.Prog, true
}

func (l *lowerer) stmt(n ast.Node) bool {
	switch n := n.(type) {
	case *ast.Assignment:
		for _, a := range n.Assigns {
			if l.sh.IsReadonly(a.Name) || len(a.Value.Parts) != 1 {
				return false
			}
			var id mir.ValueID
			switch p := a.Value.Parts[0].(type) {
			case *ast.Lit:
				v, err := strconv.ParseInt(p.Value, 10, 64)
				if err != nil || strconv.FormatInt(v, 10) != p.Value {
					return false
				}
				id = l.b.Const(v)
			case *ast.ArithExp:
				var ok bool
				if id, ok = l.arith(p.Expr); !ok {
					return false
				}
			default:
				return false
			}
			l.b.Store(a.Name, id)
			l.vars[a.Name] = id
		}
		return true
	case *ast.Command:
		return l.echo(n)
	default:
		return false
	}
}

func (l *lowerer) echo(c *ast.Command) bool {
	name, ok := c.Name.Literal()
	if !ok || name != "echo" || len(c.Assigns) > 0 || len(c.TypeArgs) > 0 || c.Background {
		return false
	}
	if _, aliased := l.sh.Alias("echo"); aliased {
		return false
	}
	if _, shadowed := l.sh.Function("echo"); shadowed {
		return false
	}
	if _, ok := l.reg.Lookup("echo"); !ok {
		return false
	}

	words := make([][]mir.Piece, 0, len(c.Args))
	for i, w := range c.Args {
		pieces, ok := l.pieces(w.Parts)
		if !ok {
			return false
		}
		if i == 0 && isFlag(pieces, "-n") {
			return false
		}
		words = append(words, pieces)
	}
	l.b.Echo(words)
	return true
}

func (l *lowerer) pieces(parts []ast.WordPart) ([]mir.Piece, bool) {
	var out []mir.Piece
	for _, p := range parts {
		switch p := p.(type) {
		case *ast.Lit:
			out = append(out, mir.Piece{Text: p.Value})
		case *ast.SingleQuoted:
			out = append(out, mir.Piece{Text: p.Value})
		case *ast.Quoted:
			inner, ok := l.pieces(p.Parts)
			if !ok {
				return nil, false
			}
			out = append(out, inner...)
		case *ast.VarRef:
			if id, ok := l.vars[p.Name]; ok {
				out = append(out, mir.Piece{Ref: id, IsRef: true})
				continue
			}
			if !isIdent(p.Name) {
				return nil, false
			}
			// Not written by the fragment, so its value cannot change.
			out = append(out, mir.Piece{Text: l.sh.Lookup(p.Name)})
		case *ast.ArithExp:
			id, ok := l.arith(p.Expr)
			if !ok {
				return nil, false
			}
			out = append(out, mir.Piece{Ref: id, IsRef: true})
		default:
			return nil, false
		}
	}
	return out, true
}

var arithOps = map[ast.ArithOp]mir.Op{
	ast.OpAdd: mir.OpAdd,
	ast.OpSub: mir.OpSub,
	ast.OpMul: mir.OpMul,
	ast.OpDiv: mir.OpDiv,
}

func (l *lowerer) arith(e ast.Arith) (mir.ValueID, bool) {
	switch e := e.(type) {
	case *ast.Num:
		return l.b.Const(e.Value), true
	case *ast.ArithVar:
		if id, ok := l.vars[e.Name]; ok {
			return id, true
		}
		// Special parameters such as $? change between statements.
		if !isIdent(e.Name) {
			return 0, false
		}
		v := l.sh.Lookup(e.Name)
		if v == "" {
			return l.b.Const(0), true
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return l.b.Const(n), true
	case *ast.Binary:
		op, ok := arithOps[e.Op]
		if !ok {
			return 0, false
		}
		x, ok := l.arith(e.X)
		if !ok {
			return 0, false
		}
		y, ok := l.arith(e.Y)
		if !ok {
			return 0, false
		}
		return l.b.Bin(op, x, y), true
	default:
		return 0, false
	}
}

// isFlag reports whether a word expands to flag. Refs print as integers and
// can never form a flag, so only all-text words are checked.
func isFlag(pieces []mir.Piece, flag string) bool {
	var b strings.Builder
	for _, p := range pieces {
		if p.IsRef {
			return false
		}
		b.WriteString(p.Text)
	}
	return b.String() == flag
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9') {
			continue
		}
		return false
	}
	return true
}

// tryMIR runs node through lowering, optimisation, the optional native step
// and the MIR interpreter. It reports false, with no side effects, when the
// node does not qualify or evaluation fails; the caller then interprets it.
func (r *run) tryMIR(node ast.Node, sh *shell.Context) (int, bool) {
	t0 := time.Now()
	prog, ok := lower(node, sh, r.e.builtins)
	if !ok {
		r.e.log.Debug("mir fallback", sh.LogAttr(), "reason", "fragment does not qualify")
		if r.e.cfg.Debug >= DebugPaths {
			r.debug("fallback", "fragment does not qualify")
		}
		return 0, false
	}
	compile := time.Since(t0)

	t1 := time.Now()
	fold := mir.Optimize(prog)
	optimize := time.Since(t1)

	nativeSize := 0
	if r.e.compiler != nil {
		if art, err := r.e.compiler.Compile(prog); err != nil {
			r.e.log.Debug("native compile skipped", sh.LogAttr(), "error", err)
		} else {
			nativeSize = art.Size()
		}
	}

	t2 := time.Now()
	st, err := mir.Interpret(prog)
	execute := time.Since(t2)
	if err != nil {
		r.e.log.Debug("mir fallback", sh.LogAttr(), "reason", err)
		if r.e.cfg.Debug >= DebugPaths {
			r.debug("fallback", err.Error())
		}
		return 0, false
	}

	for _, a := range st.Assigns {
		invariant.ExpectNoError(sh.Set(a.Name, a.Value), "mir store after readonly check")
	}
	if sh.Stdout != nil && st.Stdout != "" {
		fmt.Fprint(sh.Stdout, st.Stdout)
	}
	if !r.e.cfg.Passthrough {
		r.rec.reset()
		r.rec.out.WriteString(st.Last)
	}

	r.metrics = ExecutionMetrics{
		CompileTime:      compile,
		OptimizeTime:     optimize,
		ExecuteTime:      execute,
		InstructionCount: prog.Len(),
		NativeCodeSize:   nativeSize,
		Folded:           fold.Folded,
	}
	if r.e.cfg.Debug >= DebugPaths {
		r.debug("mir", fmt.Sprintf("instrs=%d folded=%d native=%d", prog.Len(), fold.Folded, nativeSize))
	}
	return 0, true
}
