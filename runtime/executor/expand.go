package executor

import (
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/opal-lang/nxsh/core/ast"
	"github.com/opal-lang/nxsh/core/errors"
)

// errTimedOut aborts an expansion whose substitution hit the global deadline.
var errTimedOut = stderrors.New("expansion interrupted by timeout")

// expander turns words into fields for one command or assignment. status is
// the exit code of the last substitution it ran.
type expander struct {
	r      *run
	f      frame
	status int
}

func (r *run) expander(f frame) *expander {
	return &expander{r: r, f: f}
}

// fields expands w. A word always yields at least one field; only unquoted
// substitutions with splitting enabled can yield more.
func (x *expander) fields(w ast.Word) ([]string, error) {
	var out []string
	var cur strings.Builder
	for _, part := range w.Parts {
		sub, ok := part.(*ast.Subst)
		if !ok {
			s, err := x.part(part)
			if err != nil {
				return nil, err
			}
			cur.WriteString(s)
			continue
		}
		text, err := x.subst(sub.Cmd)
		if err != nil {
			return nil, err
		}
		if !x.splitting(sub.Cmd) {
			cur.WriteString(text)
			continue
		}
		pieces := splitFields(text, x.ifs())
		cur.WriteString(pieces[0])
		for _, p := range pieces[1:] {
			out = append(out, cur.String())
			cur.Reset()
			cur.WriteString(p)
		}
	}
	return append(out, cur.String()), nil
}

// join expands w into a single string, as assignment values are.
func (x *expander) join(w ast.Word) (string, error) {
	fs, err := x.fields(w)
	if err != nil {
		return "", err
	}
	return strings.Join(fs, " "), nil
}

// part expands a word part that never splits.
func (x *expander) part(p ast.WordPart) (string, error) {
	switch p := p.(type) {
	case *ast.Lit:
		return p.Value, nil
	case *ast.SingleQuoted:
		return p.Value, nil
	case *ast.VarRef:
		return x.f.sh.Lookup(p.Name), nil
	case *ast.ArithExp:
		v, err := x.arith(p.Expr)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(v, 10), nil
	case *ast.Subst:
		return x.subst(p.Cmd)
	case *ast.Quoted:
		var b strings.Builder
		for _, inner := range p.Parts {
			s, err := x.part(inner)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
		return b.String(), nil
	default:
		return "", errors.New(errors.KindParse, "unsupported word part %T", p)
	}
}

func (x *expander) subst(cs *ast.CommandSubstitution) (string, error) {
	out, code := x.r.capture(x.f, cs)
	if x.r.timedOut.Load() {
		return "", errTimedOut
	}
	x.status = code
	return out, nil
}

// splitting reports whether an unquoted substitution is split into fields:
// always for the backquote form, otherwise only with NXSH_SUBST_SPLIT=1.
func (x *expander) splitting(cs *ast.CommandSubstitution) bool {
	return cs.Legacy || x.f.sh.Lookup("NXSH_SUBST_SPLIT") == "1"
}

func (x *expander) ifs() string {
	if v := x.f.sh.Lookup("NXSH_IFS"); v != "" {
		return v
	}
	return defaultIFS
}

const defaultIFS = " \t\n"

// splitFields splits s on any run of separator characters, dropping empty
// fields. An input with no fields yields exactly one empty field.
func splitFields(s, ifs string) []string {
	fs := strings.FieldsFunc(s, func(r rune) bool { return strings.ContainsRune(ifs, r) })
	if len(fs) == 0 {
		return []string{""}
	}
	return fs
}

// arith evaluates integer arithmetic with wrapping overflow. Unset or empty
// variables count as zero.
func (x *expander) arith(e ast.Arith) (int64, error) {
	switch e := e.(type) {
	case *ast.Num:
		return e.Value, nil
	case *ast.ArithVar:
		v := strings.TrimSpace(x.f.sh.Lookup(e.Name))
		if v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, errors.New(errors.KindRuntime, "%s: invalid arithmetic operand", v)
		}
		return n, nil
	case *ast.Binary:
		l, err := x.arith(e.X)
		if err != nil {
			return 0, err
		}
		r, err := x.arith(e.Y)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case ast.OpAdd:
			return l + r, nil
		case ast.OpSub:
			return l - r, nil
		case ast.OpMul:
			return l * r, nil
		case ast.OpDiv:
			if r == 0 {
				return 0, errors.New(errors.KindRuntime, "division by zero")
			}
			return l / r, nil
		}
		return 0, errors.New(errors.KindParse, "unsupported arithmetic operator %q", rune(e.Op))
	default:
		return 0, errors.New(errors.KindParse, "unsupported arithmetic node %T", e)
	}
}

// expandFailed maps an expansion error to an exit code.
func (r *run) expandFailed(f frame, err error) int {
	if stderrors.Is(err, errTimedOut) {
		return errors.ExitTimeout
	}
	r.report(f.stderr, err)
	if errors.IsKind(err, errors.KindParse) {
		return errors.ExitUsage
	}
	return 1
}
