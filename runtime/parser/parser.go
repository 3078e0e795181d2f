// Package parser turns shell source into core/ast trees. The grammar is
// mvdan.cc/sh's bash dialect; this package translates its syntax tree and
// rejects constructs the executor does not model (redirections, arrays,
// parameter operators, case, ...).
//
// Generics use a bracket spelling: a function declared as
// name[T,U]() { ... } becomes a template with type parameters T and U, and a
// command word name[int,str] calls the instantiation of name for those type
// arguments.
package parser

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/opal-lang/nxsh/core/ast"
)

// ParseTree is the outcome of a parse
type ParseTree struct {
	Program   *ast.Program
	Errors    []ParseError
	Telemetry *ParseTelemetry // nil unless enabled
}

// Err returns the first error, or nil.
func (t *ParseTree) Err() error {
	if len(t.Errors) == 0 {
		return nil
	}
	return t.Errors[0]
}

// Parse parses the input bytes and returns a parse tree
func Parse(source []byte, opts ...ParserOpt) *ParseTree {
	config := &ParserConfig{}
	for _, opt := range opts {
		opt(config)
	}

	var telemetry *ParseTelemetry
	var start time.Time
	if config.telemetry >= TelemetryBasic {
		telemetry = &ParseTelemetry{}
		start = time.Now()
	}

	src := string(source)
	rewritten := markGenerics(src)

	p := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := p.Parse(strings.NewReader(rewritten), config.name)
	if telemetry != nil && config.telemetry >= TelemetryTiming {
		telemetry.SyntaxTime = time.Since(start)
	}

	tree := &ParseTree{Telemetry: telemetry}
	if err != nil {
		tree.Errors = append(tree.Errors, fromSyntaxError(err, config.name, src))
		finish(tree, start)
		return tree
	}

	t := &translator{name: config.name, src: src}
	translateStart := time.Now()
	stmts, err := t.stmts(file.Stmts)
	if telemetry != nil && config.telemetry >= TelemetryTiming {
		telemetry.TranslateTime = time.Since(translateStart)
	}
	if err != nil {
		var pe ParseError
		if !stderrors.As(err, &pe) {
			pe = ParseError{Name: config.name, Message: err.Error()}
		}
		tree.Errors = append(tree.Errors, pe)
		finish(tree, start)
		return tree
	}

	tree.Program = &ast.Program{Stmts: stmts}
	if telemetry != nil {
		telemetry.StatementCount = len(stmts)
		telemetry.NodeCount = t.nodes
	}
	finish(tree, start)
	return tree
}

// ParseString parses a string
func ParseString(input string, opts ...ParserOpt) *ParseTree {
	return Parse([]byte(input), opts...)
}

func finish(tree *ParseTree, start time.Time) {
	if tree.Telemetry == nil {
		return
	}
	tree.Telemetry.ErrorCount = len(tree.Errors)
	tree.Telemetry.TotalTime = time.Since(start)
}

func fromSyntaxError(err error, name, src string) ParseError {
	var se syntax.ParseError
	if stderrors.As(err, &se) {
		line, col := int(se.Pos.Line()), int(se.Pos.Col())
		return ParseError{
			Name:       name,
			Line:       line,
			Column:     col,
			Message:    se.Text,
			Context:    lineOf(src, line),
			Incomplete: se.Incomplete,
		}
	}
	return ParseError{Name: name, Message: err.Error()}
}

// ================================================================================================
// Generic spellings
// ================================================================================================

// typeArgMark replaces the brackets of name[T,U] before the grammar sees the
// source, so that name[T,U]() and name[T,U] args parse as plain words.
// Translation turns the marked words back into type parameters, type
// arguments, or the original text.
const typeArgMark = "__targs__"

var genericSpelling = regexp.MustCompile(`(?m)(^|[\s;&|()])([A-Za-z_][A-Za-z0-9_]*)\[([A-Za-z0-9_]+(?:[ \t]*,[ \t]*[A-Za-z0-9_]+)*)\]([\s;&|()]|$)`)

func markGenerics(src string) string {
	// Adjacent spellings share a separator, so repeat until stable.
	for {
		out := genericSpelling.ReplaceAllStringFunc(src, func(m string) string {
			g := genericSpelling.FindStringSubmatch(m)
			args := strings.Split(g[3], ",")
			for i := range args {
				args[i] = strings.TrimSpace(args[i])
			}
			return g[1] + g[2] + typeArgMark + strings.Join(args, "__") + g[4]
		})
		if out == src {
			return out
		}
		src = out
	}
}

// splitGeneric splits a marked word into its name and type arguments.
func splitGeneric(word string) (string, []string, bool) {
	base, args, ok := strings.Cut(word, typeArgMark)
	if !ok || base == "" || args == "" || !syntax.ValidName(base) {
		return word, nil, false
	}
	return base, strings.Split(args, "__"), true
}

// unmark restores name[T,U] in text that is not a declaration or a command
// name, such as arguments and quoted strings.
func unmark(s string) string {
	for {
		i := strings.Index(s, typeArgMark)
		if i < 0 {
			return s
		}
		j := i + len(typeArgMark)
		k := j
		for k < len(s) && isWordByte(s[k]) {
			k++
		}
		s = s[:i] + "[" + strings.ReplaceAll(s[j:k], "__", ",") + "]" + s[k:]
	}
}

func isWordByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

// ================================================================================================
// Translation
// ================================================================================================

type translator struct {
	name  string
	src   string
	nodes int
}

func (t *translator) errorf(pos syntax.Pos, format string, args ...any) error {
	line, col := int(pos.Line()), int(pos.Col())
	return ParseError{
		Name:    t.name,
		Line:    line,
		Column:  col,
		Message: fmt.Sprintf(format, args...),
		Context: lineOf(t.src, line),
	}
}

func position(p syntax.Pos) ast.Pos {
	return ast.Pos{Line: int(p.Line()), Column: int(p.Col())}
}

func (t *translator) stmts(list []*syntax.Stmt) ([]ast.Node, error) {
	out := make([]ast.Node, 0, len(list))
	for _, s := range list {
		n, err := t.stmt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// seq collapses a statement list into one node.
func (t *translator) seq(pos syntax.Pos, list []*syntax.Stmt) (ast.Node, error) {
	nodes, err := t.stmts(list)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	t.nodes++
	return &ast.Sequence{Pos: position(pos), Nodes: nodes}, nil
}

func (t *translator) stmt(s *syntax.Stmt) (ast.Node, error) {
	if len(s.Redirs) > 0 {
		return nil, t.errorf(s.Redirs[0].Pos(), "redirections are not supported")
	}
	if s.Coprocess {
		return nil, t.errorf(s.Pos(), "coprocesses are not supported")
	}
	n, err := t.command(s.Cmd)
	if err != nil {
		return nil, err
	}

	if s.Background {
		c, ok := n.(*ast.Command)
		if !ok {
			return nil, t.errorf(s.Pos(), "only simple commands can run in the background")
		}
		c.Background = true
	}
	if s.Negated {
		if p, ok := n.(*ast.Pipeline); ok {
			p.Negated = !p.Negated
			return p, nil
		}
		t.nodes++
		return &ast.Pipeline{Pos: position(s.Pos()), Stages: []ast.Node{n}, Negated: true}, nil
	}
	return n, nil
}

func (t *translator) command(cmd syntax.Command) (ast.Node, error) {
	if cmd == nil {
		return nil, fmt.Errorf("empty statement")
	}
	t.nodes++
	pos := position(cmd.Pos())

	switch c := cmd.(type) {
	case *syntax.CallExpr:
		return t.call(c)

	case *syntax.BinaryCmd:
		switch c.Op {
		case syntax.AndStmt, syntax.OrStmt:
			left, err := t.stmt(c.X)
			if err != nil {
				return nil, err
			}
			right, err := t.stmt(c.Y)
			if err != nil {
				return nil, err
			}
			if c.Op == syntax.AndStmt {
				return &ast.And{Pos: pos, Left: left, Right: right}, nil
			}
			return &ast.Or{Pos: pos, Left: left, Right: right}, nil
		case syntax.Pipe:
			var stages []ast.Node
			if err := t.pipeStages(c, &stages); err != nil {
				return nil, err
			}
			return &ast.Pipeline{Pos: pos, Stages: stages}, nil
		default:
			return nil, t.errorf(c.OpPos, "operator %s is not supported", c.Op)
		}

	case *syntax.Block:
		stmts, err := t.stmts(c.Stmts)
		if err != nil {
			return nil, err
		}
		return &ast.Block{Pos: pos, Stmts: stmts}, nil

	case *syntax.Subshell:
		stmts, err := t.stmts(c.Stmts)
		if err != nil {
			return nil, err
		}
		return &ast.Subshell{Pos: pos, Stmts: stmts}, nil

	case *syntax.IfClause:
		return t.ifClause(c)

	case *syntax.WhileClause:
		cond, err := t.seq(c.WhilePos, c.Cond)
		if err != nil {
			return nil, err
		}
		body, err := t.seq(c.DoPos, c.Do)
		if err != nil {
			return nil, err
		}
		return &ast.While{Pos: pos, Cond: cond, Body: body, Until: c.Until}, nil

	case *syntax.ForClause:
		iter, ok := c.Loop.(*syntax.WordIter)
		if !ok || c.Select {
			return nil, t.errorf(c.ForPos, "only 'for name in words' loops are supported")
		}
		items := make([]ast.Word, 0, len(iter.Items))
		for _, w := range iter.Items {
			word, err := t.word(w)
			if err != nil {
				return nil, err
			}
			items = append(items, word)
		}
		if !iter.InPos.IsValid() {
			items = []ast.Word{{Parts: []ast.WordPart{&ast.VarRef{Name: "@"}}}}
		}
		body, err := t.seq(c.DoPos, c.Do)
		if err != nil {
			return nil, err
		}
		return &ast.For{Pos: pos, Var: iter.Name.Value, Items: items, Body: body}, nil

	case *syntax.FuncDecl:
		if c.Name == nil {
			return nil, t.errorf(c.Pos(), "function declarations need exactly one name")
		}
		body, err := t.stmt(c.Body)
		if err != nil {
			return nil, err
		}
		name, typeParams, _ := splitGeneric(c.Name.Value)
		return &ast.FunctionDecl{Pos: pos, Name: name, TypeParams: typeParams, Body: body}, nil

	default:
		return nil, t.errorf(cmd.Pos(), "%s is not supported", describe(cmd))
	}
}

// pipeStages flattens nested pipes in source order.
func (t *translator) pipeStages(c *syntax.BinaryCmd, out *[]ast.Node) error {
	for _, side := range []*syntax.Stmt{c.X, c.Y} {
		if b, ok := side.Cmd.(*syntax.BinaryCmd); ok && b.Op == syntax.Pipe && !side.Negated && !side.Background && len(side.Redirs) == 0 {
			if err := t.pipeStages(b, out); err != nil {
				return err
			}
			continue
		}
		n, err := t.stmt(side)
		if err != nil {
			return err
		}
		*out = append(*out, n)
	}
	return nil
}

func (t *translator) ifClause(c *syntax.IfClause) (ast.Node, error) {
	cond, err := t.seq(c.Position, c.Cond)
	if err != nil {
		return nil, err
	}
	then, err := t.seq(c.ThenPos, c.Then)
	if err != nil {
		return nil, err
	}
	n := &ast.If{Pos: position(c.Position), Cond: cond, Then: then}
	switch {
	case c.Else == nil:
	case len(c.Else.Cond) == 0:
		if n.Else, err = t.seq(c.Else.Position, c.Else.Then); err != nil {
			return nil, err
		}
	default:
		t.nodes++
		if n.Else, err = t.ifClause(c.Else); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (t *translator) call(c *syntax.CallExpr) (ast.Node, error) {
	assigns := make([]ast.Assign, 0, len(c.Assigns))
	for _, a := range c.Assigns {
		if a.Append || a.Index != nil || a.Array != nil || a.Name == nil {
			return nil, t.errorf(a.Pos(), "only plain name=value assignments are supported")
		}
		var value ast.Word
		if a.Value != nil {
			w, err := t.word(a.Value)
			if err != nil {
				return nil, err
			}
			value = w
		}
		assigns = append(assigns, ast.Assign{Name: a.Name.Value, Value: value})
	}
	if len(c.Args) == 0 {
		return &ast.Assignment{Pos: position(c.Pos()), Assigns: assigns}, nil
	}

	cmd := &ast.Command{Pos: position(c.Pos()), Assigns: assigns}
	if lit := c.Args[0].Lit(); lit != "" {
		if name, typeArgs, ok := splitGeneric(lit); ok {
			cmd.Name = ast.Text(name)
			cmd.TypeArgs = typeArgs
		}
	}
	if cmd.TypeArgs == nil {
		name, err := t.word(c.Args[0])
		if err != nil {
			return nil, err
		}
		cmd.Name = name
	}
	for _, w := range c.Args[1:] {
		word, err := t.word(w)
		if err != nil {
			return nil, err
		}
		cmd.Args = append(cmd.Args, word)
	}
	return cmd, nil
}

func (t *translator) word(w *syntax.Word) (ast.Word, error) {
	parts, err := t.parts(w.Parts)
	if err != nil {
		return ast.Word{}, err
	}
	return ast.Word{Parts: parts}, nil
}

func (t *translator) parts(in []syntax.WordPart) ([]ast.WordPart, error) {
	out := make([]ast.WordPart, 0, len(in))
	for _, p := range in {
		switch p := p.(type) {
		case *syntax.Lit:
			out = append(out, &ast.Lit{Value: unmark(p.Value)})
		case *syntax.SglQuoted:
			if p.Dollar {
				return nil, t.errorf(p.Pos(), "$'...' strings are not supported")
			}
			out = append(out, &ast.SingleQuoted{Value: unmark(p.Value)})
		case *syntax.DblQuoted:
			inner, err := t.parts(p.Parts)
			if err != nil {
				return nil, err
			}
			out = append(out, &ast.Quoted{Parts: inner})
		case *syntax.ParamExp:
			name, err := t.param(p)
			if err != nil {
				return nil, err
			}
			out = append(out, &ast.VarRef{Name: name})
		case *syntax.CmdSubst:
			body, err := t.seq(p.Left, p.Stmts)
			if err != nil {
				return nil, err
			}
			out = append(out, &ast.Subst{Cmd: &ast.CommandSubstitution{Pos: position(p.Left), Body: body, Legacy: p.Backquotes}})
		case *syntax.ArithmExp:
			expr, err := t.arith(p.X)
			if err != nil {
				return nil, err
			}
			out = append(out, &ast.ArithExp{Expr: expr})
		default:
			return nil, t.errorf(p.Pos(), "%s is not supported", describe(p))
		}
	}
	return out, nil
}

// param accepts only $name and ${name}.
func (t *translator) param(p *syntax.ParamExp) (string, error) {
	if p.Excl || p.Length || p.Width || p.Index != nil || p.Slice != nil || p.Repl != nil || p.Names != 0 || p.Exp != nil {
		return "", t.errorf(p.Pos(), "parameter expansion operators are not supported")
	}
	return p.Param.Value, nil
}

var arithOps = map[syntax.BinAritOperator]ast.ArithOp{
	syntax.Add: ast.OpAdd,
	syntax.Sub: ast.OpSub,
	syntax.Mul: ast.OpMul,
	syntax.Quo: ast.OpDiv,
}

func (t *translator) arith(e syntax.ArithmExpr) (ast.Arith, error) {
	switch e := e.(type) {
	case *syntax.BinaryArithm:
		op, ok := arithOps[e.Op]
		if !ok {
			return nil, t.errorf(e.OpPos, "arithmetic operator %s is not supported", e.Op)
		}
		x, err := t.arith(e.X)
		if err != nil {
			return nil, err
		}
		y, err := t.arith(e.Y)
		if err != nil {
			return nil, err
		}
		return &ast.Binary{Op: op, X: x, Y: y}, nil
	case *syntax.ParenArithm:
		return t.arith(e.X)
	case *syntax.Word:
		if len(e.Parts) == 1 {
			switch p := e.Parts[0].(type) {
			case *syntax.Lit:
				if n, err := strconv.ParseInt(p.Value, 10, 64); err == nil {
					return &ast.Num{Value: n}, nil
				}
				if syntax.ValidName(p.Value) {
					return &ast.ArithVar{Name: p.Value}, nil
				}
			case *syntax.ParamExp:
				name, err := t.param(p)
				if err != nil {
					return nil, err
				}
				return &ast.ArithVar{Name: name}, nil
			}
		}
		return nil, t.errorf(e.Pos(), "unsupported arithmetic operand")
	default:
		return nil, t.errorf(e.Pos(), "%s is not supported in arithmetic", describe(e))
	}
}

// describe names a syntax node for error messages.
func describe(n syntax.Node) string {
	switch n.(type) {
	case *syntax.CaseClause:
		return "case"
	case *syntax.ArithmCmd:
		return "((...))"
	case *syntax.TestClause:
		return "[[...]]"
	case *syntax.DeclClause:
		return "declare"
	case *syntax.LetClause:
		return "let"
	case *syntax.TimeClause:
		return "time"
	case *syntax.ProcSubst:
		return "process substitution"
	case *syntax.ExtGlob:
		return "extended glob"
	case *syntax.UnaryArithm:
		return "unary arithmetic"
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", n), "*syntax.")
	}
}
