package ast

// Helpers for building trees in code, mostly used by tests and by the
// executor when it synthesises nodes (trap bodies, closures).

// Text creates a word holding a single literal.
func Text(s string) Word {
	return Word{Parts: []WordPart{&Lit{Value: s}}}
}

// Words creates one literal word per string.
func Words(ss ...string) []Word {
	out := make([]Word, len(ss))
	for i, s := range ss {
		out[i] = Text(s)
	}
	return out
}

// Var creates a word that expands $name.
func Var(name string) Word {
	return Word{Parts: []WordPart{&VarRef{Name: name}}}
}

// SubstWord creates a word holding $(body).
func SubstWord(body Node) Word {
	return Word{Parts: []WordPart{&Subst{Cmd: &CommandSubstitution{Body: body}}}}
}

// ArithWord creates a word holding $((expr)).
func ArithWord(expr Arith) Word {
	return Word{Parts: []WordPart{&ArithExp{Expr: expr}}}
}

// Cmd creates a simple command with literal arguments.
func Cmd(name string, args ...string) *Command {
	return &Command{Name: Text(name), Args: Words(args...)}
}

// Prog creates a program from statements.
func Prog(stmts ...Node) *Program {
	return &Program{Stmts: stmts}
}

// Set creates an assignment statement name=value.
func Set(name string, value Word) *Assignment {
	return &Assignment{Assigns: []Assign{{Name: name, Value: value}}}
}

// Bin creates a binary arithmetic expression.
func Bin(op ArithOp, x, y Arith) *Binary {
	return &Binary{Op: op, X: x, Y: y}
}

// N creates an integer literal.
func N(v int64) *Num { return &Num{Value: v} }
