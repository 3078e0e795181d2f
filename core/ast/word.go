package ast

import (
	"strconv"
	"strings"
)

// Word is a single shell word made of concatenated parts.
type Word struct {
	Parts []WordPart
}

func (w Word) String() string {
	var b strings.Builder
	for _, p := range w.Parts {
		b.WriteString(p.String())
	}
	return b.String()
}

// Literal returns the word's text when it contains no expansions.
func (w Word) Literal() (string, bool) {
	var b strings.Builder
	if !literalParts(w.Parts, &b) {
		return "", false
	}
	return b.String(), true
}

func literalParts(parts []WordPart, b *strings.Builder) bool {
	for _, p := range parts {
		switch p := p.(type) {
		case *Lit:
			b.WriteString(p.Value)
		case *SingleQuoted:
			b.WriteString(p.Value)
		case *Quoted:
			if !literalParts(p.Parts, b) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// WordPart is one piece of a Word.
type WordPart interface {
	String() string
	isWordPart()
}

// Lit is unquoted literal text.
type Lit struct{ Value string }

// SingleQuoted is '...' text, never expanded.
type SingleQuoted struct{ Value string }

// Quoted is a "..." section. Expansions inside it are never field split.
type Quoted struct{ Parts []WordPart }

// VarRef is $NAME or ${NAME}.
type VarRef struct{ Name string }

// Subst embeds a command substitution in a word.
type Subst struct{ Cmd *CommandSubstitution }

// ArithExp is $((expr)).
type ArithExp struct{ Expr Arith }

func (*Lit) isWordPart() {}
func (*SingleQuoted) isWordPart() {}
func (*Quoted) isWordPart() {}
func (*VarRef) isWordPart() {}
func (*Subst) isWordPart() {}
func (*ArithExp) isWordPart() {}

func (l *Lit) String() string { return l.Value }
func (s *SingleQuoted) String() string { return "'" + s.Value + "'" }
func (v *VarRef) String() string { return "${" + v.Name + "}" }
func (s *Subst) String() string { return s.Cmd.String() }
func (a *ArithExp) String() string { return "$((" + a.Expr.String() + "))" }

func (q *Quoted) String() string {
	var b strings.Builder
	b.WriteByte('"')
	for _, p := range q.Parts {
		b.WriteString(p.String())
	}
	b.WriteByte('"')
	return b.String()
}

// Arith is an integer arithmetic expression.
type Arith interface {
	String() string
	isArith()
}

// Num is an integer literal.
type Num struct{ Value int64 }

// ArithVar reads a variable as an integer.
type ArithVar struct{ Name string }

// Binary applies Op to X and Y.
type Binary struct {
	Op   ArithOp
	X, Y Arith
}

// ArithOp is one of the four supported operators.
type ArithOp byte

const (
	OpAdd ArithOp = '+'
	OpSub ArithOp = '-'
	OpMul ArithOp = '*'
	OpDiv ArithOp = '/'
)

func (*Num) isArith() {}
func (*ArithVar) isArith() {}
func (*Binary) isArith() {}

func (n *Num) String() string { return strconv.FormatInt(n.Value, 10) }
func (v *ArithVar) String() string { return v.Name }
func (b *Binary) String() string {
	return "(" + b.X.String() + " " + string(b.Op) + " " + b.Y.String() + ")"
}
