// Package ast defines the command tree consumed by the executor.
//
// Nodes are produced by a parser and never mutated afterwards. The executor
// only traverses them, so a tree can be executed any number of times.
package ast

import (
	"fmt"
	"strings"
)

// Node is any executable node in the tree.
type Node interface {
	String() string
	Position() Pos
	isNode()
}

// Pos is the source location of a node. Zero when the node was built in code.
type Pos struct {
	Line   int
	Column int
}

func (p Pos) Position() Pos { return p }

// Program is the root of a parsed script or input line.
type Program struct {
	Pos
	Stmts []Node
}

func (*Program) isNode() {}

func (p *Program) String() string { return joinNodes(p.Stmts, "\n") }

// Command is a simple command: optional prefix assignments, a name and
// arguments. TypeArgs is set for generic calls written as name<T,U>.
type Command struct {
	Pos
	Assigns    []Assign
	Name       Word
	Args       []Word
	TypeArgs   []string
	Background bool
}

func (*Command) isNode() {}

func (c *Command) String() string {
	var parts []string
	for _, a := range c.Assigns {
		parts = append(parts, a.String())
	}
	name := c.Name.String()
	if len(c.TypeArgs) > 0 {
		name += "[" + strings.Join(c.TypeArgs, ",") + "]"
	}
	if name != "" {
		parts = append(parts, name)
	}
	for _, a := range c.Args {
		parts = append(parts, a.String())
	}
	s := strings.Join(parts, " ")
	if c.Background {
		s += " &"
	}
	return s
}

// Assign is a NAME=value pair.
type Assign struct {
	Name  string
	Value Word
}

func (a Assign) String() string { return a.Name + "=" + a.Value.String() }

// Assignment is a statement made only of assignments (x=1 y=2).
type Assignment struct {
	Pos
	Assigns []Assign
}

func (*Assignment) isNode() {}

func (a *Assignment) String() string {
	parts := make([]string, len(a.Assigns))
	for i, as := range a.Assigns {
		parts[i] = as.String()
	}
	return strings.Join(parts, " ")
}

// Pipeline connects the stdout of each stage to the stdin of the next.
type Pipeline struct {
	Pos
	Stages  []Node
	Negated bool
}

func (*Pipeline) isNode() {}

func (p *Pipeline) String() string {
	s := joinNodes(p.Stages, " | ")
	if p.Negated {
		return "! " + s
	}
	return s
}

// And runs Right only if Left succeeded.
type And struct {
	Pos
	Left, Right Node
}

func (*And) isNode() {}

func (a *And) String() string { return a.Left.String() + " && " + a.Right.String() }

// Or runs Right only if Left failed.
type Or struct {
	Pos
	Left, Right Node
}

func (*Or) isNode() {}

func (o *Or) String() string { return o.Left.String() + " || " + o.Right.String() }

// Sequence runs nodes one after another (the ; operator).
type Sequence struct {
	Pos
	Nodes []Node
}

func (*Sequence) isNode() {}

func (s *Sequence) String() string { return joinNodes(s.Nodes, "; ") }

// Block is a brace group. It runs in the current context.
type Block struct {
	Pos
	Stmts []Node
}

func (*Block) isNode() {}

func (b *Block) String() string { return "{ " + joinNodes(b.Stmts, "; ") + "; }" }

// Subshell is a parenthesised group. It runs against a copy of the context.
type Subshell struct {
	Pos
	Stmts []Node
}

func (*Subshell) isNode() {}

func (s *Subshell) String() string { return "(" + joinNodes(s.Stmts, "; ") + ")" }

// If runs Then when Cond succeeds, Else otherwise. Else may be nil.
type If struct {
	Pos
	Cond Node
	Then Node
	Else Node
}

func (*If) isNode() {}

func (i *If) String() string {
	s := "if " + i.Cond.String() + "; then " + i.Then.String()
	if i.Else != nil {
		s += "; else " + i.Else.String()
	}
	return s + "; fi"
}

// While loops while Cond succeeds, or until it succeeds when Until is set.
type While struct {
	Pos
	Cond  Node
	Body  Node
	Until bool
}

func (*While) isNode() {}

func (w *While) String() string {
	kw := "while"
	if w.Until {
		kw = "until"
	}
	return kw + " " + w.Cond.String() + "; do " + w.Body.String() + "; done"
}

// For iterates Var over the expanded Items.
type For struct {
	Pos
	Var   string
	Items []Word
	Body  Node
}

func (*For) isNode() {}

func (f *For) String() string {
	items := make([]string, len(f.Items))
	for i, w := range f.Items {
		items[i] = w.String()
	}
	return fmt.Sprintf("for %s in %s; do %s; done", f.Var, strings.Join(items, " "), f.Body.String())
}

// FunctionDecl defines a function. A non-empty TypeParams makes it a generic
// template that is instantiated on first call with concrete type arguments.
type FunctionDecl struct {
	Pos
	Name       string
	TypeParams []string
	Params     []string
	Body       Node
}

func (*FunctionDecl) isNode() {}

func (f *FunctionDecl) String() string {
	name := f.Name
	if len(f.TypeParams) > 0 {
		name += "[" + strings.Join(f.TypeParams, ",") + "]"
	}
	return name + "(" + strings.Join(f.Params, ",") + ") " + f.Body.String()
}

// Closure is an anonymous function value. Evaluating it stores it in the
// context and yields its generated name.
type Closure struct {
	Pos
	Params   []string
	Captures []string
	Body     Node
}

func (*Closure) isNode() {}

func (c *Closure) String() string {
	return "|" + strings.Join(c.Params, ",") + "| " + c.Body.String()
}

// CommandSubstitution runs Body with output captured. Legacy marks the
// backtick form, whose output is always field split.
type CommandSubstitution struct {
	Pos
	Body   Node
	Legacy bool
}

func (*CommandSubstitution) isNode() {}

func (c *CommandSubstitution) String() string {
	if c.Legacy {
		return "`" + c.Body.String() + "`"
	}
	return "$(" + c.Body.String() + ")"
}

func joinNodes(nodes []Node, sep string) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, sep)
}
