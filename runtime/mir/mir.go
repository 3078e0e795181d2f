// Package mir is the narrow intermediate representation used by the compiled
// execution path: integer constants and arithmetic in basic blocks, plus the
// variable stores and echoes needed to reproduce simple shell fragments.
package mir

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueID names an SSA value.
type ValueID uint32

// BlockID names a basic block.
type BlockID uint32

// FirstSSAID is the first id handed out by RenameSSA. Ids below it are
// reserved for lowering, so renamed values never collide with them.
const FirstSSAID ValueID = 1 << 16

// Op is an instruction opcode.
type Op uint8

const (
	OpConst Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpStore
	OpEcho
)

var opNames = [...]string{"const", "add", "sub", "mul", "div", "store", "echo"}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// Instr is a single MIR instruction.
type Instr interface {
	Opcode() Op
	String() string
}

// ConstInt defines Dst as a constant.
type ConstInt struct {
	Dst   ValueID
	Value int64
}

// BinOp defines Dst as LHS op RHS for one of Add, Sub, Mul, Div.
type BinOp struct {
	Op       Op
	Dst      ValueID
	LHS, RHS ValueID
}

// Store assigns the decimal form of Src to a shell variable.
type Store struct {
	Name string
	Src  ValueID
}

// Piece is part of an echoed word: literal text or a value reference.
type Piece struct {
	Text  string
	Ref   ValueID
	IsRef bool
}

// Echo writes its words separated by spaces and followed by a newline.
type Echo struct {
	Words [][]Piece
}

func (*ConstInt) Opcode() Op { return OpConst }
func (b *BinOp) Opcode() Op { return b.Op }
func (*Store) Opcode() Op { return OpStore }
func (*Echo) Opcode() Op { return OpEcho }

func (c *ConstInt) String() string { return fmt.Sprintf("%%%d = const %d", c.Dst, c.Value) }

func (b *BinOp) String() string {
	return fmt.Sprintf("%%%d = %s %%%d, %%%d", b.Dst, b.Op, b.LHS, b.RHS)
}

func (s *Store) String() string { return fmt.Sprintf("store %s, %%%d", s.Name, s.Src) }

func (e *Echo) String() string {
	words := make([]string, len(e.Words))
	for i, w := range e.Words {
		var b strings.Builder
		for _, p := range w {
			if p.IsRef {
				fmt.Fprintf(&b, "%%%d", p.Ref)
			} else {
				b.WriteString(strconv.Quote(p.Text))
			}
		}
		words[i] = b.String()
	}
	return "echo " + strings.Join(words, " ")
}

// Block is a straight-line sequence of instructions.
type Block struct {
	ID     BlockID
	Instrs []Instr
}

// Program is an ordered list of blocks executed in order.
type Program struct {
	Blocks []*Block
}

// NewBlock appends an empty block and returns it.
func (p *Program) NewBlock() *Block {
	b := &Block{ID: BlockID(len(p.Blocks))}
	p.Blocks = append(p.Blocks, b)
	return b
}

// Len returns the total instruction count.
func (p *Program) Len() int {
	n := 0
	for _, b := range p.Blocks {
		n += len(b.Instrs)
	}
	return n
}

func (p *Program) String() string {
	var b strings.Builder
	for _, blk := range p.Blocks {
		fmt.Fprintf(&b, "b%d:\n", blk.ID)
		for _, in := range blk.Instrs {
			b.WriteString("  ")
			b.WriteString(in.String())
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Clone returns a deep copy so passes can run without touching the input.
func (p *Program) Clone() *Program {
	out := &Program{Blocks: make([]*Block, len(p.Blocks))}
	for i, blk := range p.Blocks {
		nb := &Block{ID: blk.ID, Instrs: make([]Instr, len(blk.Instrs))}
		for j, in := range blk.Instrs {
			nb.Instrs[j] = cloneInstr(in)
		}
		out.Blocks[i] = nb
	}
	return out
}

func cloneInstr(in Instr) Instr {
	switch in := in.(type) {
	case *ConstInt:
		c := *in
		return &c
	case *BinOp:
		c := *in
		return &c
	case *Store:
		c := *in
		return &c
	case *Echo:
		words := make([][]Piece, len(in.Words))
		for i, w := range in.Words {
			words[i] = append([]Piece(nil), w...)
		}
		return &Echo{Words: words}
	default:
		panic(fmt.Sprintf("mir: unknown instruction %T", in))
	}
}

// Builder hands out pre-SSA value ids while lowering.
type Builder struct {
	Prog *Program
	Cur  *Block
	next ValueID
}

// NewBuilder creates a builder with one open block.
func NewBuilder() *Builder {
	p := &Program{}
	return &Builder{Prog: p, Cur: p.NewBlock(), next: 1}
}

func (b *Builder) fresh() ValueID {
	id := b.next
	b.next++
	return id
}

// Const emits a constant and returns its id.
func (b *Builder) Const(v int64) ValueID {
	id := b.fresh()
	b.Cur.Instrs = append(b.Cur.Instrs, &ConstInt{Dst: id, Value: v})
	return id
}

// Bin emits an arithmetic instruction and returns its id.
func (b *Builder) Bin(op Op, lhs, rhs ValueID) ValueID {
	id := b.fresh()
	b.Cur.Instrs = append(b.Cur.Instrs, &BinOp{Op: op, Dst: id, LHS: lhs, RHS: rhs})
	return id
}

// Store emits a variable store.
func (b *Builder) Store(name string, src ValueID) {
	b.Cur.Instrs = append(b.Cur.Instrs, &Store{Name: name, Src: src})
}

// Echo emits an echo.
func (b *Builder) Echo(words [][]Piece) {
	b.Cur.Instrs = append(b.Cur.Instrs, &Echo{Words: words})
}
