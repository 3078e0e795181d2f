package mir

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// Errors returned by the native bridge. Callers treat every one of them as a
// signal to interpret the folded program instead.
var (
	ErrNothingToCompile = errors.New("native: program defines no value")
	ErrUnsupported      = errors.New("native: unsupported instruction")
	ErrTooLarge         = errors.New("native: code size limit exceeded")
	ErrMismatch         = errors.New("native: result mismatch")
)

const maxCodeSize = 64 << 10

// Artifact is the output of a native compilation.
type Artifact struct {
	Key    [32]byte // blake2b-256 of the program's canonical encoding
	Code   []byte
	Target ValueID // value the code computes into rax
	Result int64   // value computed by the encoded code
}

// Size is the machine code size in bytes.
func (a *Artifact) Size() int { return len(a.Code) }

// Compiler turns a folded program into native code.
type Compiler interface {
	Compile(p *Program) (*Artifact, error)
}

// AMD64Compiler encodes the expression that produces a program's final value
// as x86-64 machine code using rax as accumulator and the stack for
// intermediates. The encoding is checked by decoding it back and comparing
// with the interpreter. Division is not supported. Artifacts are cached by
// content hash, so a repeated fragment is encoded once.
type AMD64Compiler struct {
	mu    sync.Mutex
	cache map[[32]byte]*Artifact
	enc   cbor.EncMode
	hits  int
}

// NewAMD64Compiler creates a compiler with an empty cache.
func NewAMD64Compiler() *AMD64Compiler {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("mir: cbor encoder: %v", err))
	}
	return &AMD64Compiler{cache: make(map[[32]byte]*Artifact), enc: enc}
}

// CacheHits reports how many compilations were served from the cache.
func (c *AMD64Compiler) CacheHits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Compile encodes p, or returns the cached artifact for an identical program.
func (c *AMD64Compiler) Compile(p *Program) (*Artifact, error) {
	key, err := c.key(p)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if a, ok := c.cache[key]; ok {
		c.hits++
		c.mu.Unlock()
		return a, nil
	}
	c.mu.Unlock()

	target, defs, ok := finalValue(p)
	if !ok {
		return nil, ErrNothingToCompile
	}

	var code []byte
	if err := emit(&code, target, defs); err != nil {
		return nil, err
	}
	code = append(code, 0xC3) // ret

	got, err := decodeRun(code)
	if err != nil {
		return nil, err
	}
	st, err := Interpret(p)
	if err != nil {
		return nil, err
	}
	if want := st.Values[target]; got != want {
		return nil, fmt.Errorf("%w: encoded %d, interpreted %d", ErrMismatch, got, want)
	}

	a := &Artifact{Key: key, Code: code, Target: target, Result: got}
	c.mu.Lock()
	c.cache[key] = a
	c.mu.Unlock()
	return a, nil
}

type wireInstr struct {
	_     struct{} `cbor:",toarray"`
	Op    Op
	Dst   ValueID
	LHS   ValueID
	RHS   ValueID
	Value int64
	Name  string
	Words [][]Piece
}

func (c *AMD64Compiler) key(p *Program) ([32]byte, error) {
	wire := make([][]wireInstr, len(p.Blocks))
	for i, blk := range p.Blocks {
		for _, in := range blk.Instrs {
			var w wireInstr
			w.Op = in.Opcode()
			switch in := in.(type) {
			case *ConstInt:
				w.Dst, w.Value = in.Dst, in.Value
			case *BinOp:
				w.Dst, w.LHS, w.RHS = in.Dst, in.LHS, in.RHS
			case *Store:
				w.Name, w.LHS = in.Name, in.Src
			case *Echo:
				w.Words = in.Words
			}
			wire[i] = append(wire[i], w)
		}
	}
	data, err := c.enc.Marshal(wire)
	if err != nil {
		return [32]byte{}, fmt.Errorf("native: encode program: %w", err)
	}
	return blake2b.Sum256(data), nil
}

// finalValue picks the value the program accumulates into: the source of the
// last store, or else the last defined value.
func finalValue(p *Program) (ValueID, map[ValueID]Instr, bool) {
	defs := make(map[ValueID]Instr)
	var last, stored ValueID
	var haveLast, haveStored bool
	for _, blk := range p.Blocks {
		for _, in := range blk.Instrs {
			switch in := in.(type) {
			case *ConstInt:
				defs[in.Dst], last, haveLast = in, in.Dst, true
			case *BinOp:
				defs[in.Dst], last, haveLast = in, in.Dst, true
			case *Store:
				stored, haveStored = in.Src, true
			}
		}
	}
	if haveStored {
		return stored, defs, true
	}
	return last, defs, haveLast
}

func emit(code *[]byte, id ValueID, defs map[ValueID]Instr) error {
	if len(*code) > maxCodeSize {
		return ErrTooLarge
	}
	switch in := defs[id].(type) {
	case *ConstInt:
		// movabs rax, imm64
		*code = append(*code, 0x48, 0xB8)
		*code = binary.LittleEndian.AppendUint64(*code, uint64(in.Value))
		return nil
	case *BinOp:
		if in.Op == OpDiv {
			return fmt.Errorf("%w: %s", ErrUnsupported, in)
		}
		if err := emit(code, in.LHS, defs); err != nil {
			return err
		}
		*code = append(*code, 0x50) // push rax
		if err := emit(code, in.RHS, defs); err != nil {
			return err
		}
		*code = append(*code,
			0x48, 0x89, 0xC1, // mov rcx, rax
			0x58, // pop rax
		)
		switch in.Op {
		case OpAdd:
			*code = append(*code, 0x48, 0x01, 0xC8) // add rax, rcx
		case OpSub:
			*code = append(*code, 0x48, 0x29, 0xC8) // sub rax, rcx
		case OpMul:
			*code = append(*code, 0x48, 0x0F, 0xAF, 0xC1) // imul rax, rcx
		}
		return nil
	case nil:
		return fmt.Errorf("%w: undefined value %%%d", ErrUnsupported, id)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, in)
	}
}

// decodeRun executes the subset of x86-64 that emit produces and returns rax
// at ret.
func decodeRun(code []byte) (int64, error) {
	var rax, rcx int64
	var stack []int64
	for pc := 0; pc < len(code); {
		rest := code[pc:]
		switch {
		case rest[0] == 0xC3:
			if len(stack) != 0 {
				return 0, fmt.Errorf("native: unbalanced stack at ret")
			}
			return rax, nil
		case rest[0] == 0x50:
			stack = append(stack, rax)
			pc++
		case rest[0] == 0x58:
			if len(stack) == 0 {
				return 0, fmt.Errorf("native: pop on empty stack at %d", pc)
			}
			rax, stack = stack[len(stack)-1], stack[:len(stack)-1]
			pc++
		case len(rest) >= 10 && rest[0] == 0x48 && rest[1] == 0xB8:
			rax = int64(binary.LittleEndian.Uint64(rest[2:10]))
			pc += 10
		case hasPrefix(rest, 0x48, 0x89, 0xC1):
			rcx = rax
			pc += 3
		case hasPrefix(rest, 0x48, 0x01, 0xC8):
			rax += rcx
			pc += 3
		case hasPrefix(rest, 0x48, 0x29, 0xC8):
			rax -= rcx
			pc += 3
		case hasPrefix(rest, 0x48, 0x0F, 0xAF, 0xC1):
			rax *= rcx
			pc += 4
		default:
			return 0, fmt.Errorf("native: unknown encoding % x at %d", rest[:min(4, len(rest))], pc)
		}
	}
	return 0, fmt.Errorf("native: missing ret")
}

func hasPrefix(b []byte, p ...byte) bool {
	if len(b) < len(p) {
		return false
	}
	for i := range p {
		if b[i] != p[i] {
			return false
		}
	}
	return true
}
