package mir

import (
	"github.com/opal-lang/nxsh/core/invariant"
)

// FoldStats reports what constant folding did.
type FoldStats struct {
	Folded    int // arithmetic instructions replaced by constants
	DivByZero int // divisions left in place because the divisor is zero
}

// Fold performs block-local constant folding in place. Within each block it
// tracks values known to be constant and replaces arithmetic on two known
// operands with a ConstInt. A division by a known zero is never folded so the
// failure still happens at run time. Nothing is propagated across blocks.
func Fold(p *Program) FoldStats {
	var st FoldStats
	for _, blk := range p.Blocks {
		known := make(map[ValueID]int64)
		for i, in := range blk.Instrs {
			switch in := in.(type) {
			case *ConstInt:
				known[in.Dst] = in.Value
			case *BinOp:
				l, lok := known[in.LHS]
				r, rok := known[in.RHS]
				if !lok || !rok {
					continue
				}
				if in.Op == OpDiv && r == 0 {
					st.DivByZero++
					continue
				}
				v := eval(in.Op, l, r)
				blk.Instrs[i] = &ConstInt{Dst: in.Dst, Value: v}
				known[in.Dst] = v
				st.Folded++
			}
		}
	}
	return st
}

// eval applies an arithmetic op with wrapping semantics. The caller rules out
// division by zero.
func eval(op Op, l, r int64) int64 {
	switch op {
	case OpAdd:
		return l + r
	case OpSub:
		return l - r
	case OpMul:
		return l * r
	case OpDiv:
		return l / r
	}
	invariant.Invariant(false, "eval: %s is not arithmetic", op)
	return 0
}

// RenameSSA gives every defined value a fresh id, starting at FirstSSAID and
// increasing in program order, and rewrites all uses through the rename map.
// Uses of values not defined in the program keep their id.
func RenameSSA(p *Program) {
	next := FirstSSAID
	renamed := make(map[ValueID]ValueID)
	use := func(id ValueID) ValueID {
		if n, ok := renamed[id]; ok {
			return n
		}
		return id
	}
	def := func(id ValueID) ValueID {
		n := next
		next++
		invariant.Invariant(next > n, "ssa id space exhausted")
		renamed[id] = n
		return n
	}

	for _, blk := range p.Blocks {
		for _, in := range blk.Instrs {
			switch in := in.(type) {
			case *ConstInt:
				in.Dst = def(in.Dst)
			case *BinOp:
				in.LHS, in.RHS = use(in.LHS), use(in.RHS)
				in.Dst = def(in.Dst)
			case *Store:
				in.Src = use(in.Src)
			case *Echo:
				for _, w := range in.Words {
					for k := range w {
						if w[k].IsRef {
							w[k].Ref = use(w[k].Ref)
						}
					}
				}
			}
		}
	}
}

// Optimize runs folding followed by SSA renaming.
func Optimize(p *Program) FoldStats {
	st := Fold(p)
	RenameSSA(p)
	return st
}
