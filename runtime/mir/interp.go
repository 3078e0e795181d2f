package mir

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDivideByZero is returned when a division by zero is evaluated.
var ErrDivideByZero = errors.New("division by zero")

// Assignment is a variable written by a Store, in program order.
type Assignment struct {
	Name  string
	Value string
}

// State is the outcome of interpreting a program.
type State struct {
	Values  map[ValueID]int64
	Assigns []Assignment
	Stdout  string
	Last    string // output of the final echo
	Steps   uint64
}

// Interpret evaluates p. It stops at the first error, such as a division by
// zero that folding deliberately left in place.
func Interpret(p *Program) (*State, error) {
	st := &State{Values: make(map[ValueID]int64)}
	var out strings.Builder

	get := func(id ValueID) (int64, error) {
		v, ok := st.Values[id]
		if !ok {
			return 0, fmt.Errorf("use of undefined value %%%d", id)
		}
		return v, nil
	}

	for _, blk := range p.Blocks {
		for _, in := range blk.Instrs {
			st.Steps++
			switch in := in.(type) {
			case *ConstInt:
				st.Values[in.Dst] = in.Value
			case *BinOp:
				l, err := get(in.LHS)
				if err != nil {
					return st, err
				}
				r, err := get(in.RHS)
				if err != nil {
					return st, err
				}
				if in.Op == OpDiv && r == 0 {
					return st, ErrDivideByZero
				}
				st.Values[in.Dst] = eval(in.Op, l, r)
			case *Store:
				v, err := get(in.Src)
				if err != nil {
					return st, err
				}
				st.Assigns = append(st.Assigns, Assignment{Name: in.Name, Value: strconv.FormatInt(v, 10)})
			case *Echo:
				start := out.Len()
				for i, w := range in.Words {
					if i > 0 {
						out.WriteByte(' ')
					}
					for _, pc := range w {
						if !pc.IsRef {
							out.WriteString(pc.Text)
							continue
						}
						v, err := get(pc.Ref)
						if err != nil {
							return st, err
						}
						out.WriteString(strconv.FormatInt(v, 10))
					}
				}
				out.WriteByte('\n')
				st.Last = out.String()[start:]
			default:
				return st, fmt.Errorf("unsupported instruction %s", in)
			}
		}
	}
	st.Stdout = out.String()
	return st, nil
}
