package futex

import (
	"unsafe"

	"github.com/odvcencio/taskrt/pkg/parkinglot"
	"github.com/odvcencio/taskrt/pkg/rterrors"
)

// Comparator is one of the six relational operators a Filter can apply.
type Comparator int

const (
	CmpEq Comparator = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

func (c Comparator) valid() bool { return c >= CmpEq && c <= CmpGe }

// Filter is a compact encoded predicate over a waiter's park token: an
// optional dereference of the park token as a pointer to a fixed-width
// integer, an AND-mask applied to the (possibly dereferenced) value, a
// comparator, and an optional dereference of the comparator's argument.
// It is validated once at construction; an ill-formed Filter is rejected
// up front rather than evaluated speculatively against memory.
type Filter struct {
	Deref    bool  // treat the park token as *Width and load through it
	Width    Width // width of the dereferenced load; ignored if !Deref
	Mask     uint64
	Cmp      Comparator
	Arg      uint64
	ArgDeref bool // treat Arg as a pointer and load through it at the same Width
}

// All is the FILTER_ALL constant: selects every waiter unconditionally.
// A zero mask reduces every token to 0 before comparison, so CmpEq
// against an Arg of 0 is true regardless of the token's actual value.
var All = Filter{Cmp: CmpEq, Mask: 0, Arg: 0}

func (f Filter) wellFormed() bool {
	if !f.Cmp.valid() {
		return false
	}
	if f.Deref && !f.Width.valid() {
		return false
	}
	if f.ArgDeref && !f.Deref {
		// An arg-deref with no token-deref has no width to load the
		// argument with; reject rather than guess.
		return false
	}
	return true
}

// compile validates f and returns a parkinglot.FilterFunc closing over
// it. Returns an Invalid error for a malformed filter
// without ever evaluating it against memory — validation always
// precedes evaluation.
func (f Filter) compile() (parkinglot.FilterFunc, error) {
	if !f.wellFormed() {
		return nil, rterrors.New(rterrors.CodeInvalid, "futex: ill-formed filter")
	}
	return func(token uintptr) parkinglot.FilterOp {
		if f.eval(token) {
			return parkinglot.FilterUnpark
		}
		return parkinglot.FilterSkip
	}, nil
}

func (f Filter) eval(token uintptr) bool {
	value := uint64(token)
	if f.Deref {
		value = loadWidth(unsafe.Pointer(token), f.Width)
	}
	value &= f.Mask

	arg := f.Arg
	if f.ArgDeref {
		arg = loadWidth(unsafe.Pointer(uintptr(f.Arg)), f.Width)
	}
	arg &= f.Mask

	switch f.Cmp {
	case CmpEq:
		return value == arg
	case CmpNe:
		return value != arg
	case CmpLt:
		return value < arg
	case CmpLe:
		return value <= arg
	case CmpGt:
		return value > arg
	case CmpGe:
		return value >= arg
	default:
		return false
	}
}
