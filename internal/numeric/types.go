// Package numeric specifies the contract the array-expansion domain needs
// from a base numeric abstract domain over scalar variables, plus the small
// supporting vocabulary (variables, linear expressions/constraints,
// intervals) that contract is expressed in.
//
// Nothing in this package is the analysis core: it is the boundary the core
// (internal/arrayexpansion) is built against, so that a relational domain
// (zones, octagons, polyhedra) could be dropped in without touching the
// array abstraction. internal/interval ships the one concrete instance this
// repo exercises the contract with.
package numeric

import "fmt"

// TypeKind classifies the element kind of an array, and therefore of the
// synthetic scalars minted over it.
type TypeKind int

const (
	BoolKind TypeKind = iota
	IntKind
	RealKind
)

func (k TypeKind) String() string {
	switch k {
	case BoolKind:
		return "bool"
	case IntKind:
		return "int"
	case RealKind:
		return "real"
	default:
		return "unknown"
	}
}

// Var is the identity of a scalar variable tracked by a NumericDomain: a
// program register, a temporary, or a synthetic cell scalar minted by
// internal/cellfactory. Identity is (Index, Name, Kind, Bitwidth); once
// minted it never changes, per spec §4.3.
type Var struct {
	Index    int64
	Name     string
	Kind     TypeKind
	Bitwidth int
}

func (v Var) String() string { return v.Name }

// ArrayElementKind discriminates what a cell's synthetic scalar should be
// typed as.
type ArrayElementKind int

const (
	BoolArray ArrayElementKind = iota
	IntegerArray
	RealArray
)

// ArrayVariable is the external collaborator identifying an array-typed
// program variable (the eBPF stack, a packet buffer, a map value, ...).
type ArrayVariable interface {
	Index() int64
	Name() string
	ElementKind() ArrayElementKind
}

// VariableFactory mints stable Vars for synthetic scalars. Two calls with
// the same (index, name, kind, bitwidth) must be able to describe the same
// variable identity -- stability across calls is the caller's
// responsibility (see internal/cellfactory, which is the only component
// that should be minting array-cell scalars).
type VariableFactory interface {
	NewVar(index int64, name string, kind TypeKind, bitwidth int) Var
}

// SimpleVariableFactory is the direct, struct-literal implementation: it
// performs no interning of its own, trusting the caller (CellFactory) to
// have already deduplicated the index.
type SimpleVariableFactory struct{}

func (SimpleVariableFactory) NewVar(index int64, name string, kind TypeKind, bitwidth int) Var {
	return Var{Index: index, Name: name, Kind: kind, Bitwidth: bitwidth}
}

// ArithOp enumerates the scalar arithmetic/bitwise operators the domain
// must support in Apply/ApplyConst/BackwardApply.
type ArithOp int

const (
	Add ArithOp = iota
	Sub
	Mul
	SDiv
	UDiv
	SRem
	URem
	And
	Or
	Xor
	Shl
	LShr
	AShr
)

func (op ArithOp) String() string {
	names := [...]string{"add", "sub", "mul", "sdiv", "udiv", "srem", "urem", "and", "or", "xor", "shl", "lshr", "ashr"}
	if int(op) < len(names) {
		return names[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// BoolOp enumerates the boolean-scalar binary operators.
type BoolOp int

const (
	BoolAnd BoolOp = iota
	BoolOr
	BoolXor
)

// ConvOp enumerates integer-conversion operators (truncation, sign/zero
// extension) applied when a narrower or wider cell scalar is assigned.
type ConvOp int

const (
	Truncate ConvOp = iota
	SignExtend
	ZeroExtend
)
