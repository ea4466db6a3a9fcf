// Package cell implements synthetic-cell geometry: a byte sub-range of an
// array tagged with an optional scalar variable that names its contents in
// the numeric domain.
//
// Equality and ordering ignore the scalar, so a cell set can be keyed
// purely on (offset, size). A cell without a scalar is only ever a
// transient probe used by overlap queries, never a map resident.
package cell

import (
	"fmt"

	"ebpfverify/internal/numeric"
	"ebpfverify/internal/offsetkey"
)

// Cell is (offset, size, optional scalar). The null cell (offset 0, size 0,
// no scalar) is the sentinel "not found" value returned by lookups.
type Cell struct {
	offset    offsetkey.Offset
	size      uint64
	hasScalar bool
	scalar    numeric.Var
}

// Probe builds a scalar-less cell for temporary overlap queries.
// OffsetMap.Insert requires an explicit opt-out of the has-scalar sanity
// check to accept one of these.
func Probe(offset offsetkey.Offset, size uint64) Cell {
	return Cell{offset: offset, size: size}
}

// Bound builds a cell that owns a synthetic scalar -- the only shape that
// may live in an OffsetMap permanently.
func Bound(offset offsetkey.Offset, size uint64, scalar numeric.Var) Cell {
	return Cell{offset: offset, size: size, hasScalar: true, scalar: scalar}
}

// Null is the "not found" sentinel: zero offset, zero size, no scalar.
func Null() Cell { return Cell{} }

func (c Cell) IsNull() bool { return c.offset == 0 && c.size == 0 && !c.hasScalar }

func (c Cell) Offset() offsetkey.Offset { return c.offset }
func (c Cell) Size() uint64             { return c.size }
func (c Cell) HasScalar() bool          { return c.hasScalar }

// Scalar returns the cell's synthetic variable. It panics if the cell has
// none -- a programming error, not a recoverable condition: callers must
// check HasScalar first.
func (c Cell) Scalar() numeric.Var {
	if !c.hasScalar {
		panic("cell: cannot get undefined scalar variable")
	}
	return c.scalar
}

// Interval returns the cell's byte range.
func (c Cell) Interval() offsetkey.Interval {
	return offsetkey.Interval{Start: c.offset, Size: c.size}
}

// Equal compares (offset, size) only; the scalar identity is not part of
// equality or order.
func (c Cell) Equal(o Cell) bool {
	return c.offset == o.offset && c.size == o.size
}

// Less orders lexicographically by (offset, size), ignoring the scalar.
func (c Cell) Less(o Cell) bool {
	if c.offset != o.offset {
		return c.offset.Less(o.offset)
	}
	return c.size < o.size
}

// LessEqualInterval is the inclusion test treating both cells as intervals
// (not used for ordering, but handy for sanity checks / tests).
func (c Cell) LessEqualInterval(o Cell) bool {
	return int64(o.offset) <= int64(c.offset) && int64(c.Interval().End()) <= int64(o.Interval().End())
}

// Overlap reports whether [offset,offset+size) intersects [o,o+n) -- the
// exact constant-bounds test.
func (c Cell) Overlap(o offsetkey.Offset, n uint64) bool {
	return c.Interval().Overlaps(offsetkey.Interval{Start: o, Size: n})
}

// SymbolicOverlap is the conservative overlap test against
// linear-expression bounds under a numeric abstract value d: it returns
// true iff d /\ (lb <= cell.lb <= ub) is satisfiable, or d /\ (lb <=
// cell.ub <= ub) is satisfiable. Both checks are monotone in the
// imprecision direction -- false means definitely no overlap.
func (c Cell) SymbolicOverlap(lb, ub numeric.LinearExpression, d numeric.Domain) bool {
	check := func(point numeric.LinearExpression) bool {
		probe := d.Clone()
		probe.Assume(numeric.NewConstraint(lb.Sub(point), numeric.LE))
		if probe.IsBottom() {
			return false
		}
		probe.Assume(numeric.NewConstraint(point.Sub(ub), numeric.LE))
		return !probe.IsBottom()
	}
	return check(numeric.Const(int64(c.offset))) || check(numeric.Const(int64(c.Interval().Last())))
}

func (c Cell) String() string {
	if c.IsNull() {
		return "<null-cell>"
	}
	if c.hasScalar {
		return fmt.Sprintf("%s:%s", c.Interval(), c.scalar)
	}
	return fmt.Sprintf("%s:<probe>", c.Interval())
}

// ScalarName derives the human-readable name of the synthetic scalar for
// array[offset,...,offset+size-1]: "a[o]" for a single byte,
// "a[o...o+n-1]" otherwise.
func ScalarName(array string, offset offsetkey.Offset, size uint64) string {
	iv := offsetkey.Interval{Start: offset, Size: size}
	return fmt.Sprintf("%s[%s]", array, iv)
}
