// Package offsetmap implements the persistent, order-preserving
// offset -> cell-set structure a single array variable's abstract state is
// built on.
package offsetmap

import (
	"sort"

	"ebpfverify/internal/cell"
	"ebpfverify/internal/numeric"
	"ebpfverify/internal/offsetkey"
)

// OffsetMap is an immutable value: every mutating-looking method returns a
// new OffsetMap and leaves the receiver untouched, sharing unaffected
// subtrees with it (see the doc comment on node in tree.go).
type OffsetMap struct {
	root *node
}

// Empty returns the empty map. The zero value of OffsetMap is also empty.
func Empty() OffsetMap { return OffsetMap{} }

func (m OffsetMap) Empty() bool { return m.root == nil }

func (m OffsetMap) Size() int { return size(m.root) }

// Get returns the cell stored at exactly (offset, size), or the null cell
// if none is present.
func (m OffsetMap) Get(offset offsetkey.Offset, sz uint64) cell.Cell {
	cells, ok := lookup(m.root, offset)
	if !ok {
		return cell.Null()
	}
	if c, ok := cells.find(sz); ok {
		return c
	}
	return cell.Null()
}

// Insert adds c to the map. By default the cell must carry a scalar; pass
// allowProbe=true to insert a scalar-less probe cell, used only internally
// by overlap queries.
func (m OffsetMap) Insert(c cell.Cell, allowProbe bool) OffsetMap {
	if c.Size() == 0 {
		panic("offsetmap: cannot insert a zero-size cell")
	}
	if !allowProbe && !c.HasScalar() {
		panic("offsetmap: cannot insert a cell without a scalar variable")
	}
	existing, _ := lookup(m.root, c.Offset())
	return OffsetMap{root: insert(m.root, c.Offset(), existing.with(c))}
}

// Remove deletes the cell matching c's (offset, size) key, pruning the
// offset entirely if its cell set becomes empty.
func (m OffsetMap) Remove(c cell.Cell) OffsetMap {
	existing, ok := lookup(m.root, c.Offset())
	if !ok {
		return m
	}
	next := existing.without(c)
	if len(next) == 0 {
		return OffsetMap{root: remove(m.root, c.Offset())}
	}
	return OffsetMap{root: insert(m.root, c.Offset(), next)}
}

// RemoveAll deletes every cell in cells. Idempotent: removing the same
// cells twice has the same effect as once, since Remove on an absent key
// is a no-op.
func (m OffsetMap) RemoveAll(cells []cell.Cell) OffsetMap {
	out := m
	for _, c := range cells {
		out = out.Remove(c)
	}
	return out
}

// GetAllCells flattens the map to a list; order is unspecified to callers
// but deterministic here (ascending offset, then size) to keep tests
// reproducible.
func (m OffsetMap) GetAllCells() []cell.Cell {
	var bindings []binding
	inorder(m.root, &bindings)
	var out []cell.Cell
	for _, b := range bindings {
		out = append(out, b.cells...)
	}
	return out
}

// GetOverlapCells returns every stored cell whose range intersects
// [o, o+n), excluding any cell exactly equal to (o, n). The walk is
// two-phase: descending from o with early exit on a full miss, then
// ascending past o with a sound hard bound, de-duplicated by
// (offset, size).
func (m OffsetMap) GetOverlapCells(o offsetkey.Offset, n uint64) []cell.Cell {
	var bindings []binding
	inorder(m.root, &bindings)

	idx := sort.Search(len(bindings), func(i int) bool { return !bindings[i].offset.Less(o) })
	// idx is the first offset >= o (lower bound).

	var out []cell.Cell
	seen := make(map[sizeKey]bool)
	probe := cell.Probe(o, n)
	add := func(c cell.Cell) {
		if c.Equal(probe) {
			return
		}
		key := sizeKey{c.Offset(), c.Size()}
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, c)
	}

	// Phase 1: offsets <= o, descending. Includes offset == o itself when
	// present at idx.
	start := idx
	if start < len(bindings) && bindings[start].offset == o {
		// include it in the descending walk
	} else {
		start = idx - 1
	}
	for i := start; i >= 0; i-- {
		anyOverlap := false
		for _, c := range bindings[i].cells {
			if c.Overlap(o, n) {
				add(c)
				anyOverlap = true
			}
		}
		if !anyOverlap {
			break
		}
	}

	// Phase 2: offsets > o, ascending, with a hard stop once the offset
	// itself is past the queried range (cell.offset >= o+n implies no
	// overlap is possible regardless of size). The stop compares signed
	// values, not bit patterns: a negative-region query's end can land on
	// 0 (a stack slot [-8, 0)), where the unsigned order would terminate
	// the walk before any higher negative offset is examined.
	end := int64(o) + int64(n)
	for i := idx; i < len(bindings); i++ {
		if bindings[i].offset == o {
			continue // already handled in phase 1
		}
		if int64(bindings[i].offset) >= end {
			break
		}
		anyOverlap := false
		for _, c := range bindings[i].cells {
			if c.Overlap(o, n) {
				add(c)
				anyOverlap = true
			}
		}
		if !anyOverlap {
			break
		}
	}

	return out
}

type sizeKey struct {
	offset offsetkey.Offset
	size   uint64
}

// GetOverlapCellsSymbolic iterates every offset; at each, tests whether the
// largest cell symbolically overlaps [lb, ub] under d, and if so includes
// every cell at that offset -- a conservative over-approximation rather
// than testing each cell individually.
func (m OffsetMap) GetOverlapCellsSymbolic(d numeric.Domain, lb, ub numeric.LinearExpression) []cell.Cell {
	var bindings []binding
	inorder(m.root, &bindings)
	var out []cell.Cell
	for _, b := range bindings {
		big, ok := largest(b.cells)
		if !ok {
			continue
		}
		if big.SymbolicOverlap(lb, ub, d) {
			out = append(out, b.cells...)
		}
	}
	return out
}

// LessEqual is the pointwise inclusion test: for every (offset, cellSet)
// in m, cellSet must be included in other's set at that offset (absent in
// other counts as empty).
func (m OffsetMap) LessEqual(other OffsetMap) bool {
	var bindings []binding
	inorder(m.root, &bindings)
	for _, b := range bindings {
		otherCells, _ := lookup(other.root, b.offset)
		if !includes(b.cells, otherCells) {
			return false
		}
	}
	return true
}

// Join is pointwise set union at shared offsets, keeping offsets that
// appear on only one side.
func (m OffsetMap) Join(other OffsetMap) OffsetMap {
	out := Empty()
	var left, right []binding
	inorder(m.root, &left)
	inorder(other.root, &right)
	merged := make(map[offsetkey.Offset]cellSet)
	for _, b := range left {
		merged[b.offset] = b.cells
	}
	for _, b := range right {
		if existing, ok := merged[b.offset]; ok {
			merged[b.offset] = union(existing, b.cells)
		} else {
			merged[b.offset] = b.cells
		}
	}
	for offset, cells := range merged {
		out.root = insert(out.root, offset, cells)
	}
	return out
}

// Meet is pointwise set intersection at shared offsets; an offset present
// on only one side is dropped entirely.
func (m OffsetMap) Meet(other OffsetMap) OffsetMap {
	out := Empty()
	var left []binding
	inorder(m.root, &left)
	for _, b := range left {
		if otherCells, ok := lookup(other.root, b.offset); ok {
			inter := intersect(b.cells, otherCells)
			if len(inter) > 0 {
				out.root = insert(out.root, b.offset, inter)
			}
		}
	}
	return out
}
