// Package cellfactory creates the synthetic scalar variables that name the
// contents of an array cell.
//
// The interning table is explicit and caller-owned rather than a
// process-wide singleton: a fresh verifier run gets a fresh factory, so two
// concurrent runs (internal/fixpoint driving independent programs) never
// share or race on synthetic variable indices.
package cellfactory

import (
	"ebpfverify/internal/cell"
	"ebpfverify/internal/numeric"
	"ebpfverify/internal/offsetkey"
)

type key struct {
	array  string
	offset offsetkey.Offset
	size   uint64
}

// Factory assigns a stable, deterministic numeric.Var to each distinct
// (array, offset, size) triple it is asked to name, and remembers cells it
// has already created so repeated calls return the identical cell.
type Factory struct {
	indices map[key]int64
	cells   map[key]cell.Cell
	next    int64
}

// New returns an empty factory. Indices start at seed so a factory can be
// namespaced away from any pre-existing variable indices (e.g. the ones the
// numeric domain already assigned to register/stack-slot variables before
// array tracking kicks in).
func New(seed int64) *Factory {
	return &Factory{
		indices: make(map[key]int64),
		cells:   make(map[key]cell.Cell),
		next:    seed,
	}
}

// ElementKind classifies what kind of scalar an array holds.
type ElementKind int

const (
	IntegerElement ElementKind = iota
	BoolElement
	RealElement
)

func (k ElementKind) typeKind() numeric.TypeKind {
	switch k {
	case BoolElement:
		return numeric.BoolKind
	case RealElement:
		return numeric.RealKind
	default:
		return numeric.IntKind
	}
}

func (k ElementKind) bitwidth(size uint64) int {
	switch k {
	case BoolElement:
		return 1
	case RealElement:
		return 0
	default:
		return int(8 * size)
	}
}

// indexFor returns the stable index assigned to (array, offset, size),
// allocating a fresh one on first use.
func (f *Factory) indexFor(array string, offset offsetkey.Offset, size uint64) int64 {
	k := key{array, offset, size}
	if idx, ok := f.indices[k]; ok {
		return idx
	}
	idx := f.next
	f.next++
	f.indices[k] = idx
	return idx
}

// MakeCell returns the cell naming array[offset, offset+size), creating and
// caching a fresh synthetic scalar the first time this triple is requested.
// Subsequent calls with the same triple return the identical cell, including
// its scalar's Var.Index.
func (f *Factory) MakeCell(array string, offset offsetkey.Offset, size uint64, elem ElementKind) cell.Cell {
	k := key{array, offset, size}
	if c, ok := f.cells[k]; ok {
		return c
	}
	idx := f.indexFor(array, offset, size)
	name := cell.ScalarName(array, offset, size)
	v := numeric.Var{
		Index:    idx,
		Name:     name,
		Kind:     elem.typeKind(),
		Bitwidth: elem.bitwidth(size),
	}
	c := cell.Bound(offset, size, v)
	f.cells[k] = c
	return c
}

// Lookup returns the cell previously created for (array, offset, size), if
// any, without allocating a new one.
func (f *Factory) Lookup(array string, offset offsetkey.Offset, size uint64) (cell.Cell, bool) {
	c, ok := f.cells[key{array, offset, size}]
	return c, ok
}

// Reset clears all remembered cells and indices, restarting allocation from
// seed, so a factory can be reused across analyses without fossil entries
// from the prior run.
func (f *Factory) Reset(seed int64) {
	f.indices = make(map[key]int64)
	f.cells = make(map[key]cell.Cell)
	f.next = seed
}
