// Package offsetkey implements byte-interval arithmetic over the 64-bit
// signed offsets used to address eBPF stack, packet, and map-value arrays.
//
// An Offset sorts by its unsigned bit pattern, not by signed value: keys
// compare in a big-endian, lexicographic sense, so negative offsets (e.g.
// stack slots at -8, -16, ...) sort as large unsigned numbers after all
// non-negative ones rather than interleaving with them.
package offsetkey

import "fmt"

// Offset is a byte offset into an abstract array. Only its bit pattern
// matters for ordering; arithmetic on it (End, Overlaps) is ordinary signed
// arithmetic.
type Offset int64

// Less orders offsets by unsigned bit pattern so that negative offsets sort
// after all non-negative ones.
func (o Offset) Less(other Offset) bool {
	return uint64(o) < uint64(other)
}

func (o Offset) String() string {
	return fmt.Sprintf("%d", int64(o))
}

// Interval is the half-open byte range [Start, Start+Size).
type Interval struct {
	Start Offset
	Size  uint64
}

// End returns the first byte past the interval.
func (iv Interval) End() Offset {
	return Offset(int64(iv.Start) + int64(iv.Size))
}

// Last returns the interval's final included byte. Undefined for Size == 0.
func (iv Interval) Last() Offset {
	return Offset(int64(iv.Start) + int64(iv.Size) - 1)
}

// Overlaps reports whether iv and other, read as plain integer intervals on
// the number line, share at least one byte. This is constant-offset,
// constant-size overlap -- the exact test used for a strong update at a
// known index (see Cell.Overlap in package cell).
func (iv Interval) Overlaps(other Interval) bool {
	if iv.Size == 0 || other.Size == 0 {
		return false
	}
	return int64(iv.Start) < int64(other.End()) && int64(other.Start) < int64(iv.End())
}

func (iv Interval) String() string {
	if iv.Size <= 1 {
		return fmt.Sprintf("%d", int64(iv.Start))
	}
	return fmt.Sprintf("%d...%d", int64(iv.Start), int64(iv.Last()))
}
