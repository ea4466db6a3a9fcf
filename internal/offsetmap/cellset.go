package offsetmap

import "ebpfverify/internal/cell"

// cellSet is an ordered set of cells that all share one offset, differing
// only in size. Kept as a size-sorted immutable
// slice: cell sets are small (an array rarely has more than a handful of
// distinct read/write widths at one offset), so a sorted slice beats a
// tree here.
type cellSet []cell.Cell

func (s cellSet) find(size uint64) (cell.Cell, bool) {
	for _, c := range s {
		if c.Size() == size {
			return c, true
		}
	}
	return cell.Cell{}, false
}

// with returns a new set with c inserted (replacing any existing cell of
// the same size), leaving the receiver untouched.
func (s cellSet) with(c cell.Cell) cellSet {
	out := make(cellSet, 0, len(s)+1)
	inserted := false
	for _, existing := range s {
		if existing.Size() == c.Size() {
			out = append(out, c)
			inserted = true
			continue
		}
		out = append(out, existing)
	}
	if !inserted {
		out = append(out, c)
	}
	return sortedCopy(out)
}

// without returns a new set with any cell of c's size removed.
func (s cellSet) without(c cell.Cell) cellSet {
	out := make(cellSet, 0, len(s))
	for _, existing := range s {
		if existing.Size() == c.Size() {
			continue
		}
		out = append(out, existing)
	}
	return out
}

func sortedCopy(s cellSet) cellSet {
	out := make(cellSet, len(s))
	copy(out, s)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Size() < out[j-1].Size(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func union(a, b cellSet) cellSet {
	out := make(cellSet, 0, len(a)+len(b))
	out = append(out, a...)
	for _, c := range b {
		if _, ok := a.find(c.Size()); !ok {
			out = append(out, c)
		}
	}
	return sortedCopy(out)
}

func intersect(a, b cellSet) cellSet {
	var out cellSet
	for _, c := range a {
		if _, ok := b.find(c.Size()); ok {
			out = append(out, c)
		}
	}
	return out
}

// includes reports whether every cell in a is present (by size) in b.
func includes(a, b cellSet) bool {
	for _, c := range a {
		if _, ok := b.find(c.Size()); !ok {
			return false
		}
	}
	return true
}

func largest(s cellSet) (cell.Cell, bool) {
	if len(s) == 0 {
		return cell.Cell{}, false
	}
	best := s[0]
	for _, c := range s[1:] {
		if c.Size() > best.Size() {
			best = c
		}
	}
	return best, true
}
