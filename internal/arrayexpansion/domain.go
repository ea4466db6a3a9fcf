// Package arrayexpansion assembles the array-expansion memory abstraction
// (internal/offsetmap, internal/cell, internal/cellfactory) with a base
// internal/numeric.Domain into the product abstract domain the verifier
// actually runs: scalar registers live directly in the base domain, and each
// array variable gets its own OffsetMap of synthetic cell scalars that also
// live in the base domain.
//
// The variable->OffsetMap table is part of Domain's value, not a
// process-wide global, and every lattice operation below folds it in, so
// two branches that write different cells to the same array actually get
// merged rather than silently sharing one map.
package arrayexpansion

import (
	"fmt"
	"sort"
	"strings"

	"ebpfverify/internal/cell"
	"ebpfverify/internal/cellfactory"
	"ebpfverify/internal/numeric"
	"ebpfverify/internal/offsetkey"
	"ebpfverify/internal/offsetmap"
)

// maxStoreRangeElems bounds ArrayInit/ArrayStoreRange's element-by-element
// unrolling.
const maxStoreRangeElems = 512

// ArrayVar names an array-typed variable and the scalar kind its elements
// unpack to.
type ArrayVar struct {
	Name string
	Elem cellfactory.ElementKind
}

// WarnFunc receives one non-fatal diagnostic the domain raised: an
// overlapping read forced to top, a non-constant index forced to a
// symbolic kill, or an operation the domain declares unsupported.
// severity is "imprecision" or "unsupported", the string form of
// internal/vdiag's Severity constants -- this package stays free of a
// vdiag import and lets the caller translate. insn is whatever the caller
// last set via SetInsn, the instruction index the diagnostic should be
// attributed to.
type WarnFunc func(insn int, severity, kind, message string)

// Domain is the array-expansion product: a base numeric domain plus one
// OffsetMap per array variable seen so far.
type Domain struct {
	inv     numeric.Domain
	arrays  map[string]offsetmap.OffsetMap
	factory *cellfactory.Factory
	warn    WarnFunc
	insn    int
}

// SetWarn installs the diagnostic callback; nil (the default) silently
// drops every non-fatal finding.
func (d *Domain) SetWarn(fn WarnFunc) { d.warn = fn }

// SetInsn records which instruction index subsequent array operations
// should attribute their diagnostics to; internal/fixpoint calls this once
// per instruction before stepping it.
func (d *Domain) SetInsn(idx int) { d.insn = idx }

func (d *Domain) warnf(severity, kind, format string, args ...interface{}) {
	if d.warn == nil {
		return
	}
	d.warn(d.insn, severity, kind, fmt.Sprintf(format, args...))
}

// New builds a top array-expansion domain over base, sharing factory (the
// synthetic-scalar naming table) across every Domain value cloned or
// combined from this one -- naming is pure interning, not abstract state,
// so it is fine for it to outlive any one branch's Domain value.
func New(base numeric.Domain, factory *cellfactory.Factory) *Domain {
	return &Domain{inv: base, arrays: make(map[string]offsetmap.OffsetMap), factory: factory}
}

// warnOf copies the diagnostic callback into a freshly built Domain, used by
// every combinator below so a warning wired in at the top of an analysis
// keeps firing after Clone/Join/Meet/Widen/Narrow.
func (d *Domain) warnOf() WarnFunc { return d.warn }

func trueConstraint() numeric.LinearConstraint {
	return numeric.NewConstraint(numeric.Const(0), numeric.LE)
}

func falseConstraint() numeric.LinearConstraint {
	return numeric.NewConstraint(numeric.Const(1), numeric.LE)
}

func (d *Domain) array(name string) offsetmap.OffsetMap {
	return d.arrays[name]
}

func (d *Domain) setArray(name string, m offsetmap.OffsetMap) {
	d.arrays[name] = m
}

// Clone returns an independent copy: the base domain is cloned, and the
// array table is copied (its OffsetMap values are themselves persistent, so
// this is a shallow, cheap copy that still gives the clone its own
// independently-mutable table).
func (d *Domain) Clone() *Domain {
	out := &Domain{inv: d.inv.Clone(), arrays: make(map[string]offsetmap.OffsetMap, len(d.arrays)), factory: d.factory, warn: d.warn, insn: d.insn}
	for k, v := range d.arrays {
		out.arrays[k] = v
	}
	return out
}

func (d *Domain) IsTop() bool    { return d.inv.IsTop() }
func (d *Domain) IsBottom() bool { return d.inv.IsBottom() }

func (d *Domain) SetToTop() {
	d.inv.SetToTop()
	d.arrays = make(map[string]offsetmap.OffsetMap)
}

func (d *Domain) SetToBottom() {
	d.inv.SetToBottom()
	d.arrays = make(map[string]offsetmap.OffsetMap)
}

func allArrayNames(a, b map[string]offsetmap.OffsetMap) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var names []string
	for n := range a {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for n := range b {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// combineArrays merges two array tables. When a name appears on only one
// side, that side's map is kept untouched -- the other domain simply has no
// opinion about that array yet, so there's nothing to combine against.
func combineArrays(a, b map[string]offsetmap.OffsetMap, both func(x, y offsetmap.OffsetMap) offsetmap.OffsetMap) map[string]offsetmap.OffsetMap {
	out := make(map[string]offsetmap.OffsetMap)
	for _, name := range allArrayNames(a, b) {
		x, okX := a[name]
		y, okY := b[name]
		switch {
		case okX && okY:
			out[name] = both(x, y)
		case okX:
			out[name] = x
		default:
			out[name] = y
		}
	}
	return out
}

func (d *Domain) Join(other *Domain) *Domain {
	return &Domain{
		warn:    d.warnOf(),
		inv:     d.inv.Join(other.inv),
		arrays:  combineArrays(d.arrays, other.arrays, func(x, y offsetmap.OffsetMap) offsetmap.OffsetMap { return x.Join(y) }),
		factory: d.factory,
	}
}

func (d *Domain) Meet(other *Domain) *Domain {
	return &Domain{
		warn:    d.warnOf(),
		inv:     d.inv.Meet(other.inv),
		arrays:  combineArrays(d.arrays, other.arrays, func(x, y offsetmap.OffsetMap) offsetmap.OffsetMap { return x.Meet(y) }),
		factory: d.factory,
	}
}

// Widen extrapolates the base domain normally. The array tables are only
// ever unioned, never widened: the set of distinct (offset, size) cells a
// loop can create is bounded by the program's own array accesses (the
// cellfactory never manufactures new triples on its own), so this
// component of the lattice has finite height and needs no extrapolation.
func (d *Domain) Widen(other *Domain) *Domain {
	return &Domain{
		warn:    d.warnOf(),
		inv:     d.inv.Widen(other.inv),
		arrays:  combineArrays(d.arrays, other.arrays, func(x, y offsetmap.OffsetMap) offsetmap.OffsetMap { return x.Join(y) }),
		factory: d.factory,
	}
}

func (d *Domain) WidenThresholds(other *Domain, thresholds []int64) *Domain {
	return &Domain{
		warn:    d.warnOf(),
		inv:     d.inv.WidenThresholds(other.inv, thresholds),
		arrays:  combineArrays(d.arrays, other.arrays, func(x, y offsetmap.OffsetMap) offsetmap.OffsetMap { return x.Join(y) }),
		factory: d.factory,
	}
}

func (d *Domain) Narrow(other *Domain) *Domain {
	return &Domain{
		warn:    d.warnOf(),
		inv:     d.inv.Narrow(other.inv),
		arrays:  combineArrays(d.arrays, other.arrays, func(x, y offsetmap.OffsetMap) offsetmap.OffsetMap { return x.Meet(y) }),
		factory: d.factory,
	}
}

func (d *Domain) LessEqual(other *Domain) bool {
	if !d.inv.LessEqual(other.inv) {
		return false
	}
	for name, m := range d.arrays {
		if !m.LessEqual(other.array(name)) {
			return false
		}
	}
	return true
}

// kill forgets cells' scalars from the base domain and removes them from m.
func (d *Domain) kill(m offsetmap.OffsetMap, cells []cell.Cell) offsetmap.OffsetMap {
	if len(cells) == 0 {
		return m
	}
	scalars := make([]numeric.Var, 0, len(cells))
	for _, c := range cells {
		if !c.HasScalar() {
			panic("arrayexpansion: cell without scalar variable in kill")
		}
		scalars = append(scalars, c.Scalar())
	}
	d.inv.Forget(scalars)
	return m.RemoveAll(cells)
}

func (d *Domain) doAssignVar(lhs, rhs numeric.Var) {
	if lhs.Kind == numeric.BoolKind {
		d.inv.AssignBoolVar(lhs, rhs, false)
	} else {
		d.inv.Assign(lhs, numeric.VarExpr(rhs))
	}
}

func (d *Domain) doAssignCellToVar(lhs numeric.Var, rhsCell cell.Cell) {
	d.doAssignVar(lhs, rhsCell.Scalar())
}

func (d *Domain) doAssignExprToCell(lhsCell cell.Cell, v numeric.LinearExpression) {
	lhs := lhsCell.Scalar()
	if lhs.Kind == numeric.BoolKind {
		if v.IsConstant() {
			if v.Constant() >= 1 {
				d.inv.AssignBoolCst(lhs, trueConstraint())
			} else {
				d.inv.AssignBoolCst(lhs, falseConstraint())
			}
			return
		}
		if rhsVar, ok := v.Variable(); ok {
			d.inv.AssignBoolVar(lhs, rhsVar, false)
		}
		return
	}
	d.inv.Assign(lhs, v)
}

// singletonIndex evaluates e under the current base domain and returns its
// offset if e resolves to exactly one value.
func (d *Domain) singletonIndex(e numeric.LinearExpression) (offsetkey.Offset, bool) {
	iv := d.inv.ToInterval(e)
	k, ok := iv.Singleton()
	if !ok {
		return 0, false
	}
	return offsetkey.Offset(k), true
}

func (d *Domain) singletonSize(e numeric.LinearExpression) (uint64, bool) {
	iv := d.inv.ToInterval(e)
	k, ok := iv.Singleton()
	if !ok || k <= 0 {
		return 0, false
	}
	return uint64(k), true
}

// ArrayInit sets array[lb_idx, ub_idx] to val, first discarding everything
// previously known about the array.
func (d *Domain) ArrayInit(a ArrayVar, elemSize, lbIdx, ubIdx, val numeric.LinearExpression) {
	if d.IsBottom() {
		return
	}
	m := d.array(a.Name)
	old := m.GetAllCells()
	if len(old) > 0 {
		m = d.kill(m, old)
		d.setArray(a.Name, m)
	}
	d.ArrayStoreRange(a, elemSize, lbIdx, ubIdx, val)
}

// ArrayLoad assigns lhs := array[i], where the read width is elemSize bytes.
// A non-constant index, or a read that overlaps any existing cell other
// than one with exactly this offset and size, is not modeled precisely: a
// warning is raised and lhs is simply forgotten.
func (d *Domain) ArrayLoad(lhs numeric.Var, a ArrayVar, elemSize, i numeric.LinearExpression) {
	if d.IsBottom() {
		return
	}
	o, ok := d.singletonIndex(i)
	if ok {
		size, ok := d.singletonSize(elemSize)
		if !ok {
			panic("arrayexpansion: array load requires a constant element size")
		}
		m := d.array(a.Name)
		overlapping := m.GetOverlapCells(o, size)
		if len(overlapping) == 0 {
			c := d.factory.MakeCell(a.Name, o, size, a.Elem)
			m = m.Insert(c, false)
			d.setArray(a.Name, m)
			d.doAssignCellToVar(lhs, c)
			return
		}
		d.warnf("imprecision", "OverlappingRead",
			"load of %s[%d..%d) straddles %d existing cell(s); forgetting destination",
			a.Name, int64(o), int64(o)+int64(size), len(overlapping))
		d.inv.Forget([]numeric.Var{lhs})
		return
	}
	d.warnf("imprecision", "NonConstantIndex",
		"load index into %s is not a constant; forgetting destination", a.Name)
	d.inv.Forget([]numeric.Var{lhs})
}

// ArrayStore assigns array[i] := val for an elemSize-byte element, killing
// any cell it overlaps first so the update is a sound strong update.
func (d *Domain) ArrayStore(a ArrayVar, elemSize, i, val numeric.LinearExpression) {
	if d.IsBottom() {
		return
	}
	size, ok := d.singletonSize(elemSize)
	if !ok {
		panic("arrayexpansion: array store requires a constant element size")
	}
	m := d.array(a.Name)
	if o, ok := d.singletonIndex(i); ok {
		overlapping := m.GetOverlapCells(o, size)
		if len(overlapping) > 0 {
			m = d.kill(m, overlapping)
		}
		c := d.factory.MakeCell(a.Name, o, size, a.Elem)
		m = m.Insert(c, false)
		d.doAssignExprToCell(c, val)
	} else {
		// Non-constant index: we cannot pin down which cell changed, so
		// every cell whose range might symbolically overlap is killed
		// instead of updated.
		d.warnf("imprecision", "NonConstantIndex",
			"store index into %s is not a constant; killing symbolically overlapping cells", a.Name)
		lb := i
		ub := i.AddConst(int64(size) - 1)
		overlapping := m.GetOverlapCellsSymbolic(d.inv, lb, ub)
		m = d.kill(m, overlapping)
	}
	d.setArray(a.Name, m)
}

// ArrayStoreRange writes val to every elemSize-wide slot in [lbIdx, ubIdx],
// unrolled one ArrayStore per element. A non-constant bound, or a range
// whose index span ubIdx-lbIdx+1 is not between 1 and maxStoreRangeElems, is
// skipped entirely rather than guessed at. The span counts index positions,
// not elements, so with elemSize > 1 fewer than maxStoreRangeElems stores
// fit.
func (d *Domain) ArrayStoreRange(a ArrayVar, elemSize, lbIdx, ubIdx, val numeric.LinearExpression) {
	if d.IsBottom() {
		return
	}
	n, ok := d.singletonSize(elemSize)
	if !ok {
		panic("arrayexpansion: array store range requires a constant element size")
	}
	lb, ok := d.singletonIndex(lbIdx)
	if !ok {
		d.warnf("imprecision", "NonConstantRange",
			"store_range lower bound into %s is not a constant; skipping", a.Name)
		return
	}
	ub, ok := d.singletonIndex(ubIdx)
	if !ok {
		d.warnf("imprecision", "NonConstantRange",
			"store_range upper bound into %s is not a constant; skipping", a.Name)
		return
	}
	count := (int64(ub) - int64(lb)) + 1
	if count <= 0 || count > maxStoreRangeElems {
		d.warnf("imprecision", "RangeTooWide",
			"store_range into %s spans %d index positions, outside the 1..%d bound; skipping",
			a.Name, count, maxStoreRangeElems)
		return
	}
	for i := int64(lb); i <= int64(ub); i += int64(n) {
		d.ArrayStore(a, elemSize, numeric.Const(i), val)
	}
}

// ArrayAssign copies one array variable to another. Unimplemented: a
// faithful implementation needs a whole-map rename/alias step this
// abstraction never needed for the verifier's own array usage
// (stack/map-value buffers are never assigned wholesale, only loaded and
// stored element-wise).
func (d *Domain) ArrayAssign(lhs, rhs ArrayVar) {
	d.warnf("unsupported", "ArrayAssign", "array_assign %s := %s is not implemented", lhs.Name, rhs.Name)
}

// Forget discards everything known about an array, used e.g. when a helper
// call may have clobbered it through an alias the domain can't track.
func (d *Domain) Forget(a ArrayVar) {
	m := d.array(a.Name)
	all := m.GetAllCells()
	m = d.kill(m, all)
	d.setArray(a.Name, m)
}

// BackwardArrayInit refines the pre-state: every cell is forgotten (the
// init overwrote the whole array) and the result is met with the forward
// invariant at the init point.
func (d *Domain) BackwardArrayInit(a ArrayVar, elemSize, lbIdx, ubIdx, val numeric.LinearExpression, post *Domain) {
	if d.IsBottom() {
		return
	}
	m := d.array(a.Name)
	old := m.GetAllCells()
	if len(old) > 0 {
		m = d.kill(m, old)
		d.setArray(a.Name, m)
	}
	*d = *d.Meet(post)
}

// BackwardArrayLoad refines the pre-state for lhs := array[i] given the
// already-computed forward invariant post.
func (d *Domain) BackwardArrayLoad(lhs numeric.Var, a ArrayVar, elemSize, i numeric.LinearExpression, post *Domain) {
	if d.IsBottom() {
		return
	}
	postInv := post.inv
	ii := postInv.ToInterval(i)
	if n, ok := ii.Singleton(); ok {
		o := offsetkey.Offset(n)
		sizeIv := postInv.ToInterval(elemSize)
		size, ok := sizeIv.Singleton()
		if !ok || size <= 0 {
			panic("arrayexpansion: backward array load requires a constant element size")
		}
		m := d.array(a.Name)
		c := d.factory.MakeCell(a.Name, o, uint64(size), a.Elem)
		m = m.Insert(c, false)
		d.setArray(a.Name, m)
		d.inv.BackwardAssign(lhs, numeric.VarExpr(c.Scalar()), postInv)
		return
	}
	d.inv.Forget([]numeric.Var{lhs})
	*d = *d.Meet(post)
}

// BackwardArrayStore refines the pre-state for array[i] := val.
func (d *Domain) BackwardArrayStore(a ArrayVar, elemSize, i, val numeric.LinearExpression, post *Domain) {
	if d.IsBottom() {
		return
	}
	postInv := post.inv
	sizeIv := postInv.ToInterval(elemSize)
	size, ok := sizeIv.Singleton()
	if !ok || size <= 0 {
		panic("arrayexpansion: backward array store requires a constant element size")
	}
	m := d.array(a.Name)
	ii := postInv.ToInterval(i)
	if n, ok := ii.Singleton(); ok {
		o := offsetkey.Offset(n)
		overlapping := m.GetOverlapCells(o, uint64(size))
		if len(overlapping) >= 1 {
			m = d.kill(m, overlapping)
			d.setArray(a.Name, m)
			*d = *d.Meet(post)
		} else {
			c := d.factory.MakeCell(a.Name, o, uint64(size), a.Elem)
			m = m.Insert(c, false)
			d.setArray(a.Name, m)
			d.inv.BackwardAssign(c.Scalar(), val, postInv)
		}
		return
	}
	lb := i
	ub := i.AddConst(int64(size) - 1)
	overlapping := m.GetOverlapCellsSymbolic(post.inv, lb, ub)
	m = d.kill(m, overlapping)
	d.setArray(a.Name, m)
	*d = *d.Meet(post)
}

// BackwardArrayStoreRange is the backward dual of ArrayStoreRange.
func (d *Domain) BackwardArrayStoreRange(a ArrayVar, elemSize, lbIdx, ubIdx, val numeric.LinearExpression, post *Domain) {
	if d.IsBottom() {
		return
	}
	postInv := post.inv
	n, ok := postInv.ToInterval(elemSize).Singleton()
	if !ok {
		panic("arrayexpansion: backward array store range requires a constant element size")
	}
	lb, ok := postInv.ToInterval(lbIdx).Singleton()
	if !ok {
		return
	}
	ub, ok := postInv.ToInterval(ubIdx).Singleton()
	if !ok {
		return
	}
	if (ub-lb)+1 > maxStoreRangeElems {
		return
	}
	for i := lb; i <= ub; i += n {
		d.BackwardArrayStore(a, elemSize, numeric.Const(i), val, post)
	}
}

// BackwardArrayAssign is left unimplemented, mirroring ArrayAssign.
func (d *Domain) BackwardArrayAssign(lhs, rhs ArrayVar, post *Domain) {
	_ = lhs
	_ = rhs
	_ = post
}

func (d *Domain) ToLinearConstraintSystem() []numeric.LinearConstraint {
	return d.inv.ToLinearConstraintSystem()
}

func (d *Domain) ToDisjunctiveLinearConstraintSystem() [][]numeric.LinearConstraint {
	return d.inv.ToDisjunctiveLinearConstraintSystem()
}

func (d *Domain) GetContentDomain() numeric.Domain { return d.inv }

func (d *Domain) String() string {
	var names []string
	for n := range d.arrays {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(d.inv.String())
	for _, n := range names {
		cells := d.array(n).GetAllCells()
		if len(cells) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf(" %s={", n))
		for i, c := range cells {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(c.String())
		}
		b.WriteString("}")
	}
	return b.String()
}
