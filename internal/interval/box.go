// Package interval implements the one concrete numeric.Domain this repo
// ships: a non-relational box domain mapping each tracked Var to a
// numeric.Interval. It is deliberately the simplest domain satisfying the
// contract in internal/numeric; a relational domain (zones, octagons,
// polyhedra) could replace it behind the same interface. Assume handles
// the single-variable unit-coefficient constraint shapes that matter for
// array addressing (i <= k, i >= k, i == k, i != k at an endpoint);
// anything more relational is conservatively ignored (sound: it just
// doesn't narrow further).
package interval

import (
	"fmt"
	"sort"
	"strings"

	"ebpfverify/internal/numeric"
)

// Box is a non-relational interval domain: bottom iff any tracked variable
// maps to an empty interval or the explicit bottom flag is set.
type Box struct {
	bottom bool
	vars   map[numeric.Var]numeric.Interval
}

var _ numeric.Domain = (*Box)(nil)

// NewTop returns a fresh, unconstrained box.
func NewTop() *Box {
	return &Box{vars: make(map[numeric.Var]numeric.Interval)}
}

// NewBottom returns the empty box.
func NewBottom() *Box {
	return &Box{bottom: true, vars: make(map[numeric.Var]numeric.Interval)}
}

func (b *Box) Clone() numeric.Domain {
	out := &Box{bottom: b.bottom, vars: make(map[numeric.Var]numeric.Interval, len(b.vars))}
	for v, iv := range b.vars {
		out.vars[v] = iv
	}
	return out
}

func (b *Box) IsBottom() bool {
	if b.bottom {
		return true
	}
	for _, iv := range b.vars {
		if iv.IsBottom() {
			return true
		}
	}
	return false
}

func (b *Box) IsTop() bool {
	if b.bottom {
		return false
	}
	for _, iv := range b.vars {
		if !iv.IsTop() {
			return false
		}
	}
	return true
}

func (b *Box) SetToTop() {
	b.bottom = false
	b.vars = make(map[numeric.Var]numeric.Interval)
}

func (b *Box) SetToBottom() {
	b.bottom = true
	b.vars = make(map[numeric.Var]numeric.Interval)
}

func (b *Box) Get(v numeric.Var) numeric.Interval {
	if b.IsBottom() {
		return numeric.Bottom()
	}
	if iv, ok := b.vars[v]; ok {
		return iv
	}
	return numeric.Top()
}

func (b *Box) set(v numeric.Var, iv numeric.Interval) {
	if iv.IsTop() {
		delete(b.vars, v)
		return
	}
	if iv.IsBottom() {
		b.SetToBottom()
		return
	}
	b.vars[v] = iv
}

func (b *Box) ToInterval(e numeric.LinearExpression) numeric.Interval {
	if b.IsBottom() {
		return numeric.Bottom()
	}
	acc := numeric.Single(e.Constant())
	for _, t := range e.Terms() {
		acc = addScaled(acc, b.Get(t.Var), t.Coeff)
	}
	return acc
}

// addScaled computes acc + coeff*vi, widening to top whenever vi is
// unbounded on the side the scale would need, which keeps this a sound
// (if coarse) interval evaluator.
func addScaled(acc, vi numeric.Interval, coeff int64) numeric.Interval {
	if vi.IsBottom() {
		return numeric.Bottom()
	}
	if coeff == 0 {
		return acc
	}
	scaled := scale(vi, coeff)
	return sum(acc, scaled)
}

func scale(iv numeric.Interval, k int64) numeric.Interval {
	if iv.IsBottom() {
		return numeric.Bottom()
	}
	if k == 0 {
		return numeric.Single(0)
	}
	out := numeric.Interval{}
	if k > 0 {
		if iv.HasLo {
			out.HasLo, out.Lo = true, iv.Lo*k
		}
		if iv.HasHi {
			out.HasHi, out.Hi = true, iv.Hi*k
		}
	} else {
		if iv.HasHi {
			out.HasLo, out.Lo = true, iv.Hi*k
		}
		if iv.HasLo {
			out.HasHi, out.Hi = true, iv.Lo*k
		}
	}
	return out
}

func sum(a, b numeric.Interval) numeric.Interval {
	if a.IsBottom() || b.IsBottom() {
		return numeric.Bottom()
	}
	out := numeric.Interval{HasLo: a.HasLo && b.HasLo, HasHi: a.HasHi && b.HasHi}
	if out.HasLo {
		out.Lo = a.Lo + b.Lo
	}
	if out.HasHi {
		out.Hi = a.Hi + b.Hi
	}
	return out
}

func (b *Box) Assign(v numeric.Var, e numeric.LinearExpression) {
	if b.IsBottom() {
		return
	}
	b.set(v, b.ToInterval(e))
}

func (b *Box) Apply(op numeric.ArithOp, x, y, z numeric.Var) {
	if b.IsBottom() {
		return
	}
	b.set(x, applyOp(op, b.Get(y), b.Get(z)))
}

func (b *Box) ApplyConst(op numeric.ArithOp, x, y numeric.Var, k int64) {
	if b.IsBottom() {
		return
	}
	b.set(x, applyOp(op, b.Get(y), numeric.Single(k)))
}

func applyOp(op numeric.ArithOp, a, c numeric.Interval) numeric.Interval {
	if a.IsBottom() || c.IsBottom() {
		return numeric.Bottom()
	}
	switch op {
	case numeric.Add:
		return sum(a, c)
	case numeric.Sub:
		return sum(a, scale(c, -1))
	case numeric.Mul:
		return mul(a, c)
	case numeric.SDiv, numeric.UDiv, numeric.SRem, numeric.URem:
		// Division/remainder are only evaluated precisely for singleton
		// operands; otherwise this is sound-but-top.
		ak, aok := a.Singleton()
		ck, cok := c.Singleton()
		if aok && cok && ck != 0 {
			switch op {
			case numeric.SDiv, numeric.UDiv:
				return numeric.Single(ak / ck)
			default:
				return numeric.Single(ak % ck)
			}
		}
		return numeric.Top()
	default:
		// Bitwise ops: precise only for singletons, top otherwise.
		ak, aok := a.Singleton()
		ck, cok := c.Singleton()
		if aok && cok {
			return numeric.Single(bitwise(op, ak, ck))
		}
		return numeric.Top()
	}
}

func bitwise(op numeric.ArithOp, a, c int64) int64 {
	switch op {
	case numeric.And:
		return a & c
	case numeric.Or:
		return a | c
	case numeric.Xor:
		return a ^ c
	case numeric.Shl:
		return a << uint64(c)
	case numeric.LShr:
		return int64(uint64(a) >> uint64(c))
	case numeric.AShr:
		return a >> uint64(c)
	default:
		return 0
	}
}

func mul(a, c numeric.Interval) numeric.Interval {
	ak, aok := a.Singleton()
	ck, cok := c.Singleton()
	if aok && cok {
		return numeric.Single(ak * ck)
	}
	if aok && ak == 0 || cok && ck == 0 {
		return numeric.Single(0)
	}
	return numeric.Top()
}

func (b *Box) Convert(op numeric.ConvOp, x, y numeric.Var, bitwidth int) {
	if b.IsBottom() {
		return
	}
	src := b.Get(y)
	k, ok := src.Singleton()
	if !ok {
		b.set(x, numeric.Top())
		return
	}
	mask := int64(1)<<uint(bitwidth) - 1
	switch op {
	case numeric.Truncate, numeric.ZeroExtend:
		b.set(x, numeric.Single(k&mask))
	case numeric.SignExtend:
		signBit := int64(1) << uint(bitwidth-1)
		v := k & mask
		if v&signBit != 0 {
			v -= mask + 1
		}
		b.set(x, numeric.Single(v))
	}
}

func (b *Box) Select(lhs, cond numeric.Var, e1, e2 numeric.LinearExpression) {
	if b.IsBottom() {
		return
	}
	ci := b.Get(cond)
	if k, ok := ci.Singleton(); ok {
		if k != 0 {
			b.Assign(lhs, e1)
		} else {
			b.Assign(lhs, e2)
		}
		return
	}
	i1 := b.ToInterval(e1)
	i2 := b.ToInterval(e2)
	b.set(lhs, i1.Join(i2))
}

func (b *Box) Assume(c numeric.LinearConstraint) {
	if b.IsBottom() {
		return
	}
	v, ok := singleVarConstraint(c.Expr)
	if !ok {
		return
	}
	cur := b.Get(v)
	k := -c.Expr.Constant() // expr is coeff*v + const `op` 0, coeff==1 case handled below
	coeff := coeffOf(c.Expr, v)
	bound := k
	if coeff != 1 {
		// Only unit-coefficient constraints are refined precisely.
		if coeff == -1 {
			bound = -k
		} else {
			return
		}
	}
	var refined numeric.Interval
	switch normalizeOp(c.Op, coeff) {
	case numeric.LE:
		refined = cur.Meet(numeric.Interval{HasHi: true, Hi: bound})
	case numeric.LT:
		refined = cur.Meet(numeric.Interval{HasHi: true, Hi: bound - 1})
	case numeric.GE:
		refined = cur.Meet(numeric.Interval{HasLo: true, Lo: bound})
	case numeric.GT:
		refined = cur.Meet(numeric.Interval{HasLo: true, Lo: bound + 1})
	case numeric.EQ:
		refined = cur.Meet(numeric.Single(bound))
	case numeric.NE:
		// Disequality only refines when the excluded point is an endpoint
		// (or the whole interval): interior holes are not representable.
		refined = cur
		switch {
		case cur.HasLo && cur.HasHi && cur.Lo == cur.Hi && cur.Lo == bound:
			refined = numeric.Bottom()
		case cur.HasLo && cur.Lo == bound:
			refined.Lo = bound + 1
		case cur.HasHi && cur.Hi == bound:
			refined.Hi = bound - 1
		}
	}
	b.set(v, refined)
}

func singleVarConstraint(e numeric.LinearExpression) (numeric.Var, bool) {
	terms := e.Terms()
	if len(terms) != 1 {
		return numeric.Var{}, false
	}
	return terms[0].Var, true
}

func coeffOf(e numeric.LinearExpression, v numeric.Var) int64 {
	for _, t := range e.Terms() {
		if t.Var == v {
			return t.Coeff
		}
	}
	return 0
}

// normalizeOp flips a relational operator when the constraint's variable
// coefficient is negative, so Assume can always treat the bound as "v op
// bound" for coeff == 1.
func normalizeOp(op numeric.RelOp, coeff int64) numeric.RelOp {
	if coeff >= 0 {
		return op
	}
	switch op {
	case numeric.LE:
		return numeric.GE
	case numeric.LT:
		return numeric.GT
	case numeric.GE:
		return numeric.LE
	case numeric.GT:
		return numeric.LT
	default:
		return op
	}
}

func (b *Box) Forget(vs []numeric.Var) {
	if b.IsBottom() {
		return
	}
	for _, v := range vs {
		delete(b.vars, v)
	}
}

func (b *Box) Join(other numeric.Domain) numeric.Domain {
	o := other.(*Box)
	if b.IsBottom() {
		return o.Clone()
	}
	if o.IsBottom() {
		return b.Clone()
	}
	out := NewTop()
	seen := make(map[numeric.Var]bool)
	for v, iv := range b.vars {
		seen[v] = true
		out.set(v, iv.Join(o.Get(v)))
	}
	for v, iv := range o.vars {
		if !seen[v] {
			out.set(v, iv.Join(b.Get(v)))
		}
	}
	return out
}

func (b *Box) Meet(other numeric.Domain) numeric.Domain {
	o := other.(*Box)
	if b.IsBottom() || o.IsBottom() {
		return NewBottom()
	}
	out := NewTop()
	seen := make(map[numeric.Var]bool)
	for v, iv := range b.vars {
		seen[v] = true
		out.set(v, iv.Meet(o.Get(v)))
	}
	for v, iv := range o.vars {
		if !seen[v] {
			out.set(v, iv.Meet(b.Get(v)))
		}
	}
	return out
}

func (b *Box) Widen(other numeric.Domain) numeric.Domain {
	return b.widenImpl(other.(*Box), nil)
}

func (b *Box) WidenThresholds(other numeric.Domain, thresholds []int64) numeric.Domain {
	return b.widenImpl(other.(*Box), thresholds)
}

func (b *Box) widenImpl(o *Box, thresholds []int64) numeric.Domain {
	if b.IsBottom() {
		return o.Clone()
	}
	if o.IsBottom() {
		return b.Clone()
	}
	out := NewTop()
	for v, iv := range b.vars {
		next := o.Get(v)
		if thresholds != nil {
			out.set(v, iv.WidenThresholds(next, thresholds))
		} else {
			out.set(v, iv.Widen(next))
		}
	}
	// Variables present only in o widen against top and stay top; nothing
	// to record for them.
	return out
}

func (b *Box) Narrow(other numeric.Domain) numeric.Domain {
	o := other.(*Box)
	if b.IsBottom() || o.IsBottom() {
		return NewBottom()
	}
	out := NewTop()
	for v, iv := range b.vars {
		out.set(v, iv.Narrow(o.Get(v)))
	}
	return out
}

func (b *Box) LessEqual(other numeric.Domain) bool {
	o := other.(*Box)
	if b.IsBottom() {
		return true
	}
	if o.IsBottom() {
		return false
	}
	for v, iv := range o.vars {
		if !b.Get(v).LessEqual(iv) {
			return false
		}
	}
	return true
}

// boolInterval builds the sentinel interval encoding used for boolean
// scalars: false = Single(0), true = Single(1), unknown = [0,1].
func boolInterval(v bool) numeric.Interval {
	if v {
		return numeric.Single(1)
	}
	return numeric.Single(0)
}

func (b *Box) AssignBoolCst(v numeric.Var, c numeric.LinearConstraint) {
	if b.IsBottom() {
		return
	}
	// Evaluate the constraint against the current state when decidable;
	// otherwise the boolean is unknown ([0,1]).
	probe := b.Clone().(*Box)
	probe.Assume(c)
	if probe.IsBottom() {
		b.set(v, boolInterval(false))
		return
	}
	negated := c
	negated.Op = negateRel(c.Op)
	probe2 := b.Clone().(*Box)
	probe2.Assume(negated)
	if probe2.IsBottom() {
		b.set(v, boolInterval(true))
		return
	}
	b.set(v, numeric.Range(0, 1))
}

func negateRel(op numeric.RelOp) numeric.RelOp {
	switch op {
	case numeric.LE:
		return numeric.GT
	case numeric.LT:
		return numeric.GE
	case numeric.GE:
		return numeric.LT
	case numeric.GT:
		return numeric.LE
	case numeric.EQ:
		return numeric.NE
	case numeric.NE:
		return numeric.EQ
	default:
		return op
	}
}

func (b *Box) AssignBoolVar(lhs, rhs numeric.Var, negateRHS bool) {
	if b.IsBottom() {
		return
	}
	iv := b.Get(rhs)
	if negateRHS {
		if k, ok := iv.Singleton(); ok {
			if k == 0 {
				iv = numeric.Single(1)
			} else {
				iv = numeric.Single(0)
			}
		} else {
			iv = numeric.Range(0, 1)
		}
	}
	b.set(lhs, iv)
}

func (b *Box) ApplyBinaryBool(op numeric.BoolOp, x, y, z numeric.Var) {
	if b.IsBottom() {
		return
	}
	yk, yok := b.Get(y).Singleton()
	zk, zok := b.Get(z).Singleton()
	if yok && zok {
		var r int64
		switch op {
		case numeric.BoolAnd:
			r = boolToInt(yk != 0 && zk != 0)
		case numeric.BoolOr:
			r = boolToInt(yk != 0 || zk != 0)
		case numeric.BoolXor:
			r = boolToInt((yk != 0) != (zk != 0))
		}
		b.set(x, numeric.Single(r))
		return
	}
	b.set(x, numeric.Range(0, 1))
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func (b *Box) AssumeBool(v numeric.Var, isNegated bool) {
	if b.IsBottom() {
		return
	}
	want := int64(1)
	if isNegated {
		want = 0
	}
	b.set(v, b.Get(v).Meet(numeric.Single(want)))
}

func (b *Box) SelectBool(lhs, cond, b1, b2 numeric.Var) {
	if b.IsBottom() {
		return
	}
	if k, ok := b.Get(cond).Singleton(); ok {
		if k != 0 {
			b.set(lhs, b.Get(b1))
		} else {
			b.set(lhs, b.Get(b2))
		}
		return
	}
	b.set(lhs, b.Get(b1).Join(b.Get(b2)))
}

// Backward duals. The box domain is non-relational, so backward refinement
// is limited to re-deriving the operand from the post-state when the
// forward operation was invertible with the other operand fixed; otherwise
// it degrades to forgetting, which is sound.

func (b *Box) BackwardAssign(v numeric.Var, e numeric.LinearExpression, post numeric.Domain) {
	if b.IsBottom() {
		return
	}
	if rhsVar, ok := e.Variable(); ok && rhsVar != v {
		refined := b.Get(rhsVar).Meet(post.(*Box).Get(v))
		b.set(rhsVar, refined)
	}
	b.Forget([]numeric.Var{v})
	b.meetInPlace(post)
}

func (b *Box) BackwardApply(op numeric.ArithOp, x, y, z numeric.Var, post numeric.Domain) {
	if b.IsBottom() {
		return
	}
	b.Forget([]numeric.Var{x})
	b.meetInPlace(post)
}

func (b *Box) BackwardApplyConst(op numeric.ArithOp, x, y numeric.Var, k int64, post numeric.Domain) {
	if b.IsBottom() {
		return
	}
	pb := post.(*Box)
	switch op {
	case numeric.Add:
		b.set(y, b.Get(y).Meet(shift(pb.Get(x), -k)))
	case numeric.Sub:
		b.set(y, b.Get(y).Meet(shift(pb.Get(x), k)))
	}
	b.Forget([]numeric.Var{x})
	b.meetInPlace(post)
}

func shift(iv numeric.Interval, k int64) numeric.Interval {
	out := numeric.Interval{HasLo: iv.HasLo, HasHi: iv.HasHi}
	if iv.HasLo {
		out.Lo = iv.Lo + k
	}
	if iv.HasHi {
		out.Hi = iv.Hi + k
	}
	return out
}

func (b *Box) BackwardAssignBoolCst(v numeric.Var, c numeric.LinearConstraint, post numeric.Domain) {
	if b.IsBottom() {
		return
	}
	b.Forget([]numeric.Var{v})
	b.meetInPlace(post)
}

func (b *Box) BackwardAssignBoolVar(lhs, rhs numeric.Var, negateRHS bool, post numeric.Domain) {
	if b.IsBottom() {
		return
	}
	b.Forget([]numeric.Var{lhs})
	b.meetInPlace(post)
}

func (b *Box) BackwardApplyBinaryBool(op numeric.BoolOp, x, y, z numeric.Var, post numeric.Domain) {
	if b.IsBottom() {
		return
	}
	b.Forget([]numeric.Var{x})
	b.meetInPlace(post)
}

func (b *Box) meetInPlace(post numeric.Domain) {
	merged := b.Meet(post).(*Box)
	b.bottom = merged.bottom
	b.vars = merged.vars
}

func (b *Box) ToLinearConstraintSystem() []numeric.LinearConstraint {
	if b.IsBottom() {
		// A constraint system with no solutions: 1 <= 0.
		return []numeric.LinearConstraint{numeric.NewConstraint(numeric.Const(1), numeric.LE)}
	}
	keys := make([]numeric.Var, 0, len(b.vars))
	for v := range b.vars {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Index < keys[j].Index })
	var out []numeric.LinearConstraint
	for _, v := range keys {
		iv := b.vars[v]
		if iv.HasLo {
			out = append(out, numeric.NewConstraint(numeric.VarExpr(v).AddConst(-iv.Lo), numeric.GE))
		}
		if iv.HasHi {
			out = append(out, numeric.NewConstraint(numeric.VarExpr(v).AddConst(-iv.Hi), numeric.LE))
		}
	}
	return out
}

// ToDisjunctiveLinearConstraintSystem returns the box's constraints as a
// single disjunct; a box has no disjunctive structure to expose.
func (b *Box) ToDisjunctiveLinearConstraintSystem() [][]numeric.LinearConstraint {
	return [][]numeric.LinearConstraint{b.ToLinearConstraintSystem()}
}

func (b *Box) Minimize() {
	// Nothing to compress in a box representation.
}

func (b *Box) String() string {
	if b.IsBottom() {
		return "_|_"
	}
	keys := make([]numeric.Var, 0, len(b.vars))
	for v := range b.vars {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Index < keys[j].Index })
	parts := make([]string, 0, len(keys))
	for _, v := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", v.Name, b.vars[v]))
	}
	if len(parts) == 0 {
		return "top"
	}
	return strings.Join(parts, ", ")
}
