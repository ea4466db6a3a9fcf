package interval

import (
	"testing"

	"ebpfverify/internal/numeric"
)

func iVar(idx int64, name string) numeric.Var {
	return numeric.Var{Index: idx, Name: name, Kind: numeric.IntKind, Bitwidth: 64}
}

func bVar(idx int64, name string) numeric.Var {
	return numeric.Var{Index: idx, Name: name, Kind: numeric.BoolKind, Bitwidth: 1}
}

func TestAssignAndEvaluate(t *testing.T) {
	b := NewTop()
	x := iVar(1, "x")
	y := iVar(2, "y")

	b.Assign(x, numeric.Const(10))
	b.Assign(y, numeric.VarExpr(x).AddConst(5))

	if v, ok := b.Get(y).Singleton(); !ok || v != 15 {
		t.Fatalf("y = %v, want 15", b.Get(y))
	}
	// 2x + y - 1 = 20 + 15 - 1
	e := numeric.Term(2, x).Add(numeric.VarExpr(y)).AddConst(-1)
	if v, ok := b.ToInterval(e).Singleton(); !ok || v != 34 {
		t.Fatalf("2x + y - 1 = %v, want 34", b.ToInterval(e))
	}
}

func TestApplyArith(t *testing.T) {
	tests := []struct {
		name string
		op   numeric.ArithOp
		y, k int64
		want int64
	}{
		{"add", numeric.Add, 7, 3, 10},
		{"sub", numeric.Sub, 7, 3, 4},
		{"mul", numeric.Mul, 7, 3, 21},
		{"div", numeric.UDiv, 7, 3, 2},
		{"rem", numeric.URem, 7, 3, 1},
		{"and", numeric.And, 0b1100, 0b1010, 0b1000},
		{"or", numeric.Or, 0b1100, 0b1010, 0b1110},
		{"xor", numeric.Xor, 0b1100, 0b1010, 0b0110},
		{"shl", numeric.Shl, 3, 4, 48},
		{"lshr", numeric.LShr, 48, 4, 3},
		{"ashr", numeric.AShr, -16, 2, -4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewTop()
			x := iVar(1, "x")
			y := iVar(2, "y")
			b.Assign(y, numeric.Const(tt.y))
			b.ApplyConst(tt.op, x, y, tt.k)
			if v, ok := b.Get(x).Singleton(); !ok || v != tt.want {
				t.Errorf("got %v, want %d", b.Get(x), tt.want)
			}
		})
	}
}

func TestApplyNonSingletonAddStaysPrecise(t *testing.T) {
	b := NewTop()
	x := iVar(1, "x")
	y := iVar(2, "y")
	b.Assume(numeric.AtLeast(y, 0))
	b.Assume(numeric.AtMost(y, 12))
	b.ApplyConst(numeric.Add, x, y, 4)
	got := b.Get(x)
	if !got.HasLo || !got.HasHi || got.Lo != 4 || got.Hi != 16 {
		t.Fatalf("x = y + 4 over y in [0,12] should be [4,16], got %v", got)
	}
}

func TestAssumeRefinesAndContradicts(t *testing.T) {
	b := NewTop()
	i := iVar(1, "i")
	b.Assume(numeric.AtLeast(i, 0))
	b.Assume(numeric.AtMost(i, 12))
	got := b.Get(i)
	if !got.HasLo || got.Lo != 0 || !got.HasHi || got.Hi != 12 {
		t.Fatalf("i = %v, want [0, 12]", got)
	}

	b.Assume(numeric.AtLeast(i, 20))
	if !b.IsBottom() {
		t.Fatal("contradictory constraints must drive the box to bottom")
	}
}

func TestAssumeDisequality(t *testing.T) {
	b := NewTop()
	i := iVar(1, "i")
	b.Assign(i, numeric.Const(0))
	b.Assume(numeric.NewConstraint(numeric.VarExpr(i), numeric.NE))
	if !b.IsBottom() {
		t.Fatal("i = 0 with i != 0 assumed must be bottom")
	}

	b = NewTop()
	b.set(i, numeric.Range(0, 10))
	b.Assume(numeric.NewConstraint(numeric.VarExpr(i), numeric.NE))
	if got := b.Get(i); got != numeric.Range(1, 10) {
		t.Fatalf("excluding the endpoint 0 from [0,10] should give [1,10], got %v", got)
	}

	// An interior hole is not representable; the interval is unchanged.
	b = NewTop()
	b.set(i, numeric.Range(0, 10))
	b.Assume(numeric.NewConstraint(numeric.VarExpr(i).AddConst(-5), numeric.NE))
	if got := b.Get(i); got != numeric.Range(0, 10) {
		t.Fatalf("an interior disequality cannot refine a box, got %v", got)
	}
}

func TestAssumeEquality(t *testing.T) {
	b := NewTop()
	i := iVar(1, "i")
	b.Assume(numeric.NewConstraint(numeric.VarExpr(i).AddConst(-7), numeric.EQ))
	if v, ok := b.Get(i).Singleton(); !ok || v != 7 {
		t.Fatalf("i = %v, want 7", b.Get(i))
	}
}

func TestAssumeNegativeCoefficient(t *testing.T) {
	// -i + 4 >= 0, i.e. i <= 4.
	b := NewTop()
	i := iVar(1, "i")
	b.Assume(numeric.NewConstraint(numeric.Term(-1, i).AddConst(4), numeric.GE))
	got := b.Get(i)
	if !got.HasHi || got.Hi != 4 {
		t.Fatalf("i = %v, want hi bound 4", got)
	}
}

func TestJoinMeetWidenNarrow(t *testing.T) {
	x := iVar(1, "x")

	a := NewTop()
	a.Assign(x, numeric.Const(1))
	b := NewTop()
	b.Assign(x, numeric.Const(5))

	j := a.Join(b).(*Box)
	got := j.Get(x)
	if !got.HasLo || !got.HasHi || got.Lo != 1 || got.Hi != 5 {
		t.Fatalf("join: x = %v, want [1, 5]", got)
	}

	m := a.Meet(b)
	if !m.IsBottom() {
		t.Fatal("meet of x=1 and x=5 must be bottom")
	}

	// Widen [1,5] against [1,9]: hi snaps to +oo.
	c := NewTop()
	c.set(x, numeric.Range(1, 9))
	w := j.Widen(c).(*Box)
	wx := w.Get(x)
	if wx.HasHi || !wx.HasLo || wx.Lo != 1 {
		t.Fatalf("widen: x = %v, want [1, +oo)", wx)
	}

	// Narrow against [1,9] to recover the lost bound.
	nr := w.Narrow(c).(*Box)
	nx := nr.Get(x)
	if !nx.HasHi || nx.Hi != 9 {
		t.Fatalf("narrow: x = %v, want [1, 9]", nx)
	}
}

func TestLessEqual(t *testing.T) {
	x := iVar(1, "x")
	small := NewTop()
	small.set(x, numeric.Range(2, 3))
	big := NewTop()
	big.set(x, numeric.Range(0, 10))

	if !small.LessEqual(big) {
		t.Fatal("[2,3] must be included in [0,10]")
	}
	if big.LessEqual(small) {
		t.Fatal("[0,10] must not be included in [2,3]")
	}
	if !NewBottom().LessEqual(small) {
		t.Fatal("bottom is below everything")
	}
	if !small.LessEqual(NewTop()) {
		t.Fatal("everything is below top")
	}
}

func TestConvert(t *testing.T) {
	b := NewTop()
	x := iVar(1, "x")
	y := iVar(2, "y")

	b.Assign(y, numeric.Const(0x1ff))
	b.Convert(numeric.ZeroExtend, x, y, 8)
	if v, ok := b.Get(x).Singleton(); !ok || v != 0xff {
		t.Fatalf("zext8(0x1ff) = %v, want 255", b.Get(x))
	}

	b.Assign(y, numeric.Const(0xff))
	b.Convert(numeric.SignExtend, x, y, 8)
	if v, ok := b.Get(x).Singleton(); !ok || v != -1 {
		t.Fatalf("sext8(0xff) = %v, want -1", b.Get(x))
	}
}

func TestBoolOperations(t *testing.T) {
	b := NewTop()
	p := bVar(1, "p")
	q := bVar(2, "q")
	r := bVar(3, "r")
	i := iVar(4, "i")

	// i = 3 makes "i <= 4" definitely true.
	b.Assign(i, numeric.Const(3))
	b.AssignBoolCst(p, numeric.AtMost(i, 4))
	if v, ok := b.Get(p).Singleton(); !ok || v != 1 {
		t.Fatalf("p = %v, want true", b.Get(p))
	}
	// "i >= 10" is definitely false.
	b.AssignBoolCst(q, numeric.AtLeast(i, 10))
	if v, ok := b.Get(q).Singleton(); !ok || v != 0 {
		t.Fatalf("q = %v, want false", b.Get(q))
	}

	b.ApplyBinaryBool(numeric.BoolOr, r, p, q)
	if v, ok := b.Get(r).Singleton(); !ok || v != 1 {
		t.Fatalf("p or q = %v, want true", b.Get(r))
	}
	b.ApplyBinaryBool(numeric.BoolAnd, r, p, q)
	if v, ok := b.Get(r).Singleton(); !ok || v != 0 {
		t.Fatalf("p and q = %v, want false", b.Get(r))
	}

	// Assuming the negation of a known-true boolean is a contradiction.
	probe := b.Clone().(*Box)
	probe.AssumeBool(p, true)
	if !probe.IsBottom() {
		t.Fatal("assuming !p with p known true must be bottom")
	}
}

func TestSelect(t *testing.T) {
	b := NewTop()
	c := bVar(1, "c")
	x := iVar(2, "x")

	b.Assign(c, numeric.Const(1))
	b.Select(x, c, numeric.Const(10), numeric.Const(20))
	if v, ok := b.Get(x).Singleton(); !ok || v != 10 {
		t.Fatalf("select with true cond = %v, want 10", b.Get(x))
	}

	b.Forget([]numeric.Var{c})
	b.Select(x, c, numeric.Const(10), numeric.Const(20))
	got := b.Get(x)
	if !got.HasLo || !got.HasHi || got.Lo != 10 || got.Hi != 20 {
		t.Fatalf("select with unknown cond = %v, want [10, 20]", got)
	}
}

// The backward dual of x := y + k refines y from the post-state of x.
func TestBackwardApplyConst(t *testing.T) {
	x := iVar(1, "x")
	y := iVar(2, "y")

	post := NewTop()
	post.set(x, numeric.Range(10, 12))

	pre := NewTop()
	pre.BackwardApplyConst(numeric.Add, x, y, 4, post)
	got := pre.Get(y)
	if !got.HasLo || !got.HasHi || got.Lo != 6 || got.Hi != 8 {
		t.Fatalf("backward y from x = y + 4, x in [10,12]: got %v, want [6, 8]", got)
	}
}

func TestToLinearConstraintSystem(t *testing.T) {
	b := NewTop()
	x := iVar(1, "x")
	b.set(x, numeric.Range(0, 7))
	csts := b.ToLinearConstraintSystem()
	if len(csts) != 2 {
		t.Fatalf("expected one constraint per finite bound, got %d", len(csts))
	}
	// Replaying the constraints into a fresh box must reproduce the bounds.
	replay := NewTop()
	for _, c := range csts {
		replay.Assume(c)
	}
	if got := replay.Get(x); got != numeric.Range(0, 7) {
		t.Fatalf("replayed constraints give %v, want [0, 7]", got)
	}
}
