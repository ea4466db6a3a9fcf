package numeric

// Domain is the contract the array-expansion core requires from a base
// numeric abstract domain over scalar variables. Every operation the
// source's NumDomain template parameter must supply appears here,
// including the backward (pre-condition) duals that arrayexpansion's
// Backward* operations delegate to. internal/fixpoint runs no backward
// pass, so the analysis pipeline itself does not call them.
//
// Implementations must be value-like with respect to Clone: mutating
// methods (Assign, Apply, Assume, Forget, ...) act on the receiver in
// place, so callers that need to keep an old version alive must Clone
// first. Join/Meet/Widen/Narrow/WidenThresholds return new values and do
// not mutate either operand.
type Domain interface {
	Clone() Domain

	IsTop() bool
	IsBottom() bool
	SetToTop()
	SetToBottom()

	// Assign performs v := e.
	Assign(v Var, e LinearExpression)
	// Apply performs x := y `op` z.
	Apply(op ArithOp, x, y, z Var)
	// ApplyConst performs x := y `op` k.
	ApplyConst(op ArithOp, x, y Var, k int64)
	// Convert performs x := conv(y) under the given conversion op and target
	// bitwidth (truncation/sign-extend/zero-extend between cell widths).
	Convert(op ConvOp, x, y Var, bitwidth int)
	// Select performs lhs := condTrue ? e1 : e2, where condTrue is a boolean
	// scalar; sound implementations may just join e1 and e2 when the
	// condition isn't resolved to a constant.
	Select(lhs Var, cond Var, e1, e2 LinearExpression)
	// Assume restricts the domain to states satisfying c.
	Assume(c LinearConstraint)
	// Forget removes every trace of vs (sets them to top).
	Forget(vs []Var)
	// Get returns the interval bound for v.
	Get(v Var) Interval
	// ToInterval evaluates e's constant bound under the current state.
	ToInterval(e LinearExpression) Interval

	Join(other Domain) Domain
	Meet(other Domain) Domain
	Widen(other Domain) Domain
	WidenThresholds(other Domain, thresholds []int64) Domain
	Narrow(other Domain) Domain
	LessEqual(other Domain) bool

	AssignBoolCst(v Var, c LinearConstraint)
	AssignBoolVar(lhs, rhs Var, negateRHS bool)
	ApplyBinaryBool(op BoolOp, x, y, z Var)
	AssumeBool(v Var, isNegated bool)
	SelectBool(lhs, cond, b1, b2 Var)

	// Backward duals: each takes the post-state (the forward invariant
	// after the operation already ran) and refines the receiver, which
	// holds the pre-state being computed.
	BackwardAssign(v Var, e LinearExpression, post Domain)
	BackwardApply(op ArithOp, x, y, z Var, post Domain)
	BackwardApplyConst(op ArithOp, x, y Var, k int64, post Domain)
	BackwardAssignBoolCst(v Var, c LinearConstraint, post Domain)
	BackwardAssignBoolVar(lhs, rhs Var, negateRHS bool, post Domain)
	BackwardApplyBinaryBool(op BoolOp, x, y, z Var, post Domain)

	ToLinearConstraintSystem() []LinearConstraint
	// ToDisjunctiveLinearConstraintSystem projects the state to a
	// disjunction of constraint systems; non-disjunctive domains return a
	// single disjunct.
	ToDisjunctiveLinearConstraintSystem() [][]LinearConstraint
	Minimize()

	String() string
}
