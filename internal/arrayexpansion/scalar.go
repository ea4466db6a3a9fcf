package arrayexpansion

import "ebpfverify/internal/numeric"

// Non-array operations of the abstract-domain contract. Every one of these
// delegates unchanged to the embedded numeric domain; the array table is
// untouched because scalar assignments cannot alias a cell (synthetic cell
// scalars are only ever written through ArrayStore/ArrayInit).

func (d *Domain) Assign(v numeric.Var, e numeric.LinearExpression) { d.inv.Assign(v, e) }

func (d *Domain) Apply(op numeric.ArithOp, x, y, z numeric.Var) { d.inv.Apply(op, x, y, z) }

func (d *Domain) ApplyConst(op numeric.ArithOp, x, y numeric.Var, k int64) {
	d.inv.ApplyConst(op, x, y, k)
}

func (d *Domain) Convert(op numeric.ConvOp, x, y numeric.Var, bitwidth int) {
	d.inv.Convert(op, x, y, bitwidth)
}

func (d *Domain) Select(lhs, cond numeric.Var, e1, e2 numeric.LinearExpression) {
	d.inv.Select(lhs, cond, e1, e2)
}

func (d *Domain) Assume(c numeric.LinearConstraint) { d.inv.Assume(c) }

// ForgetVars drops scalar variables from the base domain. Array variables
// are not expressible as numeric.Vars here; use Forget(ArrayVar) for those.
func (d *Domain) ForgetVars(vs []numeric.Var) { d.inv.Forget(vs) }

func (d *Domain) Get(v numeric.Var) numeric.Interval { return d.inv.Get(v) }

func (d *Domain) ToInterval(e numeric.LinearExpression) numeric.Interval {
	return d.inv.ToInterval(e)
}

func (d *Domain) AssignBoolCst(v numeric.Var, c numeric.LinearConstraint) {
	d.inv.AssignBoolCst(v, c)
}

func (d *Domain) AssignBoolVar(lhs, rhs numeric.Var, negateRHS bool) {
	d.inv.AssignBoolVar(lhs, rhs, negateRHS)
}

func (d *Domain) ApplyBinaryBool(op numeric.BoolOp, x, y, z numeric.Var) {
	d.inv.ApplyBinaryBool(op, x, y, z)
}

func (d *Domain) AssumeBool(v numeric.Var, isNegated bool) { d.inv.AssumeBool(v, isNegated) }

func (d *Domain) SelectBool(lhs, cond, b1, b2 numeric.Var) { d.inv.SelectBool(lhs, cond, b1, b2) }

func (d *Domain) BackwardAssign(v numeric.Var, e numeric.LinearExpression, post *Domain) {
	d.inv.BackwardAssign(v, e, post.inv)
}

func (d *Domain) BackwardApply(op numeric.ArithOp, x, y, z numeric.Var, post *Domain) {
	d.inv.BackwardApply(op, x, y, z, post.inv)
}

func (d *Domain) BackwardApplyConst(op numeric.ArithOp, x, y numeric.Var, k int64, post *Domain) {
	d.inv.BackwardApplyConst(op, x, y, k, post.inv)
}

func (d *Domain) BackwardAssignBoolCst(v numeric.Var, c numeric.LinearConstraint, post *Domain) {
	d.inv.BackwardAssignBoolCst(v, c, post.inv)
}

func (d *Domain) BackwardAssignBoolVar(lhs, rhs numeric.Var, negateRHS bool, post *Domain) {
	d.inv.BackwardAssignBoolVar(lhs, rhs, negateRHS, post.inv)
}

func (d *Domain) BackwardApplyBinaryBool(op numeric.BoolOp, x, y, z numeric.Var, post *Domain) {
	d.inv.BackwardApplyBinaryBool(op, x, y, z, post.inv)
}

func (d *Domain) Minimize() { d.inv.Minimize() }

// Region and reference operations are outside what this domain can model;
// they warn and behave as identity, per the unsupported-operation policy.

func (d *Domain) RegionInit(name string) {
	d.warnf("unsupported", "RegionOp", "region_init %s is not implemented", name)
}

func (d *Domain) RefLoad(lhs numeric.Var, region string) {
	d.warnf("unsupported", "RefOp", "ref_load from %s is not implemented; forgetting destination", region)
	d.inv.Forget([]numeric.Var{lhs})
}

func (d *Domain) RefStore(region string) {
	d.warnf("unsupported", "RefOp", "ref_store into %s is not implemented", region)
}
