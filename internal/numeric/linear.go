package numeric

import (
	"fmt"
	"sort"
	"strings"
)

// LinearExpression is a linear combination sum(coeff_i * var_i) + constant
// over scalar variables. It is the currency branch conditions, array
// indices, element sizes, and assigned values are expressed in throughout
// the domain's contract.
type LinearExpression struct {
	terms    map[Var]int64
	constant int64
}

// Const builds the constant expression k.
func Const(k int64) LinearExpression {
	return LinearExpression{constant: k}
}

// VarExpr builds the expression consisting of a single variable with
// coefficient 1.
func VarExpr(v Var) LinearExpression {
	return LinearExpression{terms: map[Var]int64{v: 1}}
}

// Term builds coeff * v.
func Term(coeff int64, v Var) LinearExpression {
	if coeff == 0 {
		return LinearExpression{}
	}
	return LinearExpression{terms: map[Var]int64{v: coeff}}
}

func (e LinearExpression) clone() LinearExpression {
	out := LinearExpression{constant: e.constant}
	if len(e.terms) > 0 {
		out.terms = make(map[Var]int64, len(e.terms))
		for v, c := range e.terms {
			out.terms[v] = c
		}
	}
	return out
}

// Add returns e + other.
func (e LinearExpression) Add(other LinearExpression) LinearExpression {
	out := e.clone()
	if out.terms == nil && len(other.terms) > 0 {
		out.terms = make(map[Var]int64, len(other.terms))
	}
	for v, c := range other.terms {
		out.terms[v] += c
		if out.terms[v] == 0 {
			delete(out.terms, v)
		}
	}
	out.constant += other.constant
	return out
}

// AddConst returns e + k.
func (e LinearExpression) AddConst(k int64) LinearExpression {
	out := e.clone()
	out.constant += k
	return out
}

// Negate returns -e.
func (e LinearExpression) Negate() LinearExpression {
	out := LinearExpression{constant: -e.constant}
	if len(e.terms) > 0 {
		out.terms = make(map[Var]int64, len(e.terms))
		for v, c := range e.terms {
			out.terms[v] = -c
		}
	}
	return out
}

// Sub returns e - other.
func (e LinearExpression) Sub(other LinearExpression) LinearExpression {
	return e.Add(other.Negate())
}

// Constant returns the expression's constant term.
func (e LinearExpression) Constant() int64 { return e.constant }

// IsConstant reports whether the expression has no variable terms.
func (e LinearExpression) IsConstant() bool { return len(e.terms) == 0 }

// Variable returns the expression's single variable and true if the
// expression is exactly 1*v (no constant, unit coefficient) -- the shape
// assignment dispatch checks for before falling back to a constant
// assignment.
func (e LinearExpression) Variable() (Var, bool) {
	if e.constant != 0 || len(e.terms) != 1 {
		return Var{}, false
	}
	for v, c := range e.terms {
		if c == 1 {
			return v, true
		}
	}
	return Var{}, false
}

// Terms returns the (variable, coefficient) pairs in a deterministic order.
func (e LinearExpression) Terms() []struct {
	Var   Var
	Coeff int64
} {
	out := make([]struct {
		Var   Var
		Coeff int64
	}, 0, len(e.terms))
	for v, c := range e.terms {
		out = append(out, struct {
			Var   Var
			Coeff int64
		}{v, c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Var.Index < out[j].Var.Index })
	return out
}

func (e LinearExpression) String() string {
	var sb strings.Builder
	first := true
	for _, t := range e.Terms() {
		if !first {
			sb.WriteString(" + ")
		}
		first = false
		fmt.Fprintf(&sb, "%d*%s", t.Coeff, t.Var.Name)
	}
	if e.constant != 0 || first {
		if !first {
			sb.WriteString(" + ")
		}
		fmt.Fprintf(&sb, "%d", e.constant)
	}
	return sb.String()
}

// RelOp enumerates linear-constraint relational operators.
type RelOp int

const (
	LE RelOp = iota
	LT
	GE
	GT
	EQ
	NE
)

func (op RelOp) String() string {
	switch op {
	case LE:
		return "<="
	case LT:
		return "<"
	case GE:
		return ">="
	case GT:
		return ">"
	case EQ:
		return "=="
	case NE:
		return "!="
	default:
		return "?"
	}
}

// LinearConstraint asserts Expr `Op` 0, e.g. (x - 4) <= 0 for "x <= 4".
type LinearConstraint struct {
	Expr LinearExpression
	Op   RelOp
}

func NewConstraint(e LinearExpression, op RelOp) LinearConstraint {
	return LinearConstraint{Expr: e, Op: op}
}

// AtMost builds v <= k.
func AtMost(v Var, k int64) LinearConstraint {
	return NewConstraint(VarExpr(v).AddConst(-k), LE)
}

// AtLeast builds v >= k.
func AtLeast(v Var, k int64) LinearConstraint {
	return NewConstraint(VarExpr(v).AddConst(-k), GE)
}

func (c LinearConstraint) String() string {
	return fmt.Sprintf("%s %s 0", c.Expr, c.Op)
}
