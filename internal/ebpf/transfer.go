package ebpf

import (
	"fmt"

	"ebpfverify/internal/numeric"
)

// Error is a transfer-function failure: an instruction the abstract
// interpreter cannot soundly model, as opposed to a verification rejection
// (which is expressed through Assume narrowing a branch to bottom, not an
// Error).
type Error struct {
	Insn int
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("insn %d: %s", e.Insn, e.Msg) }

func aluOpOf(field byte) (numeric.ArithOp, bool) {
	switch field {
	case AluAdd:
		return numeric.Add, true
	case AluSub:
		return numeric.Sub, true
	case AluMul:
		return numeric.Mul, true
	case AluDiv:
		return numeric.UDiv, true
	case AluOr:
		return numeric.Or, true
	case AluAnd:
		return numeric.And, true
	case AluLsh:
		return numeric.Shl, true
	case AluRsh:
		return numeric.LShr, true
	case AluMod:
		return numeric.URem, true
	case AluXor:
		return numeric.Xor, true
	case AluArsh:
		return numeric.AShr, true
	}
	return 0, false
}

func relOpOf(field byte) (numeric.RelOp, bool, bool) {
	// returns (op, _, ok): the relation the taken branch assumes, a second
	// result that is always false, and whether field is a handled
	// comparison. The not-taken constraint comes from negateRel.
	switch field {
	case JmpJeq:
		return numeric.EQ, false, true
	case JmpJne:
		return numeric.NE, false, true
	case JmpJgt, JmpJsgt:
		return numeric.GT, false, true
	case JmpJge, JmpJsge:
		return numeric.GE, false, true
	case JmpJlt, JmpJslt:
		return numeric.LT, false, true
	case JmpJle, JmpJsle:
		return numeric.LE, false, true
	}
	return 0, false, false
}

func negateRel(op numeric.RelOp) numeric.RelOp {
	switch op {
	case numeric.EQ:
		return numeric.NE
	case numeric.NE:
		return numeric.EQ
	case numeric.LT:
		return numeric.GE
	case numeric.LE:
		return numeric.GT
	case numeric.GT:
		return numeric.LE
	case numeric.GE:
		return numeric.LT
	}
	return op
}

// StepALU applies an ALU (or ALU64) instruction in place.
func StepALU(s *State, idx int, insn Insn) error {
	dst := s.Reg[insn.DstReg]
	field := insn.Op()

	switch field {
	case AluMov:
		if insn.UsesSrcReg() {
			s.Mem.Assign(dst, numeric.VarExpr(s.Reg[insn.SrcReg]))
		} else {
			s.Mem.Assign(dst, numeric.Const(insn.Imm))
		}
	case AluNeg:
		s.Mem.Assign(dst, numeric.Const(0).Sub(numeric.VarExpr(dst)))
	default:
		op, ok := aluOpOf(field)
		if !ok {
			return &Error{Insn: idx, Msg: fmt.Sprintf("unhandled ALU op field 0x%02x", field)}
		}
		if insn.UsesSrcReg() {
			s.Mem.Apply(op, dst, dst, s.Reg[insn.SrcReg])
		} else {
			s.Mem.ApplyConst(op, dst, dst, insn.Imm)
		}
	}
	if !insn.Is64() {
		// 32-bit ALU ops zero-extend into the full 64-bit register; model
		// that as a mask via Convert's zero-extend path.
		s.Mem.Convert(numeric.ZeroExtend, dst, dst, 32)
	}
	return nil
}

// StepLoadImm64 assigns a register the wide immediate of a BPF_LD_IMM64
// instruction (the common case being a map-fd or pointer constant, tracked
// here only as an opaque integer since pointer provenance is out of scope).
func StepLoadImm64(s *State, insn Insn) {
	s.Mem.Assign(s.Reg[insn.DstReg], numeric.Const(insn.Imm))
}

// StepMemStack handles a stack-relative load/store: STX/LDX/ST/LD whose
// base register is r10 (the frame pointer), the only memory region this
// verifier's array-expansion domain models precisely. Any other base
// register's memory access is assumed to target an unmodeled region and
// simply forgets the destination (a load) or is ignored (a store).
func StepMemStack(s *State, insn Insn, isLoad, isStore bool) {
	off := int64(insn.Offset)
	size := insn.Size()
	idx := numeric.Const(off)
	elemSize := numeric.Const(int64(size))

	if isLoad {
		s.Mem.ArrayLoad(s.Reg[insn.DstReg], StackArray, elemSize, idx)
		return
	}
	if isStore {
		var val numeric.LinearExpression
		if insn.Class() == ClassStx {
			val = numeric.VarExpr(s.Reg[insn.SrcReg])
		} else {
			val = numeric.Const(insn.Imm)
		}
		s.Mem.ArrayStore(StackArray, elemSize, idx, val)
	}
}

// StepJumpCondition narrows s in place to the states where the conditional
// jump's guard holds (taken=true) or does not hold (taken=false).
func StepJumpCondition(s *State, insn Insn, taken bool) error {
	field := insn.Op()
	if field == JmpJset {
		// bitwise-and test: not linear, so neither branch narrows
		// precisely; both sides stay as-is (sound, just imprecise).
		return nil
	}
	op, _, ok := relOpOf(field)
	if !ok {
		return &Error{Insn: 0, Msg: fmt.Sprintf("unhandled jump op field 0x%02x", field)}
	}
	if !taken {
		op = negateRel(op)
	}
	lhs := numeric.VarExpr(s.Reg[insn.DstReg])
	var rhs numeric.LinearExpression
	if insn.UsesSrcReg() {
		rhs = numeric.VarExpr(s.Reg[insn.SrcReg])
	} else {
		rhs = numeric.Const(insn.Imm)
	}
	s.Mem.Assume(numeric.NewConstraint(lhs.Sub(rhs), op))
	return nil
}
