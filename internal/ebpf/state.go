package ebpf

import (
	"ebpfverify/internal/arrayexpansion"
	"ebpfverify/internal/cellfactory"
	"ebpfverify/internal/numeric"
)

// NumRegs is r0..r10 (r10 is the read-only frame pointer).
const NumRegs = 11

// FramePointerReg is r10, which always points at the top of this frame's
// stack slice and is never itself written by a program.
const FramePointerReg = 10

// StackArray and MapValueArray name the two array_expansion-tracked regions
// a verifier needs: the per-function stack, and a representative scratch
// region for the memory a map-lookup helper hands back.
var (
	StackArray    = arrayexpansion.ArrayVar{Name: "stack", Elem: cellfactory.IntegerElement}
	MapValueArray = arrayexpansion.ArrayVar{Name: "map_value", Elem: cellfactory.IntegerElement}
)

// State is one program point's abstract value: a register file (each
// register is a numeric.Var living in the shared content domain) over an
// arrayexpansion.Domain that also tracks the stack and map-value buffers.
type State struct {
	Mem *arrayexpansion.Domain
	Reg [NumRegs]numeric.Var
}

// NewState builds an initial state over mem with one 64-bit integer
// variable per register r0..r10. No register is constrained: r1 (the
// context pointer) and r10 (the frame pointer) start at top like the rest.
func NewState(mem *arrayexpansion.Domain) *State {
	s := &State{Mem: mem}
	for i := range s.Reg {
		s.Reg[i] = numeric.Var{Index: int64(i), Name: regName(i), Kind: numeric.IntKind, Bitwidth: 64}
	}
	return s
}

func regName(i int) string {
	names := [NumRegs]string{"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10"}
	return names[i]
}

// Clone deep-copies the state so branches don't alias each other's memory.
func (s *State) Clone() *State {
	out := &State{Mem: s.Mem.Clone(), Reg: s.Reg}
	return out
}

func (s *State) IsBottom() bool { return s.Mem.IsBottom() }

func (s *State) SetToBottom() { s.Mem.SetToBottom() }

func (s *State) Join(other *State) *State {
	return &State{Mem: s.Mem.Join(other.Mem), Reg: s.Reg}
}

func (s *State) Widen(other *State) *State {
	return &State{Mem: s.Mem.Widen(other.Mem), Reg: s.Reg}
}

func (s *State) Meet(other *State) *State {
	return &State{Mem: s.Mem.Meet(other.Mem), Reg: s.Reg}
}

func (s *State) Narrow(other *State) *State {
	return &State{Mem: s.Mem.Narrow(other.Mem), Reg: s.Reg}
}

func (s *State) LessEqual(other *State) bool {
	return s.Mem.LessEqual(other.Mem)
}
