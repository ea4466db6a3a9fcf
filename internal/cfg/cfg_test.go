package cfg

import (
	"testing"

	"ebpfverify/internal/ebpf"
)

func mov(dst byte, imm int32) ebpf.Insn {
	return ebpf.Insn{Opcode: ebpf.ClassAlu64 | ebpf.AluMov, DstReg: dst, Imm: int64(imm)}
}

func jeq(dst byte, imm int32, off int16) ebpf.Insn {
	return ebpf.Insn{Opcode: ebpf.ClassJmp | ebpf.JmpJeq, DstReg: dst, Imm: int64(imm), Offset: off}
}

func exit() ebpf.Insn {
	return ebpf.Insn{Opcode: ebpf.ClassJmp | ebpf.JmpExit}
}

// A straight-line program with no jumps is a single block.
func TestBuildStraightLineIsOneBlock(t *testing.T) {
	insns := []ebpf.Insn{mov(0, 1), mov(1, 2), exit()}
	g, err := Build(insns)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(g.Blocks))
	}
}

// A conditional jump splits the program into three blocks: the guard
// block, the taken target, and the fallthrough.
func TestBuildConditionalSplitsBlocks(t *testing.T) {
	insns := []ebpf.Insn{
		jeq(0, 1, 1), // 0: if r0 == 1 goto +1 (skip the next insn)
		mov(1, 0),    // 1: fallthrough
		mov(1, 1),    // 2: taken target
		exit(),       // 3
	}
	g, err := Build(insns)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(g.Blocks))
	}
	entry := g.Blocks[0]
	if !entry.IsConditional() {
		t.Fatal("entry block must be conditional (2 successors)")
	}
	if len(entry.Succs) != 2 {
		t.Fatalf("expected 2 successors, got %d", len(entry.Succs))
	}
}

// Branch displacements count raw 8-byte slots, and a wide load occupies
// two of them while decoding to a single Insn. A conditional jump over a
// wide load must land on the decoded instruction at the target slot, not
// overshoot by the folded slot.
func TestBuildResolvesTargetsAcrossWideLoad(t *testing.T) {
	insns := []ebpf.Insn{
		jeq(0, 0, 3), // 0 (slot 0): if r0 == 0 goto slot 4
		{Opcode: ebpf.ClassLd | ebpf.SizeDW, DstReg: 1, Imm: 0x1_0000_0001, Wide: true}, // 1 (slots 1-2)
		mov(2, 1), // 2 (slot 3): fallthrough tail
		exit(),    // 3 (slot 4): jump target
	}
	g, err := Build(insns)
	if err != nil {
		t.Fatal(err)
	}
	entry := g.Blocks[0]
	if !entry.IsConditional() {
		t.Fatalf("expected the jump block to have 2 successors, got %d", len(entry.Succs))
	}
	exitBlock, ok := g.leaderOf[3]
	if !ok {
		t.Fatal("expected the exit instruction (decoded index 3) to start a block")
	}
	found := false
	for _, s := range entry.Succs {
		if s == exitBlock {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an edge from the jump to the exit block, got successors %v", entry.Succs)
	}
}

// A jump into the middle of a wide load is rejected: the consumed upper
// half is not a real instruction.
func TestBuildRejectsMidInstructionTarget(t *testing.T) {
	insns := []ebpf.Insn{
		jeq(0, 0, 1), // 0 (slot 0): goto slot 2, the wide load's upper half
		{Opcode: ebpf.ClassLd | ebpf.SizeDW, DstReg: 1, Imm: 1, Wide: true}, // 1 (slots 1-2)
		exit(), // 2 (slot 3)
	}
	if _, err := Build(insns); err == nil {
		t.Fatal("expected an error for a jump into a wide load's second slot")
	}
}

// An out-of-range jump target is rejected rather than silently ignored.
func TestBuildRejectsOutOfRangeTarget(t *testing.T) {
	insns := []ebpf.Insn{jeq(0, 1, 100), exit()}
	if _, err := Build(insns); err == nil {
		t.Fatal("expected an error for a jump target beyond the program")
	}
}

// A backward jump (a loop) must wire a back-edge to an earlier block.
func TestBuildBackwardJumpWiresLoopEdge(t *testing.T) {
	insns := []ebpf.Insn{
		mov(0, 0),     // 0: loop header
		jeq(0, 5, 1),  // 1: if r0 == 5 goto +1 (exit loop)
		{Opcode: ebpf.ClassJmp | ebpf.JmpJa, Offset: -3}, // 2: goto header
		exit(),        // 3
	}
	g, err := Build(insns)
	if err != nil {
		t.Fatal(err)
	}
	header := g.leaderOf[0]
	found := false
	for _, b := range g.Blocks {
		for _, s := range b.Succs {
			if s == header && b.ID != header {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected some block to have a back-edge into the loop header")
	}
}
