// Package cfg builds a basic-block control-flow graph from a decoded eBPF
// instruction stream, the structure internal/fixpoint iterates over.
package cfg

import (
	"fmt"

	"ebpfverify/internal/ebpf"
)

// Block is a maximal run of instructions with one entry and one exit: a
// jump (conditional or unconditional) only ever appears as the last
// instruction of a block, and every jump target starts a new block.
type Block struct {
	ID    int
	Start int // index into the program's Insn slice, inclusive
	End   int // exclusive
	Succs []int
	Preds []int
}

// Graph is the full per-function control-flow graph.
type Graph struct {
	Insns  []ebpf.Insn
	Blocks []*Block
	// leaderOf maps an instruction index to the ID of the block it starts,
	// populated only for indices that ARE leaders.
	leaderOf map[int]int
}

// Build partitions insns into blocks at jump targets and jump instructions,
// then wires up successors for every conditional/unconditional jump and
// exit, and a straight-through edge for implicit fallthrough.
//
// Branch displacements are measured in raw 8-byte slots, not decoded
// instructions: a wide load (BPF_LD_IMM64) occupies two slots but decodes
// to one Insn, so targets must be resolved through a slot index rather than
// by adding the displacement to the decoded position.
func Build(insns []ebpf.Insn) (*Graph, error) {
	// slotOf[i] is the raw slot index of insns[i]; slotIndex inverts it.
	slotOf := make([]int, len(insns))
	slotIndex := make(map[int]int, len(insns))
	slot := 0
	for i, insn := range insns {
		slotOf[i] = slot
		slotIndex[slot] = i
		if insn.Wide {
			slot += 2
		} else {
			slot++
		}
	}

	// jumpTarget maps a jump instruction's decoded index to its target's
	// decoded index, validated once here and reused for edge wiring below.
	jumpTarget := make(map[int]int)
	leaders := map[int]bool{0: true}
	for i, insn := range insns {
		if insn.IsJmp() {
			field := insn.Op()
			if field == ebpf.JmpExit {
				continue
			}
			if field == ebpf.JmpCall {
				// calls don't branch; just the next instruction needs to
				// remain reachable, which it already is by default.
				continue
			}
			targetSlot := slotOf[i] + 1 + int(insn.Offset)
			target, ok := slotIndex[targetSlot]
			if !ok {
				return nil, fmt.Errorf("cfg: insn %d jumps to out-of-range or mid-instruction slot %d", i, targetSlot)
			}
			jumpTarget[i] = target
			leaders[target] = true
			if i+1 < len(insns) {
				leaders[i+1] = true
			}
		}
	}

	var starts []int
	for l := range leaders {
		starts = append(starts, l)
	}
	sortInts(starts)

	g := &Graph{Insns: insns, leaderOf: make(map[int]int)}
	for bi, start := range starts {
		end := len(insns)
		if bi+1 < len(starts) {
			end = starts[bi+1]
		}
		b := &Block{ID: bi, Start: start, End: end}
		g.Blocks = append(g.Blocks, b)
		g.leaderOf[start] = bi
	}

	for _, b := range g.Blocks {
		if b.Start >= b.End {
			continue
		}
		last := g.Insns[b.End-1]
		if !last.IsJmp() {
			g.addEdge(b.ID, b.End)
			continue
		}
		field := last.Op()
		switch field {
		case ebpf.JmpExit:
			// no successors
		case ebpf.JmpCall:
			g.addEdge(b.ID, b.End)
		case ebpf.JmpJa:
			g.addEdge(b.ID, jumpTarget[b.End-1])
		default:
			g.addEdge(b.ID, jumpTarget[b.End-1])
			g.addEdge(b.ID, b.End)
		}
	}
	return g, nil
}

func (g *Graph) addEdge(from, toInsn int) {
	to, ok := g.leaderOf[toInsn]
	if !ok {
		return
	}
	g.Blocks[from].Succs = append(g.Blocks[from].Succs, to)
	g.Blocks[to].Preds = append(g.Blocks[to].Preds, from)
}

// IsConditional reports whether the block's last instruction is a
// conditional jump (has two successors rather than zero or one).
func (b *Block) IsConditional() bool { return len(b.Succs) == 2 }

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}
