// Package fixpoint drives the forward abstract-interpretation worklist over
// an internal/cfg.Graph, producing one internal/ebpf.State per basic block
// (the state at the block's entry).
//
// The forward pass is a standard chaotic-iteration worklist with widening
// after a configurable number of revisits per block, followed by a bounded
// descending phase that narrows widened loop heads. No backward pass is run.
// RunAll analyzes several independent programs concurrently via
// golang.org/x/sync/errgroup; internal/verifier does not call it and runs
// each program section through Run in turn.
package fixpoint

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ebpfverify/internal/cfg"
	"ebpfverify/internal/ebpf"
	"ebpfverify/internal/numeric"
)

// WidenAfter is the number of times a block may be revisited with a plain
// join before the driver switches to widening, matching common abstract
// interpreters' default policy for loop headers.
const WidenAfter = 2

// NarrowPasses is the number of descending iterations run after the
// ascending phase stabilizes, using Narrow to claw back precision the
// widening gave away at loop heads. Descending iteration is not guaranteed
// to reach a fixpoint, so it is cut off after a fixed pass count.
const NarrowPasses = 2

// Result holds the fixpoint's output: the abstract state at entry to each
// block, plus any transfer-function error encountered (which aborts the
// analysis of that program, but not of others run concurrently).
type Result struct {
	Entry []*ebpf.State
	Err   error
}

// Run computes the forward fixpoint for one function's CFG, starting from
// initState at block 0.
func Run(g *cfg.Graph, initState *ebpf.State) *Result {
	n := len(g.Blocks)
	entry := make([]*ebpf.State, n)
	visits := make([]int, n)
	for i := range entry {
		bottom := initState.Clone()
		bottom.SetToBottom()
		entry[i] = bottom
	}
	entry[0] = initState

	worklist := []int{0}
	inWorklist := make([]bool, n)
	inWorklist[0] = true

	for len(worklist) > 0 {
		id := worklist[0]
		worklist = worklist[1:]
		inWorklist[id] = false

		out, err := transferBlock(g, id, entry[id])
		if err != nil {
			return &Result{Entry: entry, Err: err}
		}

		block := g.Blocks[id]
		for edge, succID := range block.Succs {
			succState, err := successorState(g, block, out, edge)
			if err != nil {
				return &Result{Entry: entry, Err: err}
			}

			visits[succID]++
			var next *ebpf.State
			if visits[succID] > WidenAfter {
				next = entry[succID].Widen(succState)
			} else {
				next = entry[succID].Join(succState)
			}
			if !next.LessEqual(entry[succID]) {
				entry[succID] = next
				if !inWorklist[succID] {
					worklist = append(worklist, succID)
					inWorklist[succID] = true
				}
			}
		}
	}

	// Descending phase: re-run the transformer over the stabilized entries
	// and narrow each block's entry against the join of its refreshed
	// incoming states.
	for pass := 0; pass < NarrowPasses; pass++ {
		incoming := make([]*ebpf.State, n)
		for id := range g.Blocks {
			out, err := transferBlock(g, id, entry[id])
			if err != nil {
				return &Result{Entry: entry, Err: err}
			}
			block := g.Blocks[id]
			for edge, succID := range block.Succs {
				succState, err := successorState(g, block, out, edge)
				if err != nil {
					return &Result{Entry: entry, Err: err}
				}
				if incoming[succID] == nil {
					incoming[succID] = succState.Clone()
				} else {
					incoming[succID] = incoming[succID].Join(succState)
				}
			}
		}
		for id := 1; id < n; id++ {
			if incoming[id] != nil {
				entry[id] = entry[id].Narrow(incoming[id])
			}
		}
	}
	return &Result{Entry: entry}
}

// successorState specializes a block's post-state for one outgoing edge. A
// conditional block's edge 0 is the taken branch and edge 1 is fallthrough
// (see cfg.Build); each gets its own narrowing of the shared post-block
// state, since "taken" and "not-taken" impose opposite constraints.
func successorState(g *cfg.Graph, block *cfg.Block, out *ebpf.State, edge int) (*ebpf.State, error) {
	if !block.IsConditional() {
		return out, nil
	}
	succState := out.Clone()
	last := g.Insns[block.End-1]
	if err := ebpf.StepJumpCondition(succState, last, edge == 0); err != nil {
		return nil, err
	}
	return succState, nil
}

// transferBlock runs every instruction in the block against a clone of in,
// returning the state just past the block's last instruction, before any
// conditional-jump narrowing (which is per-successor-edge, applied by the
// caller).
func transferBlock(g *cfg.Graph, id int, in *ebpf.State) (*ebpf.State, error) {
	s := in.Clone()
	block := g.Blocks[id]
	if s.IsBottom() {
		return s, nil
	}
	for i := block.Start; i < block.End; i++ {
		insn := g.Insns[i]
		if err := stepOne(s, i, insn); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// stepOne applies every instruction except a trailing conditional jump's
// guard, which carries no effect on the shared post-block state -- only on
// the per-edge narrowing done by the caller.
func stepOne(s *ebpf.State, idx int, insn ebpf.Insn) error {
	s.Mem.SetInsn(idx)
	switch insn.Class() {
	case ebpf.ClassAlu, ebpf.ClassAlu64:
		return ebpf.StepALU(s, idx, insn)
	case ebpf.ClassLd:
		if insn.Wide {
			ebpf.StepLoadImm64(s, insn)
		}
		return nil
	case ebpf.ClassLdx:
		if insn.SrcReg == ebpf.FramePointerReg {
			ebpf.StepMemStack(s, insn, true, false)
		} else {
			// Non-stack memory (map values, packet data, ...) is not
			// modeled by this domain: soundly forget the destination.
			s.Mem.ForgetVars([]numeric.Var{s.Reg[insn.DstReg]})
		}
		return nil
	case ebpf.ClassSt, ebpf.ClassStx:
		if insn.DstReg == ebpf.FramePointerReg {
			ebpf.StepMemStack(s, insn, false, true)
		}
		return nil
	case ebpf.ClassJmp, ebpf.ClassJmp32:
		field := insn.Op()
		if field != ebpf.JmpExit && field != ebpf.JmpCall && field != ebpf.JmpJa && field != ebpf.JmpJset {
			// handled per-edge by the caller
			return nil
		}
		return nil
	}
	return nil
}

// RunAll analyzes several independent functions concurrently and returns
// their results in input order.
func RunAll(ctx context.Context, graphs []*cfg.Graph, initStates []*ebpf.State) ([]*Result, error) {
	results := make([]*Result, len(graphs))
	g, _ := errgroup.WithContext(ctx)
	for i := range graphs {
		i := i
		g.Go(func() error {
			results[i] = Run(graphs[i], initStates[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
