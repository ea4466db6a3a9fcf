// Package verifier wires the independent pieces (ELF loading, eBPF
// decoding, CFG construction, the array-expansion fixpoint) into the one
// operation the rest of the repo actually calls: verify every program
// section in an object file and return a verdict plus diagnostics for
// each. Printing is left to cmd/ebpfverify.
package verifier

import (
	"context"
	"fmt"
	"time"

	"ebpfverify/internal/arrayexpansion"
	"ebpfverify/internal/cellfactory"
	"ebpfverify/internal/cfg"
	"ebpfverify/internal/ebpf"
	"ebpfverify/internal/elfload"
	"ebpfverify/internal/fixpoint"
	"ebpfverify/internal/interval"
	"ebpfverify/internal/vdiag"
)

// Verdict is the per-section outcome, mirroring internal/history.Verdict
// (kept as a distinct type: the verifier has no business knowing how its
// result gets persisted).
type Verdict string

const (
	Accept Verdict = "accept"
	Reject Verdict = "reject"
)

// SectionResult is everything known about one verified program section.
type SectionResult struct {
	Section     string
	Verdict     Verdict
	Blocks      int
	Diagnostics []vdiag.Diagnostic
	Err         *vdiag.VerifierError
	Duration    time.Duration
	// FinalStates holds the entry state of every block, kept around only
	// for the debug/inspect command; nil unless KeepStates is set on the
	// Options that produced this result.
	FinalStates []*ebpf.State
	Graph       *cfg.Graph
}

// Progress is one fixpoint milestone, emitted through Options.OnProgress if
// set -- the hook internal/progress streams to connected clients.
type Progress struct {
	Section string
	Block   int
	Total   int
}

// Options configures one verification run.
type Options struct {
	// MaxRangeElems bounds range-store unrolling (default 512, enforced
	// inside internal/arrayexpansion; this field exists so the CLI can
	// surface it, though the current build does not thread a smaller
	// override through).
	MaxRangeElems int
	KeepStates    bool
	OnProgress    func(Progress)
}

// VerifyObject verifies every program section of obj and returns one result
// per section, in the object's section order.
func VerifyObject(ctx context.Context, obj *elfload.Object, opts Options) []SectionResult {
	out := make([]SectionResult, len(obj.Programs))
	for i, prog := range obj.Programs {
		out[i] = verifySection(prog, opts)
		if ctx.Err() != nil {
			break
		}
	}
	return out
}

func verifySection(prog elfload.Program, opts Options) SectionResult {
	start := time.Now()
	res := SectionResult{Section: prog.Section}

	insns, err := ebpf.Decode(prog.Raw)
	if err != nil {
		res.Verdict = Reject
		res.Err = vdiag.NewDecodeError(err.Error(), prog.Section, 0, 0)
		res.Duration = time.Since(start)
		return res
	}

	g, err := cfg.Build(insns)
	if err != nil {
		res.Verdict = Reject
		res.Err = vdiag.NewCFGError(err.Error(), prog.Section, 0)
		res.Duration = time.Since(start)
		return res
	}
	res.Blocks = len(g.Blocks)
	res.Graph = g

	mem := arrayexpansion.New(interval.NewTop(), cellfactory.New(0))
	sink := vdiag.NewSink()
	mem.SetWarn(func(insn int, severity, kind, message string) {
		switch severity {
		case "unsupported":
			sink.Unsupportedf(prog.Section, insn, kind, "%s", message)
		default:
			sink.Imprecisef(prog.Section, insn, kind, "%s", message)
		}
	})
	init := ebpf.NewState(mem)

	if opts.OnProgress != nil {
		opts.OnProgress(Progress{Section: prog.Section, Block: 0, Total: len(g.Blocks)})
	}

	fr := runFixpoint(g, init)
	res.Diagnostics = append(res.Diagnostics, sink.Items()...)
	if fr.Err != nil {
		res.Verdict = Reject
		res.Err = vdiag.NewDomainError(fr.Err.Error(), prog.Section, 0)
		res.Duration = time.Since(start)
		return res
	}

	if opts.OnProgress != nil {
		opts.OnProgress(Progress{Section: prog.Section, Block: len(g.Blocks), Total: len(g.Blocks)})
	}

	res.Verdict = Accept
	for _, id := range unreachableExits(fr) {
		res.Diagnostics = append(res.Diagnostics, vdiag.Diagnostic{
			Severity: vdiag.SeverityImprecision,
			Kind:     "UnreachableBlock",
			Message:  fmt.Sprintf("block %d is unreachable (entry state is bottom)", id),
			Section:  prog.Section,
			Insn:     g.Blocks[id].Start,
		})
	}
	if opts.KeepStates {
		res.FinalStates = fr.Entry
	}
	res.Duration = time.Since(start)
	return res
}

// runFixpoint runs the fixpoint, converting a domain panic (a programming
// error such as a non-constant element size reaching an array operation)
// into an ordinary rejection of the offending section instead of taking
// down the whole process.
func runFixpoint(g *cfg.Graph, init *ebpf.State) (fr *fixpoint.Result) {
	defer func() {
		if r := recover(); r != nil {
			fr = &fixpoint.Result{Err: fmt.Errorf("%v", r)}
		}
	}()
	return fixpoint.Run(g, init)
}

// unreachableExits reports blocks whose fixpoint entry state is bottom --
// not a rejection (dead code is sound, just imprecise to leave unflagged),
// surfaced as an imprecision diagnostic the way an overlapping read is.
func unreachableExits(fr *fixpoint.Result) []int {
	var out []int
	for i, s := range fr.Entry {
		if s.IsBottom() {
			out = append(out, i)
		}
	}
	return out
}
