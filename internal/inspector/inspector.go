// Package inspector renders the abstract state the verifier computed for a
// program section -- the OffsetMap/Interval tables a user asks to see with
// `ebpfverify debug` -- plus the CLI's verdict and summary lines: kr/pretty
// for struct dumps instead of a hand-rolled recursive printer, go-humanize
// for human-scaled sizes and durations, and go-isatty to decide whether
// ANSI severity coloring is worth emitting.
package inspector

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kr/pretty"
	"github.com/mattn/go-isatty"

	"ebpfverify/internal/cfg"
	"ebpfverify/internal/ebpf"
	"ebpfverify/internal/elfload"
	"ebpfverify/internal/vdiag"
	"ebpfverify/internal/verifier"
)

// ColorEnabled reports whether w is a terminal that should receive ANSI
// severity coloring; piped output gets plain text.
func ColorEnabled(w *os.File) bool {
	return isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())
}

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorGreen  = "\x1b[32m"
)

func severityColor(sev vdiag.Severity) string {
	switch sev {
	case vdiag.SeverityUnsupported:
		return colorRed
	case vdiag.SeverityImprecision:
		return colorYellow
	default:
		return colorYellow
	}
}

// PrintVerdictLine writes one PASS/FAIL summary line for a section's
// result: verdict, block count, elapsed time, diagnostic count.
func PrintVerdictLine(w io.Writer, r verifier.SectionResult, color bool) {
	verdictWord := "PASS"
	verdictColor := colorGreen
	if r.Verdict != verifier.Accept {
		verdictWord = "FAIL"
		verdictColor = colorRed
	}
	elapsed := humanizedDuration(r.Duration)
	if color {
		fmt.Fprintf(w, "%s%-4s%s %-40s %3d blocks  %8s  %d diagnostics\n",
			verdictColor, verdictWord, colorReset, r.Section, r.Blocks, elapsed, len(r.Diagnostics))
	} else {
		fmt.Fprintf(w, "%-4s %-40s %3d blocks  %8s  %d diagnostics\n",
			verdictWord, r.Section, r.Blocks, elapsed, len(r.Diagnostics))
	}
	if r.Err != nil {
		fmt.Fprint(w, r.Err.Error())
	}
	for _, d := range r.Diagnostics {
		if color {
			fmt.Fprintf(w, "  %s%s%s\n", severityColor(d.Severity), d.String(), colorReset)
		} else {
			fmt.Fprintf(w, "  %s\n", d.String())
		}
	}
}

// humanizedDuration renders d the way humanize.RelTime scales a time
// difference into words, by treating d as the gap between two instants.
// Both RelTime labels are passed empty, so no "ago" is added, and the
// trailing space that leaves behind is trimmed ("3 seconds", not
// "3 seconds ").
func humanizedDuration(d time.Duration) string {
	now := time.Now()
	rel := humanize.RelTime(now.Add(-d), now, "", "")
	const suffix = " "
	if len(rel) > len(suffix) && rel[len(rel)-len(suffix):] == suffix {
		rel = rel[:len(rel)-len(suffix)]
	}
	return rel
}

// PrintObjectSummary reports what the CLI's `check` command knows about the
// loaded object before verifying it: humanized byte count, section and map
// counts, and the license the object declares.
func PrintObjectSummary(w io.Writer, path string, size int64, obj *elfload.Object) {
	fmt.Fprintf(w, "%s: %s, %d program section(s), %d map(s), license %q\n",
		path, humanize.Bytes(uint64(size)), len(obj.Programs), len(obj.Maps), obj.License)
}

// PrintMaps lists the object's map definitions, one line per map, for the
// disasm command.
func PrintMaps(w io.Writer, maps []elfload.MapSpec) {
	if len(maps) == 0 {
		return
	}
	fmt.Fprintln(w, "maps:")
	for _, m := range maps {
		fmt.Fprintf(w, "  %-8s type=%d key=%dB value=%dB max_entries=%d flags=0x%x\n",
			m.Name, m.Type, m.KeySize, m.ValueSize, m.MaxEntries, m.Flags)
	}
}

// DumpStates pretty-prints the entry abstract state of every block in g
// using kr/pretty rather than a bespoke formatter for each type.
func DumpStates(w io.Writer, g *cfg.Graph, states []*ebpf.State) {
	for _, b := range g.Blocks {
		fmt.Fprintf(w, "block %d [%d,%d):\n", b.ID, b.Start, b.End)
		fmt.Fprintf(w, "%# v\n", pretty.Formatter(newSnapshot(states[b.ID])))
	}
}

// snapshot is a plain struct mirroring the interesting parts of an
// ebpf.State -- kr/pretty formats unexported-field structs fine, but a
// small exported view keeps the dump readable instead of spilling the
// arrayexpansion.Domain's internal maps verbatim.
type snapshot struct {
	Bottom bool
	Regs   string
	Mem    string
}

func newSnapshot(s *ebpf.State) snapshot {
	return snapshot{
		Bottom: s.IsBottom(),
		Regs:   regString(s),
		Mem:    s.Mem.String(),
	}
}

func regString(s *ebpf.State) string {
	out := ""
	for i, r := range s.Reg {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%s", r.Name, s.Mem.GetContentDomain().Get(r))
	}
	return out
}
