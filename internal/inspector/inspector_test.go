package inspector

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"ebpfverify/internal/elfload"
	"ebpfverify/internal/vdiag"
	"ebpfverify/internal/verifier"
)

func TestPrintVerdictLineReportsPassAndFail(t *testing.T) {
	var buf bytes.Buffer
	PrintVerdictLine(&buf, verifier.SectionResult{
		Section:  "xdp",
		Verdict:  verifier.Accept,
		Blocks:   3,
		Duration: 2 * time.Millisecond,
	}, false)
	if !strings.Contains(buf.String(), "PASS") || !strings.Contains(buf.String(), "xdp") {
		t.Fatalf("expected a PASS line mentioning the section, got %q", buf.String())
	}

	buf.Reset()
	PrintVerdictLine(&buf, verifier.SectionResult{
		Section: "kprobe/foo",
		Verdict: verifier.Reject,
		Err:     vdiag.NewDomainError("unhandled op", "kprobe/foo", 4),
	}, false)
	out := buf.String()
	if !strings.Contains(out, "FAIL") {
		t.Fatalf("expected a FAIL line, got %q", out)
	}
	if !strings.Contains(out, "DomainError") {
		t.Fatalf("expected the verifier error to be rendered, got %q", out)
	}
}

func TestPrintObjectSummaryIncludesLicenseAndMaps(t *testing.T) {
	var buf bytes.Buffer
	obj := &elfload.Object{
		License:  "GPL",
		Programs: []elfload.Program{{Section: "xdp"}},
		Maps:     []elfload.MapSpec{{Name: "map0"}, {Name: "map1"}},
	}
	PrintObjectSummary(&buf, "prog.o", 2048, obj)
	out := buf.String()
	if !strings.Contains(out, "prog.o") || !strings.Contains(out, `"GPL"`) || !strings.Contains(out, "2 map(s)") {
		t.Fatalf("expected path, license and map count in the summary, got %q", out)
	}
}

func TestPrintMapsListsEveryDefinition(t *testing.T) {
	var buf bytes.Buffer
	PrintMaps(&buf, []elfload.MapSpec{
		{Name: "map0", Type: 2, KeySize: 4, ValueSize: 8, MaxEntries: 128},
	})
	out := buf.String()
	if !strings.Contains(out, "map0") || !strings.Contains(out, "max_entries=128") {
		t.Fatalf("expected the map definition to be listed, got %q", out)
	}

	buf.Reset()
	PrintMaps(&buf, nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output for an object with no maps, got %q", buf.String())
	}
}
