package vdiag

import "testing"

func TestVerifierErrorRendersLocationAndCaret(t *testing.T) {
	err := NewDecodeError("truncated wide load", "xdp/ingress", 40, 5).WithDisasm("lddw r0, ...")
	msg := err.Error()
	if !contains(msg, "DecodeError: truncated wide load") {
		t.Fatalf("missing kind/message in: %s", msg)
	}
	if !contains(msg, "xdp/ingress+0x28") {
		t.Fatalf("missing location in: %s", msg)
	}
	if !contains(msg, "^") {
		t.Fatalf("missing caret in: %s", msg)
	}
}

func TestVerifierErrorRendersCallStack(t *testing.T) {
	err := NewHelperErrorForTest().AddFrame("bpf_map_lookup_elem", "xdp/ingress", 12)
	msg := err.Error()
	if !contains(msg, "Call Stack:") || !contains(msg, "bpf_map_lookup_elem") {
		t.Fatalf("expected a rendered call stack, got: %s", msg)
	}
}

// NewHelperErrorForTest avoids exporting a constructor with a stutter name
// clash; HelperError itself is only ever constructed inline where needed.
func NewHelperErrorForTest() *VerifierError {
	return &VerifierError{Kind: HelperError, Message: "unknown helper id", Location: Location{Section: "xdp/ingress", InsnIndex: 12}}
}

func TestSinkAccumulatesBySeverity(t *testing.T) {
	s := NewSink()
	s.Warningf("xdp/ingress", 3, "Overlap", "store at offset %d kills %d cells", 0, 2)
	s.Imprecisef("xdp/ingress", 4, "NonConstIndex", "index not constant, forgetting array")
	s.Unsupportedf("xdp/ingress", 5, "Atomic", "BPF_XADD not modeled")

	if s.Len() != 3 {
		t.Fatalf("expected 3 diagnostics, got %d", s.Len())
	}
	if !s.HasUnsupported() {
		t.Fatal("expected HasUnsupported to be true")
	}
	items := s.Items()
	if items[0].Severity != SeverityWarning || items[1].Severity != SeverityImprecision || items[2].Severity != SeverityUnsupported {
		t.Fatalf("unexpected severities: %+v", items)
	}
}

func TestSinkWithNoUnsupportedReportsFalse(t *testing.T) {
	s := NewSink()
	s.Warningf("xdp/ingress", 0, "Overlap", "benign")
	if s.HasUnsupported() {
		t.Fatal("expected HasUnsupported to be false")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
