package verifier

import (
	"context"
	"testing"

	"ebpfverify/internal/elfload"
)

// insn encodes one 8-byte eBPF instruction, little-endian, matching
// internal/ebpf.Decode's layout.
func insn(opcode, dst, src byte, off int16, imm int32) []byte {
	b := make([]byte, 8)
	b[0] = opcode
	b[1] = (src << 4) | (dst & 0x0f)
	b[2] = byte(uint16(off))
	b[3] = byte(uint16(off) >> 8)
	u := uint32(imm)
	b[4] = byte(u)
	b[5] = byte(u >> 8)
	b[6] = byte(u >> 16)
	b[7] = byte(u >> 24)
	return b
}

func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

const (
	opMovImm64 = 0xb7 // BPF_ALU64 | BPF_MOV | BPF_K
	opAddReg64 = 0x0f // BPF_ALU64 | BPF_ADD | BPF_X
	opExit     = 0x95 // BPF_JMP | BPF_EXIT
)

func TestVerifyObjectAcceptsStraightLineProgram(t *testing.T) {
	raw := concat(
		insn(opMovImm64, 1, 0, 0, 3),
		insn(opMovImm64, 2, 0, 0, 4),
		insn(opAddReg64, 1, 2, 0, 0),
		insn(opExit, 0, 0, 0, 0),
	)
	obj := &elfload.Object{Programs: []elfload.Program{{Section: "xdp", Raw: raw}}}

	results := VerifyObject(context.Background(), obj, Options{})
	if len(results) != 1 {
		t.Fatalf("expected 1 section result, got %d", len(results))
	}
	r := results[0]
	if r.Verdict != Accept {
		t.Fatalf("expected Accept, got %s (err=%v)", r.Verdict, r.Err)
	}
	if r.Blocks != 1 {
		t.Fatalf("expected 1 block for a straight-line program, got %d", r.Blocks)
	}
}

func TestVerifyObjectRejectsBadDecode(t *testing.T) {
	obj := &elfload.Object{Programs: []elfload.Program{{Section: "xdp", Raw: []byte{1, 2, 3}}}}
	results := VerifyObject(context.Background(), obj, Options{})
	if results[0].Verdict != Reject {
		t.Fatalf("expected Reject for a misaligned instruction stream, got %s", results[0].Verdict)
	}
	if results[0].Err == nil {
		t.Fatal("expected a VerifierError to be attached")
	}
}

func TestVerifyObjectKeepStates(t *testing.T) {
	raw := concat(insn(opMovImm64, 0, 0, 0, 1), insn(opExit, 0, 0, 0, 0))
	obj := &elfload.Object{Programs: []elfload.Program{{Section: "xdp", Raw: raw}}}

	without := VerifyObject(context.Background(), obj, Options{})
	if without[0].FinalStates != nil {
		t.Fatal("expected FinalStates to be nil when KeepStates is false")
	}

	with := VerifyObject(context.Background(), obj, Options{KeepStates: true})
	if with[0].FinalStates == nil {
		t.Fatal("expected FinalStates to be populated when KeepStates is true")
	}
}

func TestVerifyObjectReportsProgress(t *testing.T) {
	raw := concat(insn(opMovImm64, 0, 0, 0, 1), insn(opExit, 0, 0, 0, 0))
	obj := &elfload.Object{Programs: []elfload.Program{{Section: "xdp", Raw: raw}}}

	var seen []Progress
	opts := Options{OnProgress: func(p Progress) { seen = append(seen, p) }}
	VerifyObject(context.Background(), obj, opts)
	if len(seen) < 2 {
		t.Fatalf("expected at least a start and end progress event, got %d", len(seen))
	}
}
