package cellfactory

import (
	"testing"

	"ebpfverify/internal/offsetkey"
)

// Factory determinism: calling MakeCell twice with the same triple must
// yield the same scalar variable, index included.
func TestMakeCellIsDeterministic(t *testing.T) {
	f := New(0)
	a := f.MakeCell("stack", offsetkey.Offset(-8), 8, IntegerElement)
	b := f.MakeCell("stack", offsetkey.Offset(-8), 8, IntegerElement)

	if a.Scalar().Index != b.Scalar().Index {
		t.Fatalf("expected identical index, got %d vs %d", a.Scalar().Index, b.Scalar().Index)
	}
	if a.Scalar().Name != b.Scalar().Name {
		t.Fatalf("expected identical name, got %q vs %q", a.Scalar().Name, b.Scalar().Name)
	}
}

func TestMakeCellDistinguishesTriples(t *testing.T) {
	f := New(0)
	a := f.MakeCell("stack", offsetkey.Offset(0), 4, IntegerElement)
	b := f.MakeCell("stack", offsetkey.Offset(4), 4, IntegerElement)
	c := f.MakeCell("heap", offsetkey.Offset(0), 4, IntegerElement)

	if a.Scalar().Index == b.Scalar().Index {
		t.Fatal("distinct offsets must get distinct indices")
	}
	if a.Scalar().Index == c.Scalar().Index {
		t.Fatal("distinct arrays must get distinct indices")
	}
}

func TestElementKindDerivesTypeAndBitwidth(t *testing.T) {
	f := New(0)
	boolCell := f.MakeCell("flags", offsetkey.Offset(0), 1, BoolElement)
	if boolCell.Scalar().Bitwidth != 1 {
		t.Fatalf("bool elements must be 1 bit wide, got %d", boolCell.Scalar().Bitwidth)
	}
	intCell := f.MakeCell("regs", offsetkey.Offset(0), 4, IntegerElement)
	if intCell.Scalar().Bitwidth != 32 {
		t.Fatalf("a 4-byte integer cell must be 32 bits wide, got %d", intCell.Scalar().Bitwidth)
	}
}

func TestLookupMissesBeforeCreation(t *testing.T) {
	f := New(0)
	if _, ok := f.Lookup("stack", offsetkey.Offset(0), 4); ok {
		t.Fatal("lookup must miss before MakeCell has ever been called for this triple")
	}
	created := f.MakeCell("stack", offsetkey.Offset(0), 4, IntegerElement)
	found, ok := f.Lookup("stack", offsetkey.Offset(0), 4)
	if !ok || !found.Equal(created) {
		t.Fatal("lookup must find a previously created cell")
	}
}

func TestResetRestartsFromSeed(t *testing.T) {
	f := New(100)
	first := f.MakeCell("a", offsetkey.Offset(0), 4, IntegerElement)
	if first.Scalar().Index != 100 {
		t.Fatalf("expected first index to equal seed 100, got %d", first.Scalar().Index)
	}
	f.Reset(100)
	second := f.MakeCell("a", offsetkey.Offset(0), 4, IntegerElement)
	if second.Scalar().Index != 100 {
		t.Fatalf("expected index to restart at seed after Reset, got %d", second.Scalar().Index)
	}
}
