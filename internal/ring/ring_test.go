package ring

import (
	"testing"

	"github.com/sigblips/sonata-channelizer/internal/wire"
)

func TestReserveWriteAdvanceLast(t *testing.T) {
	r := New(16)
	v, err := r.ReserveWrite(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Len() != 10 {
		t.Fatalf("view len = %d, want 10", v.Len())
	}
	for i := range v.A {
		v.A[i] = wire.Sample{I: int8(i), Q: int8(i)}
	}
	r.AdvanceLast(10)
	if r.Last() != 10 {
		t.Fatalf("last = %d, want 10", r.Last())
	}
	if !r.CheckInvariants() {
		t.Fatalf("invariants violated: %s", r.Diagnose())
	}
}

func TestReserveWriteWraps(t *testing.T) {
	r := New(8)
	if _, err := r.ReserveWrite(8); err != nil {
		t.Fatalf("fill: %v", err)
	}
	r.AdvanceLast(8)
	r.AdvanceNext(4)
	r.AdvanceDone(4)
	r.AdvanceFirst(4)

	v, err := r.ReserveWrite(4)
	if err != nil {
		t.Fatalf("wrapping reserve: %v", err)
	}
	if v.Len() != 4 {
		t.Fatalf("view len = %d, want 4", v.Len())
	}
	// last=8 maps to physical offset 0, so the whole reservation is one
	// contiguous run at the start of storage and lands in A.
	if len(v.A) != 4 || len(v.B) != 0 {
		t.Fatalf("expected the wrapped write to land wholly in A, got A=%d B=%d", len(v.A), len(v.B))
	}
}

func TestReserveWriteExhausted(t *testing.T) {
	r := New(4)
	if _, err := r.ReserveWrite(4); err != nil {
		t.Fatalf("fill: %v", err)
	}
	r.AdvanceLast(4)
	if _, err := r.ReserveWrite(1); err != ErrNoBufferSpace {
		t.Fatalf("expected ErrNoBufferSpace, got %v", err)
	}
}

func TestReadSliceShortensAtWrap(t *testing.T) {
	r := New(8)
	r.AdvanceLast(8)
	s := r.ReadSlice(6, 4)
	if len(s) != 2 {
		t.Fatalf("len = %d, want 2 (should stop at the physical wrap point)", len(s))
	}
	rest := r.ReadSlice(8, 2)
	if len(rest) != 2 {
		t.Fatalf("remainder len = %d, want 2", len(rest))
	}
}

func TestCheckInvariants(t *testing.T) {
	r := New(16)
	r.AdvanceLast(10)
	r.AdvanceNext(5)
	r.AdvanceDone(3)
	if !r.CheckInvariants() {
		t.Fatalf("expected invariants to hold: %s", r.Diagnose())
	}
	r.AdvanceDone(20)
	if r.CheckInvariants() {
		t.Fatalf("expected invariants to fail once done > next")
	}
}

func TestResetZeroesCursors(t *testing.T) {
	r := New(16)
	r.AdvanceLast(10)
	r.AdvanceNext(5)
	r.AdvanceDone(3)
	r.Reset()
	if r.First() != 0 || r.Last() != 0 || r.Next() != 0 || r.Done() != 0 {
		t.Fatalf("expected all cursors zero after Reset, got %s", r.Diagnose())
	}
}
