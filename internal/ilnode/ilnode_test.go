package ilnode

import "testing"

func TestAddrRangeContains(t *testing.T) {
	r := AddrRange{Start: 0x100, End: 0x110}
	tests := []struct {
		addr uint64
		want bool
	}{
		{0x0ff, false},
		{0x100, true},
		{0x108, true},
		{0x10f, true},
		{0x110, false},
	}
	for _, tt := range tests {
		if got := r.Contains(tt.addr); got != tt.want {
			t.Errorf("Contains(0x%x) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestArrayOpSizeLog2(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{1, 0},
		{2, 1},
		{4, 2},
		{8, 3},
		{3, -1},
	}
	for _, tt := range tests {
		op := ArrayOp{Size: tt.size}
		if got := op.SizeLog2(); got != tt.want {
			t.Errorf("SizeLog2() for size %d = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestKindStringKnownAndUnknown(t *testing.T) {
	if got := KindCall.String(); got != "Call" {
		t.Errorf("KindCall.String() = %q, want %q", got, "Call")
	}
	if got := Kind(9999).String(); got != "Unknown" {
		t.Errorf("Kind(9999).String() = %q, want %q", got, "Unknown")
	}
}

func TestListAppendLastAndLastK(t *testing.T) {
	l := NewList()
	if _, ok := l.Last(); ok {
		t.Fatal("Last() on empty list returned ok=true")
	}
	l.Append(Node{Kind: KindEnterFrame, Range: AddrRange{Start: 0, End: 4}})
	l.Append(Node{Kind: KindAllocateStack, Range: AddrRange{Start: 4, End: 8}})
	l.Append(Node{Kind: KindReturn, Range: AddrRange{Start: 8, End: 12}})

	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	last, ok := l.Last()
	if !ok || last.Kind != KindReturn {
		t.Fatalf("Last() = %v, %v, want KindReturn, true", last.Kind, ok)
	}
	k, ok := l.LastK(2)
	if !ok || len(k) != 2 || k[0].Kind != KindAllocateStack || k[1].Kind != KindReturn {
		t.Fatalf("LastK(2) = %v, %v", k, ok)
	}
	if _, ok := l.LastK(10); ok {
		t.Error("LastK(10) on a 3-element list returned ok=true")
	}
}

func TestListFuseLast(t *testing.T) {
	l := NewList()
	l.Append(Node{Kind: KindLoadValue, Range: AddrRange{Start: 0, End: 4}})
	l.Append(Node{Kind: KindBranchIfSmi, Range: AddrRange{Start: 4, End: 8}})
	l.Append(Node{Kind: KindLoadClassId, Range: AddrRange{Start: 8, End: 12}})

	composite := Node{Kind: KindLoadTaggedClassIdMayBeSmi, Range: AddrRange{Start: 0, End: 16}}
	l.FuseLast(3, composite)

	if l.Len() != 1 {
		t.Fatalf("Len() after FuseLast = %d, want 1", l.Len())
	}
	got, _ := l.Last()
	if got.Kind != KindLoadTaggedClassIdMayBeSmi {
		t.Errorf("Last().Kind = %v, want KindLoadTaggedClassIdMayBeSmi", got.Kind)
	}
}

func TestListFuseLastPanicsWhenTooShort(t *testing.T) {
	l := NewList()
	l.Append(Node{Kind: KindReturn})
	defer func() {
		if r := recover(); r == nil {
			t.Error("FuseLast(3) on a 1-element list did not panic")
		}
	}()
	l.FuseLast(3, Node{})
}

func TestListRemoveLast(t *testing.T) {
	l := NewList()
	l.Append(Node{Kind: KindLoadImm, Imm: 5})
	n, ok := l.RemoveLast()
	if !ok || n.Imm != 5 {
		t.Fatalf("RemoveLast() = %v, %v, want Imm=5, true", n, ok)
	}
	if l.Len() != 0 {
		t.Errorf("Len() after RemoveLast = %d, want 0", l.Len())
	}
	if _, ok := l.RemoveLast(); ok {
		t.Error("RemoveLast() on empty list returned ok=true")
	}
}
