package varmodel

import (
	"testing"

	"github.com/dartlift/lifter/internal/reg"
)

func TestNewLocal(t *testing.T) {
	tests := []struct {
		name      string
		negOffset int
		wordSize  int
		wantSlot  int
	}{
		{"slot0", -8, 8, 0},
		{"slot1", -16, 8, 1},
		{"slot3", -32, 8, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewLocal(tt.negOffset, tt.wordSize)
			if s.Kind != StorageLocal {
				t.Fatalf("Kind = %v, want StorageLocal", s.Kind)
			}
			if s.LocalSlot != tt.wantSlot {
				t.Errorf("LocalSlot = %d, want %d", s.LocalSlot, tt.wantSlot)
			}
		})
	}
}

func TestVarStorageString(t *testing.T) {
	tests := []struct {
		name string
		s    VarStorage
		want string
	}{
		{"register", NewRegister(reg.General(2)), "x2"},
		{"local", NewLocalSlot(1), "local[1]"},
		{"argument", NewArgument(3), "arg[3]"},
		{"static", NewStatic(0x18), "static+0x18"},
		{"pool", NewPool(0x40), "pool+0x40"},
		{"thread", NewThread(0x8), "thread+0x8"},
		{"smallimm", NewSmallImm(7), "#7"},
		{"immediate", NewImmediate(42), "imm(42)"},
		{"call", NewCall(), "call-result"},
		{"uninit", NewUninit(), "uninit"},
		{"ininstr", NewInInstruction(), "in-instruction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVarValueString(t *testing.T) {
	tests := []struct {
		name string
		v    VarValue
		want string
	}{
		{"null", Null(), "null"},
		{"boolTrue", Boolean(true), "true"},
		{"integerSmi", Integer(IntSmi, 5), "5<smi>"},
		{"integerNative", Integer(IntNative, -1), "-1<native>"},
		{"double", Double(1.5), "1.5"},
		{"string", String("hi"), `"hi"`},
		{"stub", Stub(0x1000, "Foo"), "stub(Foo@0x1000)"},
		{"field", Field("_x"), "field(_x)"},
		{"expression", Expression("SomeExpr", -1), "SomeExpr"},
		{"sentinel", Sentinel(), "<sentinel>"},
		{"classIdTagged", ClassIDValue(42, true), "cid(tagged=42)"},
		{"classIdRaw", ClassIDValue(42, false), "cid(42)"},
		{"instance", Instance(7), "instance(cid=7)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVarItemString(t *testing.T) {
	item := NewItem(NewRegister(reg.General(0)), Integer(IntSmi, 3))
	want := "x0 = 3<smi>"
	if got := item.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
