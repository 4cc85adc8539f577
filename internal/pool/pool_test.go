package pool

import (
	"testing"

	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/varmodel"
)

func encodeLE(words ...uint32) []byte {
	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = append(out, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return out
}

func newAppModel(t *testing.T, entries map[int]appmodel.PoolEntry) appmodel.AppModel {
	t.Helper()
	f := appmodel.NewFixture(appmodel.Config{})
	for off, e := range entries {
		f.AddPoolEntry(off, e)
	}
	return f
}

// newAppModelWithClasses is newAppModel plus a GetClass table, for pool
// entries that classify by class id rather than by PoolEntryKind alone.
func newAppModelWithClasses(t *testing.T, classes map[int]appmodel.Class, entries map[int]appmodel.PoolEntry) appmodel.AppModel {
	t.Helper()
	f := appmodel.NewFixture(appmodel.Config{})
	for id, c := range classes {
		f.AddClass(appmodel.Class{ID: id, Name: c.Name})
	}
	for off, e := range entries {
		f.AddPoolEntry(off, e)
	}
	return f
}

func TestResolveSingleLDR(t *testing.T) {
	// ldr x0, [x27, #16]
	insts := disasm.Disassemble(encodeLE(0xF9400B60), disasm.Options{})
	c := disasm.NewCursor(insts)
	app := newAppModelWithClasses(t,
		map[int]appmodel.Class{9: {Name: appmodel.ClassNameOneByteString}},
		map[int]appmodel.PoolEntry{
			16: {Kind: appmodel.PoolTaggedObject, ClassID: 9, StrVal: "hi"},
		})

	res, ok, err := Resolve(c, app)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if res.Consumed != 1 {
		t.Errorf("Consumed = %d, want 1", res.Consumed)
	}
	if res.Item.Value.Kind != varmodel.ValueString {
		t.Fatalf("Item.Value.Kind = %v, want ValueString", res.Item.Value.Kind)
	}
	if res.Item.Value.StrVal != "hi" {
		t.Errorf("Item.Value.StrVal = %q, want %q", res.Item.Value.StrVal, "hi")
	}
}

// TestClassifyTaggedObjectUnknownClassFallsBackToInstance covers a pool
// object whose class id resolves to a class outside the well-known set
// classify() switches on (e.g. an ordinary user-defined class): it must
// classify as a generic Instance carrying the class id, not an Expression.
func TestClassifyTaggedObjectUnknownClassFallsBackToInstance(t *testing.T) {
	// ldr x0, [x27, #16]
	insts := disasm.Disassemble(encodeLE(0xF9400B60), disasm.Options{})
	c := disasm.NewCursor(insts)
	app := newAppModelWithClasses(t,
		map[int]appmodel.Class{77: {Name: "MyUserClass"}},
		map[int]appmodel.PoolEntry{
			16: {Kind: appmodel.PoolTaggedObject, ClassID: 77},
		})

	res, ok, err := Resolve(c, app)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if res.Item.Value.Kind != varmodel.ValueInstance || res.Item.Value.ClassID != 77 {
		t.Errorf("Item.Value = %+v, want Instance(classId=77)", res.Item.Value)
	}
}

// TestClassifyTaggedObjectUnknownClassID covers a ClassID with no GetClass
// entry at all (a pool fixture that never registered the class); it must
// still classify rather than erroring, falling back to Instance.
func TestClassifyTaggedObjectUnknownClassID(t *testing.T) {
	// ldr x0, [x27, #16]
	insts := disasm.Disassemble(encodeLE(0xF9400B60), disasm.Options{})
	c := disasm.NewCursor(insts)
	app := newAppModel(t, map[int]appmodel.PoolEntry{
		16: {Kind: appmodel.PoolTaggedObject, ClassID: 999},
	})

	res, ok, err := Resolve(c, app)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if res.Item.Value.Kind != varmodel.ValueInstance || res.Item.Value.ClassID != 999 {
		t.Errorf("Item.Value = %+v, want Instance(classId=999)", res.Item.Value)
	}
}

func TestResolveAddHiLdrLo(t *testing.T) {
	// add x1, x27, #1, lsl #12 ; ldr x0, [x1, #0x20]
	insts := disasm.Disassemble(encodeLE(0x91400761, 0xF9401020), disasm.Options{})
	c := disasm.NewCursor(insts)
	offset := (1 << 12) + 0x20
	app := newAppModel(t, map[int]appmodel.PoolEntry{
		offset: {Kind: appmodel.PoolImmediate, ImmediateBits: 7},
	})

	res, ok, err := Resolve(c, app)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if res.Consumed != 2 {
		t.Errorf("Consumed = %d, want 2", res.Consumed)
	}
	if res.Item.Value.IntVal != 7 {
		t.Errorf("Item.Value.IntVal = %d, want 7", res.Item.Value.IntVal)
	}
}

func TestResolveMovzMovkLdr(t *testing.T) {
	// movz x2, #0x38 ; movk x2, #0x1, lsl #16 ; ldr x0, [x27, x2]
	offset := 0x38 | (1 << 16)
	movz := uint32(0xD2800000) | (uint32(offset&0xffff) << 5) | 2
	movk := uint32(0xF2A00000) | (uint32((offset>>16)&0xffff) << 5) | 2
	// ldr x0, [x27, x2] : LDR (register offset, 64-bit) base 0xF8606800 | Rm<<16 | Rn<<5 | Rt
	ldrReg := uint32(0xF8606800) | (uint32(2) << 16) | (uint32(27) << 5) | 0
	insts := disasm.Disassemble(encodeLE(movz, movk, ldrReg), disasm.Options{})
	c := disasm.NewCursor(insts)
	app := newAppModel(t, map[int]appmodel.PoolEntry{
		offset: {Kind: appmodel.PoolImmediate, ImmediateBits: 5},
	})

	res, ok, err := Resolve(c, app)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if res.Consumed != 3 {
		t.Errorf("Consumed = %d, want 3", res.Consumed)
	}
	if res.Item.Storage.Offset != offset {
		t.Errorf("Item.Storage.Offset = 0x%x, want 0x%x", res.Item.Storage.Offset, offset)
	}
	if res.Item.Value.IntVal != 5 {
		t.Errorf("Item.Value.IntVal = %d, want 5", res.Item.Value.IntVal)
	}
}

func TestResolveReturnsFalseWhenNoShapeMatches(t *testing.T) {
	// ret
	insts := disasm.Disassemble(encodeLE(0xD65F03C0), disasm.Options{})
	c := disasm.NewCursor(insts)
	_, ok, err := Resolve(c, newAppModel(t, nil))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ok {
		t.Error("Resolve() ok = true for a RET, want false")
	}
}

func TestClassifyRejectsNativeFunction(t *testing.T) {
	insts := disasm.Disassemble(encodeLE(0xF9400B60), disasm.Options{})
	c := disasm.NewCursor(insts)
	app := newAppModel(t, map[int]appmodel.PoolEntry{
		16: {Kind: appmodel.PoolNativeFunction, NativeFuncName: "PrintStub"},
	})

	_, _, err := Resolve(c, app)
	if err == nil {
		t.Fatal("Resolve() error = nil, want a FatalAnalysis for a native-function pool entry")
	}
	if _, ok := err.(*FatalAnalysis); !ok {
		t.Errorf("error = %T, want *FatalAnalysis", err)
	}
}
