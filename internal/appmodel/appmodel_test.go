package appmodel

import (
	"testing"
)

func newTestFixture() *Fixture {
	return NewFixture(Config{
		DartIntCid:   42,
		ThreadFields: map[int]string{0x10: "stack_limit"},
	})
}

func TestFixturePoolEntry(t *testing.T) {
	f := newTestFixture()
	f.AddPoolEntry(0x20, PoolEntry{Kind: PoolTaggedObject, ClassID: 9, StrVal: "hi"})

	got, ok := f.GetPoolEntry(0x20)
	if !ok {
		t.Fatal("GetPoolEntry(0x20) not found")
	}
	if got.StrVal != "hi" {
		t.Errorf("StrVal = %q, want %q", got.StrVal, "hi")
	}
	if _, ok := f.GetPoolEntry(0x30); ok {
		t.Error("GetPoolEntry(0x30) found an entry that was never added")
	}
}

func TestFixtureConfigAccessors(t *testing.T) {
	f := newTestFixture()
	if got := f.DartIntCid(); got != 42 {
		t.Errorf("DartIntCid() = %d, want 42", got)
	}
	name, ok := f.ThreadFieldName(0x10)
	if !ok || name != "stack_limit" {
		t.Errorf("ThreadFieldName(0x10) = %q, %v, want %q, true", name, ok, "stack_limit")
	}
	if _, ok := f.ThreadFieldName(0x99); ok {
		t.Error("ThreadFieldName(0x99) resolved an offset that was never configured")
	}
}

func TestFixtureGetFunctionDirect(t *testing.T) {
	f := newTestFixture()
	f.AddFunction(Function{Name: "main", Kind: FunctionUser, EntryAddr: 0x1000, CodeSize: 16})

	got, ok := f.GetFunction(0x1000)
	if !ok || got.Name != "main" {
		t.Fatalf("GetFunction(0x1000) = %v, %v, want name=main, true", got, ok)
	}
	if _, ok := f.GetFunction(0x2000); ok {
		t.Error("GetFunction(0x2000) found a function that was never added")
	}
}

func TestFixtureGetFunctionSplitsEnclosingStub(t *testing.T) {
	f := newTestFixture()
	f.AddFunction(Function{Name: "AllocateStub", Kind: FunctionStub, EntryAddr: 0x2000, CodeSize: 0x100})

	got, ok := f.GetFunction(0x2040)
	if !ok {
		t.Fatal("GetFunction(0x2040) did not split the enclosing stub")
	}
	if got.EntryAddr != 0x2040 {
		t.Errorf("split stub EntryAddr = 0x%x, want 0x2040", got.EntryAddr)
	}
	if got.Name != "AllocateStub+0x40" {
		t.Errorf("split stub Name = %q, want %q", got.Name, "AllocateStub+0x40")
	}

	original, ok := f.GetFunction(0x2000)
	if !ok {
		t.Fatal("original stub no longer resolvable after split")
	}
	if original.CodeSize != 0x40 {
		t.Errorf("original stub CodeSize after split = 0x%x, want 0x40", original.CodeSize)
	}
}

func TestFixtureSplitStubAtNoEnclosingStub(t *testing.T) {
	f := newTestFixture()
	if _, err := f.SplitStubAt(0x5000); err == nil {
		t.Error("SplitStubAt with no enclosing stub returned nil error")
	}
}

func TestFixtureTypeDbDedups(t *testing.T) {
	f := newTestFixture()
	db := f.TypeDb()
	a := db.FindOrAdd(0x1, "int")
	b := db.FindOrAdd(0x1, "int")
	if a != b {
		t.Errorf("FindOrAdd with the same key returned distinct values: %v != %v", a, b)
	}
	c := db.FindOrAdd(0x2, "String")
	if c.Name != "String" {
		t.Errorf("FindOrAdd(0x2, String).Name = %q, want %q", c.Name, "String")
	}
}

func TestLoadJSON(t *testing.T) {
	doc := `{
		"config": {"dartIntCid": 7, "threadFields": {"16": "stack_limit"}},
		"pool": [
			{"offset": 8, "kind": "immediate", "bits": 99},
			{"offset": 16, "kind": "object", "classId": 9, "strVal": "hi"},
			{"offset": 24, "kind": "native", "value": "PrintStub"}
		],
		"functions": [
			{"name": "main", "kind": "user", "addr": 4096, "size": 64},
			{"name": "Stub", "kind": "stub", "addr": 8192, "size": 128}
		],
		"classes": [{"id": 5, "name": "_Closure"}, {"id": 9, "name": "_OneByteString"}],
		"libraries": [
			{
				"uri": "package:app/main.dart",
				"internal": false,
				"classes": [
					{"id": 10, "name": "Widget", "functions": [
						{"name": "build", "kind": "user", "addr": 12288, "size": 32}
					]}
				]
			},
			{"uri": "dart:core", "internal": true, "classes": []}
		]
	}`
	f, err := LoadJSON([]byte(doc))
	if err != nil {
		t.Fatalf("LoadJSON() error = %v", err)
	}
	if f.DartIntCid() != 7 {
		t.Errorf("DartIntCid() = %d, want 7", f.DartIntCid())
	}
	if name, ok := f.ThreadFieldName(16); !ok || name != "stack_limit" {
		t.Errorf("ThreadFieldName(16) = %q, %v", name, ok)
	}

	immEntry, ok := f.GetPoolEntry(8)
	if !ok || immEntry.Kind != PoolImmediate || immEntry.ImmediateBits != 99 {
		t.Errorf("pool[8] = %+v, %v, want immediate bits=99", immEntry, ok)
	}
	objEntry, ok := f.GetPoolEntry(16)
	if !ok || objEntry.Kind != PoolTaggedObject || objEntry.ClassID != 9 || objEntry.StrVal != "hi" {
		t.Errorf("pool[16] = %+v, %v, want tagged object classId=9 strVal=\"hi\"", objEntry, ok)
	}
	nativeEntry, ok := f.GetPoolEntry(24)
	if !ok || nativeEntry.Kind != PoolNativeFunction || nativeEntry.NativeFuncName != "PrintStub" {
		t.Errorf("pool[24] = %+v, %v, want native PrintStub", nativeEntry, ok)
	}

	fn, ok := f.GetFunction(4096)
	if !ok || fn.Name != "main" || fn.Kind != FunctionUser {
		t.Errorf("GetFunction(4096) = %+v, %v", fn, ok)
	}
	stub, ok := f.GetFunction(8192)
	if !ok || stub.Kind != FunctionStub {
		t.Errorf("GetFunction(8192) = %+v, %v, want a stub", stub, ok)
	}

	cls, ok := f.GetClass(5)
	if !ok || cls.Name != "_Closure" {
		t.Errorf("GetClass(5) = %+v, %v", cls, ok)
	}

	libs := f.Libraries()
	if len(libs) != 2 {
		t.Fatalf("Libraries() returned %d entries, want 2", len(libs))
	}
	if libs[0].Internal {
		t.Error("libs[0].Internal = true, want false (package:app/main.dart)")
	}
	if len(libs[0].Classes) != 1 || libs[0].Classes[0].Name != "Widget" {
		t.Fatalf("libs[0].Classes = %+v, want one Widget class", libs[0].Classes)
	}
	if fns := libs[0].Classes[0].Functions; len(fns) != 1 || fns[0].Name != "build" || fns[0].EntryAddr != 12288 {
		t.Errorf("libs[0].Classes[0].Functions = %+v, want one build@12288", fns)
	}
	if !libs[1].Internal || libs[1].URI != "dart:core" {
		t.Errorf("libs[1] = %+v, want internal dart:core", libs[1])
	}
	// Functions declared under a library's classes must also be reachable
	// through the flat GetFunction index, same as top-level "functions".
	if _, ok := f.GetFunction(12288); !ok {
		t.Error("GetFunction(12288) not found; library-declared functions must register in the flat index too")
	}
}

func TestLoadJSONRejectsUnknownPoolKind(t *testing.T) {
	doc := `{"config":{},"pool":[{"offset":0,"kind":"bogus"}]}`
	if _, err := LoadJSON([]byte(doc)); err == nil {
		t.Error("LoadJSON with an unknown pool entry kind returned nil error")
	}
}

func TestLoadJSONRejectsMalformedThreadFieldOffset(t *testing.T) {
	doc := `{"config":{"threadFields":{"not-a-number":"x"}}}`
	if _, err := LoadJSON([]byte(doc)); err == nil {
		t.Error("LoadJSON with a non-numeric thread field offset returned nil error")
	}
}
