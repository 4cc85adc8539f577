package lifter

import (
	"testing"

	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/asmtext"
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/reg"
	"github.com/dartlift/lifter/internal/varmodel"
)

func encodeLE(words ...uint32) []byte {
	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = append(out, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return out
}

func liftFixture(t *testing.T, code []byte, entryAddr uint64) *AnalyzedFunction {
	t.Helper()
	return liftFixtureWithApp(t, appmodel.NewFixture(appmodel.Config{}), code, entryAddr)
}

// liftFixtureWithApp is liftFixture but with caller-supplied app-model
// context (pool entries, classes), for tests exercising handlers that
// consult the app model mid-function.
func liftFixtureWithApp(t *testing.T, app appmodel.AppModel, code []byte, entryAddr uint64) *AnalyzedFunction {
	t.Helper()
	entry := appmodel.Function{Name: "test", EntryAddr: entryAddr, CodeSize: len(code), Code: code}
	return NewDriver(app).LiftFunction(entry)
}

// TestDriver_RunSkipsInternalLibrariesAndEmptyFunctions covers spec.md
// §4.1's whole-app traversal contract: walk every non-internal library's
// classes and functions in definition order, skip a library flagged
// Internal entirely, and skip a function with zero code size within an
// included library.
func TestDriver_RunSkipsInternalLibrariesAndEmptyFunctions(t *testing.T) {
	ret := encodeLE(0xD65F03C0) // ret

	app := appmodel.NewFixture(appmodel.Config{})
	app.AddLibrary(appmodel.Library{
		URI:      "dart:core",
		Internal: true,
		Classes: []appmodel.LibraryClass{{
			Class:     appmodel.Class{ID: 1, Name: "Object"},
			Functions: []appmodel.Function{{Name: "internalFn", EntryAddr: 0x9000, CodeSize: len(ret), Code: ret}},
		}},
	})
	app.AddLibrary(appmodel.Library{
		URI:      "package:app/main.dart",
		Internal: false,
		Classes: []appmodel.LibraryClass{{
			Class: appmodel.Class{ID: 2, Name: "Greeter"},
			Functions: []appmodel.Function{
				{Name: "forwardDecl", EntryAddr: 0xa000, CodeSize: 0},
				{Name: "greet", EntryAddr: 0xa100, CodeSize: len(ret), Code: ret},
			},
		}},
	})

	lifted := NewDriver(app).Run()

	if len(lifted) != 1 {
		t.Fatalf("got %d lifted functions, want 1 (internal library and zero-size function both skipped): %+v", len(lifted), lifted)
	}
	lf := lifted[0]
	if lf.Library.URI != "package:app/main.dart" {
		t.Errorf("Library.URI = %q, want the non-internal library", lf.Library.URI)
	}
	if lf.Class.Name != "Greeter" {
		t.Errorf("Class.Name = %q, want Greeter", lf.Class.Name)
	}
	if lf.Function.Name != "greet" {
		t.Errorf("Function.Name = %q, want greet (forwardDecl's zero CodeSize must be skipped)", lf.Function.Name)
	}
	if lf.Result == nil || len(lf.Result.IL.Nodes()) != 1 {
		t.Fatalf("Result = %+v, want a single-Return IL list", lf.Result)
	}
}

// TestLiftFunction_EnterAllocateReturn covers the canonical frame prologue
// and epilogue: `stp fp,lr,[sp,#-0x10]!; mov fp,sp; sub sp,sp,#0x10; ret`.
func TestLiftFunction_EnterAllocateReturn(t *testing.T) {
	code := encodeLE(
		0xA9BF7BFD, // stp fp, lr, [sp, #-0x10]!
		0x910003FD, // mov fp, sp
		0xD10043FF, // sub sp, sp, #0x10
		0xD65F03C0, // ret
	)
	out := liftFixture(t, code, 0x1000)

	nodes := out.IL.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("got %d IL nodes, want 3: %v", len(nodes), nodes)
	}
	if nodes[0].Kind != ilnode.KindEnterFrame || nodes[0].Range.Start != 0x1000 || nodes[0].Range.End != 0x1008 {
		t.Errorf("nodes[0] = %v, want EnterFrame@0x1000..0x1008", nodes[0])
	}
	if nodes[1].Kind != ilnode.KindAllocateStack || nodes[1].Size != 0x10 || nodes[1].Range.Start != 0x1008 {
		t.Errorf("nodes[1] = %v, want AllocateStack size=0x10 @0x1008", nodes[1])
	}
	if nodes[2].Kind != ilnode.KindReturn || nodes[2].Range.Start != 0x100c {
		t.Errorf("nodes[2] = %v, want Return@0x100c", nodes[2])
	}
	if !out.UseFramePointer {
		t.Error("UseFramePointer = false, want true after an EnterFrame match")
	}
	if out.StackSize != 0x10 {
		t.Errorf("StackSize = 0x%x, want 0x10", out.StackSize)
	}

	// Every instruction must end up under exactly one IL node, and node
	// ranges must be strictly increasing and non-overlapping.
	var prevEnd uint64
	for i, n := range nodes {
		if n.Range.Start < prevEnd {
			t.Errorf("node %d (%v) overlaps the previous node's range", i, n)
		}
		prevEnd = n.Range.End
	}
	if prevEnd != 0x1000+uint64(len(code)) {
		t.Errorf("final node end = 0x%x, want 0x%x (full instruction coverage)", prevEnd, 0x1000+uint64(len(code)))
	}
}

// TestLiftFunction_BooleanAndDecompressPointer covers `add r,NULL,#k`
// (boolean materialization from the null-region offsets) followed by the
// decompressed-pointer idiom `add r,r,HEAP_BITS`.
func TestLiftFunction_BooleanAndDecompressPointer(t *testing.T) {
	code := encodeLE(
		0x910042C0, // add x0, x22, #0x10   (NULL+kTrueOffsetFromNull -> true)
		0x8B1C8021, // add x1, x1, x28, lsl #32  (decompress x1 in place)
	)
	out := liftFixture(t, code, 0x2000)

	nodes := out.IL.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("got %d IL nodes, want 2: %v", len(nodes), nodes)
	}

	boolNode := nodes[0]
	if boolNode.Kind != ilnode.KindLoadValue {
		t.Fatalf("nodes[0].Kind = %v, want LoadValue", boolNode.Kind)
	}
	if boolNode.Item.Value.Kind != varmodel.ValueBoolean || !boolNode.Item.Value.BoolVal {
		t.Errorf("nodes[0].Item.Value = %+v, want Boolean(true)", boolNode.Item.Value)
	}
	if boolNode.Dst != reg.General(0) {
		t.Errorf("nodes[0].Dst = %v, want general register 0", boolNode.Dst)
	}

	dp := nodes[1]
	if dp.Kind != ilnode.KindDecompressPointer {
		t.Fatalf("nodes[1].Kind = %v, want DecompressPointer", dp.Kind)
	}

	// applyTags must have recorded the boolean value on the first line.
	if len(out.AsmTexts) != 2 {
		t.Fatalf("got %d AsmTexts, want 2", len(out.AsmTexts))
	}
	if out.AsmTexts[0].Tag != asmtext.TagBoolean || !out.AsmTexts[0].BoolVal {
		t.Errorf("AsmTexts[0] = %+v, want TagBoolean/true", out.AsmTexts[0])
	}
}

// TestLiftFunction_GdtCallRegisterFormFalseStart exercises the GdtCall
// register-offset path (selector materialized via MOVZ/MOVK into TMP2 rather
// than carried as an ADD immediate) when the instructions that must follow
// the ADD don't actually complete the dispatch-table-call template. The
// MOVZ/MOVK pair's LoadValue node must survive in the IL list untouched:
// handleGdtCall must not remove it until the whole template is confirmed.
func TestLiftFunction_GdtCallRegisterFormFalseStart(t *testing.T) {
	code := encodeLE(
		0xD282A8B1, // movz x17, #0x1545
		0xF2A00011, // movk x17, #0, lsl #16
		0x8B11001E, // add lr, x0, x17   (register-form selector add)
		0xD65F03C0, // ret (does not continue the GdtCall template)
	)
	out := liftFixture(t, code, 0x3000)

	nodes := out.IL.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("got %d IL nodes, want 3 (LoadValue, Unknown, Return): %v", len(nodes), nodes)
	}

	lv := nodes[0]
	if lv.Kind != ilnode.KindLoadValue || lv.Item.Storage.Kind != varmodel.StorageImmediate {
		t.Fatalf("nodes[0] = %v, want an immediate-storage LoadValue surviving the false-started GdtCall match", lv)
	}
	if lv.Item.Value.IntVal != 0x1545 {
		t.Errorf("nodes[0].Item.Value.IntVal = 0x%x, want 0x1545", lv.Item.Value.IntVal)
	}
	if nodes[1].Kind != ilnode.KindUnknown {
		t.Errorf("nodes[1].Kind = %v, want Unknown (the register-form ADD, since no LDR/BLR follows)", nodes[1].Kind)
	}
	if nodes[2].Kind != ilnode.KindReturn {
		t.Errorf("nodes[2].Kind = %v, want Return", nodes[2].Kind)
	}
}

// TestLiftFunction_GdtCallRegisterForm confirms the register-offset selector
// is correctly folded into the GdtCall node's SelectorOffset once the
// dispatch-table load and indirect branch complete the template.
func TestLiftFunction_GdtCallRegisterForm(t *testing.T) {
	code := encodeLE(
		0xD282A8B1, // movz x17, #0x1545
		0xF2A00011, // movk x17, #0, lsl #16
		0x8B11001E, // add lr, x0, x17
		0xF87E7ABE, // ldr lr, [x21, lr, lsl #3]
		0xD63F03C0, // blr lr
	)
	out := liftFixture(t, code, 0x4000)

	nodes := out.IL.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("got %d IL nodes, want 1 (GdtCall folding away the MOVZ/MOVK LoadValue): %v", len(nodes), nodes)
	}
	gc := nodes[0]
	if gc.Kind != ilnode.KindGdtCall {
		t.Fatalf("nodes[0].Kind = %v, want GdtCall", gc.Kind)
	}
	if gc.SelectorOffset != 0x1545 {
		t.Errorf("SelectorOffset = 0x%x, want 0x1545", gc.SelectorOffset)
	}
	if gc.Range.Start != 0x4000 || gc.Range.End != 0x4000+5*4 {
		t.Errorf("Range = %v, want 0x4000..0x4014 (all five instructions folded in)", gc.Range)
	}
}
