package lifter

import (
	"testing"

	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/reg"
	"github.com/dartlift/lifter/internal/varmodel"
)

// TestLiftFunction_OptionalParametersTriggerNoParams covers the degenerate
// case of the optional-parameter trigger template — `mov x0, args_desc`
// after a non-zero stack allocation — firing over a function with zero
// declared parameters: the count-recovery pair matches, but neither the
// positional nor the named walk finds anything to recover.
func TestLiftFunction_OptionalParametersTriggerNoParams(t *testing.T) {
	code := encodeLE(
		0xD10043FF, // sub sp, sp, #0x10       (AllocateStack, StackSize=0x10)
		0xAA0403E0, // mov x0, x4              (x0 <- ARGS_DESC)
		0xF9400401, // ldr x1, [x0, #8]        (numParams load)
		0x8B1C8021, // add x1, x1, x28, lsl #32 (decompress pointer)
		0xD65F03C0, // ret
	)
	out := liftFixture(t, code, 0x5000)

	nodes := out.IL.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("got %d IL nodes, want 3 (AllocateStack, SetupParameters, Return): %v", len(nodes), nodes)
	}
	if nodes[0].Kind != ilnode.KindAllocateStack || nodes[0].Size != 0x10 {
		t.Errorf("nodes[0] = %v, want AllocateStack size=0x10", nodes[0])
	}
	sp := nodes[1]
	if sp.Kind != ilnode.KindSetupParameters {
		t.Fatalf("nodes[1].Kind = %v, want SetupParameters", sp.Kind)
	}
	if sp.Range.Start != 0x5004 || sp.Range.End != 0x5010 {
		t.Errorf("SetupParameters.Range = %v, want 0x5004..0x5010 (mov+ldr+add)", sp.Range)
	}
	if sp.Params == nil {
		t.Fatal("SetupParameters.Params is nil")
	}
	if sp.Params.NumFixedParam != 0 || len(sp.Params.Params) != 0 || sp.Params.IsNamedParam {
		t.Errorf("Params = %+v, want zero fixed/named params", sp.Params)
	}
	if out.Params != sp.Params {
		t.Error("AnalyzedFunction.Params does not reference the SetupParameters node's recovered FnParams")
	}
	if nodes[2].Kind != ilnode.KindReturn || nodes[2].Range.Start != 0x5010 {
		t.Errorf("nodes[2] = %v, want Return@0x5010", nodes[2])
	}
}

// TestLiftFunction_OptionalParametersUnboxInt covers one optional positional
// parameter that the caller did pass: its slot's CMP/branch falls through to
// the load, and the immediately following SBFX unboxes it into a fresh
// register (spec.md §4.5 step 4's "all passed" branch). The recovered
// FnParamInfo must carry the unboxed register, not the boxed one, and a
// DeclaredType of "int".
func TestLiftFunction_OptionalParametersUnboxInt(t *testing.T) {
	code := encodeLE(
		0xD10043FF, // sub sp, sp, #0x10         (AllocateStack)
		0xAA0403E0, // mov x0, x4                (trigger)
		0xF9400401, // ldr x1, [x0, #8]          (numParams load)
		0x8B1C8021, // add x1, x1, x28, lsl #32  (decompress pointer)
		0xD1000422, // sub x2, x1, #1            (numOptional = 1)
		0xF100005F, // cmp x2, #0
		0x5400004B, // b.lt #8
		0xF9400C02, // ldr x2, [x0, #0x18]       (slot's boxed value)
		0x93417C44, // sbfx x4, x2, #1, #31      (unbox to x4)
		0xD65F03C0, // ret
	)
	out := liftFixture(t, code, 0x6000)

	sp := out.Params
	if sp == nil {
		t.Fatal("AnalyzedFunction.Params is nil")
	}
	if len(sp.Params) != 1 {
		t.Fatalf("got %d recovered params, want 1: %+v", len(sp.Params), sp.Params)
	}
	p := sp.Params[0]
	if !p.Loaded {
		t.Error("Params[0].Loaded = false, want true (the CMP fell through to the load)")
	}
	if p.DeclaredType != "int" {
		t.Errorf("Params[0].DeclaredType = %q, want %q", p.DeclaredType, "int")
	}
	if p.ValueReg != reg.General(4) {
		t.Errorf("Params[0].ValueReg = %v, want x4 (the SBFX destination, not the boxed x2)", p.ValueReg)
	}

	nodes := out.IL.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("got %d IL nodes, want 3 (AllocateStack, SetupParameters, Return): %v", len(nodes), nodes)
	}
	if nodes[1].Range.Start != 0x6004 || nodes[1].Range.End != 0x6024 {
		t.Errorf("SetupParameters.Range = %v, want 0x6004..0x6024 (mov through sbfx)", nodes[1].Range)
	}
	if nodes[2].Range.Start != 0x6024 {
		t.Errorf("Return.Range.Start = 0x%x, want 0x6024", nodes[2].Range.Start)
	}
}

// TestLiftFunction_OptionalParametersMissingGetsImmediateDefault covers one
// optional positional parameter the caller omitted: the CMP/branch has
// nothing but the MOVZ/MOVK default-value materialization right after it, no
// intervening load, so the slot starts out "not loaded". Unbox must zip the
// decoded default into that exact slot and mark it loaded (spec.md §4.5
// step 5).
func TestLiftFunction_OptionalParametersMissingGetsImmediateDefault(t *testing.T) {
	code := encodeLE(
		0xD10043FF, // sub sp, sp, #0x10
		0xAA0403E0, // mov x0, x4
		0xF9400401, // ldr x1, [x0, #8]
		0x8B1C8021, // add x1, x1, x28, lsl #32
		0xD1000422, // sub x2, x1, #1            (numOptional = 1)
		0xF100005F, // cmp x2, #0
		0x5400004B, // b.lt #8                   (taken: no load follows)
		0xD2800543, // movz x3, #42              (default-value block)
		0xF2A00003, // movk x3, #0, lsl #16
		0xD65F03C0, // ret
	)
	out := liftFixture(t, code, 0x7000)

	sp := out.Params
	if sp == nil {
		t.Fatal("AnalyzedFunction.Params is nil")
	}
	if len(sp.Params) != 1 {
		t.Fatalf("got %d recovered params, want 1: %+v", len(sp.Params), sp.Params)
	}
	p := sp.Params[0]
	if !p.Loaded {
		t.Error("Params[0].Loaded = false, want true (Unbox must mark a defaulted param loaded)")
	}
	if !p.HasDefault {
		t.Fatal("Params[0].HasDefault = false, want true")
	}
	if p.Default.Kind != varmodel.ValueInteger || p.Default.IntVal != 42 {
		t.Errorf("Params[0].Default = %+v, want Integer(42)", p.Default)
	}
}

// TestLiftFunction_OptionalParametersMissingGetsPoolDefault covers the same
// omitted-argument shape, but with a pool-backed default value (a string
// constant materialized via the ADD-hi/LDR-lo pool template) instead of an
// immediate. recoverDefaultValues must hand this window to internal/pool's
// Resolve, and the returned value must reflect pool's class-id
// classification (spec.md §4.4/§4.5).
func TestLiftFunction_OptionalParametersMissingGetsPoolDefault(t *testing.T) {
	app := appmodel.NewFixture(appmodel.Config{})
	app.AddClass(appmodel.Class{ID: 9, Name: appmodel.ClassNameOneByteString})
	app.AddPoolEntry(4128, appmodel.PoolEntry{Kind: appmodel.PoolTaggedObject, ClassID: 9, StrVal: "world"})

	code := encodeLE(
		0xD10043FF, // sub sp, sp, #0x10
		0xAA0403E0, // mov x0, x4
		0xF9400401, // ldr x1, [x0, #8]
		0x8B1C8021, // add x1, x1, x28, lsl #32
		0xD1000422, // sub x2, x1, #1             (numOptional = 1)
		0xF100005F, // cmp x2, #0
		0x5400004B, // b.lt #8                    (taken: no load follows)
		0x91400765, // add x5, x27, #1, lsl #12   (pool template hi half)
		0xF94010A3, // ldr x3, [x5, #0x20]        (pool template lo half)
		0xD65F03C0, // ret
	)
	out := liftFixtureWithApp(t, app, code, 0x8000)

	sp := out.Params
	if sp == nil {
		t.Fatal("AnalyzedFunction.Params is nil")
	}
	if len(sp.Params) != 1 {
		t.Fatalf("got %d recovered params, want 1: %+v", len(sp.Params), sp.Params)
	}
	p := sp.Params[0]
	if !p.Loaded || !p.HasDefault {
		t.Fatalf("Params[0] = %+v, want Loaded=true HasDefault=true", p)
	}
	if p.Default.Kind != varmodel.ValueString || p.Default.StrVal != "world" {
		t.Errorf("Params[0].Default = %+v, want String(\"world\")", p.Default)
	}
}
