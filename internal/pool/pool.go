// Package pool resolves the object-pool load sequences the AOT compiler
// emits to materialize a literal (spec.md §4.4): a 1-3 instruction window
// rooted at PP, decoded to a destination register plus a typed VarItem
// produced by querying the app model.
package pool

import (
	"fmt"
	"math"

	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/reg"
	"github.com/dartlift/lifter/internal/varmodel"
)

// FatalAnalysis signals the app model produced a pool entry the lifter
// cannot classify — it aborts the current function only (spec.md §7).
type FatalAnalysis struct {
	Reason string
}

func (e *FatalAnalysis) Error() string { return "fatal analysis: " + e.Reason }

// Result is the resolver's output: how many instructions it consumed, the
// destination register, and the decoded value.
type Result struct {
	Consumed int
	Dst      reg.Register
	Item     varmodel.VarItem
}

const ppRegNum = 27

// Resolve recognizes one of the three object-pool load shapes at the cursor
// and returns the decoded result, or ok=false if the window doesn't match
// any of them.
func Resolve(c *disasm.Cursor, app appmodel.AppModel) (Result, bool, error) {
	if r, ok, err := resolveSingleLDR(c, app); ok || err != nil {
		return r, ok, err
	}
	if r, ok, err := resolveAddHiLdrLo(c, app); ok || err != nil {
		return r, ok, err
	}
	if r, ok, err := resolveMovzMovkLdr(c, app); ok || err != nil {
		return r, ok, err
	}
	return Result{}, false, nil
}

// resolveSingleLDR matches `LDR r,[PP,#disp]`.
func resolveSingleLDR(c *disasm.Cursor, app appmodel.AppModel) (Result, bool, error) {
	in, ok := c.At(0)
	if !ok || !in.Ok() {
		return Result{}, false, nil
	}
	if in.Mnemonic != "LDR" {
		return Result{}, false, nil
	}
	dstReg, okd := in.Reg(0)
	base, disp, _, okm := in.MemBase(1)
	if !okd || !okm || disasm.RegNum(base) != ppRegNum {
		return Result{}, false, nil
	}
	dst := reg.General(disasm.RegNum(dstReg))
	return finish(1, dst, int(disp), app)
}

// resolveAddHiLdrLo matches `ADD tmp,PP,#hi12,LSL#12` followed by
// `LDR r,[tmp,#lo]` (or `LDP`, or `ADD r,tmp,#lo`).
func resolveAddHiLdrLo(c *disasm.Cursor, app appmodel.AppModel) (Result, bool, error) {
	first, ok := c.At(0)
	if !ok || !first.Ok() || first.Mnemonic != "ADD" {
		return Result{}, false, nil
	}
	tmpReg, okd := first.Reg(0)
	ppReg, okp := first.Reg(1)
	hi, okm := first.Imm(2)
	if !okd || !okp || !okm || disasm.RegNum(ppReg) != ppRegNum {
		return Result{}, false, nil
	}
	second, ok := c.At(1)
	if !ok || !second.Ok() {
		return Result{}, false, nil
	}
	switch second.Mnemonic {
	case "LDR", "LDP":
		dstReg, okd2 := second.Reg(0)
		tmpBase, lo, _, okm2 := second.MemBase(1)
		if !okd2 || !okm2 || disasm.RegNum(tmpBase) != disasm.RegNum(tmpReg) {
			return Result{}, false, nil
		}
		dst := reg.General(disasm.RegNum(dstReg))
		return finish(2, dst, int(hi+lo), app)
	case "ADD":
		dstReg, okd2 := second.Reg(0)
		srcReg, oks := second.Reg(1)
		lo, okl := second.Imm(2)
		if !okd2 || !oks || !okl || disasm.RegNum(srcReg) != disasm.RegNum(tmpReg) {
			return Result{}, false, nil
		}
		dst := reg.General(disasm.RegNum(dstReg))
		return finish(2, dst, int(hi+lo), app)
	}
	return Result{}, false, nil
}

// resolveMovzMovkLdr matches `MOVZ off,#lo; MOVK off,#hi,LSL#16; LDR r,[PP,off]`.
func resolveMovzMovkLdr(c *disasm.Cursor, app appmodel.AppModel) (Result, bool, error) {
	movz, ok := c.At(0)
	if !ok || !movz.Ok() || movz.Mnemonic != "MOVZ" {
		return Result{}, false, nil
	}
	offReg, okd := movz.Reg(0)
	lo, okl := movz.Imm(1)
	if !okd || !okl {
		return Result{}, false, nil
	}
	movk, ok := c.At(1)
	if !ok || !movk.Ok() || movk.Mnemonic != "MOVK" {
		return Result{}, false, nil
	}
	offReg2, okd2 := movk.Reg(0)
	hi, okh := movk.Imm(1)
	if !okd2 || !okh || disasm.RegNum(offReg2) != disasm.RegNum(offReg) {
		return Result{}, false, nil
	}
	ldr, ok := c.At(2)
	if !ok || !ldr.Ok() || ldr.Mnemonic != "LDR" {
		return Result{}, false, nil
	}
	dstReg, okd3 := ldr.Reg(0)
	base, index, _, okm := ldr.MemIndexed(1)
	if !okd3 || !okm || disasm.RegNum(base) != ppRegNum || disasm.RegNum(index) != disasm.RegNum(offReg) {
		return Result{}, false, nil
	}
	dst := reg.General(disasm.RegNum(dstReg))
	offset := int(lo | hi)
	return finish(3, dst, offset, app)
}

func finish(consumed int, dst reg.Register, offset int, app appmodel.AppModel) (Result, bool, error) {
	entry, ok := app.GetPoolEntry(offset)
	if !ok {
		return Result{}, false, nil
	}
	item, err := classify(entry, dst, app)
	if err != nil {
		return Result{}, false, err
	}
	storage := varmodel.NewPool(offset)
	return Result{Consumed: consumed, Dst: dst, Item: varmodel.NewItem(storage, item)}, true, nil
}

// classify discriminates a pool entry's Dart-level value. For a tagged
// object, it is the resolver itself — not the app model — that inspects the
// object's class id (via app.GetClass) to tell Mint/Double/Array/Field/
// Type/Instance/... apart (spec.md §4.4/§6): the app model only ever hands
// back a class id plus the raw payload fields relevant to it. There is no
// Smi case; a Smi-class object classifies as a generic Instance.
func classify(entry appmodel.PoolEntry, dst reg.Register, app appmodel.AppModel) (varmodel.VarValue, error) {
	switch entry.Kind {
	case appmodel.PoolTaggedObject:
		return classifyTaggedObject(entry, app)
	case appmodel.PoolImmediate:
		if dst.IsFloat() {
			return varmodel.Double(math.Float64frombits(entry.ImmediateBits)), nil
		}
		return varmodel.Integer(varmodel.IntNative, int64(entry.ImmediateBits)), nil
	case appmodel.PoolNativeFunction:
		return varmodel.VarValue{}, &FatalAnalysis{
			Reason: fmt.Sprintf("pool entry resolves to native function %q; Dart user code should not reference it", entry.NativeFuncName),
		}
	default:
		return varmodel.VarValue{}, &FatalAnalysis{Reason: "unrecognized pool entry kind"}
	}
}

// classifyTaggedObject looks up entry.ClassID and dispatches on the class's
// well-known name. A class id the app model has no record of, or one outside
// the well-known set (ordinary user-defined classes, closures, and so on),
// classifies as a generic Instance — still carrying its class id, unlike the
// old Expression/"unclassified" fallback.
func classifyTaggedObject(entry appmodel.PoolEntry, app appmodel.AppModel) (varmodel.VarValue, error) {
	cls, ok := app.GetClass(entry.ClassID)
	if !ok {
		return varmodel.Instance(entry.ClassID), nil
	}
	switch cls.Name {
	case appmodel.ClassNameNull:
		return varmodel.Null(), nil
	case appmodel.ClassNameSentinel:
		return varmodel.Sentinel(), nil
	case appmodel.ClassNameBool:
		return varmodel.Boolean(entry.BoolVal), nil
	case appmodel.ClassNameMint:
		return varmodel.Integer(varmodel.IntMint, entry.IntVal), nil
	case appmodel.ClassNameDouble:
		return varmodel.Double(entry.DoubleVal), nil
	case appmodel.ClassNameOneByteString, appmodel.ClassNameTwoByteString:
		return varmodel.String(entry.StrVal), nil
	case appmodel.ClassNameImmutableArray:
		return varmodel.Array(entry.ArrayLen, true, entry.ArrayElemType), nil
	case appmodel.ClassNameArray:
		return varmodel.Array(entry.ArrayLen, entry.ArrayConst, entry.ArrayElemType), nil
	case appmodel.ClassNameGrowableArray:
		return varmodel.GrowableArray(entry.ArrayElemType), nil
	case appmodel.ClassNameUnlinkedCall:
		return varmodel.UnlinkedCall(entry.StrVal), nil
	case appmodel.ClassNameType:
		return varmodel.TypeRef(entry.StrVal), nil
	case appmodel.ClassNameFunctionType:
		return varmodel.FunctionTypeRef(entry.StrVal), nil
	case appmodel.ClassNameTypeParameter:
		return varmodel.TypeParameterRef(entry.StrVal), nil
	case appmodel.ClassNameTypeArguments:
		return varmodel.TypeArgumentsRef(entry.StrVal), nil
	case appmodel.ClassNameRecordType:
		return varmodel.RecordTypeRef(entry.StrVal), nil
	case appmodel.ClassNameSubtypeTestCache:
		return varmodel.SubtypeTestCacheValue(), nil
	case appmodel.ClassNameField:
		return varmodel.Field(entry.StrVal), nil
	default:
		return varmodel.Instance(entry.ClassID), nil
	}
}
