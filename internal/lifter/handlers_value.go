package lifter

import (
	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/pool"
	"github.com/dartlift/lifter/internal/reg"
	"github.com/dartlift/lifter/internal/varmodel"
)

const nullNum = 22

// kTrueOffsetFromNull / kFalseOffsetFromNull are the fixed byte offsets of
// the preallocated true/false objects relative to the NULL register, stable
// across the Dart AOT ABI this lifter targets.
const (
	kTrueOffsetFromNull  = 0x10
	kFalseOffsetFromNull = 0x18
)

// handleLoadValue recognizes the union of value-materialization templates
// from spec.md §4.3(a-g): object-pool loads, boolean-from-NULL, MOVZ/MOVK or
// ORR immediates, MOVN negated immediates, MOV from NULL, EOR-zero doubles,
// and FMOV literal doubles.
func handleLoadValue(c *disasm.Cursor, app appmodel.AppModel, fn *Function) (ilnode.Node, bool, bool, error) {
	if res, ok, err := pool.Resolve(c, app); err != nil {
		return ilnode.Node{}, false, false, err
	} else if ok {
		item := res.Item
		rangeEnd, _ := c.At(res.Consumed - 1)
		start, _ := c.At(0)
		fn.State.SetRegister(res.Dst, item.Value)
		return ilnode.Node{
			Kind:  ilnode.KindLoadValue,
			Range: ilnode.AddrRange{Start: start.Addr, End: rangeEnd.Addr + 4},
			Dst:   res.Dst,
			Item:  item,
		}, true, false, nil
	}

	if node, ok := matchBooleanFromNull(c); ok {
		return node, true, false, nil
	}
	if node, ok := matchMovzMovkImmediate(c); ok {
		return node, true, false, nil
	}
	if node, ok := matchOrrImmediate(c); ok {
		return node, true, false, nil
	}
	if node, ok := matchMovn(c); ok {
		return node, true, false, nil
	}
	if node, ok := matchMovNull(c); ok {
		return node, true, false, nil
	}
	if node, ok := matchEorZeroDouble(c); ok {
		return node, true, false, nil
	}
	if node, ok := matchFmovDouble(c); ok {
		return node, true, false, nil
	}
	return ilnode.Node{}, false, false, nil
}

func loadValueNode(addr uint64, dst reg.Register, item varmodel.VarItem) ilnode.Node {
	return ilnode.Node{
		Kind:  ilnode.KindLoadValue,
		Range: ilnode.AddrRange{Start: addr, End: addr + 4},
		Dst:   dst,
		Item:  item,
	}
}

// matchBooleanFromNull matches `ADD reg,NULL,#k` for k in
// {kTrueOffsetFromNull, kFalseOffsetFromNull}.
func matchBooleanFromNull(c *disasm.Cursor) (ilnode.Node, bool) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "ADD" {
		return ilnode.Node{}, false
	}
	dst, okd := in.Reg(0)
	src, oks := in.Reg(1)
	imm, oki := in.Imm(2)
	if !okd || !oks || !oki || disasm.RegNum(src) != nullNum {
		return ilnode.Node{}, false
	}
	var b bool
	switch imm {
	case kTrueOffsetFromNull:
		b = true
	case kFalseOffsetFromNull:
		b = false
	default:
		return ilnode.Node{}, false
	}
	item := varmodel.NewItem(varmodel.NewImmediate(imm), varmodel.Boolean(b))
	return loadValueNode(in.Addr, regFrom(dst), item), true
}

// matchMovzMovkImmediate matches a MOVZ/MOVK pair materializing a 32/64-bit
// immediate.
func matchMovzMovkImmediate(c *disasm.Cursor) (ilnode.Node, bool) {
	movz, ok := c.At(0)
	if !ok || !movz.Ok() || movz.Mnemonic != "MOVZ" {
		return ilnode.Node{}, false
	}
	dst, okd := movz.Reg(0)
	lo, okl := movz.Imm(1)
	if !okd || !okl {
		return ilnode.Node{}, false
	}
	movk, ok := c.At(1)
	if !ok || !movk.Ok() || movk.Mnemonic != "MOVK" {
		return ilnode.Node{}, false
	}
	dst2, okd2 := movk.Reg(0)
	hi, okh := movk.Imm(1)
	if !okd2 || !okh || disasm.RegNum(dst2) != disasm.RegNum(dst) {
		return ilnode.Node{}, false
	}
	val := lo | hi
	item := varmodel.NewItem(varmodel.NewImmediate(val), varmodel.Integer(varmodel.IntNative, val))
	return ilnode.Node{
		Kind:  ilnode.KindLoadValue,
		Range: ilnode.AddrRange{Start: movz.Addr, End: movk.Addr + 4},
		Dst:   regFrom(dst),
		Item:  item,
	}, true
}

// matchOrrImmediate matches `ORR r,XZR,#imm`.
func matchOrrImmediate(c *disasm.Cursor) (ilnode.Node, bool) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "ORR" {
		return ilnode.Node{}, false
	}
	dst, okd := in.Reg(0)
	src, oks := in.Reg(1)
	imm, oki := in.Imm(2)
	if !okd || !oks || !oki || disasm.RegNum(src) != 31 {
		return ilnode.Node{}, false
	}
	item := varmodel.NewItem(varmodel.NewImmediate(imm), varmodel.Integer(varmodel.IntNative, imm))
	return loadValueNode(in.Addr, regFrom(dst), item), true
}

// matchMovn matches `MOVN r,#imm` (negated immediate).
func matchMovn(c *disasm.Cursor) (ilnode.Node, bool) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "MOVN" {
		return ilnode.Node{}, false
	}
	dst, okd := in.Reg(0)
	imm, oki := in.Imm(1)
	if !okd || !oki {
		return ilnode.Node{}, false
	}
	val := ^imm
	item := varmodel.NewItem(varmodel.NewImmediate(val), varmodel.Integer(varmodel.IntNative, val))
	return loadValueNode(in.Addr, regFrom(dst), item), true
}

// matchMovNull matches `MOV r,NULL`.
func matchMovNull(c *disasm.Cursor) (ilnode.Node, bool) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "MOV" {
		return ilnode.Node{}, false
	}
	dst, okd := in.Reg(0)
	src, oks := in.Reg(1)
	if !okd || !oks || disasm.RegNum(src) != nullNum {
		return ilnode.Node{}, false
	}
	item := varmodel.NewItem(varmodel.NewRegister(reg.General(nullNum)), varmodel.Null())
	return loadValueNode(in.Addr, regFrom(dst), item), true
}

// matchEorZeroDouble matches `EOR r,r,r` on a decimal register, the compiler
// idiom for materializing double zero.
func matchEorZeroDouble(c *disasm.Cursor) (ilnode.Node, bool) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "EOR" {
		return ilnode.Node{}, false
	}
	dst, okd := in.Reg(0)
	src1, ok1 := in.Reg(1)
	src2, ok2 := in.Reg(2)
	if !okd || !ok1 || !ok2 || !isFloatReg(dst) {
		return ilnode.Node{}, false
	}
	if disasm.RegNum(src1) != disasm.RegNum(dst) || disasm.RegNum(src2) != disasm.RegNum(dst) {
		return ilnode.Node{}, false
	}
	item := varmodel.NewItem(varmodel.NewInInstruction(), varmodel.Double(0))
	return loadValueNode(in.Addr, regFrom(dst), item), true
}

// matchFmovDouble matches `FMOV r,#fp`.
func matchFmovDouble(c *disasm.Cursor) (ilnode.Node, bool) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "FMOV" {
		return ilnode.Node{}, false
	}
	dst, okd := in.Reg(0)
	if !okd || !isFloatReg(dst) {
		return ilnode.Node{}, false
	}
	var fv float64
	for i := 1; i < len(in.Args); i++ {
		if f, ok := in.Args[i].(interface{ Float() float64 }); ok {
			fv = f.Float()
			break
		}
	}
	item := varmodel.NewItem(varmodel.NewInInstruction(), varmodel.Double(fv))
	return loadValueNode(in.Addr, regFrom(dst), item), true
}

// handleDecompressPointer matches `ADD r,r,HEAP_BITS,LSL#32`.
func handleDecompressPointer(c *disasm.Cursor, _ appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "ADD" {
		return ilnode.Node{}, false, false, nil
	}
	dst, okd := in.Reg(0)
	src, oks := in.Reg(1)
	heap, okh := in.Reg(2)
	if !okd || !oks || !okh || disasm.RegNum(dst) != disasm.RegNum(src) || disasm.RegNum(heap) != heapBitsNum {
		return ilnode.Node{}, false, false, nil
	}
	return ilnode.Node{
		Kind:  ilnode.KindDecompressPointer,
		Range: ilnode.AddrRange{Start: in.Addr, End: in.Addr + 4},
		Dst:   regFrom(dst),
	}, true, false, nil
}

const heapBitsNum = 28

// handleBranchIfSmi matches `TBZ reg,#kSmiTag,target`.
func handleBranchIfSmi(c *disasm.Cursor, _ appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "TBZ" {
		return ilnode.Node{}, false, false, nil
	}
	obj, okr := in.Reg(0)
	bit, okb := in.Imm(1)
	rel, okt := in.Imm(2)
	if !okr || !okb || !okt || bit != 0 {
		return ilnode.Node{}, false, false, nil
	}
	return ilnode.Node{
		Kind:       ilnode.KindBranchIfSmi,
		Range:      ilnode.AddrRange{Start: in.Addr, End: in.Addr + 4},
		Obj:        regFrom(obj),
		BranchAddr: uint64(int64(in.Addr) + rel),
	}, true, false, nil
}

const kClassIdTagPos12 = 12

// handleLoadClassId matches either `LDUR cid,[obj,#-1]; UBFX cid,cid,#12,#20`
// (classic) or `LDURH cid,[obj,#1]` (newer layout).
func handleLoadClassId(c *disasm.Cursor, _ appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	first, ok := c.At(0)
	if !ok || !first.Ok() {
		return ilnode.Node{}, false, false, nil
	}
	if first.Mnemonic == "LDURH" {
		cidReg, okc := first.Reg(0)
		base, disp, _, okm := first.MemBase(1)
		if !okc || !okm || disp != 1 {
			return ilnode.Node{}, false, false, nil
		}
		return ilnode.Node{
			Kind:  ilnode.KindLoadClassId,
			Range: ilnode.AddrRange{Start: first.Addr, End: first.Addr + 4},
			Obj:   regFrom(base),
			CidReg: regFrom(cidReg),
		}, true, false, nil
	}
	if first.Mnemonic != "LDUR" {
		return ilnode.Node{}, false, false, nil
	}
	cidReg, okc := first.Reg(0)
	base, disp, _, okm := first.MemBase(1)
	if !okc || !okm || disp != -1 {
		return ilnode.Node{}, false, false, nil
	}
	ubfx, ok := c.At(1)
	if err := insnAssert(ok && ubfx.Ok() && ubfx.Mnemonic == "UBFX", c, "LoadClassId", "UBFX must follow LDUR cid,[obj,#-1]"); err != nil {
		return ilnode.Node{}, false, false, err
	}
	dst2, okd2 := ubfx.Reg(0)
	if !okd2 || disasm.RegNum(dst2) != disasm.RegNum(cidReg) {
		return ilnode.Node{}, false, false, nil
	}
	return ilnode.Node{
		Kind:   ilnode.KindLoadClassId,
		Range:  ilnode.AddrRange{Start: first.Addr, End: ubfx.Addr + 4},
		Obj:    regFrom(base),
		CidReg: regFrom(cidReg),
	}, true, false, nil
}

// handleBoxInt64 matches `SBFIZ x0,x2,#1,#31; CMP x2,x0,ASR#1; B.eq cont;
// BL AllocateMintStub; STUR x2,[x0,#Mint.value-1]`.
func handleBoxInt64(c *disasm.Cursor, app appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	sbfiz, ok := c.At(0)
	if !ok || !sbfiz.Ok() || sbfiz.Mnemonic != "SBFIZ" {
		return ilnode.Node{}, false, false, nil
	}
	dst, okd := sbfiz.Reg(0)
	src, oks := sbfiz.Reg(1)
	if !okd || !oks {
		return ilnode.Node{}, false, false, nil
	}
	cmp, ok := c.At(1)
	if !ok || !cmp.Ok() || cmp.Mnemonic != "CMP" {
		return ilnode.Node{}, false, false, nil
	}
	br, ok := c.At(2)
	if !ok || !br.Ok() || br.Mnemonic != "B" {
		return ilnode.Node{}, false, false, nil
	}
	cond, okc := br.Cond()
	if !okc || cond.String() != "EQ" {
		return ilnode.Node{}, false, false, nil
	}
	bl, ok := c.At(3)
	if err := insnAssert(ok && bl.Ok() && bl.Mnemonic == "BL", c, "BoxInt64", "BL AllocateMintStub must follow B.eq"); err != nil {
		return ilnode.Node{}, false, false, err
	}
	stur, ok := c.At(4)
	if err := insnAssert(ok && stur.Ok() && stur.Mnemonic == "STUR", c, "BoxInt64", "STUR must store boxed value"); err != nil {
		return ilnode.Node{}, false, false, err
	}
	return ilnode.Node{
		Kind:  ilnode.KindBoxInt64,
		Range: ilnode.AddrRange{Start: sbfiz.Addr, End: stur.Addr + 4},
		Dst:   regFrom(dst),
		Src:   regFrom(src),
	}, true, false, nil
}

// handleLoadInt32FromBoxOrSmi matches `SBFX out,in,#1,#31`, optionally
// followed by `TBZ in,#0,cont; LDUR out,[in,#Mint.value-1]`.
func handleLoadInt32FromBoxOrSmi(c *disasm.Cursor, _ appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	sbfx, ok := c.At(0)
	if !ok || !sbfx.Ok() || sbfx.Mnemonic != "SBFX" {
		return ilnode.Node{}, false, false, nil
	}
	out, okd := sbfx.Reg(0)
	in, oks := sbfx.Reg(1)
	if !okd || !oks {
		return ilnode.Node{}, false, false, nil
	}
	end := sbfx.Addr + 4

	tbz, ok := c.At(1)
	if ok && tbz.Ok() && tbz.Mnemonic == "TBZ" {
		tbzReg, okt := tbz.Reg(0)
		bit, okb := tbz.Imm(1)
		if okt && okb && bit == 0 && disasm.RegNum(tbzReg) == disasm.RegNum(in) {
			ldur, ok2 := c.At(2)
			if ok2 && ldur.Ok() && ldur.Mnemonic == "LDUR" {
				end = ldur.Addr + 4
			}
		}
	}
	return ilnode.Node{
		Kind:  ilnode.KindLoadInt32FromBoxOrSmi,
		Range: ilnode.AddrRange{Start: sbfx.Addr, End: end},
		Dst:   regFrom(out),
		Src:   regFrom(in),
	}, true, false, nil
}

// handleLoadTaggedClassIdMayBeSmi fuses the preceding three IL nodes
// LoadValue(cid=SmiTaggedClassId) + BranchIfSmi(obj,done) + LoadClassId(obj,cid)
// with a trailing `LSL cid,cid,#kSmiTagSize`, replacing them with a single
// composite node (spec.md §4.3, §8 property 7).
func handleLoadTaggedClassIdMayBeSmi(c *disasm.Cursor, _ appmodel.AppModel, fn *Function) (ilnode.Node, bool, bool, error) {
	lsl, ok := c.At(0)
	if !ok || !lsl.Ok() || lsl.Mnemonic != "LSL" {
		return ilnode.Node{}, false, false, nil
	}
	cidReg, okd := lsl.Reg(0)
	if !okd {
		return ilnode.Node{}, false, false, nil
	}

	last3, ok := fn.Out.IL.LastK(3)
	if !ok {
		return ilnode.Node{}, false, false, nil
	}
	if last3[0].Kind != ilnode.KindLoadValue || last3[1].Kind != ilnode.KindBranchIfSmi || last3[2].Kind != ilnode.KindLoadClassId {
		return ilnode.Node{}, false, false, nil
	}
	if last3[2].CidReg != regFrom(cidReg) {
		return ilnode.Node{}, false, false, nil
	}

	composite := ilnode.Node{
		Kind:       ilnode.KindLoadTaggedClassIdMayBeSmi,
		Range:      ilnode.AddrRange{Start: last3[0].Range.Start, End: lsl.Addr + 4},
		Obj:        last3[1].Obj,
		CidReg:     last3[2].CidReg,
		BranchAddr: last3[1].BranchAddr,
	}
	fn.Out.IL.FuseLast(3, composite)
	return composite, true, true, nil
}
