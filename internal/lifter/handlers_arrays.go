package lifter

import (
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/reg"
)

const (
	tmpNum     = 16
	tmp2Num    = 17
	wbObjectNum = 1
	wbValueNum  = 0
	wbSlotNum   = 25
)

// handleWriteBarrier matches the two-register write-barrier template
// (spec.md §4.3): an optional `TBZ val,#0,done` SMI-skip prefix (and its own
// LR spill, if present), then `LDURB TMP,[obj,#-1]; LDURB TMP2,[val,#-1];
// AND TMP,TMP2,TMP,LSR#2; TST TMP,HEAP_BITS,LSR#32; B.eq done; BL stub`. The
// array/object distinction rides on whether the stub's resolved name
// mentions Array. LoadStore's indexed-store and fixed-offset sub-cases call
// this directly (not through the chain) to see whether their own window is
// followed by a barrier.
func handleWriteBarrier(c *disasm.Cursor, app appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	first, ok := c.At(0)
	if !ok || !first.Ok() {
		return ilnode.Node{}, false, false, nil
	}

	pos := 0
	if first.Mnemonic == "TBZ" {
		bit, okb := first.Imm(1)
		if !okb || bit != 0 {
			return ilnode.Node{}, false, false, nil
		}
		pos = 1
		if save, ok := c.At(pos); ok && save.Ok() && save.Mnemonic == "STR" {
			if _, _, wb, okm := save.MemBase(1); okm && wb {
				pos++
			}
		}
	}

	ldurb1, ok := c.At(pos)
	if !ok || !ldurb1.Ok() || ldurb1.Mnemonic != "LDURB" {
		return ilnode.Node{}, false, false, nil
	}
	tmpDst, okd1 := ldurb1.Reg(0)
	objReg, disp1, _, okm1 := ldurb1.MemBase(1)
	if !okd1 || !okm1 || disasm.RegNum(tmpDst) != tmpNum || disp1 != -1 {
		return ilnode.Node{}, false, false, nil
	}
	pos++

	ldurb2, ok := c.At(pos)
	if !ok || !ldurb2.Ok() || ldurb2.Mnemonic != "LDURB" {
		return ilnode.Node{}, false, false, nil
	}
	tmp2Dst, okd2 := ldurb2.Reg(0)
	valReg, disp2, _, okm2 := ldurb2.MemBase(1)
	if !okd2 || !okm2 || disasm.RegNum(tmp2Dst) != tmp2Num || disp2 != -1 {
		return ilnode.Node{}, false, false, nil
	}
	pos++

	and, ok := c.At(pos)
	if err := insnAssert(ok && and.Ok() && and.Mnemonic == "AND", c, "WriteBarrier", "AND TMP,TMP2,TMP,LSR#2 must follow the two LDURB loads"); err != nil {
		return ilnode.Node{}, false, false, err
	}
	pos++

	tst, ok := c.At(pos)
	if err := insnAssert(ok && tst.Ok() && tst.Mnemonic == "TST", c, "WriteBarrier", "TST must follow AND"); err != nil {
		return ilnode.Node{}, false, false, err
	}
	pos++

	beq, ok := c.At(pos)
	if err := insnAssert(ok && beq.Ok() && beq.Mnemonic == "B", c, "WriteBarrier", "B.eq done must follow TST"); err != nil {
		return ilnode.Node{}, false, false, err
	}
	if cond, okc := beq.Cond(); !okc || cond.String() != "EQ" {
		return ilnode.Node{}, false, false, nil
	}
	pos++

	stubCall, ok := c.At(pos)
	if err := insnAssert(ok && stubCall.Ok() && (stubCall.Mnemonic == "BL" || stubCall.Mnemonic == "BLR"),
		c, "WriteBarrier", "stub call must follow B.eq done"); err != nil {
		return ilnode.Node{}, false, false, err
	}

	isArray := false
	if stubCall.Mnemonic == "BL" {
		if rel, oki := stubCall.Imm(0); oki {
			targetAddr := uint64(int64(stubCall.Addr) + rel)
			if target, ok2 := app.GetFunction(targetAddr); ok2 {
				isArray = strings.Contains(target.Name, "Array")
			}
		}
	}

	return ilnode.Node{
		Kind:    ilnode.KindWriteBarrier,
		Range:   ilnode.AddrRange{Start: first.Addr, End: stubCall.Addr + 4},
		Obj:     regFrom(objReg),
		Val:     regFrom(valReg),
		IsArray: isArray,
	}, true, false, nil
}

// handleLoadStore matches the general array/field load/store template
// (spec.md §4.3), trying its three documented sub-cases in order.
func handleLoadStore(c *disasm.Cursor, app appmodel.AppModel, fn *Function) (ilnode.Node, bool, bool, error) {
	if node, matched, err := tryIndexedStoreViaSlot(c, app, fn); err != nil {
		return ilnode.Node{}, false, false, err
	} else if matched {
		return node, true, false, nil
	}
	if node, matched := tryRegisterIndexed(c); matched {
		return node, true, false, nil
	}
	if node, matched, err := tryFixedOffsetField(c, app, fn); err != nil {
		return ilnode.Node{}, false, false, err
	} else if matched {
		return node, true, false, nil
	}
	return ilnode.Node{}, false, false, nil
}

// tryIndexedStoreViaSlot matches sub-case 1: `ADD WB_SLOT,WB_OBJECT,{imm|
// reg}; [ADD WB_SLOT,WB_SLOT,#Array.data-1;] STR val,[WB_SLOT]` followed by
// a WriteBarrier. It calls handleWriteBarrier directly as a sub-routine
// (not through the chain) and rewinds the cursor afterward regardless of
// outcome, per the same convention as the other lookahead handlers.
func tryIndexedStoreViaSlot(c *disasm.Cursor, app appmodel.AppModel, fn *Function) (ilnode.Node, bool, error) {
	add1, ok := c.At(0)
	if !ok || !add1.Ok() || add1.Mnemonic != "ADD" {
		return ilnode.Node{}, false, nil
	}
	dst, okd := add1.Reg(0)
	objReg, oko := add1.Reg(1)
	if !okd || !oko || disasm.RegNum(dst) != wbSlotNum || disasm.RegNum(objReg) != wbObjectNum {
		return ilnode.Node{}, false, nil
	}

	var idx reg.Register
	var idxImm int64
	if r, okr := add1.Reg(2); okr {
		idx = regFrom(r)
	} else if imm, oki := add1.Imm(2); oki {
		idxImm = imm
	} else {
		return ilnode.Node{}, false, nil
	}

	pos := 1
	if add2, ok := c.At(pos); ok && add2.Ok() && add2.Mnemonic == "ADD" {
		d2, okd2 := add2.Reg(0)
		s2, oks2 := add2.Reg(1)
		if okd2 && oks2 && disasm.RegNum(d2) == wbSlotNum && disasm.RegNum(s2) == wbSlotNum {
			pos++
		}
	}

	str, ok := c.At(pos)
	if !ok || !str.Ok() || str.Mnemonic != "STR" {
		return ilnode.Node{}, false, nil
	}
	valReg, okv := str.Reg(0)
	strBase, _, _, okm := str.MemBase(1)
	if !okv || !okm || disasm.RegNum(strBase) != wbSlotNum {
		return ilnode.Node{}, false, nil
	}
	pos++

	start := c.Pos()
	c.Advance(pos)
	wbNode, matched, _, err := handleWriteBarrier(c, app, fn)
	c.Seek(start)
	if err != nil {
		return ilnode.Node{}, false, err
	}
	if !matched {
		return ilnode.Node{}, false, nil
	}

	node := ilnode.Node{
		Kind:    ilnode.KindStoreArrayElement,
		Range:   ilnode.AddrRange{Start: add1.Addr, End: wbNode.Range.End},
		Val:     regFrom(valReg),
		Obj:     regFrom(objReg),
		Idx:     idx,
		Imm:     idxImm,
		ArrayOp: ilnode.ArrayOp{Size: 8, IsLoad: false, Kind: ilnode.ArrayList},
	}
	return node, true, nil
}

// tryRegisterIndexed matches sub-case 2: `ADD tmp,arr,idx[,ext#shift];
// LDR*|STR* val,[tmp,#data_offset]`. The index shift is not checked against
// the access size.
func tryRegisterIndexed(c *disasm.Cursor) (ilnode.Node, bool) {
	add, ok := c.At(0)
	if !ok || !add.Ok() || add.Mnemonic != "ADD" {
		return ilnode.Node{}, false
	}
	tmpReg, okd := add.Reg(0)
	arrReg, oka := add.Reg(1)
	idxReg, oki := add.Reg(2)
	if !okd || !oka || !oki {
		return ilnode.Node{}, false
	}

	access, ok := c.At(1)
	if !ok || !access.Ok() {
		return ilnode.Node{}, false
	}
	size, isLoad, known := arraySizeFromMnemonic(access.Mnemonic)
	if !known {
		return ilnode.Node{}, false
	}
	valReg, okv := access.Reg(0)
	base, _, _, okm := access.MemBase(1)
	if !okv || !okm || disasm.RegNum(base) != disasm.RegNum(tmpReg) {
		return ilnode.Node{}, false
	}
	if size == 0 {
		size = regWidthBytes(valReg)
	}

	kind := ilnode.KindStoreArrayElement
	if isLoad {
		kind = ilnode.KindLoadArrayElement
	}
	node := ilnode.Node{
		Kind:    kind,
		Range:   ilnode.AddrRange{Start: add.Addr, End: access.Addr + 4},
		Obj:     regFrom(arrReg),
		Idx:     regFrom(idxReg),
		ArrayOp: ilnode.ArrayOp{Size: size, IsLoad: isLoad, Kind: ilnode.ArrayUnknown},
	}
	if isLoad {
		node.Dst = regFrom(valReg)
	} else {
		node.Val = regFrom(valReg)
	}
	return node, true
}

// arraySizeFromMnemonic reports the element size an array load/store
// mnemonic implies; size 0 for the plain LDR/STR forms means the size must
// be read from the operand's own register width instead.
func arraySizeFromMnemonic(m string) (size int, isLoad bool, known bool) {
	switch m {
	case "LDRB", "LDURB":
		return 1, true, true
	case "STRB", "STURB":
		return 1, false, true
	case "LDRH", "LDURH":
		return 2, true, true
	case "STRH", "STURH":
		return 2, false, true
	case "LDRSW", "LDURSW":
		return 4, true, true
	case "LDR", "LDUR":
		return 0, true, true
	case "STR", "STUR":
		return 0, false, true
	default:
		return 0, false, false
	}
}

// tryFixedOffsetField matches sub-case 3: a fixed-offset load/store whose
// base isn't FP (ruling out an ordinary local-variable access) is treated
// as a field access, unless a following WriteBarrier resolves to the array
// variant, in which case it is folded into a StoreArrayElement instead.
func tryFixedOffsetField(c *disasm.Cursor, app appmodel.AppModel, fn *Function) (ilnode.Node, bool, error) {
	in, ok := c.At(0)
	if !ok || !in.Ok() {
		return ilnode.Node{}, false, nil
	}
	var valReg arm64asm.Reg
	var okv bool
	isLoad := false
	switch in.Mnemonic {
	case "LDR", "LDUR":
		isLoad = true
		valReg, okv = in.Reg(0)
	case "STR", "STUR":
		valReg, okv = in.Reg(0)
	default:
		return ilnode.Node{}, false, nil
	}
	base, disp, _, okm := in.MemBase(1)
	if !okv || !okm {
		return ilnode.Node{}, false, nil
	}
	if disasm.RegNum(base) == fpNum {
		return ilnode.Node{}, false, nil
	}

	kind := ilnode.KindLoadField
	if !isLoad {
		kind = ilnode.KindStoreField
	}
	end := in.Addr + 4

	if !isLoad {
		start := c.Pos()
		c.Advance(1)
		wbNode, matched, _, _ := handleWriteBarrier(c, app, fn)
		c.Seek(start)
		if matched && wbNode.IsArray {
			kind = ilnode.KindStoreArrayElement
			end = wbNode.Range.End
		}
	}

	node := ilnode.Node{
		Kind:   kind,
		Range:  ilnode.AddrRange{Start: in.Addr, End: end},
		Obj:    regFrom(base),
		Offset: int(disp),
	}
	if isLoad {
		node.Dst = regFrom(valReg)
	} else {
		node.Val = regFrom(valReg)
	}
	return node, true, nil
}
