package lifter

import (
	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/pool"
	"github.com/dartlift/lifter/internal/varmodel"
)

// handleLoadFieldTable matches the static-field access template (spec.md
// §4.3): `LDR r,[THR,#field_table_values_off]`, an optional large-offset
// `ADD`, then `STR` (store) or `LDR` (load). field_offset is disp >> 1
// (the field-table encodes a Smi-tagged slot index). A load is further
// inspected for the late-initialization guard (Sentinel pool load, CMP,
// conditional branch, then a call into the field initializer).
func handleLoadFieldTable(c *disasm.Cursor, app appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	ldr, ok := c.At(0)
	if !ok || !ldr.Ok() || ldr.Mnemonic != "LDR" {
		return ilnode.Node{}, false, false, nil
	}
	tableReg, okd := ldr.Reg(0)
	base, _, _, okm := ldr.MemBase(1)
	if !okd || !okm || disasm.RegNum(base) != thrNum {
		return ilnode.Node{}, false, false, nil
	}

	pos := 1
	effReg := tableReg
	if add, ok := c.At(pos); ok && add.Ok() && add.Mnemonic == "ADD" {
		dst2, okd2 := add.Reg(0)
		src2, oks2 := add.Reg(1)
		if okd2 && oks2 && disasm.RegNum(src2) == disasm.RegNum(tableReg) {
			effReg = dst2
			pos++
		}
	}

	access, ok := c.At(pos)
	if !ok || !access.Ok() || (access.Mnemonic != "STR" && access.Mnemonic != "LDR") {
		return ilnode.Node{}, false, false, nil
	}
	valReg, okv := access.Reg(0)
	accBase, disp, _, okam := access.MemBase(1)
	if !okv || !okam || disasm.RegNum(accBase) != disasm.RegNum(effReg) {
		return ilnode.Node{}, false, false, nil
	}
	fieldOffset := int(disp) >> 1
	end := access.Addr + 4

	if access.Mnemonic == "STR" {
		return ilnode.Node{
			Kind:   ilnode.KindStoreStaticField,
			Range:  ilnode.AddrRange{Start: ldr.Addr, End: end},
			Val:    regFrom(valReg),
			Offset: fieldOffset,
		}, true, false, nil
	}

	kind := ilnode.KindLoadStaticField
	start := c.Pos()
	c.Advance(pos + 1)
	sentinelRes, okSentinel, err := pool.Resolve(c, app)
	if err != nil {
		c.Seek(start)
		return ilnode.Node{}, false, false, err
	}
	if okSentinel && sentinelRes.Item.Value.Kind == varmodel.ValueSentinel {
		afterPool := pos + 1 + sentinelRes.Consumed
		c.Seek(start)
		cmp, okc := c.At(afterPool)
		br, okbr := c.At(afterPool + 1)
		if okc && cmp.Ok() && cmp.Mnemonic == "CMP" && okbr && br.Ok() && br.Mnemonic == "B" {
			if cond, okcc := br.Cond(); okcc && (cond.String() == "NE" || cond.String() == "EQ") {
				call, okcall := c.At(afterPool + 2)
				if okcall && call.Ok() && (call.Mnemonic == "BL" || call.Mnemonic == "BLR") {
					kind = ilnode.KindInitLateStaticField
					end = call.Addr + 4
				}
			}
		}
	} else {
		c.Seek(start)
	}

	return ilnode.Node{
		Kind:   kind,
		Range:  ilnode.AddrRange{Start: ldr.Addr, End: end},
		Dst:    regFrom(valReg),
		Offset: fieldOffset,
	}, true, false, nil
}

// handleTryAllocateObject matches the bump-pointer allocation template
// (spec.md §4.3): `LDP top,end,[THR,#top]; ADD top,top,#size; CMP end,top;
// B.ls slow; STR top,[THR,#top]; SUB top,top,#size-1; MOVZ tag,#lo[; MOVK
// tag,#hi,LSL#16]; STUR tag,[top,#-1]`. The class id is recovered from the
// materialized tag word: `cid = (tag >> 12) & 0xfffff`.
func handleTryAllocateObject(c *disasm.Cursor, app appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	ldp, ok := c.At(0)
	if !ok || !ldp.Ok() || ldp.Mnemonic != "LDP" {
		return ilnode.Node{}, false, false, nil
	}
	topReg, ok1 := ldp.Reg(0)
	endReg, ok2 := ldp.Reg(1)
	base, _, _, okm := ldp.MemBase(2)
	if !ok1 || !ok2 || !okm || disasm.RegNum(base) != thrNum {
		return ilnode.Node{}, false, false, nil
	}

	add, ok := c.At(1)
	if !ok || !add.Ok() || add.Mnemonic != "ADD" {
		return ilnode.Node{}, false, false, nil
	}
	addDst, okad := add.Reg(0)
	addSrc, okas := add.Reg(1)
	size, oksz := add.Imm(2)
	if !okad || !okas || !oksz || disasm.RegNum(addDst) != disasm.RegNum(topReg) || disasm.RegNum(addSrc) != disasm.RegNum(topReg) {
		return ilnode.Node{}, false, false, nil
	}

	cmp, ok := c.At(2)
	if !ok || !cmp.Ok() || cmp.Mnemonic != "CMP" {
		return ilnode.Node{}, false, false, nil
	}
	cmpEnd, oke := cmp.Reg(0)
	cmpTop, okt := cmp.Reg(1)
	if !oke || !okt || disasm.RegNum(cmpEnd) != disasm.RegNum(endReg) || disasm.RegNum(cmpTop) != disasm.RegNum(topReg) {
		return ilnode.Node{}, false, false, nil
	}

	br, ok := c.At(3)
	if !ok || !br.Ok() || br.Mnemonic != "B" {
		return ilnode.Node{}, false, false, nil
	}
	if cond, okc := br.Cond(); !okc || cond.String() != "LS" {
		return ilnode.Node{}, false, false, nil
	}

	str, ok := c.At(4)
	if err := insnAssert(ok && str.Ok() && str.Mnemonic == "STR", c, "TryAllocateObject", "STR top,[THR,#top] must follow B.ls slow"); err != nil {
		return ilnode.Node{}, false, false, err
	}

	sub, ok := c.At(5)
	if err := insnAssert(ok && sub.Ok() && sub.Mnemonic == "SUB", c, "TryAllocateObject", "SUB top,top,#size-1 must follow STR"); err != nil {
		return ilnode.Node{}, false, false, err
	}
	dstReg, okdst := sub.Reg(0)
	if err := insnAssert(okdst, c, "TryAllocateObject", "SUB must name a destination register"); err != nil {
		return ilnode.Node{}, false, false, err
	}

	movz, ok := c.At(6)
	if err := insnAssert(ok && movz.Ok() && movz.Mnemonic == "MOVZ", c, "TryAllocateObject", "MOVZ tag must follow SUB"); err != nil {
		return ilnode.Node{}, false, false, err
	}
	tagReg, oktr := movz.Reg(0)
	lo, okl := movz.Imm(1)
	if err := insnAssert(oktr && okl, c, "TryAllocateObject", "MOVZ must carry a register and immediate"); err != nil {
		return ilnode.Node{}, false, false, err
	}

	pos := 7
	tagBits := uint64(lo)
	if movk, ok := c.At(pos); ok && movk.Ok() && movk.Mnemonic == "MOVK" {
		if dst2, okd2 := movk.Reg(0); okd2 && disasm.RegNum(dst2) == disasm.RegNum(tagReg) {
			if hi, okh := movk.Imm(1); okh {
				tagBits |= uint64(hi)
				pos++
			}
		}
	}

	stur, ok := c.At(pos)
	if err := insnAssert(ok && stur.Ok() && stur.Mnemonic == "STUR", c, "TryAllocateObject", "STUR tag,[top,#-1] must close the template"); err != nil {
		return ilnode.Node{}, false, false, err
	}
	end := stur.Addr + 4

	cid := int((tagBits >> 12) & 0xfffff)
	className := ""
	if cls, ok := app.GetClass(cid); ok {
		className = cls.Name
	}

	return ilnode.Node{
		Kind:  ilnode.KindAllocateObject,
		Range: ilnode.AddrRange{Start: ldp.Addr, End: end},
		Dst:   regFrom(dstReg),
		Class: className,
		Size:  int(size),
	}, true, false, nil
}
