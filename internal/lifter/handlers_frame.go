package lifter

import (
	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/ilnode"
)

const (
	fpNum = 29
	lrNum = 30
	spNum = 31 // disasm.RegNum reports 31 for both SP and XZR
)

// handleEnterFrame matches `STP FP,LR,[SP,#-0x10]!` then `MOV FP,SP`; sets
// UseFramePointer=true (spec.md §4.3).
func handleEnterFrame(c *disasm.Cursor, _ appmodel.AppModel, fn *Function) (ilnode.Node, bool, bool, error) {
	stp, ok := c.At(0)
	if !ok || !stp.Ok() || stp.Mnemonic != "STP" {
		return ilnode.Node{}, false, false, nil
	}
	r1, ok1 := stp.Reg(0)
	r2, ok2 := stp.Reg(1)
	base, disp, wb, okm := stp.MemBase(2)
	if !ok1 || !ok2 || !okm {
		return ilnode.Node{}, false, false, nil
	}
	if disasm.RegNum(r1) != fpNum || disasm.RegNum(r2) != lrNum || !wb || disp != -0x10 {
		return ilnode.Node{}, false, false, nil
	}
	_ = base

	mov, ok := c.At(1)
	if !ok || !mov.Ok() || mov.Mnemonic != "MOV" {
		return ilnode.Node{}, false, false, nil
	}
	dst, okd := mov.Reg(0)
	src, oks := mov.Reg(1)
	if err := insnAssert(okd && oks && disasm.RegNum(dst) == fpNum && disasm.RegNum(src) == spNum,
		c, "EnterFrame", "MOV FP,SP must follow STP FP,LR,[SP,#-0x10]!"); err != nil {
		return ilnode.Node{}, false, false, err
	}

	fn.Out.UseFramePointer = true
	return ilnode.Node{
		Kind:  ilnode.KindEnterFrame,
		Range: ilnode.AddrRange{Start: stp.Addr, End: mov.Addr + 4},
	}, true, false, nil
}

// handleLeaveFrame matches `MOV SP,FP` then `LDP FP,LR,[SP],#0x10`.
func handleLeaveFrame(c *disasm.Cursor, _ appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	mov, ok := c.At(0)
	if !ok || !mov.Ok() || mov.Mnemonic != "MOV" {
		return ilnode.Node{}, false, false, nil
	}
	dst, okd := mov.Reg(0)
	src, oks := mov.Reg(1)
	if !okd || !oks || disasm.RegNum(dst) != spNum || disasm.RegNum(src) != fpNum {
		return ilnode.Node{}, false, false, nil
	}

	ldp, ok := c.At(1)
	if !ok || !ldp.Ok() || ldp.Mnemonic != "LDP" {
		return ilnode.Node{}, false, false, nil
	}
	r1, ok1 := ldp.Reg(0)
	r2, ok2 := ldp.Reg(1)
	_, disp, wb, okm := ldp.MemBase(2)
	if err := insnAssert(ok1 && ok2 && okm && disasm.RegNum(r1) == fpNum && disasm.RegNum(r2) == lrNum && wb && disp == 0x10,
		c, "LeaveFrame", "LDP FP,LR,[SP],#0x10 must follow MOV SP,FP"); err != nil {
		return ilnode.Node{}, false, false, err
	}

	return ilnode.Node{
		Kind:  ilnode.KindLeaveFrame,
		Range: ilnode.AddrRange{Start: mov.Addr, End: ldp.Addr + 4},
	}, true, false, nil
}

// handleAllocateStack matches `SUB SP,SP,#imm`; records StackSize=imm.
func handleAllocateStack(c *disasm.Cursor, _ appmodel.AppModel, fn *Function) (ilnode.Node, bool, bool, error) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "SUB" {
		return ilnode.Node{}, false, false, nil
	}
	dst, okd := in.Reg(0)
	src, oks := in.Reg(1)
	imm, oki := in.Imm(2)
	if !okd || !oks || !oki || disasm.RegNum(dst) != spNum || disasm.RegNum(src) != spNum {
		return ilnode.Node{}, false, false, nil
	}
	fn.Out.StackSize = int(imm)
	return ilnode.Node{
		Kind:  ilnode.KindAllocateStack,
		Range: ilnode.AddrRange{Start: in.Addr, End: in.Addr + 4},
		Size:  int(imm),
	}, true, false, nil
}

const thrNum = 26

// handleCheckStackOverflow matches `LDR TMP,[THR,#stack_limit_off]; CMP SP,TMP;
// B.ls slow` or `B.hi cont; B slow` (spec.md §4.3). The slow target must lie
// past the check sequence but within the function's code extent.
func handleCheckStackOverflow(c *disasm.Cursor, _ appmodel.AppModel, fn *Function) (ilnode.Node, bool, bool, error) {
	ldr, ok := c.At(0)
	if !ok || !ldr.Ok() || ldr.Mnemonic != "LDR" {
		return ilnode.Node{}, false, false, nil
	}
	tmpReg, okd := ldr.Reg(0)
	base, _, _, okm := ldr.MemBase(1)
	if !okd || !okm || disasm.RegNum(base) != thrNum {
		return ilnode.Node{}, false, false, nil
	}

	cmp, ok := c.At(1)
	if !ok || !cmp.Ok() || cmp.Mnemonic != "CMP" {
		return ilnode.Node{}, false, false, nil
	}
	spOperand, oks := cmp.Reg(0)
	tmpOperand, okt := cmp.Reg(1)
	if !oks || !okt || disasm.RegNum(spOperand) != spNum || disasm.RegNum(tmpOperand) != disasm.RegNum(tmpReg) {
		return ilnode.Node{}, false, false, nil
	}

	br, ok := c.At(2)
	if !ok || !br.Ok() || br.Mnemonic != "B" {
		return ilnode.Node{}, false, false, nil
	}
	cond, okc := br.Cond()
	if !okc {
		return ilnode.Node{}, false, false, nil
	}

	end := br.Addr + 4
	rel, _ := br.Imm(0)
	target := uint64(int64(br.Addr) + rel)
	consumed := 3

	condName := cond.String()
	if condName == "HI" {
		br2, ok := c.At(3)
		if err := insnAssert(ok && br2.Ok() && br2.Mnemonic == "B",
			c, "CheckStackOverflow", "B.hi cont must be followed by B slow"); err != nil {
			return ilnode.Node{}, false, false, err
		}
		rel2, _ := br2.Imm(0)
		target = uint64(int64(br2.Addr) + rel2)
		end = br2.Addr + 4
		consumed = 4
	}

	codeEnd := fn.Entry.EntryAddr + uint64(fn.Entry.CodeSize)
	if err := insnAssert(target >= end && target < codeEnd,
		c, "CheckStackOverflow", "slow target must lie past the check and within the function's code"); err != nil {
		return ilnode.Node{}, false, false, err
	}

	fn.Out.FirstCheckStackOverflow = ldr.Addr
	_ = consumed
	return ilnode.Node{
		Kind:       ilnode.KindCheckStackOverflow,
		Range:      ilnode.AddrRange{Start: ldr.Addr, End: end},
		SlowTarget: target,
	}, true, false, nil
}

// handleSaveRegister matches `STR r,[SP,#-sz]!`, used for spilling around
// call sites.
func handleSaveRegister(c *disasm.Cursor, _ appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "STR" {
		return ilnode.Node{}, false, false, nil
	}
	src, oks := in.Reg(0)
	base, _, wb, okm := in.MemBase(1)
	if !oks || !okm || !wb || disasm.RegNum(base) != spNum {
		return ilnode.Node{}, false, false, nil
	}
	return ilnode.Node{
		Kind:  ilnode.KindSaveRegister,
		Range: ilnode.AddrRange{Start: in.Addr, End: in.Addr + 4},
		Src:   regFrom(src),
	}, true, false, nil
}

// handleLoadSavedRegister matches the paired load with writeback that
// restores a SaveRegister spill.
func handleLoadSavedRegister(c *disasm.Cursor, _ appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "LDR" {
		return ilnode.Node{}, false, false, nil
	}
	dst, okd := in.Reg(0)
	base, _, wb, okm := in.MemBase(1)
	if !okd || !okm || !wb || disasm.RegNum(base) != spNum {
		return ilnode.Node{}, false, false, nil
	}
	return ilnode.Node{
		Kind:  ilnode.KindRestoreRegister,
		Range: ilnode.AddrRange{Start: in.Addr, End: in.Addr + 4},
		Dst:   regFrom(dst),
	}, true, false, nil
}

// handleReturn matches `RET`.
func handleReturn(c *disasm.Cursor, _ appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "RET" {
		return ilnode.Node{}, false, false, nil
	}
	return ilnode.Node{
		Kind:  ilnode.KindReturn,
		Range: ilnode.AddrRange{Start: in.Addr, End: in.Addr + 4},
	}, true, false, nil
}
