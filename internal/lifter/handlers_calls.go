package lifter

import (
	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/varmodel"
)

// handleCall matches a direct `BL imm`, or an unconditional `B imm` whose
// target falls outside the function's own code range (a tail call). An
// unconditional B that stays within range is an ordinary intra-function
// branch and is left unmatched so later handlers — or, failing all of them,
// the driver's Unknown fallback — see it instead.
func handleCall(c *disasm.Cursor, app appmodel.AppModel, fn *Function) (ilnode.Node, bool, bool, error) {
	in, ok := c.At(0)
	if !ok || !in.Ok() {
		return ilnode.Node{}, false, false, nil
	}

	switch in.Mnemonic {
	case "BL":
		rel, oki := in.Imm(0)
		if !oki {
			return ilnode.Node{}, false, false, nil
		}
		return callNode(app, in, uint64(int64(in.Addr)+rel)), true, false, nil

	case "B":
		if _, hasCond := in.Cond(); hasCond {
			return ilnode.Node{}, false, false, nil
		}
		rel, oki := in.Imm(0)
		if !oki {
			return ilnode.Node{}, false, false, nil
		}
		target := uint64(int64(in.Addr) + rel)
		if target >= fn.Entry.EntryAddr && target < fn.Entry.EntryAddr+uint64(fn.Entry.CodeSize) {
			return ilnode.Node{}, false, false, nil
		}
		return callNode(app, in, target), true, false, nil
	}
	return ilnode.Node{}, false, false, nil
}

func callNode(app appmodel.AppModel, in disasm.Instruction, target uint64) ilnode.Node {
	name := ""
	if target, ok := app.GetFunction(target); ok {
		name = target.Name
	}
	return ilnode.Node{
		Kind:       ilnode.KindCall,
		Range:      ilnode.AddrRange{Start: in.Addr, End: in.Addr + 4},
		TargetFn:   target,
		TargetName: name,
	}
}

const dispatchTableNum = 21

// handleGdtCall matches the global-dispatch-table virtual call template:
// `(ADD|SUB) LR,cid_reg,#k; LDR LR,[DISPATCH_TABLE,LR,LSL#3]; BLR LR`
// (spec.md §4.3). When the selector offset is beyond the ADD/SUB immediate's
// range, the compiler instead emits `(ADD|SUB) LR,cid_reg,TMP2` against a
// register materialized by a preceding MOVZ/MOVK immediate load (handleLoadValue
// surfaces that as a LoadValue node over an Immediate-kind storage, not a
// genuine Dart value); that node is consumed with RemoveLast and its
// immediate supplies the selector.
func handleGdtCall(c *disasm.Cursor, _ appmodel.AppModel, fn *Function) (ilnode.Node, bool, bool, error) {
	addsub, ok := c.At(0)
	if !ok || !addsub.Ok() || (addsub.Mnemonic != "ADD" && addsub.Mnemonic != "SUB") {
		return ilnode.Node{}, false, false, nil
	}
	dst, okd := addsub.Reg(0)
	cidReg, okc := addsub.Reg(1)
	if !okd || !okc || disasm.RegNum(dst) != lrNum {
		return ilnode.Node{}, false, false, nil
	}

	var offset int64
	consumesLoadImm := false
	if imm, oki := addsub.Imm(2); oki {
		offset = imm
	} else if opReg, okr := addsub.Reg(2); okr && disasm.RegNum(opReg) == tmp2Num {
		last, hasLast := fn.Out.IL.Last()
		if !hasLast || last.Kind != ilnode.KindLoadValue || last.Item.Storage.Kind != varmodel.StorageImmediate {
			return ilnode.Node{}, false, false, nil
		}
		offset = last.Item.Value.IntVal
		consumesLoadImm = true
	} else {
		return ilnode.Node{}, false, false, nil
	}

	ldr, ok := c.At(1)
	if !ok || !ldr.Ok() || ldr.Mnemonic != "LDR" {
		return ilnode.Node{}, false, false, nil
	}
	ldrDst, okld := ldr.Reg(0)
	base, index, shift, okm := ldr.MemIndexed(1)
	if !okld || !okm || disasm.RegNum(ldrDst) != lrNum || disasm.RegNum(base) != dispatchTableNum ||
		disasm.RegNum(index) != lrNum || shift != 3 {
		return ilnode.Node{}, false, false, nil
	}

	blr, ok := c.At(2)
	if err := insnAssert(ok && blr.Ok() && blr.Mnemonic == "BLR", c, "GdtCall", "BLR LR must follow dispatch-table load"); err != nil {
		return ilnode.Node{}, false, false, err
	}
	blrReg, okb := blr.Reg(0)
	if err := insnAssert(okb && disasm.RegNum(blrReg) == lrNum, c, "GdtCall", "BLR operand must be LR"); err != nil {
		return ilnode.Node{}, false, false, err
	}

	start := addsub.Addr
	if consumesLoadImm {
		if removed, ok := fn.Out.IL.RemoveLast(); ok {
			start = removed.Range.Start
		}
	}

	selector := offset
	if addsub.Mnemonic == "SUB" {
		selector = -selector
	}

	return ilnode.Node{
		Kind:           ilnode.KindGdtCall,
		Range:          ilnode.AddrRange{Start: start, End: blr.Addr + 4},
		CidReg:         regFrom(cidReg),
		SelectorOffset: int(selector),
		BranchAddr:     addsub.Addr,
	}, true, false, nil
}
