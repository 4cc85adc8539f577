package lifter

import (
	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/pool"
	"github.com/dartlift/lifter/internal/varmodel"
)

// handleInstanceofNoTypeArgument matches the no-type-argument `instanceof`
// prologue-to-type-check template (spec.md §4.3): three setup MOVs, a
// BranchIfSmi guard, an optional class-id fast-path short circuit, two
// pool loads (the type under test, then a subtype-test-cache), and the
// BL into the type-test stub. It is registered ahead of the primitive
// BranchIfSmi/LoadClassId handlers so it claims the whole window first.
//
// pool.Resolve only ever inspects the cursor (via At), never advances it,
// so this handler walks the window by temporarily advancing the real
// cursor between sub-steps and always seeks back to its entry point
// before returning — the driver is the sole owner of committed advances.
func handleInstanceofNoTypeArgument(c *disasm.Cursor, app appmodel.AppModel, _ *Function) (ilnode.Node, bool, bool, error) {
	start := c.Pos()
	fail := func() (ilnode.Node, bool, bool, error) {
		c.Seek(start)
		return ilnode.Node{}, false, false, nil
	}

	mov1, ok := c.At(0)
	if !ok || !mov1.Ok() || mov1.Mnemonic != "MOV" {
		return fail()
	}
	srcReg, oks := mov1.Reg(1)
	if !oks {
		return fail()
	}

	for i := 0; i < 2; i++ {
		mv, ok := c.At(1 + i)
		if !ok || !mv.Ok() || mv.Mnemonic != "MOV" {
			return fail()
		}
		from, okf := mv.Reg(1)
		if !okf || disasm.RegNum(from) != nullNum {
			return fail()
		}
	}

	tbz, ok := c.At(3)
	if !ok || !tbz.Ok() || tbz.Mnemonic != "TBZ" {
		return fail()
	}
	bit, okb := tbz.Imm(1)
	if !okb || bit != 0 {
		return fail()
	}

	pos := 4
	if sub, ok := c.At(pos); ok && sub.Ok() && sub.Mnemonic == "SUB" {
		cmp, okc := c.At(pos + 1)
		br, okbr := c.At(pos + 2)
		if okc && cmp.Ok() && cmp.Mnemonic == "CMP" && okbr && br.Ok() && br.Mnemonic == "B" {
			if cond, okcc := br.Cond(); okcc && cond.String() == "LS" {
				pos += 3
			}
		}
	}

	c.Advance(pos)
	typeRes, ok, err := pool.Resolve(c, app)
	if err != nil {
		c.Seek(start)
		return ilnode.Node{}, false, false, err
	}
	if !ok {
		return fail()
	}
	c.Advance(typeRes.Consumed)

	cacheRes, ok, err := pool.Resolve(c, app)
	if err != nil {
		c.Seek(start)
		return ilnode.Node{}, false, false, err
	}
	if !ok {
		return fail()
	}
	c.Advance(cacheRes.Consumed)

	bl, ok := c.At(0)
	if err := insnAssert(ok && bl.Ok() && bl.Mnemonic == "BL", c, "InstanceofNoTypeArgument", "BL type_test_stub must follow the two pool loads"); err != nil {
		c.Seek(start)
		return ilnode.Node{}, false, false, err
	}
	end := bl.Addr + 4

	c.Seek(start)
	return ilnode.Node{
		Kind:     ilnode.KindTestType,
		Range:    ilnode.AddrRange{Start: mov1.Addr, End: end},
		Src:      regFrom(srcReg),
		TypeName: typeNameOf(typeRes.Item.Value),
	}, true, false, nil
}

func typeNameOf(v varmodel.VarValue) string {
	switch v.Kind {
	case varmodel.ValueType, varmodel.ValueTypeParameter, varmodel.ValueFunctionType, varmodel.ValueRecordType:
		return v.StrVal
	case varmodel.ValueExpression:
		return v.ExprText
	default:
		return v.String()
	}
}
