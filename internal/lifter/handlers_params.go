package lifter

import (
	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/params"
)

const argsDescNum = 4 // reg.ArgsDesc role (x4)

// handleOptionalParameters fires on `MOV X0,ARGS_DESC` once a non-zero stack
// allocation has already been recorded for the function (spec.md §4.5's
// trigger condition), then hands the remaining window to the params
// package's multi-step recovery state machine. params.Recover advances the
// cursor itself as it walks the template, so this handler rewinds back to
// its own entry point before returning: the driver is the only thing that
// ever commits a cursor advance, sized off the returned node's Range.
func handleOptionalParameters(c *disasm.Cursor, app appmodel.AppModel, fn *Function) (ilnode.Node, bool, bool, error) {
	mov, ok := c.At(0)
	if !ok || !mov.Ok() || mov.Mnemonic != "MOV" {
		return ilnode.Node{}, false, false, nil
	}
	dst, okd := mov.Reg(0)
	src, oks := mov.Reg(1)
	if !okd || !oks || disasm.RegNum(dst) != 0 || disasm.RegNum(src) != argsDescNum {
		return ilnode.Node{}, false, false, nil
	}
	if fn.Out.StackSize == 0 {
		return ilnode.Node{}, false, false, nil
	}

	start := c.Pos()
	c.Advance(1)
	consumed, fp, err := params.Recover(c, regFrom(dst), app)
	if err != nil {
		c.Seek(start)
		return ilnode.Node{}, false, false, wrapParamsErr(c, err)
	}
	if consumed == 0 {
		c.Seek(start)
		return ilnode.Node{}, false, false, nil
	}

	end := mov.Addr + 4 + uint64(consumed)*4
	c.Seek(start)
	fn.Out.Params = fp
	return ilnode.Node{
		Kind:   ilnode.KindSetupParameters,
		Range:  ilnode.AddrRange{Start: mov.Addr, End: end},
		Params: fp,
	}, true, false, nil
}

// wrapParamsErr reclassifies the params package's own InsnException/
// FatalAnalysis into the lifter package's equivalents so the driver's single
// error-handling path doesn't need to know about params's internal types.
func wrapParamsErr(c *disasm.Cursor, err error) error {
	switch e := err.(type) {
	case *params.InsnException:
		return insnAssert(false, c, "OptionalParameters", e.Reason)
	case *params.FatalAnalysis:
		return fatal(c, "OptionalParameters", e.Reason)
	default:
		return insnAssert(false, c, "OptionalParameters", err.Error())
	}
}
