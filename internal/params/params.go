// Package params recovers a function's positional/optional/named parameter
// descriptors from the AOT compiler's prologue template (spec.md §4.5). It
// is a separate subroutine from the matcher chain proper because the
// template spans a variable, sometimes large, instruction window with its
// own internal looping structure.
package params

import (
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"

	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/pool"
	"github.com/dartlift/lifter/internal/reg"
	"github.com/dartlift/lifter/internal/varmodel"
)

// InsnException signals a prologue window that looked like the optional-
// parameter template but had an unexpected shape; callers should treat the
// whole OptionalParameters handler as non-matching and let the current
// function's analysis continue degraded (spec.md §7).
type InsnException struct {
	At     uint64
	Reason string
}

func (e *InsnException) Error() string {
	return fmt.Sprintf("insn exception at 0x%x: %s", e.At, e.Reason)
}

// FatalAnalysis is raised when the default-value block's pool-backed value
// cannot be classified (pool.Resolve returns an error). The named-parameter
// walk does not raise it: the walk ends at the first position update that is
// neither ADD nor LSL, or after 64 iterations.
type FatalAnalysis struct {
	At     uint64
	Reason string
}

func (e *FatalAnalysis) Error() string {
	return fmt.Sprintf("fatal analysis at 0x%x: %s", e.At, e.Reason)
}

const wordSize = 8

// RenameChain tracks registers renamed by intervening MOVs, letting later
// steps resolve "the register a value currently lives in" back to the
// register a parameter was originally loaded into (spec.md §4.5 step 4/"also
// appropriately classify params whose register was moved by a later MOV").
type RenameChain struct {
	to map[reg.Register]reg.Register
}

func NewRenameChain() *RenameChain { return &RenameChain{to: map[reg.Register]reg.Register{}} }

func (c *RenameChain) Record(from, to reg.Register) { c.to[from] = to }

// Resolve follows the rename chain to the final register a value named `r`
// ended up in, or returns r unchanged if it was never renamed.
func (c *RenameChain) Resolve(r reg.Register) reg.Register {
	seen := map[reg.Register]bool{}
	cur := r
	for {
		next, ok := c.to[cur]
		if !ok || seen[cur] {
			return cur
		}
		seen[cur] = true
		cur = next
	}
}

// Recover runs the full parameter-recovery template starting at the cursor,
// triggered by the caller observing `MOV X0, ARGS_DESC` with non-zero stack
// size (spec.md §4.5's trigger condition). It returns the consumed
// instruction count and the recovered FnParams, or a zero count and nil
// FnParams if the window at the cursor doesn't match the template at all (not
// an error — the caller's OptionalParameters handler simply doesn't fire). app resolves the
// default-value block's pool-backed defaults (spec.md §4.5 step 5) and the
// class ids any of them carry.
func Recover(c *disasm.Cursor, argsDescReg reg.Register, app appmodel.AppModel) (int, *ilnode.FnParams, error) {
	start := c.Pos()

	consumed, numOptional, err := recoverParamCount(c)
	if err != nil {
		return 0, nil, err
	}
	if consumed == 0 {
		return 0, nil, nil
	}

	fp := &ilnode.FnParams{}
	renames := NewRenameChain()

	posConsumed, err := recoverPositional(c, fp)
	if err != nil {
		return 0, nil, err
	}
	consumed += posConsumed

	if numOptional > 0 {
		optConsumed, err := recoverOptionalPositional(c, fp, renames, app)
		if err != nil {
			return 0, nil, err
		}
		consumed += optConsumed
	} else if namedConsumed, matched, err := recoverNamedParams(c, fp, renames); err != nil {
		return 0, nil, err
	} else if matched {
		consumed += namedConsumed
		fp.IsNamedParam = true
	}

	applySpills(c, fp)

	_ = start
	return consumed, fp, nil
}

// recoverParamCount implements step 1: load numParams Smi from
// [X0,#count_offset] into X1, decompress pointer, and if the prologue then
// computes numOptional = X1 - numPositional, capture that count for the
// caller.
func recoverParamCount(c *disasm.Cursor) (int, int, error) {
	ld, ok := c.At(0)
	if !ok || !ld.Ok() || ld.Mnemonic != "LDR" {
		return 0, 0, nil
	}
	dec, ok := c.At(1)
	if !ok || !dec.Ok() || dec.Mnemonic != "ADD" {
		return 0, 0, nil
	}
	sub, ok := c.At(2)
	consumed := 2
	numOptional := 0
	if ok && sub.Ok() && sub.Mnemonic == "SUB" {
		if imm, isImm := sub.Imm(2); isImm {
			numOptional = int(imm)
		}
		consumed = 3
	}
	c.Advance(consumed)
	return consumed, numOptional, nil
}

// recoverPositional implements step 2: for each fixed positional parameter,
// decode a pointer-math load from FP and record it.
func recoverPositional(c *disasm.Cursor, fp *ilnode.FnParams) (int, error) {
	consumed := 0
	for {
		in, ok := c.At(0)
		if !ok || !in.Ok() {
			break
		}
		if in.Mnemonic != "LDR" && in.Mnemonic != "LDUR" {
			break
		}
		base, disp, _, okm := in.MemBase(1)
		if !okm || disasm.RegNum(base) != fpRegNum {
			break
		}
		dstReg, okd := in.Reg(0)
		if !okd {
			break
		}
		fp.Params = append(fp.Params, ilnode.FnParamInfo{
			ValueReg:    reg.General(disasm.RegNum(dstReg)),
			LocalOffset: int(disp),
			Loaded:      true,
		})
		fp.NumFixedParam++
		c.Advance(1)
		consumed++
	}
	return consumed, nil
}

// recoverOptionalPositional implements steps 3-5: the per-slot CMP/branch
// loop, the "all passed" unboxing branch, and the default-value block.
func recoverOptionalPositional(c *disasm.Cursor, fp *ilnode.FnParams, renames *RenameChain, app appmodel.AppModel) (int, error) {
	consumed := 0
	missingTargets := []uint64{}

	for {
		cmp, ok := c.At(0)
		if !ok || !cmp.Ok() || cmp.Mnemonic != "CMP" {
			break
		}
		br, ok := c.At(1)
		if !ok || !br.Ok() {
			break
		}
		cond, okc := br.Cond()
		if !okc {
			break
		}
		rel, okt := br.Imm(0)
		if !okt {
			break
		}
		_ = cond
		missingTargets = append(missingTargets, uint64(int64(br.Addr)+rel))
		c.Advance(2)
		consumed += 2

		ld, ok := c.At(0)
		if ok && ld.Ok() && (ld.Mnemonic == "LDR" || ld.Mnemonic == "LDUR") {
			dstReg, okd := ld.Reg(0)
			_, disp, _, okm := ld.MemBase(1)
			if okd && okm {
				fp.Params = append(fp.Params, ilnode.FnParamInfo{
					ValueReg:    reg.General(disasm.RegNum(dstReg)),
					LocalOffset: int(disp),
					Loaded:      true,
				})
				c.Advance(1)
				consumed++
				continue
			}
		}
		fp.Params = append(fp.Params, ilnode.FnParamInfo{Loaded: false})
	}

	consumed += recoverAllPassedUnboxing(c, fp)

	for {
		mv, ok := c.At(0)
		if !ok || !mv.Ok() || mv.Mnemonic != "MOV" {
			break
		}
		dstReg, okd := mv.Reg(0)
		srcReg, oks := mv.Reg(1)
		if !okd || !oks {
			break
		}
		renames.Record(reg.General(disasm.RegNum(srcReg)), reg.General(disasm.RegNum(dstReg)))
		c.Advance(1)
		consumed++
	}

	defaults, defConsumed, err := recoverDefaultValues(c, app)
	if err != nil {
		return consumed, err
	}
	consumed += defConsumed
	if len(defaults) > 0 {
		Unbox(fp, defaults)
	}

	for i := range fp.Params {
		if !fp.Params[i].Loaded && fp.Params[i].DeclaredType == "" {
			fp.Params[i].DeclaredType = "dynamic"
		}
	}
	_ = missingTargets
	return consumed, nil
}

// recoverAllPassedUnboxing implements step 4's "all passed" unboxing branch:
// a loaded optional parameter's boxed value may be immediately unboxed into a
// fresh register — `SBFX dst,src,#1,#31` for a Smi-or-Mint int (the same
// shape handleLoadInt32FromBoxOrSmi recognizes in the general matcher chain)
// or a load off the box's value field into a float register for a double —
// tying the unboxed register back to the parameter it came from and
// recording its now-known declared type (spec.md §4.5 step 4).
func recoverAllPassedUnboxing(c *disasm.Cursor, fp *ilnode.FnParams) int {
	consumed := 0
	for {
		in, ok := c.At(0)
		if !ok || !in.Ok() {
			break
		}
		switch in.Mnemonic {
		case "SBFX":
			dstReg, okd := in.Reg(0)
			srcReg, oks := in.Reg(1)
			if !okd || !oks {
				return consumed
			}
			idx := findUnboxSource(fp, reg.General(disasm.RegNum(srcReg)))
			if idx < 0 {
				return consumed
			}
			fp.Params[idx].ValueReg = reg.General(disasm.RegNum(dstReg))
			fp.Params[idx].DeclaredType = "int"
		case "LDR", "LDUR":
			dstReg, okd := in.Reg(0)
			base, _, _, okm := in.MemBase(1)
			if !okd || !okm || !isFloatOperand(dstReg) {
				return consumed
			}
			idx := findUnboxSource(fp, reg.General(disasm.RegNum(base)))
			if idx < 0 {
				return consumed
			}
			fp.Params[idx].ValueReg = reg.Float(floatRegNum(dstReg))
			fp.Params[idx].DeclaredType = "double"
		default:
			return consumed
		}
		c.Advance(1)
		consumed++
	}
	return consumed
}

// findUnboxSource finds the loaded, not-yet-typed parameter currently
// holding src, the register an unboxing instruction consumes as its boxed
// operand.
func findUnboxSource(fp *ilnode.FnParams, src reg.Register) int {
	for i := range fp.Params {
		if fp.Params[i].Loaded && fp.Params[i].DeclaredType == "" && fp.Params[i].ValueReg == src {
			return i
		}
	}
	return -1
}

func isFloatOperand(r arm64asm.Reg) bool {
	s := r.String()
	return len(s) > 0 && (s[0] == 'D' || s[0] == 'd' || s[0] == 'S' || s[0] == 's')
}

// floatRegNum extracts the numeric index from a D/S register operand.
// disasm.RegNum only trims the X/W general-purpose prefixes, so float
// operands need their own prefix-agnostic digit scan.
func floatRegNum(r arm64asm.Reg) int {
	s := r.String()
	n := 0
	any := false
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			if any {
				break
			}
			continue
		}
		any = true
		n = n*10 + int(ch-'0')
	}
	if !any {
		return -1
	}
	return n
}

// recoverDefaultValues implements step 5: the default-value block between
// the first missing-param branch target and the common storing code. It
// decodes a run of pool-backed or immediate LoadValue-shaped materializations
// (the same templates handlers_value.go's matchers recognize in the general
// matcher chain, reproduced locally since this window is fully consumed
// inside params sub-recovery and never reaches that chain) into one default
// per recognized value, in the order the compiler emits them.
func recoverDefaultValues(c *disasm.Cursor, app appmodel.AppModel) ([]varmodel.VarValue, int, error) {
	var defaults []varmodel.VarValue
	consumed := 0
	for {
		if res, ok, err := pool.Resolve(c, app); err != nil {
			return defaults, consumed, &FatalAnalysis{Reason: err.Error()}
		} else if ok {
			defaults = append(defaults, res.Item.Value)
			c.Advance(res.Consumed)
			consumed += res.Consumed
			continue
		}
		if v, n, ok := matchImmediateDefault(c); ok {
			defaults = append(defaults, v)
			c.Advance(n)
			consumed += n
			continue
		}
		break
	}
	return defaults, consumed, nil
}

const nullRegNum = 22

func matchImmediateDefault(c *disasm.Cursor) (varmodel.VarValue, int, bool) {
	if v, ok := matchMovzMovkDefault(c); ok {
		return v, 2, true
	}
	if v, ok := matchOrrImmediateDefault(c); ok {
		return v, 1, true
	}
	if v, ok := matchMovnDefault(c); ok {
		return v, 1, true
	}
	if v, ok := matchMovNullDefault(c); ok {
		return v, 1, true
	}
	if v, ok := matchEorZeroDoubleDefault(c); ok {
		return v, 1, true
	}
	if v, ok := matchFmovDoubleDefault(c); ok {
		return v, 1, true
	}
	return varmodel.VarValue{}, 0, false
}

func matchMovzMovkDefault(c *disasm.Cursor) (varmodel.VarValue, bool) {
	movz, ok := c.At(0)
	if !ok || !movz.Ok() || movz.Mnemonic != "MOVZ" {
		return varmodel.VarValue{}, false
	}
	lo, okl := movz.Imm(1)
	if !okl {
		return varmodel.VarValue{}, false
	}
	movk, ok := c.At(1)
	if !ok || !movk.Ok() || movk.Mnemonic != "MOVK" {
		return varmodel.VarValue{}, false
	}
	hi, okh := movk.Imm(1)
	if !okh {
		return varmodel.VarValue{}, false
	}
	return varmodel.Integer(varmodel.IntNative, lo|hi), true
}

func matchOrrImmediateDefault(c *disasm.Cursor) (varmodel.VarValue, bool) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "ORR" {
		return varmodel.VarValue{}, false
	}
	srcReg, oks := in.Reg(1)
	imm, oki := in.Imm(2)
	if !oks || !oki || disasm.RegNum(srcReg) != 31 {
		return varmodel.VarValue{}, false
	}
	return varmodel.Integer(varmodel.IntNative, imm), true
}

func matchMovnDefault(c *disasm.Cursor) (varmodel.VarValue, bool) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "MOVN" {
		return varmodel.VarValue{}, false
	}
	imm, oki := in.Imm(1)
	if !oki {
		return varmodel.VarValue{}, false
	}
	return varmodel.Integer(varmodel.IntNative, ^imm), true
}

func matchMovNullDefault(c *disasm.Cursor) (varmodel.VarValue, bool) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "MOV" {
		return varmodel.VarValue{}, false
	}
	_, okd := in.Reg(0)
	srcReg, oks := in.Reg(1)
	if !okd || !oks || disasm.RegNum(srcReg) != nullRegNum {
		return varmodel.VarValue{}, false
	}
	return varmodel.Null(), true
}

func matchEorZeroDoubleDefault(c *disasm.Cursor) (varmodel.VarValue, bool) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "EOR" {
		return varmodel.VarValue{}, false
	}
	dstReg, okd := in.Reg(0)
	src1, ok1 := in.Reg(1)
	src2, ok2 := in.Reg(2)
	if !okd || !ok1 || !ok2 || !isFloatOperand(dstReg) {
		return varmodel.VarValue{}, false
	}
	if floatRegNum(src1) != floatRegNum(dstReg) || floatRegNum(src2) != floatRegNum(dstReg) {
		return varmodel.VarValue{}, false
	}
	return varmodel.Double(0), true
}

func matchFmovDoubleDefault(c *disasm.Cursor) (varmodel.VarValue, bool) {
	in, ok := c.At(0)
	if !ok || !in.Ok() || in.Mnemonic != "FMOV" {
		return varmodel.VarValue{}, false
	}
	dstReg, okd := in.Reg(0)
	if !okd || !isFloatOperand(dstReg) {
		return varmodel.VarValue{}, false
	}
	for _, a := range in.Args {
		if fp, ok := a.(interface{ Float() float64 }); ok {
			return varmodel.Double(fp.Float()), true
		}
	}
	return varmodel.VarValue{}, false
}

// recoverNamedParams implements the named-parameter walk. It returns
// matched=false (not an error) if the window doesn't open with the
// characteristic load at [args_desc, #first_named_entry_off].
func recoverNamedParams(c *disasm.Cursor, fp *ilnode.FnParams, renames *RenameChain) (int, bool, error) {
	first, ok := c.At(0)
	if !ok || !first.Ok() || (first.Mnemonic != "LDR" && first.Mnemonic != "LDUR") {
		return 0, false, nil
	}
	_, _, _, okm := first.MemBase(1)
	if !okm {
		return 0, false, nil
	}
	c.Advance(1)
	consumed := 1

	for iterations := 0; iterations < 64; iterations++ {
		nameLoad, ok := c.At(0)
		if !ok || !nameLoad.Ok() {
			break
		}
		if nameLoad.Mnemonic != "LDR" {
			break
		}
		c.Advance(1)
		consumed++

		cmp, ok := c.At(0)
		if !ok || !cmp.Ok() || cmp.Mnemonic != "CMP" {
			return consumed, true, &InsnException{At: cmp.Addr, Reason: "expected CMP after named-param candidate load"}
		}
		c.Advance(1)
		consumed++

		beq, ok := c.At(0)
		hasSkip := ok && beq.Ok() && beq.Mnemonic == "B" // B.EQ rendered as conditional B
		if hasSkip {
			c.Advance(1)
			consumed++
		}

		requiredAdd, ok := c.At(0)
		isRequired := false
		if ok && requiredAdd.Ok() && requiredAdd.Mnemonic == "ADD" {
			if imm, okImm := requiredAdd.Imm(2); okImm {
				isRequired = imm == 0xa
			}
			c.Advance(1)
			consumed++
		}

		argLoad, ok := c.At(0)
		if ok && argLoad.Ok() && (argLoad.Mnemonic == "LDR" || argLoad.Mnemonic == "LDUR") {
			dstReg, okd := argLoad.Reg(0)
			if okd {
				fp.Params = append(fp.Params, ilnode.FnParamInfo{
					ValueReg:   reg.General(disasm.RegNum(dstReg)),
					Name:       fmt.Sprintf("named%d", len(fp.Params)),
					HasDefault: !isRequired,
					Loaded:     true,
				})
			}
			c.Advance(1)
			consumed++
		}

		updatePos, ok := c.At(0)
		if !ok || !updatePos.Ok() {
			break
		}
		if updatePos.Mnemonic != "ADD" && updatePos.Mnemonic != "LSL" {
			// End-of-loop detected: the encoder stopped incrementing the
			// current named-param position (spec.md §4.5's documented
			// open question). Terminate cleanly rather than guess further.
			break
		}
		c.Advance(1)
		consumed++
	}

	_ = renames
	return consumed, true, nil
}

const fpRegNum = 29

// applySpills implements step 6: trailing `STUR src,[FP,#neg]` lines spill
// each recovered parameter's local offset.
func applySpills(c *disasm.Cursor, fp *ilnode.FnParams) {
	for {
		in, ok := c.At(0)
		if !ok || !in.Ok() || in.Mnemonic != "STUR" {
			break
		}
		srcReg, oks := in.Reg(0)
		base, disp, _, okm := in.MemBase(1)
		if !oks || !okm || disasm.RegNum(base) != fpRegNum {
			break
		}
		for i := range fp.Params {
			if fp.Params[i].ValueReg == reg.General(disasm.RegNum(srcReg)) {
				fp.Params[i].LocalOffset = int(disp)
			}
		}
		c.Advance(1)
	}
}

// Unbox zips the default-value block's decoded values (step 5) into the
// params the caller's fast path skipped — a param recorded as "not loaded"
// is exactly the one whose per-slot branch skips the load because the caller
// passed fewer arguments than that slot, so it's the one that
// needs a compiler-supplied default, not the ones that already got a caller
// value. Each defaulted param is marked Loaded afterward: it now carries a
// value, just sourced from the default block instead of the caller
// (spec.md §4.5's "zip into FnParams in order").
func Unbox(fp *ilnode.FnParams, defaults []varmodel.VarValue) {
	di := 0
	for i := range fp.Params {
		if fp.Params[i].Loaded {
			continue
		}
		if di >= len(defaults) {
			return
		}
		fp.Params[i].Default = defaults[di]
		fp.Params[i].HasDefault = true
		fp.Params[i].Loaded = true
		di++
	}
}
