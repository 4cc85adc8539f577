// Package asmtext renders decoded instructions into the annotated textual
// form AnalyzedFunction carries: register-role substitution plus semantic
// tags attached by annotation (ThreadOffset) or by the lifter as it matches
// templates (PoolOffset, Boolean, Call) — spec.md §3/§4.6.
package asmtext

import (
	"fmt"
	"strings"

	"github.com/dartlift/lifter/internal/disasm"
)

// Tag discriminates the semantic annotation attached to an AsmText line. A
// line receives at most one tag, ever (spec.md §3 lifecycle invariant).
type Tag int

const (
	TagNone Tag = iota
	TagThreadOffset
	TagPoolOffset
	TagBoolean
	TagCall
)

// ThreadClass coarsely classifies an unresolved thread-offset access, for
// annotation only — it never influences IL shape (SPEC_FULL §4).
type ThreadClass int

const (
	ThreadClassNone ThreadClass = iota
	ThreadClassRuntimeEntrypoint
	ThreadClassObjectStoreCache
	ThreadClassIsolateGroupPtr
	ThreadClassUnknown
)

// AsmText is one annotated assembly line.
type AsmText struct {
	Addr     uint64
	Mnemonic string
	Operands string

	Tag Tag

	ThreadOffset int // TagThreadOffset
	ThreadName   string
	ThreadClass  ThreadClass

	PoolOffset int // TagPoolOffset

	BoolVal bool // TagBoolean

	CallAddr uint64 // TagCall
	CallName string
}

func (a AsmText) Text() string {
	return fmt.Sprintf("%-16s%s", a.Mnemonic, a.Operands)
}

// roleSubstitutions implements the token-boundary rewrite table from
// spec.md §4.6, derived from the reference tool's convertAsm register scan.
var roleSubstitutions = map[string]string{
	"x15": "SP", "w15": "SP",
	"x22": "NULL", "w22": "NULL",
	"x26": "THR", "w26": "THR",
	"x27": "PP", "w27": "PP",
	"x28": "HEAP", "w28": "HEAP",
	"x29": "fp",
	"x30": "lr",
}

// substituteRegisters rewrites raw register tokens to their role names,
// matching only at token boundaries: start of string, or after ' ' or '['.
func substituteRegisters(operands string) string {
	var b strings.Builder
	i := 0
	for i < len(operands) {
		if isBoundary(operands, i) {
			if tok, repl, n := matchToken(operands[i:]); tok {
				b.WriteString(repl)
				i += n
				continue
			}
		}
		b.WriteByte(operands[i])
		i++
	}
	return b.String()
}

func isBoundary(s string, i int) bool {
	if i == 0 {
		return true
	}
	prev := s[i-1]
	return prev == ' ' || prev == '['
}

func matchToken(s string) (matched bool, replacement string, consumed int) {
	for raw, repl := range roleSubstitutions {
		if strings.HasPrefix(s, raw) {
			// Ensure the raw token isn't a prefix of a longer register name
			// (e.g. "x2" shouldn't match inside "x29").
			end := len(raw)
			if end < len(s) && isIdentByte(s[end]) {
				continue
			}
			return true, repl, end
		}
	}
	return false, "", 0
}

func isIdentByte(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Annotate builds the AsmText buffer for a function's decoded instructions,
// performing register substitution and attaching TagThreadOffset where the
// last operand is THR-based memory. thrFieldName resolves a thread byte
// offset to a human name for annotation, or ("", false) if unresolved — in
// which case classify supplies a coarse ThreadClass from neighboring
// instructions.
func Annotate(insts []disasm.Instruction, thrFieldName func(offset int) (string, bool)) []AsmText {
	out := make([]AsmText, 0, len(insts))
	for idx, in := range insts {
		text := AsmText{Addr: in.Addr, Mnemonic: in.Mnemonic}
		if !in.Ok() {
			text.Operands = fmt.Sprintf("0x%08x", in.Raw)
			out = append(out, text)
			continue
		}
		raw := in.Text
		parts := strings.SplitN(raw, " ", 2)
		operands := ""
		if len(parts) > 1 {
			operands = strings.TrimSpace(parts[1])
		}
		text.Operands = substituteRegisters(operands)

		if off, ok := thrMemOffset(in); ok {
			text.Tag = TagThreadOffset
			text.ThreadOffset = off
			if name, ok := thrFieldName(off); ok {
				text.ThreadName = name
			} else {
				text.ThreadClass = classifyUnresolvedThread(insts, idx, off)
			}
		}
		out = append(out, text)
	}
	return out
}

// thrMemOffset reports the THR-relative byte offset of in's memory operand,
// if any operand addresses [THR, #disp].
func thrMemOffset(in disasm.Instruction) (int, bool) {
	const thrRegNum = 26
	for i := range in.Args {
		base, disp, _, ok := in.MemBase(i)
		if !ok {
			continue
		}
		if disasm.RegNum(base) == thrRegNum {
			return int(disp), true
		}
	}
	return 0, false
}

// classifyUnresolvedThread assigns a coarse classification to a THR access
// that the thread-field table doesn't name, based on neighboring
// instructions — grounded in the reference THRContextAnnotator's
// context-based classification, adapted to a text-only annotation that never
// feeds back into IL.
func classifyUnresolvedThread(insts []disasm.Instruction, idx, offset int) ThreadClass {
	const (
		runtimeEntryLow, runtimeEntryHigh = 0x400, 0x1000
		objStoreLow, objStoreHigh         = 0x100, 0x400
		isolateGroupLow, isolateGroupHigh = 0, 0x100
	)
	// Look at the following instruction: a BLR/BL right after a THR load
	// at a high offset is almost always a runtime entrypoint call.
	if idx+1 < len(insts) {
		next := insts[idx+1]
		if next.Ok() && (next.Op.String() == "BLR" || next.Op.String() == "BL") && offset >= runtimeEntryLow && offset < runtimeEntryHigh {
			return ThreadClassRuntimeEntrypoint
		}
	}
	switch {
	case offset >= objStoreLow && offset < objStoreHigh:
		return ThreadClassObjectStoreCache
	case offset >= isolateGroupLow && offset < isolateGroupHigh:
		return ThreadClassIsolateGroupPtr
	default:
		return ThreadClassUnknown
	}
}
