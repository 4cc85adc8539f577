// Package disasm wraps golang.org/x/arch/arm64/arm64asm into the typed,
// address-indexed instruction sequence the matcher chain walks. This is the
// concrete implementation of the Disassembler contract (spec.md §6); it
// assumes fixed 4-byte ARM64 encoding for index estimation only, never for
// correctness.
package disasm

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// Instruction is one decoded ARM64 instruction, exposing the operand-level
// detail pattern handlers need: register numbers, immediates, memory base +
// offset + writeback, shift/extend, and condition code.
type Instruction struct {
	Addr uint64
	Raw  uint32
	Op   arm64asm.Op
	Args [5]arm64asm.Arg

	Mnemonic string
	Text     string

	decodeErr error
}

// Ok reports whether the instruction decoded successfully. A failed decode
// still carries Addr/Raw so the driver can still advance past it.
func (in Instruction) Ok() bool { return in.decodeErr == nil }

func (in Instruction) String() string {
	if !in.Ok() {
		return fmt.Sprintf(".word 0x%08x", in.Raw)
	}
	return in.Text
}

// Reg returns operand i as a register if it is one. An SP-capable operand
// (arm64asm.RegSP) is returned as the plain register it wraps.
func (in Instruction) Reg(i int) (arm64asm.Reg, bool) {
	switch r := in.Args[i].(type) {
	case arm64asm.Reg:
		return r, true
	case arm64asm.RegSP:
		return arm64asm.Reg(r), true
	}
	return 0, false
}

// Imm returns operand i as a signed immediate if it is one, covering the
// several immediate operand kinds arm64asm distinguishes. For a shifted
// immediate (MOVZ/MOVK/MOVN's #imm16,LSL#n and ADD/SUB's #imm12,LSL#12),
// the returned value already has the shift applied, matching the operand's
// effective contribution to the instruction's semantics.
func (in Instruction) Imm(i int) (int64, bool) {
	switch a := in.Args[i].(type) {
	case arm64asm.Imm:
		return int64(a.Imm), true
	case arm64asm.Imm64:
		return a.Imm, true
	case arm64asm.ImmShift:
		return parseImmShift(a.String()), true
	case arm64asm.PCRel:
		return int64(a), true
	}
	return 0, false
}

// parseImmShift extracts an ImmShift's effective value from its rendered
// text, e.g. "#0x38" or "#0x38, LSL #16" — arm64asm.ImmShift keeps both
// fields unexported, so (as with MemImmediate) the rendered form is the
// only externally-accessible source.
func parseImmShift(s string) int64 {
	val := parseMemDisp(s)
	shift := 0
	if idx := strings.Index(s, "LSL #"); idx >= 0 {
		shift = parseDecInt(s[idx+len("LSL #"):])
	} else if idx := strings.Index(s, "MSL #"); idx >= 0 {
		shift = parseDecInt(s[idx+len("MSL #"):])
	}
	return val << uint(shift)
}

func parseDecInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}

// MemBase returns operand i's base register and displacement if it is a
// memory operand, along with whether the addressing mode carries writeback.
// arm64asm.MemImmediate keeps its immediate field unexported, so the
// displacement is recovered from the operand's own rendered text instead of
// the struct directly.
func (in Instruction) MemBase(i int) (base arm64asm.Reg, disp int64, writeback bool, ok bool) {
	m, isMem := in.Args[i].(arm64asm.MemImmediate)
	if !isMem {
		return 0, 0, false, false
	}
	base = arm64asm.Reg(m.Base)
	disp = parseMemDisp(m.String())
	switch m.Mode {
	case arm64asm.AddrPreIndex, arm64asm.AddrPostIndex:
		writeback = true
	}
	return base, disp, writeback, true
}

// parseMemDisp extracts the #imm portion of a MemImmediate's rendered form,
// e.g. "[x1,#0x38]", "[x1,#-0x38]!", or "[x1],#0x10".
func parseMemDisp(s string) int64 {
	i := strings.IndexByte(s, '#')
	if i < 0 {
		return 0
	}
	s = s[i+1:]
	end := 0
	for end < len(s) && isImmByte(s[end]) {
		end++
	}
	s = s[:end]
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	n, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return 0
	}
	if neg {
		n = -n
	}
	return n
}

func isImmByte(b byte) bool {
	return b == '-' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') || b == 'x' || b == 'X'
}

// MemIndexed returns operand i's base and index registers and shift amount
// if it is a register-extended memory operand (`[base,index,LSL#n]`), used
// by the dispatch-table and register-indexed array access templates.
func (in Instruction) MemIndexed(i int) (base, index arm64asm.Reg, shift int, ok bool) {
	m, isMem := in.Args[i].(arm64asm.MemExtend)
	if !isMem {
		return 0, 0, 0, false
	}
	return arm64asm.Reg(m.Base), m.Index, int(m.Amount), true
}

// RegNum extracts the numeric index (0-30) from a general-purpose register
// operand, ignoring the X/W width prefix, and returns 31 for SP/WSP and
// XZR/WZR. Handlers compare this against the fixed role numbers in package
// reg (THR=26, PP=27, ...).
func RegNum(r arm64asm.Reg) int {
	s := r.String()
	s = trimRegPrefix(s)
	if s == "SP" || s == "ZR" {
		return 31
	}
	n := 0
	any := false
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		any = true
		n = n*10 + int(c-'0')
	}
	if !any {
		return -1
	}
	return n
}

func trimRegPrefix(s string) string {
	for len(s) > 0 && (s[0] == 'X' || s[0] == 'x' || s[0] == 'W' || s[0] == 'w') {
		s = s[1:]
	}
	return s
}

// Cond returns the instruction's branch condition code if it is a
// conditional branch.
func (in Instruction) Cond() (arm64asm.Cond, bool) {
	for _, a := range in.Args {
		if c, ok := a.(arm64asm.Cond); ok {
			return c, true
		}
	}
	return 0, false
}

// Options controls decoding of a byte region into an Instruction sequence.
type Options struct {
	BaseAddr uint64
}

// Disassemble decodes every 4-byte-aligned instruction in data, tagging each
// with its virtual address (BaseAddr + byte offset).
func Disassemble(data []byte, opts Options) []Instruction {
	n := len(data) / 4
	out := make([]Instruction, 0, n)
	for i := 0; i < n; i++ {
		off := i * 4
		raw := binary.LittleEndian.Uint32(data[off : off+4])
		addr := opts.BaseAddr + uint64(off)
		out = append(out, decodeOne(raw, addr))
	}
	return out
}

func decodeOne(raw uint32, addr uint64) Instruction {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, raw)
	inst, err := arm64asm.Decode(buf)
	if err != nil {
		return Instruction{Addr: addr, Raw: raw, decodeErr: err}
	}
	text := arm64asm.GNUSyntax(inst)
	return Instruction{
		Addr:     addr,
		Raw:      raw,
		Op:       inst.Op,
		Args:     inst.Args,
		Mnemonic: inst.Op.String(),
		Text:     text,
	}
}

// Cursor walks a function's decoded instruction sequence, letting matcher
// chain handlers look ahead within a window and advance by a consumed count.
type Cursor struct {
	insts []Instruction
	pos   int
}

func NewCursor(insts []Instruction) *Cursor { return &Cursor{insts: insts} }

// At returns the instruction pos+i ahead of the cursor, or false past the end.
func (c *Cursor) At(i int) (Instruction, bool) {
	idx := c.pos + i
	if idx < 0 || idx >= len(c.insts) {
		return Instruction{}, false
	}
	return c.insts[idx], true
}

// Cur returns the instruction at the cursor, or false at end of stream.
func (c *Cursor) Cur() (Instruction, bool) { return c.At(0) }

// Pos returns the cursor's current index into the instruction sequence.
func (c *Cursor) Pos() int { return c.pos }

// Len returns the total instruction count.
func (c *Cursor) Len() int { return len(c.insts) }

// Done reports whether the cursor has walked past the last instruction.
func (c *Cursor) Done() bool { return c.pos >= len(c.insts) }

// Advance moves the cursor forward by n instructions (n >= 1).
func (c *Cursor) Advance(n int) { c.pos += n }

// Seek resets the cursor to an absolute instruction index. Used by handlers
// that delegate to a sub-recovery routine which advances the cursor itself
// (internal/params.Recover): the handler rewinds back to its own entry point
// afterward so the driver's own Range-based Advance is the single source of
// truth for how far the chain moved.
func (c *Cursor) Seek(pos int) { c.pos = pos }

// Context returns up to n instructions before and after the cursor's current
// position, for diagnostic reporting (spec.md §4.1/§7's ±4 instruction
// context requirement).
func (c *Cursor) Context(n int) []Instruction {
	lo := c.pos - n
	if lo < 0 {
		lo = 0
	}
	hi := c.pos + n + 1
	if hi > len(c.insts) {
		hi = len(c.insts)
	}
	return c.insts[lo:hi]
}
