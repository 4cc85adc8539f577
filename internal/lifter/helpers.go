package lifter

import (
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/reg"
)

// regFrom converts a decoded arm64asm register operand into the lifter's
// reg.Register, preserving whether it names a floating-point register.
func regFrom(r arm64asm.Reg) reg.Register {
	n := disasm.RegNum(r)
	if isFloatReg(r) {
		return reg.Float(n)
	}
	return reg.General(n)
}

func isFloatReg(r arm64asm.Reg) bool {
	s := r.String()
	return len(s) > 0 && (s[0] == 'D' || s[0] == 'd' || s[0] == 'S' || s[0] == 's' || s[0] == 'V' || s[0] == 'v')
}

// regWidthBytes returns the operand width in bytes implied by an arm64asm
// register's name (the W/S prefix selects the 32-bit view), used when a
// load/store mnemonic alone doesn't pin down the element size.
func regWidthBytes(r arm64asm.Reg) int {
	s := r.String()
	if len(s) > 0 && (s[0] == 'W' || s[0] == 'w' || s[0] == 'S' || s[0] == 's') {
		return 4
	}
	return 8
}
