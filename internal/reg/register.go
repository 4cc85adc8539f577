// Package reg models the ARM64 register file used by Dart AOT-compiled code,
// plus the synthetic slots and role aliases the lifter needs to recognize
// compiler-generated templates (THR, PP, HEAP_BITS, write-barrier registers,
// and so on).
package reg

import "fmt"

// Kind distinguishes the register file a Register belongs to.
type Kind uint8

const (
	KindNone Kind = iota
	KindGeneral
	KindFloat
	KindSynthetic
)

// Synthetic register numbers, disjoint from the 0-30 general/float ranges.
const (
	synthSP = 100 + iota
	synthZR
	synthNZCV
)

// Register is a single ARM64 general-purpose or floating-point register, or
// one of the synthetic slots (SP, ZR, NZCV). Num is the raw register number
// (0-30 for Xn/Wn and Dn/Sn, or a synth* constant).
type Register struct {
	Kind Kind
	Num  int
}

// NoRegister is the zero value; IsSet reports false for it.
var NoRegister = Register{}

func General(num int) Register { return Register{Kind: KindGeneral, Num: num} }
func Float(num int) Register   { return Register{Kind: KindFloat, Num: num} }

var (
	SP   = Register{Kind: KindSynthetic, Num: synthSP}
	ZR   = Register{Kind: KindSynthetic, Num: synthZR}
	NZCV = Register{Kind: KindSynthetic, Num: synthNZCV}
)

func (r Register) IsSet() bool { return r.Kind != KindNone }

func (r Register) IsFloat() bool { return r.Kind == KindFloat }

func (r Register) String() string {
	switch r.Kind {
	case KindGeneral:
		return fmt.Sprintf("x%d", r.Num)
	case KindFloat:
		return fmt.Sprintf("d%d", r.Num)
	case KindSynthetic:
		switch r.Num {
		case synthSP:
			return "SP"
		case synthZR:
			return "ZR"
		case synthNZCV:
			return "NZCV"
		}
	}
	return "<noreg>"
}

// Role is a compiler-convention alias for a fixed general-purpose register in
// Dart AOT-generated code. Roles are configuration, fixed for the lifetime of
// a lift, never per-function state (spec.md §3).
type Role int

const (
	RoleNone Role = iota
	RoleTHR       // thread pointer
	RolePP        // object pool pointer
	RoleHeapBits  // heap base, used for pointer decompression
	RoleNull      // preloaded Null object
	RoleDispatchTable
	RoleArgsDesc
	RoleWriteBarrierObject
	RoleWriteBarrierValue
	RoleWriteBarrierSlot
	RoleTmp
	RoleTmp2
	RoleLR
	RoleFP
)

// RoleSet maps fixed register numbers to their Dart AOT role. The concrete
// numbers come from the Dart ARM64 calling convention (dart::vm, A64::* in
// the reference implementation) and are stable across target versions, so
// they're wired here rather than threaded through appmodel.Config.
var RoleSet = map[Register]Role{
	General(26): RoleTHR,
	General(27): RolePP,
	General(28): RoleHeapBits,
	General(22): RoleNull,
	General(21): RoleDispatchTable,
	General(4):  RoleArgsDesc,
	General(1):  RoleWriteBarrierObject,
	General(0):  RoleWriteBarrierValue,
	General(25): RoleWriteBarrierSlot,
	General(16): RoleTmp,
	General(17): RoleTmp2,
	General(30): RoleLR,
	General(29): RoleFP,
}

// RoleOf returns the compiler role of r, or RoleNone if r has no fixed role.
func RoleOf(r Register) Role {
	if role, ok := RoleSet[r]; ok {
		return role
	}
	return RoleNone
}

// ByRole returns the register assigned to role, panicking if role is unmapped
// — every Role constant above must have exactly one register, so an
// unmapped lookup is a programming error, not a runtime condition.
func ByRole(role Role) Register {
	for r, ro := range RoleSet {
		if ro == role {
			return r
		}
	}
	panic(fmt.Sprintf("reg: no register assigned to role %d", role))
}
