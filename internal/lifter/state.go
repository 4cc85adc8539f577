package lifter

import (
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/reg"
	"github.com/dartlift/lifter/internal/varmodel"
)

// AnalyzingState is the per-function abstract machine state threaded
// through handlers: a mapping from register to its currently-known value,
// and from local-slot index to its currently-known value (spec.md §3). It
// is allocated at the start of a function's lift and released at the end —
// no cross-function state survives.
type AnalyzingState struct {
	Registers map[reg.Register]varmodel.VarValue
	Locals    map[int]varmodel.VarValue
	Args      []varmodel.VarValue
}

func NewAnalyzingState() *AnalyzingState {
	return &AnalyzingState{
		Registers: map[reg.Register]varmodel.VarValue{},
		Locals:    map[int]varmodel.VarValue{},
	}
}

func (s *AnalyzingState) SetRegister(r reg.Register, v varmodel.VarValue) { s.Registers[r] = v }

func (s *AnalyzingState) Register(r reg.Register) (varmodel.VarValue, bool) {
	v, ok := s.Registers[r]
	return v, ok
}

func (s *AnalyzingState) SetLocal(slot int, v varmodel.VarValue) { s.Locals[slot] = v }

// AnalyzingVars holds the parameter-recovery bookkeeping that spans many
// instructions: the parameter-owner pseudo-values, the ArgsDescriptor
// pseudo-value, the current named-param position pseudo-value, and pending
// prologue-initialization IL nodes awaiting commit (spec.md §3).
type AnalyzingVars struct {
	ArgsDescReg     reg.Register
	CurrentNamedPos reg.Register
	PendingPrologue []ilnode.Node
}

func NewAnalyzingVars() *AnalyzingVars { return &AnalyzingVars{} }
