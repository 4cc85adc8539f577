// Package lifter is the core of the system: the driver that walks the app
// model's functions, the matcher chain that dispatches pattern handlers over
// each function's disassembly, and the ~25 handlers that recognize the Dart
// AOT compiler's code-generation templates (spec.md §4).
package lifter

import (
	"errors"

	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/asmtext"
	"github.com/dartlift/lifter/internal/diag"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/pool"
	"github.com/dartlift/lifter/internal/varmodel"
	"github.com/samber/lo"
)

// AnalyzedFunction is the per-function lifter output (spec.md §3): the
// ordered IL list, the parallel annotated assembly lines, and the recovered
// frame/parameter shape. AnalyzingState/AnalyzingVars are present only while
// the function is actively being lifted.
type AnalyzedFunction struct {
	AsmTexts     []asmtext.AsmText
	IL           *ilnode.List
	StackSize    int
	UseFramePointer bool
	FirstCheckStackOverflow uint64
	Params       *ilnode.FnParams
	ReturnType   string

	ClosureContextReg    int
	ClosureContextOffset int
	TypeArgReg           int
	TypeArgOffset        int
}

// Function is the mutable per-lift working context threaded through
// handlers: the function being analyzed, its cursor, and its abstract state.
// It is allocated at the start of a lift and discarded at the end — no
// cross-function state (spec.md §3/§5).
type Function struct {
	Entry appmodel.Function
	Out   *AnalyzedFunction

	State *AnalyzingState
	Vars  *AnalyzingVars
}

// Driver iterates the app model's user libraries/classes/functions and
// drives the matcher chain over each function's code (spec.md §4.1).
type Driver struct {
	App appmodel.AppModel
}

func NewDriver(app appmodel.AppModel) *Driver { return &Driver{App: app} }

// LiftedFunction pairs one traversed function with its lift result, as
// returned by Run's whole-app walk.
type LiftedFunction struct {
	Library  appmodel.Library
	Class    appmodel.Class
	Function appmodel.Function
	Result   *AnalyzedFunction
}

// Run implements spec.md §4.1's Driver contract in full: for every class in
// every non-internal library of the app model, iterate its functions in
// definition order, and for each function with non-zero code size run
// LiftFunction over it. Functions with zero code size (forward declarations
// with no compiled body, per spec.md §4.1) are skipped, never lifted.
func (d *Driver) Run() []LiftedFunction {
	var out []LiftedFunction
	for _, lib := range d.App.Libraries() {
		if lib.Internal {
			continue
		}
		for _, cls := range lib.Classes {
			for _, fn := range cls.Functions {
				if fn.CodeSize == 0 {
					continue
				}
				out = append(out, LiftedFunction{
					Library:  lib,
					Class:    cls.Class,
					Function: fn,
					Result:   d.LiftFunction(fn),
				})
			}
		}
	}
	return out
}

// LiftFunction disassembles entry's code, annotates it, and runs the matcher
// chain to completion, returning the populated AnalyzedFunction. When a
// handler fails, the offending instruction becomes an Unknown node; after an
// InsnException iteration continues with the next instruction, while a
// FatalAnalysis ends this function's lift there, leaving its IL partial.
func (d *Driver) LiftFunction(entry appmodel.Function) *AnalyzedFunction {
	insts := disasm.Disassemble(entry.Code, disasm.Options{BaseAddr: entry.EntryAddr})
	texts := asmtext.Annotate(insts, d.App.ThreadFieldName)

	out := &AnalyzedFunction{
		AsmTexts: texts,
		IL:       ilnode.NewList(),
	}
	fn := &Function{
		Entry: entry,
		Out:   out,
		State: NewAnalyzingState(),
		Vars:  NewAnalyzingVars(),
	}

	cursor := disasm.NewCursor(insts)
	for !cursor.Done() {
		node, matched, applied, handlerName, err := runChain(cursor, d.App, fn)
		if err != nil {
			cur, _ := cursor.Cur()
			diag.Logf("analysis error in %s at 0x%x: %v", handlerName, cur.Addr, err)
			out.IL.Append(unknownNode(cur))
			var fa *FatalAnalysis
			var poolFA *pool.FatalAnalysis
			if errors.As(err, &fa) || errors.As(err, &poolFA) {
				break
			}
			cursor.Advance(1)
			continue
		}
		if !matched {
			cur, _ := cursor.Cur()
			out.IL.Append(unknownNode(cur))
			cursor.Advance(1)
			continue
		}
		if !applied {
			out.IL.Append(node)
		}
		// A folding or fusing node's Range starts before the cursor, so the
		// advance counts only from the cursor to the end of that Range.
		cur, _ := cursor.Cur()
		consumed := instructionsInRange(insts, ilnode.AddrRange{Start: cur.Addr, End: node.Range.End})
		if consumed < 1 {
			consumed = 1
		}
		cursor.Advance(consumed)
		applyTags(out, node)
	}

	// Per spec.md §3/§5: AnalyzingState/AnalyzingVars are released at the
	// end of lifting; the disassembly buffer is released by the caller once
	// it has consumed AnalyzedFunction (entry.Code is owned by the app
	// model, not duplicated here).
	fn.State = nil
	fn.Vars = nil
	return out
}

func unknownNode(in disasm.Instruction) ilnode.Node {
	return ilnode.Node{
		Kind:  ilnode.KindUnknown,
		Range: ilnode.AddrRange{Start: in.Addr, End: in.Addr + 4},
	}
}

// instructionsInRange estimates the consumed instruction count for a node
// from its address range, assuming the fixed 4-byte ARM64 encoding
// (spec.md §6: used for index estimation only).
func instructionsInRange(insts []disasm.Instruction, r ilnode.AddrRange) int {
	if r.End <= r.Start {
		return 1
	}
	return int((r.End - r.Start) / 4)
}

// applyTags attaches the PoolOffset/Boolean/Call tag to the AsmText line at
// a node's start address, the first and only time a handler recognizing
// that line emits its IL node (spec.md §3 lifecycle invariant).
func applyTags(out *AnalyzedFunction, node ilnode.Node) {
	_, idx, ok := lo.FindIndexOf(out.AsmTexts, func(t asmtext.AsmText) bool {
		return t.Addr == node.Range.Start
	})
	if !ok {
		return
	}
	t := &out.AsmTexts[idx]
	if t.Tag != asmtext.TagNone {
		return
	}
	switch node.Kind {
	case ilnode.KindLoadValue:
		switch node.Item.Value.Kind {
		case varmodel.ValueBoolean:
			t.Tag = asmtext.TagBoolean
			t.BoolVal = node.Item.Value.BoolVal
		default:
			if node.Item.Storage.Kind == varmodel.StoragePool {
				t.Tag = asmtext.TagPoolOffset
				t.PoolOffset = node.Item.Storage.Offset
			}
		}
	case ilnode.KindCall:
		t.Tag = asmtext.TagCall
		t.CallAddr = node.TargetFn
		t.CallName = node.TargetName
	}
}
