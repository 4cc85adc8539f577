package lifter

import (
	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/disasm"
	"github.com/dartlift/lifter/internal/ilnode"
)

// Handler inspects the instruction window at the cursor and either declares
// a match or returns matched=false to let the chain try the next handler.
// The driver resumes at the returned node's Range.End (ARM64's fixed 4-byte
// encoding makes this exact, not just an estimate); a node that folds in
// earlier IL nodes may start before the cursor. A handler that needs to mutate the IL list itself — only
// LoadTaggedClassIdMayBeSmi's fusion does — sets applied=true so the driver
// advances and tags without appending the returned node again. A non-nil
// error is always an *InsnException or *FatalAnalysis raised via
// insnAssert/fatal.
type Handler struct {
	Name string
	Fn   func(c *disasm.Cursor, app appmodel.AppModel, fn *Function) (node ilnode.Node, matched bool, applied bool, err error)
}

// chain is the fixed ordered list of handler identities from spec.md §4.2.
// More-specific multi-instruction templates precede primitive
// single-instruction templates so they claim their window first.
var chain = []Handler{
	{"EnterFrame", handleEnterFrame},
	{"LeaveFrame", handleLeaveFrame},
	{"AllocateStack", handleAllocateStack},
	{"CheckStackOverflow", handleCheckStackOverflow},
	{"LoadValue", handleLoadValue},
	{"DecompressPointer", handleDecompressPointer},
	{"OptionalParameters", handleOptionalParameters},
	{"SaveRegister", handleSaveRegister},
	{"LoadSavedRegister", handleLoadSavedRegister},
	{"Call", handleCall},
	{"GdtCall", handleGdtCall},
	{"Return", handleReturn},
	{"InstanceofNoTypeArgument", handleInstanceofNoTypeArgument},
	{"BranchIfSmi", handleBranchIfSmi},
	{"LoadClassId", handleLoadClassId},
	{"BoxInt64", handleBoxInt64},
	{"LoadInt32FromBoxOrSmi", handleLoadInt32FromBoxOrSmi},
	{"LoadTaggedClassIdMayBeSmi", handleLoadTaggedClassIdMayBeSmi},
	{"LoadFieldTable", handleLoadFieldTable},
	{"TryAllocateObject", handleTryAllocateObject},
	{"WriteBarrier", handleWriteBarrier},
	{"LoadStore", handleLoadStore},
}

// runChain invokes each handler in order at the cursor's current position
// until one matches, returning its node. It never advances the cursor
// itself — callers (the driver) advance to the end of the returned node's Range.
func runChain(c *disasm.Cursor, app appmodel.AppModel, fn *Function) (node ilnode.Node, matched bool, applied bool, handlerName string, err error) {
	for _, h := range chain {
		node, matched, applied, err = h.Fn(c, app, fn)
		if err != nil {
			return ilnode.Node{}, false, false, h.Name, err
		}
		if matched {
			return node, true, applied, h.Name, nil
		}
	}
	return ilnode.Node{}, false, false, "", nil
}
