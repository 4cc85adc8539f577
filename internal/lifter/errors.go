package lifter

import (
	"fmt"

	"github.com/dartlift/lifter/internal/disasm"
	"github.com/pkg/errors"
)

// InsnException is raised by insnAssert inside a handler when a supposedly-
// recognized template has an unexpected operand shape: "this is not the
// template I thought it was" (spec.md §7). It is caught at the function-
// level driver boundary only.
type InsnException struct {
	At        uint64
	Handler   string
	Condition string
	Context   []disasm.Instruction
}

func (e *InsnException) Error() string {
	return fmt.Sprintf("insn exception in %s at 0x%x: failed %q", e.Handler, e.At, e.Condition)
}

// FatalAnalysis is raised when the app model produces an entry the lifter
// cannot classify. It aborts the current function and is reported but does
// not abort the whole run (spec.md §7).
type FatalAnalysis struct {
	At      uint64
	Handler string
	Reason  string
}

func (e *FatalAnalysis) Error() string {
	return fmt.Sprintf("fatal analysis in %s at 0x%x: %s", e.Handler, e.At, e.Reason)
}

// insnAssert raises *InsnException (wrapped with a stack trace) when cond is
// false, mirroring the reference tool's INSN_ASSERT macro. handler names the
// raising pattern handler; condition is a short human-readable description
// of what was expected, surfaced in diagnostics.
func insnAssert(cond bool, c *disasm.Cursor, handler, condition string) error {
	if cond {
		return nil
	}
	at, _ := c.Cur()
	return errors.WithStack(&InsnException{
		At:        at.Addr,
		Handler:   handler,
		Condition: condition,
		Context:   c.Context(4),
	})
}

func fatal(c *disasm.Cursor, handler, reason string) error {
	at, _ := c.Cur()
	return errors.WithStack(&FatalAnalysis{At: at.Addr, Handler: handler, Reason: reason})
}
