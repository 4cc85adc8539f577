// Command dartlift is a thin demonstration CLI for the lifter library. It
// loads a JSON-described app-model fixture (pool entries, classes, known
// functions, thread-offset table) plus a raw ARM64 code blob for the
// function under analysis, runs the Driver over it, and prints the
// annotated assembly alongside the recovered IL. It is not the production
// snapshot-loading tool: the fixture is a hand- or tool-authored test
// document, never a parsed AOT snapshot.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dartlift/lifter/internal/appmodel"
	"github.com/dartlift/lifter/internal/asmtext"
	"github.com/dartlift/lifter/internal/ilnode"
	"github.com/dartlift/lifter/internal/lifter"
)

var (
	fixturePath string
	codePath    string
	funcAddr    uint64
	funcName    string
	liftAll     bool
)

var rootCmd = &cobra.Command{
	Use:   "dartlift",
	Short: "lift a Dart AOT ARM64 function into annotated assembly and IL",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&fixturePath, "fixture", "", "path to the JSON app-model fixture (required)")
	rootCmd.PersistentFlags().StringVar(&codePath, "code", "", "path to the raw ARM64 code blob for the function under analysis (required unless --all)")
	rootCmd.PersistentFlags().Uint64Var(&funcAddr, "func-addr", 0, "entry address of the function under analysis")
	rootCmd.PersistentFlags().StringVar(&funcName, "func-name", "", "display name for the function under analysis")
	rootCmd.PersistentFlags().BoolVar(&liftAll, "all", false, "drive the Driver's whole-app traversal instead of a single --func-addr/--code pair (spec.md §4.1)")
	_ = rootCmd.MarkPersistentFlagRequired("fixture")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	fixtureData, err := os.ReadFile(fixturePath)
	if err != nil {
		return errors.WithMessage(err, "read fixture")
	}
	app, err := appmodel.LoadJSON(fixtureData)
	if err != nil {
		return errors.WithMessage(err, "parse fixture")
	}

	if liftAll {
		return runAll(cmd, app)
	}
	return runSingle(cmd, app)
}

// runSingle is the original single-function mode: the fixture carries only
// pool/class context, and the function under analysis is a raw code blob
// read from disk.
func runSingle(cmd *cobra.Command, app appmodel.AppModel) error {
	if codePath == "" {
		return errors.New("--code is required unless --all is set")
	}
	code, err := os.ReadFile(codePath)
	if err != nil {
		return errors.WithMessage(err, "read code blob")
	}

	name := funcName
	if name == "" {
		name = fmt.Sprintf("fn_0x%x", funcAddr)
	}
	entry := appmodel.Function{
		Name:      name,
		Kind:      appmodel.FunctionUser,
		EntryAddr: funcAddr,
		CodeSize:  len(code),
		Code:      code,
	}

	driver := lifter.NewDriver(app)
	out := driver.LiftFunction(entry)
	printFunction(cmd.OutOrStdout(), entry, out)
	return nil
}

// runAll drives the Driver's full library->class->function traversal
// (spec.md §4.1) over the fixture's "libraries" section, printing each
// lifted function in turn.
func runAll(cmd *cobra.Command, app appmodel.AppModel) error {
	driver := lifter.NewDriver(app)
	lifted := driver.Run()
	w := cmd.OutOrStdout()
	for _, lf := range lifted {
		fmt.Fprintf(w, "[%s] %s\n", lf.Library.URI, lf.Class.Name)
		printFunction(w, lf.Function, lf.Result)
		fmt.Fprintln(w)
	}
	return nil
}

func printFunction(w io.Writer, entry appmodel.Function, out *lifter.AnalyzedFunction) {
	fmt.Fprintf(w, "== %s @ 0x%x (stack=%d, useFP=%v) ==\n", entry.Name, entry.EntryAddr, out.StackSize, out.UseFramePointer)
	fmt.Fprintln(w, "-- assembly --")
	printAssembly(w, out.AsmTexts)
	fmt.Fprintln(w, "-- IL --")
	printIL(w, out.IL)
}

func printAssembly(w io.Writer, texts []asmtext.AsmText) {
	for _, t := range texts {
		fmt.Fprintf(w, "0x%08x  %s%s\n", t.Addr, t.Text(), describeTag(t))
	}
}

func describeTag(t asmtext.AsmText) string {
	switch t.Tag {
	case asmtext.TagThreadOffset:
		if t.ThreadName != "" {
			return fmt.Sprintf("  ; thread+0x%x (%s)", t.ThreadOffset, t.ThreadName)
		}
		return fmt.Sprintf("  ; thread+0x%x (%s)", t.ThreadOffset, describeThreadClass(t.ThreadClass))
	case asmtext.TagPoolOffset:
		return fmt.Sprintf("  ; pool+0x%x", t.PoolOffset)
	case asmtext.TagBoolean:
		return fmt.Sprintf("  ; bool=%v", t.BoolVal)
	case asmtext.TagCall:
		if t.CallName != "" {
			return fmt.Sprintf("  ; -> %s @ 0x%x", t.CallName, t.CallAddr)
		}
		return fmt.Sprintf("  ; -> 0x%x", t.CallAddr)
	default:
		return ""
	}
}

func describeThreadClass(c asmtext.ThreadClass) string {
	switch c {
	case asmtext.ThreadClassRuntimeEntrypoint:
		return "runtime entrypoint"
	case asmtext.ThreadClassObjectStoreCache:
		return "object store cache"
	case asmtext.ThreadClassIsolateGroupPtr:
		return "isolate group ptr"
	default:
		return "unresolved"
	}
}

func printIL(w io.Writer, list *ilnode.List) {
	for _, n := range list.Nodes() {
		fmt.Fprintf(w, "%s%s\n", n.String(), describeNode(n))
	}
}

// describeNode appends the fields most relevant to a node's Kind. Kinds not
// called out explicitly carry enough information in their own String() form.
func describeNode(n ilnode.Node) string {
	switch n.Kind {
	case ilnode.KindCall:
		return fmt.Sprintf(" %s -> %s", n.TargetName, fmtAddr(n.TargetFn))
	case ilnode.KindGdtCall:
		return fmt.Sprintf(" cid=%s selector=%d", n.CidReg, n.SelectorOffset)
	case ilnode.KindTestType:
		return fmt.Sprintf(" %s instanceof %s", n.Src, n.TypeName)
	case ilnode.KindLoadStaticField, ilnode.KindStoreStaticField, ilnode.KindInitLateStaticField:
		return fmt.Sprintf(" offset=%d", n.Offset)
	case ilnode.KindAllocateObject:
		return fmt.Sprintf(" %s = new %s (size=%d)", n.Dst, n.Class, n.Size)
	case ilnode.KindLoadField, ilnode.KindStoreField:
		return fmt.Sprintf(" %s[%d]", n.Obj, n.Offset)
	case ilnode.KindLoadArrayElement, ilnode.KindStoreArrayElement:
		return fmt.Sprintf(" %s[%s] size=%d", n.Obj, n.Idx, n.ArrayOp.Size)
	case ilnode.KindWriteBarrier:
		return fmt.Sprintf(" obj=%s val=%s array=%v", n.Obj, n.Val, n.IsArray)
	case ilnode.KindLoadImm:
		return fmt.Sprintf(" imm=%d", n.Imm)
	default:
		return ""
	}
}

func fmtAddr(addr uint64) string {
	if addr == 0 {
		return "?"
	}
	return fmt.Sprintf("0x%x", addr)
}
