// Package ilnode models the lifter's intermediate representation: a tagged
// sum of recognized compiler-level operations, held in an append-only list
// that occasionally fuses its last few entries into one composite node.
package ilnode

import (
	"fmt"

	"github.com/dartlift/lifter/internal/reg"
	"github.com/dartlift/lifter/internal/varmodel"
)

// AddrRange is a half-open instruction address range [Start, End).
type AddrRange struct {
	Start uint64
	End   uint64
}

func (r AddrRange) String() string { return fmt.Sprintf("0x%x..0x%x", r.Start, r.End) }

func (r AddrRange) Contains(addr uint64) bool { return addr >= r.Start && addr < r.End }

// ArrayKind classifies the static element-type knowledge of an array access.
type ArrayKind int

const (
	ArrayUnknown ArrayKind = iota
	ArrayList
	ArrayTypedSigned
	ArrayTypedUnsigned
)

// ArrayOp describes a load or store's element size and array classification,
// derived from the load/store mnemonic (spec.md §3).
type ArrayOp struct {
	Size   int // bytes: 1, 2, 4, or 8
	IsLoad bool
	Kind   ArrayKind
}

// SizeLog2 returns log2(Size), or -1 for a size other than 1, 2, 4 or 8. The
// LoadStore handler's register-indexed sub-case does not check its index
// shift against it.
func (a ArrayOp) SizeLog2() int {
	switch a.Size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		return -1
	}
}

// Kind discriminates the IL node variants from spec.md §3. Composite/fused
// nodes (LoadTaggedClassIdMayBeSmi) have their own Kind rather than reusing
// their constituents' kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindEnterFrame
	KindLeaveFrame
	KindAllocateStack
	KindCheckStackOverflow
	KindLoadValue
	KindDecompressPointer
	KindSetupParameters
	KindSaveRegister
	KindRestoreRegister
	KindCall
	KindGdtCall
	KindReturn
	KindTestType
	KindLoadImm
	KindBranchIfSmi
	KindLoadClassId
	KindBoxInt64
	KindLoadInt32FromBoxOrSmi
	KindLoadTaggedClassIdMayBeSmi
	KindLoadStaticField
	KindStoreStaticField
	KindInitLateStaticField
	KindWriteBarrier
	KindAllocateObject
	KindLoadField
	KindStoreField
	KindLoadArrayElement
	KindStoreArrayElement
)

func (k Kind) String() string {
	names := map[Kind]string{
		KindUnknown:                   "Unknown",
		KindEnterFrame:                "EnterFrame",
		KindLeaveFrame:                "LeaveFrame",
		KindAllocateStack:             "AllocateStack",
		KindCheckStackOverflow:        "CheckStackOverflow",
		KindLoadValue:                 "LoadValue",
		KindDecompressPointer:         "DecompressPointer",
		KindSetupParameters:           "SetupParameters",
		KindSaveRegister:              "SaveRegister",
		KindRestoreRegister:           "RestoreRegister",
		KindCall:                      "Call",
		KindGdtCall:                   "GdtCall",
		KindReturn:                    "Return",
		KindTestType:                  "TestType",
		KindLoadImm:                   "LoadImm",
		KindBranchIfSmi:               "BranchIfSmi",
		KindLoadClassId:               "LoadClassId",
		KindBoxInt64:                  "BoxInt64",
		KindLoadInt32FromBoxOrSmi:     "LoadInt32FromBoxOrSmi",
		KindLoadTaggedClassIdMayBeSmi: "LoadTaggedClassIdMayBeSmi",
		KindLoadStaticField:           "LoadStaticField",
		KindStoreStaticField:          "StoreStaticField",
		KindInitLateStaticField:       "InitLateStaticField",
		KindWriteBarrier:              "WriteBarrier",
		KindAllocateObject:            "AllocateObject",
		KindLoadField:                 "LoadField",
		KindStoreField:                "StoreField",
		KindLoadArrayElement:          "LoadArrayElement",
		KindStoreArrayElement:         "StoreArrayElement",
	}
	if s, ok := names[k]; ok {
		return s
	}
	return "Unknown"
}

// Node is the tagged IL instruction. Only the fields relevant to Kind are
// meaningful; this flattens the original ILInstr subclass hierarchy into one
// struct, per the REDESIGN FLAGS guidance on owned graphs with fusion.
type Node struct {
	Kind  Kind
	Range AddrRange

	// Generic register operands, named by role in the template they came
	// from rather than by position, to keep handler code self-documenting.
	Dst, Src, Obj, Val, Idx, CidReg reg.Register

	Item VarItem // LoadValue's decoded VarItem (aliases varmodel.VarItem)

	Size       int    // AllocateStack's stack byte size / AllocateObject's instance size
	SlowTarget uint64 // CheckStackOverflow's out-of-line slow path
	Imm        int64  // LoadImm / StoreArrayElement's immediate index
	BranchAddr uint64 // BranchIfSmi / GdtCall selector computation site

	TargetFn   uint64 // Call / GdtCall resolved target
	TargetName string // Call: symbol name if known

	SelectorOffset int // GdtCall dispatch-table selector byte offset

	TypeName string // TestType

	Offset  int     // LoadStaticField/StoreStaticField/LoadField/StoreField
	Field   string  // InitLateStaticField field name
	IsArray bool    // WriteBarrier
	Class   string  // AllocateObject class name

	ArrayOp ArrayOp // LoadArrayElement / StoreArrayElement

	Params *FnParams // SetupParameters
}

// VarItem aliases varmodel.VarItem so call sites can write ilnode.VarItem.
type VarItem = varmodel.VarItem

func (n Node) String() string {
	return fmt.Sprintf("%s@%s", n.Kind, n.Range)
}

// FnParamInfo is one recovered parameter descriptor (spec.md §3).
type FnParamInfo struct {
	ParamReg     reg.Register
	ParamStackOff int
	ValueReg     reg.Register
	LocalOffset  int
	DeclaredType string
	Name         string
	HasDefault   bool
	Default      varmodel.VarValue
	Loaded       bool // false when the compiler omitted the load ("not loaded")
}

// FnParams is the ordered recovered parameter list for a function.
type FnParams struct {
	Params        []FnParamInfo
	NumFixedParam int
	IsNamedParam  bool
}

// List is the append-only per-function IL node sequence, with fusion support.
type List struct {
	nodes []Node
}

func NewList() *List { return &List{} }

func (l *List) Append(n Node) { l.nodes = append(l.nodes, n) }

func (l *List) Len() int { return len(l.nodes) }

func (l *List) Nodes() []Node { return l.nodes }

func (l *List) Last() (Node, bool) {
	if len(l.nodes) == 0 {
		return Node{}, false
	}
	return l.nodes[len(l.nodes)-1], true
}

// LastK returns the last k nodes in order without removing them, or false if
// fewer than k nodes exist.
func (l *List) LastK(k int) ([]Node, bool) {
	if len(l.nodes) < k {
		return nil, false
	}
	return append([]Node(nil), l.nodes[len(l.nodes)-k:]...), true
}

// FuseLast removes the last k nodes and appends replacement in their place,
// used by LoadTaggedClassIdMayBeSmi to collapse three prior nodes into one
// composite (spec.md §3/§8 property 7). It panics if fewer than k nodes are
// present — callers must check LastK first.
func (l *List) FuseLast(k int, replacement Node) {
	if len(l.nodes) < k {
		panic(fmt.Sprintf("ilnode: FuseLast(%d) on list of length %d", k, len(l.nodes)))
	}
	l.nodes = append(l.nodes[:len(l.nodes)-k], replacement)
}

// RemoveLast drops the single most recent node, used when a GdtCall consumes
// a previously-emitted immediate LoadValue and folds its value into its own
// offset.
func (l *List) RemoveLast() (Node, bool) {
	if len(l.nodes) == 0 {
		return Node{}, false
	}
	n := l.nodes[len(l.nodes)-1]
	l.nodes = l.nodes[:len(l.nodes)-1]
	return n, true
}
