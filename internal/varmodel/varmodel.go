// Package varmodel holds the tagged location and value models a pattern
// handler emits: where a value lives (VarStorage) and what Dart-level value
// it carries (VarValue).
package varmodel

import (
	"fmt"

	"github.com/dartlift/lifter/internal/reg"
)

// StorageKind discriminates the location a value was materialized into.
type StorageKind int

const (
	StorageNone StorageKind = iota
	StorageRegister
	StorageLocal      // FP-relative negative offset
	StorageArgument   // caller argument by index
	StorageStatic     // static-field slot by offset
	StoragePool       // object-pool entry by offset
	StorageThread     // thread-field by offset
	StorageSmallImm   // small immediate integer
	StorageImmediate  // immediate literal (non-Smi encoding)
	StorageCall       // call result
	StorageUninit     // uninitialized
	StorageInInstr    // value only exists inside one instruction, never named
)

// VarStorage is a closed sum over the locations a handler can report a value
// living in. Exactly one of the payload fields is meaningful, selected by Kind.
type VarStorage struct {
	Kind StorageKind

	Reg        reg.Register // StorageRegister
	LocalSlot  int          // StorageLocal: FP-relative slot index
	ArgIndex   int          // StorageArgument
	Offset     int          // StorageStatic / StoragePool / StorageThread: byte offset
	Imm        int64        // StorageSmallImm / StorageImmediate
}

func NewRegister(r reg.Register) VarStorage { return VarStorage{Kind: StorageRegister, Reg: r} }

// NewLocal takes the FP-relative negative byte offset and converts it to a
// slot index, per spec.md §3: slot = (-offset - wordSize) / wordSize.
func NewLocal(negOffset, wordSize int) VarStorage {
	slot := (-negOffset - wordSize) / wordSize
	return VarStorage{Kind: StorageLocal, LocalSlot: slot}
}

func NewLocalSlot(slot int) VarStorage { return VarStorage{Kind: StorageLocal, LocalSlot: slot} }

func NewArgument(idx int) VarStorage { return VarStorage{Kind: StorageArgument, ArgIndex: idx} }

func NewStatic(offset int) VarStorage { return VarStorage{Kind: StorageStatic, Offset: offset} }

func NewPool(offset int) VarStorage { return VarStorage{Kind: StoragePool, Offset: offset} }

func NewThread(offset int) VarStorage { return VarStorage{Kind: StorageThread, Offset: offset} }

func NewSmallImm(v int64) VarStorage { return VarStorage{Kind: StorageSmallImm, Imm: v} }

func NewImmediate(v int64) VarStorage { return VarStorage{Kind: StorageImmediate, Imm: v} }

func NewCall() VarStorage { return VarStorage{Kind: StorageCall} }

func NewUninit() VarStorage { return VarStorage{Kind: StorageUninit} }

func NewInInstruction() VarStorage { return VarStorage{Kind: StorageInInstr} }

func (s VarStorage) String() string {
	switch s.Kind {
	case StorageRegister:
		return s.Reg.String()
	case StorageLocal:
		return fmt.Sprintf("local[%d]", s.LocalSlot)
	case StorageArgument:
		return fmt.Sprintf("arg[%d]", s.ArgIndex)
	case StorageStatic:
		return fmt.Sprintf("static+0x%x", s.Offset)
	case StoragePool:
		return fmt.Sprintf("pool+0x%x", s.Offset)
	case StorageThread:
		return fmt.Sprintf("thread+0x%x", s.Offset)
	case StorageSmallImm:
		return fmt.Sprintf("#%d", s.Imm)
	case StorageImmediate:
		return fmt.Sprintf("imm(%d)", s.Imm)
	case StorageCall:
		return "call-result"
	case StorageUninit:
		return "uninit"
	case StorageInInstr:
		return "in-instruction"
	default:
		return "<nostorage>"
	}
}

// ValueKind discriminates the tagged Dart-level value a VarValue carries.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueNull
	ValueBoolean
	ValueInteger
	ValueDouble
	ValueString
	ValueStub
	ValueField
	ValueExpression
	ValueArray
	ValueGrowableArray
	ValueUnlinkedCall
	ValueType
	ValueTypeParameter
	ValueFunctionType
	ValueTypeArguments
	ValueRecordType
	ValueSentinel
	ValueSubtypeTestCache
	ValueClassId
	ValueInstance
)

// IntKind distinguishes the three ways an integer value can be carried.
type IntKind int

const (
	IntNative IntKind = iota // a plain machine word, not a Dart Smi/Mint
	IntSmi
	IntMint
)

// VarValue is the tagged sum over recognized Dart-level values a storage can
// hold. Exactly the fields relevant to Kind are meaningful; the rest are
// zero. This mirrors the VarValue class hierarchy of the original tool,
// flattened to a single struct per the note that C++ class hierarchies over
// closed variant sets become Go tagged structs.
type VarValue struct {
	Kind ValueKind

	BoolVal    bool    // ValueBoolean
	IntKindVal IntKind // ValueInteger
	IntVal     int64   // ValueInteger
	DoubleVal  float64 // ValueDouble
	StrVal     string  // ValueString, ValueField/ValueType/... names

	// ClassID is attached to ValueExpression/ValueInstance as a best-effort
	// classification, and to ValueClassId itself.
	ClassID int
	Tagged  bool // ValueClassId: whether IntVal is Smi-tagged or raw

	// StubAddr/StubName identify a ValueStub target.
	StubAddr uint64
	StubName string

	// ExprText holds the free-form stringified rendering of ValueExpression.
	ExprText string

	// ArrayLen/ArrayConst describe ValueArray; ArrayElemType names the
	// element type if statically known.
	ArrayLen      int
	ArrayConst    bool
	ArrayElemType string
}

func Null() VarValue { return VarValue{Kind: ValueNull} }

func Boolean(b bool) VarValue { return VarValue{Kind: ValueBoolean, BoolVal: b} }

func Integer(kind IntKind, v int64) VarValue {
	return VarValue{Kind: ValueInteger, IntKindVal: kind, IntVal: v}
}

func Double(v float64) VarValue { return VarValue{Kind: ValueDouble, DoubleVal: v} }

func String(s string) VarValue { return VarValue{Kind: ValueString, StrVal: s} }

func Stub(addr uint64, name string) VarValue {
	return VarValue{Kind: ValueStub, StubAddr: addr, StubName: name}
}

func Field(name string) VarValue { return VarValue{Kind: ValueField, StrVal: name} }

func Expression(text string, classID int) VarValue {
	return VarValue{Kind: ValueExpression, ExprText: text, ClassID: classID}
}

func Sentinel() VarValue { return VarValue{Kind: ValueSentinel} }

func ClassIDValue(cid int, tagged bool) VarValue {
	return VarValue{Kind: ValueClassId, ClassID: cid, Tagged: tagged}
}

func Instance(classID int) VarValue { return VarValue{Kind: ValueInstance, ClassID: classID} }

// Array builds a const or mutable fixed-length array value; elemType names
// the statically-known element type, if any.
func Array(length int, isConst bool, elemType string) VarValue {
	return VarValue{Kind: ValueArray, ArrayLen: length, ArrayConst: isConst, ArrayElemType: elemType}
}

// GrowableArray builds a _GrowableList value of statically unknown length.
func GrowableArray(elemType string) VarValue {
	return VarValue{Kind: ValueGrowableArray, ArrayElemType: elemType}
}

// UnlinkedCall names the selector an UnlinkedCall pool stub will resolve at
// first call (spec.md §4.4's unlinked-call pool pairing).
func UnlinkedCall(selector string) VarValue {
	return VarValue{Kind: ValueUnlinkedCall, StrVal: selector}
}

// TypeRef names a resolved Type pool object by its rendered type name.
func TypeRef(name string) VarValue { return VarValue{Kind: ValueType, StrVal: name} }

// TypeParameterRef names a resolved TypeParameter pool object.
func TypeParameterRef(name string) VarValue { return VarValue{Kind: ValueTypeParameter, StrVal: name} }

// FunctionTypeRef names a resolved FunctionType pool object.
func FunctionTypeRef(name string) VarValue { return VarValue{Kind: ValueFunctionType, StrVal: name} }

// TypeArgumentsRef names a resolved TypeArguments pool object.
func TypeArgumentsRef(name string) VarValue { return VarValue{Kind: ValueTypeArguments, StrVal: name} }

// RecordTypeRef names a resolved RecordType pool object.
func RecordTypeRef(name string) VarValue { return VarValue{Kind: ValueRecordType, StrVal: name} }

// SubtypeTestCacheValue marks a resolved SubtypeTestCache pool object; it
// carries no further payload, only the fact of its presence.
func SubtypeTestCacheValue() VarValue { return VarValue{Kind: ValueSubtypeTestCache} }

func (v VarValue) String() string {
	switch v.Kind {
	case ValueNull:
		return "null"
	case ValueBoolean:
		return fmt.Sprintf("%t", v.BoolVal)
	case ValueInteger:
		suffix := ""
		switch v.IntKindVal {
		case IntSmi:
			suffix = "smi"
		case IntMint:
			suffix = "mint"
		default:
			suffix = "native"
		}
		return fmt.Sprintf("%d<%s>", v.IntVal, suffix)
	case ValueDouble:
		return fmt.Sprintf("%g", v.DoubleVal)
	case ValueString:
		return fmt.Sprintf("%q", v.StrVal)
	case ValueStub:
		return fmt.Sprintf("stub(%s@0x%x)", v.StubName, v.StubAddr)
	case ValueField:
		return fmt.Sprintf("field(%s)", v.StrVal)
	case ValueExpression:
		return v.ExprText
	case ValueSentinel:
		return "<sentinel>"
	case ValueClassId:
		if v.Tagged {
			return fmt.Sprintf("cid(tagged=%d)", v.ClassID)
		}
		return fmt.Sprintf("cid(%d)", v.ClassID)
	case ValueInstance:
		return fmt.Sprintf("instance(cid=%d)", v.ClassID)
	case ValueArray:
		kind := "array"
		if v.ArrayConst {
			kind = "const array"
		}
		return fmt.Sprintf("%s<%s>[%d]", kind, v.ArrayElemType, v.ArrayLen)
	case ValueGrowableArray:
		return fmt.Sprintf("growable array<%s>", v.ArrayElemType)
	case ValueUnlinkedCall:
		return fmt.Sprintf("unlinked-call(%s)", v.StrVal)
	case ValueType:
		return fmt.Sprintf("type(%s)", v.StrVal)
	case ValueTypeParameter:
		return fmt.Sprintf("type-param(%s)", v.StrVal)
	case ValueFunctionType:
		return fmt.Sprintf("function-type(%s)", v.StrVal)
	case ValueTypeArguments:
		return fmt.Sprintf("type-args(%s)", v.StrVal)
	case ValueRecordType:
		return fmt.Sprintf("record-type(%s)", v.StrVal)
	case ValueSubtypeTestCache:
		return "subtype-test-cache"
	default:
		return "<novalue>"
	}
}

// VarItem is the (storage, value) pair a pattern handler emits.
type VarItem struct {
	Storage VarStorage
	Value   VarValue
}

func NewItem(storage VarStorage, value VarValue) VarItem {
	return VarItem{Storage: storage, Value: value}
}

func (i VarItem) String() string {
	return fmt.Sprintf("%s = %s", i.Storage, i.Value)
}
