// Package appmodel declares the external collaborator contract the lifter
// queries while analyzing a function: the object pool, class/function
// lookup, the type database, and version-dependent constants (spec.md §6).
// The snapshot loader that would populate a production AppModel is out of
// scope; this package also ships a fixture implementation, backed by a JSON
// document, used by tests and the cmd/dartlift demo CLI.
package appmodel

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PoolEntryKind discriminates what an object-pool slot holds.
type PoolEntryKind int

const (
	PoolTaggedObject PoolEntryKind = iota
	PoolImmediate
	PoolNativeFunction
)

// PoolEntry is one object-pool slot (spec.md §6 getPoolEntry).
type PoolEntry struct {
	Kind PoolEntryKind

	// TaggedObject: ClassID is the pool-resident object's class id; package
	// pool queries GetClass with it to decide which of the payload fields
	// below are meaningful (spec.md §4.4/§6 — the app model hands back raw
	// class-id + payload, never a pre-classified VarValue).
	ClassID       int
	StrVal        string
	IntVal        int64
	DoubleVal     float64
	BoolVal       bool
	ArrayLen      int
	ArrayConst    bool
	ArrayElemType string

	// Immediate: the raw word; the resolver reinterprets it as int or
	// double depending on the destination register kind.
	ImmediateBits uint64

	// NativeFunction: present only so the resolver can recognize and
	// reject this kind with FatalAnalysis.
	NativeFuncName string

	// CallTarget is set on the paired entry one slot after an
	// unlinked-call entry, carrying the call's target address.
	CallTarget uint64
}

// Well-known Dart class names the pool resolver (package pool) switches on
// to classify a PoolTaggedObject entry's ClassID (spec.md §4.4's Smi/Mint/
// Double/Array/Stub/Field/Type/Instance/... discrimination). Classes outside
// this set fall back to a generic Instance value.
const (
	ClassNameNull            = "Null"
	ClassNameSentinel        = "Sentinel"
	ClassNameBool            = "bool"
	ClassNameMint            = "_Mint"
	ClassNameDouble          = "_Double"
	ClassNameOneByteString   = "_OneByteString"
	ClassNameTwoByteString   = "_TwoByteString"
	ClassNameImmutableArray  = "_ImmutableArray"
	ClassNameArray           = "_List"
	ClassNameGrowableArray   = "_GrowableList"
	ClassNameUnlinkedCall    = "UnlinkedCall"
	ClassNameType            = "_Type"
	ClassNameFunctionType    = "_FunctionType"
	ClassNameTypeParameter   = "_TypeParameter"
	ClassNameTypeArguments   = "_TypeArguments"
	ClassNameRecordType      = "_RecordType"
	ClassNameSubtypeTestCache = "SubtypeTestCache"
	ClassNameField           = "Field"
)

// FunctionKind distinguishes ordinary user functions from stubs.
type FunctionKind int

const (
	FunctionUser FunctionKind = iota
	FunctionStub
)

// Function is a user function or stub record (spec.md §6 getFunction).
type Function struct {
	Name      string
	Kind      FunctionKind
	EntryAddr uint64
	CodeSize  int
	Code      []byte
}

// Class is a class record (spec.md §6 getClass).
type Class struct {
	ID   int
	Name string
}

// LibraryClass is one class as seen while walking a Library's class list
// (spec.md §4.1's traversal unit): the class record itself plus the
// functions declared on it, in definition order.
type LibraryClass struct {
	Class
	Functions []Function
}

// Library is a traversal unit of the Driver's whole-app lift (spec.md §4.1):
// "for every class in every non-internal library of the app model, iterate
// its functions in definition order". Internal libraries (dart:core,
// dart:_internal, and the other dart:-prefixed core libraries the compiler
// itself injects) are excluded from the walk, never from GetClass/GetFunction
// lookups — those remain queryable for any class/function the walk does
// reach.
type Library struct {
	URI      string
	Internal bool
	Classes  []LibraryClass
}

// DartType is a dedup'd type-database node (spec.md §6 typeDb.findOrAdd).
type DartType struct {
	Name string
}

// TypeDb deduplicates type/type-argument/function-type/record-type
// references encountered while resolving pool entries and type tests.
type TypeDb interface {
	FindOrAdd(key uint64, name string) DartType
}

// AppModel is the read-only collaborator the lifter queries. It must never
// be mutated during a lift (spec.md §3 lifecycle invariants).
type AppModel interface {
	// GetPoolEntry resolves an object-pool byte offset.
	GetPoolEntry(offset int) (PoolEntry, bool)

	// GetFunction resolves a function or stub by entry address. A stub
	// covering multiple logical stubs may be split on first reference to
	// an interior address; SplitStubAt performs that split explicitly.
	GetFunction(addr uint64) (Function, bool)

	// SplitStubAt splits the enclosing stub covering addr into two: the
	// original, shortened to end at addr, and a newly registered stub
	// starting at addr. Returns the new stub.
	SplitStubAt(addr uint64) (Function, error)

	GetClass(cid int) (Class, bool)

	// Libraries enumerates every library the app model knows about, in
	// load order, for the Driver's whole-app traversal (spec.md §4.1). The
	// Driver itself is responsible for skipping Internal libraries and
	// zero-code-size functions; Libraries returns the full set unfiltered.
	Libraries() []Library

	TypeDb() TypeDb

	// DartIntCid returns the class id used for Dart's int type on the
	// target version; never hardcoded by the lifter (spec.md §6).
	DartIntCid() int

	// ThreadFieldName returns the human name of a thread-record byte
	// offset, for annotation only — it never affects IL shape.
	ThreadFieldName(offset int) (string, bool)
}

// Config carries the small set of version-dependent constants the app model
// must supply (spec.md §9 "version conditionals ... configuration values").
type Config struct {
	DartIntCid      int
	ThreadFields    map[int]string
	ClassIdTagPos16 bool // true when kClassIdTagPos==16 (newer LoadClassId layout)
}

// Fixture is a non-production, in-memory AppModel implementation loaded from
// a JSON document, used for tests and the demo CLI — not a snapshot loader.
type Fixture struct {
	cfg       Config
	pool      map[int]PoolEntry
	functions map[uint64]Function
	classes   map[int]Class
	types     map[uint64]DartType
	libraries []Library
}

// NewFixture builds an empty fixture around cfg; entries are added with the
// Add* methods or via LoadJSON.
func NewFixture(cfg Config) *Fixture {
	return &Fixture{
		cfg:       cfg,
		pool:      map[int]PoolEntry{},
		functions: map[uint64]Function{},
		classes:   map[int]Class{},
		types:     map[uint64]DartType{},
	}
}

func (f *Fixture) AddPoolEntry(offset int, e PoolEntry) { f.pool[offset] = e }

func (f *Fixture) AddFunction(fn Function) { f.functions[fn.EntryAddr] = fn }

func (f *Fixture) AddClass(c Class) { f.classes[c.ID] = c }

func (f *Fixture) AddLibrary(l Library) { f.libraries = append(f.libraries, l) }

func (f *Fixture) Libraries() []Library { return f.libraries }

func (f *Fixture) GetPoolEntry(offset int) (PoolEntry, bool) {
	e, ok := f.pool[offset]
	return e, ok
}

func (f *Fixture) GetFunction(addr uint64) (Function, bool) {
	if fn, ok := f.functions[addr]; ok {
		return fn, ok
	}
	// Fall back to locating an enclosing stub that has not yet been split.
	for _, fn := range f.functions {
		if fn.Kind == FunctionStub && addr > fn.EntryAddr && addr < fn.EntryAddr+uint64(fn.CodeSize) {
			split, err := f.SplitStubAt(addr)
			if err != nil {
				return Function{}, false
			}
			return split, true
		}
	}
	return Function{}, false
}

func (f *Fixture) SplitStubAt(addr uint64) (Function, error) {
	for entry, fn := range f.functions {
		if fn.Kind != FunctionStub {
			continue
		}
		if addr <= fn.EntryAddr || addr >= fn.EntryAddr+uint64(fn.CodeSize) {
			continue
		}
		offsetIntoParent := addr - fn.EntryAddr
		newSize := fn.CodeSize - int(offsetIntoParent)
		var newCode []byte
		if fn.Code != nil {
			newCode = fn.Code[offsetIntoParent:]
			fn.Code = fn.Code[:offsetIntoParent]
		}
		fn.CodeSize = int(offsetIntoParent)
		f.functions[entry] = fn

		newStub := Function{
			Name:      fmt.Sprintf("%s+0x%x", fn.Name, offsetIntoParent),
			Kind:      FunctionStub,
			EntryAddr: addr,
			CodeSize:  newSize,
			Code:      newCode,
		}
		f.functions[addr] = newStub
		return newStub, nil
	}
	return Function{}, fmt.Errorf("appmodel: no enclosing stub covers 0x%x", addr)
}

func (f *Fixture) GetClass(cid int) (Class, bool) {
	c, ok := f.classes[cid]
	return c, ok
}

func (f *Fixture) TypeDb() TypeDb { return (*fixtureTypeDb)(f) }

func (f *Fixture) DartIntCid() int { return f.cfg.DartIntCid }

func (f *Fixture) ThreadFieldName(offset int) (string, bool) {
	name, ok := f.cfg.ThreadFields[offset]
	return name, ok
}

type fixtureTypeDb Fixture

func (t *fixtureTypeDb) FindOrAdd(key uint64, name string) DartType {
	f := (*Fixture)(t)
	if dt, ok := f.types[key]; ok {
		return dt
	}
	dt := DartType{Name: name}
	f.types[key] = dt
	return dt
}

// jsonPoolEntry / jsonFunction / jsonClass / jsonDoc describe the on-disk
// fixture format consumed by LoadJSON and cmd/dartlift.
type jsonPoolEntry struct {
	Offset        int     `json:"offset"`
	Kind          string  `json:"kind"` // "object" | "immediate" | "native"
	Value         string  `json:"value,omitempty"`
	Bits          uint64  `json:"bits,omitempty"`
	ClassID       int     `json:"classId,omitempty"`
	StrVal        string  `json:"strVal,omitempty"`
	IntVal        int64   `json:"intVal,omitempty"`
	DoubleVal     float64 `json:"doubleVal,omitempty"`
	BoolVal       bool    `json:"boolVal,omitempty"`
	ArrayLen      int     `json:"arrayLen,omitempty"`
	ArrayConst    bool    `json:"arrayConst,omitempty"`
	ArrayElemType string  `json:"arrayElemType,omitempty"`
}

type jsonFunction struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "user" | "stub"
	Addr uint64 `json:"addr"`
	Size int    `json:"size"`
	Code string `json:"code,omitempty"` // hex-encoded, optional
}

type jsonClass struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// jsonLibraryClass / jsonLibrary describe the Driver's whole-app traversal
// unit (spec.md §4.1): a library (internal or not) with its classes and their
// declared functions, in definition order.
type jsonLibraryClass struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	Functions []jsonFunction `json:"functions"`
}

type jsonLibrary struct {
	URI      string              `json:"uri"`
	Internal bool                `json:"internal"`
	Classes  []jsonLibraryClass  `json:"classes"`
}

type jsonDoc struct {
	Config struct {
		DartIntCid      int            `json:"dartIntCid"`
		ThreadFields    map[string]string `json:"threadFields"`
		ClassIdTagPos16 bool           `json:"classIdTagPos16"`
	} `json:"config"`
	Pool      []jsonPoolEntry `json:"pool"`
	Functions []jsonFunction  `json:"functions"`
	Classes   []jsonClass     `json:"classes"`
	Libraries []jsonLibrary   `json:"libraries"`
}

// LoadJSON parses a fixture document (see cmd/dartlift) into a Fixture.
func LoadJSON(data []byte) (*Fixture, error) {
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("appmodel: parse fixture: %w", err)
	}
	threadFields := map[int]string{}
	for offStr, name := range doc.Config.ThreadFields {
		var off int
		if _, err := fmt.Sscanf(offStr, "%d", &off); err != nil {
			return nil, fmt.Errorf("appmodel: bad thread field offset %q: %w", offStr, err)
		}
		threadFields[off] = name
	}
	f := NewFixture(Config{
		DartIntCid:      doc.Config.DartIntCid,
		ThreadFields:    threadFields,
		ClassIdTagPos16: doc.Config.ClassIdTagPos16,
	})
	for _, p := range doc.Pool {
		entry, err := decodePoolEntry(p)
		if err != nil {
			return nil, err
		}
		f.AddPoolEntry(p.Offset, entry)
	}
	for _, fn := range doc.Functions {
		decoded, err := decodeFunction(fn)
		if err != nil {
			return nil, err
		}
		f.AddFunction(decoded)
	}
	for _, c := range doc.Classes {
		f.AddClass(Class{ID: c.ID, Name: c.Name})
	}
	for _, l := range doc.Libraries {
		lib := Library{URI: l.URI, Internal: l.Internal}
		for _, c := range l.Classes {
			lc := LibraryClass{Class: Class{ID: c.ID, Name: c.Name}}
			for _, fn := range c.Functions {
				decoded, err := decodeFunction(fn)
				if err != nil {
					return nil, err
				}
				lc.Functions = append(lc.Functions, decoded)
				f.AddFunction(decoded)
			}
			lib.Classes = append(lib.Classes, lc)
		}
		f.AddLibrary(lib)
	}
	return f, nil
}

func decodeFunction(fn jsonFunction) (Function, error) {
	kind := FunctionUser
	if fn.Kind == "stub" {
		kind = FunctionStub
	}
	out := Function{Name: fn.Name, Kind: kind, EntryAddr: fn.Addr, CodeSize: fn.Size}
	if fn.Code != "" {
		code, err := hex.DecodeString(fn.Code)
		if err != nil {
			return Function{}, fmt.Errorf("appmodel: bad hex code for function %q: %w", fn.Name, err)
		}
		out.Code = code
		if out.CodeSize == 0 {
			out.CodeSize = len(code)
		}
	}
	return out, nil
}

func decodePoolEntry(p jsonPoolEntry) (PoolEntry, error) {
	switch p.Kind {
	case "immediate":
		return PoolEntry{Kind: PoolImmediate, ImmediateBits: p.Bits}, nil
	case "native":
		return PoolEntry{Kind: PoolNativeFunction, NativeFuncName: p.Value}, nil
	case "object", "":
		return PoolEntry{
			Kind:          PoolTaggedObject,
			ClassID:       p.ClassID,
			StrVal:        p.StrVal,
			IntVal:        p.IntVal,
			DoubleVal:     p.DoubleVal,
			BoolVal:       p.BoolVal,
			ArrayLen:      p.ArrayLen,
			ArrayConst:    p.ArrayConst,
			ArrayElemType: p.ArrayElemType,
		}, nil
	default:
		return PoolEntry{}, fmt.Errorf("appmodel: unknown pool entry kind %q", p.Kind)
	}
}
