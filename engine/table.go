package engine

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-engine/wasm"
)

// tableSlot pairs a function with its interned signature id so
// call_indirect compares types without structural comparison.
type tableSlot struct {
	fn     *Function
	typeID uint32
}

// Table is a growable array of function references.
// Not safe for concurrent use.
type Table struct {
	slots []tableSlot
	types *typeRegistry
	typ   wasm.TableType
}

// NewTable creates a standalone table, typically to satisfy an import.
// Only funcref tables are supported.
func (e *Engine) NewTable(typ wasm.TableType) (*Table, error) {
	if typ.ElemType != byte(wasm.ValFuncRef) {
		return nil, fmt.Errorf("unsupported table element type %#x", typ.ElemType)
	}
	if typ.Limits.Max != nil && typ.Limits.Min > *typ.Limits.Max {
		return nil, fmt.Errorf("table minimum %d exceeds maximum %d", typ.Limits.Min, *typ.Limits.Max)
	}
	return &Table{
		slots: make([]tableSlot, typ.Limits.Min),
		types: e.types,
		typ:   typ,
	}, nil
}

// Type returns the table's declared type.
func (t *Table) Type() wasm.TableType { return t.typ }

// Len returns the current element count.
func (t *Table) Len() uint32 { return uint32(len(t.slots)) }

// Get returns the function at index i, or nil when the slot is empty
// or out of range.
func (t *Table) Get(i uint32) *Function {
	if int(i) >= len(t.slots) {
		return nil
	}
	return t.slots[i].fn
}

// Set stores fn at index i; a nil fn clears the slot.
func (t *Table) Set(i uint32, fn *Function) error {
	if int(i) >= len(t.slots) {
		return fmt.Errorf("table index %d out of range (size %d)", i, len(t.slots))
	}
	if fn == nil {
		t.slots[i] = tableSlot{}
		return nil
	}
	t.slots[i] = tableSlot{fn: fn, typeID: t.types.intern(fn.typ)}
	return nil
}

// Grow extends the table by n empty slots and returns the previous
// size. It fails when the declared maximum would be exceeded.
func (t *Table) Grow(n uint32) (uint32, error) {
	old := uint32(len(t.slots))
	limit := uint64(math.MaxUint32)
	if t.typ.Limits.Max != nil {
		limit = uint64(*t.typ.Limits.Max)
	}
	if uint64(old)+uint64(n) > limit {
		return 0, fmt.Errorf("cannot grow table by %d: %d of %d slots in use", n, old, limit)
	}
	t.slots = append(t.slots, make([]tableSlot, n)...)
	return old, nil
}

// slot returns the raw slot for indirect call dispatch.
func (t *Table) slot(i uint32) (tableSlot, bool) {
	if int(i) >= len(t.slots) {
		return tableSlot{}, false
	}
	return t.slots[i], true
}
