package engine

import (
	"fmt"

	"github.com/wippyai/wasm-engine/wasm"
)

// Global is a single global variable. Not safe for concurrent use.
type Global struct {
	bits uint64
	typ  wasm.GlobalType
}

// NewGlobal creates a standalone global, typically to satisfy an
// import. The initial value must match the declared type.
func NewGlobal(typ wasm.GlobalType, val Value) (*Global, error) {
	if val.Type() != typ.ValType {
		return nil, fmt.Errorf("global value type %s does not match declared %s", val.Type(), typ.ValType)
	}
	return &Global{typ: typ, bits: val.Bits()}, nil
}

// Type returns the global's declared type and mutability.
func (g *Global) Type() wasm.GlobalType { return g.typ }

// Get returns the current value.
func (g *Global) Get() Value { return ValueFromBits(g.typ.ValType, g.bits) }

// Set stores a new value. It fails for immutable globals and on type
// mismatch.
func (g *Global) Set(val Value) error {
	if !g.typ.Mutable {
		return fmt.Errorf("global is immutable")
	}
	if val.Type() != g.typ.ValType {
		return fmt.Errorf("value type %s does not match declared %s", val.Type(), g.typ.ValType)
	}
	g.bits = val.Bits()
	return nil
}
