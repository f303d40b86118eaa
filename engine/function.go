package engine

import (
	"context"
	"fmt"

	"github.com/wippyai/wasm-engine/wasm"
)

// HostFunc is the signature of a Go-implemented function callable from
// wasm code. Args match the declared parameter types in order; the
// returned values must match the declared result types. Returning an
// error aborts the calling wasm computation with that error.
type HostFunc func(ctx context.Context, args []Value) ([]Value, error)

// Function is a callable function: either wasm bytecode bound to its
// defining instance, or a host function.
type Function struct {
	compiled *CompiledFunction  // nil for host functions
	code     []wasm.Instruction // executed body, instrumented when an instrumenter ran
	inst     *Instance          // defining instance, nil for host functions
	hostFn   HostFunc           // nil for wasm functions
	typ      wasm.FuncType
}

// NewHostFunc wraps a Go function so it can satisfy a function import
// or populate a table slot.
func NewHostFunc(typ wasm.FuncType, fn HostFunc) *Function {
	return &Function{typ: typ, hostFn: fn}
}

// Type returns the function's signature.
func (f *Function) Type() wasm.FuncType { return f.typ }

// IsHost reports whether the function is implemented in Go.
func (f *Function) IsHost() bool { return f.hostFn != nil }

// Name returns the function's name from the module's name section, or
// "" when absent or for host functions.
func (f *Function) Name() string {
	if f.compiled == nil {
		return ""
	}
	return f.compiled.Name()
}

// Call invokes the function with the given arguments. For wasm
// functions this runs bytecode in the defining instance, exactly like
// Instance.Invoke on an export.
func (f *Function) Call(ctx context.Context, args ...Value) ([]Value, error) {
	if err := checkArgs(f.typ, args); err != nil {
		return nil, err
	}
	if f.hostFn != nil {
		return f.hostFn(ctx, args)
	}
	return f.inst.call(ctx, f, args)
}

func checkArgs(typ wasm.FuncType, args []Value) error {
	if len(args) != len(typ.Params) {
		return fmt.Errorf("expected %d arguments, got %d", len(typ.Params), len(args))
	}
	for i, p := range typ.Params {
		if args[i].Type() != p {
			return fmt.Errorf("argument %d: expected %s, got %s", i, p, args[i].Type())
		}
	}
	return nil
}
