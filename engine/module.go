package engine

import (
	"sync"

	"github.com/wippyai/wasm-engine/wasm"
)

// CompiledModule is an immutable, engine-checked module ready for
// instantiation. It is shared read-only: one compiled module may be
// instantiated many times, concurrently.
type CompiledModule struct {
	src     *wasm.Module
	funcs   []*CompiledFunction // declared functions, in declaration order
	typeIDs []uint32            // interned type ids per type index
	names   *wasm.Names

	importedFuncs    int
	importedGlobals  int
	importedTables   int
	importedMemories int
}

// CompiledFunction is one declared function of a compiled module:
// decoded bytecode plus the metadata the interpreter and the
// instrumentation layer consume.
type CompiledFunction struct {
	// Index is the function's position in the module's function index
	// space (imported functions come first).
	Index uint32

	// Type is the function's signature.
	Type wasm.FuncType

	// Locals holds the expanded local slot types, excluding parameters.
	Locals []wasm.ValType

	// Code is the decoded instruction sequence, ending with end.
	Code []wasm.Instruction

	name string

	// Control resolution tables indexed by instruction position:
	// matchingEnd maps each block/loop/if/else to its matching end,
	// matchingElse maps each if to its else, -1 when absent.
	matchingEnd  []int
	matchingElse []int

	cfgOnce sync.Once
	cfg     *CFG
}

// Name returns the function's name from the module's name section, or
// "" when absent.
func (f *CompiledFunction) Name() string {
	return f.name
}

// CFG returns the function's control-flow graph, computed on first use
// and cached. The result is shared and must not be mutated.
func (f *CompiledFunction) CFG() *CFG {
	f.cfgOnce.Do(func() {
		f.cfg = buildCFG(f.Code, f.matchingEnd, f.matchingElse)
	})
	return f.cfg
}

// Exports returns a copy of the module's export descriptors in
// declaration order.
func (m *CompiledModule) Exports() []wasm.Export {
	out := make([]wasm.Export, len(m.src.Exports))
	copy(out, m.src.Exports)
	return out
}

// Names returns the module's decoded name section. The result is never
// nil; lookups on an absent section return "".
func (m *CompiledModule) Names() *wasm.Names {
	return m.names
}

// NumFunctions returns the size of the function index space, imported
// functions included.
func (m *CompiledModule) NumFunctions() int {
	return m.importedFuncs + len(m.funcs)
}

// Function returns the declared function at function-space index idx,
// or nil for imported or out-of-range indices.
func (m *CompiledModule) Function(idx uint32) *CompiledFunction {
	i := int(idx) - m.importedFuncs
	if i < 0 || i >= len(m.funcs) {
		return nil
	}
	return m.funcs[i]
}

// FuncType returns the signature of the function at function-space
// index idx, or nil when out of range.
func (m *CompiledModule) FuncType(idx uint32) *wasm.FuncType {
	return m.src.GetFuncType(idx)
}
