// Package engine executes WebAssembly modules by interpretation.
//
// # Architecture
//
// The package provides three main types:
//
//	Engine         - Compiles modules and holds shared configuration
//	CompiledModule - Validated bytecode, ready to instantiate
//	Instance       - A running module with its own memories, tables, globals
//
// # Execution Flow
//
//  1. Engine.Compile decodes function bodies, resolves the control
//     structure, and checks every index against the module's spaces
//  2. Engine.Instantiate resolves imports, evaluates global
//     initializers, allocates entities, and applies active segments
//  3. Instance.Invoke runs an exported function on a stack-based
//     interpreter; Function.Call does the same for a function value
//
// Instantiation is transactional about segments: every active element
// and data segment is bounds-checked before any of them writes, so a
// failed instantiation never leaves a half-initialized table or memory.
// If the module declares a start function it runs before Instantiate
// returns.
//
// # Instrumentation
//
// An Instrumenter rewrites function bytecode per instance. Probes wrap
// instructions in place: the probe fires its Listener callback, then
// the wrapped instruction executes, so rewritten code computes exactly
// what the original computed. Instrumenter.Begin scopes a Listener to
// one exported call tree. See the cover package for a ready-made
// coverage instrumenter.
//
// # Tracing
//
// A Tracer observes every executed instruction and every linear memory
// access without bytecode rewriting. Memory handles returned by
// Instance.Memory report host-side accesses to the same tracer.
//
// # Interpretation Strategy
//
// Compile flattens each body into an instruction array and records the
// matching end (and else) for every structured opcode, so branches
// resolve to array positions without scanning. Per-function control
// flow graphs are built lazily by CompiledFunction.CFG from the same
// tables. Values live on a uint64 operand stack; i32 and f32 occupy
// the low 32 bits zero-extended.
//
// # Thread Safety
//
// Engine and CompiledModule are safe for concurrent use. Instance is
// NOT: it owns mutable memories, tables, and globals. Instantiate the
// compiled module once per goroutine instead of sharing an instance.
package engine
