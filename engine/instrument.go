package engine

import "github.com/wippyai/wasm-engine/wasm"

// Instrumenter rewrites function bytecode during instantiation.
//
// Instrument runs once per declared function per instance. The input is
// the shared compiled function and must not be mutated; implementations
// return a fresh instruction array, or nil to leave the function
// unmodified. The returned array must have the same length as f.Code,
// with every slot holding either the original instruction or a probe
// wrapping it (wasm.ProbeImm). Instantiation fails if the length
// changes.
//
// Begin is called at the start of every exported call and returns the
// listener for that call tree. Returning nil disables events for the
// call; rewritten bytecode still executes, probes just fire into
// nothing.
type Instrumenter interface {
	Instrument(f *CompiledFunction) []wasm.Instruction
	Begin() Listener
}

// Listener receives execution events during one exported call.
// Callbacks run on the calling goroutine inside the interpreter loop;
// implementations must be cheap and must not call back into the
// instance.
type Listener interface {
	// EnterFunction fires when a wasm function frame is pushed.
	// Host functions do not report.
	EnterFunction(funcIdx uint32)

	// LeaveFunction fires when the frame pops, on both normal return
	// and trap unwind.
	LeaveFunction(funcIdx uint32)

	// Probe fires when a probe instruction is reached, before the
	// instruction it wraps executes. The id is whatever the
	// instrumenter stored in the probe.
	Probe(funcIdx, id uint32)
}
