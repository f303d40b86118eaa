// Package cover collects execution coverage for WebAssembly functions
// running under the engine interpreter.
//
// # Overview
//
// Coverage implements engine.Instrumenter as three independent passes:
//
//  1. A name filter decides which functions participate
//  2. A granularity pass selects probe sites: every instruction offset,
//     or every basic block of the function's control-flow graph
//  3. A wrapping pass replaces each selected slot with a probe carrying
//     the original instruction
//
// Probes fire into per-call sessions that fold into process-wide
// recorded sets when the call tree unwinds, so collection never alters
// execution results.
//
// # Usage
//
//	cov := cover.New(cover.Config{
//	    Mode:     cover.ModeEdges,
//	    OnlyList: cover.NewWildcardMatcher([]string{"fib*"}),
//	})
//	eng := engine.New(engine.Config{Instrumenter: cov})
//	// compile, instantiate, invoke
//	fmt.Print(cov.Report())
//
// Functions matching the host-ABI exclusion set (toolchain glue such as
// __wasm_call_ctors or cabi_realloc) are never instrumented.
package cover
