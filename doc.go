// Package wasmengine provides a Go implementation of a WebAssembly execution
// engine: module linking, instantiation, and bytecode interpretation.
//
// The engine takes a decoded core module, resolves its imports against a set
// of host-provided entities, allocates a live instance (functions, globals,
// tables, linear memories), and executes exported functions under an
// instruction interpreter. Per-function control-flow graphs and a pluggable
// instruction listener support coverage collection and execution tracing.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmengine/          Root package with the shared Memory interfaces
//	├── engine/          Linking, instantiation, runtime entities, interpreter
//	├── wasm/            Core WASM binary manipulation primitives
//	├── cover/           Coverage instrumentation (offset and edge granularity)
//	├── wasi/            WASI preview1 host module
//	└── errors/          Structured error types for link, trap, and growth faults
//
// # Quick Start
//
// Load and run a module:
//
//	mod, err := wasm.ParseModule(wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	eng := engine.New(engine.Config{})
//	compiled, err := eng.Compile(mod)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := eng.Instantiate(ctx, compiled, engine.NewRegistry())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	results, err := inst.Invoke(ctx, "add", engine.I32(2), engine.I32(3))
//	fmt.Println(results[0].I32()) // 5
//
// # Host Functions
//
// Register Go functions as importable entities:
//
//	reg := engine.NewRegistry()
//	reg.RegisterFunc("env", "now", engine.NewHostFunc(
//	    wasm.FuncType{Results: []wasm.ValType{wasm.ValI64}},
//	    func(ctx context.Context, args []engine.Value) ([]engine.Value, error) {
//	        return []engine.Value{engine.I64(time.Now().UnixNano())}, nil
//	    },
//	))
//
// # Thread Safety
//
// Engine and CompiledModule are safe for concurrent use; a compiled module may
// be instantiated many times. Instance is NOT thread-safe and should be used
// by a single goroutine, or access must be synchronized by the caller.
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. Growth is bounded by the
// declared maximum and by the engine's configured page ceiling, whichever is
// smaller. When guest applications free memory, it remains allocated but
// available for reuse within the instance.
package wasmengine
