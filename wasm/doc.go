// Package wasm provides WebAssembly binary format parsing and encoding.
//
// This package implements a parser and encoder for WebAssembly 1.0 binary
// modules, plus the extensions the execution engine understands: sign
// extension, saturating truncation, and the memory.copy/memory.fill bulk
// operations.
//
// # Supported Features
//
//	WebAssembly 1.0:
//	  - Core value types (i32, i64, f32, f64)
//	  - Functions, tables, memories, globals
//	  - Control flow, calls, local/global access
//	  - Memory load/store, memory.size, memory.grow
//	  - Import/export of all definitions
//	  - Element and data segments, start function
//	  - Custom sections, including the name section
//
//	Extensions:
//	  - Sign extension (i32.extend8_s and friends)
//	  - Saturating truncation (0xFC sub-opcodes 0x00-0x07)
//	  - Bulk memory and table operations (0xFC sub-opcodes 0x08-0x11)
//
// SIMD, atomics, GC, and exception handling are outside the engine's
// scope; their opcode prefixes are rejected during instruction decoding.
//
// # Parsing
//
// Parse a WebAssembly module from binary:
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Parse with validation enabled:
//
//	module, err := wasm.ParseModuleValidate(data)
//
// # Encoding
//
// Encode a module back to binary:
//
//	encoded := module.Encode()
//
// Round-trip parsing and encoding preserves module semantics:
//
//	original, _ := wasm.ParseModule(data)
//	roundtrip, _ := wasm.ParseModule(original.Encode())
//	// original and roundtrip are semantically equivalent
//
// # Module Structure
//
// A parsed module contains all sections:
//
//	module.Types      []FuncType    // Function signatures
//	module.Funcs      []uint32      // Type indices for functions
//	module.Tables     []TableType   // Table definitions
//	module.Memories   []MemoryType  // Memory definitions
//	module.Globals    []Global      // Global definitions
//	module.Imports    []Import      // Imported definitions
//	module.Exports    []Export      // Exported definitions
//	module.Code       []FuncBody    // Function bodies
//	module.Data       []DataSegment // Data segments
//	module.Elements   []Element     // Element segments
//
// # Instructions
//
// Decode instructions from bytecode:
//
//	instructions, err := wasm.DecodeInstructions(body.Code)
//	for _, instr := range instructions {
//	    fmt.Printf("%s\n", instr)
//	}
//
// Encode instructions back to bytecode:
//
//	encoded := wasm.EncodeInstructions(instructions)
//
// # Names
//
// The name section, when present, carries debug names for the module and
// its functions, locals, and other definitions:
//
//	names, err := wasm.DecodeNames(module)
//	fmt.Println(names.Function(3))
//
// # Validation
//
// Validate module structure:
//
//	if err := module.Validate(); err != nil {
//	    log.Printf("invalid module: %v", err)
//	}
//
// Validation checks:
//   - Type, function, table, memory, and global indices are in bounds
//   - Export names are unique
//   - The start function has an empty signature
//   - Memory limits fit in 32-bit address space
package wasm
