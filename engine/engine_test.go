package engine

import (
	"context"
	"testing"

	"github.com/wippyai/wasm-engine/wasm"
)

// funcDef describes one declared function for buildModule.
type funcDef struct {
	name    string
	params  []wasm.ValType
	results []wasm.ValType
	locals  []wasm.ValType
	body    []wasm.Instruction
}

// buildModule assembles a module with no imports from function
// definitions. Bodies get their terminating end appended.
func buildModule(t *testing.T, fns ...funcDef) *wasm.Module {
	t.Helper()
	m := &wasm.Module{}
	for i, fn := range fns {
		typeIdx := m.AddType(wasm.FuncType{Params: fn.params, Results: fn.results})
		m.Funcs = append(m.Funcs, typeIdx)

		var locals []wasm.LocalEntry
		for _, lt := range fn.locals {
			if n := len(locals); n > 0 && locals[n-1].ValType == lt {
				locals[n-1].Count++
			} else {
				locals = append(locals, wasm.LocalEntry{Count: 1, ValType: lt})
			}
		}
		body := append(append([]wasm.Instruction{}, fn.body...), wasm.Instruction{Opcode: wasm.OpEnd})
		m.Code = append(m.Code, wasm.FuncBody{Locals: locals, Code: wasm.EncodeInstructions(body)})

		if fn.name != "" {
			m.Exports = append(m.Exports, wasm.Export{Name: fn.name, Kind: wasm.KindFunc, Idx: uint32(i)})
		}
	}
	return m
}

// compileModule compiles with a fresh default engine.
func compileModule(t *testing.T, m *wasm.Module) (*Engine, *CompiledModule) {
	t.Helper()
	eng := New(Config{})
	compiled, err := eng.Compile(m)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return eng, compiled
}

// instantiate compiles and instantiates with the given imports.
func instantiate(t *testing.T, m *wasm.Module, imports ImportSet) *Instance {
	t.Helper()
	eng, compiled := compileModule(t, m)
	inst, err := eng.Instantiate(context.Background(), compiled, imports)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	return inst
}

// run compiles, instantiates, and invokes one export.
func run(t *testing.T, m *wasm.Module, name string, args ...Value) []Value {
	t.Helper()
	inst := instantiate(t, m, nil)
	out, err := inst.Invoke(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("invoke %s: %v", name, err)
	}
	return out
}

// runErr compiles, instantiates, and returns the invocation error.
func runErr(t *testing.T, m *wasm.Module, name string, args ...Value) error {
	t.Helper()
	inst := instantiate(t, m, nil)
	_, err := inst.Invoke(context.Background(), name, args...)
	return err
}

func TestNew_MemoryLimitDefaults(t *testing.T) {
	tests := []struct {
		name  string
		pages uint32
		want  uint32
	}{
		{"zero means architectural limit", 0, wasm.MemoryMaxPages},
		{"explicit limit kept", 256, 256},
		{"above architectural limit clamped", wasm.MemoryMaxPages + 1, wasm.MemoryMaxPages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := New(Config{MemoryLimitPages: tt.pages})
			if eng.limit != tt.want {
				t.Errorf("limit = %d, want %d", eng.limit, tt.want)
			}
		})
	}
}

func TestTypeRegistry_Intern(t *testing.T) {
	r := newTypeRegistry()

	a := r.intern(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}})
	b := r.intern(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}})
	c := r.intern(wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}, Results: []wasm.ValType{wasm.ValI32}})

	if a != b {
		t.Errorf("equal signatures interned to %d and %d", a, b)
	}
	if a == c {
		t.Errorf("distinct signatures share id %d", a)
	}
}

func TestInvoke_UnknownExport(t *testing.T) {
	m := buildModule(t, funcDef{
		name:    "f",
		results: []wasm.ValType{wasm.ValI32},
		body:    []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}}},
	})
	inst := instantiate(t, m, nil)

	if _, err := inst.Invoke(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown export")
	}
}

func TestInvoke_ArgumentChecking(t *testing.T) {
	m := buildModule(t, funcDef{
		name:    "add",
		params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		results: []wasm.ValType{wasm.ValI32},
		body: []wasm.Instruction{
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
			{Opcode: wasm.OpI32Add},
		},
	})
	inst := instantiate(t, m, nil)
	ctx := context.Background()

	if _, err := inst.Invoke(ctx, "add", I32(1)); err == nil {
		t.Error("expected error for missing argument")
	}
	if _, err := inst.Invoke(ctx, "add", I32(1), I64(2)); err == nil {
		t.Error("expected error for argument type mismatch")
	}
	out, err := inst.Invoke(ctx, "add", I32(1), I32(2))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := out[0].I32(); got != 3 {
		t.Errorf("add(1, 2) = %d, want 3", got)
	}
}

func TestInvoke_ContextCancellation(t *testing.T) {
	// An infinite loop must stop at the next back edge once the
	// context is cancelled.
	m := buildModule(t, funcDef{
		name: "spin",
		body: []wasm.Instruction{
			{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
			{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}},
			{Opcode: wasm.OpEnd},
		},
	})
	inst := instantiate(t, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := inst.Invoke(ctx, "spin")
		done <- err
	}()
	cancel()

	if err := <-done; err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestEngine_SharedCompiledModule(t *testing.T) {
	// One compiled module instantiated twice yields independent state.
	m := buildModule(t, funcDef{
		name:    "bump",
		results: []wasm.ValType{wasm.ValI32},
		body: []wasm.Instruction{
			{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: 0}},
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
			{Opcode: wasm.OpI32Add},
			{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: 0}},
			{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: 0}},
		},
	})
	m.Globals = append(m.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: wasm.EncodeInstructions([]wasm.Instruction{
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}},
			{Opcode: wasm.OpEnd},
		}),
	})

	eng, compiled := compileModule(t, m)
	ctx := context.Background()

	a, err := eng.Instantiate(ctx, compiled, nil)
	if err != nil {
		t.Fatalf("instantiate a: %v", err)
	}
	b, err := eng.Instantiate(ctx, compiled, nil)
	if err != nil {
		t.Fatalf("instantiate b: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := a.Invoke(ctx, "bump"); err != nil {
			t.Fatalf("bump a: %v", err)
		}
	}
	out, err := b.Invoke(ctx, "bump")
	if err != nil {
		t.Fatalf("bump b: %v", err)
	}
	if got := out[0].I32(); got != 1 {
		t.Errorf("instance b counter = %d, want 1 (state leaked between instances)", got)
	}
}
