package engine

import (
	"testing"

	"github.com/wippyai/wasm-engine/wasm"
)

func TestNewGlobal(t *testing.T) {
	g, err := NewGlobal(wasm.GlobalType{ValType: wasm.ValF64, Mutable: true}, F64(3.25))
	if err != nil {
		t.Fatalf("NewGlobal: %v", err)
	}
	if g.Type().ValType != wasm.ValF64 || !g.Type().Mutable {
		t.Errorf("Type() = %+v, want mutable f64", g.Type())
	}
	if got := g.Get().F64(); got != 3.25 {
		t.Errorf("Get() = %g, want 3.25", got)
	}
}

func TestNewGlobal_TypeMismatch(t *testing.T) {
	if _, err := NewGlobal(wasm.GlobalType{ValType: wasm.ValI64}, I32(1)); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestGlobal_Set(t *testing.T) {
	g, err := NewGlobal(wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, I32(1))
	if err != nil {
		t.Fatalf("NewGlobal: %v", err)
	}

	if err := g.Set(I32(2)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := g.Get().I32(); got != 2 {
		t.Errorf("Get() = %d, want 2", got)
	}

	if err := g.Set(I64(3)); err == nil {
		t.Error("Set with wrong type should fail")
	}
	if got := g.Get().I32(); got != 2 {
		t.Errorf("Get() = %d after failed Set, want 2", got)
	}
}

func TestGlobal_SetImmutable(t *testing.T) {
	g, err := NewGlobal(wasm.GlobalType{ValType: wasm.ValI32}, I32(1))
	if err != nil {
		t.Fatalf("NewGlobal: %v", err)
	}
	if err := g.Set(I32(2)); err == nil {
		t.Fatal("Set on immutable global should fail")
	}
	if got := g.Get().I32(); got != 1 {
		t.Errorf("Get() = %d, want untouched 1", got)
	}
}
