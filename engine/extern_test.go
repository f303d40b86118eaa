package engine

import (
	"sync"
	"testing"

	"github.com/wippyai/wasm-engine/wasm"
)

func TestExtern_Variants(t *testing.T) {
	eng := New(Config{})
	fn := nopHostFunc()
	tab, _ := eng.NewTable(wasm.TableType{ElemType: byte(wasm.ValFuncRef), Limits: wasm.Limits{Min: 1}})
	mem, _ := eng.NewMemory(wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	glob, _ := NewGlobal(wasm.GlobalType{ValType: wasm.ValI32}, I32(0))

	tests := []struct {
		ext  Extern
		name string
		kind ExternKind
	}{
		{FuncExtern(fn), "function", ExternFunc},
		{TableExtern(tab), "table", ExternTable},
		{MemoryExtern(mem), "memory", ExternMemory},
		{GlobalExtern(glob), "global", ExternGlobal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ext.Kind() != tt.kind {
				t.Errorf("Kind() = %s, want %s", tt.ext.Kind(), tt.kind)
			}
			if tt.ext.Kind().String() != tt.name {
				t.Errorf("Kind().String() = %q, want %q", tt.ext.Kind().String(), tt.name)
			}

			// The accessor for the held variant is non-nil, the rest nil.
			variants := map[ExternKind]bool{
				ExternFunc:   tt.ext.Func() != nil,
				ExternTable:  tt.ext.Table() != nil,
				ExternMemory: tt.ext.Memory() != nil,
				ExternGlobal: tt.ext.Global() != nil,
			}
			for kind, set := range variants {
				if set != (kind == tt.kind) {
					t.Errorf("accessor for %s set=%t, want %t", kind, set, kind == tt.kind)
				}
			}
		})
	}
}

func TestRegistry_FindAndReplace(t *testing.T) {
	reg := NewRegistry()

	if _, ok := reg.Find("env", "f"); ok {
		t.Fatal("empty registry resolved an import")
	}

	first := nopHostFunc()
	second := nopHostFunc()
	reg.RegisterFunc("env", "f", first)

	ext, ok := reg.Find("env", "f")
	if !ok || ext.Func() != first {
		t.Fatal("Find did not return the registered function")
	}

	// Same pair, later registration wins.
	reg.RegisterFunc("env", "f", second)
	ext, _ = reg.Find("env", "f")
	if ext.Func() != second {
		t.Error("re-registration did not replace the entry")
	}

	// Other namespaces are unaffected.
	if _, ok := reg.Find("other", "f"); ok {
		t.Error("lookup crossed module namespaces")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.RegisterFunc("env", "f", nopHostFunc())
		}()
		go func() {
			defer wg.Done()
			reg.Find("env", "f")
		}()
	}
	wg.Wait()
}
