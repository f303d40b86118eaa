package engine

import (
	"fmt"
	"sync"
)

// ExternKind discriminates the variants of an Extern.
type ExternKind uint8

const (
	ExternFunc ExternKind = iota
	ExternTable
	ExternMemory
	ExternGlobal
)

// String implements fmt.Stringer.
func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "function"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	}
	return fmt.Sprintf("extern kind %d", uint8(k))
}

// Extern is one linkable entity: a function, table, memory, or global.
// Exactly one variant is set, reported by Kind; the accessor for any
// other variant returns nil.
type Extern struct {
	fn   *Function
	tab  *Table
	mem  *Memory
	glob *Global
	kind ExternKind
}

// FuncExtern wraps a function for linking.
func FuncExtern(f *Function) Extern { return Extern{kind: ExternFunc, fn: f} }

// TableExtern wraps a table for linking.
func TableExtern(t *Table) Extern { return Extern{kind: ExternTable, tab: t} }

// MemoryExtern wraps a memory for linking.
func MemoryExtern(m *Memory) Extern { return Extern{kind: ExternMemory, mem: m} }

// GlobalExtern wraps a global for linking.
func GlobalExtern(g *Global) Extern { return Extern{kind: ExternGlobal, glob: g} }

// Kind reports which variant is set.
func (e Extern) Kind() ExternKind { return e.kind }

// Func returns the function variant, or nil.
func (e Extern) Func() *Function { return e.fn }

// Table returns the table variant, or nil.
func (e Extern) Table() *Table { return e.tab }

// Memory returns the memory variant, or nil.
func (e Extern) Memory() *Memory { return e.mem }

// Global returns the global variant, or nil.
func (e Extern) Global() *Global { return e.glob }

// ImportSet resolves module/name pairs during instantiation.
type ImportSet interface {
	Find(module, name string) (Extern, bool)
}

// Registry is a mutable ImportSet backed by a two-level map.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[string]Extern
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]map[string]Extern)}
}

// Register makes ext available as module.name, replacing any previous
// entry under that pair.
func (r *Registry) Register(module, name string, ext Extern) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns := r.entries[module]
	if ns == nil {
		ns = make(map[string]Extern)
		r.entries[module] = ns
	}
	ns[name] = ext
}

// RegisterFunc is shorthand for registering a function under
// module.name.
func (r *Registry) RegisterFunc(module, name string, f *Function) {
	r.Register(module, name, FuncExtern(f))
}

// RegisterInstance exposes every export of inst under the given module
// name, so one instance can satisfy another's imports.
func (r *Registry) RegisterInstance(module string, inst *Instance) {
	for name, ext := range inst.Exports() {
		r.Register(module, name, ext)
	}
}

// Find implements ImportSet.
func (r *Registry) Find(module, name string) (Extern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.entries[module][name]
	return ext, ok
}
