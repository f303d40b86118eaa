package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	wasmengine "github.com/wippyai/wasm-engine"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/wasm"
)

// Instance is a running module: the compiled bytecode bound to its own
// memories, tables, and globals. Index spaces hold imported entities
// first, in import order, then declared ones.
//
// An instance is not safe for concurrent use; run concurrent workloads
// by instantiating the compiled module once per goroutine.
type Instance struct {
	module   *CompiledModule
	eng      *Engine
	funcs    []*Function
	globals  []*Global
	tables   []*Table
	memories []*Memory
	exports  map[string]Extern
}

type emptyImports struct{}

func (emptyImports) Find(module, name string) (Extern, bool) { return Extern{}, false }

// Instantiate creates a runnable instance of a compiled module.
// Imports are resolved from the given set (nil is treated as empty);
// any unresolved or incompatible import fails with a *errors.LinkError
// and no instance is returned. Active element and data segments are
// bounds-checked against the allocated tables and memories before any
// of them is applied. If the module declares a start function it runs
// before Instantiate returns.
func (e *Engine) Instantiate(ctx context.Context, cm *CompiledModule, imports ImportSet) (*Instance, error) {
	if imports == nil {
		imports = emptyImports{}
	}
	src := cm.src

	inst := &Instance{
		module:  cm,
		eng:     e,
		exports: make(map[string]Extern, len(src.Exports)),
	}

	if err := inst.resolveImports(imports); err != nil {
		return nil, err
	}
	importedGlobals := inst.globals
	e.log.Debug("resolved imports", zap.Int("count", len(src.Imports)))

	// Declared globals may reference imported ones in their init
	// expressions, so they evaluate against the imports-only view.
	for i := range src.Globals {
		g := &src.Globals[i]
		val, err := evalConstExpr(g.Init, importedGlobals)
		if err != nil {
			return nil, fmt.Errorf("global %d init: %w", len(importedGlobals)+i, err)
		}
		if val.Type() != g.Type.ValType {
			return nil, fmt.Errorf("global %d init: type %s does not match declared %s",
				len(importedGlobals)+i, val.Type(), g.Type.ValType)
		}
		inst.globals = append(inst.globals, &Global{typ: g.Type, bits: val.Bits()})
	}

	for _, t := range src.Tables {
		tab, err := e.NewTable(t)
		if err != nil {
			return nil, fmt.Errorf("allocate table: %w", err)
		}
		inst.tables = append(inst.tables, tab)
	}
	for _, mt := range src.Memories {
		mem, err := e.NewMemory(mt)
		if err != nil {
			return nil, fmt.Errorf("allocate memory: %w", err)
		}
		inst.memories = append(inst.memories, mem)
	}

	for _, cf := range cm.funcs {
		code := cf.Code
		if e.instr != nil {
			if out := e.instr.Instrument(cf); out != nil {
				if len(out) != len(cf.Code) {
					return nil, fmt.Errorf("instrumented function %d changed length: %d != %d",
						cf.Index, len(out), len(cf.Code))
				}
				code = out
			}
		}
		inst.funcs = append(inst.funcs, &Function{
			compiled: cf,
			code:     code,
			inst:     inst,
			typ:      cf.Type,
		})
	}

	for _, exp := range src.Exports {
		ext, err := inst.externAt(exp.Kind, exp.Idx)
		if err != nil {
			return nil, fmt.Errorf("export %q: %w", exp.Name, err)
		}
		inst.exports[exp.Name] = ext
	}

	if err := inst.applySegments(importedGlobals); err != nil {
		return nil, err
	}

	e.log.Debug("instantiated module",
		zap.Int("functions", len(inst.funcs)),
		zap.Int("globals", len(inst.globals)),
		zap.Int("tables", len(inst.tables)),
		zap.Int("memories", len(inst.memories)),
		zap.Int("exports", len(inst.exports)))

	if src.Start != nil {
		fn := inst.funcs[*src.Start]
		it := &interpreter{tracer: e.tracer}
		if _, err := it.call(ctx, fn, nil); err != nil {
			return nil, fmt.Errorf("start function: %w", err)
		}
		e.log.Debug("start function completed", zap.Uint32("func", *src.Start))
	}

	return inst, nil
}

func (inst *Instance) resolveImports(imports ImportSet) error {
	for i := range inst.module.src.Imports {
		imp := &inst.module.src.Imports[i]
		ext, ok := imports.Find(imp.Module, imp.Name)
		if !ok {
			return errors.MissingImport(imp.Module, imp.Name)
		}

		switch imp.Desc.Kind {
		case wasm.KindFunc:
			fn := ext.Func()
			if fn == nil {
				return errors.IncompatibleImport(imp.Module, imp.Name,
					fmt.Sprintf("have %s, want function", ext.Kind()))
			}
			want := inst.module.src.Types[imp.Desc.TypeIdx]
			if !fn.typ.Equal(want) {
				return errors.IncompatibleImport(imp.Module, imp.Name,
					fmt.Sprintf("function signature %s does not match %s", fn.typ, want))
			}
			inst.funcs = append(inst.funcs, fn)

		case wasm.KindTable:
			tab := ext.Table()
			if tab == nil {
				return errors.IncompatibleImport(imp.Module, imp.Name,
					fmt.Sprintf("have %s, want table", ext.Kind()))
			}
			if !limitsFit(tab.typ.Limits, imp.Desc.Table.Limits) {
				return errors.IncompatibleImport(imp.Module, imp.Name, "table limits do not match")
			}
			inst.tables = append(inst.tables, tab)

		case wasm.KindMemory:
			mem := ext.Memory()
			if mem == nil {
				return errors.IncompatibleImport(imp.Module, imp.Name,
					fmt.Sprintf("have %s, want memory", ext.Kind()))
			}
			if !limitsFit(mem.typ.Limits, imp.Desc.Memory.Limits) {
				return errors.IncompatibleImport(imp.Module, imp.Name, "memory limits do not match")
			}
			inst.memories = append(inst.memories, mem)

		case wasm.KindGlobal:
			g := ext.Global()
			if g == nil {
				return errors.IncompatibleImport(imp.Module, imp.Name,
					fmt.Sprintf("have %s, want global", ext.Kind()))
			}
			want := imp.Desc.Global
			if g.typ.ValType != want.ValType || g.typ.Mutable != want.Mutable {
				return errors.IncompatibleImport(imp.Module, imp.Name,
					fmt.Sprintf("global type %s (mutable=%t) does not match %s (mutable=%t)",
						g.typ.ValType, g.typ.Mutable, want.ValType, want.Mutable))
			}
			inst.globals = append(inst.globals, g)

		default:
			return errors.IncompatibleImport(imp.Module, imp.Name,
				fmt.Sprintf("unknown import kind %d", imp.Desc.Kind))
		}
	}
	return nil
}

// limitsFit reports whether the provided limits satisfy the declared
// ones: at least the declared minimum, and within the declared maximum
// when one is present.
func limitsFit(have, want wasm.Limits) bool {
	if have.Min < want.Min {
		return false
	}
	if want.Max != nil {
		if have.Max == nil || *have.Max > *want.Max {
			return false
		}
	}
	return true
}

func (inst *Instance) externAt(kind byte, idx uint32) (Extern, error) {
	switch kind {
	case wasm.KindFunc:
		if int(idx) >= len(inst.funcs) {
			return Extern{}, fmt.Errorf("function index %d out of range", idx)
		}
		return FuncExtern(inst.funcs[idx]), nil
	case wasm.KindTable:
		if int(idx) >= len(inst.tables) {
			return Extern{}, fmt.Errorf("table index %d out of range", idx)
		}
		return TableExtern(inst.tables[idx]), nil
	case wasm.KindMemory:
		if int(idx) >= len(inst.memories) {
			return Extern{}, fmt.Errorf("memory index %d out of range", idx)
		}
		return MemoryExtern(inst.memories[idx]), nil
	case wasm.KindGlobal:
		if int(idx) >= len(inst.globals) {
			return Extern{}, fmt.Errorf("global index %d out of range", idx)
		}
		return GlobalExtern(inst.globals[idx]), nil
	}
	return Extern{}, fmt.Errorf("unknown export kind %d", kind)
}

// applySegments bounds-checks every active element and data segment,
// then applies them. A failed check leaves tables and memories in
// their freshly allocated state.
func (inst *Instance) applySegments(importedGlobals []*Global) error {
	src := inst.module.src

	elemOffsets := make([]uint32, len(src.Elements))
	for i := range src.Elements {
		seg := &src.Elements[i]
		if !seg.IsActive() {
			continue
		}
		if int(seg.TableIdx) >= len(inst.tables) {
			return fmt.Errorf("element segment %d: table %d out of range", i, seg.TableIdx)
		}
		off, err := evalConstExpr(seg.Offset, importedGlobals)
		if err != nil {
			return fmt.Errorf("element segment %d offset: %w", i, err)
		}
		if off.Type() != wasm.ValI32 {
			return fmt.Errorf("element segment %d offset: type %s, want i32", i, off.Type())
		}
		start := off.U32()
		end := uint64(start) + uint64(len(seg.FuncIdxs))
		if end > uint64(inst.tables[seg.TableIdx].Len()) {
			return errors.Trapf(errors.TrapTableOutOfBounds,
				"element segment %d writes [%d, %d) into table of size %d",
				i, start, end, inst.tables[seg.TableIdx].Len())
		}
		elemOffsets[i] = start
	}

	dataOffsets := make([]uint32, len(src.Data))
	for i := range src.Data {
		seg := &src.Data[i]
		if !seg.IsActive() {
			continue
		}
		if int(seg.MemIdx) >= len(inst.memories) {
			return fmt.Errorf("data segment %d: memory %d out of range", i, seg.MemIdx)
		}
		off, err := evalConstExpr(seg.Offset, importedGlobals)
		if err != nil {
			return fmt.Errorf("data segment %d offset: %w", i, err)
		}
		if off.Type() != wasm.ValI32 {
			return fmt.Errorf("data segment %d offset: type %s, want i32", i, off.Type())
		}
		start := off.U32()
		end := uint64(start) + uint64(len(seg.Init))
		if end > uint64(inst.memories[seg.MemIdx].Size()) {
			return errors.Trapf(errors.TrapMemoryOutOfBounds,
				"data segment %d writes [%d, %d) into memory of size %d",
				i, start, end, inst.memories[seg.MemIdx].Size())
		}
		dataOffsets[i] = start
	}

	for i := range src.Elements {
		seg := &src.Elements[i]
		if !seg.IsActive() {
			continue
		}
		tab := inst.tables[seg.TableIdx]
		for j, fidx := range seg.FuncIdxs {
			if err := tab.Set(elemOffsets[i]+uint32(j), inst.funcs[fidx]); err != nil {
				return fmt.Errorf("element segment %d: %w", i, err)
			}
		}
	}
	for i := range src.Data {
		seg := &src.Data[i]
		if !seg.IsActive() {
			continue
		}
		copy(inst.memories[seg.MemIdx].data[dataOffsets[i]:], seg.Init)
	}
	return nil
}

// evalConstExpr evaluates an initialization expression: a single const
// instruction or a global.get of an imported global, followed by end.
func evalConstExpr(expr []byte, importedGlobals []*Global) (Value, error) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil {
		return Value{}, fmt.Errorf("decode constant expression: %w", err)
	}
	if len(instrs) != 2 || instrs[1].Opcode != wasm.OpEnd {
		return Value{}, fmt.Errorf("constant expression must be a single instruction")
	}

	in := instrs[0]
	switch in.Opcode {
	case wasm.OpI32Const:
		return I32(in.Imm.(wasm.I32Imm).Value), nil
	case wasm.OpI64Const:
		return I64(in.Imm.(wasm.I64Imm).Value), nil
	case wasm.OpF32Const:
		return F32(in.Imm.(wasm.F32Imm).Value), nil
	case wasm.OpF64Const:
		return F64(in.Imm.(wasm.F64Imm).Value), nil
	case wasm.OpGlobalGet:
		idx := in.Imm.(wasm.GlobalImm).GlobalIdx
		if int(idx) >= len(importedGlobals) {
			return Value{}, fmt.Errorf("global.get %d does not reference an imported global", idx)
		}
		return importedGlobals[idx].Get(), nil
	}
	return Value{}, fmt.Errorf("unsupported instruction %#x in constant expression", in.Opcode)
}

// Module returns the compiled module this instance runs.
func (inst *Instance) Module() *CompiledModule { return inst.module }

// Export returns the named export.
func (inst *Instance) Export(name string) (Extern, bool) {
	ext, ok := inst.exports[name]
	return ext, ok
}

// Exports returns a copy of the export map.
func (inst *Instance) Exports() map[string]Extern {
	out := make(map[string]Extern, len(inst.exports))
	for k, v := range inst.exports {
		out[k] = v
	}
	return out
}

func (inst *Instance) memory0() *Memory {
	if len(inst.memories) == 0 {
		return nil
	}
	return inst.memories[0]
}

// Memory returns the instance's memory, wrapped for tracing when the
// engine has a tracer, or nil when the module declares none.
func (inst *Instance) Memory() wasmengine.Memory {
	if len(inst.memories) == 0 {
		return nil
	}
	mem := inst.memories[0]
	if inst.eng.tracer != nil {
		return &tracedMemory{mem: mem, tracer: inst.eng.tracer}
	}
	return mem
}

// NumFunctions returns the size of the function index space, imported
// functions included.
func (inst *Instance) NumFunctions() int { return len(inst.funcs) }

// Function returns the function at the given space index, or nil.
func (inst *Instance) Function(idx uint32) *Function {
	if int(idx) >= len(inst.funcs) {
		return nil
	}
	return inst.funcs[idx]
}

// Global returns the global at the given space index, or nil.
func (inst *Instance) Global(idx uint32) *Global {
	if int(idx) >= len(inst.globals) {
		return nil
	}
	return inst.globals[idx]
}

// Table returns the table at the given space index, or nil.
func (inst *Instance) Table(idx uint32) *Table {
	if int(idx) >= len(inst.tables) {
		return nil
	}
	return inst.tables[idx]
}

// Invoke calls an exported function by name.
func (inst *Instance) Invoke(ctx context.Context, name string, args ...Value) ([]Value, error) {
	ext, ok := inst.exports[name]
	if !ok {
		return nil, fmt.Errorf("no export %q", name)
	}
	if ext.Kind() != ExternFunc {
		return nil, fmt.Errorf("export %q is a %s, not a function", name, ext.Kind())
	}
	fn := ext.Func()
	if err := checkArgs(fn.typ, args); err != nil {
		return nil, fmt.Errorf("invoke %q: %w", name, err)
	}
	return inst.call(ctx, fn, args)
}

// call runs one exported call tree: it begins a listener session when
// the engine has an instrumenter, converts between Values and raw
// stack slots, and converts interpreter panics into errors.
func (inst *Instance) call(ctx context.Context, fn *Function, args []Value) (results []Value, err error) {
	var listener Listener
	if inst.eng.instr != nil {
		listener = inst.eng.instr.Begin()
	}
	it := &interpreter{listener: listener, tracer: inst.eng.tracer}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("wasm execution panic: %v", r)
		}
	}()

	raw := make([]uint64, len(args))
	for i, a := range args {
		raw[i] = a.Bits()
	}
	out, err := it.call(ctx, fn, raw)
	if err != nil {
		return nil, err
	}

	results = make([]Value, len(fn.typ.Results))
	for i, t := range fn.typ.Results {
		results[i] = ValueFromBits(t, out[i])
	}
	return results, nil
}
