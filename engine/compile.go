package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/wasm"
)

// maxLocals bounds the declared local count of a single function.
const maxLocals = 65536

// Compile turns a decoded module into an immutable representation ready
// for instantiation. Function bodies are decoded into instruction
// arrays and checked: balanced control structure, branch depths in
// range, call/local/global/type indices in range, writes only to
// mutable globals, and no instructions outside the supported set.
// Compile never mutates m; the compiled module keeps a reference to it.
func (e *Engine) Compile(m *wasm.Module) (*CompiledModule, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validate module: %w", err)
	}

	names, err := wasm.DecodeNames(m)
	if err != nil {
		e.log.Debug("ignoring malformed name section", zap.Error(err))
		names = &wasm.Names{}
	}

	counts := moduleCounts{
		funcs:   m.NumImportedFuncs() + len(m.Funcs),
		globals: m.NumImportedGlobals() + len(m.Globals),
		tables:  m.NumImportedTables() + len(m.Tables),
		mems:    m.NumImportedMemories() + len(m.Memories),
	}

	cm := &CompiledModule{
		src:              m,
		funcs:            make([]*CompiledFunction, 0, len(m.Funcs)),
		typeIDs:          make([]uint32, len(m.Types)),
		names:            names,
		importedFuncs:    m.NumImportedFuncs(),
		importedGlobals:  m.NumImportedGlobals(),
		importedTables:   m.NumImportedTables(),
		importedMemories: m.NumImportedMemories(),
	}
	for i := range m.Types {
		cm.typeIDs[i] = e.types.intern(m.Types[i])
	}

	for i := range m.Funcs {
		idx := uint32(cm.importedFuncs + i)
		ft := m.Types[m.Funcs[i]]

		instrs, err := wasm.DecodeInstructions(m.Code[i].Code)
		if err != nil {
			return nil, fmt.Errorf("function %d: decode body: %w", idx, err)
		}
		locals, err := expandLocals(&m.Code[i])
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", idx, err)
		}
		ends, elses, err := resolveControl(instrs)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", idx, err)
		}
		if err := checkBody(m, idx, instrs, len(ft.Params)+len(locals), counts); err != nil {
			return nil, err
		}

		cm.funcs = append(cm.funcs, &CompiledFunction{
			Index:        idx,
			Type:         ft,
			Locals:       locals,
			Code:         instrs,
			name:         names.Function(idx),
			matchingEnd:  ends,
			matchingElse: elses,
		})
	}

	e.log.Debug("compiled module",
		zap.Int("functions", counts.funcs),
		zap.Int("types", len(m.Types)),
		zap.Int("exports", len(m.Exports)))

	return cm, nil
}

type moduleCounts struct {
	funcs   int
	globals int
	tables  int
	mems    int
}

func expandLocals(body *wasm.FuncBody) ([]wasm.ValType, error) {
	total := 0
	for _, le := range body.Locals {
		total += int(le.Count)
		if total > maxLocals {
			return nil, fmt.Errorf("too many locals: %d", total)
		}
	}

	out := make([]wasm.ValType, 0, total)
	for _, le := range body.Locals {
		switch le.ValType {
		case wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64:
		default:
			return nil, fmt.Errorf("unsupported local type %s", le.ValType)
		}
		for n := uint32(0); n < le.Count; n++ {
			out = append(out, le.ValType)
		}
	}
	return out, nil
}

// resolveControl matches each block, loop, if, and else to its end in
// one scan. The returned tables are indexed by instruction position and
// hold -1 where the entry does not apply.
func resolveControl(instrs []wasm.Instruction) (ends, elses []int, err error) {
	n := len(instrs)
	ends = make([]int, n)
	elses = make([]int, n)
	for i := range ends {
		ends[i] = -1
		elses[i] = -1
	}

	type open struct {
		pc     int
		elsePC int
		op     byte
	}
	var stack []open

	for pc := 0; pc < n; pc++ {
		switch instrs[pc].Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			stack = append(stack, open{pc: pc, elsePC: -1, op: instrs[pc].Opcode})

		case wasm.OpElse:
			if len(stack) == 0 || stack[len(stack)-1].op != wasm.OpIf {
				return nil, nil, fmt.Errorf("else at %d outside if", pc)
			}
			if stack[len(stack)-1].elsePC >= 0 {
				return nil, nil, fmt.Errorf("duplicate else at %d", pc)
			}
			stack[len(stack)-1].elsePC = pc

		case wasm.OpEnd:
			if len(stack) == 0 {
				// Function-level end closes the body.
				if pc != n-1 {
					return nil, nil, fmt.Errorf("unbalanced end at %d", pc)
				}
				continue
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			ends[f.pc] = pc
			if f.elsePC >= 0 {
				elses[f.pc] = f.elsePC
				ends[f.elsePC] = pc
			}
		}
	}

	if len(stack) > 0 {
		return nil, nil, fmt.Errorf("unclosed block at %d", stack[len(stack)-1].pc)
	}
	if n == 0 || instrs[n-1].Opcode != wasm.OpEnd {
		return nil, nil, fmt.Errorf("function body does not end with end")
	}
	return ends, elses, nil
}

// checkBody validates one function body against the module's index
// spaces and the engine's supported instruction set.
func checkBody(m *wasm.Module, fnIdx uint32, instrs []wasm.Instruction, numSlots int, c moduleCounts) error {
	depth := 0

	checkLabel := func(pc int, l uint32) error {
		if int(l) > depth {
			return fmt.Errorf("function %d: branch depth %d exceeds nesting %d at %d", fnIdx, l, depth, pc)
		}
		return nil
	}
	needMemory := func(pc int, op string) error {
		if c.mems == 0 {
			return fmt.Errorf("function %d: %s at %d requires a memory", fnIdx, op, pc)
		}
		return nil
	}

	for pc := range instrs {
		in := &instrs[pc]
		switch in.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			bt := in.Imm.(wasm.BlockImm).Type
			switch bt {
			case wasm.BlockTypeVoid, wasm.BlockTypeI32, wasm.BlockTypeI64,
				wasm.BlockTypeF32, wasm.BlockTypeF64:
			default:
				if bt >= 0 {
					return fmt.Errorf("function %d: multi-value block type at %d is not supported", fnIdx, pc)
				}
				return fmt.Errorf("function %d: invalid block type %d at %d", fnIdx, bt, pc)
			}
			depth++

		case wasm.OpEnd:
			if depth > 0 {
				depth--
			}

		case wasm.OpBr, wasm.OpBrIf:
			if err := checkLabel(pc, in.Imm.(wasm.BranchImm).LabelIdx); err != nil {
				return err
			}

		case wasm.OpBrTable:
			imm := in.Imm.(wasm.BrTableImm)
			for _, l := range imm.Labels {
				if err := checkLabel(pc, l); err != nil {
					return err
				}
			}
			if err := checkLabel(pc, imm.Default); err != nil {
				return err
			}

		case wasm.OpCall:
			if idx := in.Imm.(wasm.CallImm).FuncIdx; int(idx) >= c.funcs {
				return fmt.Errorf("function %d: call target %d out of range at %d", fnIdx, idx, pc)
			}

		case wasm.OpCallIndirect:
			imm := in.Imm.(wasm.CallIndirectImm)
			if int(imm.TypeIdx) >= len(m.Types) {
				return fmt.Errorf("function %d: call_indirect type %d out of range at %d", fnIdx, imm.TypeIdx, pc)
			}
			if int(imm.TableIdx) >= c.tables {
				return fmt.Errorf("function %d: call_indirect table %d out of range at %d", fnIdx, imm.TableIdx, pc)
			}

		case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
			if idx := in.Imm.(wasm.LocalImm).LocalIdx; int(idx) >= numSlots {
				return fmt.Errorf("function %d: local %d out of range at %d", fnIdx, idx, pc)
			}

		case wasm.OpGlobalGet:
			if idx := in.Imm.(wasm.GlobalImm).GlobalIdx; int(idx) >= c.globals {
				return fmt.Errorf("function %d: global %d out of range at %d", fnIdx, idx, pc)
			}

		case wasm.OpGlobalSet:
			idx := in.Imm.(wasm.GlobalImm).GlobalIdx
			if int(idx) >= c.globals {
				return fmt.Errorf("function %d: global %d out of range at %d", fnIdx, idx, pc)
			}
			if gt := globalTypeAt(m, idx); gt == nil || !gt.Mutable {
				return fmt.Errorf("function %d: global.set of immutable global %d at %d", fnIdx, idx, pc)
			}

		case wasm.OpI32Load, wasm.OpI64Load, wasm.OpF32Load, wasm.OpF64Load,
			wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U,
			wasm.OpI64Load8S, wasm.OpI64Load8U, wasm.OpI64Load16S, wasm.OpI64Load16U,
			wasm.OpI64Load32S, wasm.OpI64Load32U,
			wasm.OpI32Store, wasm.OpI64Store, wasm.OpF32Store, wasm.OpF64Store,
			wasm.OpI32Store8, wasm.OpI32Store16, wasm.OpI64Store8, wasm.OpI64Store16,
			wasm.OpI64Store32:
			if err := needMemory(pc, "memory access"); err != nil {
				return err
			}

		case wasm.OpMemorySize, wasm.OpMemoryGrow:
			if err := needMemory(pc, "memory operation"); err != nil {
				return err
			}

		case wasm.OpSelectType:
			imm := in.Imm.(wasm.SelectTypeImm)
			if len(imm.Types) != 1 {
				return fmt.Errorf("function %d: select with %d types at %d", fnIdx, len(imm.Types), pc)
			}
			switch imm.Types[0] {
			case wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64:
			default:
				return fmt.Errorf("function %d: select of non-numeric type at %d", fnIdx, pc)
			}

		case wasm.OpPrefixMisc:
			imm := in.Imm.(wasm.MiscImm)
			switch imm.SubOpcode {
			case wasm.MiscI32TruncSatF32S, wasm.MiscI32TruncSatF32U,
				wasm.MiscI32TruncSatF64S, wasm.MiscI32TruncSatF64U,
				wasm.MiscI64TruncSatF32S, wasm.MiscI64TruncSatF32U,
				wasm.MiscI64TruncSatF64S, wasm.MiscI64TruncSatF64U:
			case wasm.MiscMemoryCopy, wasm.MiscMemoryFill:
				if err := needMemory(pc, miscOpName(imm.SubOpcode)); err != nil {
					return err
				}
			default:
				return fmt.Errorf("function %d: unsupported instruction %s at %d", fnIdx, miscOpName(imm.SubOpcode), pc)
			}
		}
	}
	return nil
}

// globalTypeAt returns the type of the global at space index idx,
// imported globals first.
func globalTypeAt(m *wasm.Module, idx uint32) *wasm.GlobalType {
	n := uint32(0)
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind == wasm.KindGlobal {
			if n == idx {
				return m.Imports[i].Desc.Global
			}
			n++
		}
	}
	local := int(idx) - int(n)
	if local < 0 || local >= len(m.Globals) {
		return nil
	}
	return &m.Globals[local].Type
}

func miscOpName(sub uint32) string {
	switch sub {
	case wasm.MiscMemoryInit:
		return "memory.init"
	case wasm.MiscDataDrop:
		return "data.drop"
	case wasm.MiscMemoryCopy:
		return "memory.copy"
	case wasm.MiscMemoryFill:
		return "memory.fill"
	case wasm.MiscTableInit:
		return "table.init"
	case wasm.MiscElemDrop:
		return "elem.drop"
	case wasm.MiscTableCopy:
		return "table.copy"
	case wasm.MiscTableGrow:
		return "table.grow"
	case wasm.MiscTableSize:
		return "table.size"
	case wasm.MiscTableFill:
		return "table.fill"
	}
	return fmt.Sprintf("0xfc 0x%02x", sub)
}
