package engine

import (
	"sort"

	"github.com/wippyai/wasm-engine/wasm"
)

// JumpKind classifies the terminal control transfer of a basic block.
type JumpKind uint8

const (
	// JumpNone ends a block without an explicit jump: execution falls
	// through to the next block or leaves the function (return,
	// unreachable, final end).
	JumpNone JumpKind = iota

	// JumpUncond transfers to a single successor.
	JumpUncond

	// JumpCond transfers to one of two successors depending on the top
	// of the operand stack.
	JumpCond

	// JumpTable selects a successor from a case list by index, falling
	// back to a default.
	JumpTable
)

// ExitBlock is the successor id of a branch that leaves the function.
const ExitBlock = ^uint32(0)

// BasicBlock is a maximal straight-line run of instructions.
//
// The Succs layout depends on Jump:
//
//	JumpNone    empty (function exit) or {next} (fallthrough)
//	JumpUncond  {target}
//	JumpCond    {taken, fallthrough}
//	JumpTable   {case 0, ..., case N-1, default}
//
// Successor ids refer to blocks of the same CFG, or ExitBlock.
type BasicBlock struct {
	Succs []uint32
	ID    uint32
	Start int // first instruction index
	End   int // one past the last instruction index
	Jump  JumpKind
}

// CFG is the control-flow graph of one function body. Blocks are ordered
// and numbered by program position starting at 0 and are never mutated
// after construction.
type CFG struct {
	Blocks []BasicBlock
}

// BlockAt returns the block containing instruction index pc, or nil when
// pc is out of range.
func (g *CFG) BlockAt(pc int) *BasicBlock {
	i := sort.Search(len(g.Blocks), func(i int) bool { return g.Blocks[i].End > pc })
	if i == len(g.Blocks) || g.Blocks[i].Start > pc {
		return nil
	}
	return &g.Blocks[i]
}

// buildCFG derives the control-flow graph from a function body in one
// scan. Blocks split at every control transfer (br, br_if, br_table,
// if, else, return, unreachable) and at every branch target. ends and
// elses are the control resolution tables computed at compile time.
func buildCFG(instrs []wasm.Instruction, ends, elses []int) *CFG {
	n := len(instrs)

	leaders := map[int]struct{}{0: {}}
	mark := func(pc int) {
		if pc < n {
			leaders[pc] = struct{}{}
		}
	}

	type openBlock struct {
		pc int
		op byte
	}
	var stack []openBlock

	// Branch targets are label depths; resolve them to instruction
	// indices against the enclosing structure. A loop label targets the
	// loop body, a block or if label targets past its end, and the
	// function label (depth == len(stack)) targets the exit.
	resolve := func(depth uint32) int {
		d := int(depth)
		if d >= len(stack) {
			return n
		}
		f := stack[len(stack)-1-d]
		if f.op == wasm.OpLoop {
			return f.pc + 1
		}
		return ends[f.pc] + 1
	}

	targets := make(map[int][]int)
	for pc := 0; pc < n; pc++ {
		in := &instrs[pc]
		switch in.Opcode {
		case wasm.OpBlock, wasm.OpLoop:
			stack = append(stack, openBlock{pc: pc, op: in.Opcode})

		case wasm.OpIf:
			stack = append(stack, openBlock{pc: pc, op: in.Opcode})
			mark(pc + 1)
			if e := elses[pc]; e >= 0 {
				mark(e + 1)
			} else {
				mark(ends[pc] + 1)
			}

		case wasm.OpElse:
			mark(ends[pc])
			mark(pc + 1)

		case wasm.OpEnd:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}

		case wasm.OpBr:
			t := resolve(in.Imm.(wasm.BranchImm).LabelIdx)
			targets[pc] = []int{t}
			mark(t)
			mark(pc + 1)

		case wasm.OpBrIf:
			t := resolve(in.Imm.(wasm.BranchImm).LabelIdx)
			targets[pc] = []int{t}
			mark(t)
			mark(pc + 1)

		case wasm.OpBrTable:
			imm := in.Imm.(wasm.BrTableImm)
			ts := make([]int, 0, len(imm.Labels)+1)
			for _, l := range imm.Labels {
				t := resolve(l)
				ts = append(ts, t)
				mark(t)
			}
			t := resolve(imm.Default)
			ts = append(ts, t)
			mark(t)
			targets[pc] = ts
			mark(pc + 1)

		case wasm.OpReturn, wasm.OpUnreachable:
			mark(pc + 1)
		}
	}

	sorted := make([]int, 0, len(leaders))
	for pc := range leaders {
		sorted = append(sorted, pc)
	}
	sort.Ints(sorted)

	idOf := make(map[int]uint32, len(sorted))
	for i, pc := range sorted {
		idOf[pc] = uint32(i)
	}
	blockOf := func(pc int) uint32 {
		if pc >= n {
			return ExitBlock
		}
		return idOf[pc]
	}

	blocks := make([]BasicBlock, len(sorted))
	for i, start := range sorted {
		end := n
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}

		b := BasicBlock{ID: uint32(i), Start: start, End: end, Jump: JumpNone}
		last := end - 1
		in := &instrs[last]

		switch in.Opcode {
		case wasm.OpBr:
			b.Jump = JumpUncond
			b.Succs = []uint32{blockOf(targets[last][0])}

		case wasm.OpBrIf:
			b.Jump = JumpCond
			b.Succs = []uint32{blockOf(targets[last][0]), blockOf(end)}

		case wasm.OpBrTable:
			ts := targets[last]
			b.Jump = JumpTable
			b.Succs = make([]uint32, len(ts))
			for j, t := range ts {
				b.Succs[j] = blockOf(t)
			}

		case wasm.OpIf:
			alt := ends[last] + 1
			if e := elses[last]; e >= 0 {
				alt = e + 1
			}
			b.Jump = JumpCond
			b.Succs = []uint32{blockOf(last + 1), blockOf(alt)}

		case wasm.OpElse:
			b.Jump = JumpUncond
			b.Succs = []uint32{blockOf(ends[last])}

		case wasm.OpReturn, wasm.OpUnreachable:
			// No successors.

		default:
			if end < n {
				b.Succs = []uint32{blockOf(end)}
			}
		}

		blocks[i] = b
	}

	return &CFG{Blocks: blocks}
}
