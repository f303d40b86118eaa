package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/wasm"
)

// maxCallDepth bounds nested wasm calls.
const maxCallDepth = 1000

// interpreter runs function bodies for one exported call tree. A fresh
// one is created per entry call, so a listener session never leaks
// between calls.
type interpreter struct {
	listener Listener
	tracer   Tracer
	depth    int
}

// frame is one function activation: its locals and operand stack.
// Values are stored as raw 64-bit slots; i32 and f32 occupy the low 32
// bits zero-extended.
type frame struct {
	locals []uint64
	stack  []uint64
}

func (f *frame) push(v uint64) { f.stack = append(f.stack, v) }

func (f *frame) pop() uint64 {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) pushBool(b bool) {
	if b {
		f.push(1)
	} else {
		f.push(0)
	}
}

func (f *frame) pushI32(v int32)   { f.push(uint64(uint32(v))) }
func (f *frame) popI32() int32     { return int32(uint32(f.pop())) }
func (f *frame) pushU32(v uint32)  { f.push(uint64(v)) }
func (f *frame) popU32() uint32    { return uint32(f.pop()) }
func (f *frame) pushI64(v int64)   { f.push(uint64(v)) }
func (f *frame) popI64() int64     { return int64(f.pop()) }
func (f *frame) pushF32(v float32) { f.push(uint64(math.Float32bits(v))) }
func (f *frame) popF32() float32   { return math.Float32frombits(uint32(f.pop())) }
func (f *frame) pushF64(v float64) { f.push(math.Float64bits(v)) }
func (f *frame) popF64() float64   { return math.Float64frombits(f.pop()) }

func (f *frame) pop2I32() (int32, int32) {
	b := f.popI32()
	return f.popI32(), b
}

func (f *frame) pop2U32() (uint32, uint32) {
	b := f.popU32()
	return f.popU32(), b
}

func (f *frame) pop2I64() (int64, int64) {
	b := f.popI64()
	return f.popI64(), b
}

func (f *frame) pop2U64() (uint64, uint64) {
	b := f.pop()
	return f.pop(), b
}

func (f *frame) pop2F32() (float32, float32) {
	b := f.popF32()
	return f.popF32(), b
}

func (f *frame) pop2F64() (float64, float64) {
	b := f.popF64()
	return f.popF64(), b
}

// ctrl is one open structured control frame.
type ctrl struct {
	op     byte // OpBlock, OpLoop, or OpIf
	start  int  // pc of the opening instruction
	end    int  // pc of the matching end
	height int  // operand stack height at entry
	arity  int  // number of result values
}

func blockArity(bt int32) int {
	if bt == wasm.BlockTypeVoid {
		return 0
	}
	return 1
}

// call runs one function with raw argument slots and returns raw
// result slots. Wasm frames count against the call depth and report to
// the listener; host functions do neither.
func (it *interpreter) call(ctx context.Context, fn *Function, args []uint64) ([]uint64, error) {
	if fn.hostFn != nil {
		return it.callHost(ctx, fn, args)
	}

	if it.depth++; it.depth > maxCallDepth {
		it.depth--
		return nil, errors.NewTrap(errors.TrapCallStackExhausted)
	}
	defer func() { it.depth-- }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if it.listener != nil {
		it.listener.EnterFunction(fn.compiled.Index)
		defer it.listener.LeaveFunction(fn.compiled.Index)
	}

	return it.exec(ctx, fn, args)
}

// callHost crosses the host boundary: raw slots become typed Values
// and the results are checked against the declared signature.
func (it *interpreter) callHost(ctx context.Context, fn *Function, args []uint64) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := make([]Value, len(fn.typ.Params))
	for i, t := range fn.typ.Params {
		in[i] = ValueFromBits(t, args[i])
	}
	out, err := fn.hostFn(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(out) != len(fn.typ.Results) {
		return nil, fmt.Errorf("host function returned %d values, want %d", len(out), len(fn.typ.Results))
	}
	raw := make([]uint64, len(out))
	for i, v := range out {
		if v.Type() != fn.typ.Results[i] {
			return nil, fmt.Errorf("host function result %d: %s, want %s", i, v.Type(), fn.typ.Results[i])
		}
		raw[i] = v.Bits()
	}
	return raw, nil
}

// invoke transfers arguments from the caller's stack to the callee and
// pushes the results back.
func (it *interpreter) invoke(ctx context.Context, fr *frame, callee *Function) error {
	n := len(callee.typ.Params)
	base := len(fr.stack) - n
	args := make([]uint64, n)
	copy(args, fr.stack[base:])
	fr.stack = fr.stack[:base]

	out, err := it.call(ctx, callee, args)
	if err != nil {
		return err
	}
	fr.stack = append(fr.stack, out...)
	return nil
}

// load bounds-checks a read of n bytes at addr and returns the backing
// bytes. Addresses are 33-bit sums of a 32-bit base and offset.
func (it *interpreter) load(mem *Memory, addr uint64, n int) ([]byte, error) {
	if addr+uint64(n) > uint64(len(mem.data)) {
		return nil, errors.Trapf(errors.TrapMemoryOutOfBounds,
			"%d bytes at %#x exceed memory size %d", n, addr, len(mem.data))
	}
	if it.tracer != nil {
		it.tracer.OnMemoryAccess(MemoryAccess{Offset: uint32(addr), Length: uint32(n)})
	}
	return mem.data[addr : addr+uint64(n)], nil
}

// store bounds-checks a write of n bytes at addr and returns the
// destination bytes.
func (it *interpreter) store(mem *Memory, addr uint64, n int) ([]byte, error) {
	if addr+uint64(n) > uint64(len(mem.data)) {
		return nil, errors.Trapf(errors.TrapMemoryOutOfBounds,
			"%d bytes at %#x exceed memory size %d", n, addr, len(mem.data))
	}
	if it.tracer != nil {
		it.tracer.OnMemoryAccess(MemoryAccess{Offset: uint32(addr), Length: uint32(n), Write: true})
	}
	return mem.data[addr : addr+uint64(n)], nil
}

func (it *interpreter) exec(ctx context.Context, fn *Function, args []uint64) ([]uint64, error) {
	cf := fn.compiled
	code := fn.code
	inst := fn.inst
	mem := inst.memory0()

	fr := &frame{
		locals: make([]uint64, len(cf.Type.Params)+len(cf.Locals)),
		stack:  make([]uint64, 0, 16),
	}
	copy(fr.locals, args)

	var frames []ctrl
	pc := 0

	// branch unwinds to the target frame: loops jump back to their
	// body with the frame kept open, everything else jumps past the
	// matching end with the frame's results carried over. A depth at
	// or beyond the open frame count leaves the function.
	branch := func(depth uint32) (leave bool, err error) {
		d := int(depth)
		if d >= len(frames) {
			return true, nil
		}
		fi := len(frames) - 1 - d
		f := frames[fi]
		if f.op == wasm.OpLoop {
			// Back edge: the natural cancellation point.
			if err := ctx.Err(); err != nil {
				return false, err
			}
			frames = frames[:fi+1]
			fr.stack = fr.stack[:f.height]
			pc = f.start + 1
			return false, nil
		}
		top := len(fr.stack) - f.arity
		copy(fr.stack[f.height:], fr.stack[top:])
		fr.stack = fr.stack[:f.height+f.arity]
		frames = frames[:fi]
		pc = f.end + 1
		return false, nil
	}

loop:
	for pc < len(code) {
		in := &code[pc]
		for in.Opcode == wasm.OpProbe {
			imm := in.Imm.(wasm.ProbeImm)
			if it.listener != nil {
				it.listener.Probe(cf.Index, imm.ID)
			}
			in = &imm.Inner
		}
		if it.tracer != nil {
			it.tracer.OnInstruction(cf.Index, pc, in.Opcode)
		}

		switch in.Opcode {

		// Control.
		case wasm.OpUnreachable:
			return nil, errors.NewTrap(errors.TrapUnreachable)

		case wasm.OpNop:

		case wasm.OpBlock, wasm.OpLoop:
			frames = append(frames, ctrl{
				op:     in.Opcode,
				start:  pc,
				end:    cf.matchingEnd[pc],
				height: len(fr.stack),
				arity:  blockArity(in.Imm.(wasm.BlockImm).Type),
			})

		case wasm.OpIf:
			cond := fr.popI32()
			f := ctrl{
				op:     wasm.OpIf,
				start:  pc,
				end:    cf.matchingEnd[pc],
				height: len(fr.stack),
				arity:  blockArity(in.Imm.(wasm.BlockImm).Type),
			}
			if cond != 0 {
				frames = append(frames, f)
				break
			}
			if elsePC := cf.matchingElse[pc]; elsePC >= 0 {
				frames = append(frames, f)
				pc = elsePC + 1
				continue
			}
			pc = f.end + 1
			continue

		case wasm.OpElse:
			// Falling into else means the then arm completed: jump to
			// the end, which pops the frame.
			pc = cf.matchingEnd[pc]
			continue

		case wasm.OpEnd:
			if len(frames) == 0 {
				break loop
			}
			f := frames[len(frames)-1]
			frames = frames[:len(frames)-1]
			if top := len(fr.stack) - f.arity; top > f.height {
				copy(fr.stack[f.height:], fr.stack[top:])
				fr.stack = fr.stack[:f.height+f.arity]
			}

		case wasm.OpBr:
			leave, err := branch(in.Imm.(wasm.BranchImm).LabelIdx)
			if err != nil {
				return nil, err
			}
			if leave {
				break loop
			}
			continue

		case wasm.OpBrIf:
			if fr.popI32() != 0 {
				leave, err := branch(in.Imm.(wasm.BranchImm).LabelIdx)
				if err != nil {
					return nil, err
				}
				if leave {
					break loop
				}
				continue
			}

		case wasm.OpBrTable:
			imm := in.Imm.(wasm.BrTableImm)
			label := imm.Default
			if i := fr.popU32(); int(i) < len(imm.Labels) {
				label = imm.Labels[i]
			}
			leave, err := branch(label)
			if err != nil {
				return nil, err
			}
			if leave {
				break loop
			}
			continue

		case wasm.OpReturn:
			break loop

		case wasm.OpCall:
			callee := inst.funcs[in.Imm.(wasm.CallImm).FuncIdx]
			if err := it.invoke(ctx, fr, callee); err != nil {
				return nil, err
			}

		case wasm.OpCallIndirect:
			imm := in.Imm.(wasm.CallIndirectImm)
			tab := inst.tables[imm.TableIdx]
			i := fr.popU32()
			slot, ok := tab.slot(i)
			if !ok {
				return nil, errors.Trapf(errors.TrapTableOutOfBounds,
					"index %d exceeds table size %d", i, tab.Len())
			}
			if slot.fn == nil {
				return nil, errors.Trapf(errors.TrapUninitializedElement, "table index %d", i)
			}
			if slot.typeID != inst.module.typeIDs[imm.TypeIdx] {
				return nil, errors.Trapf(errors.TrapIndirectCallTypeMismatch,
					"table index %d: %s does not match %s",
					i, slot.fn.typ, inst.module.src.Types[imm.TypeIdx])
			}
			if err := it.invoke(ctx, fr, slot.fn); err != nil {
				return nil, err
			}

		// Parametric.
		case wasm.OpDrop:
			fr.pop()

		case wasm.OpSelect, wasm.OpSelectType:
			c := fr.popI32()
			b := fr.pop()
			a := fr.pop()
			if c != 0 {
				fr.push(a)
			} else {
				fr.push(b)
			}

		// Variables.
		case wasm.OpLocalGet:
			fr.push(fr.locals[in.Imm.(wasm.LocalImm).LocalIdx])
		case wasm.OpLocalSet:
			fr.locals[in.Imm.(wasm.LocalImm).LocalIdx] = fr.pop()
		case wasm.OpLocalTee:
			fr.locals[in.Imm.(wasm.LocalImm).LocalIdx] = fr.stack[len(fr.stack)-1]
		case wasm.OpGlobalGet:
			fr.push(inst.globals[in.Imm.(wasm.GlobalImm).GlobalIdx].bits)
		case wasm.OpGlobalSet:
			inst.globals[in.Imm.(wasm.GlobalImm).GlobalIdx].bits = fr.pop()

		// Loads.
		case wasm.OpI32Load:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 4)
			if err != nil {
				return nil, err
			}
			fr.pushU32(binary.LittleEndian.Uint32(b))
		case wasm.OpI64Load:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 8)
			if err != nil {
				return nil, err
			}
			fr.push(binary.LittleEndian.Uint64(b))
		case wasm.OpF32Load:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 4)
			if err != nil {
				return nil, err
			}
			fr.pushU32(binary.LittleEndian.Uint32(b))
		case wasm.OpF64Load:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 8)
			if err != nil {
				return nil, err
			}
			fr.push(binary.LittleEndian.Uint64(b))
		case wasm.OpI32Load8S:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 1)
			if err != nil {
				return nil, err
			}
			fr.pushI32(int32(int8(b[0])))
		case wasm.OpI32Load8U:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 1)
			if err != nil {
				return nil, err
			}
			fr.pushU32(uint32(b[0]))
		case wasm.OpI32Load16S:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 2)
			if err != nil {
				return nil, err
			}
			fr.pushI32(int32(int16(binary.LittleEndian.Uint16(b))))
		case wasm.OpI32Load16U:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 2)
			if err != nil {
				return nil, err
			}
			fr.pushU32(uint32(binary.LittleEndian.Uint16(b)))
		case wasm.OpI64Load8S:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 1)
			if err != nil {
				return nil, err
			}
			fr.pushI64(int64(int8(b[0])))
		case wasm.OpI64Load8U:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 1)
			if err != nil {
				return nil, err
			}
			fr.push(uint64(b[0]))
		case wasm.OpI64Load16S:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 2)
			if err != nil {
				return nil, err
			}
			fr.pushI64(int64(int16(binary.LittleEndian.Uint16(b))))
		case wasm.OpI64Load16U:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 2)
			if err != nil {
				return nil, err
			}
			fr.push(uint64(binary.LittleEndian.Uint16(b)))
		case wasm.OpI64Load32S:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 4)
			if err != nil {
				return nil, err
			}
			fr.pushI64(int64(int32(binary.LittleEndian.Uint32(b))))
		case wasm.OpI64Load32U:
			imm := in.Imm.(wasm.MemoryImm)
			b, err := it.load(mem, uint64(fr.popU32())+uint64(imm.Offset), 4)
			if err != nil {
				return nil, err
			}
			fr.push(uint64(binary.LittleEndian.Uint32(b)))

		// Stores.
		case wasm.OpI32Store:
			imm := in.Imm.(wasm.MemoryImm)
			v := fr.popU32()
			b, err := it.store(mem, uint64(fr.popU32())+uint64(imm.Offset), 4)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint32(b, v)
		case wasm.OpI64Store:
			imm := in.Imm.(wasm.MemoryImm)
			v := fr.pop()
			b, err := it.store(mem, uint64(fr.popU32())+uint64(imm.Offset), 8)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint64(b, v)
		case wasm.OpF32Store:
			imm := in.Imm.(wasm.MemoryImm)
			v := fr.popU32()
			b, err := it.store(mem, uint64(fr.popU32())+uint64(imm.Offset), 4)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint32(b, v)
		case wasm.OpF64Store:
			imm := in.Imm.(wasm.MemoryImm)
			v := fr.pop()
			b, err := it.store(mem, uint64(fr.popU32())+uint64(imm.Offset), 8)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint64(b, v)
		case wasm.OpI32Store8:
			imm := in.Imm.(wasm.MemoryImm)
			v := fr.popU32()
			b, err := it.store(mem, uint64(fr.popU32())+uint64(imm.Offset), 1)
			if err != nil {
				return nil, err
			}
			b[0] = byte(v)
		case wasm.OpI32Store16:
			imm := in.Imm.(wasm.MemoryImm)
			v := fr.popU32()
			b, err := it.store(mem, uint64(fr.popU32())+uint64(imm.Offset), 2)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint16(b, uint16(v))
		case wasm.OpI64Store8:
			imm := in.Imm.(wasm.MemoryImm)
			v := fr.pop()
			b, err := it.store(mem, uint64(fr.popU32())+uint64(imm.Offset), 1)
			if err != nil {
				return nil, err
			}
			b[0] = byte(v)
		case wasm.OpI64Store16:
			imm := in.Imm.(wasm.MemoryImm)
			v := fr.pop()
			b, err := it.store(mem, uint64(fr.popU32())+uint64(imm.Offset), 2)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint16(b, uint16(v))
		case wasm.OpI64Store32:
			imm := in.Imm.(wasm.MemoryImm)
			v := fr.pop()
			b, err := it.store(mem, uint64(fr.popU32())+uint64(imm.Offset), 4)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint32(b, uint32(v))

		case wasm.OpMemorySize:
			fr.pushU32(mem.Pages())
		case wasm.OpMemoryGrow:
			n := fr.popU32()
			old, err := mem.Grow(n)
			if err != nil {
				fr.pushI32(-1)
			} else {
				fr.pushU32(old)
			}

		// Constants.
		case wasm.OpI32Const:
			fr.pushI32(in.Imm.(wasm.I32Imm).Value)
		case wasm.OpI64Const:
			fr.pushI64(in.Imm.(wasm.I64Imm).Value)
		case wasm.OpF32Const:
			fr.pushF32(in.Imm.(wasm.F32Imm).Value)
		case wasm.OpF64Const:
			fr.pushF64(in.Imm.(wasm.F64Imm).Value)

		// i32 comparisons.
		case wasm.OpI32Eqz:
			fr.pushBool(fr.popU32() == 0)
		case wasm.OpI32Eq:
			a, b := fr.pop2U32()
			fr.pushBool(a == b)
		case wasm.OpI32Ne:
			a, b := fr.pop2U32()
			fr.pushBool(a != b)
		case wasm.OpI32LtS:
			a, b := fr.pop2I32()
			fr.pushBool(a < b)
		case wasm.OpI32LtU:
			a, b := fr.pop2U32()
			fr.pushBool(a < b)
		case wasm.OpI32GtS:
			a, b := fr.pop2I32()
			fr.pushBool(a > b)
		case wasm.OpI32GtU:
			a, b := fr.pop2U32()
			fr.pushBool(a > b)
		case wasm.OpI32LeS:
			a, b := fr.pop2I32()
			fr.pushBool(a <= b)
		case wasm.OpI32LeU:
			a, b := fr.pop2U32()
			fr.pushBool(a <= b)
		case wasm.OpI32GeS:
			a, b := fr.pop2I32()
			fr.pushBool(a >= b)
		case wasm.OpI32GeU:
			a, b := fr.pop2U32()
			fr.pushBool(a >= b)

		// i64 comparisons.
		case wasm.OpI64Eqz:
			fr.pushBool(fr.pop() == 0)
		case wasm.OpI64Eq:
			a, b := fr.pop2U64()
			fr.pushBool(a == b)
		case wasm.OpI64Ne:
			a, b := fr.pop2U64()
			fr.pushBool(a != b)
		case wasm.OpI64LtS:
			a, b := fr.pop2I64()
			fr.pushBool(a < b)
		case wasm.OpI64LtU:
			a, b := fr.pop2U64()
			fr.pushBool(a < b)
		case wasm.OpI64GtS:
			a, b := fr.pop2I64()
			fr.pushBool(a > b)
		case wasm.OpI64GtU:
			a, b := fr.pop2U64()
			fr.pushBool(a > b)
		case wasm.OpI64LeS:
			a, b := fr.pop2I64()
			fr.pushBool(a <= b)
		case wasm.OpI64LeU:
			a, b := fr.pop2U64()
			fr.pushBool(a <= b)
		case wasm.OpI64GeS:
			a, b := fr.pop2I64()
			fr.pushBool(a >= b)
		case wasm.OpI64GeU:
			a, b := fr.pop2U64()
			fr.pushBool(a >= b)

		// f32 comparisons.
		case wasm.OpF32Eq:
			a, b := fr.pop2F32()
			fr.pushBool(a == b)
		case wasm.OpF32Ne:
			a, b := fr.pop2F32()
			fr.pushBool(a != b)
		case wasm.OpF32Lt:
			a, b := fr.pop2F32()
			fr.pushBool(a < b)
		case wasm.OpF32Gt:
			a, b := fr.pop2F32()
			fr.pushBool(a > b)
		case wasm.OpF32Le:
			a, b := fr.pop2F32()
			fr.pushBool(a <= b)
		case wasm.OpF32Ge:
			a, b := fr.pop2F32()
			fr.pushBool(a >= b)

		// f64 comparisons.
		case wasm.OpF64Eq:
			a, b := fr.pop2F64()
			fr.pushBool(a == b)
		case wasm.OpF64Ne:
			a, b := fr.pop2F64()
			fr.pushBool(a != b)
		case wasm.OpF64Lt:
			a, b := fr.pop2F64()
			fr.pushBool(a < b)
		case wasm.OpF64Gt:
			a, b := fr.pop2F64()
			fr.pushBool(a > b)
		case wasm.OpF64Le:
			a, b := fr.pop2F64()
			fr.pushBool(a <= b)
		case wasm.OpF64Ge:
			a, b := fr.pop2F64()
			fr.pushBool(a >= b)

		// i32 arithmetic.
		case wasm.OpI32Clz:
			fr.pushU32(uint32(bits.LeadingZeros32(fr.popU32())))
		case wasm.OpI32Ctz:
			fr.pushU32(uint32(bits.TrailingZeros32(fr.popU32())))
		case wasm.OpI32Popcnt:
			fr.pushU32(uint32(bits.OnesCount32(fr.popU32())))
		case wasm.OpI32Add:
			a, b := fr.pop2U32()
			fr.pushU32(a + b)
		case wasm.OpI32Sub:
			a, b := fr.pop2U32()
			fr.pushU32(a - b)
		case wasm.OpI32Mul:
			a, b := fr.pop2U32()
			fr.pushU32(a * b)
		case wasm.OpI32DivS:
			a, b := fr.pop2I32()
			q, err := divS32(a, b)
			if err != nil {
				return nil, err
			}
			fr.pushI32(q)
		case wasm.OpI32DivU:
			a, b := fr.pop2U32()
			q, err := divU32(a, b)
			if err != nil {
				return nil, err
			}
			fr.pushU32(q)
		case wasm.OpI32RemS:
			a, b := fr.pop2I32()
			r, err := remS32(a, b)
			if err != nil {
				return nil, err
			}
			fr.pushI32(r)
		case wasm.OpI32RemU:
			a, b := fr.pop2U32()
			r, err := remU32(a, b)
			if err != nil {
				return nil, err
			}
			fr.pushU32(r)
		case wasm.OpI32And:
			a, b := fr.pop2U32()
			fr.pushU32(a & b)
		case wasm.OpI32Or:
			a, b := fr.pop2U32()
			fr.pushU32(a | b)
		case wasm.OpI32Xor:
			a, b := fr.pop2U32()
			fr.pushU32(a ^ b)
		case wasm.OpI32Shl:
			a, b := fr.pop2U32()
			fr.pushU32(a << (b & 31))
		case wasm.OpI32ShrS:
			b := fr.popU32()
			a := fr.popI32()
			fr.pushI32(a >> (b & 31))
		case wasm.OpI32ShrU:
			a, b := fr.pop2U32()
			fr.pushU32(a >> (b & 31))
		case wasm.OpI32Rotl:
			a, b := fr.pop2U32()
			fr.pushU32(bits.RotateLeft32(a, int(b&31)))
		case wasm.OpI32Rotr:
			a, b := fr.pop2U32()
			fr.pushU32(bits.RotateLeft32(a, -int(b&31)))

		// i64 arithmetic.
		case wasm.OpI64Clz:
			fr.push(uint64(bits.LeadingZeros64(fr.pop())))
		case wasm.OpI64Ctz:
			fr.push(uint64(bits.TrailingZeros64(fr.pop())))
		case wasm.OpI64Popcnt:
			fr.push(uint64(bits.OnesCount64(fr.pop())))
		case wasm.OpI64Add:
			a, b := fr.pop2U64()
			fr.push(a + b)
		case wasm.OpI64Sub:
			a, b := fr.pop2U64()
			fr.push(a - b)
		case wasm.OpI64Mul:
			a, b := fr.pop2U64()
			fr.push(a * b)
		case wasm.OpI64DivS:
			a, b := fr.pop2I64()
			q, err := divS64(a, b)
			if err != nil {
				return nil, err
			}
			fr.pushI64(q)
		case wasm.OpI64DivU:
			a, b := fr.pop2U64()
			q, err := divU64(a, b)
			if err != nil {
				return nil, err
			}
			fr.push(q)
		case wasm.OpI64RemS:
			a, b := fr.pop2I64()
			r, err := remS64(a, b)
			if err != nil {
				return nil, err
			}
			fr.pushI64(r)
		case wasm.OpI64RemU:
			a, b := fr.pop2U64()
			r, err := remU64(a, b)
			if err != nil {
				return nil, err
			}
			fr.push(r)
		case wasm.OpI64And:
			a, b := fr.pop2U64()
			fr.push(a & b)
		case wasm.OpI64Or:
			a, b := fr.pop2U64()
			fr.push(a | b)
		case wasm.OpI64Xor:
			a, b := fr.pop2U64()
			fr.push(a ^ b)
		case wasm.OpI64Shl:
			a, b := fr.pop2U64()
			fr.push(a << (b & 63))
		case wasm.OpI64ShrS:
			b := fr.pop()
			a := fr.popI64()
			fr.pushI64(a >> (b & 63))
		case wasm.OpI64ShrU:
			a, b := fr.pop2U64()
			fr.push(a >> (b & 63))
		case wasm.OpI64Rotl:
			a, b := fr.pop2U64()
			fr.push(bits.RotateLeft64(a, int(b&63)))
		case wasm.OpI64Rotr:
			a, b := fr.pop2U64()
			fr.push(bits.RotateLeft64(a, -int(b&63)))

		// f32 arithmetic.
		case wasm.OpF32Abs:
			fr.pushU32(fr.popU32() &^ (1 << 31))
		case wasm.OpF32Neg:
			fr.pushU32(fr.popU32() ^ (1 << 31))
		case wasm.OpF32Ceil:
			fr.pushF32(float32(math.Ceil(float64(fr.popF32()))))
		case wasm.OpF32Floor:
			fr.pushF32(float32(math.Floor(float64(fr.popF32()))))
		case wasm.OpF32Trunc:
			fr.pushF32(float32(math.Trunc(float64(fr.popF32()))))
		case wasm.OpF32Nearest:
			fr.pushF32(float32(math.RoundToEven(float64(fr.popF32()))))
		case wasm.OpF32Sqrt:
			fr.pushF32(float32(math.Sqrt(float64(fr.popF32()))))
		case wasm.OpF32Add:
			a, b := fr.pop2F32()
			fr.pushF32(a + b)
		case wasm.OpF32Sub:
			a, b := fr.pop2F32()
			fr.pushF32(a - b)
		case wasm.OpF32Mul:
			a, b := fr.pop2F32()
			fr.pushF32(a * b)
		case wasm.OpF32Div:
			a, b := fr.pop2F32()
			fr.pushF32(a / b)
		case wasm.OpF32Min:
			a, b := fr.pop2F32()
			fr.pushF32(fmin32(a, b))
		case wasm.OpF32Max:
			a, b := fr.pop2F32()
			fr.pushF32(fmax32(a, b))
		case wasm.OpF32Copysign:
			b := fr.popU32()
			a := fr.popU32()
			fr.pushU32(a&^(1<<31) | b&(1<<31))

		// f64 arithmetic.
		case wasm.OpF64Abs:
			fr.push(fr.pop() &^ (1 << 63))
		case wasm.OpF64Neg:
			fr.push(fr.pop() ^ (1 << 63))
		case wasm.OpF64Ceil:
			fr.pushF64(math.Ceil(fr.popF64()))
		case wasm.OpF64Floor:
			fr.pushF64(math.Floor(fr.popF64()))
		case wasm.OpF64Trunc:
			fr.pushF64(math.Trunc(fr.popF64()))
		case wasm.OpF64Nearest:
			fr.pushF64(math.RoundToEven(fr.popF64()))
		case wasm.OpF64Sqrt:
			fr.pushF64(math.Sqrt(fr.popF64()))
		case wasm.OpF64Add:
			a, b := fr.pop2F64()
			fr.pushF64(a + b)
		case wasm.OpF64Sub:
			a, b := fr.pop2F64()
			fr.pushF64(a - b)
		case wasm.OpF64Mul:
			a, b := fr.pop2F64()
			fr.pushF64(a * b)
		case wasm.OpF64Div:
			a, b := fr.pop2F64()
			fr.pushF64(a / b)
		case wasm.OpF64Min:
			a, b := fr.pop2F64()
			fr.pushF64(fmin64(a, b))
		case wasm.OpF64Max:
			a, b := fr.pop2F64()
			fr.pushF64(fmax64(a, b))
		case wasm.OpF64Copysign:
			b := fr.pop()
			a := fr.pop()
			fr.push(a&^(1<<63) | b&(1<<63))

		// Conversions.
		case wasm.OpI32WrapI64:
			fr.pushU32(uint32(fr.pop()))
		case wasm.OpI32TruncF32S:
			v, err := truncS32(float64(fr.popF32()))
			if err != nil {
				return nil, err
			}
			fr.pushI32(v)
		case wasm.OpI32TruncF32U:
			v, err := truncU32(float64(fr.popF32()))
			if err != nil {
				return nil, err
			}
			fr.pushU32(v)
		case wasm.OpI32TruncF64S:
			v, err := truncS32(fr.popF64())
			if err != nil {
				return nil, err
			}
			fr.pushI32(v)
		case wasm.OpI32TruncF64U:
			v, err := truncU32(fr.popF64())
			if err != nil {
				return nil, err
			}
			fr.pushU32(v)
		case wasm.OpI64ExtendI32S:
			fr.pushI64(int64(fr.popI32()))
		case wasm.OpI64ExtendI32U:
			fr.push(uint64(fr.popU32()))
		case wasm.OpI64TruncF32S:
			v, err := truncS64(float64(fr.popF32()))
			if err != nil {
				return nil, err
			}
			fr.pushI64(v)
		case wasm.OpI64TruncF32U:
			v, err := truncU64(float64(fr.popF32()))
			if err != nil {
				return nil, err
			}
			fr.push(v)
		case wasm.OpI64TruncF64S:
			v, err := truncS64(fr.popF64())
			if err != nil {
				return nil, err
			}
			fr.pushI64(v)
		case wasm.OpI64TruncF64U:
			v, err := truncU64(fr.popF64())
			if err != nil {
				return nil, err
			}
			fr.push(v)
		case wasm.OpF32ConvertI32S:
			fr.pushF32(float32(fr.popI32()))
		case wasm.OpF32ConvertI32U:
			fr.pushF32(float32(fr.popU32()))
		case wasm.OpF32ConvertI64S:
			fr.pushF32(float32(fr.popI64()))
		case wasm.OpF32ConvertI64U:
			fr.pushF32(float32(fr.pop()))
		case wasm.OpF32DemoteF64:
			fr.pushF32(float32(fr.popF64()))
		case wasm.OpF64ConvertI32S:
			fr.pushF64(float64(fr.popI32()))
		case wasm.OpF64ConvertI32U:
			fr.pushF64(float64(fr.popU32()))
		case wasm.OpF64ConvertI64S:
			fr.pushF64(float64(fr.popI64()))
		case wasm.OpF64ConvertI64U:
			fr.pushF64(float64(fr.pop()))
		case wasm.OpF64PromoteF32:
			fr.pushF64(float64(fr.popF32()))

		case wasm.OpI32ReinterpretF32, wasm.OpI64ReinterpretF64,
			wasm.OpF32ReinterpretI32, wasm.OpF64ReinterpretI64:
			// Operand bits are already the result.

		// Sign extension.
		case wasm.OpI32Extend8S:
			fr.pushI32(int32(int8(uint8(fr.popU32()))))
		case wasm.OpI32Extend16S:
			fr.pushI32(int32(int16(uint16(fr.popU32()))))
		case wasm.OpI64Extend8S:
			fr.pushI64(int64(int8(uint8(fr.pop()))))
		case wasm.OpI64Extend16S:
			fr.pushI64(int64(int16(uint16(fr.pop()))))
		case wasm.OpI64Extend32S:
			fr.pushI64(int64(int32(uint32(fr.pop()))))

		case wasm.OpPrefixMisc:
			imm := in.Imm.(wasm.MiscImm)
			switch imm.SubOpcode {
			case wasm.MiscI32TruncSatF32S:
				fr.pushI32(truncSatS32(float64(fr.popF32())))
			case wasm.MiscI32TruncSatF32U:
				fr.pushU32(truncSatU32(float64(fr.popF32())))
			case wasm.MiscI32TruncSatF64S:
				fr.pushI32(truncSatS32(fr.popF64()))
			case wasm.MiscI32TruncSatF64U:
				fr.pushU32(truncSatU32(fr.popF64()))
			case wasm.MiscI64TruncSatF32S:
				fr.pushI64(truncSatS64(float64(fr.popF32())))
			case wasm.MiscI64TruncSatF32U:
				fr.push(truncSatU64(float64(fr.popF32())))
			case wasm.MiscI64TruncSatF64S:
				fr.pushI64(truncSatS64(fr.popF64()))
			case wasm.MiscI64TruncSatF64U:
				fr.push(truncSatU64(fr.popF64()))

			case wasm.MiscMemoryCopy:
				n := uint64(fr.popU32())
				s := uint64(fr.popU32())
				d := uint64(fr.popU32())
				size := uint64(len(mem.data))
				if s+n > size || d+n > size {
					return nil, errors.Trapf(errors.TrapMemoryOutOfBounds,
						"copy of %d bytes from %#x to %#x exceeds memory size %d", n, s, d, size)
				}
				if it.tracer != nil {
					it.tracer.OnMemoryAccess(MemoryAccess{Offset: uint32(s), Length: uint32(n)})
					it.tracer.OnMemoryAccess(MemoryAccess{Offset: uint32(d), Length: uint32(n), Write: true})
				}
				copy(mem.data[d:d+n], mem.data[s:s+n])

			case wasm.MiscMemoryFill:
				n := uint64(fr.popU32())
				v := byte(fr.popU32())
				d := uint64(fr.popU32())
				if d+n > uint64(len(mem.data)) {
					return nil, errors.Trapf(errors.TrapMemoryOutOfBounds,
						"fill of %d bytes at %#x exceeds memory size %d", n, d, len(mem.data))
				}
				if it.tracer != nil {
					it.tracer.OnMemoryAccess(MemoryAccess{Offset: uint32(d), Length: uint32(n), Write: true})
				}
				seg := mem.data[d : d+n]
				for i := range seg {
					seg[i] = v
				}

			default:
				return nil, fmt.Errorf("unsupported instruction %s", miscOpName(imm.SubOpcode))
			}

		default:
			return nil, fmt.Errorf("unknown opcode %#x at %d", in.Opcode, pc)
		}

		pc++
	}

	nres := len(cf.Type.Results)
	if nres == 0 {
		return nil, nil
	}
	res := make([]uint64, nres)
	copy(res, fr.stack[len(fr.stack)-nres:])
	return res, nil
}
