package engine

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-engine/wasm"
)

// Value is a single WebAssembly value: one of i32, i64, f32, f64.
// Values are immutable; construct them with I32, I64, F32, F64.
type Value struct {
	bits uint64
	typ  wasm.ValType
}

// I32 creates an i32 value
func I32(v int32) Value {
	return Value{bits: uint64(uint32(v)), typ: wasm.ValI32}
}

// I64 creates an i64 value
func I64(v int64) Value {
	return Value{bits: uint64(v), typ: wasm.ValI64}
}

// F32 creates an f32 value
func F32(v float32) Value {
	return Value{bits: uint64(math.Float32bits(v)), typ: wasm.ValF32}
}

// F64 creates an f64 value
func F64(v float64) Value {
	return Value{bits: math.Float64bits(v), typ: wasm.ValF64}
}

// ValueFromBits reconstructs a value of type t from its raw bit pattern.
// Integer values use the low 32 or all 64 bits; floats use their IEEE 754
// representation.
func ValueFromBits(t wasm.ValType, bits uint64) Value {
	if t == wasm.ValI32 || t == wasm.ValF32 {
		bits = uint64(uint32(bits))
	}
	return Value{bits: bits, typ: t}
}

// Type returns the value's WebAssembly type.
func (v Value) Type() wasm.ValType {
	return v.typ
}

// Bits returns the raw bit pattern of the value.
func (v Value) Bits() uint64 {
	return v.bits
}

// I32 returns the value as a signed 32-bit integer.
func (v Value) I32() int32 {
	return int32(uint32(v.bits))
}

// U32 returns the value as an unsigned 32-bit integer.
func (v Value) U32() uint32 {
	return uint32(v.bits)
}

// I64 returns the value as a signed 64-bit integer.
func (v Value) I64() int64 {
	return int64(v.bits)
}

// F32 returns the value as a 32-bit float.
func (v Value) F32() float32 {
	return math.Float32frombits(uint32(v.bits))
}

// F64 returns the value as a 64-bit float.
func (v Value) F64() float64 {
	return math.Float64frombits(v.bits)
}

func (v Value) String() string {
	switch v.typ {
	case wasm.ValI32:
		return fmt.Sprintf("i32(%d)", v.I32())
	case wasm.ValI64:
		return fmt.Sprintf("i64(%d)", v.I64())
	case wasm.ValF32:
		return fmt.Sprintf("f32(%g)", v.F32())
	case wasm.ValF64:
		return fmt.Sprintf("f64(%g)", v.F64())
	}
	return fmt.Sprintf("value(0x%x)", v.bits)
}
