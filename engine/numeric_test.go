package engine

import (
	stderrors "errors"
	"math"
	"testing"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/wasm"
)

// binModule builds a module exporting "f": both parameters fed to one
// binary operator.
func binModule(t *testing.T, vt wasm.ValType, rt wasm.ValType, op byte) *wasm.Module {
	t.Helper()
	return buildModule(t, funcDef{
		name:    "f",
		params:  []wasm.ValType{vt, vt},
		results: []wasm.ValType{rt},
		body: []wasm.Instruction{
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
			{Opcode: op},
		},
	})
}

// unModule builds a module exporting "f": one parameter fed to one
// operator, with an arbitrary result type.
func unModule(t *testing.T, vt wasm.ValType, rt wasm.ValType, ops ...wasm.Instruction) *wasm.Module {
	t.Helper()
	body := append([]wasm.Instruction{{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}}}, ops...)
	return buildModule(t, funcDef{
		name:    "f",
		params:  []wasm.ValType{vt},
		results: []wasm.ValType{rt},
		body:    body,
	})
}

func TestExec_I32BinOps(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		a    int32
		b    int32
		want int32
	}{
		{"add", wasm.OpI32Add, 5, 7, 12},
		{"add wraps", wasm.OpI32Add, math.MaxInt32, 1, math.MinInt32},
		{"sub", wasm.OpI32Sub, 5, 7, -2},
		{"mul", wasm.OpI32Mul, -3, 7, -21},
		{"div_s truncates toward zero", wasm.OpI32DivS, -7, 2, -3},
		{"div_u is unsigned", wasm.OpI32DivU, -2, 2, math.MaxInt32},
		{"rem_s keeps dividend sign", wasm.OpI32RemS, -7, 2, -1},
		{"rem_u is unsigned", wasm.OpI32RemU, -1, 10, 5},
		{"and", wasm.OpI32And, 0b1100, 0b1010, 0b1000},
		{"or", wasm.OpI32Or, 0b1100, 0b1010, 0b1110},
		{"xor", wasm.OpI32Xor, 0b1100, 0b1010, 0b0110},
		{"shl", wasm.OpI32Shl, 1, 4, 16},
		{"shl masks count", wasm.OpI32Shl, 1, 33, 2},
		{"shr_s keeps sign", wasm.OpI32ShrS, -16, 2, -4},
		{"shr_u shifts in zeroes", wasm.OpI32ShrU, -16, 2, 0x3FFFFFFC},
		{"rotl", wasm.OpI32Rotl, math.MinInt32, 1, 1},
		{"rotr", wasm.OpI32Rotr, 1, 1, math.MinInt32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := binModule(t, wasm.ValI32, wasm.ValI32, tt.op)
			out := run(t, m, "f", I32(tt.a), I32(tt.b))
			if got := out[0].I32(); got != tt.want {
				t.Errorf("f(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestExec_I64BinOps(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		a    int64
		b    int64
		want int64
	}{
		{"add wraps", wasm.OpI64Add, math.MaxInt64, 1, math.MinInt64},
		{"sub", wasm.OpI64Sub, 3, 10, -7},
		{"mul", wasm.OpI64Mul, 1 << 40, 1 << 10, 1 << 50},
		{"div_s", wasm.OpI64DivS, -9, 2, -4},
		{"div_u is unsigned", wasm.OpI64DivU, -2, 2, math.MaxInt64},
		{"rem_s", wasm.OpI64RemS, -9, 2, -1},
		{"rem_u is unsigned", wasm.OpI64RemU, -1, 10, 5},
		{"shl masks count", wasm.OpI64Shl, 1, 65, 2},
		{"shr_s keeps sign", wasm.OpI64ShrS, -16, 2, -4},
		{"shr_u shifts in zeroes", wasm.OpI64ShrU, -1, 1, math.MaxInt64},
		{"rotl", wasm.OpI64Rotl, math.MinInt64, 1, 1},
		{"rotr", wasm.OpI64Rotr, 1, 1, math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := binModule(t, wasm.ValI64, wasm.ValI64, tt.op)
			out := run(t, m, "f", I64(tt.a), I64(tt.b))
			if got := out[0].I64(); got != tt.want {
				t.Errorf("f(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestExec_I32UnaryOps(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		in   int32
		want int32
	}{
		{"clz of 1", wasm.OpI32Clz, 1, 31},
		{"clz of 0", wasm.OpI32Clz, 0, 32},
		{"clz of negative", wasm.OpI32Clz, -1, 0},
		{"ctz of 8", wasm.OpI32Ctz, 8, 3},
		{"ctz of 0", wasm.OpI32Ctz, 0, 32},
		{"popcnt", wasm.OpI32Popcnt, 0x0F0F, 8},
		{"eqz of 0", wasm.OpI32Eqz, 0, 1},
		{"eqz of 5", wasm.OpI32Eqz, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := unModule(t, wasm.ValI32, wasm.ValI32, wasm.Instruction{Opcode: tt.op})
			out := run(t, m, "f", I32(tt.in))
			if got := out[0].I32(); got != tt.want {
				t.Errorf("f(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestExec_I64UnaryOps(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		in   int64
		want int64
	}{
		{"clz", wasm.OpI64Clz, 1, 63},
		{"clz of 0", wasm.OpI64Clz, 0, 64},
		{"ctz", wasm.OpI64Ctz, 1 << 40, 40},
		{"popcnt", wasm.OpI64Popcnt, -1, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := unModule(t, wasm.ValI64, wasm.ValI64, wasm.Instruction{Opcode: tt.op})
			out := run(t, m, "f", I64(tt.in))
			if got := out[0].I64(); got != tt.want {
				t.Errorf("f(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestExec_Comparisons(t *testing.T) {
	i32 := func(op byte, a, b int32, want int32) func(t *testing.T) {
		return func(t *testing.T) {
			m := binModule(t, wasm.ValI32, wasm.ValI32, op)
			out := run(t, m, "f", I32(a), I32(b))
			if got := out[0].I32(); got != want {
				t.Errorf("f(%d, %d) = %d, want %d", a, b, got, want)
			}
		}
	}
	i64 := func(op byte, a, b int64, want int32) func(t *testing.T) {
		return func(t *testing.T) {
			m := binModule(t, wasm.ValI64, wasm.ValI32, op)
			out := run(t, m, "f", I64(a), I64(b))
			if got := out[0].I32(); got != want {
				t.Errorf("f(%d, %d) = %d, want %d", a, b, got, want)
			}
		}
	}
	f64 := func(op byte, a, b float64, want int32) func(t *testing.T) {
		return func(t *testing.T) {
			m := binModule(t, wasm.ValF64, wasm.ValI32, op)
			out := run(t, m, "f", F64(a), F64(b))
			if got := out[0].I32(); got != want {
				t.Errorf("f(%g, %g) = %d, want %d", a, b, got, want)
			}
		}
	}

	t.Run("i32.eq", i32(wasm.OpI32Eq, 3, 3, 1))
	t.Run("i32.ne", i32(wasm.OpI32Ne, 3, 3, 0))
	t.Run("i32.lt_s negative below positive", i32(wasm.OpI32LtS, -1, 1, 1))
	t.Run("i32.lt_u negative is large", i32(wasm.OpI32LtU, -1, 1, 0))
	t.Run("i32.gt_s", i32(wasm.OpI32GtS, 2, 1, 1))
	t.Run("i32.gt_u", i32(wasm.OpI32GtU, -1, 1, 1))
	t.Run("i32.le_s", i32(wasm.OpI32LeS, 2, 2, 1))
	t.Run("i32.le_u", i32(wasm.OpI32LeU, 1, -1, 1))
	t.Run("i32.ge_s", i32(wasm.OpI32GeS, -2, -1, 0))
	t.Run("i32.ge_u", i32(wasm.OpI32GeU, -2, -1, 0))

	t.Run("i64.eqz via eq", i64(wasm.OpI64Eq, 0, 0, 1))
	t.Run("i64.lt_s", i64(wasm.OpI64LtS, math.MinInt64, 0, 1))
	t.Run("i64.lt_u min is large", i64(wasm.OpI64LtU, math.MinInt64, 0, 0))
	t.Run("i64.ge_s", i64(wasm.OpI64GeS, 5, 5, 1))
	t.Run("i64.gt_u", i64(wasm.OpI64GtU, -1, 1, 1))
	t.Run("i64.le_s", i64(wasm.OpI64LeS, -2, 7, 1))
	t.Run("i64.ne", i64(wasm.OpI64Ne, 1, 2, 1))

	t.Run("f64.eq", f64(wasm.OpF64Eq, 1.5, 1.5, 1))
	t.Run("f64.eq NaN is false", f64(wasm.OpF64Eq, math.NaN(), math.NaN(), 0))
	t.Run("f64.ne NaN is true", f64(wasm.OpF64Ne, math.NaN(), math.NaN(), 1))
	t.Run("f64.lt", f64(wasm.OpF64Lt, -1.5, 1.5, 1))
	t.Run("f64.lt NaN is false", f64(wasm.OpF64Lt, math.NaN(), 1.5, 0))
	t.Run("f64.gt", f64(wasm.OpF64Gt, 2.5, 1.5, 1))
	t.Run("f64.le zero signs equal", f64(wasm.OpF64Le, math.Copysign(0, -1), 0, 1))
	t.Run("f64.ge", f64(wasm.OpF64Ge, 1.5, 2.5, 0))
}

func TestExec_F32Comparisons(t *testing.T) {
	m := binModule(t, wasm.ValF32, wasm.ValI32, wasm.OpF32Lt)
	out := run(t, m, "f", F32(1.5), F32(2.5))
	if got := out[0].I32(); got != 1 {
		t.Errorf("f32.lt(1.5, 2.5) = %d, want 1", got)
	}
	out = run(t, m, "f", F32(float32(math.NaN())), F32(2.5))
	if got := out[0].I32(); got != 0 {
		t.Errorf("f32.lt(NaN, 2.5) = %d, want 0", got)
	}
}

func TestExec_F64Arithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		a    float64
		b    float64
		want float64
	}{
		{"add", wasm.OpF64Add, 1.5, 2.25, 3.75},
		{"sub", wasm.OpF64Sub, 1.5, 2.25, -0.75},
		{"mul", wasm.OpF64Mul, -3, 2.5, -7.5},
		{"div", wasm.OpF64Div, 7, 2, 3.5},
		{"div by zero is inf", wasm.OpF64Div, 1, 0, math.Inf(1)},
		{"min", wasm.OpF64Min, 1.5, -2.5, -2.5},
		{"max", wasm.OpF64Max, 1.5, -2.5, 1.5},
		{"copysign", wasm.OpF64Copysign, 3.5, -1, -3.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := binModule(t, wasm.ValF64, wasm.ValF64, tt.op)
			out := run(t, m, "f", F64(tt.a), F64(tt.b))
			if got := out[0].F64(); got != tt.want {
				t.Errorf("f(%g, %g) = %g, want %g", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestExec_F64ZeroDivZeroIsNaN(t *testing.T) {
	m := binModule(t, wasm.ValF64, wasm.ValF64, wasm.OpF64Div)
	out := run(t, m, "f", F64(0), F64(0))
	if got := out[0].F64(); !math.IsNaN(got) {
		t.Errorf("0/0 = %g, want NaN", got)
	}
}

func TestExec_F64MinMaxSpecialCases(t *testing.T) {
	negZero := math.Copysign(0, -1)

	t.Run("min propagates NaN", func(t *testing.T) {
		m := binModule(t, wasm.ValF64, wasm.ValF64, wasm.OpF64Min)
		out := run(t, m, "f", F64(math.NaN()), F64(1))
		if !math.IsNaN(out[0].F64()) {
			t.Errorf("min(NaN, 1) = %g, want NaN", out[0].F64())
		}
	})
	t.Run("max propagates NaN", func(t *testing.T) {
		m := binModule(t, wasm.ValF64, wasm.ValF64, wasm.OpF64Max)
		out := run(t, m, "f", F64(1), F64(math.NaN()))
		if !math.IsNaN(out[0].F64()) {
			t.Errorf("max(1, NaN) = %g, want NaN", out[0].F64())
		}
	})
	t.Run("min orders negative zero first", func(t *testing.T) {
		m := binModule(t, wasm.ValF64, wasm.ValF64, wasm.OpF64Min)
		out := run(t, m, "f", F64(0), F64(negZero))
		if got := out[0].F64(); !math.Signbit(got) {
			t.Errorf("min(+0, -0) = %g (signbit=%t), want -0", got, math.Signbit(got))
		}
	})
	t.Run("max orders positive zero first", func(t *testing.T) {
		m := binModule(t, wasm.ValF64, wasm.ValF64, wasm.OpF64Max)
		out := run(t, m, "f", F64(negZero), F64(0))
		if got := out[0].F64(); math.Signbit(got) {
			t.Errorf("max(-0, +0) = %g (signbit=%t), want +0", got, math.Signbit(got))
		}
	})
}

func TestExec_F64UnaryOps(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		in   float64
		want float64
	}{
		{"abs", wasm.OpF64Abs, -1.5, 1.5},
		{"abs of negative zero", wasm.OpF64Abs, math.Copysign(0, -1), 0},
		{"neg", wasm.OpF64Neg, 1.5, -1.5},
		{"ceil", wasm.OpF64Ceil, -1.5, -1},
		{"floor", wasm.OpF64Floor, -1.5, -2},
		{"trunc", wasm.OpF64Trunc, -1.9, -1},
		{"nearest rounds to even", wasm.OpF64Nearest, 2.5, 2},
		{"nearest rounds to even up", wasm.OpF64Nearest, 3.5, 4},
		{"sqrt", wasm.OpF64Sqrt, 2.25, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := unModule(t, wasm.ValF64, wasm.ValF64, wasm.Instruction{Opcode: tt.op})
			out := run(t, m, "f", F64(tt.in))
			if got := out[0].F64(); got != tt.want || math.Signbit(got) != math.Signbit(tt.want) {
				t.Errorf("f(%g) = %g, want %g", tt.in, got, tt.want)
			}
		})
	}
}

func TestExec_F32UnaryOps(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		in   float32
		want float32
	}{
		{"abs", wasm.OpF32Abs, -1.5, 1.5},
		{"neg", wasm.OpF32Neg, 1.5, -1.5},
		{"ceil", wasm.OpF32Ceil, 1.2, 2},
		{"floor", wasm.OpF32Floor, 1.8, 1},
		{"trunc", wasm.OpF32Trunc, -2.7, -2},
		{"nearest", wasm.OpF32Nearest, 0.5, 0},
		{"sqrt", wasm.OpF32Sqrt, 9, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := unModule(t, wasm.ValF32, wasm.ValF32, wasm.Instruction{Opcode: tt.op})
			out := run(t, m, "f", F32(tt.in))
			if got := out[0].F32(); got != tt.want {
				t.Errorf("f(%g) = %g, want %g", tt.in, got, tt.want)
			}
		})
	}
}

func TestExec_F32NegativeZeroBits(t *testing.T) {
	// f32.neg must flip only the sign bit, no value arithmetic.
	m := unModule(t, wasm.ValF32, wasm.ValF32, wasm.Instruction{Opcode: wasm.OpF32Neg})
	out := run(t, m, "f", F32(0))
	if got := math.Float32bits(out[0].F32()); got != 0x80000000 {
		t.Errorf("neg(+0) bits = %#x, want 0x80000000", got)
	}
}

func TestExec_DivisionTraps(t *testing.T) {
	tests := []struct {
		name string
		vt   wasm.ValType
		op   byte
		a    Value
		b    Value
		code errors.TrapCode
	}{
		{"i32.div_s by zero", wasm.ValI32, wasm.OpI32DivS, I32(1), I32(0), errors.TrapIntegerDivideByZero},
		{"i32.div_u by zero", wasm.ValI32, wasm.OpI32DivU, I32(1), I32(0), errors.TrapIntegerDivideByZero},
		{"i32.rem_s by zero", wasm.ValI32, wasm.OpI32RemS, I32(1), I32(0), errors.TrapIntegerDivideByZero},
		{"i32.rem_u by zero", wasm.ValI32, wasm.OpI32RemU, I32(1), I32(0), errors.TrapIntegerDivideByZero},
		{"i32.div_s overflow", wasm.ValI32, wasm.OpI32DivS, I32(math.MinInt32), I32(-1), errors.TrapIntegerOverflow},
		{"i64.div_s by zero", wasm.ValI64, wasm.OpI64DivS, I64(1), I64(0), errors.TrapIntegerDivideByZero},
		{"i64.div_u by zero", wasm.ValI64, wasm.OpI64DivU, I64(1), I64(0), errors.TrapIntegerDivideByZero},
		{"i64.rem_s by zero", wasm.ValI64, wasm.OpI64RemS, I64(1), I64(0), errors.TrapIntegerDivideByZero},
		{"i64.div_s overflow", wasm.ValI64, wasm.OpI64DivS, I64(math.MinInt64), I64(-1), errors.TrapIntegerOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := binModule(t, tt.vt, tt.vt, tt.op)
			err := runErr(t, m, "f", tt.a, tt.b)
			if !stderrors.Is(err, tt.code) {
				t.Errorf("error = %v, want trap %s", err, tt.code)
			}
		})
	}
}

func TestExec_RemainderOfMinByMinusOne(t *testing.T) {
	// INT_MIN % -1 is 0, not a trap.
	m := binModule(t, wasm.ValI32, wasm.ValI32, wasm.OpI32RemS)
	out := run(t, m, "f", I32(math.MinInt32), I32(-1))
	if got := out[0].I32(); got != 0 {
		t.Errorf("rem_s(MinInt32, -1) = %d, want 0", got)
	}

	m64 := binModule(t, wasm.ValI64, wasm.ValI64, wasm.OpI64RemS)
	out = run(t, m64, "f", I64(math.MinInt64), I64(-1))
	if got := out[0].I64(); got != 0 {
		t.Errorf("rem_s(MinInt64, -1) = %d, want 0", got)
	}
}

func TestExec_Conversions(t *testing.T) {
	t.Run("i32.wrap_i64", func(t *testing.T) {
		m := unModule(t, wasm.ValI64, wasm.ValI32, wasm.Instruction{Opcode: wasm.OpI32WrapI64})
		out := run(t, m, "f", I64(0x1_0000_0005))
		if got := out[0].I32(); got != 5 {
			t.Errorf("wrap = %d, want 5", got)
		}
	})
	t.Run("i64.extend_i32_s", func(t *testing.T) {
		m := unModule(t, wasm.ValI32, wasm.ValI64, wasm.Instruction{Opcode: wasm.OpI64ExtendI32S})
		out := run(t, m, "f", I32(-1))
		if got := out[0].I64(); got != -1 {
			t.Errorf("extend_s = %d, want -1", got)
		}
	})
	t.Run("i64.extend_i32_u", func(t *testing.T) {
		m := unModule(t, wasm.ValI32, wasm.ValI64, wasm.Instruction{Opcode: wasm.OpI64ExtendI32U})
		out := run(t, m, "f", I32(-1))
		if got := out[0].I64(); got != 0xFFFFFFFF {
			t.Errorf("extend_u = %d, want 4294967295", got)
		}
	})
	t.Run("f64.convert_i32_s", func(t *testing.T) {
		m := unModule(t, wasm.ValI32, wasm.ValF64, wasm.Instruction{Opcode: wasm.OpF64ConvertI32S})
		out := run(t, m, "f", I32(-5))
		if got := out[0].F64(); got != -5 {
			t.Errorf("convert_s = %g, want -5", got)
		}
	})
	t.Run("f64.convert_i32_u", func(t *testing.T) {
		m := unModule(t, wasm.ValI32, wasm.ValF64, wasm.Instruction{Opcode: wasm.OpF64ConvertI32U})
		out := run(t, m, "f", I32(-1))
		if got := out[0].F64(); got != 4294967295 {
			t.Errorf("convert_u = %g, want 4294967295", got)
		}
	})
	t.Run("f64.convert_i64_u of large value", func(t *testing.T) {
		m := unModule(t, wasm.ValI64, wasm.ValF64, wasm.Instruction{Opcode: wasm.OpF64ConvertI64U})
		out := run(t, m, "f", I64(-1))
		if got := out[0].F64(); got != 18446744073709551616.0 {
			t.Errorf("convert_u = %g, want 2^64", got)
		}
	})
	t.Run("f32.demote_f64", func(t *testing.T) {
		m := unModule(t, wasm.ValF64, wasm.ValF32, wasm.Instruction{Opcode: wasm.OpF32DemoteF64})
		out := run(t, m, "f", F64(1.5))
		if got := out[0].F32(); got != 1.5 {
			t.Errorf("demote = %g, want 1.5", got)
		}
	})
	t.Run("f64.promote_f32", func(t *testing.T) {
		m := unModule(t, wasm.ValF32, wasm.ValF64, wasm.Instruction{Opcode: wasm.OpF64PromoteF32})
		out := run(t, m, "f", F32(-2.5))
		if got := out[0].F64(); got != -2.5 {
			t.Errorf("promote = %g, want -2.5", got)
		}
	})
	t.Run("i32.trunc_f64_s", func(t *testing.T) {
		m := unModule(t, wasm.ValF64, wasm.ValI32, wasm.Instruction{Opcode: wasm.OpI32TruncF64S})
		out := run(t, m, "f", F64(-3.7))
		if got := out[0].I32(); got != -3 {
			t.Errorf("trunc = %d, want -3", got)
		}
	})
	t.Run("i32.trunc_f64_s boundary", func(t *testing.T) {
		m := unModule(t, wasm.ValF64, wasm.ValI32, wasm.Instruction{Opcode: wasm.OpI32TruncF64S})
		out := run(t, m, "f", F64(2147483647.9))
		if got := out[0].I32(); got != math.MaxInt32 {
			t.Errorf("trunc = %d, want MaxInt32", got)
		}
	})
	t.Run("i32.trunc_f64_u boundary", func(t *testing.T) {
		m := unModule(t, wasm.ValF64, wasm.ValI32, wasm.Instruction{Opcode: wasm.OpI32TruncF64U})
		out := run(t, m, "f", F64(4294967295.9))
		if got := out[0].U32(); got != math.MaxUint32 {
			t.Errorf("trunc = %d, want MaxUint32", got)
		}
	})
	t.Run("i64.trunc_f64_s", func(t *testing.T) {
		m := unModule(t, wasm.ValF64, wasm.ValI64, wasm.Instruction{Opcode: wasm.OpI64TruncF64S})
		out := run(t, m, "f", F64(-123456789.5))
		if got := out[0].I64(); got != -123456789 {
			t.Errorf("trunc = %d, want -123456789", got)
		}
	})
}

func TestExec_Reinterpret(t *testing.T) {
	t.Run("i32.reinterpret_f32", func(t *testing.T) {
		m := unModule(t, wasm.ValF32, wasm.ValI32, wasm.Instruction{Opcode: wasm.OpI32ReinterpretF32})
		out := run(t, m, "f", F32(1))
		if got := out[0].U32(); got != 0x3F800000 {
			t.Errorf("bits = %#x, want 0x3f800000", got)
		}
	})
	t.Run("f64.reinterpret_i64", func(t *testing.T) {
		m := unModule(t, wasm.ValI64, wasm.ValF64, wasm.Instruction{Opcode: wasm.OpF64ReinterpretI64})
		out := run(t, m, "f", I64(int64(math.Float64bits(2.5))))
		if got := out[0].F64(); got != 2.5 {
			t.Errorf("value = %g, want 2.5", got)
		}
	})
	t.Run("roundtrip preserves NaN payload", func(t *testing.T) {
		m := unModule(t, wasm.ValI64, wasm.ValI64,
			wasm.Instruction{Opcode: wasm.OpF64ReinterpretI64},
			wasm.Instruction{Opcode: wasm.OpI64ReinterpretF64},
		)
		payload := int64(0x7FF8000000000001)
		out := run(t, m, "f", I64(payload))
		if got := out[0].I64(); got != payload {
			t.Errorf("bits = %#x, want %#x", got, payload)
		}
	})
}

func TestExec_SignExtension(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		vt   wasm.ValType
		in   Value
		want Value
	}{
		{"i32.extend8_s", wasm.OpI32Extend8S, wasm.ValI32, I32(0x80), I32(-128)},
		{"i32.extend8_s positive", wasm.OpI32Extend8S, wasm.ValI32, I32(0x7F), I32(127)},
		{"i32.extend16_s", wasm.OpI32Extend16S, wasm.ValI32, I32(0x8000), I32(-32768)},
		{"i64.extend8_s", wasm.OpI64Extend8S, wasm.ValI64, I64(0x80), I64(-128)},
		{"i64.extend16_s", wasm.OpI64Extend16S, wasm.ValI64, I64(0xFFFF), I64(-1)},
		{"i64.extend32_s", wasm.OpI64Extend32S, wasm.ValI64, I64(0x80000000), I64(math.MinInt32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := unModule(t, tt.vt, tt.vt, wasm.Instruction{Opcode: tt.op})
			out := run(t, m, "f", tt.in)
			if out[0] != tt.want {
				t.Errorf("f(%v) = %v, want %v", tt.in, out[0], tt.want)
			}
		})
	}
}

func TestExec_TruncTraps(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		vt   wasm.ValType
		rt   wasm.ValType
		in   Value
		code errors.TrapCode
	}{
		{"i32.trunc_f32_s of NaN", wasm.OpI32TruncF32S, wasm.ValF32, wasm.ValI32, F32(float32(math.NaN())), errors.TrapInvalidConversionToInteger},
		{"i32.trunc_f64_s of NaN", wasm.OpI32TruncF64S, wasm.ValF64, wasm.ValI32, F64(math.NaN()), errors.TrapInvalidConversionToInteger},
		{"i32.trunc_f64_s overflow", wasm.OpI32TruncF64S, wasm.ValF64, wasm.ValI32, F64(2147483648), errors.TrapIntegerOverflow},
		{"i32.trunc_f64_s underflow", wasm.OpI32TruncF64S, wasm.ValF64, wasm.ValI32, F64(-2147483649), errors.TrapIntegerOverflow},
		{"i32.trunc_f64_u of negative", wasm.OpI32TruncF64U, wasm.ValF64, wasm.ValI32, F64(-1), errors.TrapIntegerOverflow},
		{"i64.trunc_f64_s overflow", wasm.OpI64TruncF64S, wasm.ValF64, wasm.ValI64, F64(9223372036854775808), errors.TrapIntegerOverflow},
		{"i64.trunc_f64_u of negative", wasm.OpI64TruncF64U, wasm.ValF64, wasm.ValI64, F64(-0.5), errors.TrapIntegerOverflow},
		{"i64.trunc_f32_s of inf", wasm.OpI64TruncF32S, wasm.ValF32, wasm.ValI64, F32(float32(math.Inf(1))), errors.TrapIntegerOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := unModule(t, tt.vt, tt.rt, wasm.Instruction{Opcode: tt.op})
			err := runErr(t, m, "f", tt.in)
			if !stderrors.Is(err, tt.code) {
				t.Errorf("error = %v, want trap %s", err, tt.code)
			}
		})
	}
}

func TestExec_TruncFractionalNegativeToUnsignedZero(t *testing.T) {
	// -0.5 truncates to -0, which converts to unsigned 0.
	m := unModule(t, wasm.ValF64, wasm.ValI32, wasm.Instruction{Opcode: wasm.OpI32TruncF64U})
	out := run(t, m, "f", F64(-0.5))
	if got := out[0].U32(); got != 0 {
		t.Errorf("trunc_u(-0.5) = %d, want 0", got)
	}
}

func TestExec_SaturatingTruncation(t *testing.T) {
	sat := func(sub uint32, vt, rt wasm.ValType) func(*testing.T, Value) Value {
		return func(t *testing.T, in Value) Value {
			t.Helper()
			m := unModule(t, vt, rt,
				wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: sub}})
			return run(t, m, "f", in)[0]
		}
	}

	i32FromF64S := sat(wasm.MiscI32TruncSatF64S, wasm.ValF64, wasm.ValI32)
	i32FromF64U := sat(wasm.MiscI32TruncSatF64U, wasm.ValF64, wasm.ValI32)
	i64FromF64S := sat(wasm.MiscI64TruncSatF64S, wasm.ValF64, wasm.ValI64)
	i64FromF64U := sat(wasm.MiscI64TruncSatF64U, wasm.ValF64, wasm.ValI64)
	i32FromF32S := sat(wasm.MiscI32TruncSatF32S, wasm.ValF32, wasm.ValI32)
	i64FromF32U := sat(wasm.MiscI64TruncSatF32U, wasm.ValF32, wasm.ValI64)

	t.Run("in-range value converts", func(t *testing.T) {
		if got := i32FromF64S(t, F64(-3.9)).I32(); got != -3 {
			t.Errorf("got %d, want -3", got)
		}
	})
	t.Run("NaN becomes zero", func(t *testing.T) {
		if got := i32FromF64S(t, F64(math.NaN())).I32(); got != 0 {
			t.Errorf("got %d, want 0", got)
		}
	})
	t.Run("negative infinity clamps to min", func(t *testing.T) {
		if got := i32FromF64S(t, F64(math.Inf(-1))).I32(); got != math.MinInt32 {
			t.Errorf("got %d, want MinInt32", got)
		}
	})
	t.Run("positive overflow clamps to max", func(t *testing.T) {
		if got := i32FromF64S(t, F64(1e10)).I32(); got != math.MaxInt32 {
			t.Errorf("got %d, want MaxInt32", got)
		}
	})
	t.Run("unsigned negative clamps to zero", func(t *testing.T) {
		if got := i32FromF64U(t, F64(-7)).U32(); got != 0 {
			t.Errorf("got %d, want 0", got)
		}
	})
	t.Run("unsigned overflow clamps to max", func(t *testing.T) {
		if got := i32FromF64U(t, F64(1e10)).U32(); got != math.MaxUint32 {
			t.Errorf("got %d, want MaxUint32", got)
		}
	})
	t.Run("i64 signed overflow clamps", func(t *testing.T) {
		if got := i64FromF64S(t, F64(1e19)).I64(); got != math.MaxInt64 {
			t.Errorf("got %d, want MaxInt64", got)
		}
	})
	t.Run("i64 unsigned overflow clamps", func(t *testing.T) {
		if got := i64FromF64U(t, F64(1e20)).I64(); got != -1 {
			t.Errorf("got %#x, want all ones", got)
		}
	})
	t.Run("f32 source in range", func(t *testing.T) {
		if got := i32FromF32S(t, F32(100.9)).I32(); got != 100 {
			t.Errorf("got %d, want 100", got)
		}
	})
	t.Run("f32 source unsigned negative", func(t *testing.T) {
		if got := i64FromF32U(t, F32(-1)).I64(); got != 0 {
			t.Errorf("got %d, want 0", got)
		}
	})
}
