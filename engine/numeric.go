package engine

import (
	"math"

	"github.com/wippyai/wasm-engine/errors"
)

// Float-to-integer range bounds, exact in float64. The 64-bit upper
// bounds are one past the maximum because the maximum itself is not
// representable.
const (
	minI32f = -2147483648.0
	maxI32f = 2147483647.0
	maxU32f = 4294967295.0
	minI64f = -9223372036854775808.0
	maxI64f = 9223372036854775808.0  // 2^63, exclusive
	maxU64f = 18446744073709551616.0 // 2^64, exclusive
)

// Integer division traps on a zero divisor; signed division of the
// minimum value by -1 traps because the quotient is unrepresentable.
// Remainder of the same pair is 0, not a trap.

func divS32(a, b int32) (int32, error) {
	if b == 0 {
		return 0, errors.NewTrap(errors.TrapIntegerDivideByZero)
	}
	if a == math.MinInt32 && b == -1 {
		return 0, errors.NewTrap(errors.TrapIntegerOverflow)
	}
	return a / b, nil
}

func divU32(a, b uint32) (uint32, error) {
	if b == 0 {
		return 0, errors.NewTrap(errors.TrapIntegerDivideByZero)
	}
	return a / b, nil
}

func remS32(a, b int32) (int32, error) {
	if b == 0 {
		return 0, errors.NewTrap(errors.TrapIntegerDivideByZero)
	}
	if a == math.MinInt32 && b == -1 {
		return 0, nil
	}
	return a % b, nil
}

func remU32(a, b uint32) (uint32, error) {
	if b == 0 {
		return 0, errors.NewTrap(errors.TrapIntegerDivideByZero)
	}
	return a % b, nil
}

func divS64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errors.NewTrap(errors.TrapIntegerDivideByZero)
	}
	if a == math.MinInt64 && b == -1 {
		return 0, errors.NewTrap(errors.TrapIntegerOverflow)
	}
	return a / b, nil
}

func divU64(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, errors.NewTrap(errors.TrapIntegerDivideByZero)
	}
	return a / b, nil
}

func remS64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errors.NewTrap(errors.TrapIntegerDivideByZero)
	}
	if a == math.MinInt64 && b == -1 {
		return 0, nil
	}
	return a % b, nil
}

func remU64(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, errors.NewTrap(errors.TrapIntegerDivideByZero)
	}
	return a % b, nil
}

// Trapping truncation: NaN is an invalid conversion, out-of-range
// values overflow. Comparisons run on the truncated value so inputs
// like 4294967295.9 still convert.

func truncS32(f float64) (int32, error) {
	if math.IsNaN(f) {
		return 0, errors.NewTrap(errors.TrapInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t < minI32f || t > maxI32f {
		return 0, errors.NewTrap(errors.TrapIntegerOverflow)
	}
	return int32(t), nil
}

func truncU32(f float64) (uint32, error) {
	if math.IsNaN(f) {
		return 0, errors.NewTrap(errors.TrapInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t < 0 || t > maxU32f {
		return 0, errors.NewTrap(errors.TrapIntegerOverflow)
	}
	return uint32(t), nil
}

func truncS64(f float64) (int64, error) {
	if math.IsNaN(f) {
		return 0, errors.NewTrap(errors.TrapInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t < minI64f || t >= maxI64f {
		return 0, errors.NewTrap(errors.TrapIntegerOverflow)
	}
	return int64(t), nil
}

func truncU64(f float64) (uint64, error) {
	if math.IsNaN(f) {
		return 0, errors.NewTrap(errors.TrapInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t < 0 || t >= maxU64f {
		return 0, errors.NewTrap(errors.TrapIntegerOverflow)
	}
	return uint64(t), nil
}

// Saturating truncation: NaN becomes 0, out-of-range values clamp to
// the nearest representable bound.

func truncSatS32(f float64) int32 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	switch {
	case t < minI32f:
		return math.MinInt32
	case t > maxI32f:
		return math.MaxInt32
	}
	return int32(t)
}

func truncSatU32(f float64) uint32 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	switch {
	case t < 0:
		return 0
	case t > maxU32f:
		return math.MaxUint32
	}
	return uint32(t)
}

func truncSatS64(f float64) int64 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	switch {
	case t < minI64f:
		return math.MinInt64
	case t >= maxI64f:
		return math.MaxInt64
	}
	return int64(t)
}

func truncSatU64(f float64) uint64 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	switch {
	case t < 0:
		return 0
	case t >= maxU64f:
		return math.MaxUint64
	}
	return uint64(t)
}

// Minimum and maximum propagate NaN and order -0 below +0.

func fmin64(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == b {
		if math.Signbit(a) {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}

func fmax64(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == b {
		if math.Signbit(a) {
			return b
		}
		return a
	}
	if a > b {
		return a
	}
	return b
}

func fmin32(a, b float32) float32 {
	return float32(fmin64(float64(a), float64(b)))
}

func fmax32(a, b float32) float32 {
	return float32(fmax64(float64(a), float64(b)))
}
