package errors

import (
	"fmt"
	"strings"
)

// TrapCode identifies why guest execution aborted.
type TrapCode uint8

const (
	// TrapUnreachable is raised by the unreachable instruction.
	TrapUnreachable TrapCode = iota

	// TrapMemoryOutOfBounds is raised by a load or store that touches
	// bytes past the end of linear memory.
	TrapMemoryOutOfBounds

	// TrapTableOutOfBounds is raised by call_indirect with an index past
	// the end of the table.
	TrapTableOutOfBounds

	// TrapUninitializedElement is raised by call_indirect through a table
	// slot no element segment filled.
	TrapUninitializedElement

	// TrapIndirectCallTypeMismatch is raised by call_indirect when the
	// callee's declared type differs from the expected one.
	TrapIndirectCallTypeMismatch

	// TrapIntegerDivideByZero is raised by integer division or remainder
	// with a zero divisor.
	TrapIntegerDivideByZero

	// TrapIntegerOverflow is raised by INT_MIN/-1 division and by
	// float-to-int truncation whose result does not fit the target type.
	TrapIntegerOverflow

	// TrapInvalidConversionToInteger is raised by float-to-int truncation
	// of a NaN.
	TrapInvalidConversionToInteger

	// TrapCallStackExhausted is raised when the call depth limit is
	// exceeded.
	TrapCallStackExhausted
)

// String returns the conventional trap message for the code.
func (c TrapCode) String() string {
	switch c {
	case TrapUnreachable:
		return "unreachable"
	case TrapMemoryOutOfBounds:
		return "out of bounds memory access"
	case TrapTableOutOfBounds:
		return "out of bounds table access"
	case TrapUninitializedElement:
		return "uninitialized element"
	case TrapIndirectCallTypeMismatch:
		return "indirect call type mismatch"
	case TrapIntegerDivideByZero:
		return "integer divide by zero"
	case TrapIntegerOverflow:
		return "integer overflow"
	case TrapInvalidConversionToInteger:
		return "invalid conversion to integer"
	case TrapCallStackExhausted:
		return "call stack exhausted"
	}
	return fmt.Sprintf("trap code %d", uint8(c))
}

// Error implements the error interface so a bare code can serve as an
// errors.Is target.
func (c TrapCode) Error() string {
	return "trap: " + c.String()
}

// TrapError is returned when guest execution traps. The invocation that
// raised it is aborted; the instance stays usable.
type TrapError struct {
	Code   TrapCode
	Detail string
}

// NewTrap creates a trap error with the given code
func NewTrap(code TrapCode) *TrapError {
	return &TrapError{Code: code}
}

// Trapf creates a trap error with formatted detail
func Trapf(code TrapCode, format string, args ...any) *TrapError {
	return &TrapError{
		Code:   code,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface
func (e *TrapError) Error() string {
	if e.Detail != "" {
		return "trap: " + e.Code.String() + ": " + e.Detail
	}
	return "trap: " + e.Code.String()
}

// Is reports whether target matches this trap. Both *TrapError and bare
// TrapCode targets are matched by code.
func (e *TrapError) Is(target error) bool {
	switch t := target.(type) {
	case *TrapError:
		return e.Code == t.Code
	case TrapCode:
		return e.Code == t
	}
	return false
}

// LinkError is returned when instantiation cannot resolve or apply the
// module's imports. No instance is produced.
type LinkError struct {
	Cause  error
	Module string // import module field, e.g. "env"
	Name   string // import name field, e.g. "now"
	Detail string
}

// Error implements the error interface
func (e *LinkError) Error() string {
	var b strings.Builder

	b.WriteString("link error")
	if e.Module != "" || e.Name != "" {
		fmt.Fprintf(&b, ": import %q.%q", e.Module, e.Name)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *LinkError) Unwrap() error {
	return e.Cause
}

// GrowthError is returned by the host-facing memory API when a grow
// request would exceed the page limit. Inside the guest the same
// condition surfaces as -1 from memory.grow, not as an error.
type GrowthError struct {
	Current   uint32 // pages currently allocated
	Requested uint32 // additional pages asked for
	Limit     uint32 // effective page limit
}

// Error implements the error interface
func (e *GrowthError) Error() string {
	return fmt.Sprintf("cannot grow memory by %d pages: %d of %d pages in use",
		e.Requested, e.Current, e.Limit)
}

// ExitError is returned when the guest terminates itself through the
// host ABI. A zero code is still reported as an ExitError so callers
// can tell a requested exit from a normal return.
type ExitError struct {
	Code uint32
}

// Error implements the error interface
func (e *ExitError) Error() string {
	return fmt.Sprintf("module exited with code %d", e.Code)
}

// Convenience constructors for common error patterns

// MissingImport creates a link error for an import with no provided value
func MissingImport(module, name string) *LinkError {
	return &LinkError{
		Module: module,
		Name:   name,
		Detail: "no value provided",
	}
}

// IncompatibleImport creates a link error for a provided value whose type
// does not satisfy the declared import
func IncompatibleImport(module, name, detail string) *LinkError {
	return &LinkError{
		Module: module,
		Name:   name,
		Detail: detail,
	}
}

// LinkFailed wraps a lower-level failure hit while applying imports
func LinkFailed(module, name string, cause error) *LinkError {
	return &LinkError{
		Module: module,
		Name:   name,
		Cause:  cause,
	}
}

// GrowthDenied creates a growth error
func GrowthDenied(current, requested, limit uint32) *GrowthError {
	return &GrowthError{
		Current:   current,
		Requested: requested,
		Limit:     limit,
	}
}

// Exit creates an exit error carrying the guest-chosen status code
func Exit(code uint32) *ExitError {
	return &ExitError{Code: code}
}
