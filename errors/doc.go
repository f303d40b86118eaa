// Package errors defines the typed errors shared by the engine and its
// host integrations.
//
// Traps carry a TrapCode naming why guest execution aborted:
//
//	return errors.NewTrap(errors.TrapIntegerDivideByZero)
//	return errors.Trapf(errors.TrapMemoryOutOfBounds, "address %#x exceeds %d bytes", addr, size)
//
// Import resolution failures during instantiation are reported as
// *LinkError with the module and name fields of the offending import:
//
//	return errors.MissingImport("env", "now")
//	return errors.IncompatibleImport("env", "table", "min size 10 exceeds provided 4")
//
// A rejected host-side memory grow is a *GrowthError, and a guest that
// terminates itself through the host ABI surfaces as *ExitError.
//
// All types implement the standard error interface and support
// errors.Is/As; a bare TrapCode can be used directly as an Is target.
package errors
