package wasi

import (
	"context"
	"io"

	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/errors"
)

// procExit abandons the computation with the guest-chosen status. The
// returned error unwinds every live frame and reaches the embedder as
// *errors.ExitError, so a zero status is still an error from Invoke.
func (h *Host) procExit(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	return nil, errors.Exit(args[0].U32())
}

// randomGet fills guest memory with cryptographic-quality bytes. The
// destination is bounds-checked before any entropy is drawn so a bad
// pointer costs nothing.
func (h *Host) randomGet(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	if h.mem == nil {
		return nil, errNoMemory
	}
	ptr, n := args[0].U32(), args[1].U32()
	if _, err := h.mem.Read(ptr, n); err != nil {
		return ret(ErrnoFault)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(h.rand, buf); err != nil {
		return ret(ErrnoIO)
	}
	if err := h.mem.Write(ptr, buf); err != nil {
		return ret(ErrnoFault)
	}
	return ret(ErrnoSuccess)
}
