package wasi

import (
	"context"

	"github.com/wippyai/wasm-engine/engine"
)

const (
	clockRealtime  = 0
	clockMonotonic = 1
)

// clockTimeGet writes the requested clock's reading in nanoseconds.
// Realtime is Unix time; monotonic counts from host creation. The
// precision argument is accepted and ignored, matching what guests
// tolerate from every major runtime. Process and thread CPU clocks are
// not provided.
func (h *Host) clockTimeGet(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	if h.mem == nil {
		return nil, errNoMemory
	}
	var ns uint64
	switch args[0].I32() {
	case clockRealtime:
		ns = uint64(h.now().UnixNano())
	case clockMonotonic:
		ns = uint64(h.now().Sub(h.start))
	default:
		return ret(ErrnoInval)
	}
	if err := h.mem.WriteU64(args[2].U32(), ns); err != nil {
		return ret(ErrnoFault)
	}
	return ret(ErrnoSuccess)
}
