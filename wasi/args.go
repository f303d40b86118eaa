package wasi

import (
	"context"

	"github.com/wippyai/wasm-engine/engine"
)

// stringListSizes returns the entry count and the total byte length of
// the packed NUL-terminated list, the two numbers args_sizes_get and
// environ_sizes_get report.
func stringListSizes(list []string) (count, bytes uint32) {
	for _, s := range list {
		bytes += uint32(len(s)) + 1
	}
	return uint32(len(list)), bytes
}

// writeStringList lays out list the way wasi-libc expects: a pointer
// per entry at ptrs, each aimed at a NUL-terminated string packed
// consecutively at buf.
func (h *Host) writeStringList(list []string, ptrs, buf uint32) Errno {
	for _, s := range list {
		if err := h.mem.WriteU32(ptrs, buf); err != nil {
			return ErrnoFault
		}
		ptrs += 4
		if err := h.mem.Write(buf, append([]byte(s), 0)); err != nil {
			return ErrnoFault
		}
		buf += uint32(len(s)) + 1
	}
	return ErrnoSuccess
}

func (h *Host) writeSizes(count, bytes uint32, countPtr, bytesPtr uint32) Errno {
	if err := h.mem.WriteU32(countPtr, count); err != nil {
		return ErrnoFault
	}
	if err := h.mem.WriteU32(bytesPtr, bytes); err != nil {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) argsGet(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	if h.mem == nil {
		return nil, errNoMemory
	}
	return ret(h.writeStringList(h.args, args[0].U32(), args[1].U32()))
}

func (h *Host) argsSizesGet(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	if h.mem == nil {
		return nil, errNoMemory
	}
	count, bytes := stringListSizes(h.args)
	return ret(h.writeSizes(count, bytes, args[0].U32(), args[1].U32()))
}

func (h *Host) environGet(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	if h.mem == nil {
		return nil, errNoMemory
	}
	return ret(h.writeStringList(h.env, args[0].U32(), args[1].U32()))
}

func (h *Host) environSizesGet(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	if h.mem == nil {
		return nil, errNoMemory
	}
	count, bytes := stringListSizes(h.env)
	return ret(h.writeSizes(count, bytes, args[0].U32(), args[1].U32()))
}
