package wasi

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/term"

	"github.com/wippyai/wasm-engine/engine"
)

const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
)

const (
	filetypeUnknown   = 0
	filetypeCharacter = 2
)

const (
	rightFdRead  = uint64(1) << 1
	rightFdWrite = uint64(1) << 6
)

// isTerminal reports whether stream is an interactive terminal. The
// fd check is a syscall on some platforms, so the answer is cached:
// -1 unknown, 0 false, 1 true.
func isTerminal(stream any, cached *int32) bool {
	if v := atomic.LoadInt32(cached); v >= 0 {
		return v == 1
	}
	v := int32(0)
	if f, ok := stream.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		v = 1
	}
	atomic.StoreInt32(cached, v)
	return v == 1
}

// iovec is one entry of a guest scatter-gather list: a pointer and a
// length, both u32, packed into 8 bytes.
type iovec struct {
	buf uint32
	len uint32
}

// readIovecs decodes n entries starting at ptr. The count is guest
// data, so capacity grows with successful reads instead of trusting it.
func (h *Host) readIovecs(ptr, n uint32) ([]iovec, Errno) {
	var iovs []iovec
	for i := uint32(0); i < n; i++ {
		buf, err := h.mem.ReadU32(ptr + 8*i)
		if err != nil {
			return nil, ErrnoFault
		}
		length, err := h.mem.ReadU32(ptr + 8*i + 4)
		if err != nil {
			return nil, ErrnoFault
		}
		iovs = append(iovs, iovec{buf: buf, len: length})
	}
	return iovs, ErrnoSuccess
}

// fdWrite gathers the iovec list into the stream behind fd and reports
// the byte count at the result pointer. Only stdout and stderr accept
// writes.
func (h *Host) fdWrite(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	if h.mem == nil {
		return nil, errNoMemory
	}
	var w io.Writer
	switch args[0].I32() {
	case fdStdout:
		w = h.stdout
	case fdStderr:
		w = h.stderr
	default:
		return ret(ErrnoBadf)
	}

	iovs, errno := h.readIovecs(args[1].U32(), args[2].U32())
	if errno != ErrnoSuccess {
		return ret(errno)
	}

	var written uint32
	for _, v := range iovs {
		data, err := h.mem.Read(v.buf, v.len)
		if err != nil {
			return ret(ErrnoFault)
		}
		n, err := w.Write(data)
		written += uint32(n)
		if err != nil {
			return ret(ErrnoIO)
		}
	}
	if err := h.mem.WriteU32(args[3].U32(), written); err != nil {
		return ret(ErrnoFault)
	}
	return ret(ErrnoSuccess)
}

// fdRead scatters stdin into the iovec list. A short read ends the
// call rather than blocking for more; EOF reports zero bytes with
// success, which is how preview1 spells end of input.
func (h *Host) fdRead(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	if h.mem == nil {
		return nil, errNoMemory
	}
	if args[0].I32() != fdStdin {
		return ret(ErrnoBadf)
	}

	iovs, errno := h.readIovecs(args[1].U32(), args[2].U32())
	if errno != ErrnoSuccess {
		return ret(errno)
	}

	var read uint32
	if h.stdin != nil {
	fill:
		for _, v := range iovs {
			if v.len == 0 {
				continue
			}
			buf := make([]byte, v.len)
			n, err := h.stdin.Read(buf)
			if n > 0 {
				if werr := h.mem.Write(v.buf, buf[:n]); werr != nil {
					return ret(ErrnoFault)
				}
				read += uint32(n)
			}
			switch {
			case err == io.EOF:
				break fill
			case err != nil:
				return ret(ErrnoIO)
			case uint32(n) < v.len:
				break fill
			}
		}
	}
	if err := h.mem.WriteU32(args[3].U32(), read); err != nil {
		return ret(ErrnoFault)
	}
	return ret(ErrnoSuccess)
}

// Closing a stdio descriptor succeeds and does nothing; the host owns
// the underlying streams.
func (h *Host) fdClose(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	switch args[0].I32() {
	case fdStdin, fdStdout, fdStderr:
		return ret(ErrnoSuccess)
	}
	return ret(ErrnoBadf)
}

// Stdio streams have no file offset.
func (h *Host) fdSeek(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	switch args[0].I32() {
	case fdStdin, fdStdout, fdStderr:
		return ret(ErrnoSpipe)
	}
	return ret(ErrnoBadf)
}

// fdFdstatGet writes the 24-byte fdstat record: filetype u8, flags
// u16, rights base u64, rights inheriting u64. Stdio attached to a
// real terminal reports the character device filetype, which is what
// wasi-libc's isatty looks at.
func (h *Host) fdFdstatGet(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	if h.mem == nil {
		return nil, errNoMemory
	}

	var (
		filetype byte = filetypeUnknown
		rights   uint64
	)
	switch args[0].I32() {
	case fdStdin:
		rights = rightFdRead
		if isTerminal(h.stdin, &h.stdinTTY) {
			filetype = filetypeCharacter
		}
	case fdStdout:
		rights = rightFdWrite
		if isTerminal(h.stdout, &h.stdoutTTY) {
			filetype = filetypeCharacter
		}
	case fdStderr:
		rights = rightFdWrite
		if isTerminal(h.stderr, &h.stderrTTY) {
			filetype = filetypeCharacter
		}
	default:
		return ret(ErrnoBadf)
	}

	var stat [24]byte
	stat[0] = filetype
	binary.LittleEndian.PutUint64(stat[8:16], rights)
	if err := h.mem.Write(args[1].U32(), stat[:]); err != nil {
		return ret(ErrnoFault)
	}
	return ret(ErrnoSuccess)
}

// Stdio flags are fixed; guests asking for nonblocking mode get ENOSYS
// and degrade to blocking reads.
func (h *Host) fdFdstatSetFlags(_ context.Context, args []engine.Value) ([]engine.Value, error) {
	switch args[0].I32() {
	case fdStdin, fdStdout, fdStderr:
		return ret(ErrnoNosys)
	}
	return ret(ErrnoBadf)
}

// No directories are preopened. wasi-libc probes descriptors from 3
// upward until the first EBADF, so answering it unconditionally ends
// the scan immediately.
func (h *Host) fdPrestatGet(_ context.Context, _ []engine.Value) ([]engine.Value, error) {
	return ret(ErrnoBadf)
}
