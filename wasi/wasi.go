package wasi

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	wasmengine "github.com/wippyai/wasm-engine"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/wasm"
)

// Module is the import module name preview1 guests link against.
const Module = "wasi_snapshot_preview1"

// Errno is a preview1 error number, returned to the guest as i32.
type Errno uint16

const (
	ErrnoSuccess Errno = 0
	ErrnoBadf    Errno = 8
	ErrnoFault   Errno = 21
	ErrnoInval   Errno = 28
	ErrnoIO      Errno = 29
	ErrnoNosys   Errno = 52
	ErrnoSpipe   Errno = 70
)

func (e Errno) String() string {
	switch e {
	case ErrnoSuccess:
		return "ESUCCESS"
	case ErrnoBadf:
		return "EBADF"
	case ErrnoFault:
		return "EFAULT"
	case ErrnoInval:
		return "EINVAL"
	case ErrnoIO:
		return "EIO"
	case ErrnoNosys:
		return "ENOSYS"
	case ErrnoSpipe:
		return "ESPIPE"
	}
	return fmt.Sprintf("errno(%d)", uint16(e))
}

// Config configures a preview1 host. The zero value is a silent guest:
// empty argv, empty environment, EOF stdin, discarded output.
type Config struct {
	// Stdin, Stdout, Stderr back file descriptors 0, 1 and 2. A nil
	// Stdin reads as immediate EOF; nil writers discard.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Args is the argv the guest observes, argv[0] included.
	Args []string

	// Env holds the environment as KEY=VALUE entries.
	Env []string

	// Rand backs random_get. Defaults to crypto/rand.
	Rand io.Reader

	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

// Host is one guest's view of the system. It is not safe to share a
// Host between instances: BindMemory ties it to a single linear memory.
type Host struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	args   []string
	env    []string
	rand   io.Reader
	now    func() time.Time
	start  time.Time

	mem wasmengine.Memory

	stdinTTY  int32
	stdoutTTY int32
	stderrTTY int32
}

// New creates a preview1 host from cfg.
func New(cfg Config) *Host {
	h := &Host{
		stdin:     cfg.Stdin,
		stdout:    cfg.Stdout,
		stderr:    cfg.Stderr,
		args:      cfg.Args,
		env:       cfg.Env,
		rand:      cfg.Rand,
		now:       cfg.Now,
		start:     time.Now(),
		stdinTTY:  -1,
		stdoutTTY: -1,
		stderrTTY: -1,
	}
	if h.stdout == nil {
		h.stdout = io.Discard
	}
	if h.stderr == nil {
		h.stderr = io.Discard
	}
	if h.rand == nil {
		h.rand = rand.Reader
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// BindMemory attaches the guest's linear memory. Call it after
// instantiation and before the first guest invocation that can reach
// the host.
func (h *Host) BindMemory(mem wasmengine.Memory) {
	h.mem = mem
}

// errNoMemory aborts a host call when BindMemory was never called. It
// is an embedder bug, not a guest-visible errno.
var errNoMemory = errors.New("wasi: no memory bound")

// Register adds every preview1 function to r under Module.
func (h *Host) Register(r *engine.Registry) {
	i32 := wasm.ValI32
	i64 := wasm.ValI64
	errno := []wasm.ValType{i32}
	n := 0
	reg := func(name string, params, results []wasm.ValType, fn engine.HostFunc) {
		typ := wasm.FuncType{Params: params, Results: results}
		r.RegisterFunc(Module, name, engine.NewHostFunc(typ, fn))
		n++
	}

	reg("args_get", []wasm.ValType{i32, i32}, errno, h.argsGet)
	reg("args_sizes_get", []wasm.ValType{i32, i32}, errno, h.argsSizesGet)
	reg("environ_get", []wasm.ValType{i32, i32}, errno, h.environGet)
	reg("environ_sizes_get", []wasm.ValType{i32, i32}, errno, h.environSizesGet)
	reg("clock_time_get", []wasm.ValType{i32, i64, i32}, errno, h.clockTimeGet)
	reg("fd_write", []wasm.ValType{i32, i32, i32, i32}, errno, h.fdWrite)
	reg("fd_read", []wasm.ValType{i32, i32, i32, i32}, errno, h.fdRead)
	reg("fd_close", []wasm.ValType{i32}, errno, h.fdClose)
	reg("fd_seek", []wasm.ValType{i32, i64, i32, i32}, errno, h.fdSeek)
	reg("fd_fdstat_get", []wasm.ValType{i32, i32}, errno, h.fdFdstatGet)
	reg("fd_fdstat_set_flags", []wasm.ValType{i32, i32}, errno, h.fdFdstatSetFlags)
	reg("fd_prestat_get", []wasm.ValType{i32, i32}, errno, h.fdPrestatGet)
	reg("proc_exit", []wasm.ValType{i32}, nil, h.procExit)
	reg("random_get", []wasm.ValType{i32, i32}, errno, h.randomGet)

	Logger().Debug("registered host module",
		zap.String("module", Module),
		zap.Int("functions", n))
}

// ret wraps an errno as the single i32 result every preview1 call
// except proc_exit returns.
func ret(e Errno) ([]engine.Value, error) {
	return []engine.Value{engine.I32(int32(e))}, nil
}
