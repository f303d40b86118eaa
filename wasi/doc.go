// Package wasi implements the wasi_snapshot_preview1 host module over
// the engine's linear memory.
//
// # Overview
//
// Guests compiled against preview1 (wasi-libc, TinyGo's wasip1 target,
// Rust's wasm32-wasip1) import their system interface from a module
// named "wasi_snapshot_preview1". This package provides that module for
// a sandboxed command-style guest: stdio streams, argument and
// environment delivery, wall and monotonic clocks, randomness, and
// process exit. There is no filesystem and no network; fd_prestat_get
// reports no preopened directories, which tells wasi-libc to stop
// scanning, and descriptors past the stdio trio answer ErrnoBadf.
//
// A Host reads and writes guest structures (iovec arrays, size
// pointers, string lists) directly through the instance's linear
// memory. The memory is not known until instantiation, so the host is
// wired in two steps: Register before, BindMemory after.
//
// # Usage
//
//	host := wasi.New(wasi.Config{
//		Stdout: os.Stdout,
//		Args:   []string{"app", "--verbose"},
//	})
//
//	reg := engine.NewRegistry()
//	host.Register(reg)
//
//	inst, err := eng.Instantiate(ctx, compiled, reg)
//	if err != nil {
//		return err
//	}
//	host.BindMemory(inst.Memory())
//
//	_, err = inst.Invoke(ctx, "_start")
//
// proc_exit surfaces as *errors.ExitError from Invoke; an exit code of
// zero is still an error value, so callers distinguish clean exits with
// errors.As before treating the invocation as failed.
package wasi
