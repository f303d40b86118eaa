package engine

import (
	wasmengine "github.com/wippyai/wasm-engine"
)

// Tracer observes low-level execution events. Unlike an Instrumenter it
// needs no bytecode rewriting and sees every instruction, at an
// accordingly higher cost. Both callbacks run on the calling goroutine.
type Tracer interface {
	// OnInstruction fires before each instruction executes. For
	// instrumented code the opcode is the wrapped instruction's, not
	// the probe's.
	OnInstruction(funcIdx uint32, pc int, opcode byte)

	// OnMemoryAccess fires after each successful linear memory read
	// or write, from guest code and from memory handles obtained via
	// Instance.Memory.
	OnMemoryAccess(access MemoryAccess)
}

// MemoryAccess describes one linear memory read or write.
type MemoryAccess struct {
	Offset uint32
	Length uint32
	Write  bool
}

// tracedMemory forwards to the underlying memory and reports every
// successful access. Instance.Memory wraps with it when the engine has
// a tracer, so host-side traffic is traced alongside guest code.
type tracedMemory struct {
	mem    *Memory
	tracer Tracer
}

var (
	_ wasmengine.Memory      = (*tracedMemory)(nil)
	_ wasmengine.MemorySizer = (*tracedMemory)(nil)
)

func (t *tracedMemory) Read(offset, length uint32) ([]byte, error) {
	b, err := t.mem.Read(offset, length)
	if err == nil {
		t.tracer.OnMemoryAccess(MemoryAccess{Offset: offset, Length: length})
	}
	return b, err
}

func (t *tracedMemory) Write(offset uint32, data []byte) error {
	if err := t.mem.Write(offset, data); err != nil {
		return err
	}
	t.tracer.OnMemoryAccess(MemoryAccess{Offset: offset, Length: uint32(len(data)), Write: true})
	return nil
}

func (t *tracedMemory) ReadU8(offset uint32) (uint8, error) {
	v, err := t.mem.ReadU8(offset)
	if err == nil {
		t.tracer.OnMemoryAccess(MemoryAccess{Offset: offset, Length: 1})
	}
	return v, err
}

func (t *tracedMemory) ReadU16(offset uint32) (uint16, error) {
	v, err := t.mem.ReadU16(offset)
	if err == nil {
		t.tracer.OnMemoryAccess(MemoryAccess{Offset: offset, Length: 2})
	}
	return v, err
}

func (t *tracedMemory) ReadU32(offset uint32) (uint32, error) {
	v, err := t.mem.ReadU32(offset)
	if err == nil {
		t.tracer.OnMemoryAccess(MemoryAccess{Offset: offset, Length: 4})
	}
	return v, err
}

func (t *tracedMemory) ReadU64(offset uint32) (uint64, error) {
	v, err := t.mem.ReadU64(offset)
	if err == nil {
		t.tracer.OnMemoryAccess(MemoryAccess{Offset: offset, Length: 8})
	}
	return v, err
}

func (t *tracedMemory) WriteU8(offset uint32, v uint8) error {
	if err := t.mem.WriteU8(offset, v); err != nil {
		return err
	}
	t.tracer.OnMemoryAccess(MemoryAccess{Offset: offset, Length: 1, Write: true})
	return nil
}

func (t *tracedMemory) WriteU16(offset uint32, v uint16) error {
	if err := t.mem.WriteU16(offset, v); err != nil {
		return err
	}
	t.tracer.OnMemoryAccess(MemoryAccess{Offset: offset, Length: 2, Write: true})
	return nil
}

func (t *tracedMemory) WriteU32(offset uint32, v uint32) error {
	if err := t.mem.WriteU32(offset, v); err != nil {
		return err
	}
	t.tracer.OnMemoryAccess(MemoryAccess{Offset: offset, Length: 4, Write: true})
	return nil
}

func (t *tracedMemory) WriteU64(offset uint32, v uint64) error {
	if err := t.mem.WriteU64(offset, v); err != nil {
		return err
	}
	t.tracer.OnMemoryAccess(MemoryAccess{Offset: offset, Length: 8, Write: true})
	return nil
}

// Size reports the current memory size in bytes.
func (t *tracedMemory) Size() uint32 { return t.mem.Size() }

// Pages reports the current memory size in pages.
func (t *tracedMemory) Pages() uint32 { return t.mem.Pages() }
