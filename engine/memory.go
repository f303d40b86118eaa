package engine

import (
	"encoding/binary"
	"fmt"

	wasmengine "github.com/wippyai/wasm-engine"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/wasm"
)

// Memory is a linear memory: a byte buffer sized and grown in 64KB
// pages. Not safe for concurrent use.
type Memory struct {
	data []byte
	typ  wasm.MemoryType
	max  uint32 // effective page limit: min(declared max, engine ceiling)
}

var (
	_ wasmengine.Memory      = (*Memory)(nil)
	_ wasmengine.MemorySizer = (*Memory)(nil)
)

// NewMemory creates a standalone memory, typically to satisfy an
// import. The engine's MemoryLimitPages caps growth alongside the
// declared maximum.
func (e *Engine) NewMemory(typ wasm.MemoryType) (*Memory, error) {
	max := e.limit
	if typ.Limits.Max != nil && *typ.Limits.Max < max {
		max = *typ.Limits.Max
	}
	if typ.Limits.Min > max {
		return nil, fmt.Errorf("memory minimum %d pages exceeds limit %d", typ.Limits.Min, max)
	}
	return &Memory{
		data: make([]byte, int(typ.Limits.Min)*int(wasm.PageSize)),
		typ:  typ,
		max:  max,
	}, nil
}

// Type returns the memory's declared type.
func (m *Memory) Type() wasm.MemoryType { return m.typ }

// Pages returns the current size in pages.
func (m *Memory) Pages() uint32 { return uint32(len(m.data) / int(wasm.PageSize)) }

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 { return uint32(len(m.data)) }

// Max returns the effective page limit growth is checked against.
func (m *Memory) Max() uint32 { return m.max }

// Grow extends the memory by n pages of zeroes and returns the
// previous size in pages. On failure the memory is unchanged.
func (m *Memory) Grow(n uint32) (uint32, error) {
	old := m.Pages()
	if uint64(old)+uint64(n) > uint64(m.max) {
		return 0, errors.GrowthDenied(old, n, m.max)
	}
	if n == 0 {
		return old, nil
	}
	grown := make([]byte, int(old+n)*int(wasm.PageSize))
	copy(grown, m.data)
	m.data = grown
	return old, nil
}

func (m *Memory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return errors.Trapf(errors.TrapMemoryOutOfBounds,
			"%d bytes at %#x exceed memory size %d", length, offset, len(m.data))
	}
	return nil
}

// Read returns a view of length bytes at offset. The view aliases the
// memory and is invalidated by Grow.
func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	return m.data[offset : offset+length : offset+length], nil
}

// Write copies data into the memory at offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	if err := m.check(offset, 1); err != nil {
		return 0, err
	}
	return m.data[offset], nil
}

func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	if err := m.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.data[offset:]), nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.data[offset:]), nil
}

func (m *Memory) WriteU8(offset uint32, v uint8) error {
	if err := m.check(offset, 1); err != nil {
		return err
	}
	m.data[offset] = v
	return nil
}

func (m *Memory) WriteU16(offset uint32, v uint16) error {
	if err := m.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.data[offset:], v)
	return nil
}

func (m *Memory) WriteU32(offset uint32, v uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[offset:], v)
	return nil
}

func (m *Memory) WriteU64(offset uint32, v uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[offset:], v)
	return nil
}
