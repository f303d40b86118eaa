package wasm

import (
	"bytes"
	"sort"

	"github.com/wippyai/wasm-engine/wasm/internal/binary"
)

// NameSectionName is the name of the custom section carrying debug names.
const NameSectionName = "name"

// Name subsection IDs
const (
	nameSubModule   byte = 0
	nameSubFunction byte = 1
	nameSubLocal    byte = 2
	nameSubLabel    byte = 3
	nameSubType     byte = 4
	nameSubTable    byte = 5
	nameSubMemory   byte = 6
	nameSubGlobal   byte = 7
)

// NameMap maps an index to its debug name.
type NameMap map[uint32]string

// IndirectNameMap maps a function index to a NameMap over its inner
// index space (locals or labels).
type IndirectNameMap map[uint32]NameMap

// Names holds the debug names decoded from a module's name section.
// Absent entries are simply missing from the maps.
type Names struct {
	Functions NameMap
	Locals    IndirectNameMap
	Labels    IndirectNameMap
	Types     NameMap
	Tables    NameMap
	Memories  NameMap
	Globals   NameMap
	Module    string
}

// Function returns the debug name of the function at idx, or "".
func (n *Names) Function(idx uint32) string {
	if n == nil {
		return ""
	}
	return n.Functions[idx]
}

// Local returns the debug name of a local within a function, or "".
func (n *Names) Local(funcIdx, localIdx uint32) string {
	if n == nil {
		return ""
	}
	return n.Locals[funcIdx][localIdx]
}

// DecodeNames extracts debug names from the module's "name" custom
// section. A module without one yields empty (but usable) Names.
func DecodeNames(m *Module) (*Names, error) {
	for _, sec := range m.CustomSections {
		if sec.Name == NameSectionName {
			return ParseNameSection(sec.Data)
		}
	}
	return newNames(), nil
}

// ParseNameSection parses the payload of a "name" custom section.
// Unknown subsection IDs are skipped for forward compatibility.
func ParseNameSection(data []byte) (*Names, error) {
	names := newNames()
	r := binary.NewReader(bytes.NewReader(data))

	for r.Position() < len(data) {
		id, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("name section", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("name section", err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("name section", err)
		}

		sub := binary.NewReader(bytes.NewReader(payload))
		switch id {
		case nameSubModule:
			names.Module, err = sub.ReadName()
		case nameSubFunction:
			names.Functions, err = readNameMap(sub)
		case nameSubLocal:
			names.Locals, err = readIndirectNameMap(sub)
		case nameSubLabel:
			names.Labels, err = readIndirectNameMap(sub)
		case nameSubType:
			names.Types, err = readNameMap(sub)
		case nameSubTable:
			names.Tables, err = readNameMap(sub)
		case nameSubMemory:
			names.Memories, err = readNameMap(sub)
		case nameSubGlobal:
			names.Globals, err = readNameMap(sub)
		default:
			// Unknown subsection, skip
		}
		if err != nil {
			return nil, r.WrapError("name section", err)
		}
	}

	return names, nil
}

func newNames() *Names {
	return &Names{
		Functions: NameMap{},
		Locals:    IndirectNameMap{},
		Labels:    IndirectNameMap{},
		Types:     NameMap{},
		Tables:    NameMap{},
		Memories:  NameMap{},
		Globals:   NameMap{},
	}
}

func readNameMap(r *binary.Reader) (NameMap, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	nm := make(NameMap, count)
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		nm[idx] = name
	}
	return nm, nil
}

func readIndirectNameMap(r *binary.Reader) (IndirectNameMap, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	inm := make(IndirectNameMap, count)
	for i := uint32(0); i < count; i++ {
		funcIdx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		nm, err := readNameMap(r)
		if err != nil {
			return nil, err
		}
		inm[funcIdx] = nm
	}
	return inm, nil
}

// EncodeNames encodes debug names as a "name" custom section payload.
// Subsections appear in ID order and entries in index order, so the
// encoding is deterministic.
func EncodeNames(n *Names) []byte {
	w := binary.NewWriter()

	if n.Module != "" {
		sub := binary.NewWriter()
		sub.WriteName(n.Module)
		writeNameSubsection(w, nameSubModule, sub.Bytes())
	}
	writeNameMapSubsection(w, nameSubFunction, n.Functions)
	writeIndirectSubsection(w, nameSubLocal, n.Locals)
	writeIndirectSubsection(w, nameSubLabel, n.Labels)
	writeNameMapSubsection(w, nameSubType, n.Types)
	writeNameMapSubsection(w, nameSubTable, n.Tables)
	writeNameMapSubsection(w, nameSubMemory, n.Memories)
	writeNameMapSubsection(w, nameSubGlobal, n.Globals)

	return w.Bytes()
}

func writeNameSubsection(w *binary.Writer, id byte, payload []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(payload)))
	w.WriteBytes(payload)
}

func writeNameMapSubsection(w *binary.Writer, id byte, nm NameMap) {
	if len(nm) == 0 {
		return
	}
	sub := binary.NewWriter()
	writeNameMap(sub, nm)
	writeNameSubsection(w, id, sub.Bytes())
}

func writeIndirectSubsection(w *binary.Writer, id byte, inm IndirectNameMap) {
	if len(inm) == 0 {
		return
	}
	sub := binary.NewWriter()
	sub.WriteU32(uint32(len(inm)))
	for _, funcIdx := range sortedKeys(inm) {
		sub.WriteU32(funcIdx)
		writeNameMap(sub, inm[funcIdx])
	}
	writeNameSubsection(w, id, sub.Bytes())
}

func writeNameMap(w *binary.Writer, nm NameMap) {
	w.WriteU32(uint32(len(nm)))
	for _, idx := range sortedKeys(nm) {
		w.WriteU32(idx)
		w.WriteName(nm[idx])
	}
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
