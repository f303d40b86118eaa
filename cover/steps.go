package cover

import (
	"sync"

	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/wasm"
)

// Steps counts interpreter steps per exported call by wrapping every
// instruction of every function. The per-call counts let callers
// compare the work two implementations of the same computation do.
type Steps struct {
	mu    sync.Mutex
	calls []uint64
}

// NewSteps creates a step counter.
func NewSteps() *Steps {
	return &Steps{}
}

// Instrument implements engine.Instrumenter.
func (s *Steps) Instrument(f *engine.CompiledFunction) []wasm.Instruction {
	out := make([]wasm.Instruction, len(f.Code))
	for pc, in := range f.Code {
		out[pc] = wasm.Instruction{
			Opcode: wasm.OpProbe,
			Imm:    wasm.ProbeImm{Inner: in, ID: uint32(pc)},
		}
	}
	return out
}

// Begin implements engine.Instrumenter.
func (s *Steps) Begin() engine.Listener {
	return &stepSession{owner: s}
}

// Calls returns the step count of each completed exported call, in
// completion order.
func (s *Steps) Calls() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.calls))
	copy(out, s.calls)
	return out
}

// Reset discards recorded counts.
func (s *Steps) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

type stepSession struct {
	owner *Steps
	depth int
	n     uint64
}

func (s *stepSession) EnterFunction(uint32) { s.depth++ }

func (s *stepSession) LeaveFunction(uint32) {
	s.depth--
	if s.depth == 0 {
		s.owner.mu.Lock()
		s.owner.calls = append(s.owner.calls, s.n)
		s.owner.mu.Unlock()
		s.n = 0
	}
}

func (s *stepSession) Probe(uint32, uint32) { s.n++ }
