package cover

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/wasm"
)

// Mode selects coverage granularity.
type Mode uint8

const (
	// ModeOffsets records which instruction offsets executed.
	ModeOffsets Mode = iota

	// ModeEdges records which basic-block transitions executed, per the
	// function's control-flow graph.
	ModeEdges
)

func (m Mode) String() string {
	if m == ModeEdges {
		return "edges"
	}
	return "offsets"
}

// Config configures coverage collection.
type Config struct {
	// Mode selects offset or edge granularity.
	Mode Mode

	// OnlyList restricts instrumentation to matching functions. Nil
	// instruments every declared function.
	OnlyList Matcher

	// SkipList excludes matching functions on top of the host-ABI set.
	SkipList Matcher
}

// Coverage instruments functions with probes and aggregates the events
// they fire. One Coverage may serve many instances of a module;
// recorded sets accumulate across calls until Reset.
type Coverage struct {
	mode Mode
	only Matcher
	skip Matcher

	mu  sync.Mutex
	fns map[uint32]*record
}

type record struct {
	name  string
	sites int
	hits  map[uint32]uint64
	edges map[Edge]uint64
}

// New creates a Coverage with the given configuration.
func New(cfg Config) *Coverage {
	return &Coverage{
		mode: cfg.Mode,
		only: cfg.OnlyList,
		skip: cfg.SkipList,
		fns:  make(map[uint32]*record),
	}
}

// site is one probe location chosen by the selection pass.
type site struct {
	pc int
	id uint32
}

// covered is the filter pass. Host-ABI glue is always out; the skip
// list removes more; a non-nil only list must then match.
func covered(name string, only, skip Matcher) bool {
	if hostABI.MatchFunction(name) {
		return false
	}
	if skip != nil && skip.MatchFunction(name) {
		return false
	}
	if only != nil && !only.MatchFunction(name) {
		return false
	}
	return true
}

// selectSites is the granularity pass: every instruction offset in
// offsets mode, every basic-block leader in edges mode. Probe ids are
// instruction offsets or block ids respectively.
func selectSites(f *engine.CompiledFunction, mode Mode) []site {
	if mode == ModeEdges {
		blocks := f.CFG().Blocks
		sites := make([]site, len(blocks))
		for i, b := range blocks {
			sites[i] = site{pc: b.Start, id: b.ID}
		}
		return sites
	}
	sites := make([]site, len(f.Code))
	for pc := range f.Code {
		sites[pc] = site{pc: pc, id: uint32(pc)}
	}
	return sites
}

// wrapProbes is the wrapping pass: a same-length copy of code in which
// every selected slot is replaced by a probe carrying the original
// instruction.
func wrapProbes(code []wasm.Instruction, sites []site) []wasm.Instruction {
	out := make([]wasm.Instruction, len(code))
	copy(out, code)
	for _, s := range sites {
		out[s.pc] = wasm.Instruction{
			Opcode: wasm.OpProbe,
			Imm:    wasm.ProbeImm{Inner: code[s.pc], ID: s.id},
		}
	}
	return out
}

// Instrument implements engine.Instrumenter as the filter, selection,
// and wrapping passes in order.
func (c *Coverage) Instrument(f *engine.CompiledFunction) []wasm.Instruction {
	if !covered(f.Name(), c.only, c.skip) {
		return nil
	}
	sites := selectSites(f, c.mode)

	c.mu.Lock()
	if _, ok := c.fns[f.Index]; !ok {
		c.fns[f.Index] = &record{
			name:  f.Name(),
			sites: len(sites),
			hits:  make(map[uint32]uint64),
			edges: make(map[Edge]uint64),
		}
		Logger().Debug("instrumented function",
			zap.String("function", f.Name()),
			zap.String("mode", c.mode.String()),
			zap.Int("sites", len(sites)))
	}
	c.mu.Unlock()

	return wrapProbes(f.Code, sites)
}

// Begin implements engine.Instrumenter. Each exported call gets a
// session that buffers events locally and folds them into the shared
// sets when the call tree unwinds.
func (c *Coverage) Begin() engine.Listener {
	return &session{
		cov:  c,
		hits: make(map[uint32]map[uint32]uint64),
	}
}

// Reset clears recorded sets. Instrumented functions and their site
// totals stay registered.
func (c *Coverage) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.fns {
		rec.hits = make(map[uint32]uint64)
		rec.edges = make(map[Edge]uint64)
	}
}

// session is the listener for one exported call tree. Events arrive on
// the calling goroutine; the maps here are unshared until flush.
type session struct {
	cov    *Coverage
	depth  int
	frames []frame
	hits   map[uint32]map[uint32]uint64
	edges  map[uint32]map[Edge]uint64
}

// frame tracks the last observed block per live wasm frame so edge
// mode attributes transitions to the right invocation under recursion.
type frame struct {
	fn   uint32
	last uint32
	open bool
}

func (s *session) EnterFunction(funcIdx uint32) {
	s.depth++
	if s.cov.mode == ModeEdges {
		s.frames = append(s.frames, frame{fn: funcIdx})
	}
}

func (s *session) LeaveFunction(funcIdx uint32) {
	if s.cov.mode == ModeEdges && len(s.frames) > 0 {
		s.frames = s.frames[:len(s.frames)-1]
	}
	s.depth--
	if s.depth == 0 {
		s.flush()
	}
}

func (s *session) Probe(funcIdx, id uint32) {
	hits := s.hits[funcIdx]
	if hits == nil {
		hits = make(map[uint32]uint64)
		s.hits[funcIdx] = hits
	}
	hits[id]++

	if s.cov.mode != ModeEdges || len(s.frames) == 0 {
		return
	}
	top := &s.frames[len(s.frames)-1]
	if top.open {
		if s.edges == nil {
			s.edges = make(map[uint32]map[Edge]uint64)
		}
		ed := s.edges[funcIdx]
		if ed == nil {
			ed = make(map[Edge]uint64)
			s.edges[funcIdx] = ed
		}
		ed[Edge{From: top.last, To: id}]++
	}
	top.last = id
	top.open = true
}

func (s *session) flush() {
	c := s.cov
	c.mu.Lock()
	defer c.mu.Unlock()

	for fn, hits := range s.hits {
		rec := c.fns[fn]
		if rec == nil {
			continue
		}
		for id, n := range hits {
			rec.hits[id] += n
		}
	}
	for fn, edges := range s.edges {
		rec := c.fns[fn]
		if rec == nil {
			continue
		}
		for e, n := range edges {
			rec.edges[e] += n
		}
	}
	s.hits = make(map[uint32]map[uint32]uint64)
	s.edges = nil
}
