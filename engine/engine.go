package engine

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/wasm"
)

// Config holds configuration for engine creation
type Config struct {
	// Logger receives instantiation milestones at debug level.
	// Defaults to the package logger, a no-op unless SetLogger was
	// called.
	Logger *zap.Logger

	// Instrumenter rewrites function bytecode at instantiation time
	// and receives execution events. Nil disables instrumentation:
	// instances run the compiled bytecode unchanged, at zero cost.
	Instrumenter Instrumenter

	// Tracer receives instruction and memory access events during
	// execution. Nil disables tracing.
	Tracer Tracer

	// MemoryLimitPages caps each instance memory in pages (64KB each),
	// regardless of declared maximums. 0 means the architectural limit
	// (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

// Engine compiles modules and turns them into running instances.
// Safe for concurrent use; instances it produces are not.
type Engine struct {
	log    *zap.Logger
	instr  Instrumenter
	tracer Tracer
	types  *typeRegistry
	limit  uint32
}

// New creates an engine with the given configuration.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}

	limit := cfg.MemoryLimitPages
	if limit == 0 || limit > wasm.MemoryMaxPages {
		limit = wasm.MemoryMaxPages
	}

	return &Engine{
		log:    log,
		instr:  cfg.Instrumenter,
		tracer: cfg.Tracer,
		types:  newTypeRegistry(),
		limit:  limit,
	}
}

// typeRegistry interns function signatures to small ids so an indirect
// call type check is a single integer comparison. Ids are scoped to one
// engine: entities from different engines must not be mixed.
type typeRegistry struct {
	ids map[string]uint32
	mu  sync.Mutex
}

func newTypeRegistry() *typeRegistry {
	return &typeRegistry{ids: make(map[string]uint32)}
}

func (r *typeRegistry) intern(t wasm.FuncType) uint32 {
	key := t.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.ids[key]; ok {
		return id
	}
	id := uint32(len(r.ids))
	r.ids[key] = id
	return id
}
