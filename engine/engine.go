package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/foreign/errors"
)

// DefaultScratchSize is the guest memory reserved per module for staging
// call data.
const DefaultScratchSize = 64 << 10

// Engine compiles and instantiates wasm32 libraries on one wazero runtime.
// Safe for concurrent use.
type Engine struct {
	runtime wazero.Runtime
	cfg     Config
	group   singleflight.Group
	mu      sync.Mutex
	cache   map[string]wazero.CompiledModule
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// ScratchSize is the guest memory, in bytes, each module reserves for
	// arguments staged by reference. 0 means DefaultScratchSize.
	ScratchSize uint32
}

// New creates an engine with default configuration.
func New(ctx context.Context) (*Engine, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	var c Config
	if cfg != nil {
		c = *cfg
		if c.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
		}
	}
	if c.ScratchSize == 0 {
		c.ScratchSize = DefaultScratchSize
	}
	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:     c,
		cache:   make(map[string]wazero.CompiledModule),
	}, nil
}

// compile compiles wasm once per distinct content, also across concurrent
// loads.
func (e *Engine) compile(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	sum := sha256.Sum256(wasm)
	key := hex.EncodeToString(sum[:])

	e.mu.Lock()
	compiled, ok := e.cache[key]
	e.mu.Unlock()
	if ok {
		return compiled, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		compiled, err := e.runtime.CompileModule(ctx, wasm)
		if err != nil {
			return nil, errors.Load("compile failed", err)
		}
		e.mu.Lock()
		e.cache[key] = compiled
		e.mu.Unlock()
		Logger().Debug("module compiled", zap.String("sha256", key[:12]), zap.Int("bytes", len(wasm)))
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(wazero.CompiledModule), nil
}

// Load compiles wasm and instantiates it as the library name. Names must be
// unique per engine.
func (e *Engine) Load(ctx context.Context, name string, wasm []byte) (*Module, error) {
	compiled, err := e.compile(ctx, wasm)
	if err != nil {
		return nil, err
	}
	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, errors.Load("instantiate "+name, err)
	}
	m, err := newModule(ctx, name, mod, e.cfg.ScratchSize)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	Logger().Debug("module loaded",
		zap.String("name", name),
		zap.Int("exports", len(compiled.ExportedFunctions())),
		zap.Uint32("scratch", m.scratch.size))
	return m, nil
}

// Close releases the runtime and every module loaded from it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
