package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/linker"
)

// Module is an instantiated wasm32 library. Calls into one module are
// serialised.
type Module struct {
	name    string
	mod     api.Module
	mem     guestMemory
	mu      sync.Mutex
	scratch scratch
	addrs   map[string]uintptr
}

func newModule(ctx context.Context, name string, mod api.Module, scratchSize uint32) (*Module, error) {
	s, err := reserve(ctx, mod, scratchSize)
	if err != nil {
		return nil, err
	}
	return &Module{
		name:    name,
		mod:     mod,
		mem:     guestMemory{mem: mod.Memory()},
		scratch: s,
		addrs:   make(map[string]uintptr),
	}, nil
}

// Name returns the library name.
func (m *Module) Name() string { return m.name }

// Lookup implements linker.Library over the module's function exports.
// Symbol addresses are stable per name and never zero.
func (m *Module) Lookup(name string) (linker.Symbol, error) {
	fn := m.mod.ExportedFunction(name)
	if fn == nil {
		return linker.Symbol{}, errors.SymbolNotFound(m.name, name)
	}
	m.mu.Lock()
	addr, ok := m.addrs[name]
	if !ok {
		addr = uintptr(len(m.addrs) + 1)
		m.addrs[name] = addr
	}
	m.mu.Unlock()
	return linker.Symbol{Name: name, Address: addr, Callee: &export{m: m, name: name, fn: fn}}, nil
}

// Memory reads length bytes of the module's linear memory at offset.
func (m *Module) Memory(offset, length uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mem.Read(offset, length)
}

// Close closes the instance.
func (m *Module) Close(ctx context.Context) error {
	return m.mod.Close(ctx)
}
