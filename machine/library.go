// Package machine executes downcalls on an emulated register machine.
//
// A Library owns functions defined in Go that see exactly what a native
// callee would: argument registers, the outgoing stack area, and real
// native memory reached through addresses. Functions never see the
// caller's plan, so a library compiled for a target checks the linker's
// marshalling bit for bit.
package machine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/linker"
)

// Func is a function body running on the machine.
type Func func(f *Frame) error

// symbols get synthetic, non-null, 16-byte aligned addresses
const textBase uintptr = 0x7f00_0000_1000

// Library is a named set of machine functions for one target.
// Thread-safe.
type Library struct {
	name   string
	target abi.Target
	mu     sync.RWMutex
	funcs  map[string]*function
	next   uintptr
}

type function struct {
	lib  *Library
	name string
	addr uintptr
	fn   Func
}

// NewLibrary creates an empty library for a register target.
func NewLibrary(name string, target abi.Target) (*Library, error) {
	if target == nil {
		return nil, errors.InvalidInput(errors.PhaseBind, "nil target")
	}
	if len(target.Registers().GP) == 0 {
		return nil, errors.Unsupported(errors.PhaseBind, "target "+target.Name()+" has no register file")
	}
	return &Library{
		name:   name,
		target: target,
		funcs:  make(map[string]*function),
		next:   textBase,
	}, nil
}

// Name returns the library name.
func (l *Library) Name() string { return l.name }

// Target returns the calling convention the library's functions follow.
func (l *Library) Target() abi.Target { return l.target }

// Define adds a raw function. Redefining a name replaces the body and
// keeps its address.
func (l *Library) Define(name string, fn Func) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.funcs[name]; ok {
		f.fn = fn
		return
	}
	l.funcs[name] = &function{lib: l, name: name, addr: l.next, fn: fn}
	l.next += 16
}

// Lookup implements linker.Library.
func (l *Library) Lookup(name string) (linker.Symbol, error) {
	l.mu.RLock()
	f, ok := l.funcs[name]
	l.mu.RUnlock()
	if !ok {
		return linker.Symbol{}, errors.SymbolNotFound(l.name, name)
	}
	return linker.Symbol{Name: name, Address: f.addr, Callee: f}, nil
}

// Names lists the defined functions in sorted order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.funcs))
	for name := range l.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *function) body() Func {
	f.lib.mu.RLock()
	defer f.lib.mu.RUnlock()
	return f.fn
}

// Call implements linker.Callee: it loads the machine state from the
// marshalled call, runs the body, and reads the result back.
func (f *function) Call(ctx context.Context, c *linker.Call) (raw uint64, err error) {
	if c.Plan.Target.Name() != f.lib.target.Name() {
		return 0, errors.New(errors.PhaseInvoke, errors.KindUnsupported).
			Value(f.name).
			Detail("call planned for %s, library %s runs %s", c.Plan.Target.Name(), f.lib.name, f.lib.target.Name()).
			Build()
	}
	frame, err := load(f.lib.target, c)
	if err != nil {
		return 0, err
	}
	frame.ctx = ctx

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s#%s: fault: %v", f.lib.name, f.name, r)
		}
	}()
	if err := f.body()(frame); err != nil {
		return 0, err
	}
	return store(frame, c)
}
