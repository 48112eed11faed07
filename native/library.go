//go:build linux && (amd64 || arm64)

package native

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/linker"
)

// LibC is the C library of the platform.
const LibC = "libc.so.6"

// trampoline words: integer registers followed by stack slots
const maxWords = 15

// Library is an open shared library. Thread-safe.
type Library struct {
	log    *zap.Logger
	name   string
	target abi.Target
	handle uintptr

	mu     sync.RWMutex
	closed bool
	// typed trampolines by shape
	funcs sync.Map
}

// Open loads the library at path, resolving all its symbols now.
func Open(path string) (*Library, error) {
	target, err := abi.Host()
	if err != nil {
		return nil, err
	}
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, errors.Load("dlopen "+path, err)
	}
	log := linker.Logger().Named("native")
	log.Debug("library opened", zap.String("path", path), zap.String("target", target.Name()))
	return &Library{
		log:    log,
		name:   path,
		target: target,
		handle: handle,
	}, nil
}

// Name returns the path the library was opened with.
func (l *Library) Name() string { return l.name }

// Target returns the host calling convention.
func (l *Library) Target() abi.Target { return l.target }

// Lookup implements linker.Library.
func (l *Library) Lookup(name string) (linker.Symbol, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return linker.Symbol{}, errors.IllegalState(errors.PhaseBind, "library "+l.name+" is closed")
	}
	addr, err := purego.Dlsym(l.handle, name)
	if err != nil || addr == 0 {
		return linker.Symbol{}, errors.SymbolNotFound(l.name, name)
	}
	return linker.Symbol{Name: name, Address: addr, Callee: &function{lib: l, name: name, addr: addr}}, nil
}

// Close unloads the library. Handles bound to its symbols must not be
// invoked afterwards.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := purego.Dlclose(l.handle); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindNative, err, "dlclose "+l.name)
	}
	l.log.Debug("library closed", zap.String("path", l.name))
	return nil
}

type function struct {
	lib  *Library
	name string
	addr uintptr
}

// words is a call in trampoline form.
type words struct {
	gp     []uintptr
	fp     []uint64
	stack  []uintptr
	gpUsed int
	fpUsed int
}

// shape keys the typed trampolines built for calls that carry
// floating-point values.
type shape struct {
	addr     uintptr
	gp, fp   int
	stack    int
	floatRet bool
	hasRet   bool
}

// Call implements linker.Callee.
func (f *function) Call(_ context.Context, c *linker.Call) (raw uint64, err error) {
	target := f.lib.target
	if c.Plan.Target.Name() != target.Name() {
		return 0, errors.New(errors.PhaseInvoke, errors.KindUnsupported).
			Value(f.name).
			Detail("call planned for %s, host runs %s", c.Plan.Target.Name(), target.Name()).
			Build()
	}
	w, err := load(target, c)
	if err != nil {
		return 0, err
	}
	if c.Plan.IsVariadic() && w.fpUsed > 0 && target.Name() == abi.SysV.Name() {
		return 0, errors.Unsupported(errors.PhaseInvoke, "floating-point variadic arguments on "+target.Name())
	}
	if len(w.stack) > 0 && len(w.gp)+len(w.stack) > maxWords {
		return 0, errors.Unsupported(errors.PhaseInvoke, fmt.Sprintf("%d stack words exceed the call trampoline", len(w.stack)))
	}

	ret := c.Plan.Return
	floatRet := false
	for _, part := range ret.Parts {
		floatRet = floatRet || part.Loc.Bank == abi.BankFP
	}

	f.lib.mu.RLock()
	defer f.lib.mu.RUnlock()
	if f.lib.closed {
		return 0, errors.IllegalState(errors.PhaseInvoke, "library "+f.lib.name+" is closed")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s#%s: %v", f.lib.name, f.name, r)
		}
	}()

	var r1, r2 uint64
	if w.fpUsed == 0 && !floatRet {
		a, b, _ := purego.SyscallN(f.addr, w.integers()...)
		r1, r2 = uint64(a), uint64(b)
	} else {
		if len(ret.Parts) > 1 {
			return 0, errors.Unsupported(errors.PhaseInvoke, "multi-register result alongside floating-point values")
		}
		r1, err = f.typed(w, ret.Mode != abi.RetVoid && ret.Mode != abi.RetHidden, floatRet)
		if err != nil {
			return 0, err
		}
	}
	return store(c, r1, r2)
}

// typed calls through a trampoline whose Go signature puts every value in
// the bank the plan chose for it.
func (f *function) typed(w *words, hasRet, floatRet bool) (uint64, error) {
	key := shape{addr: f.addr, gp: w.gpUsed, fp: w.fpUsed, stack: len(w.stack), floatRet: floatRet, hasRet: hasRet}
	if key.stack > 0 {
		key.gp = len(w.gp)
	}
	var fn reflect.Value
	if v, ok := f.lib.funcs.Load(key); ok {
		fn = v.(reflect.Value)
	} else {
		v, _ := f.lib.funcs.LoadOrStore(key, trampoline(key))
		fn = v.(reflect.Value)
	}

	in := make([]reflect.Value, 0, key.gp+key.fp+key.stack)
	for _, v := range w.gp[:key.gp] {
		in = append(in, reflect.ValueOf(v))
	}
	for _, v := range w.fp[:key.fp] {
		in = append(in, reflect.ValueOf(math.Float64frombits(v)))
	}
	for _, v := range w.stack {
		in = append(in, reflect.ValueOf(v))
	}
	out := fn.Call(in)
	if len(out) == 0 {
		return 0, nil
	}
	if floatRet {
		return math.Float64bits(out[0].Float()), nil
	}
	return out[0].Uint(), nil
}

func trampoline(key shape) reflect.Value {
	uptr := reflect.TypeFor[uintptr]()
	f64 := reflect.TypeFor[float64]()
	ins := make([]reflect.Type, 0, key.gp+key.fp+key.stack)
	for range key.gp {
		ins = append(ins, uptr)
	}
	for range key.fp {
		ins = append(ins, f64)
	}
	for range key.stack {
		ins = append(ins, uptr)
	}
	var outs []reflect.Type
	switch {
	case key.floatRet:
		outs = []reflect.Type{f64}
	case key.hasRet:
		outs = []reflect.Type{uptr}
	}
	fn := reflect.New(reflect.FuncOf(ins, outs, false))
	purego.RegisterFunc(fn.Interface(), key.addr)
	return fn.Elem()
}

// integers returns the integer words: the used registers, or all of them
// followed by the stack slots when anything spilled.
func (w *words) integers() []uintptr {
	if len(w.stack) == 0 {
		return w.gp[:w.gpUsed]
	}
	return append(w.gp[:len(w.gp):len(w.gp)], w.stack...)
}

// load spreads the marshalled call over the registers and stack words.
func load(target abi.Target, c *linker.Call) (*words, error) {
	regs := target.Registers()
	w := &words{gp: make([]uintptr, len(regs.GP)), fp: make([]uint64, len(regs.FP))}
	for i, ap := range c.Plan.Args {
		for _, part := range ap.Parts {
			if part.Loc.Kind != abi.LocRegister {
				continue
			}
			v := c.Load(i, part)
			if part.Loc.Bank == abi.BankFP {
				w.fp[part.Loc.Index] = v
				w.fpUsed = max(w.fpUsed, part.Loc.Index+1)
			} else {
				w.gp[part.Loc.Index] = uintptr(v)
				w.gpUsed = max(w.gpUsed, part.Loc.Index+1)
			}
		}
	}

	ret := c.Plan.Return
	if ret.Mode == abi.RetHidden {
		if c.Return == nil {
			return nil, errors.IllegalState(errors.PhaseInvoke, "hidden result without a result segment")
		}
		if ret.Pointer.Kind == abi.LocIndirect {
			return nil, errors.Unsupported(errors.PhaseInvoke, "results through "+regs.Indirect)
		}
		w.gp[ret.Pointer.Index] = c.Return.Address()
		w.gpUsed = max(w.gpUsed, ret.Pointer.Index+1)
	}

	stack := c.StackImage()
	for off := 0; off+8 <= len(stack); off += 8 {
		w.stack = append(w.stack, uintptr(binary.LittleEndian.Uint64(stack[off:])))
	}
	return w, nil
}

// store writes register results into the result segment and returns a
// direct result's bits.
func store(c *linker.Call, r1, r2 uint64) (uint64, error) {
	ret := c.Plan.Return
	switch ret.Mode {
	case abi.RetDirect:
		return r1, nil
	case abi.RetRegisters:
		var buf [8]byte
		for _, part := range ret.Parts {
			v := r1
			if part.Loc.Index > 0 {
				v = r2
			}
			binary.LittleEndian.PutUint64(buf[:], v)
			if err := c.Return.Write(part.Offset, buf[:part.Size]); err != nil {
				return 0, err
			}
		}
	}
	return 0, nil
}
