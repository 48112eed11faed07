package linker

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
)

// Linker creates downcall handles for one calling convention.
// Thread-safe.
type Linker struct {
	target  abi.Target
	log     *zap.Logger
	options Options
}

// New creates a new Linker for target with the given options.
func New(target abi.Target, opts Options) *Linker {
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	return &Linker{target: target, options: opts, log: log}
}

// NewWithDefaults creates a new Linker with default options.
func NewWithDefaults(target abi.Target) *Linker {
	return New(target, DefaultOptions())
}

// Target returns the calling convention.
func (l *Linker) Target() abi.Target {
	return l.target
}

// Options returns the configuration.
func (l *Linker) Options() Options {
	return l.options
}

// Downcall classifies fd and binds it to sym. The plan is computed once;
// the returned handle holds no mutable state.
func (l *Linker) Downcall(sym Symbol, fd *FunctionDescriptor, opts ...DowncallOption) (*Handle, error) {
	if sym.Callee == nil {
		err := errors.NilPointer(errors.PhaseBind, []string{sym.Name}, "linker.Callee")
		err.Detail = fmt.Sprintf("symbol %q has no callee", sym.Name)
		return nil, err
	}
	if sym.Address == 0 {
		return nil, errors.InvalidInput(errors.PhaseBind, "symbol "+sym.Name+" has a null address")
	}

	cfg := downcallConfig{critical: l.options.Critical}
	for _, opt := range opts {
		opt(&cfg)
	}
	plan, err := l.target.Classify(fd, abi.Options{FirstVariadic: cfg.firstVariadic, Variadic: cfg.variadic})
	if err != nil {
		return nil, err
	}

	l.log.Debug("downcall bound",
		zap.String("symbol", sym.Name),
		zap.String("target", l.target.Name()),
		zap.Stringer("descriptor", fd),
		zap.Uint64("stack", plan.StackSize),
		zap.Bool("critical", cfg.critical),
		zap.Bool("allow_heap", cfg.allowHeap))

	return &Handle{sym: sym, plan: plan, critical: cfg.critical, allowHeap: cfg.allowHeap, log: l.log}, nil
}

// Lookup resolves name in lib and binds it to fd.
func (l *Linker) Lookup(lib Library, name string, fd *FunctionDescriptor, opts ...DowncallOption) (*Handle, error) {
	sym, err := lib.Lookup(name)
	if err != nil {
		return nil, err
	}
	return l.Downcall(sym, fd, opts...)
}

// BindAll binds every signature in sigs from lib. Missing symbols are
// reported together in one *errors.MissingSymbolsError; any other failure
// is returned as is.
func (l *Linker) BindAll(lib Library, sigs map[string]*FunctionDescriptor) (map[string]*Handle, error) {
	names := make([]string, 0, len(sigs))
	for name := range sigs {
		names = append(names, name)
	}
	sort.Strings(names)

	handles := make(map[string]*Handle, len(sigs))
	var missing []string
	for _, name := range names {
		sym, err := lib.Lookup(name)
		if err != nil {
			if errors.IsKind(err, errors.KindSymbolNotFound) {
				missing = append(missing, lib.Name()+"#"+name)
				continue
			}
			return nil, err
		}
		h, err := l.Downcall(sym, sigs[name])
		if err != nil {
			return nil, err
		}
		handles[name] = h
	}
	if len(missing) > 0 {
		return nil, errors.NewMissingSymbolsError(missing)
	}
	return handles, nil
}

// FunctionDescriptor is re-exported for call sites that only import linker.
type FunctionDescriptor = abi.FunctionDescriptor
