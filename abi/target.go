package abi

import (
	"runtime"
	"strings"

	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
)

// Target is a calling convention that assigns a Plan to a descriptor.
// Targets are stateless; Classify is safe for concurrent use and never
// caches by layout identity.
type Target interface {
	Name() string
	// Rules is the struct packing every layout passed to this target is
	// expected to follow.
	Rules() layout.Rules
	AddressSize() uint64
	Registers() Registers
	Classify(fd *FunctionDescriptor, opts Options) (*Plan, error)
}

// Registers names the registers of a target. Return registers are indexed
// separately from argument registers.
type Registers struct {
	GP       []string
	FP       []string
	RetGP    []string
	RetFP    []string
	Indirect string
}

// Name returns the register name of an argument location.
func (r Registers) Name(l Loc) string {
	return r.name(l, r.GP, r.FP)
}

// ReturnName returns the register name of a return location.
func (r Registers) ReturnName(l Loc) string {
	return r.name(l, r.RetGP, r.RetFP)
}

func (r Registers) name(l Loc, gp, fp []string) string {
	switch l.Kind {
	case LocRegister:
		bank := gp
		if l.Bank == BankFP {
			bank = fp
		}
		if l.Index < len(bank) {
			return bank[l.Index]
		}
	case LocIndirect:
		if r.Indirect != "" {
			return r.Indirect
		}
	}
	return l.String()
}

// Options modify classification.
type Options struct {
	// FirstVariadic is the index of the first variadic argument when
	// Variadic is set. It may equal the argument count.
	FirstVariadic int
	Variadic      bool
}

// Variadic returns options for a variadic call whose variadic arguments
// start at index first.
func Variadic(first int) Options {
	return Options{FirstVariadic: first, Variadic: true}
}

// Targets lists every supported target.
func Targets() []Target {
	return []Target{SysV, AAPCS64, Wasm32}
}

// Host returns the target of the running process.
func Host() (Target, error) {
	switch runtime.GOARCH {
	case "amd64":
		return SysV, nil
	case "arm64":
		return AAPCS64, nil
	case "wasm":
		return Wasm32, nil
	}
	return nil, errors.Unsupported(errors.PhaseClassify, "no calling convention for GOARCH "+runtime.GOARCH)
}

// Lookup resolves a target by name or architecture alias.
func Lookup(name string) (Target, error) {
	switch strings.ToLower(name) {
	case "sysv", "x86_64", "amd64", SysV.Name():
		return SysV, nil
	case "aapcs64", "arm64", "aarch64", AAPCS64.Name():
		return AAPCS64, nil
	case "wasm32", "wasm", Wasm32.Name():
		return Wasm32, nil
	case "host", "":
		return Host()
	}
	return nil, errors.NotFound(errors.PhaseClassify, "target", name)
}

// prepare runs the target-independent checks and returns the first
// variadic index, or -1.
func prepare(t Target, fd *FunctionDescriptor, opts Options) (int, error) {
	if fd == nil {
		return 0, errors.InvalidInput(errors.PhaseClassify, "nil function descriptor")
	}
	first := -1
	if opts.Variadic {
		if opts.FirstVariadic < 0 || opts.FirstVariadic > len(fd.args) {
			return 0, errors.New(errors.PhaseClassify, errors.KindOutOfBounds).
				Value(opts.FirstVariadic).
				Detail("first variadic index %d out of range [0, %d]", opts.FirstVariadic, len(fd.args)).
				Build()
		}
		first = opts.FirstVariadic
	}

	if fd.ret != nil {
		if err := checkAddressSize(t, fd.ret); err != nil {
			return 0, err
		}
	}
	for i, a := range fd.args {
		if err := checkAddressSize(t, a); err != nil {
			return 0, err
		}
		if first >= 0 && i >= first {
			if err := checkPromoted(a, i); err != nil {
				return 0, err
			}
		}
	}
	return first, nil
}

func checkAddressSize(t Target, l layout.Layout) error {
	var bad *layout.Scalar
	layout.Walk(l, func(s *layout.Scalar) bool {
		if s.ScalarKind() == layout.KindAddress && s.Size() != t.AddressSize() {
			bad = s
			return false
		}
		return true
	})
	if bad != nil {
		return errors.New(errors.PhaseClassify, errors.KindUnsupported).
			Layout(l.String()).
			Detail("address size %d does not match %s address size %d", bad.Size(), t.Name(), t.AddressSize()).
			Build()
	}
	return nil
}

// checkPromoted rejects variadic scalars that C would promote before the
// call; the caller must pass the promoted type instead.
func checkPromoted(l layout.Layout, index int) error {
	s, ok := l.(*layout.Scalar)
	if !ok {
		return nil
	}
	switch s.ScalarKind() {
	case layout.KindBool, layout.KindInt8, layout.KindInt16, layout.KindChar, layout.KindFloat32:
		return errors.New(errors.PhaseClassify, errors.KindUnsupported).
			Value(index).
			Layout(s.String()).
			Detail("variadic argument %d of promoted kind %s; pass the promoted type", index, s.ScalarKind()).
			Build()
	}
	return nil
}

func newPlan(t Target, fd *FunctionDescriptor, first int) *Plan {
	return &Plan{
		Target:        t,
		Descriptor:    fd,
		Args:          make([]ArgPlan, len(fd.args)),
		FirstVariadic: first,
		VarargSlot:    -1,
		StackAlign:    16,
	}
}

func scalarClass(s *layout.Scalar) Class {
	if s.ScalarKind().IsFloat() {
		return ClassFloat
	}
	return ClassInteger
}

func leafClass(l layout.Leaf) Class {
	if l.Kind.IsFloat() {
		return ClassFloat
	}
	return ClassInteger
}

func scalarMode(s *layout.Scalar) Mode {
	if s.ScalarKind() == layout.KindAddress {
		return Address
	}
	return Direct
}

func reg(bank Bank, index int) Loc {
	return Loc{Kind: LocRegister, Bank: bank, Index: index}
}

// stackSlot reserves size bytes aligned to align (at least 8) in the
// outgoing area and returns the offset.
func stackSlot(stack *uint64, size, align uint64) uint64 {
	off := layout.AlignTo(*stack, max(align, 8))
	*stack = off + layout.AlignTo(size, 8)
	return off
}

// chunks splits size bytes into 8-byte integer register parts.
func chunks(size uint64, loc func(i int) Loc) []Part {
	n := int((size + 7) / 8)
	parts := make([]Part, n)
	for i := range n {
		off := uint64(i) * 8
		parts[i] = Part{Offset: off, Size: min(8, size-off), Class: ClassInteger, Loc: loc(i)}
	}
	return parts
}
