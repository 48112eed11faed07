package abi

import (
	"strings"

	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
)

// FunctionDescriptor is an immutable native function signature: an optional
// return layout and an ordered list of argument layouts.
type FunctionDescriptor struct {
	ret  layout.Layout
	args []layout.Layout
}

// Of describes a function returning ret.
func Of(ret layout.Layout, args ...layout.Layout) (*FunctionDescriptor, error) {
	if ret == nil {
		return nil, errors.InvalidInput(errors.PhaseClassify, "nil return layout; use OfVoid")
	}
	if err := validate(ret, -1); err != nil {
		return nil, err
	}
	return newDescriptor(ret, args)
}

// OfVoid describes a function with no return value.
func OfVoid(args ...layout.Layout) (*FunctionDescriptor, error) {
	return newDescriptor(nil, args)
}

// MustOf is like Of but panics on error.
func MustOf(ret layout.Layout, args ...layout.Layout) *FunctionDescriptor {
	fd, err := Of(ret, args...)
	if err != nil {
		panic(err)
	}
	return fd
}

// MustOfVoid is like OfVoid but panics on error.
func MustOfVoid(args ...layout.Layout) *FunctionDescriptor {
	fd, err := OfVoid(args...)
	if err != nil {
		panic(err)
	}
	return fd
}

func newDescriptor(ret layout.Layout, args []layout.Layout) (*FunctionDescriptor, error) {
	for i, a := range args {
		if err := validate(a, i); err != nil {
			return nil, err
		}
	}
	out := make([]layout.Layout, len(args))
	copy(out, args)
	return &FunctionDescriptor{ret: ret, args: out}, nil
}

func validate(l layout.Layout, index int) error {
	if l == nil {
		return errors.New(errors.PhaseClassify, errors.KindInvalidInput).
			Value(index).
			Detail("nil layout for argument %d", index).
			Build()
	}
	if layout.IsPaddingOnly(l) {
		return errors.New(errors.PhaseClassify, errors.KindUnsupported).
			Layout(l.String()).
			Detail("unsupported padding layout").
			Build()
	}
	return nil
}

// Return returns the return layout, or nil for void functions.
func (fd *FunctionDescriptor) Return() layout.Layout { return fd.ret }

// HasReturn reports whether the function returns a value.
func (fd *FunctionDescriptor) HasReturn() bool { return fd.ret != nil }

// Args returns a copy of the argument layouts.
func (fd *FunctionDescriptor) Args() []layout.Layout {
	out := make([]layout.Layout, len(fd.args))
	copy(out, fd.args)
	return out
}

// NumArgs returns the number of arguments.
func (fd *FunctionDescriptor) NumArgs() int { return len(fd.args) }

// Arg returns the layout of argument i.
func (fd *FunctionDescriptor) Arg(i int) layout.Layout { return fd.args[i] }

// AppendArgs returns a descriptor with args added after the existing ones.
func (fd *FunctionDescriptor) AppendArgs(args ...layout.Layout) (*FunctionDescriptor, error) {
	all := make([]layout.Layout, 0, len(fd.args)+len(args))
	all = append(all, fd.args...)
	all = append(all, args...)
	return newDescriptor(fd.ret, all)
}

// ChangeReturn returns a descriptor with the same arguments returning ret.
func (fd *FunctionDescriptor) ChangeReturn(ret layout.Layout) (*FunctionDescriptor, error) {
	return Of(ret, fd.args...)
}

// DropReturn returns a void descriptor with the same arguments.
func (fd *FunctionDescriptor) DropReturn() *FunctionDescriptor {
	return &FunctionDescriptor{args: fd.args}
}

// Equal reports structural equality of return and argument layouts.
func (fd *FunctionDescriptor) Equal(o *FunctionDescriptor) bool {
	if fd == nil || o == nil {
		return fd == o
	}
	if len(fd.args) != len(o.args) || !layout.Equal(fd.ret, o.ret) {
		return false
	}
	for i := range fd.args {
		if !layout.Equal(fd.args[i], o.args[i]) {
			return false
		}
	}
	return true
}

// String renders the descriptor as "(args)ret", with "v" for void.
func (fd *FunctionDescriptor) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, a := range fd.args {
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	if fd.ret == nil {
		b.WriteByte('v')
	} else {
		b.WriteString(fd.ret.String())
	}
	return b.String()
}
