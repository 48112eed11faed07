package layout

import (
	"math/bits"

	"fortio.org/safecast"

	"github.com/wippyai/foreign/errors"
)

// Kind is the variant tag of a Layout.
type Kind uint8

const (
	KindScalar Kind = iota + 1
	KindSequence
	KindStruct
	KindUnion
	KindPadding
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	case KindPadding:
		return "padding"
	default:
		return "unknown"
	}
}

// Layout is an immutable description of a block of memory.
type Layout interface {
	Kind() Kind
	Size() uint64
	Align() uint64
	// Name returns the member name, or "" when unnamed.
	Name() string
	// WithName returns a copy of the layout carrying name.
	WithName(name string) Layout
	String() string

	withAlign(align uint64) Layout
}

// AlignTo rounds offset up to the next multiple of align.
func AlignTo(offset, align uint64) uint64 {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

func isPow2(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// checkedAdd returns a+b, failing when the sum is not representable as a
// positive int64 (the largest size any segment can have).
func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errors.Overflow(errors.PhaseLayout, nil, a, "uint64")
	}
	return checkedSize(sum)
}

func checkedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, errors.Overflow(errors.PhaseLayout, nil, a, "uint64")
	}
	return checkedSize(lo)
}

func checkedSize(size uint64) (uint64, error) {
	if _, err := safecast.Conv[int64](size); err != nil {
		return 0, errors.New(errors.PhaseLayout, errors.KindOverflow).
			Value(size).
			Detail("layout size %d exceeds the representable size", size).
			Cause(err).
			Build()
	}
	return size, nil
}

// WithAlign returns a copy of l with an explicit alignment. The alignment
// must be a power of two; the size of a group is re-rounded to it.
func WithAlign(l Layout, align uint64) (Layout, error) {
	if l == nil {
		return nil, errors.InvalidLayout(errors.PhaseLayout, "<nil>", "nil layout")
	}
	if !isPow2(align) {
		return nil, errors.InvalidLayout(errors.PhaseLayout, l.String(), "alignment must be a power of two")
	}
	out := l.withAlign(align)
	if _, err := checkedSize(out.Size()); err != nil {
		return nil, err
	}
	return out, nil
}

// MustWithAlign is like WithAlign but panics on error.
func MustWithAlign(l Layout, align uint64) Layout {
	out, err := WithAlign(l, align)
	if err != nil {
		panic(err)
	}
	return out
}

// Equal reports whether a and b describe the same layout, names included.
func Equal(a, b Layout) bool {
	return equal(a, b, true)
}

// SameShape reports whether a and b describe the same layout, ignoring names.
func SameShape(a, b Layout) bool {
	return equal(a, b, false)
}

func equal(a, b Layout, names bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() || a.Size() != b.Size() || a.Align() != b.Align() {
		return false
	}
	if names && a.Name() != b.Name() {
		return false
	}
	switch x := a.(type) {
	case *Scalar:
		return x.kind == b.(*Scalar).kind
	case *Sequence:
		y := b.(*Sequence)
		return x.count == y.count && equal(x.elem, y.elem, names)
	case *Group:
		y := b.(*Group)
		if len(x.members) != len(y.members) {
			return false
		}
		for i := range x.members {
			if x.members[i].Offset != y.members[i].Offset {
				return false
			}
			if !equal(x.members[i].Layout, y.members[i].Layout, names) {
				return false
			}
		}
		return true
	case *Padding:
		return true
	}
	return false
}

// IsPaddingOnly reports whether l carries no addressable value at all:
// bare padding, sequences of padding, or groups made only of padding.
func IsPaddingOnly(l Layout) bool {
	switch x := l.(type) {
	case *Padding:
		return true
	case *Sequence:
		return IsPaddingOnly(x.elem)
	case *Group:
		for _, m := range x.members {
			if !IsPaddingOnly(m.Layout) {
				return false
			}
		}
		return true
	}
	return false
}
