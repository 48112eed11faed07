package layout

import (
	"strconv"

	"github.com/wippyai/foreign/errors"
)

// Sequence is a fixed-length repetition of an element layout.
type Sequence struct {
	elem  Layout
	name  string
	count uint64
	size  uint64
	align uint64
}

// SequenceOf creates a sequence of count elements. Zero-length sequences are
// rejected.
func SequenceOf(count uint64, elem Layout) (*Sequence, error) {
	if elem == nil {
		return nil, errors.InvalidLayout(errors.PhaseLayout, "<nil>", "nil sequence element")
	}
	if count == 0 {
		return nil, errors.InvalidLayout(errors.PhaseLayout, elem.String(), "zero-length sequence")
	}
	if p, ok := elem.(*Padding); ok && p.name != "" {
		return nil, errors.InvalidLayout(errors.PhaseLayout, p.String(), "padding cannot be a named element")
	}
	stride := AlignTo(elem.Size(), elem.Align())
	size, err := checkedMul(stride, count)
	if err != nil {
		return nil, err
	}
	return &Sequence{elem: elem, count: count, size: size, align: elem.Align()}, nil
}

// MustSequenceOf is like SequenceOf but panics on error.
func MustSequenceOf(count uint64, elem Layout) *Sequence {
	s, err := SequenceOf(count, elem)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Sequence) Kind() Kind     { return KindSequence }
func (s *Sequence) Size() uint64   { return s.size }
func (s *Sequence) Align() uint64  { return s.align }
func (s *Sequence) Name() string   { return s.name }
func (s *Sequence) Count() uint64  { return s.count }
func (s *Sequence) Elem() Layout   { return s.elem }
func (s *Sequence) Stride() uint64 { return AlignTo(s.elem.Size(), s.elem.Align()) }

func (s *Sequence) WithName(name string) Layout {
	c := *s
	c.name = name
	return &c
}

func (s *Sequence) withAlign(align uint64) Layout {
	c := *s
	c.align = align
	c.size = AlignTo(s.size, align)
	return &c
}

func (s *Sequence) String() string {
	return decorate("["+strconv.FormatUint(s.count, 10)+":"+s.elem.String()+"]", s.name)
}

// Padding is inert filler with no addressable value.
type Padding struct {
	name  string
	size  uint64
	align uint64
}

// PaddingOf creates a padding layout of size bytes.
func PaddingOf(size uint64) (*Padding, error) {
	if size == 0 {
		return nil, errors.InvalidLayout(errors.PhaseLayout, "x0", "zero-size padding")
	}
	if _, err := checkedSize(size); err != nil {
		return nil, err
	}
	return &Padding{size: size, align: 1}, nil
}

// MustPaddingOf is like PaddingOf but panics on error.
func MustPaddingOf(size uint64) *Padding {
	p, err := PaddingOf(size)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Padding) Kind() Kind    { return KindPadding }
func (p *Padding) Size() uint64  { return p.size }
func (p *Padding) Align() uint64 { return p.align }
func (p *Padding) Name() string  { return p.name }

// WithName names the padding. Named padding is rejected as a group member
// or sequence element.
func (p *Padding) WithName(name string) Layout {
	c := *p
	c.name = name
	return &c
}

func (p *Padding) withAlign(align uint64) Layout {
	c := *p
	c.align = align
	return &c
}

func (p *Padding) String() string {
	return decorate("x"+strconv.FormatUint(p.size, 10), p.name)
}
