package layout

import "strconv"

// ScalarKind identifies the value carried by a Scalar layout.
type ScalarKind uint8

const (
	KindBool ScalarKind = iota + 1
	KindInt8
	KindChar // unsigned 16-bit
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindAddress
)

// IsFloat reports whether the kind travels in floating-point registers.
func (k ScalarKind) IsFloat() bool {
	return k == KindFloat32 || k == KindFloat64
}

func (k ScalarKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt8:
		return "int8"
	case KindChar:
		return "char"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindAddress:
		return "address"
	default:
		return "scalar(" + strconv.Itoa(int(k)) + ")"
	}
}

// letter is the one-character carrier code used in layout strings.
func (k ScalarKind) letter() byte {
	switch k {
	case KindBool:
		return 'z'
	case KindInt8:
		return 'b'
	case KindChar:
		return 'c'
	case KindInt16:
		return 's'
	case KindInt32:
		return 'i'
	case KindInt64:
		return 'j'
	case KindFloat32:
		return 'f'
	case KindFloat64:
		return 'd'
	case KindAddress:
		return 'a'
	default:
		return '?'
	}
}

// Scalar is a primitive value layout.
type Scalar struct {
	name  string
	kind  ScalarKind
	size  uint64
	align uint64
}

// Predefined scalars with natural size and alignment.
var (
	Bool      = &Scalar{kind: KindBool, size: 1, align: 1}
	Int8      = &Scalar{kind: KindInt8, size: 1, align: 1}
	Char      = &Scalar{kind: KindChar, size: 2, align: 2}
	Int16     = &Scalar{kind: KindInt16, size: 2, align: 2}
	Int32     = &Scalar{kind: KindInt32, size: 4, align: 4}
	Int64     = &Scalar{kind: KindInt64, size: 8, align: 8}
	Float32   = &Scalar{kind: KindFloat32, size: 4, align: 4}
	Float64   = &Scalar{kind: KindFloat64, size: 8, align: 8}
	Address   = &Scalar{kind: KindAddress, size: 8, align: 8}
	Address32 = &Scalar{kind: KindAddress, size: 4, align: 4}
)

// ScalarOf returns the predefined 64-bit-target scalar for kind.
func ScalarOf(kind ScalarKind) (*Scalar, bool) {
	switch kind {
	case KindBool:
		return Bool, true
	case KindInt8:
		return Int8, true
	case KindChar:
		return Char, true
	case KindInt16:
		return Int16, true
	case KindInt32:
		return Int32, true
	case KindInt64:
		return Int64, true
	case KindFloat32:
		return Float32, true
	case KindFloat64:
		return Float64, true
	case KindAddress:
		return Address, true
	}
	return nil, false
}

func (s *Scalar) Kind() Kind             { return KindScalar }
func (s *Scalar) Size() uint64           { return s.size }
func (s *Scalar) Align() uint64          { return s.align }
func (s *Scalar) Name() string           { return s.name }
func (s *Scalar) ScalarKind() ScalarKind { return s.kind }

func (s *Scalar) WithName(name string) Layout {
	c := *s
	c.name = name
	return &c
}

func (s *Scalar) withAlign(align uint64) Layout {
	c := *s
	c.align = align
	return &c
}

func (s *Scalar) String() string {
	out := string(s.kind.letter()) + strconv.FormatUint(s.size, 10)
	if s.align != s.size {
		out = strconv.FormatUint(s.align, 10) + "%" + out
	}
	return decorate(out, s.name)
}

func decorate(s, name string) string {
	if name == "" {
		return s
	}
	return s + "(" + name + ")"
}
