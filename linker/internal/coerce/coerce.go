// Package coerce converts Go values to and from the raw bits of scalar
// layouts.
package coerce

import (
	"encoding/binary"
	"fmt"
	"math"

	"fortio.org/safecast"

	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
)

// ToBits converts v to the little-endian bit pattern of a scalar of kind.
// Integers are range-checked against the target width; floats accept any
// Go float or integer; bool accepts only bool. Addresses are handled by the
// caller.
func ToBits(kind layout.ScalarKind, v any, path []string) (uint64, error) {
	switch kind {
	case layout.KindBool:
		b, ok := v.(bool)
		if !ok {
			return 0, mismatch(path, v, kind)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case layout.KindInt8:
		return narrow[int8](v, path, kind)
	case layout.KindChar:
		return narrow[uint16](v, path, kind)
	case layout.KindInt16:
		return narrow[int16](v, path, kind)
	case layout.KindInt32:
		return narrow[int32](v, path, kind)
	case layout.KindInt64:
		return narrow[int64](v, path, kind)
	case layout.KindFloat32:
		f, ok := toFloat(v)
		if !ok {
			return 0, mismatch(path, v, kind)
		}
		return uint64(math.Float32bits(float32(f))), nil
	case layout.KindFloat64:
		f, ok := toFloat(v)
		if !ok {
			return 0, mismatch(path, v, kind)
		}
		return math.Float64bits(f), nil
	}
	return 0, mismatch(path, v, kind)
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint16
}

func narrow[T integer](v any, path []string, kind layout.ScalarKind) (uint64, error) {
	var (
		out T
		err error
	)
	switch x := v.(type) {
	case int:
		out, err = safecast.Conv[T](x)
	case int8:
		out, err = safecast.Conv[T](x)
	case int16:
		out, err = safecast.Conv[T](x)
	case int32:
		out, err = safecast.Conv[T](x)
	case int64:
		out, err = safecast.Conv[T](x)
	case uint:
		out, err = safecast.Conv[T](x)
	case uint8:
		out, err = safecast.Conv[T](x)
	case uint16:
		out, err = safecast.Conv[T](x)
	case uint32:
		out, err = safecast.Conv[T](x)
	case uint64:
		out, err = safecast.Conv[T](x)
	default:
		return 0, mismatch(path, v, kind)
	}
	if err != nil {
		return 0, errors.Overflow(errors.PhaseInvoke, path, v, kind.String())
	}
	return uint64(out), nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func mismatch(path []string, v any, kind layout.ScalarKind) error {
	return errors.TypeMismatch(errors.PhaseInvoke, path, fmt.Sprintf("%T", v), kind.String())
}

// FromBits converts raw result bits to the Go type of kind.
func FromBits(kind layout.ScalarKind, bits uint64) any {
	switch kind {
	case layout.KindBool:
		return bits&0xff != 0
	case layout.KindInt8:
		return int8(bits)
	case layout.KindChar:
		return uint16(bits)
	case layout.KindInt16:
		return int16(bits)
	case layout.KindInt32:
		return int32(bits)
	case layout.KindInt64:
		return int64(bits)
	case layout.KindFloat32:
		return math.Float32frombits(uint32(bits))
	case layout.KindFloat64:
		return math.Float64frombits(bits)
	}
	return bits
}

// Image encodes the low size bytes of bits little-endian.
func Image(bits, size uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], bits)
	out := make([]byte, size)
	copy(out, buf[:])
	return out
}

// Load reads up to 8 bytes little-endian and zero-extends them.
func Load(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}
