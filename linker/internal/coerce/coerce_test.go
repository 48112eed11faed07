package coerce

import (
	"errors"
	"math"
	"testing"

	ferrors "github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
)

func TestToBits(t *testing.T) {
	tests := []struct {
		name string
		kind layout.ScalarKind
		in   any
		want uint64
	}{
		{"bool true", layout.KindBool, true, 1},
		{"bool false", layout.KindBool, false, 0},
		{"int to int32", layout.KindInt32, 112, 112},
		{"negative int8", layout.KindInt8, int8(-1), math.MaxUint64},
		{"uint16 char", layout.KindChar, uint16(0xFFFF), 0xFFFF},
		{"int64 from int", layout.KindInt64, -2, math.MaxUint64 - 1},
		{"float64", layout.KindFloat64, 1.5, math.Float64bits(1.5)},
		{"float32 from float64", layout.KindFloat32, 0.25, uint64(math.Float32bits(0.25))},
		{"float64 from int", layout.KindFloat64, 3, math.Float64bits(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBits(tt.kind, tt.in, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ToBits = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestToBitsErrors(t *testing.T) {
	tests := []struct {
		name   string
		kind   layout.ScalarKind
		in     any
		target *ferrors.Error
	}{
		{"int8 overflow", layout.KindInt8, 300, ferrors.ErrOverflow},
		{"char negative", layout.KindChar, -1, ferrors.ErrOverflow},
		{"int32 from big uint64", layout.KindInt32, uint64(1 << 40), ferrors.ErrOverflow},
		{"bool from int", layout.KindBool, 1, ferrors.ErrTypeMismatch},
		{"int from string", layout.KindInt32, "7", ferrors.ErrTypeMismatch},
		{"float from bool", layout.KindFloat64, true, ferrors.ErrTypeMismatch},
		{"int from float", layout.KindInt64, 1.0, ferrors.ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToBits(tt.kind, tt.in, []string{"arg0"})
			if !errors.Is(err, tt.target) {
				t.Errorf("got %v, want %v", err, tt.target.Kind)
			}
		})
	}
}

func TestFromBitsAndImage(t *testing.T) {
	if v := FromBits(layout.KindInt32, 0xFFFFFFFF); v != int32(-1) {
		t.Errorf("int32 = %v", v)
	}
	if v := FromBits(layout.KindBool, 0x100); v != false {
		t.Errorf("bool uses only the low byte: %v", v)
	}
	if v := FromBits(layout.KindFloat32, uint64(math.Float32bits(2.5))); v != float32(2.5) {
		t.Errorf("float32 = %v", v)
	}

	img := Image(0x0102030405060708, 3)
	if len(img) != 3 || img[0] != 0x08 || img[2] != 0x06 {
		t.Errorf("Image = % x", img)
	}
	if got := Load([]byte{0x08, 0x07}); got != 0x0708 {
		t.Errorf("Load = %#x", got)
	}
}
