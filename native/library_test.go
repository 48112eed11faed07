//go:build linux && (amd64 || arm64)

package native_test

import (
	"context"
	"errors"
	"testing"

	"github.com/wippyai/foreign/abi"
	ferrors "github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
	"github.com/wippyai/foreign/linker"
	"github.com/wippyai/foreign/memory"
	"github.com/wippyai/foreign/native"
)

func openLibC(t *testing.T) (*native.Library, *linker.Linker) {
	t.Helper()
	lib, err := native.Open(native.LibC)
	if err != nil {
		t.Skipf("cannot open %s: %v", native.LibC, err)
	}
	t.Cleanup(func() { _ = lib.Close() })
	return lib, linker.NewWithDefaults(lib.Target())
}

func cString(t *testing.T, a memory.SegmentAllocator, s string) *memory.Segment {
	t.Helper()
	seg, err := a.AllocateSize(uint64(len(s))+1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := seg.Write(0, append([]byte(s), 0)); err != nil {
		t.Fatal(err)
	}
	return seg
}

func goString(t *testing.T, seg *memory.Segment, n int) string {
	t.Helper()
	b, err := seg.Read(0, uint64(n))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestScalars(t *testing.T) {
	ctx := context.Background()
	lib, l := openLibC(t)
	arena := memory.NewConfined()
	defer arena.Close()

	tests := []struct {
		name string
		fd   *abi.FunctionDescriptor
		args []any
		want any
	}{
		{"abs", abi.MustOf(layout.Int32, layout.Int32), []any{int32(-5)}, int32(5)},
		{"abs", abi.MustOf(layout.Int32, layout.Int32), []any{int32(12)}, int32(12)},
		{"labs", abi.MustOf(layout.Int64, layout.Int64), []any{int64(-1) << 40}, int64(1) << 40},
		{"strlen", abi.MustOf(layout.Int64, layout.Address), []any{cString(t, arena, "hello")}, int64(5)},
		{"strlen", abi.MustOf(layout.Int64, layout.Address), []any{cString(t, arena, "")}, int64(0)},
		{"atof", abi.MustOf(layout.Float64, layout.Address), []any{cString(t, arena, "2.5")}, 2.5},
		{"ldexp", abi.MustOf(layout.Float64, layout.Float64, layout.Int32), []any{1.5, int32(3)}, 12.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := l.Lookup(lib, tt.name, tt.fd)
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			got, err := h.Invoke(ctx, nil, tt.args...)
			if err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			if got != tt.want {
				t.Errorf("%s(%v) = %v (%T), want %v", tt.name, tt.args, got, got, tt.want)
			}
		})
	}
}

func TestHeapString(t *testing.T) {
	lib, l := openLibC(t)
	fd := abi.MustOf(layout.Int64, layout.Address)

	s := memory.OfBytes([]byte("heap bytes\x00"))
	plain, err := l.Lookup(lib, "strlen", fd)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := plain.Invoke(context.Background(), nil, s); !errors.Is(err, ferrors.ErrUnsupported) {
		t.Errorf("heap segment without heap access: err = %v, want ErrUnsupported", err)
	}

	heap, err := l.Lookup(lib, "strlen", fd, linker.Critical(true))
	if err != nil {
		t.Fatal(err)
	}
	got, err := heap.Invoke(context.Background(), nil, s)
	if err != nil {
		t.Fatal(err)
	}
	if got != int64(10) {
		t.Errorf("strlen = %v, want 10", got)
	}
}

func TestCompositeResults(t *testing.T) {
	ctx := context.Background()
	lib, l := openLibC(t)
	arena := memory.NewConfined()
	defer arena.Close()

	t.Run("div", func(t *testing.T) {
		divT := layout.MustStruct(layout.Int32.WithName("quot"), layout.Int32.WithName("rem"))
		h, err := l.Lookup(lib, "div", abi.MustOf(divT, layout.Int32, layout.Int32))
		if err != nil {
			t.Fatal(err)
		}
		v, err := h.Invoke(ctx, arena, int32(17), int32(5))
		if err != nil {
			t.Fatal(err)
		}
		seg := v.(*memory.Segment)
		quot, _ := seg.GetInt32(0)
		rem, _ := seg.GetInt32(4)
		if quot != 3 || rem != 2 {
			t.Errorf("div(17, 5) = {%d %d}, want {3 2}", quot, rem)
		}
	})

	t.Run("ldiv", func(t *testing.T) {
		ldivT := layout.MustStruct(layout.Int64.WithName("quot"), layout.Int64.WithName("rem"))
		h, err := l.Lookup(lib, "ldiv", abi.MustOf(ldivT, layout.Int64, layout.Int64))
		if err != nil {
			t.Fatal(err)
		}
		v, err := h.Invoke(ctx, arena, int64(-17), int64(5))
		if err != nil {
			t.Fatal(err)
		}
		seg := v.(*memory.Segment)
		quot, _ := seg.GetInt64(0)
		rem, _ := seg.GetInt64(8)
		if quot != -3 || rem != -2 {
			t.Errorf("ldiv(-17, 5) = {%d %d}, want {-3 -2}", quot, rem)
		}
	})
}

func TestVariadic(t *testing.T) {
	ctx := context.Background()
	lib, l := openLibC(t)
	arena := memory.NewConfined()
	defer arena.Close()

	fd := abi.MustOf(layout.Int32, layout.Address, layout.Int64, layout.Address, layout.Int64, layout.Int64)
	h, err := l.Lookup(lib, "snprintf", fd, linker.FirstVariadicArg(3))
	if err != nil {
		t.Fatal(err)
	}
	buf, err := arena.AllocateSize(32, 1)
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.Invoke(ctx, nil, buf, int64(32), cString(t, arena, "%ld+%ld"), int64(2), int64(-3))
	if err != nil {
		t.Fatal(err)
	}
	if got != int32(4) || goString(t, buf, 4) != "2+-3" {
		t.Errorf("snprintf = %v %q, want 4 \"2+-3\"", got, goString(t, buf, 4))
	}
}

func TestFloatVariadic(t *testing.T) {
	lib, l := openLibC(t)
	if lib.Target().Name() != abi.SysV.Name() {
		t.Skip("vector register count is only reported on x86-64")
	}
	arena := memory.NewConfined()
	defer arena.Close()

	fd := abi.MustOf(layout.Int32, layout.Address, layout.Int64, layout.Address, layout.Float64)
	h, err := l.Lookup(lib, "snprintf", fd, linker.FirstVariadicArg(3))
	if err != nil {
		t.Fatal(err)
	}
	buf, err := arena.AllocateSize(32, 1)
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.Invoke(context.Background(), nil, buf, int64(32), cString(t, arena, "%f"), 1.0)
	if !errors.Is(err, ferrors.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestVaList(t *testing.T) {
	ctx := context.Background()
	lib, l := openLibC(t)
	arena := memory.NewConfined()
	defer arena.Close()

	vsnprintf, err := l.Lookup(lib, "vsnprintf",
		abi.MustOf(layout.Int32, layout.Address, layout.Int64, layout.Address, layout.Address))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		format string
		build  func(b *linker.VaListBuilder) *linker.VaListBuilder
		want   string
	}{
		{
			name:   "integers",
			format: "%ld %ld",
			build: func(b *linker.VaListBuilder) *linker.VaListBuilder {
				return b.Add(layout.Int64, int64(42)).Add(layout.Int64, int64(-7))
			},
			want: "42 -7",
		},
		{
			name:   "mixed",
			format: "%s=%.2f",
			build: func(b *linker.VaListBuilder) *linker.VaListBuilder {
				return b.Add(layout.Address, cString(t, arena, "pi")).Add(layout.Float64, 3.14159)
			},
			want: "pi=3.14",
		},
		{
			name:   "spilled",
			format: "%ld%ld%ld%ld%ld%ld%ld%ld%ld%ld|%.0f%.0f%.0f%.0f%.0f%.0f%.0f%.0f%.0f%.0f",
			build: func(b *linker.VaListBuilder) *linker.VaListBuilder {
				for i := range 10 {
					b.Add(layout.Int64, int64(i))
				}
				for i := range 10 {
					b.Add(layout.Float64, float64(i))
				}
				return b
			},
			want: "0123456789|0123456789",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := tt.build(linker.NewVaList(lib.Target())).Build(arena)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			buf, err := arena.AllocateSize(64, 1)
			if err != nil {
				t.Fatal(err)
			}
			n, err := vsnprintf.Invoke(ctx, nil, buf, int64(64), cString(t, arena, tt.format), list)
			if err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			if n != int32(len(tt.want)) || goString(t, buf, len(tt.want)) != tt.want {
				t.Errorf("vsnprintf = %v %q, want %q", n, goString(t, buf, len(tt.want)), tt.want)
			}
		})
	}
}

func TestErrors(t *testing.T) {
	if _, err := native.Open("/no/such/library.so"); !errors.Is(err, ferrors.ErrInvalidData) {
		t.Errorf("Open missing: err = %v, want ErrInvalidData", err)
	}

	lib, l := openLibC(t)
	if _, err := lib.Lookup("no_such_function_here"); !errors.Is(err, ferrors.ErrSymbolNotFound) {
		t.Errorf("Lookup missing: err = %v, want ErrSymbolNotFound", err)
	}

	h, err := l.Lookup(lib, "abs", abi.MustOf(layout.Int32, layout.Int32))
	if err != nil {
		t.Fatal(err)
	}
	if err := lib.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := lib.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := lib.Lookup("abs"); !errors.Is(err, ferrors.ErrIllegalState) {
		t.Errorf("Lookup after Close: err = %v, want ErrIllegalState", err)
	}
	if _, err := h.Invoke(context.Background(), nil, int32(1)); !errors.Is(err, ferrors.ErrIllegalState) {
		t.Errorf("Invoke after Close: err = %v, want ErrIllegalState", err)
	}
}

func TestTargetMismatch(t *testing.T) {
	lib, _ := openLibC(t)
	other := abi.AAPCS64
	if lib.Target().Name() == other.Name() {
		other = abi.SysV
	}
	h, err := linker.NewWithDefaults(other).Lookup(lib, "abs", abi.MustOf(layout.Int32, layout.Int32))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Invoke(context.Background(), nil, int32(-1)); !errors.Is(err, ferrors.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}
