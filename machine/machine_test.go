package machine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wippyai/foreign/abi"
	ferrors "github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
	"github.com/wippyai/foreign/linker"
	"github.com/wippyai/foreign/machine"
	"github.com/wippyai/foreign/memory"
)

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func allocate(t *testing.T, a memory.SegmentAllocator, l layout.Layout) *memory.Segment {
	t.Helper()
	seg, err := memory.Allocate(a, l)
	if err != nil {
		t.Fatal(err)
	}
	return seg
}

var triple = layout.MustStruct(
	layout.Int64.WithName("a"),
	layout.Int64.WithName("b"),
	layout.Int64.WithName("c"),
)

func newLib(t *testing.T, target abi.Target) *machine.Library {
	t.Helper()
	lib, err := machine.NewLibrary("m", target)
	if err != nil {
		t.Fatal(err)
	}
	return lib
}

func invoke(t *testing.T, lib *machine.Library, name string, fd *abi.FunctionDescriptor, alloc memory.SegmentAllocator, args ...any) any {
	t.Helper()
	h, err := linker.NewWithDefaults(lib.Target()).Lookup(lib, name, fd)
	if err != nil {
		t.Fatal(err)
	}
	v, err := h.Invoke(context.Background(), alloc, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v
}

func TestNewLibrary(t *testing.T) {
	if _, err := machine.NewLibrary("x", abi.Wasm32); !errors.Is(err, ferrors.ErrUnsupported) {
		t.Errorf("wasm32: expected unsupported, got %v", err)
	}
	if _, err := machine.NewLibrary("x", nil); !errors.Is(err, ferrors.ErrInvalidInput) {
		t.Errorf("nil target: expected invalid input, got %v", err)
	}
}

func TestSymbols(t *testing.T) {
	lib := newLib(t, abi.SysV)
	lib.Define("b", func(*machine.Frame) error { return nil })
	lib.Define("a", func(*machine.Frame) error { return nil })

	a, err := lib.Lookup("a")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := lib.Lookup("b")
	if a.Address == 0 || a.Address == b.Address {
		t.Errorf("addresses a=%#x b=%#x", a.Address, b.Address)
	}

	lib.Define("a", func(*machine.Frame) error { return nil })
	again, _ := lib.Lookup("a")
	if again.Address != a.Address {
		t.Error("redefinition moved the symbol")
	}

	if names := lib.Names(); fmt.Sprint(names) != "[a b]" {
		t.Errorf("Names() = %v", names)
	}
	if _, err := lib.Lookup("c"); !errors.Is(err, ferrors.ErrSymbolNotFound) {
		t.Errorf("expected symbol not found, got %v", err)
	}
}

func TestRegisterAssignment(t *testing.T) {
	tests := []struct {
		target abi.Target
		gp     int
	}{
		{abi.SysV, 6},
		{abi.AAPCS64, 8},
	}
	for _, tt := range tests {
		t.Run(tt.target.Name(), func(t *testing.T) {
			lib := newLib(t, tt.target)

			// gp+2 integers interleaved with a double: the last two spill
			args := []layout.Layout{layout.Float64}
			vals := []any{2.5}
			for i := range tt.gp + 2 {
				args = append(args, layout.Int64)
				vals = append(vals, int64(i+1))
			}
			lib.Define("regs", func(f *machine.Frame) error {
				if f.Float64(0) != 2.5 {
					return fmt.Errorf("fp0 = %v", f.Float64(0))
				}
				for i := range tt.gp {
					if f.Int64(i) != int64(i+1) {
						return fmt.Errorf("gp%d = %d", i, f.Int64(i))
					}
				}
				if len(f.Stack) != 16 {
					return fmt.Errorf("stack of %d bytes", len(f.Stack))
				}
				f.ReturnInt(int64(f.StackUint64(0) + f.StackUint64(8)))
				return nil
			})

			got := invoke(t, lib, "regs", abi.MustOf(layout.Int64, args...), nil, vals...)
			if want := int64(2*tt.gp + 3); got != want {
				t.Errorf("stack sum = %v, want %d", got, want)
			}
		})
	}
}

func TestHiddenResult(t *testing.T) {
	tests := []struct {
		target  abi.Target
		pointer func(f *machine.Frame) uintptr
	}{
		{abi.SysV, func(f *machine.Frame) uintptr { return f.Address(0) }},
		{abi.AAPCS64, func(f *machine.Frame) uintptr { return f.Indirect }},
	}
	for _, tt := range tests {
		t.Run(tt.target.Name(), func(t *testing.T) {
			arena := memory.NewShared()
			defer arena.Close()
			lib := newLib(t, tt.target)

			lib.Define("fill", func(f *machine.Frame) error {
				ret, err := f.Memory(tt.pointer(f), triple.Size())
				if err != nil {
					return err
				}
				for i := range uint64(3) {
					if err := ret.SetInt64(i*8, int64(i+7)); err != nil {
						return err
					}
				}
				return nil
			})

			res := invoke(t, lib, "fill", abi.MustOf(triple), arena).(*memory.Segment)
			for i := range uint64(3) {
				if v, _ := res.GetInt64(i * 8); v != int64(i+7) {
					t.Errorf("field %d = %d", i, v)
				}
			}
		})
	}
}

func TestVariadicFrame(t *testing.T) {
	lib := newLib(t, abi.SysV)
	lib.Define("avg", func(f *machine.Frame) error {
		n := f.Int32(0)
		if f.VectorCount != int(n) {
			return fmt.Errorf("al = %d, want %d", f.VectorCount, n)
		}
		va := f.VaStart(1, 0, 0)
		var sum float64
		for range n {
			sum += va.Float64()
		}
		f.ReturnFloat64(sum / float64(n))
		return nil
	})

	fd := abi.MustOf(layout.Float64, layout.Int32, layout.Float64, layout.Float64, layout.Float64)
	h, err := linker.NewWithDefaults(abi.SysV).Lookup(lib, "avg", fd, linker.FirstVariadicArg(1))
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.Invoke(context.Background(), nil, 3, 1.0, 2.0, 6.0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3.0 {
		t.Errorf("avg = %v, want 3", got)
	}
}

func TestCompiledBody(t *testing.T) {
	for _, target := range []abi.Target{abi.SysV, abi.AAPCS64} {
		t.Run(target.Name(), func(t *testing.T) {
			arena := memory.NewShared()
			defer arena.Close()
			lib := newLib(t, target)

			fd := abi.MustOf(triple, triple, layout.Int64)
			err := lib.Compile("scale", fd, func(args []*memory.Segment, ret *memory.Segment) error {
				k, err := args[1].GetInt64(0)
				if err != nil {
					return err
				}
				for off := uint64(0); off < 24; off += 8 {
					v, err := args[0].GetInt64(off)
					if err != nil {
						return err
					}
					if err := ret.SetInt64(off, v*k); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}

			in := allocate(t, arena, triple)
			must(t, in.SetInt64(0, 1))
			must(t, in.SetInt64(8, -2))
			must(t, in.SetInt64(16, 3))
			res := invoke(t, lib, "scale", fd, arena, in, int64(5)).(*memory.Segment)
			got, _ := res.Bytes()
			want := memory.OfInt64s([]int64{5, -10, 15})
			wantBytes, _ := want.Bytes()
			if string(got) != string(wantBytes) {
				t.Errorf("scale = %v", got)
			}
		})
	}
}

func TestFaults(t *testing.T) {
	ctx := context.Background()
	lib := newLib(t, abi.AAPCS64)
	l := linker.NewWithDefaults(abi.AAPCS64)

	lib.Define("panics", func(f *machine.Frame) error {
		_ = f.GP[99]
		return nil
	})
	lib.Define("null", func(f *machine.Frame) error {
		_, err := f.Memory(f.Address(0), 4)
		return err
	})

	h, _ := l.Lookup(lib, "panics", abi.MustOfVoid())
	if _, err := h.Invoke(ctx, nil); !errors.Is(err, ferrors.ErrNative) {
		t.Errorf("expected native fault, got %v", err)
	}

	h, _ = l.Lookup(lib, "null", abi.MustOfVoid(layout.Address))
	if _, err := h.Invoke(ctx, nil, nil); !ferrors.IsKind(err, ferrors.KindNilPointer) {
		t.Errorf("expected nil pointer, got %v", err)
	}
}
