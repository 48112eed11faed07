package abi

import (
	"errors"
	"testing"

	ferrors "github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
)

func TestDescriptorString(t *testing.T) {
	tests := []struct {
		name string
		fd   *FunctionDescriptor
		want string
	}{
		{"ints", MustOf(layout.Int32, layout.Int32, layout.Int32), "(i4i4)i4"},
		{"void no args", MustOfVoid(), "()v"},
		{"struct arg", MustOfVoid(layout.MustStruct(layout.Bool, layout.Bool)), "([z1z1])v"},
		{"address", MustOf(layout.Address, layout.Int64), "(j8)a8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fd.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDescriptorRejectsPadding(t *testing.T) {
	pad := layout.MustPaddingOf(4)
	tests := []struct {
		name string
		fn   func() error
	}{
		{"padding argument", func() error { _, err := OfVoid(layout.Int32, pad); return err }},
		{"padding return", func() error { _, err := Of(pad); return err }},
		{"padding sequence", func() error { _, err := OfVoid(layout.MustSequenceOf(2, pad)); return err }},
		{"padding-only struct", func() error { _, err := OfVoid(layout.MustStruct(pad)); return err }},
		{"empty struct", func() error { _, err := OfVoid(layout.MustStruct()); return err }},
		{"append padding", func() error { _, err := MustOfVoid().AppendArgs(pad); return err }},
		{"change return to padding", func() error { _, err := MustOfVoid().ChangeReturn(pad); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, ferrors.ErrUnsupported) {
				t.Fatalf("expected unsupported, got %v", err)
			}
			var e *ferrors.Error
			if errors.As(err, &e) && e.Phase != ferrors.PhaseClassify {
				t.Errorf("phase = %s", e.Phase)
			}
		})
	}

	if _, err := Of(nil, layout.Int32); !errors.Is(err, ferrors.ErrInvalidInput) {
		t.Errorf("nil return: %v", err)
	}
	if _, err := OfVoid(layout.Int32, nil); !errors.Is(err, ferrors.ErrInvalidInput) {
		t.Errorf("nil argument: %v", err)
	}
}

func TestDescriptorDerivation(t *testing.T) {
	base := MustOf(layout.Int32, layout.Int32)

	wider, err := base.AppendArgs(layout.Float64, layout.Address)
	if err != nil {
		t.Fatal(err)
	}
	if wider.NumArgs() != 3 || base.NumArgs() != 1 {
		t.Errorf("AppendArgs changed arity: %d / %d", wider.NumArgs(), base.NumArgs())
	}
	if wider.String() != "(i4d8a8)i4" {
		t.Errorf("appended = %s", wider)
	}

	changed, err := base.ChangeReturn(layout.Int64)
	if err != nil {
		t.Fatal(err)
	}
	if changed.String() != "(i4)j8" {
		t.Errorf("changed = %s", changed)
	}
	dropped := base.DropReturn()
	if dropped.HasReturn() || dropped.String() != "(i4)v" {
		t.Errorf("dropped = %s", dropped)
	}

	args := base.Args()
	args[0] = layout.Float32
	if base.Arg(0) != layout.Int32 {
		t.Error("Args() exposed internal slice")
	}
}

func TestDescriptorEqual(t *testing.T) {
	mk := func() *FunctionDescriptor {
		s := layout.MustStruct(layout.Int32.WithName("e1"), layout.Int32.WithName("e2"))
		return MustOf(s, s, s)
	}
	a, b := mk(), mk()
	if !a.Equal(b) {
		t.Error("structurally identical descriptors should be equal")
	}
	if a.Equal(a.DropReturn()) {
		t.Error("void and non-void differ")
	}
	if a.Equal(MustOf(layout.Int32, layout.Int32, layout.Int32)) {
		t.Error("different argument layouts")
	}
	var nilFD *FunctionDescriptor
	if a.Equal(nilFD) || !nilFD.Equal(nil) {
		t.Error("nil handling")
	}
}
