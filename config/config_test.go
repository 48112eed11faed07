package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/config"
	ferrors "github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
	"github.com/wippyai/foreign/linker"
	"github.com/wippyai/foreign/memory"
	"github.com/wippyai/foreign/testlib"
)

const manifest = `
target  = "sysv"
library = "testlib"

[[layout]]
name = "pair"
members = [
    { name = "e1", type = "int32" },
    { name = "e2", type = "int32" },
]

[[layout]]
name = "bools"
kind = "union"
members = [
    { name = "elem1", type = "bool" },
    { name = "elem2", type = "bool" },
]

[[layout]]
name = "outer"
members = [
    { name = "elem1", type = "bool" },
    { name = "union_elem2", type = "bools" },
]

[[function]]
name      = "add2IntStructs_returnStruct"
signature = "func(a: pair, b: pair) -> pair"

[[function]]
name      = "addIntAndIntsFromStructPointer"
signature  = "func(v: s32, p: address) -> int32"
allow_heap = true

[[function]]
name      = "addBoolAndBoolFromStructWithXor"
signature = "func(s: outer, b: bool) -> bool"

[[function]]
name           = "sumLongs"
signature      = "func(count: int32, a: int64, b: int64, c: int64) -> int64"
first_variadic = 1
`

func writeManifest(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lib.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndResolve(t *testing.T) {
	m, err := config.Load(writeManifest(t, manifest))
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Resolve()
	if err != nil {
		t.Fatal(err)
	}

	if b.Target != abi.SysV {
		t.Errorf("target = %s", b.Target.Name())
	}
	if got := b.LayoutNames(); len(got) != 3 || got[0] != "pair" || got[2] != "outer" {
		t.Errorf("LayoutNames() = %v", got)
	}
	if !layout.SameShape(b.Layouts["pair"], testlib.IntPair) {
		t.Errorf("pair = %s, want %s", b.Layouts["pair"], testlib.IntPair)
	}
	if !layout.SameShape(b.Layouts["outer"], testlib.UnionBools) {
		t.Errorf("outer = %s, want %s", b.Layouts["outer"], testlib.UnionBools)
	}

	add := b.Functions[testlib.Add2IntStructs]
	if !add.Descriptor.Equal(testlib.Signatures(abi.SysV)[testlib.Add2IntStructs]) {
		t.Errorf("descriptor = %s", add.Descriptor)
	}
	if add.FirstVariadic != -1 || add.Critical {
		t.Errorf("unexpected options %+v", add)
	}
	if !b.Functions[testlib.AddIntAndPairAt].Critical {
		t.Error("critical flag lost")
	}
	if b.Functions[testlib.SumLongs].FirstVariadic != 1 {
		t.Error("first_variadic lost")
	}
}

func TestBind(t *testing.T) {
	ctx := context.Background()
	m, err := config.Parse(manifest)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	lib, err := testlib.Natives(b.Target)
	if err != nil {
		t.Fatal(err)
	}
	handles, err := b.Bind(linker.NewWithDefaults(b.Target), lib)
	if err != nil {
		t.Fatal(err)
	}

	pairAt := handles[testlib.AddIntAndPairAt]
	if !pairAt.IsCritical() || !pairAt.AllowsHeap() {
		t.Error("allow_heap handle is not critical with heap access")
	}
	if v, err := pairAt.Invoke(ctx, nil, 1, memory.OfInt32s([]int32{2, 3})); err != nil || v != int32(6) {
		t.Errorf("heap pointer through allow_heap = %v, %v", v, err)
	}
	if handles[testlib.Add2IntStructs].IsCritical() {
		t.Error("undeclared handle is critical")
	}
	got, err := handles[testlib.SumLongs].Invoke(ctx, nil, 3, 1, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != int64(6) {
		t.Errorf("sumLongs = %v, want 6", got)
	}

	arena := memory.NewShared()
	defer arena.Close()
	pair, err := arena.Allocate(b.Layouts["pair"])
	if err != nil {
		t.Fatal(err)
	}
	if err := pair.SetAt(b.Layouts["pair"], int32(20), layout.Field("e1")); err != nil {
		t.Fatal(err)
	}
	if err := pair.SetAt(b.Layouts["pair"], int32(22), layout.Field("e2")); err != nil {
		t.Fatal(err)
	}
	res, err := handles[testlib.Add2IntStructs].Invoke(ctx, arena, pair, pair)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := res.(*memory.Segment).GetAt(b.Layouts["pair"], layout.Field("e2")); v != int32(44) {
		t.Errorf("e2 = %v, want 44", v)
	}

	if _, err := b.Bind(linker.NewWithDefaults(abi.AAPCS64), lib); !errors.Is(err, ferrors.ErrUnsupported) {
		t.Errorf("target mismatch: expected unsupported, got %v", err)
	}
}

func TestBindMissing(t *testing.T) {
	m, err := config.Parse(manifest + `
[[function]]
name      = "absent"
signature = "func()"
`)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	lib, _ := testlib.Natives(b.Target)
	_, err = b.Bind(linker.NewWithDefaults(b.Target), lib)

	var missing *ferrors.MissingSymbolsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSymbolsError, got %v", err)
	}
}

func TestManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not toml", "target = ", ferrors.ErrInvalidData},
		{"no library", `target = "sysv"` + "\n[[function]]\nname = \"f\"\nsignature = \"func()\"", ferrors.ErrInvalidInput},
		{"no functions", `library = "x"`, ferrors.ErrInvalidInput},
		{"unknown key", "library = \"x\"\nbogus = 1\n[[function]]\nname = \"f\"\nsignature = \"func()\"", ferrors.ErrInvalidData},
		{"unnamed function", "library = \"x\"\n[[function]]\nsignature = \"func()\"", ferrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := config.Parse(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "none.toml")); !errors.Is(err, ferrors.ErrInvalidData) {
		t.Errorf("missing file: expected invalid data, got %v", err)
	}

	_, err := config.Parse("target = ")
	var e *ferrors.Error
	if !errors.As(err, &e) || e.Phase != ferrors.PhaseParse || e.Cause == nil {
		t.Errorf("decode failure: expected a parse error with its cause, got %v", err)
	}
}

func TestResolveErrors(t *testing.T) {
	base := "library = \"x\"\n[[function]]\nname = \"f\"\nsignature = \"func()\"\n"
	tests := []struct {
		name string
		data string
	}{
		{"unknown target", "target = \"vax\"\n" + base},
		{"forward reference", base + "[[layout]]\nname = \"a\"\nmembers = [{ name = \"b\", type = \"later\" }]\n[[layout]]\nname = \"later\"\nmembers = [{ type = \"int32\" }]\n"},
		{"duplicate layout", base + "[[layout]]\nname = \"a\"\nmembers = [{ type = \"int32\" }]\n[[layout]]\nname = \"a\"\nmembers = [{ type = \"int32\" }]\n"},
		{"bad kind", base + "[[layout]]\nname = \"a\"\nkind = \"enum\"\nmembers = [{ type = \"int32\" }]\n"},
		{"bad rules", base + "[[layout]]\nname = \"a\"\nrules = \"packed\"\nmembers = [{ type = \"int32\" }]\n"},
		{"zero padding", base + "[[layout]]\nname = \"a\"\nmembers = [{ type = \"bool\" }, { type = \"pad:0\" }]\n"},
		{"bad signature", "library = \"x\"\n[[function]]\nname = \"f\"\nsignature = \"f(int32)\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := config.Parse(tt.data)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := m.Resolve(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTypeResolver(t *testing.T) {
	pair := layout.MustStruct(layout.Int32, layout.Int32)
	resolve := config.TypeResolver(abi.Wasm32, map[string]layout.Layout{"pair": pair})

	tests := []struct {
		expr string
		want layout.Layout
	}{
		{"int32", layout.Int32},
		{"s32", layout.Int32},
		{"u8", layout.Int8},
		{"char", layout.Char},
		{"double", layout.Float64},
		{"f32", layout.Float32},
		{"address", layout.Address32},
		{"pad:3", layout.MustPaddingOf(3)},
		{"pair", pair},
		{"bool[4]", layout.MustSequenceOf(4, layout.Bool)},
		{"int16[2][3]", layout.MustSequenceOf(2, layout.MustSequenceOf(3, layout.Int16))},
		{"pair[2]", layout.MustSequenceOf(2, pair)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := resolve(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			if !layout.Equal(got, tt.want) {
				t.Errorf("%s = %s, want %s", tt.expr, got, tt.want)
			}
		})
	}

	for _, bad := range []string{"", "nosuch", "int32[", "int32[x]", "pad:x", "string"} {
		if _, err := resolve(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestParseSignature(t *testing.T) {
	resolve := config.TypeResolver(abi.SysV, nil)

	tests := []struct {
		sig  string
		want *abi.FunctionDescriptor
	}{
		{"func()", abi.MustOfVoid()},
		{"func() -> s32", abi.MustOf(layout.Int32)},
		{"func(a: int32, b: int32) -> int32", abi.MustOf(layout.Int32, layout.Int32, layout.Int32)},
		{"func(int64, double)", abi.MustOfVoid(layout.Int64, layout.Float64)},
		{"func(p: address) -> void", abi.MustOfVoid(layout.Address)},
		{"func(xs: int32[4]) -> bool", abi.MustOf(layout.Bool, layout.MustSequenceOf(4, layout.Int32))},
	}
	for _, tt := range tests {
		t.Run(tt.sig, func(t *testing.T) {
			got, err := config.ParseSignature(tt.sig, resolve)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	for _, bad := range []string{"int32", "func", "func(int32", "func() int32", "func(a: nope)", "func() -> nope"} {
		if _, err := config.ParseSignature(bad, resolve); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}
