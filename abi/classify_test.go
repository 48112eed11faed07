package abi

import (
	"errors"
	"reflect"
	"testing"

	ferrors "github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
)

var (
	intPair    = layout.MustStruct(layout.Int32.WithName("e1"), layout.Int32.WithName("e2"))
	doublePair = layout.MustStruct(layout.Float64, layout.Float64)
	floatTrio  = layout.MustStruct(layout.Float32, layout.Float32, layout.Float32)
	longTrio   = layout.MustStruct(layout.Int64, layout.Int64, layout.Int64)
	longPair   = layout.MustStruct(layout.Int64, layout.Int64)
)

func gpReg(i int) Loc        { return Loc{Kind: LocRegister, Bank: BankGP, Index: i} }
func fpReg(i int) Loc        { return Loc{Kind: LocRegister, Bank: BankFP, Index: i} }
func stackAt(off uint64) Loc { return Loc{Kind: LocStack, StackOffset: off} }
func slotAt(i int) Loc       { return Loc{Kind: LocSlot, Index: i} }
func locs(parts []Part) []Loc {
	out := make([]Loc, len(parts))
	for i, p := range parts {
		out[i] = p.Loc
	}
	return out
}

func classify(t *testing.T, target Target, fd *FunctionDescriptor, opts Options) *Plan {
	t.Helper()
	p, err := target.Classify(fd, opts)
	if err != nil {
		t.Fatalf("Classify(%s): %v", fd, err)
	}
	return p
}

func TestSysVScalars(t *testing.T) {
	args := make([]layout.Layout, 0, 8)
	for range 7 {
		args = append(args, layout.Int32)
	}
	args = append(args, layout.Float64)
	p := classify(t, SysV, MustOf(layout.Int32, args...), Options{})

	want := []Loc{gpReg(0), gpReg(1), gpReg(2), gpReg(3), gpReg(4), gpReg(5), stackAt(0), fpReg(0)}
	for i, a := range p.Args {
		if a.Mode != Direct || len(a.Parts) != 1 || a.Parts[0].Loc != want[i] {
			t.Errorf("arg %d: %+v, want %v", i, a, want[i])
		}
	}
	if p.Return.Mode != RetDirect || p.Return.Parts[0].Loc != gpReg(0) {
		t.Errorf("return = %+v", p.Return)
	}
	if p.StackSize != 8 || p.GPRegsUsed != 6 || p.FPRegsUsed != 1 {
		t.Errorf("stack/gp/fp = %d/%d/%d", p.StackSize, p.GPRegsUsed, p.FPRegsUsed)
	}
	if name := SysV.Registers().Name(p.Args[5].Parts[0].Loc); name != "r9" {
		t.Errorf("sixth register = %s", name)
	}
}

func TestSysVAggregates(t *testing.T) {
	tests := []struct {
		name    string
		fd      *FunctionDescriptor
		argLocs [][]Loc
		modes   []Mode
		ret     RetMode
		retLocs []Loc
	}{
		{
			name:    "two int structs",
			fd:      MustOf(intPair, intPair, intPair),
			argLocs: [][]Loc{{gpReg(0)}, {gpReg(1)}},
			modes:   []Mode{ByValue, ByValue},
			ret:     RetRegisters,
			retLocs: []Loc{gpReg(0)},
		},
		{
			name:    "double pair uses two sse registers",
			fd:      MustOf(doublePair, doublePair),
			argLocs: [][]Loc{{fpReg(0), fpReg(1)}},
			modes:   []Mode{ByValue},
			ret:     RetRegisters,
			retLocs: []Loc{fpReg(0), fpReg(1)},
		},
		{
			name:    "float and int share an integer eightbyte",
			fd:      MustOfVoid(layout.MustStruct(layout.Float32, layout.Int32)),
			argLocs: [][]Loc{{gpReg(0)}},
			modes:   []Mode{ByValue},
		},
		{
			name:    "mixed eightbytes",
			fd:      MustOf(layout.MustStruct(layout.Int64, layout.Float64), layout.MustStruct(layout.Float64, layout.Int32)),
			argLocs: [][]Loc{{fpReg(0), gpReg(0)}},
			modes:   []Mode{ByValue},
			ret:     RetRegisters,
			retLocs: []Loc{gpReg(0), fpReg(0)},
		},
		{
			name:    "large struct goes to memory with hidden return",
			fd:      MustOf(longTrio, longTrio, layout.Int32),
			argLocs: [][]Loc{{stackAt(0)}, {gpReg(1)}},
			modes:   []Mode{ByValue, Direct},
			ret:     RetHidden,
		},
		{
			name:    "unaligned leaf forces memory",
			fd:      MustOfVoid(layout.MustStruct(layout.Int8, layout.MustWithAlign(layout.Int64, 1))),
			argLocs: [][]Loc{{stackAt(0)}},
			modes:   []Mode{ByValue},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := classify(t, SysV, tt.fd, Options{})
			for i, want := range tt.argLocs {
				if got := locs(p.Args[i].Parts); !reflect.DeepEqual(got, want) {
					t.Errorf("arg %d locs = %v, want %v", i, got, want)
				}
				if p.Args[i].Mode != tt.modes[i] {
					t.Errorf("arg %d mode = %s, want %s", i, p.Args[i].Mode, tt.modes[i])
				}
			}
			if p.Return.Mode != tt.ret {
				t.Errorf("return mode = %s, want %s", p.Return.Mode, tt.ret)
			}
			if tt.retLocs != nil && !reflect.DeepEqual(locs(p.Return.Parts), tt.retLocs) {
				t.Errorf("return locs = %v, want %v", locs(p.Return.Parts), tt.retLocs)
			}
		})
	}
}

func TestSysVHiddenReturnPointer(t *testing.T) {
	p := classify(t, SysV, MustOf(longTrio, layout.Int32), Options{})
	if p.Return.Pointer != gpReg(0) {
		t.Errorf("hidden pointer = %v", p.Return.Pointer)
	}
	if p.Args[0].Parts[0].Loc != gpReg(1) {
		t.Errorf("first argument shifted to %v", p.Args[0].Parts[0].Loc)
	}
	if p.StackSize != 0 {
		t.Errorf("stack = %d", p.StackSize)
	}
}

func TestSysVRegisterExhaustion(t *testing.T) {
	args := []layout.Layout{layout.Int64, layout.Int64, layout.Int64, layout.Int64, layout.Int64, longPair, layout.Int64}
	p := classify(t, SysV, MustOfVoid(args...), Options{})

	if got := p.Args[5].Parts; len(got) != 1 || got[0].Class != ClassMemory || got[0].Loc != stackAt(0) {
		t.Errorf("pair with one register left = %+v", got)
	}
	if got := p.Args[6].Parts[0].Loc; got != gpReg(5) {
		t.Errorf("following scalar = %v, want gp5", got)
	}
	if p.StackSize != 16 {
		t.Errorf("stack = %d", p.StackSize)
	}
}

func TestSysVVariadic(t *testing.T) {
	fd := MustOf(layout.Int32, layout.Address, layout.Float64, layout.Int32, layout.Float64)
	p := classify(t, SysV, fd, Variadic(1))

	if p.FirstVariadic != 1 || !p.IsVariadic() {
		t.Errorf("first variadic = %d", p.FirstVariadic)
	}
	if p.FPRegsUsed != 2 {
		t.Errorf("vector count = %d, want 2", p.FPRegsUsed)
	}
	if p.Args[0].Variadic || !p.Args[1].Variadic || p.Args[0].Mode != Address {
		t.Errorf("variadic flags/modes wrong: %+v", p.Args)
	}
	if p.Args[2].Parts[0].Loc != gpReg(1) {
		t.Errorf("variadic int = %v", p.Args[2].Parts[0].Loc)
	}
}

func TestClassifyFailures(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		fd     *FunctionDescriptor
		opts   Options
		kind   ferrors.Kind
	}{
		{"variadic float32", SysV, MustOfVoid(layout.Address, layout.Float32), Variadic(1), ferrors.KindUnsupported},
		{"variadic bool", AAPCS64, MustOfVoid(layout.Address, layout.Bool), Variadic(1), ferrors.KindUnsupported},
		{"variadic char", Wasm32, MustOfVoid(layout.Address32, layout.Char), Variadic(1), ferrors.KindUnsupported},
		{"variadic int16", SysV, MustOfVoid(layout.Int16), Variadic(0), ferrors.KindUnsupported},
		{"variadic int8", SysV, MustOfVoid(layout.Int8), Variadic(0), ferrors.KindUnsupported},
		{"first variadic past end", SysV, MustOfVoid(layout.Int32), Variadic(2), ferrors.KindOutOfBounds},
		{"negative first variadic", SysV, MustOfVoid(layout.Int32), Variadic(-1), ferrors.KindOutOfBounds},
		{"32-bit address on sysv", SysV, MustOfVoid(layout.Address32), Options{}, ferrors.KindUnsupported},
		{"64-bit address on wasm32", Wasm32, MustOf(layout.Address), Options{}, ferrors.KindUnsupported},
		{"nested address mismatch", AAPCS64, MustOfVoid(layout.MustStruct(layout.Address32, layout.Int32)), Options{}, ferrors.KindUnsupported},
		{"nil descriptor", SysV, nil, Options{}, ferrors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.target.Classify(tt.fd, tt.opts)
			var e *ferrors.Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *errors.Error, got %v", err)
			}
			if e.Kind != tt.kind || e.Phase != ferrors.PhaseClassify {
				t.Errorf("got %s/%s, want classify/%s", e.Phase, e.Kind, tt.kind)
			}
		})
	}

	t.Run("promoted kinds inside a struct are fine", func(t *testing.T) {
		fd := MustOfVoid(layout.Address, layout.MustStruct(layout.Bool, layout.Int8))
		if _, err := SysV.Classify(fd, Variadic(1)); err != nil {
			t.Error(err)
		}
	})
	t.Run("first variadic equal to arity", func(t *testing.T) {
		if _, err := SysV.Classify(MustOfVoid(layout.Int32), Variadic(1)); err != nil {
			t.Error(err)
		}
	})
}

func TestAAPCS64(t *testing.T) {
	tests := []struct {
		name    string
		fd      *FunctionDescriptor
		argLocs [][]Loc
		modes   []Mode
		ret     RetMode
		retLocs []Loc
	}{
		{
			name:    "hfa of three floats",
			fd:      MustOf(floatTrio, floatTrio, floatTrio),
			argLocs: [][]Loc{{fpReg(0), fpReg(1), fpReg(2)}, {fpReg(3), fpReg(4), fpReg(5)}},
			modes:   []Mode{ByValue, ByValue},
			ret:     RetRegisters,
			retLocs: []Loc{fpReg(0), fpReg(1), fpReg(2)},
		},
		{
			name:    "int pair in one register",
			fd:      MustOf(intPair, intPair, intPair),
			argLocs: [][]Loc{{gpReg(0)}, {gpReg(1)}},
			modes:   []Mode{ByValue, ByValue},
			ret:     RetRegisters,
			retLocs: []Loc{gpReg(0)},
		},
		{
			name:    "large struct by reference with x8 result",
			fd:      MustOf(longTrio, longTrio, layout.Int32),
			argLocs: [][]Loc{{gpReg(0)}, {gpReg(1)}},
			modes:   []Mode{ByReference, Direct},
			ret:     RetHidden,
		},
		{
			name:    "16 byte integer struct in two registers",
			fd:      MustOf(longPair, longPair),
			argLocs: [][]Loc{{gpReg(0), gpReg(1)}},
			modes:   []Mode{ByValue},
			ret:     RetRegisters,
			retLocs: []Loc{gpReg(0), gpReg(1)},
		},
		{
			name:    "float and int is not homogeneous",
			fd:      MustOfVoid(layout.MustStruct(layout.Float32, layout.Int32)),
			argLocs: [][]Loc{{gpReg(0)}},
			modes:   []Mode{ByValue},
		},
		{
			name:    "union of floats is a single-member hfa",
			fd:      MustOfVoid(layout.MustUnion(layout.Float32, layout.Float32)),
			argLocs: [][]Loc{{fpReg(0)}},
			modes:   []Mode{ByValue},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := classify(t, AAPCS64, tt.fd, Options{})
			for i, want := range tt.argLocs {
				if got := locs(p.Args[i].Parts); !reflect.DeepEqual(got, want) {
					t.Errorf("arg %d locs = %v, want %v", i, got, want)
				}
				if p.Args[i].Mode != tt.modes[i] {
					t.Errorf("arg %d mode = %s, want %s", i, p.Args[i].Mode, tt.modes[i])
				}
			}
			if p.Return.Mode != tt.ret {
				t.Errorf("return mode = %s, want %s", p.Return.Mode, tt.ret)
			}
			if tt.retLocs != nil && !reflect.DeepEqual(locs(p.Return.Parts), tt.retLocs) {
				t.Errorf("return locs = %v, want %v", locs(p.Return.Parts), tt.retLocs)
			}
		})
	}
}

func TestAAPCS64IndirectResult(t *testing.T) {
	p := classify(t, AAPCS64, MustOf(longTrio, layout.Int32), Options{})
	if p.Return.Pointer.Kind != LocIndirect {
		t.Errorf("pointer = %v", p.Return.Pointer)
	}
	if AAPCS64.Registers().Name(p.Return.Pointer) != "x8" {
		t.Errorf("indirect register = %s", AAPCS64.Registers().Name(p.Return.Pointer))
	}
	if p.Args[0].Parts[0].Loc != gpReg(0) {
		t.Errorf("x8 must not shift arguments: %v", p.Args[0].Parts[0].Loc)
	}
}

func TestAAPCS64Exhaustion(t *testing.T) {
	quad := layout.MustStruct(layout.Float64, layout.Float64, layout.Float64, layout.Float64)
	p := classify(t, AAPCS64, MustOfVoid(layout.Float64, layout.Float64, layout.Float64, layout.Float64, layout.Float64, quad, layout.Float64), Options{})
	if got := p.Args[5].Parts; len(got) != 1 || got[0].Loc != stackAt(0) || got[0].Size != 32 {
		t.Errorf("hfa that does not fit = %+v", got)
	}
	if got := p.Args[6].Parts[0].Loc; got != stackAt(32) {
		t.Errorf("float after exhausted hfa = %v, want stack+32", got)
	}

	ints := []layout.Layout{layout.Int64, layout.Int64, layout.Int64, layout.Int64, layout.Int64, layout.Int64, layout.Int64, longPair, layout.Int32}
	p = classify(t, AAPCS64, MustOfVoid(ints...), Options{})
	if got := p.Args[7].Parts; len(got) != 1 || got[0].Loc != stackAt(0) {
		t.Errorf("pair never splits between register and stack: %+v", got)
	}
	if got := p.Args[8].Parts[0].Loc; got != stackAt(16) {
		t.Errorf("int after exhaustion = %v, want stack+16", got)
	}
}

func TestWasm32(t *testing.T) {
	t.Run("scalars", func(t *testing.T) {
		p := classify(t, Wasm32, MustOf(layout.Int32, layout.Int32, layout.Int64, layout.Float32, layout.Address32), Options{})
		if !reflect.DeepEqual(p.Slots, []SlotType{I32, I64, F32, I32}) {
			t.Errorf("slots = %v", p.Slots)
		}
		if !reflect.DeepEqual(p.Results, []SlotType{I32}) {
			t.Errorf("results = %v", p.Results)
		}
		if p.Args[3].Mode != Address {
			t.Errorf("address mode = %s", p.Args[3].Mode)
		}
	})

	t.Run("struct by reference with sret", func(t *testing.T) {
		p := classify(t, Wasm32, MustOf(intPair, intPair, intPair), Options{})
		if p.Return.Mode != RetHidden || p.Return.Pointer != slotAt(0) {
			t.Errorf("return = %+v", p.Return)
		}
		if p.Args[0].Mode != ByReference || p.Args[0].Parts[0].Loc != slotAt(1) || p.Args[1].Parts[0].Loc != slotAt(2) {
			t.Errorf("args = %+v", p.Args)
		}
		if !reflect.DeepEqual(p.Slots, []SlotType{I32, I32, I32}) || len(p.Results) != 0 {
			t.Errorf("slots = %v results = %v", p.Slots, p.Results)
		}
	})

	t.Run("singleton structs pass as scalars", func(t *testing.T) {
		single := layout.MustStruct(layout.MustStruct(layout.Float64))
		p := classify(t, Wasm32, MustOf(single, single), Options{})
		if p.Args[0].Mode != ByValue || SlotOf(p.Args[0].Parts[0]) != F64 {
			t.Errorf("arg = %+v", p.Args[0])
		}
		if p.Return.Mode != RetDirect || !reflect.DeepEqual(p.Results, []SlotType{F64}) {
			t.Errorf("return = %+v results %v", p.Return, p.Results)
		}
	})

	t.Run("variadic buffer", func(t *testing.T) {
		p := classify(t, Wasm32, MustOf(layout.Int32, layout.Address32, layout.Int32, layout.Float64), Variadic(1))
		if p.VarargSlot != 1 || !reflect.DeepEqual(p.Slots, []SlotType{I32, I32}) {
			t.Errorf("vararg slot = %d slots = %v", p.VarargSlot, p.Slots)
		}
		if p.Args[1].Parts[0].Loc != stackAt(0) || p.Args[2].Parts[0].Loc != stackAt(8) {
			t.Errorf("buffer offsets = %v %v", p.Args[1].Parts[0].Loc, p.Args[2].Parts[0].Loc)
		}
		if p.StackSize != 16 {
			t.Errorf("buffer size = %d", p.StackSize)
		}
	})
}

// Structurally equal layouts, built separately or reused, classify the
// same, and nesting does not change the outcome.
func TestClassificationIsStructural(t *testing.T) {
	nested := layout.MustStruct(layout.Bool, layout.MustStruct(layout.Bool, layout.Bool))
	flat := layout.MustStruct(layout.Bool, layout.Bool, layout.Bool)
	arr := layout.MustStruct(layout.MustSequenceOf(3, layout.Bool))

	for _, target := range Targets() {
		t.Run(target.Name(), func(t *testing.T) {
			var first []ArgPlan
			for _, l := range []layout.Layout{nested, flat, arr} {
				p := classify(t, target, MustOf(l, l, l), Options{})
				parts := make([]ArgPlan, len(p.Args))
				for i, a := range p.Args {
					parts[i] = ArgPlan{Parts: a.Parts, Mode: a.Mode}
				}
				if first == nil {
					first = parts
					continue
				}
				if !reflect.DeepEqual(parts, first) {
					t.Errorf("%s classified differently: %+v vs %+v", l, parts, first)
				}
			}

			dup1 := layout.MustStruct(layout.Int32, layout.Int32)
			dup2 := layout.MustStruct(layout.Int32, layout.Int32)
			p := classify(t, target, MustOfVoid(dup1, dup2, dup1), Options{})
			if p.Args[0].Mode != p.Args[1].Mode || len(p.Args[0].Parts) != len(p.Args[2].Parts) {
				t.Errorf("duplicates classified differently: %+v", p.Args)
			}
		})
	}
}

func TestLargeAggregates(t *testing.T) {
	// far too many elements to expand leaf by leaf
	huge := layout.MustStruct(layout.MustSequenceOf(1<<36, layout.Float32))
	wide := make([]layout.Layout, 4096)
	for i := range wide {
		wide[i] = layout.Float64
	}
	union := layout.MustUnion(wide...)

	for _, target := range Targets() {
		t.Run(target.Name(), func(t *testing.T) {
			p := classify(t, target, MustOf(huge, huge), Options{})
			if p.Args[0].Mode != ByReference && p.Args[0].Parts[0].Class != ClassMemory {
				t.Errorf("huge aggregate passed as %s %+v", p.Args[0].Mode, p.Args[0].Parts)
			}
			if p.Return.Mode != RetHidden {
				t.Errorf("huge aggregate returned as %s", p.Return.Mode)
			}

			p = classify(t, target, MustOf(union, union), Options{})
			if len(p.Args[0].Parts) != 1 || p.Args[0].Parts[0].Class != ClassFloat {
				t.Errorf("union of aliasing doubles: %+v", p.Args[0].Parts)
			}

			addr := layout.Address
			if target.AddressSize() == 8 {
				addr = layout.Address32
			}
			bad := layout.MustStruct(layout.MustSequenceOf(1<<36, layout.MustStruct(layout.Int64, addr)))
			if _, err := target.Classify(MustOfVoid(bad), Options{}); !errors.Is(err, ferrors.ErrUnsupported) {
				t.Errorf("address size mismatch inside a huge array: %v", err)
			}
		})
	}
}

func TestLookupTarget(t *testing.T) {
	for name, want := range map[string]Target{"amd64": SysV, "sysv": SysV, "arm64": AAPCS64, "wasm32": Wasm32} {
		got, err := Lookup(name)
		if err != nil || got != want {
			t.Errorf("Lookup(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := Lookup("mips"); !errors.Is(err, ferrors.ErrNotFound) {
		t.Errorf("unknown target: %v", err)
	}
}
