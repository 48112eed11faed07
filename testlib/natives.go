package testlib

import (
	"math"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/machine"
	"github.com/wippyai/foreign/memory"
)

// LibraryName is the name both native libraries report.
const LibraryName = "testlib"

// Natives builds the library for a register target. Every function reads
// its arguments from the registers and stack slots the published calling
// convention assigns, and writes its result the same way, so the library
// checks the linker against the convention rather than against itself.
func Natives(target abi.Target) (*machine.Library, error) {
	lib, err := machine.NewLibrary(LibraryName, target)
	if err != nil {
		return nil, err
	}
	var own map[string]machine.Func
	switch target.Name() {
	case abi.SysV.Name():
		own = sysvFuncs
	case abi.AAPCS64.Name():
		own = aapcsFuncs
	default:
		return nil, errors.Unsupported(errors.PhaseBind, "no reference natives for "+target.Name())
	}

	pair, err := memory.Global().Allocate(IntPair)
	if err != nil {
		return nil, err
	}
	if err := pair.SetInt32(0, StaticPairE1); err != nil {
		return nil, err
	}
	if err := pair.SetInt32(4, StaticPairE2); err != nil {
		return nil, err
	}

	for name, fn := range commonFuncs {
		lib.Define(name, fn)
	}
	for name, fn := range own {
		lib.Define(name, fn)
	}
	lib.Define(StaticPair, func(f *machine.Frame) error {
		f.RetGP[0] = uint64(pair.Address())
		return nil
	})
	return lib, nil
}

// commonFuncs pass their arguments identically under both conventions:
// integers and small non-float aggregates in consecutive general registers,
// a pair of doubles in two vector registers.
var commonFuncs = map[string]machine.Func{
	Add2Ints: func(f *machine.Frame) error {
		f.RetGP[0] = uint64(uint32(f.Int32(0) + f.Int32(1)))
		return nil
	},
	// IntPair travels packed in one register
	Add2IntStructs: func(f *machine.Frame) error {
		a, b := f.GP[0], f.GP[1]
		f.RetGP[0] = pack32(lo32(a)+lo32(b), hi32(a)+hi32(b))
		return nil
	},
	Xor2NestedBools: func(f *machine.Frame) error {
		f.RetGP[0] = (f.GP[0] ^ f.GP[1]) & 0xff_ffff
		return nil
	},
	XorUnionBools: func(f *machine.Frame) error {
		s := f.GP[0]
		r := (s&0xff != 0) != (s>>8&0xff != 0) != (f.GP[1]&0xff != 0)
		f.RetGP[0] = 0
		if r {
			f.RetGP[0] = 1
		}
		return nil
	},
	// an int and a float sharing eight bytes go in a general register
	Add2MixedStructs: func(f *machine.Frame) error {
		a, b := f.GP[0], f.GP[1]
		e1 := uint32(int32(lo32(a)) + int32(lo32(b)))
		e2 := math.Float32bits(math.Float32frombits(hi32(a)) + math.Float32frombits(hi32(b)))
		f.RetGP[0] = pack32(e1, e2)
		return nil
	},
	Add2DoubleStructs: func(f *machine.Frame) error {
		f.RetFP[0] = math.Float64bits(f.Float64(0) + f.Float64(2))
		f.RetFP[1] = math.Float64bits(f.Float64(1) + f.Float64(3))
		return nil
	},
	Add2SingleDoubles: func(f *machine.Frame) error {
		f.ReturnFloat64(f.Float64(0) + f.Float64(1))
		return nil
	},
	AddIntAndPairAt: func(f *machine.Frame) error {
		pair, err := f.Memory(f.Address(1), IntPair.Size())
		if err != nil {
			return err
		}
		e1, e2, err := readPair(pair)
		if err != nil {
			return err
		}
		f.RetGP[0] = uint64(uint32(f.Int32(0) + e1 + e2))
		return nil
	},
	IncrementPairAt: func(f *machine.Frame) error {
		pair, err := f.Memory(f.Address(0), IntPair.Size())
		if err != nil {
			return err
		}
		e1, e2, err := readPair(pair)
		if err != nil {
			return err
		}
		if err := pair.SetInt32(0, e1+1); err != nil {
			return err
		}
		return pair.SetInt32(4, e2+1)
	},
	SumLongs: sumLongs,
	VSumLongs: func(f *machine.Frame) error {
		ap, err := f.VaListAt(f.Address(1))
		if err != nil {
			return err
		}
		var sum int64
		for range f.Int32(0) {
			v, err := ap.Int64()
			if err != nil {
				return err
			}
			sum += v
		}
		f.ReturnInt(sum)
		return nil
	},
}

var sysvFuncs = map[string]machine.Func{
	// both floats share one SSE register
	Add2FloatStructs: func(f *machine.Frame) error {
		a, b := f.FP[0], f.FP[1]
		f.RetFP[0] = pack32(addFloat32Bits(lo32(a), lo32(b)), addFloat32Bits(hi32(a), hi32(b)))
		return nil
	},
	// MEMORY class: both structs on the stack, the result buffer in rdi and
	// returned in rax
	Add2LongTriples: func(f *machine.Frame) error {
		out, err := f.Memory(f.Address(0), LongTriple.Size())
		if err != nil {
			return err
		}
		for i := range uint64(3) {
			sum := f.StackUint64(i*8) + f.StackUint64(24+i*8)
			if err := out.SetInt64(i*8, int64(sum)); err != nil {
				return err
			}
		}
		f.RetGP[0] = f.GP[0]
		return nil
	},
}

var aapcsFuncs = map[string]machine.Func{
	// an HFA puts each float in its own vector register
	Add2FloatStructs: func(f *machine.Frame) error {
		f.RetFP[0] = uint64(addFloat32Bits(lo32(f.FP[0]), lo32(f.FP[2])))
		f.RetFP[1] = uint64(addFloat32Bits(lo32(f.FP[1]), lo32(f.FP[3])))
		return nil
	},
	// large composites arrive as pointers to caller copies, the result
	// buffer in x8
	Add2LongTriples: func(f *machine.Frame) error {
		a, err := f.Memory(f.Address(0), LongTriple.Size())
		if err != nil {
			return err
		}
		b, err := f.Memory(f.Address(1), LongTriple.Size())
		if err != nil {
			return err
		}
		out, err := f.Memory(f.Indirect, LongTriple.Size())
		if err != nil {
			return err
		}
		for i := range uint64(3) {
			x, err := a.GetInt64(i * 8)
			if err != nil {
				return err
			}
			y, err := b.GetInt64(i * 8)
			if err != nil {
				return err
			}
			if err := out.SetInt64(i*8, x+y); err != nil {
				return err
			}
		}
		return nil
	},
}

// sumLongs(int32 count, ...) walks its variadic int64 arguments.
func sumLongs(f *machine.Frame) error {
	n := f.Int32(0)
	va := f.VaStart(1, 0, 0)
	var sum int64
	for range n {
		sum += va.Int64()
	}
	f.ReturnInt(sum)
	return nil
}

func readPair(pair *memory.Segment) (int32, int32, error) {
	e1, err := pair.GetInt32(0)
	if err != nil {
		return 0, 0, err
	}
	e2, err := pair.GetInt32(4)
	return e1, e2, err
}

func lo32(w uint64) uint32 { return uint32(w) }
func hi32(w uint64) uint32 { return uint32(w >> 32) }

func pack32(lo, hi uint32) uint64 { return uint64(lo) | uint64(hi)<<32 }

func addFloat32Bits(a, b uint32) uint32 {
	return math.Float32bits(math.Float32frombits(a) + math.Float32frombits(b))
}
