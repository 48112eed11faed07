package testlib

import (
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/foreign/internal/wasmgen"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f64 = api.ValueTypeF64
)

// staticPairAt is below the bump heap, which starts at 1024.
const staticPairAt = 512

// Module returns the wasm32 build of the library. Composite arguments
// arrive as pointers, composite results through a leading result pointer,
// and variadic arguments as a trailing buffer pointer. It exports its
// memory and a bump cabi_realloc.
var Module = sync.OnceValue(buildModule)

func buildModule() []byte {
	b := wasmgen.NewModuleBuilder()
	b.SetMemory(2, "memory")
	heap := b.AddGlobal("", true, 1024)

	type C = wasmgen.Code
	vt := func(t ...api.ValueType) []api.ValueType { return t }

	// cabi_realloc(old, old_size, align, new_size) bumps and never frees
	b.AddFunc("cabi_realloc", vt(i32, i32, i32, i32), vt(i32), vt(i32), C{}.
		GlobalGet(heap).LocalGet(2).I32Add().I32Const(1).I32Sub().
		I32Const(0).LocalGet(2).I32Sub().I32And().
		LocalTee(4).LocalGet(3).I32Add().GlobalSet(heap).
		LocalGet(4))

	b.AddFunc(Add2Ints, vt(i32, i32), vt(i32), nil, C{}.
		LocalGet(0).LocalGet(1).I32Add())

	// (ret, a, b)
	pairwise := func(load func(C, uint32) C, add func(C) C, store func(C, uint32) C, offs ...uint32) C {
		c := C{}
		for _, off := range offs {
			c = c.LocalGet(0)
			c = load(c.LocalGet(1), off)
			c = load(c.LocalGet(2), off)
			c = store(add(c), off)
		}
		return c
	}
	i32Add := func(offs ...uint32) C {
		return pairwise(C.I32Load, C.I32Add, C.I32Store, offs...)
	}
	sret := vt(i32, i32, i32)

	b.AddFunc(Add2IntStructs, sret, nil, nil, i32Add(0, 4))
	b.AddFunc(Xor2NestedBools, sret, nil, nil,
		pairwise(C.I32Load8U, C.I32Xor, C.I32Store8, 0, 1, 2))

	// (p, b) -> p[0] ^ p[1] ^ b
	b.AddFunc(XorUnionBools, vt(i32, i32), vt(i32), nil, C{}.
		LocalGet(0).I32Load8U(0).
		LocalGet(0).I32Load8U(1).I32Xor().
		LocalGet(1).I32Xor())

	b.AddFunc(Add2DoubleStructs, sret, nil, nil,
		pairwise(C.F64Load, C.F64Add, C.F64Store, 0, 8))
	b.AddFunc(Add2FloatStructs, sret, nil, nil,
		pairwise(C.F32Load, C.F32Add, C.F32Store, 0, 4))
	b.AddFunc(Add2MixedStructs, sret, nil, nil,
		append(i32Add(0), pairwise(C.F32Load, C.F32Add, C.F32Store, 4)...))
	b.AddFunc(Add2LongTriples, sret, nil, nil,
		pairwise(C.I64Load, C.I64Add, C.I64Store, 0, 8, 16))

	// a single-double struct travels as a plain f64
	b.AddFunc(Add2SingleDoubles, vt(f64, f64), vt(f64), nil, C{}.
		LocalGet(0).LocalGet(1).F64Add())

	b.AddFunc(AddIntAndPairAt, vt(i32, i32), vt(i32), nil, C{}.
		LocalGet(0).
		LocalGet(1).I32Load(0).I32Add().
		LocalGet(1).I32Load(4).I32Add())

	b.AddFunc(IncrementPairAt, vt(i32), nil, nil, C{}.
		LocalGet(0).LocalGet(0).I32Load(0).I32Const(1).I32Add().I32Store(0).
		LocalGet(0).LocalGet(0).I32Load(4).I32Const(1).I32Add().I32Store(4))

	// (count, buf) with int64 values packed at 8-byte steps; a va_list is
	// the same buffer pointer
	sum := C{}.
		Block().Loop().
		LocalGet(0).I32Eqz().BrIf(1).
		LocalGet(2).LocalGet(1).I64Load(0).I64Add().LocalSet(2).
		LocalGet(1).I32Const(8).I32Add().LocalSet(1).
		LocalGet(0).I32Const(1).I32Sub().LocalSet(0).
		Br(0).
		End().End().
		LocalGet(2)
	b.AddFunc(SumLongs, vt(i32, i32), vt(i64), vt(i64), sum)
	b.AddFunc(VSumLongs, vt(i32, i32), vt(i64), vt(i64), sum)

	b.AddFunc(StaticPair, nil, vt(i32), nil, C{}.
		I32Const(staticPairAt).I32Const(StaticPairE1).I32Store(0).
		I32Const(staticPairAt).I32Const(StaticPairE2).I32Store(4).
		I32Const(staticPairAt))

	return b.Build()
}
