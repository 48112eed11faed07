// Package foreign calls C-ABI functions from Go without cgo.
//
// A caller describes native memory with layouts, allocates it from arenas,
// describes a function's signature with a descriptor, and binds that
// signature to a symbol. The linker classifies the signature once for a
// calling convention and returns an immutable handle that marshals Go
// values, runs the call, and converts the result.
//
// # Architecture Overview
//
//	foreign/
//	├── layout/          C data layouts: scalars, structs, unions, arrays, paths
//	├── memory/          Segments and arenas over native and heap memory
//	├── abi/             Function descriptors and calling-convention classifiers
//	├── linker/          Downcall handles: marshalling, invocation, results
//	├── machine/         Register-machine libraries for SysV and AAPCS64
//	├── engine/          wasm32 libraries on wazero
//	├── native/          Host shared libraries through dlopen
//	├── config/          TOML manifests and textual signatures
//	├── testlib/         Reference functions for every target
//	├── errors/          Structured error types
//	└── cmd/downcall/    Command-line inspection and calls
//
// # Quick Start
//
// Bind and call a function that adds two int structs:
//
//	pair := layout.MustStruct(layout.Int32.WithName("e1"), layout.Int32.WithName("e2"))
//	fd := abi.MustOf(pair, pair, pair)
//
//	l := linker.NewWithDefaults(abi.SysV)
//	h, err := l.Lookup(lib, "add2IntStructs_returnStruct", fd)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	arena := memory.NewConfined()
//	defer arena.Close()
//
//	a, _ := arena.Allocate(pair)
//	_ = a.SetAt(pair, int32(1), layout.Field("e1"))
//	res, err := h.Invoke(ctx, arena, a, a)
//
// # Calling Conventions
//
// Three targets are built in:
//
//   - abi.SysV: System V x86-64, eightbyte classification
//   - abi.AAPCS64: AArch64 procedure call standard, homogeneous float aggregates
//   - abi.Wasm32: the WebAssembly C ABI as emitted by clang
//
// abi.Host returns the convention of the running process when one is
// supported.
//
// # Memory Model
//
// Confined arenas belong to the goroutine that created them; shared arenas
// may be used from any goroutine. Closing an arena invalidates every
// segment it produced, and fails while a call holds one of them. Automatic
// arenas are released by the garbage collector. Heap segments wrap Go
// slices and may be passed by value but never as an address.
//
// # Thread Safety
//
// Linkers and handles are immutable and safe for concurrent use. Machine
// libraries and engine modules may be called from many goroutines; calls
// into one engine module are serialised.
package foreign
