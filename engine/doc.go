// Package engine loads WebAssembly modules as native libraries for the
// wasm32 C ABI.
//
// This package wraps wazero. A Module implements linker.Library, and every
// symbol it returns executes the call plan the linker computed for
// abi.Wasm32:
//
//	C argument              Core parameter
//	───────────────────────────────────────────
//	bool, int8..int32       i32
//	int64                   i64
//	float, double           f32, f64
//	pointer                 i32 (guest address)
//	single-scalar struct    that scalar
//	other struct            i32 pointer to a copy
//	struct result           leading i32 result pointer
//	variadic arguments      trailing i32 pointer to a packed buffer
//
// # Address Translation
//
// Host segments live outside the guest's linear memory. Before a call the
// bytes of every by-reference argument and every sized address argument are
// staged into a scratch region of guest memory, and the guest address is
// passed instead. After the call, address arguments are copied back so that
// writes through pointers are visible to the caller. Zero-length address
// segments, such as pointers previously returned by the module, pass
// through unchanged.
//
// The scratch region is taken from the module's cabi_realloc when it
// exports one, otherwise by growing its memory.
//
// # Thread Safety
//
// Engine is safe for concurrent use; compilation is shared across
// concurrent loads of the same bytes. Calls into one Module are serialised.
package engine
