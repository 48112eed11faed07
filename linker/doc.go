// Package linker binds native symbols to function descriptors and performs
// downcalls.
//
// # Main Types
//
//   - Linker: classifies descriptors for one target and creates handles
//   - Handle: an immutable, bound downcall, safe for concurrent Invoke
//   - Symbol: a resolved native entry point and the Callee that executes it
//   - Call: the marshalled form of one invocation, handed to the Callee
//
// # Argument Conventions
//
// Scalar positions take Go numbers or bools, converted with range checks.
// Address positions take a native *memory.Segment, a uintptr, or nil for
// the null address; heap segments are rejected there unless the handle was
// bound with Critical(true). Composite positions
// take a non-nil *memory.Segment holding at least the layout's bytes; heap
// segments are accepted because the value is copied.
//
// Composite results are written to a segment allocated from the allocator
// passed to Invoke, after every argument converted. Address results come
// back as zero-length segments in the global arena; use Reinterpret to
// access them. Callees implementing AddressMapper translate them instead.
//
// VaListBuilder lays out a va_list for functions that take one as a
// parameter.
//
// # Example
//
//	l := linker.NewWithDefaults(abi.SysV)
//	fd := abi.MustOf(layout.Int32, layout.Int32, layout.Int32)
//	h, _ := l.Downcall(sym, fd)
//	sum, _ := h.Invoke(ctx, nil, 112, 123) // int32(235)
package linker
