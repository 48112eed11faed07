// Package native loads shared libraries of the running process's platform
// and calls their functions.
//
// A Library wraps a dlopen handle. Its symbols are linker callees: the
// linker classifies and marshals as for any register target, and the
// callee moves the planned register and stack images into a real call
// through purego. No cgo is involved.
//
//	lib, err := native.Open(native.LibC)
//	if err != nil {
//		return err
//	}
//	defer lib.Close()
//
//	target, _ := abi.Host()
//	l := linker.NewWithDefaults(target)
//	strlen, err := l.Lookup(lib, "strlen", abi.MustOf(layout.Int64, layout.Address))
//
// Calls are limited to what the trampoline can express: at most fifteen
// integer register and stack words, results in at most two integer or one
// floating-point register, no AArch64 indirect results, and on x86-64 no
// floating-point arguments to variadic functions.
package native
