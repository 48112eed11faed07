// Package errors provides structured error types for the foreign bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the member path, the Go and layout types involved,
// and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInvoke, errors.KindTypeMismatch).
//		Path("arg1").
//		GoType("string").
//		Layout("i32").
//		Detail("cannot convert string to int32").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseInvoke, path, "string", "i32")
//	err := errors.OutOfBounds(errors.PhaseMemory, offset, 4, length)
//
// All errors implement the standard error interface and support errors.Is/As.
// Matching with errors.Is compares Phase and Kind only; the package-level
// sentinels match on Kind alone regardless of phase.
package errors
