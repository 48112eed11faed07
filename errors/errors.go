package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLayout   Phase = "layout"   // layout construction and paths
	PhaseMemory   Phase = "memory"   // segment access and arena lifetime
	PhaseClassify Phase = "classify" // descriptor validation and ABI classification
	PhaseBind     Phase = "bind"     // symbol lookup and handle creation
	PhaseInvoke   Phase = "invoke"   // argument marshalling and the call itself
	PhaseLoad     Phase = "load"     // library loading
	PhaseParse    Phase = "parse"    // WIT/manifest parsing
	PhaseConfig   Phase = "config"   // manifest validation
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch   Kind = "type_mismatch"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindIllegalState   Kind = "illegal_state"
	KindInvalidPath    Kind = "invalid_path"
	KindInvalidLayout  Kind = "invalid_layout"
	KindInvalidData    Kind = "invalid_data"
	KindUnsupported    Kind = "unsupported"
	KindAllocation     Kind = "allocation"
	KindOverflow       Kind = "overflow"
	KindArity          Kind = "arity"
	KindNilPointer     Kind = "nil_pointer"
	KindSymbolNotFound Kind = "symbol_not_found"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
	KindNative         Kind = "native"
)

// Sentinels match any phase with the same kind.
var (
	ErrOutOfBounds    = &Error{Kind: KindOutOfBounds}
	ErrIllegalState   = &Error{Kind: KindIllegalState}
	ErrInvalidPath    = &Error{Kind: KindInvalidPath}
	ErrInvalidLayout  = &Error{Kind: KindInvalidLayout}
	ErrUnsupported    = &Error{Kind: KindUnsupported}
	ErrTypeMismatch   = &Error{Kind: KindTypeMismatch}
	ErrArity          = &Error{Kind: KindArity}
	ErrSymbolNotFound = &Error{Kind: KindSymbolNotFound}
	ErrOverflow       = &Error{Kind: KindOverflow}
	ErrAllocation     = &Error{Kind: KindAllocation}
	ErrInvalidInput   = &Error{Kind: KindInvalidInput}
	ErrInvalidData    = &Error{Kind: KindInvalidData}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrNative         = &Error{Kind: KindNative}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Layout string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.Layout != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.Layout != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", layout ")
			b.WriteString(e.Layout)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("layout ")
			b.WriteString(e.Layout)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.Layout != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// IsKind reports whether err, or an error it wraps, is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Kind == kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the member path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Layout sets the layout description
func (b *Builder) Layout(l string) *Builder {
	b.err.Layout = l
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, layout string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: goType,
		Layout: layout,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error for an access of size bytes at offset
func OutOfBounds(phase Phase, offset, size, length uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("access of %d bytes at offset %d out of bounds (length %d)", size, offset, length),
		Value:  offset,
	}
}

// IllegalState creates a lifetime or confinement violation error
func IllegalState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindIllegalState,
		Detail: detail,
	}
}

// InvalidPath creates an invalid member path error
func InvalidPath(path []string, detail string) *Error {
	return &Error{
		Phase:  PhaseLayout,
		Kind:   KindInvalidPath,
		Path:   path,
		Detail: detail,
	}
}

// InvalidLayout creates an invalid layout error
func InvalidLayout(phase Phase, layout, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidLayout,
		Layout: layout,
		Detail: detail,
	}
}

// NilPointer creates a nil pointer error
func NilPointer(phase Phase, path []string, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilPointer,
		Path:   path,
		GoType: goType,
		Detail: "nil pointer",
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Layout: target,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
		Value:  value,
	}
}

// Arity creates an argument count mismatch error
func Arity(phase Phase, got, want int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindArity,
		Detail: fmt.Sprintf("got %d arguments, want %d", got, want),
		Value:  got,
	}
}

// SymbolNotFound creates a symbol lookup error
func SymbolNotFound(library, name string) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindSymbolNotFound,
		Detail: fmt.Sprintf("symbol %q not found in %s", name, library),
		Value:  name,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingSymbol represents a single unresolved symbol
type MissingSymbol struct {
	Library string // e.g., "testlib"
	Name    string // e.g., "add2IntStructs_returnStruct"
}

// MissingSymbolsError is returned when binding a set of functions fails
// because some symbols are absent from their libraries
type MissingSymbolsError struct {
	Symbols []MissingSymbol
}

// NewMissingSymbolsError creates an error from a list of "library#symbol" strings
func NewMissingSymbolsError(keys []string) *MissingSymbolsError {
	result := &MissingSymbolsError{
		Symbols: make([]MissingSymbol, 0, len(keys)),
	}
	for _, key := range keys {
		lib, name := parseSymbolKey(key)
		result.Symbols = append(result.Symbols, MissingSymbol{
			Library: lib,
			Name:    name,
		})
	}
	return result
}

func parseSymbolKey(key string) (library, name string) {
	lib, sym, found := strings.Cut(key, "#")
	if found {
		return lib, sym
	}
	return "", key
}

func (e *MissingSymbolsError) Error() string {
	if len(e.Symbols) == 0 {
		return "[bind] symbol_not_found: no symbols specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d native symbol(s):\n", len(e.Symbols)))

	byLib := make(map[string][]string)
	var libOrder []string
	for _, s := range e.Symbols {
		if _, exists := byLib[s.Library]; !exists {
			libOrder = append(libOrder, s.Library)
		}
		byLib[s.Library] = append(byLib[s.Library], s.Name)
	}

	for _, lib := range libOrder {
		b.WriteString("\n  ")
		if lib == "" {
			b.WriteString("<default>")
		} else {
			b.WriteString(lib)
		}
		b.WriteString(":\n")
		for _, name := range byLib[lib] {
			b.WriteString("    - ")
			b.WriteString(name)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingSymbolsError) Is(target error) bool {
	if _, ok := target.(*MissingSymbolsError); ok {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Kind == KindSymbolNotFound && (t.Phase == "" || t.Phase == PhaseBind)
	}
	return false
}

// Load creates a library loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}
