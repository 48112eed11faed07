package abi

import (
	"fmt"
	"strings"

	"github.com/wippyai/foreign/layout"
)

// Class is the register class of one part of an argument.
type Class uint8

const (
	ClassInteger Class = iota + 1
	ClassFloat
	ClassMemory
)

func (c Class) String() string {
	switch c {
	case ClassInteger:
		return "integer"
	case ClassFloat:
		return "float"
	case ClassMemory:
		return "memory"
	default:
		return "none"
	}
}

// Bank selects a register file.
type Bank uint8

const (
	BankGP Bank = iota
	BankFP
)

func (b Bank) String() string {
	if b == BankFP {
		return "fp"
	}
	return "gp"
}

// LocKind is where a part travels.
type LocKind uint8

const (
	// LocRegister is an argument register of Bank at Index.
	LocRegister LocKind = iota + 1
	// LocStack is a byte offset into the outgoing argument area. On wasm32
	// that area is the variadic argument buffer.
	LocStack
	// LocSlot is a WebAssembly parameter or result index.
	LocSlot
	// LocIndirect is the dedicated indirect-result register (AArch64 x8).
	LocIndirect
)

// Loc is a concrete location for a part.
type Loc struct {
	Kind        LocKind
	Bank        Bank
	Index       int
	StackOffset uint64
}

func (l Loc) String() string {
	switch l.Kind {
	case LocRegister:
		return fmt.Sprintf("%s%d", l.Bank, l.Index)
	case LocStack:
		return fmt.Sprintf("stack+%d", l.StackOffset)
	case LocSlot:
		return fmt.Sprintf("slot%d", l.Index)
	case LocIndirect:
		return "indirect"
	default:
		return "?"
	}
}

// Part is a byte range of an argument's value image and its location.
// Register parts are loaded little-endian and zero-extended.
type Part struct {
	Offset uint64
	Size   uint64
	Class  Class
	Loc    Loc
}

// Mode is how an argument crosses the boundary.
type Mode uint8

const (
	// Direct passes a non-address scalar.
	Direct Mode = iota + 1
	// Address passes a pointer scalar.
	Address
	// ByValue splits a composite's bytes across registers or the stack.
	ByValue
	// ByReference passes the address of a caller-owned copy.
	ByReference
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Address:
		return "address"
	case ByValue:
		return "by-value"
	case ByReference:
		return "by-reference"
	default:
		return "unknown"
	}
}

// ArgPlan is the classification of one argument.
type ArgPlan struct {
	Layout   layout.Layout
	Parts    []Part
	Mode     Mode
	Variadic bool
}

// ImageSize is the number of bytes of the argument's value image: the
// layout size, or the address size for by-reference arguments.
func (a ArgPlan) ImageSize(addrSize uint64) uint64 {
	if a.Mode == ByReference {
		return addrSize
	}
	return a.Layout.Size()
}

// RetMode is how the result comes back.
type RetMode uint8

const (
	RetVoid RetMode = iota
	// RetDirect returns a scalar, or a composite carried as one scalar, in
	// the first return location.
	RetDirect
	// RetRegisters returns a composite split across return registers.
	RetRegisters
	// RetHidden has the caller pass the address of the result buffer.
	RetHidden
)

func (m RetMode) String() string {
	switch m {
	case RetDirect:
		return "direct"
	case RetRegisters:
		return "registers"
	case RetHidden:
		return "hidden"
	default:
		return "void"
	}
}

// RetPlan is the classification of the result. For RetHidden, Pointer is
// where the result buffer address is passed.
type RetPlan struct {
	Layout  layout.Layout
	Parts   []Part
	Pointer Loc
	Mode    RetMode
}

// Plan is the complete, immutable calling-convention assignment for one
// descriptor on one target.
type Plan struct {
	Target     Target
	Descriptor *FunctionDescriptor
	Args       []ArgPlan
	Return     RetPlan
	// StackSize is the size of the outgoing stack area in bytes.
	StackSize uint64
	// StackAlign is the required alignment of the outgoing stack area.
	StackAlign uint64
	// VarargSlot is the slot receiving the variadic buffer address on
	// wasm32, or -1.
	VarargSlot int
	// FirstVariadic is the index of the first variadic argument, or -1.
	FirstVariadic int
	GPRegsUsed    int
	// FPRegsUsed is also the vector register count reported to variadic
	// callees on x86-64.
	FPRegsUsed int
	// Slots lists the wasm32 parameter slots in order.
	Slots   []SlotType
	Results []SlotType
}

// IsVariadic reports whether the plan was built for a variadic call.
func (p *Plan) IsVariadic() bool { return p.FirstVariadic >= 0 }

func (p *Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", p.Target.Name(), p.Descriptor)
	for i, a := range p.Args {
		v := ""
		if a.Variadic {
			v = " variadic"
		}
		fmt.Fprintf(&b, "  arg%d %s %s%s:", i, a.Layout, a.Mode, v)
		for _, part := range a.Parts {
			fmt.Fprintf(&b, " [%d+%d %s %s]", part.Offset, part.Size, part.Class, part.Loc)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "  ret %s", p.Return.Mode)
	if p.Return.Layout != nil {
		fmt.Fprintf(&b, " %s", p.Return.Layout)
	}
	switch p.Return.Mode {
	case RetHidden:
		fmt.Fprintf(&b, " via %s", p.Return.Pointer)
	case RetDirect, RetRegisters:
		for _, part := range p.Return.Parts {
			fmt.Fprintf(&b, " [%d+%d %s %s]", part.Offset, part.Size, part.Class, part.Loc)
		}
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "  stack %d gp %d fp %d", p.StackSize, p.GPRegsUsed, p.FPRegsUsed)
	return b.String()
}

// SlotType is a WebAssembly value type.
type SlotType uint8

const (
	I32 SlotType = iota + 1
	I64
	F32
	F64
)

func (s SlotType) String() string {
	switch s {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "?"
	}
}

// SlotOf returns the wasm value type carrying a part.
func SlotOf(p Part) SlotType {
	if p.Class == ClassFloat {
		if p.Size == 4 {
			return F32
		}
		return F64
	}
	if p.Size > 4 {
		return I64
	}
	return I32
}
