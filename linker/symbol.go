package linker

import (
	"context"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/linker/internal/coerce"
	"github.com/wippyai/foreign/memory"
)

// Symbol is a resolved native function.
type Symbol struct {
	Callee  Callee
	Name    string
	Address uintptr
}

// Library resolves symbols by name.
type Library interface {
	Name() string
	Lookup(name string) (Symbol, error)
}

// Callee executes a marshalled call on the native side. It returns the raw
// bits of a direct result; composite results are written to Call.Return.
type Callee interface {
	Call(ctx context.Context, c *Call) (uint64, error)
}

// AddressMapper is implemented by callees whose address results point into
// their own address space. MapAddress turns such a result into a segment the
// caller can access; address 0 maps to memory.Null.
type AddressMapper interface {
	MapAddress(addr uint64) (*memory.Segment, error)
}

// Arg is one marshalled argument.
type Arg struct {
	// Image is the argument's value bytes: the scalar, the composite's
	// bytes, or for by-reference and address arguments the address.
	Image []byte
	// Ref is the memory an address or by-reference argument points to,
	// when known.
	Ref *memory.Segment
}

// Call is one invocation in marshalled form.
type Call struct {
	Plan *abi.Plan
	Args []Arg
	// Return receives composite results; nil otherwise.
	Return *memory.Segment
}

// Load returns the register value of part of argument i: the part's bytes,
// little-endian and zero-extended.
func (c *Call) Load(i int, part abi.Part) uint64 {
	img := c.Args[i].Image
	return coerce.Load(img[part.Offset : part.Offset+part.Size])
}

// StackImage builds the outgoing stack area from all stack parts.
func (c *Call) StackImage() []byte {
	if c.Plan.StackSize == 0 {
		return nil
	}
	stack := make([]byte, c.Plan.StackSize)
	for i, a := range c.Plan.Args {
		for _, part := range a.Parts {
			if part.Loc.Kind != abi.LocStack {
				continue
			}
			img := c.Args[i].Image
			copy(stack[part.Loc.StackOffset:], img[part.Offset:part.Offset+part.Size])
		}
	}
	return stack
}
