package machine

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/linker"
	"github.com/wippyai/foreign/memory"
)

// Frame is the machine state at function entry and, through the return
// registers, at exit.
type Frame struct {
	ctx    context.Context
	target abi.Target

	// GP and FP are the argument registers.
	GP []uint64
	FP []uint64
	// Stack is the caller's outgoing argument area.
	Stack []byte
	// Indirect is the indirect result register (AArch64 x8).
	Indirect uintptr
	// VectorCount is the number of vector registers a variadic caller
	// reports (x86-64 al).
	VectorCount int

	RetGP []uint64
	RetFP []uint64
}

func newFrame(target abi.Target) *Frame {
	regs := target.Registers()
	return &Frame{
		ctx:    context.Background(),
		target: target,
		GP:     make([]uint64, len(regs.GP)),
		FP:     make([]uint64, len(regs.FP)),
		RetGP:  make([]uint64, len(regs.RetGP)),
		RetFP:  make([]uint64, len(regs.RetFP)),
	}
}

// Context returns the context of the call.
func (f *Frame) Context() context.Context { return f.ctx }

// Memory returns n bytes of native memory at addr.
func (f *Frame) Memory(addr uintptr, n uint64) (*memory.Segment, error) {
	if addr == 0 {
		return nil, errors.NilPointer(errors.PhaseInvoke, nil, "uintptr")
	}
	return memory.OfAddress(addr).Reinterpret(n)
}

func (f *Frame) Int32(i int) int32     { return int32(uint32(f.GP[i])) }
func (f *Frame) Int64(i int) int64     { return int64(f.GP[i]) }
func (f *Frame) Address(i int) uintptr { return uintptr(f.GP[i]) }
func (f *Frame) Float32(i int) float32 { return math.Float32frombits(uint32(f.FP[i])) }
func (f *Frame) Float64(i int) float64 { return math.Float64frombits(f.FP[i]) }

// StackUint64 reads the 8-byte stack slot at off.
func (f *Frame) StackUint64(off uint64) uint64 {
	return binary.LittleEndian.Uint64(f.Stack[off : off+8])
}

// ReturnInt sets the first integer return register.
func (f *Frame) ReturnInt(v int64) { f.RetGP[0] = uint64(v) }

// ReturnFloat64 sets the first floating-point return register.
func (f *Frame) ReturnFloat64(v float64) { f.RetFP[0] = math.Float64bits(v) }

// VaList walks variadic arguments the way va_arg does on register
// targets: registers first, then consecutive 8-byte stack slots.
type VaList struct {
	f     *Frame
	gp    int
	fp    int
	stack uint64
}

// VaStart begins the variadic walk after the named arguments, which used
// gp integer and fp floating-point registers and stack bytes of the
// argument area.
func (f *Frame) VaStart(gp, fp int, stack uint64) *VaList {
	return &VaList{f: f, gp: gp, fp: fp, stack: stack}
}

// Int64 returns the next integer or address argument.
func (v *VaList) Int64() int64 {
	if v.gp < len(v.f.GP) {
		v.gp++
		return int64(v.f.GP[v.gp-1])
	}
	return int64(v.next())
}

// Float64 returns the next floating-point argument.
func (v *VaList) Float64() float64 {
	if v.fp < len(v.f.FP) {
		v.fp++
		return math.Float64frombits(v.f.FP[v.fp-1])
	}
	return math.Float64frombits(v.next())
}

func (v *VaList) next() uint64 {
	u := v.f.StackUint64(v.stack)
	v.stack += 8
	return u
}

// load places the marshalled call into a fresh frame.
func load(target abi.Target, c *linker.Call) (*Frame, error) {
	f := newFrame(target)
	for i, ap := range c.Plan.Args {
		for _, part := range ap.Parts {
			if part.Loc.Kind != abi.LocRegister {
				continue
			}
			v := c.Load(i, part)
			if part.Loc.Bank == abi.BankFP {
				f.FP[part.Loc.Index] = v
			} else {
				f.GP[part.Loc.Index] = v
			}
		}
	}
	f.Stack = c.StackImage()

	ret := c.Plan.Return
	if ret.Mode == abi.RetHidden {
		if c.Return == nil {
			return nil, errors.IllegalState(errors.PhaseInvoke, "hidden result without a result segment")
		}
		switch ret.Pointer.Kind {
		case abi.LocIndirect:
			f.Indirect = c.Return.Address()
		default:
			f.GP[ret.Pointer.Index] = uint64(c.Return.Address())
		}
	}
	if c.Plan.IsVariadic() {
		f.VectorCount = c.Plan.FPRegsUsed
	}
	return f, nil
}

// store moves the return registers into the result.
func store(f *Frame, c *linker.Call) (uint64, error) {
	ret := c.Plan.Return
	switch ret.Mode {
	case abi.RetDirect:
		return f.retReg(ret.Parts[0].Loc), nil
	case abi.RetRegisters:
		var buf [8]byte
		for _, part := range ret.Parts {
			binary.LittleEndian.PutUint64(buf[:], f.retReg(part.Loc))
			if err := c.Return.Write(part.Offset, buf[:part.Size]); err != nil {
				return 0, err
			}
		}
	}
	return 0, nil
}

func (f *Frame) retReg(l abi.Loc) uint64 {
	if l.Bank == abi.BankFP {
		return f.RetFP[l.Index]
	}
	return f.RetGP[l.Index]
}
