package machine

import (
	"encoding/binary"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/memory"
)

// Body is a function written against values instead of registers. Each
// argument is a segment holding the argument's bytes; by-reference
// arguments are the caller's copy itself. ret receives the result and is
// nil for void functions.
type Body func(args []*memory.Segment, ret *memory.Segment) error

// Compile defines name as body behind the prologue and epilogue a compiler
// would emit for fd: arguments are collected from registers, the stack and
// by-reference pointers, and the result is placed where the caller expects
// it. The prologue is derived from the library's target only.
func (l *Library) Compile(name string, fd *abi.FunctionDescriptor, body Body) error {
	return l.CompileWith(name, fd, abi.Options{}, body)
}

// CompileWith is Compile for a descriptor classified with opts, such as a
// variadic call shape.
func (l *Library) CompileWith(name string, fd *abi.FunctionDescriptor, opts abi.Options, body Body) error {
	plan, err := l.target.Classify(fd, opts)
	if err != nil {
		return err
	}
	l.Define(name, func(f *Frame) error {
		args, err := prologue(f, plan)
		if err != nil {
			return err
		}
		ret, err := resultSlot(f, plan)
		if err != nil {
			return err
		}
		if err := body(args, ret); err != nil {
			return err
		}
		return epilogue(f, plan, ret)
	})
	return nil
}

func prologue(f *Frame, plan *abi.Plan) ([]*memory.Segment, error) {
	args := make([]*memory.Segment, len(plan.Args))
	for i, ap := range plan.Args {
		size := ap.Layout.Size()
		if ap.Mode == abi.ByReference {
			seg, err := f.Memory(uintptr(f.word(ap.Parts[0])), size)
			if err != nil {
				return nil, err
			}
			args[i] = seg
			continue
		}
		img := make([]byte, size)
		for _, part := range ap.Parts {
			switch part.Loc.Kind {
			case abi.LocRegister:
				var buf [8]byte
				binary.LittleEndian.PutUint64(buf[:], f.reg(part.Loc))
				copy(img[part.Offset:part.Offset+part.Size], buf[:part.Size])
			case abi.LocStack:
				off := part.Loc.StackOffset
				copy(img[part.Offset:part.Offset+part.Size], f.Stack[off:off+part.Size])
			}
		}
		args[i] = memory.OfBytes(img)
	}
	return args, nil
}

func resultSlot(f *Frame, plan *abi.Plan) (*memory.Segment, error) {
	ret := plan.Return
	switch ret.Mode {
	case abi.RetVoid:
		return nil, nil
	case abi.RetHidden:
		addr := f.Indirect
		if ret.Pointer.Kind == abi.LocRegister {
			addr = uintptr(f.GP[ret.Pointer.Index])
		}
		return f.Memory(addr, ret.Layout.Size())
	}
	return memory.OfBytes(make([]byte, ret.Layout.Size())), nil
}

func epilogue(f *Frame, plan *abi.Plan, ret *memory.Segment) error {
	rp := plan.Return
	switch rp.Mode {
	case abi.RetHidden:
		// the buffer address comes back in the first return register
		if rp.Pointer.Kind == abi.LocRegister {
			f.RetGP[0] = uint64(ret.Address())
		}
	case abi.RetDirect, abi.RetRegisters:
		for _, part := range rp.Parts {
			b, err := ret.Read(part.Offset, part.Size)
			if err != nil {
				return err
			}
			var buf [8]byte
			copy(buf[:], b)
			v := binary.LittleEndian.Uint64(buf[:])
			if part.Loc.Bank == abi.BankFP {
				f.RetFP[part.Loc.Index] = v
			} else {
				f.RetGP[part.Loc.Index] = v
			}
		}
	}
	return nil
}

func (f *Frame) reg(l abi.Loc) uint64 {
	if l.Bank == abi.BankFP {
		return f.FP[l.Index]
	}
	return f.GP[l.Index]
}

// word reads an 8-byte part from its register or stack slot.
func (f *Frame) word(p abi.Part) uint64 {
	if p.Loc.Kind == abi.LocStack {
		return f.StackUint64(p.Loc.StackOffset)
	}
	return f.reg(p.Loc)
}
