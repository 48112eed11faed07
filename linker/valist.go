package linker

import (
	"strconv"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
	"github.com/wippyai/foreign/memory"
)

// SysV x86-64 va_list: {u32 gp_offset; u32 fp_offset; void *overflow_arg_area;
// void *reg_save_area} over a save area of six GP and eight 16-byte vector
// registers.
const (
	sysvTagSize  = 24
	sysvGPArea   = 6 * 8
	sysvSaveArea = sysvGPArea + 8*16
)

// AArch64 va_list: {void *__stack; void *__gr_top; void *__vr_top;
// int __gr_offs; int __vr_offs}.
const (
	aapcsListSize = 32
	aapcsGRArea   = 8 * 8
	aapcsVRArea   = 8 * 16
)

// VaListBuilder lays out a va_list in memory for functions that take one
// as a parameter, such as vprintf. Values land where the target's va_arg
// reads them: the register save areas and then the overflow area on SysV
// and AAPCS64, a packed buffer on wasm32.
type VaListBuilder struct {
	target  abi.Target
	layouts []layout.Layout
	values  []any
}

// NewVaList starts an empty va_list for target.
func NewVaList(target abi.Target) *VaListBuilder {
	return &VaListBuilder{target: target}
}

// Add appends one argument. Values convert as they do for Invoke. Kinds C
// promotes in variadic position are rejected by Build.
func (b *VaListBuilder) Add(l layout.Layout, v any) *VaListBuilder {
	b.layouts = append(b.layouts, l)
	b.values = append(b.values, v)
	return b
}

// Len returns the number of arguments added.
func (b *VaListBuilder) Len() int { return len(b.values) }

// Build writes the list with memory from alloc. The returned segment's
// address is the va_list value to pass as an address argument; it stays
// valid as long as alloc's memory does. Composites the target passes by
// reference are copied into alloc too.
func (b *VaListBuilder) Build(alloc memory.SegmentAllocator) (*memory.Segment, error) {
	if b.target == nil {
		return nil, errors.InvalidInput(errors.PhaseInvoke, "va_list without a target")
	}
	if alloc == nil {
		return nil, errors.InvalidInput(errors.PhaseInvoke, "va_list requires a segment allocator")
	}
	fd, err := abi.OfVoid(b.layouts...)
	if err != nil {
		return nil, err
	}
	plan, err := b.target.Classify(fd, abi.Variadic(0))
	if err != nil {
		return nil, err
	}

	m := &marshaller{plan: plan, copies: alloc}
	defer m.done(Logger(), "va_list")
	call, err := m.marshal(b.values)
	if err != nil {
		return nil, err
	}

	switch b.target.Name() {
	case abi.SysV.Name():
		return sysvVaList(call, alloc)
	case abi.AAPCS64.Name():
		return aapcsVaList(call, alloc)
	case abi.Wasm32.Name():
		return wasmVaList(call, alloc)
	}
	return nil, errors.Unsupported(errors.PhaseInvoke, "no va_list layout for target "+b.target.Name())
}

// overflowArea copies the stack parts of call into alloc and returns its
// address, or 0 when nothing spilled.
func overflowArea(call *Call, alloc memory.SegmentAllocator) (uintptr, error) {
	stack := call.StackImage()
	if len(stack) == 0 {
		return 0, nil
	}
	area, err := alloc.AllocateSize(uint64(len(stack)), 16)
	if err != nil {
		return 0, err
	}
	if err := area.Write(0, stack); err != nil {
		return 0, err
	}
	return area.Address(), nil
}

// saveRegisters writes every register part of call into the save areas,
// gpStride and fpStride bytes per register.
func saveRegisters(call *Call, gp, fp *memory.Segment, gpStride, fpStride uint64) error {
	for i, ap := range call.Plan.Args {
		for _, part := range ap.Parts {
			if part.Loc.Kind != abi.LocRegister {
				continue
			}
			area, off := gp, uint64(part.Loc.Index)*gpStride
			if part.Loc.Bank == abi.BankFP {
				area, off = fp, uint64(part.Loc.Index)*fpStride
			}
			if err := area.SetInt64(off, int64(call.Load(i, part))); err != nil {
				return err
			}
		}
	}
	return nil
}

func sysvVaList(call *Call, alloc memory.SegmentAllocator) (*memory.Segment, error) {
	save, err := alloc.AllocateSize(sysvSaveArea, 16)
	if err != nil {
		return nil, err
	}
	gp, err := save.Slice(0, sysvGPArea)
	if err != nil {
		return nil, err
	}
	fp, err := save.Slice(sysvGPArea, sysvSaveArea-sysvGPArea)
	if err != nil {
		return nil, err
	}
	if err := saveRegisters(call, gp, fp, 8, 16); err != nil {
		return nil, err
	}
	overflow, err := overflowArea(call, alloc)
	if err != nil {
		return nil, err
	}

	tag, err := alloc.AllocateSize(sysvTagSize, 8)
	if err != nil {
		return nil, err
	}
	if err := tag.SetInt32(0, 0); err != nil {
		return nil, err
	}
	if err := tag.SetInt32(4, sysvGPArea); err != nil {
		return nil, err
	}
	if err := tag.SetAddress(8, overflow); err != nil {
		return nil, err
	}
	if err := tag.SetAddress(16, save.Address()); err != nil {
		return nil, err
	}
	return tag, nil
}

func aapcsVaList(call *Call, alloc memory.SegmentAllocator) (*memory.Segment, error) {
	gr, err := alloc.AllocateSize(aapcsGRArea, 16)
	if err != nil {
		return nil, err
	}
	vr, err := alloc.AllocateSize(aapcsVRArea, 16)
	if err != nil {
		return nil, err
	}
	if err := saveRegisters(call, gr, vr, 8, 16); err != nil {
		return nil, err
	}
	stack, err := overflowArea(call, alloc)
	if err != nil {
		return nil, err
	}

	list, err := alloc.AllocateSize(aapcsListSize, 8)
	if err != nil {
		return nil, err
	}
	// the offsets count up from minus the area size to zero
	fields := []func() error{
		func() error { return list.SetAddress(0, stack) },
		func() error { return list.SetAddress(8, gr.Address()+aapcsGRArea) },
		func() error { return list.SetAddress(16, vr.Address()+aapcsVRArea) },
		func() error { return list.SetInt32(24, -aapcsGRArea) },
		func() error { return list.SetInt32(28, -aapcsVRArea) },
	}
	for _, set := range fields {
		if err := set(); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// wasmVaList is the packed argument buffer itself; a wasm32 va_list is a
// plain pointer into it.
func wasmVaList(call *Call, alloc memory.SegmentAllocator) (*memory.Segment, error) {
	for i, a := range call.Args {
		if a.Ref != nil {
			return nil, errors.New(errors.PhaseInvoke, errors.KindUnsupported).
				Path("arg"+strconv.Itoa(i)).
				Detail("segment addresses cannot be placed in a wasm32 va_list").
				Build()
		}
	}
	stack := call.StackImage()
	buf, err := alloc.AllocateSize(max(uint64(len(stack)), 8), 8)
	if err != nil {
		return nil, err
	}
	if err := buf.Write(0, stack); err != nil {
		return nil, err
	}
	return buf, nil
}
