package machine

import (
	"math"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/memory"
)

// ArgList reads a va_list passed by address, the way va_arg does in a
// callee such as vprintf. Every read advances the list in memory.
type ArgList struct {
	f    *Frame
	list *memory.Segment
	sysv bool
}

// VaListAt opens the va_list at addr. Its layout follows the frame's
// target.
func (f *Frame) VaListAt(addr uintptr) (*ArgList, error) {
	var size uint64
	switch f.target.Name() {
	case abi.SysV.Name():
		size = 24
	case abi.AAPCS64.Name():
		size = 32
	default:
		return nil, errors.Unsupported(errors.PhaseInvoke, "no va_list layout for target "+f.target.Name())
	}
	list, err := f.Memory(addr, size)
	if err != nil {
		return nil, err
	}
	return &ArgList{f: f, list: list, sysv: f.target.Name() == abi.SysV.Name()}, nil
}

// Int64 returns the next integer or address argument.
func (a *ArgList) Int64() (int64, error) {
	v, err := a.next(abi.BankGP)
	return int64(v), err
}

// Float64 returns the next floating-point argument.
func (a *ArgList) Float64() (float64, error) {
	v, err := a.next(abi.BankFP)
	return math.Float64frombits(v), err
}

func (a *ArgList) next(bank abi.Bank) (uint64, error) {
	if a.sysv {
		return a.sysvNext(bank)
	}
	return a.aapcsNext(bank)
}

// sysvNext reads from reg_save_area while gp_offset or fp_offset is below
// its limit, then from overflow_arg_area.
func (a *ArgList) sysvNext(bank abi.Bank) (uint64, error) {
	field, limit, step := uint64(0), int32(48), int32(8)
	if bank == abi.BankFP {
		field, limit, step = 4, 176, 16
	}
	off, err := a.list.GetInt32(field)
	if err != nil {
		return 0, err
	}
	if off+step > limit {
		return a.overflow(8)
	}
	save, err := a.list.GetAddress(16)
	if err != nil {
		return 0, err
	}
	v, err := a.word(save + uintptr(off))
	if err != nil {
		return 0, err
	}
	return v, a.list.SetInt32(field, off+step)
}

// aapcsNext reads below __gr_top or __vr_top while the matching offset is
// negative, then from __stack.
func (a *ArgList) aapcsNext(bank abi.Bank) (uint64, error) {
	offField, topField, step := uint64(24), uint64(8), int32(8)
	if bank == abi.BankFP {
		offField, topField, step = 28, 16, 16
	}
	offs, err := a.list.GetInt32(offField)
	if err != nil {
		return 0, err
	}
	if offs >= 0 {
		return a.overflow(0)
	}
	top, err := a.list.GetAddress(topField)
	if err != nil {
		return 0, err
	}
	v, err := a.word(top - uintptr(-offs))
	if err != nil {
		return 0, err
	}
	return v, a.list.SetInt32(offField, offs+step)
}

// overflow reads the next 8-byte stack slot through the pointer at field.
func (a *ArgList) overflow(field uint64) (uint64, error) {
	area, err := a.list.GetAddress(field)
	if err != nil {
		return 0, err
	}
	v, err := a.word(area)
	if err != nil {
		return 0, err
	}
	return v, a.list.SetAddress(field, area+8)
}

func (a *ArgList) word(addr uintptr) (uint64, error) {
	seg, err := a.f.Memory(addr, 8)
	if err != nil {
		return 0, err
	}
	v, err := seg.GetInt64(0)
	return uint64(v), err
}
