package engine

import (
	"context"
	"encoding/binary"

	"fortio.org/safecast"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/linker"
	"github.com/wippyai/foreign/memory"
)

// export runs one exported function under the wasm32 C ABI.
type export struct {
	m    *Module
	name string
	fn   api.Function
}

// staged is host memory copied into the guest for the duration of a call.
type staged struct {
	guest uint32
	ref   *memory.Segment
}

// Call implements linker.Callee. Host memory reached through address and
// by-reference arguments is staged into guest memory; address targets are
// copied back afterwards so the function's writes are visible.
func (x *export) Call(ctx context.Context, c *linker.Call) (uint64, error) {
	plan := c.Plan
	if plan.Target.Name() != abi.Wasm32.Name() {
		return 0, errors.New(errors.PhaseInvoke, errors.KindUnsupported).
			Value(x.name).
			Detail("call planned for %s, module %s runs wasm32", plan.Target.Name(), x.m.name).
			Build()
	}
	if n := len(x.fn.Definition().ParamTypes()); n != len(plan.Slots) {
		return 0, errors.New(errors.PhaseInvoke, errors.KindArity).
			Value(x.name).
			Detail("%s#%s takes %d parameters, call has %d slots", x.m.name, x.name, n, len(plan.Slots)).
			Build()
	}

	m := x.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scratch.reset()

	params := make([]uint64, len(plan.Slots))
	var varargs []byte
	if plan.VarargSlot >= 0 {
		varargs = make([]byte, plan.StackSize)
	}
	var copyBack []staged

	for i, ap := range plan.Args {
		img := c.Args[i].Image
		ref := c.Args[i].Ref
		switch {
		case ap.Mode == abi.ByReference && ref != nil:
			guest, err := m.stage(ref, ap.Layout.Size(), ap.Layout.Align())
			if err != nil {
				return 0, err
			}
			img = le32(guest)
		case ap.Mode == abi.Address && ref != nil && ref.Len() > 0:
			guest, err := m.stage(ref, ref.Len(), 8)
			if err != nil {
				return 0, err
			}
			img = le32(guest)
			copyBack = append(copyBack, staged{guest: guest, ref: ref})
		}
		for _, part := range ap.Parts {
			b := img[part.Offset : part.Offset+part.Size]
			switch part.Loc.Kind {
			case abi.LocSlot:
				params[part.Loc.Index] = leLoad(b)
			case abi.LocStack:
				copy(varargs[part.Loc.StackOffset:], b)
			}
		}
	}

	if plan.VarargSlot >= 0 {
		var buf uint32
		if len(varargs) > 0 {
			var err error
			if buf, err = m.stageBytes(varargs, 8); err != nil {
				return 0, err
			}
		}
		params[plan.VarargSlot] = uint64(buf)
	}

	ret := plan.Return
	var retAddr uint32
	if ret.Mode == abi.RetHidden {
		var err error
		if retAddr, err = m.scratch.alloc(ret.Layout.Size(), ret.Layout.Align()); err != nil {
			return 0, err
		}
		params[ret.Pointer.Index] = uint64(retAddr)
	}

	results, err := x.fn.Call(ctx, params...)
	if err != nil {
		return 0, err
	}

	for _, s := range copyBack {
		if err := m.unstage(s.guest, s.ref, s.ref.Len()); err != nil {
			return 0, err
		}
	}

	switch ret.Mode {
	case abi.RetHidden:
		if err := m.unstage(retAddr, c.Return, ret.Layout.Size()); err != nil {
			return 0, err
		}
	case abi.RetDirect:
		raw := results[0]
		if c.Return != nil {
			// a singleton composite comes back as its only scalar
			part := ret.Parts[0]
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], raw)
			if err := c.Return.Write(part.Offset, buf[:part.Size]); err != nil {
				return 0, err
			}
		}
		return raw, nil
	}
	return 0, nil
}

// MapAddress implements linker.AddressMapper. A returned address is a
// guest offset; the segment views linear memory from there to its end and
// aliases it until the memory grows.
func (x *export) MapAddress(addr uint64) (*memory.Segment, error) {
	if addr == 0 {
		return memory.Null, nil
	}
	m := x.m
	m.mu.Lock()
	defer m.mu.Unlock()
	view, err := m.mem.View(addr)
	if err != nil {
		return nil, err
	}
	return memory.OfBytes(view), nil
}

func (m *Module) stage(ref *memory.Segment, n, align uint64) (uint32, error) {
	data, err := ref.Read(0, n)
	if err != nil {
		return 0, err
	}
	return m.stageBytes(data, align)
}

func (m *Module) stageBytes(data []byte, align uint64) (uint32, error) {
	guest, err := m.scratch.alloc(uint64(len(data)), align)
	if err != nil {
		return 0, err
	}
	return guest, m.mem.Write(guest, data)
}

func (m *Module) unstage(guest uint32, dst *memory.Segment, n uint64) error {
	length, err := safecast.Conv[uint32](n)
	if err != nil {
		return errors.Overflow(errors.PhaseInvoke, nil, n, "uint32")
	}
	data, err := m.mem.Read(guest, length)
	if err != nil {
		return err
	}
	return dst.Write(0, data)
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func leLoad(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}
