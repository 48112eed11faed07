package engine

import (
	"context"

	"fortio.org/safecast"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
)

const pageSize = 1 << 16

// guestMemory adapts wazero api.Memory to bounds-checked copies.
type guestMemory struct {
	mem api.Memory
}

// Read copies length bytes at offset out of guest memory.
func (m guestMemory) Read(offset, length uint32) ([]byte, error) {
	if m.mem == nil {
		return nil, errors.Unsupported(errors.PhaseInvoke, "module exports no memory")
	}
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseInvoke, uint64(offset), uint64(length), uint64(m.mem.Size()))
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// View returns guest memory from offset to its current end without
// copying.
func (m guestMemory) View(offset uint64) ([]byte, error) {
	if m.mem == nil {
		return nil, errors.Unsupported(errors.PhaseInvoke, "module exports no memory")
	}
	size := uint64(m.mem.Size())
	if offset >= size {
		return nil, errors.OutOfBounds(errors.PhaseInvoke, offset, 1, size)
	}
	view, ok := m.mem.Read(uint32(offset), uint32(size-offset))
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseInvoke, offset, size-offset, size)
	}
	return view, nil
}

// Write copies data into guest memory at offset.
func (m guestMemory) Write(offset uint32, data []byte) error {
	if m.mem == nil {
		return errors.Unsupported(errors.PhaseInvoke, "module exports no memory")
	}
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseInvoke, uint64(offset), uint64(len(data)), uint64(m.mem.Size()))
	}
	return nil
}

// scratch is a bump region of guest memory, reset before every call.
type scratch struct {
	base uint32
	size uint32
	used uint32
}

func (s *scratch) reset() { s.used = 0 }

func (s *scratch) alloc(size, align uint64) (uint32, error) {
	if s.size == 0 {
		return 0, errors.Unsupported(errors.PhaseInvoke, "module has no memory to stage arguments in")
	}
	off := layout.AlignTo(uint64(s.base)+uint64(s.used), max(align, 1)) - uint64(s.base)
	if off+size > uint64(s.size) {
		return 0, errors.New(errors.PhaseInvoke, errors.KindAllocation).
			Value(size).
			Detail("staging area exhausted: %d of %d bytes used", s.used, s.size).
			Build()
	}
	used, err := safecast.Conv[uint32](off + size)
	if err != nil {
		return 0, errors.Overflow(errors.PhaseInvoke, nil, off+size, "uint32")
	}
	s.used = used
	return s.base + uint32(off), nil
}

// reserve obtains the staging region: from the module's cabi_realloc when
// it exports one, else by growing memory.
func reserve(ctx context.Context, mod api.Module, size uint32) (scratch, error) {
	mem := mod.Memory()
	if mem == nil {
		return scratch{}, nil
	}

	var base uint32
	if fn := mod.ExportedFunction("cabi_realloc"); fn != nil {
		res, err := fn.Call(ctx, 0, 0, 16, uint64(size))
		if err != nil {
			return scratch{}, errors.Load("cabi_realloc staging area", err)
		}
		if len(res) == 0 {
			return scratch{}, errors.Load("cabi_realloc returned no result", nil)
		}
		base = api.DecodeU32(res[0])
	} else {
		prev, ok := mem.Grow((size + pageSize - 1) / pageSize)
		if !ok {
			return scratch{}, errors.Load("grow memory for staging area", nil)
		}
		base = prev * pageSize
	}

	// a bump allocator may hand out memory past the current end
	if end := uint64(base) + uint64(size); end > uint64(mem.Size()) {
		need, err := safecast.Conv[uint32]((end - uint64(mem.Size()) + pageSize - 1) / pageSize)
		if err != nil {
			return scratch{}, errors.Overflow(errors.PhaseLoad, nil, end, "uint32")
		}
		if _, ok := mem.Grow(need); !ok {
			return scratch{}, errors.Load("grow memory for staging area", nil)
		}
	}
	return scratch{base: base, size: size}, nil
}
