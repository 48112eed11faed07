package memory

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"fortio.org/safecast"

	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
)

// Segment is a bounded view of contiguous memory. Native segments belong to
// an arena and are usable only while it is alive; heap segments wrap Go
// slices and are always alive, but carry no stable native address.
//
// All multi-byte values are little-endian.
type Segment struct {
	arena *Arena
	heap  []byte
	addr  uintptr
	size  uint64
}

// Null is the zero-length native segment at address 0.
var Null = &Segment{arena: Global()}

// OfAddress returns a zero-length native segment at addr in the global
// arena. Use Reinterpret to give it a size.
func OfAddress(addr uintptr) *Segment {
	if addr == 0 {
		return Null
	}
	return &Segment{arena: Global(), addr: addr}
}

// Address returns the start address. For heap segments the value is only
// meaningful while the backing slice is reachable.
func (s *Segment) Address() uintptr { return s.addr }

// Len returns the segment size in bytes.
func (s *Segment) Len() uint64 { return s.size }

// IsNative reports whether the segment lives in arena-managed memory.
func (s *Segment) IsNative() bool { return s.heap == nil && s.arena != nil }

// Arena returns the owning arena, or nil for heap segments.
func (s *Segment) Arena() *Arena { return s.arena }

// IsNull reports whether the segment is at address 0.
func (s *Segment) IsNull() bool { return s.IsNative() && s.addr == 0 }

func (s *Segment) String() string {
	kind := "native"
	if !s.IsNative() {
		kind = "heap"
	}
	return fmt.Sprintf("Segment{addr=%#x, len=%d, %s}", s.addr, s.size, kind)
}

func (s *Segment) checkBounds(off, n uint64) error {
	if off > s.size || n > s.size-off {
		return errors.OutOfBounds(errors.PhaseMemory, off, n, s.size)
	}
	return nil
}

// access runs fn over bytes [off, off+n) while the owning arena is pinned.
func (s *Segment) access(off, n uint64, fn func(b []byte)) error {
	if err := s.checkBounds(off, n); err != nil {
		return err
	}
	if s.heap != nil {
		fn(s.heap[off : off+n])
		return nil
	}
	if err := s.arena.acquire(); err != nil {
		return err
	}
	defer s.arena.release()
	if n == 0 {
		fn(nil)
		return nil
	}
	fn(unsafe.Slice((*byte)(unsafe.Pointer(s.addr+uintptr(off))), n))
	return nil
}

// Acquire pins the owning arena for the duration of a native call.
func (s *Segment) Acquire() (func(), error) {
	if !s.IsNative() {
		return func() {}, nil
	}
	return s.arena.Acquire()
}

// Pin holds the segment in place for a native call. Native segments pin
// their arena like Acquire; heap segments pin their backing array so its
// address stays valid until the returned function is called.
func (s *Segment) Pin() (func(), error) {
	if s.IsNative() {
		return s.arena.Acquire()
	}
	if len(s.heap) == 0 {
		return func() {}, nil
	}
	var p runtime.Pinner
	p.Pin(unsafe.SliceData(s.heap))
	return p.Unpin, nil
}

// Slice returns the sub-segment [off, off+n).
func (s *Segment) Slice(off, n uint64) (*Segment, error) {
	if err := s.checkBounds(off, n); err != nil {
		return nil, err
	}
	out := &Segment{arena: s.arena, addr: s.addr + uintptr(off), size: n}
	if s.heap != nil {
		out.heap = s.heap[off : off+n : off+n]
	}
	return out, nil
}

// Reinterpret returns a segment at the same address with size n in the same
// arena. The caller vouches that n bytes are accessible; nothing is checked.
func (s *Segment) Reinterpret(n uint64) (*Segment, error) {
	return s.ReinterpretIn(s.arena, n)
}

// ReinterpretIn is like Reinterpret but ties the result to arena.
func (s *Segment) ReinterpretIn(arena *Arena, n uint64) (*Segment, error) {
	if !s.IsNative() {
		return nil, errors.Unsupported(errors.PhaseMemory, "reinterpret of a heap segment")
	}
	if arena == nil {
		return nil, errors.InvalidInput(errors.PhaseMemory, "nil arena")
	}
	if _, err := safecast.Conv[int64](n); err != nil {
		return nil, errors.Overflow(errors.PhaseMemory, nil, n, "int64")
	}
	return &Segment{arena: arena, addr: s.addr, size: n}, nil
}

// Read copies n bytes starting at off.
func (s *Segment) Read(off, n uint64) ([]byte, error) {
	var out []byte
	err := s.access(off, n, func(b []byte) {
		out = make([]byte, len(b))
		copy(out, b)
	})
	return out, err
}

// Write copies data into the segment at off.
func (s *Segment) Write(off uint64, data []byte) error {
	return s.access(off, uint64(len(data)), func(b []byte) { copy(b, data) })
}

// Bytes returns a copy of the whole segment.
func (s *Segment) Bytes() ([]byte, error) {
	return s.Read(0, s.size)
}

// CopyFrom copies all of src to the start of s.
func (s *Segment) CopyFrom(src *Segment) error {
	data, err := src.Bytes()
	if err != nil {
		return err
	}
	return s.Write(0, data)
}

// Fill sets every byte of the segment to v.
func (s *Segment) Fill(v byte) error {
	return s.access(0, s.size, func(b []byte) {
		for i := range b {
			b[i] = v
		}
	})
}

// GetBool reads a bool; any non-zero byte is true.
func (s *Segment) GetBool(off uint64) (bool, error) {
	var v bool
	err := s.access(off, 1, func(b []byte) { v = b[0] != 0 })
	return v, err
}

func (s *Segment) SetBool(off uint64, v bool) error {
	return s.access(off, 1, func(b []byte) {
		b[0] = 0
		if v {
			b[0] = 1
		}
	})
}

func (s *Segment) GetInt8(off uint64) (int8, error) {
	var v int8
	err := s.access(off, 1, func(b []byte) { v = int8(b[0]) })
	return v, err
}

func (s *Segment) SetInt8(off uint64, v int8) error {
	return s.access(off, 1, func(b []byte) { b[0] = byte(v) })
}

func (s *Segment) GetChar(off uint64) (uint16, error) {
	var v uint16
	err := s.access(off, 2, func(b []byte) { v = binary.LittleEndian.Uint16(b) })
	return v, err
}

func (s *Segment) SetChar(off uint64, v uint16) error {
	return s.access(off, 2, func(b []byte) { binary.LittleEndian.PutUint16(b, v) })
}

func (s *Segment) GetInt16(off uint64) (int16, error) {
	v, err := s.GetChar(off)
	return int16(v), err
}

func (s *Segment) SetInt16(off uint64, v int16) error {
	return s.SetChar(off, uint16(v))
}

func (s *Segment) GetInt32(off uint64) (int32, error) {
	v, err := s.getUint32(off)
	return int32(v), err
}

func (s *Segment) SetInt32(off uint64, v int32) error {
	return s.setUint32(off, uint32(v))
}

func (s *Segment) GetInt64(off uint64) (int64, error) {
	v, err := s.getUint64(off)
	return int64(v), err
}

func (s *Segment) SetInt64(off uint64, v int64) error {
	return s.setUint64(off, uint64(v))
}

func (s *Segment) GetFloat32(off uint64) (float32, error) {
	v, err := s.getUint32(off)
	return math.Float32frombits(v), err
}

func (s *Segment) SetFloat32(off uint64, v float32) error {
	return s.setUint32(off, math.Float32bits(v))
}

func (s *Segment) GetFloat64(off uint64) (float64, error) {
	v, err := s.getUint64(off)
	return math.Float64frombits(v), err
}

func (s *Segment) SetFloat64(off uint64, v float64) error {
	return s.setUint64(off, math.Float64bits(v))
}

// GetAddress reads a 64-bit address.
func (s *Segment) GetAddress(off uint64) (uintptr, error) {
	v, err := s.getUint64(off)
	return uintptr(v), err
}

// SetAddress writes a 64-bit address.
func (s *Segment) SetAddress(off uint64, v uintptr) error {
	return s.setUint64(off, uint64(v))
}

func (s *Segment) getUint32(off uint64) (uint32, error) {
	var v uint32
	err := s.access(off, 4, func(b []byte) { v = binary.LittleEndian.Uint32(b) })
	return v, err
}

func (s *Segment) setUint32(off uint64, v uint32) error {
	return s.access(off, 4, func(b []byte) { binary.LittleEndian.PutUint32(b, v) })
}

func (s *Segment) getUint64(off uint64) (uint64, error) {
	var v uint64
	err := s.access(off, 8, func(b []byte) { v = binary.LittleEndian.Uint64(b) })
	return v, err
}

func (s *Segment) setUint64(off uint64, v uint64) error {
	return s.access(off, 8, func(b []byte) { binary.LittleEndian.PutUint64(b, v) })
}

// Get reads the scalar sc at off. The result type follows the scalar kind:
// bool, int8, uint16 (char), int16, int32, int64, float32, float64 or
// uintptr (address).
func (s *Segment) Get(sc *layout.Scalar, off uint64) (any, error) {
	switch sc.ScalarKind() {
	case layout.KindBool:
		return s.GetBool(off)
	case layout.KindInt8:
		return s.GetInt8(off)
	case layout.KindChar:
		return s.GetChar(off)
	case layout.KindInt16:
		return s.GetInt16(off)
	case layout.KindInt32:
		return s.GetInt32(off)
	case layout.KindInt64:
		return s.GetInt64(off)
	case layout.KindFloat32:
		return s.GetFloat32(off)
	case layout.KindFloat64:
		return s.GetFloat64(off)
	case layout.KindAddress:
		if sc.Size() == 4 {
			v, err := s.getUint32(off)
			return uintptr(v), err
		}
		return s.GetAddress(off)
	}
	return nil, errors.Unsupported(errors.PhaseMemory, "scalar kind "+sc.ScalarKind().String())
}

// Set writes v as the scalar sc at off. v must have the Go type Get returns
// for the kind; addresses also accept a native *Segment.
func (s *Segment) Set(sc *layout.Scalar, off uint64, v any) error {
	mismatch := func() error {
		return errors.TypeMismatch(errors.PhaseMemory, nil, fmt.Sprintf("%T", v), sc.String())
	}
	switch sc.ScalarKind() {
	case layout.KindBool:
		x, ok := v.(bool)
		if !ok {
			return mismatch()
		}
		return s.SetBool(off, x)
	case layout.KindInt8:
		x, ok := v.(int8)
		if !ok {
			return mismatch()
		}
		return s.SetInt8(off, x)
	case layout.KindChar:
		x, ok := v.(uint16)
		if !ok {
			return mismatch()
		}
		return s.SetChar(off, x)
	case layout.KindInt16:
		x, ok := v.(int16)
		if !ok {
			return mismatch()
		}
		return s.SetInt16(off, x)
	case layout.KindInt32:
		x, ok := v.(int32)
		if !ok {
			return mismatch()
		}
		return s.SetInt32(off, x)
	case layout.KindInt64:
		x, ok := v.(int64)
		if !ok {
			return mismatch()
		}
		return s.SetInt64(off, x)
	case layout.KindFloat32:
		x, ok := v.(float32)
		if !ok {
			return mismatch()
		}
		return s.SetFloat32(off, x)
	case layout.KindFloat64:
		x, ok := v.(float64)
		if !ok {
			return mismatch()
		}
		return s.SetFloat64(off, x)
	case layout.KindAddress:
		var addr uintptr
		switch x := v.(type) {
		case uintptr:
			addr = x
		case *Segment:
			if !x.IsNative() {
				return errors.Unsupported(errors.PhaseMemory, "heap segment not allowed as an address")
			}
			addr = x.addr
		default:
			return mismatch()
		}
		if sc.Size() == 4 {
			a32, err := safecast.Conv[uint32](uint64(addr))
			if err != nil {
				return errors.Overflow(errors.PhaseMemory, nil, addr, "uint32")
			}
			return s.setUint32(off, a32)
		}
		return s.SetAddress(off, addr)
	}
	return errors.Unsupported(errors.PhaseMemory, "scalar kind "+sc.ScalarKind().String())
}

// GetAt reads the scalar selected by path inside root, where root describes
// the segment from offset 0.
func (s *Segment) GetAt(root layout.Layout, path ...layout.PathElement) (any, error) {
	sc, off, err := scalarAt(root, path)
	if err != nil {
		return nil, err
	}
	return s.Get(sc, off)
}

// SetAt writes v to the scalar selected by path inside root.
func (s *Segment) SetAt(root layout.Layout, v any, path ...layout.PathElement) error {
	sc, off, err := scalarAt(root, path)
	if err != nil {
		return err
	}
	return s.Set(sc, off, v)
}

func scalarAt(root layout.Layout, path []layout.PathElement) (*layout.Scalar, uint64, error) {
	sel, off, err := layout.Locate(root, path...)
	if err != nil {
		return nil, 0, err
	}
	sc, ok := sel.(*layout.Scalar)
	if !ok {
		names := make([]string, len(path))
		for i, p := range path {
			names[i] = p.String()
		}
		return nil, 0, errors.TypeMismatch(errors.PhaseMemory, names, "scalar", sel.String())
	}
	return sc, off, nil
}
