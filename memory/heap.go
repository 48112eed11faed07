package memory

import "unsafe"

// OfBytes wraps b as a heap segment. Writes through the segment are visible
// in b.
func OfBytes(b []byte) *Segment {
	return ofHeap(b)
}

// OfInt32s wraps v as a heap segment.
func OfInt32s(v []int32) *Segment {
	return ofHeap(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(v))), len(v)*4))
}

// OfInt64s wraps v as a heap segment.
func OfInt64s(v []int64) *Segment {
	return ofHeap(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(v))), len(v)*8))
}

// OfFloat64s wraps v as a heap segment.
func OfFloat64s(v []float64) *Segment {
	return ofHeap(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(v))), len(v)*8))
}

func ofHeap(b []byte) *Segment {
	if b == nil {
		b = []byte{}
	}
	s := &Segment{heap: b, size: uint64(len(b))}
	if len(b) > 0 {
		s.addr = uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	}
	return s
}
