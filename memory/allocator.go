package memory

import (
	"sync"

	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
)

// SegmentAllocator hands out native segments. *Arena and *SlicingAllocator
// implement it.
type SegmentAllocator interface {
	AllocateSize(size, align uint64) (*Segment, error)
}

// Allocate allocates a segment sized and aligned for l from a.
func Allocate(a SegmentAllocator, l layout.Layout) (*Segment, error) {
	if a == nil {
		return nil, errors.InvalidInput(errors.PhaseMemory, "nil allocator")
	}
	if l == nil {
		return nil, errors.InvalidInput(errors.PhaseMemory, "nil layout")
	}
	return a.AllocateSize(l.Size(), l.Align())
}

// SlicingAllocator carves consecutive, aligned slices out of one segment.
// It never reuses memory; Reset starts over from the beginning.
type SlicingAllocator struct {
	seg *Segment
	mu  sync.Mutex
	off uint64
}

// NewSlicingAllocator creates an allocator over seg.
func NewSlicingAllocator(seg *Segment) *SlicingAllocator {
	return &SlicingAllocator{seg: seg}
}

// AllocateSize returns the next zeroed slice of size bytes aligned to align.
func (a *SlicingAllocator) AllocateSize(size, align uint64) (*Segment, error) {
	if align == 0 || align&(align-1) != 0 {
		return nil, errors.InvalidInput(errors.PhaseMemory, "alignment must be a power of two")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	base := uint64(a.seg.addr)
	start := layout.AlignTo(base+a.off, align) - base
	if start > a.seg.size || size > a.seg.size-start {
		return nil, errors.New(errors.PhaseMemory, errors.KindAllocation).
			Value(size).
			Detail("slicing allocator exhausted: need %d bytes at offset %d of %d", size, start, a.seg.size).
			Build()
	}
	out, err := a.seg.Slice(start, size)
	if err != nil {
		return nil, err
	}
	if err := out.Fill(0); err != nil {
		return nil, err
	}
	a.off = start + size
	return out, nil
}

// Reset makes the whole segment available again.
func (a *SlicingAllocator) Reset() {
	a.mu.Lock()
	a.off = 0
	a.mu.Unlock()
}
