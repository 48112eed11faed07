package memory

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"fortio.org/safecast"
	"go.uber.org/zap"

	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/internal/goid"
	"github.com/wippyai/foreign/layout"
)

// Mode is the lifetime policy of an arena.
type Mode uint8

const (
	// ModeConfined arenas may only be used and closed by the goroutine that
	// created them.
	ModeConfined Mode = iota + 1
	// ModeShared arenas may be used from any goroutine and closed once.
	ModeShared
	// ModeAuto arenas are released by the collector once unreachable.
	ModeAuto
	// ModeGlobal is the single arena that is never released.
	ModeGlobal
)

func (m Mode) String() string {
	switch m {
	case ModeConfined:
		return "confined"
	case ModeShared:
		return "shared"
	case ModeAuto:
		return "auto"
	case ModeGlobal:
		return "global"
	default:
		return "unknown"
	}
}

const (
	chunkSize = 64 << 10
	// allocations above this get a chunk of their own
	largeAlloc = chunkSize / 2
	maxAlign   = 1 << 16
)

var arenaIDs atomic.Uint64

// Arena owns native memory and bounds the lifetime of every segment
// allocated from it. Closing an arena invalidates all of its segments at
// once.
type Arena struct {
	region *region
	mode   Mode
	owner  int64
	id     uint64
	// -1 once closed, otherwise the number of active acquisitions
	state atomic.Int64
}

// NewConfined creates an arena confined to the calling goroutine.
func NewConfined() *Arena {
	a := newArena(ModeConfined)
	a.owner = goid.Get()
	return a
}

// NewShared creates an arena usable from any goroutine.
func NewShared() *Arena {
	return newArena(ModeShared)
}

// NewAuto creates an arena that cannot be closed explicitly. Its memory is
// unmapped after the arena and all its segments become unreachable.
func NewAuto() *Arena {
	a := newArena(ModeAuto)
	id := a.id
	runtime.AddCleanup(a, func(r *region) {
		if err := r.release(); err != nil {
			Logger().Warn("auto arena release failed", zap.Uint64("arena", id), zap.Error(err))
		}
	}, a.region)
	return a
}

var global = sync.OnceValue(func() *Arena { return newArena(ModeGlobal) })

// Global returns the arena that lives for the whole process.
func Global() *Arena {
	return global()
}

func newArena(mode Mode) *Arena {
	return &Arena{
		region: &region{},
		mode:   mode,
		id:     arenaIDs.Add(1),
	}
}

// Mode returns the arena's lifetime policy.
func (a *Arena) Mode() Mode { return a.mode }

// ID returns a process-unique arena number, used in logs.
func (a *Arena) ID() uint64 { return a.id }

// IsAlive reports whether the arena has not been closed.
func (a *Arena) IsAlive() bool { return a.state.Load() >= 0 }

// Allocated returns the number of bytes handed out so far.
func (a *Arena) Allocated() uint64 {
	a.region.mu.Lock()
	defer a.region.mu.Unlock()
	return a.region.used
}

func (a *Arena) checkOwner() error {
	if a.mode == ModeConfined && goid.Get() != a.owner {
		return errors.IllegalState(errors.PhaseMemory, "confined arena accessed from a goroutine other than its owner")
	}
	return nil
}

// acquire pins the arena open. Every successful acquire must be paired
// with release.
func (a *Arena) acquire() error {
	if err := a.checkOwner(); err != nil {
		return err
	}
	for {
		s := a.state.Load()
		if s < 0 {
			return errors.IllegalState(errors.PhaseMemory, "arena is closed")
		}
		if a.state.CompareAndSwap(s, s+1) {
			return nil
		}
	}
}

func (a *Arena) release() {
	a.state.Add(-1)
}

// Acquire keeps the arena open until the returned function is called.
// Close fails while any acquisition is outstanding.
func (a *Arena) Acquire() (func(), error) {
	if err := a.acquire(); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(a.release) }, nil
}

// Allocate returns a zeroed segment sized and aligned for l.
func (a *Arena) Allocate(l layout.Layout) (*Segment, error) {
	if l == nil {
		return nil, errors.InvalidInput(errors.PhaseMemory, "nil layout")
	}
	return a.AllocateSize(l.Size(), l.Align())
}

// AllocateSize returns a zeroed segment of size bytes whose address is a
// multiple of align.
func (a *Arena) AllocateSize(size, align uint64) (*Segment, error) {
	if align == 0 || align&(align-1) != 0 || align > maxAlign {
		return nil, errors.InvalidInput(errors.PhaseMemory, "alignment must be a power of two no larger than 64KiB")
	}
	if err := a.acquire(); err != nil {
		return nil, err
	}
	defer a.release()

	addr, err := a.region.allocate(size, align)
	if err != nil {
		return nil, err
	}
	return &Segment{arena: a, addr: addr, size: size}, nil
}

// Close releases the arena's memory. Subsequent access to any of its
// segments fails with an illegal state error.
func (a *Arena) Close() error {
	switch a.mode {
	case ModeGlobal:
		return errors.Unsupported(errors.PhaseMemory, "closing the global arena")
	case ModeAuto:
		return errors.Unsupported(errors.PhaseMemory, "closing an automatic arena")
	}
	if err := a.checkOwner(); err != nil {
		return err
	}
	if !a.state.CompareAndSwap(0, -1) {
		s := a.state.Load()
		if s < 0 {
			return errors.IllegalState(errors.PhaseMemory, "arena already closed")
		}
		return errors.New(errors.PhaseMemory, errors.KindIllegalState).
			Value(s).
			Detail("arena is in use by %d acquirers", s).
			Build()
	}

	used := a.Allocated()
	if err := a.region.release(); err != nil {
		return errors.Wrap(errors.PhaseMemory, errors.KindAllocation, err, "unmap arena memory")
	}
	Logger().Debug("arena closed",
		zap.Uint64("arena", a.id),
		zap.Stringer("mode", a.mode),
		zap.Uint64("bytes", used))
	return nil
}

// region is the arena's chunk list. It is kept separate from Arena so the
// cleanup of an automatic arena does not reference the arena itself.
type region struct {
	mu       sync.Mutex
	chunks   [][]byte
	cur      []byte
	off      uint64
	used     uint64
	released bool
}

func (r *region) allocate(size, align uint64) (uintptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return 0, errors.IllegalState(errors.PhaseMemory, "arena is closed")
	}

	if size <= largeAlloc && r.cur != nil {
		base := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(r.cur))))
		start := layout.AlignTo(base+r.off, align) - base
		if start+size <= uint64(len(r.cur)) {
			r.off = start + size
			r.used += size
			return uintptr(base + start), nil
		}
	}

	need := size + align
	if need < size {
		return 0, errors.AllocationFailed(errors.PhaseMemory, size, align)
	}
	want := layout.AlignTo(max(need, chunkSize), uint64(pageSize()))
	n, err := safecast.Conv[int](want)
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseMemory, size, align)
	}
	chunk, err := mapChunk(n)
	if err != nil {
		return 0, errors.New(errors.PhaseMemory, errors.KindAllocation).
			Value(size).
			Detail("map %d bytes", n).
			Cause(err).
			Build()
	}
	r.chunks = append(r.chunks, chunk)

	base := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(chunk))))
	start := layout.AlignTo(base, align) - base
	if size <= largeAlloc {
		r.cur = chunk
		r.off = start + size
	}
	r.used += size
	return uintptr(base + start), nil
}

func (r *region) release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	var first error
	for _, c := range r.chunks {
		if err := unmapChunk(c); err != nil && first == nil {
			first = err
		}
	}
	r.chunks = nil
	r.cur = nil
	return first
}
