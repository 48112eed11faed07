package linker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"fortio.org/safecast"
	"go.uber.org/zap"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
	"github.com/wippyai/foreign/linker/internal/coerce"
	"github.com/wippyai/foreign/memory"
)

// Handle is a bound downcall. It is immutable and safe for concurrent use.
type Handle struct {
	log       *zap.Logger
	plan      *abi.Plan
	sym       Symbol
	critical  bool
	allowHeap bool
}

// Plan returns the classification the handle was built with.
func (h *Handle) Plan() *abi.Plan { return h.plan }

// Descriptor returns the bound function descriptor.
func (h *Handle) Descriptor() *FunctionDescriptor { return h.plan.Descriptor }

// Symbol returns the bound symbol.
func (h *Handle) Symbol() Symbol { return h.sym }

// IsCritical reports whether calls skip the thread transition.
func (h *Handle) IsCritical() bool { return h.critical }

// AllowsHeap reports whether heap segments are accepted as address
// arguments.
func (h *Handle) AllowsHeap() bool { return h.allowHeap }

// Invoke marshals args, calls the native function, and converts the result.
// alloc is required only when the function returns a composite.
//
// Scalar results come back as the Go type of their kind (int32 for Int32,
// and so on), address results as *memory.Segment, composite results as the
// allocated *memory.Segment, and void as nil.
func (h *Handle) Invoke(ctx context.Context, alloc memory.SegmentAllocator, args ...any) (any, error) {
	fd := h.plan.Descriptor
	if len(args) != fd.NumArgs() {
		return nil, errors.Arity(errors.PhaseInvoke, len(args), fd.NumArgs())
	}

	ret := h.plan.Return
	composite := false
	if ret.Mode != abi.RetVoid {
		_, scalar := ret.Layout.(*layout.Scalar)
		composite = !scalar
	}
	if composite && alloc == nil {
		return nil, errors.InvalidInput(errors.PhaseInvoke, "composite result requires a segment allocator")
	}

	m := &marshaller{plan: h.plan, allowHeap: h.allowHeap}
	defer m.done(h.log, h.sym.Name)

	call, err := m.marshal(args)
	if err != nil {
		return nil, err
	}
	// the result is allocated only once every argument converted
	if composite {
		seg, err := memory.Allocate(alloc, ret.Layout)
		if err != nil {
			return nil, err
		}
		if err := m.pin(seg); err != nil {
			return nil, err
		}
		call.Return = seg
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.PhaseInvoke, errors.KindIllegalState, err, "context done before call")
	}

	raw, err := h.call(ctx, call)
	if err != nil {
		return nil, err
	}

	if ret.Mode == abi.RetVoid {
		return nil, nil
	}
	if call.Return != nil {
		return call.Return, nil
	}
	s := ret.Layout.(*layout.Scalar)
	if s.ScalarKind() == layout.KindAddress {
		addr := truncate(raw, s.Size())
		if mapper, ok := h.sym.Callee.(AddressMapper); ok {
			return mapper.MapAddress(addr)
		}
		return memory.OfAddress(uintptr(addr)), nil
	}
	return coerce.FromBits(s.ScalarKind(), truncate(raw, s.Size())), nil
}

func (h *Handle) call(ctx context.Context, call *Call) (raw uint64, err error) {
	if !h.critical {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	raw, err = h.sym.Callee.Call(ctx, call)
	if err != nil {
		if _, ok := err.(*errors.Error); ok {
			return 0, err
		}
		return 0, errors.Wrap(errors.PhaseInvoke, errors.KindNative, err, "native call "+h.sym.Name)
	}
	return raw, nil
}

// marshaller converts Go values into a Call. By-reference copies come from
// copies when set, else from a confined scratch arena that done closes.
type marshaller struct {
	plan      *abi.Plan
	allowHeap bool
	copies    memory.SegmentAllocator
	scratch   *memory.Arena
	releases  []func()
}

func (m *marshaller) marshal(args []any) (*Call, error) {
	call := &Call{Plan: m.plan, Args: make([]Arg, len(args))}
	addrSize := m.plan.Target.AddressSize()
	for i, v := range args {
		arg, err := m.arg(m.plan.Args[i], v, addrSize, []string{"arg" + strconv.Itoa(i)})
		if err != nil {
			return nil, err
		}
		call.Args[i] = arg
	}
	return call, nil
}

func (m *marshaller) arg(ap abi.ArgPlan, v any, addrSize uint64, path []string) (Arg, error) {
	switch ap.Mode {
	case abi.Direct:
		s := ap.Layout.(*layout.Scalar)
		bits, err := coerce.ToBits(s.ScalarKind(), v, path)
		if err != nil {
			return Arg{}, err
		}
		return Arg{Image: coerce.Image(bits, s.Size())}, nil
	case abi.Address:
		arg, err := addressArg(v, addrSize, m.allowHeap, path)
		if err != nil {
			return Arg{}, err
		}
		if arg.Ref != nil {
			if err := m.pin(arg.Ref); err != nil {
				return Arg{}, err
			}
		}
		return arg, nil
	}

	src, err := compositeArg(v, ap.Layout, path)
	if err != nil {
		return Arg{}, err
	}
	if ap.Mode == abi.ByValue {
		img, err := src.Read(0, ap.Layout.Size())
		return Arg{Image: img}, err
	}
	// by-reference copies live until the call returns
	cp, err := memory.Allocate(m.copyAllocator(), ap.Layout)
	if err != nil {
		return Arg{}, err
	}
	if err := copyLayout(cp, src, ap.Layout); err != nil {
		return Arg{}, err
	}
	return Arg{Image: coerce.Image(uint64(cp.Address()), addrSize), Ref: cp}, nil
}

func (m *marshaller) copyAllocator() memory.SegmentAllocator {
	if m.copies != nil {
		return m.copies
	}
	if m.scratch == nil {
		m.scratch = memory.NewConfined()
	}
	return m.scratch
}

func (m *marshaller) pin(seg *memory.Segment) error {
	release, err := seg.Pin()
	if err != nil {
		return err
	}
	m.releases = append(m.releases, release)
	return nil
}

func (m *marshaller) done(log *zap.Logger, symbol string) {
	for _, release := range m.releases {
		release()
	}
	m.releases = nil
	if m.scratch != nil {
		if err := m.scratch.Close(); err != nil {
			log.Warn("release call scratch", zap.String("symbol", symbol), zap.Error(err))
		}
		m.scratch = nil
	}
}

func addressArg(v any, addrSize uint64, allowHeap bool, path []string) (Arg, error) {
	var (
		addr uintptr
		ref  *memory.Segment
	)
	switch x := v.(type) {
	case nil:
	case uintptr:
		addr = x
	case *memory.Segment:
		if x == nil {
			break
		}
		if !x.IsNative() && !allowHeap {
			return Arg{}, errors.New(errors.PhaseInvoke, errors.KindUnsupported).
				Path(path...).
				GoType("*memory.Segment").
				Detail("heap segment not allowed as an address argument without heap access").
				Build()
		}
		addr, ref = x.Address(), x
	default:
		return Arg{}, errors.TypeMismatch(errors.PhaseInvoke, path, fmt.Sprintf("%T", v), "address")
	}
	// A 32-bit callee rewrites the addresses of segments it can stage.
	// Everything else must already fit.
	if addrSize == 4 && (ref == nil || ref.Len() == 0) {
		if _, err := safecast.Conv[uint32](uint64(addr)); err != nil {
			return Arg{}, errors.Overflow(errors.PhaseInvoke, path, addr, "address32")
		}
	}
	return Arg{Image: coerce.Image(uint64(addr), addrSize), Ref: ref}, nil
}

func compositeArg(v any, l layout.Layout, path []string) (*memory.Segment, error) {
	seg, ok := v.(*memory.Segment)
	if !ok || seg == nil {
		return nil, errors.TypeMismatch(errors.PhaseInvoke, path, fmt.Sprintf("%T", v), l.String())
	}
	if seg.Len() < l.Size() {
		return nil, errors.New(errors.PhaseInvoke, errors.KindOutOfBounds).
			Path(path...).
			GoType("*memory.Segment").
			Layout(l.String()).
			Value(seg.Len()).
			Detail("segment of %d bytes is smaller than the layout", seg.Len()).
			Build()
	}
	return seg, nil
}

func copyLayout(dst, src *memory.Segment, l layout.Layout) error {
	data, err := src.Read(0, l.Size())
	if err != nil {
		return err
	}
	return dst.Write(0, data)
}

func truncate(v, size uint64) uint64 {
	if size >= 8 {
		return v
	}
	return v & (1<<(size*8) - 1)
}
