package abi

import "github.com/wippyai/foreign/layout"

type wasm32 struct{}

// Wasm32 is the WebAssembly basic C ABI (clang's wasm32 target).
var Wasm32 Target = wasm32{}

func (wasm32) Name() string         { return "wasm32" }
func (wasm32) Rules() layout.Rules  { return layout.Natural }
func (wasm32) AddressSize() uint64  { return 4 }
func (wasm32) Registers() Registers { return Registers{} }

func (t wasm32) Classify(fd *FunctionDescriptor, opts Options) (*Plan, error) {
	first, err := prepare(t, fd, opts)
	if err != nil {
		return nil, err
	}
	p := newPlan(t, fd, first)
	p.StackAlign = 8

	if ret := fd.ret; ret != nil {
		p.Return.Layout = ret
		if part, ok := singleton(ret); ok {
			part.Loc = Loc{Kind: LocSlot}
			p.Return.Mode = RetDirect
			p.Return.Parts = []Part{part}
			p.Results = []SlotType{SlotOf(part)}
		} else {
			// sret: the result buffer address is the leading parameter
			p.Return.Mode = RetHidden
			p.Return.Pointer = Loc{Kind: LocSlot}
			p.Slots = append(p.Slots, I32)
		}
	}

	var buf uint64
	for i, l := range fd.args {
		ap := ArgPlan{Layout: l, Variadic: first >= 0 && i >= first}
		s, isScalar := l.(*layout.Scalar)
		switch {
		case ap.Variadic:
			off := layout.AlignTo(buf, max(l.Align(), 4))
			buf = off + layout.AlignTo(l.Size(), 4)
			part := Part{Size: l.Size(), Class: ClassMemory, Loc: Loc{Kind: LocStack, StackOffset: off}}
			ap.Mode = ByValue
			if isScalar {
				ap.Mode = scalarMode(s)
				part.Class = scalarClass(s)
			}
			ap.Parts = []Part{part}
		case isScalar:
			ap.Mode = scalarMode(s)
			ap.Parts = []Part{p.slot(Part{Size: s.Size(), Class: scalarClass(s)})}
		default:
			if part, ok := singleton(l); ok {
				ap.Mode = ByValue
				ap.Parts = []Part{p.slot(part)}
			} else {
				ap.Mode = ByReference
				ap.Parts = []Part{p.slot(Part{Size: 4, Class: ClassInteger})}
			}
		}
		p.Args[i] = ap
	}

	if first >= 0 {
		p.VarargSlot = len(p.Slots)
		p.Slots = append(p.Slots, I32)
	}
	p.StackSize = buf
	p.GPRegsUsed = len(p.Slots)
	return p, nil
}

// slot assigns the next parameter slot to part.
func (p *Plan) slot(part Part) Part {
	part.Loc = Loc{Kind: LocSlot, Index: len(p.Slots)}
	p.Slots = append(p.Slots, SlotOf(part))
	return part
}

// singleton reports whether l holds exactly one scalar, which wasm32 passes
// and returns as that scalar.
func singleton(l layout.Layout) (Part, bool) {
	if l.Size() == 0 || l.Size() > 8 {
		return Part{}, false
	}
	leaves := layout.Distinct(layout.Flatten(l))
	if len(leaves) != 1 {
		return Part{}, false
	}
	lf := leaves[0]
	return Part{Offset: lf.Offset, Size: lf.Size, Class: leafClass(lf)}, true
}
