package abi

import "github.com/wippyai/foreign/layout"

const (
	aapcsGP = 8
	aapcsFP = 8
)

type aapcs64 struct{}

// AAPCS64 is the AArch64 procedure call standard as used on Linux.
var AAPCS64 Target = aapcs64{}

func (aapcs64) Name() string        { return "aapcs64" }
func (aapcs64) Rules() layout.Rules { return layout.Natural }
func (aapcs64) AddressSize() uint64 { return 8 }

func (aapcs64) Registers() Registers {
	gp := []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"}
	fp := []string{"v0", "v1", "v2", "v3", "v4", "v5", "v6", "v7"}
	return Registers{GP: gp, FP: fp, RetGP: gp[:2], RetFP: fp[:4], Indirect: "x8"}
}

func (t aapcs64) Classify(fd *FunctionDescriptor, opts Options) (*Plan, error) {
	first, err := prepare(t, fd, opts)
	if err != nil {
		return nil, err
	}
	p := newPlan(t, fd, first)

	if ret := fd.ret; ret != nil {
		p.Return = aapcsReturn(ret)
	}

	gp, fp := 0, 0
	var stack uint64
	for i, l := range fd.args {
		ap := ArgPlan{Layout: l, Variadic: first >= 0 && i >= first}
		if s, ok := l.(*layout.Scalar); ok {
			ap.Mode = scalarMode(s)
			part := Part{Size: s.Size(), Class: scalarClass(s)}
			switch {
			case part.Class == ClassFloat && fp < aapcsFP:
				part.Loc = reg(BankFP, fp)
				fp++
			case part.Class == ClassInteger && gp < aapcsGP:
				part.Loc = reg(BankGP, gp)
				gp++
			default:
				part.Loc = Loc{Kind: LocStack, StackOffset: stackSlot(&stack, 8, s.Align())}
			}
			ap.Parts = []Part{part}
			p.Args[i] = ap
			continue
		}

		if n, elem, ok := homogeneousFloat(l); ok {
			ap.Mode = ByValue
			if fp+n <= aapcsFP {
				ap.Parts = hfaParts(n, elem, fp)
				fp += n
			} else {
				fp = aapcsFP
				off := stackSlot(&stack, l.Size(), l.Align())
				ap.Parts = []Part{{Size: l.Size(), Class: ClassMemory, Loc: Loc{Kind: LocStack, StackOffset: off}}}
			}
			p.Args[i] = ap
			continue
		}

		if l.Size() > 16 {
			// the caller passes a pointer to its own copy
			ap.Mode = ByReference
			part := Part{Size: 8, Class: ClassInteger}
			if gp < aapcsGP {
				part.Loc = reg(BankGP, gp)
				gp++
			} else {
				part.Loc = Loc{Kind: LocStack, StackOffset: stackSlot(&stack, 8, 8)}
			}
			ap.Parts = []Part{part}
			p.Args[i] = ap
			continue
		}

		ap.Mode = ByValue
		n := int((l.Size() + 7) / 8)
		if l.Align() == 16 && gp%2 == 1 {
			gp++
		}
		if gp+n <= aapcsGP {
			base := gp
			ap.Parts = chunks(l.Size(), func(i int) Loc { return reg(BankGP, base+i) })
			gp += n
		} else {
			// never split between registers and stack
			gp = aapcsGP
			off := stackSlot(&stack, l.Size(), l.Align())
			ap.Parts = []Part{{Size: l.Size(), Class: ClassMemory, Loc: Loc{Kind: LocStack, StackOffset: off}}}
		}
		p.Args[i] = ap
	}

	p.StackSize = stack
	p.GPRegsUsed = gp
	p.FPRegsUsed = fp
	return p, nil
}

func aapcsReturn(ret layout.Layout) RetPlan {
	rp := RetPlan{Layout: ret}
	if s, ok := ret.(*layout.Scalar); ok {
		bank := BankGP
		if s.ScalarKind().IsFloat() {
			bank = BankFP
		}
		rp.Mode = RetDirect
		rp.Parts = []Part{{Size: s.Size(), Class: scalarClass(s), Loc: reg(bank, 0)}}
		return rp
	}
	if n, elem, ok := homogeneousFloat(ret); ok {
		rp.Mode = RetRegisters
		rp.Parts = hfaParts(n, elem, 0)
		return rp
	}
	if ret.Size() <= 16 {
		rp.Mode = RetRegisters
		rp.Parts = chunks(ret.Size(), func(i int) Loc { return reg(BankGP, i) })
		return rp
	}
	rp.Mode = RetHidden
	rp.Pointer = Loc{Kind: LocIndirect}
	return rp
}

// hfaMaxSize is four doubles, the largest homogeneous aggregate.
const hfaMaxSize = 32

// homogeneousFloat reports whether l is a homogeneous floating-point
// aggregate: one to four members of one float kind packed back to back.
// Union members aliasing the same float count once.
func homogeneousFloat(l layout.Layout) (int, uint64, bool) {
	if l.Size() == 0 || l.Size() > hfaMaxSize {
		return 0, 0, false
	}
	leaves := layout.Distinct(layout.Flatten(l))
	if len(leaves) == 0 || len(leaves) > 4 {
		return 0, 0, false
	}
	kind := leaves[0].Kind
	elem := leaves[0].Size
	if !kind.IsFloat() {
		return 0, 0, false
	}
	seen := make([]bool, len(leaves))
	for _, lf := range leaves {
		if lf.Kind != kind || lf.Offset%elem != 0 {
			return 0, 0, false
		}
		idx := lf.Offset / elem
		if idx >= uint64(len(leaves)) || seen[idx] {
			return 0, 0, false
		}
		seen[idx] = true
	}
	if l.Size() != uint64(len(leaves))*elem {
		return 0, 0, false
	}
	return len(leaves), elem, true
}

func hfaParts(n int, elem uint64, fp int) []Part {
	parts := make([]Part, n)
	for i := range n {
		parts[i] = Part{Offset: uint64(i) * elem, Size: elem, Class: ClassFloat, Loc: reg(BankFP, fp+i)}
	}
	return parts
}
