package abi

import "github.com/wippyai/foreign/layout"

const (
	sysvGP = 6
	sysvFP = 8
)

type sysv struct{}

// SysV is the System V AMD64 calling convention.
var SysV Target = sysv{}

func (sysv) Name() string        { return "sysv-x86_64" }
func (sysv) Rules() layout.Rules { return layout.Natural }
func (sysv) AddressSize() uint64 { return 8 }

func (sysv) Registers() Registers {
	return Registers{
		GP:    []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"},
		FP:    []string{"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7"},
		RetGP: []string{"rax", "rdx"},
		RetFP: []string{"xmm0", "xmm1"},
	}
}

func (t sysv) Classify(fd *FunctionDescriptor, opts Options) (*Plan, error) {
	first, err := prepare(t, fd, opts)
	if err != nil {
		return nil, err
	}
	p := newPlan(t, fd, first)

	gp, fp := 0, 0
	var stack uint64

	if ret := fd.ret; ret != nil {
		p.Return.Layout = ret
		if s, ok := ret.(*layout.Scalar); ok {
			bank := BankGP
			if s.ScalarKind().IsFloat() {
				bank = BankFP
			}
			p.Return.Mode = RetDirect
			p.Return.Parts = []Part{{Size: s.Size(), Class: scalarClass(s), Loc: reg(bank, 0)}}
		} else if classes, ok := eightbytes(ret); ok {
			p.Return.Mode = RetRegisters
			p.Return.Parts = eightbyteParts(ret.Size(), classes, 0, 0)
		} else {
			// the hidden pointer takes the first integer argument register
			p.Return.Mode = RetHidden
			p.Return.Pointer = reg(BankGP, 0)
			gp = 1
		}
	}

	for i, l := range fd.args {
		ap := ArgPlan{Layout: l, Variadic: first >= 0 && i >= first}
		if s, ok := l.(*layout.Scalar); ok {
			ap.Mode = scalarMode(s)
			part := Part{Size: s.Size(), Class: scalarClass(s)}
			switch {
			case part.Class == ClassFloat && fp < sysvFP:
				part.Loc = reg(BankFP, fp)
				fp++
			case part.Class == ClassInteger && gp < sysvGP:
				part.Loc = reg(BankGP, gp)
				gp++
			default:
				part.Loc = Loc{Kind: LocStack, StackOffset: stackSlot(&stack, 8, s.Align())}
			}
			ap.Parts = []Part{part}
			p.Args[i] = ap
			continue
		}

		ap.Mode = ByValue
		classes, ok := eightbytes(l)
		needGP, needFP := countClasses(classes)
		if ok && gp+needGP <= sysvGP && fp+needFP <= sysvFP {
			ap.Parts = eightbyteParts(l.Size(), classes, gp, fp)
			gp += needGP
			fp += needFP
		} else {
			// MEMORY class: the whole value is copied into the argument area
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

// eightbytes classifies each 8-byte word of a composite of at most 16
// bytes. A word holding any integer leaf is INTEGER, a word holding only
// float leaves is SSE, a word holding nothing is left zero. Composites that
// are larger, or have a leaf crossing a word boundary, report false.
func eightbytes(l layout.Layout) ([]Class, bool) {
	size := l.Size()
	if size == 0 || size > 16 {
		return nil, false
	}
	classes := make([]Class, (size+7)/8)
	for _, leaf := range layout.Flatten(l) {
		word := leaf.Offset / 8
		if (leaf.End()-1)/8 != word {
			return nil, false
		}
		c := leafClass(leaf)
		if classes[word] != ClassInteger {
			classes[word] = c
		}
	}
	return classes, true
}

func countClasses(classes []Class) (gp, fp int) {
	for _, c := range classes {
		switch c {
		case ClassInteger:
			gp++
		case ClassFloat:
			fp++
		}
	}
	return gp, fp
}

func eightbyteParts(size uint64, classes []Class, gp, fp int) []Part {
	parts := make([]Part, 0, len(classes))
	for i, c := range classes {
		off := uint64(i) * 8
		part := Part{Offset: off, Size: min(8, size-off), Class: c}
		switch c {
		case ClassInteger:
			part.Loc = reg(BankGP, gp)
			gp++
		case ClassFloat:
			part.Loc = reg(BankFP, fp)
			fp++
		default:
			continue
		}
		parts = append(parts, part)
	}
	return parts
}
