package layout

import (
	"strconv"
	"strings"

	"github.com/wippyai/foreign/errors"
)

// Rules selects how struct members are padded.
type Rules uint8

const (
	// Natural places every member at a multiple of its own alignment.
	Natural Rules = iota
	// Power follows the AIX/PPC64 power alignment: a float64 that is not
	// the first member of a struct aligns to 4 bytes.
	Power
)

func (r Rules) String() string {
	if r == Power {
		return "power"
	}
	return "natural"
}

// Placement is a group member with its computed byte offset.
type Placement struct {
	Layout Layout
	Offset uint64
}

// Group is a struct or union layout.
type Group struct {
	name     string
	members  []Placement
	size     uint64
	align    uint64
	kind     Kind
	explicit bool
}

// Struct creates a struct layout with natural packing.
func Struct(members ...Layout) (*Group, error) {
	return StructWith(Natural, members...)
}

// MustStruct is like Struct but panics on error.
func MustStruct(members ...Layout) *Group {
	g, err := Struct(members...)
	if err != nil {
		panic(err)
	}
	return g
}

// StructWith creates a struct layout using the given packing rules.
func StructWith(rules Rules, members ...Layout) (*Group, error) {
	if err := checkMembers(members); err != nil {
		return nil, err
	}

	g := &Group{kind: KindStruct, align: 1, members: make([]Placement, 0, len(members))}
	offset := uint64(0)
	for i, m := range members {
		align := memberAlign(rules, i, m)
		offset = AlignTo(offset, align)
		g.members = append(g.members, Placement{Layout: m, Offset: offset})
		if align > g.align {
			g.align = align
		}
		var err error
		if offset, err = checkedAdd(offset, m.Size()); err != nil {
			return nil, err
		}
	}
	size, err := checkedSize(AlignTo(offset, g.align))
	if err != nil {
		return nil, err
	}
	g.size = size
	return g, nil
}

// MustStructWith is like StructWith but panics on error.
func MustStructWith(rules Rules, members ...Layout) *Group {
	g, err := StructWith(rules, members...)
	if err != nil {
		panic(err)
	}
	return g
}

// Union creates a union layout; every member starts at offset 0.
func Union(members ...Layout) (*Group, error) {
	if err := checkMembers(members); err != nil {
		return nil, err
	}
	g := &Group{kind: KindUnion, align: 1, members: make([]Placement, 0, len(members))}
	maxSize := uint64(0)
	for _, m := range members {
		g.members = append(g.members, Placement{Layout: m})
		if m.Align() > g.align {
			g.align = m.Align()
		}
		if m.Size() > maxSize {
			maxSize = m.Size()
		}
	}
	size, err := checkedSize(AlignTo(maxSize, g.align))
	if err != nil {
		return nil, err
	}
	g.size = size
	return g, nil
}

// MustUnion is like Union but panics on error.
func MustUnion(members ...Layout) *Group {
	g, err := Union(members...)
	if err != nil {
		panic(err)
	}
	return g
}

func checkMembers(members []Layout) error {
	for i, m := range members {
		if m == nil {
			return errors.InvalidLayout(errors.PhaseLayout, "<nil>", "member "+strconv.Itoa(i)+" is nil")
		}
		if p, ok := m.(*Padding); ok && p.name != "" {
			return errors.InvalidLayout(errors.PhaseLayout, p.String(), "padding cannot be a named member")
		}
	}
	return nil
}

func memberAlign(rules Rules, index int, m Layout) uint64 {
	align := m.Align()
	if rules != Power || index == 0 || align <= 4 {
		return align
	}
	switch x := m.(type) {
	case *Scalar:
		if x.kind == KindFloat64 && x.align == 8 {
			return 4
		}
	case *Sequence:
		if s, ok := x.elem.(*Scalar); ok && s.kind == KindFloat64 && s.align == 8 {
			return 4
		}
	}
	return align
}

func (g *Group) Kind() Kind    { return g.kind }
func (g *Group) Size() uint64  { return g.size }
func (g *Group) Align() uint64 { return g.align }
func (g *Group) Name() string  { return g.name }

// IsUnion reports whether members overlap at offset 0.
func (g *Group) IsUnion() bool { return g.kind == KindUnion }

// Members returns the declared members with their offsets.
func (g *Group) Members() []Placement {
	out := make([]Placement, len(g.members))
	copy(out, g.members)
	return out
}

// Len returns the number of declared members.
func (g *Group) Len() int { return len(g.members) }

// Lookup returns the member named name.
func (g *Group) Lookup(name string) (Placement, bool) {
	if name == "" {
		return Placement{}, false
	}
	for _, m := range g.members {
		if m.Layout.Name() == name {
			return m, true
		}
	}
	return Placement{}, false
}

func (g *Group) WithName(name string) Layout {
	c := *g
	c.name = name
	return &c
}

func (g *Group) withAlign(align uint64) Layout {
	c := *g
	c.align = align
	c.explicit = true
	c.size = AlignTo(g.size, align)
	return &c
}

func (g *Group) String() string {
	var b strings.Builder
	if g.explicit {
		b.WriteString(strconv.FormatUint(g.align, 10))
		b.WriteByte('%')
	}
	b.WriteByte('[')
	sep := ""
	if g.kind == KindUnion {
		sep = "|"
	}
	end := uint64(0)
	for i, m := range g.members {
		if i > 0 {
			b.WriteString(sep)
		}
		if g.kind == KindStruct && m.Offset > end {
			b.WriteString("x" + strconv.FormatUint(m.Offset-end, 10))
		}
		b.WriteString(m.Layout.String())
		end = m.Offset + m.Layout.Size()
	}
	if g.kind == KindStruct && g.size > end && len(g.members) > 0 {
		b.WriteString("x" + strconv.FormatUint(g.size-end, 10))
	}
	b.WriteByte(']')
	return decorate(b.String(), g.name)
}
