package layout

// Leaf is one scalar of a flattened layout.
type Leaf struct {
	Kind   ScalarKind
	Offset uint64
	Size   uint64
}

// End returns the offset one past the leaf.
func (l Leaf) End() uint64 { return l.Offset + l.Size }

// Flatten returns the scalar leaves of l in declaration order with their
// absolute byte offsets. Union members contribute overlapping leaves;
// padding contributes nothing.
func Flatten(l Layout) []Leaf {
	var out []Leaf
	return flatten(out, l, 0)
}

func flatten(out []Leaf, l Layout, base uint64) []Leaf {
	switch x := l.(type) {
	case *Scalar:
		out = append(out, Leaf{Kind: x.kind, Offset: base, Size: x.size})
	case *Sequence:
		stride := x.Stride()
		for i := uint64(0); i < x.count; i++ {
			out = flatten(out, x.elem, base+i*stride)
		}
	case *Group:
		for _, m := range x.members {
			out = flatten(out, m.Layout, base+m.Offset)
		}
	}
	return out
}

// Distinct drops leaves that repeat an earlier leaf's offset and kind, as
// union members do when they alias the same bytes. Order is kept.
func Distinct(leaves []Leaf) []Leaf {
	out := make([]Leaf, 0, len(leaves))
	seen := make(map[Leaf]struct{}, len(leaves))
	for _, lf := range leaves {
		if _, dup := seen[lf]; dup {
			continue
		}
		seen[lf] = struct{}{}
		out = append(out, lf)
	}
	return out
}

// Walk calls fn for the scalars reachable from l without expanding
// sequences: a sequence's element is visited once whatever its count.
// It returns false as soon as fn does.
func Walk(l Layout, fn func(*Scalar) bool) bool {
	switch x := l.(type) {
	case *Scalar:
		return fn(x)
	case *Sequence:
		return Walk(x.elem, fn)
	case *Group:
		for _, m := range x.members {
			if !Walk(m.Layout, fn) {
				return false
			}
		}
	}
	return true
}
