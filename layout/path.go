package layout

import (
	"strconv"

	"github.com/wippyai/foreign/errors"
)

type stepKind uint8

const (
	stepField stepKind = iota
	stepMember
	stepElem
)

// PathElement selects one level of nesting inside a layout.
type PathElement struct {
	name  string
	index uint64
	kind  stepKind
}

// Field selects the group member named name.
func Field(name string) PathElement {
	return PathElement{kind: stepField, name: name}
}

// Member selects a group member by position; unnamed members are only
// reachable this way.
func Member(index int) PathElement {
	if index < 0 {
		// wraps to an index no group can have
		return PathElement{kind: stepMember, index: ^uint64(0)}
	}
	return PathElement{kind: stepMember, index: uint64(index)}
}

// Elem selects a sequence element.
func Elem(index uint64) PathElement {
	return PathElement{kind: stepElem, index: index}
}

func (p PathElement) String() string {
	switch p.kind {
	case stepField:
		return p.name
	case stepMember:
		return "#" + strconv.FormatUint(p.index, 10)
	default:
		return "[" + strconv.FormatUint(p.index, 10) + "]"
	}
}

// OffsetOf returns the byte offset of the layout selected by path.
func OffsetOf(l Layout, path ...PathElement) (uint64, error) {
	_, off, err := Locate(l, path...)
	return off, err
}

// Select returns the layout selected by path.
func Select(l Layout, path ...PathElement) (Layout, error) {
	sel, _, err := Locate(l, path...)
	return sel, err
}

// Locate walks path from l and returns the selected layout with its offset.
func Locate(l Layout, path ...PathElement) (Layout, uint64, error) {
	if l == nil {
		return nil, 0, errors.InvalidPath(nil, "nil layout")
	}
	cur := l
	offset := uint64(0)
	for i, step := range path {
		walked := pathStrings(path[:i+1])
		switch x := cur.(type) {
		case *Group:
			var (
				m  Placement
				ok bool
			)
			switch step.kind {
			case stepField:
				m, ok = x.Lookup(step.name)
				if !ok {
					return nil, 0, errors.InvalidPath(walked, "no member named "+strconv.Quote(step.name)+" in "+x.String())
				}
			case stepMember:
				if step.index >= uint64(len(x.members)) {
					return nil, 0, errors.InvalidPath(walked, "member index out of range for "+x.String())
				}
				m = x.members[step.index]
			default:
				return nil, 0, errors.InvalidPath(walked, "element selector applied to "+x.kind.String())
			}
			cur = m.Layout
			offset += m.Offset
		case *Sequence:
			if step.kind != stepElem {
				return nil, 0, errors.InvalidPath(walked, "member selector applied to sequence")
			}
			if step.index >= x.count {
				return nil, 0, errors.InvalidPath(walked, "element index out of range for "+x.String())
			}
			cur = x.elem
			offset += step.index * x.Stride()
		default:
			return nil, 0, errors.InvalidPath(walked, "cannot step into "+cur.Kind().String())
		}
	}
	return cur, offset, nil
}

func pathStrings(path []PathElement) []string {
	out := make([]string, len(path))
	for i, p := range path {
		out[i] = p.String()
	}
	return out
}
