package layout

import (
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/foreign/errors"
)

// FromWIT converts a WIT value type to the equivalent C layout. Records and
// tuples become structs; enums and flags become the smallest integer that
// holds their discriminant or bits. Types with no fixed C representation
// (strings, lists, options, results, variants, handles) are rejected.
func FromWIT(t wit.Type) (Layout, error) {
	return fromWIT(t, nil)
}

// MustFromWIT is like FromWIT but panics on error.
func MustFromWIT(t wit.Type) Layout {
	l, err := FromWIT(t)
	if err != nil {
		panic(err)
	}
	return l
}

func fromWIT(t wit.Type, path []string) (Layout, error) {
	switch x := t.(type) {
	case wit.Bool:
		return Bool, nil
	case wit.S8, wit.U8:
		return Int8, nil
	case wit.S16:
		return Int16, nil
	case wit.U16:
		return Char, nil
	case wit.S32, wit.U32, wit.Char:
		return Int32, nil
	case wit.S64, wit.U64:
		return Int64, nil
	case wit.F32:
		return Float32, nil
	case wit.F64:
		return Float64, nil
	case *wit.TypeDef:
		l, err := fromTypeDef(x, path)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, unsupportedWIT(path, t)
	}
}

func fromTypeDef(td *wit.TypeDef, path []string) (Layout, error) {
	switch kind := td.Kind.(type) {
	case *wit.Record:
		members := make([]Layout, 0, len(kind.Fields))
		for _, f := range kind.Fields {
			m, err := fromWIT(f.Type, append(path, f.Name))
			if err != nil {
				return nil, err
			}
			members = append(members, m.WithName(f.Name))
		}
		return named(Struct(members...))(td)
	case *wit.Tuple:
		members := make([]Layout, 0, len(kind.Types))
		for i, elem := range kind.Types {
			m, err := fromWIT(elem, append(path, Member(i).String()))
			if err != nil {
				return nil, err
			}
			members = append(members, m)
		}
		return named(Struct(members...))(td)
	case *wit.Enum:
		return discriminant(len(kind.Cases)), nil
	case *wit.Flags:
		n := len(kind.Flags)
		switch {
		case n <= 8:
			return Int8, nil
		case n <= 16:
			return Int16, nil
		case n <= 32:
			return Int32, nil
		default:
			seq, err := SequenceOf(uint64((n+31)/32), Int32)
			if err != nil {
				return nil, err
			}
			return seq, nil
		}
	case wit.Type:
		return fromWIT(kind, path)
	default:
		return nil, unsupportedWIT(path, td)
	}
}

func discriminant(cases int) Layout {
	switch {
	case cases <= 1<<8:
		return Int8
	case cases <= 1<<16:
		return Int16
	default:
		return Int32
	}
}

func named(g *Group, err error) func(td *wit.TypeDef) (Layout, error) {
	return func(td *wit.TypeDef) (Layout, error) {
		if err != nil {
			return nil, err
		}
		if td.Name != nil {
			return g.WithName(*td.Name), nil
		}
		return g, nil
	}
}

func unsupportedWIT(path []string, t wit.Type) error {
	return errors.New(errors.PhaseLayout, errors.KindUnsupported).
		Path(path...).
		Detail("no C layout for WIT type %T", t).
		Build()
}
