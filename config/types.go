package config

import (
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
)

// Resolver maps a type expression to a layout.
type Resolver func(expr string) (layout.Layout, error)

var scalarNames = map[string]layout.Layout{
	"bool":    layout.Bool,
	"int8":    layout.Int8,
	"char":    layout.Char,
	"int16":   layout.Int16,
	"int32":   layout.Int32,
	"int":     layout.Int32,
	"int64":   layout.Int64,
	"long":    layout.Int64,
	"float":   layout.Float32,
	"float32": layout.Float32,
	"double":  layout.Float64,
	"float64": layout.Float64,
}

// TypeResolver resolves type expressions for target. The grammar is
//
//	type  = base { "[" count "]" }
//	base  = scalar | "address" | "pad:" size | name | wit
//
// where name is a key of named and wit is a WIT primitive such as s32.
// C scalar names take precedence over WIT names, so char is the 16-bit
// character and not a WIT char.
func TypeResolver(target abi.Target, named map[string]layout.Layout) Resolver {
	var resolve Resolver
	resolve = func(expr string) (layout.Layout, error) {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			return nil, errors.InvalidInput(errors.PhaseParse, "empty type expression")
		}

		base, counts, err := splitArray(expr)
		if err != nil {
			return nil, err
		}
		l, err := resolveBase(base, target, named)
		if err != nil {
			return nil, err
		}
		// int32[2][3] is two arrays of three
		for i := len(counts) - 1; i >= 0; i-- {
			if l, err = layout.SequenceOf(counts[i], l); err != nil {
				return nil, err
			}
		}
		return l, nil
	}
	return resolve
}

func resolveBase(base string, target abi.Target, named map[string]layout.Layout) (layout.Layout, error) {
	if l, ok := scalarNames[base]; ok {
		return l, nil
	}
	if base == "address" || base == "pointer" {
		if target != nil && target.AddressSize() == 4 {
			return layout.Address32, nil
		}
		return layout.Address, nil
	}
	if size, ok := strings.CutPrefix(base, "pad:"); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(size), 10, 64)
		if err != nil {
			return nil, errors.ParseFailed("padding size "+size, err)
		}
		return layout.PaddingOf(n)
	}
	if l, ok := named[base]; ok {
		return l, nil
	}

	t, err := wit.ParseType(base)
	if err != nil {
		return nil, errors.NotFound(errors.PhaseParse, "type", base)
	}
	return layout.FromWIT(t)
}

func splitArray(expr string) (string, []uint64, error) {
	i := strings.IndexByte(expr, '[')
	if i < 0 {
		return expr, nil, nil
	}
	base := strings.TrimSpace(expr[:i])
	rest := expr[i:]

	var counts []uint64
	for rest != "" {
		end := strings.IndexByte(rest, ']')
		if rest[0] != '[' || end < 0 {
			return "", nil, errors.InvalidData(errors.PhaseParse, nil, "malformed array type "+expr)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(rest[1:end]), 10, 64)
		if err != nil {
			return "", nil, errors.ParseFailed("array count in "+expr, err)
		}
		counts = append(counts, n)
		rest = strings.TrimSpace(rest[end+1:])
	}
	return base, counts, nil
}

// ParseSignature parses a function signature written as
//
//	func(a: int32, b: pair) -> pair
//
// Parameter names are optional; a missing result means void.
func ParseSignature(sig string, resolve Resolver) (*abi.FunctionDescriptor, error) {
	sig = strings.TrimSpace(sig)
	rest, ok := strings.CutPrefix(sig, "func")
	if !ok {
		return nil, errors.InvalidData(errors.PhaseParse, nil, "signature must start with func: "+sig)
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "(") {
		return nil, errors.InvalidData(errors.PhaseParse, nil, "missing parameter list: "+sig)
	}
	closeIdx := matchingParen(rest)
	if closeIdx < 0 {
		return nil, errors.InvalidData(errors.PhaseParse, nil, "unbalanced parentheses: "+sig)
	}
	params := rest[1:closeIdx]
	result := strings.TrimSpace(rest[closeIdx+1:])

	var args []layout.Layout
	for i, p := range splitParams(params) {
		typ := p
		if name, t, ok := strings.Cut(p, ":"); ok && strings.TrimSpace(name) != "pad" {
			typ = t
		}
		l, err := resolve(typ)
		if err != nil {
			return nil, errors.New(errors.PhaseParse, errors.KindInvalidData).
				Path("arg" + strconv.Itoa(i)).
				Cause(err).
				Detail("parameter %q", strings.TrimSpace(p)).
				Build()
		}
		args = append(args, l)
	}

	if result == "" {
		return abi.OfVoid(args...)
	}
	result, ok = strings.CutPrefix(result, "->")
	if !ok {
		return nil, errors.InvalidData(errors.PhaseParse, nil, "expected -> before result: "+sig)
	}
	result = strings.TrimSpace(result)
	if result == "" || result == "()" || result == "void" {
		return abi.OfVoid(args...)
	}
	ret, err := resolve(result)
	if err != nil {
		return nil, errors.New(errors.PhaseParse, errors.KindInvalidData).
			Path("return").
			Cause(err).
			Detail("result %q", result).
			Build()
	}
	return abi.Of(ret, args...)
}

func matchingParen(s string) int {
	depth := 0
	for i, ch := range s {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitParams splits a parameter list on top-level commas.
func splitParams(s string) []string {
	var out []string
	var cur strings.Builder
	depth := 0
	for _, ch := range s {
		switch ch {
		case '(', '<', '[':
			depth++
		case ')', '>', ']':
			depth--
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(cur.String()); str != "" {
					out = append(out, str)
				}
				cur.Reset()
				continue
			}
		}
		cur.WriteRune(ch)
	}
	if str := strings.TrimSpace(cur.String()); str != "" {
		out = append(out, str)
	}
	return out
}
