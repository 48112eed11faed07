package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/foreign/layout"
	"github.com/wippyai/foreign/memory"
)

// parseArg converts command-line text to an Invoke argument for l.
// Composites are written as {v1, v2, ...} listing their scalar leaves in
// declaration order; union members that alias the same bytes appear once.
func parseArg(text string, l layout.Layout, alloc memory.SegmentAllocator) (any, error) {
	if s, ok := l.(*layout.Scalar); ok {
		return parseScalar(strings.TrimSpace(text), s)
	}

	leaves := layout.Distinct(layout.Flatten(l))
	fields := splitComposite(text)
	if len(fields) != len(leaves) {
		return nil, fmt.Errorf("%s takes %d values, got %d", l, len(leaves), len(fields))
	}
	seg, err := memory.Allocate(alloc, l)
	if err != nil {
		return nil, err
	}
	for i, lf := range leaves {
		sc := leafScalar(lf)
		v, err := parseScalar(fields[i], sc)
		if err != nil {
			return nil, err
		}
		if err := seg.Set(sc, lf.Offset, v); err != nil {
			return nil, err
		}
	}
	return seg, nil
}

func splitComposite(text string) []string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "{")
	text = strings.TrimSuffix(text, "}")
	var out []string
	for _, f := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '{' || r == '}' }) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func leafScalar(lf layout.Leaf) *layout.Scalar {
	if lf.Kind == layout.KindAddress && lf.Size == 4 {
		return layout.Address32
	}
	sc, _ := layout.ScalarOf(lf.Kind)
	return sc
}

func parseScalar(text string, s *layout.Scalar) (any, error) {
	bad := func(err error) error {
		return fmt.Errorf("%q is not a valid %s: %w", text, s.ScalarKind(), err)
	}
	switch s.ScalarKind() {
	case layout.KindBool:
		v, err := strconv.ParseBool(text)
		if err != nil {
			return nil, bad(err)
		}
		return v, nil
	case layout.KindInt8:
		v, err := strconv.ParseInt(text, 0, 8)
		if err != nil {
			return nil, bad(err)
		}
		return int8(v), nil
	case layout.KindChar:
		if r := []rune(text); len(r) == 1 && r[0] > '9' {
			return uint16(r[0]), nil
		}
		v, err := strconv.ParseUint(text, 0, 16)
		if err != nil {
			return nil, bad(err)
		}
		return uint16(v), nil
	case layout.KindInt16:
		v, err := strconv.ParseInt(text, 0, 16)
		if err != nil {
			return nil, bad(err)
		}
		return int16(v), nil
	case layout.KindInt32:
		v, err := strconv.ParseInt(text, 0, 32)
		if err != nil {
			return nil, bad(err)
		}
		return int32(v), nil
	case layout.KindInt64:
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return nil, bad(err)
		}
		return v, nil
	case layout.KindFloat32:
		v, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, bad(err)
		}
		return float32(v), nil
	case layout.KindFloat64:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, bad(err)
		}
		return v, nil
	case layout.KindAddress:
		if text == "null" || text == "nil" {
			return nil, nil
		}
		v, err := strconv.ParseUint(text, 0, int(s.Size()*8))
		if err != nil {
			return nil, bad(err)
		}
		return uintptr(v), nil
	}
	return nil, fmt.Errorf("unsupported scalar %s", s)
}

// formatResult renders an Invoke result of layout l.
func formatResult(v any, l layout.Layout) (string, error) {
	if l == nil {
		return "void", nil
	}
	seg, ok := v.(*memory.Segment)
	if !ok {
		return fmt.Sprint(v), nil
	}
	if _, scalar := l.(*layout.Scalar); scalar {
		return fmt.Sprintf("%#x", seg.Address()), nil
	}

	leaves := layout.Distinct(layout.Flatten(l))
	parts := make([]string, len(leaves))
	for i, lf := range leaves {
		x, err := seg.Get(leafScalar(lf), lf.Offset)
		if err != nil {
			return "", err
		}
		parts[i] = fmt.Sprint(x)
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}
