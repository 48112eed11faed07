// Package testlib is a reference library of small native functions over
// structs, unions and arrays, available for the register targets through
// machine and for wasm32 as a generated module.
package testlib

import (
	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/layout"
)

// Shared layouts.
var (
	// IntPair is {int32 e1; int32 e2}.
	IntPair = named("IntPair", layout.MustStruct(
		layout.Int32.WithName("e1"),
		layout.Int32.WithName("e2")))

	// BoolPair is {bool e1; bool e2}.
	BoolPair = named("BoolPair", layout.MustStruct(
		layout.Bool.WithName("e1"),
		layout.Bool.WithName("e2")))

	// NestedBools is {BoolPair struct_elem1; bool elem2}.
	NestedBools = named("NestedBools", layout.MustStruct(
		BoolPair.WithName("struct_elem1"),
		layout.Bool.WithName("elem2")))

	// ArrayBools is {bool[2] array_elem1; bool elem2}, byte-identical to
	// NestedBools.
	ArrayBools = named("ArrayBools", layout.MustStruct(
		layout.MustSequenceOf(2, layout.Bool).WithName("array_elem1"),
		layout.Bool.WithName("elem2")))

	// UnionBools is {bool elem1; union{bool elem1; bool elem2} union_elem2}.
	UnionBools = named("UnionBools", layout.MustStruct(
		layout.Bool.WithName("elem1"),
		layout.MustUnion(
			layout.Bool.WithName("elem1"),
			layout.Bool.WithName("elem2")).WithName("union_elem2")))

	// DoublePair is {double e1; double e2}.
	DoublePair = named("DoublePair", layout.MustStruct(
		layout.Float64.WithName("e1"),
		layout.Float64.WithName("e2")))

	// FloatPair is {float e1; float e2}.
	FloatPair = named("FloatPair", layout.MustStruct(
		layout.Float32.WithName("e1"),
		layout.Float32.WithName("e2")))

	// MixedPair is {int32 e1; float e2}.
	MixedPair = named("MixedPair", layout.MustStruct(
		layout.Int32.WithName("e1"),
		layout.Float32.WithName("e2")))

	// SingleDouble is {double e1}.
	SingleDouble = named("SingleDouble", layout.MustStruct(
		layout.Float64.WithName("e1")))

	// LongTriple is {int64 e1; int64 e2; int64 e3}, too large for registers
	// everywhere.
	LongTriple = named("LongTriple", layout.MustStruct(
		layout.Int64.WithName("e1"),
		layout.Int64.WithName("e2"),
		layout.Int64.WithName("e3")))
)

func named(name string, g *layout.Group) layout.Layout {
	return g.WithName(name)
}

// Function names.
const (
	Add2Ints          = "add2Ints"
	Add2IntStructs    = "add2IntStructs_returnStruct"
	Xor2NestedBools   = "add2BoolStructsWithXor_returnStruct"
	XorUnionBools     = "addBoolAndBoolFromStructWithXor"
	Add2DoubleStructs = "add2DoubleStructs_returnStruct"
	Add2FloatStructs  = "add2FloatStructs_returnStruct"
	Add2MixedStructs  = "add2MixedStructs_returnStruct"
	Add2SingleDoubles = "add2SingleDoubleStructs_returnStruct"
	Add2LongTriples   = "add2LongStructs_returnStruct"
	AddIntAndPairAt   = "addIntAndIntsFromStructPointer"
	IncrementPairAt   = "incrementIntsInStructPointer"
	SumLongs          = "sumLongs"
	VSumLongs         = "vsumLongs"
	StaticPair        = "staticPair"
)

// StaticPair returns the address of an IntPair the library owns, holding
// these values.
const (
	StaticPairE1 = 7
	StaticPairE2 = 9
)

// SumLongsVariadic is the index of sumLongs' first variadic argument.
const SumLongsVariadic = 1

// Signatures returns the descriptor of every non-variadic function for
// target, keyed by name.
func Signatures(target abi.Target) map[string]*abi.FunctionDescriptor {
	addr := addressOf(target)
	return map[string]*abi.FunctionDescriptor{
		Add2Ints:          abi.MustOf(layout.Int32, layout.Int32, layout.Int32),
		Add2IntStructs:    abi.MustOf(IntPair, IntPair, IntPair),
		Xor2NestedBools:   abi.MustOf(NestedBools, NestedBools, NestedBools),
		XorUnionBools:     abi.MustOf(layout.Bool, UnionBools, layout.Bool),
		Add2DoubleStructs: abi.MustOf(DoublePair, DoublePair, DoublePair),
		Add2FloatStructs:  abi.MustOf(FloatPair, FloatPair, FloatPair),
		Add2MixedStructs:  abi.MustOf(MixedPair, MixedPair, MixedPair),
		Add2SingleDoubles: abi.MustOf(SingleDouble, SingleDouble, SingleDouble),
		Add2LongTriples:   abi.MustOf(LongTriple, LongTriple, LongTriple),
		AddIntAndPairAt:   abi.MustOf(layout.Int32, layout.Int32, addr),
		IncrementPairAt:   abi.MustOfVoid(addr),
		VSumLongs:         abi.MustOf(layout.Int64, layout.Int32, addr),
		StaticPair:        abi.MustOf(addr),
	}
}

// SumLongsDescriptor is sumLongs(int32 count, ...) called with n int64
// variadic arguments.
func SumLongsDescriptor(n int) *abi.FunctionDescriptor {
	args := []layout.Layout{layout.Int32}
	for range n {
		args = append(args, layout.Int64)
	}
	return abi.MustOf(layout.Int64, args...)
}

func addressOf(target abi.Target) *layout.Scalar {
	if target.AddressSize() == 4 {
		return layout.Address32
	}
	return layout.Address
}
