// Package layout describes blocks of memory independently of any language.
//
// A Layout is one of:
//
//	*Scalar    bool, int8, char (u16), int16, int32, int64, float32, float64, address
//	*Sequence  fixed-length repetition of an element layout
//	*Group     struct (members laid out consecutively) or union (members overlap)
//	*Padding   inert filler
//
// Layouts are immutable. Struct members are placed by accumulating sizes and
// inserting anonymous padding so that every member meets its alignment; the
// group size is rounded up to the group alignment. Padding insertion is a pure
// function of the packing Rules passed to StructWith.
//
//	point := layout.MustStruct(
//		layout.Int32.WithName("x"),
//		layout.Int32.WithName("y"),
//	)
//	off, _ := layout.OffsetOf(point, layout.Field("y")) // 4
//
// Flatten reduces any layout to its ordered scalar leaves and byte offsets.
// ABI classification is defined on that flat form only, so two layouts with
// different nesting but identical bytes classify the same.
package layout
