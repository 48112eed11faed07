package wasmgen

// Code is a function body's instruction stream without the final end.
// Methods append one instruction and return the stream for chaining.
type Code []byte

// memory access natural alignment exponents
const (
	Align1 uint32 = iota
	Align2
	Align4
	Align8
)

func (c Code) op(b ...byte) Code          { return append(c, b...) }
func (c Code) idx(op byte, i uint32) Code { return append(append(c, op), EncodeULEB128(i)...) }

func (c Code) mem(op byte, align, offset uint32) Code {
	c = append(c, op)
	c = append(c, EncodeULEB128(align)...)
	return append(c, EncodeULEB128(offset)...)
}

func (c Code) LocalGet(i uint32) Code  { return c.idx(0x20, i) }
func (c Code) LocalSet(i uint32) Code  { return c.idx(0x21, i) }
func (c Code) LocalTee(i uint32) Code  { return c.idx(0x22, i) }
func (c Code) GlobalGet(i uint32) Code { return c.idx(0x23, i) }
func (c Code) GlobalSet(i uint32) Code { return c.idx(0x24, i) }

func (c Code) I32Load(offset uint32) Code   { return c.mem(0x28, Align4, offset) }
func (c Code) I64Load(offset uint32) Code   { return c.mem(0x29, Align8, offset) }
func (c Code) F32Load(offset uint32) Code   { return c.mem(0x2a, Align4, offset) }
func (c Code) F64Load(offset uint32) Code   { return c.mem(0x2b, Align8, offset) }
func (c Code) I32Load8U(offset uint32) Code { return c.mem(0x2d, Align1, offset) }
func (c Code) I32Store(offset uint32) Code  { return c.mem(0x36, Align4, offset) }
func (c Code) I64Store(offset uint32) Code  { return c.mem(0x37, Align8, offset) }
func (c Code) F32Store(offset uint32) Code  { return c.mem(0x38, Align4, offset) }
func (c Code) F64Store(offset uint32) Code  { return c.mem(0x39, Align8, offset) }
func (c Code) I32Store8(offset uint32) Code { return c.mem(0x3a, Align1, offset) }

func (c Code) I32Const(v int32) Code { return append(append(c, 0x41), EncodeSLEB128(v)...) }
func (c Code) I64Const(v int64) Code { return append(append(c, 0x42), EncodeSLEB128(v)...) }

func (c Code) I32Eqz() Code { return c.op(0x45) }
func (c Code) I32Add() Code { return c.op(0x6a) }
func (c Code) I32Sub() Code { return c.op(0x6b) }
func (c Code) I32And() Code { return c.op(0x71) }
func (c Code) I32Xor() Code { return c.op(0x73) }
func (c Code) I64Add() Code { return c.op(0x7c) }
func (c Code) F32Add() Code { return c.op(0x92) }
func (c Code) F64Add() Code { return c.op(0xa0) }

// Block and Loop open an empty-typed structured block.
func (c Code) Block() Code            { return c.op(0x02, 0x40) }
func (c Code) Loop() Code             { return c.op(0x03, 0x40) }
func (c Code) End() Code              { return c.op(0x0b) }
func (c Code) Br(depth uint32) Code   { return c.idx(0x0c, depth) }
func (c Code) BrIf(depth uint32) Code { return c.idx(0x0d, depth) }
func (c Code) Unreachable() Code      { return c.op(0x00) }
