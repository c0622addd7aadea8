// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import (
	"math/bits"

	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/satmath"
)

// ConstantFolding replaces pure instructions whose arguments are all
// immediates with their result.  Pseudo-operation companions of a folded
// instruction are folded first, so the side channel stays consistent.
func ConstantFolding(b *ir.Block) {
	for _, inst := range b.Insts {
		if inst.Op == ir.Invalid || !inst.Op.Pure() {
			continue
		}
		if !allImmediate(inst) {
			continue
		}
		foldInst(inst)
	}
}

func allImmediate(inst *ir.Inst) bool {
	for i := 0; i < inst.NumArgs(); i++ {
		if !inst.Args[i].IsImmediate() {
			return false
		}
	}
	return true
}

func foldInst(inst *ir.Inst) {
	result, carry, overflow, ok := evaluate(inst)
	if !ok {
		return
	}
	if c := inst.Pseudo(ir.GetCarryFromOp); c != nil {
		c.ReplaceWith(ir.Imm1(carry))
	}
	if o := inst.Pseudo(ir.GetOverflowFromOp); o != nil {
		o.ReplaceWith(ir.Imm1(overflow))
	}
	inst.ReplaceWith(result)
}

// evaluate computes a pure instruction over immediate arguments.  The carry
// and overflow results feed the pseudo-operation channels.
func evaluate(inst *ir.Inst) (result ir.Value, carry, overflow, ok bool) {
	a := inst.Args
	ok = true

	switch inst.Op {
	case ir.Add32:
		r, c, v := addWithCarry32(a[0].U32(), a[1].U32(), a[2].U1())
		return ir.Imm32(r), c, v, true
	case ir.Sub32:
		r, c, v := addWithCarry32(a[0].U32(), ^a[1].U32(), a[2].U1())
		return ir.Imm32(r), c, v, true
	case ir.Add64:
		r, c, v := addWithCarry64(a[0].U64(), a[1].U64(), a[2].U1())
		return ir.Imm64(r), c, v, true
	case ir.Sub64:
		r, c, v := addWithCarry64(a[0].U64(), ^a[1].U64(), a[2].U1())
		return ir.Imm64(r), c, v, true

	case ir.Mul32:
		return ir.Imm32(a[0].U32() * a[1].U32()), false, false, true
	case ir.Mul64:
		return ir.Imm64(a[0].U64() * a[1].U64()), false, false, true
	case ir.And32:
		return ir.Imm32(a[0].U32() & a[1].U32()), false, false, true
	case ir.And64:
		return ir.Imm64(a[0].U64() & a[1].U64()), false, false, true
	case ir.Eor32:
		return ir.Imm32(a[0].U32() ^ a[1].U32()), false, false, true
	case ir.Eor64:
		return ir.Imm64(a[0].U64() ^ a[1].U64()), false, false, true
	case ir.Or32:
		return ir.Imm32(a[0].U32() | a[1].U32()), false, false, true
	case ir.Or64:
		return ir.Imm64(a[0].U64() | a[1].U64()), false, false, true
	case ir.Not32:
		return ir.Imm32(^a[0].U32()), false, false, true
	case ir.Not64:
		return ir.Imm64(^a[0].U64()), false, false, true

	case ir.LogicalShiftLeft32:
		r, c := shiftLSL32(a[0].U32(), a[1].U8(), a[2].U1())
		return ir.Imm32(r), c, false, true
	case ir.LogicalShiftRight32:
		r, c := shiftLSR32(a[0].U32(), a[1].U8(), a[2].U1())
		return ir.Imm32(r), c, false, true
	case ir.ArithmeticShiftRight32:
		r, c := shiftASR32(a[0].U32(), a[1].U8(), a[2].U1())
		return ir.Imm32(r), c, false, true
	case ir.RotateRight32:
		r, c := shiftROR32(a[0].U32(), a[1].U8(), a[2].U1())
		return ir.Imm32(r), c, false, true
	case ir.RotateRightExtended:
		x, cin := a[0].U32(), a[1].U1()
		r := x >> 1
		if cin {
			r |= 1 << 31
		}
		return ir.Imm32(r), x&1 != 0, false, true
	case ir.LogicalShiftLeft64:
		return ir.Imm64(shift64(a[0].U64(), a[1].U8(), func(x uint64, s uint) uint64 { return x << s })), false, false, true
	case ir.LogicalShiftRight64:
		return ir.Imm64(shift64(a[0].U64(), a[1].U8(), func(x uint64, s uint) uint64 { return x >> s })), false, false, true
	case ir.ArithmeticShiftRight64:
		s := a[1].U8()
		if s > 63 {
			s = 63
		}
		return ir.Imm64(uint64(int64(a[0].U64()) >> s)), false, false, true
	case ir.RotateRight64:
		return ir.Imm64(bits.RotateLeft64(a[0].U64(), -int(a[1].U8()&63))), false, false, true

	case ir.CountLeadingZeros32:
		return ir.Imm32(uint32(bits.LeadingZeros32(a[0].U32()))), false, false, true
	case ir.CountLeadingZeros64:
		return ir.Imm64(uint64(bits.LeadingZeros64(a[0].U64()))), false, false, true
	case ir.ByteReverseWord:
		return ir.Imm32(bits.ReverseBytes32(a[0].U32())), false, false, true
	case ir.ByteReverseHalf:
		return ir.Imm16(bits.ReverseBytes16(a[0].U16())), false, false, true
	case ir.MostSignificantBit:
		return ir.Imm1(a[0].U32()>>31 != 0), false, false, true
	case ir.IsZero32:
		return ir.Imm1(a[0].U32() == 0), false, false, true
	case ir.IsZero64:
		return ir.Imm1(a[0].U64() == 0), false, false, true
	case ir.TestBit:
		return ir.Imm1(a[0].U64()>>(a[1].U8()&63)&1 != 0), false, false, true

	case ir.SignExtendByteToWord:
		return ir.Imm32(uint32(int32(int8(a[0].U8())))), false, false, true
	case ir.SignExtendHalfToWord:
		return ir.Imm32(uint32(int32(int16(a[0].U16())))), false, false, true
	case ir.SignExtendWordToLong:
		return ir.Imm64(uint64(int64(int32(a[0].U32())))), false, false, true
	case ir.ZeroExtendByteToWord:
		return ir.Imm32(uint32(a[0].U8())), false, false, true
	case ir.ZeroExtendHalfToWord:
		return ir.Imm32(uint32(a[0].U16())), false, false, true
	case ir.ZeroExtendWordToLong:
		return ir.Imm64(uint64(a[0].U32())), false, false, true
	case ir.LeastSignificantWord:
		return ir.Imm32(uint32(a[0].U64())), false, false, true
	case ir.LeastSignificantHalf:
		return ir.Imm16(uint16(a[0].U32())), false, false, true
	case ir.LeastSignificantByte:
		return ir.Imm8(uint8(a[0].U32())), false, false, true

	case ir.SignedSaturatedAdd8:
		r, q := satmath.SignedAdd(int64(int8(a[0].U8())), int64(int8(a[1].U8())), 8)
		return ir.Imm8(uint8(r)), false, q, true
	case ir.SignedSaturatedAdd16:
		r, q := satmath.SignedAdd(int64(int16(a[0].U16())), int64(int16(a[1].U16())), 16)
		return ir.Imm16(uint16(r)), false, q, true
	case ir.SignedSaturatedAdd32:
		r, q := satmath.SignedAdd(int64(int32(a[0].U32())), int64(int32(a[1].U32())), 32)
		return ir.Imm32(uint32(r)), false, q, true
	case ir.SignedSaturatedAdd64:
		r, q := satmath.SignedAdd64(int64(a[0].U64()), int64(a[1].U64()))
		return ir.Imm64(uint64(r)), false, q, true
	case ir.SignedSaturatedSub8:
		r, q := satmath.SignedSub(int64(int8(a[0].U8())), int64(int8(a[1].U8())), 8)
		return ir.Imm8(uint8(r)), false, q, true
	case ir.SignedSaturatedSub16:
		r, q := satmath.SignedSub(int64(int16(a[0].U16())), int64(int16(a[1].U16())), 16)
		return ir.Imm16(uint16(r)), false, q, true
	case ir.SignedSaturatedSub32:
		r, q := satmath.SignedSub(int64(int32(a[0].U32())), int64(int32(a[1].U32())), 32)
		return ir.Imm32(uint32(r)), false, q, true
	case ir.SignedSaturatedSub64:
		r, q := satmath.SignedSub64(int64(a[0].U64()), int64(a[1].U64()))
		return ir.Imm64(uint64(r)), false, q, true

	case ir.UnsignedSaturatedAdd8:
		r, q := satmath.UnsignedAdd(uint64(a[0].U8()), uint64(a[1].U8()), 8)
		return ir.Imm8(uint8(r)), false, q, true
	case ir.UnsignedSaturatedAdd16:
		r, q := satmath.UnsignedAdd(uint64(a[0].U16()), uint64(a[1].U16()), 16)
		return ir.Imm16(uint16(r)), false, q, true
	case ir.UnsignedSaturatedAdd32:
		r, q := satmath.UnsignedAdd(uint64(a[0].U32()), uint64(a[1].U32()), 32)
		return ir.Imm32(uint32(r)), false, q, true
	case ir.UnsignedSaturatedAdd64:
		r, q := satmath.UnsignedAdd(a[0].U64(), a[1].U64(), 64)
		return ir.Imm64(r), false, q, true
	case ir.UnsignedSaturatedSub8:
		r, q := satmath.UnsignedSub(uint64(a[0].U8()), uint64(a[1].U8()), 8)
		return ir.Imm8(uint8(r)), false, q, true
	case ir.UnsignedSaturatedSub16:
		r, q := satmath.UnsignedSub(uint64(a[0].U16()), uint64(a[1].U16()), 16)
		return ir.Imm16(uint16(r)), false, q, true
	case ir.UnsignedSaturatedSub32:
		r, q := satmath.UnsignedSub(uint64(a[0].U32()), uint64(a[1].U32()), 32)
		return ir.Imm32(uint32(r)), false, q, true
	case ir.UnsignedSaturatedSub64:
		r, q := satmath.UnsignedSub(a[0].U64(), a[1].U64(), 64)
		return ir.Imm64(r), false, q, true

	case ir.SignedSaturatedDoublingMultiplyReturnHigh16:
		r, q := satmath.DoublingMultiplyHigh16(int16(a[0].U16()), int16(a[1].U16()))
		return ir.Imm16(uint16(r)), false, q, true
	case ir.SignedSaturatedDoublingMultiplyReturnHigh32:
		r, q := satmath.DoublingMultiplyHigh32(int32(a[0].U32()), int32(a[1].U32()))
		return ir.Imm32(uint32(r)), false, q, true

	case ir.SignedSaturation:
		r, q := satmath.SignedSaturation(int32(a[0].U32()), uint(a[1].U8()))
		return ir.Imm32(uint32(r)), false, q, true
	case ir.UnsignedSaturation:
		r, q := satmath.UnsignedSaturation(int32(a[0].U32()), uint(a[1].U8()))
		return ir.Imm32(r), false, q, true
	}

	return ir.Value{}, false, false, false
}

// addWithCarry32 implements the ARM AddWithCarry pseudo-function.
func addWithCarry32(x, y uint32, carryIn bool) (result uint32, carryOut, overflow bool) {
	var c uint64
	if carryIn {
		c = 1
	}
	wide := uint64(x) + uint64(y) + c
	result = uint32(wide)
	carryOut = wide>>32 != 0
	signed := int64(int32(x)) + int64(int32(y)) + int64(c)
	overflow = signed != int64(int32(result))
	return
}

func addWithCarry64(x, y uint64, carryIn bool) (result uint64, carryOut, overflow bool) {
	var c uint64
	if carryIn {
		c = 1
	}
	var carry1, carry2 uint64
	result, carry1 = bits.Add64(x, y, 0)
	result, carry2 = bits.Add64(result, c, 0)
	carryOut = carry1|carry2 != 0
	overflow = (x>>63 == y>>63) && (result>>63 != x>>63)
	return
}

// ARM shift semantics for amounts held in a byte.
func shiftLSL32(x uint32, n uint8, carryIn bool) (uint32, bool) {
	switch {
	case n == 0:
		return x, carryIn
	case n < 32:
		return x << n, x>>(32-n)&1 != 0
	case n == 32:
		return 0, x&1 != 0
	default:
		return 0, false
	}
}

func shiftLSR32(x uint32, n uint8, carryIn bool) (uint32, bool) {
	switch {
	case n == 0:
		return x, carryIn
	case n < 32:
		return x >> n, x>>(n-1)&1 != 0
	case n == 32:
		return 0, x>>31 != 0
	default:
		return 0, false
	}
}

func shiftASR32(x uint32, n uint8, carryIn bool) (uint32, bool) {
	switch {
	case n == 0:
		return x, carryIn
	case n < 32:
		return uint32(int32(x) >> n), x>>(n-1)&1 != 0
	default:
		return uint32(int32(x) >> 31), x>>31 != 0
	}
}

func shiftROR32(x uint32, n uint8, carryIn bool) (uint32, bool) {
	if n == 0 {
		return x, carryIn
	}
	r := bits.RotateLeft32(x, -int(n&31))
	return r, r>>31 != 0
}

func shift64(x uint64, n uint8, op func(uint64, uint) uint64) uint64 {
	if n > 63 {
		return 0
	}
	return op(x, uint(n))
}
