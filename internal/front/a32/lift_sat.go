// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a32

import (
	"armlet.dev/armlet/internal/decode"
	"armlet.dev/armlet/internal/ir"
)

func (v *visitor) saturatingAddSub(word uint32, op ir.Opcode, double bool) bool {
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	m := int(decode.Bits(word, 0, 4))
	if d == regPC || n == regPC || m == regPC {
		return v.unpredictable()
	}

	a := v.getReg(m)
	b := v.getReg(n)
	if double {
		// QDADD/QDSUB: the addend is saturate(2*Rn), which can itself
		// saturate and set Q.
		doubled := v.Inst(ir.SignedSaturatedAdd32, b, b)
		v.OrQFlag(v.OverflowFrom(doubled))
		b = doubled
	}
	result := v.Inst(op, a, b)
	v.OrQFlag(v.OverflowFrom(result))
	v.setReg(d, result)
	return true
}

func (v *visitor) armQADD(word uint32) bool {
	return v.saturatingAddSub(word, ir.SignedSaturatedAdd32, false)
}

func (v *visitor) armQSUB(word uint32) bool {
	return v.saturatingAddSub(word, ir.SignedSaturatedSub32, false)
}

func (v *visitor) armQDADD(word uint32) bool {
	return v.saturatingAddSub(word, ir.SignedSaturatedAdd32, true)
}

func (v *visitor) armQDSUB(word uint32) bool {
	return v.saturatingAddSub(word, ir.SignedSaturatedSub32, true)
}

func (v *visitor) armSSAT(word uint32) bool {
	satImm := decode.Bits(word, 16, 5) + 1 // saturate to 1..32 bits
	d := int(decode.Bits(word, 12, 4))
	imm5 := decode.Bits(word, 7, 5)
	sh := decode.Bits(word, 6, 1)
	n := int(decode.Bits(word, 0, 4))
	if d == regPC || n == regPC {
		return v.unpredictable()
	}

	operand, _ := v.shiftByImm(sh<<1, imm5, v.getReg(n))
	result := v.Inst(ir.SignedSaturation, operand, ir.Imm8(uint8(satImm)))
	v.OrQFlag(v.OverflowFrom(result))
	v.setReg(d, result)
	return true
}

func (v *visitor) armUSAT(word uint32) bool {
	satImm := decode.Bits(word, 16, 5) // saturate to 0..31 bits
	d := int(decode.Bits(word, 12, 4))
	imm5 := decode.Bits(word, 7, 5)
	sh := decode.Bits(word, 6, 1)
	n := int(decode.Bits(word, 0, 4))
	if d == regPC || n == regPC {
		return v.unpredictable()
	}

	operand, _ := v.shiftByImm(sh<<1, imm5, v.getReg(n))
	result := v.Inst(ir.UnsignedSaturation, operand, ir.Imm8(uint8(satImm)))
	v.OrQFlag(v.OverflowFrom(result))
	v.setReg(d, result)
	return true
}
