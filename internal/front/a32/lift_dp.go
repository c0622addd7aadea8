// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a32

import (
	"math/bits"

	"armlet.dev/armlet/internal/decode"
	"armlet.dev/armlet/internal/ir"
)

// Data processing opcode field values.
const (
	opAND = iota
	opEOR
	opSUB
	opRSB
	opADD
	opADC
	opSBC
	opRSC
	opTST
	opTEQ
	opCMP
	opCMN
	opORR
	opMOV
	opBIC
	opMVN
)

func (v *visitor) armDataProcImm(word uint32) bool {
	op := decode.Bits(word, 21, 4)
	s := decode.Bit(word, 20)
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	rot := decode.Bits(word, 8, 4)
	imm := bits.RotateLeft32(decode.Bits(word, 0, 8), -int(2*rot))

	carry := ir.Value{} // shifter carry: C unchanged
	if rot != 0 {
		carry = ir.Imm1(imm>>31 != 0)
	}
	return v.dataProc(op, s, n, d, ir.Imm32(imm), carry)
}

func (v *visitor) armDataProcShiftImm(word uint32) bool {
	op := decode.Bits(word, 21, 4)
	s := decode.Bit(word, 20)
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	imm5 := decode.Bits(word, 7, 5)
	typ := decode.Bits(word, 5, 2)
	m := int(decode.Bits(word, 0, 4))

	operand, carry := v.shiftByImm(typ, imm5, v.getReg(m))
	return v.dataProc(op, s, n, d, operand, carry)
}

func (v *visitor) armDataProcShiftReg(word uint32) bool {
	op := decode.Bits(word, 21, 4)
	s := decode.Bit(word, 20)
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	sreg := int(decode.Bits(word, 8, 4))
	typ := decode.Bits(word, 5, 2)
	m := int(decode.Bits(word, 0, 4))

	if d == regPC || n == regPC || m == regPC || sreg == regPC {
		return v.unpredictable()
	}

	shift := v.Inst(ir.LeastSignificantByte, v.getReg(sreg))
	operand, carry := v.shiftByReg(typ, shift, v.getReg(m))
	return v.dataProc(op, s, n, d, operand, carry)
}

// shiftByImm applies an immediate-specified shift, returning the shifted
// value and the shifter carry-out.  An empty carry means C is unchanged.
func (v *visitor) shiftByImm(typ, imm5 uint32, rm ir.Value) (ir.Value, ir.Value) {
	switch typ {
	case 0: // LSL
		if imm5 == 0 {
			return rm, ir.Value{}
		}
		res := v.LogicalShiftLeft(rm, ir.Imm8(uint8(imm5)), v.GetCFlag())
		return res, v.CarryFrom(res)
	case 1: // LSR
		if imm5 == 0 {
			imm5 = 32
		}
		res := v.LogicalShiftRight(rm, ir.Imm8(uint8(imm5)), v.GetCFlag())
		return res, v.CarryFrom(res)
	case 2: // ASR
		if imm5 == 0 {
			imm5 = 32
		}
		res := v.ArithmeticShiftRight(rm, ir.Imm8(uint8(imm5)), v.GetCFlag())
		return res, v.CarryFrom(res)
	default: // ROR, or RRX when imm5 == 0
		if imm5 == 0 {
			// RRX: result = C:rm >> 1
			res := v.Inst(ir.RotateRightExtended, rm, v.GetCFlag())
			return res, v.CarryFrom(res)
		}
		res := v.RotateRight(rm, ir.Imm8(uint8(imm5)), v.GetCFlag())
		return res, v.CarryFrom(res)
	}
}

// shiftByReg applies a register-specified shift.  The shift amount is the
// bottom byte of the shift register; amounts of 32 and beyond follow the
// architectural rules, which the shift opcodes implement.
func (v *visitor) shiftByReg(typ uint32, shift, rm ir.Value) (ir.Value, ir.Value) {
	var res ir.Value
	switch typ {
	case 0:
		res = v.LogicalShiftLeft(rm, shift, v.GetCFlag())
	case 1:
		res = v.LogicalShiftRight(rm, shift, v.GetCFlag())
	case 2:
		res = v.ArithmeticShiftRight(rm, shift, v.GetCFlag())
	default:
		res = v.RotateRight(rm, shift, v.GetCFlag())
	}
	return res, v.CarryFrom(res)
}

// dataProc lifts one data-processing instruction given its decoded second
// operand and shifter carry-out.
func (v *visitor) dataProc(op uint32, s bool, n, d int, operand, shCarry ir.Value) bool {
	if op >= opTST && op <= opCMN && !s {
		// The S=0 encodings of the compare ops belong to the
		// miscellaneous space; anything that falls through the specific
		// matchers is undefined.
		return v.undefined()
	}

	var result, carry, overflow ir.Value
	writeback := true

	switch op {
	case opAND, opTST:
		result = v.And(v.getReg(n), operand)
		carry = shCarry
		writeback = op == opAND
	case opEOR, opTEQ:
		result = v.Eor(v.getReg(n), operand)
		carry = shCarry
		writeback = op == opEOR
	case opSUB, opCMP:
		result = v.Sub(v.getReg(n), operand, ir.Imm1(true))
		carry = v.CarryFrom(result)
		overflow = v.OverflowFrom(result)
		writeback = op == opSUB
	case opRSB:
		result = v.Sub(operand, v.getReg(n), ir.Imm1(true))
		carry = v.CarryFrom(result)
		overflow = v.OverflowFrom(result)
	case opADD, opCMN:
		result = v.Add(v.getReg(n), operand, ir.Imm1(false))
		carry = v.CarryFrom(result)
		overflow = v.OverflowFrom(result)
		writeback = op == opADD
	case opADC:
		result = v.Add(v.getReg(n), operand, v.GetCFlag())
		carry = v.CarryFrom(result)
		overflow = v.OverflowFrom(result)
	case opSBC:
		result = v.Sub(v.getReg(n), operand, v.GetCFlag())
		carry = v.CarryFrom(result)
		overflow = v.OverflowFrom(result)
	case opRSC:
		result = v.Sub(operand, v.getReg(n), v.GetCFlag())
		carry = v.CarryFrom(result)
		overflow = v.OverflowFrom(result)
	case opORR:
		result = v.Or(v.getReg(n), operand)
		carry = shCarry
	case opMOV:
		result = operand
		carry = shCarry
	case opBIC:
		result = v.And(v.getReg(n), v.Not(operand))
		carry = shCarry
	case opMVN:
		result = v.Not(operand)
		carry = shCarry
	}

	if writeback && d == regPC {
		if s {
			return v.unpredictable()
		}
		v.aluWritePC(result)
		return false
	}

	if s {
		v.SetNZFlags(result)
		if !carry.Empty() {
			v.SetCFlag(carry)
		}
		if !overflow.Empty() {
			v.SetVFlag(overflow)
		}
	}
	if writeback {
		v.setReg(d, result)
	}
	return true
}

func (v *visitor) armMOVW(word uint32) bool {
	d := int(decode.Bits(word, 12, 4))
	imm := decode.Bits(word, 16, 4)<<12 | decode.Bits(word, 0, 12)
	if d == regPC {
		return v.unpredictable()
	}
	v.setReg(d, ir.Imm32(imm))
	return true
}

func (v *visitor) armMOVT(word uint32) bool {
	d := int(decode.Bits(word, 12, 4))
	imm := decode.Bits(word, 16, 4)<<12 | decode.Bits(word, 0, 12)
	if d == regPC {
		return v.unpredictable()
	}
	low := v.And(v.getReg(d), ir.Imm32(0x0000FFFF))
	v.setReg(d, v.Or(low, ir.Imm32(imm<<16)))
	return true
}

func (v *visitor) armMUL(word uint32) bool {
	s := decode.Bit(word, 20)
	d := int(decode.Bits(word, 16, 4))
	m := int(decode.Bits(word, 8, 4))
	n := int(decode.Bits(word, 0, 4))
	if d == regPC || m == regPC || n == regPC {
		return v.unpredictable()
	}
	result := v.Mul(v.getReg(n), v.getReg(m))
	if s {
		v.SetNZFlags(result)
	}
	v.setReg(d, result)
	return true
}

func (v *visitor) armMLA(word uint32) bool {
	s := decode.Bit(word, 20)
	d := int(decode.Bits(word, 16, 4))
	a := int(decode.Bits(word, 12, 4))
	m := int(decode.Bits(word, 8, 4))
	n := int(decode.Bits(word, 0, 4))
	if d == regPC || a == regPC || m == regPC || n == regPC {
		return v.unpredictable()
	}
	result := v.Add(v.Mul(v.getReg(n), v.getReg(m)), v.getReg(a), ir.Imm1(false))
	if s {
		v.SetNZFlags(result)
	}
	v.setReg(d, result)
	return true
}

func (v *visitor) armUMULL(word uint32) bool { return v.longMultiply(word, false) }
func (v *visitor) armSMULL(word uint32) bool { return v.longMultiply(word, true) }

func (v *visitor) longMultiply(word uint32, signed bool) bool {
	s := decode.Bit(word, 20)
	hi := int(decode.Bits(word, 16, 4))
	lo := int(decode.Bits(word, 12, 4))
	m := int(decode.Bits(word, 8, 4))
	n := int(decode.Bits(word, 0, 4))
	if hi == regPC || lo == regPC || m == regPC || n == regPC || hi == lo {
		return v.unpredictable()
	}

	var x, y ir.Value
	if signed {
		x = v.Inst(ir.SignExtendWordToLong, v.getReg(n))
		y = v.Inst(ir.SignExtendWordToLong, v.getReg(m))
	} else {
		x = v.Inst(ir.ZeroExtendWordToLong, v.getReg(n))
		y = v.Inst(ir.ZeroExtendWordToLong, v.getReg(m))
	}
	product := v.Inst(ir.Mul64, x, y)
	low := v.Inst(ir.LeastSignificantWord, product)
	high := v.Inst(ir.LeastSignificantWord, v.Inst(ir.LogicalShiftRight64, product, ir.Imm8(32)))
	v.setReg(lo, low)
	v.setReg(hi, high)
	if s {
		v.SetNFlag(v.Inst(ir.MostSignificantBit, high))
		v.SetZFlag(v.Inst(ir.IsZero64, product))
	}
	return true
}

func (v *visitor) armCLZ(word uint32) bool {
	d := int(decode.Bits(word, 12, 4))
	m := int(decode.Bits(word, 0, 4))
	if d == regPC || m == regPC {
		return v.unpredictable()
	}
	v.setReg(d, v.Inst(ir.CountLeadingZeros32, v.getReg(m)))
	return true
}

func (v *visitor) armREV(word uint32) bool {
	d := int(decode.Bits(word, 12, 4))
	m := int(decode.Bits(word, 0, 4))
	if d == regPC || m == regPC {
		return v.unpredictable()
	}
	v.setReg(d, v.Inst(ir.ByteReverseWord, v.getReg(m)))
	return true
}

func (v *visitor) armREV16(word uint32) bool {
	d := int(decode.Bits(word, 12, 4))
	m := int(decode.Bits(word, 0, 4))
	if d == regPC || m == regPC {
		return v.unpredictable()
	}
	// Swap bytes within each halfword.
	rm := v.getReg(m)
	hi := v.And(v.LogicalShiftLeft(rm, ir.Imm8(8), v.GetCFlag()), ir.Imm32(0xFF00FF00))
	lo := v.And(v.LogicalShiftRight(rm, ir.Imm8(8), v.GetCFlag()), ir.Imm32(0x00FF00FF))
	v.setReg(d, v.Or(hi, lo))
	return true
}

func (v *visitor) extendOp(word uint32, op ir.Opcode, half bool) bool {
	d := int(decode.Bits(word, 12, 4))
	rot := decode.Bits(word, 10, 2) * 8
	m := int(decode.Bits(word, 0, 4))
	if d == regPC || m == regPC {
		return v.unpredictable()
	}
	val := v.getReg(m)
	if rot != 0 {
		val = v.RotateRight(val, ir.Imm8(uint8(rot)), v.GetCFlag())
	}
	if half {
		v.setReg(d, v.Inst(op, v.Inst(ir.LeastSignificantHalf, val)))
	} else {
		v.setReg(d, v.Inst(op, v.Inst(ir.LeastSignificantByte, val)))
	}
	return true
}

func (v *visitor) armSXTB(word uint32) bool { return v.extendOp(word, ir.SignExtendByteToWord, false) }
func (v *visitor) armSXTH(word uint32) bool { return v.extendOp(word, ir.SignExtendHalfToWord, true) }
func (v *visitor) armUXTB(word uint32) bool { return v.extendOp(word, ir.ZeroExtendByteToWord, false) }
func (v *visitor) armUXTH(word uint32) bool { return v.extendOp(word, ir.ZeroExtendHalfToWord, true) }

func (v *visitor) armHint(word uint32) bool {
	// NOP, YIELD, WFE, WFI, SEV all retire as no-ops at this level.
	return true
}

func (v *visitor) armMRS(word uint32) bool {
	d := int(decode.Bits(word, 12, 4))
	if d == regPC {
		return v.unpredictable()
	}
	v.setReg(d, v.Inst(ir.GetCpsr))
	return true
}

func (v *visitor) armMSRReg(word uint32) bool {
	mask := decode.Bits(word, 16, 4)
	n := int(decode.Bits(word, 0, 4))
	if n == regPC {
		return v.unpredictable()
	}
	if mask&0x8 == 0 {
		// Only the flags field is writable at application level.
		return true
	}
	val := v.getReg(n)
	v.Void(ir.SetNZCVRaw, v.And(val, ir.Imm32(0xF0000000)))
	v.Void(ir.SetQFlag, v.Inst(ir.TestBit, v.Inst(ir.ZeroExtendWordToLong, val), ir.Imm8(27)))
	return true
}

func (v *visitor) armMSRImm(word uint32) bool {
	mask := decode.Bits(word, 16, 4)
	rot := decode.Bits(word, 8, 4)
	imm := bits.RotateLeft32(decode.Bits(word, 0, 8), -int(2*rot))
	if mask&0x8 == 0 {
		return true
	}
	v.Void(ir.SetNZCVRaw, ir.Imm32(imm&0xF0000000))
	v.Void(ir.SetQFlag, ir.Imm1(imm&(1<<27) != 0))
	return true
}

func (v *visitor) armInterpretFallback(word uint32) bool {
	return v.interpret()
}
