// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a32

import (
	"armlet.dev/armlet/internal/decode"
	"armlet.dev/armlet/internal/ir"
)

// thumbTable lists the implemented 16-bit Thumb encodings.  32-bit Thumb
// encodings other than BL/BLX are not lifted; they fall through to the
// undefined sentinel.
var thumbTable = decode.Table[*visitor]{
	decode.Entry("add/sub (reg)", "000110ammmnnnddd", (*visitor).thumbAddSubReg),
	decode.Entry("add/sub (imm3)", "000111aiiinnnddd", (*visitor).thumbAddSubImm3),
	decode.Entry("lsl/lsr/asr (imm)", "000ooiiiiimmmddd", (*visitor).thumbShiftImm),
	decode.Entry("mov/cmp/add/sub (imm8)", "001oodddiiiiiiii", (*visitor).thumbArithImm8),
	decode.Entry("alu (reg)", "010000oooommmddd", (*visitor).thumbALU),
	decode.Entry("add (hi)", "01000100dmmmmddd", (*visitor).thumbAddHi),
	decode.Entry("cmp (hi)", "01000101nmmmmnnn", (*visitor).thumbCmpHi),
	decode.Entry("mov (hi)", "01000110dmmmmddd", (*visitor).thumbMovHi),
	decode.Entry("bx", "010001110mmmm000", (*visitor).thumbBX),
	decode.Entry("blx (reg)", "010001111mmmm000", (*visitor).thumbBLXReg),
	decode.Entry("ldr (literal)", "01001dddiiiiiiii", (*visitor).thumbLDRLiteral),
	decode.Entry("load/store (reg)", "0101ooommmnnnddd", (*visitor).thumbLoadStoreReg),
	decode.Entry("load/store (imm)", "011bliiiiinnnddd", (*visitor).thumbLoadStoreImm),
	decode.Entry("ldrh/strh (imm)", "1000liiiiinnnddd", (*visitor).thumbLoadStoreHalf),
	decode.Entry("ldr/str (sp)", "1001ldddiiiiiiii", (*visitor).thumbLoadStoreSP),
	decode.Entry("adr", "10100dddiiiiiiii", (*visitor).thumbADR),
	decode.Entry("add (sp+imm)", "10101dddiiiiiiii", (*visitor).thumbAddSPImm),
	decode.Entry("add/sub sp", "10110000aiiiiiii", (*visitor).thumbAdjustSP),
	decode.Entry("sxth/sxtb/uxth/uxtb", "10110010oommmddd", (*visitor).thumbExtend),
	decode.Entry("push", "1011010rllllllll", (*visitor).thumbPush),
	decode.Entry("rev", "1011101000mmmddd", (*visitor).thumbREV),
	decode.Entry("rev16", "1011101001mmmddd", (*visitor).thumbREV16),
	decode.Entry("pop", "1011110rllllllll", (*visitor).thumbPop),
	decode.Entry("bkpt", "10111110iiiiiiii", (*visitor).thumbBKPT),
	decode.Entry("hint", "10111111oooo0000", (*visitor).thumbHint),
	decode.Entry("stm/ldm", "1100lnnnllllllll", (*visitor).thumbBlockTransfer),
	decode.Entry("udf", "11011110iiiiiiii", (*visitor).thumbUDF),
	decode.Entry("svc", "11011111iiiiiiii", (*visitor).thumbSVC),
	decode.Entry("b (cond)", "1101cccciiiiiiii", (*visitor).thumbBCond),
	decode.Entry("b", "11100iiiiiiiiiii", (*visitor).thumbB),
	decode.Entry("bl/blx (pair)", "11110iiiiiiiiiii", (*visitor).thumbBLPair),
}

func (v *visitor) thumbShiftImm(word uint32) bool {
	op := decode.Bits(word, 11, 2)
	imm5 := decode.Bits(word, 6, 5)
	m := int(decode.Bits(word, 3, 3))
	d := int(decode.Bits(word, 0, 3))

	result, carry := v.shiftByImm(op, imm5, v.getReg(m))
	v.setReg(d, result)
	v.SetNZFlags(result)
	if !carry.Empty() {
		v.SetCFlag(carry)
	}
	return true
}

func (v *visitor) thumbAddSubReg(word uint32) bool {
	sub := decode.Bit(word, 9)
	m := int(decode.Bits(word, 6, 3))
	n := int(decode.Bits(word, 3, 3))
	d := int(decode.Bits(word, 0, 3))

	var result ir.Value
	if sub {
		result = v.Sub(v.getReg(n), v.getReg(m), ir.Imm1(true))
	} else {
		result = v.Add(v.getReg(n), v.getReg(m), ir.Imm1(false))
	}
	v.setThumbArithFlags(result)
	v.setReg(d, result)
	return true
}

func (v *visitor) thumbAddSubImm3(word uint32) bool {
	sub := decode.Bit(word, 9)
	imm := decode.Bits(word, 6, 3)
	n := int(decode.Bits(word, 3, 3))
	d := int(decode.Bits(word, 0, 3))

	var result ir.Value
	if sub {
		result = v.Sub(v.getReg(n), ir.Imm32(imm), ir.Imm1(true))
	} else {
		result = v.Add(v.getReg(n), ir.Imm32(imm), ir.Imm1(false))
	}
	v.setThumbArithFlags(result)
	v.setReg(d, result)
	return true
}

// setThumbArithFlags assigns all four flags from an Add32/Sub32 result.
func (v *visitor) setThumbArithFlags(result ir.Value) {
	v.SetNZFlags(result)
	v.SetCFlag(v.CarryFrom(result))
	v.SetVFlag(v.OverflowFrom(result))
}

func (v *visitor) thumbArithImm8(word uint32) bool {
	op := decode.Bits(word, 11, 2)
	d := int(decode.Bits(word, 8, 3))
	imm := ir.Imm32(decode.Bits(word, 0, 8))

	switch op {
	case 0: // MOV
		v.setReg(d, imm)
		v.SetNZFlags(imm)
	case 1: // CMP
		result := v.Sub(v.getReg(d), imm, ir.Imm1(true))
		v.setThumbArithFlags(result)
	case 2: // ADD
		result := v.Add(v.getReg(d), imm, ir.Imm1(false))
		v.setThumbArithFlags(result)
		v.setReg(d, result)
	default: // SUB
		result := v.Sub(v.getReg(d), imm, ir.Imm1(true))
		v.setThumbArithFlags(result)
		v.setReg(d, result)
	}
	return true
}

func (v *visitor) thumbALU(word uint32) bool {
	op := decode.Bits(word, 6, 4)
	m := int(decode.Bits(word, 3, 3))
	d := int(decode.Bits(word, 0, 3))
	rd, rm := v.getReg(d), v.getReg(m)

	logical := func(result ir.Value, write bool) {
		v.SetNZFlags(result)
		if write {
			v.setReg(d, result)
		}
	}
	arith := func(result ir.Value, write bool) {
		v.setThumbArithFlags(result)
		if write {
			v.setReg(d, result)
		}
	}
	shift := func(result ir.Value) {
		v.SetNZFlags(result)
		v.SetCFlag(v.CarryFrom(result))
		v.setReg(d, result)
	}

	switch op {
	case 0x0: // AND
		logical(v.And(rd, rm), true)
	case 0x1: // EOR
		logical(v.Eor(rd, rm), true)
	case 0x2: // LSL
		shift(v.LogicalShiftLeft(rd, v.Inst(ir.LeastSignificantByte, rm), v.GetCFlag()))
	case 0x3: // LSR
		shift(v.LogicalShiftRight(rd, v.Inst(ir.LeastSignificantByte, rm), v.GetCFlag()))
	case 0x4: // ASR
		shift(v.ArithmeticShiftRight(rd, v.Inst(ir.LeastSignificantByte, rm), v.GetCFlag()))
	case 0x5: // ADC
		arith(v.Add(rd, rm, v.GetCFlag()), true)
	case 0x6: // SBC
		arith(v.Sub(rd, rm, v.GetCFlag()), true)
	case 0x7: // ROR
		shift(v.RotateRight(rd, v.Inst(ir.LeastSignificantByte, rm), v.GetCFlag()))
	case 0x8: // TST
		logical(v.And(rd, rm), false)
	case 0x9: // NEG (RSB #0)
		arith(v.Sub(ir.Imm32(0), rm, ir.Imm1(true)), true)
	case 0xA: // CMP
		arith(v.Sub(rd, rm, ir.Imm1(true)), false)
	case 0xB: // CMN
		arith(v.Add(rd, rm, ir.Imm1(false)), false)
	case 0xC: // ORR
		logical(v.Or(rd, rm), true)
	case 0xD: // MUL
		logical(v.Mul(rd, rm), true)
	case 0xE: // BIC
		logical(v.And(rd, v.Not(rm)), true)
	default: // MVN
		logical(v.Not(rm), true)
	}
	return true
}

func (v *visitor) thumbAddHi(word uint32) bool {
	d := int(decode.Bits(word, 7, 1)<<3 | decode.Bits(word, 0, 3))
	m := int(decode.Bits(word, 3, 4))
	result := v.Add(v.getReg(d), v.getReg(m), ir.Imm1(false))
	if d == regPC {
		v.aluWritePC(result)
		return false
	}
	v.setReg(d, result)
	return true
}

func (v *visitor) thumbCmpHi(word uint32) bool {
	n := int(decode.Bits(word, 7, 1)<<3 | decode.Bits(word, 0, 3))
	m := int(decode.Bits(word, 3, 4))
	v.setThumbArithFlags(v.Sub(v.getReg(n), v.getReg(m), ir.Imm1(true)))
	return true
}

func (v *visitor) thumbMovHi(word uint32) bool {
	d := int(decode.Bits(word, 7, 1)<<3 | decode.Bits(word, 0, 3))
	m := int(decode.Bits(word, 3, 4))
	if d == regPC {
		v.aluWritePC(v.getReg(m))
		return false
	}
	v.setReg(d, v.getReg(m))
	return true
}

func (v *visitor) thumbBX(word uint32) bool {
	m := int(decode.Bits(word, 3, 4))
	v.bxWritePC(v.getReg(m), m == regLR)
	return false
}

func (v *visitor) thumbBLXReg(word uint32) bool {
	m := int(decode.Bits(word, 3, 4))
	if m == regPC {
		return v.unpredictable()
	}
	ret := v.nextLocation()
	target := v.getReg(m)
	v.setReg(regLR, ir.Imm32(ret.PC|1))
	v.Void(ir.PushRSB, ir.Imm64(ret.Descriptor().Value()))
	v.bxWritePC(target, false)
	return false
}

func (v *visitor) thumbLDRLiteral(word uint32) bool {
	d := int(decode.Bits(word, 8, 3))
	imm := decode.Bits(word, 0, 8) << 2
	base := v.readPC() &^ 3
	addr := v.extendAddr(ir.Imm32(base + imm))
	v.setReg(d, v.ReadMemory(32, addr))
	return true
}

func (v *visitor) thumbLoadStoreReg(word uint32) bool {
	op := decode.Bits(word, 9, 3)
	m := int(decode.Bits(word, 6, 3))
	n := int(decode.Bits(word, 3, 3))
	d := int(decode.Bits(word, 0, 3))
	addr := v.extendAddr(v.Add(v.getReg(n), v.getReg(m), ir.Imm1(false)))

	switch op {
	case 0: // STR
		v.WriteMemory(32, addr, v.getReg(d))
	case 1: // STRH
		v.WriteMemory(16, addr, v.Inst(ir.LeastSignificantHalf, v.getReg(d)))
	case 2: // STRB
		v.WriteMemory(8, addr, v.Inst(ir.LeastSignificantByte, v.getReg(d)))
	case 3: // LDRSB
		v.setReg(d, v.SignExtendToWord(8, v.ReadMemory(8, addr)))
	case 4: // LDR
		v.setReg(d, v.ReadMemory(32, addr))
	case 5: // LDRH
		v.setReg(d, v.ZeroExtendToWord(16, v.ReadMemory(16, addr)))
	case 6: // LDRB
		v.setReg(d, v.ZeroExtendToWord(8, v.ReadMemory(8, addr)))
	default: // LDRSH
		v.setReg(d, v.SignExtendToWord(16, v.ReadMemory(16, addr)))
	}
	return true
}

func (v *visitor) thumbLoadStoreImm(word uint32) bool {
	byteAccess := decode.Bit(word, 12)
	load := decode.Bit(word, 11)
	imm5 := decode.Bits(word, 6, 5)
	n := int(decode.Bits(word, 3, 3))
	d := int(decode.Bits(word, 0, 3))

	scale := uint32(4)
	if byteAccess {
		scale = 1
	}
	addr := v.extendAddr(v.Add(v.getReg(n), ir.Imm32(imm5*scale), ir.Imm1(false)))

	switch {
	case load && byteAccess:
		v.setReg(d, v.ZeroExtendToWord(8, v.ReadMemory(8, addr)))
	case load:
		v.setReg(d, v.ReadMemory(32, addr))
	case byteAccess:
		v.WriteMemory(8, addr, v.Inst(ir.LeastSignificantByte, v.getReg(d)))
	default:
		v.WriteMemory(32, addr, v.getReg(d))
	}
	return true
}

func (v *visitor) thumbLoadStoreHalf(word uint32) bool {
	load := decode.Bit(word, 11)
	imm5 := decode.Bits(word, 6, 5)
	n := int(decode.Bits(word, 3, 3))
	d := int(decode.Bits(word, 0, 3))
	addr := v.extendAddr(v.Add(v.getReg(n), ir.Imm32(imm5*2), ir.Imm1(false)))

	if load {
		v.setReg(d, v.ZeroExtendToWord(16, v.ReadMemory(16, addr)))
	} else {
		v.WriteMemory(16, addr, v.Inst(ir.LeastSignificantHalf, v.getReg(d)))
	}
	return true
}

func (v *visitor) thumbLoadStoreSP(word uint32) bool {
	load := decode.Bit(word, 11)
	d := int(decode.Bits(word, 8, 3))
	imm := decode.Bits(word, 0, 8) << 2
	addr := v.extendAddr(v.Add(v.getReg(regSP), ir.Imm32(imm), ir.Imm1(false)))

	if load {
		v.setReg(d, v.ReadMemory(32, addr))
	} else {
		v.WriteMemory(32, addr, v.getReg(d))
	}
	return true
}

func (v *visitor) thumbADR(word uint32) bool {
	d := int(decode.Bits(word, 8, 3))
	imm := decode.Bits(word, 0, 8) << 2
	v.setReg(d, ir.Imm32((v.readPC()&^3)+imm))
	return true
}

func (v *visitor) thumbAddSPImm(word uint32) bool {
	d := int(decode.Bits(word, 8, 3))
	imm := decode.Bits(word, 0, 8) << 2
	v.setReg(d, v.Add(v.getReg(regSP), ir.Imm32(imm), ir.Imm1(false)))
	return true
}

func (v *visitor) thumbAdjustSP(word uint32) bool {
	sub := decode.Bit(word, 7)
	imm := decode.Bits(word, 0, 7) << 2
	if sub {
		v.setReg(regSP, v.Sub(v.getReg(regSP), ir.Imm32(imm), ir.Imm1(true)))
	} else {
		v.setReg(regSP, v.Add(v.getReg(regSP), ir.Imm32(imm), ir.Imm1(false)))
	}
	return true
}

func (v *visitor) thumbExtend(word uint32) bool {
	op := decode.Bits(word, 6, 2)
	m := int(decode.Bits(word, 3, 3))
	d := int(decode.Bits(word, 0, 3))
	rm := v.getReg(m)

	switch op {
	case 0: // SXTH
		v.setReg(d, v.SignExtendToWord(16, v.Inst(ir.LeastSignificantHalf, rm)))
	case 1: // SXTB
		v.setReg(d, v.SignExtendToWord(8, v.Inst(ir.LeastSignificantByte, rm)))
	case 2: // UXTH
		v.setReg(d, v.ZeroExtendToWord(16, v.Inst(ir.LeastSignificantHalf, rm)))
	default: // UXTB
		v.setReg(d, v.ZeroExtendToWord(8, v.Inst(ir.LeastSignificantByte, rm)))
	}
	return true
}

func (v *visitor) thumbREV(word uint32) bool {
	m := int(decode.Bits(word, 3, 3))
	d := int(decode.Bits(word, 0, 3))
	v.setReg(d, v.Inst(ir.ByteReverseWord, v.getReg(m)))
	return true
}

func (v *visitor) thumbREV16(word uint32) bool {
	m := int(decode.Bits(word, 3, 3))
	d := int(decode.Bits(word, 0, 3))
	rm := v.getReg(m)
	hi := v.And(v.LogicalShiftLeft(rm, ir.Imm8(8), v.GetCFlag()), ir.Imm32(0xFF00FF00))
	lo := v.And(v.LogicalShiftRight(rm, ir.Imm8(8), v.GetCFlag()), ir.Imm32(0x00FF00FF))
	v.setReg(d, v.Or(hi, lo))
	return true
}

func (v *visitor) thumbPush(word uint32) bool {
	list := decode.Bits(word, 0, 8)
	if decode.Bit(word, 8) {
		list |= 1 << regLR
	}
	if list == 0 {
		return v.unpredictable()
	}

	count := uint32(0)
	for r := 0; r < 16; r++ {
		if list>>r&1 != 0 {
			count++
		}
	}
	start := v.Sub(v.getReg(regSP), ir.Imm32(4*count), ir.Imm1(true))
	offset := uint32(0)
	for r := 0; r < 16; r++ {
		if list>>r&1 == 0 {
			continue
		}
		addr := v.extendAddr(v.Add(start, ir.Imm32(offset), ir.Imm1(false)))
		v.WriteMemory(32, addr, v.getReg(r))
		offset += 4
	}
	v.setReg(regSP, start)
	return true
}

func (v *visitor) thumbPop(word uint32) bool {
	list := decode.Bits(word, 0, 8)
	loadPC := decode.Bit(word, 8)
	if list == 0 && !loadPC {
		return v.unpredictable()
	}

	count := uint32(0)
	for r := 0; r < 8; r++ {
		if list>>r&1 != 0 {
			count++
		}
	}
	if loadPC {
		count++
	}

	sp := v.getReg(regSP)
	offset := uint32(0)
	var pcValue ir.Value
	for r := 0; r < 8; r++ {
		if list>>r&1 == 0 {
			continue
		}
		addr := v.extendAddr(v.Add(sp, ir.Imm32(offset), ir.Imm1(false)))
		v.setReg(r, v.ReadMemory(32, addr))
		offset += 4
	}
	if loadPC {
		addr := v.extendAddr(v.Add(sp, ir.Imm32(offset), ir.Imm1(false)))
		pcValue = v.ReadMemory(32, addr)
	}
	v.setReg(regSP, v.Add(sp, ir.Imm32(4*count), ir.Imm1(false)))

	if loadPC {
		v.bxWritePC(pcValue, true)
		return false
	}
	return true
}

func (v *visitor) thumbBlockTransfer(word uint32) bool {
	load := decode.Bit(word, 11)
	n := int(decode.Bits(word, 8, 3))
	list := decode.Bits(word, 0, 8)
	if list == 0 {
		return v.unpredictable()
	}

	count := uint32(0)
	for r := 0; r < 8; r++ {
		if list>>r&1 != 0 {
			count++
		}
	}

	base := v.getReg(n)
	offset := uint32(0)
	for r := 0; r < 8; r++ {
		if list>>r&1 == 0 {
			continue
		}
		addr := v.extendAddr(v.Add(base, ir.Imm32(offset), ir.Imm1(false)))
		if load {
			v.setReg(r, v.ReadMemory(32, addr))
		} else {
			v.WriteMemory(32, addr, v.getReg(r))
		}
		offset += 4
	}
	// Writeback unless the base is also loaded.
	if !load || list>>n&1 == 0 {
		v.setReg(n, v.Add(base, ir.Imm32(4*count), ir.Imm1(false)))
	}
	return true
}

func (v *visitor) thumbBKPT(word uint32) bool {
	return v.armBKPT(word)
}

func (v *visitor) thumbHint(word uint32) bool {
	return true
}

func (v *visitor) thumbUDF(word uint32) bool {
	return v.undefined()
}

func (v *visitor) thumbSVC(word uint32) bool {
	imm := decode.Bits(word, 0, 8)
	next := v.nextLocation()
	v.CallSupervisor(ir.Imm32(imm))
	v.SetTerm(ir.CheckHalt{Else: ir.LinkBlockFast{Next: next.Descriptor()}})
	return false
}

func (v *visitor) thumbBCond(word uint32) bool {
	cond := ir.Condition(decode.Bits(word, 8, 4))
	imm := signExtend(decode.Bits(word, 0, 8), 8) << 1
	target := v.readPC() + imm

	v.SetTerm(ir.If{
		Cond: cond,
		Then: ir.LinkBlock{Next: v.loc.WithPC(target).Descriptor()},
		Else: ir.LinkBlock{Next: v.nextLocation().Descriptor()},
	})
	return false
}

func (v *visitor) thumbB(word uint32) bool {
	imm := signExtend(decode.Bits(word, 0, 11), 11) << 1
	target := v.readPC() + imm
	v.SetTerm(ir.LinkBlock{Next: v.loc.WithPC(target).Descriptor()})
	return false
}

// thumbBLPair lifts the two-halfword BL/BLX sequence as one four-byte
// instruction.
func (v *visitor) thumbBLPair(word uint32) bool {
	suffix := uint32(v.cfg.Code.ReadCode16(v.loc.PC + 2))
	v.size = 4

	hiOffset := signExtend(decode.Bits(word, 0, 11), 11) << 12
	loOffset := decode.Bits(suffix, 0, 11) << 1

	switch decode.Bits(suffix, 11, 5) {
	case 0x1F: // BL
		target := v.readPC() + hiOffset + loOffset
		ret := v.nextLocation()
		v.setReg(regLR, ir.Imm32(ret.PC|1))
		v.Void(ir.PushRSB, ir.Imm64(ret.Descriptor().Value()))
		v.SetTerm(ir.LinkBlock{Next: v.loc.WithPC(target).Descriptor()})
		return false
	case 0x1D: // BLX: switch to ARM state
		target := (v.readPC() + hiOffset + loOffset) &^ 3
		ret := v.nextLocation()
		v.setReg(regLR, ir.Imm32(ret.PC|1))
		v.Void(ir.PushRSB, ir.Imm64(ret.Descriptor().Value()))
		v.SetTerm(ir.LinkBlock{Next: v.loc.WithPC(target).WithTFlag(false).Descriptor()})
		return false
	default:
		return v.undefined()
	}
}
