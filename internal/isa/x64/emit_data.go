// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/isa/x64/in"
	"armlet.dev/armlet/internal/reg"
)

func init() {
	registerEmit(ir.GetRegister, (*Emitter).emitGetRegister)
	registerEmit(ir.SetRegister, (*Emitter).emitSetRegister)
	registerEmit(ir.GetRegister64, (*Emitter).emitGetRegister64)
	registerEmit(ir.SetRegister64, (*Emitter).emitSetRegister64)
	registerEmit(ir.GetExtendedRegister32, (*Emitter).emitGetExtReg32)
	registerEmit(ir.SetExtendedRegister32, (*Emitter).emitSetExtReg32)
	registerEmit(ir.GetExtendedRegister64, (*Emitter).emitGetExtReg64)
	registerEmit(ir.SetExtendedRegister64, (*Emitter).emitSetExtReg64)

	registerEmit(ir.GetNFlag, flagGetter(31))
	registerEmit(ir.SetNFlag, flagSetter(31))
	registerEmit(ir.GetZFlag, flagGetter(30))
	registerEmit(ir.SetZFlag, flagSetter(30))
	registerEmit(ir.GetCFlag, flagGetter(29))
	registerEmit(ir.SetCFlag, flagSetter(29))
	registerEmit(ir.GetVFlag, flagGetter(28))
	registerEmit(ir.SetVFlag, flagSetter(28))
	registerEmit(ir.OrQFlag, (*Emitter).emitOrQFlag)
	registerEmit(ir.GetQFlag, (*Emitter).emitGetQFlag)
	registerEmit(ir.SetQFlag, (*Emitter).emitSetQFlag)
	registerEmit(ir.GetNZCVRaw, (*Emitter).emitGetNZCVRaw)
	registerEmit(ir.SetNZCVRaw, (*Emitter).emitSetNZCVRaw)
	registerEmit(ir.GetCpsr, (*Emitter).emitGetCpsr)
	registerEmit(ir.SetCheckBit, (*Emitter).emitSetCheckBit)
	registerEmit(ir.BXWritePC, (*Emitter).emitBXWritePC)
	registerEmit(ir.SetPC64, (*Emitter).emitSetPC64)

	registerEmit(ir.Add32, addSub(in.Size32, false))
	registerEmit(ir.Add64, addSub(in.Size64, false))
	registerEmit(ir.Sub32, addSub(in.Size32, true))
	registerEmit(ir.Sub64, addSub(in.Size64, true))
	registerEmit(ir.Mul32, mulOp(in.Size32))
	registerEmit(ir.Mul64, mulOp(in.Size64))
	registerEmit(ir.And32, aluOp(in.AND, in.Size32))
	registerEmit(ir.And64, aluOp(in.AND, in.Size64))
	registerEmit(ir.Eor32, aluOp(in.XOR, in.Size32))
	registerEmit(ir.Eor64, aluOp(in.XOR, in.Size64))
	registerEmit(ir.Or32, aluOp(in.OR, in.Size32))
	registerEmit(ir.Or64, aluOp(in.OR, in.Size64))
	registerEmit(ir.Not32, notOp(in.Size32))
	registerEmit(ir.Not64, notOp(in.Size64))

	registerEmit(ir.LogicalShiftLeft32, shift32(in.SHL))
	registerEmit(ir.LogicalShiftRight32, shift32(in.SHR))
	registerEmit(ir.ArithmeticShiftRight32, shift32(in.SAR))
	registerEmit(ir.RotateRight32, (*Emitter).emitRotateRight32)
	registerEmit(ir.RotateRightExtended, (*Emitter).emitRRX)
	registerEmit(ir.LogicalShiftLeft64, shift64(in.SHL))
	registerEmit(ir.LogicalShiftRight64, shift64(in.SHR))
	registerEmit(ir.ArithmeticShiftRight64, shift64(in.SAR))
	registerEmit(ir.RotateRight64, shift64(in.ROR))

	registerEmit(ir.CountLeadingZeros32, clzOp(in.Size32))
	registerEmit(ir.CountLeadingZeros64, clzOp(in.Size64))
	registerEmit(ir.ByteReverseWord, (*Emitter).emitByteReverseWord)
	registerEmit(ir.ByteReverseHalf, (*Emitter).emitByteReverseHalf)
	registerEmit(ir.MostSignificantBit, (*Emitter).emitMostSignificantBit)
	registerEmit(ir.IsZero32, isZero(in.Size32))
	registerEmit(ir.IsZero64, isZero(in.Size64))
	registerEmit(ir.TestBit, (*Emitter).emitTestBit)
	registerEmit(ir.ConditionalSelect32, condSelect(in.Size32))
	registerEmit(ir.ConditionalSelect64, condSelect(in.Size64))

	registerEmit(ir.SignExtendByteToWord, extend(in.MOVSX8, in.Size32))
	registerEmit(ir.SignExtendHalfToWord, extend(in.MOVSX16, in.Size32))
	registerEmit(ir.SignExtendWordToLong, (*Emitter).emitMovsxd)
	registerEmit(ir.ZeroExtendByteToWord, extend(in.MOVZX8, in.Size32))
	registerEmit(ir.ZeroExtendHalfToWord, extend(in.MOVZX16, in.Size32))
	registerEmit(ir.ZeroExtendWordToLong, (*Emitter).emitZeroExtendWordToLong)
	registerEmit(ir.LeastSignificantWord, (*Emitter).emitZeroExtendWordToLong)
	registerEmit(ir.LeastSignificantHalf, (*Emitter).emitNarrow)
	registerEmit(ir.LeastSignificantByte, (*Emitter).emitNarrow)

	registerEmit(ir.PushRSB, (*Emitter).emitPushRSB)
}

func (e *Emitter) emitGetRegister(inst *ir.Inst) {
	r := e.RA.ScratchGpr()
	in.MOVr.RegMem(e.Text, in.Size32, r, RegState, e.Info.RegOffset(inst.Args[0].Reg()))
	e.defineResult(inst, r)
}

func (e *Emitter) emitSetRegister(inst *ir.Inst) {
	off := e.Info.RegOffset(inst.Args[0].Reg())
	if v := inst.Args[1]; v.IsImmediate() {
		in.MovImm32Mem(e.Text, RegState, off, v.U32())
	} else {
		r := e.RA.UseGpr(v)
		in.MOVmr.MemReg(e.Text, in.Size32, RegState, off, r)
	}
}

func (e *Emitter) emitGetRegister64(inst *ir.Inst) {
	r := e.RA.ScratchGpr()
	in.MOVr.RegMem(e.Text, in.Size64, r, RegState, e.Info.XOffset(inst.Args[0].Reg()))
	e.defineResult(inst, r)
}

func (e *Emitter) emitSetRegister64(inst *ir.Inst) {
	off := e.Info.XOffset(inst.Args[0].Reg())
	if v := inst.Args[1]; v.IsImmediate() && int64(v.U64()) == int64(int32(v.U64())) {
		in.MovImm64Mem(e.Text, RegState, off, int32(v.U64()))
	} else {
		r := e.RA.UseGpr(v)
		in.MOVmr.MemReg(e.Text, in.Size64, RegState, off, r)
	}
}

func (e *Emitter) emitGetExtReg32(inst *ir.Inst) {
	r := e.RA.ScratchGpr()
	in.MOVr.RegMem(e.Text, in.Size32, r, RegState, e.Info.OffExtRegs+int32(inst.Args[0].Reg())*4)
	e.defineResult(inst, r)
}

func (e *Emitter) emitSetExtReg32(inst *ir.Inst) {
	off := e.Info.OffExtRegs + int32(inst.Args[0].Reg())*4
	r := e.RA.UseGpr(inst.Args[1])
	in.MOVmr.MemReg(e.Text, in.Size32, RegState, off, r)
}

func (e *Emitter) emitGetExtReg64(inst *ir.Inst) {
	r := e.RA.ScratchGpr()
	in.MOVr.RegMem(e.Text, in.Size64, r, RegState, e.Info.OffExtRegs+int32(inst.Args[0].Reg())*4)
	e.defineResult(inst, r)
}

func (e *Emitter) emitSetExtReg64(inst *ir.Inst) {
	off := e.Info.OffExtRegs + int32(inst.Args[0].Reg())*4
	r := e.RA.UseGpr(inst.Args[1])
	in.MOVmr.MemReg(e.Text, in.Size64, RegState, off, r)
}

func flagGetter(bit uint8) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		r := e.RA.ScratchGpr()
		in.MOVr.RegMem(e.Text, in.Size32, r, RegState, e.Info.OffNZCV)
		in.SHR.RegImm(e.Text, in.Size32, r, bit)
		if bit != 31 {
			in.ANDi.RegImm(e.Text, in.Size32, r, 1)
		}
		e.defineResult(inst, r)
	}
}

func flagSetter(bit uint8) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		v := inst.Args[0]
		t := e.RA.ScratchGpr()
		in.MOVr.RegMem(e.Text, in.Size32, t, RegState, e.Info.OffNZCV)
		in.ANDi.RegImm(e.Text, in.Size32, t, int32(^(uint32(1) << bit)))
		if v.IsImmediate() {
			if v.U1() {
				in.ORi.RegImm(e.Text, in.Size32, t, int32(uint32(1)<<bit))
			}
		} else {
			s := e.RA.UseScratchGpr(v)
			in.SHL.RegImm(e.Text, in.Size32, s, bit)
			in.OR.RegReg(e.Text, in.Size32, t, s)
		}
		in.MOVmr.MemReg(e.Text, in.Size32, RegState, e.Info.OffNZCV, t)
	}
}

func (e *Emitter) emitOrQFlag(inst *ir.Inst) {
	v := inst.Args[0]
	if v.IsImmediate() {
		if v.U1() {
			in.MovImm8Mem(e.Text, RegState, e.Info.OffQ, 1)
		}
		return
	}
	r := e.RA.UseGpr(v)
	in.ORmr.MemReg(e.Text, in.Size8, RegState, e.Info.OffQ, r)
}

func (e *Emitter) emitGetQFlag(inst *ir.Inst) {
	r := e.RA.ScratchGpr()
	in.MOVZX8.RegMem(e.Text, in.Size32, r, RegState, e.Info.OffQ)
	e.defineResult(inst, r)
}

func (e *Emitter) emitSetQFlag(inst *ir.Inst) {
	v := inst.Args[0]
	if v.IsImmediate() {
		var x uint8
		if v.U1() {
			x = 1
		}
		in.MovImm8Mem(e.Text, RegState, e.Info.OffQ, x)
		return
	}
	r := e.RA.UseGpr(v)
	in.MOVmr.MemReg(e.Text, in.Size8, RegState, e.Info.OffQ, r)
}

func (e *Emitter) emitGetNZCVRaw(inst *ir.Inst) {
	r := e.RA.ScratchGpr()
	in.MOVr.RegMem(e.Text, in.Size32, r, RegState, e.Info.OffNZCV)
	e.defineResult(inst, r)
}

func (e *Emitter) emitSetNZCVRaw(inst *ir.Inst) {
	if v := inst.Args[0]; v.IsImmediate() {
		in.MovImm32Mem(e.Text, RegState, e.Info.OffNZCV, v.U32()&0xF0000000)
		return
	}
	r := e.RA.UseScratchGpr(inst.Args[0])
	mask := uint32(0xF0000000)
	in.ANDi.RegImm(e.Text, in.Size32, r, int32(mask))
	in.MOVmr.MemReg(e.Text, in.Size32, RegState, e.Info.OffNZCV, r)
}

func (e *Emitter) emitGetCpsr(inst *ir.Inst) {
	r := e.RA.ScratchGpr()
	t := e.RA.ScratchGpr()

	in.MOVr.RegMem(e.Text, in.Size32, r, RegState, e.Info.OffNZCV)
	// Sticky Q at bit 27.
	in.MOVZX8.RegMem(e.Text, in.Size32, t, RegState, e.Info.OffQ)
	in.SHL.RegImm(e.Text, in.Size32, t, 27)
	in.OR.RegReg(e.Text, in.Size32, r, t)
	// T (descriptor bit 0 of the upper half) at bit 5, E (bit 1) at bit 9.
	in.MOVr.RegMem(e.Text, in.Size32, t, RegState, e.Info.OffUpperLoc)
	in.ANDi.RegImm(e.Text, in.Size32, t, 1)
	in.SHL.RegImm(e.Text, in.Size32, t, 5)
	in.OR.RegReg(e.Text, in.Size32, r, t)
	in.MOVr.RegMem(e.Text, in.Size32, t, RegState, e.Info.OffUpperLoc)
	in.ANDi.RegImm(e.Text, in.Size32, t, 2)
	in.SHL.RegImm(e.Text, in.Size32, t, 8)
	in.OR.RegReg(e.Text, in.Size32, r, t)
	// User mode bits.
	in.ORi.RegImm(e.Text, in.Size32, r, 0x10)
	e.defineResult(inst, r)
}

func (e *Emitter) emitSetCheckBit(inst *ir.Inst) {
	v := inst.Args[0]
	if v.IsImmediate() {
		var x uint8
		if v.U1() {
			x = 1
		}
		in.MovImm8Mem(e.Text, RegState, e.Info.OffCheckBit, x)
		return
	}
	r := e.RA.UseGpr(v)
	in.MOVmr.MemReg(e.Text, in.Size8, RegState, e.Info.OffCheckBit, r)
}

func (e *Emitter) emitBXWritePC(inst *ir.Inst) {
	addr := e.RA.UseScratchGpr(inst.Args[0])
	et := e.RA.ScratchGpr()
	t := e.RA.ScratchGpr()

	in.MOVr.RegReg(e.Text, in.Size32, et, addr)
	in.ANDi.RegImm(e.Text, in.Size32, et, 1)

	// Update the T bit of the upper location descriptor.
	in.MOVr.RegMem(e.Text, in.Size32, t, RegState, e.Info.OffUpperLoc)
	in.ANDi.RegImm(e.Text, in.Size32, t, ^1)
	in.OR.RegReg(e.Text, in.Size32, t, et)
	in.MOVmr.MemReg(e.Text, in.Size32, RegState, e.Info.OffUpperLoc, t)

	// Alignment mask: 0xFFFFFFFE in Thumb state, 0xFFFFFFFC in ARM state.
	in.ADD.RegReg(e.Text, in.Size32, et, et)
	in.ORi.RegImm(e.Text, in.Size32, et, -4)
	in.AND.RegReg(e.Text, in.Size32, addr, et)
	in.MOVmr.MemReg(e.Text, in.Size32, RegState, e.Info.RegOffset(15), addr)
}

func (e *Emitter) emitSetPC64(inst *ir.Inst) {
	if v := inst.Args[0]; v.IsImmediate() && int64(v.U64()) == int64(int32(v.U64())) {
		in.MovImm64Mem(e.Text, RegState, e.Info.OffPC, int32(v.U64()))
		return
	}
	r := e.RA.UseGpr(inst.Args[0])
	in.MOVmr.MemReg(e.Text, in.Size64, RegState, e.Info.OffPC, r)
}

// addSub lowers Add/Sub with the optional carry/overflow companions.  The
// IR carry convention is the x86 one for addition; subtraction is emitted
// as "a + ^b + carry" so the same convention holds.
// addSub lowers Add/Sub with the optional carry/overflow companions.  The
// IR subtraction convention is "a + ^b + carry", so both forms share the
// x86 carry meaning and the companions read CF and OF directly.
func addSub(t in.Type, sub bool) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		result := e.RA.UseScratchGpr(inst.Args[0])
		carryIn := inst.Args[2]

		// The right-hand side ends up in a register: subtraction needs
		// the complement, and the ADC forms want uniform operands.
		var rhs reg.R
		if inst.Args[1].IsImmediate() {
			rhs = e.RA.ScratchGpr()
			materializeImm(e.Text, rhs, inst.Args[1])
		} else if sub {
			rhs = e.RA.UseScratchGpr(inst.Args[1])
		} else {
			rhs = e.RA.UseGpr(inst.Args[1])
		}
		if sub {
			if inst.Args[1].IsImmediate() {
				in.NOT.Reg(e.Text, t, rhs)
			} else {
				in.NOT.Reg(e.Text, t, rhs)
			}
		}

		switch {
		case carryIn.IsImmediate() && !carryIn.U1():
			in.ADD.RegReg(e.Text, t, result, rhs)
		case carryIn.IsImmediate() && carryIn.U1():
			e.Text.PutByte(0xF9) // stc
			in.ADC.RegReg(e.Text, t, result, rhs)
		default:
			c := e.RA.UseGpr(carryIn)
			// bt c, 0 loads the carry flag.
			in.Bt(e.Text, in.Size32, c, 0)
			in.ADC.RegReg(e.Text, t, result, rhs)
		}

		e.fuseFlag(inst, ir.GetCarryFromOp, in.CondB)
		e.fuseFlag(inst, ir.GetOverflowFromOp, in.CondO)
		e.defineResult(inst, result)
	}
}

func aluOp(op in.RM, t in.Type) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		result := e.RA.UseScratchGpr(inst.Args[0])
		if v := inst.Args[1]; v.IsImmediate() && t == in.Size32 {
			mi := map[in.RM]in.MI{in.AND: in.ANDi, in.OR: in.ORi, in.XOR: in.XORi}[op]
			mi.RegImm(e.Text, t, result, int32(v.U32()))
		} else {
			rhs := e.RA.UseGpr(inst.Args[1])
			op.RegReg(e.Text, t, result, rhs)
		}
		e.defineResult(inst, result)
	}
}

func notOp(t in.Type) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		result := e.RA.UseScratchGpr(inst.Args[0])
		in.NOT.Reg(e.Text, t, result)
		e.defineResult(inst, result)
	}
}

func mulOp(t in.Type) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		result := e.RA.UseScratchGpr(inst.Args[0])
		rhs := e.RA.UseGpr(inst.Args[1])
		in.Imul(e.Text, t, result, rhs)
		e.defineResult(inst, result)
	}
}

func (e *Emitter) emitMovsxd(inst *ir.Inst) {
	r := e.RA.UseScratchGpr(inst.Args[0])
	in.Movsxd(e.Text, r, r)
	e.defineResult(inst, r)
}

func (e *Emitter) emitZeroExtendWordToLong(inst *ir.Inst) {
	// A 32-bit register move zero-extends.
	r := e.RA.UseScratchGpr(inst.Args[0])
	in.MOVr.RegReg(e.Text, in.Size32, r, r)
	e.defineResult(inst, r)
}

// emitNarrow truncates; the value class does not change register width.
func (e *Emitter) emitNarrow(inst *ir.Inst) {
	r := e.RA.UseScratchGpr(inst.Args[0])
	e.defineResult(inst, r)
}

func extend(op in.Extend, t in.Type) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		r := e.RA.UseScratchGpr(inst.Args[0])
		op.RegReg(e.Text, t, r, r)
		e.defineResult(inst, r)
	}
}

func (e *Emitter) emitByteReverseWord(inst *ir.Inst) {
	r := e.RA.UseScratchGpr(inst.Args[0])
	in.Bswap(e.Text, in.Size32, r)
	e.defineResult(inst, r)
}

func (e *Emitter) emitByteReverseHalf(inst *ir.Inst) {
	r := e.RA.UseScratchGpr(inst.Args[0])
	in.ROR.RegImm(e.Text, in.Size16, r, 8)
	e.defineResult(inst, r)
}

func (e *Emitter) emitMostSignificantBit(inst *ir.Inst) {
	r := e.RA.UseScratchGpr(inst.Args[0])
	in.SHR.RegImm(e.Text, in.Size32, r, 31)
	e.defineResult(inst, r)
}

func isZero(t in.Type) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		r := e.RA.UseScratchGpr(inst.Args[0])
		in.Test(e.Text, t, r, r)
		in.Setcc(e.Text, in.CondE, r)
		in.MOVZX8.RegReg(e.Text, in.Size32, r, r)
		e.defineResult(inst, r)
	}
}

func (e *Emitter) emitTestBit(inst *ir.Inst) {
	r := e.RA.UseScratchGpr(inst.Args[0])
	in.Bt(e.Text, in.Size64, r, inst.Args[1].U8())
	in.Setcc(e.Text, in.CondB, r)
	in.MOVZX8.RegReg(e.Text, in.Size32, r, r)
	e.defineResult(inst, r)
}

func condSelect(t in.Type) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		cond := inst.Args[0].Cond()
		result := e.RA.UseScratchGpr(inst.Args[1])
		other := e.RA.UseGpr(inst.Args[2])

		passed := e.emitCondValue(cond)
		in.Test(e.Text, in.Size32, passed, passed)
		in.Cmovcc(e.Text, t, in.CondE, result, other)
		e.defineResult(inst, result)
	}
}

// emitCondValue computes an ARM condition as a 0/1 register value using
// allocator scratches, safe inside register-allocated code.
func (e *Emitter) emitCondValue(cond ir.Condition) reg.R {
	const (
		bitV = 28
		bitC = 29
		bitZ = 30
		bitN = 31
	)
	r := e.RA.ScratchGpr()
	if cond >= ir.CondAL {
		in.MovImm32(e.Text, r, 1)
		return r
	}

	in.MOVr.RegMem(e.Text, in.Size32, r, RegState, e.Info.OffNZCV)
	switch cond {
	case ir.CondEQ, ir.CondNE:
		in.TestImm(e.Text, in.Size32, r, 1<<bitZ)
		in.Setcc(e.Text, pick(cond == ir.CondEQ, in.CondNE, in.CondE), r)
	case ir.CondCS, ir.CondCC:
		in.TestImm(e.Text, in.Size32, r, 1<<bitC)
		in.Setcc(e.Text, pick(cond == ir.CondCS, in.CondNE, in.CondE), r)
	case ir.CondMI, ir.CondPL:
		in.TestImm(e.Text, in.Size32, r, signBit)
		in.Setcc(e.Text, pick(cond == ir.CondMI, in.CondNE, in.CondE), r)
	case ir.CondVS, ir.CondVC:
		in.TestImm(e.Text, in.Size32, r, 1<<bitV)
		in.Setcc(e.Text, pick(cond == ir.CondVS, in.CondNE, in.CondE), r)
	case ir.CondHI, ir.CondLS:
		in.ANDi.RegImm(e.Text, in.Size32, r, 1<<bitC|1<<bitZ)
		in.CMPi.RegImm(e.Text, in.Size32, r, 1<<bitC)
		in.Setcc(e.Text, pick(cond == ir.CondHI, in.CondE, in.CondNE), r)
	case ir.CondGE, ir.CondLT:
		t := e.RA.ScratchGpr()
		in.MOVr.RegReg(e.Text, in.Size32, t, r)
		in.SHR.RegImm(e.Text, in.Size32, t, bitN-bitV)
		in.XOR.RegReg(e.Text, in.Size32, r, t)
		in.TestImm(e.Text, in.Size32, r, 1<<bitV)
		in.Setcc(e.Text, pick(cond == ir.CondGE, in.CondE, in.CondNE), r)
	case ir.CondGT, ir.CondLE:
		t := e.RA.ScratchGpr()
		in.MOVr.RegReg(e.Text, in.Size32, t, r)
		in.SHR.RegImm(e.Text, in.Size32, t, bitN-bitV)
		in.XOR.RegReg(e.Text, in.Size32, t, r)
		in.ANDi.RegImm(e.Text, in.Size32, t, 1<<bitV)
		in.ANDi.RegImm(e.Text, in.Size32, r, 1<<bitZ)
		in.OR.RegReg(e.Text, in.Size32, r, t)
		in.Test(e.Text, in.Size32, r, r)
		in.Setcc(e.Text, pick(cond == ir.CondGT, in.CondE, in.CondNE), r)
	}
	in.MOVZX8.RegReg(e.Text, in.Size32, r, r)
	return r
}

func clzOp(t in.Type) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		src := e.RA.UseGpr(inst.Args[0])
		r := e.RA.ScratchGpr()
		if e.Feat.LZCNT {
			in.Lzcnt(e.Text, t, r, src)
			e.defineResult(inst, r)
			return
		}

		width := int32(32)
		if t == in.Size64 {
			width = 64
		}
		tmp := e.RA.ScratchGpr()
		in.Bsr(e.Text, t, tmp, src)
		// Sentinel -1 makes the zero case come out as the full width.
		if t == in.Size64 {
			in.MovImm64(e.Text, r, ^uint64(0))
		} else {
			in.MovImm32(e.Text, r, 0xFFFFFFFF)
		}
		in.Cmovcc(e.Text, t, in.CondNE, r, tmp)
		// r = (width-1) - bsr, or width when the source was zero.
		in.NEG.Reg(e.Text, t, r)
		in.ADDi.RegImm(e.Text, t, r, width-1)
		e.defineResult(inst, r)
	}
}

func (e *Emitter) emitPushRSB(inst *ir.Inst) {
	desc := inst.Args[0].U64()
	e.EmitPushRSB(desc, 0)
}
