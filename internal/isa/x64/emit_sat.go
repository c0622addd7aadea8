// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/isa/x64/in"
)

func init() {
	registerEmit(ir.SignedSaturatedAdd8, signedSatOp(in.Size8, false))
	registerEmit(ir.SignedSaturatedAdd16, signedSatOp(in.Size16, false))
	registerEmit(ir.SignedSaturatedAdd32, signedSatOp(in.Size32, false))
	registerEmit(ir.SignedSaturatedAdd64, signedSatOp(in.Size64, false))
	registerEmit(ir.SignedSaturatedSub8, signedSatOp(in.Size8, true))
	registerEmit(ir.SignedSaturatedSub16, signedSatOp(in.Size16, true))
	registerEmit(ir.SignedSaturatedSub32, signedSatOp(in.Size32, true))
	registerEmit(ir.SignedSaturatedSub64, signedSatOp(in.Size64, true))

	registerEmit(ir.UnsignedSaturatedAdd8, unsignedSatOp(in.Size8, false))
	registerEmit(ir.UnsignedSaturatedAdd16, unsignedSatOp(in.Size16, false))
	registerEmit(ir.UnsignedSaturatedAdd32, unsignedSatOp(in.Size32, false))
	registerEmit(ir.UnsignedSaturatedAdd64, unsignedSatOp(in.Size64, false))
	registerEmit(ir.UnsignedSaturatedSub8, unsignedSatOp(in.Size8, true))
	registerEmit(ir.UnsignedSaturatedSub16, unsignedSatOp(in.Size16, true))
	registerEmit(ir.UnsignedSaturatedSub32, unsignedSatOp(in.Size32, true))
	registerEmit(ir.UnsignedSaturatedSub64, unsignedSatOp(in.Size64, true))

	registerEmit(ir.SignedSaturatedDoublingMultiplyReturnHigh16, (*Emitter).emitDoublingMultiplyHigh16)
	registerEmit(ir.SignedSaturatedDoublingMultiplyReturnHigh32, (*Emitter).emitDoublingMultiplyHigh32)
	registerEmit(ir.SignedSaturation, (*Emitter).emitSignedSaturation)
	registerEmit(ir.UnsignedSaturation, (*Emitter).emitUnsignedSaturation)
}

func sizeBits(t in.Type) uint {
	switch t {
	case in.Size8:
		return 8
	case in.Size16:
		return 16
	case in.Size32:
		return 32
	default:
		return 64
	}
}

// signedSatOp clamps toward the bound matching the first operand's sign.
// The overflow register is preloaded with INT_MAX or INT_MIN of the width
// using the sign bit, then substituted on overflow.
func signedSatOp(t in.Type, sub bool) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		bits := sizeBits(t)
		result := e.RA.UseScratchGpr(inst.Args[0])
		addend := e.RA.UseGpr(inst.Args[1])
		overflow := e.RA.ScratchGpr()

		intMax := uint64(1)<<(bits-1) - 1
		if t == in.Size64 {
			in.MovImm64(e.Text, overflow, intMax)
			in.Bt(e.Text, in.Size64, result, 63)
			in.ADCi.RegImm(e.Text, in.Size64, overflow, 0)
		} else {
			// overflow = result sign ? INT_MIN : INT_MAX, via adc.
			in.XOR.RegReg(e.Text, in.Size32, overflow, overflow)
			in.Bt(e.Text, in.Size32, result, uint8(bits-1))
			in.ADCi.RegImm(e.Text, in.Size32, overflow, int32(intMax))
		}

		if sub {
			in.SUB.RegReg(e.Text, t, result, addend)
		} else {
			in.ADD.RegReg(e.Text, t, result, addend)
		}

		if t == in.Size8 {
			in.Cmovcc(e.Text, in.Size32, in.CondO, result, overflow)
		} else {
			in.Cmovcc(e.Text, t, in.CondO, result, overflow)
		}

		e.fuseFlag(inst, ir.GetOverflowFromOp, in.CondO)
		e.defineResult(inst, result)
	}
}

// unsignedSatOp clamps to the type bounds: the addition bound is the type
// maximum, the subtraction bound is zero.
func unsignedSatOp(t in.Type, sub bool) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		bits := sizeBits(t)
		result := e.RA.UseScratchGpr(inst.Args[0])
		bound := e.RA.UseScratchGpr(inst.Args[1])

		if sub {
			in.SUB.RegReg(e.Text, t, result, bound)
		} else {
			in.ADD.RegReg(e.Text, t, result, bound)
		}

		// mov leaves the carry from the add or sub intact for the cmov.
		if sub {
			in.MovImm32(e.Text, bound, 0)
		} else if t == in.Size64 {
			in.MovImm64(e.Text, bound, ^uint64(0))
		} else {
			in.MovImm32(e.Text, bound, uint32(1)<<bits-1)
		}

		if t == in.Size8 {
			in.Cmovcc(e.Text, in.Size32, in.CondAE, bound, result)
		} else {
			in.Cmovcc(e.Text, t, in.CondAE, bound, result)
		}

		e.fuseFlag(inst, ir.GetOverflowFromOp, in.CondB)
		e.defineResult(inst, bound)
	}
}

func (e *Emitter) emitDoublingMultiplyHigh16(inst *ir.Inst) {
	x := e.RA.UseScratchGpr(inst.Args[0])
	y := e.RA.UseScratchGpr(inst.Args[1])

	in.MOVSX16.RegReg(e.Text, in.Size32, x, x)
	in.MOVSX16.RegReg(e.Text, in.Size32, y, y)
	in.Imul(e.Text, in.Size32, x, y)
	in.SAR.RegImm(e.Text, in.Size32, x, 15)

	// Saturate: the only overflowing product is 0x8000 after the shift.
	in.MovImm32(e.Text, y, 0x7FFF)
	in.CMP.RegReg(e.Text, in.Size32, x, y)
	in.Cmovcc(e.Text, in.Size32, in.CondLE, y, x)
	e.fuseFlag(inst, ir.GetOverflowFromOp, in.CondG)
	e.defineResult(inst, y)
}

func (e *Emitter) emitDoublingMultiplyHigh32(inst *ir.Inst) {
	x := e.RA.UseScratchGpr(inst.Args[0])
	y := e.RA.UseScratchGpr(inst.Args[1])

	in.Movsxd(e.Text, x, x)
	in.Movsxd(e.Text, y, y)
	in.Imul(e.Text, in.Size64, x, y)
	in.SAR.RegImm(e.Text, in.Size64, x, 31)

	in.MovImm32(e.Text, y, 0x7FFFFFFF)
	in.CMP.RegReg(e.Text, in.Size64, x, y)
	in.Cmovcc(e.Text, in.Size64, in.CondLE, y, x)
	e.fuseFlag(inst, ir.GetOverflowFromOp, in.CondG)
	e.defineResult(inst, y)
}

func (e *Emitter) emitSignedSaturation(inst *ir.Inst) {
	n := uint(inst.Args[1].U8())
	overflowInst := inst.Pseudo(ir.GetOverflowFromOp)

	if n == 32 {
		// Identity; the overflow flag is constant false.
		r := e.RA.UseScratchGpr(inst.Args[0])
		if overflowInst != nil {
			cr := e.RA.ScratchGpr()
			in.XOR.RegReg(e.Text, in.Size32, cr, cr)
			e.RA.DefineValue(overflowInst, cr)
			e.done[overflowInst] = true
		}
		e.defineResult(inst, r)
		return
	}

	mask := int32(1)<<n - 1
	positive := int32(1)<<(n-1) - 1
	negative := int32(1) << (n - 1)

	a := e.RA.UseGpr(inst.Args[0])
	result := e.RA.ScratchGpr()
	overflow := e.RA.ScratchGpr()

	// overflow ends up within [0, mask] iff a is within the saturation
	// bounds.
	in.Lea(e.Text, in.Size32, overflow, a, negative)

	// Saturated value matching a's sign.
	in.MOVr.RegReg(e.Text, in.Size32, result, a)
	in.SAR.RegImm(e.Text, in.Size32, result, 31)
	in.XORi.RegImm(e.Text, in.Size32, result, positive)

	in.CMPi.RegImm(e.Text, in.Size32, overflow, mask)
	in.Cmovcc(e.Text, in.Size32, in.CondBE, result, a)

	e.fuseFlag(inst, ir.GetOverflowFromOp, in.CondA)
	e.defineResult(inst, result)
}

func (e *Emitter) emitUnsignedSaturation(inst *ir.Inst) {
	n := uint(inst.Args[1].U8())
	saturated := int32(1)<<n - 1

	a := e.RA.UseGpr(inst.Args[0])
	result := e.RA.ScratchGpr()
	zero := e.RA.ScratchGpr()

	in.XOR.RegReg(e.Text, in.Size32, zero, zero)
	in.CMPi.RegImm(e.Text, in.Size32, a, saturated)
	in.MovImm32(e.Text, result, uint32(saturated))
	in.Cmovcc(e.Text, in.Size32, in.CondLE, result, zero)
	in.Cmovcc(e.Text, in.Size32, in.CondBE, result, a)

	e.fuseFlag(inst, ir.GetOverflowFromOp, in.CondA)
	e.defineResult(inst, result)
}
