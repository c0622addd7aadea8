// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/isa/x64/in"
	"armlet.dev/armlet/internal/reg"
)

// shift32 lowers the 32-bit shift family.  ARM semantics differ from the
// host's for amounts of 32 and beyond, and the carry-out must thread
// through, so the register-amount forms branch on the amount.
func shift32(op in.Shift) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		if inst.Args[1].IsImmediate() {
			emitShiftImm32(e, inst, op, inst.Args[1].U8())
		} else {
			emitShiftReg32(e, inst, op)
		}
	}
}

func emitShiftImm32(e *Emitter, inst *ir.Inst, op in.Shift, amount uint8) {
	carry := inst.Pseudo(ir.GetCarryFromOp)
	r := e.RA.UseScratchGpr(inst.Args[0])

	if amount == 0 {
		// Identity; carry-out is the carry-in.
		if carry != nil {
			c := e.RA.UseScratchGpr(inst.Args[2])
			e.RA.DefineValue(carry, c)
			e.done[carry] = true
		} else {
			e.RA.Discard(inst.Args[2])
		}
		e.defineResult(inst, r)
		return
	}
	e.RA.Discard(inst.Args[2])

	switch {
	case amount < 32:
		op.RegImm(e.Text, in.Size32, r, amount)
		e.fuseFlag(inst, ir.GetCarryFromOp, in.CondB)
	case op == in.SAR:
		// All amounts from 32 up behave like 32: sign fill, carry from
		// the sign bit.
		if carry != nil {
			cr := e.RA.ScratchGpr()
			in.MOVr.RegReg(e.Text, in.Size32, cr, r)
			in.SHR.RegImm(e.Text, in.Size32, cr, 31)
			e.RA.DefineValue(carry, cr)
			e.done[carry] = true
		}
		in.SAR.RegImm(e.Text, in.Size32, r, 31)
	default:
		// LSL/LSR by exactly 32: zero result, carry from the edge bit.
		if carry != nil {
			cr := e.RA.ScratchGpr()
			in.MOVr.RegReg(e.Text, in.Size32, cr, r)
			if op == in.SHL {
				in.ANDi.RegImm(e.Text, in.Size32, cr, 1)
			} else {
				in.SHR.RegImm(e.Text, in.Size32, cr, 31)
			}
			e.RA.DefineValue(carry, cr)
			e.done[carry] = true
		}
		in.XOR.RegReg(e.Text, in.Size32, r, r)
	}
	e.defineResult(inst, r)
}

// emitShiftReg32 handles a shift amount from a register byte (0..255).
func emitShiftReg32(e *Emitter, inst *ir.Inst, op in.Shift) {
	carry := inst.Pseudo(ir.GetCarryFromOp)

	e.RA.ScratchSpecific(reg.RCX)
	amt := e.RA.UseGpr(inst.Args[1])
	in.MOVZX8.RegReg(e.Text, in.Size32, reg.RCX, amt)
	r := e.RA.UseScratchGpr(inst.Args[0])

	var cr reg.R
	if carry != nil {
		cr = e.RA.UseScratchGpr(inst.Args[2])
	} else {
		e.RA.Discard(inst.Args[2])
	}

	var done, big link

	// Amount zero leaves both the value and the carry alone.
	in.Test(e.Text, in.Size32, reg.RCX, reg.RCX)
	e.jccTo(in.CondE, &done)

	in.CMPi.RegImm(e.Text, in.Size32, reg.RCX, 32)
	e.jccTo(in.CondAE, &big)

	// 1..31: the host shift produces both result and carry.
	op.RegCL(e.Text, in.Size32, r)
	if carry != nil {
		in.Setcc(e.Text, in.CondB, cr)
		in.MOVZX8.RegReg(e.Text, in.Size32, cr, cr)
	}
	e.jmpTo(&done)

	e.bind(&big)
	switch op {
	case in.SHL:
		if carry != nil {
			var over link
			in.CMPi.RegImm(e.Text, in.Size32, reg.RCX, 32)
			e.jccTo(in.CondNE, &over)
			in.MOVr.RegReg(e.Text, in.Size32, cr, r)
			in.ANDi.RegImm(e.Text, in.Size32, cr, 1)
			in.XOR.RegReg(e.Text, in.Size32, r, r)
			e.jmpTo(&done)
			e.bind(&over)
			in.XOR.RegReg(e.Text, in.Size32, cr, cr)
		}
		in.XOR.RegReg(e.Text, in.Size32, r, r)
	case in.SHR:
		if carry != nil {
			var over link
			in.CMPi.RegImm(e.Text, in.Size32, reg.RCX, 32)
			e.jccTo(in.CondNE, &over)
			in.MOVr.RegReg(e.Text, in.Size32, cr, r)
			in.SHR.RegImm(e.Text, in.Size32, cr, 31)
			in.XOR.RegReg(e.Text, in.Size32, r, r)
			e.jmpTo(&done)
			e.bind(&over)
			in.XOR.RegReg(e.Text, in.Size32, cr, cr)
		}
		in.XOR.RegReg(e.Text, in.Size32, r, r)
	case in.SAR:
		if carry != nil {
			in.MOVr.RegReg(e.Text, in.Size32, cr, r)
			in.SHR.RegImm(e.Text, in.Size32, cr, 31)
		}
		in.SAR.RegImm(e.Text, in.Size32, r, 31)
	}

	e.bind(&done)
	if carry != nil {
		e.RA.DefineValue(carry, cr)
		e.done[carry] = true
	}
	e.defineResult(inst, r)
}

func (e *Emitter) emitRotateRight32(inst *ir.Inst) {
	carry := inst.Pseudo(ir.GetCarryFromOp)

	if inst.Args[1].IsImmediate() {
		amount := inst.Args[1].U8()
		r := e.RA.UseScratchGpr(inst.Args[0])
		if amount == 0 {
			if carry != nil {
				c := e.RA.UseScratchGpr(inst.Args[2])
				e.RA.DefineValue(carry, c)
				e.done[carry] = true
			} else {
				e.RA.Discard(inst.Args[2])
			}
		} else {
			e.RA.Discard(inst.Args[2])
			in.ROR.RegImm(e.Text, in.Size32, r, amount&31)
			if amount&31 == 0 {
				// Rotation by a multiple of 32 keeps the value; the
				// carry still observes bit 31.
			}
			if carry != nil {
				cr := e.RA.ScratchGpr()
				in.MOVr.RegReg(e.Text, in.Size32, cr, r)
				in.SHR.RegImm(e.Text, in.Size32, cr, 31)
				e.RA.DefineValue(carry, cr)
				e.done[carry] = true
			}
		}
		e.defineResult(inst, r)
		return
	}

	e.RA.ScratchSpecific(reg.RCX)
	amt := e.RA.UseGpr(inst.Args[1])
	in.MOVZX8.RegReg(e.Text, in.Size32, reg.RCX, amt)
	r := e.RA.UseScratchGpr(inst.Args[0])

	var cr reg.R
	if carry != nil {
		cr = e.RA.UseScratchGpr(inst.Args[2])
	} else {
		e.RA.Discard(inst.Args[2])
	}

	var done link
	in.Test(e.Text, in.Size32, reg.RCX, reg.RCX)
	e.jccTo(in.CondE, &done)

	in.ROR.RegCL(e.Text, in.Size32, r) // host masks the amount to 5 bits
	if carry != nil {
		in.MOVr.RegReg(e.Text, in.Size32, cr, r)
		in.SHR.RegImm(e.Text, in.Size32, cr, 31)
	}

	e.bind(&done)
	if carry != nil {
		e.RA.DefineValue(carry, cr)
		e.done[carry] = true
	}
	e.defineResult(inst, r)
}

func (e *Emitter) emitRRX(inst *ir.Inst) {
	r := e.RA.UseScratchGpr(inst.Args[0])
	cin := inst.Args[1]

	if cin.IsImmediate() {
		if cin.U1() {
			e.Text.PutByte(0xF9) // stc
		} else {
			e.Text.PutByte(0xF8) // clc
		}
	} else {
		c := e.RA.UseGpr(cin)
		in.Bt(e.Text, in.Size32, c, 0)
	}
	in.RCR.RegImm(e.Text, in.Size32, r, 1)
	e.fuseFlag(inst, ir.GetCarryFromOp, in.CondB)
	e.defineResult(inst, r)
}

// shift64 lowers the A64 shift forms; amounts are always below the width.
func shift64(op in.Shift) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		r := e.RA.UseScratchGpr(inst.Args[0])
		if inst.Args[1].IsImmediate() {
			op.RegImm(e.Text, in.Size64, r, inst.Args[1].U8()&63)
		} else {
			e.RA.ScratchSpecific(reg.RCX)
			amt := e.RA.UseGpr(inst.Args[1])
			in.MOVZX8.RegReg(e.Text, in.Size32, reg.RCX, amt)
			op.RegCL(e.Text, in.Size64, r)
		}
		e.defineResult(inst, r)
	}
}
