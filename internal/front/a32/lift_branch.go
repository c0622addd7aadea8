// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a32

import (
	"armlet.dev/armlet/internal/decode"
	"armlet.dev/armlet/internal/ir"
)

func signExtend(value uint32, bits uint) uint32 {
	shift := 32 - bits
	return uint32(int32(value<<shift) >> shift)
}

func (v *visitor) armB(word uint32) bool {
	offset := signExtend(decode.Bits(word, 0, 24), 24) << 2
	target := v.readPC() + offset
	v.SetTerm(ir.LinkBlock{Next: v.loc.WithPC(target).Descriptor()})
	return false
}

func (v *visitor) armBL(word uint32) bool {
	offset := signExtend(decode.Bits(word, 0, 24), 24) << 2
	target := v.readPC() + offset
	ret := v.nextLocation()
	v.setReg(regLR, ir.Imm32(ret.PC))
	v.Void(ir.PushRSB, ir.Imm64(ret.Descriptor().Value()))
	v.SetTerm(ir.LinkBlock{Next: v.loc.WithPC(target).Descriptor()})
	return false
}

func (v *visitor) armBLXImm(word uint32) bool {
	// Unconditional encoding: switches to Thumb, H selects the halfword.
	h := decode.Bits(word, 24, 1)
	offset := signExtend(decode.Bits(word, 0, 24), 24)<<2 | h<<1
	target := v.readPC() + offset
	ret := v.nextLocation()
	v.setReg(regLR, ir.Imm32(ret.PC))
	v.Void(ir.PushRSB, ir.Imm64(ret.Descriptor().Value()))
	v.SetTerm(ir.LinkBlock{Next: v.loc.WithPC(target).WithTFlag(true).Descriptor()})
	return false
}

func (v *visitor) armBX(word uint32) bool {
	m := int(decode.Bits(word, 0, 4))
	v.bxWritePC(v.getReg(m), m == regLR)
	return false
}

func (v *visitor) armBLXReg(word uint32) bool {
	m := int(decode.Bits(word, 0, 4))
	if m == regPC {
		return v.unpredictable()
	}
	ret := v.nextLocation()
	target := v.getReg(m)
	v.setReg(regLR, ir.Imm32(ret.PC))
	v.Void(ir.PushRSB, ir.Imm64(ret.Descriptor().Value()))
	v.bxWritePC(target, false)
	return false
}

func (v *visitor) armSVC(word uint32) bool {
	imm := decode.Bits(word, 0, 24)
	next := v.nextLocation()
	v.CallSupervisor(ir.Imm32(imm))
	v.SetTerm(ir.CheckHalt{Else: ir.LinkBlockFast{Next: next.Descriptor()}})
	return false
}

func (v *visitor) armUDF(word uint32) bool {
	return v.undefined()
}

func (v *visitor) armBKPT(word uint32) bool {
	v.ExceptionRaised(uint64(v.loc.PC), ExceptionBreakpoint)
	v.SetTerm(ir.CheckHalt{Else: ir.LinkBlockFast{Next: v.nextLocation().Descriptor()}})
	return false
}

func (v *visitor) armDMB(word uint32) bool {
	v.Void(ir.DataMemoryBarrier)
	return true
}

func (v *visitor) armDSB(word uint32) bool {
	v.Void(ir.DataSynchronizationBarrier)
	return true
}

func (v *visitor) armISB(word uint32) bool {
	v.Void(ir.InstructionSynchronizationBarrier)
	// An ISB can observe newly written code: end the block and rejoin
	// through the dispatcher.
	v.SetTerm(ir.ReturnToDispatch{})
	return false
}
