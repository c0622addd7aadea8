// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/isa/x64/in"
	"armlet.dev/armlet/internal/reg"
)

// AES fallback operation selectors passed to the software routine.
const (
	AESOpDecryptSingleRound = iota
	AESOpEncryptSingleRound
	AESOpInverseMixColumns
	AESOpMixColumns
)

func init() {
	registerEmit(ir.AESDecryptSingleRound, aesOp(AESOpDecryptSingleRound, 0))
	registerEmit(ir.AESEncryptSingleRound, aesOp(AESOpEncryptSingleRound, 0))
	registerEmit(ir.AESInverseMixColumns, aesOp(AESOpInverseMixColumns, in.AESIMC))
	registerEmit(ir.AESMixColumns, aesOp(AESOpMixColumns, 0))
}

// aesOp lowers an AES operation: a single host instruction when one exists
// and AESNI is available, otherwise a trampoline into the scalar software
// routine through a stack shadow area.
func aesOp(kind int, hostInsn in.AES) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		if hostInsn != 0 && e.Feat.AESNI {
			data := e.RA.UseScratchXmm(inst.Args[0])
			hostInsn.RegReg(e.Text, data, data)
			e.RA.DefineValueXmm(inst, data)
			return
		}
		e.emitAESFallback(inst, kind)
	}
}

// emitAESFallback transfers the 128-bit state through the stack: the input
// is stored above the output slot, the software routine reads one and
// writes the other.
func (e *Emitter) emitAESFallback(inst *ir.Inst, kind int) {
	const shadow = 48 // output at [rsp], input at [rsp+16], call scratch above

	in.SUBi.RegImm(e.Text, in.Size64, reg.RSP, shadow)
	x := e.RA.UseXmm(inst.Args[0])
	in.MovupsStore(e.Text, reg.RSP, 16, x)

	e.RA.HostCall()
	in.MovImm32(e.Text, reg.RDI, uint32(kind))
	in.Lea(e.Text, in.Size64, reg.RSI, reg.RSP, 0)
	in.Lea(e.Text, in.Size64, reg.RDX, reg.RSP, 16)
	e.hostCall(e.Host.AESRound)

	r := e.RA.ScratchXmm()
	in.MovupsLoad(e.Text, r, reg.RSP, 0)
	in.ADDi.RegImm(e.Text, in.Size64, reg.RSP, shadow)
	e.RA.DefineValueXmm(inst, r)
}
