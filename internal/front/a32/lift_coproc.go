// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a32

import (
	"armlet.dev/armlet/coproc"
	"armlet.dev/armlet/internal/decode"
	"armlet.dev/armlet/internal/ir"
)

func (v *visitor) coprocFor(word uint32) (coproc.Compiler, uint32) {
	num := decode.Bits(word, 8, 4)
	return v.cfg.Coprocessors[num], num
}

// coprocException lifts the coprocessor-absent exception sequence.
func (v *visitor) coprocException() bool {
	v.ExceptionRaised(uint64(v.loc.PC), ExceptionCoprocessor)
	v.SetTerm(ir.CheckHalt{Else: ir.LinkBlockFast{Next: v.nextLocation().Descriptor()}})
	return false
}

func (v *visitor) compileAction(action coproc.Action) (ir.Value, bool) {
	if action.Kind == coproc.Unhandled {
		return ir.Value{}, false
	}
	return v.Block.AddCoprocAction(action), true
}

func (v *visitor) armCDP(word uint32) bool {
	cp, _ := v.coprocFor(word)
	if cp == nil {
		return v.coprocException()
	}
	opc1 := decode.Bits(word, 20, 4)
	crn := decode.Bits(word, 16, 4)
	crd := decode.Bits(word, 12, 4)
	opc2 := decode.Bits(word, 5, 3)
	crm := decode.Bits(word, 0, 4)

	info, ok := v.compileAction(cp.CompileInternalOperation(false, opc1, crd, crn, crm, opc2))
	if !ok {
		return v.coprocException()
	}
	v.Void(ir.CoprocInternalOperation, info)
	return true
}

func (v *visitor) armMCR(word uint32) bool {
	cp, _ := v.coprocFor(word)
	if cp == nil {
		return v.coprocException()
	}
	opc1 := decode.Bits(word, 21, 3)
	crn := decode.Bits(word, 16, 4)
	t := int(decode.Bits(word, 12, 4))
	opc2 := decode.Bits(word, 5, 3)
	crm := decode.Bits(word, 0, 4)
	if t == regPC {
		return v.unpredictable()
	}

	info, ok := v.compileAction(cp.CompileSendOneWord(false, opc1, crn, crm, opc2))
	if !ok {
		return v.coprocException()
	}
	v.Void(ir.CoprocSendOneWord, info, v.getReg(t))
	return true
}

func (v *visitor) armMRC(word uint32) bool {
	cp, _ := v.coprocFor(word)
	if cp == nil {
		return v.coprocException()
	}
	opc1 := decode.Bits(word, 21, 3)
	crn := decode.Bits(word, 16, 4)
	t := int(decode.Bits(word, 12, 4))
	opc2 := decode.Bits(word, 5, 3)
	crm := decode.Bits(word, 0, 4)
	if t == regPC {
		return v.unpredictable()
	}

	info, ok := v.compileAction(cp.CompileGetOneWord(false, opc1, crn, crm, opc2))
	if !ok {
		return v.coprocException()
	}
	v.setReg(t, v.Inst(ir.CoprocGetOneWord, info))
	return true
}

func (v *visitor) armMCRR(word uint32) bool {
	cp, _ := v.coprocFor(word)
	if cp == nil {
		return v.coprocException()
	}
	t2 := int(decode.Bits(word, 16, 4))
	t := int(decode.Bits(word, 12, 4))
	opc := decode.Bits(word, 4, 4)
	crm := decode.Bits(word, 0, 4)
	if t == regPC || t2 == regPC {
		return v.unpredictable()
	}

	info, ok := v.compileAction(cp.CompileSendTwoWords(false, opc, crm))
	if !ok {
		return v.coprocException()
	}
	v.Void(ir.CoprocSendTwoWords, info, v.getReg(t), v.getReg(t2))
	return true
}

func (v *visitor) armMRRC(word uint32) bool {
	cp, _ := v.coprocFor(word)
	if cp == nil {
		return v.coprocException()
	}
	t2 := int(decode.Bits(word, 16, 4))
	t := int(decode.Bits(word, 12, 4))
	opc := decode.Bits(word, 4, 4)
	crm := decode.Bits(word, 0, 4)
	if t == regPC || t2 == regPC || t == t2 {
		return v.unpredictable()
	}

	info, ok := v.compileAction(cp.CompileGetTwoWords(false, opc, crm))
	if !ok {
		return v.coprocException()
	}
	both := v.Inst(ir.CoprocGetTwoWords, info)
	v.setReg(t, v.Inst(ir.LeastSignificantWord, both))
	v.setReg(t2, v.Inst(ir.LeastSignificantWord,
		v.Inst(ir.LogicalShiftRight64, both, ir.Imm8(32))))
	return true
}

func (v *visitor) armLDC(word uint32) bool {
	return v.coprocTransfer(word, true)
}

func (v *visitor) armSTC(word uint32) bool {
	return v.coprocTransfer(word, false)
}

func (v *visitor) coprocTransfer(word uint32, load bool) bool {
	cp, _ := v.coprocFor(word)
	if cp == nil {
		return v.coprocException()
	}
	p := decode.Bit(word, 24)
	u := decode.Bit(word, 23)
	long := decode.Bit(word, 22)
	w := decode.Bit(word, 21)
	n := int(decode.Bits(word, 16, 4))
	crd := decode.Bits(word, 12, 4)
	imm := decode.Bits(word, 0, 8) << 2
	if !writebackOK(p, w, n) {
		return v.unpredictable()
	}

	var action coproc.Action
	if load {
		action = cp.CompileLoadWords(false, long, crd)
	} else {
		action = cp.CompileStoreWords(false, long, crd)
	}
	info, ok := v.compileAction(action)
	if !ok {
		return v.coprocException()
	}

	addr := v.extendAddr(v.addrMode(p, u, w, n, ir.Imm32(imm)))
	if load {
		v.Void(ir.CoprocLoadWords, info, addr)
	} else {
		v.Void(ir.CoprocStoreWords, info, addr)
	}
	return true
}
