// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a32

import (
	"armlet.dev/armlet/coproc"
	"armlet.dev/armlet/internal/ir"
)

// Exception kinds passed to the embedder's ExceptionRaised callback.
const (
	ExceptionUndefined = iota
	ExceptionUnpredictable
	ExceptionBreakpoint
	ExceptionCoprocessor
)

// Code supplies guest instruction words during translation.
type Code interface {
	ReadCode32(vaddr uint32) uint32
	ReadCode16(vaddr uint32) uint16
}

// Config parameterizes translation of one block.
type Config struct {
	Code         Code
	Coprocessors [16]coproc.Compiler
	BlockBudget  int // maximum guest instructions per block
}

type visitor struct {
	ir.Emitter

	cfg  *Config
	loc  Location // location of the instruction being lifted
	cond ir.Condition
	size uint32 // instruction size in bytes (4 for ARM, 2 for Thumb16)
}

// readPC yields the PC value observed by the current instruction: current
// address plus 8 in ARM state, plus 4 in Thumb state.
func (v *visitor) readPC() uint32 {
	if v.loc.TFlag {
		return v.loc.PC + 4
	}
	return v.loc.PC + 8
}

func (v *visitor) getReg(r int) ir.Value {
	if r == regPC {
		return ir.Imm32(v.readPC())
	}
	return v.GetRegister(r)
}

func (v *visitor) setReg(r int, val ir.Value) {
	if r == regPC {
		panic("a32: PC written through setReg")
	}
	v.SetRegister(r, val)
}

const (
	regSP = 13
	regLR = 14
	regPC = 15
)

// nextLocation is the fall-through location after this instruction.
func (v *visitor) nextLocation() Location {
	return v.loc.WithPC(v.loc.PC + v.size)
}

// aluWritePC implements the interworking-free PC write done by data
// processing instructions with Rd=15.
func (v *visitor) aluWritePC(addr ir.Value) {
	if addr.IsImmediate() {
		mask := uint32(0xFFFFFFFC)
		if v.loc.TFlag {
			mask = 0xFFFFFFFE
		}
		v.SetTerm(ir.LinkBlock{Next: v.loc.WithPC(addr.U32() & mask).Descriptor()})
		return
	}
	v.Void(ir.BXWritePC, addr)
	v.SetTerm(ir.ReturnToDispatch{})
}

// bxWritePC implements the interworking PC write: bit 0 selects Thumb state.
func (v *visitor) bxWritePC(addr ir.Value, hintReturn bool) {
	if addr.IsImmediate() {
		a := addr.U32()
		next := v.loc.WithTFlag(a&1 != 0)
		if a&1 != 0 {
			next.PC = a &^ 1
		} else {
			next.PC = a &^ 3
		}
		v.SetTerm(ir.LinkBlock{Next: next.Descriptor()})
		return
	}
	v.Void(ir.BXWritePC, addr)
	if hintReturn {
		v.SetTerm(ir.PopRSBHint{})
	} else {
		v.SetTerm(ir.FastDispatchHint{})
	}
}

// undefined lifts to a guest undefined-instruction exception.
func (v *visitor) undefined() bool {
	v.ExceptionRaised(uint64(v.loc.PC), ExceptionUndefined)
	v.SetTerm(ir.CheckHalt{Else: ir.LinkBlockFast{Next: v.nextLocation().Descriptor()}})
	return false
}

func (v *visitor) unpredictable() bool {
	v.ExceptionRaised(uint64(v.loc.PC), ExceptionUnpredictable)
	v.SetTerm(ir.CheckHalt{Else: ir.LinkBlockFast{Next: v.nextLocation().Descriptor()}})
	return false
}

// interpret punts the instruction to the embedder's interpreter fallback.
func (v *visitor) interpret() bool {
	v.SetTerm(ir.Interpret{Next: v.loc.Descriptor(), NumInstructions: 1})
	return false
}
