// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"fmt"

	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/isa/x64/in"
	"armlet.dev/armlet/internal/jitstate"
	"armlet.dev/armlet/internal/reg"
)

// EmitTerminal lowers a block terminal.  Register allocation is finished by
// the time a terminal runs, so rax/rcx/rdx are free scratch.
func (e *Emitter) EmitTerminal(t ir.Terminal) {
	switch tt := t.(type) {
	case ir.ReturnToDispatch:
		e.emitReturnToDispatch()
	case ir.ReturnToDispatchWithPC:
		e.emitStoreLocation(tt.Next)
		e.emitReturnToDispatch()
	case ir.LinkBlock:
		e.emitLinkBlock(tt.Next, true)
	case ir.LinkBlockFast:
		e.emitLinkBlock(tt.Next, false)
	case ir.PopRSBHint:
		if e.singleStep {
			e.emitReturnToDispatch()
			return
		}
		in.JmpRel(e.Text, e.Rt.PopRSB)
	case ir.FastDispatchHint:
		if e.singleStep {
			e.emitReturnToDispatch()
			return
		}
		if e.Rt.FastDispatch != 0 {
			in.JmpRel(e.Text, e.Rt.FastDispatch)
		} else {
			in.JmpRel(e.Text, e.Rt.Dispatch)
		}
	case ir.If:
		var taken link
		e.emitCondJump(tt.Cond, &taken)
		e.EmitTerminal(tt.Else)
		e.bind(&taken)
		e.EmitTerminal(tt.Then)
	case ir.CheckBit:
		var taken link
		in.TestImm8Mem(e.Text, RegState, e.Info.OffCheckBit, 1)
		e.jccTo(in.CondNE, &taken)
		e.EmitTerminal(tt.Else)
		e.bind(&taken)
		e.EmitTerminal(tt.Then)
	case ir.CheckHalt:
		in.TestImm8Mem(e.Text, RegState, e.Info.OffHalt, 1)
		var halted link
		e.jccTo(in.CondNE, &halted)
		e.EmitTerminal(tt.Else)
		e.bind(&halted)
		e.emitReturnToDispatch()
	case ir.Interpret:
		e.emitStoreLocation(tt.Next)
		e.RA.HostCall(ir.Value{}, ir.Value{}, ir.Imm32(uint32(tt.NumInstructions)))
		pc, _ := e.patcher().SplitDescriptor(tt.Next)
		in.MOVr.RegReg(e.Text, in.Size64, reg.RDI, RegState)
		in.MovImm64(e.Text, reg.RSI, pc)
		e.hostCall(e.Host.InterpreterFallback)
		e.emitReturnToDispatch()
	default:
		panic(fmt.Sprintf("x64: unknown terminal %T", t))
	}
}

// patcher returns a Patcher for the emitter's mode and dispatcher entry points.
func (e *Emitter) patcher() *Patcher {
	return &Patcher{Info: e.Info, Rt: e.Rt, A64Mode: e.A64Mode}
}

func (e *Emitter) emitReturnToDispatch() {
	if e.singleStep {
		in.JmpRel(e.Text, e.Rt.ReturnHost)
		return
	}
	in.JmpRel(e.Text, e.Rt.Dispatch)
}

// emitStoreLocation materializes a location descriptor into the state.
func (e *Emitter) emitStoreLocation(next ir.LocationDescriptor) {
	pc, upper := e.patcher().SplitDescriptor(next)
	if e.A64Mode {
		if int64(pc) == int64(int32(pc)) {
			in.MovImm64Mem(e.Text, RegState, e.Info.OffPC, int32(pc))
		} else {
			in.MovImm64(e.Text, reg.RAX, pc)
			in.MOVmr.MemReg(e.Text, in.Size64, RegState, e.Info.OffPC, reg.RAX)
		}
	} else {
		in.MovImm32Mem(e.Text, RegState, e.Info.RegOffset(15), uint32(pc))
	}
	e.emitSetUpperLocation(upper)
}

// emitSetUpperLocation stores the upper location word when it differs from
// the current block's.
func (e *Emitter) emitSetUpperLocation(upper uint32) {
	_, cur := e.patcher().SplitDescriptor(e.block.Location)
	if upper != cur {
		in.MovImm32Mem(e.Text, RegState, e.Info.OffUpperLoc, upper)
	}
}

// emitLinkBlock lowers the direct-link terminals.  The patchable site jumps
// straight into the target once it is compiled; until then execution falls
// through to the materialize-PC stub and rejoins the dispatcher.
func (e *Emitter) emitLinkBlock(next ir.LocationDescriptor, cycleCheck bool) {
	if e.singleStep {
		e.emitStoreLocation(next)
		in.JmpRel(e.Text, e.Rt.ReturnHost)
		return
	}

	_, upper := e.patcher().SplitDescriptor(next)
	e.emitSetUpperLocation(upper)

	kind := PatchJmp
	if cycleCheck {
		in.CMPi.MemImm(e.Text, in.Size64, RegState, e.Info.OffCyclesRemaining, 0)
		kind = PatchJg
	}

	site := PatchSite{Addr: e.Text.Addr, Kind: kind, Next: next}
	e.Patch.add(site)
	if entry, ok := e.Lookup(next); ok {
		// Target already compiled: write the patched form directly.
		if kind == PatchJg {
			in.JccRel(e.Text, in.CondG, entry)
		} else {
			in.JmpRel(e.Text, entry)
		}
		for e.Text.Addr < site.Addr+linkSiteSize {
			e.Text.PutByte(0x90)
		}
	} else {
		for i := 0; i < linkSiteSize; i++ {
			e.Text.PutByte(0x90)
		}
	}

	// Fall-through stub.
	e.emitStoreLocation(next)
	in.JmpRel(e.Text, e.Rt.Dispatch)
}

// EmitPushRSB pushes a (descriptor, codeptr) prediction.  The code pointer
// is a patchable 10-byte mov: it tracks the target block's entry point and
// reverts to the dispatcher when that block dies.
func (e *Emitter) EmitPushRSB(desc uint64, _ int) {
	e.RA.ScratchSpecific(reg.RCX)
	a := e.RA.ScratchGpr()
	d := e.RA.ScratchGpr()

	next := ir.LocationDescriptor(desc)
	site := PatchSite{Addr: e.Text.Addr, Kind: PatchMovPtr, Next: next}
	e.Patch.add(site)
	if entry, ok := e.Lookup(next); ok {
		in.MovImm64(e.Text, reg.RCX, uint64(e.ArenaBase)+uint64(entry))
	} else {
		in.MovImm64(e.Text, reg.RCX, uint64(e.ArenaBase)+uint64(e.Rt.Dispatch))
	}

	in.MOVr.RegMem(e.Text, in.Size64, a, RegState, e.Info.OffRsbPtr)
	in.ADDi.RegImm(e.Text, in.Size64, a, 1)
	in.ANDi.RegImm(e.Text, in.Size64, a, int32(jitstate.RSBPtrMask))
	in.MOVmr.MemReg(e.Text, in.Size64, RegState, e.Info.OffRsbPtr, a)

	in.MovImm64(e.Text, d, desc)
	in.MOVmr.MemIndexReg(e.Text, in.Size64, RegState, a, 8, e.Info.OffRsbLocations, d)
	in.MOVmr.MemIndexReg(e.Text, in.Size64, RegState, a, 8, e.Info.OffRsbCodeptrs, reg.RCX)
}
