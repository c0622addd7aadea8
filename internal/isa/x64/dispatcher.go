// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"encoding/binary"

	"armlet.dev/armlet/internal/code"
	"armlet.dev/armlet/internal/isa/x64/in"
	"armlet.dev/armlet/internal/jitstate"
	"armlet.dev/armlet/internal/reg"
)

// Runtime holds the arena offsets of the generated dispatcher entry points.
type Runtime struct {
	RunCode      int32 // extern entry: rdi = JitState, rsi = block entry or 0
	Dispatch     int32
	ReturnHost   int32
	PopRSB       int32
	FastDispatch int32 // 0 when fast dispatch is disabled
}

// RunCodeOptions parameterizes dispatcher generation.
type RunCodeOptions struct {
	A64Mode          bool
	LookupFn         uintptr // C bridge: (state) -> code address or 0
	FastmemBase      uintptr
	FastDispatchBase uintptr
	FastDispatchMask uint32
}

// GenRunCode emits the dispatcher into the arena.  It is generated once per
// JIT instance, before any block.
func GenRunCode(text *code.Buf, info *jitstate.Info, opts RunCodeOptions) Runtime {
	var rt Runtime
	var dispatch, returnHost, miss rawLink

	// Callee-saved registers per the System V ABI.
	saved := []reg.R{reg.RBX, reg.RBP, reg.R12, reg.R13, reg.R14, reg.R15}

	// --- RunCode ---------------------------------------------------------
	rt.RunCode = text.Addr
	for _, r := range saved {
		in.PushReg(text, r)
	}
	in.SUBi.RegImm(text, in.Size64, reg.RSP, 8) // alignment
	in.MOVr.RegReg(text, in.Size64, RegState, reg.RDI)
	if opts.FastmemBase != 0 {
		in.MovImm64(text, RegFastmem, uint64(opts.FastmemBase))
	}
	// SwitchMxcsrOnEntry.
	in.Stmxcsr(text, RegState, info.OffSaveHostMXCSR)
	in.Ldmxcsr(text, RegState, info.OffGuestMXCSR)

	in.Test(text, in.Size64, reg.RSI, reg.RSI)
	jccRaw(text, in.CondE, &dispatch)
	in.JMPr.Reg(text, in.Size64, reg.RSI)

	// --- Dispatch --------------------------------------------------------
	rt.Dispatch = text.Addr
	bindRaw(text, &dispatch)
	in.CMPi.MemImm(text, in.Size64, RegState, info.OffCyclesRemaining, 0)
	jccRaw(text, in.CondLE, &returnHost)
	in.TestImm8Mem(text, RegState, info.OffHalt, 1)
	jccRaw(text, in.CondNE, &returnHost)

	in.MOVr.RegReg(text, in.Size64, reg.RDI, RegState)
	in.MovImm64(text, reg.RAX, uint64(opts.LookupFn))
	in.CALL.Reg(text, in.Size64, reg.RAX)
	in.Test(text, in.Size64, reg.RAX, reg.RAX)
	jccRaw(text, in.CondE, &returnHost)
	in.JMPr.Reg(text, in.Size64, reg.RAX)

	// --- ReturnHost ------------------------------------------------------
	rt.ReturnHost = text.Addr
	bindRaw(text, &returnHost)
	// SwitchMxcsrOnExit.
	in.Ldmxcsr(text, RegState, info.OffSaveHostMXCSR)
	in.ADDi.RegImm(text, in.Size64, reg.RSP, 8)
	for i := len(saved) - 1; i >= 0; i-- {
		in.PopReg(text, saved[i])
	}
	in.Ret(text)

	rebuildDescriptor := func() {
		// rax := current location descriptor.
		if opts.A64Mode {
			in.MOVr.RegMem(text, in.Size64, reg.RAX, RegState, info.OffPC)
			in.MovImm64(text, reg.RCX, 1<<54-1)
			in.AND.RegReg(text, in.Size64, reg.RAX, reg.RCX)
			in.MOVr.RegMem(text, in.Size32, reg.RCX, RegState, info.OffUpperLoc)
			in.SHL.RegImm(text, in.Size64, reg.RCX, 54)
		} else {
			in.MOVr.RegMem(text, in.Size32, reg.RAX, RegState, info.RegOffset(15))
			in.MOVr.RegMem(text, in.Size32, reg.RCX, RegState, info.OffUpperLoc)
			in.SHL.RegImm(text, in.Size64, reg.RCX, 32)
		}
		in.OR.RegReg(text, in.Size64, reg.RAX, reg.RCX)
	}

	// --- PopRSB handler --------------------------------------------------
	rt.PopRSB = text.Addr
	rebuildDescriptor()
	in.MOVr.RegMem(text, in.Size64, reg.RCX, RegState, info.OffRsbPtr)
	// Decrement the pointer before the flags matter.
	in.MOVr.RegReg(text, in.Size64, reg.RDX, reg.RCX)
	in.SUBi.RegImm(text, in.Size64, reg.RDX, 1)
	in.ANDi.RegImm(text, in.Size64, reg.RDX, int32(jitstate.RSBPtrMask))
	in.MOVmr.MemReg(text, in.Size64, RegState, info.OffRsbPtr, reg.RDX)

	in.CMP.RegMemIndex(text, in.Size64, reg.RAX, RegState, reg.RCX, 8, info.OffRsbLocations)
	jccRaw(text, in.CondNE, &miss)
	in.MOVr.RegMemIndex(text, in.Size64, reg.RDX, RegState, reg.RCX, 8, info.OffRsbCodeptrs)
	in.JMPr.Reg(text, in.Size64, reg.RDX)

	// --- FastDispatch handler -------------------------------------------
	if opts.FastDispatchBase != 0 {
		rt.FastDispatch = text.Addr
		rebuildDescriptor()
		bindRaw(text, &miss)

		in.XOR.RegReg(text, in.Size32, reg.RCX, reg.RCX)
		in.Crc32(text, in.Size64, reg.RCX, reg.RAX)
		in.ANDi.RegImm(text, in.Size32, reg.RCX, int32(opts.FastDispatchMask))
		in.SHL.RegImm(text, in.Size64, reg.RCX, 4) // 16-byte entries
		in.MovImm64(text, reg.RDX, uint64(opts.FastDispatchBase))
		in.ADD.RegReg(text, in.Size64, reg.RDX, reg.RCX)

		var slot rawLink
		in.CMP.RegMem(text, in.Size64, reg.RAX, reg.RDX, 0)
		jccRaw(text, in.CondNE, &slot)
		in.MOVr.RegMem(text, in.Size64, reg.RCX, reg.RDX, 8)
		in.Test(text, in.Size64, reg.RCX, reg.RCX)
		jccRaw(text, in.CondE, &slot)
		in.JMPr.Reg(text, in.Size64, reg.RCX)

		// Miss: resolve through the block lookup, update the slot, and
		// tail-jump.
		bindRaw(text, &slot)
		in.MOVr.RegReg(text, in.Size64, reg.RBX, reg.RAX)
		in.MOVr.RegReg(text, in.Size64, reg.RBP, reg.RDX)
		in.MOVr.RegReg(text, in.Size64, reg.RDI, RegState)
		in.MovImm64(text, reg.RAX, uint64(opts.LookupFn))
		in.CALL.Reg(text, in.Size64, reg.RAX)
		in.Test(text, in.Size64, reg.RAX, reg.RAX)
		jccToAddr(text, in.CondE, rt.ReturnHost)
		in.MOVmr.MemReg(text, in.Size64, reg.RBP, 0, reg.RBX)
		in.MOVmr.MemReg(text, in.Size64, reg.RBP, 8, reg.RAX)
		in.JMPr.Reg(text, in.Size64, reg.RAX)
	} else {
		// No fast dispatch: an RSB miss goes back to the dispatcher.
		bindRaw(text, &miss)
		jmpToAddr(text, rt.Dispatch)
	}

	return rt
}

// rawLink is the dispatcher-local forward reference mechanism.
type rawLink struct {
	sites []int32
}

func jccRaw(text *code.Buf, cc in.Cond, l *rawLink) {
	in.JccRel(text, cc, 0)
	l.sites = append(l.sites, text.Addr)
}

func bindRaw(text *code.Buf, l *rawLink) {
	addr := text.Addr
	b := text.Bytes()
	for _, site := range l.sites {
		binary.LittleEndian.PutUint32(b[site-4:site], uint32(addr-site))
	}
	l.sites = nil
}

func jccToAddr(text *code.Buf, cc in.Cond, addr int32) {
	in.JccRel(text, cc, addr)
}

func jmpToAddr(text *code.Buf, addr int32) {
	in.JmpRel(text, addr)
}
