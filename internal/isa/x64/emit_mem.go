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
	registerEmit(ir.ReadMemory8, readMem(in.Size8))
	registerEmit(ir.ReadMemory16, readMem(in.Size16))
	registerEmit(ir.ReadMemory32, readMem(in.Size32))
	registerEmit(ir.ReadMemory64, readMem(in.Size64))
	registerEmit(ir.WriteMemory8, writeMem(in.Size8))
	registerEmit(ir.WriteMemory16, writeMem(in.Size16))
	registerEmit(ir.WriteMemory32, writeMem(in.Size32))
	registerEmit(ir.WriteMemory64, writeMem(in.Size64))

	registerEmit(ir.ExclusiveReadMemory8, exclusiveRead(0))
	registerEmit(ir.ExclusiveReadMemory16, exclusiveRead(1))
	registerEmit(ir.ExclusiveReadMemory32, exclusiveRead(2))
	registerEmit(ir.ExclusiveReadMemory64, exclusiveRead(3))
	registerEmit(ir.ExclusiveWriteMemory8, exclusiveWrite(0))
	registerEmit(ir.ExclusiveWriteMemory16, exclusiveWrite(1))
	registerEmit(ir.ExclusiveWriteMemory32, exclusiveWrite(2))
	registerEmit(ir.ExclusiveWriteMemory64, exclusiveWrite(3))
	registerEmit(ir.ClearExclusive, (*Emitter).emitClearExclusive)

	registerEmit(ir.DataMemoryBarrier, barrier)
	registerEmit(ir.DataSynchronizationBarrier, barrier)
	registerEmit(ir.InstructionSynchronizationBarrier, func(e *Emitter, inst *ir.Inst) {})

	registerEmit(ir.CallSupervisor, (*Emitter).emitCallSupervisor)
	registerEmit(ir.ExceptionRaised, (*Emitter).emitExceptionRaised)
}

func readFn(e *Emitter, t in.Type) uintptr {
	switch t {
	case in.Size8:
		return e.Host.Read8
	case in.Size16:
		return e.Host.Read16
	case in.Size32:
		return e.Host.Read32
	default:
		return e.Host.Read64
	}
}

func writeFn(e *Emitter, t in.Type) uintptr {
	switch t {
	case in.Size8:
		return e.Host.Write8
	case in.Size16:
		return e.Host.Write16
	case in.Size32:
		return e.Host.Write32
	default:
		return e.Host.Write64
	}
}

// hostCallState emits a bridge call with the JitState pointer as the first
// argument.  The result, if any, lands in RAX.
func (e *Emitter) hostCallState(fn uintptr, args ...ir.Value) {
	all := make([]ir.Value, 0, len(args)+1)
	all = append(all, ir.Value{})
	all = append(all, args...)
	e.RA.HostCall(all...)
	in.MOVr.RegReg(e.Text, in.Size64, reg.RDI, RegState)
	e.hostCall(fn)
}

func readMem(t in.Type) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		if e.tryFastmemRead(inst, t) {
			return
		}
		e.hostCallState(readFn(e, t), inst.Args[0])
		e.defineResult(inst, reg.RAX)
	}
}

func writeMem(t in.Type) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		if e.tryFastmemWrite(inst, t) {
			return
		}
		e.hostCallState(writeFn(e, t), inst.Args[0], inst.Args[1])
	}
}

func exclusiveRead(sizeLog int) emitFn {
	fns := func(e *Emitter) uintptr {
		return [...]uintptr{
			e.Host.ExclusiveRead8, e.Host.ExclusiveRead16,
			e.Host.ExclusiveRead32, e.Host.ExclusiveRead64,
		}[sizeLog]
	}
	return func(e *Emitter, inst *ir.Inst) {
		e.hostCallState(fns(e), inst.Args[0])
		e.defineResult(inst, reg.RAX)
	}
}

func exclusiveWrite(sizeLog int) emitFn {
	fns := func(e *Emitter) uintptr {
		return [...]uintptr{
			e.Host.ExclusiveWrite8, e.Host.ExclusiveWrite16,
			e.Host.ExclusiveWrite32, e.Host.ExclusiveWrite64,
		}[sizeLog]
	}
	return func(e *Emitter, inst *ir.Inst) {
		e.hostCallState(fns(e), inst.Args[0], inst.Args[1])
		e.defineResult(inst, reg.RAX)
	}
}

func (e *Emitter) emitClearExclusive(inst *ir.Inst) {
	e.hostCallState(e.Host.ClearExclusive)
}

func barrier(e *Emitter, inst *ir.Inst) {
	in.Mfence(e.Text)
}

func (e *Emitter) emitCallSupervisor(inst *ir.Inst) {
	e.hostCallState(e.Host.CallSVC, inst.Args[0])
}

func (e *Emitter) emitExceptionRaised(inst *ir.Inst) {
	e.hostCallState(e.Host.ExceptionRaised, inst.Args[0], inst.Args[1])
}
