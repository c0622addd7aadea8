// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"sync"

	"armlet.dev/armlet/coproc"
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/isa/x64/in"
	"armlet.dev/armlet/internal/reg"
)

// CoprocRegistry assigns call ids to compiled coprocessor callbacks so
// emitted code can reach them through the bridge.
type CoprocRegistry struct {
	mu      sync.Mutex
	actions []coproc.Action
}

func (r *CoprocRegistry) Register(a coproc.Action) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return uint32(len(r.actions) - 1)
}

// Call dispatches a bridged coprocessor callback.
func (r *CoprocRegistry) Call(id uint32, a, b uint32) uint64 {
	r.mu.Lock()
	action := r.actions[id]
	r.mu.Unlock()
	return action.Fn(action.Arg, a, b)
}

// Reset drops all registrations.  Valid only when no emitted code remains.
func (r *CoprocRegistry) Reset() {
	r.mu.Lock()
	r.actions = r.actions[:0]
	r.mu.Unlock()
}

func init() {
	registerEmit(ir.CoprocInternalOperation, coprocVoidOp(0))
	registerEmit(ir.CoprocSendOneWord, coprocVoidOp(1))
	registerEmit(ir.CoprocSendTwoWords, coprocVoidOp(2))
	registerEmit(ir.CoprocGetOneWord, (*Emitter).emitCoprocGetOneWord)
	registerEmit(ir.CoprocGetTwoWords, (*Emitter).emitCoprocGetTwoWords)
	registerEmit(ir.CoprocLoadWords, coprocAddrOp(true))
	registerEmit(ir.CoprocStoreWords, coprocAddrOp(false))
}

func (e *Emitter) coprocAction(v ir.Value) coproc.Action {
	return e.block.CoprocActions[v.Imm()]
}

// coprocCallback emits a bridged call: (state, id, a, b) with the result in
// RAX.
func (e *Emitter) coprocCallback(action coproc.Action, a, b ir.Value) {
	id := e.Coproc.Register(action)
	e.hostCallState(e.Host.CoprocCall, ir.Imm32(id), a, b)
}

func coprocVoidOp(words int) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		action := e.coprocAction(inst.Args[0])
		switch action.Kind {
		case coproc.Callback:
			var a, b ir.Value
			if words >= 1 {
				a = inst.Args[1]
			}
			if words >= 2 {
				b = inst.Args[2]
			}
			e.coprocCallback(action, a, b)
		case coproc.Pointer:
			if words >= 1 {
				p := e.RA.ScratchGpr()
				v := e.RA.UseGpr(inst.Args[1])
				in.MovImm64(e.Text, p, uint64(action.Ptr))
				in.MOVmr.MemReg(e.Text, in.Size32, p, 0, v)
				if words == 2 {
					v2 := e.RA.UseGpr(inst.Args[2])
					in.MOVmr.MemReg(e.Text, in.Size32, p, 4, v2)
				}
			}
		}
	}
}

func (e *Emitter) emitCoprocGetOneWord(inst *ir.Inst) {
	action := e.coprocAction(inst.Args[0])
	switch action.Kind {
	case coproc.Callback:
		e.coprocCallback(action, ir.Value{}, ir.Value{})
		e.defineResult(inst, reg.RAX)
	case coproc.Pointer:
		r := e.RA.ScratchGpr()
		in.MovImm64(e.Text, r, uint64(action.Ptr))
		in.MOVr.RegMem(e.Text, in.Size32, r, r, 0)
		e.defineResult(inst, r)
	}
}

func (e *Emitter) emitCoprocGetTwoWords(inst *ir.Inst) {
	action := e.coprocAction(inst.Args[0])
	switch action.Kind {
	case coproc.Callback:
		e.coprocCallback(action, ir.Value{}, ir.Value{})
		e.defineResult(inst, reg.RAX)
	case coproc.Pointer:
		r := e.RA.ScratchGpr()
		in.MovImm64(e.Text, r, uint64(action.Ptr))
		in.MOVr.RegMem(e.Text, in.Size64, r, r, 0)
		e.defineResult(inst, r)
	}
}

func coprocAddrOp(load bool) emitFn {
	return func(e *Emitter, inst *ir.Inst) {
		action := e.coprocAction(inst.Args[0])
		switch action.Kind {
		case coproc.Callback:
			e.coprocCallback(action, inst.Args[1], ir.Value{})
		case coproc.Pointer:
			// Transfer one word between guest memory and the pointer.
			// The guest side goes through the memory bridge.
			if load {
				e.hostCallState(e.Host.Read32, inst.Args[1])
				p := e.RA.ScratchGpr()
				in.MovImm64(e.Text, p, uint64(action.Ptr))
				in.MOVmr.MemReg(e.Text, in.Size32, p, 0, reg.RAX)
			} else {
				p := e.RA.ScratchGpr()
				v := e.RA.ScratchGpr()
				in.MovImm64(e.Text, p, uint64(action.Ptr))
				in.MOVr.RegMem(e.Text, in.Size32, v, p, 0)
				e.RA.HostCall(ir.Value{}, inst.Args[1], ir.Value{})
				in.MOVr.RegReg(e.Text, in.Size64, reg.RDI, RegState)
				in.MOVr.RegReg(e.Text, in.Size32, reg.RDX, v)
				e.hostCall(e.Host.Write32)
			}
		}
	}
}
