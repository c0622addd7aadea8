// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import "armlet.dev/armlet/internal/ir"

// Tracking slots: sixteen guest registers followed by the five flags.
const (
	slotRegs = 0
	slotN    = 16
	slotZ    = 17
	slotC    = 18
	slotV    = 19
	slotQ    = 20
	numSlots = 21
	slotNone = -1
)

type slotState struct {
	// value is the last known content of the slot, if any.
	value ir.Value
	known bool
	// pending is the most recent store, still erasable if the stored
	// value is never observed before the next overwrite.
	pending *ir.Inst
}

// GetSetElimination forwards stored guest register and flag values to
// subsequent loads within the block, and removes stores that are overwritten
// without any intervening observation.
func GetSetElimination(b *ir.Block) {
	var slots [numSlots]slotState

	observeAll := func() {
		for i := range slots {
			slots[i].pending = nil
		}
	}
	invalidateAll := func() {
		for i := range slots {
			slots[i] = slotState{}
		}
	}

	doSet := func(slot int, value ir.Value, inst *ir.Inst) {
		if p := slots[slot].pending; p != nil {
			p.Erase()
		}
		slots[slot] = slotState{value: value, known: true, pending: inst}
	}
	doGet := func(slot int, inst *ir.Inst) {
		if slots[slot].known {
			inst.ReplaceWith(slots[slot].value)
			return
		}
		slots[slot] = slotState{value: ir.InstValue(inst), known: true}
	}

	for _, inst := range b.Insts {
		switch inst.Op {
		case ir.SetRegister:
			doSet(slotRegs+inst.Args[0].Reg(), inst.Args[1], inst)
		case ir.GetRegister:
			doGet(slotRegs+inst.Args[0].Reg(), inst)
		case ir.SetNFlag:
			doSet(slotN, inst.Args[0], inst)
		case ir.GetNFlag:
			doGet(slotN, inst)
		case ir.SetZFlag:
			doSet(slotZ, inst.Args[0], inst)
		case ir.GetZFlag:
			doGet(slotZ, inst)
		case ir.SetCFlag:
			doSet(slotC, inst.Args[0], inst)
		case ir.GetCFlag:
			doGet(slotC, inst)
		case ir.SetVFlag:
			doSet(slotV, inst.Args[0], inst)
		case ir.GetVFlag:
			doGet(slotV, inst)

		case ir.SetNZCVRaw:
			// A raw flag write cannot merge with tracked single-flag
			// stores; everything flag-related starts over.
			for _, s := range []int{slotN, slotZ, slotC, slotV} {
				slots[s] = slotState{}
			}
		case ir.GetNZCVRaw, ir.GetCpsr:
			observeAll()
		case ir.OrQFlag, ir.SetQFlag, ir.GetQFlag:
			// Q is sticky and accumulated; never forwarded.
			slots[slotQ] = slotState{}

		case ir.CallSupervisor, ir.ExceptionRaised,
			ir.CoprocInternalOperation, ir.CoprocSendOneWord, ir.CoprocSendTwoWords,
			ir.CoprocGetOneWord, ir.CoprocGetTwoWords, ir.CoprocLoadWords, ir.CoprocStoreWords:
			// The host observes and may modify the whole guest state.
			observeAll()
			invalidateAll()

		case ir.SetRegister64, ir.GetRegister64, ir.SetPC64, ir.BXWritePC:
			// A64 registers and PC writes are not tracked by this pass.
			observeAll()
		}
	}
}
