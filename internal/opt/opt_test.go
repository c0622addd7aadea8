// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import (
	"testing"

	"armlet.dev/armlet/internal/ir"
)

func countOp(b *ir.Block, op ir.Opcode) int {
	n := 0
	for _, inst := range b.Insts {
		if inst.Op == op {
			n++
		}
	}
	return n
}

// The get/set round-trip: a register read after a write observes the
// written value, and the shadowed store disappears.
func TestGetSetRoundTrip(t *testing.T) {
	b := ir.NewBlock(0)
	e := ir.Emitter{Block: b}

	e.SetRegister(0, ir.Imm32(1))
	sum := e.Add(e.GetRegister(0), ir.Imm32(2), ir.Imm1(false))
	e.SetRegister(0, sum)
	e.SetTerm(ir.ReturnToDispatch{})

	Optimize(b)
	Verify(b)

	if got := countOp(b, ir.SetRegister); got != 1 {
		t.Fatalf("SetRegister count: got %d, want 1", got)
	}
	if got := countOp(b, ir.GetRegister); got != 0 {
		t.Errorf("GetRegister survived: %d", got)
	}

	for _, inst := range b.Insts {
		if inst.Op == ir.SetRegister {
			if !inst.Args[1].IsImmediate() || inst.Args[1].U32() != 3 {
				t.Errorf("folded store is not 3")
			}
		}
	}
}

func TestGetSetFlagForwarding(t *testing.T) {
	b := ir.NewBlock(0)
	e := ir.Emitter{Block: b}

	e.SetCFlag(ir.Imm1(true))
	sum := e.Add(e.GetRegister(0), ir.Imm32(0), e.GetCFlag())
	e.SetRegister(0, sum)
	e.SetTerm(ir.ReturnToDispatch{})

	Optimize(b)
	Verify(b)

	if got := countOp(b, ir.GetCFlag); got != 0 {
		t.Errorf("GetCFlag not forwarded: %d", got)
	}
	// The flag store is still observable at block exit and must survive.
	if got := countOp(b, ir.SetCFlag); got != 1 {
		t.Errorf("SetCFlag count: got %d, want 1", got)
	}
}

// A host call can observe and modify every register, so no forwarding
// across it.
func TestHostCallBarrier(t *testing.T) {
	b := ir.NewBlock(0)
	e := ir.Emitter{Block: b}

	e.SetRegister(0, ir.Imm32(7))
	e.CallSupervisor(ir.Imm32(1))
	e.SetRegister(1, e.GetRegister(0))
	e.SetTerm(ir.ReturnToDispatch{})

	Optimize(b)
	Verify(b)

	if got := countOp(b, ir.GetRegister); got != 1 {
		t.Errorf("read forwarded across host call: GetRegister count %d", got)
	}
	if got := countOp(b, ir.SetRegister); got != 2 {
		t.Errorf("store removed across host call: SetRegister count %d", got)
	}
}

func TestConstantFoldingCarriesPseudos(t *testing.T) {
	b := ir.NewBlock(0)
	e := ir.Emitter{Block: b}

	sum := e.Add(ir.Imm32(0xFFFFFFFF), ir.Imm32(1), ir.Imm1(false))
	e.SetCFlag(e.CarryFrom(sum))
	e.SetVFlag(e.OverflowFrom(sum))
	e.SetRegister(0, sum)
	e.SetTerm(ir.ReturnToDispatch{})

	Optimize(b)
	Verify(b)

	var carry, overflow, result bool
	for _, inst := range b.Insts {
		switch inst.Op {
		case ir.SetCFlag:
			carry = inst.Args[0].IsImmediate() && inst.Args[0].U1()
		case ir.SetVFlag:
			overflow = inst.Args[0].IsImmediate() && !inst.Args[0].U1()
		case ir.SetRegister:
			result = inst.Args[1].IsImmediate() && inst.Args[1].U32() == 0
		}
	}
	if !carry || !overflow || !result {
		t.Errorf("fold results: carry=%v overflow=%v result=%v", carry, overflow, result)
	}
}

func TestDeadCodeElimination(t *testing.T) {
	b := ir.NewBlock(0)
	e := ir.Emitter{Block: b}

	// Unused pure chain.
	e.Mul(e.GetRegister(3), e.GetRegister(4))
	// Live store.
	e.SetRegister(0, ir.Imm32(1))
	e.SetTerm(ir.ReturnToDispatch{})

	Optimize(b)
	Verify(b)

	if got := countOp(b, ir.Mul32); got != 0 {
		t.Errorf("dead multiply survived")
	}
	if got := countOp(b, ir.GetRegister); got != 0 {
		t.Errorf("dead reads survived: %d", got)
	}
	if got := countOp(b, ir.SetRegister); got != 1 {
		t.Errorf("live store eliminated")
	}
}

func TestConditionFolding(t *testing.T) {
	b := ir.NewBlock(0x1000)
	b.Cond = ir.CondNE
	b.ConditionFailed = 0x1004
	b.Terminal = ir.LinkBlock{Next: 0x2000}

	ConditionFolding(b)

	iff, ok := b.Terminal.(ir.If)
	if !ok {
		t.Fatalf("terminal is %T", b.Terminal)
	}
	if iff.Cond != ir.CondNE {
		t.Errorf("condition: got %s", iff.Cond)
	}
	if then, ok := iff.Then.(ir.LinkBlock); !ok || then.Next != 0x2000 {
		t.Errorf("then arm wrong: %#v", iff.Then)
	}
	if els, ok := iff.Else.(ir.LinkBlock); !ok || els.Next != 0x1004 {
		t.Errorf("else arm wrong: %#v", iff.Else)
	}
	if b.Cond != ir.CondAL {
		t.Error("block condition not cleared")
	}
}

func TestConditionFoldingKeepsSideEffects(t *testing.T) {
	b := ir.NewBlock(0x1000)
	e := ir.Emitter{Block: b}
	b.Cond = ir.CondNE
	b.ConditionFailed = 0x1004
	e.SetRegister(0, ir.Imm32(1))
	e.SetTerm(ir.LinkBlock{Next: 0x2000})

	ConditionFolding(b)

	if _, ok := b.Terminal.(ir.If); ok {
		t.Error("condition folded despite side effects")
	}
	if b.Cond != ir.CondNE {
		t.Error("block condition cleared despite side effects")
	}
}
