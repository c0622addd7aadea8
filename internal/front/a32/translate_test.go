// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a32

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/opt"
)

// codeMem serves instruction words from a map.
type codeMem map[uint32]uint32

func (m codeMem) ReadCode32(vaddr uint32) uint32 { return m[vaddr] }
func (m codeMem) ReadCode16(vaddr uint32) uint16 {
	word := m[vaddr&^3]
	if vaddr&2 != 0 {
		return uint16(word >> 16)
	}
	return uint16(word)
}

func translate(t *testing.T, loc Location, mem codeMem) *ir.Block {
	t.Helper()
	cfg := &Config{Code: mem}
	return Translate(loc.Descriptor(), cfg)
}

func countOp(b *ir.Block, op ir.Opcode) int {
	n := 0
	for _, inst := range b.Insts {
		if inst.Op == op {
			n++
		}
	}
	return n
}

// MOV R0, #1; ADD R0, R0, #2; BX LR lifts to one block whose optimized
// form stores the constant 3 and returns through the RSB hint.
func TestMovAddBx(t *testing.T) {
	mem := codeMem{
		0x0000: 0xE3A00001, // MOV R0, #1
		0x0004: 0xE2800002, // ADD R0, R0, #2
		0x0008: 0xE12FFF1E, // BX LR
	}
	b := translate(t, Location{PC: 0}, mem)
	opt.Optimize(b)
	opt.Verify(b)

	if b.CycleCount != 3 {
		t.Errorf("cycle count: got %d", b.CycleCount)
	}
	if b.PCStart != 0 || b.PCEnd != 12 {
		t.Errorf("pc range: got [%d, %d)", b.PCStart, b.PCEnd)
	}

	if got := countOp(b, ir.SetRegister); got != 1 {
		t.Fatalf("SetRegister count: got %d", got)
	}
	for _, inst := range b.Insts {
		if inst.Op == ir.SetRegister {
			if inst.Args[0].Reg() != 0 {
				t.Errorf("stored register: got %d", inst.Args[0].Reg())
			}
			if !inst.Args[1].IsImmediate() || inst.Args[1].U32() != 3 {
				t.Errorf("stored value is not 3")
			}
		}
	}

	if _, ok := b.Terminal.(ir.PopRSBHint); !ok {
		t.Errorf("terminal: got %T, want PopRSBHint", b.Terminal)
	}
	if countOp(b, ir.BXWritePC) != 1 {
		t.Error("BX did not write the PC")
	}
}

// QADD lifts to the saturated add with its overflow accumulating into Q.
func TestQADD(t *testing.T) {
	mem := codeMem{
		0x0000: 0xE1020051, // QADD R0, R1, R2
		0x0004: 0xE12FFF1E, // BX LR
	}
	b := translate(t, Location{PC: 0}, mem)
	opt.Verify(b)

	if got := countOp(b, ir.SignedSaturatedAdd32); got != 1 {
		t.Fatalf("SignedSaturatedAdd32 count: got %d", got)
	}
	if got := countOp(b, ir.OrQFlag); got != 1 {
		t.Fatalf("OrQFlag count: got %d", got)
	}
	for _, inst := range b.Insts {
		if inst.Op == ir.SignedSaturatedAdd32 {
			if inst.Pseudo(ir.GetOverflowFromOp) == nil {
				t.Error("overflow companion missing")
			}
		}
	}
}

// A conditional branch block folds its condition into an If terminal.
func TestConditionalBranchFolds(t *testing.T) {
	mem := codeMem{
		0x0000: 0x1A000003, // BNE +3
	}
	b := translate(t, Location{PC: 0}, mem)
	opt.Optimize(b)
	opt.Verify(b)

	iff, ok := b.Terminal.(ir.If)
	if !ok {
		t.Fatalf("terminal: got %T", b.Terminal)
	}
	if iff.Cond != ir.CondNE {
		t.Errorf("condition: got %s", iff.Cond)
	}
	then, ok := iff.Then.(ir.LinkBlock)
	if !ok {
		t.Fatalf("then arm: got %T", iff.Then)
	}
	if FromDescriptor(then.Next).PC != 0x14 {
		t.Errorf("branch target: got %#x", FromDescriptor(then.Next).PC)
	}
	if els, ok := iff.Else.(ir.LinkBlock); !ok || FromDescriptor(els.Next).PC != 4 {
		t.Errorf("fall-through: %#v", iff.Else)
	}
}

// A condition-code change ends the block.
func TestConditionChangeEndsBlock(t *testing.T) {
	mem := codeMem{
		0x0000: 0xE3A00001, // MOV R0, #1
		0x0004: 0x13A00002, // MOVNE R0, #2
	}
	b := translate(t, Location{PC: 0}, mem)

	if b.CycleCount != 1 {
		t.Errorf("cycle count: got %d", b.CycleCount)
	}
	link, ok := b.Terminal.(ir.LinkBlock)
	if !ok {
		t.Fatalf("terminal: got %T", b.Terminal)
	}
	if FromDescriptor(link.Next).PC != 4 {
		t.Errorf("next PC: got %#x", FromDescriptor(link.Next).PC)
	}
}

// BL records a return prediction and links to the target.
func TestBLPushesRSB(t *testing.T) {
	mem := codeMem{
		0x0000: 0xEB00000E, // BL +0x38
	}
	b := translate(t, Location{PC: 0}, mem)

	if countOp(b, ir.PushRSB) != 1 {
		t.Fatal("no RSB push")
	}
	var lr bool
	for _, inst := range b.Insts {
		if inst.Op == ir.SetRegister && inst.Args[0].Reg() == regLR {
			lr = inst.Args[1].IsImmediate() && inst.Args[1].U32() == 4
		}
	}
	if !lr {
		t.Error("LR not set to the return address")
	}
	link, ok := b.Terminal.(ir.LinkBlock)
	if !ok {
		t.Fatalf("terminal: got %T", b.Terminal)
	}
	if FromDescriptor(link.Next).PC != 0x40 {
		t.Errorf("call target: got %#x", FromDescriptor(link.Next).PC)
	}
}

// SVC calls the supervisor callback and checks for a halt before linking
// onward.
func TestSVC(t *testing.T) {
	mem := codeMem{
		0x0000: 0xEF00002A, // SVC #42
	}
	b := translate(t, Location{PC: 0}, mem)

	if countOp(b, ir.CallSupervisor) != 1 {
		t.Fatal("no supervisor call")
	}
	ch, ok := b.Terminal.(ir.CheckHalt)
	if !ok {
		t.Fatalf("terminal: got %T", b.Terminal)
	}
	if _, ok := ch.Else.(ir.LinkBlockFast); !ok {
		t.Errorf("else arm: got %T", ch.Else)
	}
}

// Undefined words raise the guest exception.
func TestUndefined(t *testing.T) {
	mem := codeMem{
		0x0000: 0xE7F000F0, // UDF #0
	}
	b := translate(t, Location{PC: 0}, mem)

	if countOp(b, ir.ExceptionRaised) != 1 {
		t.Error("no exception raised")
	}
}

// Thumb state decodes through the 16-bit table.
func TestThumbMovCmp(t *testing.T) {
	mem := codeMem{
		0x0000: 0x2A022001, // MOV R0, #1; CMP R2, #2
		0x0004: 0x00004770, // BX LR
	}
	loc := Location{PC: 0, TFlag: true}
	b := translate(t, loc, mem)
	opt.Verify(b)

	if b.CycleCount != 3 {
		t.Errorf("cycle count: got %d", b.CycleCount)
	}
	if _, ok := b.Terminal.(ir.PopRSBHint); !ok {
		t.Errorf("terminal: got %T", b.Terminal)
	}
}

func TestSingleStepBudget(t *testing.T) {
	mem := codeMem{
		0x0000: 0xE3A00001, // MOV R0, #1
		0x0004: 0xE3A00002, // MOV R0, #2
	}
	b := translate(t, Location{PC: 0, SingleStep: true}, mem)

	if b.CycleCount != 1 {
		t.Errorf("cycle count: got %d", b.CycleCount)
	}
	if _, ok := b.Terminal.(ir.ReturnToDispatchWithPC); !ok {
		t.Errorf("terminal: got %T", b.Terminal)
	}
}

func TestLocationDescriptorRoundTrip(t *testing.T) {
	locs := []Location{
		{},
		{PC: 0x12345678},
		{PC: 0x1000, TFlag: true},
		{PC: 0x1000, EFlag: true},
		{PC: 0x1000, SingleStep: true},
		{PC: 0xFFFFFFFC, TFlag: true, EFlag: true, FPSCR: 0x03C00000, SingleStep: true},
	}
	for _, loc := range locs {
		got := FromDescriptor(loc.Descriptor())
		if diff := cmp.Diff(loc, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

// Descriptors of distinct execution modes never collide.
func TestLocationDescriptorUnique(t *testing.T) {
	seen := make(map[ir.LocationDescriptor]Location)
	for _, loc := range []Location{
		{PC: 0x1000},
		{PC: 0x1000, TFlag: true},
		{PC: 0x1000, EFlag: true},
		{PC: 0x1000, SingleStep: true},
		{PC: 0x1000, FPSCR: 0x00400000},
		{PC: 0x1004},
	} {
		d := loc.Descriptor()
		if prev, dup := seen[d]; dup {
			t.Errorf("%v and %v share descriptor %v", prev, loc, d)
		}
		seen[d] = loc
	}
}
