// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import "testing"

func TestAppendUseCounts(t *testing.T) {
	b := NewBlock(0)
	e := Emitter{Block: b}

	a := e.Add(Imm32(1), Imm32(2), Imm1(false))
	e.SetRegister(0, a)
	e.SetRegister(1, a)

	if got := a.Inst().Uses(); got != 2 {
		t.Errorf("uses: got %d, want 2", got)
	}
}

func TestPseudoLinks(t *testing.T) {
	b := NewBlock(0)
	e := Emitter{Block: b}

	sum := e.Add(e.GetRegister(0), e.GetRegister(1), Imm1(false))
	carry := e.CarryFrom(sum)
	overflow := e.OverflowFrom(sum)

	producer := sum.Inst()
	if producer.Pseudo(GetCarryFromOp) != carry.Inst() {
		t.Error("carry link missing")
	}
	if producer.Pseudo(GetOverflowFromOp) != overflow.Inst() {
		t.Error("overflow link missing")
	}

	// Erasing a companion detaches it from the producer.
	carry.Inst().Erase()
	if producer.Pseudo(GetCarryFromOp) != nil {
		t.Error("carry link survives erasure")
	}
	if producer.Pseudo(GetOverflowFromOp) == nil {
		t.Error("overflow link lost with the carry one")
	}
}

func TestDuplicatePseudoPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("no panic on duplicate pseudo-operation")
		}
	}()

	b := NewBlock(0)
	e := Emitter{Block: b}
	sum := e.Add(e.GetRegister(0), Imm32(1), Imm1(false))
	e.CarryFrom(sum)
	e.CarryFrom(sum)
}

func TestReplaceWithResolvesThroughIdentity(t *testing.T) {
	b := NewBlock(0)
	e := Emitter{Block: b}

	a := e.Add(Imm32(1), Imm32(2), Imm1(false))
	e.SetRegister(0, a)

	a.Inst().ReplaceWith(Imm32(3))

	set := b.Insts[len(b.Insts)-1]
	if set.Op != SetRegister {
		t.Fatalf("last inst is %s", set.Op)
	}
	if !set.Args[1].IsImmediate() || set.Args[1].U32() != 3 {
		t.Errorf("stored value did not resolve to 3")
	}
}

func TestSingleTerminal(t *testing.T) {
	b := NewBlock(0)
	e := Emitter{Block: b}
	e.SetTerm(ReturnToDispatch{})

	defer func() {
		if recover() == nil {
			t.Error("no panic on second terminal")
		}
	}()
	e.SetTerm(ReturnToDispatch{})
}

func TestConditionInvert(t *testing.T) {
	pairs := [][2]Condition{
		{CondEQ, CondNE}, {CondCS, CondCC}, {CondMI, CondPL},
		{CondVS, CondVC}, {CondHI, CondLS}, {CondGE, CondLT},
		{CondGT, CondLE},
	}
	for _, p := range pairs {
		if p[0].Invert() != p[1] || p[1].Invert() != p[0] {
			t.Errorf("%s / %s do not invert to each other", p[0], p[1])
		}
	}
}

func TestConditionPassed(t *testing.T) {
	// n, z, c, v
	if !CondEQ.Passed(false, true, false, false) {
		t.Error("eq with Z set")
	}
	if CondGT.Passed(true, false, false, false) {
		t.Error("gt with N != V")
	}
	if !CondGE.Passed(true, false, false, true) {
		t.Error("ge with N == V")
	}
	if !CondHI.Passed(false, false, true, false) {
		t.Error("hi with C set, Z clear")
	}
}
