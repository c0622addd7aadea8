// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"testing"

	"armlet.dev/armlet/internal/code"
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/jitstate"
)

type sliceBuffer struct {
	b []byte
}

func (s *sliceBuffer) Bytes() []byte { return s.b }

func (s *sliceBuffer) Extend(n int) []byte {
	off := len(s.b)
	s.b = append(s.b, make([]byte, n)...)
	return s.b[off:]
}

func (s *sliceBuffer) PutByte(x byte) { s.b = append(s.b, x) }

func (s *sliceBuffer) PutUint32(x uint32) {
	b := s.Extend(4)
	b[0] = byte(x)
	b[1] = byte(x >> 8)
	b[2] = byte(x >> 16)
	b[3] = byte(x >> 24)
}

func testEmitter() (*Emitter, *code.Buf) {
	text := &code.Buf{Buffer: new(sliceBuffer)}
	info := jitstate.CaptureInfo()
	e := &Emitter{
		Text:   text,
		RA:     NewRegAlloc(text, &info),
		Info:   &info,
		Host:   &HostFuncs{},
		Patch:  NewPatchSet(),
		Coproc: new(CoprocRegistry),
		Rt:     &Runtime{},
		Lookup: func(ir.LocationDescriptor) (int32, bool) { return 0, false },
	}
	return e, text
}

// Emitting a register-to-register data processing block exercises the
// allocator, the flag fusion path, and the link terminal without touching
// host memory.
func emitBlock(t *testing.T, build func(e *ir.Emitter)) []byte {
	t.Helper()
	b := ir.NewBlock(0x1000)
	b.CycleCount = 1
	ie := ir.Emitter{Block: b}
	build(&ie)
	if b.Terminal == nil {
		ie.SetTerm(ir.LinkBlock{Next: 0x2000})
	}

	e, text := testEmitter()
	entry := e.EmitBlock(b, false)
	if entry != 0 {
		t.Fatalf("entry: got %d", entry)
	}
	return text.Bytes()
}

func TestEmitAddWithFlags(t *testing.T) {
	out := emitBlock(t, func(e *ir.Emitter) {
		sum := e.Add(e.GetRegister(1), e.GetRegister(2), ir.Imm1(false))
		e.SetCFlag(e.CarryFrom(sum))
		e.SetVFlag(e.OverflowFrom(sum))
		e.SetNZFlags(sum)
		e.SetRegister(0, sum)
	})
	if len(out) == 0 {
		t.Fatal("no code emitted")
	}
}

func TestEmitSaturating(t *testing.T) {
	out := emitBlock(t, func(e *ir.Emitter) {
		sum := e.Inst(ir.SignedSaturatedAdd32, e.GetRegister(1), e.GetRegister(2))
		e.OrQFlag(e.OverflowFrom(sum))
		e.SetRegister(0, sum)
	})
	if len(out) == 0 {
		t.Fatal("no code emitted")
	}
}

func TestEmitShifts(t *testing.T) {
	out := emitBlock(t, func(e *ir.Emitter) {
		// Immediate and register amounts, with and without carry.
		a := e.LogicalShiftLeft(e.GetRegister(1), ir.Imm8(3), e.GetCFlag())
		e.SetCFlag(e.CarryFrom(a))
		b := e.LogicalShiftRight(a, e.Inst(ir.LeastSignificantByte, e.GetRegister(2)), e.GetCFlag())
		e.SetCFlag(e.CarryFrom(b))
		e.SetRegister(0, b)
	})
	if len(out) == 0 {
		t.Fatal("no code emitted")
	}
}

func TestEmitConditionalBlock(t *testing.T) {
	b := ir.NewBlock(0x1000)
	b.Cond = ir.CondNE
	b.ConditionFailed = 0x1004
	b.CycleCount = 1
	ie := ir.Emitter{Block: b}
	ie.SetRegister(0, ir.Imm32(7))
	ie.SetTerm(ir.LinkBlock{Next: 0x2000})

	e, text := testEmitter()
	e.EmitBlock(b, false)

	// Two patchable sites were registered: the taken and fall-through
	// exits.
	if got := len(e.Patch.For(0x2000)) + len(e.Patch.For(0x1004)); got != 2 {
		t.Errorf("patch sites: got %d", got)
	}
	if len(text.Bytes()) == 0 {
		t.Fatal("no code emitted")
	}
}

func TestEmitIfTerminal(t *testing.T) {
	b := ir.NewBlock(0x1000)
	b.CycleCount = 1
	b.Terminal = ir.If{
		Cond: ir.CondEQ,
		Then: ir.LinkBlock{Next: 0x2000},
		Else: ir.LinkBlock{Next: 0x3000},
	}

	e, text := testEmitter()
	e.EmitBlock(b, false)

	if len(e.Patch.For(0x2000)) != 1 || len(e.Patch.For(0x3000)) != 1 {
		t.Error("both arms should register a patch site")
	}
	if len(text.Bytes()) == 0 {
		t.Fatal("no code emitted")
	}
}

// Register pressure: more live values than allocatable registers forces
// spills, and the block still balances its books.
func TestEmitSpill(t *testing.T) {
	out := emitBlock(t, func(e *ir.Emitter) {
		var values []ir.Value
		for r := 0; r < 14; r++ {
			values = append(values, e.GetRegister(r))
		}
		acc := values[0]
		for _, v := range values[1:] {
			acc = e.Eor(acc, v)
		}
		e.SetRegister(0, acc)
	})
	if len(out) == 0 {
		t.Fatal("no code emitted")
	}
}

func TestEmitSingleStep(t *testing.T) {
	b := ir.NewBlock(0x1000)
	b.CycleCount = 1
	b.Terminal = ir.ReturnToDispatchWithPC{Next: 0x1004}

	e, text := testEmitter()
	e.EmitBlock(b, true)

	// A single-step block must not register block-linking patch sites.
	if len(e.Patch.For(0x1004)) != 0 {
		t.Error("single-step block registered a link site")
	}
	if len(text.Bytes()) == 0 {
		t.Fatal("no code emitted")
	}
}
