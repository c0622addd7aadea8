// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a64

import (
	"testing"

	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/opt"
)

type codeMem map[uint64]uint32

func (m codeMem) ReadCode32(vaddr uint64) uint32 { return m[vaddr] }

func translate(t *testing.T, loc Location, mem codeMem) *ir.Block {
	t.Helper()
	return Translate(loc.Descriptor(), &Config{Code: mem})
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

// ADD X0, X1, X2 is a plain 64-bit add with no flag writes.
func TestAddShifted(t *testing.T) {
	mem := codeMem{
		0x0000: 0x8B020020, // ADD X0, X1, X2
		0x0004: 0xD65F03C0, // RET
	}
	b := translate(t, Location{}, mem)
	opt.Verify(b)

	if got := countOp(b, ir.Add64); got != 1 {
		t.Fatalf("Add64 count: got %d", got)
	}
	if got := countOp(b, ir.SetCFlag) + countOp(b, ir.SetVFlag) + countOp(b, ir.SetNFlag); got != 0 {
		t.Errorf("non-S form wrote flags")
	}
	if _, ok := b.Terminal.(ir.PopRSBHint); !ok {
		t.Errorf("terminal: got %T", b.Terminal)
	}
}

// SUBS with the zero register destination is CMP.
func TestCmpWritesFlagsOnly(t *testing.T) {
	mem := codeMem{
		0x0000: 0xEB02003F, // SUBS XZR, X1, X2 (CMP X1, X2)
		0x0004: 0xD65F03C0, // RET
	}
	b := translate(t, Location{}, mem)
	opt.Verify(b)

	if got := countOp(b, ir.SetZFlag); got != 1 {
		t.Errorf("Z flag writes: got %d", got)
	}
	if got := countOp(b, ir.SetRegister64); got != 0 {
		t.Errorf("CMP wrote a register: %d stores", got)
	}
}

func TestMovz(t *testing.T) {
	mem := codeMem{
		0x0000: 0xD2800541, // MOVZ X1, #42
		0x0004: 0xD65F03C0, // RET
	}
	b := translate(t, Location{}, mem)

	var stored bool
	for _, inst := range b.Insts {
		if inst.Op == ir.SetRegister64 && inst.Args[0].Reg() == 1 {
			stored = inst.Args[1].IsImmediate() && inst.Args[1].U64() == 42
		}
	}
	if !stored {
		t.Error("MOVZ did not store 42 into X1")
	}
}

func TestCbzTerminal(t *testing.T) {
	mem := codeMem{
		0x0000: 0xB4000040, // CBZ X0, +8
	}
	b := translate(t, Location{}, mem)

	cb, ok := b.Terminal.(ir.CheckBit)
	if !ok {
		t.Fatalf("terminal: got %T", b.Terminal)
	}
	then, ok := cb.Then.(ir.LinkBlock)
	if !ok {
		t.Fatalf("then arm: got %T", cb.Then)
	}
	if FromDescriptor(then.Next).PC != 8 {
		t.Errorf("taken target: got %#x", FromDescriptor(then.Next).PC)
	}
	if countOp(b, ir.SetCheckBit) != 1 {
		t.Error("check bit not set")
	}
}

func TestBLPushesRSB(t *testing.T) {
	mem := codeMem{
		0x0000: 0x94000010, // BL +0x40
	}
	b := translate(t, Location{}, mem)

	if countOp(b, ir.PushRSB) != 1 {
		t.Fatal("no RSB push")
	}
	link, ok := b.Terminal.(ir.LinkBlock)
	if !ok {
		t.Fatalf("terminal: got %T", b.Terminal)
	}
	if FromDescriptor(link.Next).PC != 0x40 {
		t.Errorf("call target: got %#x", FromDescriptor(link.Next).PC)
	}
}

func TestDecodeBitMasks(t *testing.T) {
	tests := []struct {
		n, imms, immr uint32
		is64          bool
		want          uint64
		ok            bool
	}{
		{0, 0b111100, 0, false, 0x55555555, true},        // alternating bits
		{1, 0b000000, 0, true, 1, true},                  // single bit
		{0, 0b011110, 0, false, 0x7FFFFFFF, true},        // 31 low bits
		{0, 0b111111, 0, false, 0, false},                // reserved
		{1, 0b011111, 1, true, 0x800000007FFFFFFF, true}, // rotated field
	}
	for _, tt := range tests {
		got, ok := decodeBitMasks(tt.n, tt.imms, tt.immr, tt.is64)
		if ok != tt.ok {
			t.Errorf("decodeBitMasks(%d, %#o, %d): ok=%v", tt.n, tt.imms, tt.immr, ok)
			continue
		}
		if ok && tt.want != 0 && got != tt.want {
			t.Errorf("decodeBitMasks(%d, %#b, %d) = %#x, want %#x",
				tt.n, tt.imms, tt.immr, got, tt.want)
		}
	}
}

func TestLocationRoundTrip(t *testing.T) {
	locs := []Location{
		{},
		{PC: 0x0000_1234_5678_9ABC},
		{PC: 0x1000, SingleStep: true},
		{PC: 0x1000, FPCR: 0x03400000},
	}
	for _, loc := range locs {
		got := FromDescriptor(loc.Descriptor())
		if got != loc {
			t.Errorf("round trip: %+v became %+v", loc, got)
		}
	}
}
