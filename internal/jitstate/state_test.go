// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jitstate

import "testing"

func TestInfoOffsets(t *testing.T) {
	info := CaptureInfo()

	if RSBSize&(RSBSize-1) != 0 {
		t.Fatal("RSB size is not a power of two")
	}
	if info.RSBMask != RSBSize-1 {
		t.Errorf("RSB mask: got %d", info.RSBMask)
	}

	// Emitted code addresses fields by offset; spot-check the arithmetic
	// accessors against the captured bases.
	if info.RegOffset(15) != info.OffRegs+60 {
		t.Errorf("PC offset: got %d", info.RegOffset(15))
	}
	if info.XOffset(31) != info.OffX+248 {
		t.Errorf("SP offset: got %d", info.XOffset(31))
	}
	if info.SpillOffset(1)-info.SpillOffset(0) != 8 {
		t.Error("spill slots are not 8 bytes apart")
	}

	// The RSB arrays must be directly indexable by rsb_ptr*8.
	if info.OffRsbCodeptrs-info.OffRsbLocations != RSBSize*8 {
		t.Errorf("RSB arrays are not adjacent: %d", info.OffRsbCodeptrs-info.OffRsbLocations)
	}
}

func TestDescriptorRebuild(t *testing.T) {
	var s State
	s.Regs[15] = 0x1234
	s.UpperLoc = 0x105 // T set, FPSCR mode bits

	if got := s.Descriptor(); got != 0x0000010500001234 {
		t.Errorf("descriptor: got %#x", got)
	}

	s.PC = 0x8000
	s.UpperLoc = 0x42
	if got := s.Descriptor64(); got != uint64(0x42)<<54|0x8000 {
		t.Errorf("descriptor64: got %#x", got)
	}
}

func TestResetRSB(t *testing.T) {
	var s State
	s.ResetRSB()
	for i := range s.RsbLocations {
		if s.RsbLocations[i] != ^uint64(0) {
			t.Fatalf("slot %d can match a real descriptor", i)
		}
	}
}
