// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import "testing"

type nullVisitor struct{}

func entry(name, pattern string) Matcher[nullVisitor] {
	return Entry(name, pattern, func(nullVisitor, uint32) bool { return true })
}

func TestEntryMaskExpected(t *testing.T) {
	m := entry("bx", "cccc000100101111111111110001mmmm")

	if m.Mask != 0x0FFFFFF0 {
		t.Errorf("mask: got %08x", m.Mask)
	}
	if m.Expected != 0x012FFF10 {
		t.Errorf("expected: got %08x", m.Expected)
	}

	if !m.Matches(0xE12FFF1E) { // BX LR
		t.Error("BX LR not matched")
	}
	if m.Matches(0xE12FFF3E) { // BLX LR
		t.Error("BLX LR matched by BX pattern")
	}
}

func TestDecodeOrder(t *testing.T) {
	// Two overlapping patterns: the more specific one declared first wins
	// on its words; everything else falls to the general one.
	table := Table[nullVisitor]{
		entry("specific", "1111000011110000"),
		entry("general", "1111oooo1111oooo"),
	}

	if m := table.Decode(0xF0F0); m == nil || m.Name != "specific" {
		t.Errorf("specific word: got %v", m)
	}
	if m := table.Decode(0xF5F5); m == nil || m.Name != "general" {
		t.Errorf("general word: got %v", m)
	}
	if m := table.Decode(0x1234); m != nil {
		t.Errorf("unmatched word decoded as %s", m.Name)
	}
}

func TestDecodeOrderIsOnlyDisambiguator(t *testing.T) {
	// Reversing the declaration order must change the winner for the
	// overlapping word.
	table := Table[nullVisitor]{
		entry("general", "1111oooo1111oooo"),
		entry("specific", "1111000011110000"),
	}
	if m := table.Decode(0xF0F0); m == nil || m.Name != "general" {
		t.Errorf("got %v, want general to shadow specific", m)
	}
}

func TestBits(t *testing.T) {
	if got := Bits(0xE2800002, 21, 4); got != 0x4 { // ADD opcode field
		t.Errorf("opcode field: got %x", got)
	}
	if !Bit(0x00100000, 20) {
		t.Error("bit 20 not seen")
	}
}
