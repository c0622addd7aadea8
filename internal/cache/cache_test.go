// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"testing"

	"armlet.dev/armlet/internal/ir"
)

func TestInvalidateRanges(t *testing.T) {
	c := New()
	c.Put(1, BlockDescriptor{Entry: 100, Size: 10}, 0x1000, 0x1010)
	c.Put(2, BlockDescriptor{Entry: 200, Size: 10}, 0x1010, 0x1020)
	c.Put(3, BlockDescriptor{Entry: 300, Size: 10}, 0x2000, 0x2010)

	removed := c.InvalidateRanges([]Range{{Start: 0x100C, End: 0x1014}})

	if len(removed) != 2 {
		t.Fatalf("removed %d blocks, want 2", len(removed))
	}
	if _, ok := c.Get(1); ok {
		t.Error("block 1 survived")
	}
	if _, ok := c.Get(2); ok {
		t.Error("block 2 survived")
	}
	if _, ok := c.Get(3); !ok {
		t.Error("unrelated block 3 removed")
	}
}

func TestInvalidateRangeBoundaries(t *testing.T) {
	c := New()
	c.Put(1, BlockDescriptor{}, 0x1000, 0x1010)

	// End is exclusive on both sides.
	if got := c.InvalidateRanges([]Range{{Start: 0x1010, End: 0x1020}}); len(got) != 0 {
		t.Error("touching range invalidated the block")
	}
	if got := c.InvalidateRanges([]Range{{Start: 0x0FF0, End: 0x1000}}); len(got) != 0 {
		t.Error("preceding range invalidated the block")
	}
	if got := c.InvalidateRanges([]Range{{Start: 0x100F, End: 0x1010}}); len(got) != 1 {
		t.Error("one-byte overlap missed")
	}
}

func TestRemove(t *testing.T) {
	c := New()
	c.Put(7, BlockDescriptor{Entry: 64, Size: 32}, 0x1000, 0x1004)

	bd, ok := c.Remove(7)
	if !ok || bd.Entry != 64 || bd.Size != 32 {
		t.Fatalf("remove: got %+v, %v", bd, ok)
	}
	if _, ok := c.Remove(7); ok {
		t.Error("double remove succeeded")
	}
	// The range index is gone too.
	if got := c.InvalidateRanges([]Range{{Start: 0x1000, End: 0x1004}}); len(got) != 0 {
		t.Error("stale range entry")
	}
}

func TestFastDispatchTable(t *testing.T) {
	tab := NewFastDispatchTable(16)

	if tab.Mask() != 15 {
		t.Errorf("mask: got %d", tab.Mask())
	}
	if tab.Base() == 0 {
		t.Error("zero base")
	}
	for i := range tab.entries {
		if tab.entries[i].Desc != ^uint64(0) {
			t.Fatalf("slot %d not initialized to a never-matching key", i)
		}
	}

	tab.entries[3] = FastDispatchEntry{Desc: 0x1234, Ptr: 0x9000}
	tab.entries[9] = FastDispatchEntry{Desc: 0x5678, Ptr: 0xA000}
	tab.ClearDesc(ir.LocationDescriptor(0x1234))

	if tab.entries[3].Ptr != 0 || tab.entries[3].Desc != ^uint64(0) {
		t.Error("cleared slot still live")
	}
	if tab.entries[9].Desc != 0x5678 {
		t.Error("unrelated slot cleared")
	}
}

func TestFastDispatchTablePowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("no panic for non-power-of-two size")
		}
	}()
	NewFastDispatchTable(12)
}
