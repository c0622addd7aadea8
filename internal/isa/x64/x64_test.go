// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"testing"

	"armlet.dev/armlet/internal/ir"
)

func TestVerifyCoverage(t *testing.T) {
	// Every opcode the frontends can emit must have an emission routine.
	VerifyCoverage()
}

func TestPatchSetDropRange(t *testing.T) {
	p := NewPatchSet()
	p.add(PatchSite{Addr: 100, Kind: PatchJg, Next: 1})
	p.add(PatchSite{Addr: 200, Kind: PatchJmp, Next: 1})
	p.add(PatchSite{Addr: 300, Kind: PatchMovPtr, Next: 2})

	p.DropRange(150, 250)

	if got := p.For(1); len(got) != 1 || got[0].Addr != 100 {
		t.Errorf("sites for 1: %+v", got)
	}
	if got := p.For(2); len(got) != 1 {
		t.Errorf("sites for 2: %+v", got)
	}

	p.DropRange(0, 1000)
	if len(p.For(1)) != 0 || len(p.For(2)) != 0 {
		t.Error("full-range drop left sites behind")
	}
}

func TestFastmemDemotion(t *testing.T) {
	f := NewFastmemState()
	key := FastmemKey{Location: 0x1000, Ordinal: 2}
	f.Sites[640] = key

	got, ok := f.Demote(640)
	if !ok || got != key {
		t.Fatalf("demote: got %+v, %v", got, ok)
	}
	if !f.DoNot[key] {
		t.Fatal("site not recorded as demoted")
	}

	// Unknown fault offsets are not fastmem faults.
	if _, ok := f.Demote(9999); ok {
		t.Error("unknown offset demoted")
	}

	// A second demotion of the same site is a translator bug.
	defer func() {
		if recover() == nil {
			t.Error("no panic on double demotion")
		}
	}()
	f.Demote(640)
}

func TestFastmemDropBlockSites(t *testing.T) {
	f := NewFastmemState()
	f.Sites[0] = FastmemKey{Location: 0x1000, Ordinal: 0}
	f.Sites[8] = FastmemKey{Location: 0x1000, Ordinal: 1}
	f.Sites[16] = FastmemKey{Location: 0x2000, Ordinal: 0}
	f.DoNot[FastmemKey{Location: 0x1000, Ordinal: 0}] = true

	f.DropBlockSites(0x1000)

	if len(f.Sites) != 1 {
		t.Errorf("sites left: %d", len(f.Sites))
	}
	// Demotions survive invalidation: that is what prevents the site from
	// coming back in fastmem form.
	if !f.DoNot[FastmemKey{Location: 0x1000, Ordinal: 0}] {
		t.Error("demotion record lost")
	}
}

func TestSplitDescriptor(t *testing.T) {
	p32 := Patcher{}
	pc, upper := p32.SplitDescriptor(ir.LocationDescriptor(0x0000010500001234))
	if pc != 0x1234 || upper != 0x105 {
		t.Errorf("a32 split: pc %#x upper %#x", pc, upper)
	}

	p64 := Patcher{A64Mode: true}
	desc := ir.LocationDescriptor(uint64(0x42)<<54 | 0x8000)
	pc, upper = p64.SplitDescriptor(desc)
	if pc != 0x8000 || upper != 0x42 {
		t.Errorf("a64 split: pc %#x upper %#x", pc, upper)
	}
}
