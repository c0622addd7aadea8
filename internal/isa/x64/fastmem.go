// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/isa/x64/in"
)

// FastmemKey identifies one memory access site across recompilations of
// its block.
type FastmemKey struct {
	Location ir.LocationDescriptor
	Ordinal  int
}

// FastmemState tracks fastmem lowering decisions.  A site that faulted
// once lands in DoNot and is never lowered to a direct access again.
type FastmemState struct {
	// Sites maps the arena offset of each direct access to its key, for
	// the fault handler.
	Sites map[int32]FastmemKey

	// DoNot holds demoted sites.
	DoNot map[FastmemKey]bool
}

func NewFastmemState() *FastmemState {
	return &FastmemState{
		Sites: make(map[int32]FastmemKey),
		DoNot: make(map[FastmemKey]bool),
	}
}

// Demote records a faulted site.  It reports whether the offset is a
// recorded fastmem site; a second demotion of the same site is a translator
// bug and panics.
func (f *FastmemState) Demote(offset int32) (FastmemKey, bool) {
	key, ok := f.Sites[offset]
	if !ok {
		return FastmemKey{}, false
	}
	if f.DoNot[key] {
		panic("x64: fastmem site demoted twice")
	}
	f.DoNot[key] = true
	return key, true
}

// DropBlockSites forgets site records of an invalidated block.
func (f *FastmemState) DropBlockSites(loc ir.LocationDescriptor) {
	for off, key := range f.Sites {
		if key.Location == loc {
			delete(f.Sites, off)
		}
	}
}

func (e *Emitter) fastmemKey() (FastmemKey, bool) {
	key := FastmemKey{Location: e.block.Location, Ordinal: e.memOrdinal}
	e.memOrdinal++
	if e.Fastmem == nil || e.Fastmem.DoNot[key] {
		return key, false
	}
	return key, true
}

func (e *Emitter) tryFastmemRead(inst *ir.Inst, t in.Type) bool {
	if e.Fastmem == nil {
		return false
	}
	key, ok := e.fastmemKey()
	if !ok {
		return false
	}

	addr := e.RA.UseGpr(inst.Args[0])
	r := e.RA.ScratchGpr()
	e.Fastmem.Sites[e.Text.Addr] = key
	switch t {
	case in.Size8:
		in.MOVZX8.RegMemIndex(e.Text, in.Size32, r, RegFastmem, addr, 1, 0)
	case in.Size16:
		in.MOVZX16.RegMemIndex(e.Text, in.Size32, r, RegFastmem, addr, 1, 0)
	default:
		in.MOVr.RegMemIndex(e.Text, t, r, RegFastmem, addr, 1, 0)
	}
	e.defineResult(inst, r)
	return true
}

func (e *Emitter) tryFastmemWrite(inst *ir.Inst, t in.Type) bool {
	if e.Fastmem == nil {
		return false
	}
	key, ok := e.fastmemKey()
	if !ok {
		return false
	}

	addr := e.RA.UseGpr(inst.Args[0])
	val := e.RA.UseGpr(inst.Args[1])
	e.Fastmem.Sites[e.Text.Addr] = key
	in.MOVmr.MemIndexReg(e.Text, t, RegFastmem, addr, 1, 0, val)
	return true
}
