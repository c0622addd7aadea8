// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"armlet.dev/armlet/internal/code"
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/isa/x64/in"
	"armlet.dev/armlet/internal/jitstate"
	"armlet.dev/armlet/internal/reg"
)

// Patch site geometry.  Every patchable region has a fixed size so the
// patched and unpatched forms can overwrite each other in place.
// A link site holds either a patched jg/jmp rel32 or nops falling through
// to the materialize-PC stub emitted right after it.
const (
	linkSiteSize   = 8  // jg/jmp link sites
	movPtrSiteSize = 10 // mov rcx, imm64 sites
)

type PatchKind uint8

const (
	PatchJg PatchKind = iota
	PatchJmp
	PatchMovPtr
)

type PatchSite struct {
	Addr int32 // arena offset of the site
	Kind PatchKind
	Next ir.LocationDescriptor
}

// PatchSet records every patchable site, keyed by the target descriptor.
type PatchSet struct {
	sites map[ir.LocationDescriptor][]PatchSite
}

func NewPatchSet() *PatchSet {
	return &PatchSet{sites: make(map[ir.LocationDescriptor][]PatchSite)}
}

func (p *PatchSet) add(s PatchSite) {
	p.sites[s.Next] = append(p.sites[s.Next], s)
}

// For returns the sites targeting a descriptor.
func (p *PatchSet) For(desc ir.LocationDescriptor) []PatchSite {
	return p.sites[desc]
}

// DropRange forgets sites located inside an invalidated code range.
func (p *PatchSet) DropRange(start, end int32) {
	for desc, sites := range p.sites {
		kept := sites[:0]
		for _, s := range sites {
			if s.Addr < start || s.Addr >= end {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(p.sites, desc)
		} else {
			p.sites[desc] = kept
		}
	}
}

// Reset drops everything.
func (p *PatchSet) Reset() {
	p.sites = make(map[ir.LocationDescriptor][]PatchSite)
}

// windowBuffer adapts a fixed arena window to the code.Buffer interface so
// the regular encoders can rewrite a patch site in place.
type windowBuffer struct {
	b []byte
	n int
}

func (w *windowBuffer) Bytes() []byte { return w.b[:w.n] }

func (w *windowBuffer) Extend(n int) []byte {
	b := w.b[w.n : w.n+n]
	w.n += n
	return b
}

func (w *windowBuffer) PutByte(x byte) {
	w.b[w.n] = x
	w.n++
}

func (w *windowBuffer) PutUint32(x uint32) {
	b := w.Extend(4)
	b[0] = byte(x)
	b[1] = byte(x >> 8)
	b[2] = byte(x >> 16)
	b[3] = byte(x >> 24)
}

// Patcher rewrites patch sites.  Mode-specific descriptor splitting comes
// from the owning backend.
type Patcher struct {
	Arena   *code.Arena
	Info    *jitstate.Info
	Rt      *Runtime
	A64Mode bool
}

func (p *Patcher) window(site PatchSite, size int) *code.Buf {
	w := &windowBuffer{b: p.Arena.Bytes()[site.Addr : site.Addr+int32(size)]}
	return &code.Buf{Buffer: w, Addr: site.Addr}
}

// Link rewrites every site targeting desc to jump straight to entry.
func (p *Patcher) Link(desc ir.LocationDescriptor, entry int32, sites []PatchSite) {
	for _, s := range sites {
		switch s.Kind {
		case PatchJg:
			buf := p.window(s, linkSiteSize)
			in.JccRel(buf, in.CondG, entry)
			p.padNops(buf, linkSiteSize)
		case PatchJmp:
			buf := p.window(s, linkSiteSize)
			in.JmpRel(buf, entry)
			p.padNops(buf, linkSiteSize)
		case PatchMovPtr:
			buf := p.window(s, movPtrSiteSize)
			in.MovImm64(buf, reg.RCX, uint64(p.Arena.Addr(entry)))
		}
	}
}

// Unlink restores the unpatched forms: link sites fall through to their
// materialize-PC stub, mov sites point at the dispatcher.
func (p *Patcher) Unlink(sites []PatchSite) {
	for _, s := range sites {
		switch s.Kind {
		case PatchJg, PatchJmp:
			buf := p.window(s, linkSiteSize)
			p.padNops(buf, linkSiteSize)
		case PatchMovPtr:
			buf := p.window(s, movPtrSiteSize)
			in.MovImm64(buf, reg.RCX, uint64(p.Arena.Addr(p.Rt.Dispatch)))
		}
	}
}

func (p *Patcher) padNops(buf *code.Buf, size int) {
	w := buf.Buffer.(*windowBuffer)
	for w.n < size {
		buf.PutByte(0x90)
	}
}

// SplitDescriptor separates a descriptor into the PC to materialize and the
// upper location word.
func (p *Patcher) SplitDescriptor(desc ir.LocationDescriptor) (pc uint64, upper uint32) {
	v := desc.Value()
	if p.A64Mode {
		pc = uint64(int64(v<<10) >> 10)
		return pc, uint32(v >> 54)
	}
	return uint64(uint32(v)), uint32(v >> 32)
}
