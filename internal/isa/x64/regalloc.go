// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"fmt"

	"armlet.dev/armlet/internal/code"
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/isa/x64/in"
	"armlet.dev/armlet/internal/jitstate"
	"armlet.dev/armlet/internal/reg"
)

// Register roles fixed by the backend ABI.
const (
	// RegState holds the JitState pointer for the lifetime of guest code.
	RegState = reg.R15
	// RegFastmem holds the fastmem base when fastmem is enabled.
	RegFastmem = reg.R13
)

// allocatableGprs lists registers handed out by the allocator, in
// preference order: caller-saved first so that callee-saved registers stay
// untouched in short blocks.
var allocatableGprs = []reg.R{
	reg.RAX, reg.RCX, reg.RDX, reg.RSI, reg.RDI, reg.R8, reg.R9, reg.R10,
	reg.R11, reg.RBX, reg.RBP, reg.R12, reg.R14,
}

var allocatableXmms = []reg.R{
	reg.XMM0, reg.XMM1, reg.XMM2, reg.XMM3, reg.XMM4, reg.XMM5,
}

// callerSavedGprs are clobbered by host calls.
var callerSavedGprs = []reg.R{
	reg.RAX, reg.RCX, reg.RDX, reg.RSI, reg.RDI, reg.R8, reg.R9, reg.R10, reg.R11,
}

// System V argument registers.
var abiParamGprs = [...]reg.R{reg.RDI, reg.RSI, reg.RDX, reg.RCX, reg.R8, reg.R9}

const abiReturnGpr = reg.RAX

type locKind uint8

const (
	locNone locKind = iota
	locGpr
	locXmm
	locSpill
)

type location struct {
	kind locKind
	idx  int
}

type hostReg struct {
	inst    *ir.Inst // value currently held, nil if scratch or free
	scratch bool
	lastUse int
}

// RegAlloc is a linear, SSA-aware register allocator.  Values live in host
// registers until pressure forces the least recently used one into a
// JitState spill slot.
type RegAlloc struct {
	text *code.Buf
	info *jitstate.Info

	gprs      [16]hostReg
	gprInUse  [16]bool
	xmms      [8]hostReg
	xmmInUse  [8]bool
	loc       map[*ir.Inst]location
	remaining map[*ir.Inst]int
	spillUsed [jitstate.SpillCount]bool
	tick      int

	// scratches allocated since the last EndOfAllocScope
	scopeGprs []reg.R
	scopeXmms []reg.R
}

func NewRegAlloc(text *code.Buf, info *jitstate.Info) *RegAlloc {
	return &RegAlloc{text: text, info: info}
}

// SetupBlock prepares per-block bookkeeping.
func (ra *RegAlloc) SetupBlock(b *ir.Block) {
	ra.loc = make(map[*ir.Inst]location)
	ra.remaining = make(map[*ir.Inst]int)
	for i := range ra.gprs {
		ra.gprs[i] = hostReg{}
		ra.gprInUse[i] = false
	}
	for i := range ra.xmms {
		ra.xmms[i] = hostReg{}
		ra.xmmInUse[i] = false
	}
	for i := range ra.spillUsed {
		ra.spillUsed[i] = false
	}
	// Count how many times each value will be consumed by an emission
	// routine: one per resolved argument reference.  Identity chains
	// resolve to their target, and pseudo companions are fused rather
	// than read, so neither contributes.
	for _, inst := range b.Insts {
		if inst.Op == ir.Invalid || inst.Op == ir.Identity || inst.Op.Pseudo() {
			continue
		}
		for i := 0; i < inst.NumArgs(); i++ {
			if t := inst.Args[i].Inst(); t != nil {
				ra.remaining[t]++
			}
		}
	}
	ra.tick = 0
	ra.scopeGprs = ra.scopeGprs[:0]
	ra.scopeXmms = ra.scopeXmms[:0]
}

// UseGpr returns a register holding the value.  The register must not be
// clobbered; it may be shared with other readers.
func (ra *RegAlloc) UseGpr(v ir.Value) reg.R {
	if v.IsImmediate() {
		r := ra.ScratchGpr()
		materializeImm(ra.text, r, v)
		return r
	}
	inst := v.Inst()
	r := ra.locate(inst)
	ra.consume(inst)
	ra.touch(r)
	return r
}

// UseScratchGpr returns a register holding the value which the caller may
// clobber freely.
func (ra *RegAlloc) UseScratchGpr(v ir.Value) reg.R {
	if v.IsImmediate() {
		r := ra.ScratchGpr()
		materializeImm(ra.text, r, v)
		return r
	}
	inst := v.Inst()
	home := ra.locate(inst)
	ra.consume(inst)

	if ra.remaining[inst] == 0 {
		// Last use: steal the home register.
		ra.gprs[home] = hostReg{scratch: true, lastUse: ra.tick}
		delete(ra.loc, inst)
		ra.scopeGprs = append(ra.scopeGprs, home)
		ra.touch(home)
		return home
	}

	r := ra.ScratchGpr()
	in.MOVr.RegReg(ra.text, in.Size64, r, home)
	return r
}

// ScratchGpr allocates a register with undefined contents, released at the
// end of the current allocation scope.
func (ra *RegAlloc) ScratchGpr() reg.R {
	r := ra.allocGpr()
	ra.gprs[r] = hostReg{scratch: true, lastUse: ra.tick}
	ra.scopeGprs = append(ra.scopeGprs, r)
	return r
}

// Discard consumes an argument that the emission routine decided not to
// read (a carry-in that a constant shift amount makes irrelevant).
func (ra *RegAlloc) Discard(v ir.Value) {
	if inst := v.Inst(); inst != nil {
		ra.consume(inst)
	}
}

// ScratchSpecific claims a particular register as scratch, spilling its
// current occupant if necessary.  Needed for instructions with fixed
// register operands (shift amounts in CL).
func (ra *RegAlloc) ScratchSpecific(r reg.R) {
	ra.evict(r)
	ra.gprs[r] = hostReg{scratch: true, lastUse: ra.tick}
	ra.gprInUse[r] = true
	ra.scopeGprs = append(ra.scopeGprs, r)
}

// UseXmm returns an XMM register holding a 128-bit value.
func (ra *RegAlloc) UseXmm(v ir.Value) reg.R {
	inst := v.Inst()
	if inst == nil {
		panic("x64: immediate vector operand")
	}
	r := ra.locateXmm(inst)
	ra.consume(inst)
	return r
}

// UseScratchXmm returns an XMM register holding the value which the caller
// may clobber.
func (ra *RegAlloc) UseScratchXmm(v ir.Value) reg.R {
	inst := v.Inst()
	home := ra.locateXmm(inst)
	ra.consume(inst)
	if ra.remaining[inst] == 0 {
		ra.xmms[home] = hostReg{scratch: true}
		delete(ra.loc, inst)
		ra.scopeXmms = append(ra.scopeXmms, home)
		return home
	}
	r := ra.ScratchXmm()
	in.MovapsRegReg(ra.text, r, home)
	return r
}

// ScratchXmm allocates an XMM register with undefined contents.
func (ra *RegAlloc) ScratchXmm() reg.R {
	for _, r := range allocatableXmms {
		if !ra.xmmInUse[r] {
			ra.xmmInUse[r] = true
			ra.xmms[r] = hostReg{scratch: true}
			ra.scopeXmms = append(ra.scopeXmms, r)
			return r
		}
	}
	panic("x64: out of xmm registers")
}

// DefineValue records that the instruction's result lives in the register.
func (ra *RegAlloc) DefineValue(inst *ir.Inst, r reg.R) {
	if _, used := ra.remaining[inst]; !used {
		// Result is never read; the register stays scratch and dies at
		// scope end.
		return
	}
	ra.unscope(r)
	ra.gprs[r] = hostReg{inst: inst, lastUse: ra.tick}
	ra.gprInUse[r] = true
	ra.loc[inst] = location{kind: locGpr, idx: int(r)}
}

// DefineValueXmm records a 128-bit result.
func (ra *RegAlloc) DefineValueXmm(inst *ir.Inst, r reg.R) {
	if _, used := ra.remaining[inst]; !used {
		return
	}
	ra.unscopeXmm(r)
	ra.xmms[r] = hostReg{inst: inst}
	ra.xmmInUse[r] = true
	ra.loc[inst] = location{kind: locXmm, idx: int(r)}
}

// EndOfAllocScope releases scratch registers allocated for the current
// instruction.
func (ra *RegAlloc) EndOfAllocScope() {
	for _, r := range ra.scopeGprs {
		if ra.gprs[r].scratch {
			ra.gprs[r] = hostReg{}
			ra.gprInUse[r] = false
		}
	}
	ra.scopeGprs = ra.scopeGprs[:0]
	for _, r := range ra.scopeXmms {
		if ra.xmms[r].scratch {
			ra.xmms[r] = hostReg{}
			ra.xmmInUse[r] = false
		}
	}
	ra.scopeXmms = ra.scopeXmms[:0]
	ra.tick++
}

// HostCall prepares for a call: live values in caller-saved registers are
// spilled, and the given arguments are moved into the ABI parameter
// registers.  Immediate arguments are materialized directly.
func (ra *RegAlloc) HostCall(args ...ir.Value) {
	if len(args) > len(abiParamGprs) {
		panic("x64: too many host call arguments")
	}

	// Snapshot argument sources before spilling invalidates locations.
	type src struct {
		imm   bool
		value ir.Value
		r     reg.R
	}
	srcs := make([]src, len(args))
	for i, a := range args {
		if a.Empty() || a.IsImmediate() {
			srcs[i] = src{imm: true, value: a}
		} else {
			srcs[i] = src{r: ra.locate(a.Inst()), value: a}
			ra.consume(a.Inst())
		}
	}

	// Resolve shuffle conflicts: a source sitting in a parameter register
	// needed by an earlier argument moves aside first.
	for i := range srcs {
		dst := abiParamGprs[i]
		for j := i + 1; j < len(srcs); j++ {
			if !srcs[j].imm && srcs[j].r == dst {
				tmp := ra.ScratchGpr()
				in.MOVr.RegReg(ra.text, in.Size64, tmp, dst)
				srcs[j].r = tmp
			}
		}
	}

	// Move arguments into place; a parameter register's previous occupant
	// gets spilled by the loop below if still live.
	for i, s := range srcs {
		dst := abiParamGprs[i]
		if s.imm {
			if !s.value.Empty() {
				materializeImm(ra.text, dst, s.value)
			}
		} else if s.r != dst {
			ra.evict(dst)
			in.MOVr.RegReg(ra.text, in.Size64, dst, s.r)
		}
		ra.gprs[dst] = hostReg{scratch: true, lastUse: ra.tick}
		ra.gprInUse[dst] = true
		ra.scopeGprs = append(ra.scopeGprs, dst)
	}

	for _, r := range callerSavedGprs {
		ra.evict(r)
	}
	// XMM registers are all caller-saved.
	for x := range ra.xmms {
		if ra.xmms[x].inst != nil {
			ra.spillXmm(reg.R(x))
		}
	}
}

// AssertNoMoreUses panics if any value still has outstanding uses at block
// end, which would mean the emitter leaked a register.
func (ra *RegAlloc) AssertNoMoreUses() {
	for inst, n := range ra.remaining {
		if n > 0 {
			panic(fmt.Sprintf("x64: %s has %d outstanding uses at block end", inst.Op, n))
		}
	}
}

func (ra *RegAlloc) consume(inst *ir.Inst) {
	n, tracked := ra.remaining[inst]
	if !tracked {
		panic(fmt.Sprintf("x64: use of untracked %s value", inst.Op))
	}
	n--
	ra.remaining[inst] = n
	if n == 0 {
		// Value dies after this instruction; release its home at scope
		// end by downgrading it to scratch.
		if l, ok := ra.loc[inst]; ok {
			switch l.kind {
			case locGpr:
				ra.gprs[l.idx].scratch = true
				ra.gprs[l.idx].inst = nil
				ra.scopeGprs = append(ra.scopeGprs, reg.R(l.idx))
			case locXmm:
				ra.xmms[l.idx].scratch = true
				ra.xmms[l.idx].inst = nil
				ra.scopeXmms = append(ra.scopeXmms, reg.R(l.idx))
			case locSpill:
				ra.spillUsed[l.idx] = false
			}
			delete(ra.loc, inst)
		}
	}
}

// locate returns the register currently holding the value, reloading from a
// spill slot if needed.
func (ra *RegAlloc) locate(inst *ir.Inst) reg.R {
	l, ok := ra.loc[inst]
	if !ok {
		panic(fmt.Sprintf("x64: %s value has no location", inst.Op))
	}
	switch l.kind {
	case locGpr:
		return reg.R(l.idx)
	case locSpill:
		r := ra.allocGpr()
		in.MOVr.RegMem(ra.text, in.Size64, r, RegState, ra.info.SpillOffset(l.idx))
		ra.spillUsed[l.idx] = false
		ra.gprs[r] = hostReg{inst: inst, lastUse: ra.tick}
		ra.gprInUse[r] = true
		ra.loc[inst] = location{kind: locGpr, idx: int(r)}
		return r
	default:
		panic("x64: value is not in a gpr")
	}
}

func (ra *RegAlloc) locateXmm(inst *ir.Inst) reg.R {
	l, ok := ra.loc[inst]
	if !ok || l.kind != locXmm {
		panic("x64: vector value has no xmm location")
	}
	return reg.R(l.idx)
}

func (ra *RegAlloc) touch(r reg.R) {
	ra.gprs[r].lastUse = ra.tick
}

// allocGpr finds a free register, spilling the least recently used live
// value when none is free.
func (ra *RegAlloc) allocGpr() reg.R {
	for _, r := range allocatableGprs {
		if !ra.gprInUse[r] {
			ra.gprInUse[r] = true
			return r
		}
	}

	victim := reg.R(0xFF)
	best := int(^uint(0) >> 1)
	for _, r := range allocatableGprs {
		h := &ra.gprs[r]
		if h.inst != nil && h.lastUse < best {
			victim = r
			best = h.lastUse
		}
	}
	if victim == 0xFF {
		panic("x64: register file exhausted by scratch allocations")
	}
	ra.spillGpr(victim)
	ra.gprInUse[victim] = true
	return victim
}

// spillGpr stores a live value into a free JitState spill slot.
func (ra *RegAlloc) spillGpr(r reg.R) {
	inst := ra.gprs[r].inst
	slot := ra.allocSpill()
	in.MOVmr.MemReg(ra.text, in.Size64, RegState, ra.info.SpillOffset(slot), r)
	ra.loc[inst] = location{kind: locSpill, idx: slot}
	ra.gprs[r] = hostReg{}
	ra.gprInUse[r] = false
}

func (ra *RegAlloc) spillXmm(r reg.R) {
	inst := ra.xmms[r].inst
	slot := ra.allocSpillPair()
	in.MovupsStore(ra.text, RegState, ra.info.SpillOffset(slot), r)
	ra.loc[inst] = location{kind: locSpill, idx: slot}
	ra.xmms[r] = hostReg{}
	ra.xmmInUse[r] = false
}

func (ra *RegAlloc) allocSpill() int {
	for i, used := range ra.spillUsed {
		if !used {
			ra.spillUsed[i] = true
			return i
		}
	}
	panic("x64: out of spill slots")
}

// allocSpillPair reserves two adjacent slots for a 128-bit value.
func (ra *RegAlloc) allocSpillPair() int {
	for i := 0; i+1 < len(ra.spillUsed); i += 2 {
		if !ra.spillUsed[i] && !ra.spillUsed[i+1] {
			ra.spillUsed[i] = true
			ra.spillUsed[i+1] = true
			return i
		}
	}
	panic("x64: out of spill slots")
}

// evict spills the value held by r, if any, and frees the register.
func (ra *RegAlloc) evict(r reg.R) {
	if ra.gprs[r].inst != nil {
		ra.spillGpr(r)
	}
}

func (ra *RegAlloc) unscope(r reg.R) {
	for i, s := range ra.scopeGprs {
		if s == r {
			ra.scopeGprs = append(ra.scopeGprs[:i], ra.scopeGprs[i+1:]...)
			return
		}
	}
}

func (ra *RegAlloc) unscopeXmm(r reg.R) {
	for i, s := range ra.scopeXmms {
		if s == r {
			ra.scopeXmms = append(ra.scopeXmms[:i], ra.scopeXmms[i+1:]...)
			return
		}
	}
}

// materializeImm loads an immediate into a register with the shortest
// suitable encoding.
func materializeImm(text *code.Buf, r reg.R, v ir.Value) {
	switch v.Type() {
	case ir.U1:
		var x uint32
		if v.U1() {
			x = 1
		}
		in.MovImm32(text, r, x)
	case ir.U8:
		in.MovImm32(text, r, uint32(v.U8()))
	case ir.U16:
		in.MovImm32(text, r, uint32(v.U16()))
	case ir.U32:
		in.MovImm32(text, r, v.U32())
	case ir.U64:
		x := v.U64()
		if x <= 0xFFFFFFFF {
			in.MovImm32(text, r, uint32(x))
		} else {
			in.MovImm64(text, r, x)
		}
	default:
		panic("x64: immediate of unexpected type")
	}
}
