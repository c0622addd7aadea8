// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package x64 is the x86-64 backend: it lowers IR blocks to host code in
// the arena, allocates host registers, and generates the dispatcher that
// emitted blocks return to.
package x64

import (
	"encoding/binary"
	"fmt"

	"armlet.dev/armlet/internal/code"
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/isa/x64/in"
	"armlet.dev/armlet/internal/jitstate"
	"armlet.dev/armlet/internal/reg"
)

// HostFuncs carries the C-callable entry points of the embedder bridge.
// Emitted code calls them with the JitState pointer as first argument.
type HostFuncs struct {
	Read8, Read16, Read32, Read64     uintptr
	Write8, Write16, Write32, Write64 uintptr

	ExclusiveRead8, ExclusiveRead16, ExclusiveRead32, ExclusiveRead64     uintptr
	ExclusiveWrite8, ExclusiveWrite16, ExclusiveWrite32, ExclusiveWrite64 uintptr
	ClearExclusive                                                        uintptr

	CallSVC             uintptr
	ExceptionRaised     uintptr
	InterpreterFallback uintptr
	CoprocCall          uintptr
	AESRound            uintptr
	LookupBlock         uintptr
}

// Features describes the host instruction set extensions in use.
type Features struct {
	AESNI bool
	LZCNT bool
	CRC32 bool
}

// Emitter lowers one block at a time.  It is reused across blocks.
type Emitter struct {
	Text   *code.Buf
	RA     *RegAlloc
	Info   *jitstate.Info
	Host   *HostFuncs
	Feat   Features
	Patch  *PatchSet
	Coproc *CoprocRegistry
	Rt     *Runtime

	// Lookup resolves a descriptor to an already compiled entry offset.
	Lookup func(ir.LocationDescriptor) (int32, bool)

	// ArenaBase is the absolute address of arena offset zero.
	ArenaBase uintptr

	// A64Mode switches register access and PC width lowering.
	A64Mode bool

	// Fastmem, when non-nil, enables direct memory lowering.
	Fastmem *FastmemState

	block      *ir.Block
	singleStep bool
	memOrdinal int
	done       map[*ir.Inst]bool
}

// link is a local forward-branch label: rel32 sites patched at bind time.
type link struct {
	sites []int32
}

func (e *Emitter) jmpTo(l *link) {
	in.JmpRel(e.Text, 0)
	l.sites = append(l.sites, e.Text.Addr)
}

func (e *Emitter) jccTo(cc in.Cond, l *link) {
	in.JccRel(e.Text, cc, 0)
	l.sites = append(l.sites, e.Text.Addr)
}

func (e *Emitter) bind(l *link) {
	labelAddr := e.Text.Addr
	text := e.Text.Bytes()
	for _, site := range l.sites {
		binary.LittleEndian.PutUint32(text[site-4:site], uint32(labelAddr-site))
	}
	l.sites = nil
}

// hostCall emits a call to a C bridge function.  The stack is kept 16-byte
// aligned by the dispatcher prologue.
func (e *Emitter) hostCall(fn uintptr) {
	if fn == 0 {
		panic("x64: host function not wired")
	}
	in.MovImm64(e.Text, reg.R11, uint64(fn))
	in.CALL.Reg(e.Text, in.Size64, reg.R11)
}

type emitFn func(*Emitter, *ir.Inst)

var emitTable [ir.NumOpcodes]emitFn

// registerEmit installs an emission routine; double registration is a bug.
func registerEmit(op ir.Opcode, fn emitFn) {
	if emitTable[op] != nil {
		panic(fmt.Sprintf("x64: duplicate emission routine for %s", op))
	}
	emitTable[op] = fn
}

// The pseudo companions are fused at their producer; reaching one here
// means the producer's routine does not support that side channel.
func init() {
	registerEmit(ir.GetCarryFromOp, func(e *Emitter, inst *ir.Inst) {
		panic("x64: unfused carry pseudo-operation")
	})
	registerEmit(ir.GetOverflowFromOp, func(e *Emitter, inst *ir.Inst) {
		panic("x64: unfused overflow pseudo-operation")
	})
	registerEmit(ir.Identity, func(e *Emitter, inst *ir.Inst) {})
}

// VerifyCoverage panics if any opcode lacks an emission routine.  Called
// from the backend constructor, making missing coverage a startup failure
// rather than a translation-time one.
func VerifyCoverage() {
	for op := ir.Opcode(1); op < ir.NumOpcodes; op++ {
		if emitTable[op] == nil {
			panic(fmt.Sprintf("x64: no emission routine for %s", op))
		}
	}
}

// EmitBlock lowers a block and returns its entry address.
func (e *Emitter) EmitBlock(b *ir.Block, singleStep bool) (entry int32) {
	entry = e.Text.Addr
	e.block = b
	e.singleStep = singleStep
	e.memOrdinal = 0
	e.done = make(map[*ir.Inst]bool)
	e.RA.SetupBlock(b)

	var condFail link
	if b.Cond != ir.CondAL {
		// Prelude guard: on condition failure skip to the block's
		// condition-failed exit.
		e.emitCondJump(b.Cond.Invert(), &condFail)
	}

	for _, inst := range b.Insts {
		if inst.Op == ir.Invalid || e.done[inst] {
			continue
		}
		fn := emitTable[inst.Op]
		if fn == nil {
			panic(fmt.Sprintf("x64: no emission routine for %s", inst.Op))
		}
		fn(e, inst)
		e.RA.EndOfAllocScope()
	}
	e.RA.AssertNoMoreUses()

	e.emitAddCycles(b.CycleCount)
	e.EmitTerminal(b.Terminal)

	if b.Cond != ir.CondAL {
		e.bind(&condFail)
		e.emitAddCycles(b.CycleCount)
		e.EmitTerminal(ir.LinkBlock{Next: b.ConditionFailed})
	}
	return
}

// emitAddCycles charges the block's cycle count against the remaining
// budget.
func (e *Emitter) emitAddCycles(n uint64) {
	if n == 0 {
		return
	}
	in.SUBi.MemImm(e.Text, in.Size64, RegState, e.Info.OffCyclesRemaining, int32(n))
}

// defineResult is the common tail of most routines.
func (e *Emitter) defineResult(inst *ir.Inst, r reg.R) {
	e.RA.DefineValue(inst, r)
}

// fuseFlag materializes a pseudo companion from the current host flags.
func (e *Emitter) fuseFlag(inst *ir.Inst, op ir.Opcode, cc in.Cond) {
	companion := inst.Pseudo(op)
	if companion == nil {
		return
	}
	r := e.RA.ScratchGpr()
	in.Setcc(e.Text, cc, r)
	in.MOVZX8.RegReg(e.Text, in.Size32, r, r)
	e.RA.DefineValue(companion, r)
	e.done[companion] = true
}

// emitCondJump evaluates an ARM condition against the stored NZCV flags and
// jumps to the link when it passes.  Uses rax/rcx as scratch; only valid
// outside register-allocated code (preludes and terminals).
func (e *Emitter) emitCondJump(cond ir.Condition, l *link) {
	const (
		bitV = 28
		bitC = 29
		bitZ = 30
		bitN = 31
	)
	nzcv := func() {
		in.MOVr.RegMem(e.Text, in.Size32, reg.RAX, RegState, e.Info.OffNZCV)
	}

	switch cond {
	case ir.CondAL, ir.CondNV:
		e.jmpTo(l)
	case ir.CondEQ, ir.CondNE:
		nzcv()
		in.TestImm(e.Text, in.Size32, reg.RAX, 1<<bitZ)
		e.jccTo(pick(cond == ir.CondEQ, in.CondNE, in.CondE), l)
	case ir.CondCS, ir.CondCC:
		nzcv()
		in.TestImm(e.Text, in.Size32, reg.RAX, 1<<bitC)
		e.jccTo(pick(cond == ir.CondCS, in.CondNE, in.CondE), l)
	case ir.CondMI, ir.CondPL:
		nzcv()
		in.TestImm(e.Text, in.Size32, reg.RAX, signBit)
		e.jccTo(pick(cond == ir.CondMI, in.CondNE, in.CondE), l)
	case ir.CondVS, ir.CondVC:
		nzcv()
		in.TestImm(e.Text, in.Size32, reg.RAX, 1<<bitV)
		e.jccTo(pick(cond == ir.CondVS, in.CondNE, in.CondE), l)
	case ir.CondHI, ir.CondLS:
		// C set and Z clear.
		nzcv()
		in.ANDi.RegImm(e.Text, in.Size32, reg.RAX, 1<<bitC|1<<bitZ)
		in.CMPi.RegImm(e.Text, in.Size32, reg.RAX, 1<<bitC)
		e.jccTo(pick(cond == ir.CondHI, in.CondE, in.CondNE), l)
	case ir.CondGE, ir.CondLT:
		// N == V.
		nzcv()
		in.MOVr.RegReg(e.Text, in.Size32, reg.RCX, reg.RAX)
		in.SHR.RegImm(e.Text, in.Size32, reg.RCX, bitN-bitV)
		in.XOR.RegReg(e.Text, in.Size32, reg.RAX, reg.RCX)
		in.TestImm(e.Text, in.Size32, reg.RAX, 1<<bitV)
		e.jccTo(pick(cond == ir.CondGE, in.CondE, in.CondNE), l)
	case ir.CondGT, ir.CondLE:
		// Z clear and N == V.
		nzcv()
		in.MOVr.RegReg(e.Text, in.Size32, reg.RCX, reg.RAX)
		in.SHR.RegImm(e.Text, in.Size32, reg.RCX, bitN-bitV)
		in.XOR.RegReg(e.Text, in.Size32, reg.RCX, reg.RAX)
		// RCX bit V = N^V; fold Z in so one test decides.
		in.ANDi.RegImm(e.Text, in.Size32, reg.RCX, 1<<bitV)
		in.ANDi.RegImm(e.Text, in.Size32, reg.RAX, 1<<bitZ)
		in.OR.RegReg(e.Text, in.Size32, reg.RAX, reg.RCX)
		in.Test(e.Text, in.Size32, reg.RAX, reg.RAX)
		e.jccTo(pick(cond == ir.CondGT, in.CondE, in.CondNE), l)
	default:
		panic("x64: bad condition")
	}
}

// signBit is the N flag mask as a 32-bit immediate.
const signBit = int32(-1 << 31)

func pick(b bool, t, f in.Cond) in.Cond {
	if b {
		return t
	}
	return f
}
