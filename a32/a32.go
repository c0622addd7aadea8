// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package a32 is the public interface for executing A32/Thumb guest code.
package a32

import (
	"errors"

	"armlet.dev/armlet/coproc"
	"armlet.dev/armlet/internal/core"
	fronta32 "armlet.dev/armlet/internal/front/a32"
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/pan"
	"armlet.dev/armlet/monitor"
)

// Exception kinds passed to ExceptionRaised.
const (
	ExceptionUndefined     = fronta32.ExceptionUndefined
	ExceptionUnpredictable = fronta32.ExceptionUnpredictable
	ExceptionBreakpoint    = fronta32.ExceptionBreakpoint
	ExceptionCoprocessor   = fronta32.ExceptionCoprocessor
)

// Callbacks is the embedder contract.  Memory callbacks may raise guest
// exceptions on the embedder's side; the translator never interprets their
// failure.
type Callbacks interface {
	MemoryReadCode(vaddr uint32) uint32

	MemoryRead8(vaddr uint32) uint8
	MemoryRead16(vaddr uint32) uint16
	MemoryRead32(vaddr uint32) uint32
	MemoryRead64(vaddr uint32) uint64
	MemoryWrite8(vaddr uint32, value uint8)
	MemoryWrite16(vaddr uint32, value uint16)
	MemoryWrite32(vaddr uint32, value uint32)
	MemoryWrite64(vaddr uint32, value uint64)

	InterpreterFallback(pc uint32, numInstructions int)
	CallSVC(imm uint32)
	ExceptionRaised(pc uint32, kind int)

	AddTicks(n uint64)
	TicksRemaining() uint64
}

// Config enumerates the user configuration.
type Config struct {
	Callbacks    Callbacks // required
	Coprocessors [16]coproc.Compiler

	// Monitor is shared between instances that execute exclusive
	// operations against the same memory.  A private one is created when
	// nil.
	Monitor     *monitor.Monitor
	ProcessorID int

	// PageTable is accepted but not consulted: memory accesses go through
	// the callbacks, or through fastmem when FastmemPointer is set.
	PageTable uintptr

	// FastmemPointer optionally maps the whole guest address space at a
	// host base address for direct loads and stores.
	FastmemPointer uintptr

	AlwaysLittleEndian  bool
	EnableFastDispatch  bool
	EnableOptimizations bool

	// ArenaSize bounds emitted code; 0 selects the default.
	ArenaSize int

	// BlockBudget bounds guest instructions per block; 0 selects the
	// default.
	BlockBudget int
}

// Jit executes A32 guest code.
type Jit struct {
	core *core.Core
	cfg  Config
}

var ErrNoCallbacks = errors.New("a32: config has no callbacks")

func New(cfg Config) (j *Jit, err error) {
	defer func() {
		if x := recover(); x != nil {
			err = pan.Error(x)
		}
	}()

	if cfg.Callbacks == nil {
		return nil, ErrNoCallbacks
	}
	if cfg.Monitor == nil {
		cfg.Monitor = monitor.New(cfg.ProcessorID + 1)
	}

	adapter := &callbackAdapter{cb: cfg.Callbacks}
	fcfg := &fronta32.Config{
		Code:         adapter,
		Coprocessors: cfg.Coprocessors,
		BlockBudget:  cfg.BlockBudget,
	}

	c := core.New(core.Config{
		Arch:      core.A32,
		Callbacks: adapter,
		Translate: func(d ir.LocationDescriptor) *ir.Block {
			return fronta32.Translate(d, fcfg)
		},
		StepMask:            stepMask,
		Monitor:             cfg.Monitor,
		ProcessorID:         cfg.ProcessorID,
		EnableOptimizations: cfg.EnableOptimizations,
		EnableFastDispatch:  cfg.EnableFastDispatch,
		FastmemPointer:      cfg.FastmemPointer,
		ArenaSize:           cfg.ArenaSize,
	})
	return &Jit{core: c, cfg: cfg}, nil
}

// stepMask is the single-step bit of A32 location descriptors.
const stepMask = 1 << 34

// Run executes guest code until HaltExecution is called or the tick budget
// reported by TicksRemaining is exhausted.
func (j *Jit) Run() { j.core.Run() }

// Step executes exactly one guest instruction.
func (j *Jit) Step() { j.core.Step() }

// Regs exposes the guest general-purpose registers; index 15 is the PC.
func (j *Jit) Regs() *[16]uint32 {
	return &j.core.State().Regs
}

// ExtRegs exposes the guest extension registers.
func (j *Jit) ExtRegs() *[64]uint32 {
	return &j.core.State().ExtRegs
}

// Cpsr returns the current program status register.
func (j *Jit) Cpsr() uint32 {
	s := j.core.State()
	cpsr := s.CpsrNZCV & 0xF0000000
	cpsr |= uint32(s.CpsrQ) << 27
	cpsr |= (s.UpperLoc & 1) << 5 // T
	cpsr |= (s.UpperLoc & 2) << 8 // E
	cpsr |= 0x10                  // User mode
	return cpsr
}

// SetCpsr sets the program status register.  Only the application-level
// bits are honored.
func (j *Jit) SetCpsr(cpsr uint32) {
	s := j.core.State()
	s.CpsrNZCV = cpsr & 0xF0000000
	s.CpsrQ = uint8(cpsr >> 27 & 1)
	s.UpperLoc = s.UpperLoc&^3 | cpsr>>5&1 | cpsr>>8&2
}

// Fpscr returns the floating-point status and control register.
func (j *Jit) Fpscr() uint32 {
	return j.core.State().Fpscr
}

func (j *Jit) SetFpscr(fpscr uint32) {
	s := j.core.State()
	s.Fpscr = fpscr
	// Mirror the mode bits into the location descriptor.
	s.UpperLoc = s.UpperLoc&^(0xFFF<<8) | fpscr&0x07F70000>>16<<8
}

// HaltExecution requests that Run return at the next halt check.  Safe to
// call from another thread.
func (j *Jit) HaltExecution() { j.core.HaltExecution() }

// ClearCache throws away all translated code.
func (j *Jit) ClearCache() { j.core.ClearCache() }

// InvalidateCacheRange throws away translations overlapping the guest
// range.  Required after the host writes to guest code memory.
func (j *Jit) InvalidateCacheRange(start uint32, length uint32) {
	j.core.InvalidateCacheRange(uint64(start), uint64(length))
}

// Close releases the instance's host resources.
func (j *Jit) Close() error { return j.core.Close() }

// callbackAdapter widens the A32 callback addresses to the internal 64-bit
// forms and serves code fetches to the lifter.
type callbackAdapter struct {
	cb Callbacks
}

func (a *callbackAdapter) ReadCode32(vaddr uint32) uint32 {
	return a.cb.MemoryReadCode(vaddr)
}

func (a *callbackAdapter) ReadCode16(vaddr uint32) uint16 {
	return uint16(a.cb.MemoryReadCode(vaddr))
}

func (a *callbackAdapter) MemoryRead8(vaddr uint64) uint8 { return a.cb.MemoryRead8(uint32(vaddr)) }
func (a *callbackAdapter) MemoryRead16(vaddr uint64) uint16 {
	return a.cb.MemoryRead16(uint32(vaddr))
}
func (a *callbackAdapter) MemoryRead32(vaddr uint64) uint32 {
	return a.cb.MemoryRead32(uint32(vaddr))
}
func (a *callbackAdapter) MemoryRead64(vaddr uint64) uint64 {
	return a.cb.MemoryRead64(uint32(vaddr))
}

func (a *callbackAdapter) MemoryWrite8(vaddr uint64, v uint8) {
	a.cb.MemoryWrite8(uint32(vaddr), v)
}
func (a *callbackAdapter) MemoryWrite16(vaddr uint64, v uint16) {
	a.cb.MemoryWrite16(uint32(vaddr), v)
}
func (a *callbackAdapter) MemoryWrite32(vaddr uint64, v uint32) {
	a.cb.MemoryWrite32(uint32(vaddr), v)
}
func (a *callbackAdapter) MemoryWrite64(vaddr uint64, v uint64) {
	a.cb.MemoryWrite64(uint32(vaddr), v)
}

func (a *callbackAdapter) InterpreterFallback(pc uint64, n int) {
	a.cb.InterpreterFallback(uint32(pc), n)
}

func (a *callbackAdapter) CallSVC(imm uint32) { a.cb.CallSVC(imm) }

func (a *callbackAdapter) ExceptionRaised(pc uint64, kind uint32) {
	a.cb.ExceptionRaised(uint32(pc), int(kind))
}

func (a *callbackAdapter) AddTicks(n uint64)      { a.cb.AddTicks(n) }
func (a *callbackAdapter) TicksRemaining() uint64 { return a.cb.TicksRemaining() }
