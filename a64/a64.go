// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package a64 is the public interface for executing A64 guest code.
package a64

import (
	"errors"

	"armlet.dev/armlet/internal/core"
	fronta64 "armlet.dev/armlet/internal/front/a64"
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/pan"
	"armlet.dev/armlet/monitor"
)

// Exception kinds passed to ExceptionRaised.
const (
	ExceptionUndefined     = fronta64.ExceptionUndefined
	ExceptionUnpredictable = fronta64.ExceptionUnpredictable
	ExceptionBreakpoint    = fronta64.ExceptionBreakpoint
)

// Callbacks is the embedder contract.
type Callbacks interface {
	MemoryReadCode(vaddr uint64) uint32

	MemoryRead8(vaddr uint64) uint8
	MemoryRead16(vaddr uint64) uint16
	MemoryRead32(vaddr uint64) uint32
	MemoryRead64(vaddr uint64) uint64
	MemoryWrite8(vaddr uint64, value uint8)
	MemoryWrite16(vaddr uint64, value uint16)
	MemoryWrite32(vaddr uint64, value uint32)
	MemoryWrite64(vaddr uint64, value uint64)

	InterpreterFallback(pc uint64, numInstructions int)
	CallSVC(imm uint32)
	ExceptionRaised(pc uint64, kind int)

	AddTicks(n uint64)
	TicksRemaining() uint64
}

// Config enumerates the user configuration.
type Config struct {
	Callbacks Callbacks // required

	Monitor     *monitor.Monitor
	ProcessorID int

	FastmemPointer      uintptr
	EnableFastDispatch  bool
	EnableOptimizations bool
	ArenaSize           int
	BlockBudget         int
}

// Jit executes A64 guest code.
type Jit struct {
	core *core.Core
	cfg  Config
}

var ErrNoCallbacks = errors.New("a64: config has no callbacks")

// stepMask is the single-step bit of A64 location descriptors.
const stepMask = 1 << 62

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
	fcfg := &fronta64.Config{
		Code:        adapter,
		BlockBudget: cfg.BlockBudget,
	}

	c := core.New(core.Config{
		Arch:      core.A64,
		Callbacks: adapter,
		Translate: func(d ir.LocationDescriptor) *ir.Block {
			return fronta64.Translate(d, fcfg)
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

// Run executes guest code until HaltExecution is called or the tick budget
// is exhausted.
func (j *Jit) Run() { j.core.Run() }

// Step executes exactly one guest instruction.
func (j *Jit) Step() { j.core.Step() }

// Regs exposes the guest X registers; index 31 is the stack pointer.
func (j *Jit) Regs() *[32]uint64 {
	return &j.core.State().X
}

// PC returns the guest program counter.
func (j *Jit) PC() uint64 { return j.core.State().PC }

func (j *Jit) SetPC(pc uint64) { j.core.State().PC = pc }

// SP returns the guest stack pointer.
func (j *Jit) SP() uint64 { return j.core.State().X[31] }

func (j *Jit) SetSP(sp uint64) { j.core.State().X[31] = sp }

// Pstate returns the NZCV flags in their architectural positions.
func (j *Jit) Pstate() uint32 {
	return j.core.State().CpsrNZCV
}

func (j *Jit) SetPstate(nzcv uint32) {
	j.core.State().CpsrNZCV = nzcv & 0xF0000000
}

// Fpcr returns the floating-point control register.
func (j *Jit) Fpcr() uint32 { return j.core.State().Fpcr }

func (j *Jit) SetFpcr(fpcr uint32) {
	s := j.core.State()
	s.Fpcr = fpcr
	s.UpperLoc = s.UpperLoc&^0xFF | fpcr&0x07C80000>>19
}

// HaltExecution requests that Run return at the next halt check.
func (j *Jit) HaltExecution() { j.core.HaltExecution() }

// ClearCache throws away all translated code.
func (j *Jit) ClearCache() { j.core.ClearCache() }

// InvalidateCacheRange throws away translations overlapping the guest
// range.
func (j *Jit) InvalidateCacheRange(start, length uint64) {
	j.core.InvalidateCacheRange(start, length)
}

// Close releases the instance's host resources.
func (j *Jit) Close() error { return j.core.Close() }

type callbackAdapter struct {
	cb Callbacks
}

func (a *callbackAdapter) ReadCode32(vaddr uint64) uint32 {
	return a.cb.MemoryReadCode(vaddr)
}

func (a *callbackAdapter) MemoryRead8(vaddr uint64) uint8   { return a.cb.MemoryRead8(vaddr) }
func (a *callbackAdapter) MemoryRead16(vaddr uint64) uint16 { return a.cb.MemoryRead16(vaddr) }
func (a *callbackAdapter) MemoryRead32(vaddr uint64) uint32 { return a.cb.MemoryRead32(vaddr) }
func (a *callbackAdapter) MemoryRead64(vaddr uint64) uint64 { return a.cb.MemoryRead64(vaddr) }

func (a *callbackAdapter) MemoryWrite8(vaddr uint64, v uint8)   { a.cb.MemoryWrite8(vaddr, v) }
func (a *callbackAdapter) MemoryWrite16(vaddr uint64, v uint16) { a.cb.MemoryWrite16(vaddr, v) }
func (a *callbackAdapter) MemoryWrite32(vaddr uint64, v uint32) { a.cb.MemoryWrite32(vaddr, v) }
func (a *callbackAdapter) MemoryWrite64(vaddr uint64, v uint64) { a.cb.MemoryWrite64(vaddr, v) }

func (a *callbackAdapter) InterpreterFallback(pc uint64, n int) {
	a.cb.InterpreterFallback(pc, n)
}

func (a *callbackAdapter) CallSVC(imm uint32) { a.cb.CallSVC(imm) }

func (a *callbackAdapter) ExceptionRaised(pc uint64, kind uint32) {
	a.cb.ExceptionRaised(pc, int(kind))
}

func (a *callbackAdapter) AddTicks(n uint64)      { a.cb.AddTicks(n) }
func (a *callbackAdapter) TicksRemaining() uint64 { return a.cb.TicksRemaining() }
