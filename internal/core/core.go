// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package core drives the translation pipeline: it owns the arena, the
// block cache, the dispatcher, and the run loop shared by the A32 and A64
// facades.
package core

import (
	"errors"

	"github.com/klauspost/cpuid/v2"

	"armlet.dev/armlet/internal/pan"

	"armlet.dev/armlet/internal/cache"
	"armlet.dev/armlet/internal/code"
	"armlet.dev/armlet/internal/hostbridge"
	"armlet.dev/armlet/internal/ir"
	"armlet.dev/armlet/internal/isa/x64"
	"armlet.dev/armlet/internal/jitstate"
	"armlet.dev/armlet/internal/opt"
	"armlet.dev/armlet/monitor"
)

// Arch selects the guest frontend flavor the core is serving.
type Arch uint8

const (
	A32 Arch = iota
	A64
)

// Config is assembled by the public facades.
type Config struct {
	Arch      Arch
	Callbacks hostbridge.Callbacks

	// Translate lifts the block at a location.  Supplied by the frontend.
	Translate func(ir.LocationDescriptor) *ir.Block

	// StepMask is the single-step bit in this arch's descriptors.
	StepMask uint64

	Monitor             *monitor.Monitor
	ProcessorID         int
	EnableOptimizations bool
	EnableFastDispatch  bool
	FastmemPointer      uintptr
	ArenaSize           int
}

// Core is one JIT instance.
type Core struct {
	cfg   Config
	state *jitstate.State
	info  jitstate.Info

	arena   *code.Arena
	text    code.Buf
	emitter x64.Emitter
	patcher x64.Patcher
	rt      x64.Runtime

	blocks    *cache.BlockCache
	fastTable *cache.FastDispatchTable
	patches   *x64.PatchSet
	fastmem   *x64.FastmemState
	coprocs   *x64.CoprocRegistry

	dispatcherEnd int
	segvSlot      int
}

var ErrSegvHandler = errors.New("core: failed to install fastmem fault handler")

// New builds a JIT instance.  The emitter's opcode coverage is verified
// here, making a missing emission routine a construction-time failure.
// Resource failures panic through the pan zone and surface as errors from
// the public constructors.
func New(cfg Config) *Core {
	x64.VerifyCoverage()

	arena, err := code.NewArena(cfg.ArenaSize)
	pan.Check(err)

	c := &Core{
		cfg:      cfg,
		state:    new(jitstate.State),
		info:     jitstate.CaptureInfo(),
		arena:    arena,
		blocks:   cache.New(),
		patches:  x64.NewPatchSet(),
		coprocs:  new(x64.CoprocRegistry),
		segvSlot: -1,
	}
	c.state.ResetRSB()
	c.text = code.Buf{Buffer: arena}

	feat := x64.Features{
		AESNI: cpuid.CPU.Supports(cpuid.AESNI),
		LZCNT: cpuid.CPU.Supports(cpuid.LZCNT),
		CRC32: cpuid.CPU.Supports(cpuid.SSE42),
	}

	opts := x64.RunCodeOptions{
		A64Mode:  cfg.Arch == A64,
		LookupFn: hostbridge.Funcs().LookupBlock,
	}
	if cfg.EnableFastDispatch && feat.CRC32 {
		c.fastTable = cache.NewFastDispatchTable(0)
		opts.FastDispatchBase = c.fastTable.Base()
		opts.FastDispatchMask = c.fastTable.Mask()
	}
	if cfg.FastmemPointer != 0 {
		opts.FastmemBase = cfg.FastmemPointer
		c.fastmem = x64.NewFastmemState()
	}

	arena.EnableWriting()
	c.rt = x64.GenRunCode(&c.text, &c.info, opts)
	arena.DisableWriting()
	c.dispatcherEnd = arena.Used()

	c.patcher = x64.Patcher{
		Arena:   arena,
		Info:    &c.info,
		Rt:      &c.rt,
		A64Mode: cfg.Arch == A64,
	}

	c.emitter = x64.Emitter{
		Text:      &c.text,
		RA:        x64.NewRegAlloc(&c.text, &c.info),
		Info:      &c.info,
		Host:      funcsPtr(),
		Feat:      feat,
		Patch:     c.patches,
		Coproc:    c.coprocs,
		Rt:        &c.rt,
		A64Mode:   cfg.Arch == A64,
		Fastmem:   c.fastmem,
		ArenaBase: arena.Base(),
		Lookup: func(d ir.LocationDescriptor) (int32, bool) {
			bd, ok := c.blocks.Get(d)
			return bd.Entry, ok
		},
	}

	hostbridge.Register(c.StatePtr(), &hostbridge.Instance{
		Callbacks:   cfg.Callbacks,
		Monitor:     cfg.Monitor,
		ProcessorID: cfg.ProcessorID,
		Coproc:      c.coprocs,
		Lookup:      c.lookupCurrent,
	})

	if c.fastmem != nil {
		if !hostbridge.InstallSegvHandler() {
			c.Close()
			pan.Panic(ErrSegvHandler)
		}
		c.segvSlot = hostbridge.AddSegvRegion(
			arena.Base(), arena.Base()+uintptr(arena.Size()),
			arena.Addr(c.rt.ReturnHost))
	}
	return c
}

var hostFuncs x64.HostFuncs

func funcsPtr() *x64.HostFuncs {
	if hostFuncs.Read8 == 0 {
		hostFuncs = hostbridge.Funcs()
	}
	return &hostFuncs
}

// State exposes the architectural state to the facades.
func (c *Core) State() *jitstate.State { return c.state }

func (c *Core) StatePtr() uintptr {
	return uintptr(statePointer(c.state))
}

func (c *Core) currentDescriptor() ir.LocationDescriptor {
	if c.cfg.Arch == A64 {
		return ir.LocationDescriptor(c.state.Descriptor64())
	}
	return ir.LocationDescriptor(c.state.Descriptor())
}

func (c *Core) lookupCurrent() uintptr {
	bd, ok := c.blocks.Get(c.currentDescriptor())
	if !ok {
		return 0
	}
	return c.arena.Addr(bd.Entry)
}

// ensure compiles the block for a descriptor if it is not cached, links
// waiting patch sites, and returns the entry offset.
func (c *Core) ensure(desc ir.LocationDescriptor) int32 {
	if bd, ok := c.blocks.Get(desc); ok {
		return bd.Entry
	}

	block := c.cfg.Translate(desc)
	if c.cfg.EnableOptimizations {
		opt.Optimize(block)
	} else {
		block.Compact()
	}

	c.arena.EnableWriting()
	entry := c.emitter.EmitBlock(block, desc.Value()&c.cfg.StepMask != 0)
	size := c.text.Addr - entry
	c.blocks.Put(desc, cache.BlockDescriptor{Entry: entry, Size: size}, block.PCStart, block.PCEnd)
	c.patcher.Link(desc, entry, c.patches.For(desc))
	c.arena.DisableWriting()
	return entry
}

// Run executes guest code until the cycle budget runs out or a halt is
// requested.
func (c *Core) Run() {
	budget := c.cfg.Callbacks.TicksRemaining()
	c.state.CyclesToRun = int64(budget)
	c.state.CyclesRemaining = int64(budget)

	for {
		entry := c.ensure(c.currentDescriptor())
		hostbridge.Run(c.arena.Addr(c.rt.RunCode), c.StatePtr(), c.arena.Addr(entry))

		if c.handleFastmemFault() {
			continue
		}
		if c.state.Halt != 0 {
			c.state.Halt = 0
			break
		}
		if c.state.CyclesRemaining <= 0 {
			break
		}
		// Dispatcher miss: the loop compiles the new location.
	}

	c.cfg.Callbacks.AddTicks(uint64(c.state.CyclesToRun - c.state.CyclesRemaining))
}

// Step executes a single guest instruction.
func (c *Core) Step() {
	desc := ir.LocationDescriptor(c.currentDescriptor().Value() | c.cfg.StepMask)

	c.state.CyclesToRun = 1
	c.state.CyclesRemaining = 1

	for {
		entry := c.ensure(desc)
		hostbridge.Run(c.arena.Addr(c.rt.RunCode), c.StatePtr(), c.arena.Addr(entry))
		if c.handleFastmemFault() {
			continue
		}
		break
	}
	c.state.Halt = 0
	c.cfg.Callbacks.AddTicks(1)
}

// handleFastmemFault demotes a faulted fastmem site and invalidates the
// containing block so it recompiles without the direct access.
func (c *Core) handleFastmemFault() bool {
	if c.fastmem == nil {
		return false
	}
	off := hostbridge.TakeFault()
	if off < 0 {
		return false
	}
	key, ok := c.fastmem.Demote(int32(off))
	if !ok {
		// Fault in emitted code outside any fastmem site: fatal.
		panic("core: segfault in emitted code outside fastmem site")
	}
	c.invalidateDescriptor(key.Location)
	return true
}

// HaltExecution requests return to the host at the next halt check.
func (c *Core) HaltExecution() {
	c.state.Halt = 1
}

// InvalidateCacheRange throws away translations derived from the guest
// address range.
func (c *Core) InvalidateCacheRange(start, length uint64) {
	removed := c.blocks.InvalidateRanges([]cache.Range{{Start: start, End: start + length}})
	if len(removed) == 0 {
		return
	}
	c.arena.EnableWriting()
	for _, inv := range removed {
		c.unpatch(inv.Desc, inv.Block)
	}
	c.arena.DisableWriting()
}

func (c *Core) invalidateDescriptor(desc ir.LocationDescriptor) {
	bd, ok := c.blocks.Remove(desc)
	if !ok {
		return
	}
	c.arena.EnableWriting()
	c.unpatch(desc, bd)
	c.arena.DisableWriting()
}

// unpatch restores every direct jump into the dead block and clears its
// hint entries.  The code bytes themselves are reclaimed only by
// ClearCache.
func (c *Core) unpatch(desc ir.LocationDescriptor, bd cache.BlockDescriptor) {
	c.patcher.Unlink(c.patches.For(desc))
	c.patches.DropRange(bd.Entry, bd.Entry+bd.Size)
	if c.fastTable != nil {
		c.fastTable.ClearDesc(desc)
	}
	if c.fastmem != nil {
		c.fastmem.DropBlockSites(desc)
	}
}

// ClearCache drops every translation and reclaims the arena, keeping the
// dispatcher.
func (c *Core) ClearCache() {
	c.blocks.Clear()
	c.patches.Reset()
	c.coprocs.Reset()
	if c.fastTable != nil {
		c.fastTable.Clear()
	}
	if c.fastmem != nil {
		*c.fastmem = *x64.NewFastmemState()
	}
	c.state.ResetRSB()
	c.arena.Reset(c.dispatcherEnd)
	c.text.Addr = int32(c.dispatcherEnd)
}

// Close releases host resources.
func (c *Core) Close() error {
	hostbridge.Unregister(c.StatePtr())
	if c.segvSlot >= 0 {
		hostbridge.RemoveSegvRegion(c.segvSlot)
	}
	return c.arena.Close()
}
