// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jitstate defines the per-CPU guest state block shared between the
// host and emitted code.  Its byte layout is ABI: emitted instructions
// address fields through the offsets captured in Info, never through Go
// field accesses.
package jitstate

import "unsafe"

const (
	// RSBSize is the return stack buffer capacity.  Power of two.
	RSBSize    = 8
	RSBPtrMask = RSBSize - 1

	// SpillCount is the number of register allocator spill slots.
	SpillCount = 64
)

// State holds the architectural state of one guest CPU plus host scratch.
// A32 guests use Regs/ExtRegs/Cpsr*/Fpscr, A64 guests use X/PC/Fpcr; the
// flag fields are shared.
type State struct {
	Regs    [16]uint32 // A32 general-purpose registers, PC at index 15
	ExtRegs [64]uint32 // A32 extension registers

	CpsrNZCV uint32 // guest flag layout: N..V in bits 31..28
	CpsrQ    uint8  // sticky saturation flag, 0 or 1
	Halt     uint8  // halt requested
	CheckBit uint8
	_        uint8

	UpperLoc uint32 // upper half of the current location descriptor
	Fpscr    uint32

	X    [32]uint64 // A64 general-purpose registers, SP at index 31
	PC   uint64
	Fpcr uint32

	SaveHostMXCSR uint32
	GuestMXCSR    uint32
	_             uint32

	CyclesToRun     int64
	CyclesRemaining int64

	RsbPtr       uint64
	RsbLocations [RSBSize]uint64
	RsbCodeptrs  [RSBSize]uint64

	Spill [SpillCount]uint64
}

// Info carries the field offsets used as displacement immediates by emitted
// code.  Captured once at construction.
type Info struct {
	OffRegs            int32
	OffExtRegs         int32
	OffNZCV            int32
	OffQ               int32
	OffHalt            int32
	OffCheckBit        int32
	OffUpperLoc        int32
	OffFpscr           int32
	OffX               int32
	OffPC              int32
	OffFpcr            int32
	OffSaveHostMXCSR   int32
	OffGuestMXCSR      int32
	OffCyclesToRun     int32
	OffCyclesRemaining int32
	OffRsbPtr          int32
	OffRsbLocations    int32
	OffRsbCodeptrs     int32
	OffSpill           int32

	RSBMask uint64
}

func CaptureInfo() Info {
	var s State
	return Info{
		OffRegs:            int32(unsafe.Offsetof(s.Regs)),
		OffExtRegs:         int32(unsafe.Offsetof(s.ExtRegs)),
		OffNZCV:            int32(unsafe.Offsetof(s.CpsrNZCV)),
		OffQ:               int32(unsafe.Offsetof(s.CpsrQ)),
		OffHalt:            int32(unsafe.Offsetof(s.Halt)),
		OffCheckBit:        int32(unsafe.Offsetof(s.CheckBit)),
		OffUpperLoc:        int32(unsafe.Offsetof(s.UpperLoc)),
		OffFpscr:           int32(unsafe.Offsetof(s.Fpscr)),
		OffX:               int32(unsafe.Offsetof(s.X)),
		OffPC:              int32(unsafe.Offsetof(s.PC)),
		OffFpcr:            int32(unsafe.Offsetof(s.Fpcr)),
		OffSaveHostMXCSR:   int32(unsafe.Offsetof(s.SaveHostMXCSR)),
		OffGuestMXCSR:      int32(unsafe.Offsetof(s.GuestMXCSR)),
		OffCyclesToRun:     int32(unsafe.Offsetof(s.CyclesToRun)),
		OffCyclesRemaining: int32(unsafe.Offsetof(s.CyclesRemaining)),
		OffRsbPtr:          int32(unsafe.Offsetof(s.RsbPtr)),
		OffRsbLocations:    int32(unsafe.Offsetof(s.RsbLocations)),
		OffRsbCodeptrs:     int32(unsafe.Offsetof(s.RsbCodeptrs)),
		OffSpill:           int32(unsafe.Offsetof(s.Spill)),
		RSBMask:            RSBPtrMask,
	}
}

// SpillOffset returns the displacement of spill slot i.
func (info *Info) SpillOffset(i int) int32 {
	return info.OffSpill + int32(i)*8
}

// RegOffset returns the displacement of A32 register r.
func (info *Info) RegOffset(r int) int32 {
	return info.OffRegs + int32(r)*4
}

// XOffset returns the displacement of A64 register r.
func (info *Info) XOffset(r int) int32 {
	return info.OffX + int32(r)*8
}

// Descriptor rebuilds the current A32 location descriptor from the state.
func (s *State) Descriptor() uint64 {
	return uint64(s.Regs[15]) | uint64(s.UpperLoc)<<32
}

// Descriptor64 rebuilds the current A64 location descriptor: PC in the low
// 54 bits, mode bits above.
func (s *State) Descriptor64() uint64 {
	return s.PC&(1<<54-1) | uint64(s.UpperLoc)<<54
}

// ResetRSB fills the return stack buffer with never-matching entries.
func (s *State) ResetRSB() {
	for i := range s.RsbLocations {
		s.RsbLocations[i] = ^uint64(0)
		s.RsbCodeptrs[i] = 0
	}
}
