// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package a32 lifts A32 and Thumb guest instructions into IR blocks.
package a32

import (
	"fmt"

	"armlet.dev/armlet/internal/ir"
)

// FPSCR bits that change code generation (rounding mode, flush-to-zero,
// default NaN, vector length/stride).
const fpscrModeMask = 0x07F70000

// Location is the A32 view of a location descriptor: the program counter
// plus every architectural bit that affects code generation.
type Location struct {
	PC         uint32
	TFlag      bool // Thumb state
	EFlag      bool // big-endian data
	FPSCR      uint32
	SingleStep bool
}

// Descriptor bit layout: PC in the low word, mode bits above it, FPSCR mode
// bits in the top bits.  The layout is private to this package; everything
// else treats the result as opaque.
const (
	bitT    = 32
	bitE    = 33
	bitStep = 34
	fpscrSh = 40
)

func (l Location) Descriptor() ir.LocationDescriptor {
	v := uint64(l.PC)
	if l.TFlag {
		v |= 1 << bitT
	}
	if l.EFlag {
		v |= 1 << bitE
	}
	if l.SingleStep {
		v |= 1 << bitStep
	}
	v |= uint64(l.FPSCR&fpscrModeMask) >> 16 << fpscrSh
	return ir.LocationDescriptor(v)
}

func FromDescriptor(d ir.LocationDescriptor) Location {
	v := d.Value()
	return Location{
		PC:         uint32(v),
		TFlag:      v>>bitT&1 != 0,
		EFlag:      v>>bitE&1 != 0,
		SingleStep: v>>bitStep&1 != 0,
		FPSCR:      uint32(v>>fpscrSh<<16) & fpscrModeMask,
	}
}

func (l Location) WithPC(pc uint32) Location {
	l.PC = pc
	return l
}

func (l Location) WithTFlag(t bool) Location {
	l.TFlag = t
	return l
}

func (l Location) String() string {
	t, e := "!T", "!E"
	if l.TFlag {
		t = "T"
	}
	if l.EFlag {
		e = "E"
	}
	step := ""
	if l.SingleStep {
		step = ",step"
	}
	return fmt.Sprintf("{%08x,%s,%s,%08x%s}", l.PC, t, e, l.FPSCR, step)
}
