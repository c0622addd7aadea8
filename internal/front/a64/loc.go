// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package a64 lifts A64 guest instructions into IR blocks.
package a64

import (
	"fmt"

	"armlet.dev/armlet/internal/ir"
)

// FPCR bits that affect code generation.
const fpcrModeMask = 0x07C80000

// Location is the A64 view of a location descriptor.  The PC occupies the
// low 54 bits, the FPCR mode bits and
// the single-step flag occupy the rest.
type Location struct {
	PC         uint64
	FPCR       uint32
	SingleStep bool
}

const (
	pcBits  = 54
	pcMask  = 1<<pcBits - 1
	bitStep = 62
)

func (l Location) Descriptor() ir.LocationDescriptor {
	v := l.PC & pcMask
	v |= uint64(fpcrCompact(l.FPCR)) << pcBits
	if l.SingleStep {
		v |= 1 << bitStep
	}
	return ir.LocationDescriptor(v)
}

func FromDescriptor(d ir.LocationDescriptor) Location {
	v := d.Value()
	// Sign-extend the PC from its storage width.
	pc := uint64(int64(v<<(64-pcBits)) >> (64 - pcBits))
	return Location{
		PC:         pc,
		FPCR:       fpcrExpand(uint32(v >> pcBits & 0xFF)),
		SingleStep: v>>bitStep&1 != 0,
	}
}

// fpcrCompact squeezes the mode bits into 8 bits of descriptor space.
func fpcrCompact(fpcr uint32) uint32 {
	return fpcr & fpcrModeMask >> 19
}

func fpcrExpand(c uint32) uint32 {
	return c << 19 & fpcrModeMask
}

func (l Location) WithPC(pc uint64) Location {
	l.PC = pc
	return l
}

func (l Location) String() string {
	step := ""
	if l.SingleStep {
		step = ", step"
	}
	return fmt.Sprintf("{%d, %d%s}", l.PC, l.FPCR, step)
}
