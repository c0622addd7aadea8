// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reg names host registers.  The numbering is the hardware encoding
// of the active ISA backend.
package reg

// R is a physical register number.
type R uint8

// x86-64 general-purpose registers.
const (
	RAX R = 0
	RCX R = 1
	RDX R = 2
	RBX R = 3
	RSP R = 4
	RBP R = 5
	RSI R = 6
	RDI R = 7
	R8  R = 8
	R9  R = 9
	R10 R = 10
	R11 R = 11
	R12 R = 12
	R13 R = 13
	R14 R = 14
	R15 R = 15
)

// XMM registers share the numbering space in a separate category.
const (
	XMM0 R = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
)

// Category separates the two register files.
type Category uint8

const (
	GPR Category = iota
	FPR
)
