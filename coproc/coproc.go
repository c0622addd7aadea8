// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package coproc defines the compile-time contract between the A32 frontend
// and embedder-supplied coprocessors.  Each Compile* call happens during
// translation; the returned action is baked into the block.
package coproc

// Kind of a compiled coprocessor action.
type Kind uint8

const (
	// Unhandled compiles to an in-block coprocessor exception sequence.
	Unhandled Kind = iota
	// Callback compiles to a host call with a user argument.
	Callback
	// Pointer compiles to a direct load/store through a host pointer.
	Pointer
)

// Action is the result of compiling a coprocessor operation.
type Action struct {
	Kind Kind

	// Callback receives the user argument and up to two data words; it
	// returns a result word for get operations.
	Fn  func(arg uint64, a, b uint32) uint64
	Arg uint64

	// Ptr is the host address accessed directly by Pointer actions.
	Ptr uintptr
}

// Compiler is implemented by embedder coprocessors.
type Compiler interface {
	CompileInternalOperation(two bool, opc1 uint32, crd, crn, crm uint32, opc2 uint32) Action
	CompileSendOneWord(two bool, opc1 uint32, crn, crm uint32, opc2 uint32) Action
	CompileSendTwoWords(two bool, opc uint32, crm uint32) Action
	CompileGetOneWord(two bool, opc1 uint32, crn, crm uint32, opc2 uint32) Action
	CompileGetTwoWords(two bool, opc uint32, crm uint32) Action
	CompileLoadWords(two bool, long bool, crd uint32) Action
	CompileStoreWords(two bool, long bool, crd uint32) Action
}
