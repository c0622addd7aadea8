// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package armlet documents a dynamic binary translator for ARM guests.

Guest A32/Thumb and A64 machine code is just-in-time compiled into native
x86-64 host code, basic block by basic block.  The embedder supplies memory,
coprocessor, and exception callbacks and drives execution through the a32
and a64 packages; translated code lives in an in-memory code cache that is
invalidated when guest code memory changes.

The pipeline: a table-driven decoder matches instruction words, a lifter
turns them into a typed SSA microinstruction representation, block-local
optimization passes clean that up, and the x86-64 backend lowers it into a
writable-then-executable arena with a hand-generated dispatcher, return
stack buffer, and fast dispatch table predicting block transitions.

See the a32, a64, coproc and monitor packages for the public interfaces.
*/
package armlet
