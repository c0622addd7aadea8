// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package opt implements the block-local optimization passes.  They run in a
// fixed order and preserve SSA form, pseudo-operation links, and the single
// terminal per block.
package opt

import "armlet.dev/armlet/internal/ir"

// Optimize runs all passes over a block in order.
func Optimize(b *ir.Block) {
	GetSetElimination(b)
	ConstantFolding(b)
	DeadCodeElimination(b)
	ConditionFolding(b)
	b.Compact()
}
