// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import "armlet.dev/armlet/internal/ir"

// DeadCodeElimination removes instructions whose results are unused and
// which have no observable side effect.  The reverse sweep lets a dead
// chain collapse in one pass: erasing a user releases its arguments, which
// then qualify on the same walk.
func DeadCodeElimination(b *ir.Block) {
	for i := len(b.Insts) - 1; i >= 0; i-- {
		inst := b.Insts[i]
		if inst.Op == ir.Invalid {
			continue
		}
		if inst.Op != ir.Identity && inst.Op.SideEffecting() {
			continue
		}
		if inst.Uses() > 0 || inst.HasPseudos() {
			continue
		}
		inst.Erase()
	}
}
