// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import "armlet.dev/armlet/internal/ir"

// ConditionFolding turns a conditional block without side effects into an
// unconditional one with an If terminal, saving the prelude branch the
// backend would otherwise emit.
func ConditionFolding(b *ir.Block) {
	if b.Cond == ir.CondAL {
		return
	}
	if b.HasSideEffects() {
		return
	}
	b.Terminal = ir.If{
		Cond: b.Cond,
		Then: b.Terminal,
		Else: ir.LinkBlock{Next: b.ConditionFailed},
	}
	b.Cond = ir.CondAL
}
