// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import (
	"fmt"

	"armlet.dev/armlet/internal/ir"
)

// Verify checks block invariants: arguments refer to previously defined
// instructions of the same block, pseudo links are intact and unique, and
// the block has exactly one terminal.  Used by tests and debug builds;
// violations are translator bugs and panic.
func Verify(b *ir.Block) {
	if b.Terminal == nil {
		panic("opt: block without terminal")
	}

	defined := make(map[*ir.Inst]bool, len(b.Insts))
	for _, inst := range b.Insts {
		if inst.Op == ir.Invalid {
			continue
		}
		for i := 0; i < inst.NumArgs(); i++ {
			if arg := inst.Args[i].Inst(); arg != nil && !defined[arg] {
				panic(fmt.Sprintf("opt: %s argument %d not defined before use", inst.Op, i))
			}
		}
		if inst.Op.Pseudo() {
			if p := inst.Args[0].Inst(); p != nil && p.Pseudo(inst.Op) != inst {
				panic(fmt.Sprintf("opt: %s pseudo link broken", inst.Op))
			}
		}
		defined[inst] = true
	}
}
