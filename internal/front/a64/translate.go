// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a64

import (
	"armlet.dev/armlet/internal/ir"
)

const defaultBlockBudget = 128

// Translate lifts the basic block starting at the given location into IR.
func Translate(d ir.LocationDescriptor, cfg *Config) *ir.Block {
	loc := FromDescriptor(d)
	block := ir.NewBlock(d)

	budget := cfg.BlockBudget
	if budget <= 0 {
		budget = defaultBlockBudget
	}
	if loc.SingleStep {
		budget = 1
	}

	v := &visitor{cfg: cfg, loc: loc}
	v.Emitter.Block = block
	block.PCStart = loc.PC

	for i := 0; ; i++ {
		word := cfg.Code.ReadCode32(v.loc.PC)

		var cont bool
		if m := table.Decode(word); m != nil {
			cont = m.Fn(v, word)
		} else {
			cont = v.undefined()
		}

		block.CycleCount++

		if !cont {
			break
		}
		if i+1 >= budget {
			v.SetTerm(ir.LinkBlock{Next: v.nextLocation().Descriptor()})
			break
		}
		v.loc = v.nextLocation()
	}

	end := v.nextLocation()
	block.PCEnd = end.PC
	block.EndLocation = end.Descriptor()
	block.ConditionFailed = end.Descriptor()

	if loc.SingleStep {
		block.Terminal = stepTerminal(block.Terminal)
	}
	return block
}

// stepTerminal rewrites link terminals so a single-step block cannot chain
// into the next block.
func stepTerminal(t ir.Terminal) ir.Terminal {
	switch tt := t.(type) {
	case ir.LinkBlock:
		return ir.ReturnToDispatchWithPC{Next: tt.Next}
	case ir.LinkBlockFast:
		return ir.ReturnToDispatchWithPC{Next: tt.Next}
	case ir.PopRSBHint, ir.FastDispatchHint:
		return ir.ReturnToDispatch{}
	case ir.If:
		return ir.If{Cond: tt.Cond, Then: stepTerminal(tt.Then), Else: stepTerminal(tt.Else)}
	case ir.CheckBit:
		return ir.CheckBit{Then: stepTerminal(tt.Then), Else: stepTerminal(tt.Else)}
	case ir.CheckHalt:
		return ir.CheckHalt{Else: stepTerminal(tt.Else)}
	default:
		return t
	}
}
