// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a32

import (
	"armlet.dev/armlet/internal/ir"
)

const defaultBlockBudget = 128

// Translate lifts the basic block starting at the given location into IR.
// The block ends at the first terminal instruction, at a condition-code
// change, or when the instruction budget runs out.
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
	block.PCStart = uint64(loc.PC)

	var endsBefore bool
	for i := 0; ; i++ {
		var (
			cond ir.Condition
			cont bool
		)

		if v.loc.TFlag {
			// Thumb conditions live in branch terminals, so the block
			// condition stays AL.
			half := uint32(cfg.Code.ReadCode16(v.loc.PC))
			v.size = 2
			if m := thumbTable.Decode(half); m != nil {
				cont = m.Fn(v, half)
			} else {
				cont = v.undefined()
			}
		} else {
			word := cfg.Code.ReadCode32(v.loc.PC)
			v.size = 4
			cond = armCond(word)

			if i == 0 {
				block.Cond = cond
			} else if cond != block.Cond {
				// A condition change ends the block before this
				// instruction.
				v.SetTerm(ir.LinkBlock{Next: v.loc.Descriptor()})
				endsBefore = true
				break
			}

			if m := armTable.Decode(word); m != nil {
				cont = m.Fn(v, word)
			} else {
				cont = v.undefined()
			}
		}

		block.CycleCount++

		if !cont {
			break
		}
		if i+1 >= budget {
			next := v.nextLocation()
			v.SetTerm(ir.LinkBlock{Next: next.Descriptor()})
			break
		}
		v.loc = v.nextLocation()
	}

	end := v.nextLocation()
	if endsBefore {
		end = v.loc
	}
	block.PCEnd = uint64(end.PC)
	block.EndLocation = end.Descriptor()
	block.ConditionFailed = end.Descriptor()

	if loc.SingleStep {
		// A single-step block always returns to the dispatcher so the
		// host regains control after one instruction.
		block.Terminal = stepTerminal(block.Terminal)
	}
	return block
}

// armCond extracts the condition field of an A32 instruction.  The 1111
// space is unconditional.
func armCond(word uint32) ir.Condition {
	c := ir.Condition(word >> 28)
	if c == ir.CondNV {
		return ir.CondAL
	}
	return c
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
