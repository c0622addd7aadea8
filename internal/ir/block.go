// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import "armlet.dev/armlet/coproc"

// Block is a translated contiguous range of guest instructions.  The
// instruction list is in program order; erased instructions remain in the
// slice as Invalid and are skipped by consumers.
type Block struct {
	Location    LocationDescriptor
	EndLocation LocationDescriptor

	// Guest address range covered by the block, for invalidation.
	PCStart uint64
	PCEnd   uint64

	// Block-level A32 condition.  CondAL for unconditional blocks and for
	// A64 blocks.  ConditionFailed is where execution resumes if the
	// condition fails.
	Cond            Condition
	ConditionFailed LocationDescriptor

	Insts      []*Inst
	Terminal   Terminal
	CycleCount uint64

	// Coprocessor actions resolved at lift time, referenced by index from
	// CoprocInfo operands.
	CoprocActions []coproc.Action
}

// AddCoprocAction records an action and returns its operand value.
func (b *Block) AddCoprocAction(a coproc.Action) Value {
	b.CoprocActions = append(b.CoprocActions, a)
	return CoprocValue(uint64(len(b.CoprocActions) - 1))
}

func NewBlock(loc LocationDescriptor) *Block {
	return &Block{
		Location: loc,
		Cond:     CondAL,
	}
}

// Append creates an instruction, claims uses of its arguments, and appends
// it to the block.
func (b *Block) Append(op Opcode, args ...Value) *Inst {
	if len(args) != op.NumArgs() {
		panic("ir: " + op.String() + ": argument count mismatch")
	}
	inst := &Inst{Op: op}
	for i, a := range args {
		inst.Args[i] = a
		if x := a.raw(); x != nil {
			x.use()
		}
	}
	if op.Pseudo() {
		if p := args[0].raw(); p != nil {
			p.attachPseudo(inst)
		}
	}
	b.Insts = append(b.Insts, inst)
	return inst
}

// HasSideEffects reports whether any live instruction in the block has an
// observable side effect.
func (b *Block) HasSideEffects() bool {
	for _, inst := range b.Insts {
		if inst.Op.SideEffecting() {
			return true
		}
	}
	return false
}

// Compact drops erased instructions from the list.
func (b *Block) Compact() {
	live := b.Insts[:0]
	for _, inst := range b.Insts {
		if inst.Op != Invalid {
			live = append(live, inst)
		}
	}
	b.Insts = live
}
