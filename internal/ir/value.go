// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import "fmt"

// Value is an SSA value: either the result of an instruction or an
// immediate.  Values are small and passed by copy.
type Value struct {
	inst *Inst
	typ  Type
	imm  uint64
}

func InstValue(inst *Inst) Value {
	return Value{inst: inst, typ: inst.Op.ResultType()}
}

func Imm1(v bool) Value {
	var x uint64
	if v {
		x = 1
	}
	return Value{typ: U1, imm: x}
}

func Imm8(v uint8) Value   { return Value{typ: U8, imm: uint64(v)} }
func Imm16(v uint16) Value { return Value{typ: U16, imm: uint64(v)} }
func Imm32(v uint32) Value { return Value{typ: U32, imm: uint64(v)} }
func Imm64(v uint64) Value { return Value{typ: U64, imm: v} }

// RegValue identifies a guest register as an opaque immediate operand of the
// register access opcodes.
func RegValue(r int) Value { return Value{typ: Opaque, imm: uint64(r)} }

// CondValue carries an A32 condition code operand.
func CondValue(c Condition) Value { return Value{typ: Cond, imm: uint64(c)} }

// CoprocValue carries packed coprocessor operation info.
func CoprocValue(packed uint64) Value { return Value{typ: CoprocInfo, imm: packed} }

func (v Value) Empty() bool { return v.inst == nil && v.typ == Void }

// Type of the value.  Identity chains do not change a value's type.
func (v Value) Type() Type { return v.typ }

// IsImmediate reports whether the value is a constant, resolving through
// identity instructions produced by the optimizer.
func (v Value) IsImmediate() bool {
	return v.resolve().inst == nil
}

// Inst returns the defining instruction, resolving identity chains.  Nil for
// immediates.
func (v Value) Inst() *Inst {
	return v.resolve().inst
}

// raw returns the defining instruction without resolving identity chains.
// Use counting works on raw references so that replacement keeps the books
// straight.
func (v Value) raw() *Inst { return v.inst }

// resolve skips Identity instructions so that folded values read as their
// replacement.
func (v Value) resolve() Value {
	for v.inst != nil && v.inst.Op == Identity {
		v = v.inst.Args[0]
	}
	return v
}

func (v Value) U1() bool {
	v = v.immOf(U1)
	return v.imm != 0
}

func (v Value) U8() uint8   { return uint8(v.immOf(U8).imm) }
func (v Value) U16() uint16 { return uint16(v.immOf(U16).imm) }
func (v Value) U32() uint32 { return uint32(v.immOf(U32).imm) }
func (v Value) U64() uint64 { return v.immOf(U64).imm }

// Imm returns the raw immediate bits regardless of type.
func (v Value) Imm() uint64 {
	v = v.resolve()
	if v.inst != nil {
		panic("ir: immediate of non-constant value")
	}
	return v.imm
}

// Reg returns the guest register operand.
func (v Value) Reg() int { return int(v.immOf(Opaque).imm) }

// Cond returns the condition code operand.
func (v Value) Cond() Condition { return Condition(v.immOf(Cond).imm) }

func (v Value) immOf(t Type) Value {
	v = v.resolve()
	if v.inst != nil {
		panic(fmt.Sprintf("ir: immediate of non-constant %s value", v.typ))
	}
	if v.typ != t {
		panic(fmt.Sprintf("ir: %s immediate read as %s", v.typ, t))
	}
	return v
}
