// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

// Emitter builds a block's instruction list.  Frontend lifters embed it and
// call these helpers; each helper appends one instruction and returns its
// result value.
type Emitter struct {
	Block *Block
}

func (e *Emitter) Inst(op Opcode, args ...Value) Value {
	return InstValue(e.Block.Append(op, args...))
}

func (e *Emitter) Void(op Opcode, args ...Value) {
	e.Block.Append(op, args...)
}

// CarryFrom attaches a carry companion to the producer of v.
func (e *Emitter) CarryFrom(v Value) Value {
	return e.Inst(GetCarryFromOp, v)
}

// OverflowFrom attaches an overflow companion to the producer of v.
func (e *Emitter) OverflowFrom(v Value) Value {
	return e.Inst(GetOverflowFromOp, v)
}

func (e *Emitter) GetRegister(r int) Value      { return e.Inst(GetRegister, RegValue(r)) }
func (e *Emitter) SetRegister(r int, v Value)   { e.Void(SetRegister, RegValue(r), v) }
func (e *Emitter) GetRegister64(r int) Value    { return e.Inst(GetRegister64, RegValue(r)) }
func (e *Emitter) SetRegister64(r int, v Value) { e.Void(SetRegister64, RegValue(r), v) }

func (e *Emitter) GetNFlag() Value     { return e.Inst(GetNFlag) }
func (e *Emitter) SetNFlag(v Value)    { e.Void(SetNFlag, v) }
func (e *Emitter) GetZFlag() Value     { return e.Inst(GetZFlag) }
func (e *Emitter) SetZFlag(v Value)    { e.Void(SetZFlag, v) }
func (e *Emitter) GetCFlag() Value     { return e.Inst(GetCFlag) }
func (e *Emitter) SetCFlag(v Value)    { e.Void(SetCFlag, v) }
func (e *Emitter) GetVFlag() Value     { return e.Inst(GetVFlag) }
func (e *Emitter) SetVFlag(v Value)    { e.Void(SetVFlag, v) }
func (e *Emitter) OrQFlag(v Value)     { e.Void(OrQFlag, v) }
func (e *Emitter) SetCheckBit(v Value) { e.Void(SetCheckBit, v) }

// SetNZFlags derives and assigns the N and Z flags from a 32-bit result.
func (e *Emitter) SetNZFlags(result Value) {
	e.SetNFlag(e.Inst(MostSignificantBit, result))
	e.SetZFlag(e.Inst(IsZero32, result))
}

func (e *Emitter) Add(a, b, carry Value) Value { return e.Inst(Add32, a, b, carry) }
func (e *Emitter) Sub(a, b, carry Value) Value { return e.Inst(Sub32, a, b, carry) }
func (e *Emitter) Mul(a, b Value) Value        { return e.Inst(Mul32, a, b) }
func (e *Emitter) And(a, b Value) Value        { return e.Inst(And32, a, b) }
func (e *Emitter) Eor(a, b Value) Value        { return e.Inst(Eor32, a, b) }
func (e *Emitter) Or(a, b Value) Value         { return e.Inst(Or32, a, b) }
func (e *Emitter) Not(a Value) Value           { return e.Inst(Not32, a) }

func (e *Emitter) LogicalShiftLeft(a, shift, carry Value) Value {
	return e.Inst(LogicalShiftLeft32, a, shift, carry)
}

func (e *Emitter) LogicalShiftRight(a, shift, carry Value) Value {
	return e.Inst(LogicalShiftRight32, a, shift, carry)
}

func (e *Emitter) ArithmeticShiftRight(a, shift, carry Value) Value {
	return e.Inst(ArithmeticShiftRight32, a, shift, carry)
}

func (e *Emitter) RotateRight(a, shift, carry Value) Value {
	return e.Inst(RotateRight32, a, shift, carry)
}

func (e *Emitter) ReadMemory(bits int, addr Value) Value {
	switch bits {
	case 8:
		return e.Inst(ReadMemory8, addr)
	case 16:
		return e.Inst(ReadMemory16, addr)
	case 32:
		return e.Inst(ReadMemory32, addr)
	case 64:
		return e.Inst(ReadMemory64, addr)
	}
	panic("ir: bad memory access width")
}

func (e *Emitter) WriteMemory(bits int, addr, v Value) {
	switch bits {
	case 8:
		e.Void(WriteMemory8, addr, v)
	case 16:
		e.Void(WriteMemory16, addr, v)
	case 32:
		e.Void(WriteMemory32, addr, v)
	case 64:
		e.Void(WriteMemory64, addr, v)
	default:
		panic("ir: bad memory access width")
	}
}

func (e *Emitter) ExclusiveReadMemory(bits int, addr Value) Value {
	switch bits {
	case 8:
		return e.Inst(ExclusiveReadMemory8, addr)
	case 16:
		return e.Inst(ExclusiveReadMemory16, addr)
	case 32:
		return e.Inst(ExclusiveReadMemory32, addr)
	case 64:
		return e.Inst(ExclusiveReadMemory64, addr)
	}
	panic("ir: bad memory access width")
}

// ExclusiveWriteMemory yields 0 on success and 1 if the reservation was lost.
func (e *Emitter) ExclusiveWriteMemory(bits int, addr, v Value) Value {
	switch bits {
	case 8:
		return e.Inst(ExclusiveWriteMemory8, addr, v)
	case 16:
		return e.Inst(ExclusiveWriteMemory16, addr, v)
	case 32:
		return e.Inst(ExclusiveWriteMemory32, addr, v)
	case 64:
		return e.Inst(ExclusiveWriteMemory64, addr, v)
	}
	panic("ir: bad memory access width")
}

func (e *Emitter) SignExtendToWord(bits int, v Value) Value {
	switch bits {
	case 8:
		return e.Inst(SignExtendByteToWord, v)
	case 16:
		return e.Inst(SignExtendHalfToWord, v)
	}
	panic("ir: bad extension width")
}

func (e *Emitter) ZeroExtendToWord(bits int, v Value) Value {
	switch bits {
	case 8:
		return e.Inst(ZeroExtendByteToWord, v)
	case 16:
		return e.Inst(ZeroExtendHalfToWord, v)
	}
	panic("ir: bad extension width")
}

func (e *Emitter) CallSupervisor(imm Value) { e.Void(CallSupervisor, imm) }
func (e *Emitter) ExceptionRaised(pc uint64, kind uint32) {
	e.Void(ExceptionRaised, Imm64(pc), Imm32(kind))
}

func (e *Emitter) SetTerm(t Terminal) {
	if e.Block.Terminal != nil {
		panic("ir: block already has a terminal")
	}
	e.Block.Terminal = t
}
