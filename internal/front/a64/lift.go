// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a64

import (
	"math/bits"

	"armlet.dev/armlet/internal/decode"
	"armlet.dev/armlet/internal/ir"
)

// Exception kinds passed to the embedder's ExceptionRaised callback.
const (
	ExceptionUndefined = iota
	ExceptionUnpredictable
	ExceptionBreakpoint
)

// Code supplies guest instruction words during translation.
type Code interface {
	ReadCode32(vaddr uint64) uint32
}

// Config parameterizes translation of one block.
type Config struct {
	Code        Code
	BlockBudget int
}

type visitor struct {
	ir.Emitter

	cfg *Config
	loc Location
}

const (
	regLR = 30
	regZR = 31
	regSP = 31
)

// getX reads an X register; register 31 is the zero register.
func (v *visitor) getX(r int) ir.Value {
	if r == regZR {
		return ir.Imm64(0)
	}
	return v.GetRegister64(r)
}

// getXSP reads an X register; register 31 is the stack pointer.
func (v *visitor) getXSP(r int) ir.Value {
	return v.GetRegister64(r)
}

func (v *visitor) setX(r int, val ir.Value) {
	if r == regZR {
		return
	}
	v.SetRegister64(r, val)
}

func (v *visitor) setXSP(r int, val ir.Value) {
	v.SetRegister64(r, val)
}

// getW reads the low word of an X register.
func (v *visitor) getW(r int) ir.Value {
	return v.Inst(ir.LeastSignificantWord, v.getX(r))
}

// setW writes a W register: the upper word zeroes.
func (v *visitor) setW(r int, val ir.Value) {
	v.setX(r, v.Inst(ir.ZeroExtendWordToLong, val))
}

func (v *visitor) nextLocation() Location {
	return v.loc.WithPC(v.loc.PC + 4)
}

func (v *visitor) undefined() bool {
	v.ExceptionRaised(v.loc.PC, ExceptionUndefined)
	v.SetTerm(ir.CheckHalt{Else: ir.LinkBlockFast{Next: v.nextLocation().Descriptor()}})
	return false
}

// table lists the implemented A64 encodings.
var table = decode.Table[*visitor]{
	decode.Entry("udf", "0000000000000000iiiiiiiiiiiiiiii", (*visitor).a64UDF),

	decode.Entry("svc", "11010100000iiiiiiiiiiiiiiii00001", (*visitor).a64SVC),
	decode.Entry("brk", "11010100001iiiiiiiiiiiiiiii00000", (*visitor).a64BRK),
	decode.Entry("hint", "11010101000000110010iiiiooo11111", (*visitor).a64Hint),
	decode.Entry("dsb", "11010101000000110011iiii10011111", (*visitor).a64DSB),
	decode.Entry("dmb", "11010101000000110011iiii10111111", (*visitor).a64DMB),
	decode.Entry("isb", "11010101000000110011iiii11011111", (*visitor).a64ISB),

	decode.Entry("br", "1101011000011111000000nnnnn00000", (*visitor).a64BR),
	decode.Entry("blr", "1101011000111111000000nnnnn00000", (*visitor).a64BLR),
	decode.Entry("ret", "1101011001011111000000nnnnn00000", (*visitor).a64RET),
	decode.Entry("b", "000101iiiiiiiiiiiiiiiiiiiiiiiiii", (*visitor).a64B),
	decode.Entry("bl", "100101iiiiiiiiiiiiiiiiiiiiiiiiii", (*visitor).a64BL),
	decode.Entry("cbz/cbnz", "z011010oiiiiiiiiiiiiiiiiiiittttt", (*visitor).a64CBZ),
	decode.Entry("b.cond", "01010100iiiiiiiiiiiiiiiiiii0cccc", (*visitor).a64BCond),

	decode.Entry("adr/adrp", "oii10000iiiiiiiiiiiiiiiiiiiddddd", (*visitor).a64ADR),
	decode.Entry("movz/movn/movk", "zoo100101hhiiiiiiiiiiiiiiiiddddd", (*visitor).a64MOVWide),
	decode.Entry("add/sub (imm)", "zos100010hiiiiiiiiiiiinnnnnddddd", (*visitor).a64AddSubImm),
	decode.Entry("add/sub (reg)", "zos01011tt0mmmmmiiiiiinnnnnddddd", (*visitor).a64AddSubShifted),
	decode.Entry("logical (imm)", "zoo100100nrrrrrrssssssnnnnnddddd", (*visitor).a64LogicalImm),
	decode.Entry("logical (reg)", "zoo01010ttnmmmmmiiiiiinnnnnddddd", (*visitor).a64LogicalShifted),

	decode.Entry("ldxr/ldaxr", "ss00100001011111a11111nnnnnttttt", (*visitor).a64LDXR),
	decode.Entry("stxr/stlxr", "ss001000000sssssa11111nnnnnttttt", (*visitor).a64STXR),
	decode.Entry("ldr/str (imm)", "ss111001ooiiiiiiiiiiiinnnnnttttt", (*visitor).a64LoadStoreImm),
	decode.Entry("ldr/str (reg)", "ss111000oo1mmmmmxxxs10nnnnnttttt", (*visitor).a64LoadStoreReg),
}

func (v *visitor) a64UDF(word uint32) bool { return v.undefined() }

func (v *visitor) a64SVC(word uint32) bool {
	imm := decode.Bits(word, 5, 16)
	next := v.nextLocation()
	v.CallSupervisor(ir.Imm32(imm))
	v.SetTerm(ir.CheckHalt{Else: ir.LinkBlockFast{Next: next.Descriptor()}})
	return false
}

func (v *visitor) a64BRK(word uint32) bool {
	v.ExceptionRaised(v.loc.PC, ExceptionBreakpoint)
	v.SetTerm(ir.CheckHalt{Else: ir.LinkBlockFast{Next: v.nextLocation().Descriptor()}})
	return false
}

func (v *visitor) a64Hint(word uint32) bool { return true }

func (v *visitor) a64DSB(word uint32) bool {
	v.Void(ir.DataSynchronizationBarrier)
	return true
}

func (v *visitor) a64DMB(word uint32) bool {
	v.Void(ir.DataMemoryBarrier)
	return true
}

func (v *visitor) a64ISB(word uint32) bool {
	v.Void(ir.InstructionSynchronizationBarrier)
	v.SetTerm(ir.ReturnToDispatch{})
	return false
}

func (v *visitor) a64B(word uint32) bool {
	offset := int64(int32(decode.Bits(word, 0, 26)<<6)) >> 6 << 2
	v.SetTerm(ir.LinkBlock{Next: v.loc.WithPC(v.loc.PC + uint64(offset)).Descriptor()})
	return false
}

func (v *visitor) a64BL(word uint32) bool {
	offset := int64(int32(decode.Bits(word, 0, 26)<<6)) >> 6 << 2
	ret := v.nextLocation()
	v.setX(regLR, ir.Imm64(ret.PC))
	v.Void(ir.PushRSB, ir.Imm64(ret.Descriptor().Value()))
	v.SetTerm(ir.LinkBlock{Next: v.loc.WithPC(v.loc.PC + uint64(offset)).Descriptor()})
	return false
}

func (v *visitor) a64BR(word uint32) bool {
	n := int(decode.Bits(word, 5, 5))
	v.Void(ir.SetPC64, v.getX(n))
	v.SetTerm(ir.FastDispatchHint{})
	return false
}

func (v *visitor) a64BLR(word uint32) bool {
	n := int(decode.Bits(word, 5, 5))
	ret := v.nextLocation()
	target := v.getX(n)
	v.setX(regLR, ir.Imm64(ret.PC))
	v.Void(ir.PushRSB, ir.Imm64(ret.Descriptor().Value()))
	v.Void(ir.SetPC64, target)
	v.SetTerm(ir.FastDispatchHint{})
	return false
}

func (v *visitor) a64RET(word uint32) bool {
	n := int(decode.Bits(word, 5, 5))
	v.Void(ir.SetPC64, v.getX(n))
	v.SetTerm(ir.PopRSBHint{})
	return false
}

func (v *visitor) a64CBZ(word uint32) bool {
	is64 := decode.Bit(word, 31)
	nonzero := decode.Bit(word, 24)
	offset := int64(int32(decode.Bits(word, 5, 19)<<13)) >> 13 << 2
	t := int(decode.Bits(word, 0, 5))

	var zero ir.Value
	if is64 {
		zero = v.Inst(ir.IsZero64, v.getX(t))
	} else {
		zero = v.Inst(ir.IsZero32, v.getW(t))
	}
	v.SetCheckBit(zero)

	target := v.loc.WithPC(v.loc.PC + uint64(offset)).Descriptor()
	next := v.nextLocation().Descriptor()
	taken, fallthru := ir.Terminal(ir.LinkBlock{Next: target}), ir.Terminal(ir.LinkBlock{Next: next})
	if nonzero {
		taken, fallthru = fallthru, taken
	}
	v.SetTerm(ir.CheckBit{Then: taken, Else: fallthru})
	return false
}

func (v *visitor) a64BCond(word uint32) bool {
	offset := int64(int32(decode.Bits(word, 5, 19)<<13)) >> 13 << 2
	cond := ir.Condition(decode.Bits(word, 0, 4))
	target := v.loc.WithPC(v.loc.PC + uint64(offset)).Descriptor()
	next := v.nextLocation().Descriptor()

	if cond >= ir.CondAL {
		v.SetTerm(ir.LinkBlock{Next: target})
		return false
	}
	v.SetTerm(ir.If{
		Cond: cond,
		Then: ir.LinkBlock{Next: target},
		Else: ir.LinkBlock{Next: next},
	})
	return false
}

func (v *visitor) a64ADR(word uint32) bool {
	page := decode.Bit(word, 31)
	d := int(decode.Bits(word, 0, 5))
	imm := uint64(decode.Bits(word, 5, 19))<<2 | uint64(decode.Bits(word, 29, 2))
	offset := int64(imm<<43) >> 43

	if page {
		base := v.loc.PC &^ 0xFFF
		v.setX(d, ir.Imm64(base+uint64(offset<<12)))
	} else {
		v.setX(d, ir.Imm64(v.loc.PC+uint64(offset)))
	}
	return true
}

func (v *visitor) a64MOVWide(word uint32) bool {
	is64 := decode.Bit(word, 31)
	opc := decode.Bits(word, 29, 2)
	hw := decode.Bits(word, 21, 2)
	imm16 := uint64(decode.Bits(word, 5, 16))
	d := int(decode.Bits(word, 0, 5))

	if !is64 && hw >= 2 {
		return v.undefined()
	}
	shift := hw * 16

	switch opc {
	case 0: // MOVN
		val := ^(imm16 << shift)
		if !is64 {
			v.setW(d, ir.Imm32(uint32(val)))
		} else {
			v.setX(d, ir.Imm64(val))
		}
	case 2: // MOVZ
		val := imm16 << shift
		if !is64 {
			v.setW(d, ir.Imm32(uint32(val)))
		} else {
			v.setX(d, ir.Imm64(val))
		}
	case 3: // MOVK
		mask := uint64(0xFFFF) << shift
		old := v.Inst(ir.And64, v.getX(d), ir.Imm64(^mask))
		merged := v.Inst(ir.Or64, old, ir.Imm64(imm16<<shift))
		if !is64 {
			v.setW(d, v.Inst(ir.LeastSignificantWord, merged))
		} else {
			v.setX(d, merged)
		}
	default:
		return v.undefined()
	}
	return true
}

func (v *visitor) a64AddSubImm(word uint32) bool {
	is64 := decode.Bit(word, 31)
	sub := decode.Bit(word, 30)
	setflags := decode.Bit(word, 29)
	sh := decode.Bit(word, 22)
	imm := uint64(decode.Bits(word, 10, 12))
	n := int(decode.Bits(word, 5, 5))
	d := int(decode.Bits(word, 0, 5))
	if sh {
		imm <<= 12
	}

	var a ir.Value
	if is64 {
		a = v.getXSP(n)
	} else {
		a = v.Inst(ir.LeastSignificantWord, v.getXSP(n))
	}
	v.addSub(is64, sub, setflags, d, !setflags, a, immValue(is64, imm))
	return true
}

func immValue(is64 bool, imm uint64) ir.Value {
	if is64 {
		return ir.Imm64(imm)
	}
	return ir.Imm32(uint32(imm))
}

func (v *visitor) a64AddSubShifted(word uint32) bool {
	is64 := decode.Bit(word, 31)
	sub := decode.Bit(word, 30)
	setflags := decode.Bit(word, 29)
	typ := decode.Bits(word, 22, 2)
	m := int(decode.Bits(word, 16, 5))
	amount := decode.Bits(word, 10, 6)
	n := int(decode.Bits(word, 5, 5))
	d := int(decode.Bits(word, 0, 5))

	if typ == 3 || (!is64 && amount >= 32) {
		return v.undefined()
	}

	var a, b ir.Value
	if is64 {
		a, b = v.getX(n), v.shifted64(typ, amount, v.getX(m))
	} else {
		a, b = v.getW(n), v.shifted32(typ, amount, v.getW(m))
	}
	v.addSub(is64, sub, setflags, d, false, a, b)
	return true
}

func (v *visitor) shifted64(typ, amount uint32, x ir.Value) ir.Value {
	if amount == 0 {
		return x
	}
	ops := [3]ir.Opcode{ir.LogicalShiftLeft64, ir.LogicalShiftRight64, ir.ArithmeticShiftRight64}
	return v.Inst(ops[typ], x, ir.Imm8(uint8(amount)))
}

func (v *visitor) shifted32(typ, amount uint32, x ir.Value) ir.Value {
	if amount == 0 {
		return x
	}
	ops := [3]ir.Opcode{ir.LogicalShiftLeft32, ir.LogicalShiftRight32, ir.ArithmeticShiftRight32}
	return v.Inst(ops[typ], x, ir.Imm8(uint8(amount)), v.GetCFlag())
}

// addSub emits the shared tail of the add/sub forms.  spDest selects SP as
// the destination meaning of register 31.
func (v *visitor) addSub(is64, sub, setflags bool, d int, spDest bool, a, b ir.Value) {
	var result ir.Value
	if is64 {
		if sub {
			result = v.Inst(ir.Sub64, a, b, ir.Imm1(true))
		} else {
			result = v.Inst(ir.Add64, a, b, ir.Imm1(false))
		}
	} else {
		if sub {
			result = v.Inst(ir.Sub32, a, b, ir.Imm1(true))
		} else {
			result = v.Inst(ir.Add32, a, b, ir.Imm1(false))
		}
	}

	if setflags {
		if is64 {
			v.SetNFlag(v.Inst(ir.TestBit, result, ir.Imm8(63)))
			v.SetZFlag(v.Inst(ir.IsZero64, result))
		} else {
			v.SetNZFlags(result)
		}
		v.SetCFlag(v.CarryFrom(result))
		v.SetVFlag(v.OverflowFrom(result))
		if d == regZR {
			return // CMP/CMN
		}
	}

	write := v.setX
	if spDest {
		write = v.setXSP
	}
	if is64 {
		write(d, result)
	} else {
		v32 := v.Inst(ir.ZeroExtendWordToLong, result)
		if spDest {
			v.setXSP(d, v32)
		} else {
			v.setX(d, v32)
		}
	}
}

func (v *visitor) a64LogicalImm(word uint32) bool {
	is64 := decode.Bit(word, 31)
	opc := decode.Bits(word, 29, 2)
	nBit := decode.Bits(word, 22, 1)
	immr := decode.Bits(word, 16, 6)
	imms := decode.Bits(word, 10, 6)
	n := int(decode.Bits(word, 5, 5))
	d := int(decode.Bits(word, 0, 5))

	imm, ok := decodeBitMasks(nBit, imms, immr, is64)
	if !ok {
		return v.undefined()
	}

	var a, b, result ir.Value
	if is64 {
		a, b = v.getX(n), ir.Imm64(imm)
	} else {
		a, b = v.getW(n), ir.Imm32(uint32(imm))
	}

	op64 := [4]ir.Opcode{ir.And64, ir.Or64, ir.Eor64, ir.And64}
	op32 := [4]ir.Opcode{ir.And32, ir.Or32, ir.Eor32, ir.And32}
	if is64 {
		result = v.Inst(op64[opc], a, b)
	} else {
		result = v.Inst(op32[opc], a, b)
	}

	if opc == 3 { // ANDS
		if is64 {
			v.SetNFlag(v.Inst(ir.TestBit, result, ir.Imm8(63)))
			v.SetZFlag(v.Inst(ir.IsZero64, result))
		} else {
			v.SetNZFlags(result)
		}
		v.SetCFlag(ir.Imm1(false))
		v.SetVFlag(ir.Imm1(false))
		if d == regZR {
			return true // TST
		}
		if is64 {
			v.setX(d, result)
		} else {
			v.setW(d, result)
		}
		return true
	}

	// AND/ORR/EOR with immediate write to SP-meaning register 31.
	if is64 {
		v.setXSP(d, result)
	} else {
		v.setXSP(d, v.Inst(ir.ZeroExtendWordToLong, result))
	}
	return true
}

func (v *visitor) a64LogicalShifted(word uint32) bool {
	is64 := decode.Bit(word, 31)
	opc := decode.Bits(word, 29, 2)
	typ := decode.Bits(word, 22, 2)
	negate := decode.Bit(word, 21)
	m := int(decode.Bits(word, 16, 5))
	amount := decode.Bits(word, 10, 6)
	n := int(decode.Bits(word, 5, 5))
	d := int(decode.Bits(word, 0, 5))

	if !is64 && amount >= 32 {
		return v.undefined()
	}
	if typ == 3 {
		// ROR shifts.
		if is64 {
			return v.logicalTail(word, is64, opc, negate, d, v.getX(n),
				v.Inst(ir.RotateRight64, v.getX(m), ir.Imm8(uint8(amount))))
		}
		return v.logicalTail(word, is64, opc, negate, d, v.getW(n),
			v.Inst(ir.RotateRight32, v.getW(m), ir.Imm8(uint8(amount)), v.GetCFlag()))
	}

	if is64 {
		return v.logicalTail(word, is64, opc, negate, d, v.getX(n), v.shifted64(typ, amount, v.getX(m)))
	}
	return v.logicalTail(word, is64, opc, negate, d, v.getW(n), v.shifted32(typ, amount, v.getW(m)))
}

func (v *visitor) logicalTail(word uint32, is64 bool, opc uint32, negate bool, d int, a, b ir.Value) bool {
	if negate {
		if is64 {
			b = v.Inst(ir.Not64, b)
		} else {
			b = v.Inst(ir.Not32, b)
		}
	}

	op64 := [4]ir.Opcode{ir.And64, ir.Or64, ir.Eor64, ir.And64}
	op32 := [4]ir.Opcode{ir.And32, ir.Or32, ir.Eor32, ir.And32}

	var result ir.Value
	if is64 {
		result = v.Inst(op64[opc], a, b)
	} else {
		result = v.Inst(op32[opc], a, b)
	}

	if opc == 3 { // ANDS/BICS
		if is64 {
			v.SetNFlag(v.Inst(ir.TestBit, result, ir.Imm8(63)))
			v.SetZFlag(v.Inst(ir.IsZero64, result))
		} else {
			v.SetNZFlags(result)
		}
		v.SetCFlag(ir.Imm1(false))
		v.SetVFlag(ir.Imm1(false))
	}
	if is64 {
		v.setX(d, result)
	} else {
		v.setW(d, result)
	}
	return true
}

func (v *visitor) a64LDXR(word uint32) bool {
	size := decode.Bits(word, 30, 2)
	n := int(decode.Bits(word, 5, 5))
	t := int(decode.Bits(word, 0, 5))

	addr := v.getXSP(n)
	bits := 8 << size
	data := v.ExclusiveReadMemory(bits, addr)
	v.setX(t, v.extendLoadedValue(bits, data))
	return true
}

func (v *visitor) a64STXR(word uint32) bool {
	size := decode.Bits(word, 30, 2)
	s := int(decode.Bits(word, 16, 5))
	n := int(decode.Bits(word, 5, 5))
	t := int(decode.Bits(word, 0, 5))
	if s == n || s == t {
		return v.undefined()
	}

	addr := v.getXSP(n)
	bits := 8 << size
	status := v.ExclusiveWriteMemory(bits, addr, v.narrowStoredValue(bits, t))
	v.setW(s, status)
	return true
}

func (v *visitor) a64LoadStoreImm(word uint32) bool {
	size := decode.Bits(word, 30, 2)
	opc := decode.Bits(word, 22, 2)
	imm := uint64(decode.Bits(word, 10, 12)) << size
	n := int(decode.Bits(word, 5, 5))
	t := int(decode.Bits(word, 0, 5))

	addr := v.Inst(ir.Add64, v.getXSP(n), ir.Imm64(imm), ir.Imm1(false))
	return v.loadStore(size, opc, t, addr)
}

func (v *visitor) a64LoadStoreReg(word uint32) bool {
	size := decode.Bits(word, 30, 2)
	opc := decode.Bits(word, 22, 2)
	m := int(decode.Bits(word, 16, 5))
	option := decode.Bits(word, 13, 3)
	scaled := decode.Bit(word, 12)
	n := int(decode.Bits(word, 5, 5))
	t := int(decode.Bits(word, 0, 5))

	var offset ir.Value
	switch option {
	case 2: // UXTW
		offset = v.Inst(ir.ZeroExtendWordToLong, v.getW(m))
	case 3: // LSL
		offset = v.getX(m)
	case 6: // SXTW
		offset = v.Inst(ir.SignExtendWordToLong, v.getW(m))
	default:
		return v.undefined()
	}
	if scaled && size != 0 {
		offset = v.Inst(ir.LogicalShiftLeft64, offset, ir.Imm8(uint8(size)))
	}

	addr := v.Inst(ir.Add64, v.getXSP(n), offset, ir.Imm1(false))
	return v.loadStore(size, opc, t, addr)
}

func (v *visitor) loadStore(size, opc uint32, t int, addr ir.Value) bool {
	bits := 8 << size

	switch opc {
	case 0: // store
		v.WriteMemory(bits, addr, v.narrowStoredValue(bits, t))
	case 1: // load, zero-extend
		v.setX(t, v.extendLoadedValue(bits, v.ReadMemory(bits, addr)))
	default:
		// Sign-extending loads and prefetches are not lifted.
		return v.undefined()
	}
	return true
}

func (v *visitor) extendLoadedValue(bits int, data ir.Value) ir.Value {
	switch bits {
	case 8:
		return v.Inst(ir.ZeroExtendWordToLong, v.ZeroExtendToWord(8, data))
	case 16:
		return v.Inst(ir.ZeroExtendWordToLong, v.ZeroExtendToWord(16, data))
	case 32:
		return v.Inst(ir.ZeroExtendWordToLong, data)
	default:
		return data
	}
}

func (v *visitor) narrowStoredValue(bits int, t int) ir.Value {
	x := v.getX(t)
	switch bits {
	case 8:
		return v.Inst(ir.LeastSignificantByte, v.Inst(ir.LeastSignificantWord, x))
	case 16:
		return v.Inst(ir.LeastSignificantHalf, v.Inst(ir.LeastSignificantWord, x))
	case 32:
		return v.Inst(ir.LeastSignificantWord, x)
	default:
		return x
	}
}

// decodeBitMasks expands the N:immr:imms fields of a logical immediate.
func decodeBitMasks(n, imms, immr uint32, is64 bool) (uint64, bool) {
	length := 31 - bits.LeadingZeros32(n<<6|^imms&0x3F)
	if length < 1 {
		return 0, false
	}
	size := uint(1) << length
	if !is64 && size == 64 {
		return 0, false
	}

	levels := uint32(size - 1)
	s := imms & levels
	r := immr & levels
	if s == levels {
		return 0, false
	}

	elemMask := ^uint64(0)
	if size < 64 {
		elemMask = 1<<size - 1
	}

	// Rotate within the element, then replicate across the register.
	welem := uint64(1)<<(s+1) - 1
	pattern := welem
	if r != 0 {
		pattern = (welem>>r | welem<<(size-uint(r))) & elemMask
	}

	result := pattern
	for e := size; e < 64; e *= 2 {
		result |= result << e
	}
	if !is64 {
		result &= 0xFFFFFFFF
	}
	return result, true
}
