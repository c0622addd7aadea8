// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a32

import (
	"armlet.dev/armlet/internal/decode"
	"armlet.dev/armlet/internal/ir"
)

// addrMode computes the access address and performs base writeback for the
// P/U/W addressing forms shared by the load/store encodings.
func (v *visitor) addrMode(p, u, w bool, n int, offset ir.Value) ir.Value {
	base := v.getReg(n)

	var offsetApplied ir.Value
	if u {
		offsetApplied = v.Add(base, offset, ir.Imm1(false))
	} else {
		offsetApplied = v.Sub(base, offset, ir.Imm1(true))
	}

	addr := base
	if p {
		addr = offsetApplied
	}
	if !p || w {
		v.setReg(n, offsetApplied)
	}
	return addr
}

// writebackOK rejects the unpredictable writeback-to-PC encodings before
// addrMode runs.
func writebackOK(p, w bool, n int) bool {
	return p && !w || n != regPC
}

func (v *visitor) extendAddr(addr ir.Value) ir.Value {
	return v.Inst(ir.ZeroExtendWordToLong, addr)
}

func (v *visitor) armSingleTransferImm(word uint32) bool {
	p := decode.Bit(word, 24)
	u := decode.Bit(word, 23)
	b := decode.Bit(word, 22)
	w := decode.Bit(word, 21)
	l := decode.Bit(word, 20)
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	imm := decode.Bits(word, 0, 12)

	if !p && w {
		// LDRT/STRT: user-mode forced access, same thing at this level.
		w = false
	}
	if !writebackOK(p, w, n) {
		return v.unpredictable()
	}
	return v.singleTransfer(p, u, b, w, l, n, d, ir.Imm32(imm))
}

func (v *visitor) armSingleTransferReg(word uint32) bool {
	p := decode.Bit(word, 24)
	u := decode.Bit(word, 23)
	b := decode.Bit(word, 22)
	w := decode.Bit(word, 21)
	l := decode.Bit(word, 20)
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	imm5 := decode.Bits(word, 7, 5)
	typ := decode.Bits(word, 5, 2)
	m := int(decode.Bits(word, 0, 4))

	if m == regPC {
		return v.unpredictable()
	}
	if !p && w {
		w = false
	}
	if !writebackOK(p, w, n) {
		return v.unpredictable()
	}
	offset, _ := v.shiftByImm(typ, imm5, v.getReg(m))
	return v.singleTransfer(p, u, b, w, l, n, d, offset)
}

func (v *visitor) singleTransfer(p, u, b, w, l bool, n, d int, offset ir.Value) bool {
	addr := v.extendAddr(v.addrMode(p, u, w, n, offset))

	switch {
	case l && b: // LDRB
		if d == regPC {
			return v.unpredictable()
		}
		v.setReg(d, v.ZeroExtendToWord(8, v.ReadMemory(8, addr)))
	case l: // LDR
		data := v.ReadMemory(32, addr)
		if d == regPC {
			v.bxWritePC(data, n == regSP)
			return false
		}
		v.setReg(d, data)
	case b: // STRB
		v.WriteMemory(8, addr, v.Inst(ir.LeastSignificantByte, v.getReg(d)))
	default: // STR
		v.WriteMemory(32, addr, v.getReg(d))
	}
	return true
}

// Halfword and signed byte/halfword transfers use a split 8-bit immediate.
func halfwordImm(word uint32) uint32 {
	return decode.Bits(word, 8, 4)<<4 | decode.Bits(word, 0, 4)
}

func (v *visitor) armSTRHImm(word uint32) bool {
	return v.halfTransferImm(word, func(addr ir.Value, d int) {
		v.WriteMemory(16, addr, v.Inst(ir.LeastSignificantHalf, v.getReg(d)))
	})
}

func (v *visitor) armLDRHImm(word uint32) bool {
	return v.halfTransferImm(word, func(addr ir.Value, d int) {
		v.setReg(d, v.ZeroExtendToWord(16, v.ReadMemory(16, addr)))
	})
}

func (v *visitor) armLDRSBImm(word uint32) bool {
	return v.halfTransferImm(word, func(addr ir.Value, d int) {
		v.setReg(d, v.SignExtendToWord(8, v.ReadMemory(8, addr)))
	})
}

func (v *visitor) armLDRSHImm(word uint32) bool {
	return v.halfTransferImm(word, func(addr ir.Value, d int) {
		v.setReg(d, v.SignExtendToWord(16, v.ReadMemory(16, addr)))
	})
}

func (v *visitor) halfTransferImm(word uint32, access func(addr ir.Value, d int)) bool {
	p := decode.Bit(word, 24)
	u := decode.Bit(word, 23)
	w := decode.Bit(word, 21)
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	if d == regPC || !writebackOK(p, w, n) {
		return v.unpredictable()
	}
	addr := v.extendAddr(v.addrMode(p, u, w, n, ir.Imm32(halfwordImm(word))))
	access(addr, d)
	return true
}

func (v *visitor) armSTRHReg(word uint32) bool {
	return v.halfTransferReg(word, func(addr ir.Value, d int) {
		v.WriteMemory(16, addr, v.Inst(ir.LeastSignificantHalf, v.getReg(d)))
	})
}

func (v *visitor) armLDRHReg(word uint32) bool {
	return v.halfTransferReg(word, func(addr ir.Value, d int) {
		v.setReg(d, v.ZeroExtendToWord(16, v.ReadMemory(16, addr)))
	})
}

func (v *visitor) halfTransferReg(word uint32, access func(addr ir.Value, d int)) bool {
	p := decode.Bit(word, 24)
	u := decode.Bit(word, 23)
	w := decode.Bit(word, 21)
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	m := int(decode.Bits(word, 0, 4))
	if d == regPC || m == regPC || !writebackOK(p, w, n) {
		return v.unpredictable()
	}
	addr := v.extendAddr(v.addrMode(p, u, w, n, v.getReg(m)))
	access(addr, d)
	return true
}

func (v *visitor) armLDREX(word uint32) bool {
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	if d == regPC || n == regPC {
		return v.unpredictable()
	}
	addr := v.extendAddr(v.getReg(n))
	v.setReg(d, v.ExclusiveReadMemory(32, addr))
	return true
}

func (v *visitor) armSTREX(word uint32) bool {
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	m := int(decode.Bits(word, 0, 4))
	if d == regPC || n == regPC || m == regPC || d == n || d == m {
		return v.unpredictable()
	}
	addr := v.extendAddr(v.getReg(n))
	status := v.ExclusiveWriteMemory(32, addr, v.getReg(m))
	v.setReg(d, status)
	return true
}

func (v *visitor) armLDREXB(word uint32) bool {
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	if d == regPC || n == regPC {
		return v.unpredictable()
	}
	addr := v.extendAddr(v.getReg(n))
	v.setReg(d, v.ZeroExtendToWord(8, v.ExclusiveReadMemory(8, addr)))
	return true
}

func (v *visitor) armSTREXB(word uint32) bool {
	n := int(decode.Bits(word, 16, 4))
	d := int(decode.Bits(word, 12, 4))
	m := int(decode.Bits(word, 0, 4))
	if d == regPC || n == regPC || m == regPC || d == n || d == m {
		return v.unpredictable()
	}
	addr := v.extendAddr(v.getReg(n))
	status := v.ExclusiveWriteMemory(8, addr, v.Inst(ir.LeastSignificantByte, v.getReg(m)))
	v.setReg(d, status)
	return true
}

func (v *visitor) armBlockTransfer(word uint32) bool {
	p := decode.Bit(word, 24)
	u := decode.Bit(word, 23)
	s := decode.Bit(word, 22)
	w := decode.Bit(word, 21)
	l := decode.Bit(word, 20)
	n := int(decode.Bits(word, 16, 4))
	list := decode.Bits(word, 0, 16)

	if s || n == regPC || list == 0 {
		return v.unpredictable()
	}

	count := uint32(0)
	for r := 0; r < 16; r++ {
		if list>>r&1 != 0 {
			count++
		}
	}

	// Lowest address accessed.
	base := v.getReg(n)
	var start ir.Value
	switch {
	case u && !p: // IA
		start = base
	case u && p: // IB
		start = v.Add(base, ir.Imm32(4), ir.Imm1(false))
	case !u && !p: // DA
		start = v.Sub(base, ir.Imm32(4*count-4), ir.Imm1(true))
	default: // DB
		start = v.Sub(base, ir.Imm32(4*count), ir.Imm1(true))
	}

	var newBase ir.Value
	if u {
		newBase = v.Add(base, ir.Imm32(4*count), ir.Imm1(false))
	} else {
		newBase = v.Sub(base, ir.Imm32(4*count), ir.Imm1(true))
	}

	offset := uint32(0)
	var pcValue ir.Value
	for r := 0; r < 16; r++ {
		if list>>r&1 == 0 {
			continue
		}
		addr := v.extendAddr(v.Add(start, ir.Imm32(offset), ir.Imm1(false)))
		if l {
			data := v.ReadMemory(32, addr)
			if r == regPC {
				pcValue = data
			} else {
				v.setReg(r, data)
			}
		} else {
			if r == regPC {
				v.WriteMemory(32, addr, ir.Imm32(v.readPC()))
			} else {
				v.WriteMemory(32, addr, v.getReg(r))
			}
		}
		offset += 4
	}

	if w {
		v.setReg(n, newBase)
	}

	if !pcValue.Empty() {
		// Loading PC: a pop-style return.
		v.bxWritePC(pcValue, n == regSP)
		return false
	}
	return true
}
