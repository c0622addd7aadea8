// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package in

import (
	"bytes"
	"testing"

	"armlet.dev/armlet/internal/code"
	"armlet.dev/armlet/internal/reg"
)

type sliceBuffer struct {
	b []byte
}

func (s *sliceBuffer) Bytes() []byte { return s.b }

func (s *sliceBuffer) Extend(n int) []byte {
	off := len(s.b)
	s.b = append(s.b, make([]byte, n)...)
	return s.b[off:]
}

func (s *sliceBuffer) PutByte(x byte) {
	s.b = append(s.b, x)
}

func (s *sliceBuffer) PutUint32(x uint32) {
	b := s.Extend(4)
	b[0] = byte(x)
	b[1] = byte(x >> 8)
	b[2] = byte(x >> 16)
	b[3] = byte(x >> 24)
}

func emit(f func(text *code.Buf)) []byte {
	buf := &code.Buf{Buffer: new(sliceBuffer)}
	f(buf)
	return buf.Bytes()
}

func check(t *testing.T, name string, got, want []byte) {
	t.Helper()
	if !bytes.Equal(got, want) {
		t.Errorf("%s: got % x, want % x", name, got, want)
	}
}

func TestMovImm(t *testing.T) {
	check(t, "mov eax, 1",
		emit(func(b *code.Buf) { MovImm32(b, reg.RAX, 1) }),
		[]byte{0xB8, 0x01, 0x00, 0x00, 0x00})

	check(t, "mov r10d, 1",
		emit(func(b *code.Buf) { MovImm32(b, reg.R10, 1) }),
		[]byte{0x41, 0xBA, 0x01, 0x00, 0x00, 0x00})

	check(t, "mov rax, imm64",
		emit(func(b *code.Buf) { MovImm64(b, reg.RAX, 0x1122334455667788) }),
		[]byte{0x48, 0xB8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11})
}

func TestAluRegReg(t *testing.T) {
	check(t, "add ecx, edx",
		emit(func(b *code.Buf) { ADD.RegReg(b, Size32, reg.RCX, reg.RDX) }),
		[]byte{0x03, 0xCA})

	check(t, "add rcx, rdx",
		emit(func(b *code.Buf) { ADD.RegReg(b, Size64, reg.RCX, reg.RDX) }),
		[]byte{0x48, 0x03, 0xCA})

	check(t, "xor r8, r9",
		emit(func(b *code.Buf) { XOR.RegReg(b, Size64, reg.R8, reg.R9) }),
		[]byte{0x4D, 0x33, 0xC1})

	check(t, "cmp al, dl",
		emit(func(b *code.Buf) { CMP.RegReg(b, Size8, reg.RAX, reg.RDX) }),
		[]byte{0x3A, 0xC2})
}

func TestAluImm(t *testing.T) {
	check(t, "sub rax, 8 (imm8 form)",
		emit(func(b *code.Buf) { SUBi.RegImm(b, Size64, reg.RAX, 8) }),
		[]byte{0x48, 0x83, 0xE8, 0x08})

	check(t, "and ecx, 0x1000 (imm32 form)",
		emit(func(b *code.Buf) { ANDi.RegImm(b, Size32, reg.RCX, 0x1000) }),
		[]byte{0x81, 0xE1, 0x00, 0x10, 0x00, 0x00})
}

func TestMemForms(t *testing.T) {
	check(t, "mov eax, [r15+0x10]",
		emit(func(b *code.Buf) { MOVr.RegMem(b, Size32, reg.RAX, reg.R15, 0x10) }),
		[]byte{0x41, 0x8B, 0x47, 0x10})

	check(t, "mov [r15+0x10], eax",
		emit(func(b *code.Buf) { MOVmr.MemReg(b, Size32, reg.R15, 0x10, reg.RAX) }),
		[]byte{0x41, 0x89, 0x47, 0x10})

	check(t, "mov rdx, [r15+0x200]",
		emit(func(b *code.Buf) { MOVr.RegMem(b, Size64, reg.RDX, reg.R15, 0x200) }),
		[]byte{0x49, 0x8B, 0x97, 0x00, 0x02, 0x00, 0x00})

	// rsp base forces a SIB byte.
	check(t, "lea rsi, [rsp]",
		emit(func(b *code.Buf) { Lea(b, Size64, reg.RSI, reg.RSP, 0) }),
		[]byte{0x48, 0x8D, 0x34, 0x24})

	// rbp base forces a displacement byte.
	check(t, "mov eax, [rbp]",
		emit(func(b *code.Buf) { MOVr.RegMem(b, Size32, reg.RAX, reg.RBP, 0) }),
		[]byte{0x8B, 0x45, 0x00})
}

func TestMemIndex(t *testing.T) {
	check(t, "mov eax, [r13+rbx*1]",
		emit(func(b *code.Buf) { MOVr.RegMemIndex(b, Size32, reg.RAX, reg.R13, reg.RBX, 1, 0) }),
		[]byte{0x41, 0x8B, 0x44, 0x1D, 0x00})

	check(t, "mov [r15+rax*8+0x40], rdx",
		emit(func(b *code.Buf) { MOVmr.MemIndexReg(b, Size64, reg.R15, reg.RAX, 8, 0x40, reg.RDX) }),
		[]byte{0x49, 0x89, 0x54, 0xC7, 0x40})
}

func TestBranches(t *testing.T) {
	// jmp to absolute text address 0x100 from address 0: disp = 0x100-5.
	check(t, "jmp rel32",
		emit(func(b *code.Buf) { JmpRel(b, 0x100) }),
		[]byte{0xE9, 0xFB, 0x00, 0x00, 0x00})

	check(t, "jg rel32",
		emit(func(b *code.Buf) { JccRel(b, CondG, 0x100) }),
		[]byte{0x0F, 0x8F, 0xFA, 0x00, 0x00, 0x00})

	check(t, "call rel32 backward",
		emit(func(b *code.Buf) { CallRel(b, -0x10) }),
		[]byte{0xE8, 0xEB, 0xFF, 0xFF, 0xFF})

	check(t, "ret", emit(Ret), []byte{0xC3})
}

func TestSetccCmovcc(t *testing.T) {
	check(t, "setb al",
		emit(func(b *code.Buf) { Setcc(b, CondB, reg.RAX) }),
		[]byte{0x0F, 0x92, 0xC0})

	// sil needs a REX prefix even without extension bits.
	check(t, "seto sil",
		emit(func(b *code.Buf) { Setcc(b, CondO, reg.RSI) }),
		[]byte{0x40, 0x0F, 0x90, 0xC6})

	check(t, "cmovo eax, ecx",
		emit(func(b *code.Buf) { Cmovcc(b, Size32, CondO, reg.RAX, reg.RCX) }),
		[]byte{0x0F, 0x40, 0xC1})
}

func TestShifts(t *testing.T) {
	check(t, "shl eax, 5",
		emit(func(b *code.Buf) { SHL.RegImm(b, Size32, reg.RAX, 5) }),
		[]byte{0xC1, 0xE0, 0x05})

	check(t, "sar rdx, 1",
		emit(func(b *code.Buf) { SAR.RegImm(b, Size64, reg.RDX, 1) }),
		[]byte{0x48, 0xD1, 0xFA})

	check(t, "shr ecx, cl",
		emit(func(b *code.Buf) { SHR.RegCL(b, Size32, reg.RCX) }),
		[]byte{0xD3, 0xE9})
}

func TestMisc(t *testing.T) {
	check(t, "bswap eax",
		emit(func(b *code.Buf) { Bswap(b, Size32, reg.RAX) }),
		[]byte{0x0F, 0xC8})

	check(t, "crc32 rcx, rax",
		emit(func(b *code.Buf) { Crc32(b, Size64, reg.RCX, reg.RAX) }),
		[]byte{0xF2, 0x48, 0x0F, 0x38, 0xF1, 0xC8})

	check(t, "mfence", emit(Mfence), []byte{0x0F, 0xAE, 0xF0})

	check(t, "movzx eax, byte [r15+4]",
		emit(func(b *code.Buf) { MOVZX8.RegMem(b, Size32, reg.RAX, reg.R15, 4) }),
		[]byte{0x41, 0x0F, 0xB6, 0x47, 0x04})

	check(t, "imul rax, rdx",
		emit(func(b *code.Buf) { Imul(b, Size64, reg.RAX, reg.RDX) }),
		[]byte{0x48, 0x0F, 0xAF, 0xC2})

	check(t, "bt eax, 0",
		emit(func(b *code.Buf) { Bt(b, Size32, reg.RAX, 0) }),
		[]byte{0x0F, 0xBA, 0xE0, 0x00})

	check(t, "aesimc xmm1, xmm2",
		emit(func(b *code.Buf) { AESIMC.RegReg(b, reg.XMM1, reg.XMM2) }),
		[]byte{0x66, 0x0F, 0x38, 0xDB, 0xCA})
}
