// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package a32

import "armlet.dev/armlet/internal/decode"

// armTable lists every implemented A32 instruction form.  Order matters:
// the first matching pattern wins, so specific encodings precede the generic
// data-processing patterns that overlap them.
var armTable = decode.Table[*visitor]{
	// Unconditional space.
	decode.Entry("blx (imm)", "1111101hvvvvvvvvvvvvvvvvvvvvvvvv", (*visitor).armBLXImm),
	decode.Entry("dsb", "1111010101111111111100000100oooo", (*visitor).armDSB),
	decode.Entry("dmb", "1111010101111111111100000101oooo", (*visitor).armDMB),
	decode.Entry("isb", "1111010101111111111100000110oooo", (*visitor).armISB),
	decode.Entry("udf", "111001111111vvvvvvvvvvvv1111vvvv", (*visitor).armUDF),

	// Miscellaneous (must precede data processing).
	decode.Entry("bx", "cccc000100101111111111110001mmmm", (*visitor).armBX),
	decode.Entry("blx (reg)", "cccc000100101111111111110011mmmm", (*visitor).armBLXReg),
	decode.Entry("clz", "cccc000101101111dddd11110001mmmm", (*visitor).armCLZ),
	decode.Entry("bkpt", "cccc00010010vvvvvvvvvvvv0111vvvv", (*visitor).armBKPT),
	decode.Entry("mrs", "cccc000100001111dddd000000000000", (*visitor).armMRS),
	decode.Entry("msr (reg)", "cccc00010010mmmm111100000000nnnn", (*visitor).armMSRReg),
	decode.Entry("qadd", "cccc00010000nnnndddd00000101mmmm", (*visitor).armQADD),
	decode.Entry("qsub", "cccc00010010nnnndddd00000101mmmm", (*visitor).armQSUB),
	decode.Entry("qdadd", "cccc00010100nnnndddd00000101mmmm", (*visitor).armQDADD),
	decode.Entry("qdsub", "cccc00010110nnnndddd00000101mmmm", (*visitor).armQDSUB),
	decode.Entry("smulxy", "cccc00010110dddd0000mmmm1yx0nnnn", (*visitor).armInterpretFallback),

	// Multiplies and exclusives share the 1001 signature group.
	decode.Entry("mul", "cccc0000000sdddd0000mmmm1001nnnn", (*visitor).armMUL),
	decode.Entry("mla", "cccc0000001sddddaaaammmm1001nnnn", (*visitor).armMLA),
	decode.Entry("umull", "cccc0000100shhhhllllmmmm1001nnnn", (*visitor).armUMULL),
	decode.Entry("smull", "cccc0000110shhhhllllmmmm1001nnnn", (*visitor).armSMULL),
	decode.Entry("ldrex", "cccc00011001nnnndddd111110011111", (*visitor).armLDREX),
	decode.Entry("strex", "cccc00011000nnnndddd11111001mmmm", (*visitor).armSTREX),
	decode.Entry("ldrexb", "cccc00011101nnnndddd111110011111", (*visitor).armLDREXB),
	decode.Entry("strexb", "cccc00011100nnnndddd11111001mmmm", (*visitor).armSTREXB),

	// Halfword and signed transfers.
	decode.Entry("strh (imm)", "cccc000pu1w0nnnnddddiiii1011iiii", (*visitor).armSTRHImm),
	decode.Entry("ldrh (imm)", "cccc000pu1w1nnnnddddiiii1011iiii", (*visitor).armLDRHImm),
	decode.Entry("ldrsb (imm)", "cccc000pu1w1nnnnddddiiii1101iiii", (*visitor).armLDRSBImm),
	decode.Entry("ldrsh (imm)", "cccc000pu1w1nnnnddddiiii1111iiii", (*visitor).armLDRSHImm),
	decode.Entry("strh (reg)", "cccc000pu0w0nnnndddd00001011mmmm", (*visitor).armSTRHReg),
	decode.Entry("ldrh (reg)", "cccc000pu0w1nnnndddd00001011mmmm", (*visitor).armLDRHReg),

	// Media and saturation.
	decode.Entry("ssat", "cccc0110101sssssddddiiiiis01nnnn", (*visitor).armSSAT),
	decode.Entry("usat", "cccc0110111sssssddddiiiiis01nnnn", (*visitor).armUSAT),
	decode.Entry("rev", "cccc011010111111dddd11110011mmmm", (*visitor).armREV),
	decode.Entry("rev16", "cccc011010111111dddd11111011mmmm", (*visitor).armREV16),
	decode.Entry("sxtb", "cccc011010101111ddddrr000111mmmm", (*visitor).armSXTB),
	decode.Entry("sxth", "cccc011010111111ddddrr000111mmmm", (*visitor).armSXTH),
	decode.Entry("uxtb", "cccc011011101111ddddrr000111mmmm", (*visitor).armUXTB),
	decode.Entry("uxth", "cccc011011111111ddddrr000111mmmm", (*visitor).armUXTH),

	// Immediate movs, MSR (imm) and hints overlap the data-processing
	// immediate pattern.
	decode.Entry("movw", "cccc00110000vvvvddddvvvvvvvvvvvv", (*visitor).armMOVW),
	decode.Entry("movt", "cccc00110100vvvvddddvvvvvvvvvvvv", (*visitor).armMOVT),
	decode.Entry("hint", "cccc001100100000111100000000vvvv", (*visitor).armHint),
	decode.Entry("msr (imm)", "cccc00110010mmmm1111rrrrvvvvvvvv", (*visitor).armMSRImm),

	// Data processing.
	decode.Entry("data processing (imm)", "cccc001oooosnnnnddddrrrrvvvvvvvv", (*visitor).armDataProcImm),
	decode.Entry("data processing (reg)", "cccc000oooosnnnnddddiiiiitt0mmmm", (*visitor).armDataProcShiftImm),
	decode.Entry("data processing (rsr)", "cccc000oooosnnnnddddjjjj0tt1mmmm", (*visitor).armDataProcShiftReg),

	// Word and byte transfers.
	decode.Entry("ldr/str (imm)", "cccc010pubwlnnnnddddvvvvvvvvvvvv", (*visitor).armSingleTransferImm),
	decode.Entry("ldr/str (reg)", "cccc011pubwlnnnnddddiiiiitt0mmmm", (*visitor).armSingleTransferReg),

	// Block transfers.
	decode.Entry("ldm/stm", "cccc100puswlnnnnrrrrrrrrrrrrrrrr", (*visitor).armBlockTransfer),

	// Branches.
	decode.Entry("b", "cccc1010vvvvvvvvvvvvvvvvvvvvvvvv", (*visitor).armB),
	decode.Entry("bl", "cccc1011vvvvvvvvvvvvvvvvvvvvvvvv", (*visitor).armBL),

	// Coprocessor.
	decode.Entry("mcrr", "cccc11000100uuuuddddkkkkoooommmm", (*visitor).armMCRR),
	decode.Entry("mrrc", "cccc11000101uuuuddddkkkkoooommmm", (*visitor).armMRRC),
	decode.Entry("ldc", "cccc110pudw1nnnnddddkkkkvvvvvvvv", (*visitor).armLDC),
	decode.Entry("stc", "cccc110pudw0nnnnddddkkkkvvvvvvvv", (*visitor).armSTC),
	decode.Entry("cdp", "cccc1110oooonnnnddddkkkkppp0mmmm", (*visitor).armCDP),
	decode.Entry("mcr", "cccc1110ooo0nnnnddddkkkkppp1mmmm", (*visitor).armMCR),
	decode.Entry("mrc", "cccc1110ooo1nnnnddddkkkkppp1mmmm", (*visitor).armMRC),

	decode.Entry("svc", "cccc1111vvvvvvvvvvvvvvvvvvvvvvvv", (*visitor).armSVC),
}
