// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package satmath

import "testing"

func TestSignedAdd32(t *testing.T) {
	tests := []struct {
		x, y int64
		want int64
		q    bool
	}{
		{0, 0, 0, false},
		{0x7FFFFFFF, 1, 0x7FFFFFFF, true},
		{0x7FFFFFFF, 0x7FFFFFFF, 0x7FFFFFFF, true},
		{-0x80000000, -1, -0x80000000, true},
		{-0x80000000, -0x80000000, -0x80000000, true},
		{1, 2, 3, false},
		{-1, 1, 0, false},
		{0x7FFFFFFE, 1, 0x7FFFFFFF, false},
	}
	for _, tt := range tests {
		got, q := SignedAdd(tt.x, tt.y, 32)
		if got != tt.want || q != tt.q {
			t.Errorf("SignedAdd(%#x, %#x, 32) = %#x, %v; want %#x, %v",
				tt.x, tt.y, got, q, tt.want, tt.q)
		}
	}
}

func TestSignedSub(t *testing.T) {
	for _, width := range []uint{8, 16, 32} {
		max := int64(1)<<(width-1) - 1
		min := -(int64(1) << (width - 1))

		if got, q := SignedSub(min, 1, width); got != min || !q {
			t.Errorf("width %d: min-1 = %#x, %v", width, got, q)
		}
		if got, q := SignedSub(max, -1, width); got != max || !q {
			t.Errorf("width %d: max+1 = %#x, %v", width, got, q)
		}
		if got, q := SignedSub(5, 3, width); got != 2 || q {
			t.Errorf("width %d: 5-3 = %#x, %v", width, got, q)
		}
	}
}

func TestSignedAddSub64(t *testing.T) {
	const max = 0x7FFFFFFFFFFFFFFF
	const min = -0x8000000000000000

	if got, q := SignedAdd64(max, 1); got != max || !q {
		t.Errorf("max+1 = %#x, %v", got, q)
	}
	if got, q := SignedSub64(min, 1); got != min || !q {
		t.Errorf("min-1 = %#x, %v", got, q)
	}
	if got, q := SignedAdd64(-5, 5); got != 0 || q {
		t.Errorf("-5+5 = %#x, %v", got, q)
	}
}

func TestUnsignedAddSub(t *testing.T) {
	if got, q := UnsignedAdd(0xFF, 1, 8); got != 0xFF || !q {
		t.Errorf("u8 max+1 = %#x, %v", got, q)
	}
	if got, q := UnsignedAdd(0xFFFFFFFFFFFFFFFF, 1, 64); got != 0xFFFFFFFFFFFFFFFF || !q {
		t.Errorf("u64 wrap = %#x, %v", got, q)
	}
	if got, q := UnsignedSub(0, 1, 32); got != 0 || !q {
		t.Errorf("0-1 = %#x, %v", got, q)
	}
	if got, q := UnsignedSub(7, 3, 16); got != 4 || q {
		t.Errorf("7-3 = %#x, %v", got, q)
	}
}

func TestDoublingMultiplyHigh(t *testing.T) {
	// The only saturating 16-bit input pair.
	if got, q := DoublingMultiplyHigh16(-0x8000, -0x8000); got != 0x7FFF || !q {
		t.Errorf("min*min = %#x, %v", got, q)
	}
	if got, q := DoublingMultiplyHigh16(0x4000, 0x4000); got != 0x2000 || q {
		t.Errorf("0.5*0.5 = %#x, %v", got, q)
	}
	if got, q := DoublingMultiplyHigh32(-0x80000000, -0x80000000); got != 0x7FFFFFFF || !q {
		t.Errorf("min*min = %#x, %v", got, q)
	}
	if got, q := DoublingMultiplyHigh32(0x40000000, 0x40000000); got != 0x20000000 || q {
		t.Errorf("0.5*0.5 = %#x, %v", got, q)
	}
}

func TestSignedSaturation(t *testing.T) {
	// Width 32 is the identity with a constant-false flag.
	if got, q := SignedSaturation(-0x80000000, 32); got != -0x80000000 || q {
		t.Errorf("n=32 = %#x, %v", got, q)
	}
	if got, q := SignedSaturation(1000, 8); got != 127 || !q {
		t.Errorf("ssat8(1000) = %d, %v", got, q)
	}
	if got, q := SignedSaturation(-1000, 8); got != -128 || !q {
		t.Errorf("ssat8(-1000) = %d, %v", got, q)
	}
	if got, q := SignedSaturation(-128, 8); got != -128 || q {
		t.Errorf("ssat8(-128) = %d, %v", got, q)
	}
	if got, q := SignedSaturation(-3, 1); got != -1 || !q {
		t.Errorf("ssat1(-3) = %d, %v", got, q)
	}
}

func TestUnsignedSaturation(t *testing.T) {
	if got, q := UnsignedSaturation(-1, 8); got != 0 || !q {
		t.Errorf("usat8(-1) = %d, %v", got, q)
	}
	if got, q := UnsignedSaturation(300, 8); got != 255 || !q {
		t.Errorf("usat8(300) = %d, %v", got, q)
	}
	if got, q := UnsignedSaturation(300, 0); got != 0 || !q {
		t.Errorf("usat0(300) = %d, %v", got, q)
	}
	if got, q := UnsignedSaturation(42, 31); got != 42 || q {
		t.Errorf("usat31(42) = %d, %v", got, q)
	}
}
