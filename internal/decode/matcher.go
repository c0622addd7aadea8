// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decode implements the table-driven instruction matcher used by all
// guest frontends.  A table is searched in declaration order and the first
// matching entry wins, so overlapping patterns are disambiguated by putting
// the more specific ones first.
package decode

// Matcher recognizes one instruction form: (word & Mask) == Expected.
type Matcher[V any] struct {
	Name     string
	Mask     uint32
	Expected uint32
	Fn       func(v V, word uint32) bool
}

func (m *Matcher[V]) Matches(word uint32) bool {
	return word&m.Mask == m.Expected
}

// Table is an ordered list of matchers.
type Table[V any] []Matcher[V]

// Decode returns the first matcher accepting the word, or nil.
func (t Table[V]) Decode(word uint32) *Matcher[V] {
	for i := range t {
		if t[i].Matches(word) {
			return &t[i]
		}
	}
	return nil
}

// Entry builds a matcher from a bit pattern string.  '0' and '1' are fixed
// bits; any other character is an operand bit.  The pattern length must
// equal the instruction width in bits.
func Entry[V any](name, pattern string, fn func(v V, word uint32) bool) Matcher[V] {
	var mask, expected uint32
	for _, c := range pattern {
		mask <<= 1
		expected <<= 1
		switch c {
		case '0':
			mask |= 1
		case '1':
			mask |= 1
			expected |= 1
		}
	}
	return Matcher[V]{Name: name, Mask: mask, Expected: expected, Fn: fn}
}

// Bits extracts the bit field [lsb, lsb+width) of a word.
func Bits(word uint32, lsb, width uint) uint32 {
	return (word >> lsb) & (1<<width - 1)
}

// Bit extracts a single bit.
func Bit(word uint32, n uint) bool {
	return word>>n&1 != 0
}
