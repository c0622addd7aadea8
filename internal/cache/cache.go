// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache maps location descriptors to compiled block entry points
// and tracks which guest address ranges each block was derived from, for
// self-modifying-code invalidation.
package cache

import "armlet.dev/armlet/internal/ir"

// BlockDescriptor locates a compiled block in the arena.
type BlockDescriptor struct {
	Entry int32 // arena offset of the entry point
	Size  int32 // emitted byte count
}

type rangeEntry struct {
	start, end uint64 // guest PC range, end exclusive
	desc       ir.LocationDescriptor
}

// BlockCache owns the descriptor map and the guest-range index.
type BlockCache struct {
	blocks map[ir.LocationDescriptor]BlockDescriptor
	ranges []rangeEntry
}

func New() *BlockCache {
	return &BlockCache{blocks: make(map[ir.LocationDescriptor]BlockDescriptor)}
}

func (c *BlockCache) Get(desc ir.LocationDescriptor) (BlockDescriptor, bool) {
	bd, ok := c.blocks[desc]
	return bd, ok
}

func (c *BlockCache) Put(desc ir.LocationDescriptor, bd BlockDescriptor, pcStart, pcEnd uint64) {
	c.blocks[desc] = bd
	c.ranges = append(c.ranges, rangeEntry{start: pcStart, end: pcEnd, desc: desc})
}

// Range is a guest address interval, end exclusive.
type Range struct {
	Start uint64
	End   uint64
}

// Invalidated pairs a removed descriptor with its arena extent.
type Invalidated struct {
	Desc  ir.LocationDescriptor
	Block BlockDescriptor
}

// InvalidateRanges removes every block overlapping any of the given guest
// ranges and returns what was removed.
func (c *BlockCache) InvalidateRanges(ranges []Range) []Invalidated {
	var out []Invalidated
	kept := c.ranges[:0]
	for _, re := range c.ranges {
		overlap := false
		for _, r := range ranges {
			if re.start < r.End && r.Start < re.end {
				overlap = true
				break
			}
		}
		if overlap {
			if bd, ok := c.blocks[re.desc]; ok {
				delete(c.blocks, re.desc)
				out = append(out, Invalidated{Desc: re.desc, Block: bd})
			}
		} else {
			kept = append(kept, re)
		}
	}
	c.ranges = kept
	return out
}

// Remove drops a single block, returning its extent.
func (c *BlockCache) Remove(desc ir.LocationDescriptor) (BlockDescriptor, bool) {
	bd, ok := c.blocks[desc]
	if !ok {
		return BlockDescriptor{}, false
	}
	delete(c.blocks, desc)
	kept := c.ranges[:0]
	for _, re := range c.ranges {
		if re.desc != desc {
			kept = append(kept, re)
		}
	}
	c.ranges = kept
	return bd, true
}

// Clear empties the cache.
func (c *BlockCache) Clear() {
	c.blocks = make(map[ir.LocationDescriptor]BlockDescriptor)
	c.ranges = c.ranges[:0]
}

// Len reports the number of live blocks.
func (c *BlockCache) Len() int { return len(c.blocks) }
