// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package code

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const DefaultArenaSize = 64 * 1024 * 1024

// Arena is a contiguous mmap'd region that emitted code is written into and
// executed from.  On hosts that forbid simultaneous write and execute the
// mapping toggles between RW and RX; elsewhere it stays RWX and the toggles
// are no-ops.
type Arena struct {
	mem      []byte
	used     int
	wxExcl   bool // W^X host: writing and executing are mutually exclusive
	writable bool
}

func NewArena(size int) (*Arena, error) {
	if size <= 0 {
		size = DefaultArenaSize
	}

	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err == nil {
		return &Arena{mem: mem, writable: true}, nil
	}

	// RWX denied: fall back to W^X toggling.
	mem, err = unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("code: mmap arena: %w", err)
	}
	return &Arena{mem: mem, wxExcl: true, writable: true}, nil
}

func (a *Arena) Close() error {
	mem := a.mem
	a.mem = nil
	return unix.Munmap(mem)
}

// EnableWriting makes the arena writable.  Must be held around every write
// batch on W^X hosts.
func (a *Arena) EnableWriting() {
	if a.wxExcl && !a.writable {
		a.protect(unix.PROT_READ | unix.PROT_WRITE)
		a.writable = true
	}
}

// DisableWriting makes the arena executable again.
func (a *Arena) DisableWriting() {
	if a.wxExcl && a.writable {
		a.protect(unix.PROT_READ | unix.PROT_EXEC)
		a.writable = false
	}
}

func (a *Arena) protect(prot int) {
	if err := unix.Mprotect(a.mem, prot); err != nil {
		panic(fmt.Sprintf("code: mprotect: %v", err))
	}
}

// Base returns the address of the first arena byte.
func (a *Arena) Base() uintptr {
	return uintptr(unsafe.Pointer(&a.mem[0]))
}

// Addr converts a buffer offset to an executable address.
func (a *Arena) Addr(offset int32) uintptr {
	return a.Base() + uintptr(offset)
}

// Contains reports whether a host address falls inside the arena.
func (a *Arena) Contains(addr uintptr) bool {
	base := a.Base()
	return addr >= base && addr < base+uintptr(len(a.mem))
}

// Reset discards emitted code past the first keep bytes.
func (a *Arena) Reset(keep int) {
	a.used = keep
}

// Bytes returns the written prefix.
func (a *Arena) Bytes() []byte { return a.mem[:a.used] }

// Extend reserves n more bytes and returns them.  Exhaustion is fatal: the
// cache must be sized so that a flush happens first.
func (a *Arena) Extend(n int) []byte {
	if a.used+n > len(a.mem) {
		panic("code: arena exhausted")
	}
	b := a.mem[a.used : a.used+n]
	a.used += n
	return b
}

func (a *Arena) PutByte(x byte) {
	a.Extend(1)[0] = x
}

func (a *Arena) PutUint32(x uint32) {
	b := a.Extend(4)
	b[0] = byte(x)
	b[1] = byte(x >> 8)
	b[2] = byte(x >> 16)
	b[3] = byte(x >> 24)
}

// Used returns the number of bytes emitted so far.
func (a *Arena) Used() int { return a.used }

// Size returns the arena capacity.
func (a *Arena) Size() int { return len(a.mem) }
