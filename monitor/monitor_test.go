// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"sync"
	"sync/atomic"
	"testing"
)

// The LDREX/STREX pair without interference succeeds and sees the marked
// value; with an intervening exclusive write it fails.
func TestExclusivePair(t *testing.T) {
	m := New(2)
	var mem uint64 = 100

	got := m.ReadAndMark(0, 0x40, func() uint64 { return mem })
	if got != 100 {
		t.Fatalf("read: got %d", got)
	}

	ok := m.DoExclusiveOperation(0, 0x40, func(expected uint64) bool {
		if expected != 100 {
			t.Errorf("expected value: got %d", expected)
		}
		mem = 200
		return true
	})
	if !ok {
		t.Fatal("uncontended store-exclusive failed")
	}
	if mem != 200 {
		t.Fatal("memory not updated")
	}

	// Reservation consumed: a second store-exclusive fails.
	if m.DoExclusiveOperation(0, 0x40, func(uint64) bool { return true }) {
		t.Error("store-exclusive succeeded without a reservation")
	}
}

func TestInterveningWriteClearsReservation(t *testing.T) {
	m := New(2)
	var mem uint64 = 1

	m.ReadAndMark(0, 0x40, func() uint64 { return mem })

	// Processor 1 takes and completes its own exclusive pair on the same
	// granule.
	m.ReadAndMark(1, 0x40, func() uint64 { return mem })
	if !m.DoExclusiveOperation(1, 0x40, func(uint64) bool { mem = 2; return true }) {
		t.Fatal("processor 1 store failed")
	}

	// Processor 0's reservation is gone.
	if m.DoExclusiveOperation(0, 0x40, func(uint64) bool { mem = 3; return true }) {
		t.Error("processor 0 store succeeded after intervening write")
	}
	if mem != 2 {
		t.Errorf("memory: got %d", mem)
	}
}

func TestDifferentAddressFails(t *testing.T) {
	m := New(1)
	m.ReadAndMark(0, 0x40, func() uint64 { return 0 })
	if m.DoExclusiveOperation(0, 0x48, func(uint64) bool { return true }) {
		t.Error("store to a different address succeeded")
	}
}

func TestClear(t *testing.T) {
	m := New(2)
	m.ReadAndMark(0, 0x40, func() uint64 { return 0 })
	m.ReadAndMark(1, 0x80, func() uint64 { return 0 })

	m.ClearProcessor(0)
	if m.DoExclusiveOperation(0, 0x40, func(uint64) bool { return true }) {
		t.Error("cleared processor still holds a reservation")
	}
	if !m.DoExclusiveOperation(1, 0x80, func(uint64) bool { return true }) {
		t.Error("unrelated processor lost its reservation")
	}

	m.ReadAndMark(0, 0x40, func() uint64 { return 0 })
	m.Clear()
	if m.DoExclusiveOperation(0, 0x40, func(uint64) bool { return true }) {
		t.Error("Clear left a reservation behind")
	}
}

// N processors hammer the same word; every successful store-exclusive must
// have observed the then-current value, so the final count equals the
// number of successes.
func TestConcurrentExclusiveIncrement(t *testing.T) {
	const processors = 8
	const attempts = 1000

	m := New(processors)
	var mem uint64
	var successes atomic.Uint64

	var wg sync.WaitGroup
	for p := 0; p < processors; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < attempts; i++ {
				v := m.ReadAndMark(id, 0x100, func() uint64 { return atomic.LoadUint64(&mem) })
				ok := m.DoExclusiveOperation(id, 0x100, func(expected uint64) bool {
					if expected != v {
						t.Errorf("expected %d, marked %d", expected, v)
					}
					atomic.StoreUint64(&mem, expected+1)
					return true
				})
				if ok {
					successes.Add(1)
				}
			}
		}(p)
	}
	wg.Wait()

	if got := atomic.LoadUint64(&mem); got != successes.Load() {
		t.Errorf("memory %d, successes %d: lost or duplicated update", got, successes.Load())
	}
}
