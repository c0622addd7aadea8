// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostbridge connects emitted code to embedder callbacks.  Emitted
// code calls the C-linkage functions exported below with the JitState
// pointer as its handle; the registry maps the handle back to the owning
// JIT instance.
package hostbridge

/*
#include "bridge.h"
*/
import "C"

import (
	"sync"
	"unsafe"

	"armlet.dev/armlet/internal/aes"
	"armlet.dev/armlet/internal/isa/x64"
	"armlet.dev/armlet/monitor"
)

// Callbacks is the embedder contract consumed by emitted code.
type Callbacks interface {
	MemoryRead8(vaddr uint64) uint8
	MemoryRead16(vaddr uint64) uint16
	MemoryRead32(vaddr uint64) uint32
	MemoryRead64(vaddr uint64) uint64
	MemoryWrite8(vaddr uint64, value uint8)
	MemoryWrite16(vaddr uint64, value uint16)
	MemoryWrite32(vaddr uint64, value uint32)
	MemoryWrite64(vaddr uint64, value uint64)

	InterpreterFallback(pc uint64, numInstructions int)
	CallSVC(imm uint32)
	ExceptionRaised(pc uint64, kind uint32)
	AddTicks(n uint64)
	TicksRemaining() uint64
}

// Instance is one registered JIT.
type Instance struct {
	Callbacks   Callbacks
	Monitor     *monitor.Monitor
	ProcessorID int
	Coproc      *x64.CoprocRegistry

	// Lookup resolves the state's current descriptor to an absolute code
	// address, or 0 on a cache miss.
	Lookup func() uintptr
}

var (
	mu        sync.RWMutex
	instances = make(map[uintptr]*Instance)
)

// Register associates a JitState address with its instance.
func Register(state uintptr, inst *Instance) {
	mu.Lock()
	instances[state] = inst
	mu.Unlock()
}

// Unregister removes the association.
func Unregister(state uintptr) {
	mu.Lock()
	delete(instances, state)
	mu.Unlock()
}

func instance(state uintptr) *Instance {
	mu.RLock()
	inst := instances[state]
	mu.RUnlock()
	if inst == nil {
		panic("hostbridge: call from unregistered state")
	}
	return inst
}

// Funcs returns the bridge entry points for the emitter.
func Funcs() x64.HostFuncs {
	return x64.HostFuncs{
		Read8:  uintptr(C.armlet_fn_read8()),
		Read16: uintptr(C.armlet_fn_read16()),
		Read32: uintptr(C.armlet_fn_read32()),
		Read64: uintptr(C.armlet_fn_read64()),

		Write8:  uintptr(C.armlet_fn_write8()),
		Write16: uintptr(C.armlet_fn_write16()),
		Write32: uintptr(C.armlet_fn_write32()),
		Write64: uintptr(C.armlet_fn_write64()),

		ExclusiveRead8:  uintptr(C.armlet_fn_exread8()),
		ExclusiveRead16: uintptr(C.armlet_fn_exread16()),
		ExclusiveRead32: uintptr(C.armlet_fn_exread32()),
		ExclusiveRead64: uintptr(C.armlet_fn_exread64()),

		ExclusiveWrite8:  uintptr(C.armlet_fn_exwrite8()),
		ExclusiveWrite16: uintptr(C.armlet_fn_exwrite16()),
		ExclusiveWrite32: uintptr(C.armlet_fn_exwrite32()),
		ExclusiveWrite64: uintptr(C.armlet_fn_exwrite64()),
		ClearExclusive:   uintptr(C.armlet_fn_clearex()),

		CallSVC:             uintptr(C.armlet_fn_svc()),
		ExceptionRaised:     uintptr(C.armlet_fn_exception()),
		InterpreterFallback: uintptr(C.armlet_fn_interpret()),
		CoprocCall:          uintptr(C.armlet_fn_coproc()),
		AESRound:            uintptr(C.armlet_fn_aes()),
		LookupBlock:         uintptr(C.armlet_fn_lookup()),
	}
}

// Run enters the generated dispatcher.
func Run(dispatcher, state, entry uintptr) {
	C.armlet_run(unsafe.Pointer(dispatcher), unsafe.Pointer(state), unsafe.Pointer(entry))
}

// InstallSegvHandler installs the fastmem fault handler once per process.
func InstallSegvHandler() bool {
	return C.armlet_segv_install() == 0
}

// AddSegvRegion registers a code region with its recovery address and
// returns a slot for removal, or -1 when full.
func AddSegvRegion(start, end, recovery uintptr) int {
	return int(C.armlet_segv_add_region(C.uintptr_t(start), C.uintptr_t(end), C.uintptr_t(recovery)))
}

func RemoveSegvRegion(slot int) {
	C.armlet_segv_remove_region(C.int(slot))
}

// TakeFault returns the arena offset of a pending fastmem fault, or -1.
func TakeFault() int64 {
	return int64(C.armlet_segv_take_fault())
}

//export armletgoRead8
func armletgoRead8(state C.uintptr_t, vaddr C.uint64_t) C.uint64_t {
	return C.uint64_t(instance(uintptr(state)).Callbacks.MemoryRead8(uint64(vaddr)))
}

//export armletgoRead16
func armletgoRead16(state C.uintptr_t, vaddr C.uint64_t) C.uint64_t {
	return C.uint64_t(instance(uintptr(state)).Callbacks.MemoryRead16(uint64(vaddr)))
}

//export armletgoRead32
func armletgoRead32(state C.uintptr_t, vaddr C.uint64_t) C.uint64_t {
	return C.uint64_t(instance(uintptr(state)).Callbacks.MemoryRead32(uint64(vaddr)))
}

//export armletgoRead64
func armletgoRead64(state C.uintptr_t, vaddr C.uint64_t) C.uint64_t {
	return C.uint64_t(instance(uintptr(state)).Callbacks.MemoryRead64(uint64(vaddr)))
}

//export armletgoWrite8
func armletgoWrite8(state C.uintptr_t, vaddr, value C.uint64_t) {
	instance(uintptr(state)).Callbacks.MemoryWrite8(uint64(vaddr), uint8(value))
}

//export armletgoWrite16
func armletgoWrite16(state C.uintptr_t, vaddr, value C.uint64_t) {
	instance(uintptr(state)).Callbacks.MemoryWrite16(uint64(vaddr), uint16(value))
}

//export armletgoWrite32
func armletgoWrite32(state C.uintptr_t, vaddr, value C.uint64_t) {
	instance(uintptr(state)).Callbacks.MemoryWrite32(uint64(vaddr), uint32(value))
}

//export armletgoWrite64
func armletgoWrite64(state C.uintptr_t, vaddr, value C.uint64_t) {
	instance(uintptr(state)).Callbacks.MemoryWrite64(uint64(vaddr), uint64(value))
}

//export armletgoExRead8
func armletgoExRead8(state C.uintptr_t, vaddr C.uint64_t) C.uint64_t {
	inst := instance(uintptr(state))
	return C.uint64_t(inst.Monitor.ReadAndMark(inst.ProcessorID, uint64(vaddr), func() uint64 {
		return uint64(inst.Callbacks.MemoryRead8(uint64(vaddr)))
	}))
}

//export armletgoExRead16
func armletgoExRead16(state C.uintptr_t, vaddr C.uint64_t) C.uint64_t {
	inst := instance(uintptr(state))
	return C.uint64_t(inst.Monitor.ReadAndMark(inst.ProcessorID, uint64(vaddr), func() uint64 {
		return uint64(inst.Callbacks.MemoryRead16(uint64(vaddr)))
	}))
}

//export armletgoExRead32
func armletgoExRead32(state C.uintptr_t, vaddr C.uint64_t) C.uint64_t {
	inst := instance(uintptr(state))
	return C.uint64_t(inst.Monitor.ReadAndMark(inst.ProcessorID, uint64(vaddr), func() uint64 {
		return uint64(inst.Callbacks.MemoryRead32(uint64(vaddr)))
	}))
}

//export armletgoExRead64
func armletgoExRead64(state C.uintptr_t, vaddr C.uint64_t) C.uint64_t {
	inst := instance(uintptr(state))
	return C.uint64_t(inst.Monitor.ReadAndMark(inst.ProcessorID, uint64(vaddr), func() uint64 {
		return inst.Callbacks.MemoryRead64(uint64(vaddr))
	}))
}

// Exclusive writes return 0 on success, 1 if the reservation was lost.

//export armletgoExWrite8
func armletgoExWrite8(state C.uintptr_t, vaddr, value C.uint64_t) C.uint64_t {
	inst := instance(uintptr(state))
	ok := inst.Monitor.DoExclusiveOperation(inst.ProcessorID, uint64(vaddr), func(uint64) bool {
		inst.Callbacks.MemoryWrite8(uint64(vaddr), uint8(value))
		return true
	})
	return status(ok)
}

//export armletgoExWrite16
func armletgoExWrite16(state C.uintptr_t, vaddr, value C.uint64_t) C.uint64_t {
	inst := instance(uintptr(state))
	ok := inst.Monitor.DoExclusiveOperation(inst.ProcessorID, uint64(vaddr), func(uint64) bool {
		inst.Callbacks.MemoryWrite16(uint64(vaddr), uint16(value))
		return true
	})
	return status(ok)
}

//export armletgoExWrite32
func armletgoExWrite32(state C.uintptr_t, vaddr, value C.uint64_t) C.uint64_t {
	inst := instance(uintptr(state))
	ok := inst.Monitor.DoExclusiveOperation(inst.ProcessorID, uint64(vaddr), func(uint64) bool {
		inst.Callbacks.MemoryWrite32(uint64(vaddr), uint32(value))
		return true
	})
	return status(ok)
}

//export armletgoExWrite64
func armletgoExWrite64(state C.uintptr_t, vaddr, value C.uint64_t) C.uint64_t {
	inst := instance(uintptr(state))
	ok := inst.Monitor.DoExclusiveOperation(inst.ProcessorID, uint64(vaddr), func(uint64) bool {
		inst.Callbacks.MemoryWrite64(uint64(vaddr), uint64(value))
		return true
	})
	return status(ok)
}

//export armletgoClearExclusive
func armletgoClearExclusive(state C.uintptr_t) {
	inst := instance(uintptr(state))
	inst.Monitor.ClearProcessor(inst.ProcessorID)
}

func status(ok bool) C.uint64_t {
	if ok {
		return 0
	}
	return 1
}

//export armletgoCallSVC
func armletgoCallSVC(state C.uintptr_t, imm C.uint64_t) {
	instance(uintptr(state)).Callbacks.CallSVC(uint32(imm))
}

//export armletgoExceptionRaised
func armletgoExceptionRaised(state C.uintptr_t, pc, kind C.uint64_t) {
	instance(uintptr(state)).Callbacks.ExceptionRaised(uint64(pc), uint32(kind))
}

//export armletgoInterpret
func armletgoInterpret(state C.uintptr_t, pc, n C.uint64_t) {
	instance(uintptr(state)).Callbacks.InterpreterFallback(uint64(pc), int(n))
}

//export armletgoCoprocCall
func armletgoCoprocCall(state C.uintptr_t, id, a, b C.uint64_t) C.uint64_t {
	return C.uint64_t(instance(uintptr(state)).Coproc.Call(uint32(id), uint32(a), uint32(b)))
}

//export armletgoAESRound
func armletgoAESRound(kind C.uint64_t, out, in C.uintptr_t) {
	dst := (*[16]byte)(unsafe.Pointer(uintptr(out)))
	src := (*[16]byte)(unsafe.Pointer(uintptr(in)))
	switch kind {
	case x64.AESOpDecryptSingleRound:
		aes.DecryptSingleRound(dst, src)
	case x64.AESOpEncryptSingleRound:
		aes.EncryptSingleRound(dst, src)
	case x64.AESOpInverseMixColumns:
		aes.InverseMixColumns(dst, src)
	case x64.AESOpMixColumns:
		aes.MixColumns(dst, src)
	}
}

//export armletgoLookup
func armletgoLookup(state C.uintptr_t) C.uintptr_t {
	return C.uintptr_t(instance(uintptr(state)).Lookup())
}
