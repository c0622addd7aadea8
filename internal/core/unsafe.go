// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"unsafe"

	"armlet.dev/armlet/internal/jitstate"
)

func statePointer(s *jitstate.State) unsafe.Pointer {
	return unsafe.Pointer(s)
}
