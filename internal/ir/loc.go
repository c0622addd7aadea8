// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import "fmt"

// LocationDescriptor uniquely identifies a guest execution state for code
// cache purposes.  Two guest states that must compile to different host code
// have different descriptors; states that can share host code compare equal.
// The frontends define the bit layout; at this level the value is opaque.
type LocationDescriptor uint64

func (l LocationDescriptor) Value() uint64  { return uint64(l) }
func (l LocationDescriptor) String() string { return fmt.Sprintf("{%016x}", uint64(l)) }
